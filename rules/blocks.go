package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Block names as they appear in rule definitions
const (
	BlockStatusChange  = "status_change"
	BlockFieldEmpty    = "field_empty"
	BlockTimeElapsed   = "time_elapsed"
	BlockNoNewComments = "no_new_comments"
	BlockSemanticCheck = "semantic_check"
	BlockCallExists    = "call_exists"
	BlockExpression    = "expression"
)

// ErrUnknownBlock is returned when a rule references a block name that has no evaluator
var ErrUnknownBlock = errors.New("unknown block")

// Block is a decoded trigger or condition. The set of implementations is
// closed: evaluators switch over the concrete types below.
type Block interface {
	Name() string
	block()
}

// Direction of a status transition
type Direction string

const (
	DirectionTo   Direction = "to"
	DirectionFrom Direction = "from"
)

// StatusChange matches when the candidate's status moved to (or from) Target
type StatusChange struct {
	Target    string
	Direction Direction
}

// FieldEmpty matches when the field at FieldPath has no meaningful value
type FieldEmpty struct {
	FieldPath string
}

// TimeElapsed matches when at least Hours have passed since the occurrence time.
// It is measured against the wall clock at evaluation time.
type TimeElapsed struct {
	Hours float64
}

// NoNewComments matches when no comment was written after the occurrence time.
// A positive Hours bounds the window to [occurredAt, occurredAt+Hours].
type NoNewComments struct {
	Hours float64
}

// SemanticCheck delegates the verdict to the judgment capability
type SemanticCheck struct {
	Prompt string
}

// CallExists matches when the presence of a linked call after the occurrence
// time equals Expect. A positive WithinHours bounds the window.
type CallExists struct {
	WithinHours float64
	Expect      bool
}

func (StatusChange) Name() string  { return BlockStatusChange }
func (FieldEmpty) Name() string    { return BlockFieldEmpty }
func (TimeElapsed) Name() string   { return BlockTimeElapsed }
func (NoNewComments) Name() string { return BlockNoNewComments }
func (SemanticCheck) Name() string { return BlockSemanticCheck }
func (CallExists) Name() string    { return BlockCallExists }

func (StatusChange) block()  {}
func (FieldEmpty) block()    {}
func (TimeElapsed) block()   {}
func (NoNewComments) block() {}
func (SemanticCheck) block() {}
func (CallExists) block()    {}

// DecodeBlock converts a declarative block into its typed form
func DecodeBlock(lb LogicBlock) (Block, error) {
	p := params(lb.Params)
	switch strings.TrimSpace(lb.Block) {
	case BlockStatusChange:
		target := p.str("target")
		if target == "" {
			return nil, fmt.Errorf("%s: target is required", BlockStatusChange)
		}
		dir := Direction(strings.ToLower(p.str("direction")))
		if dir == "" {
			dir = DirectionTo
		}
		if dir != DirectionTo && dir != DirectionFrom {
			return nil, fmt.Errorf("%s: direction must be %q or %q, got %q", BlockStatusChange, DirectionTo, DirectionFrom, dir)
		}
		return StatusChange{Target: target, Direction: dir}, nil

	case BlockFieldEmpty:
		path := p.str("field_path")
		if path == "" {
			return nil, fmt.Errorf("%s: field_path is required", BlockFieldEmpty)
		}
		return FieldEmpty{FieldPath: path}, nil

	case BlockTimeElapsed:
		hours, ok, err := p.float("hours")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", BlockTimeElapsed, err)
		}
		if !ok || hours < 0 {
			return nil, fmt.Errorf("%s: hours must be a non-negative number", BlockTimeElapsed)
		}
		return TimeElapsed{Hours: hours}, nil

	case BlockNoNewComments:
		hours, _, err := p.float("hours")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", BlockNoNewComments, err)
		}
		if hours < 0 {
			return nil, fmt.Errorf("%s: hours must be non-negative", BlockNoNewComments)
		}
		return NoNewComments{Hours: hours}, nil

	case BlockSemanticCheck:
		prompt := p.str("prompt")
		if prompt == "" {
			return nil, fmt.Errorf("%s: prompt is required", BlockSemanticCheck)
		}
		return SemanticCheck{Prompt: prompt}, nil

	case BlockCallExists:
		within, _, err := p.float("within_hours")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", BlockCallExists, err)
		}
		if within < 0 {
			return nil, fmt.Errorf("%s: within_hours must be non-negative", BlockCallExists)
		}
		expect, err := p.boolean("expect", true)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", BlockCallExists, err)
		}
		return CallExists{WithinHours: within, Expect: expect}, nil

	case BlockExpression:
		expr, err := CompileExpression(p.str("expr"))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", BlockExpression, err)
		}
		return expr, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownBlock, lb.Block)
}

// params gives typed access to loosely typed block parameters
// decoded from JSON or YAML.
type params map[string]any

func (p params) str(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func (p params) float(key string) (float64, bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		return n, true, nil
	case float32:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("%s: %w", key, err)
		}
		return f, true, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false, fmt.Errorf("%s is not a number: %q", key, n)
		}
		return f, true, nil
	}
	return 0, false, fmt.Errorf("%s has unsupported type %T", key, v)
}

func (p params) boolean(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return def, fmt.Errorf("%s is not a boolean: %q", key, b)
		}
		return parsed, nil
	}
	return def, fmt.Errorf("%s has unsupported type %T", key, v)
}

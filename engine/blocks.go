package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liamcoop/salesaudit/crm"
	"github.com/liamcoop/salesaudit/evidence"
	"github.com/liamcoop/salesaudit/internal/logger"
	"github.com/liamcoop/salesaudit/judge"
	"github.com/liamcoop/salesaudit/rules"
)

// Verdict is the outcome of one block. Evidence carries the judge's
// supporting quote for semantic checks.
type Verdict struct {
	Matched  bool
	Evidence string
}

var semanticSchema = judge.MustCompileSchema("semantic_verdict", `{
	"type": "object",
	"required": ["violation"],
	"properties": {
		"violation": {"type": "boolean"},
		"reasoning": {"type": "string"},
		"evidence": {"type": "string"}
	}
}`)

type semanticVerdict struct {
	Violation bool   `json:"violation"`
	Reasoning string `json:"reasoning"`
	Evidence  string `json:"evidence"`
}

// Dispatcher evaluates typed blocks against a candidate
type Dispatcher struct {
	store        crm.Store
	judge        judge.Judge
	commentField string
	now          func() time.Time
}

// NewDispatcher creates a block dispatcher
func NewDispatcher(store crm.Store, j judge.Judge, commentField string, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{store: store, judge: j, commentField: commentField, now: now}
}

// Match evaluates b. stage is non-nil for stage rules only. Errors are
// lookup or expression failures; judge failures are absorbed as no match.
func (d *Dispatcher) Match(ctx context.Context, b rules.Block, c *Candidate, stage *evidence.Stage) (Verdict, error) {
	switch blk := b.(type) {
	case rules.StatusChange:
		return Verdict{Matched: matchStatus(blk, c.Payload)}, nil

	case rules.FieldEmpty:
		return Verdict{Matched: fieldEmpty(blk.FieldPath, c)}, nil

	case rules.TimeElapsed:
		elapsed := d.now().Sub(c.OccurredAt)
		return Verdict{Matched: elapsed >= hours(blk.Hours)}, nil

	case rules.NoNewComments:
		matched, err := d.noNewComments(ctx, blk, c)
		return Verdict{Matched: matched}, err

	case rules.CallExists:
		matched, err := d.callExists(ctx, blk, c)
		return Verdict{Matched: matched}, err

	case rules.SemanticCheck:
		return d.semantic(ctx, blk, c, stage), nil

	case *rules.Expression:
		matched, err := blk.Eval(map[string]any{
			rules.ExprVarCandidate:  map[string]any(c.Payload),
			rules.ExprVarOrder:      map[string]any(c.ContextPayload()),
			rules.ExprVarHoursSince: d.now().Sub(c.OccurredAt).Hours(),
		})
		if err != nil {
			return Verdict{}, fmt.Errorf("expression %q: %w", blk.Source, err)
		}
		return Verdict{Matched: matched}, nil
	}
	return Verdict{}, fmt.Errorf("%w %q", rules.ErrUnknownBlock, b.Name())
}

// matchStatus reads the current value from a delta payload
// (newValue/oldValue, possibly {"code": ...}) or from a plain status field.
func matchStatus(b rules.StatusChange, p crm.Payload) bool {
	key := "newValue"
	if b.Direction == rules.DirectionFrom {
		key = "oldValue"
	}
	if _, ok := p.Lookup(key); ok {
		return p.Code(key) == b.Target
	}
	if b.Direction == rules.DirectionFrom {
		return false
	}
	return p.Code("status") == b.Target
}

// fieldEmpty looks the path up in the candidate row first, then in the
// order context. A path absent from both is empty.
func fieldEmpty(path string, c *Candidate) bool {
	if v, ok := c.Payload.Lookup(path); ok {
		return crm.IsEmpty(v)
	}
	return c.ContextPayload().Empty(path)
}

// noNewComments looks for comments written after the occurrence time. With
// a positive window the block only matches once the window has closed.
func (d *Dispatcher) noNewComments(ctx context.Context, b rules.NoNewComments, c *Candidate) (bool, error) {
	now := d.now()
	end := now
	if b.Hours > 0 {
		end = c.OccurredAt.Add(hours(b.Hours))
		if now.Before(end) {
			return false, nil
		}
	}

	history, err := d.store.History(ctx, c.OrderID, c.OccurredAt, end)
	if err != nil {
		return false, fmt.Errorf("failed to load comments of order %s: %w", c.OrderID, err)
	}
	for _, ev := range history {
		if ev.Field != d.commentField || !ev.OccurredAt.After(c.OccurredAt) {
			continue
		}
		if !crm.IsEmpty(ev.NewValue) {
			return false, nil
		}
	}
	return true, nil
}

// callExists checks for a linked call started in the window after the
// occurrence time, ignoring the candidate's own call.
func (d *Dispatcher) callExists(ctx context.Context, b rules.CallExists, c *Candidate) (bool, error) {
	end := d.now()
	if b.WithinHours > 0 {
		end = c.OccurredAt.Add(hours(b.WithinHours))
	}

	calls, err := d.store.CallsForOrder(ctx, c.OrderID, c.OccurredAt, end)
	if err != nil {
		return false, fmt.Errorf("failed to load calls of order %s: %w", c.OrderID, err)
	}
	exists := false
	for _, call := range calls {
		if call.ID != c.CallID {
			exists = true
			break
		}
	}
	return exists == b.Expect, nil
}

func (d *Dispatcher) semantic(ctx context.Context, b rules.SemanticCheck, c *Candidate, stage *evidence.Stage) Verdict {
	text := d.analyzableText(c, stage)
	if text == "" {
		return Verdict{}
	}
	if d.judge == nil {
		logger.JudgeFailures.Add(1)
		logger.Warn("semantic check skipped, judge not configured", "order_id", c.OrderID)
		return Verdict{}
	}

	raw, err := d.judge.Judge(ctx, semanticSystemPrompt(b.Prompt), text)
	if err != nil {
		logger.JudgeFailures.Add(1)
		logger.Error("semantic check failed", "order_id", c.OrderID, "error", err)
		return Verdict{}
	}
	var v semanticVerdict
	if err := semanticSchema.Decode(raw, &v); err != nil {
		logger.JudgeFailures.Add(1)
		logger.Error("semantic check returned invalid verdict", "order_id", c.OrderID, "error", err)
		return Verdict{}
	}

	evidenceText := strings.TrimSpace(v.Evidence)
	if evidenceText == "" {
		evidenceText = strings.TrimSpace(v.Reasoning)
	}
	return Verdict{Matched: v.Violation, Evidence: evidenceText}
}

// analyzableText picks the text a semantic check judges: the stage
// timeline, a call transcript, a comment delta, or the order's comment field.
func (d *Dispatcher) analyzableText(c *Candidate, stage *evidence.Stage) string {
	if stage != nil && len(stage.Interactions) > 0 {
		return stage.Render()
	}
	if t := strings.TrimSpace(c.Transcript); t != "" {
		return t
	}
	if c.Kind == rules.EntityEvent && c.Payload.String("field") == d.commentField {
		return c.Payload.String("newValue")
	}
	if d.commentField != "" {
		if t := c.Payload.String(d.commentField); t != "" {
			return t
		}
		return c.ContextPayload().String(d.commentField)
	}
	return ""
}

func semanticSystemPrompt(prompt string) string {
	return "You review sales activity for compliance.\n" +
		strings.TrimSpace(prompt) + "\n\n" +
		`Respond with a single JSON object: {"violation": <true|false>, "reasoning": "<short>", "evidence": "<quote from the input>"}` + "\n" +
		"Report a violation only when the input clearly shows one."
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

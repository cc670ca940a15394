package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	maxCodeLength      = 100
	maxConditions      = 50
	maxChecklistItems  = 200
	maxChecklistWeight = 1000
)

var (
	codePattern      = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)
	fieldPathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)
)

// Compiled is a validated rule with its trigger and conditions decoded into typed blocks
type Compiled struct {
	Definition *Definition
	Trigger    Block
	Conditions []Block
}

// Code returns the rule code
func (c *Compiled) Code() string {
	return c.Definition.Code
}

// StatusTrigger returns the trigger when it is a status_change block
func (c *Compiled) StatusTrigger() (StatusChange, bool) {
	sc, ok := c.Trigger.(StatusChange)
	return sc, ok
}

// Compile validates a definition and decodes its logic
func Compile(def *Definition) (*Compiled, error) {
	if def == nil {
		return nil, errors.New("rule definition is nil")
	}
	if err := validateHeader(def); err != nil {
		return nil, err
	}

	compiled := &Compiled{Definition: def}

	if def.Logic.Trigger != nil {
		trigger, err := decodeChecked(*def.Logic.Trigger)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid trigger: %w", def.Code, err)
		}
		compiled.Trigger = trigger
	}

	if len(def.Logic.Conditions) > maxConditions {
		return nil, fmt.Errorf("rule %s has %d conditions, maximum allowed is %d", def.Code, len(def.Logic.Conditions), maxConditions)
	}
	for i, lb := range def.Logic.Conditions {
		cond, err := decodeChecked(lb)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid condition %d: %w", def.Code, i, err)
		}
		compiled.Conditions = append(compiled.Conditions, cond)
	}

	if err := validateChecklist(def); err != nil {
		return nil, err
	}

	return compiled, nil
}

// Validate reports whether a definition can be compiled
func Validate(def *Definition) error {
	_, err := Compile(def)
	return err
}

func validateHeader(def *Definition) error {
	code := def.Code
	if len(code) == 0 {
		return errors.New("rule code cannot be empty")
	}
	if len(code) > maxCodeLength {
		return fmt.Errorf("rule code length %d exceeds maximum of %d characters", len(code), maxCodeLength)
	}
	if !codePattern.MatchString(code) {
		return fmt.Errorf("rule code %q must start with a letter followed by letters, digits, '_', '.' or '-'", code)
	}
	if !def.EntityType.Valid() {
		return fmt.Errorf("rule %s has invalid entity type %q (must be one of: call, order, event, stage)", code, def.EntityType)
	}
	if !def.Severity.Valid() {
		return fmt.Errorf("rule %s has invalid severity %q (must be one of: low, medium, high, critical)", code, def.Severity)
	}
	if def.Points < 0 {
		return fmt.Errorf("rule %s has negative points %d", code, def.Points)
	}
	return nil
}

func decodeChecked(lb LogicBlock) (Block, error) {
	b, err := DecodeBlock(lb)
	if err != nil {
		return nil, err
	}
	if fe, ok := b.(FieldEmpty); ok && !fieldPathPattern.MatchString(fe.FieldPath) {
		return nil, fmt.Errorf("%s: field_path %q must be a dotted identifier", BlockFieldEmpty, fe.FieldPath)
	}
	return b, nil
}

func validateChecklist(def *Definition) error {
	if def.EntityType == EntityStage && !def.HasChecklist() {
		return fmt.Errorf("rule %s: stage rules require a checklist", def.Code)
	}
	if def.HasChecklist() && def.EntityType != EntityStage && def.EntityType != EntityCall {
		return fmt.Errorf("rule %s: checklists apply to call and stage rules only", def.Code)
	}

	items := 0
	descriptions := make(map[string]string)
	for si, section := range def.Checklist {
		if strings.TrimSpace(section.Section) == "" {
			return fmt.Errorf("rule %s: checklist section %d has an empty name", def.Code, si)
		}
		if len(section.Items) == 0 {
			return fmt.Errorf("rule %s: checklist section %q must contain at least one item", def.Code, section.Section)
		}
		for ii, item := range section.Items {
			if strings.TrimSpace(item.Description) == "" {
				return fmt.Errorf("rule %s: item %d of section %q has an empty description", def.Code, ii, section.Section)
			}
			key := strings.ToLower(strings.Join(strings.Fields(item.Description), " "))
			if prev, ok := descriptions[key]; ok {
				return fmt.Errorf("rule %s: item %q of section %q duplicates an item of section %q", def.Code, item.Description, section.Section, prev)
			}
			descriptions[key] = section.Section
			if item.Weight <= 0 || item.Weight > maxChecklistWeight {
				return fmt.Errorf("rule %s: item %q weight %v must be in (0, %d]", def.Code, item.Description, item.Weight, maxChecklistWeight)
			}
			items++
		}
	}
	if items > maxChecklistItems {
		return fmt.Errorf("rule %s: checklist contains %d items, maximum allowed is %d", def.Code, items, maxChecklistItems)
	}
	return nil
}

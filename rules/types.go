package rules

import (
	"time"
)

// EntityType selects the rows a rule is evaluated against
type EntityType string

const (
	EntityCall  EntityType = "call"
	EntityOrder EntityType = "order"
	EntityEvent EntityType = "event"
	EntityStage EntityType = "stage"
)

// Valid reports whether t is one of the known entity types
func (t EntityType) Valid() bool {
	switch t {
	case EntityCall, EntityOrder, EntityEvent, EntityStage:
		return true
	}
	return false
}

// StateBased reports whether candidates of this type are snapshots whose
// occurrence time must be resolved from the lifecycle history.
func (t EntityType) StateBased() bool {
	return t == EntityOrder || t == EntityStage
}

// Severity grades a violation
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// LogicBlock is the declarative form of a trigger or condition as stored
// in rule definitions. It is decoded into a typed Block before evaluation.
type LogicBlock struct {
	Block  string         `json:"block" yaml:"block"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Logic holds the optional trigger and the ordered conditions of a rule
type Logic struct {
	Trigger    *LogicBlock  `json:"trigger" yaml:"trigger"`
	Conditions []LogicBlock `json:"conditions" yaml:"conditions"`
}

// ChecklistItem is one weighted criterion
type ChecklistItem struct {
	Description string  `json:"description" yaml:"description"`
	Weight      float64 `json:"weight" yaml:"weight"`
}

// ChecklistSection groups checklist items under a heading
type ChecklistSection struct {
	Section string          `json:"section" yaml:"section"`
	Items   []ChecklistItem `json:"items" yaml:"items"`
}

// Definition describes what a rule checks and how a violation is graded.
// A definition is treated as immutable for the duration of a pass.
type Definition struct {
	Code       string             `json:"code" yaml:"code"`
	Name       string             `json:"name" yaml:"name"`
	EntityType EntityType         `json:"entityType" yaml:"entity_type"`
	Logic      Logic              `json:"logic" yaml:"logic"`
	Checklist  []ChecklistSection `json:"checklist,omitempty" yaml:"checklist,omitempty"`
	Severity   Severity           `json:"severity" yaml:"severity"`
	Points     int                `json:"points" yaml:"points"`
	Notify     bool               `json:"notify" yaml:"notify"`
	Active     bool               `json:"isActive" yaml:"active"`
	CreatedAt  time.Time          `json:"createdAt" yaml:"-"`
	UpdatedAt  time.Time          `json:"updatedAt" yaml:"-"`
}

// HasChecklist reports whether the rule is graded by a checklist
func (d *Definition) HasChecklist() bool {
	return len(d.Checklist) > 0
}

// MaxScore is the sum of all checklist item weights
func (d *Definition) MaxScore() float64 {
	return ChecklistWeight(d.Checklist)
}

// ChecklistWeight sums the item weights of a checklist
func ChecklistWeight(sections []ChecklistSection) float64 {
	var total float64
	for _, s := range sections {
		for _, it := range s.Items {
			total += it.Weight
		}
	}
	return total
}

// ItemResult is the verdict for a single checklist item
type ItemResult struct {
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
	Score       float64 `json:"score"`
	Status      string  `json:"status"`
	Reasoning   string  `json:"reasoning,omitempty"`
}

// SectionResult aggregates item verdicts of one section
type SectionResult struct {
	Section  string       `json:"section"`
	Score    float64      `json:"score"`
	MaxScore float64      `json:"maxScore"`
	Items    []ItemResult `json:"items"`
}

// ChecklistResult is the reconciled outcome of a checklist evaluation.
// TotalScore and MaxScore are always sums of the item scores and weights.
type ChecklistResult struct {
	TotalScore  float64         `json:"totalScore"`
	MaxScore    float64         `json:"maxScore"`
	Percent     int             `json:"percent"`
	Sections    []SectionResult `json:"sections"`
	Summary     string          `json:"summary"`
	IsViolation bool            `json:"isViolation"`
}

// Violation is a detected breach of a rule by one candidate
type Violation struct {
	RuleCode        string           `json:"ruleCode"`
	OrderID         string           `json:"orderId"`
	ManagerID       string           `json:"managerId"`
	ViolationTime   time.Time        `json:"violationTime"`
	Severity        Severity         `json:"severity"`
	Points          int              `json:"points"`
	CallID          string           `json:"callId,omitempty"`
	Details         string           `json:"details"`
	EvidenceText    string           `json:"evidenceText,omitempty"`
	ChecklistResult *ChecklistResult `json:"checklistResult,omitempty"`
}

// ViolationKey is the uniqueness key of a violation
type ViolationKey struct {
	RuleCode      string
	OrderID       string
	ViolationTime time.Time
	CallID        string
}

// Key returns the idempotency key of the violation
func (v *Violation) Key() ViolationKey {
	return ViolationKey{
		RuleCode:      v.RuleCode,
		OrderID:       v.OrderID,
		ViolationTime: v.ViolationTime.UTC(),
		CallID:        v.CallID,
	}
}

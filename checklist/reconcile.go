package checklist

import (
	"math"
	"strings"

	"github.com/liamcoop/salesaudit/rules"
)

// Item statuses
const (
	StatusMet           = "met"
	StatusPartial       = "partial"
	StatusNotMet        = "not_met"
	StatusMissing       = "missing"
	StatusNotApplicable = "not_applicable"
)

// worstCaseMax is the maximum reported when no real evaluation took place
const worstCaseMax = 100

// Verdict is the raw judge output. Totals the judge reports are decoded
// so they can be logged, but reconciliation never reads them.
type Verdict struct {
	Sections   []VerdictSection `json:"sections"`
	Summary    string           `json:"summary"`
	TotalScore *float64         `json:"totalScore,omitempty"`
	MaxScore   *float64         `json:"maxScore,omitempty"`
}

// VerdictSection is one section of the raw judge output
type VerdictSection struct {
	Section string        `json:"section"`
	Items   []VerdictItem `json:"items"`
}

// VerdictItem is one item of the raw judge output
type VerdictItem struct {
	Description string   `json:"description"`
	Weight      *float64 `json:"weight,omitempty"`
	Score       float64  `json:"score"`
	Status      string   `json:"status,omitempty"`
	Reasoning   string   `json:"reasoning,omitempty"`
}

// Reconcile turns a raw verdict into a trusted result. Item weights come
// from the verdict, falling back to the configured checklist when absent.
// Items are matched on section and description together.
// Scores are clamped into [0, weight]. Configured items the verdict omits
// are added with a zero score. Section and total scores are always summed
// here from the item values.
func Reconcile(v Verdict, sections []rules.ChecklistSection) *rules.ChecklistResult {
	configured := indexChecklist(sections)
	seen := make(map[string]bool)

	result := &rules.ChecklistResult{Summary: strings.TrimSpace(v.Summary)}
	for _, vs := range v.Sections {
		sr := rules.SectionResult{Section: vs.Section}
		for _, vi := range vs.Items {
			key := itemKey(vs.Section, vi.Description)
			weight := 0.0
			if vi.Weight != nil && *vi.Weight > 0 && !math.IsInf(*vi.Weight, 0) {
				weight = *vi.Weight
			} else if w, ok := configured[key]; ok {
				weight = w
			}
			seen[key] = true

			score := clamp(vi.Score, weight)
			sr.Items = append(sr.Items, rules.ItemResult{
				Description: vi.Description,
				Weight:      weight,
				Score:       score,
				Status:      normalizeStatus(vi.Status, score, weight),
				Reasoning:   vi.Reasoning,
			})
		}
		result.Sections = append(result.Sections, sr)
	}

	for _, cs := range sections {
		for _, item := range cs.Items {
			if seen[itemKey(cs.Section, item.Description)] {
				continue
			}
			sr := sectionFor(result, cs.Section)
			sr.Items = append(sr.Items, rules.ItemResult{
				Description: item.Description,
				Weight:      item.Weight,
				Score:       0,
				Status:      StatusMissing,
				Reasoning:   "not assessed by the judge",
			})
		}
	}

	finalize(result)
	return result
}

// AutoPass scores every configured item at full weight
func AutoPass(sections []rules.ChecklistSection, summary string) *rules.ChecklistResult {
	result := &rules.ChecklistResult{Summary: summary}
	for _, cs := range sections {
		sr := rules.SectionResult{Section: cs.Section}
		for _, item := range cs.Items {
			sr.Items = append(sr.Items, rules.ItemResult{
				Description: item.Description,
				Weight:      item.Weight,
				Score:       item.Weight,
				Status:      StatusNotApplicable,
			})
		}
		result.Sections = append(result.Sections, sr)
	}
	finalize(result)
	return result
}

// WorstCase is the fail-closed result used when no trustworthy evaluation exists
func WorstCase(reason string) *rules.ChecklistResult {
	return &rules.ChecklistResult{
		TotalScore:  0,
		MaxScore:    worstCaseMax,
		Percent:     0,
		Summary:     reason,
		IsViolation: true,
	}
}

func finalize(result *rules.ChecklistResult) {
	result.TotalScore, result.MaxScore = 0, 0
	for i := range result.Sections {
		sr := &result.Sections[i]
		sr.Score, sr.MaxScore = 0, 0
		for _, it := range sr.Items {
			sr.Score += it.Score
			sr.MaxScore += it.Weight
		}
		result.TotalScore += sr.Score
		result.MaxScore += sr.MaxScore
	}
	result.Percent = percent(result.TotalScore, result.MaxScore)
	result.IsViolation = result.TotalScore < result.MaxScore
}

func percent(total, max float64) int {
	if max <= 0 {
		return 100
	}
	return int(math.Round(total / max * 100))
}

func clamp(score, weight float64) float64 {
	switch {
	case math.IsNaN(score) || score < 0:
		return 0
	case score > weight:
		return weight
	}
	return score
}

func normalizeStatus(status string, score, weight float64) string {
	if s := strings.ToLower(strings.TrimSpace(status)); s != "" {
		return s
	}
	switch {
	case weight > 0 && score >= weight:
		return StatusMet
	case score <= 0:
		return StatusNotMet
	}
	return StatusPartial
}

func indexChecklist(sections []rules.ChecklistSection) map[string]float64 {
	idx := make(map[string]float64)
	for _, s := range sections {
		for _, it := range s.Items {
			idx[itemKey(s.Section, it.Description)] = it.Weight
		}
	}
	return idx
}

// itemKey identifies an item by section and description, both compared
// case- and whitespace-insensitively
func itemKey(section, description string) string {
	return normalize(section) + "\x00" + normalize(description)
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func sectionFor(result *rules.ChecklistResult, name string) *rules.SectionResult {
	for i := range result.Sections {
		if result.Sections[i].Section == name {
			return &result.Sections[i]
		}
	}
	result.Sections = append(result.Sections, rules.SectionResult{Section: name})
	return &result.Sections[len(result.Sections)-1]
}

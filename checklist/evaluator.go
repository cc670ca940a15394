// Package checklist grades transcripts and stage timelines against weighted
// checklists through the judgment capability, then re-derives every score
// locally.
package checklist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/liamcoop/salesaudit/evidence"
	"github.com/liamcoop/salesaudit/internal/logger"
	"github.com/liamcoop/salesaudit/judge"
	"github.com/liamcoop/salesaudit/rules"
)

// DefaultMinTranscriptChars is the shortest transcript considered evaluable
const DefaultMinTranscriptChars = 50

var verdictSchema = judge.MustCompileSchema("checklist_verdict", `{
	"type": "object",
	"required": ["sections"],
	"properties": {
		"sections": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["items"],
				"properties": {
					"section": {"type": "string"},
					"items": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["description", "score"],
							"properties": {
								"description": {"type": "string"},
								"weight": {"type": "number"},
								"score": {"type": "number"},
								"status": {"type": "string"},
								"reasoning": {"type": "string"}
							}
						}
					}
				}
			}
		},
		"summary": {"type": "string"}
	}
}`)

// Evaluator runs checklist evaluations. It never returns an error: any
// failure of the judgment capability yields the worst-case result.
type Evaluator struct {
	judge    judge.Judge
	minChars int
}

// NewEvaluator creates an evaluator. minTranscriptChars <= 0 selects the default.
func NewEvaluator(j judge.Judge, minTranscriptChars int) *Evaluator {
	if minTranscriptChars <= 0 {
		minTranscriptChars = DefaultMinTranscriptChars
	}
	return &Evaluator{judge: j, minChars: minTranscriptChars}
}

// EvaluateTranscript grades a single call transcript. Transcripts below the
// minimum length are not evaluable and fail without calling the judge.
func (e *Evaluator) EvaluateTranscript(ctx context.Context, transcript string, sections []rules.ChecklistSection) *rules.ChecklistResult {
	transcript = strings.TrimSpace(transcript)
	if n := utf8.RuneCountInString(transcript); n < e.minChars {
		return WorstCase(fmt.Sprintf("transcript too short to evaluate (%d < %d characters)", n, e.minChars))
	}
	return e.run(ctx, atomicSystemPrompt(sections), transcript, sections)
}

// EvaluateStage grades a whole stage timeline at once. A stage without calls
// has nothing to audit and passes with no deduction.
func (e *Evaluator) EvaluateStage(ctx context.Context, stage *evidence.Stage, sections []rules.ChecklistSection) *rules.ChecklistResult {
	if stage == nil || stage.CallCount() == 0 {
		return AutoPass(sections, "no calls in stage, nothing to audit")
	}
	return e.run(ctx, stageSystemPrompt(sections), stage.Render(), sections)
}

func (e *Evaluator) run(ctx context.Context, systemPrompt, payload string, sections []rules.ChecklistSection) *rules.ChecklistResult {
	if e.judge == nil {
		logger.JudgeFailures.Add(1)
		logger.Error("checklist judge not configured")
		return WorstCase("checklist evaluation failed: judge not configured")
	}

	raw, err := e.judge.Judge(ctx, systemPrompt, payload)
	if err != nil {
		logger.JudgeFailures.Add(1)
		logger.Error("checklist judge call failed", "error", err)
		return WorstCase(fmt.Sprintf("checklist evaluation failed: %v", err))
	}

	var v Verdict
	if err := verdictSchema.Decode(raw, &v); err != nil {
		logger.JudgeFailures.Add(1)
		logger.Error("checklist judge returned invalid verdict", "error", err)
		return WorstCase(fmt.Sprintf("checklist evaluation failed: %v", err))
	}

	result := Reconcile(v, sections)
	if v.TotalScore != nil && *v.TotalScore != result.TotalScore {
		logger.Debug("judge total disagrees with item sum",
			"reported", *v.TotalScore, "reconciled", result.TotalScore)
	}
	return result
}

const responseContract = `Respond with a single JSON object:
{"sections":[{"section":"<name>","items":[{"description":"<item>","weight":<number>,"score":<number between 0 and weight>,"status":"met|partial|not_met","reasoning":"<short>"}]}],"summary":"<one paragraph>"}
Copy every section and item description exactly as given. Do not omit items.`

func atomicSystemPrompt(sections []rules.ChecklistSection) string {
	return "You audit a single sales call transcript against a weighted checklist.\n" +
		"Score each item from 0 to its weight based only on what the transcript shows.\n\n" +
		"Checklist:\n" + checklistJSON(sections) + "\n\n" + responseContract
}

func stageSystemPrompt(sections []rules.ChecklistSection) string {
	return "You audit every interaction a sales manager had with a client while the deal sat in one stage.\n" +
		"Judge the timeline as a whole: an item is met if any interaction in the timeline satisfies it.\n\n" +
		"Checklist:\n" + checklistJSON(sections) + "\n\n" + responseContract
}

func checklistJSON(sections []rules.ChecklistSection) string {
	data, err := json.MarshalIndent(sections, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}

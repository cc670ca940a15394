package checklist

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/liamcoop/salesaudit/evidence"
	"github.com/liamcoop/salesaudit/judge"
	"github.com/liamcoop/salesaudit/rules"
)

var discovery = []rules.ChecklistSection{
	{Section: "Discovery", Items: []rules.ChecklistItem{
		{Description: "Asked about budget", Weight: 10},
		{Description: "Asked about timeline", Weight: 10},
	}},
}

// recordingJudge returns a canned reply and remembers what it was asked
type recordingJudge struct {
	reply  string
	err    error
	calls  int
	system string
	user   string
}

func (j *recordingJudge) Judge(_ context.Context, system, user string) (json.RawMessage, error) {
	j.calls++
	j.system, j.user = system, user
	if j.err != nil {
		return nil, j.err
	}
	return json.RawMessage(j.reply), nil
}

func stageWithCall() *evidence.Stage {
	at := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	return &evidence.Stage{
		OrderID:   "o1",
		Status:    "qualification",
		EntryTime: at,
		ExitTime:  at.Add(48 * time.Hour),
		Interactions: []evidence.Interaction{
			{Type: evidence.InteractionCall, Timestamp: at.Add(time.Hour), Content: "What budget do you have in mind?"},
			{Type: evidence.InteractionComment, Timestamp: at.Add(2 * time.Hour), Content: "sent the brochure"},
		},
	}
}

func TestEvaluateTranscriptTooShort(t *testing.T) {
	j := &recordingJudge{reply: `{"sections":[]}`}
	e := NewEvaluator(j, 50)

	result := e.EvaluateTranscript(context.Background(), strings.Repeat("a", 40), discovery)

	if j.calls != 0 {
		t.Errorf("judge called %d times, want 0", j.calls)
	}
	if result.TotalScore != 0 || result.MaxScore != 100 || !result.IsViolation {
		t.Errorf("result = %+v, want 0/100 violation", result)
	}
	if !strings.Contains(result.Summary, "too short") {
		t.Errorf("Summary = %q", result.Summary)
	}
}

func TestEvaluateTranscriptCountsRunes(t *testing.T) {
	j := &recordingJudge{reply: `{"sections":[{"section":"Discovery","items":[
		{"description":"Asked about budget","score":10},
		{"description":"Asked about timeline","score":10}]}]}`}
	e := NewEvaluator(j, 10)

	// ten Cyrillic letters are twenty bytes but ten characters
	result := e.EvaluateTranscript(context.Background(), "  здравствуй  ", discovery)
	if j.calls != 1 {
		t.Fatalf("judge called %d times, want 1", j.calls)
	}
	if result.IsViolation {
		t.Errorf("result = %+v, want a pass", result)
	}
}

func TestEvaluateStageSumsItems(t *testing.T) {
	j := &recordingJudge{reply: `{
		"sections": [{"section": "Discovery", "items": [
			{"description": "Asked about budget", "weight": 10, "score": 10, "status": "met"},
			{"description": "Asked about timeline", "weight": 10, "score": 0, "status": "not_met"}
		]}],
		"summary": "budget covered, timeline skipped",
		"totalScore": 17,
		"maxScore": 20
	}`}
	e := NewEvaluator(j, 0)

	result := e.EvaluateStage(context.Background(), stageWithCall(), discovery)

	if result.TotalScore != 10 || result.MaxScore != 20 {
		t.Errorf("score = %v/%v, want 10/20", result.TotalScore, result.MaxScore)
	}
	if result.Percent != 50 || !result.IsViolation {
		t.Errorf("Percent = %d IsViolation = %v, want 50 true", result.Percent, result.IsViolation)
	}
	if !strings.Contains(j.system, "any interaction") {
		t.Error("stage prompt should judge the timeline as a whole")
	}
	if !strings.Contains(j.user, "sent the brochure") {
		t.Error("stage payload should contain the rendered timeline")
	}
}

func TestEvaluateStageWithoutCallsAutoPasses(t *testing.T) {
	j := &recordingJudge{}
	e := NewEvaluator(j, 0)

	stage := stageWithCall()
	stage.Interactions = stage.Interactions[1:]

	result := e.EvaluateStage(context.Background(), stage, discovery)
	if j.calls != 0 {
		t.Errorf("judge called %d times, want 0", j.calls)
	}
	if result.TotalScore != 20 || result.MaxScore != 20 || result.IsViolation {
		t.Errorf("result = %+v, want 20/20 pass", result)
	}
	if result.Sections[0].Items[0].Status != StatusNotApplicable {
		t.Errorf("item status = %s, want %s", result.Sections[0].Items[0].Status, StatusNotApplicable)
	}
}

func TestEvaluateFailsClosed(t *testing.T) {
	long := strings.Repeat("The manager greeted the client and asked questions. ", 3)

	tests := []struct {
		name  string
		judge judge.Judge
	}{
		{name: "judge error", judge: &recordingJudge{err: errors.New("upstream timeout")}},
		{name: "missing credential", judge: &recordingJudge{err: judge.ErrMissingCredential}},
		{name: "schema mismatch", judge: &recordingJudge{reply: `{"verdict": "fine"}`}},
		{name: "item without score", judge: &recordingJudge{reply: `{"sections":[{"items":[{"description":"x"}]}]}`}},
		{name: "no judge", judge: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEvaluator(tt.judge, 0)
			for _, result := range []*rules.ChecklistResult{
				e.EvaluateTranscript(context.Background(), long, discovery),
				e.EvaluateStage(context.Background(), stageWithCall(), discovery),
			} {
				if result.TotalScore != 0 || result.MaxScore != 100 || !result.IsViolation {
					t.Errorf("result = %+v, want worst case", result)
				}
				if !strings.HasPrefix(result.Summary, "checklist evaluation failed") {
					t.Errorf("Summary = %q", result.Summary)
				}
			}
		})
	}
}

// Package engine runs audit passes: for every active rule it selects
// candidates in a time window, resolves when each one really happened,
// evaluates the rule's trigger and conditions, grades checklists and hands
// the resulting violations to the sink one batch per rule.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/liamcoop/salesaudit/checklist"
	"github.com/liamcoop/salesaudit/crm"
	"github.com/liamcoop/salesaudit/evidence"
	"github.com/liamcoop/salesaudit/internal/logger"
	"github.com/liamcoop/salesaudit/judge"
	"github.com/liamcoop/salesaudit/rules"
)

const tracerName = "github.com/liamcoop/salesaudit/engine"

// RuleSource provides the compiled active rules
type RuleSource interface {
	Active(ctx context.Context) ([]*rules.Compiled, error)
}

// Persister writes one rule's violations as a single batch
type Persister interface {
	Persist(ctx context.Context, runID string, rule *rules.Definition, batch []*rules.Violation) (int, error)
}

// Config names the CRM fields the engine interprets
type Config struct {
	StatusField        string
	CommentField       string
	CustomFieldPrefix  string
	MinTranscriptChars int
}

// DefaultConfig returns the field names of a stock CRM install
func DefaultConfig() Config {
	return Config{
		StatusField:        "status",
		CommentField:       "comments",
		CustomFieldPrefix:  "UF_CRM_",
		MinTranscriptChars: checklist.DefaultMinTranscriptChars,
	}
}

// Deps are the collaborators of an Engine
type Deps struct {
	Rules  RuleSource
	Store  crm.Store
	Judge  judge.Judge
	Sink   Persister
	Config Config
	Now    func() time.Time
}

// Engine evaluates rules. A pass is strictly sequential: rules one at a
// time, candidates one at a time.
type Engine struct {
	rules      RuleSource
	fetcher    *Fetcher
	resolver   *Resolver
	collector  *evidence.Collector
	blocks     *Dispatcher
	checklists *checklist.Evaluator
	sink       Persister
	now        func() time.Time
	tracer     trace.Tracer
}

// New creates an engine
func New(deps Deps) *Engine {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	cfg := deps.Config
	collector := evidence.NewCollector(deps.Store, deps.Store, evidence.Config{
		CommentField:      cfg.CommentField,
		CustomFieldPrefix: cfg.CustomFieldPrefix,
	})
	collector.SetClock(now)

	return &Engine{
		rules:      deps.Rules,
		fetcher:    NewFetcher(deps.Store, cfg.StatusField),
		resolver:   NewResolver(deps.Store, cfg.StatusField),
		collector:  collector,
		blocks:     NewDispatcher(deps.Store, deps.Judge, cfg.CommentField, now),
		checklists: checklist.NewEvaluator(deps.Judge, cfg.MinTranscriptChars),
		sink:       deps.Sink,
		now:        now,
		tracer:     otel.Tracer(tracerName),
	}
}

// PassRequest selects the window and rules of a pass. Empty Rules selects
// every active rule. DryRun evaluates identically but writes nothing and
// sends no notifications.
type PassRequest struct {
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Rules  []string  `json:"rules,omitempty"`
	DryRun bool      `json:"dryRun"`
}

// RuleStats reports what a pass did with one rule
type RuleStats struct {
	Code             string `json:"code"`
	Candidates       int    `json:"candidates"`
	SkippedByTrigger int    `json:"skippedByTrigger"`
	Violations       int    `json:"violations"`
	Persisted        int    `json:"persisted"`
	Error            string `json:"error,omitempty"`
}

// PassResult is the outcome of a pass. Count is the number of violations
// found; Persisted the number written, always 0 for dry runs.
type PassResult struct {
	RunID      string             `json:"runId"`
	From       time.Time          `json:"from"`
	To         time.Time          `json:"to"`
	DryRun     bool               `json:"dryRun"`
	Violations []*rules.Violation `json:"violations"`
	Count      int                `json:"count"`
	Persisted  int                `json:"persisted"`
	Rules      []RuleStats        `json:"rules"`
}

// ErrInvalidWindow is returned when a pass window ends before it starts
var ErrInvalidWindow = errors.New("pass window ends before it starts")

// RunPass evaluates the selected active rules over [From, To]. Failures of
// one rule are logged and recorded in its stats; the pass continues with
// the next rule. Only failure to load the rule set fails the whole pass.
func (e *Engine) RunPass(ctx context.Context, req PassRequest) (*PassResult, error) {
	if req.To.Before(req.From) {
		return nil, ErrInvalidWindow
	}

	result := &PassResult{
		RunID:      uuid.New().String(),
		From:       req.From,
		To:         req.To,
		DryRun:     req.DryRun,
		Violations: []*rules.Violation{},
		Rules:      []RuleStats{},
	}

	ctx, span := e.tracer.Start(ctx, "engine.RunPass",
		trace.WithAttributes(
			attribute.String("run_id", result.RunID),
			attribute.Bool("dry_run", req.DryRun),
			attribute.String("from", req.From.UTC().Format(time.RFC3339)),
			attribute.String("to", req.To.UTC().Format(time.RFC3339)),
		),
	)
	defer span.End()

	active, err := e.rules.Active(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load rules")
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}
	selected := selectRules(active, req.Rules)

	logger.PassesRun.Add(1)
	logger.Info("audit pass started",
		"run_id", result.RunID,
		"from", req.From,
		"to", req.To,
		"rules", len(selected),
		"dry_run", req.DryRun,
	)
	start := time.Now()

	for _, rule := range selected {
		stats, batch := e.runRule(ctx, result.RunID, rule, req)
		result.Rules = append(result.Rules, stats)
		result.Violations = append(result.Violations, batch...)
		result.Count += stats.Violations
		result.Persisted += stats.Persisted
	}

	span.SetAttributes(
		attribute.Int("violations", result.Count),
		attribute.Int("persisted", result.Persisted),
	)
	logger.Info("audit pass finished",
		"run_id", result.RunID,
		"violations", result.Count,
		"persisted", result.Persisted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// selectRules keeps the rules named in codes, in rule order. Unknown codes
// are logged.
func selectRules(active []*rules.Compiled, codes []string) []*rules.Compiled {
	if len(codes) == 0 {
		return active
	}
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		want[c] = true
	}
	var out []*rules.Compiled
	for _, r := range active {
		if want[r.Code()] {
			out = append(out, r)
			delete(want, r.Code())
		}
	}
	for code := range want {
		logger.Warn("requested rule is not active", "rule", code)
	}
	return out
}

func (e *Engine) runRule(ctx context.Context, runID string, rule *rules.Compiled, req PassRequest) (RuleStats, []*rules.Violation) {
	def := rule.Definition
	stats := RuleStats{Code: def.Code}

	ctx, span := e.tracer.Start(ctx, "engine.Rule",
		trace.WithAttributes(
			attribute.String("rule", def.Code),
			attribute.String("entity_type", string(def.EntityType)),
		),
	)
	defer span.End()

	logger.RulesEvaluated.Add(1)
	batch, err := e.evaluateRule(ctx, rule, req.From, req.To, &stats)
	span.SetAttributes(
		attribute.Int("candidates", stats.Candidates),
		attribute.Int("violations", len(batch)),
	)
	if err != nil {
		logger.RuleFailures.Add(1)
		logger.Error("rule evaluation failed", "run_id", runID, "rule", def.Code, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "rule evaluation failed")
		stats.Error = err.Error()
		return stats, nil
	}

	stats.Violations = len(batch)
	logger.ViolationsFound.Add(int64(len(batch)))
	if len(batch) == 0 || req.DryRun || e.sink == nil {
		return stats, batch
	}

	n, err := e.sink.Persist(ctx, runID, def, batch)
	if err != nil {
		logger.PersistFailures.Add(1)
		logger.Error("failed to persist violations", "run_id", runID, "rule", def.Code,
			"violations", len(batch), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		stats.Error = err.Error()
		return stats, batch
	}
	stats.Persisted = n
	return stats, batch
}

// evaluateRule walks every candidate of one rule. Any candidate error
// aborts the rule.
func (e *Engine) evaluateRule(ctx context.Context, rule *rules.Compiled, from, to time.Time, stats *RuleStats) ([]*rules.Violation, error) {
	candidates, err := e.fetcher.Fetch(ctx, rule, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidates: %w", err)
	}
	stats.Candidates = len(candidates)

	var batch []*rules.Violation
	for _, c := range candidates {
		logger.CandidatesEvaluated.Add(1)
		v, err := e.evaluateCandidate(ctx, rule, c, stats)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", c.OrderID, err)
		}
		if v != nil {
			batch = append(batch, v)
		}
	}
	return batch, nil
}

func (e *Engine) evaluateCandidate(ctx context.Context, rule *rules.Compiled, c *Candidate, stats *RuleStats) (*rules.Violation, error) {
	def := rule.Definition

	if err := e.resolver.Resolve(ctx, c); err != nil {
		return nil, err
	}

	var stage *evidence.Stage
	if def.EntityType == rules.EntityStage {
		var err error
		stage, err = e.collector.Collect(ctx, c.OrderID, c.Status, c.OccurredAt, time.Time{})
		if err != nil {
			return nil, err
		}
	}

	var evidenceText []string
	if rule.Trigger != nil {
		v, err := e.blocks.Match(ctx, rule.Trigger, c, stage)
		if err != nil {
			return nil, fmt.Errorf("trigger %s: %w", rule.Trigger.Name(), err)
		}
		if !v.Matched {
			stats.SkippedByTrigger++
			return nil, nil
		}
		evidenceText = appendEvidence(evidenceText, v.Evidence)
	}

	for _, cond := range rule.Conditions {
		v, err := e.blocks.Match(ctx, cond, c, stage)
		if err != nil {
			return nil, fmt.Errorf("condition %s: %w", cond.Name(), err)
		}
		if !v.Matched {
			return nil, nil
		}
		evidenceText = appendEvidence(evidenceText, v.Evidence)
	}

	violation := &rules.Violation{
		RuleCode:      def.Code,
		OrderID:       c.OrderID,
		ManagerID:     c.ManagerID,
		ViolationTime: c.OccurredAt.UTC(),
		Severity:      def.Severity,
		Points:        def.Points,
		CallID:        c.CallID,
		EvidenceText:  joinEvidence(evidenceText),
	}

	if !def.HasChecklist() {
		violation.Details = standardDetails(def, c)
		return violation, nil
	}

	var result *rules.ChecklistResult
	if stage != nil {
		result = e.checklists.EvaluateStage(ctx, stage, def.Checklist)
	} else {
		result = e.checklists.EvaluateTranscript(ctx, c.Transcript, def.Checklist)
	}
	if !result.IsViolation {
		return nil, nil
	}
	violation.ChecklistResult = result
	violation.Details = fmt.Sprintf("%s: checklist score %g of %g (%d%%)", ruleLabel(def), result.TotalScore, result.MaxScore, result.Percent)
	if violation.EvidenceText == "" {
		violation.EvidenceText = result.Summary
	}
	return violation, nil
}

func standardDetails(def *rules.Definition, c *Candidate) string {
	switch def.EntityType {
	case rules.EntityCall:
		return fmt.Sprintf("%s: call %s on order %s", ruleLabel(def), c.CallID, c.OrderID)
	case rules.EntityEvent:
		return fmt.Sprintf("%s: %s change on order %s at %s", ruleLabel(def), c.Payload.String("field"), c.OrderID, c.OccurredAt.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("%s: order %s in status %q since %s", ruleLabel(def), c.OrderID, c.Status, c.OccurredAt.UTC().Format(time.RFC3339))
}

func ruleLabel(def *rules.Definition) string {
	if def.Name != "" {
		return def.Name
	}
	return def.Code
}

func appendEvidence(list []string, s string) []string {
	if s == "" {
		return list
	}
	return append(list, s)
}

func joinEvidence(list []string) string {
	return strings.Join(list, "\n")
}

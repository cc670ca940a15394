package logger

import "sync/atomic"

// HTTP counters, incremented regardless of sampling
var (
	TotalErrors    atomic.Int64
	TotalWarnings  atomic.Int64
	Total5xxErrors atomic.Int64
	Total4xxErrors atomic.Int64
	Total400Errors atomic.Int64
	Total404Errors atomic.Int64
	SlowRequests   atomic.Int64
)

// Audit counters, exposed by the health endpoint
var (
	PassesRun              atomic.Int64
	RulesEvaluated         atomic.Int64
	RuleFailures           atomic.Int64
	CandidatesEvaluated    atomic.Int64
	ViolationsFound        atomic.Int64
	PersistFailures        atomic.Int64
	JudgeFailures          atomic.Int64
	NotificationsDropped   atomic.Int64
	NotificationsFailed    atomic.Int64
	NotificationsDelivered atomic.Int64
)

// ErrorHttp5xx counts a 5xx response
func ErrorHttp5xx() {
	Total5xxErrors.Add(1)
	TotalErrors.Add(1)
}

// WarnHttp4xx counts a 4xx response
func WarnHttp4xx(status int) {
	Total4xxErrors.Add(1)
	TotalWarnings.Add(1)

	switch status {
	case 400:
		Total400Errors.Add(1)
	case 404:
		Total404Errors.Add(1)
	}
}

// WarnSlowRequest counts a slow request
func WarnSlowRequest() {
	SlowRequests.Add(1)
	TotalWarnings.Add(1)
}

// Counters returns a snapshot of every counter keyed by name
func Counters() map[string]int64 {
	return map[string]int64{
		"errors":                  TotalErrors.Load(),
		"warnings":                TotalWarnings.Load(),
		"http_5xx":                Total5xxErrors.Load(),
		"http_4xx":                Total4xxErrors.Load(),
		"http_400":                Total400Errors.Load(),
		"http_404":                Total404Errors.Load(),
		"slow_requests":           SlowRequests.Load(),
		"passes_run":              PassesRun.Load(),
		"rules_evaluated":         RulesEvaluated.Load(),
		"rule_failures":           RuleFailures.Load(),
		"candidates_evaluated":    CandidatesEvaluated.Load(),
		"violations_found":        ViolationsFound.Load(),
		"persist_failures":        PersistFailures.Load(),
		"judge_failures":          JudgeFailures.Load(),
		"notifications_dropped":   NotificationsDropped.Load(),
		"notifications_failed":    NotificationsFailed.Load(),
		"notifications_delivered": NotificationsDelivered.Load(),
	}
}

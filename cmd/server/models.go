package main

import (
	"time"

	"github.com/liamcoop/salesaudit/engine"
	"github.com/liamcoop/salesaudit/rules"
)

// RunPassRequest is the body of POST /api/v1/passes
type RunPassRequest struct {
	From   time.Time `json:"from" example:"2024-01-15T00:00:00Z"`
	To     time.Time `json:"to" example:"2024-01-16T00:00:00Z"`
	Rules  []string  `json:"rules,omitempty" example:"CANCEL_NO_COMMENT"`
	DryRun bool      `json:"dryRun" example:"true"`
} // @name RunPassRequest

// RunPassResponse is the outcome of a pass
type RunPassResponse = engine.PassResult

// RulesListResponse lists stored rules
type RulesListResponse struct {
	Rules []*rules.Definition `json:"rules"`
	Count int                 `json:"count"`
} // @name RulesListResponse

// ViolationsListResponse lists stored violations
type ViolationsListResponse struct {
	Violations []*rules.Violation `json:"violations"`
	Count      int                `json:"count"`
} // @name ViolationsListResponse

// HealthResponse reports service health and counters
type HealthResponse struct {
	Status   string           `json:"status" example:"healthy"`
	Error    string           `json:"error,omitempty"`
	Counters map[string]int64 `json:"counters,omitempty"`
} // @name HealthResponse

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Error   string `json:"error" example:"invalid request body"`
	Details string `json:"details,omitempty"`
} // @name ErrorResponse

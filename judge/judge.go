// Package judge is the boundary to the external judgment capability: a
// single request/response function returning JSON that is well formed but
// never trusted for arithmetic or shape.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrMissingCredential is returned when the capability has no API key configured
	ErrMissingCredential = errors.New("judge credential is not configured")

	// ErrInvalidResponse is returned when the capability output is not usable JSON
	// or does not match the expected shape
	ErrInvalidResponse = errors.New("invalid judge response")
)

// Judge renders a verdict on unstructured input
type Judge interface {
	Judge(ctx context.Context, systemPrompt, userPayload string) (json.RawMessage, error)
}

// Func adapts a function to the Judge interface
type Func func(ctx context.Context, systemPrompt, userPayload string) (json.RawMessage, error)

// Judge calls f
func (f Func) Judge(ctx context.Context, systemPrompt, userPayload string) (json.RawMessage, error) {
	return f(ctx, systemPrompt, userPayload)
}

// CleanJSON strips markdown code fences that models wrap around JSON output
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

package rules

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Variables available to expression blocks
const (
	ExprVarCandidate  = "candidate"
	ExprVarOrder      = "order"
	ExprVarHoursSince = "hours_since"
)

// expressionCostLimit bounds the work a single expression may do
const expressionCostLimit = 1000000

var (
	exprEnvOnce sync.Once
	exprEnv     *cel.Env
	exprEnvErr  error
)

// expressionEnv returns the shared CEL environment. Candidate payloads and
// order contexts are loose maps, so both are declared as dynamic types.
func expressionEnv() (*cel.Env, error) {
	exprEnvOnce.Do(func() {
		exprEnv, exprEnvErr = cel.NewEnv(
			cel.Variable(ExprVarCandidate, cel.DynType),
			cel.Variable(ExprVarOrder, cel.DynType),
			cel.Variable(ExprVarHoursSince, cel.DoubleType),
		)
		if exprEnvErr != nil {
			exprEnvErr = fmt.Errorf("failed to create CEL environment: %w", exprEnvErr)
		}
	})
	return exprEnv, exprEnvErr
}

// Expression is a CEL predicate compiled once when the rule is loaded
type Expression struct {
	Source  string
	program cel.Program
}

func (*Expression) Name() string { return BlockExpression }
func (*Expression) block()       {}

// CompileExpression parses, type-checks and plans a CEL expression
func CompileExpression(source string) (*Expression, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("expr is required")
	}

	env, err := expressionEnv()
	if err != nil {
		return nil, err
	}

	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := env.Program(ast, cel.CostLimit(expressionCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	return &Expression{Source: source, program: prog}, nil
}

// Eval runs the expression. Non-boolean results are treated as false.
func (e *Expression) Eval(vars map[string]any) (bool, error) {
	if e == nil || e.program == nil {
		return false, fmt.Errorf("expression is not compiled")
	}
	out, _, err := e.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}
	matched, ok := out.Value().(bool)
	return ok && matched, nil
}

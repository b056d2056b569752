package catalog

import (
	"fmt"

	"github.com/google/cel-go/cel"
	celtypes "github.com/google/cel-go/common/types"
)

// conditionEvaluator compiles and evaluates CEL rule conditions against an
// endpoint descriptor map.
type conditionEvaluator struct {
	env      *cel.Env
	programs map[string]cel.Program
}

// newConditionEvaluator creates a CEL environment exposing the endpoint
// descriptor as the `endpoint` variable.
func newConditionEvaluator() (*conditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("endpoint", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %w", err)
	}

	return &conditionEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile parses, checks and compiles one condition, keyed by rule id.
func (e *conditionEvaluator) Compile(ruleID, expression string) error {
	ast, issues := e.env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("error parsing condition: %w", issues.Err())
	}

	checked, issues := e.env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("error type-checking condition: %w", issues.Err())
	}

	program, err := e.env.Program(checked)
	if err != nil {
		return fmt.Errorf("error compiling condition: %w", err)
	}

	e.programs[ruleID] = program
	return nil
}

// Evaluate runs a compiled condition against the endpoint map.
func (e *conditionEvaluator) Evaluate(ruleID string, endpoint map[string]interface{}) (bool, error) {
	program, ok := e.programs[ruleID]
	if !ok {
		return false, fmt.Errorf("no compiled condition for rule %s", ruleID)
	}

	result, _, err := program.Eval(map[string]interface{}{
		"endpoint": endpoint,
	})
	if err != nil {
		return false, fmt.Errorf("error evaluating condition: %w", err)
	}

	if result.Type() != celtypes.BoolType {
		return false, fmt.Errorf("condition did not evaluate to a boolean")
	}

	return result.Value().(bool), nil
}

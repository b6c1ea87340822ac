package changefeed

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"

	"unitcast/internal/core/apperror"
	"unitcast/internal/core/entity"
)

// Filter evaluates a CEL predicate against decoded record attributes.
// Records the predicate rejects are skipped before routing. The expression
// sees one variable, `record`, a map of attribute name to scalar, e.g.
//
//	record.unitId == "unitA" && record.qty > 10.0
//	has(record.customerId)
type Filter struct {
	expr    string
	program cel.Program
}

// NewFilter compiles the expression. The result type must be bool.
func NewFilter(expr string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("filter env: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter program: %w", err)
	}

	return &Filter{expr: expr, program: program}, nil
}

// Expr returns the source expression.
func (f *Filter) Expr() string {
	return f.expr
}

// Match evaluates the predicate. An evaluation error (e.g. a reference to a
// missing attribute) is reported, not swallowed.
func (f *Filter) Match(attrs entity.Attributes) (bool, error) {
	out, _, err := f.program.Eval(map[string]any{"record": celRecord(attrs)})
	if err != nil {
		return false, apperror.NewFilter(err).WithDetail("expr", f.expr)
	}

	matched, ok := out.Value().(bool)
	if !ok {
		return false, apperror.NewFilter(fmt.Errorf("non-bool result %T", out.Value())).
			WithDetail("expr", f.expr)
	}
	return matched, nil
}

// celRecord converts attributes into plain CEL-friendly scalars. Decimals
// lose precision here; the filter only routes, it never writes.
func celRecord(attrs entity.Attributes) map[string]any {
	m := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch t := v.(type) {
		case decimal.Decimal:
			m[k] = t.InexactFloat64()
		case json.Number:
			f, _ := t.Float64()
			m[k] = f
		default:
			m[k] = v
		}
	}
	return m
}

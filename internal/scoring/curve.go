// Package scoring turns detector evidence into suspicion scores and typed,
// disjoint fraud rings.
package scoring

import (
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// DefaultNormalizeExpr is the linear saturating curve min(100, x/saturation*100).
const DefaultNormalizeExpr = "x >= saturation ? 100.0 : x / saturation * 100.0"

// Saturations the curve is checked against when compiled.
var sampleSaturations = []float64{1, 2, 5, 20}

// Curve maps a raw evidence magnitude onto [0,100]. It is a compiled CEL
// expression over the doubles x and saturation.
type Curve struct {
	Expression string
	program    cel.Program
}

// NewCurve compiles and validates a normalization curve. An empty
// expression selects DefaultNormalizeExpr. The curve must return a double,
// map 0 to 0, stay within [0,100] and never decrease as x grows.
func NewCurve(expr string) (*Curve, error) {
	if expr == "" {
		expr = DefaultNormalizeExpr
	}

	env, err := cel.NewEnv(
		cel.Variable("x", cel.DoubleType),
		cel.Variable("saturation", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile normalize expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.DoubleType {
		return nil, fmt.Errorf("normalize expression must return double, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for normalize expression: %w", err)
	}

	c := &Curve{Expression: expr, program: program}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Normalize evaluates the curve.
func (c *Curve) Normalize(x, saturation float64) (float64, error) {
	out, _, err := c.program.Eval(map[string]any{
		"x":          x,
		"saturation": saturation,
	})
	if err != nil {
		return 0, fmt.Errorf("evaluation error: %w", err)
	}
	return toFloat(out)
}

func (c *Curve) validate() error {
	for _, sat := range sampleSaturations {
		prev := 0.0
		for step := 0; step <= 40; step++ {
			x := sat * float64(step) / 10
			v, err := c.Normalize(x, sat)
			if err != nil {
				return fmt.Errorf("normalize(%g, %g): %w", x, sat, err)
			}
			switch {
			case math.IsNaN(v) || v < 0 || v > 100:
				return fmt.Errorf("normalize(%g, %g) = %g is outside [0,100]", x, sat, v)
			case step == 0 && v != 0:
				return fmt.Errorf("normalize(0, %g) = %g, want 0", sat, v)
			case v < prev:
				return fmt.Errorf("normalize is not monotonic at x=%g saturation=%g", x, sat)
			}
			prev = v
		}
	}
	return nil
}

func toFloat(val ref.Val) (float64, error) {
	switch v := val.(type) {
	case types.Double:
		return float64(v), nil
	case types.Int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("unexpected result type %s", val.Type().TypeName())
	}
}

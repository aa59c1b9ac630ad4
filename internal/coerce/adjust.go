package coerce

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Adjustment errors.
var (
	// ErrDeniedToken means the expression names something on the denylist.
	ErrDeniedToken = errors.New("coerce: adjustment references a prohibited name")

	// ErrBadExpression means the expression failed to compile or run.
	ErrBadExpression = errors.New("coerce: invalid adjustment expression")
)

// deniedTokens are rejected anywhere in an adjustment expression. The
// check is a plain substring match.
var deniedTokens = []string{
	"indigo", "requests", "pyserial", "oauthlib", "os",
	"logging", "json", "yaml", "pystache", "Queue",
}

// DeniedToken returns the first denylisted token found in expression.
func DeniedToken(expression string) (string, bool) {
	for _, tok := range deniedTokens {
		if strings.Contains(expression, tok) {
			return tok, true
		}
	}
	return "", false
}

// Adjuster applies user-defined scalar transforms such as "x * 2" or
// "round(x - 32) / 1.8". Expressions only see the variable x and a fixed
// set of maths functions. Compiled programs are cached by source text.
//
// Safe for concurrent use.
type Adjuster struct {
	mu       sync.Mutex
	programs map[string]*vm.Program
}

// NewAdjuster returns an empty Adjuster.
func NewAdjuster() *Adjuster {
	return &Adjuster{programs: make(map[string]*vm.Program)}
}

// Apply evaluates expression with x bound to value.
//
// A blank expression returns value unchanged. Expressions containing a
// denylisted token return value with ErrDeniedToken so the caller can warn
// and carry on with the raw reading.
func (a *Adjuster) Apply(expression string, value float64) (float64, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return value, nil
	}
	if tok, denied := DeniedToken(expression); denied {
		return value, fmt.Errorf("%w: %q", ErrDeniedToken, tok)
	}

	program, err := a.compile(expression)
	if err != nil {
		return value, err
	}

	out, err := expr.Run(program, map[string]any{"x": value})
	if err != nil {
		return value, fmt.Errorf("%w: %w", ErrBadExpression, err)
	}
	result, err := ToNumeric(out)
	if err != nil {
		return value, fmt.Errorf("%w: result %v is not numeric", ErrBadExpression, out)
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return value, fmt.Errorf("%w: result is not finite", ErrBadExpression)
	}
	return result, nil
}

// Validate compiles expression without running it.
func (a *Adjuster) Validate(expression string) error {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil
	}
	if tok, denied := DeniedToken(expression); denied {
		return fmt.Errorf("%w: %q", ErrDeniedToken, tok)
	}
	_, err := a.compile(expression)
	return err
}

func (a *Adjuster) compile(expression string) (*vm.Program, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.programs[expression]; ok {
		return p, nil
	}

	opts := []expr.Option{
		expr.Env(map[string]any{"x": 0.0}),
		expr.DisableAllBuiltins(),
		expr.AsFloat64(),
	}
	opts = append(opts, mathFunctions()...)

	p, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadExpression, err)
	}
	a.programs[expression] = p
	return p, nil
}

// mathFunctions is the complete set of callable functions.
func mathFunctions() []expr.Option {
	unary := map[string]func(float64) float64{
		"abs":   math.Abs,
		"ceil":  math.Ceil,
		"floor": math.Floor,
		"round": math.Round,
		"trunc": math.Trunc,
		"sqrt":  math.Sqrt,
		"log":   math.Log,
		"log10": math.Log10,
		"exp":   math.Exp,
	}
	binary := map[string]func(float64, float64) float64{
		"min": math.Min,
		"max": math.Max,
		"pow": math.Pow,
	}

	opts := make([]expr.Option, 0, len(unary)+len(binary))
	for name, fn := range unary {
		name, fn := name, fn // per-iteration copies (go 1.21 loop semantics)
		opts = append(opts, expr.Function(name, func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(params))
			}
			v, err := ToNumeric(params[0])
			if err != nil {
				return nil, err
			}
			return fn(v), nil
		}))
	}
	for name, fn := range binary {
		name, fn := name, fn // per-iteration copies (go 1.21 loop semantics)
		opts = append(opts, expr.Function(name, func(params ...any) (any, error) {
			if len(params) != 2 { //nolint:mnd // binary functions
				return nil, fmt.Errorf("%s expects 2 arguments, got %d", name, len(params))
			}
			a, err := ToNumeric(params[0])
			if err != nil {
				return nil, err
			}
			b, err := ToNumeric(params[1])
			if err != nil {
				return nil, err
			}
			return fn(a, b), nil
		}))
	}
	return opts
}

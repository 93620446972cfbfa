package convention

import (
	"fmt"
	"time"

	"go.starlark.net/starlark"

	"github.com/securactl/securactl/pkg/securable"
)

// evalTimeout bounds a single expression evaluation. Convention
// expressions are one-liners; anything slower is a runaway loop.
const evalTimeout = 5 * time.Second

// Evaluator executes Starlark tag-value expressions. An expression sees
// three predeclared strings: `name` (the securable's base name), `kind`,
// and `env`, and must evaluate to a string.
type Evaluator struct {
	timeout time.Duration
}

// NewEvaluator creates an expression evaluator with the default timeout.
func NewEvaluator() *Evaluator {
	return &Evaluator{timeout: evalTimeout}
}

// TagValue evaluates expr for the given securable and environment.
func (e *Evaluator) TagValue(expr string, s securable.Securable, env securable.Environment) (string, error) {
	type outcome struct {
		value string
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := e.eval(expr, s, env)
		ch <- outcome{value: v, err: err}
	}()

	select {
	case <-time.After(e.timeout):
		return "", fmt.Errorf("expression timed out after %v", e.timeout)
	case out := <-ch:
		return out.value, out.err
	}
}

func (e *Evaluator) eval(expr string, s securable.Securable, env securable.Environment) (string, error) {
	thread := &starlark.Thread{
		Name: "convention",
		// Expressions have no business printing.
		Print: func(*starlark.Thread, string) {},
	}
	predeclared := starlark.StringDict{
		"name": starlark.String(s.BaseName()),
		"kind": starlark.String(s.Kind()),
		"env":  starlark.String(env),
	}
	value, err := starlark.Eval(thread, "expression.star", expr, predeclared)
	if err != nil {
		return "", fmt.Errorf("expression failed: %w", err)
	}
	str, ok := starlark.AsString(value)
	if !ok {
		return "", fmt.Errorf("expression produced %s, want string", value.Type())
	}
	return str, nil
}

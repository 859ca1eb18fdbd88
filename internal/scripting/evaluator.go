package scripting

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Evaluator executes deferred map expressions in one sandboxed Lua VM.
// The VM is single-threaded; a mutex serializes concurrent evaluations.
// Each evaluation runs under a fresh instruction-count context, so a
// runaway expression cannot wedge later ones.
//
// Evaluator satisfies the engine's evaluator capability
// (EvalCommand/EvalCost).
type Evaluator struct {
	mu     sync.Mutex
	state  *lua.LState
	limit  int
	logger *zap.Logger
}

// NewEvaluator creates an Evaluator.
//
// Precondition: logger must be non-nil; instLimit <= 0 uses
// DefaultInstructionLimit.
// Postcondition: Returns a non-nil Evaluator; the caller must Close it.
func NewEvaluator(instLimit int, logger *zap.Logger) *Evaluator {
	if instLimit <= 0 {
		instLimit = DefaultInstructionLimit
	}
	return &Evaluator{
		state:  newSandboxedState(),
		limit:  instLimit,
		logger: logger,
	}
}

// Close releases the underlying VM.
func (e *Evaluator) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Close()
}

// Bind exposes a host value to expressions as a Lua global. Expressions
// commonly consult bound state (character standing, held items, spell
// status) when computing commands and costs.
func (e *Evaluator) Bind(name string, value lua.LValue) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.SetGlobal(name, value)
}

// BindFunc exposes a host function to expressions as a Lua global.
func (e *Evaluator) BindFunc(name string, fn lua.LGFunction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.SetGlobal(name, e.state.NewFunction(fn))
}

// EvalCommand evaluates a deferred movement command expression.
//
// Postcondition: Returns the command string, or a non-nil error when the
// expression fails or does not produce a string.
func (e *Evaluator) EvalCommand(expr string) (string, error) {
	value, err := e.eval(expr)
	if err != nil {
		return "", err
	}
	switch value.Type() {
	case lua.LTString, lua.LTNumber:
		return value.String(), nil
	default:
		return "", fmt.Errorf("command expression produced %s, not a string", value.Type())
	}
}

// EvalCost evaluates a deferred cost expression.
//
// Postcondition: Returns the cost in seconds, or a non-nil error when the
// expression fails or does not produce a number.
func (e *Evaluator) EvalCost(expr string) (float64, error) {
	value, err := e.eval(expr)
	if err != nil {
		return 0, err
	}
	n, ok := value.(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("cost expression produced %s, not a number", value.Type())
	}
	return float64(n), nil
}

// eval runs one expression under the instruction limit and returns its
// first result.
func (e *Evaluator) eval(expr string) (lua.LValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, cancel := newCountingContext(e.limit)
	defer cancel()
	e.state.SetContext(ctx)

	base := e.state.GetTop()
	if err := e.state.DoString("return " + expr); err != nil {
		e.logger.Warn("deferred expression failed",
			zap.String("expr", expr),
			zap.Error(err),
		)
		e.state.SetTop(base)
		return lua.LNil, fmt.Errorf("evaluating expression: %w", err)
	}
	defer e.state.SetTop(base)
	if e.state.GetTop() <= base {
		return lua.LNil, nil
	}
	return e.state.Get(base + 1), nil
}

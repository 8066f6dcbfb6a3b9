// Package script is a minimal host execution engine: a list of statements
// executed against a variable frame, with the instrumentation hook invoked at
// statement granularity the way an interpreter's line trace would. It powers
// the demo workloads of the run command and the pipeline's end-to-end tests.
package script

import (
	"fmt"

	"github.com/probescope/probescope/internal/hook"
)

// Frame holds the variables of one executing scope and implements
// hook.ValueReader for it.
type Frame struct {
	scope string
	vars  map[string]any
}

// NewFrame creates an empty frame for the named scope.
func NewFrame(scope string) *Frame {
	return &Frame{scope: scope, vars: make(map[string]any)}
}

// Scope returns the frame's scope name.
func (f *Frame) Scope() string { return f.scope }

// Set writes a variable.
func (f *Frame) Set(symbol string, value any) { f.vars[symbol] = value }

// Get reads a variable.
func (f *Frame) Get(symbol string) (any, bool) {
	v, ok := f.vars[symbol]
	return v, ok
}

// GetInt reads a variable as int, returning 0 if absent or mistyped.
func (f *Frame) GetInt(symbol string) int {
	if v, ok := f.vars[symbol].(int); ok {
		return v
	}
	return 0
}

// ReadValue implements hook.ValueReader. A scope is readable if it matches
// the frame or is empty (targets registered without scope narrowing).
func (f *Frame) ReadValue(symbol, scope string) (any, bool) {
	if scope != "" && scope != f.scope {
		return nil, false
	}
	v, ok := f.vars[symbol]
	return v, ok
}

// Stmt is one executable statement. Assigns names the symbols the statement
// writes, which is what lets the hook defer their capture.
type Stmt struct {
	Line    int
	Assigns []string
	Do      func(*Frame)
}

// Program is a statement list attributed to one source file and scope.
type Program struct {
	File  string
	Scope string
	Stmts []Stmt
}

// Engine executes programs through an instrumentation hook.
type Engine struct {
	hk   *hook.Hook
	stop <-chan struct{}
}

// NewEngine creates an Engine. stop may be nil; when it is closed the engine
// ends the program at the next statement boundary.
func NewEngine(hk *hook.Hook, stop <-chan struct{}) *Engine {
	return &Engine{hk: hk, stop: stop}
}

// Run executes every statement of the program against fr. The hook's
// OnStatement fires before each statement runs, OnReturn fires at normal
// completion, and a panicking statement triggers OnPanic before the panic is
// returned as an error.
func (e *Engine) Run(prog Program, fr *Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.hk.OnPanic(fr, r)
			err = fmt.Errorf("statement panicked: %v", r)
		}
	}()

	for _, stmt := range prog.Stmts {
		if e.stopped() {
			break
		}
		e.hk.OnStatement(fr, prog.File, stmt.Line, stmt.Assigns...)
		stmt.Do(fr)
	}

	e.hk.OnReturn(fr)
	return nil
}

func (e *Engine) stopped() bool {
	if e.stop == nil {
		return false
	}
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

package script

import (
	"math"

	"github.com/probescope/probescope/internal/target"
)

// Demo workloads for the run command. Each returns a program, its frame, and
// the capture targets a viewer would typically probe in it.

// DemoFile is the pseudo source file the demo programs execute as.
const DemoFile = "demo.ps"

// Countdown builds a loop that assigns v = n, n-1, ..., 1. Probing v
// exercises deferred capture and order preservation.
func Countdown(n int) (Program, *Frame, []target.Target) {
	fr := NewFrame("countdown")
	fr.Set("n", n)

	prog := Program{File: DemoFile, Scope: "countdown"}
	for i := n; i > 0; i-- {
		i := i
		prog.Stmts = append(prog.Stmts, Stmt{
			Line:    3,
			Assigns: []string{"v"},
			Do:      func(f *Frame) { f.Set("v", i) },
		})
	}

	targets := []target.Target{
		{
			Loc:    target.Location{File: DemoFile, Line: 3, Col: 1},
			Symbol: "v",
			Scope:  "countdown",
		},
	}
	return prog, fr, targets
}

// Waves builds a loop assigning two values on one line: a sine sample and
// its running index. Probing both exercises same-event batching, and the
// final statement assigns a large sample buffer to exercise the
// shared-region payload path.
func Waves(n int) (Program, *Frame, []target.Target) {
	fr := NewFrame("waves")

	prog := Program{File: DemoFile, Scope: "waves"}
	samples := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		i := i
		prog.Stmts = append(prog.Stmts, Stmt{
			Line:    7,
			Assigns: []string{"y", "i"},
			Do: func(f *Frame) {
				y := math.Sin(float64(i) / 8)
				samples = append(samples, y)
				f.Set("y", y)
				f.Set("i", i)
			},
		})
	}
	prog.Stmts = append(prog.Stmts, Stmt{
		Line:    9,
		Assigns: []string{"buf"},
		Do: func(f *Frame) {
			buf := make([]float64, len(samples))
			copy(buf, samples)
			f.Set("buf", buf)
		},
	})

	targets := []target.Target{
		{Loc: target.Location{File: DemoFile, Line: 7, Col: 1}, Symbol: "y", Scope: "waves"},
		{Loc: target.Location{File: DemoFile, Line: 7, Col: 5}, Symbol: "i", Scope: "waves"},
		{Loc: target.Location{File: DemoFile, Line: 9, Col: 1}, Symbol: "buf", Scope: "waves"},
	}
	return prog, fr, targets
}

// Crash builds a workload that assigns once and panics on the next
// statement, exercising the scope-exit flush and fault path.
func Crash() (Program, *Frame, []target.Target) {
	fr := NewFrame("crash")

	prog := Program{
		File:  DemoFile,
		Scope: "crash",
		Stmts: []Stmt{
			{Line: 12, Assigns: []string{"v"}, Do: func(f *Frame) { f.Set("v", 42) }},
			{Line: 13, Do: func(f *Frame) { panic("demo crash") }},
		},
	}

	targets := []target.Target{
		{Loc: target.Location{File: DemoFile, Line: 12, Col: 1}, Symbol: "v", Scope: "crash"},
	}
	return prog, fr, targets
}

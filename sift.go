// Package sift implements path-sensitive static defect detection for Python
// sources. It models parsed source files as a normalized AST with per-function
// control flow graphs, builds a confidence-weighted call graph, matches
// structural defect patterns, and confirms path-dependent candidates by
// bounded symbolic execution with solver-backed feasibility checks.
package sift

import (
	"errors"
	"fmt"
)

var (
	ErrSolverTimeout       = errors.New("Solver timeout")
	ErrSolverCanceled      = errors.New("Solver canceled")
	ErrSolverResourceLimit = errors.New("Solver resource limit")
	ErrSolverUnknown       = errors.New("Solver unknown error")

	ErrNoStateAvailable = errors.New("No execution state available")
)

// Solver checks the satisfiability of a conjunction of boolean expressions.
// On a satisfiable result it returns a witness assigning a concrete value to
// every free symbol of the constraint set.
type Solver interface {
	Solve(constraints []Expr) (sat bool, witness Witness, err error)
}

// Witness is a model produced by a solver: symbol name to rendered value.
type Witness map[string]string

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}

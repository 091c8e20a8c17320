// Package z3 implements sift.Solver on top of the Z3 SMT solver through
// cgo. Constraints are encoded over the Int, Real, and Bool sorts; string
// symbols appear through their length abstraction only.
package z3

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/siftlang/sift"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
*/
import "C"

// Ensure solver implements interface.
var _ sift.Solver = (*Solver)(nil)

// Solver checks satisfiability with an embedded Z3 context. A Z3 context is
// not thread-safe, so queries are serialized.
type Solver struct {
	mu      sync.Mutex
	ctx     *Context
	timeout time.Duration
	stats   Stats
}

// NewSolver returns a solver with the given per-query timeout. A zero
// timeout disables the budget.
func NewSolver(timeout time.Duration) *Solver {
	return &Solver{
		ctx:     NewContext(),
		timeout: timeout,
	}
}

// Close deletes the underlying Z3 context.
func (s *Solver) Close() error {
	return s.ctx.Close()
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Solve checks the conjunction of constraints. On sat it returns a witness
// assigning every free symbol.
func (s *Solver) Solve(constraints []sift.Expr) (satisfiable bool, witness sift.Witness, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
	}()

	solver := C.Z3_mk_solver(s.ctx.raw)
	if err := s.ctx.err("Z3_mk_solver"); err != nil {
		return false, nil, err
	}
	C.Z3_solver_inc_ref(s.ctx.raw, solver)
	defer C.Z3_solver_dec_ref(s.ctx.raw, solver)

	if s.timeout > 0 {
		if err := s.ctx.setTimeout(solver, s.timeout); err != nil {
			return false, nil, err
		}
	}

	conv := newConverter(s.ctx)

	// Assert constraints.
	for _, constraint := range constraints {
		ast, err := conv.toAST(constraint)
		if err != nil {
			return false, nil, err
		}
		C.Z3_solver_assert(s.ctx.raw, solver, ast)
		if err := s.ctx.err("Z3_solver_assert"); err != nil {
			return false, nil, err
		}
	}

	// String lengths are non-negative.
	for _, ast := range conv.lengthAsserts {
		C.Z3_solver_assert(s.ctx.raw, solver, ast)
		if err := s.ctx.err("Z3_solver_assert[len]"); err != nil {
			return false, nil, err
		}
	}

	// Check equations with the solver.
	// Exit immediately if unsatisfiable or the solver encountered an error.
	ret := C.Z3_solver_check(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_check"); err != nil {
		return false, nil, err
	} else if ret == C.Z3_L_FALSE {
		return false, nil, nil
	} else if ret == C.Z3_L_UNDEF {
		reason := C.GoString(C.Z3_solver_get_reason_unknown(s.ctx.raw, solver))
		switch {
		case strings.Contains(reason, "timeout"):
			return false, nil, sift.ErrSolverTimeout
		case strings.Contains(reason, "canceled"):
			return false, nil, sift.ErrSolverCanceled
		case strings.Contains(reason, "(resource limits reached)"):
			return false, nil, sift.ErrSolverResourceLimit
		case strings.Contains(reason, "unknown"):
			return false, nil, sift.ErrSolverUnknown
		default:
			return false, nil, fmt.Errorf("z3: %s", reason)
		}
	} else if len(conv.vars) == 0 {
		return true, nil, nil // no symbols, ignore model
	}

	// Extract a witness from the model.
	model := C.Z3_solver_get_model(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_get_model"); err != nil {
		return true, nil, err
	}
	C.Z3_model_inc_ref(s.ctx.raw, model)
	defer C.Z3_model_dec_ref(s.ctx.raw, model)

	witness = make(sift.Witness, len(conv.vars))
	for name, v := range conv.vars {
		value, err := s.ctx.evalVar(model, v)
		if err != nil {
			return true, nil, err
		}
		witness[name] = value
	}
	return true, witness, nil
}

// Context represents a Z3 context object that is used for constructing
// expressions.
type Context struct {
	raw C.Z3_context
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{raw: raw}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return ctx.err("Z3_del_context")
}

// err returns the error for the last API call. Returns nil if last call was
// successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

// setTimeout applies the per-query budget to the solver.
func (ctx *Context) setTimeout(solver C.Z3_solver, timeout time.Duration) error {
	params := C.Z3_mk_params(ctx.raw)
	if err := ctx.err("Z3_mk_params"); err != nil {
		return err
	}
	C.Z3_params_inc_ref(ctx.raw, params)
	defer C.Z3_params_dec_ref(ctx.raw, params)

	cname := C.CString("timeout")
	defer C.free(unsafe.Pointer(cname))
	symbol := C.Z3_mk_string_symbol(ctx.raw, cname)
	C.Z3_params_set_uint(ctx.raw, params, symbol, C.uint(timeout.Milliseconds()))
	if err := ctx.err("Z3_params_set_uint"); err != nil {
		return err
	}

	C.Z3_solver_set_params(ctx.raw, solver, params)
	return ctx.err("Z3_solver_set_params")
}

// variable is one declared Z3 constant.
type variable struct {
	ast    C.Z3_ast
	isBool bool
	isReal bool
}

// converter lowers sift expressions into Z3 ASTs, declaring variables on
// first use.
type converter struct {
	ctx           *Context
	vars          map[string]*variable
	lengthAsserts []C.Z3_ast
}

func newConverter(ctx *Context) *converter {
	return &converter{ctx: ctx, vars: make(map[string]*variable)}
}

func (c *converter) toAST(expr sift.Expr) (C.Z3_ast, error) {
	switch expr := expr.(type) {
	case *sift.ConstantExpr:
		return c.toConstantAST(expr)
	case *sift.SymbolExpr:
		return c.toSymbolAST(expr)
	case *sift.BinaryExpr:
		return c.toBinaryAST(expr)
	case *sift.NotExpr:
		return c.toNotAST(expr)
	case *sift.NegExpr:
		return c.toNegAST(expr)
	case *sift.LenExpr:
		return c.toLenAST(expr)
	default:
		return nil, fmt.Errorf("z3.converter.toAST: invalid expression type: %T", expr)
	}
}

func (c *converter) toConstantAST(expr *sift.ConstantExpr) (C.Z3_ast, error) {
	switch expr.Typ {
	case sift.TypeBool:
		if expr.IsTrue() {
			return C.Z3_mk_true(c.ctx.raw), c.ctx.err("Z3_mk_true")
		}
		return C.Z3_mk_false(c.ctx.raw), c.ctx.err("Z3_mk_false")
	case sift.TypeInt:
		return c.makeInt64(expr.Int)
	case sift.TypeReal:
		return c.makeReal(expr.Real)
	default:
		return nil, fmt.Errorf("z3.converter.toConstantAST: invalid constant type: %s", expr.Typ)
	}
}

func (c *converter) toSymbolAST(expr *sift.SymbolExpr) (C.Z3_ast, error) {
	switch expr.Typ {
	case sift.TypeBool:
		return c.declare(expr.Name, true, false)
	case sift.TypeReal:
		return c.declare(expr.Name, false, true)
	case sift.TypeString:
		// A bare string symbol stands for its length.
		return c.declareLength(expr.Name)
	default:
		return c.declare(expr.Name, false, false)
	}
}

// declare returns the Z3 constant for name, creating it on first use.
func (c *converter) declare(name string, isBool, isReal bool) (C.Z3_ast, error) {
	if v, ok := c.vars[name]; ok {
		return v.ast, nil
	}

	var sort C.Z3_sort
	switch {
	case isBool:
		sort = C.Z3_mk_bool_sort(c.ctx.raw)
	case isReal:
		sort = C.Z3_mk_real_sort(c.ctx.raw)
	default:
		sort = C.Z3_mk_int_sort(c.ctx.raw)
	}
	if err := c.ctx.err("Z3_mk_sort"); err != nil {
		return nil, err
	}

	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	symbol := C.Z3_mk_string_symbol(c.ctx.raw, cname)
	ast := C.Z3_mk_const(c.ctx.raw, symbol, sort)
	if err := c.ctx.err("Z3_mk_const"); err != nil {
		return nil, err
	}

	c.vars[name] = &variable{ast: ast, isBool: isBool, isReal: isReal}
	return ast, nil
}

// declareLength returns the int constant standing in for the length of the
// string symbol name, asserting it non-negative.
func (c *converter) declareLength(name string) (C.Z3_ast, error) {
	lenName := sift.LenSymbolName(name)
	if v, ok := c.vars[lenName]; ok {
		return v.ast, nil
	}
	ast, err := c.declare(lenName, false, false)
	if err != nil {
		return nil, err
	}
	zero, err := c.makeInt64(0)
	if err != nil {
		return nil, err
	}
	nonneg := C.Z3_mk_ge(c.ctx.raw, ast, zero)
	if err := c.ctx.err("Z3_mk_ge"); err != nil {
		return nil, err
	}
	c.lengthAsserts = append(c.lengthAsserts, nonneg)
	return ast, nil
}

func (c *converter) toLenAST(expr *sift.LenExpr) (C.Z3_ast, error) {
	sym, ok := expr.Str.(*sift.SymbolExpr)
	if !ok {
		return nil, fmt.Errorf("z3.converter.toLenAST: length of non-symbol %s", expr.Str)
	}
	return c.declareLength(sym.Name)
}

func (c *converter) toNotAST(expr *sift.NotExpr) (C.Z3_ast, error) {
	src, err := c.toAST(expr.Expr)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_not(c.ctx.raw, src), c.ctx.err("Z3_mk_not")
}

func (c *converter) toNegAST(expr *sift.NegExpr) (C.Z3_ast, error) {
	src, err := c.toAST(expr.Expr)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_unary_minus(c.ctx.raw, src), c.ctx.err("Z3_mk_unary_minus")
}

func (c *converter) toBinaryAST(expr *sift.BinaryExpr) (C.Z3_ast, error) {
	lhs, err := c.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := c.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}

	// Promote mixed int/real operands; true division is always real.
	numeric := expr.Op.IsArithmetic() || (expr.Op.IsCompare() && expr.Op != sift.EQ && expr.Op != sift.NE)
	if numeric {
		wantReal := expr.Op == sift.DIV ||
			expr.LHS.Type() == sift.TypeReal || expr.RHS.Type() == sift.TypeReal
		if wantReal {
			if expr.LHS.Type() != sift.TypeReal {
				lhs = C.Z3_mk_int2real(c.ctx.raw, lhs)
				if err := c.ctx.err("Z3_mk_int2real"); err != nil {
					return nil, err
				}
			}
			if expr.RHS.Type() != sift.TypeReal {
				rhs = C.Z3_mk_int2real(c.ctx.raw, rhs)
				if err := c.ctx.err("Z3_mk_int2real"); err != nil {
					return nil, err
				}
			}
		}
	}

	switch expr.Op {
	case sift.ADD:
		args := [2]C.Z3_ast{lhs, rhs}
		return C.Z3_mk_add(c.ctx.raw, 2, &args[0]), c.ctx.err("Z3_mk_add")
	case sift.SUB:
		args := [2]C.Z3_ast{lhs, rhs}
		return C.Z3_mk_sub(c.ctx.raw, 2, &args[0]), c.ctx.err("Z3_mk_sub")
	case sift.MUL:
		args := [2]C.Z3_ast{lhs, rhs}
		return C.Z3_mk_mul(c.ctx.raw, 2, &args[0]), c.ctx.err("Z3_mk_mul")
	case sift.DIV, sift.FLOORDIV:
		return C.Z3_mk_div(c.ctx.raw, lhs, rhs), c.ctx.err("Z3_mk_div")
	case sift.MOD:
		return C.Z3_mk_mod(c.ctx.raw, lhs, rhs), c.ctx.err("Z3_mk_mod")
	case sift.EQ:
		if expr.LHS.Type() == sift.TypeBool {
			return C.Z3_mk_iff(c.ctx.raw, lhs, rhs), c.ctx.err("Z3_mk_iff")
		}
		return C.Z3_mk_eq(c.ctx.raw, lhs, rhs), c.ctx.err("Z3_mk_eq")
	case sift.LT:
		return C.Z3_mk_lt(c.ctx.raw, lhs, rhs), c.ctx.err("Z3_mk_lt")
	case sift.LE:
		return C.Z3_mk_le(c.ctx.raw, lhs, rhs), c.ctx.err("Z3_mk_le")
	case sift.GT:
		return C.Z3_mk_gt(c.ctx.raw, lhs, rhs), c.ctx.err("Z3_mk_gt")
	case sift.GE:
		return C.Z3_mk_ge(c.ctx.raw, lhs, rhs), c.ctx.err("Z3_mk_ge")
	case sift.AND:
		args := [2]C.Z3_ast{lhs, rhs}
		return C.Z3_mk_and(c.ctx.raw, 2, &args[0]), c.ctx.err("Z3_mk_and")
	case sift.OR:
		args := [2]C.Z3_ast{lhs, rhs}
		return C.Z3_mk_or(c.ctx.raw, 2, &args[0]), c.ctx.err("Z3_mk_or")
	default:
		return nil, fmt.Errorf("z3.converter.toBinaryAST: unexpected operation: %s", expr.Op)
	}
}

func (c *converter) makeInt64(value int64) (C.Z3_ast, error) {
	sort := C.Z3_mk_int_sort(c.ctx.raw)
	if err := c.ctx.err("Z3_mk_int_sort"); err != nil {
		return nil, err
	}
	return C.Z3_mk_int64(c.ctx.raw, C.int64_t(value), sort), c.ctx.err("Z3_mk_int64")
}

func (c *converter) makeReal(value float64) (C.Z3_ast, error) {
	sort := C.Z3_mk_real_sort(c.ctx.raw)
	if err := c.ctx.err("Z3_mk_real_sort"); err != nil {
		return nil, err
	}
	repr := fmt.Sprintf("%v", value)
	cstr := C.CString(repr)
	defer C.free(unsafe.Pointer(cstr))
	return C.Z3_mk_numeral(c.ctx.raw, cstr, sort), c.ctx.err("Z3_mk_numeral")
}

// evalVar renders one variable's model value.
func (ctx *Context) evalVar(model C.Z3_model, v *variable) (string, error) {
	var out C.Z3_ast
	C.Z3_model_eval(ctx.raw, model, v.ast, C.bool(true), &out)
	if err := ctx.err("Z3_model_eval"); err != nil {
		return "", err
	}

	if v.isBool {
		switch C.Z3_get_bool_value(ctx.raw, out) {
		case C.Z3_L_TRUE:
			return "true", nil
		case C.Z3_L_FALSE:
			return "false", nil
		default:
			return "", fmt.Errorf("z3: boolean model value undefined")
		}
	}
	if v.isReal {
		return C.GoString(C.Z3_get_numeral_decimal_string(ctx.raw, out, 6)), ctx.err("Z3_get_numeral_decimal_string")
	}
	return C.GoString(C.Z3_get_numeral_string(ctx.raw, out)), ctx.err("Z3_get_numeral_string")
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Stats records aggregate solve counts and time.
type Stats struct {
	SolveN    int
	SolveTime time.Duration
}

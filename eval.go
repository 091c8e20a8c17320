package sift

import (
	"fmt"
	"math"
	"strconv"
)

// LenSymbolName returns the name of the int variable standing in for the
// length of the string symbol name. Solvers declare string symbols through
// this variable.
func LenSymbolName(name string) string { return name + "#len" }

// ExprEvaluator evaluates expressions under a concrete assignment. Numeric
// values are carried as float64; booleans as 0/1. The length of a string
// symbol s is read from the assignment under LenSymbolName(s).
type ExprEvaluator struct {
	env map[string]float64
}

// NewExprEvaluator returns an evaluator over the given assignment.
func NewExprEvaluator(env map[string]float64) *ExprEvaluator {
	return &ExprEvaluator{env: env}
}

// Evaluate returns the concrete value of expr.
func (ev *ExprEvaluator) Evaluate(expr Expr) (float64, error) {
	switch expr := expr.(type) {
	case *ConstantExpr:
		switch expr.Typ {
		case TypeInt, TypeBool:
			return float64(expr.Int), nil
		case TypeReal:
			return expr.Real, nil
		case TypeString:
			return 0, fmt.Errorf("cannot evaluate string constant %s", expr)
		default:
			return 0, fmt.Errorf("cannot evaluate constant of type %s", expr.Typ)
		}

	case *SymbolExpr:
		if expr.Typ == TypeString {
			return 0, fmt.Errorf("cannot evaluate string symbol %q", expr.Name)
		}
		v, ok := ev.env[expr.Name]
		if !ok {
			return 0, fmt.Errorf("unbound symbol %q", expr.Name)
		}
		return v, nil

	case *BinaryExpr:
		lhs, err := ev.Evaluate(expr.LHS)
		if err != nil {
			return 0, err
		}
		rhs, err := ev.Evaluate(expr.RHS)
		if err != nil {
			return 0, err
		}
		return evalBinary(expr.Op, lhs, rhs)

	case *NotExpr:
		v, err := ev.Evaluate(expr.Expr)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			return 1, nil
		}
		return 0, nil

	case *NegExpr:
		v, err := ev.Evaluate(expr.Expr)
		if err != nil {
			return 0, err
		}
		return -v, nil

	case *LenExpr:
		sym, ok := expr.Str.(*SymbolExpr)
		if !ok {
			return 0, fmt.Errorf("cannot evaluate length of %s", expr.Str)
		}
		v, ok := ev.env[LenSymbolName(sym.Name)]
		if !ok {
			return 0, fmt.Errorf("unbound length symbol %q", sym.Name)
		}
		return v, nil

	default:
		panic("unreachable")
	}
}

// Holds returns true if every constraint evaluates to true.
func (ev *ExprEvaluator) Holds(constraints []Expr) (bool, error) {
	for _, c := range constraints {
		v, err := ev.Evaluate(c)
		if err != nil {
			return false, err
		}
		if v == 0 {
			return false, nil
		}
	}
	return true, nil
}

func evalBinary(op BinaryOp, lhs, rhs float64) (float64, error) {
	switch op {
	case ADD:
		return lhs + rhs, nil
	case SUB:
		return lhs - rhs, nil
	case MUL:
		return lhs * rhs, nil
	case DIV:
		if rhs == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return lhs / rhs, nil
	case FLOORDIV:
		if rhs == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return math.Floor(lhs / rhs), nil
	case MOD:
		if rhs == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return math.Mod(lhs, rhs), nil
	case EQ:
		return b2f(lhs == rhs), nil
	case LT:
		return b2f(lhs < rhs), nil
	case LE:
		return b2f(lhs <= rhs), nil
	case GT:
		return b2f(lhs > rhs), nil
	case GE:
		return b2f(lhs >= rhs), nil
	case NE:
		return b2f(lhs != rhs), nil
	case AND:
		return b2f(lhs != 0 && rhs != 0), nil
	case OR:
		return b2f(lhs != 0 || rhs != 0), nil
	default:
		return 0, fmt.Errorf("cannot evaluate op %s", op)
	}
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// CheckWitness verifies that the witness satisfies every constraint. Witness
// values "true" and "false" parse as 1 and 0.
func CheckWitness(constraints []Expr, witness Witness) (bool, error) {
	env := make(map[string]float64, len(witness))
	for name, value := range witness {
		switch value {
		case "true":
			env[name] = 1
		case "false":
			env[name] = 0
		default:
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return false, fmt.Errorf("witness value %q for %q: %w", value, name, err)
			}
			env[name] = v
		}
	}
	return NewExprEvaluator(env).Holds(constraints)
}

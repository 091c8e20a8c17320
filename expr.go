package sift

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Type is the coarse type tag carried by every symbolic expression.
type Type int

const (
	TypeUnknown = Type(iota)
	TypeInt
	TypeReal
	TypeBool
	TypeString
)

var typeNames = [...]string{
	TypeUnknown: "unknown",
	TypeInt:     "int",
	TypeReal:    "real",
	TypeBool:    "bool",
	TypeString:  "string",
}

// String returns the string representation of the type.
func (t Type) String() string {
	if t >= 0 && t < Type(len(typeNames)) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type<%d>", int(t))
}

// IsNumeric returns true for the int and real types.
func (t Type) IsNumeric() bool { return t == TypeInt || t == TypeReal }

// Expr represents an immutable symbolic expression.
type Expr interface {
	expr()
	Type() Type
	String() string
}

func (*ConstantExpr) expr() {}
func (*SymbolExpr) expr()   {}
func (*BinaryExpr) expr()   {}
func (*NotExpr) expr()      {}
func (*NegExpr) expr()      {}
func (*LenExpr) expr()      {}

// BinaryOp represents a binary expression operation.
type BinaryOp int

// BinaryExpr operations.
const (
	arithmetic_op_begin = BinaryOp(iota)
	ADD
	SUB
	MUL
	DIV
	FLOORDIV
	MOD
	arithmetic_op_end

	compare_op_begin
	EQ
	NE
	LT
	LE
	GT
	GE
	compare_op_end

	logical_op_begin
	AND
	OR
	logical_op_end
)

var binaryOps = [...]string{
	ADD:      "add",
	SUB:      "sub",
	MUL:      "mul",
	DIV:      "div",
	FLOORDIV: "floordiv",
	MOD:      "mod",
	EQ:       "eq",
	NE:       "ne",
	LT:       "lt",
	LE:       "le",
	GT:       "gt",
	GE:       "ge",
	AND:      "and",
	OR:       "or",
}

// String returns the string representation of the operation.
func (op BinaryOp) String() string {
	if op >= 0 && op < BinaryOp(len(binaryOps)) && binaryOps[op] != "" {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", int(op))
}

// IsArithmetic returns true if op is an arithmetic operator.
func (op BinaryOp) IsArithmetic() bool {
	return op > arithmetic_op_begin && op < arithmetic_op_end
}

// IsCompare returns true if op is a comparison operator.
func (op BinaryOp) IsCompare() bool {
	return op > compare_op_begin && op < compare_op_end
}

// IsLogical returns true if op is a logical connective.
func (op BinaryOp) IsLogical() bool {
	return op > logical_op_begin && op < logical_op_end
}

// ConstantExpr represents a literal value.
type ConstantExpr struct {
	Typ  Type
	Int  int64   // int & bool (0/1) values
	Real float64 // real values
	Str  string  // string values
}

// NewConstantInt returns a constant int expression.
func NewConstantInt(value int64) *ConstantExpr {
	return &ConstantExpr{Typ: TypeInt, Int: value}
}

// NewConstantReal returns a constant real expression.
func NewConstantReal(value float64) *ConstantExpr {
	return &ConstantExpr{Typ: TypeReal, Real: value}
}

// NewConstantBool returns a constant bool expression.
func NewConstantBool(value bool) *ConstantExpr {
	e := &ConstantExpr{Typ: TypeBool}
	if value {
		e.Int = 1
	}
	return e
}

// NewConstantString returns a constant string expression.
func NewConstantString(value string) *ConstantExpr {
	return &ConstantExpr{Typ: TypeString, Str: value}
}

// Type returns the type tag of the constant.
func (e *ConstantExpr) Type() Type { return e.Typ }

// IsTrue returns true if e is the boolean constant true.
func (e *ConstantExpr) IsTrue() bool { return e.Typ == TypeBool && e.Int != 0 }

// IsFalse returns true if e is the boolean constant false.
func (e *ConstantExpr) IsFalse() bool { return e.Typ == TypeBool && e.Int == 0 }

// IsZero returns true if e is a numeric zero.
func (e *ConstantExpr) IsZero() bool {
	switch e.Typ {
	case TypeInt:
		return e.Int == 0
	case TypeReal:
		return e.Real == 0
	default:
		return false
	}
}

// String returns the string representation of the constant.
func (e *ConstantExpr) String() string {
	switch e.Typ {
	case TypeInt:
		return strconv.FormatInt(e.Int, 10)
	case TypeReal:
		return strconv.FormatFloat(e.Real, 'g', -1, 64)
	case TypeBool:
		if e.Int != 0 {
			return "true"
		}
		return "false"
	case TypeString:
		return strconv.Quote(e.Str)
	default:
		return "<unknown>"
	}
}

// real returns the constant as a float64 regardless of numeric type.
func (e *ConstantExpr) real() float64 {
	if e.Typ == TypeReal {
		return e.Real
	}
	return float64(e.Int)
}

// SymbolExpr represents a free symbolic variable.
type SymbolExpr struct {
	Name string
	Typ  Type
}

// NewSymbolExpr returns a new symbol with the given name and type.
func NewSymbolExpr(name string, typ Type) *SymbolExpr {
	return &SymbolExpr{Name: name, Typ: typ}
}

// Type returns the type tag of the symbol.
func (e *SymbolExpr) Type() Type { return e.Typ }

// String returns the string representation of the symbol.
func (e *SymbolExpr) String() string { return e.Name }

// BinaryExpr represents an operation on two expressions.
type BinaryExpr struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

// Type returns bool for comparisons and connectives, and the promoted
// numeric type for arithmetic.
func (e *BinaryExpr) Type() Type {
	if e.Op.IsCompare() || e.Op.IsLogical() {
		return TypeBool
	}
	if e.Op == DIV {
		return TypeReal
	}
	lhs, rhs := e.LHS.Type(), e.RHS.Type()
	if lhs == TypeReal || rhs == TypeReal {
		return TypeReal
	}
	if lhs == TypeInt && rhs == TypeInt {
		return TypeInt
	}
	return TypeUnknown
}

// String returns the string representation of the expression.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS)
}

// NewBinaryExpr returns an expression for op over lhs & rhs, folding
// constants and normalizing where possible.
func NewBinaryExpr(op BinaryOp, lhs, rhs Expr) Expr {
	switch op {
	// Arithmetic operators
	case ADD:
		return newAddExpr(lhs, rhs)
	case SUB:
		return newSubExpr(lhs, rhs)
	case MUL:
		return newMulExpr(lhs, rhs)
	case DIV, FLOORDIV:
		return newDivExpr(op, lhs, rhs)
	case MOD:
		return newModExpr(lhs, rhs)

	// Comparison operators
	case EQ:
		return newEqExpr(lhs, rhs)
	case NE:
		return NewNotExpr(newEqExpr(lhs, rhs))
	case LT:
		return newLtExpr(lhs, rhs)
	case GT:
		return newLtExpr(rhs, lhs) // reverse
	case LE:
		return newLeExpr(lhs, rhs)
	case GE:
		return newLeExpr(rhs, lhs) // reverse

	// Logical connectives
	case AND:
		return newAndExpr(lhs, rhs)
	case OR:
		return newOrExpr(lhs, rhs)

	default:
		panic("unreachable")
	}
}

// newAddExpr returns the expression representing the sum of lhs & rhs.
func newAddExpr(lhs, rhs Expr) Expr {
	// Move constant expression to left hand side.
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if lhs.IsZero() && rhs.Type() == lhs.Typ {
			return rhs
		} else if rhs, ok := rhs.(*ConstantExpr); ok {
			return foldArith(ADD, lhs, rhs)
		}
	}
	return &BinaryExpr{Op: ADD, LHS: lhs, RHS: rhs}
}

// newSubExpr returns an expression representing the difference of lhs & rhs.
func newSubExpr(lhs, rhs Expr) Expr {
	// Subtracting a value from itself is zero.
	if CompareExpr(lhs, rhs) == 0 {
		if lhs.Type() == TypeReal {
			return NewConstantReal(0)
		}
		return NewConstantInt(0)
	}

	if rhs, ok := rhs.(*ConstantExpr); ok {
		if rhs.IsZero() && lhs.Type() == rhs.Typ {
			return lhs
		} else if lhs, ok := lhs.(*ConstantExpr); ok {
			return foldArith(SUB, lhs, rhs)
		}
	}
	return &BinaryExpr{Op: SUB, LHS: lhs, RHS: rhs}
}

// newMulExpr returns an expression representing the product of lhs & rhs.
func newMulExpr(lhs, rhs Expr) Expr {
	// Move constant expression to left hand side.
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if lhs.IsZero() {
			return lhs
		} else if lhs.Typ == TypeInt && lhs.Int == 1 && rhs.Type() == TypeInt {
			return rhs
		} else if rhs, ok := rhs.(*ConstantExpr); ok {
			return foldArith(MUL, lhs, rhs)
		}
	}
	return &BinaryExpr{Op: MUL, LHS: lhs, RHS: rhs}
}

// newDivExpr returns an expression representing the quotient of lhs & rhs.
// Division by a constant zero is never folded away; the expression is kept
// so the feasibility check can observe the divisor.
func newDivExpr(op BinaryOp, lhs, rhs Expr) Expr {
	if rhs, ok := rhs.(*ConstantExpr); ok && !rhs.IsZero() {
		if op == FLOORDIV && rhs.Typ == TypeInt && rhs.Int == 1 && lhs.Type() == TypeInt {
			return lhs
		}
		if lhs, ok := lhs.(*ConstantExpr); ok {
			return foldArith(op, lhs, rhs)
		}
	}
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// newModExpr returns an expression representing lhs modulo rhs.
func newModExpr(lhs, rhs Expr) Expr {
	if rhs, ok := rhs.(*ConstantExpr); ok && rhs.Typ == TypeInt && rhs.Int != 0 {
		if lhs, ok := lhs.(*ConstantExpr); ok && lhs.Typ == TypeInt {
			return NewConstantInt(lhs.Int % rhs.Int)
		}
	}
	return &BinaryExpr{Op: MOD, LHS: lhs, RHS: rhs}
}

// newEqExpr returns an expression representing lhs == rhs.
func newEqExpr(lhs, rhs Expr) Expr {
	if CompareExpr(lhs, rhs) == 0 {
		return NewConstantBool(true)
	}
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return foldCompare(EQ, lhs, rhs)
		}
	}
	// Move constant expression to left hand side.
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}
	return &BinaryExpr{Op: EQ, LHS: lhs, RHS: rhs}
}

// newLtExpr returns an expression representing lhs < rhs.
func newLtExpr(lhs, rhs Expr) Expr {
	if CompareExpr(lhs, rhs) == 0 {
		return NewConstantBool(false)
	}
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return foldCompare(LT, lhs, rhs)
		}
	}
	return &BinaryExpr{Op: LT, LHS: lhs, RHS: rhs}
}

// newLeExpr returns an expression representing lhs <= rhs.
func newLeExpr(lhs, rhs Expr) Expr {
	if CompareExpr(lhs, rhs) == 0 {
		return NewConstantBool(true)
	}
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return foldCompare(LE, lhs, rhs)
		}
	}
	return &BinaryExpr{Op: LE, LHS: lhs, RHS: rhs}
}

// newAndExpr returns an expression representing lhs && rhs.
func newAndExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok && lhs.Typ == TypeBool {
		if lhs.IsFalse() {
			return lhs
		}
		return rhs
	}
	if rhs, ok := rhs.(*ConstantExpr); ok && rhs.Typ == TypeBool {
		if rhs.IsFalse() {
			return rhs
		}
		return lhs
	}
	return &BinaryExpr{Op: AND, LHS: lhs, RHS: rhs}
}

// newOrExpr returns an expression representing lhs || rhs.
func newOrExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok && lhs.Typ == TypeBool {
		if lhs.IsTrue() {
			return lhs
		}
		return rhs
	}
	if rhs, ok := rhs.(*ConstantExpr); ok && rhs.Typ == TypeBool {
		if rhs.IsTrue() {
			return rhs
		}
		return lhs
	}
	return &BinaryExpr{Op: OR, LHS: lhs, RHS: rhs}
}

// foldArith folds an arithmetic operation over two constants.
func foldArith(op BinaryOp, lhs, rhs *ConstantExpr) Expr {
	if lhs.Typ == TypeInt && rhs.Typ == TypeInt && op != DIV {
		switch op {
		case ADD:
			return NewConstantInt(lhs.Int + rhs.Int)
		case SUB:
			return NewConstantInt(lhs.Int - rhs.Int)
		case MUL:
			return NewConstantInt(lhs.Int * rhs.Int)
		case FLOORDIV:
			return NewConstantInt(floorDiv(lhs.Int, rhs.Int))
		}
	}
	x, y := lhs.real(), rhs.real()
	switch op {
	case ADD:
		return NewConstantReal(x + y)
	case SUB:
		return NewConstantReal(x - y)
	case MUL:
		return NewConstantReal(x * y)
	case DIV, FLOORDIV:
		return NewConstantReal(x / y)
	default:
		panic("unreachable")
	}
}

// foldCompare folds a comparison over two constants of comparable type.
func foldCompare(op BinaryOp, lhs, rhs *ConstantExpr) Expr {
	if lhs.Typ == TypeString || rhs.Typ == TypeString {
		if lhs.Typ == rhs.Typ {
			switch op {
			case EQ:
				return NewConstantBool(lhs.Str == rhs.Str)
			case LT:
				return NewConstantBool(lhs.Str < rhs.Str)
			case LE:
				return NewConstantBool(lhs.Str <= rhs.Str)
			}
		}
		return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
	}
	x, y := lhs.real(), rhs.real()
	switch op {
	case EQ:
		return NewConstantBool(x == y)
	case LT:
		return NewConstantBool(x < y)
	case LE:
		return NewConstantBool(x <= y)
	default:
		panic("unreachable")
	}
}

// floorDiv implements Python floor division for ints.
func floorDiv(x, y int64) int64 {
	q := x / y
	if (x%y != 0) && ((x < 0) != (y < 0)) {
		q--
	}
	return q
}

// NotExpr represents the logical negation of a boolean expression.
type NotExpr struct {
	Expr Expr
}

// NewNotExpr returns an expression representing !x.
func NewNotExpr(x Expr) Expr {
	switch x := x.(type) {
	case *ConstantExpr:
		if x.Typ == TypeBool {
			return NewConstantBool(x.Int == 0)
		}
	case *NotExpr:
		return x.Expr
	}
	return &NotExpr{Expr: x}
}

// Type returns bool.
func (e *NotExpr) Type() Type { return TypeBool }

// String returns the string representation of the expression.
func (e *NotExpr) String() string { return fmt.Sprintf("(not %s)", e.Expr) }

// NegExpr represents arithmetic negation of a numeric expression.
type NegExpr struct {
	Expr Expr
}

// NewNegExpr returns an expression representing -x.
func NewNegExpr(x Expr) Expr {
	switch x := x.(type) {
	case *ConstantExpr:
		switch x.Typ {
		case TypeInt:
			return NewConstantInt(-x.Int)
		case TypeReal:
			return NewConstantReal(-x.Real)
		}
	case *NegExpr:
		return x.Expr
	}
	return &NegExpr{Expr: x}
}

// Type returns the type of the negated expression.
func (e *NegExpr) Type() Type { return e.Expr.Type() }

// String returns the string representation of the expression.
func (e *NegExpr) String() string { return fmt.Sprintf("(neg %s)", e.Expr) }

// LenExpr abstracts a string value by its length. Its operand is a
// string-typed expression; the result is a non-negative int.
type LenExpr struct {
	Str Expr
}

// NewLenExpr returns an int expression for the length of str. Lengths of
// string constants fold immediately.
func NewLenExpr(str Expr) Expr {
	if str, ok := str.(*ConstantExpr); ok && str.Typ == TypeString {
		return NewConstantInt(int64(len(str.Str)))
	}
	return &LenExpr{Str: str}
}

// Type returns int.
func (e *LenExpr) Type() Type { return TypeInt }

// String returns the string representation of the expression.
func (e *LenExpr) String() string { return fmt.Sprintf("(len %s)", e.Str) }

// IsConstantExpr returns true if expr is a constant.
func IsConstantExpr(expr Expr) bool {
	_, ok := expr.(*ConstantExpr)
	return ok
}

// IsConstTrue returns true if expr is the boolean constant true.
func IsConstTrue(expr Expr) bool {
	c, ok := expr.(*ConstantExpr)
	return ok && c.IsTrue()
}

// IsConstFalse returns true if expr is the boolean constant false.
func IsConstFalse(expr Expr) bool {
	c, ok := expr.(*ConstantExpr)
	return ok && c.IsFalse()
}

// CompareExpr performs a structural comparison of two expressions and
// returns -1, 0, or +1.
func CompareExpr(a, b Expr) int {
	if cmp := strings.Compare(exprKind(a), exprKind(b)); cmp != 0 {
		return cmp
	}
	switch a := a.(type) {
	case *ConstantExpr:
		b := b.(*ConstantExpr)
		if cmp := compareInt(int(a.Typ), int(b.Typ)); cmp != 0 {
			return cmp
		}
		if a.Typ == TypeString {
			return strings.Compare(a.Str, b.Str)
		}
		if a.real() < b.real() {
			return -1
		} else if a.real() > b.real() {
			return 1
		}
		return 0
	case *SymbolExpr:
		b := b.(*SymbolExpr)
		if cmp := strings.Compare(a.Name, b.Name); cmp != 0 {
			return cmp
		}
		return compareInt(int(a.Typ), int(b.Typ))
	case *BinaryExpr:
		b := b.(*BinaryExpr)
		if cmp := compareInt(int(a.Op), int(b.Op)); cmp != 0 {
			return cmp
		}
		if cmp := CompareExpr(a.LHS, b.LHS); cmp != 0 {
			return cmp
		}
		return CompareExpr(a.RHS, b.RHS)
	case *NotExpr:
		return CompareExpr(a.Expr, b.(*NotExpr).Expr)
	case *NegExpr:
		return CompareExpr(a.Expr, b.(*NegExpr).Expr)
	case *LenExpr:
		return CompareExpr(a.Str, b.(*LenExpr).Str)
	default:
		panic("unreachable")
	}
}

func exprKind(e Expr) string {
	switch e.(type) {
	case *ConstantExpr:
		return "constant"
	case *SymbolExpr:
		return "symbol"
	case *BinaryExpr:
		return "binary"
	case *NotExpr:
		return "not"
	case *NegExpr:
		return "neg"
	case *LenExpr:
		return "len"
	default:
		panic("unreachable")
	}
}

func compareInt(a, b int) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// FindSymbols returns the free symbols of exprs, deduplicated and sorted by
// name.
func FindSymbols(exprs ...Expr) []*SymbolExpr {
	m := make(map[string]*SymbolExpr)
	for _, expr := range exprs {
		findSymbols(expr, m)
	}
	a := make([]*SymbolExpr, 0, len(m))
	for _, sym := range m {
		a = append(a, sym)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Name < a[j].Name })
	return a
}

func findSymbols(expr Expr, m map[string]*SymbolExpr) {
	switch expr := expr.(type) {
	case *ConstantExpr:
	case *SymbolExpr:
		m[expr.Name] = expr
	case *BinaryExpr:
		findSymbols(expr.LHS, m)
		findSymbols(expr.RHS, m)
	case *NotExpr:
		findSymbols(expr.Expr, m)
	case *NegExpr:
		findSymbols(expr.Expr, m)
	case *LenExpr:
		findSymbols(expr.Str, m)
	default:
		panic("unreachable")
	}
}

// SubstituteExpr returns expr with every symbol found in m replaced by its
// mapped expression. Substitution re-runs the folding constructors.
func SubstituteExpr(expr Expr, m map[string]Expr) Expr {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr
	case *SymbolExpr:
		if e, ok := m[expr.Name]; ok {
			return e
		}
		return expr
	case *BinaryExpr:
		return NewBinaryExpr(expr.Op, SubstituteExpr(expr.LHS, m), SubstituteExpr(expr.RHS, m))
	case *NotExpr:
		return NewNotExpr(SubstituteExpr(expr.Expr, m))
	case *NegExpr:
		return NewNegExpr(SubstituteExpr(expr.Expr, m))
	case *LenExpr:
		return NewLenExpr(SubstituteExpr(expr.Str, m))
	default:
		panic("unreachable")
	}
}

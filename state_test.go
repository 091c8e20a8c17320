package sift_test

import (
	"reflect"
	"testing"

	"github.com/siftlang/sift"
)

func TestState_ParamsBound(t *testing.T) {
	fn := fnByName(t, `
def f(a, b):
    return a + b
`, "f")

	s := sift.NewState(fn)
	if got, exp := s.BindingNames(), []string{"a", "b"}; !reflect.DeepEqual(got, exp) {
		t.Fatalf("bindings=%v, expected %v", got, exp)
	}
	v, ok := s.Lookup("a")
	if !ok {
		t.Fatal("expected binding for a")
	}
	sym, ok := v.(*sift.SymbolExpr)
	if !ok {
		t.Fatalf("expected symbol, got %T", v)
	} else if got, exp := sym.Name, "a"; got != exp {
		t.Fatalf("name=%s, expected %s", got, exp)
	}
}

func TestState_ForkIsolation(t *testing.T) {
	fn := fnByName(t, `
def f(x):
    return x
`, "f")

	s := sift.NewState(fn)
	x, _ := s.Lookup("x")

	fork := s.Fork(sift.NewBinaryExpr(sift.GT, x, sift.NewConstantInt(0)))
	fork.Bind("y", sift.NewConstantInt(1))

	if got, exp := len(s.Constraints()), 0; got != exp {
		t.Fatalf("parent constraints=%d, expected %d", got, exp)
	}
	if got, exp := len(fork.Constraints()), 1; got != exp {
		t.Fatalf("fork constraints=%d, expected %d", got, exp)
	}
	if _, ok := s.Lookup("y"); ok {
		t.Fatal("fork binding leaked into parent")
	}
}

func TestState_AddConstraintSplitsConjunctions(t *testing.T) {
	fn := fnByName(t, `
def f(x, y):
    return x
`, "f")

	s := sift.NewState(fn)
	x, _ := s.Lookup("x")
	y, _ := s.Lookup("y")

	s.AddConstraint(sift.NewBinaryExpr(sift.AND,
		sift.NewBinaryExpr(sift.GT, x, sift.NewConstantInt(0)),
		sift.NewBinaryExpr(sift.LT, y, sift.NewConstantInt(9))))

	if got, exp := len(s.Constraints()), 2; got != exp {
		t.Fatalf("constraints=%d, expected %d", got, exp)
	}

	// Constant-true conjuncts vanish.
	s.AddConstraint(sift.NewConstantBool(true))
	if got, exp := len(s.Constraints()), 2; got != exp {
		t.Fatalf("constraints=%d, expected %d", got, exp)
	}
}

func TestState_HavocNames(t *testing.T) {
	fn := fnByName(t, `
def f(i):
    return i
`, "f")

	s := sift.NewState(fn)
	before, _ := s.Lookup("i")
	s.HavocNames([]string{"i"})
	after, _ := s.Lookup("i")

	if before == after {
		t.Fatal("havoc should rebind to a fresh symbol")
	}
	if !s.Incomplete() {
		t.Fatal("havoc should mark the state incomplete")
	}
}

func TestState_FreshSymbolsUniqueAcrossForks(t *testing.T) {
	fn := fnByName(t, `
def f(x):
    return x
`, "f")

	s := sift.NewState(fn)
	fork := s.Fork(nil)

	a := s.FreshSymbol("v", sift.TypeInt)
	b := fork.FreshSymbol("v", sift.TypeInt)
	if a.Name == b.Name {
		t.Fatalf("fresh symbols collide: %s", a.Name)
	}
}

func TestState_PathSignature(t *testing.T) {
	fn := fnByName(t, `
def f(x):
    return x
`, "f")

	s := sift.NewState(fn)
	if got, exp := s.PathSignature(), ""; got != exp {
		t.Fatalf("signature=%q, expected %q", got, exp)
	}

	x, _ := s.Lookup("x")
	s.AddConstraint(sift.NewBinaryExpr(sift.GT, x, sift.NewConstantInt(0)))
	fork := s.Fork(sift.NewBinaryExpr(sift.LT, x, sift.NewConstantInt(9)))

	if s.PathSignature() == fork.PathSignature() {
		t.Fatal("different paths should have different signatures")
	}
	if got, exp := fork.PathSignature(), s.Fork(sift.NewBinaryExpr(sift.LT, x, sift.NewConstantInt(9))).PathSignature(); got != exp {
		t.Fatalf("signature not stable: %q vs %q", got, exp)
	}
}

func TestState_Writes(t *testing.T) {
	fn := fnByName(t, `
def f(obj):
    return obj
`, "f")

	s := sift.NewState(fn)
	if s.Writes() != nil {
		t.Fatal("expected no writes")
	}
	s.RecordWrite("obj")
	s.RecordWrite("other")
	s.RecordWrite("obj")
	if got, exp := s.Writes(), []string{"obj", "other"}; !reflect.DeepEqual(got, exp) {
		t.Fatalf("writes=%v, expected %v", got, exp)
	}
}

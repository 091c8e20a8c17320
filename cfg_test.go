package sift_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/siftlang/sift"
)

func fnByName(t *testing.T, src, name string) *sift.FunctionDef {
	t.Helper()
	fn := parseUnit(t, src).FunctionByName(name)
	if fn == nil {
		t.Fatalf("function %s not found", name)
	}
	return fn
}

func TestBuildCFG_If(t *testing.T) {
	fn := fnByName(t, `
def f(x):
    if x > 0:
        x = 1
    return x
`, "f")

	entry := fn.CFG.Entry
	if !entry.IsBranch() {
		t.Fatalf("entry should branch: %s", fn.CFG)
	}
	if entry.Cond == nil {
		t.Fatal("branch should carry its condition")
	}
	thenBlk := entry.Succ(sift.EdgeTrue)
	join := entry.Succ(sift.EdgeFalse)
	if thenBlk == nil || join == nil {
		t.Fatalf("expected both branch edges: %s", fn.CFG)
	}
	// The then block falls through to the join.
	if got := thenBlk.Succ(sift.EdgeNext); got != join {
		t.Fatalf("then should join at b%d: %s", join.Index, fn.CFG)
	}
}

func TestBuildCFG_While(t *testing.T) {
	fn := fnByName(t, `
def f(n):
    i = 0
    total = 0
    while i < n:
        total += i
        i += 1
    return total
`, "f")

	entry := fn.CFG.Entry
	header := entry.Succ(sift.EdgeNext)
	if header == nil || header.Cond == nil {
		t.Fatalf("expected conditional loop header: %s", fn.CFG)
	}

	body := header.Succ(sift.EdgeTrue)
	if body == nil {
		t.Fatalf("expected loop body: %s", fn.CFG)
	}

	var back *sift.Edge
	for i := range body.Edges {
		if body.Edges[i].Back {
			back = &body.Edges[i]
		}
	}
	if back == nil {
		t.Fatalf("expected back edge: %s", fn.CFG)
	} else if back.To != header {
		t.Fatalf("back edge should target the header: %s", fn.CFG)
	}
	if diff := cmp.Diff([]string{"i", "total"}, back.Havoc); diff != "" {
		t.Fatalf("havoc mismatch (-exp +got):\n%s", diff)
	}
}

func TestBuildCFG_WhileTrue_NoExitEdge(t *testing.T) {
	fn := fnByName(t, `
def f():
    while True:
        pass
`, "f")

	header := fn.CFG.Entry.Succ(sift.EdgeNext)
	if header == nil {
		t.Fatalf("expected loop header: %s", fn.CFG)
	}
	if got := header.Succ(sift.EdgeFalse); got != nil {
		t.Fatalf("while True should have no exit edge: %s", fn.CFG)
	}
}

func TestBuildCFG_For_Nondeterministic(t *testing.T) {
	fn := fnByName(t, `
def f(items):
    for item in items:
        x = item
    return 0
`, "f")

	header := fn.CFG.Entry.Succ(sift.EdgeNext)
	if header == nil {
		t.Fatalf("expected loop header: %s", fn.CFG)
	}
	if header.Cond != nil {
		t.Fatal("for header should branch nondeterministically")
	}
	if header.Succ(sift.EdgeTrue) == nil || header.Succ(sift.EdgeFalse) == nil {
		t.Fatalf("expected iterate and exit edges: %s", fn.CFG)
	}

	// The body starts by binding the loop target to an opaque element.
	body := header.Succ(sift.EdgeTrue)
	if len(body.Stmts) == 0 {
		t.Fatalf("expected synthesized target binding: %s", fn.CFG)
	}
	assign, ok := body.Stmts[0].(*sift.AssignStmt)
	if !ok {
		t.Fatalf("expected assignment, got %T", body.Stmts[0])
	}
	if _, ok := assign.Value.(*sift.OpaqueExpr); !ok {
		t.Fatalf("expected opaque element, got %T", assign.Value)
	}
}

func TestBuildCFG_Break(t *testing.T) {
	fn := fnByName(t, `
def f(n):
    while n > 0:
        if n == 1:
            break
        n -= 1
    return n
`, "f")

	header := fn.CFG.Entry.Succ(sift.EdgeNext)
	exit := header.Succ(sift.EdgeFalse)
	body := header.Succ(sift.EdgeTrue)
	if body == nil || exit == nil {
		t.Fatalf("malformed loop: %s", fn.CFG)
	}
	// The break path inside the body reaches the loop exit directly.
	breakBlk := body.Succ(sift.EdgeTrue)
	if breakBlk == nil {
		t.Fatalf("expected break branch: %s", fn.CFG)
	}
	if got := breakBlk.Succ(sift.EdgeNext); got != exit {
		t.Fatalf("break should jump to the loop exit: %s", fn.CFG)
	}
}

func TestBuildCFG_Try(t *testing.T) {
	fn := fnByName(t, `
def f(x):
    try:
        y = 10 / x
    except Exception:
        y = 0
    return y
`, "f")

	entry := fn.CFG.Entry
	if entry.Succ(sift.EdgeExcept) == nil || entry.Succ(sift.EdgeNext) == nil {
		t.Fatalf("expected body and handler edges: %s", fn.CFG)
	}

	body := entry.Succ(sift.EdgeNext)
	handler := entry.Succ(sift.EdgeExcept)
	join := body.Succ(sift.EdgeNext)
	if join == nil || handler.Succ(sift.EdgeNext) != join {
		t.Fatalf("body and handler should join: %s", fn.CFG)
	}
}

func TestBuildCFG_TerminatedBranches(t *testing.T) {
	fn := fnByName(t, `
def f(x):
    if x > 0:
        return 1
    else:
        return -1
`, "f")

	// Both arms return; no join block receives an edge from them.
	entry := fn.CFG.Entry
	thenBlk := entry.Succ(sift.EdgeTrue)
	elseBlk := entry.Succ(sift.EdgeFalse)
	if len(thenBlk.Edges) != 0 || len(elseBlk.Edges) != 0 {
		t.Fatalf("terminated arms should have no successors: %s", fn.CFG)
	}
}

func TestCyclomaticComplexity(t *testing.T) {
	for _, tt := range []struct {
		src string
		exp int
	}{
		{`
def f():
    return 0
`, 1},
		{`
def f(x):
    if x > 0 and x < 10:
        return 1
    return 0
`, 3},
		{`
def f(items):
    for item in items:
        while item > 0:
            item -= 1
`, 3},
	} {
		fn := parseUnit(t, tt.src).FunctionByName("f")
		if got := fn.Complexity; got != tt.exp {
			t.Fatalf("complexity=%d, expected %d for %s", got, tt.exp, tt.src)
		}
	}
}

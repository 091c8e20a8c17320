package python_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"

	"github.com/siftlang/sift"
	"github.com/siftlang/sift/python"
)

func parseSource(t *testing.T, src string) *sift.ProgramUnit {
	t.Helper()
	unit, err := python.NewParser(nil).ParseSource(context.Background(), "m", "m.py", []byte(src))
	require.NoError(t, err)
	return unit
}

func TestParser_Function(t *testing.T) {
	unit := parseSource(t, `
def divide(a, b):
    return a / b
`)
	require.Len(t, unit.Functions, 1)

	fn := unit.Functions[0]
	assert.Equal(t, "divide", fn.Name)
	assert.Equal(t, "m.divide", fn.QualifiedName)
	assert.Equal(t, []string{"a", "b"}, fn.Params)
	assert.Equal(t, 2, fn.Line)
	require.NotNil(t, fn.CFG)
	assert.Equal(t, 1, fn.Complexity)

	require.Len(t, fn.Body, 1)
	ret, ok := fn.Body[0].(*sift.ReturnStmt)
	require.True(t, ok)
	div, ok := ret.Value.(*sift.BinExpr)
	require.True(t, ok)
	assert.Equal(t, sift.DIV, div.Op)
}

func TestParser_Method(t *testing.T) {
	unit := parseSource(t, `
class Account:
    def balance(self):
        return self.total
`)
	require.Len(t, unit.Functions, 1)
	fn := unit.Functions[0]
	assert.Equal(t, "balance", fn.Name)
	assert.Equal(t, "m.Account.balance", fn.QualifiedName)
	assert.Equal(t, "Account", fn.Class)
	assert.Equal(t, []string{"self"}, fn.Params)
}

func TestParser_ComparisonChain(t *testing.T) {
	unit := parseSource(t, `
def in_range(x):
    return 0 < x < 10
`)
	ret := unit.Functions[0].Body[0].(*sift.ReturnStmt)
	chain, ok := ret.Value.(*sift.BoolOpExpr)
	require.True(t, ok, "chain should normalize to a conjunction")
	assert.Equal(t, sift.AND, chain.Op)
	require.Len(t, chain.Values, 2)

	first := chain.Values[0].(*sift.BinExpr)
	second := chain.Values[1].(*sift.BinExpr)
	assert.Equal(t, sift.LT, first.Op)
	assert.Equal(t, sift.LT, second.Op)
}

func TestParser_ElifChain(t *testing.T) {
	unit := parseSource(t, `
def sign(x):
    if x > 0:
        return 1
    elif x < 0:
        return -1
    else:
        return 0
`)
	fn := unit.Functions[0]
	require.Len(t, fn.Body, 1)

	outer, ok := fn.Body[0].(*sift.IfStmt)
	require.True(t, ok)
	require.Len(t, outer.Else, 1)

	inner, ok := outer.Else[0].(*sift.IfStmt)
	require.True(t, ok, "elif should nest in else")
	require.Len(t, inner.Then, 1)
	require.Len(t, inner.Else, 1)
	assert.Equal(t, 3, fn.Complexity)
}

func TestParser_TupleAssignment(t *testing.T) {
	unit := parseSource(t, `
def swap(a, b):
    a, b = b, a
    return a
`)
	fn := unit.Functions[0]
	require.Len(t, fn.Body, 3)

	for _, stmt := range fn.Body[:2] {
		assign, ok := stmt.(*sift.AssignStmt)
		require.True(t, ok)
		_, ok = assign.Value.(*sift.OpaqueExpr)
		assert.True(t, ok, "tuple elements are opaque")
	}
}

func TestParser_Imports(t *testing.T) {
	unit := parseSource(t, `
import os.path
import json as j
from sys import argv, exit
`)
	require.Len(t, unit.Imports, 3)
	assert.Equal(t, []string{"os"}, unit.Imports[0].Names)
	assert.Equal(t, []string{"j"}, unit.Imports[1].Names)
	assert.Equal(t, []string{"argv", "exit"}, unit.Imports[2].Names)
}

func TestParser_FString(t *testing.T) {
	unit := parseSource(t, `
def greet(name):
    return f"hello {name}"
`)
	ret := unit.Functions[0].Body[0].(*sift.ReturnStmt)
	opaque, ok := ret.Value.(*sift.OpaqueExpr)
	require.True(t, ok)
	assert.Equal(t, "f-string", opaque.Reason)
}

func TestParser_StringLiteral(t *testing.T) {
	unit := parseSource(t, `
def token():
    return "secret"
`)
	ret := unit.Functions[0].Body[0].(*sift.ReturnStmt)
	c, ok := ret.Value.(*sift.ConstExpr)
	require.True(t, ok)
	assert.Equal(t, sift.ConstStr, c.Kind)
	assert.Equal(t, "secret", c.Str)
}

func TestParser_Scope(t *testing.T) {
	unit := parseSource(t, `
def f(a):
    total = 0
    for item in a:
        total += item
    return total
`)
	scope := unit.Functions[0].Scope
	assert.Equal(t, []string{"a", "item", "total"}, scope.Names())
}

func TestParser_SyntaxError(t *testing.T) {
	_, err := python.NewParser(nil).ParseSource(context.Background(), "m", "m.py", []byte("def f(:\n"))
	require.Error(t, err)
}

var fixture = txtar.Parse([]byte(`
-- pkg/good.py --
def f(x):
    return x + 1
-- pkg/bad.py --
def broken(:
-- pkg/sub/util.py --
def g():
    return 0
`))

func TestParser_ParseDir(t *testing.T) {
	dir := t.TempDir()
	for _, file := range fixture.Files {
		path := filepath.Join(dir, file.Name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, file.Data, 0o644))
	}

	units, skipped, err := python.NewParser(nil).ParseDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, units, 2)
	require.Len(t, skipped, 1)

	assert.Equal(t, "pkg.good", units[0].Module)
	assert.Equal(t, "pkg.sub.util", units[1].Module)
	assert.Contains(t, skipped[0].Path, "bad.py")
}

func TestModuleName(t *testing.T) {
	for _, tt := range []struct {
		root, path, want string
	}{
		{"", "app.py", "app"},
		{"/src", "/src/pkg/mod.py", "pkg.mod"},
		{"/src", "/src/pkg/__init__.py", "pkg"},
	} {
		assert.Equal(t, tt.want, python.ModuleName(tt.root, tt.path), tt.path)
	}
}

package sift

import "sort"

// ProgramUnit is one successfully parsed source file lowered into the
// normalized program model. Units are immutable once constructed.
type ProgramUnit struct {
	Module    string // dotted module name derived from the file path
	Path      string // source path as given
	Functions []*FunctionDef
	Body      []Stmt   // module-level statements outside any function
	Imports   []*ImportStmt
	Lines     int // total source lines
}

// FunctionByName returns the function with the given bare name, or nil.
func (u *ProgramUnit) FunctionByName(name string) *FunctionDef {
	for _, fn := range u.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// FunctionDef is a function or method definition. Methods carry their class
// in QualifiedName ("module.Class.name") and are flattened into the unit's
// function list.
type FunctionDef struct {
	Name          string
	QualifiedName string // module.name or module.Class.name
	Module        string // owning module
	Class         string // empty for module-level functions
	Params        []string
	Body          []Stmt
	CFG           *CFG
	Scope         *Scope
	Line          int
	EndLine       int
	Complexity    int // cyclomatic complexity, computed by the front end
}

// ID returns the stable identity of the function used by the call graph and
// the summary cache.
func (fn *FunctionDef) ID() string { return fn.QualifiedName }

// Scope maps locally declared names to their first declaration line.
// Lookup walks outward through enclosing scopes.
type Scope struct {
	Parent *Scope
	Decls  map[string]int
}

// NewScope returns an empty scope nested in parent.
func NewScope(parent *Scope) *Scope {
	return &Scope{Parent: parent, Decls: make(map[string]int)}
}

// Declare records name at line unless already declared locally.
func (s *Scope) Declare(name string, line int) {
	if _, ok := s.Decls[name]; !ok {
		s.Decls[name] = line
	}
}

// DeclaredLocally returns true if name is declared in this scope itself.
func (s *Scope) DeclaredLocally(name string) bool {
	_, ok := s.Decls[name]
	return ok
}

// Resolve returns the innermost scope declaring name, or nil.
func (s *Scope) Resolve(name string) *Scope {
	for scope := s; scope != nil; scope = scope.Parent {
		if scope.DeclaredLocally(name) {
			return scope
		}
	}
	return nil
}

// Names returns the locally declared names in sorted order.
func (s *Scope) Names() []string {
	names := make([]string, 0, len(s.Decls))
	for name := range s.Decls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Node is an AST node. Every node carries a stable per-unit identity and a
// source line.
type Node interface {
	NodeID() int
	Pos() int
}

// NodeInfo is embedded by every AST node.
type NodeInfo struct {
	ID   int
	Line int
}

// NodeID returns the node's stable per-unit identity.
func (n *NodeInfo) NodeID() int { return n.ID }

// Pos returns the node's source line.
func (n *NodeInfo) Pos() int { return n.Line }

// Stmt is a statement node.
type Stmt interface {
	Node
	stmt()
}

func (*AssignStmt) stmt()    {}
func (*AugAssignStmt) stmt() {}
func (*ExprStmt) stmt()      {}
func (*ReturnStmt) stmt()    {}
func (*RaiseStmt) stmt()     {}
func (*PassStmt) stmt()      {}
func (*BreakStmt) stmt()     {}
func (*ContinueStmt) stmt()  {}
func (*IfStmt) stmt()        {}
func (*WhileStmt) stmt()     {}
func (*ForStmt) stmt()       {}
func (*TryStmt) stmt()       {}
func (*ImportStmt) stmt()    {}

// AssignStmt assigns Value to a single target. Multi-target and tuple
// assignments are normalized into a statement per target by the front end.
type AssignStmt struct {
	NodeInfo
	Target Node // *NameExpr, *AttrExpr or *IndexExpr
	Value  Node
}

// AugAssignStmt is an augmented assignment (x += y and friends).
type AugAssignStmt struct {
	NodeInfo
	Target Node
	Op     BinaryOp
	Value  Node
}

// ExprStmt evaluates an expression for effect.
type ExprStmt struct {
	NodeInfo
	X Node
}

// ReturnStmt returns Value; a nil Value returns None.
type ReturnStmt struct {
	NodeInfo
	Value Node
}

// RaiseStmt raises an exception and terminates the path.
type RaiseStmt struct {
	NodeInfo
	X Node // may be nil for a bare raise
}

// PassStmt is a no-op.
type PassStmt struct {
	NodeInfo
}

// BreakStmt exits the innermost loop.
type BreakStmt struct {
	NodeInfo
}

// ContinueStmt jumps to the innermost loop header.
type ContinueStmt struct {
	NodeInfo
}

// IfStmt branches on Cond. Elif chains are normalized into nested IfStmts
// in Else by the front end.
type IfStmt struct {
	NodeInfo
	Cond Node
	Then []Stmt
	Else []Stmt
}

// WhileStmt loops while Cond holds.
type WhileStmt struct {
	NodeInfo
	Cond Node
	Body []Stmt
}

// ForStmt iterates Target over Iter. Iteration count and element values are
// not modeled; each traversal binds Target to a fresh value.
type ForStmt struct {
	NodeInfo
	Target string
	Iter   Node
	Body   []Stmt
}

// TryStmt guards Body with a single normalized handler. The front end folds
// multiple except clauses into one handler body and inlines finally blocks
// after the statement.
type TryStmt struct {
	NodeInfo
	Body    []Stmt
	Handler []Stmt
}

// ImportStmt records imported names for the unit.
type ImportStmt struct {
	NodeInfo
	Names []string // bound names, e.g. "os", "path" for "from os import path"
}

func (*NameExpr) exprNode()   {}
func (*ConstExpr) exprNode()  {}
func (*BinExpr) exprNode()    {}
func (*BoolOpExpr) exprNode() {}
func (*UnaryNode) exprNode()  {}
func (*CallExpr) exprNode()   {}
func (*AttrExpr) exprNode()   {}
func (*IndexExpr) exprNode()  {}
func (*ListExpr) exprNode()   {}
func (*OpaqueExpr) exprNode() {}

// ExprNode is an expression node.
type ExprNode interface {
	Node
	exprNode()
}

// NameExpr is a variable reference.
type NameExpr struct {
	NodeInfo
	Name string
}

// ConstKind discriminates literal kinds.
type ConstKind int

const (
	ConstInt = ConstKind(iota)
	ConstReal
	ConstStr
	ConstBool
	ConstNone
)

// ConstExpr is a literal.
type ConstExpr struct {
	NodeInfo
	Kind ConstKind
	Int  int64
	Real float64
	Str  string
	Bool bool
}

// BinExpr is a binary operation, including normalized comparisons.
// Comparison chains (a < b < c) are normalized into conjunctions by the
// front end.
type BinExpr struct {
	NodeInfo
	Op BinaryOp
	X  Node
	Y  Node
}

// BoolOpExpr is an and/or chain over two or more operands.
type BoolOpExpr struct {
	NodeInfo
	Op     BinaryOp // AND or OR
	Values []Node
}

// UnaryOp discriminates unary operators.
type UnaryOp int

const (
	UnaryNot = UnaryOp(iota)
	UnaryNeg
)

// UnaryNode is a unary operation.
type UnaryNode struct {
	NodeInfo
	Op UnaryOp
	X  Node
}

// CallExpr is a call site. Its NodeID doubles as the call-site identity in
// the call graph.
type CallExpr struct {
	NodeInfo
	Func Node // *NameExpr or *AttrExpr
	Args []Node
}

// CalleeName returns the syntactic callee name: the bare name for name
// calls, the attribute for method-style calls, empty otherwise.
func (e *CallExpr) CalleeName() string {
	switch fn := e.Func.(type) {
	case *NameExpr:
		return fn.Name
	case *AttrExpr:
		return fn.Attr
	default:
		return ""
	}
}

// AttrExpr is an attribute access (x.attr).
type AttrExpr struct {
	NodeInfo
	X    Node
	Attr string
}

// IndexExpr is a subscript access (x[i]).
type IndexExpr struct {
	NodeInfo
	X     Node
	Index Node
}

// ListExpr is a list or tuple display.
type ListExpr struct {
	NodeInfo
	Elems []Node
}

// OpaqueExpr stands for a value the model does not track, such as a loop
// iteration element. It evaluates to a fresh symbol.
type OpaqueExpr struct {
	NodeInfo
	Reason string
}

// Walk traverses the node and its children in source order, calling visit
// for each. If visit returns false the node's children are skipped.
func Walk(n Node, visit func(Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	switch n := n.(type) {
	case *AssignStmt:
		Walk(n.Target, visit)
		Walk(n.Value, visit)
	case *AugAssignStmt:
		Walk(n.Target, visit)
		Walk(n.Value, visit)
	case *ExprStmt:
		Walk(n.X, visit)
	case *ReturnStmt:
		Walk(n.Value, visit)
	case *RaiseStmt:
		Walk(n.X, visit)
	case *PassStmt, *BreakStmt, *ContinueStmt, *ImportStmt:
	case *IfStmt:
		Walk(n.Cond, visit)
		WalkBody(n.Then, visit)
		WalkBody(n.Else, visit)
	case *WhileStmt:
		Walk(n.Cond, visit)
		WalkBody(n.Body, visit)
	case *ForStmt:
		Walk(n.Iter, visit)
		WalkBody(n.Body, visit)
	case *TryStmt:
		WalkBody(n.Body, visit)
		WalkBody(n.Handler, visit)
	case *NameExpr, *ConstExpr, *OpaqueExpr:
	case *BinExpr:
		Walk(n.X, visit)
		Walk(n.Y, visit)
	case *BoolOpExpr:
		for _, v := range n.Values {
			Walk(v, visit)
		}
	case *UnaryNode:
		Walk(n.X, visit)
	case *CallExpr:
		Walk(n.Func, visit)
		for _, arg := range n.Args {
			Walk(arg, visit)
		}
	case *AttrExpr:
		Walk(n.X, visit)
	case *IndexExpr:
		Walk(n.X, visit)
		Walk(n.Index, visit)
	case *ListExpr:
		for _, el := range n.Elems {
			Walk(el, visit)
		}
	default:
		panic("unreachable")
	}
}

// WalkBody traverses a statement list in order.
func WalkBody(body []Stmt, visit func(Node) bool) {
	for _, stmt := range body {
		Walk(stmt, visit)
	}
}

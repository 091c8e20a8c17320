package sift

import (
	"fmt"
	"sort"
	"strings"
)

// EdgeKind discriminates control flow edge kinds.
type EdgeKind int

const (
	EdgeNext = EdgeKind(iota) // unconditional
	EdgeTrue
	EdgeFalse
	EdgeExcept
)

var edgeKinds = [...]string{
	EdgeNext:   "next",
	EdgeTrue:   "true",
	EdgeFalse:  "false",
	EdgeExcept: "except",
}

// String returns the string representation of the edge kind.
func (k EdgeKind) String() string {
	if k >= 0 && k < EdgeKind(len(edgeKinds)) {
		return edgeKinds[k]
	}
	return fmt.Sprintf("EdgeKind<%d>", int(k))
}

// Edge is a directed control flow edge.
type Edge struct {
	Kind EdgeKind
	To   *BasicBlock
	Back bool // true for loop back edges

	// Havoc lists the names assigned anywhere in the loop owning this back
	// edge. Crossing the edge past the unroll bound rebinds them to fresh
	// symbols.
	Havoc []string
}

// BasicBlock is a straight-line statement sequence with a terminator.
// A block with a Cond and true/false edges is a conditional branch; a block
// with true/false edges and a nil Cond branches nondeterministically (loop
// headers of for statements). A block with no edges terminates the path.
type BasicBlock struct {
	Index int
	Stmts []Stmt
	Cond  Node
	Edges []Edge
	Line  int
}

// Succ returns the target of the first edge of the given kind, or nil.
func (b *BasicBlock) Succ(kind EdgeKind) *BasicBlock {
	for _, e := range b.Edges {
		if e.Kind == kind {
			return e.To
		}
	}
	return nil
}

// IsBranch returns true if the block ends in a two-way branch.
func (b *BasicBlock) IsBranch() bool {
	return b.Succ(EdgeTrue) != nil || b.Succ(EdgeExcept) != nil
}

// String returns a short description of the block.
func (b *BasicBlock) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "b%d[stmts=%d", b.Index, len(b.Stmts))
	for _, e := range b.Edges {
		fmt.Fprintf(&sb, " %s->b%d", e.Kind, e.To.Index)
		if e.Back {
			sb.WriteString("!")
		}
	}
	sb.WriteString("]")
	return sb.String()
}

// CFG is the control flow graph of a single function.
type CFG struct {
	Entry  *BasicBlock
	Blocks []*BasicBlock
}

// String returns a one-line rendering of the graph, for tests and logs.
func (g *CFG) String() string {
	parts := make([]string, len(g.Blocks))
	for i, b := range g.Blocks {
		parts[i] = b.String()
	}
	return strings.Join(parts, " ")
}

// BuildCFG lowers the function body into a control flow graph.
func BuildCFG(fn *FunctionDef) *CFG {
	b := &cfgBuilder{cfg: &CFG{}, synth: -1}
	entry := b.newBlock(fn.Line)
	b.cfg.Entry = entry
	b.lower(fn.Body, entry, nil)
	return b.cfg
}

type cfgBuilder struct {
	cfg   *CFG
	synth int // id allocator for synthetic nodes, counts down
}

type loopFrame struct {
	header *BasicBlock
	exit   *BasicBlock
	havoc  []string
}

func (b *cfgBuilder) newBlock(line int) *BasicBlock {
	blk := &BasicBlock{Index: len(b.cfg.Blocks), Line: line}
	b.cfg.Blocks = append(b.cfg.Blocks, blk)
	return blk
}

func (b *cfgBuilder) synthInfo(line int) NodeInfo {
	info := NodeInfo{ID: b.synth, Line: line}
	b.synth--
	return info
}

// lower appends body to cur and returns the open exit block, or nil when
// every path through body terminated.
func (b *cfgBuilder) lower(body []Stmt, cur *BasicBlock, loop *loopFrame) *BasicBlock {
	for _, stmt := range body {
		if cur == nil {
			return nil // unreachable code after a terminator
		}
		switch stmt := stmt.(type) {
		case *ReturnStmt, *RaiseStmt:
			cur.Stmts = append(cur.Stmts, stmt)
			return nil

		case *BreakStmt:
			assert(loop != nil, "break outside loop at line %d", stmt.Pos())
			cur.Edges = append(cur.Edges, Edge{Kind: EdgeNext, To: loop.exit})
			return nil

		case *ContinueStmt:
			assert(loop != nil, "continue outside loop at line %d", stmt.Pos())
			cur.Edges = append(cur.Edges, Edge{Kind: EdgeNext, To: loop.header, Back: true, Havoc: loop.havoc})
			return nil

		case *IfStmt:
			cur.Cond = stmt.Cond
			thenBlk := b.newBlock(stmt.Pos())
			cur.Edges = append(cur.Edges, Edge{Kind: EdgeTrue, To: thenBlk})
			thenExit := b.lower(stmt.Then, thenBlk, loop)

			var elseExit *BasicBlock
			if len(stmt.Else) > 0 {
				elseBlk := b.newBlock(stmt.Pos())
				cur.Edges = append(cur.Edges, Edge{Kind: EdgeFalse, To: elseBlk})
				elseExit = b.lower(stmt.Else, elseBlk, loop)
			}

			if thenExit == nil && len(stmt.Else) > 0 && elseExit == nil {
				return nil
			}
			join := b.newBlock(stmt.Pos())
			if len(stmt.Else) == 0 {
				cur.Edges = append(cur.Edges, Edge{Kind: EdgeFalse, To: join})
			}
			if thenExit != nil {
				thenExit.Edges = append(thenExit.Edges, Edge{Kind: EdgeNext, To: join})
			}
			if elseExit != nil {
				elseExit.Edges = append(elseExit.Edges, Edge{Kind: EdgeNext, To: join})
			}
			cur = join

		case *WhileStmt:
			havoc := assignedNames(stmt.Body)
			header := b.newBlock(stmt.Pos())
			cur.Edges = append(cur.Edges, Edge{Kind: EdgeNext, To: header})
			header.Cond = stmt.Cond

			bodyBlk := b.newBlock(stmt.Pos())
			header.Edges = append(header.Edges, Edge{Kind: EdgeTrue, To: bodyBlk})

			exit := b.newBlock(stmt.Pos())
			if !isAlwaysTrue(stmt.Cond) {
				header.Edges = append(header.Edges, Edge{Kind: EdgeFalse, To: exit})
			}

			frame := &loopFrame{header: header, exit: exit, havoc: havoc}
			if bodyExit := b.lower(stmt.Body, bodyBlk, frame); bodyExit != nil {
				bodyExit.Edges = append(bodyExit.Edges, Edge{Kind: EdgeNext, To: header, Back: true, Havoc: havoc})
			}
			cur = exit

		case *ForStmt:
			havoc := append(assignedNames(stmt.Body), stmt.Target)
			sort.Strings(havoc)

			// Evaluate the iterable once before the loop.
			cur.Stmts = append(cur.Stmts, &ExprStmt{NodeInfo: b.synthInfo(stmt.Pos()), X: stmt.Iter})

			header := b.newBlock(stmt.Pos())
			cur.Edges = append(cur.Edges, Edge{Kind: EdgeNext, To: header})

			// Nondeterministic branch: iterate again or exit.
			bodyBlk := b.newBlock(stmt.Pos())
			bodyBlk.Stmts = append(bodyBlk.Stmts, &AssignStmt{
				NodeInfo: b.synthInfo(stmt.Pos()),
				Target:   &NameExpr{NodeInfo: b.synthInfo(stmt.Pos()), Name: stmt.Target},
				Value:    &OpaqueExpr{NodeInfo: b.synthInfo(stmt.Pos()), Reason: "loop element"},
			})
			header.Edges = append(header.Edges, Edge{Kind: EdgeTrue, To: bodyBlk})

			exit := b.newBlock(stmt.Pos())
			header.Edges = append(header.Edges, Edge{Kind: EdgeFalse, To: exit})

			frame := &loopFrame{header: header, exit: exit, havoc: havoc}
			if bodyExit := b.lower(stmt.Body, bodyBlk, frame); bodyExit != nil {
				bodyExit.Edges = append(bodyExit.Edges, Edge{Kind: EdgeNext, To: header, Back: true, Havoc: havoc})
			}
			cur = exit

		case *TryStmt:
			bodyBlk := b.newBlock(stmt.Pos())
			handlerBlk := b.newBlock(stmt.Pos())
			cur.Edges = append(cur.Edges,
				Edge{Kind: EdgeNext, To: bodyBlk},
				Edge{Kind: EdgeExcept, To: handlerBlk},
			)
			bodyExit := b.lower(stmt.Body, bodyBlk, loop)
			handlerExit := b.lower(stmt.Handler, handlerBlk, loop)
			if bodyExit == nil && handlerExit == nil {
				return nil
			}
			join := b.newBlock(stmt.Pos())
			if bodyExit != nil {
				bodyExit.Edges = append(bodyExit.Edges, Edge{Kind: EdgeNext, To: join})
			}
			if handlerExit != nil {
				handlerExit.Edges = append(handlerExit.Edges, Edge{Kind: EdgeNext, To: join})
			}
			cur = join

		default:
			cur.Stmts = append(cur.Stmts, stmt)
		}
	}
	return cur
}

// isAlwaysTrue reports whether cond is the literal True.
func isAlwaysTrue(cond Node) bool {
	c, ok := cond.(*ConstExpr)
	return ok && c.Kind == ConstBool && c.Bool
}

// assignedNames returns the sorted set of names assigned anywhere in body,
// including nested loop targets.
func assignedNames(body []Stmt) []string {
	set := make(map[string]struct{})
	WalkBody(body, func(n Node) bool {
		switch n := n.(type) {
		case *AssignStmt:
			if name, ok := n.Target.(*NameExpr); ok {
				set[name.Name] = struct{}{}
			}
		case *AugAssignStmt:
			if name, ok := n.Target.(*NameExpr); ok {
				set[name.Name] = struct{}{}
			}
		case *ForStmt:
			set[n.Target] = struct{}{}
		}
		return true
	})
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CyclomaticComplexity computes the decision-point complexity of a function
// body: one plus the number of branching constructs and boolean connectives.
func CyclomaticComplexity(body []Stmt) int {
	n := 1
	WalkBody(body, func(node Node) bool {
		switch node := node.(type) {
		case *IfStmt, *WhileStmt, *ForStmt, *TryStmt:
			n++
		case *BoolOpExpr:
			n += len(node.Values) - 1
		}
		return true
	})
	return n
}

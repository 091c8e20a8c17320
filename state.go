package sift

import (
	"fmt"
	"sort"
	"strings"

	"github.com/benbjohnson/immutable"
)

// edgeKey identifies a back edge for unroll accounting.
type edgeKey struct {
	from, to int
}

// State is one path through a function under symbolic execution. Bindings
// use an immutable map so forked states share structure; the remaining
// fields are copied on fork.
type State struct {
	id          int
	fn          *FunctionDef
	block       *BasicBlock
	bindings    *immutable.Map[string, Expr]
	constraints []Expr
	unrolls     map[edgeKey]int
	writes      map[string]struct{} // non-local names written on this path
	depth       int  // blocks traversed on this path
	incomplete  bool // a havoc degraded this path's precision
	symseq      *int // fresh-symbol counter shared by all states of a run
}

// NewState returns the entry state of fn with every parameter bound to a
// fresh symbol of the same name.
func NewState(fn *FunctionDef) *State {
	symseq := 0
	s := &State{
		fn:       fn,
		block:    fn.CFG.Entry,
		bindings: immutable.NewMap[string, Expr](nil),
		unrolls:  make(map[edgeKey]int),
		writes:   make(map[string]struct{}),
		symseq:   &symseq,
	}
	for _, param := range fn.Params {
		s.Bind(param, NewSymbolExpr(param, TypeInt))
	}
	return s
}

// ID returns the state's identifier within its executor.
func (s *State) ID() int { return s.id }

// Function returns the function this state executes.
func (s *State) Function() *FunctionDef { return s.fn }

// Block returns the basic block the state is about to execute.
func (s *State) Block() *BasicBlock { return s.block }

// Depth returns the number of blocks traversed on this path.
func (s *State) Depth() int { return s.depth }

// Incomplete returns true if any havoc degraded this path's precision.
func (s *State) Incomplete() bool { return s.incomplete }

// SetIncomplete marks this path as degraded.
func (s *State) SetIncomplete() { s.incomplete = true }

// Bind associates name with value in this state.
func (s *State) Bind(name string, value Expr) {
	s.bindings = s.bindings.Set(name, value)
}

// Lookup returns the binding for name.
func (s *State) Lookup(name string) (Expr, bool) {
	return s.bindings.Get(name)
}

// BindingNames returns the bound names in sorted order.
func (s *State) BindingNames() []string {
	names := make([]string, 0, s.bindings.Len())
	itr := s.bindings.Iterator()
	for !itr.Done() {
		name, _, _ := itr.Next()
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Constraints returns the ordered path constraint conjunction.
func (s *State) Constraints() []Expr {
	return s.constraints
}

// AddConstraint appends expr to the path constraint. Conjunctions are split
// into their operands so each conjunct is visible individually.
func (s *State) AddConstraint(expr Expr) {
	if bin, ok := expr.(*BinaryExpr); ok && bin.Op == AND {
		s.AddConstraint(bin.LHS)
		s.AddConstraint(bin.RHS)
		return
	}
	if IsConstTrue(expr) {
		return
	}
	s.constraints = append(s.constraints, expr)
}

// Fork returns a copy of the state with constraint appended. The bindings
// map is shared structurally; unroll counters are copied.
func (s *State) Fork(constraint Expr) *State {
	other := &State{
		fn:          s.fn,
		block:       s.block,
		bindings:    s.bindings,
		constraints: make([]Expr, len(s.constraints), len(s.constraints)+1),
		unrolls:     make(map[edgeKey]int, len(s.unrolls)),
		writes:      make(map[string]struct{}, len(s.writes)),
		depth:       s.depth,
		incomplete:  s.incomplete,
		symseq:      s.symseq,
	}
	copy(other.constraints, s.constraints)
	for k, v := range s.unrolls {
		other.unrolls[k] = v
	}
	for k := range s.writes {
		other.writes[k] = struct{}{}
	}
	if constraint != nil {
		other.AddConstraint(constraint)
	}
	return other
}

// FreshSymbol returns a new symbol unique within the run, prefixed by name.
func (s *State) FreshSymbol(name string, typ Type) *SymbolExpr {
	*s.symseq++
	return NewSymbolExpr(fmt.Sprintf("%s!%d", name, *s.symseq), typ)
}

// HavocNames rebinds each name to a fresh symbol and marks the state
// incomplete.
func (s *State) HavocNames(names []string) {
	for _, name := range names {
		s.Bind(name, s.FreshSymbol(name, TypeInt))
	}
	s.incomplete = true
}

// RecordWrite notes a write to a non-local location such as an attribute or
// subscript of a parameter.
func (s *State) RecordWrite(name string) {
	s.writes[name] = struct{}{}
}

// Writes returns the non-local names written on this path, sorted.
func (s *State) Writes() []string {
	if len(s.writes) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.writes))
	for name := range s.writes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// unrollCount returns how many times this path crossed the given back edge.
func (s *State) unrollCount(from, to *BasicBlock) int {
	return s.unrolls[edgeKey{from.Index, to.Index}]
}

// bumpUnroll records one more crossing of the given back edge.
func (s *State) bumpUnroll(from, to *BasicBlock) {
	s.unrolls[edgeKey{from.Index, to.Index}]++
}

// PathSignature returns a stable digest of the path constraint, used to
// distinguish findings at the same site reached along different paths.
func (s *State) PathSignature() string {
	if len(s.constraints) == 0 {
		return ""
	}
	parts := make([]string, len(s.constraints))
	for i, c := range s.constraints {
		parts[i] = c.String()
	}
	return strings.Join(parts, "&")
}

// String returns a short description of the state.
func (s *State) String() string {
	return fmt.Sprintf("state<%d fn=%s block=%d constraints=%d depth=%d>",
		s.id, s.fn.Name, s.block.Index, len(s.constraints), s.depth)
}

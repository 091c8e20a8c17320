package sift

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Searcher determines the exploration order of pending states.
type Searcher interface {
	Add(states ...*State)
	Select() (*State, error)
	Len() int
}

// DFSSearcher explores states depth-first. This is the default strategy.
type DFSSearcher struct {
	states []*State
}

// NewDFSSearcher returns an empty depth-first searcher.
func NewDFSSearcher() *DFSSearcher { return &DFSSearcher{} }

// Add pushes states onto the stack.
func (s *DFSSearcher) Add(states ...*State) { s.states = append(s.states, states...) }

// Select pops the most recently added state.
func (s *DFSSearcher) Select() (*State, error) {
	if len(s.states) == 0 {
		return nil, ErrNoStateAvailable
	}
	state := s.states[len(s.states)-1]
	s.states = s.states[:len(s.states)-1]
	return state, nil
}

// Len returns the number of pending states.
func (s *DFSSearcher) Len() int { return len(s.states) }

// BFSSearcher explores states breadth-first.
type BFSSearcher struct {
	states []*State
}

// NewBFSSearcher returns an empty breadth-first searcher.
func NewBFSSearcher() *BFSSearcher { return &BFSSearcher{} }

// Add appends states to the queue.
func (s *BFSSearcher) Add(states ...*State) { s.states = append(s.states, states...) }

// Select dequeues the oldest state.
func (s *BFSSearcher) Select() (*State, error) {
	if len(s.states) == 0 {
		return nil, ErrNoStateAvailable
	}
	state := s.states[0]
	s.states = s.states[1:]
	return state, nil
}

// Len returns the number of pending states.
func (s *BFSSearcher) Len() int { return len(s.states) }

// ExecutorOptions bound the symbolic exploration.
type ExecutorOptions struct {
	MaxPathDepth        int
	LoopUnrollBound     int
	ConfidenceThreshold Resolution // call edges below this are havocked

	// NewSearcher constructs the exploration strategy per function.
	// Defaults to depth-first.
	NewSearcher func() Searcher

	Logger *zap.Logger
}

// Executor runs bounded symbolic execution over functions, confirming
// candidate sites against the solver and recording function summaries.
// Safe for concurrent ExploreFunction calls.
type Executor struct {
	graph      *CallGraph
	solver     Solver
	cache      *SummaryCache
	candidates map[string]map[int][]Candidate // function id -> node id -> sites
	opts       ExecutorOptions
	logger     *zap.Logger
	stateSeq   atomic.Int64
	timeouts   atomic.Int64
}

// NewExecutor returns an executor over the frozen call graph and candidate
// sites.
func NewExecutor(graph *CallGraph, solver Solver, cache *SummaryCache, candidates []Candidate, opts ExecutorOptions) *Executor {
	if opts.NewSearcher == nil {
		opts.NewSearcher = func() Searcher { return NewDFSSearcher() }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	byFn := make(map[string]map[int][]Candidate)
	for _, c := range candidates {
		sites := byFn[c.Fn.ID()]
		if sites == nil {
			sites = make(map[int][]Candidate)
			byFn[c.Fn.ID()] = sites
		}
		sites[c.Node.NodeID()] = append(sites[c.Node.NodeID()], c)
	}

	return &Executor{
		graph:      graph,
		solver:     solver,
		cache:      cache,
		candidates: byFn,
		opts:       opts,
		logger:     opts.Logger,
	}
}

// SolverTimeouts returns the number of solver queries that timed out.
func (e *Executor) SolverTimeouts() int64 { return e.timeouts.Load() }

// ExploreFunction explores fn through the summary cache: concurrent callers
// and later call sites share one exploration.
func (e *Executor) ExploreFunction(fn *FunctionDef) (*FunctionResult, error) {
	return e.cache.GetOrBuild(SummaryKey(fn), func() (*FunctionResult, error) {
		return e.explore(fn, 0)
	})
}

// explore runs the worklist over fn's CFG. depth counts recursive inline
// explorations of same-cycle callees; candidate checking runs only at depth
// zero so each function's findings are produced by its own exploration.
func (e *Executor) explore(fn *FunctionDef, depth int) (*FunctionResult, error) {
	assert(fn.CFG != nil, "function %s has no CFG", fn.QualifiedName)

	result := &FunctionResult{Fn: fn}
	run := &exploration{e: e, fn: fn, depth: depth, result: result}

	searcher := e.opts.NewSearcher()
	root := NewState(fn)
	root.id = int(e.stateSeq.Add(1))
	searcher.Add(root)

	e.logger.Debug("explore function",
		zap.String("function", fn.QualifiedName),
		zap.Int("depth", depth))

	for searcher.Len() > 0 {
		state, err := searcher.Select()
		if err != nil {
			return nil, err
		}

		if state.Depth() >= e.opts.MaxPathDepth {
			state.SetIncomplete()
			run.record(state, nil, false)
			continue
		}

		if err := run.step(state, searcher); err != nil {
			return nil, fmt.Errorf("%s: %w", fn.QualifiedName, err)
		}
	}
	return result, nil
}

// exploration is the per-explore mutable context.
type exploration struct {
	e      *Executor
	fn     *FunctionDef
	depth  int
	result *FunctionResult
}

// record appends a summary entry for a terminal state.
func (run *exploration) record(state *State, ret Expr, raises bool) {
	constraints := make([]Expr, len(state.Constraints()))
	copy(constraints, state.Constraints())
	run.result.Entries = append(run.result.Entries, SummaryEntry{
		Return:      ret,
		Constraints: constraints,
		Raises:      raises,
		Incomplete:  state.Incomplete(),
		SideEffects: state.Writes(),
	})
}

// step executes the state's current block and enqueues its successors.
func (run *exploration) step(state *State, searcher Searcher) error {
	block := state.Block()

	for _, stmt := range block.Stmts {
		switch stmt := stmt.(type) {
		case *AssignStmt:
			if err := run.execAssign(state, stmt); err != nil {
				return err
			}

		case *AugAssignStmt:
			if err := run.execAugAssign(state, stmt); err != nil {
				return err
			}

		case *ExprStmt:
			if _, err := run.eval(state, stmt.X); err != nil {
				return err
			}

		case *ReturnStmt:
			ret := Expr(noneValue)
			if stmt.Value != nil {
				v, err := run.eval(state, stmt.Value)
				if err != nil {
					return err
				}
				ret = v
			}
			run.record(state, ret, false)
			return nil

		case *RaiseStmt:
			if stmt.X != nil {
				if _, err := run.eval(state, stmt.X); err != nil {
					return err
				}
			}
			run.record(state, nil, true)
			return nil

		case *PassStmt, *ImportStmt:

		default:
			return fmt.Errorf("unexpected %T in basic block", stmt)
		}
	}

	return run.terminate(state, block, searcher)
}

// terminate follows the block's outgoing edges.
func (run *exploration) terminate(state *State, block *BasicBlock, searcher Searcher) error {
	// No edges: fall off the function end, returning None.
	if len(block.Edges) == 0 {
		run.record(state, noneValue, false)
		return nil
	}

	// Conditional branch.
	if trueEdge := findEdge(block, EdgeTrue); trueEdge != nil {
		falseEdge := findEdge(block, EdgeFalse)

		var cond Expr
		if block.Cond != nil {
			c, err := run.eval(state, block.Cond)
			if err != nil {
				return err
			}
			cond = run.truthy(state, c)
		}

		// A constant condition follows a single edge.
		if cond != nil && IsConstantExpr(cond) {
			edge := trueEdge
			if IsConstFalse(cond) {
				edge = falseEdge
			}
			if edge == nil {
				run.record(state, nil, false) // branch into removed exit
				return nil
			}
			return run.follow(state, *edge, searcher)
		}

		var trueState, falseState *State
		if cond == nil {
			// Nondeterministic branch: fork without constraints.
			trueState = state.Fork(nil)
			if falseEdge != nil {
				falseState = state.Fork(nil)
			}
		} else {
			var err error
			if trueState, err = run.forkFeasible(state, cond); err != nil {
				return err
			}
			if falseEdge != nil {
				if falseState, err = run.forkFeasible(state, NewNotExpr(cond)); err != nil {
					return err
				}
			}
		}

		if trueState != nil {
			if err := run.follow(trueState, *trueEdge, searcher); err != nil {
				return err
			}
		}
		if falseState != nil && falseEdge != nil {
			if err := run.follow(falseState, *falseEdge, searcher); err != nil {
				return err
			}
		}
		return nil
	}

	// Exception split: fork into body and handler without constraints.
	if exceptEdge := findEdge(block, EdgeExcept); exceptEdge != nil {
		nextEdge := findEdge(block, EdgeNext)
		assert(nextEdge != nil, "except edge without next edge in block %d", block.Index)
		handler := state.Fork(nil)
		if err := run.follow(state, *nextEdge, searcher); err != nil {
			return err
		}
		return run.follow(handler, *exceptEdge, searcher)
	}

	next := findEdge(block, EdgeNext)
	assert(next != nil, "block %d has edges but no successor", block.Index)
	return run.follow(state, *next, searcher)
}

// follow advances state across edge, handling loop unroll accounting, and
// enqueues it.
func (run *exploration) follow(state *State, edge Edge, searcher Searcher) error {
	if edge.Back {
		state.bumpUnroll(state.Block(), edge.To)
		if state.unrollCount(state.Block(), edge.To) > run.e.opts.LoopUnrollBound {
			// Unroll bound hit: havoc everything the loop writes and skip
			// to the loop exit.
			state.HavocNames(edge.Havoc)
			exit := edge.To.Succ(EdgeFalse)
			if exit == nil {
				// A while True loop has no exit; the path ends here.
				run.record(state, nil, false)
				return nil
			}
			state.block = exit
			state.depth++
			searcher.Add(state)
			return nil
		}
	}
	state.block = edge.To
	state.depth++
	searcher.Add(state)
	return nil
}

// forkFeasible forks state with the constraint and pre-checks feasibility.
// Infeasible forks are pruned; a solver timeout keeps the fork but degrades
// it to incomplete.
func (run *exploration) forkFeasible(state *State, constraint Expr) (*State, error) {
	forked := state.Fork(constraint)
	forked.id = int(run.e.stateSeq.Add(1))

	sat, _, err := run.e.solver.Solve(forked.Constraints())
	if errors.Is(err, ErrSolverTimeout) {
		run.e.timeouts.Add(1)
		forked.SetIncomplete()
		return forked, nil
	} else if err != nil {
		return nil, err
	}
	if !sat {
		run.e.logger.Debug("prune infeasible fork",
			zap.String("function", run.fn.QualifiedName),
			zap.String("constraint", constraint.String()))
		return nil, nil
	}
	return forked, nil
}

func findEdge(block *BasicBlock, kind EdgeKind) *Edge {
	for i := range block.Edges {
		if block.Edges[i].Kind == kind {
			return &block.Edges[i]
		}
	}
	return nil
}

// noneValue is the symbolic rendering of Python None.
var noneValue = &ConstantExpr{Typ: TypeUnknown}

// execAssign evaluates an assignment.
func (run *exploration) execAssign(state *State, stmt *AssignStmt) error {
	value, err := run.eval(state, stmt.Value)
	if err != nil {
		return err
	}

	switch target := stmt.Target.(type) {
	case *NameExpr:
		state.Bind(target.Name, value)
		// Track literal sequence lengths for bounds predicates.
		if list, ok := stmt.Value.(*ListExpr); ok {
			state.Bind(LenSymbolName(target.Name), NewConstantInt(int64(len(list.Elems))))
		} else if value.Type() == TypeString {
			state.Bind(LenSymbolName(target.Name), NewLenExpr(value))
		}

	case *AttrExpr:
		if _, err := run.eval(state, target.X); err != nil {
			return err
		}
		if path := attrPath(target); path != "" {
			state.RecordWrite(path)
			state.Bind(path, value)
		}

	case *IndexExpr:
		if _, err := run.eval(state, target.X); err != nil {
			return err
		}
		if _, err := run.eval(state, target.Index); err != nil {
			return err
		}
		// Subscript stores carry the same bounds candidates as reads.
		if err := run.checkCandidates(state, target); err != nil {
			return err
		}
		if base, ok := target.X.(*NameExpr); ok {
			state.RecordWrite(base.Name + "[]")
		}

	default:
		return fmt.Errorf("unexpected assignment target %T", stmt.Target)
	}
	return nil
}

// execAugAssign desugars x op= v into x = x op v.
func (run *exploration) execAugAssign(state *State, stmt *AugAssignStmt) error {
	target, ok := stmt.Target.(*NameExpr)
	if !ok {
		// Augmented writes through attributes or subscripts only record the
		// side effect.
		return run.execAssign(state, &AssignStmt{NodeInfo: stmt.NodeInfo, Target: stmt.Target, Value: stmt.Value})
	}

	old, ok := state.Lookup(target.Name)
	if !ok {
		old = NewSymbolExpr(target.Name, TypeInt)
		state.Bind(target.Name, old)
	}
	value, err := run.eval(state, stmt.Value)
	if err != nil {
		return err
	}
	state.Bind(target.Name, run.binop(state, stmt.Op, old, value))
	return nil
}

// eval computes the symbolic value of an expression node, firing candidate
// checks registered at the node.
func (run *exploration) eval(state *State, n Node) (Expr, error) {
	switch n := n.(type) {
	case *ConstExpr:
		return constValue(n), nil

	case *NameExpr:
		if v, ok := state.Lookup(n.Name); ok {
			return v, nil
		}
		// An unbound name is an unconstrained input, like a parameter.
		v := NewSymbolExpr(n.Name, TypeInt)
		state.Bind(n.Name, v)
		return v, nil

	case *BinExpr:
		x, err := run.eval(state, n.X)
		if err != nil {
			return nil, err
		}
		y, err := run.eval(state, n.Y)
		if err != nil {
			return nil, err
		}
		if err := run.checkCandidates(state, n); err != nil {
			return nil, err
		}
		return run.binop(state, n.Op, x, y), nil

	case *BoolOpExpr:
		var acc Expr
		for _, operand := range n.Values {
			v, err := run.eval(state, operand)
			if err != nil {
				return nil, err
			}
			b := run.truthy(state, v)
			if acc == nil {
				acc = b
			} else {
				acc = NewBinaryExpr(n.Op, acc, b)
			}
		}
		return acc, nil

	case *UnaryNode:
		v, err := run.eval(state, n.X)
		if err != nil {
			return nil, err
		}
		if n.Op == UnaryNot {
			return NewNotExpr(run.truthy(state, v)), nil
		}
		if v.Type().IsNumeric() {
			return NewNegExpr(v), nil
		}
		return state.FreshSymbol("neg", TypeInt), nil

	case *CallExpr:
		return run.evalCall(state, n)

	case *AttrExpr:
		if _, err := run.eval(state, n.X); err != nil {
			return nil, err
		}
		if err := run.checkCandidates(state, n); err != nil {
			return nil, err
		}
		// Reads of the same attribute path see the same value on a path.
		if path := attrPath(n); path != "" {
			if v, ok := state.Lookup(path); ok {
				return v, nil
			}
			v := NewSymbolExpr(path, TypeInt)
			state.Bind(path, v)
			return v, nil
		}
		return state.FreshSymbol(n.Attr, TypeInt), nil

	case *IndexExpr:
		if _, err := run.eval(state, n.X); err != nil {
			return nil, err
		}
		if _, err := run.eval(state, n.Index); err != nil {
			return nil, err
		}
		if err := run.checkCandidates(state, n); err != nil {
			return nil, err
		}
		return state.FreshSymbol("elem", TypeInt), nil

	case *ListExpr:
		for _, el := range n.Elems {
			if _, err := run.eval(state, el); err != nil {
				return nil, err
			}
		}
		return state.FreshSymbol("list", TypeUnknown), nil

	case *OpaqueExpr:
		return state.FreshSymbol("iter", TypeInt), nil

	default:
		return nil, fmt.Errorf("unexpected expression %T", n)
	}
}

// constValue maps a literal node to its symbolic constant.
func constValue(n *ConstExpr) Expr {
	switch n.Kind {
	case ConstInt:
		return NewConstantInt(n.Int)
	case ConstReal:
		return NewConstantReal(n.Real)
	case ConstStr:
		return NewConstantString(n.Str)
	case ConstBool:
		return NewConstantBool(n.Bool)
	default:
		return noneValue
	}
}

// binop combines two symbolic values. Operations outside the modeled
// theories produce a fresh unconstrained result.
func (run *exploration) binop(state *State, op BinaryOp, x, y Expr) Expr {
	xt, yt := x.Type(), y.Type()

	switch {
	case op.IsLogical():
		return NewBinaryExpr(op, run.truthy(state, x), run.truthy(state, y))

	case op.IsCompare():
		if xt.IsNumeric() && yt.IsNumeric() {
			return NewBinaryExpr(op, x, y)
		}
		if xt == TypeBool && yt == TypeBool && (op == EQ || op == NE) {
			return NewBinaryExpr(op, x, y)
		}
		if xt == TypeString && yt == TypeString {
			if IsConstantExpr(x) && IsConstantExpr(y) {
				return NewBinaryExpr(op, x, y)
			}
			// Unequal lengths decide inequality; beyond that the content is
			// out of theory.
			if op == EQ || op == NE {
				return state.FreshSymbol("streq", TypeBool)
			}
		}
		return state.FreshSymbol("cmp", TypeBool)

	case op.IsArithmetic():
		if xt.IsNumeric() && yt.IsNumeric() {
			return NewBinaryExpr(op, x, y)
		}
		// String concatenation is tracked through the length abstraction.
		if op == ADD && xt == TypeString && yt == TypeString {
			s := state.FreshSymbol("concat", TypeString)
			state.AddConstraint(NewBinaryExpr(EQ, NewLenExpr(s),
				NewBinaryExpr(ADD, NewLenExpr(x), NewLenExpr(y))))
			return s
		}
		return state.FreshSymbol("arith", TypeInt)

	default:
		return state.FreshSymbol("op", TypeInt)
	}
}

// truthy coerces a value to its Python boolean interpretation.
func (run *exploration) truthy(state *State, v Expr) Expr {
	switch v.Type() {
	case TypeBool:
		return v
	case TypeInt:
		return NewNotExpr(NewBinaryExpr(EQ, v, NewConstantInt(0)))
	case TypeReal:
		return NewNotExpr(NewBinaryExpr(EQ, v, NewConstantReal(0)))
	case TypeString:
		return NewNotExpr(NewBinaryExpr(EQ, NewLenExpr(v), NewConstantInt(0)))
	default:
		return state.FreshSymbol("truthy", TypeBool)
	}
}

// execSite adapts the exploration state for Pattern.PathCondition.
type execSite struct {
	run   *exploration
	state *State
}

// Eval returns the symbolic value of n in the current state.
func (s *execSite) Eval(n Node) Expr {
	v, err := s.run.eval(s.state, n)
	if err != nil {
		return nil
	}
	return v
}

// Length returns the tracked length of the sequence bound to name.
func (s *execSite) Length(name string) Expr {
	if v, ok := s.state.Lookup(LenSymbolName(name)); ok {
		return v
	}
	return nil
}

// checkCandidates discharges every candidate registered at node n against
// the current path constraint.
func (run *exploration) checkCandidates(state *State, n Node) error {
	if run.depth > 0 {
		return nil // inline recursive exploration reports nothing
	}
	sites := run.candidatesAt(n)
	if len(sites) == 0 {
		return nil
	}

	site := &execSite{run: run, state: state}
	for _, cand := range sites {
		pred := cand.Pattern.PathCondition(site, n)
		if pred == nil {
			continue
		}
		if IsConstFalse(pred) {
			continue
		}

		query := append(append([]Expr{}, state.Constraints()...), pred)
		sat, witness, err := run.e.solver.Solve(query)
		if errors.Is(err, ErrSolverTimeout) {
			run.e.timeouts.Add(1)
			run.emitFinding(state, cand, n, ConfidenceIncomplete, nil)
			continue
		} else if err != nil {
			return err
		}
		if !sat {
			continue
		}

		confidence := ConfidenceConfirmed
		if state.Incomplete() {
			// A havoc on this path means the witness may not correspond to
			// a real execution.
			confidence = ConfidenceIncomplete
		}
		run.emitFinding(state, cand, n, confidence, witness)
	}
	return nil
}

func (run *exploration) candidatesAt(n Node) []Candidate {
	sites := run.e.candidates[run.fn.ID()]
	if sites == nil {
		return nil
	}
	return sites[n.NodeID()]
}

func (run *exploration) emitFinding(state *State, cand Candidate, n Node, confidence Confidence, witness Witness) {
	run.result.Findings = append(run.result.Findings, Finding{
		PatternID:     cand.Pattern.ID,
		Module:        run.fn.Module,
		Function:      run.fn.Name,
		Line:          n.Pos(),
		Severity:      cand.Pattern.Severity,
		Confidence:    confidence,
		Message:       cand.Message,
		Witness:       witness,
		PathSignature: state.PathSignature(),
	})
}

// evalCall resolves and applies a call site.
func (run *exploration) evalCall(state *State, call *CallExpr) (Expr, error) {
	// Evaluate arguments first; sinks inside them must be visited.
	args := make([]Expr, len(call.Args))
	for i, arg := range call.Args {
		v, err := run.eval(state, arg)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	if err := run.checkCandidates(state, call); err != nil {
		return nil, err
	}

	// Modeled builtins.
	if name, ok := call.Func.(*NameExpr); ok {
		if v, ok := run.evalBuiltin(state, call, name.Name, args); ok {
			return v, nil
		}
	}

	edge := run.e.graph.EdgeAt(run.fn.Module, call.NodeID())
	if edge == nil || edge.Resolution == ResolutionUnknown ||
		!edge.Resolution.AtLeast(run.e.opts.ConfidenceThreshold) {
		return run.havocCall(state, call), nil
	}

	// Gather candidate summaries.
	var results []calleeSummaries
	for _, callee := range edge.Candidates {
		if callee.ID() == run.fn.ID() || run.e.graph.SameSCC(run.fn, callee) {
			// Recursive cycle: explore inline under the depth bound instead
			// of through the cache, which must stay acyclic.
			if run.depth >= run.e.opts.LoopUnrollBound {
				return run.havocCall(state, call), nil
			}
			res, err := run.e.explore(callee, run.depth+1)
			if err != nil {
				return nil, err
			}
			results = append(results, calleeSummaries{res.Entries, callee})
			continue
		}
		res, err := run.e.ExploreFunction(callee)
		if err != nil {
			return nil, err
		}
		results = append(results, calleeSummaries{res.Entries, callee})
	}

	return run.applySummaries(state, call, args, results)
}

type calleeSummaries struct {
	entries []SummaryEntry
	callee  *FunctionDef
}

// applySummaries binds the call result through a disjunction over every
// candidate callee's returning paths.
func (run *exploration) applySummaries(state *State, call *CallExpr, args []Expr, results []calleeSummaries) (Expr, error) {
	retType := TypeInt
	var clauses []Expr
	incomplete := false

	ret := state.FreshSymbol(call.CalleeName(), retType)

	for _, r := range results {
		sub := make(map[string]Expr)
		for i, param := range r.callee.Params {
			if i < len(args) {
				sub[param] = args[i]
			}
		}

		for _, entry := range r.entries {
			if entry.Incomplete {
				incomplete = true
			}
			if entry.Raises {
				continue // the path continues only through returning entries
			}

			// Freshen callee-local symbols so distinct call sites do not
			// collide.
			exprs := append([]Expr{}, entry.Constraints...)
			if entry.Return != nil {
				exprs = append(exprs, entry.Return)
			}
			entrySub := make(map[string]Expr, len(sub))
			for k, v := range sub {
				entrySub[k] = v
			}
			for _, sym := range FindSymbols(exprs...) {
				if _, ok := entrySub[sym.Name]; !ok {
					entrySub[sym.Name] = state.FreshSymbol(sym.Name, sym.Typ)
				}
			}

			clause := Expr(NewConstantBool(true))
			if entry.Return != nil && entry.Return.Type().IsNumeric() {
				clause = NewBinaryExpr(EQ, ret, SubstituteExpr(entry.Return, entrySub))
			}
			for _, c := range entry.Constraints {
				clause = NewBinaryExpr(AND, clause, SubstituteExpr(c, entrySub))
			}
			clauses = append(clauses, clause)

			for _, name := range entry.SideEffects {
				state.RecordWrite(name)
			}
		}
	}

	if len(clauses) == 0 {
		// Every candidate path raises or nothing was summarized.
		return run.havocCall(state, call), nil
	}

	disj := clauses[0]
	for _, clause := range clauses[1:] {
		disj = NewBinaryExpr(OR, disj, clause)
	}
	state.AddConstraint(disj)
	if incomplete {
		state.SetIncomplete()
	}
	return ret, nil
}

// havocCall models an unresolvable call: a fresh unconstrained result and a
// degraded path.
func (run *exploration) havocCall(state *State, call *CallExpr) Expr {
	name := call.CalleeName()
	if name == "" {
		name = "call"
	}
	state.SetIncomplete()
	return state.FreshSymbol(name, TypeInt)
}

// evalBuiltin models the handful of builtins the theories can express.
func (run *exploration) evalBuiltin(state *State, call *CallExpr, name string, args []Expr) (Expr, bool) {
	switch name {
	case "len":
		if len(args) != 1 {
			return nil, false
		}
		if args[0].Type() == TypeString {
			return NewLenExpr(args[0]), true
		}
		if base, ok := call.Args[0].(*NameExpr); ok {
			if v, ok := state.Lookup(LenSymbolName(base.Name)); ok {
				return v, true
			}
		}
		return state.FreshSymbol("len", TypeInt), true

	case "int":
		if len(args) == 1 && args[0].Type() == TypeInt {
			return args[0], true
		}
		return state.FreshSymbol("int", TypeInt), true

	case "float":
		if len(args) == 1 && args[0].Type().IsNumeric() {
			return args[0], true
		}
		return state.FreshSymbol("float", TypeReal), true

	case "abs":
		if len(args) == 1 && args[0].Type().IsNumeric() {
			v := args[0]
			abs := state.FreshSymbol("abs", v.Type())
			state.AddConstraint(NewBinaryExpr(GE, abs, NewConstantInt(0)))
			state.AddConstraint(NewBinaryExpr(OR,
				NewBinaryExpr(EQ, abs, v),
				NewBinaryExpr(EQ, abs, NewNegExpr(v))))
			return abs, true
		}
		return nil, false

	case "bool":
		if len(args) == 1 {
			return run.truthy(state, args[0]), true
		}
		return nil, false

	case "str":
		return state.FreshSymbol("str", TypeString), true

	case "print":
		return noneValue, true

	case "range":
		return state.FreshSymbol("range", TypeUnknown), true

	default:
		return nil, false
	}
}

package sift

import (
	"fmt"
	"sort"
	"strings"
)

// MatchContext carries the surroundings of a node offered to Pattern.Match.
type MatchContext struct {
	Unit      *ProgramUnit
	Fn        *FunctionDef // nil for module-level statements
	LoopDepth int          // number of enclosing loops
}

// PatternMatch is one hit reported by a function- or unit-level matcher.
type PatternMatch struct {
	Line    int
	Message string
}

// Site gives a path-dependent pattern access to the symbolic state at a
// candidate node during execution.
type Site interface {
	// Eval returns the symbolic value of an expression node in the current
	// state.
	Eval(n Node) Expr

	// Length returns the tracked length of the sequence bound to name, or
	// nil if no length is known.
	Length(name string) Expr
}

// Pattern is a defect pattern. Exactly one of the match hooks is typically
// set; a non-nil PathCondition makes the pattern path-dependent: structural
// hits become candidate sites for the symbolic executor instead of
// findings.
type Pattern struct {
	ID          string
	Severity    Severity
	Description string

	// Match inspects a single node.
	Match func(ctx *MatchContext, n Node) (string, bool)

	// MatchFunction inspects a whole function definition.
	MatchFunction func(fn *FunctionDef) []PatternMatch

	// MatchUnit inspects a whole unit.
	MatchUnit func(unit *ProgramUnit) []PatternMatch

	// PathCondition builds the defect predicate for a matched node. A nil
	// return skips the site.
	PathCondition func(site Site, n Node) Expr
}

// PathDependent returns true if structural hits require symbolic
// confirmation.
func (p *Pattern) PathDependent() bool { return p.PathCondition != nil }

// Registry holds the patterns available to a run.
type Registry struct {
	patterns map[string]*Pattern
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{patterns: make(map[string]*Pattern)}
}

// DefaultRegistry returns a registry with every builtin pattern.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range builtinPatterns() {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a pattern. Duplicate ids are an error.
func (r *Registry) Register(p *Pattern) error {
	if p.ID == "" {
		return fmt.Errorf("pattern id required")
	}
	if _, ok := r.patterns[p.ID]; ok {
		return fmt.Errorf("duplicate pattern id %q", p.ID)
	}
	r.patterns[p.ID] = p
	return nil
}

// Lookup returns the pattern with the given id, or nil.
func (r *Registry) Lookup(id string) *Pattern { return r.patterns[id] }

// IDs returns the registered pattern ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.patterns))
	for id := range r.patterns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Enabled resolves the enabled pattern set. An empty list enables every
// registered pattern; an unknown id is an error.
func (r *Registry) Enabled(ids []string) ([]*Pattern, error) {
	if len(ids) == 0 {
		ids = r.IDs()
	}
	seen := make(map[string]bool, len(ids))
	patterns := make([]*Pattern, 0, len(ids))
	for _, id := range ids {
		p := r.patterns[id]
		if p == nil {
			return nil, fmt.Errorf("unknown pattern id %q", id)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate pattern id %q", id)
		}
		seen[id] = true
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].ID < patterns[j].ID })
	return patterns, nil
}

// Candidate is a structural hit of a path-dependent pattern, forwarded to
// the symbolic executor for confirmation.
type Candidate struct {
	Pattern *Pattern
	Fn      *FunctionDef
	Node    Node
	Message string
}

// Matcher applies a pattern set to program units.
type Matcher struct {
	patterns []*Pattern
}

// NewMatcher returns a matcher over the given patterns.
func NewMatcher(patterns []*Pattern) *Matcher {
	return &Matcher{patterns: patterns}
}

// MatchUnit runs every pattern over the unit. Structural hits of
// path-independent patterns become syntactic findings; hits of
// path-dependent patterns become candidates keyed for the executor.
func (m *Matcher) MatchUnit(unit *ProgramUnit) ([]Finding, []Candidate) {
	var findings []Finding
	var candidates []Candidate

	emit := func(p *Pattern, fn *FunctionDef, line int, msg string) {
		f := Finding{
			PatternID:  p.ID,
			Module:     unit.Module,
			Path:       unit.Path,
			Line:       line,
			Severity:   p.Severity,
			Confidence: ConfidenceSyntactic,
			Message:    msg,
		}
		if fn != nil {
			f.Function = fn.Name
		}
		findings = append(findings, f)
	}

	for _, p := range m.patterns {
		if p.MatchUnit != nil {
			for _, hit := range p.MatchUnit(unit) {
				emit(p, nil, hit.Line, hit.Message)
			}
		}
		if p.MatchFunction != nil {
			for _, fn := range unit.Functions {
				for _, hit := range p.MatchFunction(fn) {
					emit(p, fn, hit.Line, hit.Message)
				}
			}
		}
	}

	visit := func(ctx *MatchContext, n Node) {
		for _, p := range m.patterns {
			if p.Match == nil {
				continue
			}
			msg, ok := p.Match(ctx, n)
			if !ok {
				continue
			}
			if p.PathDependent() {
				// Path-dependent hits outside a function have no CFG to
				// execute; keep them as syntactic hits instead.
				if ctx.Fn == nil {
					emit(p, nil, n.Pos(), msg)
					continue
				}
				candidates = append(candidates, Candidate{
					Pattern: p,
					Fn:      ctx.Fn,
					Node:    n,
					Message: msg,
				})
				continue
			}
			emit(p, ctx.Fn, n.Pos(), msg)
		}
	}

	for _, fn := range unit.Functions {
		ctx := &MatchContext{Unit: unit, Fn: fn}
		m.walk(ctx, fn.Body, visit)
	}
	ctx := &MatchContext{Unit: unit}
	m.walk(ctx, unit.Body, visit)

	return findings, candidates
}

// walk traverses body in source order maintaining the loop depth.
func (m *Matcher) walk(ctx *MatchContext, body []Stmt, visit func(*MatchContext, Node)) {
	var walkNode func(n Node)
	walkNode = func(n Node) {
		if n == nil {
			return
		}
		visit(ctx, n)
		switch n := n.(type) {
		case *WhileStmt:
			walkNode(n.Cond)
			ctx.LoopDepth++
			for _, s := range n.Body {
				walkNode(s)
			}
			ctx.LoopDepth--
		case *ForStmt:
			walkNode(n.Iter)
			ctx.LoopDepth++
			for _, s := range n.Body {
				walkNode(s)
			}
			ctx.LoopDepth--
		default:
			Walk(n, func(child Node) bool {
				if child == n {
					return true
				}
				walkNode(child)
				return false
			})
		}
	}
	for _, stmt := range body {
		walkNode(stmt)
	}
}

// Builtin pattern construction.

var arbitraryExecutionCalls = map[string]string{
	"eval": "call to eval()",
	"exec": "call to exec()",
}

var arbitraryExecutionAttrs = map[string]string{
	"pickle.loads":  "deserialization of untrusted data with pickle.loads()",
	"pickle.load":   "deserialization of untrusted data with pickle.load()",
	"marshal.loads": "deserialization of untrusted data with marshal.loads()",
	"yaml.load":     "unsafe yaml.load() without SafeLoader",
}

var commandExecutionAttrs = map[string]bool{
	"os.system":        true,
	"os.popen":         true,
	"subprocess.call":  true,
	"subprocess.run":   true,
	"subprocess.Popen": true,
}

var sqlExecuteAttrs = map[string]bool{
	"execute":     true,
	"executemany": true,
}

var secretNameHints = []string{"password", "passwd", "pwd", "secret", "token", "api_key", "apikey", "private_key"}

// attrPath renders a dotted attribute chain like "os.system"; empty when
// the base is not a plain name.
func attrPath(n Node) string {
	switch n := n.(type) {
	case *NameExpr:
		return n.Name
	case *AttrExpr:
		base := attrPath(n.X)
		if base == "" {
			return ""
		}
		return base + "." + n.Attr
	default:
		return ""
	}
}

// isComposedString reports whether n builds a string at runtime:
// concatenation, %-formatting, or .format()/f-string lowering.
func isComposedString(n Node) bool {
	switch n := n.(type) {
	case *BinExpr:
		if n.Op != ADD && n.Op != MOD {
			return false
		}
		return containsStringLiteral(n) || isComposedString(n.X) || isComposedString(n.Y)
	case *CallExpr:
		if attr, ok := n.Func.(*AttrExpr); ok && attr.Attr == "format" {
			return true
		}
		return false
	default:
		return false
	}
}

func containsStringLiteral(n Node) bool {
	found := false
	Walk(n, func(child Node) bool {
		if c, ok := child.(*ConstExpr); ok && c.Kind == ConstStr {
			found = true
		}
		return !found
	})
	return found
}

func containsLoopBreak(body []Stmt) bool {
	found := false
	var scan func(stmts []Stmt)
	scan = func(stmts []Stmt) {
		for _, stmt := range stmts {
			switch stmt := stmt.(type) {
			case *BreakStmt, *ReturnStmt, *RaiseStmt:
				found = true
			case *IfStmt:
				scan(stmt.Then)
				scan(stmt.Else)
			case *TryStmt:
				scan(stmt.Body)
				scan(stmt.Handler)
			}
			// Nested loops consume their own breaks.
		}
	}
	scan(body)
	return found
}

const (
	longFunctionLines   = 50
	highComplexityLimit = 10
)

func builtinPatterns() []*Pattern {
	return []*Pattern{
		{
			ID:          "arbitrary-execution",
			Severity:    SeverityCritical,
			Description: "dynamic code execution or unsafe deserialization",
			Match: func(ctx *MatchContext, n Node) (string, bool) {
				call, ok := n.(*CallExpr)
				if !ok {
					return "", false
				}
				if name, ok := call.Func.(*NameExpr); ok {
					if msg, ok := arbitraryExecutionCalls[name.Name]; ok {
						return msg, true
					}
					return "", false
				}
				if msg, ok := arbitraryExecutionAttrs[attrPath(call.Func)]; ok {
					return msg, true
				}
				return "", false
			},
		},
		{
			ID:          "command-injection",
			Severity:    SeverityHigh,
			Description: "shell command built from composed data",
			Match: func(ctx *MatchContext, n Node) (string, bool) {
				call, ok := n.(*CallExpr)
				if !ok || len(call.Args) == 0 {
					return "", false
				}
				path := attrPath(call.Func)
				if !commandExecutionAttrs[path] {
					return "", false
				}
				if _, isConst := call.Args[0].(*ConstExpr); isConst {
					return "", false
				}
				return fmt.Sprintf("%s() invoked with a non-literal command", path), true
			},
		},
		{
			ID:          "sql-injection",
			Severity:    SeverityHigh,
			Description: "SQL statement built by string composition",
			Match: func(ctx *MatchContext, n Node) (string, bool) {
				call, ok := n.(*CallExpr)
				if !ok || len(call.Args) == 0 {
					return "", false
				}
				attr, ok := call.Func.(*AttrExpr)
				if !ok || !sqlExecuteAttrs[attr.Attr] {
					return "", false
				}
				if !isComposedString(call.Args[0]) {
					return "", false
				}
				return fmt.Sprintf("%s() with string-composed SQL", attr.Attr), true
			},
		},
		{
			ID:          "hardcoded-secret",
			Severity:    SeverityMedium,
			Description: "credential literal assigned to a secret-like name",
			Match: func(ctx *MatchContext, n Node) (string, bool) {
				assign, ok := n.(*AssignStmt)
				if !ok {
					return "", false
				}
				name, ok := assign.Target.(*NameExpr)
				if !ok {
					return "", false
				}
				value, ok := assign.Value.(*ConstExpr)
				if !ok || value.Kind != ConstStr || value.Str == "" {
					return "", false
				}
				lower := strings.ToLower(name.Name)
				for _, hint := range secretNameHints {
					if strings.Contains(lower, hint) {
						return fmt.Sprintf("hardcoded value assigned to %q", name.Name), true
					}
				}
				return "", false
			},
		},
		{
			ID:          "null-dereference",
			Severity:    SeverityMedium,
			Description: "attribute or subscript access on literal None",
			Match: func(ctx *MatchContext, n Node) (string, bool) {
				var base Node
				switch n := n.(type) {
				case *AttrExpr:
					base = n.X
				case *IndexExpr:
					base = n.X
				default:
					return "", false
				}
				if c, ok := base.(*ConstExpr); ok && c.Kind == ConstNone {
					return "access on None", true
				}
				return "", false
			},
		},
		{
			ID:          "infinite-loop",
			Severity:    SeverityMedium,
			Description: "while True without a reachable exit",
			Match: func(ctx *MatchContext, n Node) (string, bool) {
				loop, ok := n.(*WhileStmt)
				if !ok || !isAlwaysTrue(loop.Cond) {
					return "", false
				}
				if containsLoopBreak(loop.Body) {
					return "", false
				}
				return "while True loop has no break, return, or raise", true
			},
		},
		{
			ID:          "nested-loops",
			Severity:    SeverityLow,
			Description: "deeply nested loops",
			Match: func(ctx *MatchContext, n Node) (string, bool) {
				switch n.(type) {
				case *WhileStmt, *ForStmt:
				default:
					return "", false
				}
				if ctx.LoopDepth < 2 {
					return "", false
				}
				return fmt.Sprintf("loop nested %d levels deep", ctx.LoopDepth+1), true
			},
		},
		{
			ID:          "string-concat-in-loop",
			Severity:    SeverityLow,
			Description: "quadratic string building inside a loop",
			Match: func(ctx *MatchContext, n Node) (string, bool) {
				aug, ok := n.(*AugAssignStmt)
				if !ok || aug.Op != ADD || ctx.LoopDepth == 0 {
					return "", false
				}
				if c, ok := aug.Value.(*ConstExpr); ok && c.Kind == ConstStr {
					return "string concatenation in loop; use join()", true
				}
				if isComposedString(aug.Value) {
					return "string concatenation in loop; use join()", true
				}
				return "", false
			},
		},
		{
			ID:          "long-function",
			Severity:    SeverityLow,
			Description: "function exceeds the line-count threshold",
			MatchFunction: func(fn *FunctionDef) []PatternMatch {
				lines := fn.EndLine - fn.Line + 1
				if lines <= longFunctionLines {
					return nil
				}
				return []PatternMatch{{
					Line:    fn.Line,
					Message: fmt.Sprintf("function %s spans %d lines", fn.Name, lines),
				}}
			},
		},
		{
			ID:          "high-complexity",
			Severity:    SeverityMedium,
			Description: "function exceeds the cyclomatic-complexity threshold",
			MatchFunction: func(fn *FunctionDef) []PatternMatch {
				if fn.Complexity <= highComplexityLimit {
					return nil
				}
				return []PatternMatch{{
					Line:    fn.Line,
					Message: fmt.Sprintf("function %s has cyclomatic complexity %d", fn.Name, fn.Complexity),
				}}
			},
		},
		{
			ID:          "unused-variable",
			Severity:    SeverityLow,
			Description: "local assigned but never read",
			MatchFunction: func(fn *FunctionDef) []PatternMatch {
				return unusedLocals(fn)
			},
		},
		{
			ID:          "unused-import",
			Severity:    SeverityLow,
			Description: "imported name never used",
			MatchUnit: func(unit *ProgramUnit) []PatternMatch {
				return unusedImports(unit)
			},
		},
		{
			ID:          "division-by-zero",
			Severity:    SeverityHigh,
			Description: "division whose divisor may be zero",
			Match: func(ctx *MatchContext, n Node) (string, bool) {
				bin, ok := n.(*BinExpr)
				if !ok {
					return "", false
				}
				switch bin.Op {
				case DIV, FLOORDIV, MOD:
				default:
					return "", false
				}
				// A non-zero numeric literal can never be zero.
				if c, ok := bin.Y.(*ConstExpr); ok {
					if c.Kind == ConstInt && c.Int != 0 {
						return "", false
					}
					if c.Kind == ConstReal && c.Real != 0 {
						return "", false
					}
				}
				return "division by zero", true
			},
			PathCondition: func(site Site, n Node) Expr {
				divisor := site.Eval(n.(*BinExpr).Y)
				if divisor == nil || !divisor.Type().IsNumeric() {
					return nil
				}
				zero := Expr(NewConstantInt(0))
				if divisor.Type() == TypeReal {
					zero = NewConstantReal(0)
				}
				return NewBinaryExpr(EQ, divisor, zero)
			},
		},
		{
			ID:          "index-out-of-range",
			Severity:    SeverityMedium,
			Description: "subscript index may fall outside the sequence",
			Match: func(ctx *MatchContext, n Node) (string, bool) {
				idx, ok := n.(*IndexExpr)
				if !ok {
					return "", false
				}
				if _, ok := idx.X.(*NameExpr); !ok {
					return "", false
				}
				return "index out of range", true
			},
			PathCondition: func(site Site, n Node) Expr {
				idx := n.(*IndexExpr)
				index := site.Eval(idx.Index)
				if index == nil || index.Type() != TypeInt {
					return nil
				}

				var length Expr
				seq := site.Eval(idx.X)
				if seq != nil && seq.Type() == TypeString {
					length = NewLenExpr(seq)
				} else if name, ok := idx.X.(*NameExpr); ok {
					length = site.Length(name.Name)
				}
				if length == nil {
					return nil
				}
				return NewBinaryExpr(OR,
					NewBinaryExpr(LT, index, NewConstantInt(0)),
					NewBinaryExpr(GE, index, length),
				)
			},
		},
	}
}

// unusedLocals reports locals assigned in fn but never read.
func unusedLocals(fn *FunctionDef) []PatternMatch {
	assigned := make(map[string]int)
	reads := make(map[string]bool)

	scanReads := func(n Node) {
		Walk(n, func(child Node) bool {
			if name, ok := child.(*NameExpr); ok {
				reads[name.Name] = true
			}
			return true
		})
	}

	WalkBody(fn.Body, func(n Node) bool {
		switch n := n.(type) {
		case *AssignStmt:
			if name, ok := n.Target.(*NameExpr); ok {
				if _, ok := assigned[name.Name]; !ok {
					assigned[name.Name] = n.Pos()
				}
				scanReads(n.Value)
				return false
			}
		case *AugAssignStmt:
			// Augmented assignment reads its target.
		}
		if name, ok := n.(*NameExpr); ok {
			reads[name.Name] = true
		}
		return true
	})

	var out []PatternMatch
	names := make([]string, 0, len(assigned))
	for name := range assigned {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if reads[name] || name == "_" || strings.HasPrefix(name, "_") {
			continue
		}
		out = append(out, PatternMatch{
			Line:    assigned[name],
			Message: fmt.Sprintf("variable %q assigned but never used", name),
		})
	}
	return out
}

// unusedImports reports imported names never referenced in the unit.
func unusedImports(unit *ProgramUnit) []PatternMatch {
	reads := make(map[string]bool)
	scan := func(n Node) bool {
		switch n := n.(type) {
		case *NameExpr:
			reads[n.Name] = true
		case *AttrExpr:
			if base, ok := n.X.(*NameExpr); ok {
				reads[base.Name] = true
			}
		}
		return true
	}
	for _, fn := range unit.Functions {
		WalkBody(fn.Body, scan)
	}
	WalkBody(unit.Body, scan)

	var out []PatternMatch
	for _, imp := range unit.Imports {
		for _, name := range imp.Names {
			// "a.b" style imports bind their root name.
			root := name
			if i := strings.IndexByte(root, '.'); i >= 0 {
				root = root[:i]
			}
			if reads[root] {
				continue
			}
			out = append(out, PatternMatch{
				Line:    imp.Pos(),
				Message: fmt.Sprintf("import %q is unused", name),
			})
		}
	}
	return out
}

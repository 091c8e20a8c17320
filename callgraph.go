package sift

import (
	"fmt"
	"sort"
)

// Resolution grades how confidently a call edge was resolved.
type Resolution int

const (
	ResolutionUnknown = Resolution(iota)
	ResolutionHeuristic
	ResolutionCertain
)

var resolutionNames = [...]string{
	ResolutionUnknown:   "unknown",
	ResolutionHeuristic: "heuristic",
	ResolutionCertain:   "certain",
}

// String returns the string representation of the resolution.
func (r Resolution) String() string {
	if r >= 0 && r < Resolution(len(resolutionNames)) {
		return resolutionNames[r]
	}
	return fmt.Sprintf("Resolution<%d>", int(r))
}

// AtLeast returns true if r resolves at least as confidently as t.
func (r Resolution) AtLeast(t Resolution) bool { return r >= t }

// ParseResolution parses a resolution name.
func ParseResolution(s string) (Resolution, error) {
	for r, name := range resolutionNames {
		if name == s {
			return Resolution(r), nil
		}
	}
	return 0, fmt.Errorf("invalid resolution %q", s)
}

// CallGraphNode is one function in the frozen call graph.
type CallGraphNode struct {
	Fn  *FunctionDef
	In  int // resolved edges targeting this function
	Out int // resolved edges leaving this function
	scc int
}

// CallEdge is one call site, resolved to zero or more candidate callees.
type CallEdge struct {
	Caller     *FunctionDef
	Module     string
	SiteID     int // CallExpr node identity within the caller's unit
	Line       int
	Callee     string // syntactic callee name
	Resolution Resolution
	Candidates []*FunctionDef
}

type siteKey struct {
	module string
	id     int
}

// CallGraph is the frozen, immutable call graph of an analysis run.
type CallGraph struct {
	nodes map[string]*CallGraphNode
	order []*CallGraphNode
	sites map[siteKey]*CallEdge
	edges []*CallEdge
}

// Nodes returns the graph's nodes ordered by function identity.
func (g *CallGraph) Nodes() []*CallGraphNode { return g.order }

// Node returns the node for the function identity, or nil.
func (g *CallGraph) Node(id string) *CallGraphNode { return g.nodes[id] }

// Edges returns every call edge ordered by (module, line, site).
func (g *CallGraph) Edges() []*CallEdge { return g.edges }

// EdgeAt returns the edge for a call site, or nil for sites outside any
// function.
func (g *CallGraph) EdgeAt(module string, siteID int) *CallEdge {
	return g.sites[siteKey{module, siteID}]
}

// SameSCC returns true if a and b belong to the same strongly connected
// component, i.e. participate in a common recursion cycle.
func (g *CallGraph) SameSCC(a, b *FunctionDef) bool {
	na, nb := g.nodes[a.ID()], g.nodes[b.ID()]
	return na != nil && nb != nil && na.scc == nb.scc
}

// CallGraphStats summarizes the frozen graph.
type CallGraphStats struct {
	Nodes     int `json:"nodes"`
	Edges     int `json:"edges"`
	Certain   int `json:"certain"`
	Heuristic int `json:"heuristic"`
	Unknown   int `json:"unknown"`
}

// Stats returns edge counts per resolution grade.
func (g *CallGraph) Stats() CallGraphStats {
	stats := CallGraphStats{Nodes: len(g.order), Edges: len(g.edges)}
	for _, e := range g.edges {
		switch e.Resolution {
		case ResolutionCertain:
			stats.Certain++
		case ResolutionHeuristic:
			stats.Heuristic++
		default:
			stats.Unknown++
		}
	}
	return stats
}

// CallGraphBuilder accumulates program units and resolves call sites into a
// frozen CallGraph. Not safe for concurrent use; the built graph is.
type CallGraphBuilder struct {
	units []*ProgramUnit
}

// NewCallGraphBuilder returns an empty builder.
func NewCallGraphBuilder() *CallGraphBuilder {
	return &CallGraphBuilder{}
}

// AddUnit registers a unit's functions and call sites.
func (b *CallGraphBuilder) AddUnit(unit *ProgramUnit) {
	b.units = append(b.units, unit)
}

// Build resolves every call site and freezes the graph.
func (b *CallGraphBuilder) Build() *CallGraph {
	g := &CallGraph{
		nodes: make(map[string]*CallGraphNode),
		sites: make(map[siteKey]*CallEdge),
	}

	// Index functions by bare name and by method name across all units.
	byModule := make(map[string]map[string]*FunctionDef)
	byName := make(map[string][]*FunctionDef)
	byMethod := make(map[string][]*FunctionDef)
	for _, unit := range b.units {
		mod := byModule[unit.Module]
		if mod == nil {
			mod = make(map[string]*FunctionDef)
			byModule[unit.Module] = mod
		}
		for _, fn := range unit.Functions {
			g.nodes[fn.ID()] = &CallGraphNode{Fn: fn}
			if fn.Class == "" {
				mod[fn.Name] = fn
				byName[fn.Name] = append(byName[fn.Name], fn)
			} else {
				byMethod[fn.Name] = append(byMethod[fn.Name], fn)
			}
		}
	}

	for _, unit := range b.units {
		for _, fn := range unit.Functions {
			caller := fn
			WalkBody(fn.Body, func(n Node) bool {
				call, ok := n.(*CallExpr)
				if !ok {
					return true
				}
				edge := b.resolve(unit, caller, call, byModule, byName, byMethod)
				g.sites[siteKey{unit.Module, call.NodeID()}] = edge
				g.edges = append(g.edges, edge)
				return true
			})
		}
	}

	sort.Slice(g.edges, func(i, j int) bool {
		a, b := g.edges[i], g.edges[j]
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.SiteID < b.SiteID
	})

	for _, e := range g.edges {
		if len(e.Candidates) == 0 {
			continue
		}
		g.nodes[e.Caller.ID()].Out++
		for _, callee := range e.Candidates {
			g.nodes[callee.ID()].In++
		}
	}

	g.order = make([]*CallGraphNode, 0, len(g.nodes))
	for _, node := range g.nodes {
		g.order = append(g.order, node)
	}
	sort.Slice(g.order, func(i, j int) bool {
		return g.order[i].Fn.ID() < g.order[j].Fn.ID()
	})

	g.computeSCCs()
	return g
}

// resolve grades one call site.
func (b *CallGraphBuilder) resolve(unit *ProgramUnit, caller *FunctionDef, call *CallExpr,
	byModule map[string]map[string]*FunctionDef, byName, byMethod map[string][]*FunctionDef) *CallEdge {

	edge := &CallEdge{
		Caller: caller,
		Module: unit.Module,
		SiteID: call.NodeID(),
		Line:   call.Pos(),
		Callee: call.CalleeName(),
	}

	switch fnExpr := call.Func.(type) {
	case *NameExpr:
		name := fnExpr.Name

		// A name bound locally shadows any function of the same name; the
		// call target is a runtime value we cannot see.
		if caller.Scope != nil && caller.Scope.DeclaredLocally(name) {
			return edge
		}
		if target, ok := byModule[unit.Module][name]; ok {
			edge.Resolution = ResolutionCertain
			edge.Candidates = []*FunctionDef{target}
			return edge
		}
		if candidates := byName[name]; len(candidates) > 0 {
			edge.Resolution = ResolutionHeuristic
			edge.Candidates = sortedCandidates(candidates)
			return edge
		}
		return edge

	case *AttrExpr:
		// mod.f() resolves exactly when mod names a known module.
		if x, ok := fnExpr.X.(*NameExpr); ok {
			if target, ok := byModule[x.Name][fnExpr.Attr]; ok {
				edge.Resolution = ResolutionCertain
				edge.Candidates = []*FunctionDef{target}
				return edge
			}
		}
		// x.m() matches every method named m.
		if candidates := byMethod[fnExpr.Attr]; len(candidates) > 0 {
			edge.Resolution = ResolutionHeuristic
			edge.Candidates = sortedCandidates(candidates)
			return edge
		}
		return edge

	default:
		return edge
	}
}

func sortedCandidates(fns []*FunctionDef) []*FunctionDef {
	out := make([]*FunctionDef, len(fns))
	copy(out, fns)
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// computeSCCs runs Tarjan's algorithm over the resolved edges, assigning a
// component id to every node. Functions sharing a component form a
// recursion cycle.
func (g *CallGraph) computeSCCs() {
	succs := make(map[string][]string)
	for _, e := range g.edges {
		if len(e.Candidates) == 0 {
			continue
		}
		for _, callee := range e.Candidates {
			succs[e.Caller.ID()] = append(succs[e.Caller.ID()], callee.ID())
		}
	}

	index := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	next, comp := 0, 0

	var strongconnect func(v string)
	strongconnect = func(v string) {
		index[v] = next
		lowlink[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range succs[v] {
			if _, seen := index[w]; !seen {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && index[w] < lowlink[v] {
				lowlink[v] = index[w]
			}
		}

		if lowlink[v] == index[v] {
			comp++
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				g.nodes[w].scc = comp
				if w == v {
					break
				}
			}
		}
	}

	for _, node := range g.order {
		if _, seen := index[node.Fn.ID()]; !seen {
			strongconnect(node.Fn.ID())
		}
	}
}

package sift_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"github.com/siftlang/sift"
	"github.com/siftlang/sift/python"
)

// parseUnit lowers a Python snippet into a program unit named "m".
func parseUnit(tb testing.TB, src string) *sift.ProgramUnit {
	tb.Helper()
	unit, err := python.NewParser(nil).ParseSource(context.Background(), "m", "m.py", []byte(src))
	if err != nil {
		tb.Fatal(err)
	}
	return unit
}

// analyze runs the full pipeline over src with the enumerating test solver.
func analyze(tb testing.TB, src string, configure func(*sift.Config)) *sift.Report {
	tb.Helper()
	return analyzeWith(tb, src, &enumSolver{lo: -3, hi: 3}, configure)
}

func analyzeWith(tb testing.TB, src string, solver sift.Solver, configure func(*sift.Config)) *sift.Report {
	tb.Helper()
	config := sift.DefaultConfig()
	if configure != nil {
		configure(&config)
	}
	session, err := sift.NewSession(config, nil, solver)
	if err != nil {
		tb.Fatal(err)
	}
	report, err := session.Analyze(context.Background(), []*sift.ProgramUnit{parseUnit(tb, src)}, nil)
	if err != nil {
		tb.Fatal(err)
	}
	return report
}

func TestExecutor_DivisionByZero_Confirmed(t *testing.T) {
	report := analyze(t, `
def divide(a, b):
    return a / b
`, func(c *sift.Config) {
		c.EnabledPatterns = []string{"division-by-zero"}
	})

	if got, exp := len(report.Findings), 1; got != exp {
		t.Fatalf("findings=%d, expected %d: %s", got, exp, spew.Sdump(report.Findings))
	}
	f := report.Findings[0]
	if got, exp := f.PatternID, "division-by-zero"; got != exp {
		t.Fatalf("pattern=%s, expected %s", got, exp)
	} else if got, exp := f.Confidence, sift.ConfidenceConfirmed; got != exp {
		t.Fatalf("confidence=%s, expected %s", got, exp)
	} else if got, exp := f.Witness["b"], "0"; got != exp {
		t.Fatalf("witness[b]=%s, expected %s", got, exp)
	} else if got, exp := f.Function, "divide"; got != exp {
		t.Fatalf("function=%s, expected %s", got, exp)
	}

	// The witness must satisfy the defect predicate.
	b := sift.NewSymbolExpr("b", sift.TypeInt)
	pred := sift.NewBinaryExpr(sift.EQ, b, sift.NewConstantInt(0))
	if ok, err := sift.CheckWitness([]sift.Expr{pred}, f.Witness); err != nil {
		t.Fatal(err)
	} else if !ok {
		t.Fatal("witness does not satisfy the defect predicate")
	}
}

func TestExecutor_NonZeroLiteralDivisor_NoFinding(t *testing.T) {
	report := analyze(t, `
def halve(a):
    return a / 2
`, func(c *sift.Config) {
		c.EnabledPatterns = []string{"division-by-zero"}
	})
	if got, exp := len(report.Findings), 0; got != exp {
		t.Fatalf("findings=%d, expected %d: %+v", got, exp, report.Findings)
	}
}

func TestExecutor_InfeasiblePath_Pruned(t *testing.T) {
	report := analyze(t, `
def f(x):
    if x > 0:
        if x < 0:
            return 10 / x
    return 0
`, func(c *sift.Config) {
		c.EnabledPatterns = []string{"division-by-zero"}
	})
	if got, exp := len(report.Findings), 0; got != exp {
		t.Fatalf("findings=%d, expected %d: %+v", got, exp, report.Findings)
	}
}

func TestExecutor_GuardedDivision_NoFinding(t *testing.T) {
	report := analyze(t, `
def f(a, b):
    if b != 0:
        return a / b
    return 0
`, func(c *sift.Config) {
		c.EnabledPatterns = []string{"division-by-zero"}
	})
	if got, exp := len(report.Findings), 0; got != exp {
		t.Fatalf("findings=%d, expected %d: %+v", got, exp, report.Findings)
	}
}

func TestExecutor_ArbitraryExecution_Syntactic(t *testing.T) {
	report := analyze(t, `
def load(data):
    return eval(data)
`, func(c *sift.Config) {
		c.EnabledPatterns = []string{"arbitrary-execution"}
	})
	if got, exp := len(report.Findings), 1; got != exp {
		t.Fatalf("findings=%d, expected %d: %+v", got, exp, report.Findings)
	}
	f := report.Findings[0]
	if got, exp := f.Confidence, sift.ConfidenceSyntactic; got != exp {
		t.Fatalf("confidence=%s, expected %s", got, exp)
	} else if got, exp := f.Severity, sift.SeverityCritical; got != exp {
		t.Fatalf("severity=%s, expected %s", got, exp)
	}
}

// A loop past the unroll bound havocs its assigned names, so the divisor is
// unconstrained and the finding degrades to incomplete. A bound that covers
// the loop restores precision and confirms the defect.
func TestExecutor_LoopUnrollBound(t *testing.T) {
	const src = `
def f():
    i = 0
    while i < 4:
        i += 1
    return 10 / (i - 4)
`
	// The havocked divisor predicate needs i = 4, so the test solver's
	// domain must reach past the loop bound.
	t.Run("Havocked", func(t *testing.T) {
		report := analyzeWith(t, src, &enumSolver{lo: -3, hi: 5}, func(c *sift.Config) {
			c.LoopUnrollBound = 3
			c.EnabledPatterns = []string{"division-by-zero"}
		})
		if got, exp := len(report.Findings), 1; got != exp {
			t.Fatalf("findings=%d, expected %d: %+v", got, exp, report.Findings)
		}
		if got, exp := report.Findings[0].Confidence, sift.ConfidenceIncomplete; got != exp {
			t.Fatalf("confidence=%s, expected %s", got, exp)
		}
	})

	t.Run("FullyUnrolled", func(t *testing.T) {
		report := analyzeWith(t, src, &enumSolver{lo: -3, hi: 5}, func(c *sift.Config) {
			c.LoopUnrollBound = 5
			c.EnabledPatterns = []string{"division-by-zero"}
		})
		if got, exp := len(report.Findings), 1; got != exp {
			t.Fatalf("findings=%d, expected %d: %+v", got, exp, report.Findings)
		}
		if got, exp := report.Findings[0].Confidence, sift.ConfidenceConfirmed; got != exp {
			t.Fatalf("confidence=%s, expected %s", got, exp)
		}
	})
}

// Summaries apply per call site by substitution: the division in f is only
// reachable when sign returns zero, which the summary disjunction exposes.
func TestExecutor_CallSummary(t *testing.T) {
	report := analyze(t, `
def sign(x):
    if x > 0:
        return 1
    return 0

def f(a):
    s = sign(a)
    return 10 / s
`, func(c *sift.Config) {
		c.EnabledPatterns = []string{"division-by-zero"}
	})

	if got, exp := len(report.Findings), 1; got != exp {
		t.Fatalf("findings=%d, expected %d: %s", got, exp, spew.Sdump(report.Findings))
	}
	f := report.Findings[0]
	if got, exp := f.Function, "f"; got != exp {
		t.Fatalf("function=%s, expected %s", got, exp)
	} else if got, exp := f.Confidence, sift.ConfidenceConfirmed; got != exp {
		t.Fatalf("confidence=%s, expected %s", got, exp)
	}
}

func TestExecutor_SummaryCache_BuildsOnce(t *testing.T) {
	unit := parseUnit(t, `
def helper(x):
    return x + 1

def f(a):
    return helper(a)

def g(b):
    return helper(b)
`)
	builder := sift.NewCallGraphBuilder()
	builder.AddUnit(unit)
	graph := builder.Build()

	cache := sift.NewSummaryCache()
	executor := sift.NewExecutor(graph, &enumSolver{lo: -3, hi: 3}, cache, nil, sift.ExecutorOptions{
		MaxPathDepth:        64,
		LoopUnrollBound:     3,
		ConfidenceThreshold: sift.ResolutionHeuristic,
	})

	for _, name := range []string{"f", "g"} {
		if _, err := executor.ExploreFunction(unit.FunctionByName(name)); err != nil {
			t.Fatal(err)
		}
	}
	if got, exp := cache.Builds("m.helper"), 1; got != exp {
		t.Fatalf("builds=%d, expected %d", got, exp)
	}
}

// Recursion is explored inline under the unroll bound; the run completes and
// the recursive path degrades to incomplete rather than diverging.
func TestExecutor_Recursion_Terminates(t *testing.T) {
	report := analyze(t, `
def fact(n):
    if n <= 1:
        return 1
    return n * fact(n - 1)
`, func(c *sift.Config) {
		c.EnabledPatterns = []string{"division-by-zero"}
	})
	if got, exp := len(report.Findings), 0; got != exp {
		t.Fatalf("findings=%d, expected %d: %+v", got, exp, report.Findings)
	}
}

func TestExecutor_SolverTimeout_Degrades(t *testing.T) {
	report := analyzeWith(t, `
def divide(a, b):
    return a / b
`, &timeoutSolver{}, func(c *sift.Config) {
		c.EnabledPatterns = []string{"division-by-zero"}
	})

	if got, exp := len(report.Findings), 1; got != exp {
		t.Fatalf("findings=%d, expected %d: %+v", got, exp, report.Findings)
	}
	if got, exp := report.Findings[0].Confidence, sift.ConfidenceIncomplete; got != exp {
		t.Fatalf("confidence=%s, expected %s", got, exp)
	}
	if report.Metadata.SolverTimeouts == 0 {
		t.Fatal("expected solver timeouts in metadata")
	}
}

func TestExecutor_MaxPathDepth_Truncates(t *testing.T) {
	unit := parseUnit(t, `
def f(x):
    if x > 0:
        x = x + 1
    if x > 1:
        x = x + 1
    if x > 2:
        x = x + 1
    return x
`)
	builder := sift.NewCallGraphBuilder()
	builder.AddUnit(unit)

	cache := sift.NewSummaryCache()
	executor := sift.NewExecutor(builder.Build(), &enumSolver{lo: -3, hi: 3}, cache, nil, sift.ExecutorOptions{
		MaxPathDepth:        2,
		LoopUnrollBound:     3,
		ConfidenceThreshold: sift.ResolutionHeuristic,
	})
	result, err := executor.ExploreFunction(unit.FunctionByName("f"))
	if err != nil {
		t.Fatal(err)
	}

	incomplete := false
	for _, entry := range result.Entries {
		if entry.Incomplete {
			incomplete = true
		}
	}
	if !incomplete {
		t.Fatal("expected truncated paths to record incomplete entries")
	}
}

// Subscript candidates fire for stores exactly as for reads.
func TestExecutor_IndexOutOfRange_StoreTarget(t *testing.T) {
	t.Run("Store", func(t *testing.T) {
		report := analyze(t, `
def f():
    arr = [1, 2]
    arr[5] = 0
`, func(c *sift.Config) {
			c.EnabledPatterns = []string{"index-out-of-range"}
		})
		if got, exp := len(report.Findings), 1; got != exp {
			t.Fatalf("findings=%d, expected %d: %s", got, exp, spew.Sdump(report.Findings))
		}
		f := report.Findings[0]
		if got, exp := f.PatternID, "index-out-of-range"; got != exp {
			t.Fatalf("pattern=%s, expected %s", got, exp)
		} else if got, exp := f.Confidence, sift.ConfidenceConfirmed; got != exp {
			t.Fatalf("confidence=%s, expected %s", got, exp)
		}
	})

	t.Run("Read", func(t *testing.T) {
		report := analyze(t, `
def f():
    arr = [1, 2]
    return arr[5]
`, func(c *sift.Config) {
			c.EnabledPatterns = []string{"index-out-of-range"}
		})
		if got, exp := len(report.Findings), 1; got != exp {
			t.Fatalf("findings=%d, expected %d: %s", got, exp, spew.Sdump(report.Findings))
		}
	})

	t.Run("InBoundsStore", func(t *testing.T) {
		report := analyze(t, `
def f():
    arr = [1, 2]
    arr[1] = 0
`, func(c *sift.Config) {
			c.EnabledPatterns = []string{"index-out-of-range"}
		})
		if got, exp := len(report.Findings), 0; got != exp {
			t.Fatalf("findings=%d, expected %d: %s", got, exp, spew.Sdump(report.Findings))
		}
	})
}

// Two runs over the same input must produce identical ordered findings.
func TestSession_DeterministicAcrossRuns(t *testing.T) {
	const src = `
import pickle

def divide(a, b):
    return a / b

def load(data):
    return pickle.loads(data)

def guarded(a, b):
    if b != 0:
        return a / b
    return 0
`
	run := func() []sift.Finding {
		return analyze(t, src, nil).Findings
	}

	first := run()
	if len(first) == 0 {
		t.Fatal("expected findings")
	}
	for i := 0; i < 3; i++ {
		if diff := cmp.Diff(first, run()); diff != "" {
			t.Fatalf("findings differ between runs (-first +rerun):\n%s", diff)
		}
	}
}

func TestSearcher(t *testing.T) {
	t.Run("DFS", func(t *testing.T) {
		s := sift.NewDFSSearcher()
		if _, err := s.Select(); err != sift.ErrNoStateAvailable {
			t.Fatalf("err=%v, expected %v", err, sift.ErrNoStateAvailable)
		}
	})
	t.Run("BFS", func(t *testing.T) {
		s := sift.NewBFSSearcher()
		if _, err := s.Select(); err != sift.ErrNoStateAvailable {
			t.Fatalf("err=%v, expected %v", err, sift.ErrNoStateAvailable)
		}
	})
}

// enumSolver decides satisfiability by enumerating a small integer domain.
// It is deterministic: symbols are assigned in sorted order, values low to
// high, so the first witness is stable across runs.
type enumSolver struct {
	lo, hi int64
}

func (s *enumSolver) Solve(constraints []sift.Expr) (bool, sift.Witness, error) {
	symbols := sift.FindSymbols(constraints...)

	names := make([]string, len(symbols))
	booleans := make([]bool, len(symbols))
	for i, sym := range symbols {
		names[i] = sym.Name
		if sym.Typ == sift.TypeString {
			names[i] = sift.LenSymbolName(sym.Name)
		}
		booleans[i] = sym.Typ == sift.TypeBool
	}

	env := make(map[string]float64, len(names))
	var search func(i int) bool
	search = func(i int) bool {
		if i == len(names) {
			ok, err := sift.NewExprEvaluator(env).Holds(constraints)
			return err == nil && ok
		}
		if booleans[i] {
			for _, v := range []float64{0, 1} {
				env[names[i]] = v
				if search(i + 1) {
					return true
				}
			}
		} else {
			for v := s.lo; v <= s.hi; v++ {
				env[names[i]] = float64(v)
				if search(i + 1) {
					return true
				}
			}
		}
		delete(env, names[i])
		return false
	}
	if !search(0) {
		return false, nil, nil
	}

	witness := make(sift.Witness, len(env))
	for name, v := range env {
		witness[name] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return true, witness, nil
}

// timeoutSolver times out on every query.
type timeoutSolver struct{}

func (s *timeoutSolver) Solve(constraints []sift.Expr) (bool, sift.Witness, error) {
	return false, nil, sift.ErrSolverTimeout
}

package sift_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/siftlang/sift"
)

func matchAll(t *testing.T, src string) ([]sift.Finding, []sift.Candidate) {
	t.Helper()
	patterns, err := sift.DefaultRegistry().Enabled(nil)
	if err != nil {
		t.Fatal(err)
	}
	return sift.NewMatcher(patterns).MatchUnit(parseUnit(t, src))
}

func findingsFor(findings []sift.Finding, id string) []sift.Finding {
	var out []sift.Finding
	for _, f := range findings {
		if f.PatternID == id {
			out = append(out, f)
		}
	}
	return out
}

func candidatesFor(candidates []sift.Candidate, id string) []sift.Candidate {
	var out []sift.Candidate
	for _, c := range candidates {
		if c.Pattern.ID == id {
			out = append(out, c)
		}
	}
	return out
}

func TestPattern_ArbitraryExecution(t *testing.T) {
	findings, _ := matchAll(t, `
import pickle

def f(src, data):
    eval(src)
    return pickle.loads(data)
`)

	hits := findingsFor(findings, "arbitrary-execution")
	if got, exp := len(hits), 2; got != exp {
		t.Fatalf("findings=%d, expected %d: %v", got, exp, hits)
	} else if got, exp := hits[0].Severity, sift.SeverityCritical; got != exp {
		t.Fatalf("severity=%s, expected %s", got, exp)
	} else if got, exp := hits[0].Confidence, sift.ConfidenceSyntactic; got != exp {
		t.Fatalf("confidence=%s, expected %s", got, exp)
	}

	// Reading stdin is not code execution.
	findings, _ = matchAll(t, `
def prompt():
    return input()
`)
	if got, exp := len(findingsFor(findings, "arbitrary-execution")), 0; got != exp {
		t.Fatalf("findings=%d, expected %d", got, exp)
	}
}

func TestPattern_CommandInjection(t *testing.T) {
	findings, _ := matchAll(t, `
import os

def f(cmd):
    os.system(cmd)
    os.system("ls -l")
`)

	hits := findingsFor(findings, "command-injection")
	if got, exp := len(hits), 1; got != exp {
		t.Fatalf("findings=%d, expected %d: %v", got, exp, hits)
	}
	if !strings.Contains(hits[0].Message, "os.system") {
		t.Fatalf("unexpected message: %s", hits[0].Message)
	}
}

func TestPattern_SQLInjection(t *testing.T) {
	findings, _ := matchAll(t, `
def f(cursor, name, query):
    cursor.execute("select * from users where name = " + name)
    cursor.execute(query)
`)

	if got, exp := len(findingsFor(findings, "sql-injection")), 1; got != exp {
		t.Fatalf("findings=%d, expected %d", got, exp)
	}
}

func TestPattern_HardcodedSecret(t *testing.T) {
	findings, _ := matchAll(t, `
def f():
    db_password = "hunter2"
    password = load_credential()
    retries = 3
`)

	hits := findingsFor(findings, "hardcoded-secret")
	if got, exp := len(hits), 1; got != exp {
		t.Fatalf("findings=%d, expected %d: %v", got, exp, hits)
	}
	if !strings.Contains(hits[0].Message, "db_password") {
		t.Fatalf("unexpected message: %s", hits[0].Message)
	}
}

func TestPattern_NullDereference(t *testing.T) {
	findings, _ := matchAll(t, `
def f():
    return None.value
`)

	if got, exp := len(findingsFor(findings, "null-dereference")), 1; got != exp {
		t.Fatalf("findings=%d, expected %d", got, exp)
	}
}

func TestPattern_InfiniteLoop(t *testing.T) {
	findings, _ := matchAll(t, `
def spin():
    while True:
        pass

def poll(q):
    while True:
        if q:
            break
`)

	hits := findingsFor(findings, "infinite-loop")
	if got, exp := len(hits), 1; got != exp {
		t.Fatalf("findings=%d, expected %d: %v", got, exp, hits)
	} else if got, exp := hits[0].Function, "spin"; got != exp {
		t.Fatalf("function=%s, expected %s", got, exp)
	}
}

func TestPattern_NestedLoops(t *testing.T) {
	findings, _ := matchAll(t, `
def f(xs, ys, zs):
    for x in xs:
        for y in ys:
            for z in zs:
                total = z
`)

	hits := findingsFor(findings, "nested-loops")
	if got, exp := len(hits), 1; got != exp {
		t.Fatalf("findings=%d, expected %d: %v", got, exp, hits)
	}
	if got, exp := hits[0].Message, "loop nested 3 levels deep"; got != exp {
		t.Fatalf("message=%q, expected %q", got, exp)
	}
}

func TestPattern_StringConcatInLoop(t *testing.T) {
	findings, _ := matchAll(t, `
def f(items):
    out = ""
    for item in items:
        out += ","
    out += "!"
    return out
`)

	if got, exp := len(findingsFor(findings, "string-concat-in-loop")), 1; got != exp {
		t.Fatalf("findings=%d, expected %d", got, exp)
	}
}

func TestPattern_LongFunction(t *testing.T) {
	src := "def f():\n" + strings.Repeat("    pass\n", 55)
	findings, _ := matchAll(t, src)

	hits := findingsFor(findings, "long-function")
	if got, exp := len(hits), 1; got != exp {
		t.Fatalf("findings=%d, expected %d", got, exp)
	}
	if !strings.Contains(hits[0].Message, "56 lines") {
		t.Fatalf("unexpected message: %s", hits[0].Message)
	}
}

func TestPattern_HighComplexity(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("def f(x):\n")
	for i := 0; i < 11; i++ {
		fmt.Fprintf(&sb, "    if x > %d:\n        x = %d\n", i, i)
	}
	sb.WriteString("    return x\n")
	findings, _ := matchAll(t, sb.String())

	hits := findingsFor(findings, "high-complexity")
	if got, exp := len(hits), 1; got != exp {
		t.Fatalf("findings=%d, expected %d", got, exp)
	}
	if !strings.Contains(hits[0].Message, "complexity 12") {
		t.Fatalf("unexpected message: %s", hits[0].Message)
	}
}

func TestPattern_UnusedVariable(t *testing.T) {
	findings, _ := matchAll(t, `
def f(a):
    unused = a
    _scratch = a
    kept = a
    return kept
`)

	hits := findingsFor(findings, "unused-variable")
	if got, exp := len(hits), 1; got != exp {
		t.Fatalf("findings=%d, expected %d: %v", got, exp, hits)
	}
	if !strings.Contains(hits[0].Message, `"unused"`) {
		t.Fatalf("unexpected message: %s", hits[0].Message)
	}
}

func TestPattern_UnusedImport(t *testing.T) {
	findings, _ := matchAll(t, `
import os
import json

def f(x):
    return json.dumps(x)
`)

	hits := findingsFor(findings, "unused-import")
	if got, exp := len(hits), 1; got != exp {
		t.Fatalf("findings=%d, expected %d: %v", got, exp, hits)
	}
	if !strings.Contains(hits[0].Message, `"os"`) {
		t.Fatalf("unexpected message: %s", hits[0].Message)
	}
}

func TestPattern_PathDependentBecomesCandidate(t *testing.T) {
	findings, candidates := matchAll(t, `
def f(a, b):
    return a / b
`)

	if got, exp := len(findingsFor(findings, "division-by-zero")), 0; got != exp {
		t.Fatalf("findings=%d, expected %d", got, exp)
	}
	hits := candidatesFor(candidates, "division-by-zero")
	if got, exp := len(hits), 1; got != exp {
		t.Fatalf("candidates=%d, expected %d", got, exp)
	} else if got, exp := hits[0].Fn.Name, "f"; got != exp {
		t.Fatalf("fn=%s, expected %s", got, exp)
	}
}

func TestPattern_ModuleLevelHitStaysSyntactic(t *testing.T) {
	findings, candidates := matchAll(t, `
x = read_scale()
y = 100 / x
`)

	if got, exp := len(candidatesFor(candidates, "division-by-zero")), 0; got != exp {
		t.Fatalf("candidates=%d, expected %d", got, exp)
	}
	hits := findingsFor(findings, "division-by-zero")
	if got, exp := len(hits), 1; got != exp {
		t.Fatalf("findings=%d, expected %d: %v", got, exp, hits)
	} else if got, exp := hits[0].Confidence, sift.ConfidenceSyntactic; got != exp {
		t.Fatalf("confidence=%s, expected %s", got, exp)
	}
}

func TestPattern_NonZeroLiteralDivisorSkipped(t *testing.T) {
	findings, candidates := matchAll(t, `
def f(a):
    return a / 2
`)

	if n := len(findingsFor(findings, "division-by-zero")) + len(candidatesFor(candidates, "division-by-zero")); n != 0 {
		t.Fatalf("expected no hits, got %d", n)
	}
}

func TestRegistry_Enabled(t *testing.T) {
	r := sift.DefaultRegistry()

	all, err := r.Enabled(nil)
	if err != nil {
		t.Fatal(err)
	} else if got, exp := len(all), len(r.IDs()); got != exp {
		t.Fatalf("len=%d, expected %d", got, exp)
	}

	subset, err := r.Enabled([]string{"unused-import", "division-by-zero"})
	if err != nil {
		t.Fatal(err)
	} else if got, exp := subset[0].ID, "division-by-zero"; got != exp {
		t.Fatalf("patterns[0]=%s, expected %s", got, exp)
	}

	if _, err := r.Enabled([]string{"no-such-pattern"}); err == nil {
		t.Fatal("expected error for unknown id")
	}
	if _, err := r.Enabled([]string{"unused-import", "unused-import"}); err == nil {
		t.Fatal("expected error for duplicate id")
	}
}

package sift_test

import (
	"testing"

	"github.com/siftlang/sift"
)

func TestAggregator_HigherConfidenceWins(t *testing.T) {
	agg := sift.NewAggregator()
	base := sift.Finding{
		PatternID: "division-by-zero",
		Module:    "app",
		Line:      10,
	}

	incomplete := base
	incomplete.Confidence = sift.ConfidenceIncomplete
	agg.Add(incomplete)

	confirmed := base
	confirmed.Confidence = sift.ConfidenceConfirmed
	confirmed.Witness = sift.Witness{"b": "0"}
	agg.Add(confirmed)

	// A later, weaker duplicate must not replace the confirmed one.
	agg.Add(incomplete)

	result := agg.Result()
	if got, exp := len(result), 1; got != exp {
		t.Fatalf("len=%d, expected %d", got, exp)
	} else if got, exp := result[0].Confidence, sift.ConfidenceConfirmed; got != exp {
		t.Fatalf("confidence=%s, expected %s", got, exp)
	} else if got, exp := result[0].Witness["b"], "0"; got != exp {
		t.Fatalf("witness=%s, expected %s", got, exp)
	}
}

func TestAggregator_DistinctPathsKept(t *testing.T) {
	agg := sift.NewAggregator()
	for _, sig := range []string{"p1", "p2"} {
		agg.Add(sift.Finding{
			PatternID:     "division-by-zero",
			Module:        "app",
			Line:          10,
			Confidence:    sift.ConfidenceConfirmed,
			PathSignature: sig,
		})
	}

	if got, exp := agg.Len(), 2; got != exp {
		t.Fatalf("len=%d, expected %d", got, exp)
	}
}

func TestAggregator_ConfirmedSuppressesSyntactic(t *testing.T) {
	agg := sift.NewAggregator()
	agg.Add(sift.Finding{
		PatternID:  "division-by-zero",
		Module:     "app",
		Line:       10,
		Confidence: sift.ConfidenceSyntactic,
	})
	agg.Add(sift.Finding{
		PatternID:     "division-by-zero",
		Module:        "app",
		Line:          10,
		Confidence:    sift.ConfidenceConfirmed,
		PathSignature: "p1",
	})

	// Distinct keys, but the confirmed occurrence owns the site.
	result := agg.Result()
	if got, exp := len(result), 1; got != exp {
		t.Fatalf("len=%d, expected %d: %v", got, exp, result)
	} else if got, exp := result[0].Confidence, sift.ConfidenceConfirmed; got != exp {
		t.Fatalf("confidence=%s, expected %s", got, exp)
	}
}

func TestAggregator_DeterministicOrder(t *testing.T) {
	agg := sift.NewAggregator()
	agg.AddAll([]sift.Finding{
		{PatternID: "unused-import", Module: "zeta", Line: 1},
		{PatternID: "unused-variable", Module: "app", Line: 20},
		{PatternID: "division-by-zero", Module: "app", Line: 20},
		{PatternID: "infinite-loop", Module: "app", Line: 5},
	})

	result := agg.Result()
	exp := []struct {
		module  string
		line    int
		pattern string
	}{
		{"app", 5, "infinite-loop"},
		{"app", 20, "division-by-zero"},
		{"app", 20, "unused-variable"},
		{"zeta", 1, "unused-import"},
	}
	if got := len(result); got != len(exp) {
		t.Fatalf("len=%d, expected %d", got, len(exp))
	}
	for i, e := range exp {
		if result[i].Module != e.module || result[i].Line != e.line || result[i].PatternID != e.pattern {
			t.Fatalf("result[%d]=%s:%d:%s, expected %s:%d:%s",
				i, result[i].Module, result[i].Line, result[i].PatternID, e.module, e.line, e.pattern)
		}
	}
}

func TestParseSeverity(t *testing.T) {
	for _, tt := range []struct {
		in  string
		exp sift.Severity
	}{
		{"low", sift.SeverityLow},
		{"medium", sift.SeverityMedium},
		{"high", sift.SeverityHigh},
		{"critical", sift.SeverityCritical},
	} {
		sev, err := sift.ParseSeverity(tt.in)
		if err != nil {
			t.Fatal(err)
		} else if sev != tt.exp {
			t.Fatalf("ParseSeverity(%q)=%s, expected %s", tt.in, sev, tt.exp)
		}
	}

	if _, err := sift.ParseSeverity("fatal"); err == nil {
		t.Fatal("expected error")
	}
}

func TestReport_MaxSeverity(t *testing.T) {
	report := &sift.Report{Findings: []sift.Finding{
		{Severity: sift.SeverityLow},
		{Severity: sift.SeverityCritical},
		{Severity: sift.SeverityMedium},
	}}

	sev, ok := report.MaxSeverity()
	if !ok {
		t.Fatal("expected a severity")
	} else if got, exp := sev, sift.SeverityCritical; got != exp {
		t.Fatalf("severity=%s, expected %s", got, exp)
	}

	if _, ok := (&sift.Report{}).MaxSeverity(); ok {
		t.Fatal("expected no severity for empty report")
	}
}

package sift

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Confidence grades how a finding was established. Confirmed findings
// supersede syntactic or incomplete ones for the same site and path.
type Confidence int

const (
	ConfidenceSyntactic = Confidence(iota)
	ConfidenceIncomplete
	ConfidenceConfirmed
)

var confidenceNames = [...]string{
	ConfidenceSyntactic:  "syntactic",
	ConfidenceIncomplete: "incomplete",
	ConfidenceConfirmed:  "confirmed",
}

// String returns the string representation of the confidence.
func (c Confidence) String() string {
	if c >= 0 && c < Confidence(len(confidenceNames)) {
		return confidenceNames[c]
	}
	return fmt.Sprintf("Confidence<%d>", int(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c Confidence) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Severity ranks the impact of a defect pattern.
type Severity int

const (
	SeverityLow = Severity(iota)
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

// String returns the string representation of the severity.
func (s Severity) String() string {
	if s >= 0 && s < Severity(len(severityNames)) {
		return severityNames[s]
	}
	return fmt.Sprintf("Severity<%d>", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseSeverity parses a severity name.
func ParseSeverity(s string) (Severity, error) {
	for sev, name := range severityNames {
		if name == s {
			return Severity(sev), nil
		}
	}
	return 0, fmt.Errorf("invalid severity %q", s)
}

// Finding is one reported defect occurrence.
type Finding struct {
	PatternID     string     `json:"pattern"`
	Module        string     `json:"module"`
	Path          string     `json:"path"`
	Function      string     `json:"function,omitempty"`
	Line          int        `json:"line"`
	EndLine       int        `json:"end_line,omitempty"`
	Severity      Severity   `json:"severity"`
	Confidence    Confidence `json:"confidence"`
	Message       string     `json:"message"`
	Witness       Witness    `json:"witness,omitempty"`
	PathSignature string     `json:"-"`
}

type findingKey struct {
	pattern string
	module  string
	line    int
	pathSig string
}

// Aggregator deduplicates findings and produces the final deterministic
// report order. Safe for concurrent Add.
type Aggregator struct {
	mu       sync.Mutex
	findings map[findingKey]Finding
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{findings: make(map[findingKey]Finding)}
}

// Add records a finding. A finding for an already-seen (pattern, module,
// line, path) key replaces the stored one only if its confidence is higher.
func (a *Aggregator) Add(f Finding) {
	key := findingKey{f.PatternID, f.Module, f.Line, f.PathSignature}

	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.findings[key]; ok && prev.Confidence >= f.Confidence {
		return
	}
	a.findings[key] = f
}

// AddAll records each finding.
func (a *Aggregator) AddAll(findings []Finding) {
	for _, f := range findings {
		a.Add(f)
	}
}

// Len returns the number of distinct findings collected so far.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.findings)
}

// Result returns the findings sorted by (module, line, pattern id). A
// confirmed finding suppresses a syntactic finding for the same pattern and
// site regardless of path signature.
func (a *Aggregator) Result() []Finding {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Sites with a confirmed occurrence; syntactic duplicates drop out.
	confirmed := make(map[findingKey]bool)
	for key, f := range a.findings {
		if f.Confidence == ConfidenceConfirmed {
			key.pathSig = ""
			confirmed[key] = true
		}
	}

	out := make([]Finding, 0, len(a.findings))
	for key, f := range a.findings {
		if f.Confidence != ConfidenceConfirmed {
			key.pathSig = ""
			if confirmed[key] {
				continue
			}
		}
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.PatternID != b.PatternID {
			return a.PatternID < b.PatternID
		}
		return a.PathSignature < b.PathSignature
	})
	return out
}

// SkippedFile records a source file excluded from analysis and why.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// AnalysisError records a per-function failure that did not abort the run.
type AnalysisError struct {
	Module   string `json:"module"`
	Function string `json:"function"`
	Err      string `json:"error"`
}

// RunMetadata describes one analysis run.
type RunMetadata struct {
	RunID           string          `json:"run_id"`
	StartedAt       time.Time       `json:"started_at"`
	Duration        time.Duration   `json:"duration"`
	FilesAnalyzed   int             `json:"files_analyzed"`
	Skipped         []SkippedFile   `json:"skipped,omitempty"`
	MaxPathDepth    int             `json:"max_path_depth"`
	LoopUnrollBound int             `json:"loop_unroll_bound"`
	SolverTimeouts  int64           `json:"solver_timeouts"`
	AnalysisErrors  []AnalysisError `json:"analysis_errors,omitempty"`
	CallGraph       CallGraphStats  `json:"call_graph"`
}

// Report is the complete result of an analysis run.
type Report struct {
	Findings []Finding   `json:"findings"`
	Metadata RunMetadata `json:"metadata"`
}

// MaxSeverity returns the highest severity among the findings, and false if
// there are none.
func (r *Report) MaxSeverity() (Severity, bool) {
	if len(r.Findings) == 0 {
		return 0, false
	}
	max := r.Findings[0].Severity
	for _, f := range r.Findings[1:] {
		if f.Severity > max {
			max = f.Severity
		}
	}
	return max, true
}

package sift

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config bounds an analysis run. A zero value is not usable; start from
// DefaultConfig.
type Config struct {
	// MaxPathDepth caps the number of basic blocks traversed per path.
	MaxPathDepth int

	// LoopUnrollBound caps back-edge crossings per loop and recursive call
	// depth; past it the executor havocs.
	LoopUnrollBound int

	// SolverTimeout is the per-query solver budget. It degrades findings to
	// incomplete; it never cancels the run.
	SolverTimeout time.Duration

	// EnabledPatterns selects pattern ids; empty enables all registered.
	EnabledPatterns []string

	// CallGraphConfidenceThreshold is the weakest edge resolution the
	// executor will follow; weaker edges are havocked.
	CallGraphConfidenceThreshold Resolution

	// Workers bounds concurrent function explorations; 0 means GOMAXPROCS.
	Workers int

	Logger *zap.Logger
}

// DefaultConfig returns the standard bounds.
func DefaultConfig() Config {
	return Config{
		MaxPathDepth:                 64,
		LoopUnrollBound:              3,
		SolverTimeout:                2 * time.Second,
		CallGraphConfidenceThreshold: ResolutionHeuristic,
	}
}

// Validate reports configuration errors. Invalid configuration is fatal at
// startup; it is never corrected silently.
func (c *Config) Validate(registry *Registry) error {
	if c.MaxPathDepth <= 0 {
		return fmt.Errorf("max_path_depth must be positive, got %d", c.MaxPathDepth)
	}
	if c.LoopUnrollBound <= 0 {
		return fmt.Errorf("loop_unroll_bound must be positive, got %d", c.LoopUnrollBound)
	}
	if c.SolverTimeout <= 0 {
		return fmt.Errorf("solver_timeout_ms must be positive, got %s", c.SolverTimeout)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	if c.CallGraphConfidenceThreshold < ResolutionHeuristic || c.CallGraphConfidenceThreshold > ResolutionCertain {
		return fmt.Errorf("call_graph_confidence_threshold must be heuristic or certain")
	}
	if _, err := registry.Enabled(c.EnabledPatterns); err != nil {
		return err
	}
	return nil
}

// Session runs analyses with a fixed configuration, pattern registry, and
// solver.
type Session struct {
	config   Config
	registry *Registry
	solver   Solver
	logger   *zap.Logger
}

// NewSession validates the configuration and returns a session.
func NewSession(config Config, registry *Registry, solver Solver) (*Session, error) {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if err := config.Validate(registry); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Session{
		config:   config,
		registry: registry,
		solver:   solver,
		logger:   config.Logger,
	}, nil
}

// Analyze runs the full pipeline over the parsed units: call graph
// construction, structural matching, symbolic confirmation, aggregation.
// Per-function failures are recorded in the metadata; only context
// cancellation aborts the run.
func (s *Session) Analyze(ctx context.Context, units []*ProgramUnit, skipped []SkippedFile) (*Report, error) {
	started := time.Now()
	runID := uuid.NewString()
	logger := s.logger.With(zap.String("run_id", runID))

	logger.Info("analysis started",
		zap.Int("units", len(units)),
		zap.Int("skipped", len(skipped)))

	builder := NewCallGraphBuilder()
	for _, unit := range units {
		builder.AddUnit(unit)
	}
	graph := builder.Build()

	patterns, err := s.registry.Enabled(s.config.EnabledPatterns)
	if err != nil {
		return nil, err
	}
	matcher := NewMatcher(patterns)

	aggregator := NewAggregator()
	var candidates []Candidate
	for _, unit := range units {
		findings, unitCandidates := matcher.MatchUnit(unit)
		aggregator.AddAll(findings)
		candidates = append(candidates, unitCandidates...)
	}
	logger.Debug("structural matching done",
		zap.Int("syntactic", aggregator.Len()),
		zap.Int("candidates", len(candidates)))

	cache := NewSummaryCache()
	executor := NewExecutor(graph, s.solver, cache, candidates, ExecutorOptions{
		MaxPathDepth:        s.config.MaxPathDepth,
		LoopUnrollBound:     s.config.LoopUnrollBound,
		ConfidenceThreshold: s.config.CallGraphConfidenceThreshold,
		Logger:              logger,
	})

	var mu sync.Mutex
	var analysisErrors []AnalysisError

	workers := s.config.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, unit := range units {
		unit := unit
		for _, fn := range unit.Functions {
			fn := fn
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				result, err := s.exploreSafely(executor, fn)
				if err != nil {
					mu.Lock()
					analysisErrors = append(analysisErrors, AnalysisError{
						Module:   fn.Module,
						Function: fn.Name,
						Err:      err.Error(),
					})
					mu.Unlock()
					logger.Warn("function analysis failed",
						zap.String("function", fn.QualifiedName),
						zap.Error(err))
					return nil
				}
				aggregator.AddAll(withPath(result.Findings, unit.Path))
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(analysisErrors, func(i, j int) bool {
		a, b := analysisErrors[i], analysisErrors[j]
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		return a.Function < b.Function
	})

	report := &Report{
		Findings: aggregator.Result(),
		Metadata: RunMetadata{
			RunID:           runID,
			StartedAt:       started,
			Duration:        time.Since(started),
			FilesAnalyzed:   len(units),
			Skipped:         skipped,
			MaxPathDepth:    s.config.MaxPathDepth,
			LoopUnrollBound: s.config.LoopUnrollBound,
			SolverTimeouts:  executor.SolverTimeouts(),
			AnalysisErrors:  analysisErrors,
			CallGraph:       graph.Stats(),
		},
	}

	logger.Info("analysis finished",
		zap.Int("findings", len(report.Findings)),
		zap.Int64("solver_timeouts", report.Metadata.SolverTimeouts),
		zap.Duration("duration", report.Metadata.Duration))
	return report, nil
}

// exploreSafely isolates panics inside one function's exploration.
func (s *Session) exploreSafely(executor *Executor, fn *FunctionDef) (result *FunctionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return executor.ExploreFunction(fn)
}

// withPath stamps the unit path onto executor findings, which only know
// their module.
func withPath(findings []Finding, path string) []Finding {
	out := make([]Finding, len(findings))
	for i, f := range findings {
		f.Path = path
		out[i] = f
	}
	return out
}

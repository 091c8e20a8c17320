package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/siftlang/sift"
	"github.com/siftlang/sift/python"
	"github.com/siftlang/sift/z3"
)

func newAnalyzeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "analyze <path>",
		Short: "Analyze a file or directory of Python source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadConfig(cmd, configFile)
			if err != nil {
				return err
			}
			return runAnalyze(cmd, v, args[0])
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (default sift.yaml in the working directory)")
	cmd.Flags().Int("max-path-depth", 0, "maximum basic blocks per symbolic path")
	cmd.Flags().Int("loop-unroll-bound", 0, "loop iterations and recursion depth explored before havoc")
	cmd.Flags().Int("solver-timeout-ms", 0, "per-query solver budget in milliseconds")
	cmd.Flags().StringSlice("patterns", nil, "pattern ids to enable (default all)")
	cmd.Flags().String("confidence-threshold", "", "weakest call edge the executor follows (heuristic|certain)")
	cmd.Flags().Int("workers", 0, "concurrent function explorations (default GOMAXPROCS)")
	cmd.Flags().String("format", "table", "output format (table|json)")
	cmd.Flags().StringP("output", "o", "", "write the report to a file instead of stdout")
	cmd.Flags().String("fail-on", "low", "lowest severity that fails the run (low|medium|high|critical)")
	cmd.Flags().String("log-level", "warn", "log level (debug|info|warn|error)")
	cmd.Flags().String("log-file", "", "also log JSON to a rotated file")
	return cmd
}

// loadConfig merges flags over environment over config file. Flag names map
// to config keys with underscores (max-path-depth -> max_path_depth).
func loadConfig(cmd *cobra.Command, configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("SIFT")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("sift")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var bindErr error
	for _, name := range []string{
		"max-path-depth", "loop-unroll-bound", "solver-timeout-ms",
		"patterns", "confidence-threshold", "workers",
		"format", "output", "fail-on", "log-level", "log-file",
	} {
		key := strings.ReplaceAll(name, "-", "_")
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil && bindErr == nil {
			bindErr = err
		}
	}
	return v, bindErr
}

func runAnalyze(cmd *cobra.Command, v *viper.Viper, path string) error {
	logger, err := newLogger(v.GetString("log_level"), v.GetString("log_file"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	config := sift.DefaultConfig()
	config.Logger = logger
	if n := v.GetInt("max_path_depth"); n != 0 {
		config.MaxPathDepth = n
	}
	if n := v.GetInt("loop_unroll_bound"); n != 0 {
		config.LoopUnrollBound = n
	}
	if ms := v.GetInt("solver_timeout_ms"); ms != 0 {
		config.SolverTimeout = time.Duration(ms) * time.Millisecond
	}
	config.EnabledPatterns = v.GetStringSlice("patterns")
	if s := v.GetString("confidence_threshold"); s != "" {
		threshold, err := sift.ParseResolution(s)
		if err != nil {
			return err
		}
		config.CallGraphConfidenceThreshold = threshold
	}
	config.Workers = v.GetInt("workers")

	failOn, err := sift.ParseSeverity(v.GetString("fail_on"))
	if err != nil {
		return err
	}

	solver := z3.NewSolver(config.SolverTimeout)
	defer solver.Close()

	session, err := sift.NewSession(config, nil, solver)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	parser := python.NewParser(logger)

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	var units []*sift.ProgramUnit
	var skipped []sift.SkippedFile
	if info.IsDir() {
		units, skipped, err = parser.ParseDir(ctx, path)
	} else {
		units, skipped, err = parser.ParseFiles(ctx, []string{path})
	}
	if err != nil {
		return err
	}

	report, err := session.Analyze(ctx, units, skipped)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if name := v.GetString("output"); name != "" {
		f, err := os.Create(name)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	switch format := v.GetString("format"); format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	case "table":
		writeTable(out, report)
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	if max, ok := report.MaxSeverity(); ok && max >= failOn {
		return &exitError{code: exitFindings}
	}
	return nil
}

func writeTable(out io.Writer, report *sift.Report) {
	if len(report.Findings) > 0 {
		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"Severity", "Confidence", "Pattern", "Location", "Message"})
		table.SetAutoWrapText(false)
		table.SetBorder(false)
		for _, f := range report.Findings {
			table.Append([]string{
				f.Severity.String(),
				f.Confidence.String(),
				f.PatternID,
				fmt.Sprintf("%s:%d", f.Path, f.Line),
				findingMessage(f),
			})
		}
		table.Render()
		fmt.Fprintln(out)
	}

	meta := report.Metadata
	fmt.Fprintf(out, "%d finding(s) in %d file(s), %d skipped, %s\n",
		len(report.Findings), meta.FilesAnalyzed, len(meta.Skipped), meta.Duration.Round(time.Millisecond))
	if meta.SolverTimeouts > 0 {
		fmt.Fprintf(out, "%d solver timeout(s); some results are incomplete\n", meta.SolverTimeouts)
	}
	for _, e := range meta.AnalysisErrors {
		fmt.Fprintf(out, "error: %s.%s: %s\n", e.Module, e.Function, e.Err)
	}
}

// findingMessage appends the witness, if any, as sorted k=v pairs.
func findingMessage(f sift.Finding) string {
	if len(f.Witness) == 0 {
		return f.Message
	}
	pairs := make([]string, 0, len(f.Witness))
	for k, v := range f.Witness {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return f.Message + " [" + strings.Join(pairs, " ") + "]"
}

// Package main implements the looptrace command.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/715d/looptrace/pkg/looptrace"
	"github.com/715d/looptrace/pkg/rules"
)

// Config holds all command-line configuration options.
type Config struct {
	Packages      []string // the Go packages to analyze
	Rules         []string // rule files or URLs merged onto the defaults
	NoDefaults    bool     // skip the built-in rules
	Verbose       bool     // enables detailed output and logging
	JSON          bool     // enables JSON output format
	BuildTags     []string // build tags to use during package loading
	Tests         bool     // load test files too
	Recursion     bool     // report recursive components
	LoopsOnly     bool     // report only traces that may repeat
	SkipGenerated bool     // skip traces whose context is generated code
	Concurrency   int      // entry points explored at once
	Color         string   // auto, always or never
	OTel          bool     // export spans to stderr
	Profile       bool     // enables CPU and memory profiling
}

const (
	exitTracesFound = 1
	exitError       = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var cfg Config

func main() {
	var rootCmd = &cobra.Command{
		Use:   "looptrace [packages...]",
		Short: "Find critical calls that may repeat",
		Long: `looptrace follows the call graph from the entry points of a Go program to its
critical functions (process execution, file removal, network dials...) and
reports every path, telling whether the critical call may run repeatedly:
from inside a loop, through recursion, or from a callback such as an HTTP
handler.

Rules name the entry points, the critical functions and the library
functions that call back into user code. Built-in rules cover the standard
library; --rules adds more.`,
		Example: `  looptrace ./...                         # Analyze all packages
  looptrace --loops-only ./cmd/server     # Only report repeating calls
  looptrace --rules extra.yaml ./...      # Add rules to the defaults
  looptrace --json . > report.json        # JSON output to file`,
		Args:               cobra.ArbitraryArgs,
		RunE:               runCommand,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("looptrace version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	flags := rootCmd.PersistentFlags()
	flags.StringArrayVar(&cfg.Rules, "rules", nil, "Rule file or URL to add (repeatable)")
	flags.BoolVar(&cfg.NoDefaults, "no-defaults", false, "Do not use the built-in rules")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	flags.BoolVar(&cfg.JSON, "json", false, "Output in JSON format")
	flags.StringSliceVar(&cfg.BuildTags, "build-tags", []string{}, "Build tags to use during package loading")
	flags.BoolVar(&cfg.Tests, "tests", false, "Also load test files")
	flags.BoolVar(&cfg.Recursion, "recursion", false, "Report the recursive components of the application")
	flags.BoolVar(&cfg.LoopsOnly, "loops-only", false, "Only report critical calls that may repeat")
	flags.BoolVar(&cfg.SkipGenerated, "skip-generated", true, "Skip traces starting in generated code (e.g., '// Code generated')")
	flags.IntVar(&cfg.Concurrency, "concurrency", 0, "Entry points explored at once (0 means GOMAXPROCS)")
	flags.StringVar(&cfg.Color, "color", "auto", "Colorize text output: auto, always or never")
	flags.BoolVar(&cfg.OTel, "otel", false, "Write OpenTelemetry spans to stderr")
	flags.BoolVar(&cfg.Profile, "profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")

	if err := rootCmd.Execute(); err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func runCommand(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		cfg.Packages = args
	} else {
		cfg.Packages = []string{"./..."}
	}

	set, err := loadRules(cmd.Context(), &cfg)
	if err != nil {
		return errWithCode(err, exitError)
	}

	slog.Info("starting analysis", "packages", cfg.Packages, "rules", len(set.Rules))

	start := time.Now()
	result, err := runAnalysis(cmd.Context(), &cfg, set)
	if err != nil {
		return errWithCode(fmt.Errorf("analyze: %w", err), exitError)
	}

	if err := writeResults(os.Stdout, result, time.Since(start), &cfg); err != nil {
		return errWithCode(fmt.Errorf("format results: %w", err), exitError)
	}

	if len(reported(result, &cfg)) > 0 {
		return errWithCode(nil, exitTracesFound)
	}
	return nil
}

// loadRules merges the rule files onto the built-in rules.
func loadRules(ctx context.Context, cfg *Config) (*rules.Set, error) {
	var sets []*rules.Set
	if !cfg.NoDefaults {
		sets = append(sets, rules.Default())
	}
	for _, location := range cfg.Rules {
		set, err := rules.Load(ctx, location)
		if err != nil {
			return nil, err
		}
		slog.Debug("loaded rules", "source", location, "rules", len(set.Rules))
		sets = append(sets, set)
	}
	set := rules.Merge(sets...)
	if len(set.Rules) == 0 {
		return nil, errors.New("no rules: use --rules with --no-defaults")
	}
	return set, nil
}

func runAnalysis(ctx context.Context, cfg *Config, set *rules.Set) (*looptrace.Result, error) {
	slog.Info("loading packages", "packages", cfg.Packages)
	if len(cfg.BuildTags) > 0 {
		slog.Info("using build tags", "tags", cfg.BuildTags)
	}

	pkgs, err := looptrace.LoadPackages(ctx, looptrace.LoaderOptions{
		Packages:  cfg.Packages,
		BuildTags: cfg.BuildTags,
		Tests:     cfg.Tests,
	})
	if err != nil {
		return nil, fmt.Errorf("loading packages: %w", err)
	}
	slog.Info("loaded packages", "num", len(pkgs))

	analyzer := looptrace.NewAnalyzer(looptrace.AnalyzerOptions{
		Rules:         set,
		Concurrency:   cfg.Concurrency,
		Recursion:     cfg.Recursion,
		SkipGenerated: cfg.SkipGenerated,
	})
	result, err := analyzer.Analyze(ctx, pkgs)
	if err != nil {
		return nil, fmt.Errorf("analyze packages: %w", err)
	}
	return result, nil
}

var (
	cpuProfile     *os.File
	tracerProvider *sdktrace.TracerProvider
)

func setup(_ *cobra.Command, _ []string) error {
	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if cfg.Verbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if cfg.JSON {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	}

	if err := setColor(cfg.Color, os.Stdout); err != nil {
		return errWithCode(err, exitError)
	}

	if cfg.OTel {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("creating span exporter: %w", err)
		}
		tracerProvider = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tracerProvider)
	}

	if !cfg.Profile {
		return nil
	}

	var err error
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if tracerProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(ctx); err != nil {
			slog.Warn("flushing spans", "error", err)
		}
		tracerProvider = nil
	}

	if !cfg.Profile || cpuProfile == nil {
		return nil
	}

	pprof.StopCPUProfile()
	defer cpuProfile.Close()
	slog.Info("cpu profiling stopped", "file", "cpu.prof")
	cpuProfile = nil

	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

func errWithCode(err error, code int) error {
	return codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e codedError) Unwrap() error { return e.err }

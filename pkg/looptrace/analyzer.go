// Package looptrace finds the paths from the entry points of a Go program
// to its critical functions and reports whether each critical call may
// repeat: from inside a loop, through recursion or through a callback the
// library calls repeatedly.
package looptrace

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"log/slog"
	goruntime "runtime"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/packages"
	gossa "golang.org/x/tools/go/ssa"

	"github.com/715d/looptrace/pkg/callback"
	"github.com/715d/looptrace/pkg/explore"
	"github.com/715d/looptrace/pkg/loops"
	"github.com/715d/looptrace/pkg/program"
	"github.com/715d/looptrace/pkg/recursion"
	"github.com/715d/looptrace/pkg/rules"
	"github.com/715d/looptrace/pkg/ssa"
	"github.com/715d/looptrace/pkg/suppress"
)

var tracer = otel.Tracer("github.com/715d/looptrace")

// AnalyzerOptions holds configuration options for the analyzer.
type AnalyzerOptions struct {
	// Rules are the entry, critical and translation rules. Nil means
	// rules.Default().
	Rules *rules.Set

	// Concurrency bounds the entry points explored at once. Zero or less
	// means GOMAXPROCS.
	Concurrency int

	// Recursion also reports every recursive component of the application.
	Recursion bool

	// SkipGenerated drops traces whose context is in generated code.
	SkipGenerated bool
}

// Analyzer runs the analysis. An Analyzer runs one analysis at a time.
type Analyzer struct {
	suppressions *suppress.Checker
	opts         AnalyzerOptions
}

// NewAnalyzer creates a new analyzer with the given options.
func NewAnalyzer(opts AnalyzerOptions) *Analyzer {
	return &Analyzer{
		suppressions: suppress.NewChecker(),
		opts:         opts,
	}
}

// Analyze builds the program of pkgs and explores its entry points.
func (a *Analyzer) Analyze(ctx context.Context, pkgs []*packages.Package) (_ *Result, err error) {
	if len(pkgs) == 0 {
		return nil, errors.New("no packages provided")
	}
	ctx, span := tracer.Start(ctx, "looptrace.Analyze", trace.WithAttributes(attribute.Int("packages", len(pkgs))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	a.suppressions.Clear()
	if err := a.suppressions.LoadPackages(pkgs); err != nil {
		return nil, fmt.Errorf("failed to load suppressions: %w", err)
	}

	prog, err := build(ctx, pkgs)
	if err != nil {
		return nil, err
	}
	return a.AnalyzeProgram(ctx, prog, generatedFiles(pkgs))
}

func build(ctx context.Context, pkgs []*packages.Package) (*ssa.Program, error) {
	_, span := tracer.Start(ctx, "looptrace.Build")
	defer span.End()
	prog, err := ssa.Build(pkgs)
	if err != nil {
		return nil, fmt.Errorf("build program: %w", err)
	}
	span.SetAttributes(attribute.Int("methods", prog.NumMethods()))
	return prog, nil
}

// AnalyzeProgram explores the entry points of an already built program.
// generated holds the names of generated files.
func (a *Analyzer) AnalyzeProgram(ctx context.Context, prog *ssa.Program, generated map[string]bool) (*Result, error) {
	set := a.opts.Rules
	if set == nil {
		set = rules.Default()
	}
	compiled := rules.Compile(set, prog)

	resolver := callback.NewResolver(prog, prog, prog)
	compiled.Register(resolver)
	rec := recursion.New(prog, resolver)
	x := explore.New(explore.Config{
		Program:   prog,
		Resolver:  resolver,
		Recursion: rec,
		Loops:     loops.New(prog, prog),
		Criticals: compiled.Criticals,
	})

	traces, steps, err := a.explore(ctx, x, compiled.Entries)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:   uuid.NewString(),
		Entries: len(compiled.Entries),
		Steps:   steps,
	}
	for _, r := range compiled.Unresolved {
		res.Unresolved = append(res.Unresolved, r.String())
	}
	res.Traces = a.findings(prog, traces, generated)
	if a.opts.Recursion {
		res.Recursion = recursionGroups(rec)
	}

	slog.Info("analysis complete",
		"run", res.RunID,
		"entries", res.Entries,
		"steps", res.Steps,
		"traces", len(res.Traces))
	return res, nil
}

// explore runs every entry point through x, at most opts.Concurrency at a
// time.
func (a *Analyzer) explore(ctx context.Context, x *explore.Explorer, entries []explore.Entry) ([]explore.Trace, int, error) {
	ctx, span := tracer.Start(ctx, "looptrace.Explore", trace.WithAttributes(attribute.Int("entries", len(entries))))
	defer span.End()

	limit := a.opts.Concurrency
	if limit <= 0 {
		limit = goruntime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var sink explore.Collector
	var steps atomic.Int64
	for _, entry := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, span := tracer.Start(gctx, "looptrace.ExploreEntry", trace.WithAttributes(attribute.String("entry", entry.Name)))
			defer span.End()
			n := x.Explore(entry, &sink)
			span.SetAttributes(attribute.Int("steps", n))
			steps.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("explore: %w", err)
	}
	return sink.Traces(), int(steps.Load()), nil
}

// findings de-duplicates traces, applies suppressions and orders the result.
func (a *Analyzer) findings(prog *ssa.Program, traces []explore.Trace, generated map[string]bool) []Finding {
	seen := make(map[uint64]bool, len(traces))
	var out []Finding
	for _, t := range traces {
		fp := t.Fingerprint()
		if seen[fp] {
			continue
		}
		seen[fp] = true

		if a.opts.SkipGenerated && generated[filename(prog, t.Context)] {
			slog.Debug("skipping trace in generated code", "context", t.Context.Name)
			continue
		}

		f := newFinding(t)
		f.Suppressed, f.Reason = a.isSuppressed(prog, t)
		out = append(out, f)
	}

	slices.SortFunc(out, func(x, y Finding) int {
		return cmp.Or(
			strings.Compare(x.Context, y.Context),
			strings.Compare(x.Critical, y.Critical),
			strings.Compare(x.Entry, y.Entry),
			strings.Compare(x.Trace.String(), y.Trace.String()),
		)
	})
	return out
}

// isSuppressed reports whether a function on the trace carries a
// suppression directive.
func (a *Analyzer) isSuppressed(prog *ssa.Program, t explore.Trace) (bool, string) {
	if ok, reason := a.suppressions.IsSuppressed(declPos(prog, t.Context)); ok {
		return true, reason
	}
	for _, c := range t.Calls {
		if ok, reason := a.suppressions.IsSuppressed(declPos(prog, c.Method)); ok {
			return true, reason
		}
	}
	return false, ""
}

// declPos returns the position of the declaration m's code belongs to:
// closures belong to the function they are declared in.
func declPos(prog *ssa.Program, m *program.Method) token.Pos {
	return outermost(prog.Func(m)).Pos()
}

func outermost(fn *gossa.Function) *gossa.Function {
	for fn.Parent() != nil {
		fn = fn.Parent()
	}
	if origin := fn.Origin(); origin != nil {
		return origin
	}
	return fn
}

func filename(prog *ssa.Program, m *program.Method) string {
	pos := prog.Func(m).Pos()
	if !pos.IsValid() {
		return ""
	}
	return prog.SSA().Fset.Position(pos).Filename
}

// generatedFiles returns the names of the generated files of pkgs.
func generatedFiles(pkgs []*packages.Package) map[string]bool {
	out := make(map[string]bool)
	for _, pkg := range pkgs {
		if pkg == nil || pkg.Fset == nil {
			continue
		}
		for _, file := range pkg.Syntax {
			if file != nil && ast.IsGenerated(file) {
				out[pkg.Fset.Position(file.Pos()).Filename] = true
			}
		}
	}
	return out
}

// recursionGroups returns the names of the recursive components holding
// application code, ordered by their first member.
func recursionGroups(rec *recursion.Analysis) [][]string {
	rec.AnalyzeAll()
	var out [][]string
	for _, group := range rec.Groups() {
		if !slices.ContainsFunc(group, func(m *program.Method) bool { return m.Application }) {
			continue
		}
		names := make([]string, len(group))
		for i, m := range group {
			names[i] = m.Name
		}
		slices.Sort(names)
		out = append(out, names)
	}
	slices.SortFunc(out, func(a, b []string) int { return strings.Compare(a[0], b[0]) })
	return out
}

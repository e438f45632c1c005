package looptrace

import (
	"context"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossa "golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/715d/looptrace/pkg/rules"
	"github.com/715d/looptrace/pkg/ssa"
)

const serverSrc = `package main

import (
	"net/http"
	"os"
	"os/exec"
)

type handler struct{}

func (handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, name := range r.URL.Query()["f"] {
		os.Remove(name)
	}
}

//nolint:looptrace // admin only
func reset() { os.RemoveAll(os.TempDir()) }

func run(args []string) {
	for _, a := range args {
		exec.Command(a).Run()
	}
}

func walk(n int) {
	if n > 0 {
		walk(n - 1)
	}
}

func main() {
	http.Handle("/", handler{})
	reset()
	run(os.Args)
	walk(len(os.Args))
	os.Exit(0)
}
`

// buildServer builds serverSrc and returns its program and an analyzer
// with the file's suppressions loaded.
func buildServer(t *testing.T, opts AnalyzerOptions) (*Analyzer, *ssa.Program) {
	t.Helper()
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "main.go", serverSrc, parser.ParseComments)
	require.NoError(t, err)

	conf := &types.Config{Importer: importer.Default()}
	pkg, _, err := ssautil.BuildPackage(conf, fset, types.NewPackage("example.com/app", "main"),
		[]*ast.File{file}, gossa.InstantiateGenerics)
	require.NoError(t, err)

	prog, err := ssa.FromSSA(pkg.Prog, func(other *gossa.Package) bool { return other == pkg })
	require.NoError(t, err)

	a := NewAnalyzer(opts)
	require.NoError(t, a.suppressions.Load(fset, []*ast.File{file}))
	return a, prog
}

func find(t *testing.T, findings []Finding, context, critical string) Finding {
	t.Helper()
	for _, f := range findings {
		if f.Context == context && f.Critical == critical {
			return f
		}
	}
	require.Failf(t, "finding not found", "%s -> %s", context, critical)
	return Finding{}
}

func methods(calls []Call) []string {
	var out []string
	for _, c := range calls {
		out = append(out, c.Method)
	}
	return out
}

func TestAnalyzer_AnalyzeProgram(t *testing.T) {
	a, prog := buildServer(t, AnalyzerOptions{})

	res, err := a.AnalyzeProgram(context.Background(), prog, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2, res.Entries)
	assert.Positive(t, res.Steps)
	assert.NotEmpty(t, res.Unresolved)

	t.Run("handler entry", func(t *testing.T) {
		f := find(t, res.Traces, "(example.com/app.handler).ServeHTTP", "os.Remove")
		assert.Equal(t, "net/http.Handler.ServeHTTP", f.Entry)
		assert.True(t, f.Loop)
		require.Equal(t, []string{"(example.com/app.handler).ServeHTTP"}, methods(f.Calls))
		assert.True(t, f.Calls[0].LocalLoop)
		assert.False(t, f.Suppressed)
	})

	t.Run("handler through registration", func(t *testing.T) {
		f := find(t, res.Traces, "example.com/app.main", "os.Remove")
		assert.True(t, f.Loop)
		require.Equal(t, []string{"(example.com/app.handler).ServeHTTP", "example.com/app.main"}, methods(f.Calls))
		assert.Equal(t, "handler registered on the default mux", f.Calls[1].Via)
	})

	t.Run("loop in caller", func(t *testing.T) {
		f := find(t, res.Traces, "example.com/app.main", "os/exec.Command")
		assert.True(t, f.Loop)
		require.Equal(t, []string{"example.com/app.run", "example.com/app.main"}, methods(f.Calls))
		assert.True(t, f.Calls[0].LocalLoop)
		assert.False(t, f.Calls[1].LocalLoop)
	})

	t.Run("straight line", func(t *testing.T) {
		f := find(t, res.Traces, "example.com/app.main", "os.Exit")
		assert.False(t, f.Loop)
		assert.Equal(t, []string{"example.com/app.main"}, methods(f.Calls))
		assert.Equal(t, "program start", f.EntryExplanation)
	})

	t.Run("suppressed", func(t *testing.T) {
		f := find(t, res.Traces, "example.com/app.main", "os.RemoveAll")
		assert.True(t, f.Suppressed)
		assert.Equal(t, "admin only", f.Reason)
		assert.NotContains(t, res.Reported(), f)
	})

	seen := make(map[string]bool)
	for _, f := range res.Traces {
		require.False(t, seen[f.Fingerprint], "duplicate trace %s", f)
		seen[f.Fingerprint] = true
	}
	assert.Empty(t, res.Recursion)
}

func TestAnalyzer_Deterministic(t *testing.T) {
	render := func(concurrency int) []string {
		a, prog := buildServer(t, AnalyzerOptions{Concurrency: concurrency})
		res, err := a.AnalyzeProgram(context.Background(), prog, nil)
		require.NoError(t, err)
		var out []string
		for _, f := range res.Traces {
			out = append(out, f.String())
		}
		return out
	}
	assert.Equal(t, render(1), render(8))
}

func TestAnalyzer_Options(t *testing.T) {
	t.Run("recursion", func(t *testing.T) {
		a, prog := buildServer(t, AnalyzerOptions{Recursion: true})
		res, err := a.AnalyzeProgram(context.Background(), prog, nil)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"example.com/app.walk"}}, res.Recursion)
	})

	t.Run("skip generated", func(t *testing.T) {
		a, prog := buildServer(t, AnalyzerOptions{SkipGenerated: true})
		res, err := a.AnalyzeProgram(context.Background(), prog, map[string]bool{"main.go": true})
		require.NoError(t, err)
		assert.Empty(t, res.Traces)
	})

	t.Run("custom rules", func(t *testing.T) {
		set, err := rules.Parse([]byte(`rules:
  - kind: entry
    function: example.com/app.run
  - kind: critical
    function: os/exec.Command
    explanation: starts a process
`))
		require.NoError(t, err)
		a, prog := buildServer(t, AnalyzerOptions{Rules: set})
		res, err := a.AnalyzeProgram(context.Background(), prog, nil)
		require.NoError(t, err)

		require.Len(t, res.Traces, 1)
		f := res.Traces[0]
		assert.Equal(t, "example.com/app.run", f.Context)
		assert.Equal(t, "starts a process", f.Explanation)
		assert.True(t, f.Loop)
		assert.Empty(t, res.Unresolved)
	})

	t.Run("cancelled", func(t *testing.T) {
		a, prog := buildServer(t, AnalyzerOptions{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := a.AnalyzeProgram(ctx, prog, nil)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestAnalyzer_NoPackages(t *testing.T) {
	_, err := NewAnalyzer(AnalyzerOptions{}).Analyze(context.Background(), nil)
	require.Error(t, err)
}

package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/715d/looptrace/pkg/callback"
	"github.com/715d/looptrace/pkg/program"
)

// symbols adds main functions to an in-memory program.
type symbols struct {
	*program.Memory
	mains []*program.Method
}

func (s *symbols) Mains() []*program.Method { return s.mains }

func TestCompile(t *testing.T) {
	p := program.NewMemory()
	handler := p.AddInterface("net/http.Handler")
	mux := p.AddClass("*net/http.ServeMux", handler)
	register := p.AddMethod(mux, "HandleFunc", false)
	lookup := p.AddFunc("(*example.com/app.Registry).Lookup", true)
	exit := p.AddFunc("os.Exit", false)
	main := p.AddFunc("example.com/app.main", true)
	tool := p.AddFunc("example.com/app/cmd/tool.main", true)
	serve := p.AddFunc("example.com/app.serve", true)
	syms := &symbols{Memory: p, mains: []*program.Method{main, tool}}

	set := &Set{Rules: []Rule{
		{Kind: KindEntry, Function: "main.main", Explanation: "program start"},
		{Kind: KindEntry, Interface: "net/http.Handler", Method: "ServeHTTP"},
		{Kind: KindEntry, Function: "example.com/app.serve"},
		{Kind: KindEntry, Interface: "example.com/app.Missing", Method: "Run"},
		{Kind: KindCritical, Function: "os.Exit", Explanation: "terminates the process"},
		{Kind: KindCritical, Function: "os/exec.Command"},
		{Kind: KindTranslation, Caller: "*net/http.ServeMux.HandleFunc", Arg: 2, Explanation: "mux handler"},
		{Kind: KindTranslation, Caller: "*net/http.ServeMux.HandleFunc", Arg: 1,
			Links: []Link{{Method: "(*example.com/app.Registry).Lookup", From: 1, To: -1}}},
		{Kind: KindTranslation, Caller: "*net/http.ServeMux.HandleFunc", Arg: 1,
			Links: []Link{{Method: "example.com/app.Missing", From: 1, To: -1}}},
	}}

	c := Compile(set, syms)

	var entries []string
	for _, e := range c.Entries {
		entries = append(entries, e.Name)
	}
	assert.Equal(t, []string{
		"example.com/app.main",
		"example.com/app/cmd/tool.main",
		"net/http.Handler.ServeHTTP",
		"example.com/app.serve",
	}, entries)
	assert.Same(t, main, c.Entries[0].Func)
	assert.Equal(t, "program start", c.Entries[0].Explanation)
	assert.Same(t, handler, c.Entries[2].Class)
	assert.Equal(t, "ServeHTTP", c.Entries[2].Method)
	assert.Same(t, serve, c.Entries[3].Func)

	assert.Equal(t, map[*program.Method]string{exit: "terminates the process"}, c.Criticals)

	require.Len(t, c.Translations, 2)
	assert.Same(t, register, c.Translations[0].Caller)
	assert.Equal(t, 2, c.Translations[0].Arg)
	assert.Equal(t, []callback.Link{{Method: lookup, From: 1, To: -1}}, c.Translations[1].Links)

	var unresolved []string
	for _, r := range c.Unresolved {
		unresolved = append(unresolved, r.String())
	}
	assert.Equal(t, []string{
		"entry example.com/app.Missing.Run",
		"critical os/exec.Command",
		`translation *net/http.ServeMux.HandleFunc[1] -> ""`,
	}, unresolved)

	r := callback.NewResolver(p, p, p)
	c.Register(r)
	assert.Len(t, r.Rules(register), 2)
}

func TestCompile_NoMains(t *testing.T) {
	c := Compile(&Set{Rules: []Rule{{Kind: KindEntry, Function: "main.main"}}}, &symbols{Memory: program.NewMemory()})
	assert.Empty(t, c.Entries)
	assert.Len(t, c.Unresolved, 1)
}

func TestCompile_Default(t *testing.T) {
	p := program.NewMemory()
	main := p.AddFunc("example.com/app.main", true)
	exit := p.AddFunc("os.Exit", false)

	c := Compile(Default(), &symbols{Memory: p, mains: []*program.Method{main}})
	require.Len(t, c.Entries, 1)
	assert.Same(t, main, c.Entries[0].Func)
	assert.Contains(t, c.Criticals, exit)
	assert.Empty(t, c.Translations)
}

package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
		index   int
	}{
		{
			name:  "empty document",
			input: "",
		},
		{
			name: "every kind",
			input: `rules:
  - kind: entry
    interface: net/http.Handler
    method: ServeHTTP
  - kind: entry
    function: main.main
  - kind: critical
    function: os/exec.Command
    explanation: starts a process
  - kind: translation
    caller: (*sync.Once).Do
    arg: 1
  - kind: translation
    caller: example.com/app.Register
    arg: 0
    target: Handle
    links:
      - method: (*example.com/app.Registry).Lookup
        from: 1
        to: -1
`,
		},
		{
			name:    "unknown kind",
			input:   "rules:\n  - kind: sink\n    function: os.Exit\n",
			wantErr: `kind must be one of entry critical translation, got "sink"`,
		},
		{
			name:    "missing kind",
			input:   "rules:\n  - function: os.Exit\n",
			wantErr: "kind is required",
		},
		{
			name:    "unknown field",
			input:   "rules:\n  - kind: critical\n    func: os.Exit\n",
			wantErr: "field func not found",
			index:   -1,
		},
		{
			name:    "negative argument",
			input:   "rules:\n  - kind: translation\n    caller: time.AfterFunc\n    arg: -1\n",
			wantErr: "arg must be at least 0",
		},
		{
			name:    "unqualified function",
			input:   "rules:\n  - kind: critical\n    function: Exit\n",
			wantErr: `function "Exit" is not a qualified name`,
		},
		{
			name:    "bad target",
			input:   "rules:\n  - kind: translation\n    caller: time.AfterFunc\n    target: not ident\n",
			wantErr: `target "not ident" is not an identifier`,
		},
		{
			name:    "critical without function",
			input:   "rules:\n  - kind: critical\n",
			wantErr: "critical needs function",
		},
		{
			name:    "entry with both forms",
			input:   "rules:\n  - kind: entry\n    interface: io.Reader\n    method: Read\n    function: main.main\n",
			wantErr: "not both",
		},
		{
			name:    "entry without method",
			input:   "rules:\n  - kind: entry\n    interface: io.Reader\n",
			wantErr: "entry needs both interface and method",
		},
		{
			name:    "critical with caller",
			input:   "rules:\n  - kind: critical\n    function: os.Exit\n    caller: os.Exit\n",
			wantErr: "critical rule does not take caller",
		},
		{
			name:    "translation without caller",
			input:   "rules:\n  - kind: translation\n    arg: 1\n",
			wantErr: "translation needs caller",
		},
		{
			name:    "link without method",
			input:   "rules:\n  - kind: translation\n    caller: time.AfterFunc\n    links:\n      - from: 0\n        to: 1\n",
			wantErr: "method is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := Parse([]byte(tt.input))
			if tt.wantErr == "" {
				require.NoError(t, err)
				require.NoError(t, set.Validate())
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.index, cerr.Index)
		})
	}
}

func TestParse_Fields(t *testing.T) {
	set, err := Parse([]byte(`rules:
  - kind: translation
    caller: example.com/app.Register
    arg: 2
    target: Handle
    explanation: registry calls its handlers
    links:
      - method: (*example.com/app.Registry).Lookup
        from: 1
        to: -1
`))
	require.NoError(t, err)
	require.Len(t, set.Rules, 1)

	r := set.Rules[0]
	assert.Equal(t, KindTranslation, r.Kind)
	assert.Equal(t, 2, r.Arg)
	assert.Equal(t, "Handle", r.Target)
	assert.Equal(t, []Link{{Method: "(*example.com/app.Registry).Lookup", From: 1, To: -1}}, r.Links)
	assert.Equal(t, `translation example.com/app.Register[2] -> "Handle"`, r.String())
}

func TestIsSymbol(t *testing.T) {
	tests := []struct {
		symbol string
		want   bool
	}{
		{"os.Exit", true},
		{"os/exec.Command", true},
		{"(*sync.Once).Do", true},
		{"(net/http.HandlerFunc).ServeHTTP", true},
		{"golang.org/x/sync/errgroup.Group", true},
		{"Exit", false},
		{"os.", false},
		{"(*sync.Once)Do", false},
		{"(sync.Once).", false},
		{"os. Exit", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isSymbol(tt.symbol), tt.symbol)
	}
}

func TestDefault(t *testing.T) {
	set := Default()
	require.NotEmpty(t, set.Rules)
	require.NoError(t, set.Validate())

	kinds := make(map[Kind]int)
	for _, r := range set.Rules {
		kinds[r.Kind]++
	}
	assert.Positive(t, kinds[KindEntry])
	assert.Positive(t, kinds[KindCritical])
	assert.Positive(t, kinds[KindTranslation])

	// Callers get their own copy.
	set.Rules[0].Explanation = "changed"
	assert.NotEqual(t, "changed", Default().Rules[0].Explanation)
}

func TestMerge(t *testing.T) {
	a := &Set{Rules: []Rule{{Kind: KindCritical, Function: "os.Exit"}}}
	b := &Set{Rules: []Rule{{Kind: KindCritical, Function: "os.Remove"}}}

	merged := Merge(a, nil, b)
	require.Len(t, merged.Rules, 2)
	assert.Equal(t, "os.Exit", merged.Rules[0].Function)
	assert.Equal(t, "os.Remove", merged.Rules[1].Function)
	assert.Empty(t, Merge().Rules)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(good, []byte("rules:\n  - kind: critical\n    function: os.Exit\n"), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("rules:\n  - kind: critical\n"), 0o600))

	set, err := Load(context.Background(), good)
	require.NoError(t, err)
	require.Len(t, set.Rules, 1)
	assert.Equal(t, "os.Exit", set.Rules[0].Function)

	_, err = Load(context.Background(), bad)
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, bad, cerr.Source)
	assert.Equal(t, 0, cerr.Index)
	assert.Contains(t, err.Error(), "rules "+bad+": rule 0: critical needs function")

	_, err = Load(context.Background(), filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.False(t, errors.As(err, &cerr))
}

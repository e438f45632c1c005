package harness

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/looptrace/pkg/looptrace"
)

// TestAll runs all integration tests.
func TestAll(t *testing.T) {
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "get current file path")

	harnessDir := filepath.Dir(filename)
	testdataDir := filepath.Join(harnessDir, "..", "..", "testdata")

	if testing.Short() {
		t.Skip("builds the standard library in SSA form")
	}

	testCases := discoverTestCases(t, testdataDir)
	require.NotEmpty(t, testCases, "no test cases found")

	if testing.Verbose() {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	for _, tc := range testCases {
		t.Run(tc.Dir, func(t *testing.T) {
			t.Parallel()

			for _, config := range tc.BuildConfigurations {
				if len(config.BuildTags) > 0 {
					t.Logf("[%s] Build tags: %v", config.Name, config.BuildTags)
				}
				if config.EnableCGo {
					t.Logf("[%s] CGo enabled", config.Name)
				}
			}

			result := NewHarness(testdataDir).Run(t, tc)
			if !result.Success {
				t.Errorf("Test failed: %s", result.Message)
			}
		})
	}
}

func discoverTestCases(t *testing.T, root string) []*TestCase {
	t.Helper()

	// Read all directories in testdata.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)

	var testCases []*TestCase
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(root, entry.Name())

		// Check if this directory has an expected.yaml.
		if _, err := os.Stat(filepath.Join(dir, "expected.yaml")); err == nil {
			testCases = append(testCases, LoadTestCase(t, dir, root))
		}
	}

	return testCases
}

func TestValidateResults(t *testing.T) {
	actual := []looptrace.Finding{
		{Context: "app.main", Critical: "os.Exit", Calls: []looptrace.Call{{Method: "app.main"}}},
		{Context: "app.main", Critical: "os.Exit", Loop: true, Calls: []looptrace.Call{{Method: "app.main"}}},
		{Context: "app.main", Critical: "os.Remove", Loop: true, Suppressed: true},
	}

	tests := []struct {
		name     string
		expected []ExpectedTrace
		success  bool
		details  []string
	}{
		{
			name: "exact",
			expected: []ExpectedTrace{
				{Context: "app.main", Critical: "os.Exit", Calls: []string{"app.main"}},
				{Context: "app.main", Critical: "os.Exit", Loop: true},
				{Context: "app.main", Critical: "os.Remove", Loop: true, Suppressed: true},
			},
			success: true,
		},
		{
			name: "missing and unexpected",
			expected: []ExpectedTrace{
				{Context: "app.main", Critical: "os.Exit"},
				{Context: "app.main", Critical: "os.Exit", Loop: true},
				{Context: "app.main", Critical: "os.Remove", Loop: true},
			},
			details: []string{
				"Expected trace not reported: app.main -> os.Remove (loop)",
				"Unexpected trace: app.main -> os.Remove (loop) (suppressed)",
			},
		},
		{
			name: "callers",
			expected: []ExpectedTrace{
				{Context: "app.main", Critical: "os.Exit", Calls: []string{"app.run", "app.main"}},
				{Context: "app.main", Critical: "os.Exit", Loop: true},
				{Context: "app.main", Critical: "os.Remove", Loop: true, Suppressed: true},
			},
			details: []string{
				"Callers mismatch for app.main -> os.Exit: expected [app.run app.main], got [app.main]",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res ConfigurationResult
			validateResults(&res, tt.expected, actual)
			require.Equal(t, tt.success, res.Success, res.Message)
			require.Equal(t, tt.details, res.Details)
		})
	}
}

func TestValidateExpectedTraces(t *testing.T) {
	require.NoError(t, validateExpectedTraces([]ExpectedTrace{{Context: "a", Critical: "b"}}))
	require.Error(t, validateExpectedTraces([]ExpectedTrace{{Context: "a"}}))
}

func TestLoaderConfigEnv(t *testing.T) {
	t.Setenv("GOOS", "plan9")
	t.Setenv("CGO_ENABLED", "1")

	env := (&LoaderConfig{GOARCH: "arm64"}).env()
	count := func(prefix string) int {
		n := 0
		for _, kv := range env {
			if strings.HasPrefix(kv, prefix) {
				n++
			}
		}
		return n
	}
	require.Contains(t, env, "CGO_ENABLED=0")
	require.Contains(t, env, "GOWORK=off")
	require.Contains(t, env, "GOARCH=arm64")
	require.Contains(t, env, "GOOS=plan9")
	require.Equal(t, 1, count("CGO_ENABLED="))
	require.Equal(t, 1, count("GOARCH="))
}

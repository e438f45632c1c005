package harness

import (
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/looptrace/pkg/looptrace"
	"github.com/715d/looptrace/pkg/rules"
)

// TestHarness manages test execution.
type TestHarness struct {
	// root is the root directory for test data
	root string
}

// NewHarness creates a new test harness.
func NewHarness(root string) *TestHarness {
	return &TestHarness{root: root}
}

// Run executes a test case with all its build configurations.
func (h *TestHarness) Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.BuildConfigurations, "test case has no build configurations")

	set := h.loadRules(t, tc)

	var results []ConfigurationResult
	var allSuccess = true
	for _, cfg := range tc.BuildConfigurations {
		cfgResult := h.runConfiguration(t, tc, set, cfg)
		results = append(results, *cfgResult)
		if !cfgResult.Success {
			allSuccess = false
		}
	}

	var resultMsg string
	if allSuccess {
		resultMsg = fmt.Sprintf("All %d configurations passed", len(tc.BuildConfigurations))
	} else {
		failedCount := 0
		var msgs []string
		for _, cr := range results {
			if !cr.Success {
				failedCount++
				msgs = append(msgs, fmt.Sprintf("[%s] %s:\n  %s",
					cr.Configuration.Name, cr.Message, strings.Join(cr.Details, "\n  ")))
			}
		}
		resultMsg = fmt.Sprintf("%d/%d configurations failed:\n%s",
			failedCount, len(tc.BuildConfigurations), strings.Join(msgs, "\n"))
	}

	return &TestResult{
		TestCase:             tc,
		ConfigurationResults: results,
		Success:              allSuccess,
		Message:              resultMsg,
	}
}

func (h *TestHarness) loadRules(t *testing.T, tc *TestCase) *rules.Set {
	t.Helper()
	var sets []*rules.Set
	if !tc.NoDefaults {
		sets = append(sets, rules.Default())
	}
	if tc.Rules != "" {
		set, err := rules.Load(t.Context(), filepath.Join(h.root, tc.Dir, tc.Rules))
		require.NoError(t, err)
		sets = append(sets, set)
	}
	return rules.Merge(sets...)
}

// runConfiguration executes analysis for a single build configuration
func (h *TestHarness) runConfiguration(t *testing.T, tc *TestCase, set *rules.Set, cfg BuildConfiguration) *ConfigurationResult {
	t.Helper()
	pkgs := LoadPackages(t, &LoaderConfig{
		Dir:       filepath.Join(h.root, tc.Dir),
		BuildTags: cfg.BuildTags,
		EnableCGo: cfg.EnableCGo,
		GOOS:      cfg.GOOS,
		GOARCH:    cfg.GOARCH,
	})

	result, err := looptrace.NewAnalyzer(looptrace.AnalyzerOptions{Rules: set}).Analyze(t.Context(), pkgs)
	if err != nil {
		for _, expectedErr := range cfg.ExpectedErrors {
			if strings.Contains(err.Error(), expectedErr) {
				return &ConfigurationResult{
					Configuration: cfg,
					Success:       true,
					Message:       fmt.Sprintf("Got expected error: %v", err),
				}
			}
		}
		require.NoError(t, err)
	}
	return validateConfigurationResults(cfg, result)
}

// validateConfigurationResults compares actual results with expected for a specific build configuration
func validateConfigurationResults(cfg BuildConfiguration, result *looptrace.Result) *ConfigurationResult {
	cfgResult := ConfigurationResult{
		Configuration: cfg,
		Result:        result,
	}

	if err := validateExpectedTraces(cfg.ExpectedTraces); err != nil {
		cfgResult.Success = false
		cfgResult.Message = fmt.Sprintf("Invalid expected.yaml: %v", err)
		cfgResult.Details = []string{err.Error()}
		return &cfgResult
	}

	validateResults(&cfgResult, cfg.ExpectedTraces, result.Traces)
	return &cfgResult
}

// ConfigurationResult represents the result of running a single build configuration.
type ConfigurationResult struct {
	// Configuration is the build configuration that was run.
	Configuration BuildConfiguration

	// Result is the raw result from the analyzer.
	Result *looptrace.Result

	// Success indicates if this configuration passed.
	Success bool

	// Message provides a summary of the result for this configuration.
	Message string

	// Details provides detailed information about failures for this configuration.
	Details []string
}

// TestResult represents the result of running a test case.
type TestResult struct {
	// TestCase is the test case that was run.
	TestCase *TestCase

	// ConfigurationResults contains results for each build configuration.
	ConfigurationResults []ConfigurationResult

	// Success indicates if the test passed (all configurations passed)
	Success bool

	// Message provides a summary of the result.
	Message string
}

// validateExpectedTraces validates that expected traces have required fields
func validateExpectedTraces(expected []ExpectedTrace) error {
	for i, exp := range expected {
		if strings.TrimSpace(exp.Context) == "" || strings.TrimSpace(exp.Critical) == "" {
			return fmt.Errorf("expected trace at index %d needs both 'context' and 'critical'", i)
		}
	}
	return nil
}

// validateResults compares traces as multisets of keys, then checks the
// callers of the expected traces that list them.
func validateResults(cfgResult *ConfigurationResult, expected []ExpectedTrace, actual []looptrace.Finding) {
	remaining := make(map[string][]looptrace.Finding)
	for _, f := range actual {
		k := traceKey(f.Context, f.Critical, f.Loop, f.Suppressed)
		remaining[k] = append(remaining[k], f)
	}

	var details []string
	var missing []string
	for _, exp := range expected {
		k := exp.key()
		found := remaining[k]
		if len(found) == 0 {
			missing = append(missing, k)
			continue
		}
		i := 0
		if len(exp.Calls) > 0 {
			i = slices.IndexFunc(found, func(f looptrace.Finding) bool {
				return slices.Equal(callers(f), exp.Calls)
			})
			if i < 0 {
				details = append(details, fmt.Sprintf("Callers mismatch for %s: expected %v, got %v",
					k, exp.Calls, callers(found[0])))
				i = 0
			}
		}
		remaining[k] = slices.Delete(found, i, i+1)
	}

	var unexpected []string
	for k, fs := range remaining {
		for range fs {
			unexpected = append(unexpected, k)
		}
	}

	sort.Strings(missing)
	sort.Strings(unexpected)
	for _, m := range missing {
		details = append(details, "Expected trace not reported: "+m)
	}
	for _, u := range unexpected {
		details = append(details, "Unexpected trace: "+u)
	}

	success := len(details) == 0
	var message string
	if success {
		message = fmt.Sprintf("All %d expected traces found", len(expected))
	} else {
		message = fmt.Sprintf("Test failed: %d missing, %d unexpected", len(missing), len(unexpected))
	}

	cfgResult.Success = success
	cfgResult.Message = message
	cfgResult.Details = details
}

func callers(f looptrace.Finding) []string {
	out := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		out[i] = c.Method
	}
	return out
}

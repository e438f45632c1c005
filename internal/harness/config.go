// Package harness runs the analyzer over the modules under testdata and
// compares the reported traces with each module's expected.yaml.
package harness

import "fmt"

// TestCase represents a single test scenario.
type TestCase struct {
	// Dir is the directory containing the test code, relative to the
	// testdata root.
	Dir string `yaml:"-"`

	// Rules is an optional rule file, relative to Dir.
	Rules string `yaml:"rules,omitempty"`

	// NoDefaults drops the built-in rules.
	NoDefaults bool `yaml:"no_defaults,omitempty"`

	// BuildConfigurations defines multiple build configurations to test.
	BuildConfigurations []BuildConfiguration `yaml:"build_configurations"`
}

// BuildConfiguration represents a single build configuration to test.
type BuildConfiguration struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name"`

	// BuildTags are the build tags to use when loading packages.
	BuildTags []string `yaml:"build_tags"`

	// EnableCGo indicates whether CGo should be enabled.
	EnableCGo bool `yaml:"enable_cgo"`

	// GOOS sets the target operating system.
	GOOS string `yaml:"goos,omitempty"`

	// GOARCH sets the target architecture.
	GOARCH string `yaml:"goarch,omitempty"`

	// ExpectedTraces lists every trace the analyzer should report.
	ExpectedTraces []ExpectedTrace `yaml:"expected_traces"`

	// ExpectedErrors lists any expected error messages for this configuration.
	ExpectedErrors []string `yaml:"expected_errors"`
}

// ExpectedTrace is a trace expected in the result. Calls, when set, must
// match the trace's callers from the critical function's caller up to the
// context.
type ExpectedTrace struct {
	Context    string   `yaml:"context"`
	Critical   string   `yaml:"critical"`
	Loop       bool     `yaml:"loop"`
	Suppressed bool     `yaml:"suppressed,omitempty"`
	Calls      []string `yaml:"calls,omitempty"`
}

func (e ExpectedTrace) key() string {
	return traceKey(e.Context, e.Critical, e.Loop, e.Suppressed)
}

func traceKey(context, critical string, loop, suppressed bool) string {
	k := fmt.Sprintf("%s -> %s", context, critical)
	if loop {
		k += " (loop)"
	}
	if suppressed {
		k += " (suppressed)"
	}
	return k
}

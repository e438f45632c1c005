package harness

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"
	yaml "gopkg.in/yaml.v3"

	"github.com/715d/looptrace/pkg/looptrace"
)

// LoaderConfig selects the build a case module is analyzed under.
type LoaderConfig struct {
	Dir       string
	BuildTags []string
	EnableCGo bool
	GOOS      string
	GOARCH    string
}

// env returns the process environment adjusted for the build. Case modules
// stand alone, so any enclosing go.work is ignored.
func (c *LoaderConfig) env() []string {
	cgo := "0"
	if c.EnableCGo {
		cgo = "1"
	}
	env := setEnv(os.Environ(), "CGO_ENABLED", cgo)
	env = setEnv(env, "GOWORK", "off")
	if c.GOOS != "" {
		env = setEnv(env, "GOOS", c.GOOS)
	}
	if c.GOARCH != "" {
		env = setEnv(env, "GOARCH", c.GOARCH)
	}
	return env
}

// LoadPackages loads every package of the case module in cfg.Dir.
func LoadPackages(t *testing.T, cfg *LoaderConfig) []*packages.Package {
	t.Helper()
	t.Logf("loading %s (tags %v)", cfg.Dir, cfg.BuildTags)
	pkgs, err := looptrace.LoadPackages(t.Context(), looptrace.LoaderOptions{
		Packages:  []string{"./..."},
		BuildTags: cfg.BuildTags,
		Dir:       cfg.Dir,
		Env:       cfg.env(),
	})
	require.NoError(t, err)
	return pkgs
}

// LoadTestCase reads dir/expected.yaml. The case's Dir is relative to root.
func LoadTestCase(t *testing.T, dir, root string) *TestCase {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "expected.yaml"))
	require.NoError(t, err)

	tc := &TestCase{}
	require.NoError(t, yaml.Unmarshal(data, tc))
	if rel, err := filepath.Rel(root, dir); err == nil {
		tc.Dir = rel
	} else {
		tc.Dir = filepath.Base(dir)
	}
	return tc
}

func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	env = slices.DeleteFunc(env, func(kv string) bool { return strings.HasPrefix(kv, prefix) })
	return append(env, prefix+value)
}

package looptrace

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/tools/go/packages"
)

// defaultLoadMode loads everything SSA construction needs. NeedTypesInfo is
// the expensive part and cannot be avoided.
const defaultLoadMode = packages.NeedDeps |
	packages.NeedName |
	packages.NeedFiles |
	packages.NeedCompiledGoFiles |
	packages.NeedImports |
	packages.NeedTypes |
	packages.NeedSyntax |
	packages.NeedTypesInfo |
	packages.NeedModule

// LoaderOptions configures package loading.
type LoaderOptions struct {
	// Packages are the package patterns to load. Defaults to "./...".
	Packages []string

	// BuildTags are build tags to apply during loading.
	BuildTags []string

	// Dir is the directory to load packages from.
	// If empty, uses the current working directory.
	Dir string

	// Env is the environment to use for loading.
	// If nil, uses the current environment.
	Env []string

	// Tests also loads test files. Test functions are not entry points
	// unless a rule names them.
	Tests bool
}

// LoadPackages loads Go packages for analysis.
func LoadPackages(ctx context.Context, opts LoaderOptions) ([]*packages.Package, error) {
	patterns := opts.Packages
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	cfg := &packages.Config{
		Context: ctx,
		Mode:    defaultLoadMode,
		Tests:   opts.Tests,
		Env:     opts.Env,
		Dir:     opts.Dir,
	}
	if len(opts.BuildTags) > 0 {
		cfg.BuildFlags = append(cfg.BuildFlags, "-tags", strings.Join(opts.BuildTags, ","))
	}

	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("loading packages: %w", err)
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no packages found matching patterns: %v", patterns)
	}

	var errorMessages []string
	packages.Visit(pkgs, nil, func(pkg *packages.Package) {
		for _, err := range pkg.Errors {
			errorMessages = append(errorMessages, fmt.Sprintf("package %s: %v", pkg.PkgPath, err))
		}
	})
	if len(errorMessages) > 0 {
		return nil, fmt.Errorf("package errors:\n%s", strings.Join(errorMessages, "\n"))
	}

	return deduplicatePackages(pkgs), nil
}

// deduplicatePackages keeps one package per import path, preferring test
// variants (IDs containing "[...]"): they hold the production code plus the
// test files. Synthesized test binaries are dropped. The result is ordered
// by import path.
func deduplicatePackages(pkgs []*packages.Package) []*packages.Package {
	best := make(map[string]*packages.Package)
	for _, pkg := range pkgs {
		if isTestBinary(pkg) {
			continue
		}
		existing, ok := best[pkg.PkgPath]
		if !ok || isTestVariant(pkg) && !isTestVariant(existing) {
			best[pkg.PkgPath] = pkg
		}
	}

	out := make([]*packages.Package, 0, len(best))
	for _, pkg := range best {
		out = append(out, pkg)
	}
	slices.SortFunc(out, func(a, b *packages.Package) int {
		return cmp.Compare(a.PkgPath, b.PkgPath)
	})
	return out
}

// isTestBinary reports whether pkg is the main package go test generates.
func isTestBinary(pkg *packages.Package) bool {
	return strings.HasSuffix(pkg.ID, ".test") && !strings.Contains(pkg.ID, "[")
}

func isTestVariant(pkg *packages.Package) bool {
	return strings.Contains(pkg.ID, "[")
}

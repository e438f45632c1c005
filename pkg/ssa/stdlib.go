package ssa

import (
	"log/slog"
	"sync"

	"golang.org/x/tools/go/packages"
)

var getStdLibSet = sync.OnceValue(func() map[string]struct{} {
	pkgs, _ := packages.Load(&packages.Config{Mode: packages.NeedName}, "std")
	m := make(map[string]struct{}, len(pkgs)+1)
	for _, p := range pkgs {
		m[p.PkgPath] = struct{}{}
	}
	m["unsafe"] = struct{}{} // not in `go list std`
	slog.Debug("loaded std lib packages", "num", len(m))
	return m
})

// IsApplicationPackage reports whether p belongs to the analyzed application.
// Standard library packages and dependencies of the main module are library
// code: the explorer treats their functions as leaves.
func IsApplicationPackage(p *packages.Package) bool {
	if _, ok := getStdLibSet()[p.PkgPath]; ok {
		return false
	}
	if p.Module != nil {
		// Modules-on: only our main module is application code.
		return p.Module.Main
	}
	// GOPATH fallback: anything outside stdlib is assumed to be user code.
	return true
}

// applicationPaths collects the import paths of the application packages in
// the import graph of pkgs.
func applicationPaths(pkgs []*packages.Package) map[string]bool {
	paths := make(map[string]bool)
	packages.Visit(pkgs, nil, func(p *packages.Package) {
		if IsApplicationPackage(p) {
			paths[p.PkgPath] = true
		}
	})
	return paths
}

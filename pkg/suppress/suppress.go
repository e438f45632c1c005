// Package suppress finds the functions whose traces the user has silenced
// with a comment directive.
//
// A directive in the doc comment of a function declaration, on the line of
// the declaration or on the line right above it covers that function and
// the closures declared inside it:
//
//	//nolint:looptrace // retries are bounded by the caller
//	func (c *Client) fetch() {}
//
//	//lint:ignore looptrace exits once at startup
//	func fail() {}
//
// A bare //nolint covers every linter, looptrace included.
package suppress

import (
	"errors"
	"go/ast"
	"go/token"
	"regexp"
	"strings"

	"golang.org/x/tools/go/packages"
)

// Name is the linter name directives refer to.
const Name = "looptrace"

// defaultReason is reported for directives without a reason.
const defaultReason = "suppressed"

// Style is the syntax of a directive.
type Style int

const (
	// StyleNolint is a //nolint or //nolint:looptrace directive.
	StyleNolint Style = iota

	// StyleLintIgnore is a //lint:ignore looptrace directive.
	StyleLintIgnore
)

func (s Style) String() string {
	if s == StyleLintIgnore {
		return "lint:ignore"
	}
	return "nolint"
}

// Directive is a parsed suppression comment.
type Directive struct {
	Style  Style
	Reason string
}

var (
	// nolintPattern matches //nolint and //nolint:a,b with an optional
	// trailing "// reason".
	nolintPattern = regexp.MustCompile(`^//\s*nolint(?::([\w,\s-]+?))?\s*(?://\s*(.*))?$`)

	// lintIgnorePattern matches //lint:ignore a,b reason.
	lintIgnorePattern = regexp.MustCompile(`^//\s*lint:ignore\s+([\w,-]+)(?:\s+(.*))?$`)
)

// ParseDirective parses a comment, reporting whether it silences looptrace.
func ParseDirective(text string) (Directive, bool) {
	text = strings.TrimSpace(text)
	if m := lintIgnorePattern.FindStringSubmatch(text); m != nil {
		if !names(m[1]) {
			return Directive{}, false
		}
		return Directive{Style: StyleLintIgnore, Reason: strings.TrimSpace(m[2])}, true
	}
	if m := nolintPattern.FindStringSubmatch(text); m != nil {
		if m[1] != "" && !names(m[1]) {
			return Directive{}, false
		}
		return Directive{Style: StyleNolint, Reason: strings.TrimSpace(m[2])}, true
	}
	return Directive{}, false
}

// names reports whether a comma-separated linter list includes looptrace.
func names(list string) bool {
	for name := range strings.SplitSeq(list, ",") {
		if strings.TrimSpace(name) == Name {
			return true
		}
	}
	return false
}

// Checker records the suppressed function declarations of a set of files,
// keyed by the position of the function name. That is the position
// types.Object.Pos and ssa.Function.Pos report for a declared function.
type Checker struct {
	suppressed map[token.Pos]string
}

// NewChecker creates an empty checker.
func NewChecker() *Checker {
	return &Checker{suppressed: make(map[token.Pos]string)}
}

// LoadPackages loads the directives of every package's syntax.
func (c *Checker) LoadPackages(pkgs []*packages.Package) error {
	for _, pkg := range pkgs {
		if pkg == nil || len(pkg.Syntax) == 0 {
			continue
		}
		if err := c.Load(pkg.Fset, pkg.Syntax); err != nil {
			return err
		}
	}
	return nil
}

// Load loads the directives of files.
func (c *Checker) Load(fset *token.FileSet, files []*ast.File) error {
	if fset == nil {
		return errors.New("fset cannot be nil")
	}
	if files == nil {
		return errors.New("files cannot be nil")
	}

	for _, file := range files {
		byLine := make(map[int]Directive)
		for _, group := range file.Comments {
			for _, comment := range group.List {
				if d, ok := ParseDirective(comment.Text); ok {
					byLine[fset.Position(comment.Slash).Line] = d
				}
			}
		}
		if len(byLine) == 0 {
			continue
		}

		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok {
				continue
			}
			line := fset.Position(fn.Name.Pos()).Line
			d, ok := byLine[line]
			if !ok {
				d, ok = byLine[line-1]
			}
			if !ok {
				d, ok = docDirective(fn.Doc)
			}
			if !ok {
				continue
			}
			reason := d.Reason
			if reason == "" {
				reason = defaultReason
			}
			c.suppressed[fn.Name.Pos()] = reason
		}
	}
	return nil
}

func docDirective(doc *ast.CommentGroup) (Directive, bool) {
	if doc == nil {
		return Directive{}, false
	}
	for _, comment := range doc.List {
		if d, ok := ParseDirective(comment.Text); ok {
			return d, true
		}
	}
	return Directive{}, false
}

// IsSuppressed reports whether the function declared at pos is suppressed,
// and why.
func (c *Checker) IsSuppressed(pos token.Pos) (bool, string) {
	if !pos.IsValid() {
		return false, ""
	}
	reason, ok := c.suppressed[pos]
	return ok, reason
}

// Len returns the number of suppressed functions.
func (c *Checker) Len() int { return len(c.suppressed) }

// Clear forgets every suppression.
func (c *Checker) Clear() {
	clear(c.suppressed)
}

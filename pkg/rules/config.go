// Package rules loads the rule configuration: entry points, critical methods
// and callback translation rules.
//
// A rule file is a YAML document holding a single list:
//
//	rules:
//	  - kind: entry
//	    interface: net/http.Handler
//	    method: ServeHTTP
//	  - kind: critical
//	    function: os/exec.Command
//	    explanation: starts a process
//	  - kind: translation
//	    caller: (*sync.Once).Do
//	    arg: 1
//	    explanation: sync.Once runs its function
//
// Functions are named canonically, e.g. "net/http.HandleFunc" or
// "(*sync.Once).Do"; types by package path and name, e.g. "net/http.Handler".
// Argument indices count the receiver of a method as 0 and -1 denotes the
// result of a call.
package rules

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"go/token"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Kind is the kind of a rule.
type Kind string

const (
	// KindEntry declares an entry point.
	KindEntry Kind = "entry"

	// KindCritical declares a critical method.
	KindCritical Kind = "critical"

	// KindTranslation declares a callback activation.
	KindTranslation Kind = "translation"
)

// Set is a rule file.
type Set struct {
	Rules []Rule `yaml:"rules" validate:"dive"`
}

// Rule is one rule. Which fields apply depends on Kind:
//
//   - entry: Interface and Method, or Function.
//   - critical: Function.
//   - translation: Caller, Arg, Target and Links.
type Rule struct {
	Kind Kind `yaml:"kind" validate:"required,oneof=entry critical translation"`

	Interface string `yaml:"interface,omitempty" validate:"omitempty,symbol"`
	Method    string `yaml:"method,omitempty" validate:"omitempty,ident"`
	Function  string `yaml:"function,omitempty" validate:"omitempty,symbol"`

	Caller string `yaml:"caller,omitempty" validate:"omitempty,symbol"`
	Arg    int    `yaml:"arg,omitempty" validate:"gte=0"`
	Target string `yaml:"target,omitempty" validate:"omitempty,ident"`
	Links  []Link `yaml:"links,omitempty" validate:"dive"`

	Explanation string `yaml:"explanation,omitempty"`
}

// Link forwards the callback from argument From to argument To of calls to
// Method.
type Link struct {
	Method string `yaml:"method" validate:"required,symbol"`
	From   int    `yaml:"from" validate:"gte=-1"`
	To     int    `yaml:"to" validate:"gte=-1"`
}

func (r Rule) String() string {
	switch r.Kind {
	case KindEntry:
		if r.Function != "" {
			return "entry " + r.Function
		}
		return "entry " + r.Interface + "." + r.Method
	case KindCritical:
		return "critical " + r.Function
	case KindTranslation:
		return fmt.Sprintf("translation %s[%d] -> %q", r.Caller, r.Arg, r.Target)
	}
	return string(r.Kind)
}

// ConfigError reports an invalid rule file. Index is the position of the
// offending rule, or -1 when the document itself is malformed.
type ConfigError struct {
	Source string
	Index  int
	Err    error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("rules")
	if e.Source != "" {
		b.WriteString(" " + e.Source)
	}
	if e.Index >= 0 {
		fmt.Fprintf(&b, ": rule %d", e.Index)
	}
	b.WriteString(": " + e.Err.Error())
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

var getValidator = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("symbol", func(fl validator.FieldLevel) bool {
		return isSymbol(fl.Field().String())
	})
	_ = v.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
		return token.IsIdentifier(fl.Field().String())
	})
	return v
})

// isSymbol reports whether s looks like a canonical function or type name:
// a package path and a name, the receiver of a method in parentheses.
func isSymbol(s string) bool {
	if strings.ContainsAny(s, " \t\n") {
		return false
	}
	if rest, ok := strings.CutPrefix(s, "("); ok {
		recv, name, ok := strings.Cut(rest, ").")
		return ok && isSymbol(strings.TrimPrefix(recv, "*")) && token.IsIdentifier(name)
	}
	i := strings.LastIndexByte(s, '.')
	return i > 0 && token.IsIdentifier(s[i+1:])
}

// Parse decodes and validates a rule file.
func Parse(data []byte) (*Set, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var set Set
	if err := dec.Decode(&set); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Index: -1, Err: err}
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

// Validate checks every rule, reporting the first invalid one.
func (s *Set) Validate() error {
	for i, r := range s.Rules {
		if err := getValidator().Struct(r); err != nil {
			return &ConfigError{Index: i, Err: describe(err)}
		}
		if err := r.validateKind(); err != nil {
			return &ConfigError{Index: i, Err: err}
		}
	}
	return nil
}

func (r Rule) validateKind() error {
	switch r.Kind {
	case KindEntry:
		byInterface := r.Interface != "" || r.Method != ""
		switch {
		case byInterface && r.Function != "":
			return errors.New("entry takes interface and method, or function, not both")
		case byInterface && (r.Interface == "" || r.Method == ""):
			return errors.New("entry needs both interface and method")
		case !byInterface && r.Function == "":
			return errors.New("entry needs interface and method, or function")
		}
		return r.forbid(field{"caller", r.Caller != ""}, field{"target", r.Target != ""}, field{"links", len(r.Links) > 0})
	case KindCritical:
		if r.Function == "" {
			return errors.New("critical needs function")
		}
		return r.forbid(field{"interface", r.Interface != ""}, field{"method", r.Method != ""},
			field{"caller", r.Caller != ""}, field{"target", r.Target != ""}, field{"links", len(r.Links) > 0})
	case KindTranslation:
		if r.Caller == "" {
			return errors.New("translation needs caller")
		}
		return r.forbid(field{"interface", r.Interface != ""}, field{"method", r.Method != ""}, field{"function", r.Function != ""})
	}
	return fmt.Errorf("unknown kind %q", r.Kind)
}

type field struct {
	name string
	set  bool
}

func (r Rule) forbid(fields ...field) error {
	for _, f := range fields {
		if f.set {
			return fmt.Errorf("%s rule does not take %s", r.Kind, f.name)
		}
	}
	return nil
}

// describe turns validator errors into a readable message.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	name := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", name)
	case "oneof":
		return fmt.Errorf("%s must be one of %s, got %q", name, fe.Param(), fe.Value())
	case "gte":
		return fmt.Errorf("%s must be at least %s, got %v", name, fe.Param(), fe.Value())
	case "symbol":
		return fmt.Errorf("%s %q is not a qualified name", name, fe.Value())
	case "ident":
		return fmt.Errorf("%s %q is not an identifier", name, fe.Value())
	}
	return fmt.Errorf("%s fails %s", name, fe.Tag())
}

// Load reads and parses a rule file from a local path or any URL afs
// supports.
func Load(ctx context.Context, location string) (*Set, error) {
	if !strings.Contains(location, "://") {
		abs, err := filepath.Abs(location)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", location, err)
		}
		location = abs
	}
	data, err := afs.New().DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", location, err)
	}
	set, err := Parse(data)
	if err != nil {
		var cerr *ConfigError
		if errors.As(err, &cerr) {
			cerr.Source = location
		}
		return nil, err
	}
	return set, nil
}

//go:embed default.yaml
var defaultRulesYAML []byte

var getDefault = sync.OnceValue(func() *Set {
	set, err := Parse(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default rules: %v", err))
	}
	return set
})

// Default returns the built-in rules for Go programs.
func Default() *Set {
	return Merge(getDefault())
}

// Merge concatenates rule sets in order.
func Merge(sets ...*Set) *Set {
	out := &Set{}
	for _, s := range sets {
		if s != nil {
			out.Rules = append(out.Rules, s.Rules...)
		}
	}
	return out
}

package rules

import (
	"log/slog"

	"github.com/715d/looptrace/pkg/callback"
	"github.com/715d/looptrace/pkg/explore"
	"github.com/715d/looptrace/pkg/program"
)

// mainEntry names the main function of every main package.
const mainEntry = "main.main"

// Symbols resolves the names used by rules.
type Symbols interface {
	LookupClass(name string) (*program.Class, bool)
	LookupMethod(name string) (*program.Method, bool)

	// Mains returns the main functions of the application.
	Mains() []*program.Method
}

// Compiled is a rule set bound to a program.
type Compiled struct {
	Entries      []explore.Entry
	Criticals    map[*program.Method]string
	Translations []callback.Rule

	// Unresolved lists the rules naming symbols absent from the program.
	Unresolved []Rule
}

// Compile binds set to the symbols of a program. Rules naming symbols the
// program does not contain are skipped: a program that never calls
// os/exec.Command has nothing to report about it.
func Compile(set *Set, syms Symbols) *Compiled {
	c := &Compiled{Criticals: make(map[*program.Method]string)}
	for _, r := range set.Rules {
		if !c.add(r, syms) {
			slog.Debug("rule does not apply", "rule", r)
			c.Unresolved = append(c.Unresolved, r)
		}
	}
	slog.Debug("compiled rules",
		"entries", len(c.Entries),
		"criticals", len(c.Criticals),
		"translations", len(c.Translations),
		"unresolved", len(c.Unresolved))
	return c
}

func (c *Compiled) add(r Rule, syms Symbols) bool {
	switch r.Kind {
	case KindEntry:
		return c.addEntry(r, syms)
	case KindCritical:
		m, ok := syms.LookupMethod(r.Function)
		if !ok {
			return false
		}
		c.Criticals[m] = r.Explanation
		return true
	case KindTranslation:
		return c.addTranslation(r, syms)
	}
	return false
}

func (c *Compiled) addEntry(r Rule, syms Symbols) bool {
	switch {
	case r.Function == mainEntry:
		mains := syms.Mains()
		for _, m := range mains {
			c.Entries = append(c.Entries, explore.Entry{Name: m.Name, Func: m, Explanation: r.Explanation})
		}
		return len(mains) > 0
	case r.Function != "":
		m, ok := syms.LookupMethod(r.Function)
		if !ok {
			return false
		}
		c.Entries = append(c.Entries, explore.Entry{Name: m.Name, Func: m, Explanation: r.Explanation})
		return true
	default:
		class, ok := syms.LookupClass(r.Interface)
		if !ok {
			return false
		}
		c.Entries = append(c.Entries, explore.Entry{
			Name:        r.Interface + "." + r.Method,
			Class:       class,
			Method:      r.Method,
			Explanation: r.Explanation,
		})
		return true
	}
}

func (c *Compiled) addTranslation(r Rule, syms Symbols) bool {
	caller, ok := syms.LookupMethod(r.Caller)
	if !ok {
		return false
	}
	rule := callback.Rule{
		Caller:      caller,
		Arg:         r.Arg,
		Target:      r.Target,
		Explanation: r.Explanation,
	}
	for _, l := range r.Links {
		m, ok := syms.LookupMethod(l.Method)
		if !ok {
			return false
		}
		rule.Links = append(rule.Links, callback.Link{Method: m, From: l.From, To: l.To})
	}
	c.Translations = append(c.Translations, rule)
	return true
}

// Register adds the translations to r in rule order.
func (c *Compiled) Register(r *callback.Resolver) {
	for _, t := range c.Translations {
		r.Register(t)
	}
}

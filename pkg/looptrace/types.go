package looptrace

import (
	"strconv"

	"github.com/715d/looptrace/pkg/explore"
)

// Result is the outcome of one analysis run.
type Result struct {
	// RunID identifies the run in reports and telemetry.
	RunID string `json:"run_id"`

	Traces []Finding `json:"traces"`

	// Entries is the number of entry points explored.
	Entries int `json:"entries"`

	// Steps is the number of exploration steps over all entry points.
	Steps int `json:"steps"`

	// Unresolved lists the rules naming symbols the program lacks.
	Unresolved []string `json:"unresolved,omitempty"`

	// Recursion lists the recursive components that contain application
	// code, when requested.
	Recursion [][]string `json:"recursion,omitempty"`
}

// Reported returns the traces that are not suppressed.
func (r *Result) Reported() []Finding {
	var out []Finding
	for _, f := range r.Traces {
		if !f.Suppressed {
			out = append(out, f)
		}
	}
	return out
}

// Finding is a reported trace.
type Finding struct {
	Entry            string `json:"entry"`
	EntryExplanation string `json:"entry_explanation,omitempty"`
	Context          string `json:"context"`
	Position         string `json:"position,omitempty"`
	Critical         string `json:"critical"`
	Explanation      string `json:"explanation,omitempty"`
	Loop             bool   `json:"loop"`
	Calls            []Call `json:"calls,omitempty"`
	Fingerprint      string `json:"fingerprint"`

	Suppressed bool   `json:"suppressed,omitempty"`
	Reason     string `json:"reason,omitempty"`

	Trace explore.Trace `json:"-"`
}

// Call is one caller on a finding's path.
type Call struct {
	Method    string `json:"method"`
	Position  string `json:"position,omitempty"`
	Via       string `json:"via,omitempty"`
	Recursive bool   `json:"recursive,omitempty"`
	LocalLoop bool   `json:"local_loop,omitempty"`
}

func newFinding(t explore.Trace) Finding {
	f := Finding{
		Entry:            t.Entry,
		EntryExplanation: t.EntryExplanation,
		Context:          t.Context.Name,
		Position:         t.Context.Position,
		Critical:         t.Critical.Name,
		Explanation:      t.Explanation,
		Loop:             t.Loop,
		Fingerprint:      strconv.FormatUint(t.Fingerprint(), 16),
		Trace:            t,
	}
	for _, c := range t.Calls {
		f.Calls = append(f.Calls, Call{
			Method:    c.Method.Name,
			Position:  c.Method.Position,
			Via:       c.Via,
			Recursive: c.Recursive,
			LocalLoop: c.LocalLoop,
		})
	}
	return f
}

func (f Finding) String() string { return f.Trace.String() }

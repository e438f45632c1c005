package explore

import (
	"fmt"
	"strings"
	"sync"

	"github.com/minio/highwayhash"

	"github.com/715d/looptrace/pkg/program"
)

// Trace is the path from an entry point implementation to one occurrence
// of a critical method.
type Trace struct {
	Entry            string
	EntryExplanation string

	// Context is the entry point implementation the path starts from.
	Context *program.Method

	Critical    *program.Method
	Explanation string

	// Loop reports whether the critical method may run repeatedly: it is
	// reached from inside a loop, through recursion, or is itself recursive.
	Loop bool

	// Calls lists the callers from the critical method's caller up to
	// Context.
	Calls []Call
}

// Call is one caller on a trace.
type Call struct {
	Method *program.Method

	// Via is the explanation of the callback activation used to reach the
	// callee, if any.
	Via string

	// Recursive reports whether Method may be recursive.
	Recursive bool

	// LocalLoop reports whether the call was made from a loop in Method.
	LocalLoop bool
}

// Flagged reports whether the call contributes to looping.
func (c Call) Flagged() bool { return c.Recursive || c.LocalLoop }

func newTrace(entry Entry, s *Step, expl string) Trace {
	t := Trace{
		Entry:            entry.Name,
		EntryExplanation: entry.Explanation,
		Critical:         s.Method,
		Explanation:      expl,
		Loop:             s.InLoop,
	}
	child := s
	for child.Prev != nil {
		parent := child.Prev
		t.Calls = append(t.Calls, Call{
			Method:    parent.Method,
			Via:       child.Explanation,
			Recursive: parent.Recursive,
			LocalLoop: child.LocalLoop,
		})
		child = parent
	}
	t.Context = child.Method
	return t
}

func (t Trace) String() string {
	var b strings.Builder
	verdict := "no loop"
	if t.Loop {
		verdict = "loop"
	}
	fmt.Fprintf(&b, "%s reached from %s (%s): %s\n", t.Critical, t.Context, t.Entry, verdict)
	for _, c := range t.Calls {
		fmt.Fprintf(&b, "  called by %s", c.Method)
		if c.Via != "" {
			fmt.Fprintf(&b, " via %s", c.Via)
		}
		if c.Recursive {
			b.WriteString(" [recursive]")
		}
		if c.LocalLoop {
			b.WriteString(" [in loop]")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

var fingerprintKey = []byte("looptrace-trace-fingerprint-key!")

// Fingerprint returns a stable hash of the rendered trace.
func (t Trace) Fingerprint() uint64 {
	h, err := highwayhash.New64(fingerprintKey)
	if err != nil {
		panic(err) // only fails for a key that is not 32 bytes
	}
	_, _ = h.Write([]byte(t.String()))
	return h.Sum64()
}

// Sink receives traces.
type Sink interface {
	Emit(Trace)
}

// Collector is a Sink that keeps traces in arrival order. It is safe for
// concurrent use.
type Collector struct {
	mu     sync.Mutex
	traces []Trace
}

func (c *Collector) Emit(t Trace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.traces = append(c.traces, t)
}

// Traces returns the collected traces.
func (c *Collector) Traces() []Trace {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Trace, len(c.traces))
	copy(out, c.traces)
	return out
}

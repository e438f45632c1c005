package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/715d/looptrace/pkg/looptrace"
)

var (
	criticalColor = color.New(color.FgYellow, color.Bold)
	loopColor     = color.New(color.FgRed, color.Bold)
	onceColor     = color.New(color.FgGreen)
	flagColor     = color.New(color.FgRed)
	dimColor      = color.New(color.Faint)
)

// setColor enables or disables colored output for mode auto, always or
// never.
func setColor(mode string, f *os.File) error {
	switch mode {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	case "auto":
		fd := f.Fd()
		color.NoColor = os.Getenv("NO_COLOR") != "" ||
			!(isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd))
	default:
		return fmt.Errorf("invalid --color %q: want auto, always or never", mode)
	}
	return nil
}

// reported returns the findings that count towards the exit code.
func reported(result *looptrace.Result, cfg *Config) []looptrace.Finding {
	var out []looptrace.Finding
	for _, f := range result.Reported() {
		if cfg.LoopsOnly && !f.Loop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func writeResults(w io.Writer, result *looptrace.Result, dur time.Duration, cfg *Config) error {
	if cfg.JSON {
		return writeJSON(w, result, dur, cfg)
	}
	_, err := io.WriteString(w, formatText(result, cfg))
	return err
}

type jOutput struct {
	RunID      string              `json:"run_id"`
	Traces     []looptrace.Finding `json:"traces"`
	Unresolved []string            `json:"unresolved,omitempty"`
	Recursion  [][]string          `json:"recursion,omitempty"`
	Stats      jStats              `json:"stats"`
	Version    string              `json:"version"`
	Timestamp  string              `json:"timestamp"`
}

type jStats struct {
	Entries          int           `json:"entries"`
	Steps            int           `json:"steps"`
	Traces           int           `json:"traces"`
	Loops            int           `json:"loops"`
	Suppressed       int           `json:"suppressed"`
	AnalysisDuration time.Duration `json:"analysis_duration"`
}

func writeJSON(w io.Writer, result *looptrace.Result, dur time.Duration, cfg *Config) error {
	out := jOutput{
		RunID:      result.RunID,
		Traces:     []looptrace.Finding{},
		Unresolved: result.Unresolved,
		Recursion:  result.Recursion,
		Stats:      stats(result, dur),
		Version:    version,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for _, f := range result.Traces {
		if cfg.LoopsOnly && !f.Loop {
			continue
		}
		out.Traces = append(out.Traces, f)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("marshaling json output: %w", err)
	}
	return nil
}

func stats(result *looptrace.Result, dur time.Duration) jStats {
	s := jStats{
		Entries:          result.Entries,
		Steps:            result.Steps,
		Traces:           len(result.Traces),
		AnalysisDuration: dur,
	}
	for _, f := range result.Traces {
		if f.Suppressed {
			s.Suppressed++
		} else if f.Loop {
			s.Loops++
		}
	}
	return s
}

// formatText renders one block per finding:
//
//	main.go:12:6: os.Remove reached from example.com/app.main (program start): loop
//	  called by (example.com/app.handler).ServeHTTP [in loop]
//	  called by example.com/app.main via handler registered on the default mux
func formatText(result *looptrace.Result, cfg *Config) string {
	var b strings.Builder

	findings := reported(result, cfg)
	if cfg.Verbose {
		for _, f := range result.Traces {
			if f.Suppressed && (!cfg.LoopsOnly || f.Loop) {
				findings = append(findings, f)
			}
		}
		s := stats(result, 0)
		slog.Info("analysis statistics",
			"entries", s.Entries,
			"steps", s.Steps,
			"traces", s.Traces,
			"loops", s.Loops,
			"suppressed", s.Suppressed)
	}

	for _, f := range findings {
		writeFinding(&b, f)
	}

	for _, group := range result.Recursion {
		fmt.Fprintf(&b, "%s %s\n", flagColor.Sprint("recursive:"), strings.Join(group, ", "))
	}

	if len(findings) == 0 {
		slog.Info("no traces found")
	}
	return b.String()
}

func writeFinding(b *strings.Builder, f looptrace.Finding) {
	verdict := onceColor.Sprint("no loop")
	if f.Loop {
		verdict = loopColor.Sprint("loop")
	}
	if f.Position != "" {
		b.WriteString(f.Position + ": ")
	}
	entry := f.Entry
	if f.EntryExplanation != "" {
		entry = f.EntryExplanation
	}
	fmt.Fprintf(b, "%s reached from %s (%s): %s", criticalColor.Sprint(f.Critical), f.Context, entry, verdict)
	if f.Explanation != "" {
		b.WriteString(dimColor.Sprintf(" [%s]", f.Explanation))
	}
	if f.Suppressed {
		b.WriteString(dimColor.Sprintf(" (suppressed: %s)", f.Reason))
	}
	b.WriteByte('\n')

	for _, c := range f.Calls {
		b.WriteString("  called by " + c.Method)
		if c.Via != "" {
			b.WriteString(" via " + c.Via)
		}
		if c.Recursive {
			b.WriteString(flagColor.Sprint(" [recursive]"))
		}
		if c.LocalLoop {
			b.WriteString(flagColor.Sprint(" [in loop]"))
		}
		b.WriteByte('\n')
	}
}

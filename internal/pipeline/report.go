package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dshills/scenariogen/internal/graph"
	"github.com/dshills/scenariogen/internal/storage"
)

// Palette colors the terminal report.
type Palette struct {
	Header  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
}

// DefaultPalette uses 256-color codes readable on dark and light terminals.
var DefaultPalette = Palette{
	Header:  lipgloss.Color("39"),
	Success: lipgloss.Color("42"),
	Warning: lipgloss.Color("214"),
	Error:   lipgloss.Color("196"),
	Muted:   lipgloss.Color("245"),
}

type styles struct {
	header, success, warning, error, muted lipgloss.Style
}

func (p Palette) styles() styles {
	return styles{
		header:  lipgloss.NewStyle().Bold(true).Foreground(p.Header),
		success: lipgloss.NewStyle().Foreground(p.Success),
		warning: lipgloss.NewStyle().Foreground(p.Warning),
		error:   lipgloss.NewStyle().Foreground(p.Error),
		muted:   lipgloss.NewStyle().Foreground(p.Muted),
	}
}

// Render formats the run for a terminal: per-target state, node counts and
// the diagnostics of failed nodes.
func (r *RunReport) Render(p Palette) string {
	st := p.styles()
	var sb strings.Builder

	sb.WriteString(st.header.Render("PIPELINE RUN " + r.RunID))
	sb.WriteString("\n")
	sb.WriteString(st.muted.Render("Graph: " + shortHash(r.Nodes.GraphHash)))
	sb.WriteString("\n")

	counts := r.Counts()
	sb.WriteString(st.muted.Render(fmt.Sprintf("Nodes: %d    Ran: %d    Cached: %d    Failed: %d    Skipped: %d    Time: %s",
		r.Graph.Len(), counts[graph.Completed], counts[graph.Cached], counts[graph.Failed], counts[graph.Skipped],
		r.Duration.Round(time.Millisecond))))
	sb.WriteString("\n\n")

	for _, t := range r.Targets {
		line := fmt.Sprintf("  %-24s %s", t.Target, t.State)
		switch t.State {
		case CompiledAndRegistered:
			sb.WriteString(st.success.Render(line))
		case Failed:
			sb.WriteString(st.error.Render(line + " (" + string(t.FailedStage) + ")"))
		default:
			sb.WriteString(st.warning.Render(line))
		}
		sb.WriteString("\n")
	}

	failed := r.Nodes.Failed(r.Graph)
	if len(failed) > 0 {
		sb.WriteString("\n")
		sb.WriteString(st.header.Render("FAILURES"))
		sb.WriteString("\n")
		for _, name := range failed {
			sb.WriteString(st.error.Render("  " + name))
			sb.WriteString("\n")
			for _, l := range strings.Split(strings.TrimSpace(r.Nodes.Outcomes[name].Err.Error()), "\n") {
				sb.WriteString("    " + l + "\n")
			}
		}
	}
	return sb.String()
}

// RenderTests formats test outcomes, one line per test.
func RenderTests(outcomes []TestOutcome, p Palette) string {
	st := p.styles()
	var sb strings.Builder
	passed := 0
	for _, o := range outcomes {
		res := o.Result
		if res.Passed {
			passed++
			sb.WriteString(st.success.Render(fmt.Sprintf("  PASS  %-32s %s", o.Registration.Name, res.Duration.Round(time.Millisecond))))
			sb.WriteString("\n")
			continue
		}
		sb.WriteString(st.error.Render(fmt.Sprintf("  FAIL  %-32s exit %d", o.Registration.Name, res.ExitCode)))
		sb.WriteString("\n")
		for _, l := range strings.Split(strings.TrimRight(res.Output, "\n"), "\n") {
			if l != "" {
				sb.WriteString(st.muted.Render("        " + l))
				sb.WriteString("\n")
			}
		}
	}
	summary := fmt.Sprintf("%d/%d tests passed", passed, len(outcomes))
	if passed == len(outcomes) {
		sb.WriteString(st.header.Render(summary))
	} else {
		sb.WriteString(st.error.Render(summary))
	}
	sb.WriteString("\n")
	return sb.String()
}

// RenderHeads formats stored target heads for the status command.
func RenderHeads(heads []*storage.TargetHead, p Palette) string {
	st := p.styles()
	var sb strings.Builder
	if len(heads) == 0 {
		sb.WriteString(st.muted.Render("no targets have run yet"))
		sb.WriteString("\n")
		return sb.String()
	}
	for _, h := range heads {
		line := fmt.Sprintf("  %-24s %-24s %s", h.Target, h.State, h.UpdatedAt.Format("2006-01-02 15:04:05"))
		switch TargetState(h.State) {
		case CompiledAndRegistered:
			sb.WriteString(st.success.Render(line))
		case Failed:
			sb.WriteString(st.error.Render(line))
		default:
			sb.WriteString(st.warning.Render(line))
		}
		sb.WriteString("\n")
		if h.Error != "" {
			first, _, _ := strings.Cut(h.Error, "\n")
			sb.WriteString(st.muted.Render("    " + h.FailedStage + ": " + first))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

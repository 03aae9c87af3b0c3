// File: internal/console/console.go

// Package console renders the per-step progress display on stdout.
// Structured logs go to stderr via the observability package; this is
// the human-facing channel.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/xkilldash9x/pilot-cli/internal/llm"
)

// ANSI styles for the terminal.
const (
	styleBold   = "\x1b[1m"
	styleDim    = "\x1b[2m"
	styleGreen  = "\x1b[32m"
	styleYellow = "\x1b[33m"
	styleRed    = "\x1b[31m"
	styleReset  = "\x1b[0m"
)

// Printer writes the step-by-step display. Colors are dropped when the
// writer is not a terminal so piped output stays clean.
type Printer struct {
	w     io.Writer
	color bool
}

// New returns a Printer on stdout with color auto-detection.
func New() *Printer {
	return &Printer{
		w:     os.Stdout,
		color: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// NewWriter returns a Printer on an arbitrary writer, used in tests.
func NewWriter(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color}
}

func (p *Printer) paint(style, s string) string {
	if !p.color {
		return s
	}
	return style + s + styleReset
}

// StepStart prints the header for a new step.
func (p *Printer) StepStart(step int) {
	fmt.Fprintf(p.w, "\n%s\n", p.paint(styleBold, fmt.Sprintf("Step %d", step)))
}

// StepAction prints the model's reasoning, stated next step and the
// action it chose.
func (p *Printer) StepAction(reasoning, nextStep, action string) {
	fmt.Fprintf(p.w, "  %s\n", p.paint(styleDim, reasoning))
	fmt.Fprintf(p.w, "  %s\n", p.paint(styleBold+styleGreen, nextStep))
	fmt.Fprintf(p.w, "  %s\n", action)
}

// StepWarning prints a warning line, used for stuck-screen notices.
func (p *Printer) StepWarning(message string) {
	fmt.Fprintf(p.w, "  %s\n", p.paint(styleBold+styleYellow, "! "+message))
}

// StepUsage prints compact per-step token usage.
func (p *Printer) StepUsage(usage llm.UsageStats) {
	fmt.Fprintf(p.w, "  %s\n", p.paint(styleDim, formatUsage(usage)))
}

// Success prints the final result panel for a completed run.
func (p *Printer) Success(summary string, steps int, usage llm.UsageStats) {
	p.panel("Done", styleGreen, summary, steps, usage)
}

// Failure prints the final result panel for a failed run.
func (p *Printer) Failure(summary string, steps int, usage llm.UsageStats) {
	p.panel("Failed", styleRed, summary, steps, usage)
}

// Cost prints the estimated run cost when pricing is known, with a
// per-model breakdown for runs that escalated.
func (p *Printer) Cost(total float64, byModel map[string]float64) {
	if len(byModel) > 1 {
		for model, cost := range byModel {
			fmt.Fprintf(p.w, "  %s\n", p.paint(styleDim, fmt.Sprintf("%s: $%.4f", model, cost)))
		}
	}
	fmt.Fprintf(p.w, "  %s\n", p.paint(styleDim, fmt.Sprintf("estimated cost: $%.4f", total)))
}

// Notice prints a plain informational line.
func (p *Printer) Notice(message string) {
	fmt.Fprintf(p.w, "%s\n", message)
}

func (p *Printer) panel(title, style, summary string, steps int, usage llm.UsageStats) {
	fmt.Fprintf(p.w, "\n%s\n", p.paint(styleBold+style, "== "+title+" =="))
	fmt.Fprintf(p.w, "%s\n", summary)
	fmt.Fprintf(p.w, "%s\n", p.paint(styleDim, fmt.Sprintf("%d steps", steps)))
	if !usage.IsZero() {
		fmt.Fprintf(p.w, "%s\n", p.paint(styleDim, "tokens: "+formatUsage(usage)))
	}
}

func formatUsage(usage llm.UsageStats) string {
	parts := []string{
		fmt.Sprintf("%d in", usage.InputTokens),
		fmt.Sprintf("%d out", usage.OutputTokens),
	}
	var cache []string
	if usage.CacheReadTokens > 0 {
		cache = append(cache, fmt.Sprintf("%d read", usage.CacheReadTokens))
	}
	if usage.CacheCreationTokens > 0 {
		cache = append(cache, fmt.Sprintf("%d write", usage.CacheCreationTokens))
	}
	if len(cache) > 0 {
		parts = append(parts, "cache: "+strings.Join(cache, ", "))
	}
	return strings.Join(parts, " / ")
}

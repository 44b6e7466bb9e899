package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"AutoAgent/internal/agent"
)

// renderer prints markdown through glamour when the output is a terminal and
// as plain text otherwise.
type renderer struct {
	out  io.Writer
	term *glamour.TermRenderer
}

func newRenderer(out io.Writer) *renderer {
	r := &renderer{out: out}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		width := 100
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 {
			width = w - 4
		}
		tr, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
		if err == nil {
			r.term = tr
		}
	}
	return r
}

func (r *renderer) markdown(text string) {
	if r.term != nil {
		if rendered, err := r.term.Render(text); err == nil {
			fmt.Fprint(r.out, rendered)
			return
		}
	}
	fmt.Fprintln(r.out, text)
}

func (r *renderer) result(result agent.Result) {
	banner := strings.Repeat("=", 30)
	fmt.Fprintf(r.out, "\n%s Agent Run Complete %s\n", banner, banner)
	fmt.Fprintln(r.out, "Final Result:")
	r.markdown(result.Message())
	fmt.Fprintln(r.out, strings.Repeat("=", 80))
}

// stepPrinter reports each recorded iteration on w.
func stepPrinter(w io.Writer) func(agent.Step) {
	return func(step agent.Step) {
		fmt.Fprintf(w, "[%d] Thought: %s\n", step.Iteration, oneLine(step.Thought))
		if step.Action != agent.NoActionLabel {
			fmt.Fprintf(w, "[%d] Action: %s %s\n", step.Iteration, step.Action, oneLine(step.ActionInput))
		}
		fmt.Fprintf(w, "[%d] %s\n", step.Iteration, oneLine(step.Observation))
	}
}

func oneLine(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > 160 {
		return string(runes[:160]) + "..."
	}
	return text
}

package tool

import (
	"context"
	"errors"
	"fmt"
)

// Outcome is the result of one tool invocation: either text for the model or
// a fault that still has to be rendered as an observation.
type Outcome struct {
	text   string
	err    error
	notice string
}

// Ok wraps a successful observation.
func Ok(text string) Outcome { return Outcome{text: text} }

// Fault wraps a failed invocation.
func Fault(err error) Outcome {
	if err == nil {
		err = errors.New("unknown failure")
	}
	return Outcome{err: err}
}

// Rejected is a fault raised before the tool ran, such as an unknown name or
// undecodable input. Its message is handed to the model verbatim.
func Rejected(message string) Outcome {
	return Outcome{err: errors.New(message), notice: message}
}

// Failed reports whether the invocation faulted.
func (o Outcome) Failed() bool { return o.err != nil }

// Err returns the fault, if any.
func (o Outcome) Err() error { return o.err }

// Text returns the observation text of a successful invocation.
func (o Outcome) Text() string { return o.text }

// Observation renders the outcome into the string handed back to the model.
func (o Outcome) Observation(toolName string) string {
	if o.err == nil {
		return o.text
	}
	if o.notice != "" {
		return o.notice
	}
	if errors.Is(o.err, ErrArguments) {
		return fmt.Sprintf("Error: Tool '%s' failed due to incorrect input arguments. Check tool description and input format. Error: %v", toolName, o.err)
	}
	return fmt.Sprintf("Error: An unexpected error occurred while executing tool '%s': %v", toolName, o.err)
}

// Invoke runs t inside a fault boundary: returned errors and panics both
// become a Fault outcome.
func Invoke(ctx context.Context, t Tool, in Input) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				out = Fault(fmt.Errorf("panic: %w", err))
				return
			}
			out = Fault(fmt.Errorf("panic: %v", r))
		}
	}()
	text, err := t.Execute(ctx, in)
	if err != nil {
		return Fault(err)
	}
	return Ok(text)
}

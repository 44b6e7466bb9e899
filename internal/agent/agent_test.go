package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/memory"
	"AutoAgent/internal/registry"
	"AutoAgent/pkg/logger"
	"AutoAgent/pkg/tool"
)

// stubLLM 按顺序返回预设回复，并记录收到的提示词。
type stubLLM struct {
	replies []string
	err     error
	wait    time.Duration
	prompts []string
	stops   [][]string
}

func (s *stubLLM) Generate(ctx context.Context, prompt string, stop []string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	s.stops = append(s.stops, stop)
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "Thought: still thinking", nil
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply, nil
}

func (s *stubLLM) ModelName() string { return "stub" }

type recordingObserver struct {
	status     Status
	iterations int
	tools      []string
}

func (r *recordingObserver) RunFinished(status Status, iterations int, _ time.Duration) {
	r.status = status
	r.iterations = iterations
}

func (r *recordingObserver) ToolDispatched(name string, _ bool, _ time.Duration) {
	r.tools = append(r.tools, name)
}

func newRegistry(t *testing.T, tools ...tool.Tool) *registry.Registry {
	t.Helper()
	factories := make([]registry.Factory, 0, len(tools))
	for _, item := range tools {
		item := item
		factories = append(factories, registry.Factory{
			Name: item.Name(),
			New:  func(map[string]any) (tool.Tool, error) { return item, nil },
		})
	}
	reg, err := registry.Assemble(registry.Options{Factories: factories, Logger: logger.Nop()})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return reg
}

func echo() tool.Tool {
	return tool.Func{ToolName: "echo", Summary: "returns its input", Fn: func(_ context.Context, in tool.Input) (string, error) {
		return in.String(), nil
	}}
}

func newOrchestrator(model *stubLLM, reg *registry.Registry, opts ...Option) *Orchestrator {
	base := []Option{WithLogger(logger.Nop()), WithWorkingDir("/work"),
		WithClock(func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) })}
	return New(model, reg, append(base, opts...)...)
}

func TestRunAchievesGoalAfterActions(t *testing.T) {
	action := "Thought: x\nAction: echo\nAction Input: hi"
	model := &stubLLM{replies: []string{action, action, action, "Thought: done\nFinal Answer: done"}}
	obs := &recordingObserver{}
	orch := newOrchestrator(model, newRegistry(t, echo()), WithObserver(obs))

	result := orch.Run(context.Background(), "G")
	if result.Status != StatusAchieved || !strings.HasPrefix(result.Message(), "Goal Achieved:") || !strings.Contains(result.Message(), "done") {
		t.Fatalf("unexpected result: %+v", result)
	}
	if orch.Memory().Len() != 3 {
		t.Fatalf("expected 3 records, got %d", orch.Memory().Len())
	}
	for _, rec := range orch.Memory().Records() {
		if rec.Action != "echo" || rec.ActionInput != "hi" || rec.Observation != "hi" {
			t.Fatalf("unexpected record %+v", rec)
		}
	}
	if result.Iterations != 4 || obs.status != StatusAchieved || len(obs.tools) != 3 {
		t.Fatalf("unexpected bookkeeping: result=%+v observer=%+v", result, obs)
	}
	if len(model.stops[0]) != 1 || model.stops[0][0] != "\nObservation:" {
		t.Fatalf("unexpected stop sequences %q", model.stops[0])
	}
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	model := &stubLLM{replies: []string{"Thought: x\nAction: echo\nAction Input: hi"}}
	orch := newOrchestrator(model, newRegistry(t, echo()), WithMaxIterations(2))

	result := orch.Run(context.Background(), "G")
	if result.Status != StatusMaxIterationsReached {
		t.Fatalf("unexpected status %s", result.Status)
	}
	want := "Agent stopped: Reached maximum iterations (2). The goal may not be fully achieved. Check logs and memory."
	if result.Message() != want {
		t.Fatalf("unexpected message %q", result.Message())
	}
	if orch.Memory().Len() != 2 || len(model.prompts) != 2 {
		t.Fatalf("expected 2 records and 2 model calls, got %d and %d", orch.Memory().Len(), len(model.prompts))
	}
}

func TestRunUnknownToolContinues(t *testing.T) {
	model := &stubLLM{replies: []string{
		"Thought: try\nAction: nonexistent_tool\nAction Input: x",
		"Final Answer: recovered",
	}}
	orch := newOrchestrator(model, newRegistry(t, echo()))

	result := orch.Run(context.Background(), "G")
	if !result.Achieved() || result.Answer != "recovered" {
		t.Fatalf("unexpected result %+v", result)
	}
	records := orch.Memory().Records()
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	want := "Observation: Error - Tool 'nonexistent_tool' is not available. Please choose from: echo."
	if records[0].Observation != want || records[0].Action != "nonexistent_tool" || records[0].ActionInput != "x" {
		t.Fatalf("unexpected record %+v", records[0])
	}
	if !strings.Contains(model.prompts[1], want) {
		t.Fatalf("second prompt should contain the corrective observation")
	}
}

func TestRunRecordsNoAction(t *testing.T) {
	model := &stubLLM{replies: []string{"Thought: hmm, not sure", "Final Answer: ok"}}
	orch := newOrchestrator(model, newRegistry(t, echo()))

	result := orch.Run(context.Background(), "G")
	if !result.Achieved() {
		t.Fatalf("unexpected result %+v", result)
	}
	rec := orch.Memory().Records()[0]
	if rec.Thought != "hmm, not sure" || rec.Action != "No Action" || rec.ActionInput != "" ||
		rec.Observation != "Observation: No action was specified. Please provide an action or a final answer." {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestRunRecordsToolFaults(t *testing.T) {
	failing := tool.Func{ToolName: "fail", Fn: func(context.Context, tool.Input) (string, error) {
		return "", errors.New("disk full")
	}}
	model := &stubLLM{replies: []string{"Thought: x\nAction: fail\nAction Input: {'a': 1}", "Final Answer: gave up"}}
	orch := newOrchestrator(model, newRegistry(t, failing))

	if result := orch.Run(context.Background(), "G"); !result.Achieved() {
		t.Fatalf("tool faults must not stop the run: %+v", result)
	}
	rec := orch.Memory().Records()[0]
	if rec.Observation != "Error: An unexpected error occurred while executing tool 'fail': disk full" {
		t.Fatalf("unexpected observation %q", rec.Observation)
	}
}

func TestRunAbortsOnModelFailure(t *testing.T) {
	cases := []struct {
		name   string
		model  *stubLLM
		prefix string
	}{
		{name: "调用错误", model: &stubLLM{err: xerrors.New(xerrors.CodeRetriesExhausted, "重试耗尽")}, prefix: "Agent stopped: LLM generation encountered an error:"},
		{name: "失败前缀", model: &stubLLM{replies: []string{"Error: Could not get response from Ollama API."}}, prefix: "Agent stopped: LLM failed to generate response. Last error: Error: Could not get response"},
		{name: "空响应", model: &stubLLM{replies: []string{"   "}}, prefix: "Agent stopped: LLM failed to generate response."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orch := newOrchestrator(tc.model, newRegistry(t, echo()))
			result := orch.Run(context.Background(), "G")
			if result.Status != StatusAborted || !strings.HasPrefix(result.Message(), tc.prefix) {
				t.Fatalf("unexpected result %+v (%s)", result, result.Message())
			}
			if !xerrors.IsCode(result.Err, xerrors.CodeRunAborted) {
				t.Fatalf("expected run aborted error, got %v", result.Err)
			}
			if len(tc.model.prompts) != 1 {
				t.Fatalf("model must not be retried by the loop")
			}
		})
	}
}

func TestRunAbortsWhenCancelled(t *testing.T) {
	model := &stubLLM{wait: time.Second}
	orch := newOrchestrator(model, newRegistry(t, echo()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	result := orch.Run(ctx, "G")
	if result.Status != StatusAborted || !strings.HasPrefix(result.Message(), "Agent stopped: interrupted") {
		t.Fatalf("unexpected result %+v", result)
	}
	if orch.Memory().Len() != 0 {
		t.Fatalf("interrupted iteration must not be recorded")
	}
}

func TestRunAbortsWhenToolIsInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	slow := tool.Func{ToolName: "slow", Fn: func(ctx context.Context, _ tool.Input) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}}
	model := &stubLLM{replies: []string{"Thought: wait\nAction: slow\nAction Input: x"}}
	orch := newOrchestrator(model, newRegistry(t, slow))

	result := orch.Run(ctx, "G")
	if result.Status != StatusAborted {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunKeepMemory(t *testing.T) {
	mem := memory.New()
	model := &stubLLM{replies: []string{"Thought: x\nAction: echo\nAction Input: a", "Final Answer: one"}}
	orch := newOrchestrator(model, newRegistry(t, echo()), WithMemory(mem))

	orch.Run(context.Background(), "first")
	if mem.Len() != 1 {
		t.Fatalf("expected one record, got %d", mem.Len())
	}
	model.replies = []string{"Thought: y\nAction: echo\nAction Input: b", "Final Answer: two"}
	orch.Run(context.Background(), "second", KeepMemory())
	if mem.Len() != 2 {
		t.Fatalf("memory should be retained, got %d records", mem.Len())
	}
	model.replies = []string{"Final Answer: three"}
	orch.Run(context.Background(), "third")
	if mem.Len() != 0 {
		t.Fatalf("memory should be cleared for a fresh run, got %d", mem.Len())
	}
}

func TestRunRejectsEmptyGoal(t *testing.T) {
	model := &stubLLM{}
	result := newOrchestrator(model, newRegistry(t)).Run(context.Background(), "  ")
	if result.Status != StatusAborted || len(model.prompts) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestPromptPlaceholders(t *testing.T) {
	model := &stubLLM{replies: []string{"Final Answer: ok"}}
	template := "G={goal}|D={tool_descriptions}|N={tool_names}|H={history}|T={current_datetime}|C={current_directory}"
	second := tool.Func{ToolName: "search", Summary: "finds {things}"}
	orch := newOrchestrator(model, newRegistry(t, echo(), second), WithPromptTemplate(template))

	orch.Run(context.Background(), "find {x}")
	want := "G=find {x}|D=- echo: returns its input\n- search: finds {things}|N=echo, search|H=No history yet.|T=2024-05-06 07:08:09|C=/work"
	if model.prompts[0] != want {
		t.Fatalf("unexpected prompt:\n got: %q\nwant: %q", model.prompts[0], want)
	}
}

func TestCheckTemplate(t *testing.T) {
	if err := CheckTemplate(DefaultPromptTemplate); err != nil {
		t.Fatalf("default template should be valid: %v", err)
	}
	if err := CheckTemplate("no placeholders"); err == nil {
		t.Fatalf("expected error for template without placeholders")
	}
}

package task

import (
	"context"
	"fmt"
	"testing"
	"time"

	xerrors "AutoAgent/internal/errors"
)

// fixture 描述测试任务的最终状态。updated 是相对 base 的偏移。
type fixture struct {
	id      string
	source  string
	status  Status
	updated time.Duration
}

// seedStore 按 fixture 创建任务，并把更新时间改写为确定值。
func seedStore(t *testing.T, base time.Time, fixtures ...fixture) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	for _, f := range fixtures {
		if err := store.Create(ctx, &Task{ID: f.id, Goal: "goal " + f.id, Source: f.source, Status: StatusPending, MaxRetries: 3}); err != nil {
			t.Fatalf("create %s: %v", f.id, err)
		}
		var err error
		switch f.status {
		case StatusFailed:
			err = store.MarkFailed(ctx, f.id, CodeTaskProcessing, "boom", true)
		case StatusSucceeded:
			err = store.MarkSucceeded(ctx, f.id, ExecutionResult{Outcome: "achieved", Answer: "ok"})
		case StatusRunning:
			_, err = store.Claim(ctx, f.id)
		}
		if err != nil {
			t.Fatalf("advance %s to %s: %v", f.id, f.status, err)
		}
	}
	store.mu.Lock()
	for _, f := range fixtures {
		store.tasks[f.id].UpdatedAt = base.Add(f.updated).Unix()
	}
	store.mu.Unlock()
	return store
}

func ids(tasks []*Task) string {
	out := ""
	for i, task := range tasks {
		if i > 0 {
			out += ","
		}
		out += task.ID
	}
	return out
}

func TestMemoryStoreListFilters(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	store := seedStore(t, base,
		fixture{id: "t1", source: "api", status: StatusPending, updated: 0},
		fixture{id: "t2", source: "spawn_agent", status: StatusFailed, updated: 30 * time.Second},
		fixture{id: "t3", source: "api", status: StatusSucceeded, updated: time.Minute},
		fixture{id: "t4", source: "api", status: StatusRunning, updated: 2 * time.Minute},
	)

	cases := []struct {
		name   string
		filter Filter
		want   string
	}{
		{name: "默认按更新时间倒序", filter: Filter{}, want: "t4,t3,t2,t1"},
		{name: "正序", filter: NewFilter(WithOrder(OldestFirst)), want: "t1,t2,t3,t4"},
		{name: "按状态", filter: NewFilter(WithStatuses(StatusFailed, StatusRunning)), want: "t4,t2"},
		{name: "按来源", filter: NewFilter(WithSources(" spawn_agent ")), want: "t2"},
		{name: "有结果", filter: NewFilter(WithResult(true)), want: "t3"},
		{name: "无结果", filter: NewFilter(WithResult(false)), want: "t4,t2,t1"},
		{name: "时间下界", filter: NewFilter(UpdatedBetween(base.Add(15*time.Second), time.Time{})), want: "t4,t3,t2"},
		{name: "时间区间", filter: NewFilter(UpdatedBetween(base.Add(30*time.Second), base.Add(time.Minute))), want: "t3,t2"},
		{name: "关键字匹配错误信息", filter: NewFilter(Matching("BOOM")), want: "t2"},
		{name: "分页", filter: NewFilter(WithSources("api"), WithOrder(OldestFirst), Page(2, 1)), want: "t3,t4"},
		{name: "越界分页", filter: NewFilter(Page(10, 10)), want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.List(context.Background(), tc.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if ids(got) != tc.want {
				t.Fatalf("got %q, want %q", ids(got), tc.want)
			}
		})
	}
}

func TestMemoryStoreSummarize(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	store := seedStore(t, base,
		fixture{id: "a", source: "api", status: StatusPending, updated: 0},
		fixture{id: "b", source: "api", status: StatusFailed, updated: 30 * time.Second},
		fixture{id: "c", source: "spawn_agent", status: StatusSucceeded, updated: 2 * time.Minute},
	)
	ctx := context.Background()

	all, err := store.Summarize(ctx, NewFilter(Page(1, 0)))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if all.Total != 3 || all.Count(StatusPending) != 1 || all.Count(StatusFailed) != 1 || all.Count(StatusSucceeded) != 1 {
		t.Fatalf("paging must not affect the summary: %+v", all)
	}
	if all.Count(StatusRunning) != 0 || all.BySource["api"] != 2 || all.BySource["spawn_agent"] != 1 {
		t.Fatalf("unexpected distribution: %+v", all)
	}
	if all.OldestUpdate != base.Unix() || all.NewestUpdate != base.Add(2*time.Minute).Unix() {
		t.Fatalf("unexpected update range: %+v", all)
	}

	pending, err := store.Summarize(ctx, NewFilter(WithResult(false)))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if pending.Total != 2 || pending.NewestUpdate != base.Add(30*time.Second).Unix() {
		t.Fatalf("unexpected summary without results: %+v", pending)
	}

	empty, err := NewMemoryStore().Summarize(ctx, Filter{})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if empty.Total != 0 || empty.OldestUpdate != 0 || len(empty.ByStatus) != 4 {
		t.Fatalf("unexpected empty summary: %+v", empty)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Task{ID: "x", Goal: "g", Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Task{ID: "x", Goal: "g"}); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	steps := []struct {
		name    string
		claim   bool
		fail    bool
		wantErr xerrors.Code
		attempt int
	}{
		{name: "首次领取", claim: true, attempt: 1},
		{name: "运行中不可重复领取", claim: true, wantErr: CodeTaskConflict, attempt: 1},
		{name: "可重试失败", fail: true, attempt: 1},
		{name: "第二次领取", claim: true, attempt: 2},
		{name: "再次失败", fail: true, attempt: 2},
		{name: "次数耗尽", claim: true, wantErr: CodeTaskExhausted, attempt: 2},
	}
	for _, step := range steps {
		var (
			got *Task
			err error
		)
		switch {
		case step.claim:
			got, err = store.Claim(ctx, "x")
		case step.fail:
			err = store.MarkFailed(ctx, "x", CodeTaskProcessing, "retry me", false)
			if err == nil {
				got, err = store.Get(ctx, "x")
			}
		}
		if step.wantErr != "" {
			if !IsTaskError(err, step.wantErr) {
				t.Fatalf("%s: expected %v, got %v", step.name, step.wantErr, err)
			}
		} else if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if got == nil || got.Attempts != step.attempt {
			t.Fatalf("%s: unexpected task %+v", step.name, got)
		}
	}

	if _, err := store.Claim(ctx, "missing"); !IsTaskError(err, CodeTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	original := &Task{ID: "c", Goal: "g", AllowedTools: []string{"a"}, Metadata: map[string]any{"k": "v"}, Status: StatusPending, MaxRetries: 1}
	if err := store.Create(ctx, original); err != nil {
		t.Fatalf("create: %v", err)
	}
	original.AllowedTools[0] = "mutated"
	original.Metadata["k"] = "mutated"

	got, err := store.Get(ctx, "c")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Goal = "changed"
	again, _ := store.Get(ctx, "c")
	if again.Goal != "g" || again.AllowedTools[0] != "a" || again.Metadata["k"] != "v" {
		t.Fatalf("store must not share task memory: %+v", again)
	}
}

func TestFilterNormalization(t *testing.T) {
	f := NewFilter(Page(1000, -5), WithStatuses("bogus", StatusFailed, StatusFailed), WithSources("", "api", "api"))
	if f.Limit != MaxPageSize || f.Offset != 0 || f.Order != NewestFirst {
		t.Fatalf("unexpected paging: %+v", f)
	}
	if fmt.Sprint(f.Statuses) != "[failed]" || fmt.Sprint(f.Sources) != "[api]" {
		t.Fatalf("unexpected normalization: %+v", f)
	}
	if NewFilter().Limit != DefaultPageSize {
		t.Fatalf("unexpected default limit")
	}
}

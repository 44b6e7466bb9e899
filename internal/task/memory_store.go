package task

import (
	"context"
	"slices"
	"sync"
	"time"

	xerrors "AutoAgent/internal/errors"
)

// MemoryStore 把任务保存在进程内存中，适用于单进程运行与测试。
// 读写都经过深拷贝，调用方拿到的任务可以随意修改。
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	now   func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task), now: time.Now}
}

// Create 保存新任务，ID 已存在时返回 ErrTaskConflict。
func (m *MemoryStore) Create(_ context.Context, task *Task) error {
	if err := validateNew(task); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[task.ID]; exists {
		return ErrTaskConflict
	}
	task.UpdatedAt = m.now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = task.UpdatedAt
	}
	m.tasks[task.ID] = task.Clone()
	return nil
}

// Get 返回任务快照。
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if task, ok := m.tasks[id]; ok {
		return task.Clone(), nil
	}
	return nil, ErrTaskNotFound
}

// Claim 实现 Store 接口。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Task, error) {
	var refused error
	claimed, err := m.update(id, func(task *Task) bool {
		if refused = claimable(task); refused != nil {
			return false
		}
		task.Status = StatusRunning
		task.Attempts++
		task.LastError, task.ErrorCode = "", ""
		return true
	})
	if err != nil {
		return nil, err
	}
	return claimed, refused
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result ExecutionResult) error {
	_, err := m.update(id, func(task *Task) bool {
		task.Status = StatusSucceeded
		task.Result = &result
		task.LastError, task.ErrorCode = "", ""
		return true
	})
	return err
}

// MarkFailed 记录失败原因，非终态失败会让任务回到待执行状态。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	_, err := m.update(id, func(task *Task) bool {
		task.Status = StatusPending
		if terminal {
			task.Status = StatusFailed
		}
		task.LastError, task.ErrorCode = lastError, string(code)
		return true
	})
	return err
}

// List 返回匹配的任务，按 Filter 排序并分页。
func (m *MemoryStore) List(_ context.Context, filter Filter) ([]*Task, error) {
	filter = filter.normalized()
	matched := m.matching(filter)
	slices.SortFunc(matched, filter.compare)
	return filter.page(matched), nil
}

// Summarize 汇总匹配任务的状态与来源分布，忽略分页参数。
func (m *MemoryStore) Summarize(_ context.Context, filter Filter) (Summary, error) {
	summary := newSummary()
	for _, task := range m.matching(filter.normalized()) {
		summary.fold(task.Status, task.Source, 1, task.UpdatedAt, task.UpdatedAt)
	}
	return summary, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// update 在写锁内修改任务，fn 返回 true 时刷新更新时间。返回修改后的快照。
func (m *MemoryStore) update(id string, fn func(*Task) bool) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if fn(task) {
		task.UpdatedAt = m.now().Unix()
	}
	return task.Clone(), nil
}

func (m *MemoryStore) matching(filter Filter) []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if filter.Match(task) {
			out = append(out, task.Clone())
		}
	}
	return out
}

// claimable 返回任务无法被领取的原因。
func claimable(task *Task) error {
	switch {
	case task.Status == StatusSucceeded:
		return ErrTaskCompleted
	case task.Status == StatusRunning:
		return ErrTaskConflict
	case task.Status == StatusFailed, task.Attempts >= task.MaxRetries:
		return ErrTaskExhausted
	}
	return nil
}

func validateNew(task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if task.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)

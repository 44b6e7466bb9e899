package task

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// Order 决定列表按更新时间排列的方向。
type Order string

const (
	NewestFirst Order = "desc"
	OldestFirst Order = "asc"
)

// 分页默认值与上限。
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Filter 是任务列表与汇总共用的筛选条件，零值匹配全部任务。
type Filter struct {
	Statuses []Status
	// Sources 按提交来源筛选，例如 api 或 spawn_agent。
	Sources []string
	// Since 与 Until 按更新时间筛选，闭区间，零值表示不限。
	Since time.Time
	Until time.Time
	// Finished 非空时只保留有（或没有）执行结果的任务。
	Finished *bool
	// Text 在 ID、目标、来源、错误与结果中做不区分大小写的包含匹配。
	Text   string
	Order  Order
	Limit  int
	Offset int
}

// FilterOption 调整 Filter。
type FilterOption func(*Filter)

// NewFilter 合并选项并补齐默认值。
func NewFilter(opts ...FilterOption) Filter {
	var f Filter
	for _, opt := range opts {
		if opt != nil {
			opt(&f)
		}
	}
	return f.normalized()
}

// WithStatuses 只保留指定状态的任务，未知状态会被忽略。
func WithStatuses(statuses ...Status) FilterOption {
	return func(f *Filter) { f.Statuses = append(f.Statuses, statuses...) }
}

// WithSources 只保留指定来源提交的任务。
func WithSources(sources ...string) FilterOption {
	return func(f *Filter) { f.Sources = append(f.Sources, sources...) }
}

// UpdatedBetween 按更新时间筛选，任一端为零值时不限制该端。
func UpdatedBetween(since, until time.Time) FilterOption {
	return func(f *Filter) {
		f.Since = since
		f.Until = until
	}
}

// WithResult 按是否已有执行结果筛选。
func WithResult(present bool) FilterOption {
	return func(f *Filter) { f.Finished = &present }
}

// Matching 按关键字筛选。
func Matching(text string) FilterOption {
	return func(f *Filter) { f.Text = text }
}

// WithOrder 设置排序方向。
func WithOrder(order Order) FilterOption {
	return func(f *Filter) { f.Order = order }
}

// Page 设置分页，limit 超出上限时会被截断。
func Page(limit, offset int) FilterOption {
	return func(f *Filter) {
		f.Limit = limit
		f.Offset = offset
	}
}

func (f Filter) normalized() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultPageSize
	case f.Limit > MaxPageSize:
		f.Limit = MaxPageSize
	}
	f.Offset = max(f.Offset, 0)
	if f.Order != OldestFirst {
		f.Order = NewestFirst
	}
	f.Statuses = distinct(f.Statuses, IsValidStatus)
	sources := make([]string, 0, len(f.Sources))
	for _, source := range f.Sources {
		sources = append(sources, strings.TrimSpace(source))
	}
	f.Sources = distinct(sources, func(s string) bool { return s != "" })
	f.Text = strings.TrimSpace(f.Text)
	return f
}

// Match 判断任务是否满足筛选条件（不含分页）。
func (f Filter) Match(t *Task) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if len(f.Sources) > 0 && !slices.Contains(f.Sources, t.Source) {
		return false
	}
	if !f.Since.IsZero() && t.UpdatedAt < f.Since.Unix() {
		return false
	}
	if !f.Until.IsZero() && t.UpdatedAt > f.Until.Unix() {
		return false
	}
	if f.Finished != nil && (t.Result != nil) != *f.Finished {
		return false
	}
	return f.Text == "" || mentions(t, strings.ToLower(f.Text))
}

// compare 先按更新时间，再按创建时间与 ID 排序，保证分页稳定。
func (f Filter) compare(a, b *Task) int {
	c := cmp.Or(
		cmp.Compare(b.UpdatedAt, a.UpdatedAt),
		cmp.Compare(b.CreatedAt, a.CreatedAt),
		strings.Compare(b.ID, a.ID),
	)
	if f.Order == OldestFirst {
		return -c
	}
	return c
}

func (f Filter) page(tasks []*Task) []*Task {
	if f.Offset >= len(tasks) {
		return []*Task{}
	}
	tasks = tasks[f.Offset:]
	return tasks[:min(len(tasks), f.Limit)]
}

func mentions(t *Task, needle string) bool {
	haystack := []string{t.ID, t.Goal, t.Source, t.LastError}
	if t.Result != nil {
		haystack = append(haystack, t.Result.Answer, t.Result.Message)
	}
	return slices.ContainsFunc(haystack, func(field string) bool {
		return strings.Contains(strings.ToLower(field), needle)
	})
}

func distinct[T comparable](values []T, keep func(T) bool) []T {
	var out []T
	for _, v := range values {
		if keep(v) && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

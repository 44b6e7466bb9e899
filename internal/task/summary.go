package task

// Summary 汇总任务分布，供统计接口与仪表盘使用。
type Summary struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
	BySource map[string]int `json:"by_source,omitempty"`
	// OldestUpdate 与 NewestUpdate 是匹配任务的更新时间范围（Unix 秒）。
	OldestUpdate int64 `json:"oldest_update,omitempty"`
	NewestUpdate int64 `json:"newest_update,omitempty"`
}

func newSummary() Summary {
	return Summary{
		ByStatus: map[Status]int{StatusPending: 0, StatusRunning: 0, StatusSucceeded: 0, StatusFailed: 0},
		BySource: map[string]int{},
	}
}

// Count 返回指定状态的任务数量。
func (s Summary) Count(status Status) int {
	return s.ByStatus[status]
}

// fold 合并一组同状态、同来源任务的计数与更新时间范围。
func (s *Summary) fold(status Status, source string, n int, oldest, newest int64) {
	if n <= 0 {
		return
	}
	s.Total += n
	s.ByStatus[status] += n
	if source != "" {
		s.BySource[source] += n
	}
	if oldest > 0 && (s.OldestUpdate == 0 || oldest < s.OldestUpdate) {
		s.OldestUpdate = oldest
	}
	s.NewestUpdate = max(s.NewestUpdate, newest)
}

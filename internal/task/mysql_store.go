package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "AutoAgent/internal/errors"
)

// mysqlDuplicateEntry 是主键冲突时 MySQL 返回的错误号。
const mysqlDuplicateEntry = 1062

// MySQLStore 使用 MySQL 记录任务状态，供多进程部署共享任务表。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore 创建一个新的 MySQLStore 并确保表结构存在。
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	// 每个工作协程同时最多占用一个连接，API 与轮询另需少量连接。
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db, now: time.Now}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS agent_tasks (
        id VARCHAR(64) PRIMARY KEY,
        goal TEXT NOT NULL,
        allowed_tools TEXT,
        source VARCHAR(128) NOT NULL DEFAULT '',
        metadata TEXT,
        status VARCHAR(32) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_retries INT NOT NULL DEFAULT 3,
        last_error TEXT,
        error_code VARCHAR(64) NOT NULL DEFAULT '',
        result_outcome VARCHAR(32) NOT NULL DEFAULT '',
        result_answer MEDIUMTEXT,
        result_message MEDIUMTEXT,
        result_iterations INT NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_agent_tasks_status_updated (status, updated_at),
        INDEX idx_agent_tasks_source (source)
)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 agent_tasks 表失败")
	}
	return nil
}

const taskColumns = `id, goal, allowed_tools, source, metadata, status, attempts, max_retries, last_error, error_code,
        result_outcome, result_answer, result_message, result_iterations, created_at, updated_at`

// Create 插入新的任务记录。
func (s *MySQLStore) Create(ctx context.Context, task *Task) error {
	if err := validateNew(task); err != nil {
		return err
	}
	task.UpdatedAt = s.now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = task.UpdatedAt
	}

	tools, err := jsonColumn(task.AllowedTools)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务工具列表失败")
	}
	metadata, err := jsonColumn(task.Metadata)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务 metadata 失败")
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO agent_tasks
        (id, goal, allowed_tools, source, metadata, status, attempts, max_retries, last_error, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
		task.ID, task.Goal, tools, task.Source, metadata, task.Status, task.Attempts, task.MaxRetries,
		task.CreatedAt, task.UpdatedAt)

	var mysqlErr *mysql.MySQLError
	switch {
	case err == nil:
		return nil
	case stdErrors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry:
		return ErrTaskConflict
	default:
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
}

// Get 查询指定任务。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM agent_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return task, nil
}

// Claim 通过带条件的 UPDATE 领取任务，多个进程并发领取时只有一个会成功。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Task, error) {
	affected, err := s.exec(ctx, "领取任务失败",
		`UPDATE agent_tasks SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status = ? AND attempts < max_retries`,
		StatusRunning, s.now().Unix(), id, StatusPending)
	if err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, id)
	if err != nil || affected > 0 {
		return current, err
	}
	refused := claimable(current)
	if refused == nil {
		// 行存在且可领取但未更新，说明被其他进程抢先领取。
		refused = ErrTaskConflict
	}
	return current, refused
}

// MarkSucceeded 记录成功结果。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error {
	return s.mustUpdate(ctx, "记录任务结果失败",
		`UPDATE agent_tasks SET status = ?, result_outcome = ?, result_answer = ?, result_message = ?,
        result_iterations = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`,
		StatusSucceeded, result.Outcome, result.Answer, result.Message, result.Iterations, s.now().Unix(), id)
}

// MarkFailed 记录失败原因，非终态失败会让任务回到待执行状态。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	status := StatusPending
	if terminal {
		status = StatusFailed
	}
	return s.mustUpdate(ctx, "记录任务失败原因失败",
		`UPDATE agent_tasks SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`,
		status, lastError, string(code), s.now().Unix(), id)
}

// List 返回匹配的任务，按 Filter 排序并分页。
func (s *MySQLStore) List(ctx context.Context, filter Filter) ([]*Task, error) {
	filter = filter.normalized()
	where, args := whereClause(filter)

	direction := "DESC"
	if filter.Order == OldestFirst {
		direction = "ASC"
	}
	query := fmt.Sprintf("SELECT %s FROM agent_tasks%s ORDER BY updated_at %[3]s, created_at %[3]s, id %[3]s LIMIT ? OFFSET ?",
		taskColumns, where, direction)

	rows, err := s.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	tasks := make([]*Task, 0, filter.Limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return tasks, nil
}

// Summarize 按状态与来源分组统计匹配的任务，忽略分页参数。
func (s *MySQLStore) Summarize(ctx context.Context, filter Filter) (Summary, error) {
	where, args := whereClause(filter.normalized())
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, source, COUNT(*), MIN(updated_at), MAX(updated_at) FROM agent_tasks"+where+" GROUP BY status, source",
		args...)
	if err != nil {
		return Summary{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	defer rows.Close()

	summary := newSummary()
	for rows.Next() {
		var (
			status         Status
			source         sql.NullString
			count          int
			oldest, newest int64
		)
		if err := rows.Scan(&status, &source, &count, &oldest, &newest); err != nil {
			return Summary{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务统计失败")
		}
		summary.fold(status, source.String, count, oldest, newest)
	}
	if err := rows.Err(); err != nil {
		return Summary{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务统计失败")
	}
	return summary, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *MySQLStore) exec(ctx context.Context, failure, stmt string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, failure)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, failure)
	}
	return affected, nil
}

// mustUpdate 执行更新语句，未命中任何行时返回 ErrTaskNotFound。
func (s *MySQLStore) mustUpdate(ctx context.Context, failure, stmt string, args ...any) error {
	affected, err := s.exec(ctx, failure, stmt, args...)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask 按 taskColumns 的列顺序读取一行。
func scanTask(row rowScanner) (*Task, error) {
	var (
		t                      Task
		r                      ExecutionResult
		tools, metadata        sql.NullString
		lastErr, answer, reply sql.NullString
	)
	err := row.Scan(&t.ID, &t.Goal, &tools, &t.Source, &metadata, &t.Status, &t.Attempts, &t.MaxRetries,
		&lastErr, &t.ErrorCode, &r.Outcome, &answer, &reply, &r.Iterations, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeColumn(tools, &t.AllowedTools); err != nil {
		return nil, fmt.Errorf("decode allowed_tools of %s: %w", t.ID, err)
	}
	if err := decodeColumn(metadata, &t.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", t.ID, err)
	}
	t.LastError = lastErr.String
	if r.Outcome != "" {
		r.Answer, r.Message = answer.String, reply.String
		t.Result = &r
	}
	return &t, nil
}

// jsonColumn 把切片或 map 编码为 JSON 列，空值写入 NULL。
func jsonColumn[T ~[]string | ~map[string]any](value T) (sql.NullString, error) {
	if len(value) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeColumn(raw sql.NullString, target any) error {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), target)
}

// whereClause 把 Filter 翻译为带前导空格的 WHERE 子句及其参数。
func whereClause(filter Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	in := func(column string, values []any) {
		conds = append(conds, column+" IN ("+strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")+")")
		args = append(args, values...)
	}
	if len(filter.Statuses) > 0 {
		values := make([]any, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			values = append(values, string(status))
		}
		in("status", values)
	}
	if len(filter.Sources) > 0 {
		values := make([]any, 0, len(filter.Sources))
		for _, source := range filter.Sources {
			values = append(values, source)
		}
		in("source", values)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "updated_at >= ?")
		args = append(args, filter.Since.Unix())
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "updated_at <= ?")
		args = append(args, filter.Until.Unix())
	}
	if filter.Finished != nil {
		if *filter.Finished {
			conds = append(conds, "result_outcome <> ''")
		} else {
			conds = append(conds, "result_outcome = ''")
		}
	}
	if filter.Text != "" {
		columns := []string{"id", "goal", "source", "last_error", "result_answer", "result_message"}
		likes := make([]string, 0, len(columns))
		pattern := "%" + escapeLike(filter.Text) + "%"
		for _, column := range columns {
			likes = append(likes, column+" LIKE ?")
			args = append(args, pattern)
		}
		conds = append(conds, "("+strings.Join(likes, " OR ")+")")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(text string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(text)
}

var _ Store = (*MySQLStore)(nil)

// Package database provides the database tool, which runs SQL statements
// against named connections declared in configuration.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/pkg/logger"
	"AutoAgent/pkg/tool"
)

const (
	// Name is the registry key of the tool.
	Name = "database"
	// DefaultConnection is used when the model does not name a connection.
	DefaultConnection = "default"

	defaultDriver     = "mysql"
	defaultMaxResults = 100
)

var readPrefixes = []string{"select", "show", "describe", "explain"}

// Config is the tool's configuration section. Connections maps a name to a
// driver DSN.
type Config struct {
	Driver      string            `mapstructure:"driver"`
	Connections map[string]string `mapstructure:"connections"`
	MaxResults  int               `mapstructure:"max_results"`
}

// Tool executes SQL on lazily opened connection pools.
type Tool struct {
	driver     string
	dsns       map[string]string
	maxResults int
	logger     *slog.Logger

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

type args struct {
	Query      string `mapstructure:"query"`
	Connection string `mapstructure:"connection"`
	Params     []any  `mapstructure:"params"`
}

// New returns the tool. Connections are opened on first use.
func New(cfg Config) (*Tool, error) {
	if cfg.Driver == "" {
		cfg.Driver = defaultDriver
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	if len(cfg.Connections) == 0 {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "数据库工具至少需要一个连接配置")
	}
	log := logger.Named("tool.database")
	log.Info("数据库工具已初始化", slog.String("driver", cfg.Driver), slog.Int("connections", len(cfg.Connections)))
	return &Tool{
		driver:     cfg.Driver,
		dsns:       cfg.Connections,
		maxResults: cfg.MaxResults,
		logger:     log,
		dbs:        make(map[string]*sql.DB),
	}, nil
}

// Factory builds the tool from a configuration section. Without any
// connection configured the tool is not registered.
func Factory(section map[string]any) (tool.Tool, error) {
	var cfg Config
	if err := tool.DecodeConfig(section, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Connections) == 0 {
		logger.Named("tool.database").Info("未配置数据库连接，跳过数据库工具")
		return nil, nil
	}
	return New(cfg)
}

// Name implements tool.Tool.
func (t *Tool) Name() string { return Name }

// Description implements tool.Tool.
func (t *Tool) Description() string {
	return "Interacts with databases to execute SQL queries. " +
		"Input is a dictionary with: 'query' (SQL statement), 'connection' (optional connection name from config), " +
		"and 'params' (optional list of positional parameters for the SQL query). " +
		"Returns query results as formatted text. Use responsibly."
}

// Dangerous implements tool.Tool.
func (t *Tool) Dangerous() bool { return true }

// Execute implements tool.Tool.
func (t *Tool) Execute(ctx context.Context, in tool.Input) (string, error) {
	var a args
	if err := tool.Bind(in, &a, "query"); err != nil {
		return "", err
	}
	query := strings.TrimSpace(a.Query)
	if query == "" {
		return "Error: No SQL query provided.", nil
	}
	if a.Connection == "" {
		a.Connection = DefaultConnection
	}

	t.logger.Info("执行 SQL", slog.String("connection", a.Connection))
	t.logger.Debug("SQL 内容", slog.String("query", query))

	if _, ok := t.dsns[a.Connection]; !ok {
		return fmt.Sprintf("Error executing SQL query: Connection '%s' not defined in configuration.", a.Connection), nil
	}
	db, err := t.db(a.Connection)
	if err != nil {
		t.logger.Error("获取数据库连接失败", slog.String("connection", a.Connection), slog.Any("error", err))
		return fmt.Sprintf("Error executing SQL query: %v", err), nil
	}

	var out string
	if isRead(query) {
		out, err = t.read(ctx, db, query, a.Params)
	} else {
		out, err = t.write(ctx, db, query, a.Params)
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		t.logger.Error("执行 SQL 失败", slog.String("connection", a.Connection), slog.Any("error", err))
		return fmt.Sprintf("Error executing SQL query: %v", err), nil
	}
	t.logger.Info("SQL 执行成功", slog.String("connection", a.Connection))
	return out, nil
}

// Close releases every opened pool.
func (t *Tool) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	names := make([]string, 0, len(t.dbs))
	for name := range t.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := t.dbs[name].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.dbs, name)
	}
	return firstErr
}

func (t *Tool) db(name string) (*sql.DB, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if db, ok := t.dbs[name]; ok {
		return db, nil
	}
	db, err := sql.Open(t.driver, t.dsns[name])
	if err != nil {
		return nil, err
	}
	t.dbs[name] = db
	t.logger.Info("已创建数据库连接池", slog.String("connection", name))
	return db, nil
}

func (t *Tool) read(ctx context.Context, db *sql.DB, query string, params []any) (string, error) {
	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", err
	}
	var (
		table     [][]string
		truncated bool
	)
	for rows.Next() {
		if len(table) == t.maxResults {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return "", err
		}
		row := make([]string, len(columns))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		table = append(table, row)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	if len(table) == 0 {
		return "Query executed successfully. No results returned.", nil
	}
	if truncated {
		t.logger.Warn("查询结果过多，已截断", slog.Int("max_results", t.maxResults))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Query returned %d rows:\n", len(table))
	b.WriteString(markdownTable(columns, table))
	if truncated {
		fmt.Fprintf(&b, "\n(Results truncated to %d rows)", t.maxResults)
	}
	return b.String(), nil
}

func (t *Tool) write(ctx context.Context, db *sql.DB, query string, params []any) (string, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	res, err := tx.ExecContext(ctx, query, params...)
	if err != nil {
		_ = tx.Rollback()
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = -1
	}
	return fmt.Sprintf("Query executed successfully. Rows affected: %d", affected), nil
}

func isRead(query string) bool {
	lower := strings.ToLower(query)
	for _, prefix := range readPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func formatValue(v any) string {
	switch value := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(value)
	default:
		return fmt.Sprint(value)
	}
}

func markdownTable(columns []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(escapeCells(columns), " | ") + " |\n")
	separators := make([]string, len(columns))
	for i := range separators {
		separators[i] = "---"
	}
	b.WriteString("| " + strings.Join(separators, " | ") + " |")
	for _, row := range rows {
		b.WriteString("\n| " + strings.Join(escapeCells(row), " | ") + " |")
	}
	return b.String()
}

func escapeCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, cell := range cells {
		cell = strings.ReplaceAll(cell, "|", `\|`)
		out[i] = strings.ReplaceAll(cell, "\n", " ")
	}
	return out
}

var _ tool.Tool = (*Tool)(nil)

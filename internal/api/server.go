package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/registry"
	"AutoAgent/internal/task"
	"AutoAgent/pkg/logger"
)

// Tasks 是 API 依赖的任务服务能力，由 task.Service 实现。
type Tasks interface {
	Submit(ctx context.Context, req task.Request) (*task.Task, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, opts ...task.FilterOption) ([]*task.Task, error)
	Summarize(ctx context.Context, opts ...task.FilterOption) (task.Summary, error)
}

// Tools 返回已注册工具的描述。
type Tools interface {
	Available() []registry.Descriptor
}

// RequestObserver 记录 HTTP 请求指标。
type RequestObserver interface {
	ObserveHTTPRequest(route, method string, status int, elapsed time.Duration)
	Handler() http.Handler
}

var _ Tasks = (*task.Service)(nil)

// Server 负责暴露 REST 接口，供外部提交后台目标并查询结果。
type Server struct {
	addr    string
	tasks   Tasks
	tools   Tools
	metrics RequestObserver
	logger  *slog.Logger
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithTools 暴露工具列表接口。
func WithTools(tools Tools) Option {
	return func(s *Server) { s.tools = tools }
}

// WithMetrics 启用请求指标与 /metrics 接口。
func WithMetrics(m RequestObserver) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, tasks Tasks, opts ...Option) *Server {
	s := &Server{addr: addr, tasks: tasks}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("api")
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tasks", s.handleCreateTask)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/stats", s.handleStats)
		r.Get("/tasks/{id}", s.handleTaskDetail)
		r.Get("/tools", s.handleTools)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API 服务已启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		s.logger.Info("API 服务已关闭")
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if s.metrics != nil {
			s.metrics.ObserveHTTPRequest(route, r.Method, status, time.Since(started))
		}
		s.logger.Debug("处理请求", slog.String("method", r.Method), slog.String("route", route),
			slog.Int("status", status), slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createTaskRequest struct {
	ID           string         `json:"id"`
	Goal         string         `json:"goal"`
	AllowedTools []string       `json:"allowed_tools"`
	Metadata     map[string]any `json:"metadata"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	created, err := s.tasks.Submit(r.Context(), task.Request{
		ID:           req.ID,
		Goal:         req.Goal,
		AllowedTools: req.AllowedTools,
		Source:       "api",
		Metadata:     req.Metadata,
	})
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	opts, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	opts, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := s.tasks.Summarize(r.Context(), opts...)
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing task id")
		return
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	descriptors := []registry.Descriptor{}
	if s.tools != nil {
		descriptors = append(descriptors, s.tools.Available()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": descriptors})
}

// parseFilter 把查询参数转换为任务筛选条件。status 与 source 可重复出现，也可用逗号分隔。
func parseFilter(query url.Values) ([]task.FilterOption, error) {
	var opts []task.FilterOption

	limit, err := intParam(query, "limit", 0, 1)
	if err != nil {
		return nil, err
	}
	offset, err := intParam(query, "offset", 0, 0)
	if err != nil {
		return nil, err
	}
	opts = append(opts, task.Page(limit, offset))

	var statuses []task.Status
	for _, value := range listParam(query, "status") {
		status := task.Status(strings.ToLower(value))
		if !task.IsValidStatus(status) {
			return nil, fmt.Errorf("unknown status: %s", value)
		}
		statuses = append(statuses, status)
	}
	if len(statuses) > 0 {
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if sources := listParam(query, "source"); len(sources) > 0 {
		opts = append(opts, task.WithSources(sources...))
	}

	since, err := timeParam(query, "since")
	if err != nil {
		return nil, err
	}
	until, err := timeParam(query, "until")
	if err != nil {
		return nil, err
	}
	if !since.IsZero() && !until.IsZero() && until.Before(since) {
		return nil, errors.New("until must not be before since")
	}
	opts = append(opts, task.UpdatedBetween(since, until))

	if raw := query.Get("has_result"); raw != "" {
		present, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.New("has_result must be a boolean")
		}
		opts = append(opts, task.WithResult(present))
	}
	if text := strings.TrimSpace(query.Get("q")); text != "" {
		opts = append(opts, task.Matching(text))
	}
	switch order := task.Order(strings.ToLower(query.Get("order"))); order {
	case "":
	case task.NewestFirst, task.OldestFirst:
		opts = append(opts, task.WithOrder(order))
	default:
		return nil, errors.New("order must be asc or desc")
	}
	return opts, nil
}

func intParam(query url.Values, name string, fallback, minimum int) (int, error) {
	raw := query.Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < minimum {
		return 0, fmt.Errorf("%s must be an integer >= %d", name, minimum)
	}
	return n, nil
}

func listParam(query url.Values, name string) []string {
	var out []string
	for _, value := range query[name] {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// timeParam 接受 RFC3339 或 Unix 秒。
func timeParam(query url.Values, name string) (time.Time, error) {
	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339 or unix seconds", name)
	}
	return ts, nil
}

func (s *Server) writeTaskError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case task.CodeTaskNotFound:
		status = http.StatusNotFound
	case task.CodeTaskValidation, xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case task.CodeTaskPublish:
		status = http.StatusBadGateway
	case xerrors.CodeSetupFailure:
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("任务接口处理失败", slog.Any("error", err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": string(xerrors.CodeOf(err))})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

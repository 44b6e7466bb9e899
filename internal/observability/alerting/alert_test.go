package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/task"
)

type recordingNotifier struct {
	name   string
	events []Event
	err    error
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{name: "ok"}
	broken := &recordingNotifier{name: "broken", err: errors.New("down")}
	d := NewFanout(ok, nil, broken, &recordingNotifier{name: "ok"})

	err := d.Notify(context.Background(), Event{TaskID: "t1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notifier broken: down")
	assert.Len(t, ok.events, 1)
	assert.Len(t, broken.events, 1)
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got Event
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: server.URL, Headers: map[string]string{"Authorization": "Bearer x"}})
	require.NoError(t, n.Notify(context.Background(), Event{TaskID: "t1", Code: xerrors.CodeRunAborted}))
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, xerrors.CodeRunAborted, got.Code)
	assert.Equal(t, "Bearer x", auth)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	assert.Error(t, NewWebhookNotifier(WebhookConfig{URL: failing.URL}).Notify(context.Background(), Event{}))
}

func TestTaskHookOnlyAlertsOnFailures(t *testing.T) {
	rec := &recordingNotifier{name: "rec"}
	hook := TaskHook(NewFanout(rec))

	hook(&task.Task{ID: "ok", Status: task.StatusSucceeded})
	hook(nil)
	assert.Empty(t, rec.events)

	hook(&task.Task{ID: "bad", Status: task.StatusFailed, ErrorCode: string(xerrors.CodeRunAborted),
		LastError: "aborted", Attempts: 3, MaxRetries: 3, Source: "api"})
	require.Len(t, rec.events, 1)
	assert.Equal(t, "bad", rec.events[0].TaskID)
	assert.Equal(t, "api", rec.events[0].Metadata["source"])
}

package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bakery/internal/events"
	"github.com/noah-isme/backend-bakery/internal/notify"
	"github.com/noah-isme/backend-bakery/internal/resilience"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "x", Type: task.Type()}, nil
}

func sampleEvent() events.Event {
	return events.Event{
		ID:          uuid.New(),
		Topic:       events.TopicOrderCreated,
		AggregateID: uuid.NewString(),
		Payload:     json.RawMessage(`{"total":"14.40"}`),
		OccurredAt:  time.Date(2025, 10, 20, 13, 0, 0, 0, time.UTC),
	}
}

func TestTaskNotifierEnqueuesEvent(t *testing.T) {
	client := &fakeEnqueuer{}
	n := &notify.TaskNotifier{Client: client, Queue: "webhooks", MaxRetry: 5}
	ev := sampleEvent()

	require.NoError(t, n.Notify(context.Background(), ev))
	require.Len(t, client.tasks, 1)
	require.Equal(t, notify.TaskOrderNotify, client.tasks[0].Type())
	require.Len(t, client.opts[0], 3)

	decoded, err := notify.DecodeOrderNotifyTask(client.tasks[0])
	require.NoError(t, err)
	require.Equal(t, ev.ID, decoded.ID)
	require.Equal(t, ev.AggregateID, decoded.AggregateID)
	require.JSONEq(t, string(ev.Payload), string(decoded.Payload))
}

func TestTaskNotifierIgnoresDuplicateAndReportsFailures(t *testing.T) {
	client := &fakeEnqueuer{err: asynq.ErrTaskIDConflict}
	n := &notify.TaskNotifier{Client: client}
	require.NoError(t, n.Notify(context.Background(), sampleEvent()))

	client.err = errors.New("redis down")
	require.Error(t, n.Notify(context.Background(), sampleEvent()))

	var nilNotifier *notify.TaskNotifier
	require.NoError(t, nilNotifier.Notify(context.Background(), sampleEvent()))
}

func TestWebhookHandlerSignsDelivery(t *testing.T) {
	type recorded struct {
		header http.Header
		body   []byte
	}
	received := make(chan recorded, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- recorded{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	now := time.Date(2025, 10, 20, 13, 5, 0, 0, time.UTC)
	h := &notify.WebhookHandler{
		URL:    srv.URL,
		Secret: "s3cret",
		HTTP:   &resilience.HTTPClient{Client: srv.Client(), Timeout: time.Second},
		Now:    func() time.Time { return now },
	}
	ev := sampleEvent()
	task, err := notify.NewOrderNotifyTask(ev)
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))

	rec := <-received
	require.Equal(t, "application/json", rec.header.Get("Content-Type"))
	require.Equal(t, ev.ID.String(), rec.header.Get("X-Event-ID"))
	require.Equal(t, events.TopicOrderCreated, rec.header.Get("X-Event-Topic"))
	ts, err := strconv.ParseInt(rec.header.Get("X-Timestamp"), 10, 64)
	require.NoError(t, err)
	require.Equal(t, now.Unix(), ts)
	require.True(t, notify.VerifySignature("s3cret", ts, ev.ID.String(), rec.body, rec.header.Get("X-Signature")))
	require.False(t, notify.VerifySignature("other", ts, ev.ID.String(), rec.body, rec.header.Get("X-Signature")))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.body, &body))
	require.Equal(t, ev.AggregateID, body["aggregateId"])
	require.Equal(t, map[string]any{"total": "14.40"}, body["data"])
}

func TestWebhookHandlerRetryClassification(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	h := &notify.WebhookHandler{
		URL:  srv.URL,
		HTTP: &resilience.HTTPClient{Client: srv.Client(), Breaker: resilience.NewBreaker(100, 1, time.Minute)},
	}
	task, err := notify.NewOrderNotifyTask(sampleEvent())
	require.NoError(t, err)

	err = h.ProcessTask(context.Background(), task)
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry), "5xx should be retried")

	status = http.StatusBadRequest
	err = h.ProcessTask(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	h.URL = "http://example.com/hook"
	err = h.ProcessTask(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = h.ProcessTask(context.Background(), asynq.NewTask(notify.TaskOrderNotify, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestWebhookHandlerWithoutURLIsNoop(t *testing.T) {
	h := &notify.WebhookHandler{}
	task, err := notify.NewOrderNotifyTask(sampleEvent())
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))
}

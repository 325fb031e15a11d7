package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/backend-bakery/internal/events"
)

// TaskOrderNotify is the asynq task type carrying a domain event to the webhook worker.
const TaskOrderNotify = "order:notify"

// Enqueuer is the subset of *asynq.Client used by TaskNotifier.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskNotifier hands emitted events to the background worker.
type TaskNotifier struct {
	Client   Enqueuer
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// Notify implements events.Notifier. The event id doubles as the task id so a replayed
// emit does not schedule a second delivery.
func (n *TaskNotifier) Notify(ctx context.Context, ev events.Event) error {
	if n == nil || n.Client == nil {
		return nil
	}
	task, err := NewOrderNotifyTask(ev)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID(ev.ID.String())}
	if n.Queue != "" {
		opts = append(opts, asynq.Queue(n.Queue))
	}
	if n.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(n.MaxRetry))
	}
	if n.Timeout > 0 {
		opts = append(opts, asynq.Timeout(n.Timeout))
	}
	if _, err := n.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", TaskOrderNotify, err)
	}
	return nil
}

// NewOrderNotifyTask encodes the event as a task payload.
func NewOrderNotifyTask(ev events.Event) (*asynq.Task, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return asynq.NewTask(TaskOrderNotify, payload), nil
}

// DecodeOrderNotifyTask reverses NewOrderNotifyTask.
func DecodeOrderNotifyTask(task *asynq.Task) (events.Event, error) {
	var ev events.Event
	if task == nil {
		return ev, errors.New("nil task")
	}
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		return ev, fmt.Errorf("decode %s payload: %w", task.Type(), err)
	}
	return ev, nil
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-bakery/internal/resilience"
)

// RetryDelay returns an asynq retry schedule growing exponentially from base, capped at ceiling.
func RetryDelay(base, ceiling time.Duration, jitter float64) asynq.RetryDelayFunc {
	if ceiling <= 0 {
		ceiling = 10 * time.Minute
	}
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		attempt := n + 1
		if attempt > 16 {
			attempt = 16
		}
		d := resilience.Backoff(base, attempt, jitter)
		if d > ceiling || d <= 0 {
			return ceiling
		}
		return d
	}
}

// IsRetryableFailure reports whether err should count against the queue's failure stats.
// An open circuit is an expected back-pressure signal, not a task failure.
func IsRetryableFailure(err error) bool {
	return !errors.Is(err, resilience.ErrOpenCircuit)
}

// ErrorLogger logs tasks whose handler returned an error.
func ErrorLogger(logger zerolog.Logger) asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		id, _ := asynq.GetTaskID(ctx)
		evt := logger.Warn()
		if retried >= maxRetry || errors.Is(err, asynq.SkipRetry) {
			evt = logger.Error()
		}
		evt.Err(err).Str("task_type", task.Type()).Str("task_id", id).Int("retried", retried).Int("max_retry", maxRetry).Msg("task failed")
	})
}

// AsynqLogger adapts zerolog to asynq's logger interface.
type AsynqLogger struct {
	Logger zerolog.Logger
}

func (l AsynqLogger) Debug(args ...any) { l.Logger.Debug().Msg(fmt.Sprint(args...)) }
func (l AsynqLogger) Info(args ...any)  { l.Logger.Info().Msg(fmt.Sprint(args...)) }
func (l AsynqLogger) Warn(args ...any)  { l.Logger.Warn().Msg(fmt.Sprint(args...)) }
func (l AsynqLogger) Error(args ...any) { l.Logger.Error().Msg(fmt.Sprint(args...)) }
func (l AsynqLogger) Fatal(args ...any) { l.Logger.Fatal().Msg(fmt.Sprint(args...)) }

package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-bakery/internal/obs"
	"github.com/noah-isme/backend-bakery/internal/resilience"
)

// Doer sends one outbound request. *resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// WebhookHandler delivers order events to the shop's webhook endpoint.
type WebhookHandler struct {
	URL    string
	Secret string
	HTTP   Doer
	Now    func() time.Time
	Logger *zerolog.Logger
}

type webhookBody struct {
	EventID     string          `json:"eventId"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Data        json.RawMessage `json:"data"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// ProcessTask implements asynq.Handler. Transport failures and 5xx responses are returned
// so asynq retries; a misconfigured URL or a 4xx answer is not retried.
func (h *WebhookHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	ev, err := DecodeOrderNotifyTask(task)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if strings.TrimSpace(h.URL) == "" {
		obs.IncCounter(obs.WebhookDeliveriesTotal, "skipped")
		h.logger().Debug().Str("event_id", ev.ID.String()).Str("topic", ev.Topic).Msg("order webhook not configured")
		return nil
	}
	start := time.Now()
	status, err := h.deliver(ctx, webhookBody{
		EventID:     ev.ID.String(),
		Topic:       ev.Topic,
		AggregateID: ev.AggregateID,
		Data:        ev.Payload,
		OccurredAt:  ev.OccurredAt,
	})
	result := "delivered"
	switch {
	case err != nil:
		result = "failed"
	case status >= 400:
		result = "rejected"
		err = fmt.Errorf("webhook answered %d: %w", status, asynq.SkipRetry)
	}
	obs.IncCounter(obs.WebhookDeliveriesTotal, result)
	if obs.WebhookAttemptLatency != nil {
		obs.WebhookAttemptLatency.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(start)))
	}
	evt := h.logger().Info()
	if err != nil {
		evt = h.logger().Warn().Err(err)
	}
	evt.Str("event_id", ev.ID.String()).Str("topic", ev.Topic).Int("status", status).Str("result", result).Msg("order webhook delivery")
	return err
}

func (h *WebhookHandler) deliver(ctx context.Context, payload webhookBody) (int, error) {
	ctx, span := otel.Tracer("notify.WebhookHandler").Start(ctx, "WebhookHandler.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.event_id", payload.EventID),
		attribute.String("webhook.topic", payload.Topic),
	)
	if err := validateURL(h.URL); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if h.HTTP == nil {
		return 0, errors.New("webhook http client not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	ts := h.now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "bakery-api-webhooks/1.0")
	req.Header.Set("X-Event-ID", payload.EventID)
	req.Header.Set("X-Event-Topic", payload.Topic)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", ComputeSignature(h.Secret, ts, payload.EventID, body))

	resp, err := h.HTTP.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		var statusErr *resilience.StatusError
		if errors.As(err, &statusErr) {
			return statusErr.Code, err
		}
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp.StatusCode, nil
}

func (h *WebhookHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *WebhookHandler) logger() *zerolog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	return nil
}

// ComputeSignature calculates the webhook signature: hex HMAC-SHA256 over
// "<ts>.<eventID>.<body>" keyed with the shared secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is the receiving side of ComputeSignature.
func VerifySignature(secret string, ts int64, eventID string, body []byte, signature string) bool {
	expected := ComputeSignature(secret, ts, eventID, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// HTTPClient returns the traced HTTP client used for webhook delivery.
func HTTPClient(timeout time.Duration, insecure bool) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

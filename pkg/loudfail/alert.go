package loudfail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/govkernel/pkg/invariant"
)

// ErrAlertDropped is returned by RateLimited when the budget is exhausted.
var ErrAlertDropped = errors.New("alert dropped by rate limit")

// Alert is the payload dispatched for one recorded failure.
type Alert struct {
	ID          string                 `json:"alert_id"`
	InvariantID string                 `json:"invariant_id"`
	Name        string                 `json:"name"`
	Status      invariant.Status       `json:"status"`
	Severity    invariant.Severity     `json:"severity"`
	Reason      string                 `json:"reason"`
	Timestamp   time.Time              `json:"timestamp"`
	ResultHash  string                 `json:"result_hash"`
	EntryHash   string                 `json:"entry_hash"`
	Evidence    map[string]interface{} `json:"evidence,omitempty"`
}

func NewAlert(r invariant.Result, entryHash string) Alert {
	return Alert{
		ID:          uuid.NewString(),
		InvariantID: r.InvariantID,
		Name:        r.Name,
		Status:      r.Status,
		Severity:    r.Severity,
		Reason:      r.Reason,
		Timestamp:   r.Timestamp,
		ResultHash:  r.Hash,
		EntryHash:   entryHash,
		Evidence:    r.Evidence,
	}
}

// Alerter delivers alerts. Implementations may fail; the handler never retries.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// WebhookAlerter POSTs the alert as JSON.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

func NewWebhookAlerter(url string, timeout time.Duration) *WebhookAlerter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookAlerter{url: url, client: &http.Client{Timeout: timeout}}
}

func (w *WebhookAlerter) Alert(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Govkernel-Alert-Id", a.ID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// RedisAlerter publishes alerts on a pub/sub channel.
type RedisAlerter struct {
	client  *redis.Client
	channel string
}

func NewRedisAlerter(client *redis.Client, channel string) *RedisAlerter {
	if channel == "" {
		channel = "govkernel:alerts"
	}
	return &RedisAlerter{client: client, channel: channel}
}

func (r *RedisAlerter) Alert(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("redis alert: marshal: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("redis alert: publish: %w", err)
	}
	return nil
}

// Multi fans out to every alerter and joins their errors.
type Multi []Alerter

func (m Multi) Alert(ctx context.Context, a Alert) error {
	var errs []error
	for _, al := range m {
		if err := al.Alert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RateLimited drops alerts beyond a token-bucket budget. CRITICAL alerts bypass it.
type RateLimited struct {
	next    Alerter
	limiter *rate.Limiter
}

func NewRateLimited(next Alerter, perMinute, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)}
}

func (r *RateLimited) Alert(ctx context.Context, a Alert) error {
	if a.Severity != invariant.SeverityCritical && !r.limiter.Allow() {
		return ErrAlertDropped
	}
	return r.next.Alert(ctx, a)
}

// delivery.go forwards audit events to external sinks with retry-backed
// webhook delivery. A delivery walks the state machine
//
//	PENDING → DELIVERING → {DELIVERED | RETRY_SCHEDULED → DELIVERING | DEAD}
//
// After a failed attempt k, the deliverer waits backoff_sec[min(k-1, len-1)]
// seconds before the next attempt; after max_attempts failures the delivery
// is marked DEAD and only logged, never retried. Delivery runs asynchronously
// relative to the triggering request and its failure never propagates back.
package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/contextlink/contextlink/internal/db/models"
	"github.com/contextlink/contextlink/internal/telemetry"
)

// DeliveryState is a stage in the delivery state machine.
type DeliveryState string

const (
	DeliveryPending        DeliveryState = "PENDING"
	DeliveryDelivering     DeliveryState = "DELIVERING"
	DeliveryDelivered      DeliveryState = "DELIVERED"
	DeliveryRetryScheduled DeliveryState = "RETRY_SCHEDULED"
	DeliveryDead           DeliveryState = "DEAD"
)

// DefaultRetryPolicy applies when a sink does not configure its own.
var DefaultRetryPolicy = models.RetryPolicy{
	MaxAttempts: 5,
	BackoffSec:  []int{1, 5, 30, 120, 600},
}

// SecretDecrypter recovers a sink's signing secret from its encrypted form.
type SecretDecrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Deliverer sends audit events to webhook sinks.
type Deliverer struct {
	client  *http.Client
	secrets SecretDecrypter

	// sleep is replaced in tests so retry ladders run instantly.
	sleep func(time.Duration)
}

// NewDeliverer creates a Deliverer. timeout bounds each outbound HTTP call;
// secrets may be nil when no sink uses signing.
func NewDeliverer(timeout time.Duration, secrets SecretDecrypter) *Deliverer {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Deliverer{
		client:  &http.Client{Timeout: timeout},
		secrets: secrets,
		sleep:   time.Sleep,
	}
}

// Deliver runs the full retry state machine for one event against one sink
// and returns the terminal state. ctx cancellation stops scheduling further
// attempts but does not interrupt an in-flight HTTP call before its timeout.
func (d *Deliverer) Deliver(ctx context.Context, sink *models.AuditSink, event *models.AuditEvent) DeliveryState {
	policy := sink.Retry
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy
	}
	if len(policy.BackoffSec) == 0 {
		policy.BackoffSec = DefaultRetryPolicy.BackoffSec
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("audit delivery: failed to marshal event", "sink_id", sink.ID, "error", err)
		return DeliveryDead
	}

	state := DeliveryPending
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		state = DeliveryDelivering
		if err := d.attempt(ctx, sink, payload); err == nil {
			telemetry.AuditDeliveriesTotal.WithLabelValues("delivered").Inc()
			return DeliveryDelivered
		} else if attempt == policy.MaxAttempts {
			slog.Error("audit delivery dead after exhausting retries",
				"sink_id", sink.ID, "event_id", event.ID, "attempts", attempt, "error", err)
			telemetry.AuditDeliveriesTotal.WithLabelValues("dead").Inc()
			return DeliveryDead
		} else {
			slog.Warn("audit delivery attempt failed, retry scheduled",
				"sink_id", sink.ID, "event_id", event.ID, "attempt", attempt, "error", err)
			telemetry.AuditDeliveriesTotal.WithLabelValues("retried").Inc()
			state = DeliveryRetryScheduled
		}

		backoffIdx := attempt - 1
		if backoffIdx >= len(policy.BackoffSec) {
			backoffIdx = len(policy.BackoffSec) - 1
		}
		select {
		case <-ctx.Done():
			return state
		default:
		}
		d.sleep(time.Duration(policy.BackoffSec[backoffIdx]) * time.Second)
	}
	return state
}

// attempt performs one POST to the sink, signing the payload when the sink
// carries a secret.
func (d *Deliverer) attempt(ctx context.Context, sink *models.AuditSink, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sink.EndpointURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if sink.SecretEncrypted != nil && d.secrets != nil {
		secret, err := d.secrets.Decrypt(*sink.SecretEncrypted)
		if err != nil {
			return fmt.Errorf("failed to decrypt sink secret: %w", err)
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(payload)
		req.Header.Set("X-ContextLink-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

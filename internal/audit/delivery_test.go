package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/contextlink/contextlink/internal/db/models"
)

func newTestDeliverer() (*Deliverer, *[]time.Duration) {
	d := NewDeliverer(time.Second, nil)
	slept := &[]time.Duration{}
	d.sleep = func(dur time.Duration) { *slept = append(*slept, dur) }
	return d, slept
}

func testSink(url string, retry models.RetryPolicy) *models.AuditSink {
	return &models.AuditSink{
		ID:          "sink-1",
		WorkspaceID: "ws-1",
		Name:        "test",
		Enabled:     true,
		EndpointURL: url,
		Retry:       retry,
	}
}

func testEvent() *models.AuditEvent {
	return &models.AuditEvent{ID: "evt-1", WorkspaceID: "ws-1", Action: "api_key.create"}
}

// ---------------------------------------------------------------------------
// Terminal states
// ---------------------------------------------------------------------------

func TestDeliverFirstAttemptSucceeds(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d, slept := newTestDeliverer()
	state := d.Deliver(context.Background(), testSink(srv.URL, models.RetryPolicy{}), testEvent())

	if state != DeliveryDelivered {
		t.Errorf("state = %s, want DELIVERED", state)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %v, want no backoff on success", *slept)
	}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, slept := newTestDeliverer()
	policy := models.RetryPolicy{MaxAttempts: 5, BackoffSec: []int{1, 5, 30, 120, 600}}
	state := d.Deliver(context.Background(), testSink(srv.URL, policy), testEvent())

	if state != DeliveryDelivered {
		t.Errorf("state = %s, want DELIVERED", state)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Errorf("hits = %d, want 3", hits)
	}
	// Two failures: waits of backoff[0] and backoff[1].
	want := []time.Duration{1 * time.Second, 5 * time.Second}
	if len(*slept) != len(want) || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Errorf("backoff waits = %v, want %v", *slept, want)
	}
}

func TestDeliverDeadAfterMaxAttempts(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, slept := newTestDeliverer()
	policy := models.RetryPolicy{MaxAttempts: 3, BackoffSec: []int{1, 2}}
	state := d.Deliver(context.Background(), testSink(srv.URL, policy), testEvent())

	if state != DeliveryDead {
		t.Errorf("state = %s, want DEAD", state)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Errorf("hits = %d, want 3", hits)
	}
	// The final failure is terminal; only the first two schedule a wait, and
	// the short ladder is clamped to its last entry.
	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(*slept) != len(want) || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Errorf("backoff waits = %v, want %v", *slept, want)
	}
}

func TestDeliverDefaultPolicyWhenUnset(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, _ := newTestDeliverer()
	state := d.Deliver(context.Background(), testSink(srv.URL, models.RetryPolicy{}), testEvent())

	if state != DeliveryDead {
		t.Errorf("state = %s, want DEAD", state)
	}
	if got := atomic.LoadInt32(&hits); got != int32(DefaultRetryPolicy.MaxAttempts) {
		t.Errorf("hits = %d, want default max attempts %d", got, DefaultRetryPolicy.MaxAttempts)
	}
}

// ---------------------------------------------------------------------------
// Signing
// ---------------------------------------------------------------------------

type plainDecrypter struct{}

func (plainDecrypter) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }

func TestDeliverSignsPayloadWhenSecretPresent(t *testing.T) {
	var signature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get("X-ContextLink-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDeliverer(time.Second, plainDecrypter{})
	d.sleep = func(time.Duration) {}

	sink := testSink(srv.URL, models.RetryPolicy{})
	secret := "webhook-secret"
	sink.SecretEncrypted = &secret

	if state := d.Deliver(context.Background(), sink, testEvent()); state != DeliveryDelivered {
		t.Fatalf("state = %s, want DELIVERED", state)
	}
	if signature == "" || signature[:7] != "sha256=" {
		t.Errorf("signature header = %q, want sha256=<hex>", signature)
	}
}

func TestDeliverNoSignatureWithoutSecret(t *testing.T) {
	var hasHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasHeader = r.Header.Get("X-ContextLink-Signature") != ""
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, _ := newTestDeliverer()
	d.Deliver(context.Background(), testSink(srv.URL, models.RetryPolicy{}), testEvent())

	if hasHeader {
		t.Error("unsigned sink produced a signature header")
	}
}

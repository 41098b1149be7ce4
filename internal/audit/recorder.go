// recorder.go is the entry point of the audit pipeline. Every completed
// privileged operation calls Recorder.Record, which derives the reason,
// persists the event, and then fans out asynchronously: filtered webhook
// delivery to the workspace's sinks, plus notification of any registered
// observer (the detection engine). The synchronous part is only the insert —
// a failed delivery or evaluation never fails the original request.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/contextlink/contextlink/internal/db/models"
	"github.com/contextlink/contextlink/internal/safego"
	"github.com/contextlink/contextlink/internal/telemetry"
)

// EventStore is the storage contract for recording events.
type EventStore interface {
	InsertEvent(ctx context.Context, event *models.AuditEvent) error
}

// SinkStore lists the sinks a workspace's events fan out to.
type SinkStore interface {
	ListEnabledSinksByWorkspace(ctx context.Context, workspaceID string) ([]*models.AuditSink, error)
}

// Observer receives every recorded event after persistence. The detection
// engine registers here.
type Observer interface {
	ObserveEvent(ctx context.Context, event *models.AuditEvent)
}

// Entry is the caller-facing input to Record. Reason may be empty, in which
// case a heuristic reason is synthesized from Action. ChangedFields carries
// the touched keys of an update, by name only, never values.
type Entry struct {
	WorkspaceID   string
	ProjectID     *string
	ActorUserID   *string
	ActorKind     string
	Action        string
	TargetType    *string
	TargetID      *string
	Reason        string
	ChangedFields []string
	CorrelationID *string
	IPAddress     *string
}

// Recorder persists audit events and drives the async fan-out.
type Recorder struct {
	events    EventStore
	sinks     SinkStore
	deliverer *Deliverer
	observer  Observer

	// asyncTimeout bounds the background fan-out work for one event.
	asyncTimeout time.Duration
}

// NewRecorder creates a Recorder. deliverer may be nil to disable sink
// forwarding (tests, minimal deployments).
func NewRecorder(events EventStore, sinks SinkStore, deliverer *Deliverer) *Recorder {
	return &Recorder{
		events:       events,
		sinks:        sinks,
		deliverer:    deliverer,
		asyncTimeout: 15 * time.Minute, // must outlast the slowest retry ladder
	}
}

// SetObserver registers the single event observer. Called once during wiring,
// before any request traffic; the recorder and the detection engine reference
// each other, so registration cannot happen at construction.
func (r *Recorder) SetObserver(observer Observer) {
	r.observer = observer
}

// Record derives the reason, persists the event, and schedules the async
// fan-out. A storage error aborts the operation; nothing is forwarded for an
// event that was never persisted.
func (r *Recorder) Record(ctx context.Context, entry Entry) (*models.AuditEvent, error) {
	derived := DeriveReason(entry.Action, entry.Reason)
	event := &models.AuditEvent{
		WorkspaceID:   entry.WorkspaceID,
		ProjectID:     entry.ProjectID,
		ActorUserID:   entry.ActorUserID,
		ActorKind:     entry.ActorKind,
		Action:        entry.Action,
		Security:      IsSecurityAction(entry.Action),
		TargetType:    entry.TargetType,
		TargetID:      entry.TargetID,
		Reason:        derived.Reason,
		ReasonSource:  derived.Source,
		ChangedFields: entry.ChangedFields,
		CorrelationID: entry.CorrelationID,
		IPAddress:     entry.IPAddress,
	}

	if err := r.events.InsertEvent(ctx, event); err != nil {
		return nil, err
	}
	if event.Security {
		telemetry.SecurityEventsTotal.WithLabelValues(event.Action).Inc()
	}

	safego.Go(func() {
		asyncCtx, cancel := context.WithTimeout(context.Background(), r.asyncTimeout)
		defer cancel()
		r.fanOut(asyncCtx, event)
	})

	return event, nil
}

// fanOut forwards the event to matching sinks and notifies the observer.
// It returns only after every delivery has reached a terminal state: the
// caller owns ctx and cancels it on return, so leaving early would kill
// retry ladders still in flight.
func (r *Recorder) fanOut(ctx context.Context, event *models.AuditEvent) {
	var deliveries sync.WaitGroup
	if r.deliverer != nil && r.sinks != nil {
		sinks, err := r.sinks.ListEnabledSinksByWorkspace(ctx, event.WorkspaceID)
		if err != nil {
			slog.Error("audit fan-out: failed to list sinks", "workspace_id", event.WorkspaceID, "error", err)
		} else {
			for _, sink := range sinks {
				if !FilterMatches(sink.Filter, event.Action) {
					continue
				}
				sink := sink
				deliveries.Add(1)
				safego.Go(func() {
					defer deliveries.Done()
					r.deliverer.Deliver(ctx, sink, event)
				})
			}
		}
	}

	if r.observer != nil {
		r.observer.ObserveEvent(ctx, event)
	}

	deliveries.Wait()
}

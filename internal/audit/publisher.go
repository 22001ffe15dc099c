package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Publisher captures structured audit events. It mirrors every event to the
// structured log and appends it to the store so tests can swap sinks easily.
type Publisher struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the structured logger events are mirrored to.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithPublisherClock sets the time source, for tests.
func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		p.now = now
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit records one audit event. A nil Details map is tolerated.
func (p *Publisher) Emit(ctx context.Context, action string, severity Severity, details map[string]any) error {
	event := Event{
		ID:        uuid.New(),
		Timestamp: p.now(),
		Action:    action,
		Severity:  severity,
		Details:   details,
	}
	if p.logger != nil {
		p.logger.InfoContext(ctx, action,
			"log_type", "audit",
			"severity", string(severity),
			"details", details,
		)
	}
	return p.store.Append(ctx, event)
}

// Recent returns the newest n events from the underlying store.
func (p *Publisher) Recent(ctx context.Context, n int) ([]Event, error) {
	return p.store.List(ctx, n)
}

// Clear discards the retained audit trail.
func (p *Publisher) Clear(ctx context.Context) error {
	return p.store.Clear(ctx)
}

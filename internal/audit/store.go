package audit

import "context"

// Store is the append-only sink behind the Publisher. Implementations must be
// safe for concurrent use.
type Store interface {
	Append(ctx context.Context, event Event) error
	// List returns the most recent events, newest first, at most n.
	List(ctx context.Context, n int) ([]Event, error)
	// Clear discards all retained events. Invoked last during erasure so
	// earlier failures remain observable.
	Clear(ctx context.Context) error
}

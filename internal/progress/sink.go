package progress

import "context"

// Sink consumes batches of events from the Hub. Implementations must be safe
// for calls from the Hub's single flushing goroutine and should respect the
// supplied context deadline.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

package harnessports

import "context"

// Tracer emits spans and point events for context assembly and streaming.
// The finish func returned by StartSpan must be called exactly once.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error))
	Event(ctx context.Context, name string, attrs map[string]any)
}

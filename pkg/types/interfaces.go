package types

import "context"

// ObjectStore is the object-storage contract consumed by both components.
// Two logical namespaces exist behind it: originals (read-only from this
// subsystem's perspective) and renditions (write-once-per-key).
type ObjectStore interface {
	// Get returns the full object bytes, or an OBJECT_NOT_FOUND error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores the object. Writes are idempotent: concurrent duplicate
	// writes for the same key are harmless.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Exists reports whether the object is present without fetching it.
	Exists(ctx context.Context, key string) (bool, error)
}

// Invoker dispatches transform work across the function-invocation
// boundary.
type Invoker interface {
	// Invoke runs the transform synchronously and returns its raw
	// response payload.
	Invoke(ctx context.Context, payload []byte) ([]byte, error)

	// InvokeAsync triggers the transform and returns once the dispatch is
	// accepted. The outcome is deliberately ignored: the contract is
	// at-most-once-triggered, result-ignored, and callers rely on the
	// next request for the same cache key finding the rendition.
	InvokeAsync(ctx context.Context, payload []byte) error
}

// Package edge implements the cache-first routing decision made at the
// network edge. Each inbound object request is parsed for transform
// parameters, mapped to a deterministic rendition key, and served from
// cache, passed through to the original, or dispatched to the transform
// engine with a fallback response.
package edge

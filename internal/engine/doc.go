// Package engine implements the transform engine: given an object key and
// validated transformation parameters it fetches the original, decodes it
// by content sniffing (standard web formats, camera RAW containers,
// HEIC/HEIF), applies fit-mode resizing and alpha flattening, encodes the
// target format, and writes the rendition to the cache namespace.
//
// The engine owns all writes to the rendition namespace. Writes are
// idempotent per cache key, so concurrent duplicate transforms race
// harmlessly.
package engine

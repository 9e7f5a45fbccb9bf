// Package types defines the shared domain types of the Galerly image
// transformation core: the TransformRequest parameter tuple, target format
// and fit-mode enumerations, deterministic rendition cache-key derivation,
// and the ObjectStore and Invoker contracts implemented by the surrounding
// infrastructure.
package types

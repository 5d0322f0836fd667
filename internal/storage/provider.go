// Package storage defines the blob-store capability used to persist paper
// PDFs. Implementations exist for Google Cloud Storage, the local
// filesystem, and memory (tests/dry runs).
package storage

import "context"

// Provider is the blob-store capability. Keys come from
// paper.Identity.StorageKey and are stable across runs.
type Provider interface {
	// Put uploads data under key and returns a retrievable URL.
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error)
	// Exists reports whether an object is already stored under key.
	Exists(ctx context.Context, key string) (bool, error)
	// Get returns the object bytes, or nil if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
}

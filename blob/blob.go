// Package blob defines the byte-object storage boundary used for spilled
// payloads and stream bodies, plus three implementations: in-memory (tests,
// single process), filesystem, and Redis.
//
// Objects are opaque byte slices addressed by caller-chosen keys of the
// form "namespace/id/field". Writes always replace the whole object; there
// is no partial update.
package blob

import "context"

// Store is the minimal object-store contract loom needs. Implementations
// must return loom.ErrBlobNotFound (wrapped or bare) from Get when the key
// is absent. Delete of an absent key is a no-op.
type Store interface {
	// Put stores data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object stored under key, if any.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}

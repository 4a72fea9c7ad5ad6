package payload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/loom"
	"github.com/xraph/loom/blob"
)

// Option configures the Store.
type Option func(*Store)

// WithThreshold sets the inline/external boundary in serialized bytes.
// A payload whose serialized length equals the threshold stays inline.
func WithThreshold(n int) Option {
	return func(s *Store) { s.threshold = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store writes payloads inline or to a blob store depending on serialized
// size, and resolves either variant transparently. The threshold only
// matters at write time; refs written under one threshold resolve
// identically after the threshold changes.
type Store struct {
	blobs     blob.Store
	threshold int
	logger    *slog.Logger
}

// NewStore creates a tiered payload store over the given blob backend.
func NewStore(blobs blob.Store, opts ...Option) *Store {
	s := &Store{
		blobs:     blobs,
		threshold: loom.DefaultPayloadThreshold,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}

	return s
}

// Threshold returns the configured inline/external boundary.
func (s *Store) Threshold() int { return s.threshold }

// Key joins namespace/id/field parts into a blob key.
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}

// Put serializes value to canonical JSON and stores it inline when the
// serialized length is at or below the threshold, otherwise as a blob under
// key. json.RawMessage values pass through (compacted) without double
// encoding.
func (s *Store) Put(ctx context.Context, key string, value any) (Ref, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Ref{}, fmt.Errorf("loom/payload: serialize %q: %w", key, err)
	}

	return s.PutRaw(ctx, key, raw)
}

// PutRaw stores already-serialized JSON text, applying the same tiering
// rule as Put.
func (s *Store) PutRaw(ctx context.Context, key string, raw []byte) (Ref, error) {
	if len(raw) <= s.threshold {
		return Inline(string(raw)), nil
	}

	if err := s.blobs.Put(ctx, key, raw); err != nil {
		return Ref{}, fmt.Errorf("loom/payload: spill %q: %w", key, err)
	}

	s.logger.Debug("payload spilled to blob store",
		slog.String("key", key),
		slog.Int("bytes", len(raw)),
		slog.Int("threshold", s.threshold))

	return External(key), nil
}

// Resolve returns the JSON text a Ref points at. The zero Ref resolves to
// nil. An external ref whose blob is gone fails with loom.ErrPayloadMissing:
// the relational row references data that no longer exists, which is
// corruption, not an empty payload.
func (s *Store) Resolve(ctx context.Context, ref Ref) (json.RawMessage, error) {
	switch ref.Kind() {
	case Kind(""):
		return nil, nil
	case KindInline:
		text, _ := ref.InlineData()

		return json.RawMessage(text), nil
	case KindExternal:
		key, _ := ref.ExternalKey()

		data, err := s.blobs.Get(ctx, key)
		if err != nil {
			if errors.Is(err, loom.ErrBlobNotFound) {
				return nil, fmt.Errorf("loom/payload: external payload %q: %w", key, loom.ErrPayloadMissing)
			}

			return nil, fmt.Errorf("loom/payload: resolve %q: %w", key, err)
		}

		return json.RawMessage(data), nil
	default:
		return nil, fmt.Errorf("loom/payload: unknown reference kind %q", ref.Kind())
	}
}

// Delete removes the blob behind an external ref. Inline and zero refs are
// no-ops. Callers must delete or overwrite the referencing relational row
// first; this component does not order those writes.
func (s *Store) Delete(ctx context.Context, ref Ref) error {
	key, ok := ref.ExternalKey()
	if !ok {
		return nil
	}

	if err := s.blobs.Delete(ctx, key); err != nil {
		return fmt.Errorf("loom/payload: delete %q: %w", key, err)
	}

	return nil
}

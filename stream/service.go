package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/loom"
	"github.com/xraph/loom/blob"
	"github.com/xraph/loom/cursor"
	"github.com/xraph/loom/payload"
)

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service reads and appends named byte streams over a metadata Store and
// a blob.Store holding the bytes.
type Service struct {
	store  Store
	blobs  blob.Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a stream service.
func NewService(store Store, blobs blob.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		blobs:  blobs,
		logger: slog.Default(),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(s)
	}

	return s
}

// blobKey returns the storage key of a stream's bytes.
func blobKey(name string) string {
	return payload.Key("streams", name)
}

// lockFor returns the append lock for a stream name, creating it on
// first use. Locks are never evicted; the map is bounded by the number
// of distinct streams touched by this process.
func (s *Service) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}

	return l
}

// Write appends p to the stream, creating the stream on first write.
// It returns the stream size after the append. Writing to a closed
// stream fails with loom.ErrStreamClosed.
func (s *Service) Write(ctx context.Context, name string, p []byte) (int64, error) {
	if name == "" {
		return 0, errors.New("loom/stream: write: name required")
	}

	l := s.lockFor(name)
	l.Lock()
	defer l.Unlock()

	st, err := s.load(ctx, name)
	if err != nil {
		return 0, err
	}
	if st.Closed {
		return 0, fmt.Errorf("loom/stream: write %q: %w", name, loom.ErrStreamClosed)
	}
	if len(p) == 0 {
		return st.Size, nil
	}

	existing, err := s.bytes(ctx, st)
	if err != nil {
		return 0, err
	}

	data := make([]byte, 0, len(existing)+len(p))
	data = append(data, existing...)
	data = append(data, p...)

	if err := s.blobs.Put(ctx, blobKey(name), data); err != nil {
		return 0, fmt.Errorf("loom/stream: write %q: %w", name, err)
	}

	st.Size = int64(len(data))
	st.Touch()
	if err := s.store.UpdateStream(ctx, st); err != nil {
		return 0, fmt.Errorf("loom/stream: write %q: %w", name, err)
	}

	return st.Size, nil
}

// load fetches the stream row, creating a fresh one on first touch.
// A create race against another writer resolves to the winner's row.
func (s *Service) load(ctx context.Context, name string) (*Stream, error) {
	st, err := s.store.GetStream(ctx, name)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, loom.ErrStreamNotFound) {
		return nil, err
	}

	st = &Stream{Entity: loom.NewEntity(), Name: name}
	createErr := s.store.CreateStream(ctx, st)
	if createErr == nil {
		s.logger.Debug("stream created", slog.String("stream", name))

		return st, nil
	}
	if errors.Is(createErr, loom.ErrStreamExists) {
		return s.store.GetStream(ctx, name)
	}

	return nil, fmt.Errorf("loom/stream: create %q: %w", name, createErr)
}

// bytes fetches the stream's blob. A missing blob is empty only while
// the row says so; a non-empty row without its blob is corruption.
func (s *Service) bytes(ctx context.Context, st *Stream) ([]byte, error) {
	data, err := s.blobs.Get(ctx, blobKey(st.Name))
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, loom.ErrBlobNotFound) {
		return nil, fmt.Errorf("loom/stream: read %q: %w", st.Name, err)
	}
	if st.Size > 0 {
		return nil, fmt.Errorf("loom/stream: data of %q: %w", st.Name, loom.ErrPayloadMissing)
	}

	return nil, nil
}

// Read returns the stream's bytes from offset to the end. An offset
// equal to the size returns empty; an offset outside [0, size] fails.
func (s *Service) Read(ctx context.Context, name string, offset int64) ([]byte, error) {
	st, err := s.store.GetStream(ctx, name)
	if err != nil {
		return nil, err
	}

	if offset < 0 || offset > st.Size {
		return nil, fmt.Errorf("loom/stream: read %q: offset %d out of range [0, %d]", name, offset, st.Size)
	}
	if offset == st.Size {
		return nil, nil
	}

	data, err := s.bytes(ctx, st)
	if err != nil {
		return nil, err
	}
	if offset > int64(len(data)) {
		return nil, nil
	}

	out := make([]byte, int64(len(data))-offset)
	copy(out, data[offset:])

	return out, nil
}

// Get returns the stream's metadata row.
func (s *Service) Get(ctx context.Context, name string) (*Stream, error) {
	return s.store.GetStream(ctx, name)
}

// Close marks the stream closed. Further writes fail with
// loom.ErrStreamClosed. Closing an already-closed stream is a no-op.
func (s *Service) Close(ctx context.Context, name string) error {
	l := s.lockFor(name)
	l.Lock()
	defer l.Unlock()

	st, err := s.store.GetStream(ctx, name)
	if err != nil {
		return err
	}
	if st.Closed {
		return nil
	}

	st.Closed = true
	st.Touch()
	if err := s.store.UpdateStream(ctx, st); err != nil {
		return fmt.Errorf("loom/stream: close %q: %w", name, err)
	}

	return nil
}

// Delete removes the stream row and its bytes.
func (s *Service) Delete(ctx context.Context, name string) error {
	l := s.lockFor(name)
	l.Lock()
	defer l.Unlock()

	if err := s.store.DeleteStream(ctx, name); err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, blobKey(name)); err != nil {
		return fmt.Errorf("loom/stream: delete data of %q: %w", name, err)
	}

	return nil
}

// ListParams paginate a stream listing.
type ListParams struct {
	Limit  int
	Cursor string
	Order  cursor.Order
}

// List returns a page of stream metadata sorted by (created_at, name).
func (s *Service) List(ctx context.Context, params ListParams) (cursor.Page[*Stream], error) {
	var zero cursor.Page[*Stream]

	w, err := cursor.ParseWindow(params.Limit, params.Cursor, params.Order)
	if err != nil {
		return zero, err
	}

	rows, err := s.store.ListStreams(ctx, ListOpts{Window: w})
	if err != nil {
		return zero, err
	}

	return cursor.NewPage(rows, w, func(st *Stream) (string, time.Time) {
		return st.Name, st.CreatedAt
	}), nil
}

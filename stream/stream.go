// Package stream manages named append-only byte streams, used for
// incremental workflow output such as progress logs.
//
// Stream metadata (size, closed flag) lives in the relational store; the
// bytes live in blob storage under one object per stream. Appends are
// read-modify-write on the whole object and are serialized per stream
// name within a single process. Concurrent writers to the same stream
// from different processes are NOT safe and can lose appends; run one
// writer per stream, or front the service with an external lock.
package stream

import (
	"context"

	"github.com/xraph/loom"
	"github.com/xraph/loom/cursor"
)

// Stream is the metadata row of one named byte stream.
type Stream struct {
	loom.Entity

	// Name uniquely identifies the stream.
	Name string `json:"name"`

	// Closed streams reject further writes.
	Closed bool `json:"closed"`

	// Size is the stream length in bytes.
	Size int64 `json:"size"`
}

// ListOpts filter a stream listing at the storage layer.
type ListOpts struct {
	Window cursor.Window
}

// Store is the persistence interface for stream metadata.
// Implementations live in the store backends.
type Store interface {
	// CreateStream inserts a new stream row. A duplicate name returns
	// loom.ErrStreamExists.
	CreateStream(ctx context.Context, st *Stream) error

	// GetStream returns a stream by name, or loom.ErrStreamNotFound.
	GetStream(ctx context.Context, name string) (*Stream, error)

	// UpdateStream replaces the stream row identified by st.Name.
	// Missing name returns loom.ErrStreamNotFound.
	UpdateStream(ctx context.Context, st *Stream) error

	// ListStreams returns streams sorted by (created_at, name) in the
	// window's order, fetching up to Window.FetchLimit() rows.
	ListStreams(ctx context.Context, opts ListOpts) ([]*Stream, error)

	// DeleteStream removes a stream row by name. Deleting a missing
	// stream returns loom.ErrStreamNotFound.
	DeleteStream(ctx context.Context, name string) error
}

package loom

import "time"

// DefaultPayloadThreshold is the serialized byte length above which a
// payload spills to the blob store. A payload exactly at the threshold
// stays inline.
const DefaultPayloadThreshold = 10240

// Config holds tunables shared across loom components.
type Config struct {
	// PayloadThreshold is the inline/external boundary for payload
	// storage, in serialized bytes.
	PayloadThreshold int

	// Concurrency is the number of deliveries a queue consumer processes
	// in parallel.
	Concurrency int

	// PollInterval is how often an idle consumer asks its broker for work.
	PollInterval time.Duration

	// DequeueWait is how long a single broker dequeue call may block
	// waiting for a delivery.
	DequeueWait time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight deliveries
	// during graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PayloadThreshold: DefaultPayloadThreshold,
		Concurrency:      10,
		PollInterval:     1 * time.Second,
		DequeueWait:      5 * time.Second,
		ShutdownTimeout:  30 * time.Second,
	}
}

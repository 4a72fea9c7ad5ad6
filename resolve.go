package loom

// ResolveMode controls whether reads resolve payload references. Listing
// many rows with large payloads would otherwise trigger a blob fetch per
// row, so resolution is opt-in.
type ResolveMode int

const (
	// ResolveNone returns structural fields only; payload references are
	// present but not dereferenced.
	ResolveNone ResolveMode = iota
	// ResolveAll dereferences every payload reference on the returned
	// entities.
	ResolveAll
)

// Package payload implements tiered payload storage: values are serialized
// to canonical JSON and kept inline when small, or spilled to a blob store
// when their serialized form exceeds a byte threshold. Every repository
// stores run/step inputs, outputs, and event payloads through this package.
package payload

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the two Ref variants.
type Kind string

const (
	// KindInline marks a Ref carrying the JSON text itself.
	KindInline Kind = "inline"
	// KindExternal marks a Ref carrying a blob-store key.
	KindExternal Kind = "external"
)

// Ref is a tagged reference to a stored payload: either the literal JSON
// text (inline) or a blob-store key (external). The zero Ref means "no
// payload". Fields are unexported so the two variants stay exhaustive —
// construct refs only through Inline and External.
type Ref struct {
	kind Kind
	data string
}

// Inline builds a Ref carrying text itself.
func Inline(text string) Ref {
	return Ref{kind: KindInline, data: text}
}

// External builds a Ref pointing at a blob-store key.
func External(key string) Ref {
	return Ref{kind: KindExternal, data: key}
}

// Kind returns the variant tag, or "" for the zero Ref.
func (r Ref) Kind() Kind { return r.kind }

// IsZero reports whether the Ref carries no payload at all.
func (r Ref) IsZero() bool { return r.kind == "" }

// InlineData returns the inline JSON text and true when r is inline.
func (r Ref) InlineData() (string, bool) {
	if r.kind != KindInline {
		return "", false
	}

	return r.data, true
}

// ExternalKey returns the blob-store key and true when r is external.
func (r Ref) ExternalKey() (string, bool) {
	if r.kind != KindExternal {
		return "", false
	}

	return r.data, true
}

// Columns returns the (type, data) pair persisted by relational backends.
// The zero Ref maps to two empty strings.
func (r Ref) Columns() (string, string) {
	return string(r.kind), r.data
}

// FromColumns reconstructs a Ref from its relational (type, data) pair.
// Both empty yields the zero Ref; an unknown type is rejected.
func FromColumns(typ, data string) (Ref, error) {
	switch Kind(typ) {
	case Kind(""):
		if data != "" {
			return Ref{}, fmt.Errorf("loom/payload: data without reference type")
		}

		return Ref{}, nil
	case KindInline:
		return Inline(data), nil
	case KindExternal:
		return External(data), nil
	default:
		return Ref{}, fmt.Errorf("loom/payload: unknown reference type %q", typ)
	}
}

// refJSON is the serialized shape of a Ref.
type refJSON struct {
	Type Kind   `json:"type"`
	Data string `json:"data"`
}

// MarshalJSON implements json.Marshaler. The zero Ref serializes as null.
func (r Ref) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return []byte("null"), nil
	}

	return json.Marshal(refJSON{Type: r.kind, Data: r.data})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Ref) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Ref{}

		return nil
	}

	var rj refJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return fmt.Errorf("loom/payload: decode reference: %w", err)
	}

	ref, err := FromColumns(string(rj.Type), rj.Data)
	if err != nil {
		return err
	}

	*r = ref

	return nil
}

package loom

import "github.com/xraph/loom/id"

// ID is the primary identifier type for all loom entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

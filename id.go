package coffer

import "github.com/xraph/coffer/id"

// ID is the primary identifier type for all Coffer records.
type ID = id.ID

// Prefix identifies the record type encoded in a TypeID.
type Prefix = id.Prefix

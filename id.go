package executor

import "github.com/Nanguage/executor-engine/id"

// ID is the primary identifier type for all executor entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

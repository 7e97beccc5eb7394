// Package model defines CALIBER's entity types and the invariants that
// apply to them in isolation from storage. Every type here is a plain
// value type: no methods talk to a database or a provider.
package model

import (
	"time"

	"github.com/caliber-dev/caliber/internal/idgen"
)

// Base is embedded by every entity, tenant-scoped or not.
type Base struct {
	ID        idgen.ID  `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TenantBase is embedded by every tenant-scoped entity.
type TenantBase struct {
	Base
	TenantID idgen.ID `json:"tenant_id"`
}

// Versioned is embedded by entities governed by compare-and-swap updates.
type Versioned struct {
	Version int `json:"version"`
}

// Metadata is the free-form JSON bag carried by most entities. Stored as
// opaque bytes by the storage layer; callers marshal/unmarshal their own
// shape into it.
type Metadata map[string]any

package coordination

import (
	"context"

	"github.com/caliber-dev/caliber/internal/clog"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage"
)

// EntityACL is the optional per-entity narrowing of a Region's grant,
// stored in an Artifact/Note/Scope's Metadata map under the "acl" key
// (Artifact/Note/Scope carry no literal ACL field; this is the minimal
// addition the "most restrictive wins" decision in SPEC_FULL.md §9
// needs). Its absence means no narrowing: the Region's own grant
// decides alone.
type EntityACL struct {
	DenyRead  []string `json:"deny_read,omitempty"`
	DenyWrite []string `json:"deny_write,omitempty"`
}

// entityACL extracts the "acl" key from meta, tolerating both an
// in-process *EntityACL (tests construct it directly) and the
// map[string]any shape a JSON round-trip through storage produces.
func entityACL(meta model.Metadata) *EntityACL {
	raw, ok := meta["acl"]
	if !ok || raw == nil {
		return nil
	}
	if acl, ok := raw.(EntityACL); ok {
		return &acl
	}
	if acl, ok := raw.(*EntityACL); ok {
		return acl
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	acl := &EntityACL{}
	acl.DenyRead = stringSlice(m["deny_read"])
	acl.DenyWrite = stringSlice(m["deny_write"])
	return acl
}

func stringSlice(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// containsAgent reports whether list names agent, by id or by type.
// Used both for a Region's Readers/Writers grants and an EntityACL's
// deny lists — membership is the same test either way.
func containsAgent(list []string, agent *model.Agent) bool {
	for _, id := range list {
		if id == agent.ID.String() || id == agent.AgentType {
			return true
		}
	}
	return false
}

// Regions wraps storage.RegionStore with the access-policy decisions.
type Regions struct {
	store storage.RegionStore
	log   *clog.Logger
}

func NewRegions(store storage.RegionStore) *Regions {
	return &Regions{store: store, log: clog.New("COORDINATION").With("regions")}
}

func (r *Regions) Create(ctx context.Context, region *model.Region) (idgen.ID, error) {
	return r.store.CreateRegion(ctx, region)
}

func (r *Regions) Get(ctx context.Context, id idgen.ID) (*model.Region, error) {
	return r.store.GetRegion(ctx, id)
}

func (r *Regions) Update(ctx context.Context, id idgen.ID, patch map[string]any) (*model.Region, error) {
	return r.store.UpdateRegion(ctx, id, patch)
}

// CanRead reports whether agent may read an entity governed by region,
// whose Metadata is entityMeta. Most restrictive wins: a per-entity ACL
// deny overrides a region grant, never the reverse.
func CanRead(region *model.Region, agent *model.Agent, entityMeta model.Metadata) bool {
	if !regionGrantsRead(region, agent) {
		return false
	}
	if acl := entityACL(entityMeta); acl != nil && containsAgent(acl.DenyRead, agent) {
		return false
	}
	return true
}

// CanWrite reports whether agent may write an entity governed by
// region, per the same most-restrictive-wins policy as CanRead.
func CanWrite(region *model.Region, agent *model.Agent, entityMeta model.Metadata) bool {
	if !regionGrantsWrite(region, agent) {
		return false
	}
	if acl := entityACL(entityMeta); acl != nil && containsAgent(acl.DenyWrite, agent) {
		return false
	}
	return true
}

func regionGrantsRead(region *model.Region, agent *model.Agent) bool {
	if region.Kind == model.RegionPublic {
		return true
	}
	if region.OwnerAgentID == agent.ID {
		return true
	}
	return containsAgent(region.Readers, agent) || containsAgent(region.Writers, agent)
}

func regionGrantsWrite(region *model.Region, agent *model.Agent) bool {
	if region.OwnerAgentID == agent.ID {
		return true
	}
	if region.Kind == model.RegionPrivate {
		return false
	}
	return containsAgent(region.Writers, agent)
}

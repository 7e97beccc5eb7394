package core

import (
	"context"
	"time"

	"github.com/caliber-dev/caliber/internal/ctxassembly"
	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage"
	"github.com/caliber-dev/caliber/internal/val"
)

// AssembleContext is spec.md §6's assemble_context(scope_id, query?,
// config_override?). It gathers the scope's turns, the trajectory's
// artifacts, and the trajectory's notes as candidates, embeds query (if
// an embedding provider is configured and query is non-empty), and
// greedily fills the token budget per internal/ctxassembly's scoring
// rules. A nil override falls back to the Core's own configuration.
func (c *Core) AssembleContext(ctx context.Context, scopeID idgen.ID, query string, override *model.Config) ([]ctxassembly.Included, error) {
	cfg := c.cfg
	if override != nil {
		cfg = *override
	}
	if err := model.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	scope, err := c.Store.GetScope(ctx, scopeID)
	if err != nil {
		return nil, err
	}

	candidates, err := c.gatherCandidates(ctx, scope)
	if err != nil {
		return nil, err
	}

	var queryEmbedding []float32
	if query != "" && c.Embeddings != nil {
		callErr := c.Embeddings.Call(ctx, val.StrategyFirst, "", func(p val.EmbeddingProvider) error {
			var embedErr error
			queryEmbedding, embedErr = p.Embed(ctx, query)
			return embedErr
		})
		if _, notConfigured := errs.As[*errs.ProviderNotConfigured](callErr); callErr != nil && !notConfigured {
			return nil, callErr
		}
	}

	return ctxassembly.Assemble(cfg, candidates, queryEmbedding, time.Now(), ctxassembly.ApproxEstimator{})
}

func (c *Core) gatherCandidates(ctx context.Context, scope *model.Scope) ([]ctxassembly.Candidate, error) {
	var out []ctxassembly.Candidate

	turns, err := c.Store.ListTurnsByScope(ctx, scope.ID, storage.ListOptions{})
	if err != nil {
		return nil, err
	}
	for _, t := range turns {
		out = append(out, ctxassembly.Candidate{
			Section:   sectionForRole(t.Role),
			ID:        t.ID,
			Content:   t.Content,
			CreatedAt: t.CreatedAt,
		})
	}

	artifacts, err := c.Store.ListArtifactsByTrajectory(ctx, scope.TrajectoryID, storage.ListOptions{})
	if err != nil {
		return nil, err
	}
	for _, a := range artifacts {
		out = append(out, ctxassembly.Candidate{
			Section:   model.SectionArtifacts,
			ID:        a.ID,
			Content:   a.Content,
			Embedding: a.Embedding,
			CreatedAt: a.CreatedAt,
		})
	}

	notes, err := c.Store.ListNotesByTrajectory(ctx, scope.TrajectoryID, storage.ListOptions{})
	if err != nil {
		return nil, err
	}
	for _, n := range notes {
		out = append(out, ctxassembly.Candidate{
			Section:   model.SectionNotes,
			ID:        n.ID,
			Content:   n.Content,
			Embedding: n.Embedding,
			CreatedAt: n.CreatedAt,
		})
	}

	return out, nil
}

// sectionForRole maps a turn's role onto the context section it
// contributes to: system prompts and user messages get their own
// sections so SectionPriorities can weight them independently, while
// assistant replies and tool output fall back to the transcript
// history section.
func sectionForRole(role model.TurnRole) model.Section {
	switch role {
	case model.RoleSystem:
		return model.SectionSystem
	case model.RoleUser:
		return model.SectionUser
	default:
		return model.SectionHistory
	}
}

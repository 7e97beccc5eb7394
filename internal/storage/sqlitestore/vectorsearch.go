package sqlitestore

import (
	"context"
	"fmt"
	"sort"

	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage"
	"github.com/caliber-dev/caliber/internal/tenant"
)

// vectorTables maps the entity types vector_search supports to their
// table and id/embedding columns. Both artifacts and notes carry an
// embedding column; growing this set to more entity types is a one-line
// change here.
var vectorTables = map[string]string{
	"artifact": "artifacts",
	"note":     "notes",
}

// VectorSearch is a brute-force cosine-similarity scan: every embedding
// in the target table is decoded and compared against the query vector.
// This is the reference backend's deliberate trade-off (spec.md scopes
// out any specific ANN index requirement) — correctness over index
// sophistication.
func (s *Store) VectorSearch(ctx context.Context, entityType string, embedding []float32, k int) ([]storage.VectorSearchResult, error) {
	tid, ok := tenant.FromContext(ctx)
	if !ok {
		return nil, &errs.ValidationError{Field: "tenant", Reason: "required"}
	}
	table, ok := vectorTables[entityType]
	if !ok {
		return nil, &errs.ValidationError{Field: "entity_type", Reason: "vector search unsupported for " + entityType}
	}

	rows, err := s.conn(ctx).QueryContext(ctx,
		fmt.Sprintf(`SELECT id, embedding FROM %s WHERE tenant_id = ? AND embedding IS NOT NULL`, table),
		tid.String())
	if err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("vector_search: %w", err)}
	}
	defer rows.Close()

	var results []storage.VectorSearchResult
	for rows.Next() {
		var idStr string
		var buf []byte
		if err := rows.Scan(&idStr, &buf); err != nil {
			return nil, &errs.Storage{Cause: fmt.Errorf("vector_search scan: %w", err)}
		}
		id, err := idgen.Parse(idStr)
		if err != nil {
			return nil, err
		}
		candidate := decodeEmbedding(buf)
		score, err := model.CosineSimilarity(embedding, candidate)
		if err != nil {
			continue // dimension drift on a stale row must not fail the whole search
		}
		results = append(results, storage.VectorSearchResult{EntityType: entityType, EntityID: id, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, &errs.Storage{Cause: fmt.Errorf("vector_search: %w", err)}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].EntityID.Less(results[j].EntityID)
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

package ctxassembly

import (
	"math"
	"sort"
	"time"

	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
)

// Candidate is one piece of content competing for a slot in the
// assembled context: a turn, artifact, or note, reduced to what the
// scoring and truncation algorithm needs.
type Candidate struct {
	Section   model.Section
	ID        idgen.ID
	Content   string
	Embedding []float32 // nil if the candidate carries no embedding
	CreatedAt time.Time
}

// Included is one candidate that made it into the assembled context,
// possibly truncated.
type Included struct {
	Section   model.Section
	ID        idgen.ID
	Content   string
	Truncated bool
	Score     float64
}

type scored struct {
	Candidate
	score   float64
	tokens  int
}

// Assemble scores candidates and greedily fills cfg.TokenBudget,
// honoring per-section priority and cap, in the order spec.md §4.8
// describes. queryEmbedding may be nil, in which case relevance is 1.0
// for every candidate.
func Assemble(cfg model.Config, candidates []Candidate, queryEmbedding []float32, now time.Time, est Estimator) ([]Included, error) {
	if cfg.TokenBudget <= 0 {
		return nil, &errs.ConfigError{What: "token_budget must be > 0"}
	}
	for section, sectionCap := range cfg.SectionCaps {
		if sectionCap < 0 {
			return nil, &errs.ConfigError{What: "section_caps[" + string(section) + "] must be >= 0"}
		}
	}
	if est == nil {
		est = ApproxEstimator{}
	}

	scoredCandidates := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		priority := cfg.SectionPriorities[c.Section]
		relevance := 1.0
		if queryEmbedding != nil && c.Embedding != nil {
			r, err := model.CosineSimilarity(queryEmbedding, c.Embedding)
			if err == nil {
				relevance = r
			}
		}
		age := now.Sub(c.CreatedAt)
		decay := 1.0
		if cfg.RecencyHalfLife > 0 {
			decay = math.Exp(-age.Seconds() / cfg.RecencyHalfLife.Seconds())
		}
		score := float64(priority) * relevance * decay
		scoredCandidates = append(scoredCandidates, scored{
			Candidate: c,
			score:     score,
			tokens:    est.EstimateTokens(c.Content),
		})
	}

	sort.SliceStable(scoredCandidates, func(i, j int) bool {
		a, b := scoredCandidates[i], scoredCandidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		ap, bp := cfg.SectionPriorities[a.Section], cfg.SectionPriorities[b.Section]
		if ap != bp {
			return ap > bp
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.Less(b.ID)
	})

	sectionUsed := map[model.Section]int{}
	remaining := cfg.TokenBudget
	var out []Included

	for _, c := range scoredCandidates {
		if remaining <= 0 {
			break
		}
		sectionCap, hasCap := cfg.SectionCaps[c.Section]
		budgetForSection := remaining
		if hasCap {
			used := sectionUsed[c.Section]
			if used >= sectionCap {
				continue
			}
			if sectionCap-used < budgetForSection {
				budgetForSection = sectionCap - used
			}
		}

		if c.tokens <= budgetForSection {
			out = append(out, Included{Section: c.Section, ID: c.ID, Content: c.Content, Score: c.score})
			remaining -= c.tokens
			sectionUsed[c.Section] += c.tokens
			continue
		}

		truncated := TruncateUTF8(c.Content, budgetForSection, est)
		if truncated == "" {
			continue
		}
		used := est.EstimateTokens(truncated)
		out = append(out, Included{Section: c.Section, ID: c.ID, Content: truncated, Truncated: true, Score: c.score})
		remaining -= used
		sectionUsed[c.Section] += used
	}

	return out, nil
}

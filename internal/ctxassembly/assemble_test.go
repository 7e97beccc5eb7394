package ctxassembly

import (
	"testing"
	"time"

	"github.com/caliber-dev/caliber/internal/errs"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
)

func baseConfig() model.Config {
	return model.Config{
		TokenBudget: 100,
		SectionPriorities: map[model.Section]int{
			model.SectionUser:      10,
			model.SectionArtifacts: 5,
			model.SectionHistory:   3,
		},
		RecencyHalfLife: time.Hour,
	}
}

func TestAssembleRejectsNonPositiveBudget(t *testing.T) {
	cfg := baseConfig()
	cfg.TokenBudget = 0
	_, err := Assemble(cfg, nil, nil, time.Now(), nil)
	if _, ok := errs.As[*errs.ConfigError](err); !ok {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestAssembleOrdersByScoreDescending(t *testing.T) {
	cfg := baseConfig()
	now := time.Now()
	candidates := []Candidate{
		{Section: model.SectionHistory, ID: idgen.New(), Content: "old turn", CreatedAt: now.Add(-time.Hour)},
		{Section: model.SectionUser, ID: idgen.New(), Content: "fresh user note", CreatedAt: now},
	}

	out, err := Assemble(cfg, candidates, nil, now, nil)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected both candidates included, got %d", len(out))
	}
	if out[0].Section != model.SectionUser {
		t.Errorf("expected user section first (higher priority), got %s", out[0].Section)
	}
}

func TestAssembleTruncatesOversizedCandidate(t *testing.T) {
	cfg := baseConfig()
	cfg.TokenBudget = 5

	candidates := []Candidate{
		{Section: model.SectionUser, ID: idgen.New(), Content: "this is a much longer piece of text than the budget allows", CreatedAt: time.Now()},
	}

	out, err := Assemble(cfg, candidates, nil, time.Now(), nil)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one truncated candidate, got %d", len(out))
	}
	if !out[0].Truncated {
		t.Error("expected candidate to be marked truncated")
	}
	if len(out[0].Content) >= len(candidates[0].Content) {
		t.Error("expected truncated content to be shorter than original")
	}
}

func TestAssembleRespectsSectionCap(t *testing.T) {
	cfg := baseConfig()
	cfg.TokenBudget = 1000
	cfg.SectionCaps = map[model.Section]int{model.SectionHistory: 2}

	candidates := []Candidate{
		{Section: model.SectionHistory, ID: idgen.New(), Content: "aaaa", CreatedAt: time.Now()},
		{Section: model.SectionHistory, ID: idgen.New(), Content: "bbbb", CreatedAt: time.Now().Add(time.Second)},
	}

	out, err := Assemble(cfg, candidates, nil, time.Now(), nil)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	total := 0
	for _, inc := range out {
		total += ApproxEstimator{}.EstimateTokens(inc.Content)
	}
	if total > 2 {
		t.Errorf("expected history section capped at 2 tokens, used %d", total)
	}
}

func TestTruncateUTF8NeverSplitsRune(t *testing.T) {
	s := "héllo wörld 日本語テスト"
	out := TruncateUTF8(s, 3, ApproxEstimator{})
	for _, r := range out {
		if r == '�' {
			t.Fatalf("truncated output contains replacement rune: %q", out)
		}
	}
}

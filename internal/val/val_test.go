package val

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeEmbedder struct {
	name string
	fail bool
}

func (f *fakeEmbedder) Name() string { return f.name }
func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("boom")
	}
	return []float32{1, 0}, nil
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (f *fakeEmbedder) Dimensions() int  { return 2 }
func (f *fakeEmbedder) ModelID() string  { return "fake-1" }

func TestParseStrategyCapability(t *testing.T) {
	strategy, cap := ParseStrategy("capability(embedding)")
	if strategy != StrategyCapability || cap != "embedding" {
		t.Fatalf("got %v %q", strategy, cap)
	}
	strategy, cap = ParseStrategy("round_robin")
	if strategy != StrategyRoundRobin || cap != "" {
		t.Fatalf("got %v %q", strategy, cap)
	}
}

func TestRegistrySelectFirst(t *testing.T) {
	reg := NewRegistry[*fakeEmbedder](nil)
	reg.Register(&fakeEmbedder{name: "a"})
	reg.Register(&fakeEmbedder{name: "b"})

	p, err := reg.Select(StrategyFirst, "")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if p.Name() != "a" {
		t.Errorf("expected a, got %s", p.Name())
	}
}

func TestRegistrySelectByCapability(t *testing.T) {
	reg := NewRegistry[*fakeEmbedder](nil)
	reg.Register(&fakeEmbedder{name: "a"}, "fast")
	reg.Register(&fakeEmbedder{name: "b"}, "accurate")

	p, err := reg.Select(StrategyCapability, "accurate")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if p.Name() != "b" {
		t.Errorf("expected b, got %s", p.Name())
	}

	if _, err := reg.Select(StrategyCapability, "nonexistent"); err == nil {
		t.Fatal("expected ProviderNotConfigured")
	}
}

func TestCircuitBreakerTripsAndRecovers(t *testing.T) {
	b := NewCircuitBreaker(2, 1, 10*time.Millisecond)
	now := time.Now()

	if !b.Allow(now) {
		t.Fatal("expected closed breaker to allow")
	}
	b.RecordFailure(now)
	b.RecordFailure(now)
	if b.State() != StateOpen {
		t.Fatalf("expected open after threshold failures, got %s", b.State())
	}
	if b.Allow(now) {
		t.Fatal("expected open breaker to block immediately")
	}

	later := now.Add(20 * time.Millisecond)
	if !b.Allow(later) {
		t.Fatal("expected half_open to allow probe after cooldown")
	}
	b.RecordSuccess(later)
	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", b.State())
	}
}

func TestRouterRetriesTransientFailure(t *testing.T) {
	attempts := 0
	provider := &fakeEmbedder{name: "flaky"}
	reg := NewRegistry[*fakeEmbedder](NewHealthCache(time.Minute))
	reg.Register(provider)

	router := NewRouter[*fakeEmbedder](reg, RetryConfig{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Multiplier:     2,
	}, CircuitBreakerConfig{FailureThreshold: 10, SuccessThreshold: 1, Cooldown: time.Second})

	err := router.Call(context.Background(), StrategyFirst, "", func(p *fakeEmbedder) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

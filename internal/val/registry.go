package val

import (
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caliber-dev/caliber/internal/errs"
)

// Strategy picks one provider out of a registered set.
type Strategy string

const (
	StrategyFirst        Strategy = "first"
	StrategyRoundRobin   Strategy = "round_robin"
	StrategyLeastLatency Strategy = "least_latency"
	StrategyRandom       Strategy = "random"
	StrategyCapability   Strategy = "capability"
)

// ParseStrategy turns "capability(x)" into (StrategyCapability, "x");
// every other input passes through unchanged with an empty capability.
func ParseStrategy(s string) (Strategy, string) {
	if strings.HasPrefix(s, "capability(") && strings.HasSuffix(s, ")") {
		return StrategyCapability, strings.TrimSuffix(strings.TrimPrefix(s, "capability("), ")")
	}
	return Strategy(s), ""
}

// Named is the minimum a provider must implement to be registered:
// EmbeddingProvider and SummarizationProvider both qualify.
type Named interface {
	Name() string
}

type entry[P Named] struct {
	provider     P
	capabilities map[string]bool
}

// Registry holds a set of named providers of type P and selects one per
// call according to a routing strategy. This generalizes the teacher's
// notifications.Router (which fans an event out to every matching
// channel) into picking exactly one provider instead of broadcasting.
type Registry[P Named] struct {
	mu      sync.RWMutex
	entries []entry[P]
	rrIndex uint64
	health  *HealthCache
}

func NewRegistry[P Named](health *HealthCache) *Registry[P] {
	return &Registry[P]{health: health}
}

// Register adds a provider with the given capability tags.
func (r *Registry[P]) Register(provider P, capabilities ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}
	r.entries = append(r.entries, entry[P]{provider: provider, capabilities: caps})
}

// Select picks one provider per strategy. capability is only consulted
// for StrategyCapability.
func (r *Registry[P]) Select(strategy Strategy, capability string) (P, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero P
	candidates := r.entries
	if strategy == StrategyCapability {
		filtered := make([]entry[P], 0, len(candidates))
		for _, e := range candidates {
			if e.capabilities[capability] {
				filtered = append(filtered, e)
			}
		}
		candidates = filtered
	}
	if len(candidates) == 0 {
		return zero, &errs.ProviderNotConfigured{Capability: capability}
	}

	switch strategy {
	case StrategyRandom:
		return candidates[rand.Intn(len(candidates))].provider, nil
	case StrategyRoundRobin:
		n := atomic.AddUint64(&r.rrIndex, 1)
		return candidates[int(n)%len(candidates)].provider, nil
	case StrategyLeastLatency:
		return r.selectLeastLatency(candidates)
	default: // StrategyFirst, StrategyCapability
		return candidates[0].provider, nil
	}
}

func (r *Registry[P]) selectLeastLatency(candidates []entry[P]) (P, error) {
	now := time.Now()
	best := candidates[0]
	bestLatency, haveSample := r.latencyOf(best.provider, now)
	for _, c := range candidates[1:] {
		lat, ok := r.latencyOf(c.provider, now)
		if !ok {
			continue
		}
		if !haveSample || lat < bestLatency {
			best, bestLatency, haveSample = c, lat, true
		}
	}
	return best.provider, nil
}

func (r *Registry[P]) latencyOf(p P, now time.Time) (time.Duration, bool) {
	if r.health == nil {
		return 0, false
	}
	return r.health.AverageLatency(p.Name(), now)
}

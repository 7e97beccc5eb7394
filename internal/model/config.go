package model

import (
	"time"

	"github.com/caliber-dev/caliber/internal/errs"
)

// Section is one of the named context-assembly sections.
type Section string

const (
	SectionUser      Section = "user"
	SectionSystem    Section = "system"
	SectionArtifacts Section = "artifacts"
	SectionNotes     Section = "notes"
	SectionHistory   Section = "history"
)

// ContextPersistence is the lifetime policy for per-request context.
type ContextPersistence struct {
	Kind string        `json:"kind"` // ephemeral | session | ttl | permanent
	TTL  time.Duration `json:"ttl,omitempty"`
}

// ValidationMode controls when invariant checks run.
type ValidationMode string

const (
	ValidateOnMutation ValidationMode = "on_mutation"
	ValidateAlways     ValidationMode = "always"
)

// RetryConfig governs provider-call retries (C9).
type RetryConfig struct {
	MaxRetries     int           `json:"max_retries"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
	Multiplier     float64       `json:"multiplier"`
}

// CircuitBreakerConfig governs the C9 breaker per provider.
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	Cooldown         time.Duration `json:"cooldown"`
}

// Config is the full runtime configuration surface consumed by the core,
// per spec.md §6. It has no defaults: every field must be set explicitly
// and is validated on deploy.
type Config struct {
	TokenBudget            int                      `json:"token_budget"`
	SectionPriorities      map[Section]int          `json:"section_priorities"`
	SectionCaps            map[Section]int          `json:"section_caps,omitempty"`
	RecencyHalfLife        time.Duration            `json:"recency_half_life"`
	CheckpointRetention    int                      `json:"checkpoint_retention"`
	StaleThreshold         time.Duration            `json:"stale_threshold"`
	ContradictionThreshold float64                  `json:"contradiction_threshold"`
	ContextPersistence     ContextPersistence       `json:"context_persistence"`
	ValidationMode         ValidationMode           `json:"validation_mode"`
	EmbeddingProvider      string                   `json:"embedding_provider,omitempty"`
	SummarizationProvider  string                   `json:"summarization_provider,omitempty"`
	RetryConfig            RetryConfig              `json:"retry_config"`
	CircuitBreaker         CircuitBreakerConfig     `json:"circuit_breaker"`
	LockDefaultTTL         time.Duration            `json:"lock_default_ttl"`
	SagaDefaultTimeout     time.Duration            `json:"saga_default_timeout"`
	IdempotencyTTL         time.Duration            `json:"idempotency_ttl"`
}

// ValidateConfig checks the invariants spec.md §4.1 requires of a Config:
// token_budget > 0, contradiction_threshold in [0,1], all durations
// positive, section priorities non-negative.
func ValidateConfig(cfg Config) error {
	if cfg.TokenBudget <= 0 {
		return &errs.ConfigError{What: "token_budget must be > 0"}
	}
	if cfg.ContradictionThreshold < 0 || cfg.ContradictionThreshold > 1 {
		return &errs.ConfigError{What: "contradiction_threshold must be in [0,1]"}
	}
	for section, p := range cfg.SectionPriorities {
		if p < 0 {
			return &errs.ConfigError{What: "section_priorities[" + string(section) + "] must be >= 0"}
		}
	}
	for section, c := range cfg.SectionCaps {
		if c < 0 {
			return &errs.ConfigError{What: "section_caps[" + string(section) + "] must be >= 0"}
		}
	}
	durations := map[string]time.Duration{
		"recency_half_life":    cfg.RecencyHalfLife,
		"stale_threshold":       cfg.StaleThreshold,
		"lock_default_ttl":      cfg.LockDefaultTTL,
		"saga_default_timeout":  cfg.SagaDefaultTimeout,
		"idempotency_ttl":       cfg.IdempotencyTTL,
	}
	for name, d := range durations {
		if d <= 0 {
			return &errs.ConfigError{What: name + " must be positive"}
		}
	}
	if cfg.CheckpointRetention <= 0 {
		return &errs.ConfigError{What: "checkpoint_retention must be > 0"}
	}
	if cfg.RetryConfig.MaxRetries < 0 {
		return &errs.ConfigError{What: "retry_config.max_retries must be >= 0"}
	}
	if cfg.RetryConfig.InitialBackoff <= 0 || cfg.RetryConfig.MaxBackoff <= 0 {
		return &errs.ConfigError{What: "retry_config backoff durations must be positive"}
	}
	if cfg.RetryConfig.Multiplier < 1 {
		return &errs.ConfigError{What: "retry_config.multiplier must be >= 1"}
	}
	if cfg.CircuitBreaker.FailureThreshold <= 0 || cfg.CircuitBreaker.SuccessThreshold <= 0 {
		return &errs.ConfigError{What: "circuit_breaker thresholds must be > 0"}
	}
	if cfg.CircuitBreaker.Cooldown <= 0 {
		return &errs.ConfigError{What: "circuit_breaker.cooldown must be positive"}
	}
	return nil
}

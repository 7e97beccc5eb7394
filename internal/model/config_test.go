package model

import (
	"testing"
	"time"

	"github.com/caliber-dev/caliber/internal/errs"
)

func validConfig() Config {
	return Config{
		TokenBudget:             8000,
		SectionPriorities:       map[Section]int{SectionUser: 100, SectionArtifacts: 80},
		RecencyHalfLife:         time.Hour,
		CheckpointRetention:     5,
		StaleThreshold:          24 * time.Hour,
		ContradictionThreshold:  0.7,
		ContextPersistence:      ContextPersistence{Kind: "session"},
		ValidationMode:          ValidateOnMutation,
		RetryConfig:             RetryConfig{MaxRetries: 3, InitialBackoff: time.Second, MaxBackoff: time.Minute, Multiplier: 2},
		CircuitBreaker:          CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Cooldown: 30 * time.Second},
		LockDefaultTTL:          30 * time.Second,
		SagaDefaultTimeout:      time.Hour,
		IdempotencyTTL:          24 * time.Hour,
	}
}

func TestValidateConfigOK(t *testing.T) {
	if err := ValidateConfig(validConfig()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateConfigRejectsNonPositiveBudget(t *testing.T) {
	cfg := validConfig()
	cfg.TokenBudget = 0
	err := ValidateConfig(cfg)
	if _, ok := errs.As[*errs.ConfigError](err); !ok {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestValidateConfigRejectsBadThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.ContradictionThreshold = 1.5
	if _, ok := errs.As[*errs.ConfigError](ValidateConfig(cfg)); !ok {
		t.Fatal("expected ConfigError for out-of-range contradiction_threshold")
	}
}

func TestValidateConfigRejectsNegativePriority(t *testing.T) {
	cfg := validConfig()
	cfg.SectionPriorities[SectionNotes] = -1
	if _, ok := errs.As[*errs.ConfigError](ValidateConfig(cfg)); !ok {
		t.Fatal("expected ConfigError for negative section priority")
	}
}

func TestValidateConfigRejectsNonPositiveDuration(t *testing.T) {
	cfg := validConfig()
	cfg.RecencyHalfLife = 0
	if _, ok := errs.As[*errs.ConfigError](ValidateConfig(cfg)); !ok {
		t.Fatal("expected ConfigError for non-positive duration")
	}
}

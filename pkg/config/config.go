// Package config loads engine configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

// Config holds all tunables of the engine. Zero configuration is valid:
// every option has a default.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string
	RedisAddr   string

	// LLM provider
	LLMServiceURL string
	LLMAPIKey     string
	LLMModel      string

	// Deliberation timeouts
	AgentTimeout time.Duration
	PhaseTimeout time.Duration

	// Human-review thresholds
	AmountHumanReviewThreshold    contracts.Cents
	RiskScoreHumanReviewThreshold int

	// Lock predicates
	MaterialityMinPercent  int
	ThreeWayMatchTolerance float64

	// State machine
	ReviewIterationCap int

	// Event stream
	StreamKeepalive     time.Duration
	StreamSessionIdleGC time.Duration

	// Tenant policy bundles
	PolicyBundleDir string

	// Defense-file attestation and audit export
	AttestationKey    string
	AttestationIssuer string
	ExportS3Bucket    string
	ExportGCSBucket   string
}

// Load reads configuration from the environment, falling back to the
// documented defaults.
func Load() *Config {
	return &Config{
		Port:        envString("PORT", "8080"),
		LogLevel:    envString("LOG_LEVEL", "INFO"),
		DatabaseURL: envString("DATABASE_URL", ""),
		RedisAddr:   envString("REDIS_ADDR", ""),

		// Base URL only; the provider appends /v1/chat/completions.
		LLMServiceURL: envString("LLM_SERVICE_URL", "https://api.openai.com"),
		LLMAPIKey:     envString("LLM_API_KEY", ""),
		LLMModel:      envString("LLM_MODEL", "gpt-4o"),

		AgentTimeout: time.Duration(envInt("AGENT_TIMEOUT_SECONDS", 60)) * time.Second,
		PhaseTimeout: time.Duration(envInt("PHASE_TIMEOUT_SECONDS", 180)) * time.Second,

		AmountHumanReviewThreshold:    contracts.FromPesos(int64(envInt("AMOUNT_HUMAN_REVIEW_THRESHOLD", 5_000_000))),
		RiskScoreHumanReviewThreshold: envInt("RISK_SCORE_HUMAN_REVIEW_THRESHOLD", 60),

		MaterialityMinPercent:  envInt("MATERIALITY_MIN_PERCENT", 80),
		ThreeWayMatchTolerance: envFloat("THREE_WAY_MATCH_TOLERANCE", 0.05),

		ReviewIterationCap: envInt("REVIEW_ITERATION_CAP", 2),

		StreamKeepalive:     time.Duration(envInt("STREAM_KEEPALIVE_SECONDS", 15)) * time.Second,
		StreamSessionIdleGC: time.Duration(envInt("STREAM_SESSION_IDLE_GC_SECONDS", 60)) * time.Second,

		PolicyBundleDir: envString("POLICY_BUNDLE_DIR", ""),

		AttestationKey:    envString("ATTESTATION_KEY", ""),
		AttestationIssuer: envString("ATTESTATION_ISSUER", "defensor-engine"),
		ExportS3Bucket:    envString("EXPORT_S3_BUCKET", ""),
		ExportGCSBucket:   envString("EXPORT_GCS_BUCKET", ""),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

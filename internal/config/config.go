// Package config loads and validates application configuration from environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Governor thresholds.
	DriftEpsilon   float64
	CoherenceFloor float64
	CorrectionK    float64

	// Validity scoring.
	ValidityFloor    float64
	SemanticWeight   float64
	ConfidenceWeight float64

	// Graph and ledger bounds.
	ShardSize    int
	MutationCost float64
	MaxEnergy    float64
	MaxWeight    float64

	// Checkpoint persistence. An empty path keeps checkpoints in memory; an
	// empty key generates a fresh one per process.
	CheckpointDB  string
	CheckpointKey []byte

	// Gateway settings. An empty HTTPAddr serves MCP over stdio.
	HTTPAddr            string
	RateLimitRPS        float64
	RateLimitBurst      int
	MaxRequestBodyBytes int64
	ShutdownTimeout     time.Duration

	// Sanitizer settings.
	SanitizerStrict bool
	SanitizerAllow  []string // sensitive terms that do not produce warnings

	// ExportDir confines lineage exports when set.
	ExportDir string

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not only the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	float := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		collect(err)
		return v
	}
	integer := func(key string, def int) int {
		v, err := envInt(key, def)
		collect(err)
		return v
	}
	boolean := func(key string, def bool) bool {
		v, err := envBool(key, def)
		collect(err)
		return v
	}
	duration := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		collect(err)
		return v
	}

	cfg := Config{
		DriftEpsilon:        float("KAIRO_DRIFT_EPSILON", 1e-10),
		CoherenceFloor:      float("KAIRO_COHERENCE_FLOOR", 0.97),
		CorrectionK:         float("KAIRO_CORRECTION_K", 0.8),
		ValidityFloor:       float("KAIRO_VALIDITY_FLOOR", 0.5),
		SemanticWeight:      float("KAIRO_SEMANTIC_WEIGHT", 0.6),
		ConfidenceWeight:    float("KAIRO_CONFIDENCE_WEIGHT", 0.4),
		ShardSize:           integer("KAIRO_SHARD_SIZE", 250),
		MutationCost:        float("KAIRO_MUTATION_COST", 0.05),
		MaxEnergy:           float("KAIRO_MAX_ENERGY", 1e4),
		MaxWeight:           float("KAIRO_MAX_WEIGHT", 1e6),
		CheckpointDB:        envStr("KAIRO_CHECKPOINT_DB", ""),
		HTTPAddr:            envStr("KAIRO_HTTP_ADDR", ""),
		RateLimitRPS:        float("KAIRO_RATE_LIMIT_RPS", 50),
		RateLimitBurst:      integer("KAIRO_RATE_LIMIT_BURST", 100),
		MaxRequestBodyBytes: int64(integer("KAIRO_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
		ShutdownTimeout:     duration("KAIRO_SHUTDOWN_TIMEOUT", 10*time.Second),
		SanitizerStrict:     boolean("KAIRO_SANITIZER_STRICT", false),
		SanitizerAllow:      envList("KAIRO_SANITIZER_ALLOW", []string{"energy", "coherence", "drift", "hash"}),
		ExportDir:           envStr("KAIRO_EXPORT_DIR", ""),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "kairo"),
		OTELInsecure:        boolean("KAIRO_OTEL_INSECURE", false),
		LogLevel:            envStr("KAIRO_LOG_LEVEL", "info"),
	}

	key, err := envHex("KAIRO_CHECKPOINT_KEY")
	collect(err)
	cfg.CheckpointKey = key

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	if c.DriftEpsilon <= 0 {
		return fmt.Errorf("config: KAIRO_DRIFT_EPSILON must be positive")
	}
	if c.CoherenceFloor < 0 || c.CoherenceFloor > 1 {
		return fmt.Errorf("config: KAIRO_COHERENCE_FLOOR must be within [0, 1]")
	}
	if c.CorrectionK <= 0 || c.CorrectionK > 1 {
		return fmt.Errorf("config: KAIRO_CORRECTION_K must be within (0, 1]")
	}
	if c.ValidityFloor < 0 || c.ValidityFloor > 1 {
		return fmt.Errorf("config: KAIRO_VALIDITY_FLOOR must be within [0, 1]")
	}
	if c.SemanticWeight < 0 || c.ConfidenceWeight < 0 {
		return fmt.Errorf("config: validity weights must be non-negative")
	}
	if c.ShardSize <= 0 {
		return fmt.Errorf("config: KAIRO_SHARD_SIZE must be positive")
	}
	if c.MutationCost < 0 {
		return fmt.Errorf("config: KAIRO_MUTATION_COST must be non-negative")
	}
	if c.MaxEnergy <= 0 || c.MaxWeight <= 0 {
		return fmt.Errorf("config: KAIRO_MAX_ENERGY and KAIRO_MAX_WEIGHT must be positive")
	}
	if n := len(c.CheckpointKey); n > 64 {
		return fmt.Errorf("config: KAIRO_CHECKPOINT_KEY must be at most 64 bytes, got %d", n)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("config: KAIRO_RATE_LIMIT_RPS and KAIRO_RATE_LIMIT_BURST must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: KAIRO_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

// envHex decodes a hex value. The value itself is never echoed in errors.
func envHex(key string) ([]byte, error) {
	v := os.Getenv(key)
	if v == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex", key)
	}
	return b, nil
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

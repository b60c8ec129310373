package reliability

import (
	"os"
	"strconv"
	"time"
)

// ReliabilityConfig holds configuration for reliability testing
type ReliabilityConfig struct {
	Level         string        // "basic" or "stress"
	Duration      time.Duration // Test duration for stress tests
	MaxGoroutines int           // Concurrent sessions for stress tests
	MaxDepth      int           // Deepest span nesting to build
	MaxSpans      int           // Spans per session for wide trees
}

// getReliabilityConfig reads configuration from environment variables
func getReliabilityConfig() ReliabilityConfig {
	config := ReliabilityConfig{
		Level:         getEnv("PROFZ_RELIABILITY_LEVEL", ""),
		Duration:      parseDuration(getEnv("PROFZ_RELIABILITY_DURATION", "30s")),
		MaxGoroutines: parseInt(getEnv("PROFZ_RELIABILITY_MAX_GOROUTINES", "100")),
		MaxDepth:      parseInt(getEnv("PROFZ_RELIABILITY_MAX_DEPTH", "2000")),
		MaxSpans:      parseInt(getEnv("PROFZ_RELIABILITY_MAX_SPANS", "50000")),
	}

	return config
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseInt parses integer from string with default fallback
func parseInt(s string) int {
	if value, err := strconv.Atoi(s); err == nil {
		return value
	}
	return 0
}

// parseDuration parses duration from string with default fallback
func parseDuration(s string) time.Duration {
	if duration, err := time.ParseDuration(s); err == nil {
		return duration
	}
	return 30 * time.Second
}

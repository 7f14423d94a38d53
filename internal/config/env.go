package config

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Env holds the environment toggles the core consumes. Prompt refinement
// settings gate the pre-processing stage; ToolResultLines is a UI concern
// passed through untouched.
type Env struct {
	AutoRefinePrompts   bool
	AutoRefineThreshold float64
	AutoRefineMinLength int
	ToolResultLines     int
}

// LoadEnv reads a .env file when present (never overriding real env vars),
// then parses the known variables with their defaults.
func LoadEnv() Env {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Debug("config.dotenv_skipped", "error", err)
	}
	return Env{
		AutoRefinePrompts:   envBool("AUTO_REFINE_PROMPTS", false),
		AutoRefineThreshold: envFloat("AUTO_REFINE_THRESHOLD", 0.7),
		AutoRefineMinLength: envInt("AUTO_REFINE_MIN_LENGTH", 20),
		ToolResultLines:     envInt("ARCHIFLOW_TOOL_RESULT_LINES", 0),
	}
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config.bad_env", "key", key, "value", v)
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("config.bad_env", "key", key, "value", v)
		return fallback
	}
	return parsed
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config.bad_env", "key", key, "value", v)
		return fallback
	}
	return parsed
}

package config

import (
	"log/slog"
	"os"
	"strconv"
)

// FillEnvVar returns the value of a runtime Environment Variable
func FillEnvVar(ev string) string {
	// If the EnvVar doesn't exist return a default string
	value := os.Getenv(ev)
	if value == "" {
		value = "ENOENT"
	}
	return value
}

// FillEnvVarInt reads an integer Environment Variable, keeping def
// when it is unset or not a number.
func FillEnvVarInt(ev string, def int) int {
	value := FillEnvVar(ev)
	if value == "ENOENT" {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("Ignoring non-integer environment value", slog.String("var", ev), slog.String("value", value))
		return def
	}
	return n
}

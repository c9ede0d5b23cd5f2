// Package config reads service configuration from environment variables.
// Malformed values fall back to the default with a warning rather than
// aborting startup.
package config

import (
	"log"
	"os"
	"strconv"
)

// GetString returns the value of key, or fallback when the variable is unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt returns key parsed as an integer, or fallback when unset or invalid.
func GetInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("invalid value for %s: %v", key, err)
		return fallback
	}
	return parsed
}

// GetBool returns key parsed as a boolean, or fallback when unset or invalid.
func GetBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("invalid value for %s: %v", key, err)
		return fallback
	}
	return parsed
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv reads key from the environment, falling back to def when the
// variable is unset or empty.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetIntEnv parses key as a base-10 integer. Unset, empty, or
// unparsable values fall back to def rather than failing startup.
func GetIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetDurationEnv parses key in time.ParseDuration syntax ("90s",
// "1m30s"). Unset or unparsable values fall back to def.
func GetDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// GetSecretFile loads a secret from disk, trimming the trailing
// newline that mounted secrets usually carry. A missing or unreadable
// file yields the empty string, so an absent secret reads the same as
// an unset variable.
func GetSecretFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

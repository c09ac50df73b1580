// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type envLookupFunc func(string) (string, bool)

func parseStringWithLookup(logger zerolog.Logger, lookup envLookupFunc, key, defaultValue string) string {
	v, ok := lookup(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Str("default", defaultValue).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	logger.Debug().Str("key", key).Str("value", v).Str("source", "environment").Msg("using environment variable")
	return v
}

func parseBoolWithLookup(logger zerolog.Logger, lookup envLookupFunc, key string, defaultValue bool) bool {
	v, ok := lookup(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Bool("default", defaultValue).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		logger.Warn().Str("key", key).Str("value", v).Bool("default", defaultValue).Msg("invalid boolean in environment variable, using default")
		return defaultValue
	}
}

func parseIntWithLookup(logger zerolog.Logger, lookup envLookupFunc, key string, defaultValue int) int {
	v, ok := lookup(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Int("default", defaultValue).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Int("default", defaultValue).Msg("invalid integer in environment variable, using default")
		return defaultValue
	}
	return i
}

func parseFloatWithLookup(logger zerolog.Logger, lookup envLookupFunc, key string, defaultValue float64) float64 {
	v, ok := lookup(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Float64("default", defaultValue).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Float64("default", defaultValue).Msg("invalid float in environment variable, using default")
		return defaultValue
	}
	return f
}

func parseDurationWithLookup(logger zerolog.Logger, lookup envLookupFunc, key string, defaultValue time.Duration) time.Duration {
	v, ok := lookup(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Dur("default", defaultValue).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Dur("default", defaultValue).Msg("invalid duration in environment variable, using default")
		return defaultValue
	}
	return d
}

func parseStringListWithLookup(logger zerolog.Logger, lookup envLookupFunc, key string, defaultValue []string) []string {
	v, ok := lookup(key)
	if !ok || v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	logger.Debug().Str("key", key).Strs("value", out).Str("source", "environment").Msg("using environment variable")
	return out
}

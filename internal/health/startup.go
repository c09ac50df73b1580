// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ManuGH/xg2g/internal/config"
	"github.com/ManuGH/xg2g/internal/log"
)

// PerformStartupChecks validates the environment and dependencies before starting the server.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}

	if err := checkTargetedValidations(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to ensure data directory %q: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("data directory is writable")
	return nil
}

// checkTargetedValidations performs runtime-critical checks that Validate
// cannot do on its own because they touch the filesystem or network.
func checkTargetedValidations(logger zerolog.Logger, cfg config.AppConfig) error {
	if cfg.HTTP.ListenAddr != "" {
		_, port, err := net.SplitHostPort(cfg.HTTP.ListenAddr)
		if err != nil {
			return fmt.Errorf("invalid HTTP listen address %q: %w", cfg.HTTP.ListenAddr, err)
		}
		portNum, err := strconv.Atoi(port)
		if err != nil || portNum < 0 || portNum > 65535 {
			return fmt.Errorf("invalid HTTP listen port %q in %q", port, cfg.HTTP.ListenAddr)
		}
		logger.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("HTTP listen address is valid")
	}

	if cfg.HTTP.TLSCert != "" || cfg.HTTP.TLSKey != "" {
		if cfg.HTTP.TLSCert == "" || cfg.HTTP.TLSKey == "" {
			return fmt.Errorf("TLS configuration requires both cert and key to be set")
		}
		if err := checkFileReadable(cfg.HTTP.TLSCert); err != nil {
			return fmt.Errorf("TLS cert error: %w", err)
		}
		if err := checkFileReadable(cfg.HTTP.TLSKey); err != nil {
			return fmt.Errorf("TLS key error: %w", err)
		}
		logger.Info().Msg("TLS configuration is valid")
	}

	if cfg.Store.PresenceBackend == "badger" {
		if err := os.MkdirAll(cfg.Store.BadgerPath, 0750); err != nil {
			return fmt.Errorf("failed to ensure badger path %q: %w", cfg.Store.BadgerPath, err)
		}
		logger.Info().Str("path", cfg.Store.BadgerPath).Msg("badger presence store path is ready")
	}

	if cfg.Store.UsageBackend == "redis" && cfg.Store.RedisAddr == "" {
		return fmt.Errorf("store.redis_addr is required when usage backend is redis")
	}

	if cfg.Store.UsageBackend == "memory" {
		logger.Warn().Msg("usage counters are in-memory; they reset across restarts")
	}
	if cfg.Store.PresenceBackend == "memory" {
		logger.Warn().Msg("presence state is in-memory; it resets across restarts")
	}

	return nil
}

func checkFileReadable(path string) error {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator config; verifying readability is expected
	if err != nil {
		return err
	}
	return f.Close()
}

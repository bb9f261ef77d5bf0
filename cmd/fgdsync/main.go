// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command fgdsync starts the Fabric GitOps Directory sync HTTP server.
//
// This is the main entry point for the containerized sync service. It reads
// configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - FGD_PORT: HTTP server port (default: 8480)
//   - FGD_GITOPS_ROOT: directory holding one subtree per fabric (required)
//   - FGD_DB_PATH: state database path (default: <root>/.fgd-state)
//   - FGD_GITHUB_REPO: remote repository as owner/name (optional)
//   - FGD_GITHUB_TOKEN: GitHub API token
//   - FGD_GITHUB_BRANCH: remote branch (default: main)
//   - FGD_SYNC_TIMEOUT: per-sync deadline (default: 10m)
//   - FGD_MAX_CONCURRENT_SYNCS: parallel sync ceiling (default: 4)
//   - FGD_RETRY_MAX_ATTEMPTS: transient-failure attempt ceiling (default: 3)
//   - FGD_RETRY_INITIAL_DELAY: first backoff delay (default: 2s)
//   - FGD_RETRY_FACTOR: backoff multiplier (default: 2.0)
//   - FGD_RETRY_MAX_DELAY: backoff delay cap (default: 60s)
//   - FGD_AUTO_REPAIR: repair directory issues during validation (default: false)
//   - FGD_WORKER_POOL_SIZE: ingestion worker count (default: 4)
//   - FGD_MAX_FILE_SIZE: raw file ceiling in bytes (default: 1048576)
//   - FGD_SUPPORTED_KINDS: comma-separated resource kind allowlist (optional)
//   - FGD_LOCK_TIMEOUT: fabric lock acquire deadline (default: 30s)
//   - FGD_BREAKER_FAILURE_THRESHOLD: breaker trip threshold (default: 5)
//   - FGD_BREAKER_RESET_TIMEOUT: breaker probe delay (default: 30s)
//   - FGD_AUTH_TOKEN: static bearer token for /v1 routes (optional)
//   - FGD_LOG_LEVEL: minimum log level - debug, info, warn, error (default: info)
//   - FGD_LOG_DIR: directory for daily JSON log files (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (optional)
//
// # Usage
//
//	# Build
//	go build -o fgdsync ./cmd/fgdsync
//
//	# Run
//	FGD_GITOPS_ROOT=/var/lib/fgd/gitops ./fgdsync
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/afewell-hh/fgd-sync/pkg/logging"
	"github.com/afewell-hh/fgd-sync/services/fgd"
)

func main() {
	// Setup structured logging
	level, err := logging.ParseLevel(os.Getenv("FGD_LOG_LEVEL"))
	if err != nil {
		log.Printf("Invalid FGD_LOG_LEVEL, using info: %v", err)
	}
	logger := logging.New(logging.Config{
		Level:  level,
		LogDir: os.Getenv("FGD_LOG_DIR"),
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// Build configuration from environment variables
	cfg := fgd.Config{
		Port:                    getEnvInt("FGD_PORT", 8480),
		GitOpsRoot:              os.Getenv("FGD_GITOPS_ROOT"),
		DBPath:                  os.Getenv("FGD_DB_PATH"),
		GitHubToken:             os.Getenv("FGD_GITHUB_TOKEN"),
		GitHubRepo:              os.Getenv("FGD_GITHUB_REPO"),
		GitHubBranch:            getEnvString("FGD_GITHUB_BRANCH", "main"),
		SyncTimeout:             getEnvDuration("FGD_SYNC_TIMEOUT", 10*time.Minute),
		MaxConcurrentSyncs:      getEnvInt("FGD_MAX_CONCURRENT_SYNCS", 4),
		RetryMaxAttempts:        getEnvInt("FGD_RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay:       getEnvDuration("FGD_RETRY_INITIAL_DELAY", 2*time.Second),
		RetryFactor:             getEnvFloat("FGD_RETRY_FACTOR", 2.0),
		RetryMaxDelay:           getEnvDuration("FGD_RETRY_MAX_DELAY", 60*time.Second),
		AutoRepair:              getEnvBool("FGD_AUTO_REPAIR", false),
		WorkerPoolSize:          getEnvInt("FGD_WORKER_POOL_SIZE", 4),
		MaxFileSize:             int64(getEnvInt("FGD_MAX_FILE_SIZE", 1<<20)),
		SupportedKinds:          getEnvList("FGD_SUPPORTED_KINDS"),
		LockTimeout:             getEnvDuration("FGD_LOCK_TIMEOUT", 30*time.Second),
		BreakerFailureThreshold: getEnvInt("FGD_BREAKER_FAILURE_THRESHOLD", 5),
		BreakerResetTimeout:     getEnvDuration("FGD_BREAKER_RESET_TIMEOUT", 30*time.Second),
		OTelEndpoint:            os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AuthToken:               os.Getenv("FGD_AUTH_TOKEN"),
	}

	slog.Info("Starting fgd-sync",
		"port", cfg.Port,
		"gitops_root", cfg.GitOpsRoot,
		"github_repo", cfg.GitHubRepo,
		"auto_repair", cfg.AutoRepair,
	)

	svc, err := fgd.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create sync service: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Sync service error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as time.Duration or a
// default. Accepts Go duration syntax such as "90s" or "10m".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable into trimmed
// non-empty entries. Returns nil when unset.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

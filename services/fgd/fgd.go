// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fgd assembles the Fabric GitOps Directory sync service.
//
// # Description
//
// This package wires every component of the service together: the durable
// state store, the per-fabric lock manager, the directory manager, the
// ingestion pipeline, the GitHub client, the event bus with its metrics
// collector, the sync orchestrator, and the HTTP API. It owns component
// lifecycle: New() builds everything, Run() serves until shutdown, and
// cleanup tears the stack down in reverse order.
//
// # Usage
//
//	cfg := fgd.Config{Port: 8480, GitOpsRoot: "/var/lib/fgd/gitops"}
//	svc, err := fgd.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package fgd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/afewell-hh/fgd-sync/services/fgd/bus"
	"github.com/afewell-hh/fgd-sync/services/fgd/directory"
	"github.com/afewell-hh/fgd-sync/services/fgd/gitremote"
	"github.com/afewell-hh/fgd-sync/services/fgd/ingest"
	"github.com/afewell-hh/fgd-sync/services/fgd/lock"
	"github.com/afewell-hh/fgd-sync/services/fgd/observability"
	"github.com/afewell-hh/fgd-sync/services/fgd/orchestrator"
	"github.com/afewell-hh/fgd-sync/services/fgd/routes"
	"github.com/afewell-hh/fgd-sync/services/fgd/state"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the sync service lifecycle contract.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds service configuration. All fields except GitOpsRoot have
// defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 8480.
	Port int

	// GitOpsRoot is the directory holding one subtree per fabric. Required.
	GitOpsRoot string

	// DBPath is the BadgerDB directory for durable sync state.
	// Default: <GitOpsRoot>/.fgd-state.
	DBPath string

	// GitHubToken, GitHubRepo ("owner/name"), and GitHubBranch configure
	// the remote repository. An empty repo disables remote sync.
	GitHubToken  string
	GitHubRepo   string
	GitHubBranch string

	// SyncTimeout bounds one sync operation. Default: 10m.
	SyncTimeout time.Duration

	// MaxConcurrentSyncs bounds parallel fabric syncs. Default: 4.
	MaxConcurrentSyncs int

	// RetryMaxAttempts, RetryInitialDelay, RetryFactor, RetryMaxDelay
	// tune transient-failure backoff. Defaults: 3, 2s, 2.0, 60s.
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryFactor       float64
	RetryMaxDelay     time.Duration

	// AutoRepair lets the VALIDATING stage fix auto-repairable issues.
	AutoRepair bool

	// WorkerPoolSize bounds ingestion parallelism. Default: 4.
	WorkerPoolSize int

	// MaxFileSize is the raw-file ceiling in bytes. Default: 1 MiB.
	MaxFileSize int64

	// SupportedKinds is the resource-kind allowlist. Empty uses the
	// built-in fabric resource kinds.
	SupportedKinds []string

	// LockTimeout bounds fabric-lock acquisition. Default: 30s.
	LockTimeout time.Duration

	// BreakerFailureThreshold and BreakerResetTimeout tune the remote
	// circuit breaker. Defaults: 5, 30s.
	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration

	// OTelEndpoint is the OpenTelemetry collector endpoint. Empty
	// disables tracing export.
	OTelEndpoint string

	// AuthToken is the static bearer token for /v1 routes. Empty
	// disables authentication.
	AuthToken string

	// GinMode sets the Gin framework mode. Default: release.
	GinMode string
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8480
	}
	if cfg.DBPath == "" && cfg.GitOpsRoot != "" {
		cfg.DBPath = cfg.GitOpsRoot + "/.fgd-state"
	}
	if cfg.GitHubBranch == "" {
		cfg.GitHubBranch = "main"
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
type service struct {
	config Config
	router *gin.Engine

	store         *state.Store
	locks         *lock.Manager
	orch          *orchestrator.Orchestrator
	tracerCleanup func(context.Context)
}

var _ Service = (*service)(nil)

// New builds a ready-to-run service: store, locks, directory manager,
// pipeline, remote client, event bus, metrics, orchestrator, and routes.
func New(cfg Config) (Service, error) {
	cfg = applyConfigDefaults(cfg)
	if cfg.GitOpsRoot == "" {
		return nil, fmt.Errorf("gitops root is required")
	}

	s := &service{config: cfg}

	if cfg.OTelEndpoint != "" {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	dirs, err := directory.NewManager(cfg.GitOpsRoot)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open gitops root: %w", err)
	}

	s.store, err = state.OpenStore(state.DefaultStoreConfig(cfg.DBPath))
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	s.locks, err = lock.NewManager(lock.ManagerConfig{
		GitOpsRoot:     cfg.GitOpsRoot,
		AcquireTimeout: cfg.LockTimeout,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create lock manager: %w", err)
	}

	events := bus.New(nil)
	metrics := observability.NewSyncMetrics(prometheus.DefaultRegisterer)
	metrics.Observe(events)

	ingestCfg := ingest.DefaultConfig()
	if len(cfg.SupportedKinds) > 0 {
		ingestCfg.SupportedKinds = cfg.SupportedKinds
	}
	if cfg.MaxFileSize > 0 {
		ingestCfg.MaxFileSize = cfg.MaxFileSize
	}
	if cfg.WorkerPoolSize > 0 {
		ingestCfg.Workers = cfg.WorkerPoolSize
	}
	pipeline := ingest.NewPipeline(dirs, events, ingestCfg)

	var remote gitremote.Client
	if cfg.GitHubRepo != "" {
		remote, err = gitremote.NewGitHubClient(gitremote.Config{
			Token:  cfg.GitHubToken,
			Repo:   cfg.GitHubRepo,
			Branch: cfg.GitHubBranch,
		})
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to create GitHub client: %w", err)
		}
	} else {
		slog.Info("No GitHub repository configured, remote sync disabled")
	}

	s.orch = orchestrator.New(orchestrator.Config{
		SyncTimeout:        cfg.SyncTimeout,
		MaxConcurrentSyncs: cfg.MaxConcurrentSyncs,
		AutoRepair:         cfg.AutoRepair,
		Backoff: orchestrator.BackoffPolicy{
			InitialDelay: cfg.RetryInitialDelay,
			Factor:       cfg.RetryFactor,
			MaxDelay:     cfg.RetryMaxDelay,
			MaxAttempts:  cfg.RetryMaxAttempts,
		},
		Breaker: orchestrator.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			ResetTimeout:     cfg.BreakerResetTimeout,
		},
	}, state.NewManager(s.store), s.locks, dirs, pipeline, remote, events, nil)

	gin.SetMode(cfg.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	routes.SetupRoutes(s.router, routes.Deps{
		Orchestrator: s.orch,
		Directories:  dirs,
		Locks:        s.locks,
		Store:        s.store,
		GitOpsRoot:   cfg.GitOpsRoot,
		AuthToken:    cfg.AuthToken,
	})

	return s, nil
}

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting fgd-sync server",
		"port", s.config.Port,
		"gitops_root", s.config.GitOpsRoot,
		"remote_enabled", s.config.GitHubRepo != "")

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// cleanup tears components down in reverse construction order.
func (s *service) cleanup() {
	if s.locks != nil {
		if err := s.locks.Close(); err != nil {
			slog.Error("Failed to close lock manager", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Error("Failed to close state store", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// initTracer sets up the OTLP trace exporter.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("fgd-sync")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}
	return cleanup, nil
}

// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the HTTP API.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/afewell-hh/fgd-sync/services/fgd/directory"
	"github.com/afewell-hh/fgd-sync/services/fgd/handlers"
	"github.com/afewell-hh/fgd-sync/services/fgd/lock"
	"github.com/afewell-hh/fgd-sync/services/fgd/middleware"
	"github.com/afewell-hh/fgd-sync/services/fgd/orchestrator"
	"github.com/afewell-hh/fgd-sync/services/fgd/state"
)

// Deps carries everything the route table needs.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Directories  *directory.Manager
	Locks        *lock.Manager
	Store        *state.Store
	GitOpsRoot   string
	AuthToken    string
}

// SetupRoutes registers all endpoints on the router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.Use(otelgin.Middleware("fgd-sync"))
	router.Use(middleware.CorrelationMiddleware())

	router.GET("/health", handlers.HealthCheck(deps.Store, deps.GitOpsRoot, deps.Orchestrator))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(deps.AuthToken))
	{
		v1.GET("/syncs", handlers.ListSyncs(deps.Orchestrator))
		v1.GET("/syncs/:syncId", handlers.GetSync(deps.Orchestrator))
		v1.DELETE("/syncs/:syncId", handlers.CancelSync(deps.Orchestrator))

		v1.POST("/webhooks/github", handlers.GitHubWebhook(deps.Orchestrator))

		fabrics := v1.Group("/fabrics/:fabricId")
		{
			fabrics.POST("/syncs", handlers.StartSync(deps.Orchestrator))
			fabrics.GET("/history", handlers.GetHistory(deps.Orchestrator))
			fabrics.GET("/structure", handlers.ValidateStructure(deps.Directories))
			fabrics.POST("/structure", handlers.InitializeStructure(deps.Directories, deps.Locks))
			fabrics.POST("/structure/repair", handlers.RepairStructure(deps.Directories, deps.Locks))
		}
	}
}

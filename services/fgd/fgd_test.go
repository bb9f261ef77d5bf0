// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fgd

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestApplyConfigDefaults(t *testing.T) {
	cfg := applyConfigDefaults(Config{GitOpsRoot: "/data/gitops"})

	if cfg.Port != 8480 {
		t.Errorf("Port = %d, want 8480", cfg.Port)
	}
	if cfg.DBPath != "/data/gitops/.fgd-state" {
		t.Errorf("DBPath = %q, want gitops-relative default", cfg.DBPath)
	}
	if cfg.GitHubBranch != "main" {
		t.Errorf("GitHubBranch = %q, want main", cfg.GitHubBranch)
	}
	if cfg.GinMode != gin.ReleaseMode {
		t.Errorf("GinMode = %q, want release", cfg.GinMode)
	}
}

func TestApplyConfigDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := applyConfigDefaults(Config{
		Port:         9000,
		GitOpsRoot:   "/data/gitops",
		DBPath:       "/var/lib/fgd/state",
		GitHubBranch: "release",
	})

	if cfg.Port != 9000 || cfg.DBPath != "/var/lib/fgd/state" || cfg.GitHubBranch != "release" {
		t.Errorf("explicit values were overridden: %+v", cfg)
	}
}

func TestNew_RequiresGitOpsRoot(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New without GitOpsRoot should fail")
	}
}

// TestNew_WiresFullService builds the service once against a temp root and
// exercises the router. A single New call keeps Prometheus registration on
// the default registerer from colliding.
func TestNew_WiresFullService(t *testing.T) {
	root := t.TempDir()

	svc, err := New(Config{
		GitOpsRoot:  root,
		GinMode:     gin.TestMode,
		SyncTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	router := svc.Router()
	if router == nil {
		t.Fatal("Router() returned nil")
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/syncs", nil))
	if w.Code != http.StatusOK {
		t.Errorf("GET /v1/syncs = %d, want 200; body: %s", w.Code, w.Body.String())
	}
}

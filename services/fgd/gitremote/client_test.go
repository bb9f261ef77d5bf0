// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gitremote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
)

func newTestClient(t *testing.T, handler http.Handler) *GitHubClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewGitHubClient(Config{
		BaseURL:           srv.URL,
		Token:             "test-token",
		Repo:              "hedgehog/fabric-gitops",
		Branch:            "main",
		RequestsPerSecond: 1000,
	})
	if err != nil {
		t.Fatalf("NewGitHubClient: %v", err)
	}
	return c
}

func TestNewGitHubClient_RejectsBadSlug(t *testing.T) {
	if _, err := NewGitHubClient(Config{Repo: "no-owner"}); err == nil {
		t.Fatal("expected an error for a slug without owner/name")
	}
}

func TestTestConnection(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/hedgehog/fabric-gitops" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"full_name":"hedgehog/fabric-gitops"}`))
	}))

	if err := c.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		headers   map[string]string
		wantCode  datatypes.ErrorCode
		transient bool
	}{
		{"unauthorized", http.StatusUnauthorized, nil, datatypes.CodeRemoteAuth, false},
		{"forbidden", http.StatusForbidden, nil, datatypes.CodeRemoteAuth, false},
		{"quota exhausted", http.StatusForbidden,
			map[string]string{"X-RateLimit-Remaining": "0"}, datatypes.CodeRemoteRateLimit, true},
		{"too many requests", http.StatusTooManyRequests, nil, datatypes.CodeRemoteRateLimit, true},
		{"not found", http.StatusNotFound, nil, datatypes.CodeRemoteNotFound, false},
		{"server error", http.StatusBadGateway, nil, datatypes.CodeRemoteConnection, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"message":"nope"}`))
			}))

			err := c.TestConnection(context.Background())
			if err == nil {
				t.Fatal("expected an error")
			}
			if code := datatypes.CodeOf(err); code != tt.wantCode {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
			if got := datatypes.IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
		})
	}
}

func TestGetFiles_Directory(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ref := r.URL.Query().Get("ref"); ref != "main" {
			t.Errorf("ref = %q, want main", ref)
		}
		w.Write([]byte(`[
			{"name":"vpc-1.yaml","path":"managed/VPC/vpc-1.yaml","sha":"abc","size":120,"type":"file"},
			{"name":"sub","path":"managed/VPC/sub","sha":"def","type":"dir"}
		]`))
	}))

	files, err := c.GetFiles(context.Background(), "managed/VPC", "")
	if err != nil {
		t.Fatalf("GetFiles: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected directories filtered out, got %d entries", len(files))
	}
	if files[0].Path != "managed/VPC/vpc-1.yaml" || files[0].SHA != "abc" {
		t.Errorf("unexpected entry %+v", files[0])
	}
}

func TestGetFiles_SingleFileContent(t *testing.T) {
	content := base64.StdEncoding.EncodeToString([]byte("kind: VPC\n"))
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(contentsEntry{
			Name: "vpc-1.yaml", Path: "managed/VPC/vpc-1.yaml",
			SHA: "abc", Size: 10, Type: "file", Content: content,
		})
	}))

	files, err := c.GetFiles(context.Background(), "managed/VPC/vpc-1.yaml", "main")
	if err != nil {
		t.Fatalf("GetFiles: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	if string(files[0].Content) != "kind: VPC\n" {
		t.Errorf("content = %q, want decoded YAML", files[0].Content)
	}
}

func TestCreateOrUpdateFile_New(t *testing.T) {
	var putBody map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			// File does not exist yet.
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Not Found"}`))
		case http.MethodPut:
			json.NewDecoder(r.Body).Decode(&putBody)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{}`))
		}
	}))

	err := c.CreateOrUpdateFile(context.Background(),
		"managed/VPC/vpc-1.yaml", []byte("kind: VPC\n"), "sync vpc-1")
	if err != nil {
		t.Fatalf("CreateOrUpdateFile: %v", err)
	}

	if putBody["message"] != "sync vpc-1" || putBody["branch"] != "main" {
		t.Errorf("unexpected PUT body %+v", putBody)
	}
	if _, hasSHA := putBody["sha"]; hasSHA {
		t.Error("create should not carry a sha")
	}
	decoded, _ := base64.StdEncoding.DecodeString(putBody["content"].(string))
	if string(decoded) != "kind: VPC\n" {
		t.Errorf("content round-trip = %q", decoded)
	}
}

func TestCreateOrUpdateFile_ExistingCarriesSHA(t *testing.T) {
	var putBody map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(contentsEntry{
				Path: "managed/VPC/vpc-1.yaml", SHA: "oldsha", Type: "file",
			})
		case http.MethodPut:
			json.NewDecoder(r.Body).Decode(&putBody)
			w.Write([]byte(`{}`))
		}
	}))

	err := c.CreateOrUpdateFile(context.Background(),
		"managed/VPC/vpc-1.yaml", []byte("kind: VPC\n"), "update vpc-1")
	if err != nil {
		t.Fatalf("CreateOrUpdateFile: %v", err)
	}
	if putBody["sha"] != "oldsha" {
		t.Errorf("sha = %v, want oldsha", putBody["sha"])
	}
}

func TestDetectChanges(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/hedgehog/fabric-gitops/compare/abc123...main" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"base_commit": {"sha": "abc123"},
			"commits": [{"sha": "def456"}, {"sha": "head789"}],
			"files": [
				{"filename": "managed/VPC/vpc-1.yaml", "status": "added"},
				{"filename": "managed/VPC/vpc-2.yaml", "status": "modified"},
				{"filename": "managed/Switch/leaf-1.yaml", "status": "renamed"},
				{"filename": "raw/old.yaml", "status": "removed"}
			]
		}`))
	}))

	set, err := c.DetectChanges(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("DetectChanges: %v", err)
	}

	if set.HeadCommit != "head789" {
		t.Errorf("HeadCommit = %s, want head789", set.HeadCommit)
	}
	if len(set.Added) != 1 || set.Added[0] != "managed/VPC/vpc-1.yaml" {
		t.Errorf("Added = %v", set.Added)
	}
	if len(set.Modified) != 2 {
		t.Errorf("Modified = %v, want modified+renamed", set.Modified)
	}
	if len(set.Removed) != 1 || set.Removed[0] != "raw/old.yaml" {
		t.Errorf("Removed = %v", set.Removed)
	}
	if set.Empty() {
		t.Error("ChangeSet should not be empty")
	}
}

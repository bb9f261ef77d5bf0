// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gitremote implements the GitHub synchronization client.
//
// # Description
//
// The client speaks the GitHub REST v3 contents and compare APIs to push
// managed files to the remote repository and to detect remote drift. All
// requests are paced through a token-bucket rate limiter so a large sync
// cannot burn the API quota, and every failure is classified into the
// FGD-4xxx remote error codes so the retry policy can tell transient
// conditions (connection failures, rate limiting) from terminal ones
// (bad credentials, missing repository).
package gitremote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
)

var tracer = otel.Tracer("fgd.gitremote")

// =============================================================================
// Types
// =============================================================================

// RemoteFile is one file returned by the contents API.
type RemoteFile struct {
	Path    string
	SHA     string
	Size    int64
	Content []byte
}

// ChangeSet lists remote paths that changed since a given commit.
type ChangeSet struct {
	BaseCommit string
	HeadCommit string
	Added      []string
	Modified   []string
	Removed    []string
}

// Empty reports whether the remote moved at all.
func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

// Client is the remote-repository surface the orchestrator syncs through.
type Client interface {
	TestConnection(ctx context.Context) error
	GetFiles(ctx context.Context, path, branch string) ([]RemoteFile, error)
	CreateOrUpdateFile(ctx context.Context, path string, content []byte, message string) error
	DetectChanges(ctx context.Context, sinceCommit string) (ChangeSet, error)
}

// =============================================================================
// GitHub Client
// =============================================================================

// Config holds the GitHub connection settings.
type Config struct {
	// BaseURL is the API root. Default: https://api.github.com. Override
	// for GitHub Enterprise or tests.
	BaseURL string

	// Token is the bearer token. Required for writes.
	Token string

	// Repo is the "owner/name" slug.
	Repo string

	// Branch is the branch synced to. Default: main.
	Branch string

	// RequestsPerSecond paces API calls. Default: 3 (well under the
	// 5000/hour authenticated quota even with bursts).
	RequestsPerSecond float64

	// Timeout bounds each HTTP request. Default: 30s.
	Timeout time.Duration
}

// GitHubClient implements Client over the GitHub REST v3 API.
//
// # Thread Safety
//
// Safe for concurrent use. The shared rate limiter serializes quota
// consumption across fabrics.
type GitHubClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	token      string
	repo       string
	branch     string
}

var _ Client = (*GitHubClient)(nil)

// NewGitHubClient creates a client for one repository.
func NewGitHubClient(config Config) (*GitHubClient, error) {
	if config.Repo == "" || !strings.Contains(config.Repo, "/") {
		return nil, datatypes.NewError(datatypes.CodeRemoteConnection,
			"repository must be an owner/name slug, got "+fmt.Sprintf("%q", config.Repo))
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.github.com"
	}
	if config.Branch == "" {
		config.Branch = "main"
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	slog.Info("Initializing GitHub client",
		"repo", config.Repo, "branch", config.Branch, "base_url", config.BaseURL)

	return &GitHubClient{
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 5),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		token:      config.Token,
		repo:       config.Repo,
		branch:     config.Branch,
	}, nil
}

// =============================================================================
// Request Plumbing
// =============================================================================

// doJSON performs one paced API call and decodes a JSON response into out.
// A nil out discards the body.
func (c *GitHubClient) doJSON(ctx context.Context, method, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return datatypes.WrapError(datatypes.CodeSyncCancelled, "rate limiter wait", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return datatypes.WrapError(datatypes.CodeInternal, "marshal request body", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return datatypes.WrapError(datatypes.CodeInternal, "build request", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return datatypes.WrapError(datatypes.CodeRemoteConnection,
			method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return classifyResponse(resp, method+" "+path)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return datatypes.WrapError(datatypes.CodeRemoteConnection,
			"decode response for "+path, err)
	}
	return nil
}

// classifyResponse maps a GitHub error status to an FGD-4xxx code.
//
// 401 and non-quota 403 are terminal auth failures. 403 with an exhausted
// quota header and 429 are rate limiting, which retries. 404 is terminal.
// 5xx counts as a connection-class failure and retries.
func classifyResponse(resp *http.Response, op string) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("%s: %s: %s", op, resp.Status, strings.TrimSpace(string(detail)))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return datatypes.NewError(datatypes.CodeRemoteAuth, msg)
	case resp.StatusCode == http.StatusForbidden:
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return datatypes.NewError(datatypes.CodeRemoteRateLimit, msg)
		}
		return datatypes.NewError(datatypes.CodeRemoteAuth, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		return datatypes.NewError(datatypes.CodeRemoteRateLimit, msg)
	case resp.StatusCode == http.StatusNotFound:
		return datatypes.NewError(datatypes.CodeRemoteNotFound, msg)
	case resp.StatusCode >= 500:
		return datatypes.NewError(datatypes.CodeRemoteConnection, msg)
	default:
		return datatypes.NewError(datatypes.CodeRemoteConnection, msg)
	}
}

// =============================================================================
// Operations
// =============================================================================

// TestConnection verifies the repository exists and the token can see it.
func (c *GitHubClient) TestConnection(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "GitHubClient.TestConnection")
	defer span.End()
	span.SetAttributes(attribute.String("git.repo", c.repo))

	return c.doJSON(ctx, http.MethodGet, "/repos/"+c.repo, nil, nil)
}

// contentsEntry is the contents-API shape for both files and listings.
type contentsEntry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	SHA     string `json:"sha"`
	Size    int64  `json:"size"`
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// GetFiles fetches the files under path on branch. A file path returns a
// single-element slice with content populated; a directory path returns
// its immediate file children without content.
func (c *GitHubClient) GetFiles(ctx context.Context, path, branch string) ([]RemoteFile, error) {
	ctx, span := tracer.Start(ctx, "GitHubClient.GetFiles")
	defer span.End()
	span.SetAttributes(attribute.String("git.path", path))

	if branch == "" {
		branch = c.branch
	}
	endpoint := "/repos/" + c.repo + "/contents/" + strings.TrimPrefix(path, "/") +
		"?ref=" + url.QueryEscape(branch)

	// The contents API returns an object for a file and an array for a
	// directory; decode into RawMessage and disambiguate.
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
		return nil, err
	}

	var entries []contentsEntry
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, datatypes.WrapError(datatypes.CodeRemoteConnection,
				"decode directory listing", err)
		}
	} else {
		var one contentsEntry
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, datatypes.WrapError(datatypes.CodeRemoteConnection,
				"decode file entry", err)
		}
		entries = []contentsEntry{one}
	}

	files := make([]RemoteFile, 0, len(entries))
	for _, e := range entries {
		if e.Type != "file" && e.Type != "" {
			continue
		}
		f := RemoteFile{Path: e.Path, SHA: e.SHA, Size: e.Size}
		if e.Content != "" {
			decoded, err := base64.StdEncoding.DecodeString(
				strings.ReplaceAll(e.Content, "\n", ""))
			if err != nil {
				return nil, datatypes.WrapError(datatypes.CodeRemoteConnection,
					"decode content of "+e.Path, err)
			}
			f.Content = decoded
		}
		files = append(files, f)
	}
	return files, nil
}

// fileSHA returns the blob SHA of path on the sync branch, or "" when the
// file does not exist yet.
func (c *GitHubClient) fileSHA(ctx context.Context, path string) (string, error) {
	files, err := c.GetFiles(ctx, path, c.branch)
	if err != nil {
		if datatypes.CodeOf(err) == datatypes.CodeRemoteNotFound {
			return "", nil
		}
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}
	return files[0].SHA, nil
}

// CreateOrUpdateFile writes content to path on the sync branch. Updates
// fetch the current blob SHA first, as the contents API requires.
func (c *GitHubClient) CreateOrUpdateFile(ctx context.Context, path string, content []byte, message string) error {
	ctx, span := tracer.Start(ctx, "GitHubClient.CreateOrUpdateFile")
	defer span.End()
	span.SetAttributes(attribute.String("git.path", path))

	sha, err := c.fileSHA(ctx, path)
	if err != nil {
		return err
	}

	body := struct {
		Message string `json:"message"`
		Content string `json:"content"`
		Branch  string `json:"branch"`
		SHA     string `json:"sha,omitempty"`
	}{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  c.branch,
		SHA:     sha,
	}

	endpoint := "/repos/" + c.repo + "/contents/" + strings.TrimPrefix(path, "/")
	return c.doJSON(ctx, http.MethodPut, endpoint, body, nil)
}

// compareResponse is the compare-API shape, reduced to what DetectChanges
// needs.
type compareResponse struct {
	BaseCommit struct {
		SHA string `json:"sha"`
	} `json:"base_commit"`
	Commits []struct {
		SHA string `json:"sha"`
	} `json:"commits"`
	Files []struct {
		Filename string `json:"filename"`
		Status   string `json:"status"`
	} `json:"files"`
}

// DetectChanges compares sinceCommit against the head of the sync branch
// and buckets the changed paths.
func (c *GitHubClient) DetectChanges(ctx context.Context, sinceCommit string) (ChangeSet, error) {
	ctx, span := tracer.Start(ctx, "GitHubClient.DetectChanges")
	defer span.End()
	span.SetAttributes(attribute.String("git.since", sinceCommit))

	endpoint := "/repos/" + c.repo + "/compare/" +
		url.PathEscape(sinceCommit) + "..." + url.PathEscape(c.branch)

	var resp compareResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return ChangeSet{}, err
	}

	set := ChangeSet{BaseCommit: resp.BaseCommit.SHA}
	if n := len(resp.Commits); n > 0 {
		set.HeadCommit = resp.Commits[n-1].SHA
	}
	for _, f := range resp.Files {
		switch f.Status {
		case "added":
			set.Added = append(set.Added, f.Filename)
		case "removed":
			set.Removed = append(set.Removed, f.Filename)
		default:
			// renamed, changed, and copied all count as modifications.
			set.Modified = append(set.Modified, f.Filename)
		}
	}
	return set, nil
}

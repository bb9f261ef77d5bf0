// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ingest converts raw multi-document YAML files into validated,
// normalized per-resource files.
//
// # Description
//
// The pipeline discovers eligible files under a fabric's raw/ directory,
// parses every YAML document in each file, validates required fields
// (apiVersion, kind, metadata.name) and the supported-kind allowlist, and
// writes each valid document to managed/<kind>/<name>.yaml. Consumed raw
// files are moved into the fabric archive and recorded in the archive log.
//
// Partial success is explicit policy: a multi-document file with one bad
// document still gets its valid documents written; the bad document is
// recorded as a per-document error. A whole file is only rejected outright
// when it cannot be read, exceeds the size ceiling, or contains no valid
// document.
//
// # Concurrency
//
// ProcessBatch runs files through a bounded worker pool (errgroup with
// SetLimit). Files may complete out of order, but the batch as a whole
// finishes before the stage is considered done. Cancellation is observed
// at per-file checkpoints.
package ingest

import (
	"context"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/afewell-hh/fgd-sync/pkg/validation"
	"github.com/afewell-hh/fgd-sync/services/fgd/bus"
	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
	"github.com/afewell-hh/fgd-sync/services/fgd/directory"
)

// =============================================================================
// Configuration
// =============================================================================

// Config controls ingestion behavior.
type Config struct {
	// SupportedKinds is the resource-kind allowlist. Kinds are matched
	// case-sensitively, as Kubernetes kinds are.
	SupportedKinds []string

	// MaxFileSize is the raw-file size ceiling in bytes. Oversized files
	// are rejected outright with CodeFileTooLarge, never partially parsed.
	// Default: 1 MiB.
	MaxFileSize int64

	// Workers bounds ProcessBatch parallelism. Default: 4.
	Workers int
}

// DefaultConfig returns the production ingestion defaults.
func DefaultConfig() Config {
	return Config{
		SupportedKinds: []string{"VPC", "VPCAttachment", "VPCPeering", "Connection", "Switch", "Server"},
		MaxFileSize:    1 << 20,
		Workers:        4,
	}
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline ingests raw YAML files for one GitOps root.
//
// # Thread Safety
//
// Safe for concurrent use across fabrics. Concurrent ingestion within one
// fabric is prevented by the fabric lock, which callers hold around
// ProcessBatch.
type Pipeline struct {
	dirs   *directory.Manager
	events *bus.Bus
	config Config

	mu         sync.Mutex
	inProgress map[string]bool
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(dirs *directory.Manager, events *bus.Bus, config Config) *Pipeline {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = 1 << 20
	}
	return &Pipeline{
		dirs:       dirs,
		events:     events,
		config:     config,
		inProgress: make(map[string]bool),
	}
}

// supportedKind checks the allowlist.
func (p *Pipeline) supportedKind(kind string) bool {
	for _, k := range p.config.SupportedKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// =============================================================================
// Discovery
// =============================================================================

// DiscoverFiles lists eligible raw files for a fabric, sorted for
// deterministic processing order. Files currently being processed are
// excluded.
func (p *Pipeline) DiscoverFiles(fabricID string) ([]string, error) {
	rawDir := p.dirs.RawDir(fabricID)
	entries, err := os.ReadDir(rawDir)
	if err != nil {
		return nil, datatypes.WrapError(datatypes.CodeUnreadablePath,
			"read raw directory "+rawDir, err)
	}

	var files []string
	p.mu.Lock()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(rawDir, e.Name())
		if p.inProgress[path] {
			continue
		}
		files = append(files, path)
	}
	p.mu.Unlock()

	sort.Strings(files)
	return files, nil
}

// =============================================================================
// Per-File Processing
// =============================================================================

// Context carries per-sync state into file processing.
type Context struct {
	SyncID   string
	FabricID string
}

// rawDocument is the minimal shape every ingested document must satisfy.
type rawDocument struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Metadata   struct {
		Name string `yaml:"name"`
	} `yaml:"metadata"`
}

// ProcessFile parses, validates, and relocates all documents of one raw
// file.
//
// # Outputs
//
//   - FileResult: Always populated, including on failure; Status reflects
//     full, partial, or zero success.
//   - error: Non-nil only for whole-file rejections (unreadable, oversize)
//     where no document-level work happened.
func (p *Pipeline) ProcessFile(ctx context.Context, path string, pctx Context) (datatypes.FileResult, error) {
	result := datatypes.FileResult{Path: path, Status: datatypes.FileStatusFailed}

	p.mu.Lock()
	p.inProgress[path] = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.inProgress, path)
		p.mu.Unlock()
	}()

	fi, err := os.Stat(path)
	if err != nil {
		return result, datatypes.WrapError(datatypes.CodeUnreadablePath, "stat "+path, err)
	}
	if fi.Size() > p.config.MaxFileSize {
		return result, datatypes.NewError(datatypes.CodeFileTooLarge,
			fmt.Sprintf("%s is %d bytes, ceiling is %d", path, fi.Size(), p.config.MaxFileSize))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return result, datatypes.WrapError(datatypes.CodeUnreadablePath, "open "+path, err)
	}

	// Documents are split on boundary lines before parsing, so one broken
	// document cannot poison the ones that follow it in the stream.
	index := -1
	for _, chunk := range splitDocuments(data) {
		// Cancellation checkpoint between documents.
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if len(bytes.TrimSpace(chunk)) == 0 {
			continue
		}
		index++

		var node yaml.Node
		if err := yaml.Unmarshal(chunk, &node); err != nil {
			result.Errors = append(result.Errors, datatypes.DocumentError{
				Index:   index,
				Code:    datatypes.CodeMalformedYAML,
				Message: "document does not parse: " + err.Error(),
			})
			continue
		}
		if node.Kind == 0 || (len(node.Content) == 1 && node.Content[0].Tag == "!!null") {
			// Comment-only document between separators.
			continue
		}
		result.DocumentsExtracted++

		if docErr := p.ingestDocument(&node, index, pctx, &result); docErr != nil {
			result.Errors = append(result.Errors, *docErr)
		}
	}

	switch {
	case len(result.TargetFiles) > 0 && len(result.Errors) == 0:
		result.Status = datatypes.FileStatusSuccess
	case len(result.TargetFiles) > 0:
		result.Status = datatypes.FileStatusPartial
	default:
		result.Status = datatypes.FileStatusFailed
	}

	// Consumed files leave raw/ so they are not re-ingested; fully failed
	// files stay for the operator to fix in place.
	if len(result.TargetFiles) > 0 {
		if err := p.archive(path, pctx, result.DocumentsExtracted); err != nil {
			slog.Warn("Failed to archive processed raw file",
				"path", path, "error", err)
		}
	}

	return result, nil
}

// docBoundary matches a YAML document separator line.
var docBoundary = regexp.MustCompile(`(?m)^---[ \t]*\r?$`)

// splitDocuments cuts a multi-document YAML stream on separator lines so
// every document parses independently. Separator-looking lines inside block
// scalars are a known blind spot; resource documents do not use them.
func splitDocuments(data []byte) [][]byte {
	bounds := docBoundary.FindAllIndex(data, -1)
	if len(bounds) == 0 {
		return [][]byte{data}
	}
	docs := make([][]byte, 0, len(bounds)+1)
	start := 0
	for _, b := range bounds {
		docs = append(docs, data[start:b[0]])
		start = b[1]
	}
	return append(docs, data[start:])
}

// ingestDocument validates one document and writes it to its managed
// target. Returns a DocumentError on validation failure, nil on success.
func (p *Pipeline) ingestDocument(node *yaml.Node, index int, pctx Context, result *datatypes.FileResult) *datatypes.DocumentError {
	var doc rawDocument
	if err := node.Decode(&doc); err != nil {
		return &datatypes.DocumentError{
			Index:   index,
			Code:    datatypes.CodeMalformedYAML,
			Message: "document shape is invalid: " + err.Error(),
		}
	}

	switch {
	case doc.APIVersion == "":
		return &datatypes.DocumentError{
			Index: index, Code: datatypes.CodeMissingField,
			Message: "document is missing apiVersion",
		}
	case doc.Kind == "":
		return &datatypes.DocumentError{
			Index: index, Code: datatypes.CodeMissingField,
			Message: "document is missing kind",
		}
	case doc.Metadata.Name == "":
		return &datatypes.DocumentError{
			Index: index, Code: datatypes.CodeMissingField,
			Message: "document is missing metadata.name",
		}
	}

	if !p.supportedKind(doc.Kind) {
		return &datatypes.DocumentError{
			Index: index, Code: datatypes.CodeUnsupportedKind,
			Message: "unsupported resource kind " + doc.Kind,
		}
	}

	// Names become path segments, so traversal characters are rejected
	// before any filesystem write.
	if err := validation.ValidateResourceName(doc.Metadata.Name); err != nil {
		return &datatypes.DocumentError{
			Index: index, Code: datatypes.CodeMissingField,
			Message: err.Error(),
		}
	}

	kindDir := filepath.Join(p.dirs.ManagedDir(pctx.FabricID), doc.Kind)
	if err := os.MkdirAll(kindDir, 0750); err != nil {
		return &datatypes.DocumentError{
			Index: index, Code: datatypes.CodeUnreadablePath,
			Message: "create managed kind directory: " + err.Error(),
		}
	}

	data, err := yaml.Marshal(node)
	if err != nil {
		return &datatypes.DocumentError{
			Index: index, Code: datatypes.CodeMalformedYAML,
			Message: "re-serialize document: " + err.Error(),
		}
	}

	target := filepath.Join(kindDir, doc.Metadata.Name+".yaml")
	if err := os.WriteFile(target, data, 0640); err != nil {
		return &datatypes.DocumentError{
			Index: index, Code: datatypes.CodeUnreadablePath,
			Message: "write managed file: " + err.Error(),
		}
	}

	result.TargetFiles = append(result.TargetFiles, target)
	return nil
}

// archive moves a consumed raw file into the fabric archive and records
// it in the archive log.
func (p *Pipeline) archive(path string, pctx Context, documents int) error {
	archiveDir := p.dirs.ArchiveDir(pctx.FabricID)
	if err := os.MkdirAll(archiveDir, 0750); err != nil {
		return err
	}

	name := time.Now().UTC().Format("20060102T150405") + "-" + filepath.Base(path)
	archivePath := filepath.Join(archiveDir, name)
	if err := os.Rename(path, archivePath); err != nil {
		return err
	}

	return p.dirs.AppendArchiveLog(pctx.FabricID, directory.ArchiveEntry{
		RawPath:     path,
		ArchivePath: archivePath,
		SyncID:      pctx.SyncID,
		Documents:   documents,
		ArchivedAt:  time.Now(),
	})
}

// =============================================================================
// Batch Processing
// =============================================================================

// BatchResult aggregates the outcome of processing many files.
type BatchResult struct {
	Results            []datatypes.FileResult
	FilesProcessed     int
	FilesFailed        int
	DocumentsExtracted int
}

// ProcessBatch runs files through the worker pool and aggregates results.
//
// Files that fail outright (unreadable, oversize) still appear in Results
// with a synthesized per-file error. A cancelled context stops dispatching
// new files; in-flight files finish their current document first.
func (p *Pipeline) ProcessBatch(ctx context.Context, files []string, pctx Context) (BatchResult, error) {
	var (
		mu      sync.Mutex
		results = make([]datatypes.FileResult, 0, len(files))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)

	for _, path := range files {
		// Cancellation checkpoint before dispatching each file.
		if err := ctx.Err(); err != nil {
			break
		}

		g.Go(func() error {
			result, err := p.ProcessFile(gctx, path, pctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				result.Status = datatypes.FileStatusFailed
				result.Errors = append(result.Errors, datatypes.DocumentError{
					Index:   0,
					Code:    datatypes.CodeOf(err),
					Message: err.Error(),
				})
			}

			p.publishFileEvent(pctx, result)

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()

	batch := BatchResult{Results: results}
	for _, r := range results {
		batch.DocumentsExtracted += r.DocumentsExtracted
		if r.Status == datatypes.FileStatusFailed {
			batch.FilesFailed++
		} else {
			batch.FilesProcessed++
		}
	}

	if err != nil {
		return batch, err
	}
	return batch, nil
}

// publishFileEvent emits file.processed or file.failed for one result.
func (p *Pipeline) publishFileEvent(pctx Context, result datatypes.FileResult) {
	if p.events == nil {
		return
	}

	t := datatypes.EventFileProcessed
	if result.Status == datatypes.FileStatusFailed {
		t = datatypes.EventFileFailed
	}
	p.events.Publish(datatypes.NewEvent(t, pctx.SyncID, pctx.FabricID, map[string]string{
		"path":      result.Path,
		"status":    string(result.Status),
		"documents": fmt.Sprintf("%d", result.DocumentsExtracted),
		"errors":    fmt.Sprintf("%d", len(result.Errors)),
	}))
}

// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package directory validates and repairs the per-fabric GitOps layout.
//
// # Description
//
// Each fabric owns one directory tree under the GitOps root:
//
//	<root>/<fabric>/
//	  raw/                  user-dropped YAML awaiting ingestion
//	  managed/<kind>/       normalized per-resource files
//	  .hnp/manifest.yaml    fabric metadata
//	  .hnp/archive-log.yaml processing history
//
// The manager ensures this layout exists and is structurally sound before
// ingestion runs. Initialization is idempotent: re-running on an already
// initialized fabric is a no-op beyond revalidation. Repair applies only
// auto-repairable fixes; everything else is surfaced back for manual
// intervention.
//
// Callers are responsible for holding the fabric lock around any mutating
// call (InitializeStructure, RepairStructure).
package directory

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
)

// =============================================================================
// Validation Types
// =============================================================================

// Severity grades a structural issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is one structural problem found during validation.
type Issue struct {
	Severity Severity `json:"severity"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
	// AutoRepairable marks issues RepairStructure can fix without a human.
	AutoRepairable bool `json:"auto_repairable"`
}

// ValidationResult is the outcome of ValidateStructure.
type ValidationResult struct {
	FabricID string  `json:"fabric_id"`
	IsValid  bool    `json:"is_valid"`
	Issues   []Issue `json:"issues,omitempty"`
}

// Manifest is the `.hnp/manifest.yaml` metadata file.
type Manifest struct {
	FabricID      string    `yaml:"fabric_id"`
	SchemaVersion int       `yaml:"schema_version"`
	CreatedAt     time.Time `yaml:"created_at"`
	UpdatedAt     time.Time `yaml:"updated_at"`
}

// manifestSchemaVersion is bumped when the on-disk layout changes shape.
const manifestSchemaVersion = 1

// ArchiveEntry is one row in `.hnp/archive-log.yaml`, recording a raw file
// consumed by ingestion.
type ArchiveEntry struct {
	RawPath     string    `yaml:"raw_path"`
	ArchivePath string    `yaml:"archive_path"`
	SyncID      string    `yaml:"sync_id"`
	Documents   int       `yaml:"documents"`
	ArchivedAt  time.Time `yaml:"archived_at"`
}

// =============================================================================
// Manager
// =============================================================================

// Manager owns the on-disk layout for all fabrics under one GitOps root.
type Manager struct {
	root string
}

// NewManager creates a directory manager over the GitOps root.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("gitops root is required")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, datatypes.WrapError(datatypes.CodeMissingPath,
			"create gitops root "+root, err)
	}
	return &Manager{root: root}, nil
}

// FabricRoot returns the fabric's directory under the GitOps root.
func (m *Manager) FabricRoot(fabricID string) string {
	return filepath.Join(m.root, fabricID)
}

// RawDir returns the fabric's ingestion inbox.
func (m *Manager) RawDir(fabricID string) string {
	return filepath.Join(m.root, fabricID, "raw")
}

// ManagedDir returns the fabric's normalized output directory.
func (m *Manager) ManagedDir(fabricID string) string {
	return filepath.Join(m.root, fabricID, "managed")
}

// MetaDir returns the fabric's `.hnp` metadata directory.
func (m *Manager) MetaDir(fabricID string) string {
	return filepath.Join(m.root, fabricID, ".hnp")
}

// ArchiveDir returns where consumed raw files are moved.
func (m *Manager) ArchiveDir(fabricID string) string {
	return filepath.Join(m.root, fabricID, ".hnp", "archive")
}

// requiredDirs lists the subdirectories every fabric must have.
func (m *Manager) requiredDirs(fabricID string) []string {
	return []string{
		m.FabricRoot(fabricID),
		m.RawDir(fabricID),
		m.ManagedDir(fabricID),
		m.MetaDir(fabricID),
		m.ArchiveDir(fabricID),
	}
}

// =============================================================================
// Validate
// =============================================================================

// ValidateStructure checks the fabric's layout without mutating anything.
//
// Missing directories and a missing manifest are auto-repairable errors; an
// unreadable directory or unparseable manifest is not.
func (m *Manager) ValidateStructure(fabricID string) ValidationResult {
	result := ValidationResult{FabricID: fabricID, IsValid: true}

	for _, dir := range m.requiredDirs(fabricID) {
		fi, err := os.Stat(dir)
		switch {
		case os.IsNotExist(err):
			result.Issues = append(result.Issues, Issue{
				Severity:       SeverityError,
				Path:           dir,
				Message:        "required directory is missing",
				AutoRepairable: true,
			})
		case err != nil:
			result.Issues = append(result.Issues, Issue{
				Severity:       SeverityError,
				Path:           dir,
				Message:        "directory is not accessible: " + err.Error(),
				AutoRepairable: false,
			})
		case !fi.IsDir():
			result.Issues = append(result.Issues, Issue{
				Severity:       SeverityError,
				Path:           dir,
				Message:        "path exists but is not a directory",
				AutoRepairable: false,
			})
		}
	}

	manifestPath := filepath.Join(m.MetaDir(fabricID), "manifest.yaml")
	if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
		result.Issues = append(result.Issues, Issue{
			Severity:       SeverityError,
			Path:           manifestPath,
			Message:        "manifest is missing",
			AutoRepairable: true,
		})
	} else if err == nil {
		if _, err := m.readManifest(fabricID); err != nil {
			result.Issues = append(result.Issues, Issue{
				Severity:       SeverityError,
				Path:           manifestPath,
				Message:        "manifest is unparseable: " + err.Error(),
				AutoRepairable: false,
			})
		}
	}

	// Loose files directly under managed/ are tolerated but flagged;
	// ingestion only writes into managed/<kind>/.
	if entries, err := os.ReadDir(m.ManagedDir(fabricID)); err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				result.Issues = append(result.Issues, Issue{
					Severity:       SeverityWarning,
					Path:           filepath.Join(m.ManagedDir(fabricID), e.Name()),
					Message:        "unexpected file directly under managed/",
					AutoRepairable: false,
				})
			}
		}
	}

	for _, issue := range result.Issues {
		if issue.Severity == SeverityError {
			result.IsValid = false
			break
		}
	}
	return result
}

// =============================================================================
// Initialize
// =============================================================================

// InitializeStructure creates the required layout for a fabric.
//
// Idempotent: directories are created with MkdirAll and an existing
// manifest is never overwritten, so a second call is a no-op beyond
// revalidation.
func (m *Manager) InitializeStructure(fabricID string) (ValidationResult, error) {
	for _, dir := range m.requiredDirs(fabricID) {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return ValidationResult{}, datatypes.WrapError(datatypes.CodeMissingPath,
				"create directory "+dir, err)
		}
	}

	manifestPath := filepath.Join(m.MetaDir(fabricID), "manifest.yaml")
	if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
		now := time.Now()
		manifest := Manifest{
			FabricID:      fabricID,
			SchemaVersion: manifestSchemaVersion,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := m.writeManifest(fabricID, manifest); err != nil {
			return ValidationResult{}, err
		}
		slog.Info("Initialized fabric directory structure",
			"fabric_id", fabricID, "root", m.FabricRoot(fabricID))
	}

	return m.ValidateStructure(fabricID), nil
}

// =============================================================================
// Repair
// =============================================================================

// RepairStructure applies auto-repairable fixes from a prior validation.
//
// # Outputs
//
//   - []Issue: Issues that remain after repair (not auto-repairable, or
//     repair failed). An empty slice means the structure is clean.
//   - error: Non-nil only on unexpected I/O failure.
func (m *Manager) RepairStructure(fabricID string, issues []Issue) ([]Issue, error) {
	var remaining []Issue

	for _, issue := range issues {
		if !issue.AutoRepairable {
			remaining = append(remaining, issue)
			continue
		}

		if err := m.repairIssue(fabricID, issue); err != nil {
			slog.Warn("Auto-repair failed",
				"fabric_id", fabricID,
				"path", issue.Path,
				"error", err)
			issue.Message = "repair failed: " + err.Error()
			issue.AutoRepairable = false
			remaining = append(remaining, issue)
			continue
		}
		slog.Info("Repaired directory issue",
			"fabric_id", fabricID, "path", issue.Path)
	}

	return remaining, nil
}

// repairIssue fixes a single auto-repairable issue.
func (m *Manager) repairIssue(fabricID string, issue Issue) error {
	if filepath.Base(issue.Path) == "manifest.yaml" {
		now := time.Now()
		if err := os.MkdirAll(m.MetaDir(fabricID), 0750); err != nil {
			return err
		}
		return m.writeManifest(fabricID, Manifest{
			FabricID:      fabricID,
			SchemaVersion: manifestSchemaVersion,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	return os.MkdirAll(issue.Path, 0750)
}

// =============================================================================
// Manifest / Archive Log
// =============================================================================

// readManifest loads and parses the fabric manifest.
func (m *Manager) readManifest(fabricID string) (Manifest, error) {
	var manifest Manifest
	data, err := os.ReadFile(filepath.Join(m.MetaDir(fabricID), "manifest.yaml"))
	if err != nil {
		return manifest, err
	}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return manifest, err
	}
	return manifest, nil
}

// writeManifest serializes the manifest to `.hnp/manifest.yaml`.
func (m *Manager) writeManifest(fabricID string, manifest Manifest) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return datatypes.WrapError(datatypes.CodeInternal, "marshal manifest", err)
	}
	path := filepath.Join(m.MetaDir(fabricID), "manifest.yaml")
	if err := os.WriteFile(path, data, 0640); err != nil {
		return datatypes.WrapError(datatypes.CodeUnreadablePath, "write manifest "+path, err)
	}
	return nil
}

// TouchManifest updates the manifest's UpdatedAt stamp.
func (m *Manager) TouchManifest(fabricID string) error {
	manifest, err := m.readManifest(fabricID)
	if err != nil {
		return datatypes.WrapError(datatypes.CodeUnreadablePath, "read manifest", err)
	}
	manifest.UpdatedAt = time.Now()
	return m.writeManifest(fabricID, manifest)
}

// AppendArchiveLog appends one processing-history row to
// `.hnp/archive-log.yaml`. The log is a YAML stream, one document per
// archived file, so appending never rewrites earlier rows.
func (m *Manager) AppendArchiveLog(fabricID string, entry ArchiveEntry) error {
	data, err := yaml.Marshal(entry)
	if err != nil {
		return datatypes.WrapError(datatypes.CodeInternal, "marshal archive entry", err)
	}

	path := filepath.Join(m.MetaDir(fabricID), "archive-log.yaml")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return datatypes.WrapError(datatypes.CodeUnreadablePath, "open archive log", err)
	}
	defer f.Close()

	if _, err := f.WriteString("---\n"); err != nil {
		return datatypes.WrapError(datatypes.CodeUnreadablePath, "append archive log", err)
	}
	if _, err := f.Write(data); err != nil {
		return datatypes.WrapError(datatypes.CodeUnreadablePath, "append archive log", err)
	}
	return nil
}

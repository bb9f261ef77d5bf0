// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package directory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestValidateStructure_UninitializedFabric(t *testing.T) {
	m := newTestManager(t)

	result := m.ValidateStructure("fabric-1")
	if result.IsValid {
		t.Error("Expected uninitialized fabric to be invalid")
	}

	// Every missing-directory issue should be auto-repairable.
	for _, issue := range result.Issues {
		if !issue.AutoRepairable {
			t.Errorf("Expected missing path %s to be auto-repairable", issue.Path)
		}
	}
}

func TestInitializeStructure_CreatesLayout(t *testing.T) {
	m := newTestManager(t)

	result, err := m.InitializeStructure("fabric-1")
	if err != nil {
		t.Fatalf("InitializeStructure failed: %v", err)
	}
	if !result.IsValid {
		t.Errorf("Expected valid structure after init, issues: %+v", result.Issues)
	}

	for _, dir := range []string{
		m.RawDir("fabric-1"),
		m.ManagedDir("fabric-1"),
		m.MetaDir("fabric-1"),
		m.ArchiveDir("fabric-1"),
	} {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			t.Errorf("Expected directory %s to exist", dir)
		}
	}

	manifest, err := m.readManifest("fabric-1")
	if err != nil {
		t.Fatalf("readManifest failed: %v", err)
	}
	if manifest.FabricID != "fabric-1" {
		t.Errorf("Expected manifest fabric_id fabric-1, got %q", manifest.FabricID)
	}
	if manifest.SchemaVersion != manifestSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", manifestSchemaVersion, manifest.SchemaVersion)
	}
}

func TestInitializeStructure_Idempotent(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.InitializeStructure("fabric-1"); err != nil {
		t.Fatalf("First init failed: %v", err)
	}
	first, err := m.readManifest("fabric-1")
	if err != nil {
		t.Fatalf("readManifest failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	result, err := m.InitializeStructure("fabric-1")
	if err != nil {
		t.Fatalf("Second init failed: %v", err)
	}
	if !result.IsValid {
		t.Errorf("Expected second init to revalidate clean, issues: %+v", result.Issues)
	}

	second, err := m.readManifest("fabric-1")
	if err != nil {
		t.Fatalf("readManifest failed: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("Expected second init to leave the manifest untouched")
	}
}

func TestRepairStructure_FixesAutoRepairable(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.InitializeStructure("fabric-1"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// Break the layout.
	if err := os.RemoveAll(m.RawDir("fabric-1")); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	if err := os.Remove(filepath.Join(m.MetaDir("fabric-1"), "manifest.yaml")); err != nil {
		t.Fatalf("Remove manifest failed: %v", err)
	}

	result := m.ValidateStructure("fabric-1")
	if result.IsValid {
		t.Fatal("Expected broken structure to be invalid")
	}

	remaining, err := m.RepairStructure("fabric-1", result.Issues)
	if err != nil {
		t.Fatalf("RepairStructure failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("Expected all issues repaired, remaining: %+v", remaining)
	}

	after := m.ValidateStructure("fabric-1")
	if !after.IsValid {
		t.Errorf("Expected valid structure after repair, issues: %+v", after.Issues)
	}
}

func TestRepairStructure_SurfacesNonRepairable(t *testing.T) {
	m := newTestManager(t)

	issues := []Issue{
		{Severity: SeverityError, Path: "/somewhere", Message: "permission denied", AutoRepairable: false},
	}
	remaining, err := m.RepairStructure("fabric-1", issues)
	if err != nil {
		t.Fatalf("RepairStructure failed: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("Expected non-repairable issue surfaced back, got %d", len(remaining))
	}
}

func TestValidateStructure_LooseManagedFileIsWarning(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.InitializeStructure("fabric-1"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	loose := filepath.Join(m.ManagedDir("fabric-1"), "stray.yaml")
	if err := os.WriteFile(loose, []byte("kind: VPC\n"), 0640); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	result := m.ValidateStructure("fabric-1")
	if !result.IsValid {
		t.Error("Expected warnings not to invalidate the structure")
	}

	found := false
	for _, issue := range result.Issues {
		if issue.Severity == SeverityWarning && issue.Path == loose {
			found = true
		}
	}
	if !found {
		t.Error("Expected a warning for the loose managed file")
	}
}

func TestAppendArchiveLog_AppendsDocuments(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.InitializeStructure("fabric-1"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		err := m.AppendArchiveLog("fabric-1", ArchiveEntry{
			RawPath:     "raw/vpcs.yaml",
			ArchivePath: ".hnp/archive/vpcs.yaml",
			SyncID:      "sync-1",
			Documents:   3,
			ArchivedAt:  time.Now(),
		})
		if err != nil {
			t.Fatalf("AppendArchiveLog failed: %v", err)
		}
	}

	data, err := os.ReadFile(filepath.Join(m.MetaDir("fabric-1"), "archive-log.yaml"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if got := strings.Count(string(data), "---"); got != 2 {
		t.Errorf("Expected 2 YAML documents in archive log, got %d separators", got)
	}
}

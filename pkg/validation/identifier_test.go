// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"strings"
	"testing"
)

func TestValidateFabricID(t *testing.T) {
	valid := []string{
		"fabric-a",
		"dc1",
		"prod.us-east-1",
		"a",
		"x" + strings.Repeat("y", 251) + "z",
	}
	for _, id := range valid {
		if err := ValidateFabricID(id); err != nil {
			t.Errorf("ValidateFabricID(%q) unexpected error: %v", id, err)
		}
	}

	invalid := []string{
		"",
		"Fabric-A",     // uppercase
		"-leading",     // starts with hyphen
		"trailing-",    // ends with hyphen
		"../escape",    // traversal
		"a/b",          // path separator
		"a b",          // whitespace
		"a\x00b",       // control char
		strings.Repeat("a", 254), // too long
	}
	for _, id := range invalid {
		if err := ValidateFabricID(id); err == nil {
			t.Errorf("ValidateFabricID(%q) expected error, got nil", id)
		}
	}
}

func TestValidateResourceName(t *testing.T) {
	if err := ValidateResourceName("vpc-1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, name := range []string{"", "..", "a/../b", "UPPER"} {
		if err := ValidateResourceName(name); err == nil {
			t.Errorf("ValidateResourceName(%q) expected error, got nil", name)
		}
	}
}

func TestValidateKind(t *testing.T) {
	for _, kind := range []string{"VPC", "VPCAttachment", "Connection", "Switch"} {
		if err := ValidateKind(kind); err != nil {
			t.Errorf("ValidateKind(%q) unexpected error: %v", kind, err)
		}
	}
	for _, kind := range []string{"", "vpc", "V PC", "V/PC", "1VPC", ".."} {
		if err := ValidateKind(kind); err == nil {
			t.Errorf("ValidateKind(%q) expected error, got nil", kind)
		}
	}
}

func TestSanitizeFabricID(t *testing.T) {
	got, err := SanitizeFabricID("  Fabric-A ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "fabric-a" {
		t.Errorf("SanitizeFabricID = %q, want fabric-a", got)
	}

	if _, err := SanitizeFabricID("../etc"); err == nil {
		t.Error("expected error for traversal input")
	}
}

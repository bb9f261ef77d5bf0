// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided identifiers that end up
// in filesystem paths and remote repository paths. Using these validators
// prevents path traversal: a fabric ID or resource name containing "..",
// slashes, or other path metacharacters must never reach a filepath.Join.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern matches valid fabric IDs and resource names.
// Allows: lowercase letters, digits, hyphens, dots. Must start and end
// alphanumeric. Max length: 253 characters, matching Kubernetes object
// name limits since fabric resources originate from Kubernetes manifests.
var identifierPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9.\-]{0,251}[a-z0-9])?$`)

// ValidateFabricID validates a fabric identifier used as a directory name
// under the gitops root and as a path segment in remote repository paths.
//
// Valid fabric IDs:
//   - 1-253 characters
//   - Lowercase letters a-z, digits 0-9
//   - Hyphens (-) and dots (.) in interior positions
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateFabricID(fabricID); err != nil {
//	    return WrapError(CodeMissingField, "invalid fabric id", err)
//	}
//	// Safe to use in filepath.Join
func ValidateFabricID(id string) error {
	if id == "" {
		return fmt.Errorf("fabric id cannot be empty")
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("invalid fabric id %q (must be 1-253 lowercase alphanumeric chars, hyphens, or dots)", id)
	}
	return nil
}

// ValidateResourceName validates a resource name extracted from a YAML
// document's metadata.name. The name becomes the managed file basename, so
// the same path-segment rules apply as for fabric IDs.
func ValidateResourceName(name string) error {
	if name == "" {
		return fmt.Errorf("resource name cannot be empty")
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid resource name %q (must be 1-253 lowercase alphanumeric chars, hyphens, or dots)", name)
	}
	return nil
}

// ValidateKind validates a resource kind such as "VPC" or "Connection".
// Kinds become managed subdirectory names. They follow Kubernetes kind
// conventions: alphanumeric, starting with an uppercase letter.
func ValidateKind(kind string) error {
	if kind == "" {
		return fmt.Errorf("kind cannot be empty")
	}
	if !kindPattern.MatchString(kind) {
		return fmt.Errorf("invalid kind %q (must be alphanumeric starting with an uppercase letter)", kind)
	}
	return nil
}

var kindPattern = regexp.MustCompile(`^[A-Z][A-Za-z0-9]{0,62}$`)

// SanitizeFabricID normalizes and validates a fabric identifier.
// Returns the lowercase trimmed ID if valid, or an error if invalid.
//
// Use this at API boundaries where operators may paste IDs with stray
// whitespace or mixed case:
//
//	fabricID, err := validation.SanitizeFabricID(c.Param("fabricId"))
//	if err != nil {
//	    return err
//	}
func SanitizeFabricID(id string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(id))
	if err := ValidateFabricID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

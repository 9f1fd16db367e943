// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workspace confines all file access of the agent to a single
// sandbox root.
//
// The sandbox resolves bare filenames mentioned in issue text to real
// paths, produces the codebase listing handed to the completion engine,
// and performs every read, write, and backup. No path outside the root is
// ever returned or touched; containment is checked on absolute paths, not
// by string matching, so crafted relative segments cannot escape.
//
// Thread Safety:
//
//	Sandbox is safe for concurrent use. The listing cache is guarded by a
//	mutex and invalidated by an optional fsnotify watcher.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ignoredDirs are directory names excluded from traversal and listing.
// Version-control, dependency, and cache trees plus the agent's own
// working directory.
var ignoredDirs = map[string]bool{
	".git":          true,
	".hg":           true,
	".venv":         true,
	"venv":          true,
	"node_modules":  true,
	"__pycache__":   true,
	".pytest_cache": true,
	"vendor":        true,
	".mend":         true,
}

// listedExts is the allow-list of extensions included in the codebase
// listing: script, markup, style, data, and documentation kinds.
var listedExts = map[string]bool{
	".py":   true,
	".go":   true,
	".js":   true,
	".ts":   true,
	".sh":   true,
	".html": true,
	".css":  true,
	".json": true,
	".yaml": true,
	".yml":  true,
	".md":   true,
}

// ErrOutsideSandbox is returned when a candidate cannot be placed inside
// the sandbox root.
var ErrOutsideSandbox = errors.New("workspace: candidate resolves outside sandbox root")

// ErrUnresolved is returned when a candidate matches nothing and cannot
// name a new file either.
var ErrUnresolved = errors.New("workspace: candidate could not be resolved")

// Target is the result of resolving a filename candidate.
type Target struct {
	// Candidate is the name as it appeared in issue text.
	Candidate string

	// Path is the absolute resolved path. Always inside the sandbox root.
	Path string

	// IsNew means the path does not exist yet; it was only validated to
	// lie inside the root.
	IsNew bool
}

// Sandbox is the single directory boundary for all agent file access.
type Sandbox struct {
	root   string
	logger *slog.Logger

	cache listingCache
}

// NewSandbox creates a sandbox rooted at root.
//
// Inputs:
//
//	root - The sandbox directory. Made absolute and symlink-resolved.
//	logger - Structured logger. slog.Default() when nil.
//
// Outputs:
//
//	*Sandbox - The sandbox.
//	error - Non-nil if root does not exist or is not a directory.
func NewSandbox(root string, logger *slog.Logger) (*Sandbox, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root: %w", err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root symlinks: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat sandbox root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root is not a directory: %s", abs)
	}

	return &Sandbox{root: abs, logger: logger}, nil
}

// Root returns the absolute sandbox root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve maps a filename candidate to a target inside the sandbox.
//
// Description:
//
//	Resolution order, first success wins:
//
//	 1. The candidate is itself an existing file inside the root.
//	 2. root/candidate exists as a file.
//	 3. Recursive lexicographic search under the root (skipping ignored
//	    directories) for a file whose forward-slash path ends with the
//	    normalized candidate. The first match in traversal order wins;
//	    filepath.WalkDir makes that order lexical and therefore stable.
//	 4. The candidate names a new file (IsNew=true): a relative
//	    candidate is joined under the root, an absolute one must already
//	    lie inside it.
//	 5. Otherwise resolution fails; the caller must skip the candidate.
//
// Inputs:
//
//	candidate - A filename or path fragment from issue text.
//
// Outputs:
//
//	*Target - The resolved target, nil on error.
//	error - ErrOutsideSandbox or ErrUnresolved.
func (s *Sandbox) Resolve(candidate string) (*Target, error) {
	if candidate == "" {
		return nil, ErrUnresolved
	}

	// 1. Direct hit.
	if abs, ok := s.existingFile(candidate); ok {
		return &Target{Candidate: candidate, Path: abs}, nil
	}

	// 2. Relative to root.
	if abs, ok := s.existingFile(filepath.Join(s.root, candidate)); ok {
		return &Target{Candidate: candidate, Path: abs}, nil
	}

	// 3. Recursive suffix search.
	if abs := s.searchSuffix(candidate); abs != "" {
		return &Target{Candidate: candidate, Path: abs}, nil
	}

	// 4. New file, provided it stays inside the root. An absolute
	// candidate either matched in step 1 or points outside the root;
	// joining it under the root would invent a phantom mirror path.
	if filepath.IsAbs(candidate) {
		if abs := filepath.Clean(candidate); s.contains(abs) {
			return &Target{Candidate: candidate, Path: abs, IsNew: true}, nil
		}
		return nil, ErrOutsideSandbox
	}
	abs, err := filepath.Abs(filepath.Join(s.root, candidate))
	if err == nil && s.contains(abs) {
		return &Target{Candidate: candidate, Path: abs, IsNew: true}, nil
	}

	// 5. Unreachable or escaping.
	return nil, ErrOutsideSandbox
}

// existingFile normalizes path and reports whether it is a regular file
// inside the sandbox.
func (s *Sandbox) existingFile(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		return "", false
	}
	if !s.contains(resolved) {
		return "", false
	}
	return resolved, true
}

// searchSuffix walks the root looking for the first file whose normalized
// path ends with the normalized candidate.
func (s *Sandbox) searchSuffix(candidate string) string {
	want := strings.TrimPrefix(filepath.ToSlash(candidate), "/")
	if want == "" {
		return ""
	}

	var found string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if ignoredDirs[d.Name()] && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if suffixOnBoundary(filepath.ToSlash(path), want) {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return ""
	}
	return found
}

// suffixOnBoundary reports whether path ends with want aligned on a path
// separator. Plain suffix matching would let "y.py" claim "try.py".
func suffixOnBoundary(path, want string) bool {
	if !strings.HasSuffix(path, want) {
		return false
	}
	if len(path) == len(want) {
		return true
	}
	return path[len(path)-len(want)-1] == '/'
}

// contains reports whether abs lies inside the sandbox root. Absolute
// path comparison, not string containment.
func (s *Sandbox) contains(abs string) bool {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

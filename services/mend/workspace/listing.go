// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// listingCache memoizes the codebase listing between writes.
type listingCache struct {
	mu      sync.Mutex
	text    string
	valid   bool
	watcher *fsnotify.Watcher
}

// Listing returns the codebase-structure context handed to the completion
// engine: one root-relative forward-slash path per line, allow-listed
// extensions only, ignored directories pruned, in lexicographic order.
//
// The result is cached until a sandbox write occurs or, when WatchChanges
// has been started, until any filesystem event fires under the root.
//
// Outputs:
//
//	string - The listing. Empty when the tree holds no listed files.
//	error - Non-nil only when the walk itself fails.
func (s *Sandbox) Listing() (string, error) {
	s.cache.mu.Lock()
	if s.cache.valid {
		text := s.cache.text
		s.cache.mu.Unlock()
		return text, nil
	}
	s.cache.mu.Unlock()

	var paths []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if ignoredDirs[d.Name()] && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !listedExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", err
	}

	text := strings.Join(paths, "\n")

	s.cache.mu.Lock()
	s.cache.text = text
	s.cache.valid = true
	s.cache.mu.Unlock()

	s.logger.Debug("codebase listing rebuilt", slog.Int("files", len(paths)))
	return text, nil
}

// invalidateListing drops the cached listing.
func (s *Sandbox) invalidateListing() {
	s.cache.mu.Lock()
	s.cache.valid = false
	s.cache.mu.Unlock()
}

// WatchChanges invalidates the listing cache on filesystem events under
// the root, so out-of-band edits (a developer touching the tree while the
// agent runs) are reflected in the next listing.
//
// Description:
//
//	Watches the root and every non-ignored subdirectory. Newly created
//	directories are added to the watch as they appear. The watcher stops
//	when ctx is canceled. Watch failures degrade to cache-on-write-only
//	behavior; they are logged, never fatal.
//
// Inputs:
//
//	ctx - Cancels the watch.
//
// Outputs:
//
//	error - Non-nil if the watcher cannot be created at all.
func (s *Sandbox) WatchChanges(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := s.addWatchRecursive(watcher, s.root); err != nil {
		s.logger.Warn("partial watch of sandbox", slog.String("error", err.Error()))
	}

	s.cache.mu.Lock()
	s.cache.watcher = watcher
	s.cache.mu.Unlock()

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				s.invalidateListing()
				if event.Has(fsnotify.Create) {
					if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
						_ = s.addWatchRecursive(watcher, event.Name)
					}
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("sandbox watch error", slog.String("error", watchErr.Error()))
			}
		}
	}()

	return nil
}

// addWatchRecursive registers dir and all non-ignored subdirectories.
func (s *Sandbox) addWatchRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if ignoredDirs[d.Name()] && path != s.root {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

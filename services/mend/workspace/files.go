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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// BackupSuffix is appended to a file's path when a pre-write copy is made.
const BackupSuffix = ".bak"

// Read returns the content of a resolved target.
//
// Inputs:
//
//	target - A target previously produced by Resolve. Must not be new.
//
// Outputs:
//
//	string - File content.
//	error - Non-nil on containment violation or read failure.
func (s *Sandbox) Read(target *Target) (string, error) {
	if !s.contains(target.Path) {
		return "", ErrOutsideSandbox
	}
	data, err := os.ReadFile(target.Path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", target.Candidate, err)
	}
	return string(data), nil
}

// Write persists new content for a target.
//
// Description:
//
//	Existing files get a backup copy at <path>.bak before being
//	overwritten. New files are written directly, creating parent
//	directories as needed. There is no transactional rollback: a
//	successful write stays in place even if a later step of the round
//	fails, recoverable only from the backup.
//
// Inputs:
//
//	target - The resolved target.
//	content - The full new content.
//
// Outputs:
//
//	error - Non-nil on containment violation, backup failure, or write
//	failure. A failed backup aborts the write.
func (s *Sandbox) Write(target *Target, content string) error {
	if !s.contains(target.Path) {
		return ErrOutsideSandbox
	}

	if target.IsNew {
		if err := os.MkdirAll(filepath.Dir(target.Path), 0755); err != nil {
			return fmt.Errorf("creating directories for %s: %w", target.Candidate, err)
		}
	} else {
		if err := s.backup(target.Path); err != nil {
			return fmt.Errorf("backing up %s: %w", target.Candidate, err)
		}
	}

	if err := os.WriteFile(target.Path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", target.Candidate, err)
	}

	s.logger.Info("wrote file",
		slog.String("candidate", target.Candidate),
		slog.Bool("new", target.IsNew),
		slog.Int("bytes", len(content)),
	)
	s.invalidateListing()
	return nil
}

// backup copies path aside, preserving its mode.
func (s *Sandbox) backup(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	backupPath := path + BackupSuffix
	if err := os.WriteFile(backupPath, data, info.Mode()); err != nil {
		return err
	}
	s.logger.Debug("created backup", slog.String("path", backupPath))
	return nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the burst of write events editors and atomic
// renames produce for a single logical change.
const debounceWindow = time.Second

// Watcher hot-reloads a config file into a Manager.
//
// Description:
//
//	Watches the file's directory (editors replace files by rename, which
//	would orphan a direct file watch). On a settled change the new
//	content is validated; valid updates back up the previous file to the
//	versions directory and atomically publish the new snapshot. Invalid
//	updates are ignored with a warning, keeping the previous config.
//
// Thread Safety: Run is single-goroutine; the Manager handles publication.
type Watcher struct {
	manager     *Manager
	path        string
	versionsDir string

	// lastGood holds the raw bytes of the most recently accepted config,
	// so the backup written on reload is the previous content.
	lastGood []byte
}

// NewWatcher creates a watcher for path. versionsDir receives timestamped
// backups of each replaced config; empty disables backups.
func NewWatcher(manager *Manager, path, versionsDir string) *Watcher {
	w := &Watcher{manager: manager, path: path, versionsDir: versionsDir}
	if data, err := os.ReadFile(path); err == nil {
		w.lastGood = data
	}
	return w
}

// Run watches until ctx is cancelled. Blocking; start in a goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %q: %w", dir, err)
	}
	slog.Info("config watcher started", slog.String("path", w.path))

	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceWindow)
			} else {
				debounce.Reset(debounceWindow)
			}
			fire = debounce.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", slog.Any("error", err))

		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

// reload validates the changed file and publishes it, backing up the
// previous content first.
func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		slog.Warn("config file unreadable after change",
			slog.String("path", w.path), slog.Any("error", err))
		return
	}
	cfg, err := Parse(data)
	if err != nil {
		slog.Warn("ignoring invalid config update",
			slog.String("path", w.path), slog.Any("error", err))
		return
	}

	if w.versionsDir != "" && len(w.lastGood) > 0 {
		if err := w.backupPrevious(); err != nil {
			slog.Warn("config backup failed", slog.Any("error", err))
		}
	}
	w.lastGood = data

	prev := w.manager.Snapshot().ActiveName()
	w.manager.Replace(cfg)
	slog.Info("config reloaded",
		slog.String("path", w.path),
		slog.String("previous_variant", prev),
		slog.String("active_variant", cfg.ActiveName()))
}

// backupPrevious writes the previously accepted config content to the
// versions directory with a timestamp suffix.
func (w *Watcher) backupPrevious() error {
	if err := os.MkdirAll(w.versionsDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s.%s", filepath.Base(w.path),
		time.Now().UTC().Format("20060102T150405Z"))
	return os.WriteFile(filepath.Join(w.versionsDir, name), w.lastGood, 0o644)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// =============================================================================
// HOT RELOAD
// =============================================================================

// Watcher reloads the configuration file when it changes on disk.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	cancel   context.CancelFunc
}

// NewWatcher creates a watcher for the config file at path. onChange is
// called with the freshly loaded config after each change that parses
// and validates.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     path,
		debounce: 500 * time.Millisecond,
		watcher:  fw,
		onChange: onChange,
	}, nil
}

// Watch starts watching until ctx is cancelled or Close is called.
func (w *Watcher) Watch(ctx context.Context) error {
	// Watch the directory, not the file: editors replace files on save
	// and the inode-level watch would be lost.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	go w.processEvents(ctx)
	return nil
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce: editors emit bursts of events per save.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watcher error")
		case <-fire:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous config")
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("config reload rejected by validation")
		return
	}
	Set(cfg)
	log.Info().Str("path", w.path).Msg("config reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

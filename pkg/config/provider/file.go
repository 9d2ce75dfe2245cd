// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileProvider reads the config document from a local file and signals
// edits through fsnotify. The watch covers the file's directory rather
// than the file itself: editors that save via rename (vim, sed -i,
// kubernetes configmap symlink swaps) would otherwise silently detach
// the watch on the first write.
type FileProvider struct {
	path string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewFileProvider creates a provider for path.
func NewFileProvider(path string) (*FileProvider, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %q: %w", path, err)
	}
	return &FileProvider{path: abs}, nil
}

// Type returns TypeFile.
func (p *FileProvider) Type() Type {
	return TypeFile
}

// Load reads the file.
func (p *FileProvider) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", p.path, err)
	}
	return data, nil
}

// Watch signals whenever the file is written or recreated. Bursts of
// events from one save are coalesced before signaling.
func (p *FileProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("provider is closed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(p.path), err)
	}
	p.watcher = watcher

	changes := make(chan struct{}, 1)
	go p.pump(ctx, watcher, changes)

	slog.Info("Watching config file", "path", p.path)
	return changes, nil
}

// pump forwards relevant fsnotify events onto changes, debounced so an
// editor's write+rename sequence produces one signal.
func (p *FileProvider) pump(ctx context.Context, watcher *fsnotify.Watcher, changes chan<- struct{}) {
	defer close(changes)
	defer watcher.Close()

	const settle = 100 * time.Millisecond
	var pending *time.Timer

	signal := func() {
		select {
		case changes <- struct{}{}:
			slog.Debug("Config file changed", "path", p.path)
		default:
			// A change is already queued; the reload will read the
			// latest content anyway.
		}
	}

	for {
		select {
		case <-ctx.Done():
			if pending != nil {
				pending.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(p.path) {
				continue
			}
			switch {
			case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(settle, signal)
			case event.Has(fsnotify.Remove):
				// Rename-style saves remove then recreate; the Create
				// above picks the new file up because the directory,
				// not the inode, is watched.
				slog.Warn("Config file removed", "path", p.path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Config watch error", "error", err)
		}
	}
}

// Close stops watching and releases resources.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.watcher != nil {
		err := p.watcher.Close()
		p.watcher = nil
		return err
	}
	return nil
}

// Ensure FileProvider implements Provider
var _ Provider = (*FileProvider)(nil)

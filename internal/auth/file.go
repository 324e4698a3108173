package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/journi/jobwatch/internal/logging"
)

// FileToken serves a token read from a file and re-reads it whenever the
// file changes.
type FileToken struct {
	path    string
	logger  logging.Logger
	mu      sync.RWMutex
	token   string
	watcher *fsnotify.Watcher
	stop    chan struct{}
	once    sync.Once
}

// NewFileToken loads path and starts watching its directory, which also
// catches files replaced by rename.
func NewFileToken(path string, logger logging.Logger) (*FileToken, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	f := &FileToken{path: filepath.Clean(path), logger: logger, stop: make(chan struct{})}
	if err := f.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create token file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch token directory: %w", err)
	}
	f.watcher = watcher
	go f.processEvents()
	return f, nil
}

func (f *FileToken) Token(context.Context) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.token == "" {
		return "", ErrNoToken
	}
	return f.token, nil
}

// Close stops watching the file.
func (f *FileToken) Close() error {
	var err error
	f.once.Do(func() {
		close(f.stop)
		err = f.watcher.Close()
	})
	return err
}

func (f *FileToken) reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read token file: %w", err)
	}
	f.mu.Lock()
	f.token = strings.TrimSpace(string(data))
	f.mu.Unlock()
	return nil
}

func (f *FileToken) processEvents() {
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := f.reload(); err != nil {
				f.logger.Warn("token file reload failed", "path", f.path, "error", err)
				continue
			}
			f.logger.Debug("token file reloaded", "path", f.path)

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("token file watcher error", "error", err)

		case <-f.stop:
			return
		}
	}
}

package configmap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/appgate/pkg/observability"
)

// SourceFile labels reloads from a mounted file
const SourceFile = "file"

// kubeletDataLink is the symlink the kubelet swaps when a mounted ConfigMap changes
const kubeletDataLink = "..data"

// FileSource loads the policy document from a file and reloads it when
// the file or its ConfigMap volume changes.
type FileSource struct {
	path   string
	store  *Store
	logger *observability.Logger

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// NewFileSource creates a file source feeding store
func NewFileSource(path string, store *Store, logger *observability.Logger) *FileSource {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &FileSource{
		path:   path,
		store:  store,
		logger: logger.WithField("path", path),
		done:   make(chan struct{}),
	}
}

// Load reads and applies the file once
func (f *FileSource) Load() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		f.store.metrics.RecordDocumentReload(SourceFile, "read_error")
		return fmt.Errorf("failed to read policy document: %w", err)
	}
	_, err = f.store.Update(SourceFile, raw)
	return err
}

// Start performs the initial load and begins watching. A failed initial
// load is logged and leaves the store unavailable until a valid document
// appears. Only a watcher setup failure is returned.
func (f *FileSource) Start(ctx context.Context) error {
	if err := f.Load(); err != nil {
		f.logger.WithError(err).Warn("Initial policy document load failed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(f.path), err)
	}
	f.watcher = watcher
	f.store.OnClose(f.Close)

	go f.watch(ctx)
	return nil
}

func (f *FileSource) watch(ctx context.Context) {
	defer observability.RecoverPanic(f.logger, "configmap file watcher")

	base := filepath.Base(f.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if name != base && name != kubeletDataLink {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := f.Load(); err != nil {
				f.logger.WithError(err).Warn("Policy document reload failed")
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.WithError(err).Warn("Policy document watcher error")
		}
	}
}

// Close stops watching
func (f *FileSource) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		if f.watcher != nil {
			err = f.watcher.Close()
		}
	})
	return err
}

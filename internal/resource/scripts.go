package resource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/turtacn/Lingua/pkg/consts"
	"github.com/turtacn/Lingua/pkg/errors"
	"github.com/turtacn/Lingua/pkg/logger"
)

// ScriptStore serves script sources from a directory on an afero filesystem.
type ScriptStore struct {
	fs   afero.Fs
	root string

	mu        sync.Mutex
	checksums map[string]string
	watcher   *fsnotify.Watcher
}

func NewScriptStore(fs afero.Fs, root string) *ScriptStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if root == "" {
		root = consts.DefaultScriptRoot
	}
	return &ScriptStore{
		fs:        fs,
		root:      filepath.Clean(root),
		checksums: make(map[string]string),
	}
}

func (s *ScriptStore) Root() string { return s.root }

// Load reads a script by its name relative to the root. Names cannot
// escape the root.
func (s *ScriptStore) Load(name string) ([]byte, error) {
	rel := normalize(name)
	if rel == "" {
		return nil, errors.New(errors.ErrCodeScriptNotFound, "LoadScript", fmt.Sprintf("invalid script name %q", name), nil)
	}

	data, err := afero.ReadFile(s.fs, filepath.Join(s.root, rel))
	if err != nil {
		return nil, errors.New(errors.ErrCodeScriptNotFound, "LoadScript", rel, err)
	}

	sum := sha256.Sum256(data)
	s.mu.Lock()
	s.checksums[rel] = hex.EncodeToString(sum[:])
	s.mu.Unlock()
	return data, nil
}

// Checksum returns the sha256 of the content last returned by Load.
func (s *ScriptStore) Checksum(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.checksums[normalize(name)]
	return sum, ok
}

// List returns the names of all scripts with a known extension, sorted.
func (s *ScriptStore) List() ([]string, error) {
	var names []string
	err := afero.Walk(s.fs, s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !isScript(path) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeScriptNotFound, "ListScripts", s.root, err)
	}
	sort.Strings(names)
	return names, nil
}

// Watch calls onChange with the script name whenever a script under the root
// is written, created, removed or renamed. It only watches the OS filesystem
// and returns nil without watching otherwise. The watcher stops with ctx.
func (s *ScriptStore) Watch(ctx context.Context, onChange func(name string)) error {
	if _, ok := s.fs.(*afero.OsFs); !ok {
		logger.Log.Debug("ScriptStore: filesystem is not watchable, skipping watcher", "root", s.root)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file system watcher: %w", err)
	}
	err = filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.root, err)
	}
	s.watcher = watcher

	go s.watchLoop(ctx, watcher, onChange)
	logger.Log.Info("ScriptStore: watching scripts", "root", s.root)
	return nil
}

func (s *ScriptStore) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, onChange func(string)) {
	defer s.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !isScript(event.Name) {
				continue
			}
			rel, err := filepath.Rel(s.root, event.Name)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			s.mu.Lock()
			delete(s.checksums, rel)
			s.mu.Unlock()

			logger.Log.Debug("ScriptStore: script changed", "script", rel, "op", event.Op.String())
			if onChange != nil {
				onChange(rel)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Log.Warn("ScriptStore: watcher error", "err", err)
		}
	}
}

// Close stops the watcher, if any.
func (s *ScriptStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
}

func normalize(name string) string {
	clean := filepath.Clean("/" + filepath.FromSlash(name))
	return filepath.ToSlash(strings.TrimPrefix(clean, string(filepath.Separator)))
}

func isScript(path string) bool {
	_, ok := consts.ScriptExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Personal.AI order the ending

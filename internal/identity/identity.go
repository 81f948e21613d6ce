// Package identity manages COCO's three identity documents: the agent's
// self-identity, the user profile, and the preferences document. The
// documents live at fixed filenames in the workspace root, are small enough
// to inject verbatim into every LLM call, and are single-writer within the
// process (this store) but freely editable by the user outside it.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"coco/internal/logging"
)

// ErrFilesystemCorruption indicates duplicate identity documents were found
// outside the workspace root. Fatal at startup.
var ErrFilesystemCorruption = errors.New("filesystem corruption")

// Document names.
const (
	DocSelf        = "self-identity"
	DocUserProfile = "user-profile"
	DocPreferences = "preferences"
)

// filenames maps logical document names to their canonical filenames.
var filenames = map[string]string{
	DocSelf:        "COCO.md",
	DocUserProfile: "USER_PROFILE.md",
	DocPreferences: "PREFERENCES.md",
}

// Documents holds the content of all three identity documents.
type Documents struct {
	Self        string
	UserProfile string
	Preferences string
}

// Store reads and writes identity documents. A filesystem watcher invalidates
// the in-memory cache when the user edits a document externally.
type Store struct {
	workspace string

	mu      sync.RWMutex
	cache   map[string]string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore creates an identity store rooted at the workspace, creating any
// missing documents with starter content.
func NewStore(workspace string) (*Store, error) {
	s := &Store{
		workspace: workspace,
		cache:     make(map[string]string),
		done:      make(chan struct{}),
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	for name, file := range filenames {
		path := filepath.Join(workspace, file)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(starterContent(name)), 0o644); err != nil {
				return nil, fmt.Errorf("failed to seed %s: %w", file, err)
			}
			logging.Identity("Seeded %s", file)
		}
	}
	if err := s.startWatcher(); err != nil {
		// Watching is an optimization; reads fall back to disk.
		logging.Get(logging.CategoryIdentity).Warn("identity watcher disabled: %v", err)
	}
	return s, nil
}

// Close stops the filesystem watcher.
func (s *Store) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Read returns the content of one document by logical name.
func (s *Store) Read(name string) (string, error) {
	file, ok := filenames[name]
	if !ok {
		return "", fmt.Errorf("unknown identity document: %s", name)
	}

	s.mu.RLock()
	if content, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return content, nil
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.workspace, file))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", file, err)
	}
	s.mu.Lock()
	s.cache[name] = string(data)
	s.mu.Unlock()
	return string(data), nil
}

// ReadAll returns all three documents.
func (s *Store) ReadAll() (*Documents, error) {
	self, err := s.Read(DocSelf)
	if err != nil {
		return nil, err
	}
	user, err := s.Read(DocUserProfile)
	if err != nil {
		return nil, err
	}
	prefs, err := s.Read(DocPreferences)
	if err != nil {
		return nil, err
	}
	return &Documents{Self: self, UserProfile: user, Preferences: prefs}, nil
}

// Write stores a document at its canonical path. When the caller passes a
// path-like name targeting a nested location, the write is redirected to the
// workspace root and the correction is reported in the returned path.
func (s *Store) Write(name, content string) (string, error) {
	// Accept either a logical name or a stray path ending in a known filename.
	logical := name
	if _, ok := filenames[logical]; !ok {
		logical = logicalNameForPath(name)
		if logical == "" {
			return "", fmt.Errorf("unknown identity document: %s", name)
		}
		logging.Identity("Redirected nested identity write %q to workspace root", name)
	}

	path := filepath.Join(s.workspace, filenames[logical])
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	s.mu.Lock()
	s.cache[logical] = content
	s.mu.Unlock()
	return path, nil
}

// ValidateLayout scans the workspace for stray copies of identity documents
// in nested directories. Duplicates are corruption: two diverging copies of
// an identity document cannot both be authoritative.
func (s *Store) ValidateLayout() error {
	var strays []string
	err := filepath.WalkDir(s.workspace, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			base := filepath.Base(path)
			if strings.HasPrefix(base, ".") && path != s.workspace {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Dir(path) == s.workspace {
			return nil
		}
		for _, file := range filenames {
			if d.Name() == file {
				strays = append(strays, path)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(strays) > 0 {
		return fmt.Errorf("%w: duplicate identity documents found: %s",
			ErrFilesystemCorruption, strings.Join(strays, ", "))
	}
	return nil
}

func logicalNameForPath(path string) string {
	base := filepath.Base(path)
	for name, file := range filenames {
		if base == file {
			return name
		}
	}
	return ""
}

func (s *Store) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.workspace); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case <-s.done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
					continue
				}
				if name := logicalNameForPath(ev.Name); name != "" {
					s.mu.Lock()
					delete(s.cache, name)
					s.mu.Unlock()
					logging.Identity("Reloading %s after external edit", filepath.Base(ev.Name))
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

func starterContent(name string) string {
	switch name {
	case DocSelf:
		return "# COCO\n\nI am COCO, a terminal-native assistant with persistent memory.\n"
	case DocUserProfile:
		return "# User Profile\n\nNothing known about the user yet.\n"
	case DocPreferences:
		return "# Preferences\n\nNo preferences recorded yet.\n"
	}
	return ""
}

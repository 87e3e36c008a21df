package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// File keeps values in a single JSON document readable only by the current user.
// Each session ID gets its own file; Close removes it.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a File store for sessionID under dir. An empty dir means os.TempDir.
func NewFile(dir, sessionID string) (*File, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session ID is required")
	}
	if strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return nil, fmt.Errorf("invalid session ID %q", sessionID)
	}
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "univer-session")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &File{path: filepath.Join(dir, sessionID+".json")}, nil
}

// Path returns the backing file location.
func (f *File) Path() string { return f.path }

func (f *File) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read storage file: %w", err)
	}
	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("unmarshal storage file: %w", err)
	}
	return values, nil
}

func (f *File) save(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal storage file: %w", err)
	}
	return os.WriteFile(f.path, data, 0o600)
}

func (f *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, errEmptyKey
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return nil, false, err
	}
	v, ok := values[key]
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

func (f *File) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return errEmptyKey
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return err
	}
	values[key] = string(value)
	return f.save(values)
}

func (f *File) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(values, k)
	}
	if len(values) == 0 {
		return f.remove()
	}
	return f.save(values)
}

// Close deletes the backing file.
func (f *File) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remove()
}

func (f *File) remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove storage file: %w", err)
	}
	return nil
}

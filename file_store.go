package saga

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

// FileStore persists snapshots as one JSON file per instance.
type FileStore struct {
	basePath string
	mu       sync.Mutex
}

// NewFileStore creates a store writing into basePath, creating it if needed.
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileStore{
		basePath: basePath,
	}, nil
}

// Save writes the snapshot to a temporary file, syncs it and renames it into
// place, so a crash leaves either the old or the new snapshot.
func (f *FileStore) Save(ctx context.Context, inst *Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := checkFileID(inst.ID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(f.basePath, ".tmp-"+inst.ID+"-*")
	if err != nil {
		return fmt.Errorf("failed to create state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.filename(inst.ID)); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (f *FileStore) Load(ctx context.Context, id string) (*Instance, error) {
	if err := checkFileID(id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.read(f.filename(id), id)
}

func (f *FileStore) read(filename, id string) (*Instance, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("saga %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state for saga %s: %w", id, err)
	}
	return &inst, nil
}

func (f *FileStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filename(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	return nil
}

func (f *FileStore) List(ctx context.Context, statuses ...Status) ([]*Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list state directory: %w", err)
	}

	var out []*Instance
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		inst, err := f.read(filepath.Join(f.basePath, name), id)
		if err != nil {
			return nil, err
		}
		if matchStatus(inst.Status, statuses) {
			out = append(out, inst)
		}
	}
	sortByCreation(out)
	return out, nil
}

// checkFileID rejects ids that would escape basePath.
func checkFileID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("invalid saga id %q for file store", id)
	}
	return nil
}

func (f *FileStore) filename(id string) string {
	return filepath.Join(f.basePath, id+".json")
}

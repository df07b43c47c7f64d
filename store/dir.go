package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/petal-labs/storyline/loader"
	"github.com/petal-labs/storyline/model"
)

// DirStore keeps one YAML file per specification in a directory. Ids map
// to file names, so they may not contain path separators.
type DirStore struct {
	mu  sync.Mutex
	dir string
}

// NewDirStore creates a DirStore rooted at dir, creating it if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("spec dir store: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

func (s *DirStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("spec dir store: invalid id %q", id)
	}
	return filepath.Join(s.dir, id+".yaml"), nil
}

func (s *DirStore) Get(_ context.Context, id string) (model.SpecData, error) {
	path, err := s.path(id)
	if err != nil {
		return model.SpecData{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := loader.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.SpecData{}, ErrSpecNotFound
		}
		return model.SpecData{}, err
	}
	return d, nil
}

func (s *DirStore) Put(_ context.Context, d model.SpecData) (string, error) {
	if d.ID == "" {
		return "", errMissingID
	}
	path, err := s.path(d.ID)
	if err != nil {
		return "", err
	}
	d.Revision = newRevision()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := loader.WriteFile(path, d); err != nil {
		return "", err
	}
	return d.Revision, nil
}

func (s *DirStore) Delete(_ context.Context, id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("spec dir store delete: %w", err)
	}
	return nil
}

func (s *DirStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("spec dir store list: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".yaml" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".yaml"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Compile-time interface check.
var _ SpecStore = (*DirStore)(nil)

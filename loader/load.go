package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/storyline/model"
)

// Decode parses a specification document. A document without an id takes
// the file name without its extension.
func Decode(data []byte, path string) (model.SpecData, error) {
	if err := Detect(data, path); err != nil {
		return model.SpecData{}, err
	}
	jsonData, err := toJSON(data, path)
	if err != nil {
		return model.SpecData{}, err
	}

	var d model.SpecData
	if err := json.Unmarshal(jsonData, &d); err != nil {
		return model.SpecData{}, fmt.Errorf("parsing specification: %w", err)
	}
	if d.ID == "" {
		d.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if _, err := model.FromData(d); err != nil {
		return model.SpecData{}, &ValidationError{Path: path, Err: err}
	}
	return d, nil
}

// Encode renders d in the format implied by path.
func Encode(d model.SpecData, path string) ([]byte, error) {
	if isYAML(path) {
		out, err := yaml.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("encoding YAML: %w", err)
		}
		return out, nil
	}
	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding JSON: %w", err)
	}
	return append(out, '\n'), nil
}

// ReadFile loads one specification file.
func ReadFile(path string) (model.SpecData, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return model.SpecData{}, fmt.Errorf("reading file %s: %w", path, err)
	}
	return Decode(data, path)
}

// WriteFile stores d at path. The file is replaced atomically.
func WriteFile(path string, d model.SpecData) error {
	out, err := Encode(d, path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".storyline-*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ReadDir loads every specification file directly under dir, sorted by
// file name. Files that fail to load are reported together.
func ReadDir(dir string) ([]model.SpecData, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && IsSpecFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		out  []model.SpecData
		errs []error
	)
	for _, name := range names {
		d, err := ReadFile(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, d)
	}
	if len(errs) > 0 {
		return out, &LoadErrors{Errs: errs}
	}
	return out, nil
}

// ValidationError reports a document that parsed but is not a valid
// specification.
type ValidationError struct {
	Path string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %v", e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// LoadErrors collects the failures of ReadDir.
type LoadErrors struct {
	Errs []error
}

func (e *LoadErrors) Error() string {
	if len(e.Errs) == 1 {
		return e.Errs[0].Error()
	}
	return fmt.Sprintf("%d files failed to load (first: %v)", len(e.Errs), e.Errs[0])
}

func (e *LoadErrors) Unwrap() []error { return e.Errs }

// Package loader reads and writes specification files. Specifications are
// stored as YAML or JSON; the format follows the file extension.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a specification file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ErrNotSpecification is returned for documents that do not look like a
// specification.
var ErrNotSpecification = errors.New("loader: not a specification document")

// FormatFor returns the encoding used for path: .yaml and .yml are YAML,
// everything else is JSON.
func FormatFor(path string) Format {
	if isYAML(path) {
		return FormatYAML
	}
	return FormatJSON
}

// IsSpecFile reports whether path has an extension the loader reads.
func IsSpecFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// Detect checks that data parses as a specification document: a mapping
// with an id, a steps list or a header-only mode.
func Detect(data []byte, path string) error {
	var raw map[string]any
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing YAML: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing JSON: %w", err)
		}
	}
	if raw == nil {
		return fmt.Errorf("%w: empty document", ErrNotSpecification)
	}
	if mode, _ := raw["mode"].(string); mode == "header" {
		return nil
	}
	if _, ok := raw["steps"].([]any); ok {
		return nil
	}
	if id, _ := raw["id"].(string); id != "" {
		return nil
	}
	return fmt.Errorf("%w: no id or steps", ErrNotSpecification)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// yamlToJSON converts YAML to JSON bytes so that one set of struct tags and
// unmarshalers governs both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return json.Marshal(raw)
}

func toJSON(data []byte, path string) ([]byte, error) {
	if isYAML(path) {
		return yamlToJSON(data)
	}
	return data, nil
}

// Package hierarchy is the in-memory cache that resolves a specification
// id to its loaded Specification.
package hierarchy

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/petal-labs/storyline/model"
)

// Hierarchy caches specification data by id. Find builds the
// Specification once per stored value and returns the same object until
// the id is stored again.
type Hierarchy struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger
}

type entry struct {
	data model.SpecData
	spec *model.Specification
}

// New creates an empty Hierarchy. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Hierarchy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hierarchy{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Store records data under id, replacing any previous entry. Data without
// an id takes id.
func (h *Hierarchy) Store(id string, data model.SpecData) {
	data = data.Clone()
	if data.ID == "" {
		data.ID = id
	}
	h.mu.Lock()
	h.entries[id] = &entry{data: data}
	h.mu.Unlock()
}

// Lookup returns the Specification for id, building it on first use.
func (h *Hierarchy) Lookup(id string) (*model.Specification, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "spec", ID: id}
	}
	if e.spec == nil {
		spec, err := model.FromData(e.data)
		if err != nil {
			return nil, err
		}
		e.spec = spec
	}
	return e.spec, nil
}

// Find returns the Specification for id, or nil when id is unknown or its
// data cannot be built.
func (h *Hierarchy) Find(id string) *model.Specification {
	spec, err := h.Lookup(id)
	if err != nil {
		if !model.IsNotFound(err) {
			h.logger.Warn("cached specification is invalid", "spec", id, "error", err)
		}
		return nil
	}
	return spec
}

// Data returns a copy of the data stored for id.
func (h *Hierarchy) Data(id string) (model.SpecData, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[id]
	if !ok {
		return model.SpecData{}, false
	}
	return e.data.Clone(), true
}

// IDs returns the cached ids in sorted order.
func (h *Hierarchy) IDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.entries))
	for id := range h.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset drops every entry.
func (h *Hierarchy) Reset() {
	h.mu.Lock()
	h.entries = make(map[string]*entry)
	h.mu.Unlock()
}

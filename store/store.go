// Package store persists specifications on the engine side. Every Put
// assigns a fresh revision token.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/petal-labs/storyline/model"
)

// ErrSpecNotFound is returned when no specification has the requested id.
var ErrSpecNotFound = errors.New("specification not found")

// SpecStore reads and writes specification data.
type SpecStore interface {
	// Get returns the stored data for id or ErrSpecNotFound.
	Get(ctx context.Context, id string) (model.SpecData, error)

	// Put stores d under d.ID and returns the new revision.
	Put(ctx context.Context, d model.SpecData) (string, error)

	// Delete removes id. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// List returns every stored id in sorted order.
	List(ctx context.Context) ([]string, error)
}

var errMissingID = errors.New("specification id is required")

func newRevision() string {
	return uuid.NewString()
}

package correlation

import (
	"context"

	"osintgraph/backend/internal/state"
)

// Store is the persistence boundary of the engine. Implementations must make
// SaveBatch atomic: either every change in the batch is visible afterwards or
// none is.
type Store interface {
	LoadEntity(ctx context.Context, id string) (*state.Entity, error)
	SaveEntity(ctx context.Context, entity *state.Entity) error
	LoadRelationships(ctx context.Context, entityID string) ([]*state.Relationship, error)
	SaveRelationship(ctx context.Context, rel *state.Relationship) error
	SaveBatch(ctx context.Context, batch state.Batch) error
}

// Lister is implemented by stores that can enumerate every entity, which
// lets the engine hydrate its whole graph on start-up.
type Lister interface {
	ListEntityIDs(ctx context.Context) ([]string, error)
}

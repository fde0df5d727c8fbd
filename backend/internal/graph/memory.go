package graph

import (
	"context"
	"sort"
	"sync"

	"osintgraph/backend/internal/state"
	apperrors "osintgraph/backend/pkg/errors"
)

// MemoryStore keeps entities and relationships in process memory. It is the
// default store when no database is configured and the fake used in tests.
// Everything is cloned on the way in and out so callers never share state
// with the store.
type MemoryStore struct {
	mu            sync.RWMutex
	entities      map[string]*state.Entity
	relationships map[string]*state.Relationship
	provenance    []state.ProvenanceEntry
	batches       int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:      make(map[string]*state.Entity),
		relationships: make(map[string]*state.Relationship),
	}
}

func (s *MemoryStore) LoadEntity(ctx context.Context, id string) (*state.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ent, ok := s.entities[id]
	if !ok {
		return nil, apperrors.NewEntityNotFound(id)
	}
	return ent.Clone(), nil
}

func (s *MemoryStore) SaveEntity(ctx context.Context, entity *state.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := entity.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities[entity.ID] = entity.Clone()
	return nil
}

// LoadRelationships returns every relationship touching the entity, ordered
// by id.
func (s *MemoryStore) LoadRelationships(ctx context.Context, entityID string) ([]*state.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*state.Relationship{}
	for _, r := range s.relationships {
		if r.Touches(entityID) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveRelationship(ctx context.Context, rel *state.Relationship) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.relationships[rel.ID] = rel.Clone()
	return nil
}

// SaveBatch applies a batch atomically: it validates everything first and
// only then mutates, all under one lock.
func (s *MemoryStore) SaveBatch(ctx context.Context, batch state.Batch) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewContextCancelled("save batch", err)
	}
	for _, ent := range batch.Entities {
		if err := ent.Validate(); err != nil {
			return apperrors.NewStorageError("save batch "+batch.ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range batch.RemovedRelationships {
		delete(s.relationships, id)
	}
	for _, ent := range batch.Entities {
		s.entities[ent.ID] = ent.Clone()
	}
	for _, r := range batch.Relationships {
		s.relationships[r.ID] = r.Clone()
	}
	s.provenance = append(s.provenance, batch.Provenance...)
	s.batches++
	return nil
}

// ListEntityIDs returns every stored entity id in order
func (s *MemoryStore) ListEntityIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Provenance returns the stored audit entries for an entity in sequence order
func (s *MemoryStore) Provenance(entityID string) []state.ProvenanceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []state.ProvenanceEntry
	for _, p := range s.provenance {
		if p.EntityID == entityID || p.RelatedID == entityID {
			out = append(out, p)
		}
	}
	return out
}

// Stats reports how much the store holds
func (s *MemoryStore) Stats() (entities, relationships, batches int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), len(s.relationships), s.batches
}

// LoadProvenance is Provenance behind the same signature the database stores use
func (s *MemoryStore) LoadProvenance(ctx context.Context, entityID string) ([]state.ProvenanceEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewContextCancelled("load provenance", err)
	}
	return s.Provenance(entityID), nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

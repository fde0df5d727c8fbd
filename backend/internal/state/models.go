package state

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"osintgraph/backend/internal/matcher"
	"osintgraph/backend/internal/observation"
)

// EntityType is inferred from the attributes an entity carries
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityAccount      EntityType = "account"
	EntityOrganization EntityType = "organization"
)

// RelationshipType labels a correlation edge
type RelationshipType string

const (
	RelationshipNone       RelationshipType = ""
	RelationshipSamePerson RelationshipType = "same_person"
	RelationshipRelated    RelationshipType = "related"
	RelationshipPotential  RelationshipType = "potential"
	RelationshipSuspicious RelationshipType = "suspicious"
)

// Entity is a candidate real-world person, account or organization
type Entity struct {
	ID         string                        `json:"id"`
	Type       EntityType                    `json:"type"`
	Attributes []observation.AttributeRecord `json:"attributes"`
	Confidence float64                       `json:"confidence"`
	// AliasOf points at the surviving entity after a merge
	AliasOf   string    `json:"alias_of,omitempty"`
	Aliases   []string  `json:"aliases,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity creates an account entity with no attributes
func NewEntity(id string, at time.Time) *Entity {
	return &Entity{
		ID:         id,
		Type:       EntityAccount,
		Attributes: []observation.AttributeRecord{},
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

// IsAlias reports whether the entity was folded into another one
func (e *Entity) IsAlias() bool {
	return e.AliasOf != ""
}

// AddAttribute attaches the record unless the same fact from the same source
// is already present. It reports whether the entity changed.
func (e *Entity) AddAttribute(r observation.AttributeRecord) bool {
	for _, existing := range e.Attributes {
		if existing.SameFact(r) {
			return false
		}
	}
	e.Attributes = append(e.Attributes, r.Clone())
	return true
}

// HasKey reports whether any attribute carries the normalized value
func (e *Entity) HasKey(k observation.Key) bool {
	for _, a := range e.Attributes {
		if a.Key() == k {
			return true
		}
	}
	return false
}

// Keys returns the distinct normalized values, sorted
func (e *Entity) Keys() []observation.Key {
	seen := make(map[observation.Key]struct{}, len(e.Attributes))
	keys := make([]observation.Key, 0, len(e.Attributes))
	for _, a := range e.Attributes {
		k := a.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].Value < keys[j].Value
	})
	return keys
}

// Kinds returns the attribute kinds present on the entity
func (e *Entity) Kinds() map[observation.Kind]struct{} {
	kinds := make(map[observation.Kind]struct{})
	for _, a := range e.Attributes {
		kinds[a.Kind] = struct{}{}
	}
	return kinds
}

// Clone returns a deep copy
func (e *Entity) Clone() *Entity {
	c := *e
	c.Attributes = make([]observation.AttributeRecord, len(e.Attributes))
	for i, a := range e.Attributes {
		c.Attributes[i] = a.Clone()
	}
	if e.Aliases != nil {
		c.Aliases = append([]string(nil), e.Aliases...)
	}
	return &c
}

// Validate checks the fields every stored entity must have
func (e *Entity) Validate() error {
	if e.ID == "" {
		return ErrInvalidEntity{Field: "id", Reason: "cannot be empty"}
	}
	if e.AliasOf == e.ID {
		return ErrInvalidEntity{EntityID: e.ID, Field: "alias_of", Reason: "entity cannot alias itself"}
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return ErrInvalidEntity{EntityID: e.ID, Field: "confidence", Reason: fmt.Sprintf("%g is outside [0,1]", e.Confidence)}
	}
	return nil
}

// Evidence is one matcher signal that contributed to an edge, with the
// attribute kinds it compared.
type Evidence struct {
	matcher.Signal
	Kind observation.Kind `json:"kind"`
}

func (ev Evidence) key() string {
	return ev.Matcher + "\x00" + string(ev.Kind) + "\x00" + ev.Detail
}

// PairKey is the canonical (smaller id first) address of an unordered pair
type PairKey struct {
	A string
	B string
}

// NewPairKey orders the ids
func NewPairKey(x, y string) PairKey {
	if x > y {
		x, y = y, x
	}
	return PairKey{A: x, B: y}
}

// Other returns the id opposite to id in the pair
func (p PairKey) Other(id string) string {
	if p.A == id {
		return p.B
	}
	return p.A
}

// ID is a deterministic relationship id derived from the pair
func (p PairKey) ID() string {
	hash := sha256.Sum256([]byte(p.A + "-" + p.B))
	return fmt.Sprintf("%x", hash[:8])
}

// Relationship is a scored, typed edge between two entities. Source and
// target are stored in canonical order.
type Relationship struct {
	ID             string           `json:"id"`
	SourceEntityID string           `json:"source_entity_id"`
	TargetEntityID string           `json:"target_entity_id"`
	Type           RelationshipType `json:"relationship_type"`
	Confidence     float64          `json:"confidence"`
	Evidence       []Evidence       `json:"evidence"`
	DiscoveredAt   time.Time        `json:"discovered_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// NewRelationship creates an edge in canonical order
func NewRelationship(x, y string, typ RelationshipType, confidence float64, evidence []Evidence, at time.Time) *Relationship {
	p := NewPairKey(x, y)
	return &Relationship{
		ID:             p.ID(),
		SourceEntityID: p.A,
		TargetEntityID: p.B,
		Type:           typ,
		Confidence:     confidence,
		Evidence:       append([]Evidence(nil), evidence...),
		DiscoveredAt:   at,
		UpdatedAt:      at,
	}
}

// Pair returns the canonical pair key
func (r *Relationship) Pair() PairKey {
	return NewPairKey(r.SourceEntityID, r.TargetEntityID)
}

// Touches reports whether the edge has id as an endpoint
func (r *Relationship) Touches(id string) bool {
	return r.SourceEntityID == id || r.TargetEntityID == id
}

// MergeEvidence appends signals not already recorded and raises the
// strength of ones that are. It reports whether anything changed.
func (r *Relationship) MergeEvidence(incoming []Evidence) bool {
	index := make(map[string]int, len(r.Evidence))
	for i, ev := range r.Evidence {
		index[ev.key()] = i
	}
	changed := false
	for _, ev := range incoming {
		if i, ok := index[ev.key()]; ok {
			if ev.Strength > r.Evidence[i].Strength {
				r.Evidence[i].Strength = ev.Strength
				changed = true
			}
			continue
		}
		index[ev.key()] = len(r.Evidence)
		r.Evidence = append(r.Evidence, ev)
		changed = true
	}
	return changed
}

// Signals returns the evidence as plain matcher signals
func (r *Relationship) Signals() []matcher.Signal {
	out := make([]matcher.Signal, len(r.Evidence))
	for i, ev := range r.Evidence {
		out[i] = ev.Signal
	}
	return out
}

// Clone returns a deep copy
func (r *Relationship) Clone() *Relationship {
	c := *r
	c.Evidence = append([]Evidence(nil), r.Evidence...)
	return &c
}

// ProvenanceAction names what a provenance entry recorded
type ProvenanceAction string

const (
	ActionEntityCreated       ProvenanceAction = "entity_created"
	ActionAttributeAdded      ProvenanceAction = "attribute_added"
	ActionRelationshipCreated ProvenanceAction = "relationship_created"
	ActionRelationshipMerged  ProvenanceAction = "relationship_merged"
	ActionEntityMerged        ProvenanceAction = "entity_merged"
)

// ProvenanceEntry is one append-only audit record
type ProvenanceEntry struct {
	ID        string           `json:"id"`
	Sequence  int64            `json:"sequence"`
	BatchID   string           `json:"batch_id"`
	At        time.Time        `json:"at"`
	Action    ProvenanceAction `json:"action"`
	EntityID  string           `json:"entity_id"`
	RelatedID string           `json:"related_id,omitempty"`
	// Actor is the platform or matcher that produced the change
	Actor  string `json:"actor"`
	Detail string `json:"detail,omitempty"`
}

// Cluster is a connected component over confidence-filtered edges
type Cluster struct {
	ID         string           `json:"id"`
	EntityIDs  []string         `json:"entity_ids"`
	Edges      int              `json:"edges"`
	Confidence float64          `json:"confidence"`
	Type       RelationshipType `json:"dominant_type,omitempty"`
}

// EntityGraph is the neighbourhood of one entity
type EntityGraph struct {
	RootID string          `json:"root_id"`
	Depth  int             `json:"depth"`
	Nodes  []*Entity       `json:"nodes"`
	Edges  []*Relationship `json:"edges"`
}

// IngestResult summarises one batch
type IngestResult struct {
	BatchID              string   `json:"batch_id"`
	Observations         int      `json:"observations"`
	EntitiesCreated      int      `json:"entities_created"`
	EntitiesUpdated      int      `json:"entities_updated"`
	EntitiesMerged       int      `json:"entities_merged"`
	RelationshipsCreated int      `json:"relationships_created"`
	RelationshipsMerged  int      `json:"relationships_merged"`
	ObservationsDropped  int      `json:"observations_dropped"`
	MatcherErrors        int      `json:"matcher_errors"`
	Errors               []string `json:"errors,omitempty"`
}

// Batch is everything one ingest changed, written to the store as a unit
type Batch struct {
	ID                   string            `json:"id"`
	Entities             []*Entity         `json:"entities"`
	Relationships        []*Relationship   `json:"relationships"`
	RemovedRelationships []string          `json:"removed_relationships,omitempty"`
	Provenance           []ProvenanceEntry `json:"provenance,omitempty"`
}

// Empty reports whether the batch changes nothing
func (b Batch) Empty() bool {
	return len(b.Entities) == 0 && len(b.Relationships) == 0 && len(b.RemovedRelationships) == 0 && len(b.Provenance) == 0
}

// Errors

type ErrInvalidEntity struct {
	EntityID string
	Field    string
	Reason   string
}

func (e ErrInvalidEntity) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("invalid entity %s: %s - %s", e.EntityID, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid entity: %s - %s", e.Field, e.Reason)
}

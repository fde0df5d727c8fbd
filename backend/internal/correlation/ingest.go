package correlation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"osintgraph/backend/internal/matcher"
	"osintgraph/backend/internal/observation"
	"osintgraph/backend/internal/state"
	apperrors "osintgraph/backend/pkg/errors"
)

// txn collects what one batch changed on its working copy of the graph
type txn struct {
	g       *graphState
	batchID string
	at      time.Time

	created       map[string]struct{}
	updated       map[string]struct{}
	dirtyEntities map[string]struct{}
	dirtyEdges    map[state.PairKey]struct{}
	removed       map[string]struct{}
	provenance    []state.ProvenanceEntry

	relationshipsCreated int
	relationshipsMerged  int
	entitiesMerged       int
}

func newTxn(g *graphState, batchID string, at time.Time) *txn {
	return &txn{
		g:             g,
		batchID:       batchID,
		at:            at,
		created:       make(map[string]struct{}),
		updated:       make(map[string]struct{}),
		dirtyEntities: make(map[string]struct{}),
		dirtyEdges:    make(map[state.PairKey]struct{}),
		removed:       make(map[string]struct{}),
	}
}

func (t *txn) record(action state.ProvenanceAction, entityID, relatedID, actor, detail string) {
	t.g.sequence++
	entry := state.ProvenanceEntry{
		ID:        uuid.NewString(),
		Sequence:  t.g.sequence,
		BatchID:   t.batchID,
		At:        t.at,
		Action:    action,
		EntityID:  entityID,
		RelatedID: relatedID,
		Actor:     actor,
		Detail:    detail,
	}
	t.g.provenance = append(t.g.provenance, entry)
	t.provenance = append(t.provenance, entry)
}

func (t *txn) touchEntity(id string) {
	t.dirtyEntities[id] = struct{}{}
	if _, isNew := t.created[id]; !isNew {
		t.updated[id] = struct{}{}
	}
}

func (t *txn) batch() state.Batch {
	b := state.Batch{ID: t.batchID, Provenance: t.provenance}

	ids := make([]string, 0, len(t.dirtyEntities))
	for id := range t.dirtyEntities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b.Entities = append(b.Entities, t.g.entities[id].Clone())
	}

	for p := range t.dirtyEdges {
		if r, ok := t.g.edges[p]; ok {
			b.Relationships = append(b.Relationships, r.Clone())
		}
	}
	sortRelationships(b.Relationships)

	for id := range t.removed {
		b.RemovedRelationships = append(b.RemovedRelationships, id)
	}
	sort.Strings(b.RemovedRelationships)
	return b
}

// Ingest normalizes a batch of raw observations and correlates them into
// the graph. Observations that fail normalization are dropped and counted;
// the batch itself only fails on cancellation, an internal consistency
// violation or a store error, and in that case nothing is committed.
func (e *Engine) Ingest(ctx context.Context, observations []observation.RawObservation) (*state.IngestResult, error) {
	result := &state.IngestResult{
		BatchID:      uuid.NewString(),
		Observations: len(observations),
	}

	records := make([]observation.AttributeRecord, 0, len(observations))
	for i, raw := range observations {
		rec, err := e.normalizer.Normalize(raw)
		if err != nil {
			e.drop(result, i, raw.Platform, string(raw.Kind), err)
			continue
		}
		records = append(records, rec)
	}

	return result, e.ingest(ctx, records, result)
}

// IngestRecords correlates records that were normalized elsewhere. Records
// without a kind, normalized value or source are dropped.
func (e *Engine) IngestRecords(ctx context.Context, records []observation.AttributeRecord) (*state.IngestResult, error) {
	result := &state.IngestResult{
		BatchID:      uuid.NewString(),
		Observations: len(records),
	}

	valid := make([]observation.AttributeRecord, 0, len(records))
	for i, rec := range records {
		var reason string
		switch {
		case rec.NormalizedValue == "":
			reason = "normalized value is empty"
		case rec.Source == "":
			reason = "source is empty"
		default:
			if _, err := observation.ParseKind(string(rec.Kind)); err != nil {
				reason = err.Error()
			}
		}
		if reason != "" {
			e.drop(result, i, rec.Source, string(rec.Kind), apperrors.NewNormalizationError(string(rec.Kind), rec.Value, reason))
			continue
		}
		valid = append(valid, rec.Clone())
	}

	return result, e.ingest(ctx, valid, result)
}

func (e *Engine) drop(result *state.IngestResult, index int, platform, kind string, err error) {
	result.ObservationsDropped++
	result.Errors = append(result.Errors, fmt.Sprintf("observation %d: %v", index, err))
	e.logger.Warn("Dropping observation",
		zap.Int("index", index),
		zap.String("platform", platform),
		zap.String("kind", kind),
		zap.Error(err),
	)
}

func (e *Engine) ingest(ctx context.Context, records []observation.AttributeRecord, result *state.IngestResult) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewContextCancelled("ingest", err)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	work := e.snapshot().clone()
	tx := newTxn(work, result.BatchID, e.now().UTC())

	touched := e.attach(tx, records)
	pairs := candidatePairs(work, touched)

	outcomes, err := e.evaluate(ctx, work, pairs)
	if err != nil {
		return err
	}
	for _, o := range outcomes {
		for _, merr := range o.errs {
			result.MatcherErrors++
			e.logger.Warn("Matcher failed",
				zap.String("source_entity", o.pair.A),
				zap.String("target_entity", o.pair.B),
				zap.Error(merr),
			)
		}
	}

	e.apply(tx, outcomes)
	e.mergeAll(tx)
	e.refreshEntities(tx)

	if err := work.checkConsistency(); err != nil {
		e.logger.Error("Graph consistency check failed; batch discarded",
			zap.String("batch_id", tx.batchID),
			zap.Error(err),
		)
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperrors.NewContextCancelled("ingest", err)
	}

	if e.store != nil {
		if b := tx.batch(); !b.Empty() {
			if err := e.store.SaveBatch(ctx, b); err != nil {
				return apperrors.NewStorageError("save batch", err)
			}
		}
	}

	e.mu.Lock()
	e.graph = work
	e.mu.Unlock()

	result.EntitiesCreated = len(tx.created)
	result.EntitiesUpdated = len(tx.updated)
	result.EntitiesMerged = tx.entitiesMerged
	result.RelationshipsCreated = tx.relationshipsCreated
	result.RelationshipsMerged = tx.relationshipsMerged

	e.logger.Info("Batch ingested",
		zap.String("batch_id", result.BatchID),
		zap.Int("observations", result.Observations),
		zap.Int("dropped", result.ObservationsDropped),
		zap.Int("entities_created", result.EntitiesCreated),
		zap.Int("entities_updated", result.EntitiesUpdated),
		zap.Int("entities_merged", result.EntitiesMerged),
		zap.Int("relationships_created", result.RelationshipsCreated),
		zap.Int("relationships_merged", result.RelationshipsMerged),
		zap.Int("candidate_pairs", len(pairs)),
	)
	return nil
}

// attach performs dedup-on-insert and returns the entities that changed
func (e *Engine) attach(tx *txn, records []observation.AttributeRecord) map[string]struct{} {
	pages := make(map[string][]observation.AttributeRecord)
	for _, rec := range records {
		if anchor := profileAnchor(rec); anchor != "" {
			pages[anchor] = append(pages[anchor], rec)
		}
	}

	touched := make(map[string]struct{})
	for _, rec := range records {
		var ent *state.Entity
		if id := placement(tx.g, rec, pages[profileAnchor(rec)]); id != "" {
			ent = tx.g.entities[id]
		} else {
			ent = state.NewEntity(e.newID(), tx.at)
			tx.g.entities[ent.ID] = ent
			tx.created[ent.ID] = struct{}{}
			tx.record(state.ActionEntityCreated, ent.ID, "", rec.Source, "first sighting of "+rec.Key().String())
		}

		if !ent.AddAttribute(rec) {
			continue
		}
		ent.UpdatedAt = tx.at
		tx.g.indexAdd(rec.Key(), ent.ID)
		if anchor := profileAnchor(rec); anchor != "" {
			tx.g.profiles[anchor] = ent.ID
		}
		tx.touchEntity(ent.ID)
		touched[ent.ID] = struct{}{}
		tx.record(state.ActionAttributeAdded, ent.ID, "", rec.Source, rec.Key().String())
	}
	return touched
}

// placement picks the entity a record belongs to: the first holder of the
// same normalized value, then the entity fed by the same profile page. An
// entity whose declared identity contradicts the record, or any record from
// the same page in this batch, is skipped so the contradiction surfaces as an
// edge instead of being folded away.
func placement(g *graphState, rec observation.AttributeRecord, page []observation.AttributeRecord) string {
	fits := func(id string) bool {
		ent, ok := g.entities[id]
		if !ok || conflicts(ent, rec) {
			return false
		}
		for _, sibling := range page {
			if conflicts(ent, sibling) {
				return false
			}
		}
		return true
	}

	for _, id := range g.index[rec.Key()] {
		if fits(id) {
			return id
		}
	}
	if anchor := profileAnchor(rec); anchor != "" {
		if id, ok := g.profiles[anchor]; ok {
			if id = g.resolve(id); fits(id) {
				return id
			}
		}
	}
	return ""
}

func conflicts(ent *state.Entity, rec observation.AttributeRecord) bool {
	for _, a := range ent.Attributes {
		if c, _ := matcher.IdentityConflict(a, rec); c {
			return true
		}
	}
	return false
}

// candidatePairs pairs every changed entity with the canonical entities
// sharing at least one attribute kind with it.
func candidatePairs(g *graphState, touched map[string]struct{}) []state.PairKey {
	if len(touched) == 0 {
		return nil
	}
	buckets := make(map[observation.Kind][]string)
	for _, id := range g.canonicalIDs() {
		for kind := range g.entities[id].Kinds() {
			buckets[kind] = append(buckets[kind], id)
		}
	}

	seen := make(map[state.PairKey]struct{})
	for id := range touched {
		ent, ok := g.entities[id]
		if !ok || ent.IsAlias() {
			continue
		}
		for kind := range ent.Kinds() {
			for _, other := range buckets[kind] {
				if other != id {
					seen[state.NewPairKey(id, other)] = struct{}{}
				}
			}
		}
	}

	pairs := make([]state.PairKey, 0, len(seen))
	for p := range seen {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}

// apply upserts the scored pairs in canonical order
func (e *Engine) apply(tx *txn, outcomes []pairOutcome) {
	for _, o := range outcomes {
		if o.typ == state.RelationshipNone {
			continue
		}
		existing, ok := tx.g.edges[o.pair]
		if ok {
			e.mergeInto(tx, existing, o.evidence, o.confidence, o.actor)
			continue
		}
		r := state.NewRelationship(o.pair.A, o.pair.B, o.typ, o.confidence, o.evidence, tx.at)
		tx.g.putEdge(r)
		tx.dirtyEdges[o.pair] = struct{}{}
		tx.relationshipsCreated++
		tx.record(state.ActionRelationshipCreated, o.pair.A, o.pair.B, o.actor,
			fmt.Sprintf("%s confidence %.3f", r.Type, r.Confidence))
	}
}

// mergeInto folds new evidence into an existing edge. Confidence only ever
// goes up; the type is re-derived from the merged evidence.
func (e *Engine) mergeInto(tx *txn, r *state.Relationship, evidence []state.Evidence, confidence float64, actor string) {
	changed := r.MergeEvidence(evidence)
	if confidence > r.Confidence {
		r.Confidence = confidence
		changed = true
	}
	if typ := e.classifier.Classify(r.Confidence, r.Signals()); typ != state.RelationshipNone && typ != r.Type {
		r.Type = typ
		changed = true
	}
	if !changed {
		return
	}
	r.UpdatedAt = tx.at
	tx.dirtyEdges[r.Pair()] = struct{}{}
	tx.relationshipsMerged++
	tx.record(state.ActionRelationshipMerged, r.SourceEntityID, r.TargetEntityID, actor,
		fmt.Sprintf("%s confidence %.3f", r.Type, r.Confidence))
}

// mergeAll folds entities joined by a high-confidence same_person edge until
// no such edge is left between two canonical entities.
func (e *Engine) mergeAll(tx *txn) {
	for {
		merged := false
		for _, p := range sortedPairs(tx.dirtyEdges) {
			r, ok := tx.g.edges[p]
			if !ok || r.Type != state.RelationshipSamePerson || !atLeast(r.Confidence, e.cfg.MergeThreshold) {
				continue
			}
			if tx.g.entities[p.A].IsAlias() || tx.g.entities[p.B].IsAlias() {
				continue
			}
			e.mergeEntities(tx, p.A, p.B, r.Confidence)
			merged = true
		}
		if !merged {
			return
		}
	}
}

// mergeEntities folds alias into survivor. The alias keeps its id and
// attributes and points at the survivor; its edges move to the survivor,
// except the edge that justified the merge.
func (e *Engine) mergeEntities(tx *txn, survivorID, aliasID string, confidence float64) {
	g := tx.g
	survivor, alias := g.entities[survivorID], g.entities[aliasID]

	for _, rec := range alias.Attributes {
		survivor.AddAttribute(rec)
	}
	for _, k := range alias.Keys() {
		g.indexRemove(k, aliasID)
		g.indexAdd(k, survivorID)
	}
	for anchor, id := range g.profiles {
		if id == aliasID {
			g.profiles[anchor] = survivorID
		}
	}

	survivor.Aliases = append(survivor.Aliases, aliasID)
	for _, inner := range alias.Aliases {
		g.entities[inner].AliasOf = survivorID
		g.entities[inner].UpdatedAt = tx.at
		survivor.Aliases = append(survivor.Aliases, inner)
		tx.touchEntity(inner)
	}
	sort.Strings(survivor.Aliases)
	alias.Aliases = nil
	alias.AliasOf = survivorID
	alias.UpdatedAt = tx.at
	survivor.UpdatedAt = tx.at

	for _, r := range g.neighbours(aliasID) {
		p := r.Pair()
		other := p.Other(aliasID)
		if other == survivorID {
			continue
		}
		g.removeEdge(p)
		delete(tx.dirtyEdges, p)
		tx.removed[r.ID] = struct{}{}

		if existing, ok := g.edges[state.NewPairKey(survivorID, other)]; ok {
			e.mergeInto(tx, existing, r.Evidence, r.Confidence, "merge")
			continue
		}
		moved := state.NewRelationship(survivorID, other, r.Type, r.Confidence, r.Evidence, r.DiscoveredAt)
		moved.UpdatedAt = tx.at
		g.putEdge(moved)
		tx.dirtyEdges[moved.Pair()] = struct{}{}
		delete(tx.removed, moved.ID)
	}

	tx.touchEntity(survivorID)
	tx.touchEntity(aliasID)
	tx.entitiesMerged++
	tx.record(state.ActionEntityMerged, survivorID, aliasID, "correlation",
		fmt.Sprintf("same_person confidence %.3f", confidence))

	e.logger.Info("Entities merged",
		zap.String("survivor", survivorID),
		zap.String("alias", aliasID),
		zap.Float64("confidence", confidence),
	)
}

// refreshEntities recomputes type and confidence for every entity the batch
// changed or whose relationships changed.
func (e *Engine) refreshEntities(tx *txn) {
	ids := make(map[string]struct{}, len(tx.dirtyEntities))
	for id := range tx.dirtyEntities {
		ids[id] = struct{}{}
	}
	for p := range tx.dirtyEdges {
		ids[p.A] = struct{}{}
		ids[p.B] = struct{}{}
	}

	for id := range ids {
		ent, ok := tx.g.entities[id]
		if !ok {
			continue
		}
		typ := inferType(ent)
		conf := e.entityConfidence(tx.g, ent)
		if typ == ent.Type && conf == ent.Confidence {
			continue
		}
		ent.Type = typ
		ent.Confidence = conf
		tx.dirtyEntities[id] = struct{}{}
	}
}

func sortedPairs(set map[state.PairKey]struct{}) []state.PairKey {
	out := make([]state.PairKey, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

package correlation

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"osintgraph/backend/internal/constants"
	"osintgraph/backend/internal/matcher"
	"osintgraph/backend/internal/observation"
	"osintgraph/backend/internal/scoring"
	"osintgraph/backend/internal/state"
	apperrors "osintgraph/backend/pkg/errors"
)

// pairOutcome is the scored verdict on one candidate pair
type pairOutcome struct {
	pair       state.PairKey
	evidence   []state.Evidence
	confidence float64
	typ        state.RelationshipType
	// actor is the matcher behind the strongest primary signal
	actor string
	errs  []error
}

type sourcedSignal struct {
	sig    matcher.Signal
	ra, rb observation.AttributeRecord
}

// evaluate scores every candidate pair on a bounded worker pool. Workers
// only read the graph; each writes its own slot of the result slice.
func (e *Engine) evaluate(ctx context.Context, g *graphState, pairs []state.PairKey) ([]pairOutcome, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	freq := scoring.NewFrequencyIndex()
	for _, id := range g.canonicalIDs() {
		for _, k := range g.entities[id].Keys() {
			freq.Add(k)
		}
	}

	outcomes := make([]pairOutcome, len(pairs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.cfg.Workers)
	for i, p := range pairs {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			outcomes[i] = e.evaluatePair(g, freq, p)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, apperrors.NewContextCancelled("evaluate candidate pairs", err)
	}
	return outcomes, nil
}

func (e *Engine) evaluatePair(g *graphState, freq *scoring.FrequencyIndex, p state.PairKey) pairOutcome {
	out := pairOutcome{pair: p}
	a, b := g.entities[p.A], g.entities[p.B]

	var found []sourcedSignal
	for _, ra := range a.Attributes {
		for _, rb := range b.Attributes {
			for _, res := range e.matchers.Run(ra, rb) {
				if res.Failed() {
					out.errs = append(out.errs, res.Err)
					continue
				}
				if res.Signal != nil {
					found = append(found, sourcedSignal{sig: *res.Signal, ra: ra, rb: rb})
				}
			}
		}
	}

	best := strongestPrimary(found)
	if best == nil {
		return out
	}
	out.actor = best.sig.Matcher

	evidence := make(map[string]state.Evidence)
	add := func(ev state.Evidence) {
		k := ev.Matcher + "\x00" + string(ev.Kind) + "\x00" + ev.Detail
		if prev, ok := evidence[k]; ok && prev.Strength >= ev.Strength {
			return
		}
		evidence[k] = ev
	}
	for _, f := range found {
		var kind observation.Kind
		if f.ra.Kind == f.rb.Kind {
			kind = f.ra.Kind
		}
		add(state.Evidence{Signal: f.sig, Kind: kind})
	}
	add(state.Evidence{Signal: e.cfg.SourceQuality.Signal(best.sig, best.ra, best.rb), Kind: best.ra.Kind})
	add(state.Evidence{Signal: freq.Signal(best.sig, best.ra, best.rb), Kind: best.ra.Kind})

	out.evidence = make([]state.Evidence, 0, len(evidence))
	for _, ev := range evidence {
		out.evidence = append(out.evidence, ev)
	}
	sortEvidence(out.evidence)

	signals := make([]matcher.Signal, len(out.evidence))
	for i, ev := range out.evidence {
		signals[i] = ev.Signal
	}
	out.confidence = e.scorer.Score(signals)
	out.typ = e.classifier.Classify(out.confidence, signals)
	return out
}

// strongestPrimary picks the strongest non-corroborative attribute signal.
// Ties go to the lexically smaller detail so the choice is stable.
func strongestPrimary(found []sourcedSignal) *sourcedSignal {
	var best *sourcedSignal
	for i := range found {
		f := &found[i]
		if f.sig.Category != matcher.CategoryAttribute || f.sig.Corroborative || f.sig.Conflict || f.sig.Strength <= 0 {
			continue
		}
		if best == nil || f.sig.Strength > best.sig.Strength ||
			(f.sig.Strength == best.sig.Strength && f.sig.Detail < best.sig.Detail) {
			best = f
		}
	}
	return best
}

func sortEvidence(evs []state.Evidence) {
	sort.Slice(evs, func(i, j int) bool {
		x, y := evs[i], evs[j]
		if x.Strength != y.Strength {
			return x.Strength > y.Strength
		}
		if x.Matcher != y.Matcher {
			return x.Matcher < y.Matcher
		}
		if x.Kind != y.Kind {
			return x.Kind < y.Kind
		}
		return x.Detail < y.Detail
	})
}

// inferType: organizations carry only domains; anything with contact
// details, a declared real name or merged aliases is a person.
func inferType(ent *state.Entity) state.EntityType {
	if len(ent.Attributes) == 0 {
		return state.EntityAccount
	}
	onlyDomains := true
	for _, a := range ent.Attributes {
		if a.Kind != observation.KindDomain {
			onlyDomains = false
		}
		if a.Kind == observation.KindEmail || a.Kind == observation.KindPhone || a.Meta(constants.MetaRealName) != "" {
			return state.EntityPerson
		}
	}
	if onlyDomains {
		return state.EntityOrganization
	}
	if len(ent.Aliases) > 0 {
		return state.EntityPerson
	}
	return state.EntityAccount
}

// entityConfidence is a noisy-OR over the best source quality per platform
// and the entity's non-suspicious relationships, each at half weight.
func (e *Engine) entityConfidence(g *graphState, ent *state.Entity) float64 {
	bySource := make(map[string]float64)
	for _, a := range ent.Attributes {
		if q := e.cfg.SourceQuality.Of(a); q > bySource[a.Source] {
			bySource[a.Source] = q
		}
	}
	sources := make([]string, 0, len(bySource))
	for s := range bySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	miss := 1.0
	for _, s := range sources {
		miss *= 1 - bySource[s]
	}
	for _, r := range g.neighbours(ent.ID) {
		if r.Type == state.RelationshipSuspicious {
			continue
		}
		miss *= 1 - matcher.Clamp01(r.Confidence)/2
	}
	return matcher.Clamp01(1 - miss)
}

package correlation

import (
	"osintgraph/backend/internal/matcher"
	"osintgraph/backend/internal/state"
)

const (
	exactStrength = 1.0
	// thresholdEpsilon absorbs float error in weighted averages that land
	// exactly on a threshold
	thresholdEpsilon = 1e-9
)

func atLeast(v, threshold float64) bool {
	return v >= threshold-thresholdEpsilon
}

// Classifier labels an edge from its confidence and the mix of signals
// behind it.
type Classifier struct {
	Potential    float64
	Related      float64
	SamePerson   float64
	StrongSignal float64
}

// NewClassifier takes its thresholds from the engine config
func NewClassifier(cfg Config) Classifier {
	return Classifier{
		Potential:    cfg.MinConfidence,
		Related:      cfg.RelatedThreshold,
		SamePerson:   cfg.SamePersonThreshold,
		StrongSignal: cfg.StrongSignal,
	}
}

// Classify returns RelationshipNone when the pair should not become an edge.
//
// Contradicting identity evidence next to a strong match is suspicious at
// any confidence. same_person needs an exact primary match on top of the
// confidence threshold; without one a high score stays related.
func (c Classifier) Classify(confidence float64, signals []matcher.Signal) state.RelationshipType {
	conflict, strong, exact := false, false, false
	for _, s := range signals {
		if s.Conflict {
			conflict = true
			continue
		}
		if s.Category != matcher.CategoryAttribute || s.Corroborative {
			continue
		}
		v := s.Clamped()
		if atLeast(v, c.StrongSignal) {
			strong = true
		}
		if atLeast(v, exactStrength) {
			exact = true
		}
	}

	switch {
	case conflict && strong:
		return state.RelationshipSuspicious
	case atLeast(confidence, c.SamePerson) && exact:
		return state.RelationshipSamePerson
	case atLeast(confidence, c.Related):
		return state.RelationshipRelated
	case atLeast(confidence, c.Potential):
		return state.RelationshipPotential
	}
	return state.RelationshipNone
}

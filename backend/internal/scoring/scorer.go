package scoring

import (
	"osintgraph/backend/internal/matcher"
)

// Breakdown is the per-category view of one score. Category values are the
// strongest clamped signal strength seen in that category.
type Breakdown struct {
	Attribute     float64 `json:"attribute"`
	SourceQuality float64 `json:"source_quality"`
	Temporal      float64 `json:"temporal"`
	Uniqueness    float64 `json:"uniqueness"`
	HasPrimary    bool    `json:"has_primary"`
	HasTemporal   bool    `json:"has_temporal"`
	Total         float64 `json:"total"`

	weights      Weights
	denom        float64
	temporalUsed bool
}

// Contribution is the share of Total contributed by one category
func (b Breakdown) Contribution(c matcher.Category) float64 {
	if b.denom == 0 || !b.HasPrimary {
		return 0
	}
	var v float64
	switch c {
	case matcher.CategoryAttribute:
		v = b.Attribute
	case matcher.CategorySourceQuality:
		v = b.SourceQuality
	case matcher.CategoryTemporal:
		if !b.temporalUsed {
			return 0
		}
		v = b.Temporal
	case matcher.CategoryUniqueness:
		v = b.Uniqueness
	}
	return b.weights.Of(c) * v / b.denom
}

// Scorer computes the weighted confidence of a candidate pair
type Scorer struct {
	weights Weights
}

// NewScorer validates and normalizes the weights up front so scoring itself
// never fails.
func NewScorer(w Weights) (*Scorer, error) {
	n, err := w.Normalize()
	if err != nil {
		return nil, err
	}
	return &Scorer{weights: n}, nil
}

// Weights returns the normalized weights in use
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score returns the combined confidence in [0,1]
func (s *Scorer) Score(signals []matcher.Signal) float64 {
	return s.Breakdown(signals).Total
}

// Breakdown scores the signals and keeps the per-category detail.
//
// Within a category only the strongest signal counts. A pair with no primary
// attribute signal scores zero because temporal and metadata evidence only
// corroborate. Temporal evidence joins the weighted average only when it
// raises the total, so corroboration never lowers a score.
func (s *Scorer) Breakdown(signals []matcher.Signal) Breakdown {
	b := Breakdown{weights: s.weights}
	for _, sig := range signals {
		v := sig.Clamped()
		switch sig.Category {
		case matcher.CategoryAttribute:
			if v > b.Attribute {
				b.Attribute = v
			}
			if !sig.Corroborative && !sig.Conflict && v > 0 {
				b.HasPrimary = true
			}
		case matcher.CategorySourceQuality:
			if v > b.SourceQuality {
				b.SourceQuality = v
			}
		case matcher.CategoryTemporal:
			b.HasTemporal = true
			if v > b.Temporal {
				b.Temporal = v
			}
		case matcher.CategoryUniqueness:
			if v > b.Uniqueness {
				b.Uniqueness = v
			}
		}
	}
	if !b.HasPrimary {
		return b
	}

	w := s.weights
	b.denom = w.Attribute + w.SourceQuality + w.Uniqueness
	total := w.Attribute*b.Attribute + w.SourceQuality*b.SourceQuality + w.Uniqueness*b.Uniqueness
	if b.denom > 0 {
		b.Total = matcher.Clamp01(total / b.denom)
	}
	if b.HasTemporal {
		denom := b.denom + w.Temporal
		if denom > 0 {
			if with := matcher.Clamp01((total + w.Temporal*b.Temporal) / denom); with > b.Total {
				b.Total, b.denom, b.temporalUsed = with, denom, true
			}
		}
	}
	return b
}

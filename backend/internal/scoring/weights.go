// Package scoring combines matcher signals into one calibrated confidence
// per candidate pair.
package scoring

import (
	"fmt"
	"math"

	"osintgraph/backend/internal/constants"
	"osintgraph/backend/internal/matcher"
	apperrors "osintgraph/backend/pkg/errors"
)

const weightSumTolerance = 1e-6

// Weights are the per-category weights of the confidence score
type Weights struct {
	Attribute     float64 `json:"attribute_weight"`
	SourceQuality float64 `json:"source_quality_weight"`
	Temporal      float64 `json:"temporal_consistency_weight"`
	Uniqueness    float64 `json:"uniqueness_weight"`
}

// DefaultWeights returns 30/20/20/30
func DefaultWeights() Weights {
	return Weights{
		Attribute:     constants.DefaultAttributeWeight,
		SourceQuality: constants.DefaultSourceQualityWeight,
		Temporal:      constants.DefaultTemporalWeight,
		Uniqueness:    constants.DefaultUniquenessWeight,
	}
}

// Sum of all weights
func (w Weights) Sum() float64 {
	return w.Attribute + w.SourceQuality + w.Temporal + w.Uniqueness
}

// Of returns the weight for a category
func (w Weights) Of(c matcher.Category) float64 {
	switch c {
	case matcher.CategoryAttribute:
		return w.Attribute
	case matcher.CategorySourceQuality:
		return w.SourceQuality
	case matcher.CategoryTemporal:
		return w.Temporal
	case matcher.CategoryUniqueness:
		return w.Uniqueness
	}
	return 0
}

// Normalize rescales the weights to sum to 1.0. Negative, non-finite or
// all-zero weights cannot be rescaled and yield a ScoringError.
func (w Weights) Normalize() (Weights, error) {
	fields := []struct {
		name  string
		value float64
	}{
		{"attribute_weight", w.Attribute},
		{"source_quality_weight", w.SourceQuality},
		{"temporal_consistency_weight", w.Temporal},
		{"uniqueness_weight", w.Uniqueness},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return Weights{}, apperrors.NewScoringError(f.name, "must be a finite number")
		}
		if f.value < 0 {
			return Weights{}, apperrors.NewScoringError(f.name, fmt.Sprintf("must not be negative (got %g)", f.value))
		}
	}

	sum := w.Sum()
	if sum <= 0 {
		return Weights{}, apperrors.NewScoringError("weights", "at least one weight must be positive")
	}
	n := Weights{
		Attribute:     w.Attribute / sum,
		SourceQuality: w.SourceQuality / sum,
		Temporal:      w.Temporal / sum,
		Uniqueness:    w.Uniqueness / sum,
	}
	if math.Abs(n.Sum()-1) > weightSumTolerance {
		return Weights{}, apperrors.NewScoringError("weights", fmt.Sprintf("do not sum to 1.0 after normalization (%g)", n.Sum()))
	}
	return n, nil
}

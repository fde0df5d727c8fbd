package correlation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"osintgraph/backend/internal/constants"
	"osintgraph/backend/internal/matcher"
	"osintgraph/backend/internal/observation"
	"osintgraph/backend/internal/scoring"
	apperrors "osintgraph/backend/pkg/errors"
)

// Config is everything an engine instance needs. There are no package level
// defaults read at run time; two engines with different configs never
// interfere.
type Config struct {
	Weights scoring.Weights

	// MinConfidence drops pairs below it; it is also the potential floor
	MinConfidence       float64
	RelatedThreshold    float64
	SamePersonThreshold float64
	MergeThreshold      float64
	StrongSignal        float64

	Workers        int
	ClusterTimeout time.Duration

	Normalizer    observation.Config
	Matchers      matcher.Config
	SourceQuality scoring.SourceQuality
}

// DefaultConfig returns the stock thresholds and weights
func DefaultConfig() Config {
	return Config{
		Weights:             scoring.DefaultWeights(),
		MinConfidence:       constants.DefaultMinConfidence,
		RelatedThreshold:    constants.DefaultRelatedThreshold,
		SamePersonThreshold: constants.DefaultSamePersonThreshold,
		MergeThreshold:      constants.DefaultMergeThreshold,
		StrongSignal:        constants.DefaultStrongSignal,
		Workers:             constants.DefaultWorkers,
		ClusterTimeout:      constants.DefaultClusterTimeout,
		Normalizer:          observation.DefaultConfig(),
		Matchers:            matcher.DefaultConfig(),
		SourceQuality:       scoring.DefaultSourceQuality(),
	}
}

// validateThresholds checks that every threshold is a probability and that
// they are ordered min <= related <= same_person <= merge.
func (c Config) validateThresholds() error {
	named := []struct {
		name  string
		value float64
	}{
		{"min_confidence", c.MinConfidence},
		{"related_threshold", c.RelatedThreshold},
		{"same_person_threshold", c.SamePersonThreshold},
		{"merge_threshold", c.MergeThreshold},
		{"strong_signal", c.StrongSignal},
	}
	for _, n := range named {
		if n.value < 0 || n.value > 1 || n.value != n.value {
			return apperrors.NewScoringError(n.name, fmt.Sprintf("must be within [0,1] (got %g)", n.value))
		}
	}
	if c.MinConfidence > c.RelatedThreshold || c.RelatedThreshold > c.SamePersonThreshold || c.SamePersonThreshold > c.MergeThreshold {
		return apperrors.NewScoringError("thresholds", "must satisfy min_confidence <= related <= same_person <= merge")
	}
	return nil
}

// Option customises an Engine
type Option func(*Engine)

// WithStore persists every committed batch
func WithStore(s Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithLogger replaces the process logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator replaces the entity id source. Ids must sort in creation
// order because the lower id survives a merge.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithMatchers replaces the stock matcher set
func WithMatchers(s *matcher.Set) Option {
	return func(e *Engine) {
		if s != nil {
			e.matchers = s
		}
	}
}

// newEntityID returns a time-ordered UUIDv7, falling back to v4
func newEntityID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Package matcher holds the pairwise attribute matchers. Matchers are pure:
// they read two records and return a bounded-strength signal, never touching
// shared state, so any number of pairs can be matched concurrently.
package matcher

import (
	"fmt"
	"math"
	"time"

	"osintgraph/backend/internal/constants"
	"osintgraph/backend/internal/observation"
	apperrors "osintgraph/backend/pkg/errors"
)

// Category groups signals for weighting by the scorer
type Category string

const (
	CategoryAttribute     Category = "attribute"
	CategorySourceQuality Category = "source_quality"
	CategoryTemporal      Category = "temporal"
	CategoryUniqueness    Category = "uniqueness"
)

// Signal is one matcher's verdict on a pair of records
type Signal struct {
	Matcher  string   `json:"matcher"`
	Category Category `json:"category"`
	Strength float64  `json:"strength"`
	Detail   string   `json:"detail"`
	// Corroborative signals raise confidence in a pair that already has a
	// primary attribute match but cannot justify a relationship alone.
	Corroborative bool `json:"corroborative,omitempty"`
	// Conflict marks evidence that the two sides are different identities.
	Conflict bool `json:"conflict,omitempty"`
}

// Clamped returns the strength forced into [0,1]; NaN counts as 0
func (s Signal) Clamped() float64 {
	return Clamp01(s.Strength)
}

// Clamp01 bounds v to [0,1]
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Matcher compares two attribute records. It returns nil when it does not
// apply to the pair or finds no evidence.
type Matcher interface {
	Name() string
	Match(a, b observation.AttributeRecord) *Signal
}

// Result is either a (possibly nil) signal or the error that stopped the
// matcher from producing one.
type Result struct {
	Matcher string
	Signal  *Signal
	Err     error
}

// Ok wraps a signal
func Ok(name string, s *Signal) Result { return Result{Matcher: name, Signal: s} }

// Err wraps a failure
func Err(name string, err error) Result { return Result{Matcher: name, Err: err} }

// Failed reports whether the matcher errored
func (r Result) Failed() bool { return r.Err != nil }

// Config tunes the stock matchers
type Config struct {
	TemporalWindow time.Duration
	// AliasPatternFloor is passed to UsernameMatcher.PatternFloor
	AliasPatternFloor float64
}

// DefaultConfig returns the stock matcher configuration
func DefaultConfig() Config {
	return Config{TemporalWindow: constants.DefaultTemporalWindow}
}

// Set runs a fixed list of matchers with per-matcher failure isolation
type Set struct {
	matchers []Matcher
}

// NewSet creates a set from explicit matchers
func NewSet(matchers ...Matcher) *Set {
	return &Set{matchers: matchers}
}

// DefaultSet returns every stock matcher
func DefaultSet(cfg Config) *Set {
	if cfg.TemporalWindow <= 0 {
		cfg.TemporalWindow = constants.DefaultTemporalWindow
	}
	return NewSet(
		UsernameMatcher{PatternFloor: cfg.AliasPatternFloor},
		EmailMatcher{},
		PhoneMatcher{},
		MetadataMatcher{},
		NetworkMatcher{},
		TemporalMatcher{Window: cfg.TemporalWindow},
	)
}

// Names lists the matcher names in run order
func (s *Set) Names() []string {
	names := make([]string, len(s.matchers))
	for i, m := range s.matchers {
		names[i] = m.Name()
	}
	return names
}

// Run applies every matcher to the pair. A panicking matcher yields an Err
// result; the others still run.
func (s *Set) Run(a, b observation.AttributeRecord) []Result {
	results := make([]Result, 0, len(s.matchers))
	for _, m := range s.matchers {
		results = append(results, safeMatch(m, a, b))
	}
	return results
}

func safeMatch(m Matcher, a, b observation.AttributeRecord) (res Result) {
	name := m.Name()
	defer func() {
		if r := recover(); r != nil {
			res = Err(name, apperrors.NewMatcherError(name, fmt.Sprint(r), nil))
		}
	}()
	sig := m.Match(a, b)
	if sig != nil {
		sig.Matcher = name
		sig.Strength = sig.Clamped()
	}
	return Ok(name, sig)
}

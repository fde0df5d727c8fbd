package scoring

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"osintgraph/backend/internal/constants"
	"osintgraph/backend/internal/matcher"
	"osintgraph/backend/internal/observation"
)

// SourceQuality rates how much a record's origin can be trusted
type SourceQuality struct {
	Default   float64            `json:"default"`
	Verified  float64            `json:"verified"`
	Platforms map[string]float64 `json:"platforms,omitempty"`
}

// DefaultSourceQuality rates every unverified platform the same
func DefaultSourceQuality() SourceQuality {
	return SourceQuality{
		Default:  constants.DefaultSourceQuality,
		Verified: constants.VerifiedSourceQuality,
	}
}

// Of returns the quality of one record
func (q SourceQuality) Of(r observation.AttributeRecord) float64 {
	if r.Verified {
		return matcher.Clamp01(q.Verified)
	}
	if v, ok := q.Platforms[r.Source]; ok {
		return matcher.Clamp01(v)
	}
	return matcher.Clamp01(q.Default)
}

// Signal rates the pair of records behind the primary match. Trusted
// sources back a match; they do not stand in for one, so the rating is
// scaled by the match strength.
func (q SourceQuality) Signal(primary matcher.Signal, a, b observation.AttributeRecord) matcher.Signal {
	qa, qb := q.Of(a), q.Of(b)
	sa, sb := a.Source, b.Source
	if sa > sb {
		sa, sb = sb, sa
	}
	return matcher.Signal{
		Matcher:  "source_quality",
		Category: matcher.CategorySourceQuality,
		Strength: primary.Clamped() * (qa + qb) / 2,
		Detail:   fmt.Sprintf("sources %s / %s rated %.2f", sa, sb, (qa+qb)/2),
	}
}

const (
	commonValuePenalty = 0.4
	shortValuePenalty  = 0.5
	shortValueRunes    = 4
)

// commonValues are low-entropy handles and very common first names
var commonValues = map[string]struct{}{
	"admin": {}, "root": {}, "test": {}, "user": {}, "info": {}, "contact": {},
	"support": {}, "hello": {}, "mail": {}, "office": {}, "guest": {},
	"john": {}, "james": {}, "mary": {}, "michael": {}, "david": {}, "robert": {},
	"maria": {}, "jennifer": {}, "linda": {}, "william": {}, "anna": {}, "alex": {},
	"chris": {}, "mike": {}, "sarah": {}, "daniel": {}, "thomas": {}, "paul": {},
	"mark": {}, "laura": {}, "peter": {}, "lisa": {}, "emma": {}, "alice": {}, "bob": {},
}

// FrequencyIndex counts how many entities carry each normalized value. It is
// built once per batch and only read while pairs are evaluated.
type FrequencyIndex struct {
	counts map[observation.Key]int
}

// NewFrequencyIndex creates an empty index
func NewFrequencyIndex() *FrequencyIndex {
	return &FrequencyIndex{counts: make(map[observation.Key]int)}
}

// Add records one more entity carrying the key
func (f *FrequencyIndex) Add(k observation.Key) {
	f.counts[k]++
}

// Count returns how many entities carry the key
func (f *FrequencyIndex) Count(k observation.Key) int {
	return f.counts[k]
}

// Factor is the inverse-frequency weight of a record's value in (0,1]. A
// value shared by the compared pair alone keeps full weight; every further
// holder and low-entropy values push it down.
func (f *FrequencyIndex) Factor(r observation.AttributeRecord) float64 {
	factor := 1.0
	if n := f.Count(r.Key()); n > 2 {
		factor = 1 / (1 + math.Log(float64(n)/2))
	}
	return factor * entropyFactor(r)
}

// Signal scales the primary match by the rarity of the values behind it
func (f *FrequencyIndex) Signal(primary matcher.Signal, a, b observation.AttributeRecord) matcher.Signal {
	factor := math.Min(f.Factor(a), f.Factor(b))
	return matcher.Signal{
		Matcher:  "uniqueness",
		Category: matcher.CategoryUniqueness,
		Strength: primary.Clamped() * factor,
		Detail:   fmt.Sprintf("%s match weighted by value rarity %.2f", primary.Matcher, factor),
	}
}

func entropyFactor(r observation.AttributeRecord) float64 {
	v := r.NormalizedValue
	switch r.Kind {
	case observation.KindEmail:
		if at := strings.LastIndex(v, "@"); at > 0 {
			v = v[:at]
		}
	case observation.KindUsername:
	default:
		return 1
	}

	core := strings.Map(func(c rune) rune {
		if c >= '0' && c <= '9' || c == '_' || c == '.' || c == '-' {
			return -1
		}
		return c
	}, strings.ToLower(v))

	if _, ok := commonValues[core]; ok {
		return commonValuePenalty
	}
	if utf8.RuneCountInString(core) < shortValueRunes {
		return shortValuePenalty
	}
	return 1
}

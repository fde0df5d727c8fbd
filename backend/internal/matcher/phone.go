package matcher

import (
	"strings"

	"osintgraph/backend/internal/observation"
)

const (
	phoneExactStrength    = 1.0
	phoneNationalStrength = 0.7
	phoneNationalDigits   = 10
	phoneMinDigits        = 7
)

// PhoneMatcher compares numbers. A number without a country code is only
// compared on its national suffix; no country is ever guessed.
type PhoneMatcher struct{}

func (PhoneMatcher) Name() string { return "phone" }

func (PhoneMatcher) Match(a, b observation.AttributeRecord) *Signal {
	if a.Kind != observation.KindPhone || b.Kind != observation.KindPhone {
		return nil
	}
	x, y := a.NormalizedValue, b.NormalizedValue
	if x == "" || y == "" {
		return nil
	}
	if x == y {
		return &Signal{Category: CategoryAttribute, Strength: phoneExactStrength, Detail: "exact number match"}
	}
	partial := a.NormalizedConfidence == observation.NormalizedPartial ||
		b.NormalizedConfidence == observation.NormalizedPartial
	if !partial {
		return nil
	}

	dx, dy := strings.TrimPrefix(x, "+"), strings.TrimPrefix(y, "+")
	n := phoneNationalDigits
	if len(dx) < n {
		n = len(dx)
	}
	if len(dy) < n {
		n = len(dy)
	}
	if n < phoneMinDigits {
		return nil
	}
	if dx[len(dx)-n:] == dy[len(dy)-n:] {
		return &Signal{
			Category: CategoryAttribute,
			Strength: phoneNationalStrength,
			Detail:   "national number match (country code unknown)",
		}
	}
	return nil
}

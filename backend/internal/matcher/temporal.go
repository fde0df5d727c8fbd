package matcher

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"osintgraph/backend/internal/constants"
	"osintgraph/backend/internal/observation"
)

const (
	temporalCreationStrength = 0.3
	temporalActivityStrength = 0.2
	activityMinCosine        = 0.8
)

// TemporalMatcher compares account creation times and activity-hour
// histograms. Its signals corroborate; they never justify an edge alone.
type TemporalMatcher struct {
	Window time.Duration
}

func (TemporalMatcher) Name() string { return "temporal" }

func (m TemporalMatcher) Match(a, b observation.AttributeRecord) *Signal {
	window := m.Window
	if window <= 0 {
		window = constants.DefaultTemporalWindow
	}

	var reasons []string
	strength := 0.0

	ca, okA := CreatedAt(a)
	cb, okB := CreatedAt(b)
	if okA && okB {
		delta := ca.Sub(cb)
		if delta < 0 {
			delta = -delta
		}
		if delta <= window {
			strength = temporalCreationStrength
			reasons = append(reasons, fmt.Sprintf("accounts created %s apart", delta.Round(time.Minute)))
		}
	}

	ha, okA := ActivityHistogram(a)
	hb, okB := ActivityHistogram(b)
	if okA && okB {
		if shared, ok := sharedPeak(ha, hb); ok {
			if strength < temporalActivityStrength {
				strength = temporalActivityStrength
			}
			reasons = append(reasons, fmt.Sprintf("shared peak activity hour %02d:00 UTC", shared))
		} else if cosine(ha, hb) >= activityMinCosine {
			if strength < temporalActivityStrength {
				strength = temporalActivityStrength
			}
			reasons = append(reasons, "overlapping activity hours")
		}
	}

	if strength == 0 {
		return nil
	}
	return &Signal{
		Category:      CategoryTemporal,
		Strength:      strength,
		Detail:        strings.Join(reasons, "; "),
		Corroborative: true,
	}
}

// CreatedAt reads the account creation time from record metadata
func CreatedAt(r observation.AttributeRecord) (time.Time, bool) {
	raw := r.Meta(constants.MetaCreatedAt)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ActivityHistogram builds a 24-bin UTC histogram from the comma separated
// local hours in "active_hours", shifted by "utc_offset" when present.
func ActivityHistogram(r observation.AttributeRecord) ([24]float64, bool) {
	var hist [24]float64
	raw := r.Meta(constants.MetaActiveHours)
	if raw == "" {
		return hist, false
	}
	offset := parseOffset(r.Meta(constants.MetaUTCOffset))

	n := 0
	for _, part := range strings.Split(raw, ",") {
		h, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || h < 0 || h > 23 {
			continue
		}
		utc := ((h-offset)%24 + 24) % 24
		hist[utc]++
		n++
	}
	return hist, n > 0
}

// parseOffset accepts "+02:00", "-5", "+0530" and returns whole hours
func parseOffset(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	sign := 1
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}
	s = strings.ReplaceAll(s, ":", "")
	if len(s) > 2 {
		s = s[:len(s)-2]
	}
	h, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return sign * h
}

func peaks(h [24]float64) map[int]struct{} {
	top := 0.0
	for _, v := range h {
		if v > top {
			top = v
		}
	}
	out := make(map[int]struct{})
	if top == 0 {
		return out
	}
	for i, v := range h {
		if v == top {
			out[i] = struct{}{}
		}
	}
	return out
}

func sharedPeak(a, b [24]float64) (int, bool) {
	pa, pb := peaks(a), peaks(b)
	for hour := 0; hour < 24; hour++ {
		_, inA := pa[hour]
		_, inB := pb[hour]
		if inA && inB {
			return hour, true
		}
	}
	return 0, false
}

func cosine(a, b [24]float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

package matcher

import (
	"fmt"

	"osintgraph/backend/internal/constants"
	"osintgraph/backend/internal/observation"
)

// metadataCap bounds metadata evidence; profile text only corroborates
const metadataCap = 0.6

var profileFields = []string{
	constants.MetaDisplayName,
	constants.MetaRealName,
	constants.MetaBio,
	constants.MetaLocation,
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "of": {}, "in": {}, "at": {}, "on": {}, "for": {},
	"to": {}, "is": {}, "my": {}, "me": {}, "an": {}, "with": {}, "from": {},
}

// MetadataMatcher compares free-text profile fields (display name, bio,
// location) by token overlap. It also reports contradicting verified
// identities as a conflict signal.
type MetadataMatcher struct{}

func (MetadataMatcher) Name() string { return "metadata" }

func (MetadataMatcher) Match(a, b observation.AttributeRecord) *Signal {
	if conflict, detail := IdentityConflict(a, b); conflict {
		return &Signal{Category: CategoryAttribute, Detail: detail, Corroborative: true, Conflict: true}
	}

	best, bestField := 0.0, ""
	for _, field := range profileFields {
		va, vb := a.Meta(field), b.Meta(field)
		if va == "" || vb == "" {
			continue
		}
		if o := TokenOverlap(va, vb); o > best {
			best, bestField = o, field
		}
	}
	if a.Kind == observation.KindMetadata && b.Kind == observation.KindMetadata {
		if o := TokenOverlap(a.NormalizedValue, b.NormalizedValue); o > best {
			best, bestField = o, "profile text"
		}
	}
	if best == 0 {
		return nil
	}

	strength := best
	if strength > metadataCap {
		strength = metadataCap
	}
	return &Signal{
		Category:      CategoryAttribute,
		Strength:      strength,
		Detail:        fmt.Sprintf("%s token overlap %.2f", bestField, best),
		Corroborative: true,
	}
}

// IdentityConflict reports whether two records declare different real-world
// identities: both carry a real name, at least one side is verified, and the
// names share no tokens.
func IdentityConflict(a, b observation.AttributeRecord) (bool, string) {
	na, nb := a.Meta(constants.MetaRealName), b.Meta(constants.MetaRealName)
	if na == "" || nb == "" || (!a.Verified && !b.Verified) {
		return false, ""
	}
	if TokenOverlap(na, nb) > 0 {
		return false, ""
	}
	fa, fb := observation.FoldText(na), observation.FoldText(nb)
	if fa > fb {
		fa, fb = fb, fa
	}
	return true, fmt.Sprintf("verified identity mismatch (%q vs %q)", fa, fb)
}

// TokenOverlap is the Jaccard index of the content tokens of two texts
func TokenOverlap(a, b string) float64 {
	sa, sb := tokenSet(a), tokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range observation.Tokens(s) {
		if _, stop := stopwords[t]; stop {
			continue
		}
		set[t] = struct{}{}
	}
	return set
}

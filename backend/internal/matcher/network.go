package matcher

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/agnivade/levenshtein"

	"osintgraph/backend/internal/constants"
	"osintgraph/backend/internal/observation"
)

const (
	networkExactStrength     = 0.7
	networkSubnetStrength    = 0.3
	networkASNStrength       = 0.15
	networkTyposquatStrength = 0.5

	typosquatMaxDistance = 2
	typosquatMinLength   = 6
)

// NetworkMatcher compares IP addresses (exact, shared subnet, shared
// autonomous system) and domains (exact, typosquat patterns).
type NetworkMatcher struct{}

func (NetworkMatcher) Name() string { return "network" }

func (NetworkMatcher) Match(a, b observation.AttributeRecord) *Signal {
	switch {
	case a.Kind == observation.KindIP && b.Kind == observation.KindIP:
		return matchIP(a, b)
	case a.Kind == observation.KindDomain && b.Kind == observation.KindDomain:
		return matchDomain(a.NormalizedValue, b.NormalizedValue)
	}
	return nil
}

func matchIP(a, b observation.AttributeRecord) *Signal {
	if a.NormalizedValue == b.NormalizedValue {
		return &Signal{Category: CategoryAttribute, Strength: networkExactStrength, Detail: "same IP address"}
	}

	xa, errA := netip.ParseAddr(a.NormalizedValue)
	xb, errB := netip.ParseAddr(b.NormalizedValue)
	if errA == nil && errB == nil && xa.Is4() == xb.Is4() {
		bits := 24
		if !xa.Is4() {
			bits = 64
		}
		pa, _ := xa.Prefix(bits)
		pb, _ := xb.Prefix(bits)
		if pa == pb {
			return &Signal{
				Category: CategoryAttribute,
				Strength: networkSubnetStrength,
				Detail:   fmt.Sprintf("same /%d subnet %s", bits, pa),
			}
		}
	}

	asnA, asnB := normalizeASN(a.Meta(constants.MetaASN)), normalizeASN(b.Meta(constants.MetaASN))
	if asnA != "" && asnA == asnB {
		return &Signal{Category: CategoryAttribute, Strength: networkASNStrength, Detail: "same autonomous system AS" + asnA}
	}
	return nil
}

func normalizeASN(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "AS")
}

func matchDomain(x, y string) *Signal {
	if x == "" || y == "" {
		return nil
	}
	if x == y {
		return &Signal{Category: CategoryAttribute, Strength: networkExactStrength, Detail: "same domain"}
	}
	if x > y {
		x, y = y, x
	}
	if pattern := TyposquatPattern(x, y); pattern != "" {
		return &Signal{
			Category: CategoryAttribute,
			Strength: networkTyposquatStrength,
			Detail:   fmt.Sprintf("typosquat pattern: %s (%s ~ %s)", pattern, x, y),
		}
	}
	return nil
}

var homoglyphFolds = strings.NewReplacer(
	"rn", "m",
	"vv", "w",
	"cl", "d",
	"0", "o",
	"1", "l",
	"3", "e",
	"5", "s",
	"-", "",
)

// TyposquatPattern names the pattern relating two distinct domains, or ""
func TyposquatPattern(x, y string) string {
	if x == y || strings.HasSuffix(x, "."+y) || strings.HasSuffix(y, "."+x) {
		return ""
	}
	lx, tx := splitTLD(x)
	ly, ty := splitTLD(y)
	if lx == "" || ly == "" {
		return ""
	}

	if lx == ly && tx != ty {
		return "tld swap"
	}
	if tx == ty && homoglyphFolds.Replace(lx) == homoglyphFolds.Replace(ly) {
		return "homoglyph"
	}
	if len(x) >= typosquatMinLength && len(y) >= typosquatMinLength {
		if d := levenshtein.ComputeDistance(x, y); d > 0 && d <= typosquatMaxDistance {
			return "edit distance"
		}
	}
	return ""
}

func splitTLD(d string) (label, tld string) {
	i := strings.LastIndex(d, ".")
	if i <= 0 {
		return "", ""
	}
	return d[:i], d[i+1:]
}

package matcher

import (
	"fmt"
	"strings"

	"osintgraph/backend/internal/observation"
)

const (
	emailExactStrength      = 1.0
	emailLocalPartStrength  = 0.4
	emailMinLocalPartLength = 3
)

// EmailMatcher compares addresses by canonical form. Sharing a domain is not
// evidence of anything; sharing a local part across domains is weak evidence.
type EmailMatcher struct{}

func (EmailMatcher) Name() string { return "email" }

func (EmailMatcher) Match(a, b observation.AttributeRecord) *Signal {
	if a.Kind != observation.KindEmail || b.Kind != observation.KindEmail {
		return nil
	}
	ca, cb := a.MatchValue(), b.MatchValue()
	if ca == "" || cb == "" {
		return nil
	}
	if ca == cb {
		detail := "canonical match"
		if a.NormalizedValue != b.NormalizedValue {
			detail = "canonical match (tag or case variation)"
		}
		return &Signal{Category: CategoryAttribute, Strength: emailExactStrength, Detail: detail}
	}

	la, da, okA := splitAddress(ca)
	lb, db, okB := splitAddress(cb)
	if !okA || !okB || da == db {
		return nil
	}

	pa, pb := usernameSeparators.Replace(la), usernameSeparators.Replace(lb)
	if pa == pb && len(pa) >= emailMinLocalPartLength {
		if la > lb {
			la, lb = lb, la
			da, db = db, da
		}
		return &Signal{
			Category: CategoryAttribute,
			Strength: emailLocalPartStrength,
			Detail:   fmt.Sprintf("same local part %q across domains %s / %s", la, da, db),
		}
	}
	return nil
}

func splitAddress(addr string) (local, domain string, ok bool) {
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", "", false
	}
	return strings.ToLower(addr[:at]), addr[at+1:], true
}

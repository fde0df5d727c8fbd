package observation

import (
	"net/netip"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"

	"osintgraph/backend/internal/constants"
	apperrors "osintgraph/backend/pkg/errors"
)

// Config controls the canonicalization rules
type Config struct {
	MaxLength int
	// DecorativePrefixes are stripped from the front of usernames ("@alice")
	DecorativePrefixes []string
	// PlatformSuffixes are stripped from the end of usernames ("alice.bsky.social")
	PlatformSuffixes []string
	// TagProviders ignore "+tag" in the local part of an address
	TagProviders []string
}

// DefaultConfig returns the stock normalization rules
func DefaultConfig() Config {
	return Config{
		MaxLength:          constants.MaxObservationLength,
		DecorativePrefixes: []string{"@"},
		PlatformSuffixes:   []string{".bsky.social", "@mastodon.social", "@threads.net"},
		TagProviders:       append([]string(nil), constants.DefaultTagProviders...),
	}
}

// Normalizer turns raw observations into attribute records
type Normalizer struct {
	cfg          Config
	tagProviders map[string]struct{}
}

// NewNormalizer creates a normalizer; zero-valued fields fall back to defaults
func NewNormalizer(cfg Config) *Normalizer {
	def := DefaultConfig()
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = def.MaxLength
	}
	if cfg.DecorativePrefixes == nil {
		cfg.DecorativePrefixes = def.DecorativePrefixes
	}
	if cfg.PlatformSuffixes == nil {
		cfg.PlatformSuffixes = def.PlatformSuffixes
	}
	if cfg.TagProviders == nil {
		cfg.TagProviders = def.TagProviders
	}

	providers := make(map[string]struct{}, len(cfg.TagProviders))
	for _, p := range cfg.TagProviders {
		providers[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}
	return &Normalizer{cfg: cfg, tagProviders: providers}
}

// Normalize canonicalizes a raw observation. It fails only for empty or
// oversized values and unknown kinds; unusual input is kept and flagged
// partial instead.
func (n *Normalizer) Normalize(raw RawObservation) (AttributeRecord, error) {
	value := strings.TrimSpace(raw.Value)
	if value == "" {
		return AttributeRecord{}, apperrors.NewNormalizationError(string(raw.Kind), raw.Value, "empty value")
	}
	if utf8.RuneCountInString(value) > n.cfg.MaxLength {
		return AttributeRecord{}, apperrors.NewNormalizationError(string(raw.Kind), raw.Value, "value exceeds maximum length")
	}

	rec := AttributeRecord{
		Kind:                 raw.Kind,
		Value:                raw.Value,
		Source:               strings.ToLower(strings.TrimSpace(raw.Platform)),
		DiscoveredAt:         raw.DiscoveredAt,
		Verified:             isTruthy(raw.Metadata[constants.MetaVerified]),
		NormalizedConfidence: NormalizedFull,
		Metadata:             copyMetadata(raw.Metadata),
	}

	switch raw.Kind {
	case KindUsername:
		rec.NormalizedValue = n.username(value)
	case KindEmail:
		rec.NormalizedValue, rec.CanonicalValue, rec.NormalizedConfidence = n.email(value)
	case KindPhone:
		rec.NormalizedValue, rec.NormalizedConfidence = phone(value)
	case KindMetadata:
		rec.NormalizedValue = FoldText(value)
	case KindIP:
		rec.NormalizedValue, rec.NormalizedConfidence = ipAddr(value)
	case KindDomain:
		rec.NormalizedValue, rec.NormalizedConfidence = domain(value)
	default:
		return AttributeRecord{}, apperrors.NewNormalizationError(string(raw.Kind), raw.Value, "unknown kind")
	}

	if rec.NormalizedValue == "" {
		return AttributeRecord{}, apperrors.NewNormalizationError(string(raw.Kind), raw.Value, "nothing left after normalization")
	}
	return rec, nil
}

func (n *Normalizer) username(v string) string {
	v = strings.ToLower(norm.NFKC.String(v))
	v = norm.NFKC.String(strings.TrimSpace(v))

	// Strip to a fixed point so normalizing twice is a no-op.
	for changed := true; changed; {
		changed = false
		for _, p := range n.cfg.DecorativePrefixes {
			if p != "" && strings.HasPrefix(v, p) {
				v = strings.TrimSpace(strings.TrimPrefix(v, p))
				changed = true
			}
		}
		for _, s := range n.cfg.PlatformSuffixes {
			s = strings.ToLower(s)
			if s != "" && strings.HasSuffix(v, s) && len(v) > len(s) {
				v = strings.TrimSpace(strings.TrimSuffix(v, s))
				changed = true
			}
		}
	}
	return v
}

func (n *Normalizer) email(v string) (normalized, canonical string, conf Confidence) {
	at := strings.LastIndex(v, "@")
	if at <= 0 || at == len(v)-1 {
		return strings.ToLower(v), "", NormalizedPartial
	}

	local := v[:at]
	host := strings.TrimSuffix(strings.ToLower(v[at+1:]), ".")
	normalized = local + "@" + host

	canonLocal := strings.ToLower(local)
	if _, ok := n.tagProviders[host]; ok {
		if plus := strings.Index(canonLocal, "+"); plus > 0 {
			canonLocal = canonLocal[:plus]
		}
	}
	return normalized, canonLocal + "@" + host, NormalizedFull
}

func phone(v string) (string, Confidence) {
	var b strings.Builder
	international := strings.HasPrefix(v, "+")
	digits := 0
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			digits++
		}
	}
	if digits == 0 {
		return "", NormalizedPartial
	}
	number := b.String()

	// "00" is the ITU international call prefix, not a guess.
	if !international && strings.HasPrefix(number, "00") && len(number) > 4 {
		number = strings.TrimPrefix(number, "00")
		international = true
	}
	if international {
		return "+" + number, NormalizedFull
	}
	return number, NormalizedPartial
}

func ipAddr(v string) (string, Confidence) {
	addr, err := netip.ParseAddr(strings.Trim(v, "[]"))
	if err != nil {
		return strings.ToLower(v), NormalizedPartial
	}
	return addr.Unmap().String(), NormalizedFull
}

func domain(v string) (string, Confidence) {
	v = strings.ToLower(v)
	if i := strings.Index(v, "://"); i >= 0 {
		v = v[i+3:]
	}
	if i := strings.IndexAny(v, "/?#"); i >= 0 {
		v = v[:i]
	}
	if i := strings.LastIndex(v, "@"); i >= 0 {
		v = v[i+1:]
	}
	if i := strings.LastIndex(v, ":"); i >= 0 && isDigits(v[i+1:]) {
		v = v[:i]
	}
	v = strings.TrimSuffix(v, ".")
	for strings.HasPrefix(v, "www.") {
		v = strings.TrimPrefix(v, "www.")
	}

	ascii, err := idna.Lookup.ToASCII(v)
	if err != nil || !strings.Contains(v, ".") {
		return v, NormalizedPartial
	}
	return ascii, NormalizedFull
}

// FoldText lowercases, applies NFKC and collapses whitespace. Free-text
// metadata is compared in this form.
func FoldText(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	return strings.Join(strings.Fields(s), " ")
}

// Tokens splits folded text into word tokens of two or more runes
func Tokens(s string) []string {
	fields := strings.FieldsFunc(FoldText(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

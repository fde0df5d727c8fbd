package matcher

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"osintgraph/backend/internal/observation"
)

// Username similarity curve
const (
	usernameHighRatio     = 0.90
	usernameHighStrength  = 0.85
	usernameFloorRatio    = 0.70
	usernameFloorStrength = 0.6
	// usernamePatternStrength is the default minimum for a recognized alias pattern
	usernamePatternStrength = 0.75
	usernameMinPatternBase  = 3
)

// UsernameMatcher compares usernames by edit distance and by known alias
// patterns (separator swap, case swap, leet-speak, numeric suffix).
type UsernameMatcher struct {
	// PatternFloor is the minimum strength for a recognized alias pattern.
	// Zero uses the default; a negative value turns the override off.
	PatternFloor float64
}

func (UsernameMatcher) Name() string { return "username" }

func (m UsernameMatcher) Match(a, b observation.AttributeRecord) *Signal {
	if a.Kind != observation.KindUsername || b.Kind != observation.KindUsername {
		return nil
	}
	x, y := a.NormalizedValue, b.NormalizedValue
	if x == "" || y == "" {
		return nil
	}
	// Order the pair so the detail text is identical either way round.
	if x > y {
		x, y = y, x
		a, b = b, a
	}

	if x == y {
		detail := "exact match"
		if a.Value != b.Value && strings.EqualFold(strings.TrimSpace(a.Value), strings.TrimSpace(b.Value)) {
			detail = "exact match (case variation)"
		}
		return &Signal{Category: CategoryAttribute, Strength: 1.0, Detail: detail}
	}

	ratio := Similarity(x, y)
	strength := 0.0
	switch {
	case ratio >= usernameHighRatio:
		strength = usernameHighStrength
	case ratio >= usernameFloorRatio:
		strength = usernameFloorStrength
	}

	patterns := AliasPatterns(x, y)
	if floor := m.patternFloor(); len(patterns) > 0 && strength < floor {
		strength = floor
	}
	if strength == 0 {
		return nil
	}

	detail := fmt.Sprintf("similarity %.2f (%s ~ %s)", ratio, x, y)
	if len(patterns) > 0 {
		detail = fmt.Sprintf("%s variation (%s ~ %s), similarity %.2f", strings.Join(patterns, ", "), x, y, ratio)
	}
	return &Signal{Category: CategoryAttribute, Strength: strength, Detail: detail}
}

func (m UsernameMatcher) patternFloor() float64 {
	switch {
	case m.PatternFloor < 0:
		return 0
	case m.PatternFloor == 0:
		return usernamePatternStrength
	}
	return m.PatternFloor
}

// Similarity is the normalized Levenshtein ratio in [0,1]
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

var usernameSeparators = strings.NewReplacer("_", "", ".", "", "-", "")

var leetFolds = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"!", "i",
	"l", "i",
	"3", "e",
	"4", "a",
	"@", "a",
	"5", "s",
	"$", "s",
	"7", "t",
	"8", "b",
	"9", "g",
)

// AliasPatterns names the known alias transformations that relate two
// distinct lowercased usernames. The result is sorted and symmetric.
func AliasPatterns(a, b string) []string {
	if a == b {
		return nil
	}
	var found []string

	sa, sb := usernameSeparators.Replace(a), usernameSeparators.Replace(b)
	if sa == sb && sa != "" {
		found = append(found, "separator")
	}

	if la, lb := leetFolds.Replace(sa), leetFolds.Replace(sb); la == lb && sa != sb && hasLeetChar(sa+sb) {
		found = append(found, "leet-speak")
	}

	ba, bb := strings.TrimRight(sa, "0123456789"), strings.TrimRight(sb, "0123456789")
	if ba == bb && len(ba) >= usernameMinPatternBase && sa != sb {
		found = append(found, "numeric suffix")
	}

	sort.Strings(found)
	return found
}

func hasLeetChar(s string) bool {
	return strings.ContainsAny(s, "013457893!@$")
}

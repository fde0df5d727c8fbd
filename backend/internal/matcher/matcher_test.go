package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osintgraph/backend/internal/observation"
	apperrors "osintgraph/backend/pkg/errors"
)

var testNormalizer = observation.NewNormalizer(observation.DefaultConfig())

func rec(t *testing.T, kind observation.Kind, value string, meta map[string]string) observation.AttributeRecord {
	t.Helper()
	r, err := testNormalizer.Normalize(observation.RawObservation{Platform: "test", Kind: kind, Value: value, Metadata: meta})
	require.NoError(t, err)
	return r
}

func assertSymmetric(t *testing.T, m Matcher, a, b observation.AttributeRecord) *Signal {
	t.Helper()
	ab, ba := m.Match(a, b), m.Match(b, a)
	assert.Equal(t, ab, ba, "%s is not symmetric for %q / %q", m.Name(), a.Value, b.Value)
	return ab
}

func TestUsernameMatcher(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		strength float64
		detail   string
	}{
		{"exact", "alice", "alice", 1.0, "exact match"},
		{"case variation", "Alice", "alice", 1.0, "exact match (case variation)"},
		{"separator", "john_doe", "john.doe", 0.75, "separator variation (john.doe ~ john_doe), similarity 0.88"},
		{"leet", "j0hndoe", "johndoe", 0.75, "leet-speak variation (j0hndoe ~ johndoe), similarity 0.86"},
		{"numeric suffix", "alice99", "alice", 0.75, "numeric suffix variation (alice ~ alice99), similarity 0.71"},
		{"high similarity", "darkwanderer", "darkwandere", 0.85, "similarity 0.92 (darkwandere ~ darkwanderer)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := assertSymmetric(t, UsernameMatcher{},
				rec(t, observation.KindUsername, tt.a, nil),
				rec(t, observation.KindUsername, tt.b, nil))
			require.NotNil(t, sig)
			assert.Equal(t, CategoryAttribute, sig.Category)
			assert.Equal(t, tt.strength, sig.Strength)
			assert.Equal(t, tt.detail, sig.Detail)
		})
	}

	t.Run("unrelated", func(t *testing.T) {
		assert.Nil(t, UsernameMatcher{}.Match(
			rec(t, observation.KindUsername, "alice", nil),
			rec(t, observation.KindUsername, "zebra", nil)))
	})
	t.Run("other kinds", func(t *testing.T) {
		assert.Nil(t, UsernameMatcher{}.Match(
			rec(t, observation.KindUsername, "alice", nil),
			rec(t, observation.KindEmail, "alice@example.com", nil)))
	})
}

func TestAliasPatterns(t *testing.T) {
	assert.Equal(t, []string{"separator"}, AliasPatterns("a.b.c", "a_b-c"))
	assert.Equal(t, AliasPatterns("j0hn_doe", "john.doe"), AliasPatterns("john.doe", "j0hn_doe"))
	assert.Empty(t, AliasPatterns("same", "same"))
	// A base shorter than three characters is not a numeric-suffix alias.
	assert.Empty(t, AliasPatterns("ab1", "ab2"))
}

func TestUsernameMatcher_PatternFloor(t *testing.T) {
	a := rec(t, observation.KindUsername, "john_doe", nil)
	b := rec(t, observation.KindUsername, "john.doe", nil)

	assert.Equal(t, 0.75, UsernameMatcher{}.Match(a, b).Strength)
	assert.Equal(t, 0.8, UsernameMatcher{PatternFloor: 0.8}.Match(a, b).Strength)
	// Without the override only the edit-distance curve applies.
	assert.Equal(t, 0.6, UsernameMatcher{PatternFloor: -1}.Match(a, b).Strength)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("abc", "abc"))
	assert.InDelta(t, 0.875, Similarity("john_doe", "john.doe"), 1e-12)
	assert.Equal(t, Similarity("kitten", "sitting"), Similarity("sitting", "kitten"))
}

func TestEmailMatcher(t *testing.T) {
	t.Run("tag and case variation", func(t *testing.T) {
		sig := assertSymmetric(t, EmailMatcher{},
			rec(t, observation.KindEmail, "jane+news@gmail.com", nil),
			rec(t, observation.KindEmail, "Jane@GMAIL.com", nil))
		require.NotNil(t, sig)
		assert.Equal(t, 1.0, sig.Strength)
		assert.Equal(t, "canonical match (tag or case variation)", sig.Detail)
	})

	t.Run("identical", func(t *testing.T) {
		sig := EmailMatcher{}.Match(
			rec(t, observation.KindEmail, "jane@example.com", nil),
			rec(t, observation.KindEmail, "jane@example.com", nil))
		require.NotNil(t, sig)
		assert.Equal(t, "canonical match", sig.Detail)
	})

	t.Run("tag kept for unknown provider", func(t *testing.T) {
		assert.Nil(t, EmailMatcher{}.Match(
			rec(t, observation.KindEmail, "jane+news@example.com", nil),
			rec(t, observation.KindEmail, "jane@example.com", nil)))
	})

	t.Run("local part across domains", func(t *testing.T) {
		sig := assertSymmetric(t, EmailMatcher{},
			rec(t, observation.KindEmail, "jdoe@example.com", nil),
			rec(t, observation.KindEmail, "j.doe@example.org", nil))
		require.NotNil(t, sig)
		assert.Equal(t, 0.4, sig.Strength)
		assert.False(t, sig.Corroborative)
	})

	t.Run("shared domain is not evidence", func(t *testing.T) {
		assert.Nil(t, EmailMatcher{}.Match(
			rec(t, observation.KindEmail, "alice@example.com", nil),
			rec(t, observation.KindEmail, "bob@example.com", nil)))
	})

	t.Run("short local part", func(t *testing.T) {
		assert.Nil(t, EmailMatcher{}.Match(
			rec(t, observation.KindEmail, "ab@example.com", nil),
			rec(t, observation.KindEmail, "ab@example.org", nil)))
	})
}

func TestPhoneMatcher(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"exact", "+1 555 010 9999", "+1-555-010-9999", 1.0},
		{"national suffix", "+1 555 010 9999", "(555) 010-9999", 0.7},
		{"both international, different", "+1 555 010 9999", "+44 555 010 9999", 0},
		{"too short to compare", "12345", "+44 12345", 0},
		{"different numbers", "555 010 9999", "555 010 1234", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := assertSymmetric(t, PhoneMatcher{},
				rec(t, observation.KindPhone, tt.a, nil),
				rec(t, observation.KindPhone, tt.b, nil))
			if tt.want == 0 {
				assert.Nil(t, sig)
				return
			}
			require.NotNil(t, sig)
			assert.Equal(t, tt.want, sig.Strength)
		})
	}
}

func TestMetadataMatcher(t *testing.T) {
	t.Run("overlap is capped and corroborative", func(t *testing.T) {
		sig := assertSymmetric(t, MetadataMatcher{},
			rec(t, observation.KindMetadata, "Security researcher, Berlin", nil),
			rec(t, observation.KindMetadata, "security researcher berlin germany", nil))
		require.NotNil(t, sig)
		assert.Equal(t, metadataCap, sig.Strength)
		assert.True(t, sig.Corroborative)
		assert.Contains(t, sig.Detail, "token overlap 0.75")
	})

	t.Run("bio field", func(t *testing.T) {
		sig := MetadataMatcher{}.Match(
			rec(t, observation.KindUsername, "alice", map[string]string{"bio": "golang developer"}),
			rec(t, observation.KindUsername, "alice_", map[string]string{"bio": "rust developer"}))
		require.NotNil(t, sig)
		assert.InDelta(t, 1.0/3.0, sig.Strength, 1e-12)
		assert.Contains(t, sig.Detail, "bio")
	})

	t.Run("verified identity conflict", func(t *testing.T) {
		sig := assertSymmetric(t, MetadataMatcher{},
			rec(t, observation.KindUsername, "alice123", map[string]string{"real_name": "Alice Smith", "verified": "true"}),
			rec(t, observation.KindUsername, "alice123", map[string]string{"real_name": "Robert Jones"}))
		require.NotNil(t, sig)
		assert.True(t, sig.Conflict)
		assert.True(t, sig.Corroborative)
		assert.Equal(t, 0.0, sig.Strength)
		assert.Equal(t, `verified identity mismatch ("alice smith" vs "robert jones")`, sig.Detail)
	})

	t.Run("unverified names never conflict", func(t *testing.T) {
		conflict, _ := IdentityConflict(
			rec(t, observation.KindUsername, "x", map[string]string{"real_name": "Alice Smith"}),
			rec(t, observation.KindUsername, "x", map[string]string{"real_name": "Robert Jones"}))
		assert.False(t, conflict)
	})

	t.Run("no text", func(t *testing.T) {
		assert.Nil(t, MetadataMatcher{}.Match(
			rec(t, observation.KindUsername, "alice", nil),
			rec(t, observation.KindUsername, "bob", nil)))
	})
}

func TestTokenOverlap(t *testing.T) {
	assert.Equal(t, 0.0, TokenOverlap("", "anything"))
	assert.Equal(t, 1.0, TokenOverlap("The Berlin", "berlin"))
	assert.InDelta(t, 0.5, TokenOverlap("red fox", "red"), 1e-12)
}

func TestNetworkMatcher(t *testing.T) {
	tests := []struct {
		name     string
		kind     observation.Kind
		a, b     string
		metaA    map[string]string
		metaB    map[string]string
		strength float64
		detail   string
	}{
		{"same ip", observation.KindIP, "192.0.2.1", "192.0.2.1", nil, nil, 0.7, "same IP address"},
		{"same v4 subnet", observation.KindIP, "192.0.2.1", "192.0.2.200", nil, nil, 0.3, "same /24 subnet 192.0.2.0/24"},
		{"same v6 subnet", observation.KindIP, "2001:db8::1", "2001:db8::ff", nil, nil, 0.3, "same /64 subnet 2001:db8::/64"},
		{"same asn", observation.KindIP, "192.0.2.1", "198.51.100.7",
			map[string]string{"asn": "AS13335"}, map[string]string{"asn": "13335"}, 0.15, "same autonomous system AS13335"},
		{"same domain", observation.KindDomain, "www.example.com", "https://example.com/x", nil, nil, 0.7, "same domain"},
		{"tld swap", observation.KindDomain, "example.com", "example.net", nil, nil, 0.5, "typosquat pattern: tld swap (example.com ~ example.net)"},
		{"homoglyph", observation.KindDomain, "paypal.com", "paypa1.com", nil, nil, 0.5, "typosquat pattern: homoglyph (paypa1.com ~ paypal.com)"},
		{"edit distance", observation.KindDomain, "github.com", "githb.com", nil, nil, 0.5, "typosquat pattern: edit distance (githb.com ~ github.com)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := assertSymmetric(t, NetworkMatcher{},
				rec(t, tt.kind, tt.a, tt.metaA),
				rec(t, tt.kind, tt.b, tt.metaB))
			require.NotNil(t, sig)
			assert.Equal(t, tt.strength, sig.Strength)
			assert.Equal(t, tt.detail, sig.Detail)
		})
	}

	t.Run("subdomain is not a typosquat", func(t *testing.T) {
		assert.Nil(t, NetworkMatcher{}.Match(
			rec(t, observation.KindDomain, "blog.example.com", nil),
			rec(t, observation.KindDomain, "example.com", nil)))
	})
	t.Run("unrelated addresses", func(t *testing.T) {
		assert.Nil(t, NetworkMatcher{}.Match(
			rec(t, observation.KindIP, "192.0.2.1", nil),
			rec(t, observation.KindIP, "2001:db8::1", nil)))
	})
}

func TestTemporalMatcher(t *testing.T) {
	m := TemporalMatcher{}

	t.Run("creation within window", func(t *testing.T) {
		sig := assertSymmetric(t, m,
			rec(t, observation.KindUsername, "a", map[string]string{"created_at": "2020-01-01T00:00:00Z"}),
			rec(t, observation.KindUsername, "b", map[string]string{"created_at": "2020-01-01T06:00:00Z"}))
		require.NotNil(t, sig)
		assert.Equal(t, CategoryTemporal, sig.Category)
		assert.Equal(t, 0.3, sig.Strength)
		assert.True(t, sig.Corroborative)
		assert.Equal(t, "accounts created 6h0m0s apart", sig.Detail)
	})

	t.Run("creation outside window", func(t *testing.T) {
		assert.Nil(t, m.Match(
			rec(t, observation.KindUsername, "a", map[string]string{"created_at": "2020-01-01"}),
			rec(t, observation.KindUsername, "b", map[string]string{"created_at": "2020-03-01"})))
	})

	t.Run("shared peak hour after offset", func(t *testing.T) {
		sig := assertSymmetric(t, m,
			rec(t, observation.KindUsername, "a", map[string]string{"active_hours": "22,22,9", "utc_offset": "+01:00"}),
			rec(t, observation.KindUsername, "b", map[string]string{"active_hours": "21,20"}))
		require.NotNil(t, sig)
		assert.Equal(t, 0.2, sig.Strength)
		assert.Equal(t, "shared peak activity hour 21:00 UTC", sig.Detail)
	})

	t.Run("creation outranks activity", func(t *testing.T) {
		sig := m.Match(
			rec(t, observation.KindUsername, "a", map[string]string{"created_at": "2020-01-01", "active_hours": "3"}),
			rec(t, observation.KindUsername, "b", map[string]string{"created_at": "2020-01-01", "active_hours": "3"}))
		require.NotNil(t, sig)
		assert.Equal(t, 0.3, sig.Strength)
		assert.Contains(t, sig.Detail, "; shared peak")
	})
}

func TestParseOffset(t *testing.T) {
	assert.Equal(t, 2, parseOffset("+02:00"))
	assert.Equal(t, -5, parseOffset("-5"))
	assert.Equal(t, 5, parseOffset("+0530"))
	assert.Equal(t, 0, parseOffset("UTC"))
}

type fixedMatcher struct {
	name     string
	strength float64
	panics   bool
}

func (m fixedMatcher) Name() string { return m.name }

func (m fixedMatcher) Match(a, b observation.AttributeRecord) *Signal {
	if m.panics {
		panic("boom")
	}
	return &Signal{Matcher: "spoofed", Category: CategoryAttribute, Strength: m.strength}
}

func TestSet_Run(t *testing.T) {
	s := NewSet(fixedMatcher{name: "broken", panics: true}, fixedMatcher{name: "loud", strength: 3}, UsernameMatcher{})
	a := rec(t, observation.KindUsername, "alice", nil)

	results := s.Run(a, a)
	require.Len(t, results, 3)

	assert.True(t, results[0].Failed())
	assert.Nil(t, results[0].Signal)
	assert.True(t, apperrors.IsErrorType(results[0].Err, apperrors.ErrorTypeMatcher))

	require.NotNil(t, results[1].Signal)
	assert.Equal(t, "loud", results[1].Signal.Matcher)
	assert.Equal(t, 1.0, results[1].Signal.Strength)

	require.NotNil(t, results[2].Signal)
	assert.Equal(t, 1.0, results[2].Signal.Strength)
}

func TestDefaultSet(t *testing.T) {
	s := DefaultSet(Config{})
	assert.Equal(t, []string{"username", "email", "phone", "metadata", "network", "temporal"}, s.Names())
}

package observation

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the closed set of attribute kinds a collector may report
type Kind string

const (
	KindUsername Kind = "username"
	KindEmail    Kind = "email"
	KindPhone    Kind = "phone"
	KindMetadata Kind = "metadata"
	KindIP       Kind = "ip"
	KindDomain   Kind = "domain"
)

// Kinds lists every supported kind in a stable order
var Kinds = []Kind{KindUsername, KindEmail, KindPhone, KindMetadata, KindIP, KindDomain}

// ParseKind converts a collector-supplied kind string
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown attribute kind %q", s)
}

// Confidence of a normalization result
type Confidence string

const (
	NormalizedFull    Confidence = "full"
	NormalizedPartial Confidence = "partial"
)

// RawObservation is what a platform probe hands to the engine. Collectors map
// their platform-specific payloads into this shape at the boundary.
type RawObservation struct {
	Platform     string            `json:"platform"`
	Kind         Kind              `json:"kind"`
	Value        string            `json:"value"`
	DiscoveredAt time.Time         `json:"discovered_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// AttributeRecord is one normalized, sourced observation
type AttributeRecord struct {
	Kind                 Kind              `json:"kind"`
	Value                string            `json:"value"`
	NormalizedValue      string            `json:"normalized_value"`
	CanonicalValue       string            `json:"canonical_value,omitempty"`
	Source               string            `json:"source"`
	DiscoveredAt         time.Time         `json:"discovered_at"`
	Verified             bool              `json:"verified"`
	NormalizedConfidence Confidence        `json:"normalized_confidence"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// Key identifies a normalized value independent of where it was seen
type Key struct {
	Kind  Kind
	Value string
}

func (k Key) String() string {
	return string(k.Kind) + ":" + k.Value
}

// Key returns the exact-match index key for the record
func (r AttributeRecord) Key() Key {
	return Key{Kind: r.Kind, Value: r.NormalizedValue}
}

// MatchValue is the value used for exact matching: the canonical form when
// the normalizer produced one, the normalized form otherwise.
func (r AttributeRecord) MatchValue() string {
	if r.CanonicalValue != "" {
		return r.CanonicalValue
	}
	return r.NormalizedValue
}

// Meta returns a trimmed metadata value
func (r AttributeRecord) Meta(key string) string {
	if r.Metadata == nil {
		return ""
	}
	return strings.TrimSpace(r.Metadata[key])
}

// SameFact reports whether two records describe the same value from the same
// source. Entities keep one record per (kind, normalized value, source).
func (r AttributeRecord) SameFact(o AttributeRecord) bool {
	return r.Kind == o.Kind && r.NormalizedValue == o.NormalizedValue && r.Source == o.Source
}

// Clone returns a copy that shares nothing mutable with r
func (r AttributeRecord) Clone() AttributeRecord {
	if r.Metadata != nil {
		md := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		r.Metadata = md
	}
	return r
}

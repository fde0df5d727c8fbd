package constants

import "time"

// Observation limits
const (
	// MaxObservationLength is the longest raw value (in characters) the
	// normalizer accepts
	MaxObservationLength = 100
)

// Confidence thresholds. These are defaults only; every one of them can be
// overridden through configuration.
const (
	DefaultMinConfidence       = 0.3
	DefaultRelatedThreshold    = 0.5
	DefaultSamePersonThreshold = 0.8
	DefaultMergeThreshold      = 0.9

	// DefaultStrongSignal is the matcher strength from which a signal counts
	// as strong when looking for contradictory evidence
	DefaultStrongSignal = 0.75

	// DefaultAliasPatternFloor is the minimum username strength for a
	// recognized alias pattern
	DefaultAliasPatternFloor = 0.75
)

// Category weights
const (
	DefaultAttributeWeight     = 0.30
	DefaultSourceQualityWeight = 0.20
	DefaultTemporalWeight      = 0.20
	DefaultUniquenessWeight    = 0.30
)

// Source quality
const (
	DefaultSourceQuality  = 0.6
	VerifiedSourceQuality = 1.0
)

// Engine execution
const (
	// DefaultWorkers bounds concurrent candidate-pair evaluation
	DefaultWorkers = 4

	// DefaultTemporalWindow is how close two account creation times must be
	DefaultTemporalWindow = 24 * time.Hour

	// DefaultClusterTimeout bounds a single cluster computation over HTTP
	DefaultClusterTimeout = 10 * time.Second

	// MaxGraphDepth caps entity-graph traversal requests
	MaxGraphDepth = 6
)

// Metadata keys understood by the matchers
const (
	MetaBio         = "bio"
	MetaDisplayName = "display_name"
	MetaLocation    = "location"
	MetaRealName    = "real_name"
	MetaVerified    = "verified"
	MetaCreatedAt   = "created_at"
	MetaActiveHours = "active_hours"
	MetaUTCOffset   = "utc_offset"
	MetaASN         = "asn"
	MetaURL         = "url"
)

// DefaultTagProviders are mail providers that ignore "+tag" suffixes
var DefaultTagProviders = []string{
	"gmail.com",
	"googlemail.com",
	"outlook.com",
	"hotmail.com",
	"protonmail.com",
	"fastmail.com",
}

package graph

import (
	"encoding/json"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"osintgraph/backend/internal/observation"
	"osintgraph/backend/internal/state"
)

// ============================================================================
// Record Helpers
// ============================================================================

func getString(record *neo4j.Record, key string, defaultValue string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return defaultValue
	}
	if str, ok := val.(string); ok {
		return str
	}
	return defaultValue
}

func getFloat64FromRecord(record *neo4j.Record, key string) float64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0.0
	}
	if f, ok := val.(float64); ok {
		return f
	}
	if i, ok := val.(int64); ok {
		return float64(i)
	}
	return 0.0
}

func getInt64FromRecord(record *neo4j.Record, key string) int64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	if i, ok := val.(int64); ok {
		return i
	}
	if i, ok := val.(int); ok {
		return int64(i)
	}
	return 0
}

func getStringSlice(record *neo4j.Record, key string) []string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil
	}
	slice, ok := val.([]interface{})
	if !ok {
		return nil
	}
	result := make([]string, 0, len(slice))
	for _, v := range slice {
		if str, ok := v.(string); ok {
			result = append(result, str)
		}
	}
	return result
}

// getTime reads a Neo4j DATETIME, which the driver surfaces as time.Time
func getTime(record *neo4j.Record, key string) time.Time {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return time.Time{}
	}
	if t, ok := val.(time.Time); ok {
		return t.UTC()
	}
	if s, ok := val.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ============================================================================
// Codec shared by the database stores
// ============================================================================

func encodeAttributes(attrs []observation.AttributeRecord) (string, error) {
	if attrs == nil {
		attrs = []observation.AttributeRecord{}
	}
	b, err := json.Marshal(attrs)
	return string(b), err
}

func decodeAttributes(raw string) ([]observation.AttributeRecord, error) {
	attrs := []observation.AttributeRecord{}
	if raw == "" {
		return attrs, nil
	}
	err := json.Unmarshal([]byte(raw), &attrs)
	return attrs, err
}

func encodeEvidence(ev []state.Evidence) (string, error) {
	if ev == nil {
		ev = []state.Evidence{}
	}
	b, err := json.Marshal(ev)
	return string(b), err
}

func decodeEvidence(raw string) ([]state.Evidence, error) {
	ev := []state.Evidence{}
	if raw == "" {
		return ev, nil
	}
	err := json.Unmarshal([]byte(raw), &ev)
	return ev, err
}

// attributeKeys lists the distinct (kind, value) keys of an entity as Cypher
// parameter maps
func attributeKeys(ent *state.Entity) []map[string]interface{} {
	keys := ent.Keys()
	out := make([]map[string]interface{}, 0, len(keys))
	for _, k := range keys {
		out = append(out, map[string]interface{}{
			"key":   k.String(),
			"kind":  string(k.Kind),
			"value": k.Value,
		})
	}
	return out
}

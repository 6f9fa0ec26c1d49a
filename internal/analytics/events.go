// Package analytics records one event per answered query. Events feed an
// in-process Aggregator and, when brokers are configured, are published to
// Kafka in batches.
package analytics

import "time"

type QueryEvent struct {
	Endpoint    string    `json:"endpoint"`
	Query       string    `json:"query"`
	Terms       []string  `json:"terms"`
	Hits        int       `json:"hits"`
	Partial     bool      `json:"partial"`
	FailedTerms []string  `json:"failed_terms,omitempty"`
	CacheHit    bool      `json:"cache_hit"`
	LatencyMs   int64     `json:"latency_ms"`
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id,omitempty"`
}

// Package cache stores derived results such as longitudinal trends. Redis
// backs it in deployments; an in-process map serves tests and single-user
// runs without REDIS_URL.
package cache

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL applies when Set is called with a zero TTL.
const DefaultTTL = time.Hour

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is a JSON value store with expiry and prefix invalidation.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
	Ping(ctx context.Context) error
}

// TrendKey is the cache key of one patient's trend for a variable and
// window. An empty window selects the full series.
func TrendKey(patientID, variable, window string) string {
	return TrendPatientPrefix(patientID) + variable + ":" + window
}

// TrendPatientPrefix matches every trend key of one patient.
func TrendPatientPrefix(patientID string) string {
	return "trend:" + patientID + ":"
}

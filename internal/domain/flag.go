package domain

import (
	"hash/fnv"
	"time"
)

// FeatureFlag is an externally settable runtime toggle with an optional
// expiry and a gradual-rollout percentage.
type FeatureFlag struct {
	Key       string
	Enabled   bool
	Rollout   float64 // 0-100; 100 means everyone when Enabled
	ExpiresAt *time.Time
	UpdatedAt time.Time
}

// Active reports whether the flag is on at the given instant, ignoring
// rollout bucketing. An expired flag is off.
func (f *FeatureFlag) Active(now time.Time) bool {
	if f == nil || !f.Enabled {
		return false
	}
	if f.ExpiresAt != nil && !now.Before(*f.ExpiresAt) {
		return false
	}
	return true
}

// EnabledFor reports whether the flag is on for a particular subject (for
// example an owner ID). The subject is hashed so rollout buckets are sticky:
// the same subject always lands in the same bucket for a given flag.
func (f *FeatureFlag) EnabledFor(subject string, now time.Time) bool {
	if !f.Active(now) {
		return false
	}
	if f.Rollout >= 100 {
		return true
	}
	if f.Rollout <= 0 {
		return false
	}
	h := fnv.New32a()
	h.Write([]byte(f.Key))
	h.Write([]byte(":"))
	h.Write([]byte(subject))
	bucket := float64(h.Sum32()%10000) / 100.0
	return bucket < f.Rollout
}

// Package cron runs the scheduled maintenance jobs. Tenants are spread over
// the configured instances with a consistent hash ring so each tenant is
// processed by exactly one instance.
//
// A trigger only runs the tenants of the instance that receives it, so the
// scheduler must call every instance listed in CRON_INSTANCES.
package cron

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/buraksezer/consistent"
)

type member string

func (m member) String() string {
	return string(m)
}

type hasher struct{}

func (hasher) Sum64(data []byte) uint64 {
	out := sha256.Sum256(data)
	return binary.BigEndian.Uint64(out[:8])
}

// Ring decides tenant ownership between cron instances.
type Ring struct {
	self string
	ring *consistent.Consistent
}

// ErrNotMember is returned when self is missing from the instance list.
// Such an instance would own no tenant and its share would never run.
var ErrNotMember = errors.New("cron instance is not in the instance list")

// NewRing builds a ring over instances as seen from self. With no instances
// configured, self owns every tenant.
func NewRing(self string, instances []string) (*Ring, error) {
	r := &Ring{self: self}
	if len(instances) == 0 {
		return r, nil
	}
	if !slices.Contains(instances, self) {
		return nil, fmt.Errorf("%w: %q not in %v", ErrNotMember, self, instances)
	}

	cfg := consistent.Config{
		PartitionCount:    71,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            hasher{},
	}
	r.ring = consistent.New(nil, cfg)
	for _, inst := range instances {
		r.ring.Add(member(inst))
	}
	return r, nil
}

// Self returns the name of this instance.
func (r *Ring) Self() string {
	return r.self
}

// Owner returns the instance responsible for tenantID.
func (r *Ring) Owner(tenantID string) string {
	if r.ring == nil {
		return r.self
	}
	m := r.ring.LocateKey([]byte(tenantID))
	if m == nil {
		return ""
	}
	return m.String()
}

// Owns reports whether this instance handles tenantID.
func (r *Ring) Owns(tenantID string) bool {
	return r.Owner(tenantID) == r.self
}

// Filter keeps the tenants this instance owns.
func (r *Ring) Filter(tenantIDs []string) []string {
	owned := make([]string, 0, len(tenantIDs))
	for _, id := range tenantIDs {
		if r.Owns(id) {
			owned = append(owned, id)
		}
	}
	return owned
}

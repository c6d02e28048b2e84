package domain

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Capability is a named feature flag a provider advertises.
type Capability string

const (
	CapabilityAddress         Capability = "address"
	CapabilitySignTransaction Capability = "signTransaction"
	CapabilitySignMessage     Capability = "signMessage"
	CapabilityCall            Capability = "call"
	CapabilitySubmit          Capability = "submit"
	CapabilityLogSubscription Capability = "log_subscription"
	CapabilityLogHistory      Capability = "log_history"
	CapabilityLegacy          Capability = "legacy"
)

// AllCapabilities lists every capability in wire order.
var AllCapabilities = []Capability{
	CapabilityAddress,
	CapabilitySignTransaction,
	CapabilitySignMessage,
	CapabilityCall,
	CapabilitySubmit,
	CapabilityLogSubscription,
	CapabilityLogHistory,
	CapabilityLegacy,
}

// Valid reports whether c is one of AllCapabilities.
func (c Capability) Valid() bool {
	return slices.Contains(AllCapabilities, c)
}

// CapabilityUpdate is a partial update. A capability absent from the map is
// left unchanged.
type CapabilityUpdate map[Capability]bool

// CapabilitySet is a set of capabilities. It encodes as a JSON array.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from caps.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

func (s CapabilitySet) Add(c Capability) { s[c] = struct{}{} }

func (s CapabilitySet) Remove(c Capability) { delete(s, c) }

// Clone returns an independent copy. Cloning a nil set yields an empty set.
func (s CapabilitySet) Clone() CapabilitySet {
	out := make(CapabilitySet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Equal reports whether both sets hold the same capabilities.
func (s CapabilitySet) Equal(other CapabilitySet) bool {
	if len(s) != len(other) {
		return false
	}
	for c := range s {
		if !other.Has(c) {
			return false
		}
	}
	return true
}

// List returns the members in wire order followed by unrecognised names
// sorted lexically.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s))
	for _, c := range AllCapabilities {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	var extra []Capability
	for c := range s {
		if !c.Valid() {
			extra = append(extra, c)
		}
	}
	slices.Sort(extra)
	return append(out, extra...)
}

func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	var names []Capability
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("capability set: %w", err)
	}
	*s = NewCapabilitySet(names...)
	return nil
}

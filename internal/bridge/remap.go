// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bridge

import (
	"fmt"
	"sync"
)

// Remapper translates the unit-ID byte of an outgoing request and inverts
// the translation on the matching reply. The forward map is fixed at
// construction; only the observed-identity bookkeeping changes at runtime.
type Remapper struct {
	forward map[byte]byte
	inverse map[byte]byte

	mu       sync.Mutex
	observed map[byte]struct{}
}

// NewRemapper builds a Remapper from a partial map of client-side unit-ID
// to upstream-side unit-ID. It fails with ConfigInvalid if m is not
// injective: two client IDs rewritten to the same upstream ID would make
// the inverse ambiguous.
func NewRemapper(m map[byte]byte) (*Remapper, error) {
	inverse := make(map[byte]byte, len(m))
	for u, v := range m {
		if existing, ok := inverse[v]; ok {
			return nil, newError(ConfigInvalid, "remap", fmt.Errorf(
				"unit-id remap is not injective: %d and %d both map to %d", existing, u, v))
		}
		inverse[v] = u
	}
	return &Remapper{
		forward:  m,
		inverse:  inverse,
		observed: make(map[byte]struct{}),
	}, nil
}

// Forward rewrites a client-facing unit-ID to its upstream counterpart. If
// u has no entry in the map, it is forwarded unchanged and recorded as an
// observed identity so a later Inverse call resolves predictably even if
// the map is later inspected for diagnostics.
func (r *Remapper) Forward(u byte) byte {
	if v, ok := r.forward[u]; ok {
		return v
	}
	r.mu.Lock()
	r.observed[u] = struct{}{}
	r.mu.Unlock()
	return u
}

// Inverse rewrites an upstream-facing unit-ID back to what the client
// originally sent. Unit-IDs outside the map's range are identity.
func (r *Remapper) Inverse(v byte) byte {
	if u, ok := r.inverse[v]; ok {
		return u
	}
	return v
}

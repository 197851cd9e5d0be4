// Package pieceset tracks which pieces of a download are missing, ongoing
// or complete, and implements the randomized selection and endgame policy:
// missing pieces start shuffled, a failed piece is reshuffled back in on
// re-insertion, and endgame mode triggers once remaining work drops below
// a fixed count or fraction of the total.
package pieceset

import (
	"math/rand"
	"sync"

	"fluxtorrent/bitfield"
)

const (
	endgameMinRemaining = 20
	endgameFraction     = 0.05
)

// PeerPieces is the subset of bitfield.Bitfield that selection needs: the
// ability to ask whether a peer claims to have a given piece.
type PeerPieces interface {
	Has(i int) bool
}

// Manager is the shared, concurrency-safe piece manager. All mutating
// operations (NextFor, MarkComplete, MarkFailed) are serialized behind one
// mutex held for their entire duration.
type Manager struct {
	mu         sync.Mutex
	total      int
	missing    []int
	missingSet map[int]struct{}
	ongoing    map[int]struct{}
	bf         *bitfield.Bitfield
	rng        *rand.Rand
}

// New builds a manager for n pieces. missing is seeded with [0,n) and
// immediately shuffled so concurrent sessions don't converge on low
// indices.
func New(n int) *Manager {
	missing := make([]int, n)
	missingSet := make(map[int]struct{}, n)
	for i := range missing {
		missing[i] = i
		missingSet[i] = struct{}{}
	}
	rng := rand.New(rand.NewSource(rand.Int63()))
	rng.Shuffle(len(missing), func(i, j int) { missing[i], missing[j] = missing[j], missing[i] })
	return &Manager{
		total:      n,
		missing:    missing,
		missingSet: missingSet,
		ongoing:    make(map[int]struct{}),
		bf:         bitfield.New(n),
		rng:        rng,
	}
}

// Bitfield returns the manager's completion bitmap. Bit i is set iff piece
// i has been verified and written.
func (m *Manager) Bitfield() *bitfield.Bitfield {
	return m.bf
}

// NextFor returns the next piece index the caller should request from a
// peer advertising peerPieces, or ok=false if nothing is currently
// requestable from that peer.
//
// Phase 1 walks missing in its current (shuffled) order and returns the
// first index the peer has that isn't already assigned to some session,
// appending it to ongoing before returning. The index is NOT removed from
// missing at this point (only MarkComplete does that); an index may
// legitimately sit in both missing and ongoing while it's in flight.
//
// Phase 2 only runs once phase 1 finds nothing and the manager is in
// endgame: it picks a uniformly random already-ongoing index the peer also
// has, so the same piece can be requested from multiple peers at once.
func (m *Manager) NextFor(peerPieces PeerPieces) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, idx := range m.missing {
		if _, assigned := m.ongoing[idx]; assigned {
			continue
		}
		if peerPieces.Has(idx) {
			m.ongoing[idx] = struct{}{}
			return idx, true
		}
	}

	if m.isEndgameLocked() {
		var candidates []int
		for idx := range m.ongoing {
			if peerPieces.Has(idx) {
				candidates = append(candidates, idx)
			}
		}
		if len(candidates) > 0 {
			return candidates[m.rng.Intn(len(candidates))], true
		}
	}

	return 0, false
}

// MarkComplete records piece i as verified and written: it is removed from
// ongoing and missing, and its bitfield bit is set.
func (m *Manager) MarkComplete(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ongoing, i)
	m.removeMissingLocked(i)
	m.bf.Set(i)
}

// MarkFailed records a failed hash check for piece i: it is removed from
// ongoing, and — if not already present — reinserted into missing, which
// is then reshuffled so a persistently bad piece doesn't starve the rest
// of the download.
func (m *Manager) MarkFailed(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ongoing, i)
	if _, present := m.missingSet[i]; !present {
		m.missing = append(m.missing, i)
		m.missingSet[i] = struct{}{}
		m.rng.Shuffle(len(m.missing), func(a, b int) {
			m.missing[a], m.missing[b] = m.missing[b], m.missing[a]
		})
	}
}

// Complete reports whether every piece has been verified: both missing and
// ongoing are empty.
func (m *Manager) Complete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.missing) == 0 && len(m.ongoing) == 0
}

// IsEndgame reports whether the manager has entered the endgame selection
// policy.
func (m *Manager) IsEndgame() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isEndgameLocked()
}

func (m *Manager) isEndgameLocked() bool {
	remaining := len(m.missing)
	if remaining < endgameMinRemaining {
		return true
	}
	return float64(remaining)/float64(m.total) < endgameFraction
}

func (m *Manager) removeMissingLocked(i int) {
	if _, present := m.missingSet[i]; !present {
		return
	}
	delete(m.missingSet, i)
	for idx, v := range m.missing {
		if v == i {
			m.missing = append(m.missing[:idx], m.missing[idx+1:]...)
			break
		}
	}
}

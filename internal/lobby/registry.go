// internal/lobby/registry.go
package lobby

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"autoref/internal/models"
)

// ErrCapacity is returned when a variant's live-lobby bound is exhausted.
var ErrCapacity = errors.New("lobby: capacity exhausted")

// Registry tracks every live lobby in the process, keyed by external room
// id. It is the only structure shared across matches, and it enforces the
// per-variant capacity bound.
//
// Provisioning must hold capacity before it allocates the external room, so
// the bound is implemented as a reservation: Reserve claims a slot under the
// lock, Register later binds the created room to that claim, and Release
// returns a claim whose provisioning failed. No two provisioning sequences
// can both pass the check and then both register.
type Registry struct {
	mu       sync.Mutex
	lobbies  map[string]*AutoLobby
	reserved map[models.MatchKind]int
	caps     map[models.MatchKind]int
}

// NewRegistry builds a registry with the given per-variant capacity bounds.
func NewRegistry(caps map[models.MatchKind]int) *Registry {
	return &Registry{
		lobbies:  make(map[string]*AutoLobby),
		reserved: make(map[models.MatchKind]int),
		caps:     caps,
	}
}

// Reserve claims one slot for the given variant, or fails fast with
// ErrCapacity before any external room exists.
func (r *Registry) Reserve(kind models.MatchKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.liveUnsafe(kind)+r.reserved[kind] >= r.caps[kind] {
		return fmt.Errorf("%w: %d %s lobbies live", ErrCapacity, r.caps[kind], kind)
	}
	r.reserved[kind]++
	return nil
}

// Release returns a reservation after a failed provisioning attempt.
func (r *Registry) Release(kind models.MatchKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reserved[kind] > 0 {
		r.reserved[kind]--
	}
}

// Register binds a created room to a previously reserved slot. There is
// exactly one live lobby per room id; a duplicate registration is refused.
func (r *Registry) Register(roomID string, l *AutoLobby) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.lobbies[roomID]; exists {
		return fmt.Errorf("lobby: room %s already registered", roomID)
	}
	if r.reserved[l.Match.Kind] > 0 {
		r.reserved[l.Match.Kind]--
	}
	r.lobbies[roomID] = l
	return nil
}

// Unregister removes a lobby at teardown. Only the teardown sequencer calls
// this, after the persistent store has been updated.
func (r *Registry) Unregister(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.lobbies[roomID]; !exists {
		log.Printf("Registry WARNING: attempted to unregister unknown room %s.", roomID)
		return
	}
	delete(r.lobbies, roomID)
}

// Get returns the live lobby for a room id, if any.
func (r *Registry) Get(roomID string) (*AutoLobby, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lobbies[roomID]
	return l, ok
}

// All returns the live lobbies; the slice is a copy, safe to iterate while
// the registry changes.
func (r *Registry) All() []*AutoLobby {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*AutoLobby, 0, len(r.lobbies))
	for _, l := range r.lobbies {
		out = append(out, l)
	}
	return out
}

func (r *Registry) liveUnsafe(kind models.MatchKind) int {
	n := 0
	for _, l := range r.lobbies {
		if l.Match.Kind == kind {
			n++
		}
	}
	return n
}

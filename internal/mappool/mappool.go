// internal/mappool/mappool.go
package mappool

import (
	"errors"
	"fmt"
	"strings"

	"autoref/internal/models"
)

var (
	// ErrPoolEmpty is returned by Start when there is nothing queued to play.
	ErrPoolEmpty = errors.New("mappool: no pending picks")
	// ErrUnknownPick is returned when a queued pick id has no pool entry.
	// This is the only condition that puts a lobby into the errored state.
	ErrUnknownPick = errors.New("mappool: pick id not in pool")
	// ErrNotPlayed is returned by Replay for a pick id outside the history.
	ErrNotPlayed = errors.New("mappool: pick has not been played")
	// ErrOddModString is returned by FormatMods for a raw mod string whose
	// length is not a multiple of two. The upstream data model stores mods
	// as concatenated 2-letter codes; anything else is corrupt input and is
	// rejected rather than silently truncated.
	ErrOddModString = errors.New("mappool: odd-length mod string")
)

// Queue is the ordered pick progression for one match: the immutable pool,
// the pending ids still to play, the pick currently on the room, and the
// append-only play history. It is not safe for concurrent use; each lobby's
// event loop owns its queue exclusively.
type Queue struct {
	pool    []models.Pick
	byID    map[string]models.Pick
	pending []string
	current *models.Pick
	played  []models.Pick
}

// New builds a queue from the full pool and the ordered pending ids.
// Pending ids must be unique; an id without a pool entry is tolerated here
// and surfaces as ErrUnknownPick when it is reached, so a bad entry deep in
// the queue does not block the picks before it.
func New(pool []models.Pick, pending []string) (*Queue, error) {
	byID := make(map[string]models.Pick, len(pool))
	for _, p := range pool {
		byID[p.PickID] = p
	}
	seen := make(map[string]bool, len(pending))
	for _, id := range pending {
		if seen[id] {
			return nil, fmt.Errorf("mappool: duplicate pending pick %q", id)
		}
		seen[id] = true
	}
	q := &Queue{
		pool:    append([]models.Pick(nil), pool...),
		byID:    byID,
		pending: append([]string(nil), pending...),
	}
	return q, nil
}

// Start pops and resolves the first pending pick. It is called once, at
// provisioning time, to put the opening map on the room.
func (q *Queue) Start() (models.Pick, error) {
	if len(q.pending) == 0 {
		return models.Pick{}, ErrPoolEmpty
	}
	id := q.pending[0]
	pick, ok := q.byID[id]
	if !ok {
		return models.Pick{}, fmt.Errorf("%w: %q", ErrUnknownPick, id)
	}
	q.pending = q.pending[1:]
	q.current = &pick
	return pick, nil
}

// Advance moves the queue forward after the current pick has been played:
// the current pick is appended to the history and the next pending id is
// resolved and made current. done is true when the queue is exhausted, in
// which case there is no next pick and the caller treats the match as
// finished. A pending id with no pool entry returns ErrUnknownPick and
// leaves the queue unchanged.
func (q *Queue) Advance() (next models.Pick, done bool, err error) {
	if len(q.pending) == 0 {
		if q.current != nil {
			q.played = append(q.played, *q.current)
			q.current = nil
		}
		return models.Pick{}, true, nil
	}
	id := q.pending[0]
	pick, ok := q.byID[id]
	if !ok {
		return models.Pick{}, false, fmt.Errorf("%w: %q", ErrUnknownPick, id)
	}
	q.pending = q.pending[1:]
	if q.current != nil {
		q.played = append(q.played, *q.current)
	}
	q.current = &pick
	return pick, false, nil
}

// Replay resolves pickID against the play history, never the pool: only a
// pick that has already been played can be replayed. The pick becomes
// current again; the history is left untouched.
func (q *Queue) Replay(pickID string) (models.Pick, error) {
	for _, p := range q.played {
		if p.PickID == pickID {
			pick := p
			q.current = &pick
			return pick, nil
		}
	}
	return models.Pick{}, fmt.Errorf("%w: %q", ErrNotPlayed, pickID)
}

// Current returns the pick currently on the room, if any.
func (q *Queue) Current() (models.Pick, bool) {
	if q.current == nil {
		return models.Pick{}, false
	}
	return *q.current, true
}

// History returns the played picks in play order.
func (q *Queue) History() []models.Pick {
	return append([]models.Pick(nil), q.played...)
}

// PendingIDs returns the pick ids still queued, in play order.
func (q *Queue) PendingIDs() []string {
	return append([]string(nil), q.pending...)
}

// Remaining is the number of picks still queued.
func (q *Queue) Remaining() int {
	return len(q.pending)
}

// FormatMods converts a raw stored mod string ("HDHR", "NM", "FM", "") into
// the mods argument sent to the room. Automated rooms enforce no-fail on
// every pick except free-mod picks, so:
//
//	"NM"   => "NF"
//	"HDHR" => "NF HD HR"
//	"FM"   => "FreeMod"
//	"FMDT" => "FreeMod DT"
//	""     => "NF"
func FormatMods(raw string) (string, error) {
	if raw == "NM" {
		return "NF", nil
	}
	if len(raw)%2 != 0 {
		return "", fmt.Errorf("%w: %q", ErrOddModString, raw)
	}
	chunks := make([]string, 0, len(raw)/2)
	for i := 0; i < len(raw); i += 2 {
		chunks = append(chunks, raw[i:i+2])
	}
	tokens := []string{}
	if len(chunks) == 0 || chunks[0] != "FM" {
		tokens = append(tokens, "NF")
	}
	for _, c := range chunks {
		if c == "FM" {
			tokens = append(tokens, "FreeMod")
		} else {
			tokens = append(tokens, c)
		}
	}
	return strings.Join(tokens, " "), nil
}

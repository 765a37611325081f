// internal/models/match.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchKind distinguishes the two automated lobby variants.
type MatchKind string

const (
	KindTryout    MatchKind = "tryout"
	KindQualifier MatchKind = "qualifier"
)

// MatchState is the lifecycle state of a running automated lobby.
type MatchState string

const (
	StateInitializing MatchState = "initializing"
	StateWaiting      MatchState = "waiting"
	StatePlaying      MatchState = "playing"
	StateOvertime     MatchState = "overtime"
	StateFinished     MatchState = "finished"
	StatePanicked     MatchState = "panicked"
	StateErrored      MatchState = "errored"
)

// Terminal reports whether automation stops in this state. panicked and
// errored are terminal until a human resets or closes the match; finished
// is terminal and triggers teardown.
func (s MatchState) Terminal() bool {
	return s == StateFinished || s == StatePanicked || s == StateErrored
}

// MatchStatus is the persisted status of a scheduled match.
type MatchStatus string

const (
	StatusPending   MatchStatus = "pending"
	StatusOngoing   MatchStatus = "ongoing"
	StatusCompleted MatchStatus = "completed"
	StatusSkipped   MatchStatus = "skipped"
	StatusFailed    MatchStatus = "failed"
)

// Participant is one expected occupant of a room. The room reports members
// by display name only, so DisplayName is the identity key for roster
// matching; ExternalID is kept for persistence and result reconciliation.
type Participant struct {
	ExternalID      int64     `json:"external_id"`
	DisplayName     string    `json:"display_name"`
	LinkedAccountID uuid.UUID `json:"linked_account_id,omitempty"`
}

// Pick is one slot in a match's map pool. PickID is a short label unique
// within the pool ("NM2", "HD1", "TB"); Mods is the raw mod-code string as
// stored ("HDHR", "NM", "FM").
type Pick struct {
	MapID  int64  `json:"map_id"`
	PickID string `json:"pick_id"`
	Mods   string `json:"mods"`
}

// Match is the aggregate loaded for one scheduled match when the scheduler
// decides it is due. It is mutated only by the owning AutoLobby's event loop
// and destroyed at teardown; while live it is the sole source of truth.
type Match struct {
	ID     uuid.UUID `json:"id"`
	Kind   MatchKind `json:"kind"`
	RoomID string    `json:"room_id,omitempty"` // external room id, empty until provisioned

	Participants []Participant `json:"participants"`
	Referees     []Participant `json:"referees"`

	Pool    []Pick   `json:"pool"`
	Pending []string `json:"pending"` // ordered pick ids still to play
	Played  []Pick   `json:"played"`  // append-only play history

	State             MatchState `json:"state"`
	MatchStartedAt    *time.Time `json:"match_started_at,omitempty"`
	OvertimeGraceUsed bool       `json:"overtime_grace_used"`

	ScheduledAt time.Time `json:"scheduled_at"`

	// Notification routing: where staff escalations and player-facing
	// messages for this match are delivered.
	StaffSinkID  string `json:"staff_sink_id"`
	PlayerSinkID string `json:"player_sink_id"`

	// Tryout only.
	StageLabel string `json:"stage_label,omitempty"`

	// Qualifier only.
	TeamLabel        string       `json:"team_label,omitempty"`
	Captain          *Participant `json:"captain,omitempty"`
	ExpectedRoomSize int          `json:"expected_room_size,omitempty"`
}

// Roster returns participants and referees combined, the full set of people
// authorized to occupy the room.
func (m *Match) Roster() []Participant {
	out := make([]Participant, 0, len(m.Participants)+len(m.Referees))
	out = append(out, m.Participants...)
	out = append(out, m.Referees...)
	return out
}

// Title is the room title used when the lobby is created.
func (m *Match) Title() string {
	if m.Kind == KindQualifier {
		return "Qualifier: " + m.TeamLabel
	}
	return "Tryout: " + m.StageLabel
}

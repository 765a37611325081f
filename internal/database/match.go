// internal/database/match.go
package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"autoref/internal/models"
)

// MatchStore is the persistence surface the lobby orchestrator depends on.
// The production implementation is PGStore; tests substitute a mock.
type MatchStore interface {
	SetMatchStatus(ctx context.Context, matchID uuid.UUID, status models.MatchStatus) error
	SetMatchRoom(ctx context.Context, matchID uuid.UUID, roomID string) error
	MarkPlayed(ctx context.Context, matchID uuid.UUID, names []string) error
	MarkAbsent(ctx context.Context, matchID uuid.UUID, kind models.MatchKind, names []string) error
	SaveNotificationMessage(ctx context.Context, matchID uuid.UUID, sinkID, messageID string) error
}

// PGStore implements MatchStore on the shared pgx pool.
type PGStore struct{}

func NewPGStore() *PGStore { return &PGStore{} }

// LoadMatch assembles the full in-memory aggregate for one scheduled match:
// the match row, its ordered pool, the still-pending pick ids, and the
// registered players and referees. This runs once, when the scheduling
// trigger decides the match is due; afterwards the in-memory record is the
// sole source of truth until teardown writes back.
func (s *PGStore) LoadMatch(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	m := &models.Match{ID: matchID, State: models.StateInitializing}

	var captainName *string
	var captainID *int64
	row := DB.QueryRow(ctx, `
		SELECT kind, COALESCE(room_id, ''), scheduled_at,
		       staff_sink_id, player_sink_id,
		       COALESCE(stage_label, ''), COALESCE(team_label, ''),
		       COALESCE(expected_room_size, 0),
		       captain_external_id, captain_display_name
		FROM matches WHERE id = $1`, matchID)
	if err := row.Scan(&m.Kind, &m.RoomID, &m.ScheduledAt,
		&m.StaffSinkID, &m.PlayerSinkID,
		&m.StageLabel, &m.TeamLabel, &m.ExpectedRoomSize,
		&captainID, &captainName); err != nil {
		return nil, fmt.Errorf("load match %s: %w", matchID, err)
	}
	if captainName != nil && captainID != nil {
		m.Captain = &models.Participant{ExternalID: *captainID, DisplayName: *captainName}
	}

	rows, err := DB.Query(ctx, `
		SELECT map_id, pick_id, mods, pending
		FROM match_picks WHERE match_id = $1 ORDER BY sort_order`, matchID)
	if err != nil {
		return nil, fmt.Errorf("load picks for %s: %w", matchID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var p models.Pick
		var pending bool
		if err := rows.Scan(&p.MapID, &p.PickID, &p.Mods, &pending); err != nil {
			return nil, err
		}
		m.Pool = append(m.Pool, p)
		if pending {
			m.Pending = append(m.Pending, p.PickID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	prows, err := DB.Query(ctx, `
		SELECT external_id, display_name, linked_account_id, role
		FROM match_participants WHERE match_id = $1 AND status = 'registered'
		ORDER BY display_name`, matchID)
	if err != nil {
		return nil, fmt.Errorf("load participants for %s: %w", matchID, err)
	}
	defer prows.Close()
	for prows.Next() {
		var p models.Participant
		var linked *uuid.UUID
		var role string
		if err := prows.Scan(&p.ExternalID, &p.DisplayName, &linked, &role); err != nil {
			return nil, err
		}
		if linked != nil {
			p.LinkedAccountID = *linked
		}
		if role == "referee" {
			m.Referees = append(m.Referees, p)
		} else {
			m.Participants = append(m.Participants, p)
		}
	}
	return m, prows.Err()
}

// SetMatchStatus persists the scheduling status transition.
func (s *PGStore) SetMatchStatus(ctx context.Context, matchID uuid.UUID, status models.MatchStatus) error {
	_, err := DB.Exec(ctx,
		`UPDATE matches SET status = $2, updated_at = now() WHERE id = $1`,
		matchID, string(status))
	if err != nil {
		return fmt.Errorf("set match %s status %s: %w", matchID, status, err)
	}
	return nil
}

// SetMatchRoom records the external room id once the room exists, making the
// match reachable again by channel name after a staff-side lookup.
func (s *PGStore) SetMatchRoom(ctx context.Context, matchID uuid.UUID, roomID string) error {
	_, err := DB.Exec(ctx,
		`UPDATE matches SET room_id = $2, updated_at = now() WHERE id = $1`,
		matchID, roomID)
	if err != nil {
		return fmt.Errorf("set match %s room %s: %w", matchID, roomID, err)
	}
	return nil
}

// MarkPlayed flags the named participants as having played.
func (s *PGStore) MarkPlayed(ctx context.Context, matchID uuid.UUID, names []string) error {
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, name := range names {
			if _, err := tx.Exec(ctx, `
				UPDATE match_participants SET status = 'played'
				WHERE match_id = $1 AND display_name = $2 AND role = 'player'`,
				matchID, name); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkAbsent applies the per-variant absence policy: tryout absentees are
// dropped from the stage, qualifier absentees are recorded as no-shows (the
// team may have fielded a legitimate subset).
func (s *PGStore) MarkAbsent(ctx context.Context, matchID uuid.UUID, kind models.MatchKind, names []string) error {
	status := "no_show"
	if kind == models.KindTryout {
		status = "dropped"
	}
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, name := range names {
			if _, err := tx.Exec(ctx, `
				UPDATE match_participants SET status = $3
				WHERE match_id = $1 AND display_name = $2 AND role = 'player'`,
				matchID, name, status); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveNotificationMessage stores the bridge-assigned message id for a sink so
// a re-send replaces the earlier message instead of duplicating it.
func (s *PGStore) SaveNotificationMessage(ctx context.Context, matchID uuid.UUID, sinkID, messageID string) error {
	_, err := DB.Exec(ctx, `
		INSERT INTO notification_messages (match_id, sink_id, message_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (match_id, sink_id) DO UPDATE SET message_id = $3`,
		matchID, sinkID, messageID)
	if err != nil {
		return fmt.Errorf("save notification message for %s: %w", matchID, err)
	}
	return nil
}

// LoadNotificationMessage returns the stored message id for a sink, or ""
// when none has been recorded.
func (s *PGStore) LoadNotificationMessage(ctx context.Context, matchID uuid.UUID, sinkID string) (string, error) {
	var id string
	err := DB.QueryRow(ctx, `
		SELECT message_id FROM notification_messages
		WHERE match_id = $1 AND sink_id = $2`, matchID, sinkID).Scan(&id)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	return id, err
}

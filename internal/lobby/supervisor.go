// internal/lobby/supervisor.go
package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"autoref/internal/bancho"
	"autoref/internal/config"
	"autoref/internal/database"
	"autoref/internal/mappool"
	"autoref/internal/models"
	"autoref/internal/notify"
	"autoref/internal/results"
	"autoref/internal/roster"
)

// RoomCreator allocates a new external room and returns its id and control
// handle. In production this is the bancho client; tests substitute a fake.
type RoomCreator interface {
	CreateRoom(ctx context.Context, title string) (string, bancho.RoomConn, error)
}

// Supervisor owns the provisioning and teardown sequences and routes
// gateway events to the lobby that owns each room.
type Supervisor struct {
	Registry *Registry
	Rooms    RoomCreator
	Store    database.MatchStore
	Notifier notify.Notifier
	Results  results.Fetcher
	Cfg      *config.Config
	Logger   *logrus.Logger

	// OpsEvent fans lifecycle notices out to the ops stream.
	OpsEvent func(OpsEvent)
}

// NewSupervisor wires a supervisor over its collaborators.
func NewSupervisor(reg *Registry, rooms RoomCreator, store database.MatchStore,
	notifier notify.Notifier, res results.Fetcher, cfg *config.Config, logger *logrus.Logger) *Supervisor {
	return &Supervisor{
		Registry: reg,
		Rooms:    rooms,
		Store:    store,
		Notifier: notifier,
		Results:  res,
		Cfg:      cfg,
		Logger:   logger,
	}
}

// Dispatch hands one gateway event to the lobby registered for its room.
// Unknown rooms are normal: other people's rooms share the gateway.
func (s *Supervisor) Dispatch(ev bancho.RoomEvent) {
	l, ok := s.Registry.Get(ev.Room)
	if !ok {
		return
	}
	l.Deliver(ev)
}

// Provision takes a due match through room creation and setup. The order
// matters: capacity is reserved before any room exists, so a capacity
// failure never leaves an orphaned room, and the registry entry is committed
// as soon as the room exists, so any later failure still has teardown
// reachable.
func (s *Supervisor) Provision(ctx context.Context, m *models.Match) (*AutoLobby, error) {
	if err := s.Registry.Reserve(m.Kind); err != nil {
		s.failBeforeRoom(ctx, m, "no free lobby slot, try again later", err)
		return nil, err
	}

	queue, err := mappool.New(m.Pool, m.Pending)
	if err == nil {
		_, err = queue.Start()
	}
	if err != nil {
		s.Registry.Release(m.Kind)
		s.failBeforeRoom(ctx, m, "cannot provision: map pool is empty or invalid", err)
		return nil, err
	}
	first, _ := queue.Current()

	roomID, room, err := s.Rooms.CreateRoom(ctx, m.Title())
	if err != nil {
		s.Registry.Release(m.Kind)
		s.failBeforeRoom(ctx, m, "room creation failed", err)
		return nil, err
	}
	m.RoomID = roomID
	m.State = models.StateInitializing

	l := NewAutoLobby(m, queue, Deps{
		Room:     room,
		Notifier: s.Notifier,
		Store:    s.Store,
		Cfg:      s.Cfg,
		Logger:   s.Logger,
		OnFinished: func(l *AutoLobby, final models.MatchStatus) {
			s.Teardown(context.Background(), l, final)
		},
		OpsEvent: s.OpsEvent,
	})

	// The room exists now; register before anything else can fail so
	// teardown always has a handle on it.
	if err := s.Registry.Register(roomID, l); err != nil {
		room.Close()
		s.Registry.Release(m.Kind)
		s.failBeforeRoom(ctx, m, "internal registry conflict", err)
		return nil, err
	}
	go l.Run()
	s.emitOps("registered", l)

	l.Prepare(first)

	// Persistence failures after this point do not abort the live room;
	// staff get told exactly what is missing instead.
	if err := s.Store.SetMatchRoom(ctx, m.ID, roomID); err != nil {
		s.notifyStaff(ctx, m, "room "+roomID+" is live but its id could not be persisted: "+err.Error())
	}
	if err := s.Store.SetMatchStatus(ctx, m.ID, models.StatusOngoing); err != nil {
		s.notifyStaff(ctx, m, "room "+roomID+" is live but status update failed: "+err.Error())
	}
	if err := s.Notifier.NotifyPlayers(ctx, m.ID, m.PlayerSinkID,
		fmt.Sprintf("Your lobby for %s is ready: room %s. Invites are on the way.", m.Title(), roomID)); err != nil {
		s.Logger.Warnf("player notification for match %s failed: %v", m.ID, err)
	}

	s.Logger.WithFields(logrus.Fields{"match": m.ID, "room": roomID}).Info("lobby provisioned")
	return l, nil
}

// Prepare configures the freshly created room: size, team mode, the opening
// pick, the initial timer sized from the schedule, and the invites.
func (l *AutoLobby) Prepare(first models.Pick) {
	l.Mu.Lock()
	defer l.Mu.Unlock()

	size := len(l.Match.Participants) + len(l.Match.Referees)
	if l.Match.Kind == models.KindQualifier && l.Match.ExpectedRoomSize > 0 {
		size = l.Match.ExpectedRoomSize + len(l.Match.Referees)
	}
	l.deps.Room.SetSize(size)
	l.deps.Room.SetTeamMode(bancho.TeamModeHeadToHead)
	l.applyPickUnsafe(first)
	l.syncQueueUnsafe()

	wait := time.Until(l.Match.ScheduledAt)
	if wait < l.deps.Cfg.InitialTimerFloor {
		wait = l.deps.Cfg.InitialTimerFloor
	}
	l.armTimerUnsafe(wait)

	for _, p := range l.Match.Referees {
		l.deps.Room.Invite(p.DisplayName)
	}
	for _, p := range l.Match.Participants {
		l.deps.Room.Invite(p.DisplayName)
	}
}

// Teardown closes the room, removes it from the registry, and reconciles
// persisted state against what actually happened. Results-API failure never
// blocks the teardown itself; it degrades to a manual-finish instruction.
func (s *Supervisor) Teardown(ctx context.Context, l *AutoLobby, final models.MatchStatus) {
	m := l.Match
	log := s.Logger.WithFields(logrus.Fields{"match": m.ID, "room": m.RoomID})

	l.Mu.Lock()
	l.deps.Room.Close()
	l.Mu.Unlock()

	s.Registry.Unregister(m.RoomID)
	l.Stop()
	s.emitOps("unregistered", l)

	if final == models.StatusSkipped {
		// Nothing was played; there is nothing to reconcile.
		if err := s.Store.SetMatchStatus(ctx, m.ID, models.StatusSkipped); err != nil {
			log.Errorf("persisting skipped status failed: %v", err)
		}
		s.notifyStaff(ctx, m, "match skipped: no picks were played")
		return
	}

	res, err := s.Results.GetMatch(ctx, m.RoomID)
	if err != nil {
		log.Errorf("results fetch failed: %v", err)
		s.notifyStaff(ctx, m, "room closed but results could not be fetched; please finish the match manually")
		if err := s.Store.SetMatchStatus(ctx, m.ID, models.StatusFailed); err != nil {
			log.Errorf("persisting failed status failed: %v", err)
		}
		return
	}

	attendees := make([]models.Participant, len(res.Attendees))
	for i, name := range res.Attendees {
		attendees[i] = models.Participant{DisplayName: name}
	}
	played := roster.Names(roster.Present(m.Participants, attendees))
	absent := roster.Names(roster.Missing(m.Participants, attendees))

	if err := s.Store.MarkPlayed(ctx, m.ID, played); err != nil {
		log.Errorf("marking played participants failed: %v", err)
	}
	if err := s.Store.MarkAbsent(ctx, m.ID, m.Kind, absent); err != nil {
		log.Errorf("marking absent participants failed: %v", err)
	}
	if err := s.Store.SetMatchStatus(ctx, m.ID, final); err != nil {
		log.Errorf("persisting final status failed: %v", err)
	}

	s.notifyStaff(ctx, m, fmt.Sprintf("match %s: %d map(s) played, %d participant(s) played, %d absent",
		final, len(res.PlayedMapIDs), len(played), len(absent)))
	log.Infof("teardown complete (%s)", final)
}

// failBeforeRoom records a provisioning failure that happened before (or
// instead of) room creation: status failed, staff paged, nothing live.
func (s *Supervisor) failBeforeRoom(ctx context.Context, m *models.Match, msg string, cause error) {
	s.Logger.WithField("match", m.ID).Errorf("provisioning failed: %s: %v", msg, cause)
	if err := s.Store.SetMatchStatus(ctx, m.ID, models.StatusFailed); err != nil {
		s.Logger.Errorf("persisting failed status for %s: %v", m.ID, err)
	}
	s.notifyStaff(ctx, m, "provisioning failed: "+msg)
}

func (s *Supervisor) notifyStaff(ctx context.Context, m *models.Match, text string) {
	mentions := make([]string, 0, len(m.Referees))
	for _, r := range m.Referees {
		mentions = append(mentions, r.DisplayName)
	}
	if len(mentions) == 0 {
		mentions = append(mentions, s.Cfg.StaffFallbackRole)
	}
	msg := fmt.Sprintf("[%s] %s", m.Title(), text)
	if err := s.Notifier.NotifyStaff(ctx, m.ID, m.StaffSinkID, msg, mentions...); err != nil {
		s.Logger.Errorf("staff notification for %s failed: %v", m.ID, err)
	}
}

func (s *Supervisor) emitOps(typ string, l *AutoLobby) {
	if s.OpsEvent == nil {
		return
	}
	s.OpsEvent(OpsEvent{
		Type:    typ,
		RoomID:  l.Match.RoomID,
		MatchID: l.Match.ID,
		State:   l.Match.State,
		At:      time.Now(),
	})
}

// ErrNotFound is returned by Lookup for a room with no live lobby.
var ErrNotFound = errors.New("lobby: no live lobby for room")

// Lookup resolves a room id to its live lobby snapshot for the ops API.
func (s *Supervisor) Lookup(roomID string) (Snapshot, error) {
	l, ok := s.Registry.Get(roomID)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, roomID)
	}
	return l.Snapshot(), nil
}

// Snapshots lists every live lobby for the ops API.
func (s *Supervisor) Snapshots() []Snapshot {
	all := s.Registry.All()
	out := make([]Snapshot, 0, len(all))
	for _, l := range all {
		out = append(out, l.Snapshot())
	}
	return out
}

// internal/lobby/supervisor_test.go
package lobby

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoref/internal/bancho"
	"autoref/internal/models"
	"autoref/internal/results"
)

// mockCreator hands out mock rooms with sequential ids.
type mockCreator struct {
	mu       sync.Mutex
	created  int
	failErr  error
	fixedID  string
	lastRoom *mockRoom
}

func (c *mockCreator) CreateRoom(_ context.Context, _ string) (string, bancho.RoomConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return "", nil, c.failErr
	}
	c.created++
	c.lastRoom = &mockRoom{}
	if c.fixedID != "" {
		return c.fixedID, c.lastRoom, nil
	}
	return "500" + string(rune('0'+c.created)), c.lastRoom, nil
}

// mockStore records persistence calls.
type mockStore struct {
	mu       sync.Mutex
	statuses []models.MatchStatus
	rooms    []string
	played   []string
	absent   []string
}

func (s *mockStore) SetMatchStatus(_ context.Context, _ uuid.UUID, st models.MatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
	return nil
}

func (s *mockStore) SetMatchRoom(_ context.Context, _ uuid.UUID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, roomID)
	return nil
}

func (s *mockStore) MarkPlayed(_ context.Context, _ uuid.UUID, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, names...)
	return nil
}

func (s *mockStore) MarkAbsent(_ context.Context, _ uuid.UUID, _ models.MatchKind, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.absent = append(s.absent, names...)
	return nil
}

func (s *mockStore) SaveNotificationMessage(_ context.Context, _ uuid.UUID, _, _ string) error {
	return nil
}

func (s *mockStore) lastStatus() models.MatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

// mockResults serves a canned match record.
type mockResults struct {
	match results.Match
	err   error
}

func (r *mockResults) GetMatch(_ context.Context, _ string) (results.Match, error) {
	return r.match, r.err
}

func testMatch(kind models.MatchKind) *models.Match {
	return &models.Match{
		ID:   uuid.New(),
		Kind: kind,
		Participants: []models.Participant{
			{ExternalID: 1, DisplayName: "p1"},
			{ExternalID: 2, DisplayName: "p2"},
		},
		Referees: []models.Participant{{ExternalID: 9, DisplayName: "ref"}},
		Pool: []models.Pick{
			{MapID: 101, PickID: "NM1", Mods: "NM"},
			{MapID: 102, PickID: "NM2", Mods: "NM"},
		},
		Pending:     []string{"NM1", "NM2"},
		ScheduledAt: time.Now().Add(5 * time.Minute),
		StageLabel:  "Stage 1",
		State:       models.StateInitializing,
	}
}

func testSupervisor(t *testing.T) (*Supervisor, *mockCreator, *mockStore, *mockNotifier, *mockResults) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	creator := &mockCreator{}
	store := &mockStore{}
	notifier := &mockNotifier{}
	res := &mockResults{}
	s := NewSupervisor(
		NewRegistry(map[models.MatchKind]int{models.KindTryout: 1, models.KindQualifier: 1}),
		creator, store, notifier, res, testConfig(), logger)
	return s, creator, store, notifier, res
}

func TestProvisionHappyPath(t *testing.T) {
	s, creator, store, _, _ := testSupervisor(t)
	m := testMatch(models.KindTryout)

	l, err := s.Provision(context.Background(), m)
	require.NoError(t, err)
	require.NotNil(t, l)
	defer l.Stop()

	_, ok := s.Registry.Get(m.RoomID)
	assert.True(t, ok)
	assert.Equal(t, 1, creator.created)

	room := creator.lastRoom
	assert.Equal(t, 1, room.count("size "))
	assert.Equal(t, 1, room.count("teammode "))
	assert.Equal(t, 1, room.count("map 101"))
	assert.Equal(t, 1, room.count("mods NF"))
	assert.Equal(t, 1, room.count("timer "))
	assert.Equal(t, 1, room.count("invite p1"))
	assert.Equal(t, 1, room.count("invite p2"))
	assert.Equal(t, 1, room.count("invite ref"))

	assert.Equal(t, []string{m.RoomID}, store.rooms)
	assert.Equal(t, models.StatusOngoing, store.lastStatus())
	assert.Equal(t, models.StateInitializing, m.State)
}

func TestProvisionCapacityFailsFast(t *testing.T) {
	s, creator, store, notifier, _ := testSupervisor(t)

	l, err := s.Provision(context.Background(), testMatch(models.KindTryout))
	require.NoError(t, err)
	defer l.Stop()

	_, err = s.Provision(context.Background(), testMatch(models.KindTryout))
	assert.ErrorIs(t, err, ErrCapacity)
	// Fail fast: the second room was never allocated.
	assert.Equal(t, 1, creator.created)
	assert.Equal(t, models.StatusFailed, store.lastStatus())
	assert.GreaterOrEqual(t, notifier.staffCount(), 1)
}

func TestProvisionEmptyPoolFails(t *testing.T) {
	s, creator, store, _, _ := testSupervisor(t)
	m := testMatch(models.KindTryout)
	m.Pending = nil

	_, err := s.Provision(context.Background(), m)
	assert.Error(t, err)
	assert.Equal(t, 0, creator.created)
	assert.Equal(t, models.StatusFailed, store.lastStatus())

	// The reservation was returned; the next attempt may proceed.
	l, err := s.Provision(context.Background(), testMatch(models.KindTryout))
	require.NoError(t, err)
	l.Stop()
}

func TestProvisionRoomCreationFails(t *testing.T) {
	s, creator, store, notifier, _ := testSupervisor(t)
	creator.failErr = errors.New("gateway down")

	_, err := s.Provision(context.Background(), testMatch(models.KindTryout))
	assert.Error(t, err)
	assert.Equal(t, models.StatusFailed, store.lastStatus())
	assert.GreaterOrEqual(t, notifier.staffCount(), 1)
	assert.Empty(t, s.Registry.All())
}

// A registry conflict after room creation must hand the capacity slot back.
func TestRegistryConflictReleasesReservation(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	creator := &mockCreator{fixedID: "6001"}
	s := NewSupervisor(
		NewRegistry(map[models.MatchKind]int{models.KindTryout: 2}),
		creator, &mockStore{}, &mockNotifier{}, &mockResults{}, testConfig(), logger)

	l, err := s.Provision(context.Background(), testMatch(models.KindTryout))
	require.NoError(t, err)
	defer l.Stop()

	// Same room id again: registration conflicts.
	_, err = s.Provision(context.Background(), testMatch(models.KindTryout))
	require.Error(t, err)

	// One live lobby against a bound of two; the failed attempt must not
	// still hold a slot.
	assert.NoError(t, s.Registry.Reserve(models.KindTryout))
}

func TestTeardownReconcilesAttendance(t *testing.T) {
	s, creator, store, notifier, res := testSupervisor(t)
	m := testMatch(models.KindTryout)

	l, err := s.Provision(context.Background(), m)
	require.NoError(t, err)

	// Only p1 actually played.
	res.match = results.Match{
		RoomID:       m.RoomID,
		Attendees:    []string{"p1"},
		PlayedMapIDs: []int64{101, 102},
	}

	s.Teardown(context.Background(), l, models.StatusCompleted)

	assert.Empty(t, s.Registry.All())
	assert.Equal(t, 1, creator.lastRoom.count("close"))
	assert.Equal(t, []string{"p1"}, store.played)
	assert.Equal(t, []string{"p2"}, store.absent)
	assert.Equal(t, models.StatusCompleted, store.lastStatus())
	assert.GreaterOrEqual(t, notifier.staffCount(), 1)
}

func TestTeardownResultsFailureDegradesToManual(t *testing.T) {
	s, _, store, notifier, res := testSupervisor(t)
	m := testMatch(models.KindTryout)

	l, err := s.Provision(context.Background(), m)
	require.NoError(t, err)

	res.err = errors.New("api unavailable")
	s.Teardown(context.Background(), l, models.StatusCompleted)

	assert.Empty(t, s.Registry.All())
	assert.Equal(t, models.StatusFailed, store.lastStatus())
	require.GreaterOrEqual(t, notifier.staffCount(), 1)
	found := false
	for _, msg := range notifier.staff {
		if strings.Contains(msg, "manually") {
			found = true
		}
	}
	assert.True(t, found, "staff must be told to finish manually")
	assert.Empty(t, store.played)
}

func TestTeardownSkippedWritesSkipped(t *testing.T) {
	s, _, store, _, res := testSupervisor(t)
	m := testMatch(models.KindTryout)

	l, err := s.Provision(context.Background(), m)
	require.NoError(t, err)

	res.err = errors.New("should not be called")
	s.Teardown(context.Background(), l, models.StatusSkipped)

	// Skipped teardown never consults the results API.
	assert.Equal(t, models.StatusSkipped, store.lastStatus())
	assert.Empty(t, store.played)
	assert.Empty(t, store.absent)
}

func TestDispatchRoutesByRoom(t *testing.T) {
	s, _, _, _, _ := testSupervisor(t)
	m := testMatch(models.KindTryout)

	l, err := s.Provision(context.Background(), m)
	require.NoError(t, err)
	defer func() {
		s.Registry.Unregister(m.RoomID)
		l.Stop()
	}()

	s.Dispatch(bancho.RoomEvent{Room: m.RoomID, Type: bancho.EventPlayerJoined, Player: "p1"})
	// Unknown rooms are silently ignored.
	s.Dispatch(bancho.RoomEvent{Room: "nope", Type: bancho.EventPlayerJoined, Player: "x"})

	require.Eventually(t, func() bool {
		for _, name := range l.Snapshot().Members {
			if name == "p1" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

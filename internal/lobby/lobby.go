// internal/lobby/lobby.go
package lobby

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"autoref/internal/bancho"
	"autoref/internal/config"
	"autoref/internal/database"
	"autoref/internal/mappool"
	"autoref/internal/models"
	"autoref/internal/notify"
	"autoref/internal/roster"
)

// OpsEvent is a lifecycle notice emitted for the ops dashboard stream.
type OpsEvent struct {
	Type    string            `json:"type"` // "registered", "state", "unregistered"
	RoomID  string            `json:"room_id"`
	MatchID uuid.UUID         `json:"match_id"`
	State   models.MatchState `json:"state"`
	At      time.Time         `json:"at"`
}

// Deps are the collaborators injected into every AutoLobby. Room commands
// are fire-and-forget; Store and Notifier calls may block, which stalls only
// this lobby's own event queue.
type Deps struct {
	Room     bancho.RoomConn
	Notifier notify.Notifier
	Store    database.MatchStore
	Cfg      *config.Config
	Logger   *logrus.Logger

	// OnFinished is invoked off the event loop when the lobby needs
	// teardown, with the final persisted status to record.
	OnFinished func(l *AutoLobby, final models.MatchStatus)

	// OpsEvent, when set, receives lifecycle notices.
	OpsEvent func(OpsEvent)
}

// input is one unit of work for a lobby's event loop: a gateway event, a
// local timer expiry (with its generation), or the close timer.
type input struct {
	ev         *bancho.RoomEvent
	timerGen   int
	closeTimer bool
}

// AutoLobby drives one match through its room lifecycle. All state mutation
// happens on the lobby's own event loop, which consumes inputs strictly in
// arrival order; Mu additionally guards the fields so Snapshot can read them
// from other goroutines.
type AutoLobby struct {
	Match *models.Match

	Mu    sync.Mutex
	queue *mappool.Queue
	deps  Deps
	log   *logrus.Entry

	// members is the live room occupancy as reconstructed from join/leave
	// events, by display name.
	members []models.Participant

	// timerGen invalidates superseded local timers: arming a new timer
	// bumps the generation and an expiry carrying an older one is stale.
	// Local timers are bookkeeping only; the authoritative timer-end signal
	// is the gateway's countdown-finished event.
	timerGen int

	// last map/mods commanded onto the room, to skip redundant commands.
	lastMapID int64
	lastMods  string

	finishFinal models.MatchStatus

	// pages are staff notifications queued while the lock is held and
	// delivered after it is released.
	pages []staffPage

	inbox    chan input
	done     chan struct{}
	stopOnce sync.Once
}

// NewAutoLobby wires a lobby around an already-loaded match and its pick
// queue. The event loop is not started; callers invoke Run after the room
// has been registered.
func NewAutoLobby(m *models.Match, q *mappool.Queue, deps Deps) *AutoLobby {
	return &AutoLobby{
		Match: m,
		queue: q,
		deps:  deps,
		log: deps.Logger.WithFields(logrus.Fields{
			"match": m.ID,
			"kind":  m.Kind,
			"room":  m.RoomID,
		}),
		inbox: make(chan input, 64),
		done:  make(chan struct{}),
	}
}

// Run consumes the lobby's input queue until Stop. One goroutine per lobby;
// inputs for this match never interleave, and nothing blocking here touches
// any other match.
func (l *AutoLobby) Run() {
	for {
		select {
		case in := <-l.inbox:
			l.process(in)
		case <-l.done:
			return
		}
	}
}

// Stop ends the event loop. Called by teardown after the lobby has been
// unregistered. The inbox channel itself is never closed: timer callbacks and
// the dispatcher may still race a late enqueue, and those must degrade to a
// dropped input, never a panic.
func (l *AutoLobby) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Deliver queues a gateway event for this lobby. It never blocks the
// dispatcher.
func (l *AutoLobby) Deliver(ev bancho.RoomEvent) {
	l.enqueue(input{ev: &ev})
}

func (l *AutoLobby) enqueue(in input) {
	select {
	case <-l.done:
		// Stopped; late timer callbacks and gateway events land here.
		return
	default:
	}
	select {
	case l.inbox <- in:
	case <-l.done:
	default:
		// Gateway events are best-effort signals; a lobby this far behind
		// is already being rescued by a human.
		l.log.Warn("event queue full, dropping input")
	}
}

// process is the per-match error boundary: anything thrown while reacting to
// one input is converted into a staff notification plus the errored state,
// and never crosses into another match or crashes the process.
func (l *AutoLobby) process(in input) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Errorf("event processing panicked: %v", r)
			l.Mu.Lock()
			l.enterErroredUnsafe(fmt.Sprintf("internal error: %v", r))
			l.Mu.Unlock()
			l.flushPages()
		}
	}()
	l.handle(in)
}

func (l *AutoLobby) handle(in input) {
	func() {
		l.Mu.Lock()
		defer l.Mu.Unlock()

		switch {
		case in.closeTimer:
			l.fireTeardownUnsafe(l.finishFinal)
		case in.timerGen != 0:
			if in.timerGen != l.timerGen {
				return // superseded timer
			}
			l.timerExpiredUnsafe()
		case in.ev != nil:
			l.handleEventUnsafe(*in.ev)
		}
	}()
	l.flushPages()
}

func (l *AutoLobby) handleEventUnsafe(ev bancho.RoomEvent) {
	switch ev.Type {
	case bancho.EventPlayerJoined:
		l.addMemberUnsafe(ev.Player)
		l.kickUnauthorizedUnsafe()
	case bancho.EventPlayerLeft:
		l.removeMemberUnsafe(ev.Player)
	case bancho.EventChat:
		l.handleChatUnsafe(ev.Sender, ev.Text)
	case bancho.EventMatchStarted:
		l.matchStartedUnsafe()
	case bancho.EventMatchFinished:
		l.matchFinishedUnsafe()
	case bancho.EventAllReady:
		l.allReadyUnsafe()
	case bancho.EventTimerEnded:
		// The gateway's countdown-finished is the authoritative timer
		// signal; it goes through the same path as the local bookkeeping
		// timer.
		l.timerExpiredUnsafe()
	case bancho.EventRoomClosed:
		l.roomClosedUnsafe()
	}
}

// --- membership ---

func (l *AutoLobby) addMemberUnsafe(name string) {
	for _, m := range l.members {
		if m.DisplayName == name {
			return
		}
	}
	l.members = append(l.members, models.Participant{DisplayName: name})
	l.log.Debugf("member joined: %s (%d in room)", name, len(l.members))
}

func (l *AutoLobby) removeMemberUnsafe(name string) {
	for i, m := range l.members {
		if m.DisplayName == name {
			l.members = append(l.members[:i], l.members[i+1:]...)
			l.log.Debugf("member left: %s (%d in room)", name, len(l.members))
			return
		}
	}
}

// kickUnauthorizedUnsafe removes room occupants that are neither registered
// participants nor referees. This runs on every membership change, in every
// state.
func (l *AutoLobby) kickUnauthorizedUnsafe() {
	intruders := roster.Unauthorized(l.members, l.Match.Roster())
	for _, p := range intruders {
		l.log.Infof("kicking unauthorized occupant %s", p.DisplayName)
		l.deps.Room.Kick(p.DisplayName)
		l.removeMemberUnsafe(p.DisplayName)
	}
}

// --- roster policy ---

// rosterCompleteUnsafe applies the per-variant start gate. Tryouts want
// every registered participant, though after the first grace cycle the
// absentees are tolerated as long as anyone showed up. Qualifiers want the
// agreed headcount of known players, not full attendance, so a team may
// field a subset.
func (l *AutoLobby) rosterCompleteUnsafe() bool {
	present := roster.Present(l.Match.Participants, l.members)
	switch l.Match.Kind {
	case models.KindQualifier:
		want := l.Match.ExpectedRoomSize
		if want <= 0 {
			want = len(l.Match.Participants)
		}
		return len(present) >= want
	default:
		if len(roster.Missing(l.Match.Participants, l.members)) == 0 {
			return true
		}
		return l.Match.OvertimeGraceUsed && len(present) > 0
	}
}

func (l *AutoLobby) inviteMissingUnsafe() {
	missing := roster.Missing(l.Match.Participants, l.members)
	for _, p := range missing {
		l.deps.Room.Invite(p.DisplayName)
	}
	if len(missing) > 0 {
		l.deps.Room.Say(fmt.Sprintf("Waiting on %d player(s); invites sent.", len(missing)))
	}
}

// --- transitions ---

func (l *AutoLobby) setStateUnsafe(next models.MatchState) {
	if l.Match.State == next {
		return
	}
	l.log.Infof("state %s -> %s", l.Match.State, next)
	l.Match.State = next
	if l.deps.OpsEvent != nil {
		l.deps.OpsEvent(OpsEvent{
			Type:    "state",
			RoomID:  l.Match.RoomID,
			MatchID: l.Match.ID,
			State:   next,
			At:      time.Now(),
		})
	}
}

// timerExpiredUnsafe is the reaction to any timer-end signal, local or
// gateway. Every state has a defined reaction, so duplicate or superseded
// external timer events degrade to no-ops.
func (l *AutoLobby) timerExpiredUnsafe() {
	switch l.Match.State {
	case models.StateInitializing:
		if l.rosterCompleteUnsafe() {
			l.startMatchUnsafe()
			return
		}
		if !l.Match.OvertimeGraceUsed {
			l.Match.OvertimeGraceUsed = true
			l.inviteMissingUnsafe()
			l.armTimerUnsafe(l.deps.Cfg.GraceLong)
			l.setStateUnsafe(models.StateOvertime)
			return
		}
		// Grace already spent: either nobody ever came, or force the start.
		if len(roster.Present(l.Match.Participants, l.members)) == 0 {
			l.skipUnsafe()
			return
		}
		l.startMatchUnsafe()

	case models.StateWaiting:
		if l.rosterCompleteUnsafe() {
			l.startMatchUnsafe()
			return
		}
		l.inviteMissingUnsafe()
		l.armTimerUnsafe(l.deps.Cfg.GraceShort)
		l.setStateUnsafe(models.StateOvertime)

	case models.StateOvertime:
		// Roster enforcement is exhausted: start with whoever is present,
		// unless the room is empty and nothing has been played yet.
		if len(roster.Present(l.Match.Participants, l.members)) == 0 && len(l.queue.History()) == 0 {
			l.skipUnsafe()
			return
		}
		l.startMatchUnsafe()

	case models.StatePlaying, models.StateFinished, models.StatePanicked, models.StateErrored:
		// Stray or superseded timer signal; nothing to do.
	}
}

// startMatchUnsafe issues the start command and moves to playing. The
// started announcement from the room confirms it actually happened.
func (l *AutoLobby) startMatchUnsafe() {
	l.cancelTimerUnsafe()
	l.deps.Room.Start(l.deps.Cfg.StartCountdown)
	l.setStateUnsafe(models.StatePlaying)
}

func (l *AutoLobby) matchStartedUnsafe() {
	if l.Match.State.Terminal() {
		return
	}
	if l.Match.MatchStartedAt == nil {
		now := time.Now()
		l.Match.MatchStartedAt = &now
	}
	l.setStateUnsafe(models.StatePlaying)
}

// matchFinishedUnsafe advances the pick queue. Anywhere but playing it is an
// idempotent no-op, which absorbs duplicate delivery of the finished
// announcement.
func (l *AutoLobby) matchFinishedUnsafe() {
	if l.Match.State != models.StatePlaying {
		return
	}
	next, done, err := l.queue.Advance()
	l.syncQueueUnsafe()
	if err != nil {
		l.enterErroredUnsafe(err.Error())
		return
	}
	if done {
		l.deps.Room.Say(fmt.Sprintf("All picks played, good games! Closing the room in %d seconds.",
			int(l.deps.Cfg.CloseDelay.Seconds())))
		l.armCloseUnsafe(models.StatusCompleted)
		l.setStateUnsafe(models.StateFinished)
		return
	}
	l.applyPickUnsafe(next)
	if l.Match.State == models.StateErrored {
		return
	}
	l.armTimerUnsafe(l.deps.Cfg.ResumeWindow)
	l.setStateUnsafe(models.StateWaiting)
}

func (l *AutoLobby) allReadyUnsafe() {
	switch l.Match.State {
	case models.StateInitializing, models.StateWaiting, models.StateOvertime:
		if l.rosterCompleteUnsafe() {
			l.startMatchUnsafe()
		}
	}
}

func (l *AutoLobby) roomClosedUnsafe() {
	if l.Match.State == models.StateFinished || l.Match.State.Terminal() {
		return
	}
	// Somebody closed the room out from under the automation. Teardown
	// still has to reconcile whatever was played.
	l.notifyStaffUnsafe("room was closed outside the automation; manual reconciliation needed")
	l.setStateUnsafe(models.StateFinished)
	l.fireTeardownUnsafe(models.StatusFailed)
}

// applyPickUnsafe puts a pick's map and mods on the room, skipping commands
// that would not change anything the room already has.
func (l *AutoLobby) applyPickUnsafe(p models.Pick) {
	if p.MapID != l.lastMapID {
		l.deps.Room.SetMap(p.MapID)
		l.lastMapID = p.MapID
	}
	mods, err := mappool.FormatMods(p.Mods)
	if err != nil {
		l.enterErroredUnsafe(fmt.Sprintf("pick %s: %v", p.PickID, err))
		return
	}
	if mods != l.lastMods {
		l.deps.Room.SetMods(mods)
		l.lastMods = mods
	}
	l.deps.Room.Say(fmt.Sprintf("Next up: %s (%s). Timer is running.", p.PickID, mods))
}

// skipUnsafe closes out a room nobody showed up for.
func (l *AutoLobby) skipUnsafe() {
	l.deps.Room.Say("Nobody showed up; closing the room.")
	l.notifyStaffUnsafe("no participants arrived, match skipped")
	l.setStateUnsafe(models.StateFinished)
	l.fireTeardownUnsafe(models.StatusSkipped)
}

// enterErroredUnsafe freezes automation on an unresolvable pick (or an
// internal failure) and pages staff with the identifiers they need.
func (l *AutoLobby) enterErroredUnsafe(diag string) {
	if l.Match.State == models.StateErrored {
		return
	}
	l.cancelTimerUnsafe()
	l.notifyStaffUnsafe("automation halted: " + diag)
	l.setStateUnsafe(models.StateErrored)
}

// panicUnsafe is the human escalation path: same freeze-and-page shape as
// errored, but deliberate.
func (l *AutoLobby) panicUnsafe(issuer string) {
	l.cancelTimerUnsafe()
	l.notifyStaffUnsafe(fmt.Sprintf("%s called a panic, a referee is needed in the room", issuer))
	l.setStateUnsafe(models.StatePanicked)
	l.deps.Room.Say("A referee has been paged and will join shortly.")
}

// --- timers ---

// armTimerUnsafe starts both the in-room timer (whose end announcement is
// the authoritative signal) and a slightly longer local backstop for the
// case where the announcement never arrives.
func (l *AutoLobby) armTimerUnsafe(d time.Duration) {
	l.timerGen++
	gen := l.timerGen
	l.deps.Room.StartTimer(int(d.Seconds()))
	time.AfterFunc(d+5*time.Second, func() {
		l.enqueue(input{timerGen: gen})
	})
}

func (l *AutoLobby) cancelTimerUnsafe() {
	// Bumping the generation is all the cancellation needed: a superseded
	// local timer delivers a stale generation and is dropped, and a
	// superseded in-room timer-end lands in a state that ignores it.
	l.timerGen++
}

func (l *AutoLobby) armCloseUnsafe(final models.MatchStatus) {
	l.finishFinal = final
	time.AfterFunc(l.deps.Cfg.CloseDelay, func() {
		l.enqueue(input{closeTimer: true})
	})
}

func (l *AutoLobby) fireTeardownUnsafe(final models.MatchStatus) {
	if l.deps.OnFinished == nil {
		return
	}
	cb := l.deps.OnFinished
	l.deps.OnFinished = nil // teardown runs once
	go cb(l, final)
}

// --- helpers ---

func (l *AutoLobby) syncQueueUnsafe() {
	l.Match.Pending = l.queue.PendingIDs()
	l.Match.Played = l.queue.History()
}

// staffPage is one queued staff notification.
type staffPage struct {
	text     string
	mentions []string
}

// notifyStaffUnsafe queues a staff page, mentioning the assigned referees or
// the fallback role when nobody is assigned. Delivery happens in flushPages
// after the lock is released, so notifier latency never blocks Snapshot.
func (l *AutoLobby) notifyStaffUnsafe(text string) {
	mentions := make([]string, 0, len(l.Match.Referees))
	for _, r := range l.Match.Referees {
		mentions = append(mentions, r.DisplayName)
	}
	if len(mentions) == 0 {
		mentions = append(mentions, l.deps.Cfg.StaffFallbackRole)
	}
	msg := fmt.Sprintf("[%s / room %s] %s", l.Match.Title(), l.Match.RoomID, text)
	l.pages = append(l.pages, staffPage{text: msg, mentions: mentions})
}

// flushPages delivers the queued staff pages without holding the lock.
func (l *AutoLobby) flushPages() {
	l.Mu.Lock()
	pages := l.pages
	l.pages = nil
	matchID, sinkID := l.Match.ID, l.Match.StaffSinkID
	l.Mu.Unlock()

	for _, p := range pages {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.deps.Notifier.NotifyStaff(ctx, matchID, sinkID, p.text, p.mentions...); err != nil {
			l.log.Errorf("staff notification failed: %v", err)
		}
		cancel()
	}
}

// Snapshot is the read-only view served by the ops API.
type Snapshot struct {
	MatchID     uuid.UUID         `json:"match_id"`
	Kind        models.MatchKind  `json:"kind"`
	RoomID      string            `json:"room_id"`
	State       models.MatchState `json:"state"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	Members     []string          `json:"members"`
	Pending     []string          `json:"pending"`
	Played      []string          `json:"played"`
	GraceUsed   bool              `json:"grace_used"`
}

// Snapshot returns a copy of the lobby's observable state.
func (l *AutoLobby) Snapshot() Snapshot {
	l.Mu.Lock()
	defer l.Mu.Unlock()
	members := make([]string, len(l.members))
	for i, m := range l.members {
		members[i] = m.DisplayName
	}
	played := l.queue.History()
	playedIDs := make([]string, len(played))
	for i, p := range played {
		playedIDs[i] = p.PickID
	}
	return Snapshot{
		MatchID:     l.Match.ID,
		Kind:        l.Match.Kind,
		RoomID:      l.Match.RoomID,
		State:       l.Match.State,
		ScheduledAt: l.Match.ScheduledAt,
		Members:     members,
		Pending:     l.queue.PendingIDs(),
		Played:      playedIDs,
		GraceUsed:   l.Match.OvertimeGraceUsed,
	}
}

// historyLineUnsafe renders the played picks for the history command.
func (l *AutoLobby) historyLineUnsafe() string {
	played := l.queue.History()
	if len(played) == 0 {
		return "No picks played yet."
	}
	ids := make([]string, len(played))
	for i, p := range played {
		ids[i] = p.PickID
	}
	return "Played so far: " + strings.Join(ids, ", ")
}

// internal/bancho/events.go
package bancho

import (
	"regexp"
	"strconv"
)

// EventType identifies a room-lifecycle event parsed from system-bot chat.
type EventType string

const (
	EventPlayerJoined  EventType = "player_joined"
	EventPlayerLeft    EventType = "player_left"
	EventMatchStarted  EventType = "match_started"
	EventMatchFinished EventType = "match_finished"
	EventAllReady      EventType = "all_ready"
	EventTimerEnded    EventType = "timer_ended"
	EventHostChanged   EventType = "host_changed"
	EventRoomClosed    EventType = "room_closed"

	// EventChat is any room message that is not a recognized system
	// announcement, including human-issued commands.
	EventChat EventType = "chat"
)

// RoomEvent is one typed inbound event for a single room. The raw text a
// system announcement was matched from never leaves this package; the state
// machine only ever sees RoomEvents.
//
// These are parsed from free-text bot output, so they are best-effort
// signals: any of them can be missed or delivered twice, and consumers must
// treat them idempotently.
type RoomEvent struct {
	Room   string // external room id ("12345" for channel #mp_12345)
	Type   EventType
	Player string // joined/left/host events
	Slot   int    // joined events
	Sender string // chat events
	Text   string // chat events
}

// System-bot announcement patterns. The bot emits fixed English phrases;
// anything it says that does not match one of these is ignored.
var (
	joinedRe      = regexp.MustCompile(`^(.+) joined in slot (\d+)(?: for team (?:red|blue))?\.$`)
	leftRe        = regexp.MustCompile(`^(.+) left the game\.$`)
	hostRe        = regexp.MustCompile(`^(.+) became the host\.$`)
	roomCreatedRe = regexp.MustCompile(`^Created the tournament match https?://\S+/(\d+) (.+)$`)
)

const (
	msgMatchStarted  = "The match has started!"
	msgMatchFinished = "The match has finished!"
	msgAllReady      = "All players are ready"
	msgTimerEnded    = "Countdown finished"
	msgRoomClosed    = "Closed the match"
)

// ParseSystemMessage classifies one line of system-bot output in a room
// channel. ok is false when the line is not a recognized announcement.
func ParseSystemMessage(room, text string) (RoomEvent, bool) {
	switch text {
	case msgMatchStarted:
		return RoomEvent{Room: room, Type: EventMatchStarted}, true
	case msgMatchFinished:
		return RoomEvent{Room: room, Type: EventMatchFinished}, true
	case msgAllReady:
		return RoomEvent{Room: room, Type: EventAllReady}, true
	case msgTimerEnded:
		return RoomEvent{Room: room, Type: EventTimerEnded}, true
	case msgRoomClosed:
		return RoomEvent{Room: room, Type: EventRoomClosed}, true
	}
	if m := joinedRe.FindStringSubmatch(text); m != nil {
		slot, _ := strconv.Atoi(m[2])
		return RoomEvent{Room: room, Type: EventPlayerJoined, Player: m[1], Slot: slot}, true
	}
	if m := leftRe.FindStringSubmatch(text); m != nil {
		return RoomEvent{Room: room, Type: EventPlayerLeft, Player: m[1]}, true
	}
	if m := hostRe.FindStringSubmatch(text); m != nil {
		return RoomEvent{Room: room, Type: EventHostChanged, Player: m[1]}, true
	}
	return RoomEvent{}, false
}

// ParseRoomCreated matches the system bot's private-message reply to a room
// creation request, returning the new room id and the echoed title.
func ParseRoomCreated(text string) (roomID, title string, ok bool) {
	m := roomCreatedRe.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

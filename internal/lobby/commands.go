// internal/lobby/commands.go
package lobby

import (
	"strings"

	"autoref/internal/models"
)

// The in-room command surface. Commands arrive as ordinary chat events on
// the room channel, so they are serialized with lifecycle events and can
// never race a transition for the same match. Every failure path answers in
// the room; nothing escapes the command boundary.

// parseCommand splits a chat line into a canonical command name and its
// argument. ok is false for lines that are not commands at all.
func parseCommand(text string) (name, arg string, ok bool) {
	if !strings.HasPrefix(text, "!") {
		return "", "", false
	}
	if strings.HasPrefix(text, "!mp ") || text == "!mp" {
		// Manual referee control of the room; not ours to answer.
		return "", "", false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", "", false
	}
	name = strings.ToLower(fields[0])
	if len(fields) > 1 {
		arg = fields[1]
	}
	switch name {
	case "abort":
		name = "panic"
	case "picks":
		name = "history"
	case "players":
		name = "roster"
	}
	return name, arg, true
}

func (l *AutoLobby) handleChatUnsafe(sender, text string) {
	name, arg, ok := parseCommand(text)
	if !ok {
		return
	}
	switch name {
	case "panic":
		l.cmdPanicUnsafe(sender)
	case "replay":
		l.cmdReplayUnsafe(sender, arg)
	case "history":
		l.deps.Room.Say(l.historyLineUnsafe())
	case "roster":
		l.cmdRosterUnsafe()
	default:
		l.deps.Room.Say("Unknown command. Available: !panic, !replay <pick>, !history, !roster")
	}
}

// cmdPanicUnsafe halts automation and pages a referee. Only a current
// participant may panic, and not once the match is over.
func (l *AutoLobby) cmdPanicUnsafe(sender string) {
	if !l.isParticipantUnsafe(sender) {
		l.deps.Room.Say("Only match participants can use !panic.")
		return
	}
	if l.Match.State == models.StateFinished {
		l.deps.Room.Say("The match is already over; nothing to panic about.")
		return
	}
	if l.Match.State == models.StatePanicked {
		l.deps.Room.Say("A referee has already been paged.")
		return
	}
	l.panicUnsafe(sender)
}

// cmdReplayUnsafe reapplies an already-played pick. Referee-only; rejected
// mid-play because the room cannot change maps during a live match. A
// successful replay from panicked or errored doubles as the human reset
// path: automation resumes in waiting.
func (l *AutoLobby) cmdReplayUnsafe(sender, pickID string) {
	if !l.isRefereeUnsafe(sender) {
		l.deps.Room.Say("Only referees can use !replay.")
		return
	}
	if pickID == "" {
		l.deps.Room.Say("Usage: !replay <pick>")
		return
	}
	if l.Match.State == models.StatePlaying {
		l.deps.Room.Say("Cannot replay while a map is being played.")
		return
	}
	if l.Match.State == models.StateFinished {
		l.deps.Room.Say("The match is already over.")
		return
	}
	pick, err := l.queue.Replay(pickID)
	if err != nil {
		l.deps.Room.Say("Cannot replay " + pickID + ": it has not been played in this match.")
		return
	}
	l.applyPickUnsafe(pick)
	if l.Match.State == models.StateErrored {
		return
	}
	l.armTimerUnsafe(l.deps.Cfg.ResumeWindow)
	l.setStateUnsafe(models.StateWaiting)
}

func (l *AutoLobby) cmdRosterUnsafe() {
	present := make([]string, 0, len(l.members))
	for _, m := range l.members {
		present = append(present, m.DisplayName)
	}
	expected := make([]string, 0, len(l.Match.Participants))
	for _, p := range l.Match.Participants {
		expected = append(expected, p.DisplayName)
	}
	l.deps.Room.Say("In room: " + orNone(present) + " | Registered: " + orNone(expected))
}

func (l *AutoLobby) isParticipantUnsafe(name string) bool {
	for _, p := range l.Match.Participants {
		if p.DisplayName == name {
			return true
		}
	}
	return false
}

func (l *AutoLobby) isRefereeUnsafe(name string) bool {
	for _, p := range l.Match.Referees {
		if p.DisplayName == name {
			return true
		}
	}
	return false
}

func orNone(names []string) string {
	if len(names) == 0 {
		return "(nobody)"
	}
	return strings.Join(names, ", ")
}

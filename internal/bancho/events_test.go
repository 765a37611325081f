// internal/bancho/events_test.go
package bancho

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSystemMessageAnnouncements(t *testing.T) {
	cases := []struct {
		text string
		typ  EventType
	}{
		{"The match has started!", EventMatchStarted},
		{"The match has finished!", EventMatchFinished},
		{"All players are ready", EventAllReady},
		{"Countdown finished", EventTimerEnded},
		{"Closed the match", EventRoomClosed},
	}
	for _, c := range cases {
		ev, ok := ParseSystemMessage("12345", c.text)
		require.True(t, ok, "text %q", c.text)
		assert.Equal(t, c.typ, ev.Type)
		assert.Equal(t, "12345", ev.Room)
	}
}

func TestParseSystemMessageJoinLeave(t *testing.T) {
	ev, ok := ParseSystemMessage("77", "Cookiezi joined in slot 3.")
	require.True(t, ok)
	assert.Equal(t, EventPlayerJoined, ev.Type)
	assert.Equal(t, "Cookiezi", ev.Player)
	assert.Equal(t, 3, ev.Slot)

	ev, ok = ParseSystemMessage("77", "WhiteCat joined in slot 1 for team red.")
	require.True(t, ok)
	assert.Equal(t, EventPlayerJoined, ev.Type)
	assert.Equal(t, "WhiteCat", ev.Player)

	ev, ok = ParseSystemMessage("77", "Cookiezi left the game.")
	require.True(t, ok)
	assert.Equal(t, EventPlayerLeft, ev.Type)
	assert.Equal(t, "Cookiezi", ev.Player)
}

func TestParseSystemMessageIgnoresUnknownText(t *testing.T) {
	_, ok := ParseSystemMessage("77", "gl hf everyone")
	assert.False(t, ok)
	_, ok = ParseSystemMessage("77", "")
	assert.False(t, ok)
}

func TestParseRoomCreated(t *testing.T) {
	id, title, ok := ParseRoomCreated("Created the tournament match https://osu.ppy.sh/mp/109839 Qualifier: Team Alpha")
	require.True(t, ok)
	assert.Equal(t, "109839", id)
	assert.Equal(t, "Qualifier: Team Alpha", title)

	_, _, ok = ParseRoomCreated("Cannot create any more tournament matches.")
	assert.False(t, ok)
}

// internal/mappool/mappool_test.go
package mappool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoref/internal/models"
)

func testPool() []models.Pick {
	return []models.Pick{
		{MapID: 101, PickID: "NM1", Mods: "NM"},
		{MapID: 102, PickID: "NM2", Mods: "NM"},
		{MapID: 103, PickID: "HD1", Mods: "HD"},
		{MapID: 104, PickID: "FM1", Mods: "FM"},
		{MapID: 105, PickID: "TB", Mods: "FMDT"},
	}
}

func TestFormatMods(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"NM", "NF"},
		{"HDHR", "NF HD HR"},
		{"FM", "FreeMod"},
		{"FMDT", "FreeMod DT"},
		{"", "NF"},
		{"HD", "NF HD"},
		{"HDHRDT", "NF HD HR DT"},
	}
	for _, c := range cases {
		got, err := FormatMods(c.raw)
		require.NoError(t, err, "raw %q", c.raw)
		assert.Equal(t, c.want, got, "raw %q", c.raw)
	}
}

func TestFormatModsRejectsOddLength(t *testing.T) {
	_, err := FormatMods("HDH")
	assert.ErrorIs(t, err, ErrOddModString)
}

func TestNewRejectsDuplicatePending(t *testing.T) {
	_, err := New(testPool(), []string{"NM1", "NM1"})
	assert.Error(t, err)
}

func TestStartAndAdvanceMonotonic(t *testing.T) {
	q, err := New(testPool(), []string{"NM1", "NM2", "HD1"})
	require.NoError(t, err)

	first, err := q.Start()
	require.NoError(t, err)
	assert.Equal(t, "NM1", first.PickID)
	assert.Equal(t, 2, q.Remaining())
	assert.Empty(t, q.History())

	// Each successful advance moves exactly one pick pending -> played.
	next, done, err := q.Advance()
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "NM2", next.PickID)
	assert.Equal(t, []string{"HD1"}, q.PendingIDs())
	require.Len(t, q.History(), 1)
	assert.Equal(t, "NM1", q.History()[0].PickID)

	next, done, err = q.Advance()
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "HD1", next.PickID)

	// Exhaustion: the final current pick lands in the history.
	_, done, err = q.Advance()
	require.NoError(t, err)
	assert.True(t, done)
	hist := q.History()
	require.Len(t, hist, 3)
	assert.Equal(t, "NM1", hist[0].PickID)
	assert.Equal(t, "NM2", hist[1].PickID)
	assert.Equal(t, "HD1", hist[2].PickID)
	assert.LessOrEqual(t, len(hist)+q.Remaining(), len(testPool()))
}

func TestStartEmptyPool(t *testing.T) {
	q, err := New(testPool(), nil)
	require.NoError(t, err)
	_, err = q.Start()
	assert.ErrorIs(t, err, ErrPoolEmpty)
}

func TestAdvanceUnknownPick(t *testing.T) {
	q, err := New(testPool(), []string{"NM1", "XX9"})
	require.NoError(t, err)
	_, err = q.Start()
	require.NoError(t, err)

	_, _, err = q.Advance()
	assert.ErrorIs(t, err, ErrUnknownPick)
	// Queue is untouched so a human can repair the pool and retry.
	assert.Equal(t, []string{"XX9"}, q.PendingIDs())
}

func TestReplayOnlyFromHistory(t *testing.T) {
	q, err := New(testPool(), []string{"NM1", "NM2"})
	require.NoError(t, err)
	_, err = q.Start()
	require.NoError(t, err)
	_, _, err = q.Advance()
	require.NoError(t, err)

	// NM1 has been played; it can be replayed and becomes current again.
	pick, err := q.Replay("NM1")
	require.NoError(t, err)
	assert.Equal(t, "NM1", pick.PickID)
	cur, ok := q.Current()
	require.True(t, ok)
	assert.Equal(t, "NM1", cur.PickID)
	// Replaying never grows the history.
	assert.Len(t, q.History(), 1)

	// NM2 is current but not yet played; TB is in the pool but unplayed.
	_, err = q.Replay("NM2")
	assert.ErrorIs(t, err, ErrNotPlayed)
	_, err = q.Replay("TB")
	assert.ErrorIs(t, err, ErrNotPlayed)
}

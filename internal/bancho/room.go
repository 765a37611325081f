// internal/bancho/room.go
package bancho

import "fmt"

// RoomConn is the outbound control surface for one room. Every method is
// fire-and-forget: commands are queued for delivery and nothing here reports
// whether the room accepted them. Confirmation always comes back through the
// event stream, so callers issue a command and then wait for the matching
// RoomEvent.
type RoomConn interface {
	Say(msg string)
	SetMap(mapID int64)
	SetMods(mods string)
	SetSize(n int)
	SetTeamMode(mode int)
	StartTimer(seconds int)
	Start(countdown int)
	Invite(name string)
	Kick(name string)
	Close()
}

// Team modes accepted by SetTeamMode.
const (
	TeamModeHeadToHead = 0
	TeamModeTeamVs     = 2
)

// room implements RoomConn by writing "!mp" commands to the room channel.
type room struct {
	c  *Client
	id string
}

func (r *room) channel() string { return "#mp_" + r.id }

func (r *room) Say(msg string) {
	r.c.send(r.channel(), msg)
}

func (r *room) SetMap(mapID int64) {
	r.c.send(r.channel(), fmt.Sprintf("!mp map %d", mapID))
}

func (r *room) SetMods(mods string) {
	r.c.send(r.channel(), "!mp mods "+mods)
}

func (r *room) SetSize(n int) {
	r.c.send(r.channel(), fmt.Sprintf("!mp size %d", n))
}

func (r *room) SetTeamMode(mode int) {
	r.c.send(r.channel(), fmt.Sprintf("!mp set %d", mode))
}

func (r *room) StartTimer(seconds int) {
	r.c.send(r.channel(), fmt.Sprintf("!mp timer %d", seconds))
}

func (r *room) Start(countdown int) {
	r.c.send(r.channel(), fmt.Sprintf("!mp start %d", countdown))
}

func (r *room) Invite(name string) {
	r.c.send(r.channel(), "!mp invite "+name)
}

func (r *room) Kick(name string) {
	r.c.send(r.channel(), "!mp kick "+name)
}

func (r *room) Close() {
	r.c.send(r.channel(), "!mp close")
}

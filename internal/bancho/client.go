// internal/bancho/client.go
package bancho

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the connection settings for the chat gateway.
type Config struct {
	Addr     string // host:port
	Username string
	Password string
	// SystemBot is the account whose messages are parsed as room
	// announcements.
	SystemBot string
	// SendInterval throttles outbound lines; the gateway drops clients that
	// flood.
	SendInterval time.Duration
}

// Client is a line-based chat connection to the gateway. One Client serves
// every room in the process: a single read loop parses inbound lines into
// RoomEvents and hands them to OnEvent, and a single write loop drains the
// outbound queue at the configured rate.
type Client struct {
	cfg    Config
	logger *logrus.Logger

	conn net.Conn
	out  chan string

	// OnEvent receives every parsed RoomEvent. It must not block; the
	// dispatcher behind it enqueues per-room and returns.
	OnEvent func(RoomEvent)

	mu      sync.Mutex
	pending map[string]chan string // room title -> room id, for CreateRoom
	closed  bool
	done    chan struct{}
}

// Dial connects and authenticates against the gateway, then starts the read
// and write loops.
func Dial(ctx context.Context, cfg Config, logger *logrus.Logger) (*Client, error) {
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = 500 * time.Millisecond
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("bancho: dial %s: %w", cfg.Addr, err)
	}
	c := &Client{
		cfg:     cfg,
		logger:  logger,
		conn:    conn,
		out:     make(chan string, 256),
		pending: make(map[string]chan string),
		done:    make(chan struct{}),
	}
	c.writeRaw("PASS " + cfg.Password)
	c.writeRaw("NICK " + cfg.Username)
	c.writeRaw(fmt.Sprintf("USER %s 0 * :%s", cfg.Username, cfg.Username))

	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

// Close tears down the connection. In-flight outbound lines may be dropped.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	return c.conn.Close()
}

// Room returns the control handle for an existing room id.
func (c *Client) Room(roomID string) RoomConn {
	return &room{c: c, id: roomID}
}

// Join subscribes the client to a room channel so its events are received.
func (c *Client) Join(roomID string) {
	c.send("", "JOIN #mp_"+roomID)
}

// CreateRoom asks the system bot for a new tournament room and waits for the
// allocation reply, correlating on the echoed title. The returned RoomConn
// is already joined to the room channel.
func (c *Client) CreateRoom(ctx context.Context, title string) (string, RoomConn, error) {
	ch := make(chan string, 1)
	c.mu.Lock()
	c.pending[title] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, title)
		c.mu.Unlock()
	}()

	c.send(c.cfg.SystemBot, "!mp make "+title)

	select {
	case roomID := <-ch:
		return roomID, c.Room(roomID), nil
	case <-ctx.Done():
		return "", nil, fmt.Errorf("bancho: room creation for %q: %w", title, ctx.Err())
	}
}

// send queues one chat line. target "" sends a raw protocol line.
func (c *Client) send(target, msg string) {
	line := msg
	if target != "" {
		line = fmt.Sprintf("PRIVMSG %s :%s", target, msg)
	}
	select {
	case c.out <- line:
	default:
		// Queue full; the gateway is unreachable or we are badly behind.
		// Dropping here is safe: every command is confirmed (or not) by the
		// event stream, never by delivery.
		c.logger.Warnf("bancho: outbound queue full, dropped line for %q", target)
	}
}

func (c *Client) writeRaw(line string) {
	fmt.Fprintf(c.conn, "%s\r\n", line)
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.cfg.SendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case line := <-c.out:
			c.writeRaw(line)
			// Pace the next line.
			select {
			case <-ticker.C:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<16)
	for scanner.Scan() {
		c.handleLine(strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		c.logger.Errorf("bancho: read loop ended: %v", err)
	}
}

// handleLine parses one inbound protocol line and dispatches any resulting
// RoomEvent. All string matching against bot output happens here and in
// events.go; nothing downstream sees raw text.
func (c *Client) handleLine(line string) {
	if strings.HasPrefix(line, "PING") {
		c.writeRaw("PONG" + strings.TrimPrefix(line, "PING"))
		return
	}

	sender, target, text, ok := parsePrivmsg(line)
	if !ok {
		return
	}

	// Private messages from the system bot carry room-creation replies.
	if sender == c.cfg.SystemBot && !strings.HasPrefix(target, "#") {
		if roomID, title, ok := ParseRoomCreated(text); ok {
			c.Join(roomID)
			c.mu.Lock()
			ch, waiting := c.pending[title]
			c.mu.Unlock()
			if waiting {
				select {
				case ch <- roomID:
				default:
				}
			} else {
				c.logger.Warnf("bancho: unsolicited room creation %s (%q)", roomID, title)
			}
		}
		return
	}

	roomID, ok := roomIDFromChannel(target)
	if !ok {
		return
	}

	var ev RoomEvent
	if sender == c.cfg.SystemBot {
		ev, ok = ParseSystemMessage(roomID, text)
		if !ok {
			return
		}
	} else {
		ev = RoomEvent{Room: roomID, Type: EventChat, Sender: sender, Text: text}
	}
	if c.OnEvent != nil {
		c.OnEvent(ev)
	}
}

// parsePrivmsg splits ":sender!user@host PRIVMSG target :text".
func parsePrivmsg(line string) (sender, target, text string, ok bool) {
	if !strings.HasPrefix(line, ":") {
		return "", "", "", false
	}
	rest := line[1:]
	bang := strings.IndexAny(rest, "! ")
	if bang < 0 {
		return "", "", "", false
	}
	sender = rest[:bang]
	idx := strings.Index(rest, " PRIVMSG ")
	if idx < 0 {
		return "", "", "", false
	}
	rest = rest[idx+len(" PRIVMSG "):]
	colon := strings.Index(rest, " :")
	if colon < 0 {
		return "", "", "", false
	}
	return sender, rest[:colon], rest[colon+2:], true
}

func roomIDFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, "#mp_") {
		return "", false
	}
	return strings.TrimPrefix(channel, "#mp_"), true
}

// internal/notify/notify.go
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Rdb is the global Redis client. Connect it once at application startup.
var Rdb *redis.Client

// DefaultQueueName is the Redis list the messaging bridge consumes.
var DefaultQueueName = "autoref_notifications"

// Record is one human-readable notification handed to the messaging-platform
// bridge. The bridge owns delivery, edits, and deletes; this process only
// enqueues. DedupeKey lets the bridge replace an earlier message for the
// same match instead of posting a duplicate.
type Record struct {
	SinkID    string    `json:"sink_id"`
	MatchID   uuid.UUID `json:"match_id"`
	Text      string    `json:"text"`
	Mentions  []string  `json:"mentions,omitempty"`
	DedupeKey string    `json:"dedupe_key,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Notifier is the outbound human-notification surface. Implementations must
// be safe for concurrent use by every lobby's event loop.
type Notifier interface {
	NotifyStaff(ctx context.Context, matchID uuid.UUID, sinkID, text string, mentions ...string) error
	NotifyPlayers(ctx context.Context, matchID uuid.UUID, sinkID, text string) error
}

// ConnectRedis initializes the global Redis client with environment
// variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
func ConnectRedis() error {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	Rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

// QueueNotifier publishes notification records onto a Redis list.
type QueueNotifier struct {
	rdb   *redis.Client
	queue string
}

// NewQueueNotifier uses the global client and the NOTIFY_QUEUE_NAME env var
// (falling back to DefaultQueueName).
func NewQueueNotifier() *QueueNotifier {
	return &QueueNotifier{
		rdb:   Rdb,
		queue: getEnv("NOTIFY_QUEUE_NAME", DefaultQueueName),
	}
}

func (n *QueueNotifier) push(ctx context.Context, rec Record) error {
	rec.Timestamp = time.Now().Unix()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := n.rdb.LPush(ctx, n.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// NotifyStaff enqueues a staff-channel message, optionally mentioning
// referee accounts or a fallback role.
func (n *QueueNotifier) NotifyStaff(ctx context.Context, matchID uuid.UUID, sinkID, text string, mentions ...string) error {
	return n.push(ctx, Record{
		SinkID:    sinkID,
		MatchID:   matchID,
		Text:      text,
		Mentions:  mentions,
		DedupeKey: "staff:" + matchID.String(),
	})
}

// NotifyPlayers enqueues a player-facing status message.
func (n *QueueNotifier) NotifyPlayers(ctx context.Context, matchID uuid.UUID, sinkID, text string) error {
	return n.push(ctx, Record{
		SinkID:    sinkID,
		MatchID:   matchID,
		Text:      text,
		DedupeKey: "players:" + matchID.String(),
	})
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if valStr, ok := os.LookupEnv(key); ok {
		if val, err := strconv.Atoi(valStr); err == nil {
			return val
		}
	}
	return defaultVal
}

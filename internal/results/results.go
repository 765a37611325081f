// internal/results/results.go
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Match is the authoritative record of what actually happened in a room,
// fetched from the results API at teardown.
type Match struct {
	RoomID string
	// Attendees are the display names of everyone who played at least one
	// map, as reported by the API.
	Attendees []string
	// PlayedMapIDs are the beatmap ids of every completed game, in order.
	PlayedMapIDs []int64
}

// Fetcher retrieves the final match record for a room.
type Fetcher interface {
	GetMatch(ctx context.Context, roomID string) (Match, error)
}

// Client fetches match results over the public HTTP API.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

// NewClient builds a results client for the given API base URL and key.
func NewClient(base, apiKey string) *Client {
	return &Client{
		base:   base,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Wire format of the get_match endpoint: a match object plus one entry per
// started game, each carrying per-player scores.
type apiMatch struct {
	Games []struct {
		BeatmapID int64   `json:"beatmap_id,string"`
		EndTime   *string `json:"end_time"`
		Scores    []struct {
			Username string `json:"username"`
			Score    int64  `json:"score,string"`
		} `json:"scores"`
	} `json:"games"`
}

// GetMatch fetches and flattens the match record for roomID. One retry on
// transport errors; a non-200 status is returned as an error so teardown can
// degrade to manual reconciliation.
func (c *Client) GetMatch(ctx context.Context, roomID string) (Match, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		m, err := c.getOnce(ctx, roomID)
		if err == nil {
			return m, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return Match{}, lastErr
}

func (c *Client) getOnce(ctx context.Context, roomID string) (Match, error) {
	q := url.Values{}
	q.Set("k", c.apiKey)
	q.Set("mp", roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/get_match?"+q.Encode(), nil)
	if err != nil {
		return Match{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Match{}, fmt.Errorf("results: fetch match %s: %w", roomID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Match{}, fmt.Errorf("results: fetch match %s: status %d", roomID, resp.StatusCode)
	}

	var raw apiMatch
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Match{}, fmt.Errorf("results: decode match %s: %w", roomID, err)
	}

	out := Match{RoomID: roomID}
	seen := map[string]bool{}
	for _, g := range raw.Games {
		if g.EndTime == nil {
			continue // aborted game, nothing scored
		}
		out.PlayedMapIDs = append(out.PlayedMapIDs, g.BeatmapID)
		for _, s := range g.Scores {
			if !seen[s.Username] {
				seen[s.Username] = true
				out.Attendees = append(out.Attendees, s.Username)
			}
		}
	}
	return out, nil
}

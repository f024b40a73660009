// Package matchlog talks to the logs.tf match-log service.
package matchlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gregjones/httpcache"
)

// ErrNotFound is returned when the service has no log with the given id.
var ErrNotFound = errors.New("match log not found")

// steamID64Base converts between steam3 account ids and SteamID64.
const steamID64Base = 76561197960265728

// Side is one team's summary in a log.
type Side struct {
	Score int `json:"score"`
	Kills int `json:"kills"`
}

// PlayerStats is the per-player stat blob. Only a few fields are decoded.
type PlayerStats struct {
	Team    string `json:"team"`
	Kills   int    `json:"kills"`
	Deaths  int    `json:"deaths"`
	Assists int    `json:"assists"`
	Damage  int    `json:"dmg"`
}

// Log is a decoded match log.
type Log struct {
	ID    int64 `json:"-"`
	Teams struct {
		Red  Side `json:"Red"`
		Blue Side `json:"Blue"`
	} `json:"teams"`
	Length  int                    `json:"length"` // seconds
	Players map[string]PlayerStats `json:"players"`
}

// Duration returns the match length.
func (l *Log) Duration() time.Duration {
	return time.Duration(l.Length) * time.Second
}

// PlayersBySteamID re-keys the stat blobs from "[U:1:N]" to SteamID64.
// Entries with unparseable keys are dropped.
func (l *Log) PlayersBySteamID() map[int64]PlayerStats {
	out := make(map[int64]PlayerStats, len(l.Players))
	for key, stats := range l.Players {
		if id, ok := ParseSteam3(key); ok {
			out[id] = stats
		}
	}
	return out
}

// ParseSteam3 converts "[U:1:N]" into a SteamID64.
func ParseSteam3(s string) (int64, bool) {
	rest, ok := strings.CutPrefix(s, "[U:1:")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, "]")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return steamID64Base + n, true
}

// ParseSteamID accepts either a SteamID64 or the steam3 form.
func ParseSteamID(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if id, ok := ParseSteam3(s); ok {
		return id, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= steamID64Base {
		return 0, false
	}
	return n, true
}

type searchResponse struct {
	Success bool `json:"success"`
	Logs    []struct {
		ID   int64 `json:"id"`
		Date int64 `json:"date"` // unix seconds
	} `json:"logs"`
}

// Client fetches logs. Individual logs never change, so their responses are
// cached for cacheTTL regardless of what the origin says.
type Client struct {
	http    *http.Client
	baseURL string
	window  time.Duration
	now     func() time.Time
}

// NewClient returns a client for baseURL (e.g. https://logs.tf). window bounds
// how old a player's newest log may be and still count as the match that just
// ended.
func NewClient(baseURL string, cacheTTL, window time.Duration) *Client {
	cached := httpcache.NewMemoryCacheTransport()
	cached.Transport = &ttlTransport{
		wrapped: http.DefaultTransport,
		maxAge:  cacheTTL,
	}
	return &Client{
		http:    &http.Client{Transport: cached, Timeout: 15 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		window:  window,
		now:     time.Now,
	}
}

// LogURL is the public page for a log.
func (c *Client) LogURL(id int64) string {
	return fmt.Sprintf("%s/%d", c.baseURL, id)
}

// FindRecentLog returns the newest log of the player when it was uploaded
// within the correlation window.
func (c *Client) FindRecentLog(ctx context.Context, steamID int64) (int64, bool, error) {
	url := fmt.Sprintf("%s/api/v1/log?player=%d&limit=1", c.baseURL, steamID)
	var res searchResponse
	if err := c.getJSON(ctx, url, &res); err != nil {
		return 0, false, err
	}
	if len(res.Logs) == 0 {
		return 0, false, nil
	}
	newest := res.Logs[0]
	if c.now().Sub(time.Unix(newest.Date, 0)) > c.window {
		return 0, false, nil
	}
	return newest.ID, true, nil
}

// FetchLog downloads and decodes a log.
func (c *Client) FetchLog(ctx context.Context, id int64) (Log, error) {
	var l Log
	if err := c.getJSON(ctx, fmt.Sprintf("%s/json/%d", c.baseURL, id), &l); err != nil {
		return Log{}, err
	}
	l.ID = id
	return l, nil
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	// read to EOF so httpcache stores the body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", url, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", url, err)
	}
	return nil
}

// ttlTransport rewrites cache headers: log downloads get a fixed max-age,
// everything else (search) is marked uncacheable so new uploads show up.
type ttlTransport struct {
	wrapped http.RoundTripper
	maxAge  time.Duration
}

func (t *ttlTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.wrapped.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Header.Del("Pragma")
	resp.Header.Del("Expires")
	if strings.HasPrefix(req.URL.Path, "/json/") && resp.StatusCode == http.StatusOK {
		resp.Header.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(t.maxAge/time.Second)))
	} else {
		resp.Header.Set("Cache-Control", "no-store")
	}
	return resp, nil
}

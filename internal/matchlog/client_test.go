package matchlog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{
	"teams": {"Red": {"score": 5, "kills": 80}, "Blue": {"score": 0, "kills": 40}},
	"length": 600,
	"players": {
		"[U:1:1001]": {"team": "Red", "kills": 20, "deaths": 5, "assists": 7, "dmg": 6000},
		"[U:1:1002]": {"team": "Blue", "kills": 8, "deaths": 19, "assists": 3, "dmg": 3100},
		"STEAM_0:1:5": {"team": "Blue"}
	}
}`

type logServer struct {
	*httptest.Server
	fetches  atomic.Int32
	searches atomic.Int32
	logDate  int64
}

func newLogServer(t *testing.T, logDate time.Time) *logServer {
	ls := &logServer{logDate: logDate.Unix()}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/log", func(w http.ResponseWriter, r *http.Request) {
		ls.searches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("player") == "0" {
			fmt.Fprint(w, `{"success": true, "results": 0, "logs": []}`)
			return
		}
		fmt.Fprintf(w, `{"success": true, "results": 1, "logs": [{"id": 42, "date": %d}]}`, ls.logDate)
	})
	mux.HandleFunc("/json/42", func(w http.ResponseWriter, r *http.Request) {
		ls.fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		fmt.Fprint(w, sampleLog)
	})
	ls.Server = httptest.NewServer(mux)
	t.Cleanup(ls.Close)
	return ls
}

func TestFindRecentLog(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	t.Run("inside window", func(t *testing.T) {
		srv := newLogServer(t, now.Add(-2*time.Minute))
		c := NewClient(srv.URL, time.Hour, 5*time.Minute)
		c.now = func() time.Time { return now }

		id, ok, err := c.FindRecentLog(context.Background(), 76561197960266729)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.EqualValues(t, 42, id)
	})

	t.Run("stale log", func(t *testing.T) {
		srv := newLogServer(t, now.Add(-6*time.Minute))
		c := NewClient(srv.URL, time.Hour, 5*time.Minute)
		c.now = func() time.Time { return now }

		_, ok, err := c.FindRecentLog(context.Background(), 76561197960266729)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("no logs", func(t *testing.T) {
		srv := newLogServer(t, now)
		c := NewClient(srv.URL, time.Hour, 5*time.Minute)

		_, ok, err := c.FindRecentLog(context.Background(), 0)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("searches are not cached", func(t *testing.T) {
		srv := newLogServer(t, now)
		c := NewClient(srv.URL, time.Hour, 5*time.Minute)
		c.now = func() time.Time { return now }

		for i := 0; i < 2; i++ {
			_, _, err := c.FindRecentLog(context.Background(), 1)
			require.NoError(t, err)
		}
		assert.EqualValues(t, 2, srv.searches.Load())
	})
}

func TestFetchLog(t *testing.T) {
	srv := newLogServer(t, time.Now())
	c := NewClient(srv.URL, time.Hour, 5*time.Minute)

	l, err := c.FetchLog(context.Background(), 42)
	require.NoError(t, err)
	assert.EqualValues(t, 42, l.ID)
	assert.Equal(t, 5, l.Teams.Red.Score)
	assert.Equal(t, 0, l.Teams.Blue.Score)
	assert.Equal(t, 10*time.Minute, l.Duration())

	players := l.PlayersBySteamID()
	require.Len(t, players, 2)
	assert.Equal(t, "Red", players[76561197960266729].Team)
	assert.Equal(t, 3100, players[76561197960266730].Damage)

	again, err := c.FetchLog(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, l, again)
	assert.EqualValues(t, 1, srv.fetches.Load(), "second fetch is served from cache")

	_, err = c.FetchLog(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, srv.URL+"/42", c.LogURL(42))
}

func TestParseSteam3(t *testing.T) {
	id, ok := ParseSteam3("[U:1:1001]")
	assert.True(t, ok)
	assert.EqualValues(t, 76561197960266729, id)

	for _, bad := range []string{"", "[U:1:]", "U:1:5", "[U:1:x]", "[U:1:5"} {
		_, ok := ParseSteam3(bad)
		assert.False(t, ok, bad)
	}
}

func TestParseSteamID(t *testing.T) {
	id, ok := ParseSteamID(" 76561197960266729 ")
	assert.True(t, ok)
	assert.EqualValues(t, 76561197960266729, id)

	id, ok = ParseSteamID("[U:1:1001]")
	assert.True(t, ok)
	assert.EqualValues(t, 76561197960266729, id)

	for _, bad := range []string{"", "1001", "steam", "-76561197960266729"} {
		_, ok := ParseSteamID(bad)
		assert.False(t, ok, bad)
	}
}

package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func noopLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func newFeedServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.CloseClientConnections()
		srv.Close()
	})
	return srv
}

func TestFetchCollectsSubmoltsInOrder(t *testing.T) {
	srv := newFeedServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/posts", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))

		switch r.URL.Query().Get("submolt") {
		case "crypto":
			fmt.Fprint(w, `{"success":true,"posts":[
				{"id":"p1","content":"ETH will exceed $3,500","author":{"name":"alice"}},
				{"id":"p2","content":"","title":"BTC to $100k","author":{"name":"bob"}},
				{"id":"","content":"missing id"}]}`)
		case "weather":
			fmt.Fprint(w, `{"data":[
				{"id":"p3","content":"80% chance of rain in London","author":{"name":"carol"}},
				{"id":"p1","content":"dup","author":{"name":"alice"}}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	c := NewClient(Options{BaseURL: srv.URL, APIKey: "key-1", Submolts: []string{"crypto", "weather"}, PostsPerSubmolt: 5}, noopLogger())
	got, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, "alice", got[0].Author)
	assert.Equal(t, "crypto", got[0].Source)
	assert.Equal(t, "BTC to $100k", got[1].Content)
	assert.Equal(t, "p3", got[2].ID)
	assert.Equal(t, "weather", got[2].Source)
}

func TestFetchToleratesFailingSubmolt(t *testing.T) {
	srv := newFeedServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("submolt") == "broken" {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":"boom"}`)
			return
		}
		fmt.Fprint(w, `{"posts":[{"id":"ok-1","content":"gas above 50 gwei","author":{"name":"dan"}}]}`)
	})

	c := NewClient(Options{BaseURL: srv.URL, Submolts: []string{"broken", "defi"}}, noopLogger())
	got, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok-1", got[0].ID)
}

func TestFetchAllFail(t *testing.T) {
	srv := newFeedServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid api key"}`)
	})

	c := NewClient(Options{BaseURL: srv.URL, Submolts: []string{"a", "b"}}, noopLogger())
	_, err := c.Fetch(context.Background())
	require.ErrorIs(t, err, ErrAllSubmoltsFailed)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestFetchMalformedPayload(t *testing.T) {
	srv := newFeedServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"posts":`)
	})

	c := NewClient(Options{BaseURL: srv.URL, Submolts: []string{"a"}}, noopLogger())
	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode posts")
}

func TestDemoStableIDs(t *testing.T) {
	d := NewDemo("", []string{"ETH will exceed $3,500", "  ", "London rain 80%"})
	first, err := d.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "demo", first[0].Author)

	second, err := NewDemo("bot", []string{"ETH will exceed $3,500"}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.NotEqual(t, first[0].ID, first[1].ID)
	assert.Equal(t, DemoID(" ETH will exceed $3,500 "), first[0].ID)
}

func TestDemoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDemo("", []string{"x"}).Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

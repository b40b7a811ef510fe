package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/stretchr/testify/require"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"
)

func newTestClient(t *testing.T, baseURL string, retries int) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:       baseURL,
		Timeout:       2 * time.Second,
		MaxRetries:    retries,
		RetryInterval: time.Millisecond,
		Logger:        slogtest.Make(t, nil),
	})
}

func TestFetchProfileSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/profiles/kellydollins.json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"points":{"total":130,"HTML":60},"badges":[{"id":1,"name":"Newbie"}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL+"/profiles/", 0)
	snap, err := client.FetchProfile(context.Background(), "kellydollins")
	require.NoError(t, err)
	require.Equal(t, int64(130), *snap.Points.Total)
	require.Len(t, snap.Badges, 1)
}

func TestFetchProfileRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"points":{"total":5}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 2)
	snap, err := client.FetchProfile(context.Background(), "kellydollins")
	require.NoError(t, err)
	require.Equal(t, int64(5), *snap.Points.Total)
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchProfileGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 1)
	_, err := client.FetchProfile(context.Background(), "kellydollins")
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	require.Equal(t, int32(2), calls.Load())
}

func TestFetchProfileDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3)
	_, err := client.FetchProfile(context.Background(), "ghost")
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Status)
	require.Equal(t, int32(1), calls.Load())
}

func TestFetchProfileInvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 0)
	_, err := client.FetchProfile(context.Background(), "kellydollins")
	require.ErrorIs(t, err, domain.ErrInvalidSnapshot)
}

func TestFetchProfileHonoursTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond, Logger: slogtest.Make(t, nil)})
	start := time.Now()
	_, err := client.FetchProfile(context.Background(), "kellydollins")
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestProfileURLEscapesUsername(t *testing.T) {
	client := NewClient(Config{BaseURL: "https://example.test/profiles/"})
	require.Equal(t, "https://example.test/profiles/a%20b.json", client.ProfileURL("a b"))
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/fetch"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/persistence/memory"
)

type testEnv struct {
	router  chi.Router
	store   *memory.Store
	tracker *domain.Tracker
}

func newTestEnv(t *testing.T, refresher Refresher) testEnv {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, time.March, 12, 18, 0, 0, 0, time.UTC))
	store := memory.New()
	tracker := domain.NewTracker(store, domain.NewCalendar(clock, time.UTC))

	handler := NewHandler(tracker, refresher, Config{
		Profiles:       []string{"kellydollins", "chansestrode"},
		MaxBodyBytes:   1024,
		TrackRateLimit: 100,
		Logger:         slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}),
	})
	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return testEnv{router: router, store: store, tracker: tracker}
}

func (e testEnv) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Message
}

func TestGetRecordNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/api/points/kellydollins", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "No data found for kellydollins", decodeMessage(t, rr))
}

func TestGetRecordReadFailure(t *testing.T) {
	handler := NewHandler(brokenLedger{}, nil, Config{Logger: slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})})
	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/points/kellydollins", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "Error reading data for kellydollins", decodeMessage(t, rr))
}

func TestTrackThenGet(t *testing.T) {
	env := newTestEnv(t, nil)

	body := []byte(`{"points":{"total":130,"HTML":60,"CSS":70},"badges":[{"id":1,"name":"Newbie","earned_date":"2025-03-12T10:00:00Z"}]}`)
	rr := env.do(t, http.MethodPost, "/api/track", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var tracked domain.UserRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tracked))
	require.Equal(t, int64(130), tracked.LastRecorded.Total)

	rr = env.do(t, http.MethodGet, "/api/points/kellydollins", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var got domain.UserRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, tracked, got)
	require.Len(t, got.History, 1)
	require.Equal(t, domain.CalendarDay("2025-03-12"), got.History[0].Date)
}

func TestTrackExplicitUsername(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodPost, "/api/track?username=chansestrode", []byte(`{"points":{"total":5}}`))
	require.Equal(t, http.StatusOK, rr.Code)

	_, found, err := env.store.Get(context.Background(), "chansestrode")
	require.NoError(t, err)
	require.True(t, found)
}

func TestTrackRejectsInvalidBodies(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/track", []byte(`{"points":{"total":"lots"}}`))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "Invalid data format", decodeMessage(t, rr))

	rr = env.do(t, http.MethodPost, "/api/track", []byte(`{"points":{"total":1,"pad":"`+strings.Repeat("x", 2048)+`"}}`))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/track?username=../x", []byte(`{"points":{"total":1}}`))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	_, found, err := env.store.Get(context.Background(), "kellydollins")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSummaryHistoryAndBadges(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	seed := domain.NewUserRecord()
	seed.LastRecorded.Total = 200
	seed.History = []domain.DayEntry{
		{Date: "2025-02-27", TotalGained: 50, PointsBreakdown: map[string]int64{"HTML": 50}},
		{Date: "2025-03-11", TotalGained: 20, PointsBreakdown: map[string]int64{"CSS": 20}},
	}
	seed.BadgesEarned = []domain.Badge{
		{ID: "1", Name: "Old", EarnedDate: "2025-02-27T12:00:00Z"},
		{ID: "2", Name: "New", EarnedDate: "2025-03-11T12:00:00Z"},
	}
	require.NoError(t, env.store.Put(ctx, "kellydollins", seed))

	rr := env.do(t, http.MethodGet, "/api/points/kellydollins/summary?range=This%20Month", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var summary domain.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	require.Equal(t, int64(20), summary.TotalGained)
	require.Len(t, summary.Badges, 1)

	rr = env.do(t, http.MethodGet, "/api/points/kellydollins/summary?range=decade", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/points/kellydollins/history", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var history HistoryResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &history))
	require.Len(t, history.Years, 1)
	require.Len(t, history.Years[0].Months, 2)

	rr = env.do(t, http.MethodGet, "/api/points/kellydollins/badges?date=2025-02-27", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var badges BadgesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &badges))
	require.Len(t, badges.Badges, 1)
	require.Equal(t, "Old", badges.Badges[0].Name)

	rr = env.do(t, http.MethodGet, "/api/points/kellydollins/badges?date=27-02-2025", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChartPNG(t *testing.T) {
	env := newTestEnv(t, nil)
	_, _, err := env.tracker.Track(context.Background(), "kellydollins", domain.NewSnapshot(10, nil))
	require.NoError(t, err)

	rr := env.do(t, http.MethodGet, "/api/points/kellydollins/chart.png?range=week", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	require.True(t, bytes.HasPrefix(rr.Body.Bytes(), []byte("\x89PNG")))
}

func TestRefresh(t *testing.T) {
	refresher := &stubRefresher{outcomes: map[string]fetch.Outcome{
		"kellydollins": fetch.Updated("kellydollins", 12),
		"chansestrode": fetch.Failed("chansestrode", domain.ErrUpstreamUnavailable),
	}}
	env := newTestEnv(t, refresher)

	rr := env.do(t, http.MethodPost, "/api/profiles/kellydollins/refresh", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var outcome fetch.Outcome
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &outcome))
	require.Equal(t, fetch.KindUpdated, outcome.Kind)
	require.Equal(t, int64(12), outcome.Gain)

	rr = env.do(t, http.MethodPost, "/api/profiles/chansestrode/refresh", nil)
	require.Equal(t, http.StatusBadGateway, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/profiles/stranger/refresh", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, 2, refresher.calls)
}

func TestProfilesAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/api/profiles", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var profiles ProfilesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &profiles))
	require.Equal(t, "kellydollins", profiles.Default)
	require.Len(t, profiles.Profiles, 2)

	rr = env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/profiles/kellydollins/refresh", nil)
	require.Equal(t, http.StatusNotFound, rr.Code, "refresh is not routed without a refresher")
}

type stubRefresher struct {
	outcomes map[string]fetch.Outcome
	calls    int
}

func (s *stubRefresher) RunUser(_ context.Context, username string) fetch.Outcome {
	s.calls++
	return s.outcomes[username]
}

type brokenLedger struct{}

func (brokenLedger) Track(context.Context, string, domain.RawProfileSnapshot) (domain.UserRecord, domain.Change, error) {
	return domain.UserRecord{}, domain.Change{}, errors.New("unused")
}

func (brokenLedger) Record(_ context.Context, username string) (domain.UserRecord, error) {
	return domain.UserRecord{}, &domain.StorageError{Op: "decode", Username: username, Err: errors.New("unexpected end of JSON input")}
}

func (brokenLedger) Calendar() *domain.Calendar { return domain.NewCalendar(nil, time.UTC) }

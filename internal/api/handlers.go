// Package api exposes HTTP handlers for the points ledger.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"cdr.dev/slog/v3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/chart"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/fetch"
)

// Ledger is the record service behind the handlers.
type Ledger interface {
	Track(ctx context.Context, username string, snapshot domain.RawProfileSnapshot) (domain.UserRecord, domain.Change, error)
	Record(ctx context.Context, username string) (domain.UserRecord, error)
	Calendar() *domain.Calendar
}

// Refresher runs an on-demand fetch for one user.
type Refresher interface {
	RunUser(ctx context.Context, username string) fetch.Outcome
}

// Config holds handler tunables.
type Config struct {
	Profiles       []string
	DefaultProfile string
	MaxBodyBytes   int64
	// TrackRateLimit is the number of POST /api/track requests allowed per IP per minute.
	TrackRateLimit int
	Logger         slog.Logger
}

// Handler coordinates HTTP requests with the ledger.
type Handler struct {
	ledger    Ledger
	refresher Refresher
	cfg       Config
	logger    slog.Logger
}

// NewHandler builds a Handler. refresher may be nil, which disables the refresh route.
func NewHandler(ledger Ledger, refresher Refresher, cfg Config) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 5 << 20
	}
	if cfg.DefaultProfile == "" && len(cfg.Profiles) > 0 {
		cfg.DefaultProfile = cfg.Profiles[0]
	}
	return &Handler{
		ledger:    ledger,
		refresher: refresher,
		cfg:       cfg,
		logger:    cfg.Logger.Named("api"),
	}
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", healthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/profiles", h.listProfiles)
		r.Route("/points/{username}", func(r chi.Router) {
			r.Get("/", h.getRecord)
			r.Get("/summary", h.getSummary)
			r.Get("/history", h.getHistory)
			r.Get("/badges", h.getBadges)
			r.Get("/chart.png", h.getChart)
		})
		track := r.With()
		if h.cfg.TrackRateLimit > 0 {
			track = r.With(httprate.LimitByIP(h.cfg.TrackRateLimit, time.Minute))
		}
		track.Post("/track", h.track)
		if h.refresher != nil {
			r.Post("/profiles/{username}/refresh", h.refresh)
		}
	})
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) listProfiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ProfilesResponse{Profiles: h.cfg.Profiles, Default: h.cfg.DefaultProfile})
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	record, ok := h.loadRecord(w, r, username)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	rng, err := domain.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record, ok := h.loadRecord(w, r, username)
	if !ok {
		return
	}
	calendar := h.ledger.Calendar()
	writeJSON(w, http.StatusOK, domain.Summarize(record, rng, calendar.Today(), calendar.Location()))
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	record, ok := h.loadRecord(w, r, username)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		Username: username,
		Total:    record.LastRecorded.Total,
		Years:    domain.GroupByYearMonth(record.History),
	})
}

func (h *Handler) getBadges(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	calendar := h.ledger.Calendar()

	day := calendar.Today()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := domain.ParseCalendarDay(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	record, ok := h.loadRecord(w, r, username)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, BadgesResponse{
		Date:   day,
		Badges: domain.BadgesForDate(record.BadgesEarned, day, calendar.Location()),
	})
}

func (h *Handler) getChart(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	rng, err := domain.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record, ok := h.loadRecord(w, r, username)
	if !ok {
		return
	}
	entries := domain.FilterHistory(record.History, rng, h.ledger.Calendar().Today())

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := chart.RenderDailyGains(w, fmt.Sprintf("%s (%s)", username, rng), entries); err != nil {
		h.logger.Error(r.Context(), "render chart", slog.F("username", username), slog.Error(err))
		w.Header().Del("Content-Type")
		writeError(w, http.StatusInternalServerError, "Error rendering chart for "+username)
	}
}

func (h *Handler) track(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		username = h.cfg.DefaultProfile
	}
	if err := domain.ValidateUsername(username); err != nil {
		writeError(w, http.StatusBadRequest, "invalid username")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unable to read body")
		return
	}

	snapshot, err := domain.ParseSnapshot(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid data format")
		return
	}

	record, _, err := h.ledger.Track(r.Context(), username, snapshot)
	if err != nil {
		h.logger.Error(r.Context(), "track failed", slog.F("username", username), slog.Error(err))
		if errors.Is(err, domain.ErrInvalidSnapshot) {
			writeError(w, http.StatusBadRequest, "Invalid data format")
			return
		}
		writeError(w, http.StatusInternalServerError, "Error updating data for "+username)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if !slices.Contains(h.cfg.Profiles, username) {
		writeError(w, http.StatusNotFound, "Unknown profile "+username)
		return
	}

	outcome := h.refresher.RunUser(r.Context(), username)
	status := http.StatusOK
	switch outcome.Kind {
	case fetch.KindSkipped:
		status = http.StatusUnprocessableEntity
	case fetch.KindFailed:
		status = http.StatusBadGateway
		if errors.Is(outcome.Err, domain.ErrStorage) {
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, outcome)
}

// loadRecord writes the error response itself and reports false when the record cannot be served.
func (h *Handler) loadRecord(w http.ResponseWriter, r *http.Request, username string) (domain.UserRecord, bool) {
	record, err := h.ledger.Record(r.Context(), username)
	switch {
	case err == nil:
		return record, true
	case errors.Is(err, domain.ErrRecordNotFound), errors.Is(err, domain.ErrInvalidUsername):
		writeError(w, http.StatusNotFound, "No data found for "+username)
	default:
		h.logger.Error(r.Context(), "read record", slog.F("username", username), slog.Error(err))
		writeError(w, http.StatusInternalServerError, "Error reading data for "+username)
	}
	return domain.UserRecord{}, false
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

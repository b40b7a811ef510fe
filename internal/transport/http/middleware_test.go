package httptransport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/stretchr/testify/require"
)

func TestRequestLoggerSetsRequestID(t *testing.T) {
	handler := RequestLogger(slogtest.Make(t, nil))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/profiles", nil))
	require.Equal(t, http.StatusTeapot, rr.Code)
	require.NotEmpty(t, rr.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/profiles", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, "abc", rr.Header().Get(RequestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS([]string{"http://localhost:5173"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/track", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestDefaultServerConfig(t *testing.T) {
	srv := NewServer(DefaultServerConfig(":5000"), http.NotFoundHandler())
	require.Equal(t, ":5000", srv.Addr)
	require.NotZero(t, srv.ReadHeaderTimeout)
}

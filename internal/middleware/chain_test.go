package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/campushub/internal/authz"
	"github.com/hitoshi/campushub/internal/model"
)

// TestMiddlewareChain_LoggingSessionGuard は
// Logging -> Session -> RequireView の順で、内側で解決したidentityがアクセスログに出ることを検証する。
func TestMiddlewareChain_LoggingSessionGuard(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	resolver := resolverFor("valid-session", &model.Identity{ID: "identity-chain", EmailVerified: true})
	handler := NewLoggingMiddleware(logger)(
		NewSessionMiddleware(resolver)(
			RequireView(grantVerified(model.RoleStudent), authz.ViewStudent)(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				}),
			),
		),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	if entry["identity_id"] != "identity-chain" {
		t.Errorf("identity_id = %v, want identity-chain", entry["identity_id"])
	}
}

// TestMiddlewareChain_NoSession_Returns401 は
// セッションがない場合にガードが401を返すことを検証する。
func TestMiddlewareChain_NoSession_Returns401(t *testing.T) {
	handler := NewSessionMiddleware(&mockIdentityResolver{})(
		RequireView(grantVerified(model.RoleStudent), authz.ViewStudent)(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}),
		),
	)

	req := httptest.NewRequest(http.MethodPost, "/api/events", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

type mockStatusRecorder struct {
	codes []int
}

func (m *mockStatusRecorder) RecordHTTPStatus(statusCode int) {
	m.codes = append(m.codes, statusCode)
}

func TestMetricsMiddleware_RecordsStatus(t *testing.T) {
	rec := &mockStatusRecorder{}
	handler := NewMetricsMiddleware(rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/ok", "/missing"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if len(rec.codes) != 2 || rec.codes[0] != http.StatusOK || rec.codes[1] != http.StatusNotFound {
		t.Errorf("codes = %v, want [200 404]", rec.codes)
	}
}

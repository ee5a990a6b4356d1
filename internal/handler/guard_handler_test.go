package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/campushub/internal/authz"
	"github.com/hitoshi/campushub/internal/middleware"
	"github.com/hitoshi/campushub/internal/model"
	"github.com/hitoshi/campushub/internal/session"
)

// --- モック定義 ---

// memoryProfiles はメモリ上のプロフィールストア。
type memoryProfiles map[string]*model.Profile

func (m memoryProfiles) FindByIdentityID(ctx context.Context, identityID string) (*model.Profile, error) {
	return m[identityID], nil
}

// newGuardTestServer はidentityをコンテキストに注入してガードルートを提供するサーバーを起動する。
func newGuardTestServer(t *testing.T, h *GuardHandler, sessionID string, identity *model.Identity) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if identity != nil {
				req = req.WithContext(middleware.ContextWithIdentity(req.Context(), sessionID, identity))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/api/guard/{view}", h.Decide)
	r.Get("/api/guard/{view}/watch", h.Watch)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

// sseReader はSSEストリームからdecisionイベントを読み取る。
type sseReader struct {
	scanner *bufio.Scanner
}

func (s *sseReader) next(t *testing.T) decisionResponse {
	t.Helper()
	type result struct {
		d   decisionResponse
		err string
	}
	ch := make(chan result, 1)
	go func() {
		for s.scanner.Scan() {
			line := s.scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var d decisionResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &d); err != nil {
				ch <- result{err: err.Error()}
				return
			}
			ch <- result{d: d}
			return
		}
		ch <- result{err: "stream ended"}
	}()

	select {
	case r := <-ch:
		if r.err != "" {
			t.Fatalf("failed to read event: %s", r.err)
		}
		return r.d
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return decisionResponse{}
	}
}

func openStream(t *testing.T, url string) (*sseReader, *http.Response) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return &sseReader{scanner: bufio.NewScanner(resp.Body)}, resp
}

// --- テスト ---

func TestGuardHandler_Decide(t *testing.T) {
	profiles := memoryProfiles{"student-1": {IdentityID: "student-1", Role: model.RoleStudent}}
	guard := authz.NewAuthorizer(profiles, nil, nil, authz.Config{LookupTimeout: time.Second})

	tests := []struct {
		name       string
		view       string
		identity   *model.Identity
		wantHTTP   int
		wantStatus string
		wantReason string
	}{
		{"学生ビューを許可", "student", &model.Identity{ID: "student-1", EmailVerified: true}, http.StatusOK, "granted", ""},
		{"管理ビューは拒否", "admin", &model.Identity{ID: "student-1", EmailVerified: true}, http.StatusOK, "denied", model.ErrCodeRoleNotPermitted},
		{"未検証は拒否", "student", &model.Identity{ID: "student-1"}, http.StatusOK, "denied", model.ErrCodeUnverifiedEmail},
		{"未認証は拒否", "any", nil, http.StatusOK, "denied", model.ErrCodeUnauthenticated},
		{"不明なビュー", "superuser", nil, http.StatusNotFound, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newGuardTestServer(t, NewGuardHandler(guard, session.NewHub(), nil), "sess", tt.identity)

			resp, err := http.Get(srv.URL + "/api/guard/" + tt.view)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantHTTP {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantHTTP)
			}
			if tt.wantHTTP != http.StatusOK {
				return
			}
			var d decisionResponse
			json.NewDecoder(resp.Body).Decode(&d)
			if d.Status != tt.wantStatus || d.Reason != tt.wantReason {
				t.Errorf("decision = %+v, want status=%s reason=%s", d, tt.wantStatus, tt.wantReason)
			}
			if d.Status == "pending" {
				t.Error("one-shot decision must never be pending")
			}
		})
	}
}

func TestGuardHandler_Watch_SignOutDenies(t *testing.T) {
	profiles := memoryProfiles{"student-1": {IdentityID: "student-1", Role: model.RoleStudent}}
	guard := authz.NewAuthorizer(profiles, nil, nil, authz.Config{LookupTimeout: time.Second})
	hub := session.NewHub()
	srv := newGuardTestServer(t, NewGuardHandler(guard, hub, nil), "sess-1", &model.Identity{ID: "student-1", EmailVerified: true})

	stream, resp := openStream(t, srv.URL+"/api/guard/student/watch")
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	for _, want := range []string{"unknown", "pending", "granted"} {
		if d := stream.next(t); d.Status != want {
			t.Fatalf("status = %q, want %q", d.Status, want)
		}
	}

	hub.Publish("sess-1", nil)

	d := stream.next(t)
	if d.Status != "denied" || d.Reason != model.ErrCodeUnauthenticated {
		t.Errorf("after sign-out = %+v, want denied UNAUTHENTICATED", d)
	}
}

func TestGuardHandler_Watch_VerificationGrants(t *testing.T) {
	profiles := memoryProfiles{"student-1": {IdentityID: "student-1", Role: model.RoleStudent}}
	guard := authz.NewAuthorizer(profiles, nil, nil, authz.Config{LookupTimeout: time.Second})
	hub := session.NewHub()
	srv := newGuardTestServer(t, NewGuardHandler(guard, hub, nil), "sess-1", &model.Identity{ID: "student-1"})

	stream, _ := openStream(t, srv.URL+"/api/guard/student/watch")

	for _, want := range []string{"unknown", "pending", "denied"} {
		if d := stream.next(t); d.Status != want {
			t.Fatalf("status = %q, want %q", d.Status, want)
		}
	}

	hub.PublishIdentity(&model.Identity{ID: "student-1", EmailVerified: true})

	if d := stream.next(t); d.Status != "pending" {
		t.Fatalf("status = %q, want pending", d.Status)
	}
	if d := stream.next(t); d.Status != "granted" || d.Role != string(model.RoleStudent) {
		t.Errorf("after verification = %+v, want granted student", d)
	}
}

func TestGuardHandler_Watch_Unauthenticated(t *testing.T) {
	guard := authz.NewAuthorizer(memoryProfiles{}, nil, nil, authz.Config{})
	srv := newGuardTestServer(t, NewGuardHandler(guard, session.NewHub(), nil), "", nil)

	stream, _ := openStream(t, srv.URL+"/api/guard/admin/watch")

	if d := stream.next(t); d.Status != "unknown" {
		t.Fatalf("status = %q, want unknown", d.Status)
	}
	// 未認証ではpendingを経由せず拒否される
	if d := stream.next(t); d.Status != "denied" || d.Reason != model.ErrCodeUnauthenticated {
		t.Errorf("decision = %+v, want denied UNAUTHENTICATED", d)
	}
}

func TestGuardHandler_Watch_ReleasesSubscription(t *testing.T) {
	guard := authz.NewAuthorizer(memoryProfiles{}, nil, nil, authz.Config{})
	hub := session.NewHub()
	srv := newGuardTestServer(t, NewGuardHandler(guard, hub, nil), "sess-1", &model.Identity{ID: "x", EmailVerified: true})

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/guard/any/watch", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	stream := &sseReader{scanner: bufio.NewScanner(resp.Body)}
	stream.next(t)
	if hub.Subscribers("sess-1") != 1 {
		t.Fatalf("subscribers = %d, want 1", hub.Subscribers("sess-1"))
	}

	cancel()
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("sess-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not released after client left")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// expiringResolver はexpireを呼ぶまでidentityを返し、以降はnilを返すセッションストア。
type expiringResolver struct {
	identity *model.Identity
	expired  atomic.Bool
	calls    atomic.Int32
}

func (r *expiringResolver) CurrentIdentity(ctx context.Context, sessionID string) (*model.Identity, error) {
	r.calls.Add(1)
	if r.expired.Load() {
		return nil, nil
	}
	return r.identity, nil
}

func TestGuardHandler_Watch_SessionExpiryDenies(t *testing.T) {
	identity := &model.Identity{ID: "student-1", EmailVerified: true}
	profiles := memoryProfiles{"student-1": {IdentityID: "student-1", Role: model.RoleStudent}}
	guard := authz.NewAuthorizer(profiles, nil, nil, authz.Config{LookupTimeout: time.Second})
	hub := session.NewHub()
	resolver := &expiringResolver{identity: identity}

	h := NewGuardHandler(guard, hub, resolver)
	h.heartbeat = 20 * time.Millisecond
	srv := newGuardTestServer(t, h, "sess-1", identity)

	stream, _ := openStream(t, srv.URL+"/api/guard/student/watch")
	for _, want := range []string{"unknown", "pending", "granted"} {
		if d := stream.next(t); d.Status != want {
			t.Fatalf("status = %q, want %q", d.Status, want)
		}
	}

	// 有効なセッションの再検証では判定は流れない
	deadline := time.Now().Add(2 * time.Second)
	for resolver.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("session was not revalidated on heartbeat")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resolver.expired.Store(true)

	d := stream.next(t)
	if d.Status != "denied" || d.Reason != model.ErrCodeUnauthenticated {
		t.Errorf("after expiry = %+v, want denied UNAUTHENTICATED", d)
	}
}

package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/campushub/internal/authz"
	"github.com/hitoshi/campushub/internal/middleware"
	"github.com/hitoshi/campushub/internal/model"
	"github.com/hitoshi/campushub/internal/session"
)

// defaultHeartbeatInterval はSSEストリームのキープアライブ間隔。
const defaultHeartbeatInterval = 30 * time.Second

// GuardServiceInterface はガードハンドラーが必要とする判定サービス。
// authz.Authorizerが満たす。
type GuardServiceInterface interface {
	Authorize(ctx context.Context, identity *model.Identity, view authz.View) model.Decision
	Watch(ctx context.Context, identities <-chan *model.Identity, view authz.View) <-chan model.Decision
}

// IdentitySubscriber はセッションのidentity変化を購読・通知する。session.Hubが満たす。
type IdentitySubscriber interface {
	Subscribe(sessionID string, current *model.Identity) *session.Subscription
	Publish(sessionID string, identity *model.Identity)
}

// GuardHandler は制限付きビューのガード判定を返すHTTPハンドラー。
type GuardHandler struct {
	guard     GuardServiceInterface
	hub       IdentitySubscriber
	resolver  middleware.IdentityResolver
	heartbeat time.Duration
}

// NewGuardHandler はGuardHandlerを生成する。
// resolverを指定すると、ストリーム中もハートビートごとにセッションを再検証する。
func NewGuardHandler(guard GuardServiceInterface, hub IdentitySubscriber, resolver middleware.IdentityResolver) *GuardHandler {
	return &GuardHandler{
		guard:     guard,
		hub:       hub,
		resolver:  resolver,
		heartbeat: defaultHeartbeatInterval,
	}
}

// decisionResponse はガード判定のAPIレスポンス。
type decisionResponse struct {
	View   string `json:"view"`
	Status string `json:"status"`
	Role   string `json:"role,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func toDecisionResponse(view authz.View, d model.Decision) decisionResponse {
	return decisionResponse{
		View:   view.Name,
		Status: string(d.Status),
		Role:   string(d.Role),
		Reason: d.Reason,
	}
}

// Decide は現在のidentityに対する判定を1回だけ返す。
// 拒否も判定結果として200で返す。
// GET /api/guard/{view}
func (h *GuardHandler) Decide(w http.ResponseWriter, r *http.Request) {
	view, ok := h.lookupView(w, r)
	if !ok {
		return
	}

	d := h.guard.Authorize(r.Context(), middleware.IdentityFromContext(r.Context()), view)
	writeJSON(w, http.StatusOK, toDecisionResponse(view, d))
}

// Watch は判定の列をServer-Sent Eventsで配信する。
// unknownの後、identityが変化するたびにpendingと確定判定を送る。
// サインアウトやメール検証は同じセッションのストリームに即座に反映される。
// セッションの期限切れや別プロセスでの削除はハートビート時の再検証で反映される。
// GET /api/guard/{view}/watch
func (h *GuardHandler) Watch(w http.ResponseWriter, r *http.Request) {
	view, ok := h.lookupView(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	// ストリーム中はサーバーのWriteTimeoutを適用しない
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("write deadline not supported", slog.String("error", err.Error()))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.Error("streaming not supported", slog.String("error", err.Error()))
		return
	}

	ctx := r.Context()
	identities, release := h.subscribe(ctx)
	defer release()

	decisions := h.guard.Watch(ctx, identities, view)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			h.revalidate(ctx)
		case d, ok := <-decisions:
			if !ok {
				return
			}
			if err := writeEvent(w, "decision", toDecisionResponse(view, d)); err != nil {
				slog.Debug("guard stream closed", slog.String("error", err.Error()))
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// subscribe はリクエストのセッションに対するidentityストリームを返す。
// 未認証の場合はnilを1つだけ流すストリームを返す。
func (h *GuardHandler) subscribe(ctx context.Context) (<-chan *model.Identity, func()) {
	sessionID := middleware.SessionIDFromContext(ctx)
	if sessionID == "" {
		ch := make(chan *model.Identity, 1)
		ch <- nil
		return ch, func() {}
	}

	sub := h.hub.Subscribe(sessionID, middleware.IdentityFromContext(ctx))
	return sub.Updates(), sub.Close
}

// revalidate はセッションを再解決し、結果をハブに通知する。
// 期限切れや削除済みのセッションはnil（サインアウト）として通知される。
// 同じ値はハブ側で破棄されるため、変化がなければストリームには何も流れない。
func (h *GuardHandler) revalidate(ctx context.Context) {
	sessionID := middleware.SessionIDFromContext(ctx)
	if h.resolver == nil || sessionID == "" {
		return
	}

	identity, err := h.resolver.CurrentIdentity(ctx, sessionID)
	if err != nil {
		// ストア障害時は判定を維持し、次のハートビートで再試行する
		slog.Warn("failed to revalidate session",
			slog.String("error", err.Error()),
		)
		return
	}
	h.hub.Publish(sessionID, identity)
}

func (h *GuardHandler) lookupView(w http.ResponseWriter, r *http.Request) (authz.View, bool) {
	name := chi.URLParam(r, "view")
	view, ok := authz.LookupView(name)
	if !ok {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "VIEW_NOT_FOUND",
			Message:  fmt.Sprintf("指定されたビューは存在しません: %s", name),
			Category: "auth",
			Action:   "student, admin, any のいずれかを指定してください。",
		})
		return authz.View{}, false
	}
	return view, true
}

// writeEvent はSSEの1イベントを書き込む。
func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

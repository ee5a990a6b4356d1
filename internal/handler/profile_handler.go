package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/campushub/internal/middleware"
	"github.com/hitoshi/campushub/internal/model"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
// profile.Serviceが満たす。
type ProfileServiceInterface interface {
	Get(ctx context.Context, identityID string) (*model.Profile, error)
	UpdateDisplay(ctx context.Context, identityID, displayName, avatarURL string) (*model.Profile, error)
}

// ProfileHandler はプロフィールのセルフサービスHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// updateProfileRequest はプロフィール更新リクエストのボディ。
// 省略したフィールドは現在の値を維持する。ロールとクラブは受け付けない。
type updateProfileRequest struct {
	DisplayName *string `json:"displayName"`
	AvatarURL   *string `json:"avatarURL"`
}

type profileResponse struct {
	IdentityID  string    `json:"identityId"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarURL,omitempty"`
	Role        string    `json:"role"`
	Club        string    `json:"club,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toProfileResponse(p *model.Profile) profileResponse {
	return profileResponse{
		IdentityID:  p.IdentityID,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		Role:        string(p.Role),
		Club:        p.ClubName(),
		UpdatedAt:   p.UpdatedAt,
	}
}

// Get は自分のプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	p, err := h.service.Get(r.Context(), identity.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// Update は表示名とアバターURLを更新する。
// PATCH /api/profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	current := middleware.ProfileFromContext(r.Context())
	displayName, avatarURL := "", ""
	if current != nil {
		displayName, avatarURL = current.DisplayName, current.AvatarURL
	}
	if req.DisplayName != nil {
		displayName = *req.DisplayName
	}
	if req.AvatarURL != nil {
		avatarURL = *req.AvatarURL
	}

	p, err := h.service.UpdateDisplay(r.Context(), identity.ID, displayName, avatarURL)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

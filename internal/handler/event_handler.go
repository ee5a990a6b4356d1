package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/campushub/internal/catalog"
	"github.com/hitoshi/campushub/internal/importer"
	"github.com/hitoshi/campushub/internal/middleware"
	"github.com/hitoshi/campushub/internal/model"
)

// EventCatalogInterface はイベントハンドラーが必要とするカタログ操作。
// *catalog.Catalogが満たす。
type EventCatalogInterface interface {
	GetForViewer(viewerID, id string) (*model.EventView, error)
	ListForViewer(viewerID string, opts catalog.ListOptions) []model.EventView
	CreateAs(actor catalog.Actor, draft model.EventDraft) (*model.EventRecord, error)
	UpdateAs(actor catalog.Actor, id string, patch model.EventPatch) (*model.EventRecord, error)
	DeleteAs(actor catalog.Actor, id string) error
	ToggleRegistration(viewerID, eventID string) (*model.RegistrationState, error)
}

// EventImporterInterface はフィードからのイベント取り込み。*importer.Importerが満たす。
type EventImporterInterface interface {
	Import(ctx context.Context, actor catalog.Actor, rawURL, club string) (*importer.Result, error)
}

// EventHandler はイベントカタログのHTTPハンドラー。
// ルートはRequireViewの内側に配置し、閲覧者はコンテキストのプロフィールから決める。
type EventHandler struct {
	catalog  EventCatalogInterface
	importer EventImporterInterface
	now      func() time.Time
	location *time.Location
}

// NewEventHandler はEventHandlerを生成する。locationは「今日」の判定に使う。
func NewEventHandler(catalog EventCatalogInterface, importer EventImporterInterface, location *time.Location) *EventHandler {
	if location == nil {
		location = time.Local
	}
	return &EventHandler{
		catalog:  catalog,
		importer: importer,
		now:      time.Now,
		location: location,
	}
}

// eventRequest はイベント作成・更新リクエストのボディ。
// 更新時は省略したフィールドを変更しない。
type eventRequest struct {
	Title            *string `json:"title"`
	Description      *string `json:"description"`
	Date             *string `json:"date"`
	Time             *string `json:"time"`
	Location         *string `json:"location"`
	RegistrationLink *string `json:"registrationLink"`
	Club             *string `json:"club"`
}

type importRequest struct {
	URL  string `json:"url"`
	Club string `json:"club"`
}

// eventResponse はイベントのAPIレスポンス。
type eventResponse struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Date             string    `json:"date"`
	Time             string    `json:"time,omitempty"`
	Location         string    `json:"location,omitempty"`
	RegistrationLink string    `json:"registrationLink,omitempty"`
	Club             string    `json:"club,omitempty"`
	Registered       bool      `json:"registered"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type eventListResponse struct {
	Events []eventResponse `json:"events"`
}

type registrationResponse struct {
	EventID    string `json:"eventId"`
	Registered bool   `json:"registered"`
}

// List は条件に一致するイベントを閲覧者の登録状態付きで返す。
// クエリ: q（タイトル部分一致）, date, club, from（この日以降）, sort（insertion|date）
// GET /api/events
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	h.writeList(w, r, opts)
}

// Today は今日開催のイベントを時刻順で返す。
// GET /api/events/today
func (h *EventHandler) Today(w http.ResponseWriter, r *http.Request) {
	today := h.now().In(h.location).Format("2006-01-02")
	h.writeList(w, r, catalog.ListOptions{
		Filter: catalog.OnDate(today),
		Sort:   catalog.SortDate,
	})
}

func (h *EventHandler) writeList(w http.ResponseWriter, r *http.Request, opts catalog.ListOptions) {
	views := h.catalog.ListForViewer(viewerID(r), opts)

	events := make([]eventResponse, len(views))
	for i, v := range views {
		events[i] = toEventResponse(v.EventRecord, v.Registered)
	}
	writeJSON(w, http.StatusOK, eventListResponse{Events: events})
}

// Get はイベント詳細を閲覧者の登録状態付きで返す。
// GET /api/events/{id}
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.catalog.GetForViewer(viewerID(r), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponse(view.EventRecord, view.Registered))
}

// Create はイベントを作成する。
// POST /api/events
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	record, err := h.catalog.CreateAs(actorFrom(r), req.draft())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventResponse(*record, false))
}

// Update はイベントを部分更新する。存在しないIDは作成しない。
// PATCH /api/events/{id}
func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	record, err := h.catalog.UpdateAs(actorFrom(r), chi.URLParam(r, "id"), req.patch())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponse(*record, false))
}

// Delete はイベントを削除する。2回目の削除は404になる。
// DELETE /api/events/{id}
func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteAs(actorFrom(r), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleRegistration は閲覧者の参加登録を反転する。
// POST /api/events/{id}/registration
func (h *EventHandler) ToggleRegistration(w http.ResponseWriter, r *http.Request) {
	state, err := h.catalog.ToggleRegistration(viewerID(r), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registrationResponse{
		EventID:    state.EventID,
		Registered: state.Registered,
	})
}

// Import はクラブのフィードからイベントを取り込む。
// POST /api/events/import
func (h *EventHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLが空です"))
		return
	}

	result, err := h.importer.Import(r.Context(), actorFrom(r), req.URL, req.Club)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- ヘルパー関数 ---

// parseListOptions はクエリパラメータから一覧条件を組み立てる。
func parseListOptions(r *http.Request) (catalog.ListOptions, *model.APIError) {
	q := r.URL.Query()

	var (
		filters []catalog.Filter
		invalid []string
	)
	if s := strings.TrimSpace(q.Get("q")); s != "" {
		filters = append(filters, catalog.TitleContains(s))
	}
	if d := q.Get("date"); d != "" {
		if !catalog.ValidDate(d) {
			invalid = append(invalid, "date")
		}
		filters = append(filters, catalog.OnDate(d))
	}
	if c := strings.TrimSpace(q.Get("club")); c != "" {
		filters = append(filters, catalog.ByClub(c))
	}
	if from := q.Get("from"); from != "" {
		if !catalog.ValidDate(from) {
			invalid = append(invalid, "from")
		}
		filters = append(filters, catalog.Upcoming(from))
	}
	sortKey, ok := catalog.ParseSortKey(q.Get("sort"))
	if !ok {
		invalid = append(invalid, "sort")
	}

	if len(invalid) > 0 {
		return catalog.ListOptions{}, model.NewValidationError(invalid)
	}

	opts := catalog.ListOptions{Sort: sortKey}
	if len(filters) > 0 {
		opts.Filter = catalog.All(filters...)
	}
	return opts, nil
}

// viewerID はガードが解決したプロフィールのidentity IDを返す。
func viewerID(r *http.Request) string {
	if p := middleware.ProfileFromContext(r.Context()); p != nil {
		return p.IdentityID
	}
	return ""
}

// actorFrom はガードが解決したプロフィールからカタログ操作の主体を作る。
func actorFrom(r *http.Request) catalog.Actor {
	p := middleware.ProfileFromContext(r.Context())
	if p == nil {
		return catalog.Actor{}
	}
	return catalog.ActorFromProfile(p)
}

func (req eventRequest) draft() model.EventDraft {
	return model.EventDraft{
		Title:            deref(req.Title),
		Description:      deref(req.Description),
		Date:             deref(req.Date),
		Time:             deref(req.Time),
		Location:         deref(req.Location),
		RegistrationLink: deref(req.RegistrationLink),
		Club:             deref(req.Club),
	}
}

func (req eventRequest) patch() model.EventPatch {
	return model.EventPatch{
		Title:            req.Title,
		Description:      req.Description,
		Date:             req.Date,
		Time:             req.Time,
		Location:         req.Location,
		RegistrationLink: req.RegistrationLink,
		Club:             req.Club,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toEventResponse(r model.EventRecord, registered bool) eventResponse {
	return eventResponse{
		ID:               r.ID,
		Title:            r.Title,
		Description:      r.Description,
		Date:             r.Date,
		Time:             r.Time,
		Location:         r.Location,
		RegistrationLink: r.RegistrationLink,
		Club:             r.Club,
		Registered:       registered,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

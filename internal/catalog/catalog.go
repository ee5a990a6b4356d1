// Package catalog はプロセス内のイベントカタログを提供する。
//
// カタログは挿入順を保持し、イベントIDは削除後も再利用しない。
// 登録状態は(閲覧者, イベント)ごとに保持し、共有レコードには保存しない。
package catalog

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/campushub/internal/metrics"
	"github.com/hitoshi/campushub/internal/model"
)

// Sanitizer はイベントのテキスト項目を保存前に整形する。
// security.TextSanitizerが満たす。
type Sanitizer interface {
	SanitizeHTML(raw string) string
	PlainText(raw string) string
}

type registrationKey struct {
	viewerID string
	eventID  string
}

// Catalog はイベントレコードの集合。全操作はミューテックスの下でアトミックに行われる。
type Catalog struct {
	mu            sync.RWMutex
	events        []*model.EventRecord
	registrations map[registrationKey]bool

	sanitizer Sanitizer
	metrics   metrics.MetricsCollector
	now       func() time.Time
	newID     func() (string, error)
}

// New はCatalogを生成する。collectorはnilでもよい。
func New(sanitizer Sanitizer, collector metrics.MetricsCollector) *Catalog {
	return &Catalog{
		registrations: make(map[registrationKey]bool),
		sanitizer:     sanitizer,
		metrics:       collector,
		now:           time.Now,
		newID:         newEventID,
	}
}

// newEventID は時刻順のUUID v7を採番する。
func newEventID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate event id: %w", err)
	}
	return id.String(), nil
}

// Create はドラフトを検証して新しいイベントを追加し、保存されたレコードを返す。
// 検証に失敗した場合はカタログを変更しない。
func (c *Catalog) Create(draft model.EventDraft) (*model.EventRecord, error) {
	record, err := c.create(draft)
	c.record("create", err)
	return record, err
}

func (c *Catalog) create(draft model.EventDraft) (*model.EventRecord, error) {
	record := c.normalize(model.EventRecord{
		Title:            draft.Title,
		Description:      draft.Description,
		Date:             draft.Date,
		Time:             draft.Time,
		Location:         draft.Location,
		RegistrationLink: draft.RegistrationLink,
		Club:             draft.Club,
	})
	if err := validate(record); err != nil {
		return nil, err
	}

	id, err := c.newID()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	record.ID = id
	record.CreatedAt = now
	record.UpdatedAt = now
	c.events = append(c.events, &record)

	slog.Info("event created",
		slog.String("event_id", record.ID),
		slog.String("date", record.Date),
	)
	stored := record
	return &stored, nil
}

// Get は指定IDのイベントを返す。存在しない場合はEVENT_NOT_FOUNDエラーを返す。
func (c *Catalog) Get(id string) (*model.EventRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i := c.indexOf(id)
	if i < 0 {
		return nil, model.NewEventNotFoundError(id)
	}
	record := *c.events[i]
	return &record, nil
}

// GetForViewer はGetの結果に閲覧者の登録状態を付与して返す。
func (c *Catalog) GetForViewer(viewerID, id string) (*model.EventView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i := c.indexOf(id)
	if i < 0 {
		return nil, model.NewEventNotFoundError(id)
	}
	return &model.EventView{
		EventRecord: *c.events[i],
		Registered:  c.registrations[registrationKey{viewerID: viewerID, eventID: id}],
	}, nil
}

// Update はパッチをマージした結果を検証して保存する。
// 必須項目の検証はマージ後のレコードに対して行う。存在しないIDは作成しない。
func (c *Catalog) Update(id string, patch model.EventPatch) (*model.EventRecord, error) {
	record, err := c.update(id, patch, nil)
	c.record("update", err)
	return record, err
}

// update はcheckがnilでなければ、マージ前のレコードに対してロック内で呼び出す。
// 保存済みの項目は再サニタイズせず、パッチで渡された項目のみを整形する。
func (c *Catalog) update(id string, patch model.EventPatch, check func(*model.EventRecord) error) (*model.EventRecord, error) {
	patch = c.normalizePatch(patch)

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return nil, model.NewEventNotFoundError(id)
	}
	current := c.events[i]
	if check != nil {
		if err := check(current); err != nil {
			return nil, err
		}
	}

	merged := applyPatch(*current, patch)
	if err := validate(merged); err != nil {
		return nil, err
	}
	merged.UpdatedAt = c.now()
	c.events[i] = &merged

	slog.Info("event updated", slog.String("event_id", id))
	updated := merged
	return &updated, nil
}

// Delete はイベントを削除する。2回目の削除はEVENT_NOT_FOUNDエラーになる。
// 削除したイベントへの登録状態も破棄する。
func (c *Catalog) Delete(id string) error {
	err := c.delete(id, nil)
	c.record("delete", err)
	return err
}

func (c *Catalog) delete(id string, check func(*model.EventRecord) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return model.NewEventNotFoundError(id)
	}
	if check != nil {
		if err := check(c.events[i]); err != nil {
			return err
		}
	}

	c.events = append(c.events[:i], c.events[i+1:]...)
	for key := range c.registrations {
		if key.eventID == id {
			delete(c.registrations, key)
		}
	}

	slog.Info("event deleted", slog.String("event_id", id))
	return nil
}

// ToggleRegistration は閲覧者の登録状態を反転して新しい状態を返す。
// 2回続けて呼ぶと元の状態に戻る。
func (c *Catalog) ToggleRegistration(viewerID, eventID string) (*model.RegistrationState, error) {
	state, err := c.toggle(viewerID, eventID)
	c.record("toggle_registration", err)
	return state, err
}

func (c *Catalog) toggle(viewerID, eventID string) (*model.RegistrationState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexOf(eventID) < 0 {
		return nil, model.NewEventNotFoundError(eventID)
	}

	key := registrationKey{viewerID: viewerID, eventID: eventID}
	registered := !c.registrations[key]
	if registered {
		c.registrations[key] = true
	} else {
		delete(c.registrations, key)
	}

	slog.Debug("registration toggled",
		slog.String("identity_id", viewerID),
		slog.String("event_id", eventID),
		slog.Bool("registered", registered),
	)
	return &model.RegistrationState{
		ViewerID:   viewerID,
		EventID:    eventID,
		Registered: registered,
	}, nil
}

// List は条件に一致するイベントのコピーを返す。
// 並び順は指定がなければ挿入順。カタログ自体の順序は変更しない。
func (c *Catalog) List(opts ListOptions) []model.EventRecord {
	c.mu.RLock()
	result := make([]model.EventRecord, 0, len(c.events))
	for _, e := range c.events {
		if opts.Filter == nil || opts.Filter(*e) {
			result = append(result, *e)
		}
	}
	c.mu.RUnlock()

	sortRecords(result, opts.Sort)
	return result
}

// ListForViewer はListの結果に閲覧者の登録状態を付与して返す。
func (c *Catalog) ListForViewer(viewerID string, opts ListOptions) []model.EventView {
	records := c.List(opts)

	c.mu.RLock()
	defer c.mu.RUnlock()

	views := make([]model.EventView, len(records))
	for i, r := range records {
		views[i] = model.EventView{
			EventRecord: r,
			Registered:  c.registrations[registrationKey{viewerID: viewerID, eventID: r.ID}],
		}
	}
	return views
}

// Len はカタログ内のイベント数を返す。
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// indexOf はイベントの位置を返す。呼び出し側でロックを保持していること。
func (c *Catalog) indexOf(id string) int {
	for i, e := range c.events {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// normalize はテキスト項目をサニタイズする。
func (c *Catalog) normalize(r model.EventRecord) model.EventRecord {
	r.Title = c.sanitizer.PlainText(r.Title)
	r.Description = c.sanitizer.SanitizeHTML(r.Description)
	r.Date = c.sanitizer.PlainText(r.Date)
	r.Time = c.sanitizer.PlainText(r.Time)
	r.Location = c.sanitizer.PlainText(r.Location)
	r.RegistrationLink = c.sanitizer.PlainText(r.RegistrationLink)
	r.Club = c.sanitizer.PlainText(r.Club)
	return r
}

// normalizePatch はパッチに含まれる項目のみをサニタイズする。
func (c *Catalog) normalizePatch(p model.EventPatch) model.EventPatch {
	clean := func(v *string, fn func(string) string) *string {
		if v == nil {
			return nil
		}
		s := fn(*v)
		return &s
	}
	return model.EventPatch{
		Title:            clean(p.Title, c.sanitizer.PlainText),
		Description:      clean(p.Description, c.sanitizer.SanitizeHTML),
		Date:             clean(p.Date, c.sanitizer.PlainText),
		Time:             clean(p.Time, c.sanitizer.PlainText),
		Location:         clean(p.Location, c.sanitizer.PlainText),
		RegistrationLink: clean(p.RegistrationLink, c.sanitizer.PlainText),
		Club:             clean(p.Club, c.sanitizer.PlainText),
	}
}

// record は操作結果をメトリクスに記録する。
func (c *Catalog) record(op string, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordCatalogOperation(op, outcome(err))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case model.IsCode(err, model.ErrCodeValidation):
		return "invalid"
	case model.IsCode(err, model.ErrCodeEventNotFound):
		return "not_found"
	case model.IsCode(err, model.ErrCodeForbiddenClub), model.IsCode(err, model.ErrCodeRoleNotPermitted):
		return "forbidden"
	default:
		return "error"
	}
}

func applyPatch(r model.EventRecord, p model.EventPatch) model.EventRecord {
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Date != nil {
		r.Date = *p.Date
	}
	if p.Time != nil {
		r.Time = *p.Time
	}
	if p.Location != nil {
		r.Location = *p.Location
	}
	if p.RegistrationLink != nil {
		r.RegistrationLink = *p.RegistrationLink
	}
	if p.Club != nil {
		r.Club = *p.Club
	}
	return r
}

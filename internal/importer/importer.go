// Package importer はクラブのRSS/Atomフィードからイベントを取り込む。
//
// クラブページのURLが渡された場合はheadのフィードリンクを辿る。
// 取り込んだ各項目は通常の作成と同じ検証とクラブ権限を通る。
package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/campushub/internal/catalog"
	"github.com/hitoshi/campushub/internal/metrics"
	"github.com/hitoshi/campushub/internal/model"
)

// URLGuard はSSRF検証のインターフェース。security.URLGuardが満たす。
type URLGuard interface {
	Validate(rawURL string) error
	Client(timeout time.Duration) *http.Client
}

// EventStore は取り込み先のカタログ。*catalog.Catalogが満たす。
type EventStore interface {
	CreateAs(actor catalog.Actor, draft model.EventDraft) (*model.EventRecord, error)
	List(opts catalog.ListOptions) []model.EventRecord
}

// Result は取り込み結果。
type Result struct {
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	FeedURL string   `json:"feedUrl"`
	IDs     []string `json:"ids"`
}

// Config はImporterの設定。
type Config struct {
	Timeout     time.Duration
	MaxBodySize int64
	// Location はフィードの日時をイベントの日付・時刻に変換するタイムゾーン。
	Location *time.Location
}

// Importer はフィードの取得・解析とカタログへの登録を行う。
type Importer struct {
	guard     URLGuard
	store     EventStore
	sanitizer catalog.Sanitizer
	metrics   metrics.MetricsCollector
	cfg       Config
}

// New はImporterを生成する。sanitizerは重複判定でタイトルを保存時と同じ形に揃えるために使う。
// collectorはnilでもよい。
func New(guard URLGuard, store EventStore, sanitizer catalog.Sanitizer, collector metrics.MetricsCollector, cfg Config) *Importer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 5 * 1024 * 1024
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Importer{
		guard:     guard,
		store:     store,
		sanitizer: sanitizer,
		metrics:   collector,
		cfg:       cfg,
	}
}

// Import はURLからイベントを取り込む。clubは空でなければ各イベントのクラブとして使う。
// 日付のない項目と、タイトル・日付が既存イベントと重複する項目はスキップする。
func (im *Importer) Import(ctx context.Context, actor catalog.Actor, rawURL, club string) (*Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, model.NewInvalidURLError("URLが入力されていません")
	}

	body, contentType, err := im.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	feedURL := rawURL
	if !IsFeedResponse(contentType, body) {
		if !strings.Contains(mediaTypeOf(contentType), "html") {
			return nil, model.NewFeedNotDetectedError(rawURL)
		}
		link := PickFeed(FindFeedLinks(body, rawURL), rawURL)
		if link == nil {
			return nil, model.NewFeedNotDetectedError(rawURL)
		}
		feedURL = link.URL
		if body, _, err = im.fetch(ctx, feedURL); err != nil {
			return nil, err
		}
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		slog.Warn("event feed parse failed",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewParseFailedError()
	}

	result := &Result{FeedURL: feedURL}
	for _, item := range feed.Items {
		draft, ok := im.draftFrom(item, club)
		if !ok || im.exists(im.sanitizer.PlainText(draft.Title), draft.Date) {
			result.Skipped++
			continue
		}

		record, err := im.store.CreateAs(actor, draft)
		if err != nil {
			if model.IsCode(err, model.ErrCodeForbiddenClub) || model.IsCode(err, model.ErrCodeRoleNotPermitted) {
				return nil, err
			}
			result.Skipped++
			continue
		}
		result.Created++
		result.IDs = append(result.IDs, record.ID)
	}

	if im.metrics != nil {
		im.metrics.RecordEventsImported(result.Created, result.Skipped)
	}
	slog.Info("event feed imported",
		slog.String("identity_id", actor.IdentityID),
		slog.String("feed_url", feedURL),
		slog.Int("created", result.Created),
		slog.Int("skipped", result.Skipped),
	)
	return result, nil
}

// fetch はSSRF検証後にURLを取得し、ボディとContent-Typeを返す。
func (im *Importer) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := im.guard.Validate(rawURL); err != nil {
		slog.Warn("import url blocked",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return nil, "", model.NewSSRFBlockedError()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", "CampusHub/1.0 Event Importer")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html, */*")

	resp, err := im.guard.Client(im.cfg.Timeout).Do(req)
	if err != nil {
		return nil, "", model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", model.NewFetchFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, im.cfg.MaxBodySize))
	if err != nil {
		return nil, "", model.NewFetchFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// draftFrom はフィード項目をドラフトに変換する。日付が得られない場合はfalseを返す。
func (im *Importer) draftFrom(item *gofeed.Item, club string) (model.EventDraft, bool) {
	when := item.PublishedParsed
	if when == nil {
		when = item.UpdatedParsed
	}
	if when == nil {
		return model.EventDraft{}, false
	}
	local := when.In(im.cfg.Location)

	description := item.Content
	if description == "" {
		description = item.Description
	}

	draft := model.EventDraft{
		Title:            strings.TrimSpace(item.Title),
		Description:      description,
		Date:             local.Format("2006-01-02"),
		Club:             club,
	}
	// 相対リンクは登録リンクにならないため、イベント自体は残してリンクのみ捨てる
	if isAbsoluteHTTPURL(item.Link) {
		draft.RegistrationLink = item.Link
	}
	if local.Hour() != 0 || local.Minute() != 0 {
		draft.Time = local.Format("15:04")
	}
	return draft, true
}

func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// exists は同じタイトルと日付のイベントが既にあるかを返す。
// titleは保存時と同じサニタイズ済みの値を渡すこと。
func (im *Importer) exists(title, date string) bool {
	matches := im.store.List(catalog.ListOptions{
		Filter: func(r model.EventRecord) bool {
			return r.Date == date && strings.EqualFold(r.Title, title)
		},
	})
	return len(matches) > 0
}

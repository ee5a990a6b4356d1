package catalog

import (
	"sort"
	"strings"

	"github.com/hitoshi/campushub/internal/model"
)

// Filter はイベントの絞り込み条件。
type Filter func(model.EventRecord) bool

// SortKey は一覧の並び順。
type SortKey string

const (
	// SortInsertion は挿入順（デフォルト）。
	SortInsertion SortKey = ""
	// SortDate は日付・時刻の昇順。同日時の場合は挿入順を保つ。
	SortDate SortKey = "date"
)

// ListOptions はList/ListForViewerの条件。
type ListOptions struct {
	Filter Filter
	Sort   SortKey
}

// TitleContains はタイトルに部分文字列を含むイベントに絞り込む（大文字小文字を区別しない）。
func TitleContains(substr string) Filter {
	needle := strings.ToLower(strings.TrimSpace(substr))
	return func(r model.EventRecord) bool {
		return strings.Contains(strings.ToLower(r.Title), needle)
	}
}

// OnDate は指定日のイベントに絞り込む。
func OnDate(date string) Filter {
	return func(r model.EventRecord) bool {
		return r.Date == date
	}
}

// ByClub は指定クラブのイベントに絞り込む。
func ByClub(club string) Filter {
	return func(r model.EventRecord) bool {
		return strings.EqualFold(r.Club, club)
	}
}

// Upcoming は指定日以降のイベントに絞り込む。
// 日付はYYYY-MM-DD形式のため文字列比較で順序が決まる。
func Upcoming(from string) Filter {
	return func(r model.EventRecord) bool {
		return r.Date >= from
	}
}

// All は全ての条件を満たすイベントに絞り込む。nilの条件は無視する。
func All(filters ...Filter) Filter {
	return func(r model.EventRecord) bool {
		for _, f := range filters {
			if f != nil && !f(r) {
				return false
			}
		}
		return true
	}
}

// ParseSortKey は文字列を並び順に変換する。不明な値はfalseを返す。
func ParseSortKey(s string) (SortKey, bool) {
	switch SortKey(s) {
	case SortInsertion, "insertion":
		return SortInsertion, true
	case SortDate:
		return SortDate, true
	default:
		return SortInsertion, false
	}
}

func sortRecords(records []model.EventRecord, key SortKey) {
	if key != SortDate {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date < records[j].Date
		}
		return records[i].Time < records[j].Time
	})
}

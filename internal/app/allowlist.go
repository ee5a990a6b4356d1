package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hitoshi/campushub/internal/model"
)

// AllowListWriter は許可エントリの書き込み先。repository.AllowListRepositoryが満たす。
type AllowListWriter interface {
	Upsert(ctx context.Context, entry *model.AllowListEntry) error
}

// ParseAllowList は "email,role[,club]" 形式のCSVを読み込む。
// 先頭行が "email" で始まる場合はヘッダーとして読み飛ばす。
// 1行でも不正な行があれば何も返さずにエラーとする。
func ParseAllowList(r io.Reader) ([]model.AllowListEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var entries []model.AllowListEntry
	for n := 1; ; n++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read allow-list csv: %w", err)
		}
		if n == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "email") {
			continue
		}

		entry, err := parseAllowListRecord(record)
		if err != nil {
			return nil, fmt.Errorf("allow-list record %d: %w", n, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseAllowListRecord(record []string) (model.AllowListEntry, error) {
	if len(record) < 2 || len(record) > 3 {
		return model.AllowListEntry{}, fmt.Errorf("expected 2 or 3 fields, got %d", len(record))
	}

	email := model.NormalizeEmail(record[0])
	if email == "" || !strings.Contains(email, "@") {
		return model.AllowListEntry{}, fmt.Errorf("invalid email %q", record[0])
	}

	role := model.Role(strings.ToLower(strings.TrimSpace(record[1])))
	if !role.Valid() {
		return model.AllowListEntry{}, fmt.Errorf("unknown role %q", record[1])
	}

	entry := model.AllowListEntry{Email: email, Role: role}
	if len(record) == 3 {
		if club := strings.TrimSpace(record[2]); club != "" {
			entry.Club = &club
		}
	}
	if role == model.RoleClubAdmin && entry.Club == nil {
		return model.AllowListEntry{}, fmt.Errorf("club_admin %q requires a club", email)
	}
	return entry, nil
}

// ImportAllowList はエントリを順に登録し、登録件数を返す。
func ImportAllowList(ctx context.Context, w AllowListWriter, entries []model.AllowListEntry) (int, error) {
	for i := range entries {
		if err := w.Upsert(ctx, &entries[i]); err != nil {
			return i, fmt.Errorf("failed to upsert %s: %w", entries[i].Email, err)
		}
	}
	return len(entries), nil
}

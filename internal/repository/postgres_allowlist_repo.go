package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/campushub/internal/model"
)

// PostgresAllowListRepo はPostgreSQLを使用した許可リストリポジトリ。
type PostgresAllowListRepo struct {
	db *sql.DB
}

// NewPostgresAllowListRepo はPostgresAllowListRepoを生成する。
func NewPostgresAllowListRepo(db *sql.DB) *PostgresAllowListRepo {
	return &PostgresAllowListRepo{db: db}
}

// FindByEmail は正規化済みメールアドレスで許可エントリを検索する。見つからない場合はnilを返す。
func (r *PostgresAllowListRepo) FindByEmail(ctx context.Context, email string) (*model.AllowListEntry, error) {
	var (
		entry model.AllowListEntry
		role  string
		club  sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT email, role, club, created_at FROM allow_list WHERE email = $1`,
		model.NormalizeEmail(email),
	).Scan(&entry.Email, &role, &club, &entry.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find allow-list entry: %w", err)
	}

	entry.Role = model.Role(role)
	if club.Valid {
		entry.Club = &club.String
	}
	return &entry, nil
}

// Upsert は許可エントリを作成または更新する。
// 既存identityのプロフィールには影響しない（ロールはサインアップ時にのみコピーされる）。
func (r *PostgresAllowListRepo) Upsert(ctx context.Context, entry *model.AllowListEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO allow_list (email, role, club, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (email) DO UPDATE SET role = EXCLUDED.role, club = EXCLUDED.club`,
		model.NormalizeEmail(entry.Email), string(entry.Role), entry.Club,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert allow-list entry: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AllowListRepository = (*PostgresAllowListRepo)(nil)

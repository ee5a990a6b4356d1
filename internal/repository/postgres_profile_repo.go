package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/campushub/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByIdentityID はidentityに紐づくプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByIdentityID(ctx context.Context, identityID string) (*model.Profile, error) {
	profile, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT identity_id, display_name, avatar_url, role, club, created_at, updated_at
		 FROM profiles
		 WHERE identity_id = $1`,
		identityID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return profile, nil
}

// UpdateDisplay は表示名とアバターURLのみを更新し、更新後のプロフィールを返す。
func (r *PostgresProfileRepo) UpdateDisplay(ctx context.Context, identityID, displayName, avatarURL string) (*model.Profile, error) {
	profile, err := scanProfile(r.db.QueryRowContext(ctx,
		`UPDATE profiles
		 SET display_name = $2, avatar_url = $3, updated_at = now()
		 WHERE identity_id = $1
		 RETURNING identity_id, display_name, avatar_url, role, club, created_at, updated_at`,
		identityID, displayName, avatarURL,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return profile, nil
}

func scanProfile(row *sql.Row) (*model.Profile, error) {
	var (
		profile model.Profile
		role    string
		club    sql.NullString
	)
	err := row.Scan(
		&profile.IdentityID,
		&profile.DisplayName,
		&profile.AvatarURL,
		&role,
		&club,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	profile.Role = model.Role(role)
	if club.Valid {
		profile.Club = &club.String
	}
	return &profile, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)

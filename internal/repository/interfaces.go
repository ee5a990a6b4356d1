// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/campushub/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
// 同一メールアドレスでのidentity二重作成などで返される。
var ErrDuplicate = errors.New("duplicate record")

// IdentityRepository は認証主体（資格情報ストア）の永続化インターフェース。
type IdentityRepository interface {
	// FindByID は指定IDのidentityを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Identity, error)

	// FindByEmail は正規化済みメールアドレスでidentityを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Identity, error)

	// CreateWithProfile はidentityとprofileを同一トランザクションで作成する。
	// メールアドレスが既に存在する場合はErrDuplicateを返す。
	CreateWithProfile(ctx context.Context, identity *model.Identity, profile *model.Profile) error

	// MarkEmailVerified はメール検証済みフラグを立てる。
	MarkEmailVerified(ctx context.Context, id string) error

	// UpdatePasswordHash はパスワードハッシュを更新する。
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
}

// ProfileRepository はプロフィールの永続化インターフェース。
// 作成はIdentityRepository.CreateWithProfileのみで行う。
type ProfileRepository interface {
	// FindByIdentityID はidentityに紐づくプロフィールを取得する。見つからない場合はnilを返す。
	FindByIdentityID(ctx context.Context, identityID string) (*model.Profile, error)

	// UpdateDisplay は表示名とアバターURLのみを更新する。
	// プロフィールが存在しない場合はnilを返す。
	UpdateDisplay(ctx context.Context, identityID, displayName, avatarURL string) (*model.Profile, error)
}

// AllowListRepository はセルフ登録許可リストの永続化インターフェース。
type AllowListRepository interface {
	// FindByEmail は正規化済みメールアドレスで許可エントリを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.AllowListEntry, error)

	// Upsert は許可エントリを作成または更新する。
	Upsert(ctx context.Context, entry *model.AllowListEntry) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByIdentityID は指定identityの全セッションを削除し、削除したセッションIDを返す。
	DeleteByIdentityID(ctx context.Context, identityID string) ([]string, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

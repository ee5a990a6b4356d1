// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Role はプロフィールに付与されるロールを表す。
type Role string

const (
	// RoleStudent は学生ロール。
	RoleStudent Role = "student"
	// RoleAdmin は全イベントを管理できる管理者ロール。
	RoleAdmin Role = "admin"
	// RoleClubAdmin は所属クラブのイベントのみ管理できるクラブ管理者ロール。
	RoleClubAdmin Role = "club_admin"
)

// Valid はロールが既知の値かどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleAdmin, RoleClubAdmin:
		return true
	default:
		return false
	}
}

// Identity は認証済みの主体を表す。
// 作成後に変化するのはメール検証フラグとパスワードハッシュのみ。
type Identity struct {
	ID            string
	Email         string
	PasswordHash  string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Profile はidentityごとのロールと所属を表す。
// サインアップ時にallow-listから1度だけ作成され、
// DisplayName/AvatarURL以外は変更されない。
type Profile struct {
	IdentityID  string
	DisplayName string
	AvatarURL   string
	Role        Role
	Club        *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ClubName はクラブ名を返す。未所属の場合は空文字列を返す。
func (p *Profile) ClubName() string {
	if p == nil || p.Club == nil {
		return ""
	}
	return *p.Club
}

// AllowListEntry はセルフ登録を許可されたメールアドレスと割り当てロールを表す。
type AllowListEntry struct {
	Email     string
	Role      Role
	Club      *string
	CreatedAt time.Time
}

// Session はログインセッションを表す。
type Session struct {
	ID         string
	IdentityID string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// NormalizeEmail はメールアドレスを比較用に正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

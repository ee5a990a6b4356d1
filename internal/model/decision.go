package model

// DecisionStatus はガード判定の状態を表す。
type DecisionStatus string

const (
	// DecisionUnknown はidentityをまだ観測していない状態。何も描画しない。
	DecisionUnknown DecisionStatus = "unknown"
	// DecisionPending はプロフィール解決中の状態。
	DecisionPending DecisionStatus = "pending"
	// DecisionDenied はアクセス拒否。サインイン画面へリダイレクトする。
	DecisionDenied DecisionStatus = "denied"
	// DecisionGranted はアクセス許可。
	DecisionGranted DecisionStatus = "granted"
)

// Decision は制限付きビューに対するガード判定。
// 保存されず、要求のたびに再計算される。
type Decision struct {
	Status DecisionStatus
	// Role はGranted時に解決されたロール。
	Role Role
	// Reason はDenied時のエラーコード（UNAUTHENTICATED, UNVERIFIED_EMAIL 等）。
	Reason string
	// IdentityID は判定対象のidentity。未認証時は空。
	IdentityID string
}

// Granted は許可判定かどうかを返す。
func (d Decision) Granted() bool {
	return d.Status == DecisionGranted
}

// RoleSet はビューごとに許可されたロールの集合。
// 空集合は「ロール制限なし（検証済みの認証ユーザーなら誰でも）」を意味する。
type RoleSet []Role

// Allows はロールが集合に含まれるかを返す。
func (s RoleSet) Allows(role Role) bool {
	if len(s) == 0 {
		return true
	}
	for _, r := range s {
		if r == role {
			return true
		}
	}
	return false
}

// Strings はロールを文字列スライスで返す。
func (s RoleSet) Strings() []string {
	out := make([]string, len(s))
	for i, r := range s {
		out[i] = string(r)
	}
	return out
}

// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string   // エラーコード
	Message  string   // エラーメッセージ
	Category string   // カテゴリ: auth, validation, catalog, import, system
	Action   string   // ユーザー向け対処方法
	Fields   []string // バリデーションエラー時の対象フィールド
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAlreadyRegistered  = "ALREADY_REGISTERED"
	ErrCodeNotAllowListed     = "NOT_ALLOW_LISTED"
	ErrCodePasswordMismatch   = "PASSWORD_MISMATCH"
	ErrCodeWeakPassword       = "WEAK_PASSWORD"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeUnverifiedEmail    = "UNVERIFIED_EMAIL"
	ErrCodeProfileMissing     = "PROFILE_MISSING"
	ErrCodeRoleNotPermitted   = "ROLE_NOT_PERMITTED"
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeInvalidToken       = "INVALID_TOKEN"
	ErrCodeLookupFailed       = "PROFILE_LOOKUP_FAILED"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeEventNotFound      = "EVENT_NOT_FOUND"
	ErrCodeForbiddenClub      = "FORBIDDEN_CLUB"
	ErrCodeInvalidURL         = "INVALID_URL"
	ErrCodeSSRFBlocked        = "SSRF_BLOCKED"
	ErrCodeFetchFailed        = "FETCH_FAILED"
	ErrCodeParseFailed        = "PARSE_FAILED"
	ErrCodeFeedNotDetected    = "FEED_NOT_DETECTED"
	ErrCodeCSRFInvalid        = "CSRF_INVALID"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// IsCode はerrがcodeを持つAPIErrorかどうかを返す。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewAlreadyRegisteredError はメールアドレスが登録済みの場合のエラーを生成する。
func NewAlreadyRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyRegistered,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "サインインするか、パスワードを再設定してください。",
	}
}

// NewNotAllowListedError は許可リストにないメールアドレスでのサインアップエラーを生成する。
func NewNotAllowListedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAllowListed,
		Message:  "このメールアドレスは登録を許可されていません。",
		Category: "auth",
		Action:   "所属クラブまたは管理者に登録を依頼してください。",
	}
}

// NewPasswordMismatchError は確認用パスワード不一致エラーを生成する。
func NewPasswordMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodePasswordMismatch,
		Message:  "パスワードが一致しません。",
		Category: "validation",
		Action:   "確認用パスワードを同じ値で入力してください。",
		Fields:   []string{"confirmPassword"},
	}
}

// NewWeakPasswordError はパスワード長不足エラーを生成する。
func NewWeakPasswordError(minLength int) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("パスワードは%d文字以上で入力してください。", minLength),
		Category: "validation",
		Action:   "より長いパスワードを設定してください。",
		Fields:   []string{"password"},
	}
}

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// どのフィールドが誤っているかは示さない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewUnverifiedEmailError はメール未検証エラーを生成する。
func NewUnverifiedEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeUnverifiedEmail,
		Message:  "メールアドレスの確認が完了していません。",
		Category: "auth",
		Action:   "確認メールのリンクを開くか、確認メールを再送信してください。",
	}
}

// NewProfileMissingError はプロフィール未作成エラーを生成する。
func NewProfileMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileMissing,
		Message:  "ユーザー情報が見つかりません。",
		Category: "auth",
		Action:   "管理者に連絡してください。",
	}
}

// NewRoleNotPermittedError はロール不許可エラーを生成する。
func NewRoleNotPermittedError() *APIError {
	return &APIError{
		Code:     ErrCodeRoleNotPermitted,
		Message:  "このページを表示する権限がありません。",
		Category: "auth",
		Action:   "権限のあるアカウントでサインインしてください。",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidTokenError は検証・再設定トークンが無効な場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "リンクが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "もう一度メールの送信からやり直してください。",
	}
}

// NewCSRFInvalidError はCSRFトークンの欠落・不一致を表すエラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "リクエストを検証できませんでした。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewLookupFailedError はプロフィール取得の失敗・タイムアウトを表すエラーを生成する。
func NewLookupFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeLookupFailed,
		Message:  "ユーザー情報の取得に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewValidationError は必須項目不足・形式不正のエラーを生成する。
func NewValidationError(fields []string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", strings.Join(fields, ", ")),
		Category: "validation",
		Action:   "必須項目（タイトル・日付）と各項目の形式を確認してください。",
		Fields:   fields,
	}
}

// NewEventNotFoundError はイベント未検出エラーを生成する。
func NewEventNotFoundError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  fmt.Sprintf("指定されたイベントが見つかりません: %s", eventID),
		Category: "catalog",
		Action:   "イベント一覧を再読み込みしてください。",
	}
}

// NewForbiddenClubError は他クラブのイベント操作エラーを生成する。
func NewForbiddenClubError() *APIError {
	return &APIError{
		Code:     ErrCodeForbiddenClub,
		Message:  "他のクラブのイベントは編集できません。",
		Category: "catalog",
		Action:   "所属クラブのイベントのみ操作してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "import",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewParseFailedError はフィード解析失敗エラーを生成する。
func NewParseFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeParseFailed,
		Message:  "イベントフィードの解析に失敗しました。",
		Category: "import",
		Action:   "有効なRSS/Atomフィードかどうか確認してください。",
	}
}

// NewFeedNotDetectedError はフィード未検出エラーを生成する。
func NewFeedNotDetectedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotDetected,
		Message:  fmt.Sprintf("指定されたURLからイベントフィードを検出できませんでした: %s", url),
		Category: "import",
		Action:   "クラブのRSS/AtomフィードのURLを直接入力してください。",
	}
}

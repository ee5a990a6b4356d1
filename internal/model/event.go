package model

import "time"

// EventRecord はカタログが保持するイベントを表す。
// IDは作成時に採番され、削除後も再利用されない。
type EventRecord struct {
	ID               string
	Title            string
	Description      string
	Date             string // YYYY-MM-DD
	Time             string // HH:MM（任意）
	Location         string
	RegistrationLink string
	Club             string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EventDraft はイベント作成時の入力。
type EventDraft struct {
	Title            string
	Description      string
	Date             string
	Time             string
	Location         string
	RegistrationLink string
	Club             string
}

// EventPatch はイベント更新時の部分入力。nilフィールドは変更しない。
type EventPatch struct {
	Title            *string
	Description      *string
	Date             *string
	Time             *string
	Location         *string
	RegistrationLink *string
	Club             *string
}

// EventView は閲覧者ごとの登録状態を付与したイベント。
// 登録状態は共有レコードには保存しない。
type EventView struct {
	EventRecord
	Registered bool
}

// RegistrationState は(閲覧者, イベント)ごとの登録状態。
type RegistrationState struct {
	ViewerID   string
	EventID    string
	Registered bool
}

package authz

import "github.com/hitoshi/campushub/internal/model"

// View は保護されたビューと、そこで許可されるロール集合。
// Rolesが空の場合は検証済みでプロフィールを持つ認証ユーザーなら誰でも許可する。
type View struct {
	Name  string
	Roles model.RoleSet
}

var (
	// ViewStudent は学生向けビュー。
	ViewStudent = View{Name: "student", Roles: model.RoleSet{model.RoleStudent}}
	// ViewAdmin はイベント管理ビュー。クラブ管理者も含む。
	ViewAdmin = View{Name: "admin", Roles: model.RoleSet{model.RoleAdmin, model.RoleClubAdmin}}
	// ViewAny はロール制限のないビュー。
	ViewAny = View{Name: "any"}
)

var views = map[string]View{
	ViewStudent.Name: ViewStudent,
	ViewAdmin.Name:   ViewAdmin,
	ViewAny.Name:     ViewAny,
}

// LookupView は名前からビューを取得する。
func LookupView(name string) (View, bool) {
	v, ok := views[name]
	return v, ok
}

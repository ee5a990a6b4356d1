package catalog

import (
	"strings"

	"github.com/hitoshi/campushub/internal/model"
)

// Actor はカタログを操作する認可済みの主体。
// ガード判定で解決したプロフィールから生成する。
type Actor struct {
	IdentityID string
	Role       model.Role
	Club       string
}

// ActorFromProfile はプロフィールからActorを生成する。
func ActorFromProfile(p *model.Profile) Actor {
	return Actor{
		IdentityID: p.IdentityID,
		Role:       p.Role,
		Club:       p.ClubName(),
	}
}

// canManage はActorがレコードを変更できるかを返す。
// adminは全イベント、club_adminは所属クラブのイベントのみ変更できる。
func (a Actor) canManage(club string) error {
	switch a.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleClubAdmin:
		if a.Club != "" && strings.EqualFold(a.Club, club) {
			return nil
		}
		return model.NewForbiddenClubError()
	default:
		return model.NewRoleNotPermittedError()
	}
}

// CreateAs はActorの権限でイベントを作成する。
// club_adminが作成するイベントのクラブは所属クラブに固定される。
func (c *Catalog) CreateAs(actor Actor, draft model.EventDraft) (*model.EventRecord, error) {
	if actor.Role == model.RoleClubAdmin {
		draft.Club = actor.Club
	}
	if err := actor.canManage(draft.Club); err != nil {
		c.record("create", err)
		return nil, err
	}
	return c.Create(draft)
}

// UpdateAs はActorの権限でイベントを更新する。
// club_adminは他クラブへのイベント移動もできない。
func (c *Catalog) UpdateAs(actor Actor, id string, patch model.EventPatch) (*model.EventRecord, error) {
	record, err := c.update(id, patch, func(current *model.EventRecord) error {
		if err := actor.canManage(current.Club); err != nil {
			return err
		}
		if patch.Club != nil && actor.Role == model.RoleClubAdmin && !strings.EqualFold(strings.TrimSpace(*patch.Club), actor.Club) {
			return model.NewForbiddenClubError()
		}
		return nil
	})
	c.record("update", err)
	return record, err
}

// DeleteAs はActorの権限でイベントを削除する。
func (c *Catalog) DeleteAs(actor Actor, id string) error {
	err := c.delete(id, func(current *model.EventRecord) error {
		return actor.canManage(current.Club)
	})
	c.record("delete", err)
	return err
}

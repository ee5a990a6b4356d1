// Package session はセッション単位のidentity変化をガードへ配信するハブを提供する。
package session

import (
	"sync"

	"github.com/hitoshi/campushub/internal/model"
)

// Hub はセッションIDごとのidentity変化通知を管理する。
// プロセス内のみで動作し、複数プロセス間の同期は行わない。
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// NewHub はHubを生成する。
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscription は1つのガードによる購読を表す。
// Updatesは最新値のみを保持し、遅い受信側が古い値を受け取ることはない。
type Subscription struct {
	hub       *Hub
	sessionID string
	ch        chan *model.Identity
	last      *model.Identity // hub.muで保護
	closeOnce sync.Once
}

// Subscribe はセッションの購読を開始する。
// 返されたチャネルには最初に現在のidentity（未認証ならnil）が送られる。
// 利用後は必ずCloseを呼ぶこと。
func (h *Hub) Subscribe(sessionID string, current *model.Identity) *Subscription {
	sub := &Subscription{
		hub:       h,
		sessionID: sessionID,
		ch:        make(chan *model.Identity, 1),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}

	sub.last = cloneIdentity(current)
	sub.ch <- sub.last
	return sub
}

// Updates はidentity変化を受け取るチャネルを返す。nilはサインアウトを表す。
// Close後はクローズされる。
func (s *Subscription) Updates() <-chan *model.Identity {
	return s.ch
}

// Close は購読を解除する。複数回呼んでも安全。
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()

		if set, ok := s.hub.subs[s.sessionID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.hub.subs, s.sessionID)
			}
		}
		close(s.ch)
	})
}

// Publish はセッションを購読中のガードへidentityを通知する。
// 直前に通知した値と同じ場合は送らない（変化ごとに最大1回）。
func (h *Hub) Publish(sessionID string, identity *model.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[sessionID] {
		sub.offer(identity)
	}
}

// PublishIdentity は指定identityを最後に観測している全購読へ更新後の値を通知する。
// メール検証などidentity側の変化を反映するために使う。
func (h *Hub) PublishIdentity(identity *model.Identity) {
	if identity == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, set := range h.subs {
		for sub := range set {
			if sub.last != nil && sub.last.ID == identity.ID {
				sub.offer(identity)
			}
		}
	}
}

// Subscribers は指定セッションの購読数を返す。
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// offer は最新値をチャネルへ入れる。hub.muを保持した状態で呼ぶこと。
func (s *Subscription) offer(identity *model.Identity) {
	if sameIdentity(s.last, identity) {
		return
	}
	s.last = cloneIdentity(identity)

	for {
		select {
		case s.ch <- s.last:
			return
		default:
			// 受信されていない古い値を捨てる
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

func sameIdentity(a, b *model.Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID && a.EmailVerified == b.EmailVerified
}

func cloneIdentity(identity *model.Identity) *model.Identity {
	if identity == nil {
		return nil
	}
	cp := *identity
	return &cp
}

// Package authz はidentityとプロフィールのロールからガード判定を導出する。
//
// 判定は Unknown → Pending → {Denied, Granted(role)} の順に遷移する。
// プロフィール参照の失敗やタイムアウトは常にDeniedとなる。
package authz

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/campushub/internal/metrics"
	"github.com/hitoshi/campushub/internal/model"
)

// ProfileLookup はidentityに紐づくプロフィールを取得するインターフェース。
// repository.ProfileRepositoryが満たす。
type ProfileLookup interface {
	FindByIdentityID(ctx context.Context, identityID string) (*model.Profile, error)
}

// Config はAuthorizerの設定。
type Config struct {
	// LookupTimeout はプロフィール参照の上限時間。0以下の場合は無制限。
	LookupTimeout time.Duration
}

// Authorizer はガード判定を行う。判定によってプロフィールストアを変更することはない。
type Authorizer struct {
	profiles ProfileLookup
	cache    *ProfileCache
	metrics  metrics.MetricsCollector
	timeout  time.Duration
}

// NewAuthorizer はAuthorizerを生成する。cacheとcollectorはnilでもよい。
func NewAuthorizer(profiles ProfileLookup, cache *ProfileCache, collector metrics.MetricsCollector, cfg Config) *Authorizer {
	return &Authorizer{
		profiles: profiles,
		cache:    cache,
		metrics:  collector,
		timeout:  cfg.LookupTimeout,
	}
}

// Authorize はidentityの現時点のスナップショットに対して1回だけ判定する。
// Pendingは返さず、タイムアウトした参照はDeniedになる。
func (a *Authorizer) Authorize(ctx context.Context, identity *model.Identity, view View) model.Decision {
	decision, _ := a.Evaluate(ctx, identity, view)
	return decision
}

// Evaluate はAuthorizeと同じ判定を行い、許可時は解決したプロフィールも返す。
func (a *Authorizer) Evaluate(ctx context.Context, identity *model.Identity, view View) (model.Decision, *model.Profile) {
	var (
		profile *model.Profile
		err     error
	)
	if identity != nil && identity.EmailVerified {
		profile, err = a.lookupProfile(ctx, identity.ID)
	}

	decision := decide(identity, profile, err, view.Roles)
	a.record(view, decision, err)
	if !decision.Granted() {
		return decision, nil
	}
	return decision, profile
}

// Watch はidentityの変化ストリームを購読し、判定の列を返す。
//
// 最初にUnknownを送り、identityを受け取るたびにPendingを経て判定を送る。
// 参照中に次のidentityが届いた場合、前の参照は取り消され結果は破棄される。
// nilはサインアウトを表し、直ちにDenied(UNAUTHENTICATED)となる。
// identitiesがクローズされるかctxが終了すると、返されたチャネルはクローズされる。
func (a *Authorizer) Watch(ctx context.Context, identities <-chan *model.Identity, view View) <-chan model.Decision {
	out := make(chan model.Decision)

	go func() {
		defer close(out)

		cancelLookup := func() {}
		defer func() { cancelLookup() }()

		emit := func(d model.Decision) bool {
			select {
			case out <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(model.Decision{Status: model.DecisionUnknown}) {
			return
		}

		// pendingは現在のidentityに対する参照結果のみを受け取る。
		// 取り消された参照の結果は誰にも受信されずに捨てられる。
		var pending <-chan model.Decision

		for {
			select {
			case <-ctx.Done():
				return

			case identity, ok := <-identities:
				if !ok {
					return
				}
				cancelLookup()
				pending = nil

				if identity == nil {
					d := decide(nil, nil, nil, view.Roles)
					a.record(view, d, nil)
					if !emit(d) {
						return
					}
					continue
				}

				if !emit(model.Decision{Status: model.DecisionPending, IdentityID: identity.ID}) {
					return
				}

				lookupCtx, cancel := context.WithCancel(ctx)
				cancelLookup = cancel
				result := make(chan model.Decision, 1)
				pending = result

				go func(identity *model.Identity) {
					result <- a.Authorize(lookupCtx, identity, view)
				}(identity)

			case d := <-pending:
				pending = nil
				if !emit(d) {
					return
				}
			}
		}
	}()

	return out
}

// Invalidate はキャッシュ済みプロフィールを破棄する。
// プロフィール更新後に呼ぶ。
func (a *Authorizer) Invalidate(identityID string) {
	a.cache.Invalidate(identityID)
}

// lookupProfile はキャッシュ、次にプロフィールストアを参照する。
// ストアが応答しなくてもタイムアウトで必ず戻る。
func (a *Authorizer) lookupProfile(ctx context.Context, identityID string) (*model.Profile, error) {
	if profile, ok := a.cache.Get(identityID); ok {
		return profile, nil
	}

	var cancel context.CancelFunc
	if a.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		profile *model.Profile
		err     error
	}
	ch := make(chan result, 1)
	start := time.Now()

	go func() {
		profile, err := a.profiles.FindByIdentityID(ctx, identityID)
		ch <- result{profile: profile, err: err}
	}()

	select {
	case r := <-ch:
		if a.metrics != nil {
			a.metrics.RecordLookupLatency(time.Since(start))
		}
		if r.err == nil {
			a.cache.Set(identityID, r.profile)
		}
		return r.profile, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// record は判定をログとメトリクスに記録する。
func (a *Authorizer) record(view View, d model.Decision, lookupErr error) {
	// 後続のidentityで取り消された参照は判定として数えない
	if errors.Is(lookupErr, context.Canceled) {
		slog.Debug("profile lookup cancelled", slog.String("identity_id", d.IdentityID))
		return
	}
	if a.metrics != nil {
		a.metrics.RecordGuardDecision(view.Name, string(d.Status), d.Reason)
	}

	attrs := []any{
		slog.String("view", view.Name),
		slog.String("decision", string(d.Status)),
		slog.String("identity_id", d.IdentityID),
	}
	if d.Reason != "" {
		attrs = append(attrs, slog.String("reason", d.Reason))
	}
	if lookupErr != nil {
		attrs = append(attrs, slog.String("error", lookupErr.Error()))
		slog.Warn("profile lookup failed", attrs...)
		return
	}
	slog.Debug("guard decision", attrs...)
}

// decide は観測結果から判定を導出する。
func decide(identity *model.Identity, profile *model.Profile, lookupErr error, roles model.RoleSet) model.Decision {
	if identity == nil {
		return denied("", model.ErrCodeUnauthenticated)
	}
	if !identity.EmailVerified {
		return denied(identity.ID, model.ErrCodeUnverifiedEmail)
	}
	if lookupErr != nil {
		return denied(identity.ID, model.ErrCodeLookupFailed)
	}
	if profile == nil {
		return denied(identity.ID, model.ErrCodeProfileMissing)
	}
	if !roles.Allows(profile.Role) {
		return denied(identity.ID, model.ErrCodeRoleNotPermitted)
	}
	return model.Decision{
		Status:     model.DecisionGranted,
		Role:       profile.Role,
		IdentityID: identity.ID,
	}
}

func denied(identityID, reason string) model.Decision {
	return model.Decision{
		Status:     model.DecisionDenied,
		Reason:     reason,
		IdentityID: identityID,
	}
}

// DenialError は拒否判定をAPIErrorに変換する。許可判定の場合はnilを返す。
func DenialError(d model.Decision) *model.APIError {
	if d.Status != model.DecisionDenied {
		return nil
	}
	switch d.Reason {
	case model.ErrCodeUnauthenticated:
		return model.NewUnauthenticatedError()
	case model.ErrCodeUnverifiedEmail:
		return model.NewUnverifiedEmailError()
	case model.ErrCodeProfileMissing:
		return model.NewProfileMissingError()
	case model.ErrCodeRoleNotPermitted:
		return model.NewRoleNotPermittedError()
	default:
		return model.NewLookupFailedError()
	}
}

package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/campushub/internal/model"
	"github.com/hitoshi/campushub/internal/repository"
)

// --- モック定義 ---

type mockIdentityRepo struct {
	findByIDFn           func(ctx context.Context, id string) (*model.Identity, error)
	findByEmailFn        func(ctx context.Context, email string) (*model.Identity, error)
	createWithProfileFn  func(ctx context.Context, identity *model.Identity, profile *model.Profile) error
	markEmailVerifiedFn  func(ctx context.Context, id string) error
	updatePasswordHashFn func(ctx context.Context, id, hash string) error
}

func (m *mockIdentityRepo) FindByID(ctx context.Context, id string) (*model.Identity, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockIdentityRepo) FindByEmail(ctx context.Context, email string) (*model.Identity, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockIdentityRepo) CreateWithProfile(ctx context.Context, identity *model.Identity, profile *model.Profile) error {
	if m.createWithProfileFn != nil {
		return m.createWithProfileFn(ctx, identity, profile)
	}
	return nil
}

func (m *mockIdentityRepo) MarkEmailVerified(ctx context.Context, id string) error {
	if m.markEmailVerifiedFn != nil {
		return m.markEmailVerifiedFn(ctx, id)
	}
	return nil
}

func (m *mockIdentityRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	if m.updatePasswordHashFn != nil {
		return m.updatePasswordHashFn(ctx, id, hash)
	}
	return nil
}

type mockAllowListRepo struct {
	findByEmailFn func(ctx context.Context, email string) (*model.AllowListEntry, error)
}

func (m *mockAllowListRepo) FindByEmail(ctx context.Context, email string) (*model.AllowListEntry, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockAllowListRepo) Upsert(_ context.Context, _ *model.AllowListEntry) error {
	return nil
}

type mockSessionRepo struct {
	createFn             func(ctx context.Context, session *model.Session) error
	findByIDFn           func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn         func(ctx context.Context, id string) error
	deleteByIdentityIDFn func(ctx context.Context, identityID string) ([]string, error)
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByIdentityID(ctx context.Context, identityID string) ([]string, error) {
	if m.deleteByIdentityIDFn != nil {
		return m.deleteByIdentityIDFn(ctx, identityID)
	}
	return nil, nil
}

type recordingMailer struct {
	mu      sync.Mutex
	sent    []Message
	sendErr error
}

func (m *recordingMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

type publishedEvent struct {
	sessionID string
	identity  *model.Identity
}

type recordingNotifier struct {
	sessions   []publishedEvent
	identities []*model.Identity
}

func (n *recordingNotifier) Publish(sessionID string, identity *model.Identity) {
	n.sessions = append(n.sessions, publishedEvent{sessionID: sessionID, identity: identity})
}

func (n *recordingNotifier) PublishIdentity(identity *model.Identity) {
	n.identities = append(n.identities, identity)
}

// --- compile-time interface checks ---
var _ repository.IdentityRepository = (*mockIdentityRepo)(nil)
var _ repository.AllowListRepository = (*mockAllowListRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ Mailer = (*recordingMailer)(nil)
var _ IdentityNotifier = (*recordingNotifier)(nil)

// --- ヘルパー ---

type testDeps struct {
	identities *mockIdentityRepo
	allowList  *mockAllowListRepo
	sessions   *mockSessionRepo
	mailer     *recordingMailer
	notifier   *recordingNotifier
	tokens     *TokenIssuer
	hasher     *PasswordHasher
}

func newTestService(t *testing.T) (*Service, *testDeps) {
	t.Helper()
	deps := &testDeps{
		identities: &mockIdentityRepo{},
		allowList:  &mockAllowListRepo{},
		sessions:   &mockSessionRepo{},
		mailer:     &recordingMailer{},
		notifier:   &recordingNotifier{},
		tokens:     NewTokenIssuer("test-secret", "campushub-test"),
		hasher:     NewPasswordHasher(bcrypt.MinCost),
	}
	svc := NewService(
		deps.identities, deps.allowList, deps.sessions,
		deps.hasher, deps.tokens, deps.mailer, deps.notifier, nil,
		ServiceConfig{
			SessionMaxAge:     24 * time.Hour,
			VerifyTokenTTL:    time.Hour,
			ResetTokenTTL:     time.Hour,
			PasswordMinLength: 8,
			BaseURL:           "https://campus.example.edu/",
		},
	)
	return svc, deps
}

func studentEntry(email string) *model.AllowListEntry {
	return &model.AllowListEntry{Email: email, Role: model.RoleStudent}
}

// --- テスト: SignUp ---

func TestSignUp_PasswordMismatch_NoRemoteCall(t *testing.T) {
	svc, deps := newTestService(t)

	called := false
	deps.allowList.findByEmailFn = func(ctx context.Context, email string) (*model.AllowListEntry, error) {
		called = true
		return nil, nil
	}
	deps.identities.findByEmailFn = func(ctx context.Context, email string) (*model.Identity, error) {
		called = true
		return nil, nil
	}

	_, err := svc.SignUp(context.Background(), SignUpInput{
		Email:           "a@example.edu",
		Password:        "password-1",
		ConfirmPassword: "password-2",
	})
	if !model.IsCode(err, model.ErrCodePasswordMismatch) {
		t.Fatalf("expected PASSWORD_MISMATCH, got %v", err)
	}
	if called {
		t.Error("no store should be consulted on password mismatch")
	}
}

func TestSignUp_NotAllowListed_CreatesNothing(t *testing.T) {
	svc, deps := newTestService(t)

	created := false
	deps.identities.createWithProfileFn = func(ctx context.Context, identity *model.Identity, profile *model.Profile) error {
		created = true
		return nil
	}

	_, err := svc.SignUp(context.Background(), SignUpInput{
		Email:           "stranger@example.edu",
		Password:        "long-enough",
		ConfirmPassword: "long-enough",
	})
	if !model.IsCode(err, model.ErrCodeNotAllowListed) {
		t.Fatalf("expected NOT_ALLOW_LISTED, got %v", err)
	}
	if created {
		t.Error("identity/profile must not be created for non allow-listed email")
	}
	if len(deps.mailer.sent) != 0 {
		t.Error("no mail should be sent")
	}
}

func TestSignUp_AlreadyRegistered(t *testing.T) {
	svc, deps := newTestService(t)
	deps.allowList.findByEmailFn = func(ctx context.Context, email string) (*model.AllowListEntry, error) {
		return studentEntry(email), nil
	}
	deps.identities.findByEmailFn = func(ctx context.Context, email string) (*model.Identity, error) {
		return &model.Identity{ID: "existing", Email: email}, nil
	}

	_, err := svc.SignUp(context.Background(), SignUpInput{
		Email:           "taken@example.edu",
		Password:        "long-enough",
		ConfirmPassword: "long-enough",
	})
	if !model.IsCode(err, model.ErrCodeAlreadyRegistered) {
		t.Fatalf("expected ALREADY_REGISTERED, got %v", err)
	}
}

func TestSignUp_DuplicateRace_MapsToAlreadyRegistered(t *testing.T) {
	svc, deps := newTestService(t)
	deps.allowList.findByEmailFn = func(ctx context.Context, email string) (*model.AllowListEntry, error) {
		return studentEntry(email), nil
	}
	deps.identities.createWithProfileFn = func(ctx context.Context, identity *model.Identity, profile *model.Profile) error {
		return repository.ErrDuplicate
	}

	_, err := svc.SignUp(context.Background(), SignUpInput{
		Email:           "race@example.edu",
		Password:        "long-enough",
		ConfirmPassword: "long-enough",
	})
	if !model.IsCode(err, model.ErrCodeAlreadyRegistered) {
		t.Fatalf("expected ALREADY_REGISTERED, got %v", err)
	}
}

func TestSignUp_WeakPassword(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.SignUp(context.Background(), SignUpInput{
		Email:           "a@example.edu",
		Password:        "short",
		ConfirmPassword: "short",
	})
	if !model.IsCode(err, model.ErrCodeWeakPassword) {
		t.Fatalf("expected WEAK_PASSWORD, got %v", err)
	}
}

func TestSignUp_InvalidEmail(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.SignUp(context.Background(), SignUpInput{
		Email:           "not-an-email",
		Password:        "long-enough",
		ConfirmPassword: "long-enough",
	})
	if !model.IsCode(err, model.ErrCodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestSignUp_Success_CopiesRoleAndClubAndSendsVerification(t *testing.T) {
	svc, deps := newTestService(t)
	club := "Robotics"
	deps.allowList.findByEmailFn = func(ctx context.Context, email string) (*model.AllowListEntry, error) {
		if email != "lead@example.edu" {
			t.Errorf("allow-list lookup email = %q, want normalized", email)
		}
		return &model.AllowListEntry{Email: email, Role: model.RoleClubAdmin, Club: &club}, nil
	}

	var gotIdentity *model.Identity
	var gotProfile *model.Profile
	deps.identities.createWithProfileFn = func(ctx context.Context, identity *model.Identity, profile *model.Profile) error {
		gotIdentity = identity
		gotProfile = profile
		return nil
	}

	result, err := svc.SignUp(context.Background(), SignUpInput{
		Email:           "  Lead@Example.EDU ",
		Password:        "long-enough",
		ConfirmPassword: "long-enough",
		DisplayName:     " Club Lead ",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	if gotIdentity == nil || gotProfile == nil {
		t.Fatal("expected identity and profile to be created")
	}
	if gotIdentity.EmailVerified {
		t.Error("new identity must be unverified")
	}
	if gotIdentity.PasswordHash == "long-enough" || !deps.hasher.Compare(gotIdentity.PasswordHash, "long-enough") {
		t.Error("password must be stored as bcrypt hash")
	}
	if gotProfile.IdentityID != gotIdentity.ID {
		t.Errorf("profile identity = %q, want %q", gotProfile.IdentityID, gotIdentity.ID)
	}
	if gotProfile.Role != model.RoleClubAdmin || gotProfile.ClubName() != "Robotics" {
		t.Errorf("profile = %+v, want club_admin of Robotics", gotProfile)
	}
	if gotProfile.DisplayName != "Club Lead" {
		t.Errorf("display name = %q, want trimmed", gotProfile.DisplayName)
	}

	if !result.VerificationSent || result.IdentityID != gotIdentity.ID {
		t.Errorf("result = %+v", result)
	}
	if len(deps.mailer.sent) != 1 || deps.mailer.sent[0].To != "lead@example.edu" {
		t.Fatalf("verification mail = %+v", deps.mailer.sent)
	}
}

func TestSignUp_MailFailure_StillCreatesIdentity(t *testing.T) {
	svc, deps := newTestService(t)
	deps.allowList.findByEmailFn = func(ctx context.Context, email string) (*model.AllowListEntry, error) {
		return studentEntry(email), nil
	}
	deps.mailer.sendErr = errors.New("smtp down")

	result, err := svc.SignUp(context.Background(), SignUpInput{
		Email:           "a@example.edu",
		Password:        "long-enough",
		ConfirmPassword: "long-enough",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if result.VerificationSent {
		t.Error("VerificationSent should be false when mail dispatch fails")
	}
}

// --- テスト: SignIn ---

func TestSignIn_UnknownEmail_InvalidCredentials(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.SignIn(context.Background(), "ghost@example.edu", "whatever")
	if !model.IsCode(err, model.ErrCodeInvalidCredentials) {
		t.Fatalf("expected INVALID_CREDENTIALS, got %v", err)
	}
}

func TestSignIn_WrongPassword_InvalidCredentials(t *testing.T) {
	svc, deps := newTestService(t)
	hash, _ := deps.hasher.Hash("correct-password")
	deps.identities.findByEmailFn = func(ctx context.Context, email string) (*model.Identity, error) {
		return &model.Identity{ID: "id-1", Email: email, PasswordHash: hash, EmailVerified: true}, nil
	}

	_, err := svc.SignIn(context.Background(), "a@example.edu", "wrong-password")
	if !model.IsCode(err, model.ErrCodeInvalidCredentials) {
		t.Fatalf("expected INVALID_CREDENTIALS, got %v", err)
	}
}

func TestSignIn_StoreError_DoesNotLeakAsAPIError(t *testing.T) {
	svc, deps := newTestService(t)
	deps.identities.findByEmailFn = func(ctx context.Context, email string) (*model.Identity, error) {
		return nil, errors.New("pq: connection refused")
	}

	_, err := svc.SignIn(context.Background(), "a@example.edu", "x")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("store failure should be an internal error, got %v", apiErr)
	}
}

func TestSignIn_UnverifiedIdentity_StillCreatesSession(t *testing.T) {
	svc, deps := newTestService(t)
	hash, _ := deps.hasher.Hash("correct-password")
	deps.identities.findByEmailFn = func(ctx context.Context, email string) (*model.Identity, error) {
		return &model.Identity{ID: "id-1", Email: email, PasswordHash: hash}, nil
	}
	var created *model.Session
	deps.sessions.createFn = func(ctx context.Context, session *model.Session) error {
		created = session
		return nil
	}

	result, err := svc.SignIn(context.Background(), "A@example.edu", "correct-password")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if created == nil || created.IdentityID != "id-1" {
		t.Fatalf("session = %+v", created)
	}
	if len(created.ID) != 64 {
		t.Errorf("session ID length = %d, want 64 hex chars", len(created.ID))
	}
	if !created.ExpiresAt.After(time.Now().Add(23 * time.Hour)) {
		t.Error("session should expire after SessionMaxAge")
	}
	if result.Identity.EmailVerified {
		t.Error("identity should remain unverified")
	}
}

// --- テスト: SignOut / CurrentIdentity ---

func TestSignOut_DeletesSessionAndPublishesNil(t *testing.T) {
	svc, deps := newTestService(t)
	var deleted string
	deps.sessions.deleteByIDFn = func(ctx context.Context, id string) error {
		deleted = id
		return nil
	}

	if err := svc.SignOut(context.Background(), "sess-1"); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if deleted != "sess-1" {
		t.Errorf("deleted = %q, want sess-1", deleted)
	}
	if len(deps.notifier.sessions) != 1 || deps.notifier.sessions[0].identity != nil {
		t.Errorf("expected nil identity published, got %+v", deps.notifier.sessions)
	}
}

func TestSignOut_StoreFailure_StillPublishesNil(t *testing.T) {
	svc, deps := newTestService(t)
	deps.sessions.deleteByIDFn = func(ctx context.Context, id string) error {
		return errors.New("db down")
	}

	err := svc.SignOut(context.Background(), "sess-1")
	if err == nil {
		t.Fatal("expected error when session delete fails")
	}
	if len(deps.notifier.sessions) != 1 {
		t.Fatalf("published = %d, want 1", len(deps.notifier.sessions))
	}
	if got := deps.notifier.sessions[0]; got.sessionID != "sess-1" || got.identity != nil {
		t.Errorf("expected nil identity published for sess-1, got %+v", got)
	}
}

func TestSignOut_EmptySessionID_ReturnsError(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.SignOut(context.Background(), ""); err == nil {
		t.Error("expected error for empty session ID")
	}
}

func TestCurrentIdentity_NoSession_ReturnsNil(t *testing.T) {
	svc, _ := newTestService(t)

	identity, err := svc.CurrentIdentity(context.Background(), "expired")
	if err != nil {
		t.Fatalf("CurrentIdentity() error = %v", err)
	}
	if identity != nil {
		t.Errorf("expected nil identity, got %+v", identity)
	}
}

func TestCurrentIdentity_ResolvesThroughSession(t *testing.T) {
	svc, deps := newTestService(t)
	deps.sessions.findByIDFn = func(ctx context.Context, id string) (*model.Session, error) {
		return &model.Session{ID: id, IdentityID: "id-9"}, nil
	}
	deps.identities.findByIDFn = func(ctx context.Context, id string) (*model.Identity, error) {
		return &model.Identity{ID: id, EmailVerified: true}, nil
	}

	identity, err := svc.CurrentIdentity(context.Background(), "sess-9")
	if err != nil {
		t.Fatalf("CurrentIdentity() error = %v", err)
	}
	if identity == nil || identity.ID != "id-9" {
		t.Errorf("identity = %+v, want id-9", identity)
	}
}

// --- テスト: VerifyEmail ---

func TestVerifyEmail_ValidToken_MarksVerifiedAndPublishes(t *testing.T) {
	svc, deps := newTestService(t)
	deps.identities.findByIDFn = func(ctx context.Context, id string) (*model.Identity, error) {
		return &model.Identity{ID: id, Email: "a@example.edu"}, nil
	}
	var marked string
	deps.identities.markEmailVerifiedFn = func(ctx context.Context, id string) error {
		marked = id
		return nil
	}

	token, err := deps.tokens.Issue(PurposeVerifyEmail, "id-1", "", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	identity, err := svc.VerifyEmail(context.Background(), token)
	if err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}
	if marked != "id-1" || !identity.EmailVerified {
		t.Errorf("marked = %q, identity = %+v", marked, identity)
	}
	if len(deps.notifier.identities) != 1 || !deps.notifier.identities[0].EmailVerified {
		t.Errorf("expected verified identity to be published, got %+v", deps.notifier.identities)
	}
}

func TestVerifyEmail_ResetTokenRejected(t *testing.T) {
	svc, deps := newTestService(t)
	token, _ := deps.tokens.Issue(PurposeResetPassword, "id-1", "fp", time.Hour)

	_, err := svc.VerifyEmail(context.Background(), token)
	if !model.IsCode(err, model.ErrCodeInvalidToken) {
		t.Fatalf("expected INVALID_TOKEN, got %v", err)
	}
}

func TestVerifyEmail_GarbageToken(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.VerifyEmail(context.Background(), "not-a-jwt")
	if !model.IsCode(err, model.ErrCodeInvalidToken) {
		t.Fatalf("expected INVALID_TOKEN, got %v", err)
	}
}

// --- テスト: ResendVerification ---

func TestResendVerification_AlreadyVerified_NoMail(t *testing.T) {
	svc, deps := newTestService(t)
	deps.identities.findByIDFn = func(ctx context.Context, id string) (*model.Identity, error) {
		return &model.Identity{ID: id, Email: "a@example.edu", EmailVerified: true}, nil
	}

	if err := svc.ResendVerification(context.Background(), "id-1"); err != nil {
		t.Fatalf("ResendVerification() error = %v", err)
	}
	if len(deps.mailer.sent) != 0 {
		t.Error("verified identity should not receive another mail")
	}
}

func TestResendVerification_Unverified_SendsMail(t *testing.T) {
	svc, deps := newTestService(t)
	deps.identities.findByIDFn = func(ctx context.Context, id string) (*model.Identity, error) {
		return &model.Identity{ID: id, Email: "a@example.edu"}, nil
	}

	if err := svc.ResendVerification(context.Background(), "id-1"); err != nil {
		t.Fatalf("ResendVerification() error = %v", err)
	}
	if len(deps.mailer.sent) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(deps.mailer.sent))
	}
}

// --- テスト: RequestPasswordReset ---

func TestRequestPasswordReset_UnknownEmail_ReportsSuccessWithoutMail(t *testing.T) {
	svc, deps := newTestService(t)

	if err := svc.RequestPasswordReset(context.Background(), "ghost@example.edu"); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if len(deps.mailer.sent) != 0 {
		t.Error("no mail should be sent for unknown email")
	}
}

func TestRequestPasswordReset_StoreError_DoesNotRevealFailure(t *testing.T) {
	svc, deps := newTestService(t)
	deps.identities.findByEmailFn = func(ctx context.Context, email string) (*model.Identity, error) {
		return nil, errors.New("db down")
	}

	if err := svc.RequestPasswordReset(context.Background(), "a@example.edu"); err != nil {
		t.Errorf("lookup failure should not be reported, got %v", err)
	}
}

func TestRequestPasswordReset_DispatchFailure_Reported(t *testing.T) {
	svc, deps := newTestService(t)
	deps.identities.findByEmailFn = func(ctx context.Context, email string) (*model.Identity, error) {
		return &model.Identity{ID: "id-1", Email: email, PasswordHash: "hash"}, nil
	}
	deps.mailer.sendErr = errors.New("smtp down")

	if err := svc.RequestPasswordReset(context.Background(), "a@example.edu"); err == nil {
		t.Error("expected dispatch failure to be reported")
	}
}

// --- テスト: ResetPassword ---

func TestResetPassword_ValidToken_UpdatesAndRevokesSessions(t *testing.T) {
	svc, deps := newTestService(t)
	oldHash, _ := deps.hasher.Hash("old-password")
	deps.identities.findByEmailFn = func(ctx context.Context, email string) (*model.Identity, error) {
		return &model.Identity{ID: "id-1", Email: email, PasswordHash: oldHash}, nil
	}
	deps.identities.findByIDFn = func(ctx context.Context, id string) (*model.Identity, error) {
		return &model.Identity{ID: id, Email: "a@example.edu", PasswordHash: oldHash}, nil
	}
	var newHash string
	deps.identities.updatePasswordHashFn = func(ctx context.Context, id, hash string) error {
		newHash = hash
		return nil
	}
	deps.sessions.deleteByIdentityIDFn = func(ctx context.Context, identityID string) ([]string, error) {
		return []string{"sess-a", "sess-b"}, nil
	}

	if err := svc.RequestPasswordReset(context.Background(), "a@example.edu"); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	token := tokenFromMail(t, deps.mailer.sent[0])

	if err := svc.ResetPassword(context.Background(), token, "new-password", "new-password"); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}
	if !deps.hasher.Compare(newHash, "new-password") {
		t.Error("password hash was not updated")
	}
	if len(deps.notifier.sessions) != 2 {
		t.Errorf("expected 2 sign-out notifications, got %d", len(deps.notifier.sessions))
	}
}

func TestResetPassword_TokenSingleUse(t *testing.T) {
	svc, deps := newTestService(t)
	oldHash, _ := deps.hasher.Hash("old-password")
	token, _ := deps.tokens.Issue(PurposeResetPassword, "id-1", passwordFingerprint(oldHash), time.Hour)

	// パスワードは既に変更済み
	changedHash, _ := deps.hasher.Hash("changed-password")
	deps.identities.findByIDFn = func(ctx context.Context, id string) (*model.Identity, error) {
		return &model.Identity{ID: id, PasswordHash: changedHash}, nil
	}

	err := svc.ResetPassword(context.Background(), token, "another-password", "another-password")
	if !model.IsCode(err, model.ErrCodeInvalidToken) {
		t.Fatalf("expected INVALID_TOKEN for reused token, got %v", err)
	}
}

func TestResetPassword_Mismatch(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.ResetPassword(context.Background(), "token", "new-password", "other-password")
	if !model.IsCode(err, model.ErrCodePasswordMismatch) {
		t.Fatalf("expected PASSWORD_MISMATCH, got %v", err)
	}
}

func tokenFromMail(t *testing.T, msg Message) string {
	t.Helper()
	const marker = "?token="
	for i := 0; i+len(marker) <= len(msg.Body); i++ {
		if msg.Body[i:i+len(marker)] == marker {
			return msg.Body[i+len(marker):]
		}
	}
	t.Fatalf("mail body has no token: %q", msg.Body)
	return ""
}

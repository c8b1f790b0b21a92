package impl

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"authsvc/config"
	"authsvc/internal/domain/entity"
	"authsvc/internal/domain/repository"
	"authsvc/internal/domain/service"
	infraauth "authsvc/internal/infra/auth"
	"authsvc/internal/infra/cache"
	"authsvc/internal/usecase"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// --- In-memory fakes ---
// The fakes mirror the persistence contracts closely enough to exercise the
// orchestration logic, including the compare-and-set rotation semantics.

type fakeStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*entity.User
	tokens   map[uuid.UUID]*entity.RefreshToken
	sessions map[uuid.UUID]*entity.Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[uuid.UUID]*entity.User),
		tokens:   make(map[uuid.UUID]*entity.RefreshToken),
		sessions: make(map[uuid.UUID]*entity.Session),
	}
}

type fakeUserRepo struct{ store *fakeStore }

func (r *fakeUserRepo) Create(_ context.Context, user *entity.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, existing := range r.store.users {
		if existing.IdentityID == user.IdentityID || (user.Phone != "" && existing.Phone == user.Phone) {
			return repository.ErrUserDuplicate
		}
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	cloned := *user
	r.store.users[user.ID] = &cloned

	return nil
}

func (r *fakeUserRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	user, ok := r.store.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cloned := *user

	return &cloned, nil
}

func (r *fakeUserRepo) FindByPhone(_ context.Context, phone string) (*entity.User, error) {
	return r.findBy(func(u *entity.User) bool { return u.Phone == phone })
}

func (r *fakeUserRepo) FindByIdentityID(_ context.Context, identityID string) (*entity.User, error) {
	return r.findBy(func(u *entity.User) bool { return u.IdentityID == identityID })
}

func (r *fakeUserRepo) findBy(match func(*entity.User) bool) (*entity.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, user := range r.store.users {
		if match(user) {
			cloned := *user

			return &cloned, nil
		}
	}

	return nil, repository.ErrUserNotFound
}

func (r *fakeUserRepo) AssignRole(_ context.Context, userID uuid.UUID, role entity.Role) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	user, ok := r.store.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	if !user.Roles.Contains(role) {
		user.Roles = append(user.Roles, role)
	}

	return nil
}

func (r *fakeUserRepo) ActiveRoles(_ context.Context, userID uuid.UUID) (entity.Roles, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	user, ok := r.store.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}

	return append(entity.Roles{}, user.Roles...), nil
}

func (r *fakeUserRepo) UpdateLastLogin(_ context.Context, userID uuid.UUID, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	user, ok := r.store.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.LastLoginAt = &at

	return nil
}

func (r *fakeUserRepo) LinkIdentity(_ context.Context, userID uuid.UUID, identityID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	user, ok := r.store.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	for _, other := range r.store.users {
		if other.ID != userID && other.IdentityID == identityID {
			return repository.ErrUserDuplicate
		}
	}
	user.IdentityID = identityID

	return nil
}

func (r *fakeUserRepo) UpdateProfile(_ context.Context, userID uuid.UUID, email, firstName, lastName string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	user, ok := r.store.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	if email != "" {
		user.Email = email
	}
	if firstName != "" {
		user.FirstName = firstName
	}
	if lastName != "" {
		user.LastName = lastName
	}

	return nil
}

type fakeRefreshTokenRepo struct{ store *fakeStore }

func (r *fakeRefreshTokenRepo) Create(_ context.Context, token *entity.RefreshToken) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	token.CreatedAt = time.Now()

	cloned := *token
	r.store.tokens[token.ID] = &cloned

	return nil
}

func (r *fakeRefreshTokenRepo) FindByTokenHash(_ context.Context, tokenHash string) (*entity.RefreshToken, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, token := range r.store.tokens {
		if token.TokenHash == tokenHash {
			if !token.IsRevoked && token.ExpiresAt.Before(time.Now()) {
				return nil, repository.ErrRefreshTokenExpired
			}
			cloned := *token

			return &cloned, nil
		}
	}

	return nil, repository.ErrRefreshTokenNotFound
}

func (r *fakeRefreshTokenRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.RefreshToken, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	token, ok := r.store.tokens[id]
	if !ok {
		return nil, repository.ErrRefreshTokenNotFound
	}
	cloned := *token

	return &cloned, nil
}

// MarkRotated mirrors the conditional UPDATE: only an unrevoked token can be
// rotated, so concurrent rotations of the same token produce one winner.
func (r *fakeRefreshTokenRepo) MarkRotated(_ context.Context, id, replacedBy uuid.UUID, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	token, ok := r.store.tokens[id]
	if !ok || token.IsRevoked {
		return repository.ErrRefreshTokenRevoked
	}

	token.IsRevoked = true
	token.RevokedAt = &at
	token.ReplacedBy = &replacedBy

	return nil
}

func (r *fakeRefreshTokenRepo) RevokeAllByUserID(_ context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var revoked int64
	for _, token := range r.store.tokens {
		if token.UserID == userID && !token.IsRevoked {
			token.IsRevoked = true
			token.RevokedAt = &at
			revoked++
		}
	}

	return revoked, nil
}

func (r *fakeRefreshTokenRepo) FindChain(ctx context.Context, id uuid.UUID) ([]*entity.RefreshToken, error) {
	chain := make([]*entity.RefreshToken, 0, 4)
	next := &id

	for next != nil {
		token, err := r.FindByID(ctx, *next)
		if err != nil {
			if len(chain) == 0 {
				return nil, err
			}
			break
		}
		chain = append(chain, token)
		next = token.ReplacedBy
	}

	return chain, nil
}

func (r *fakeRefreshTokenRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var deleted int64
	for id, token := range r.store.tokens {
		if token.ExpiresAt.Before(time.Now()) {
			delete(r.store.tokens, id)
			deleted++
		}
	}

	return deleted, nil
}

type fakeSessionRepo struct{ store *fakeStore }

func (r *fakeSessionRepo) Create(_ context.Context, session *entity.Session) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	session.CreatedAt = time.Now()

	cloned := *session
	r.store.sessions[session.ID] = &cloned

	return nil
}

func (r *fakeSessionRepo) FindActiveByUserID(_ context.Context, userID uuid.UUID) ([]*entity.Session, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now()
	sessions := make([]*entity.Session, 0, 2)
	for _, session := range r.store.sessions {
		if session.UserID == userID && session.IsActive && session.ExpiresAt.After(now) {
			cloned := *session
			sessions = append(sessions, &cloned)
		}
	}

	return sessions, nil
}

func (r *fakeSessionRepo) RevokeAllByUserID(_ context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var revoked int64
	for _, session := range r.store.sessions {
		if session.UserID == userID && session.IsActive {
			session.IsActive = false
			session.RevokedAt = &at
			revoked++
		}
	}

	return revoked, nil
}

func (r *fakeSessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var deleted int64
	for id, session := range r.store.sessions {
		if session.ExpiresAt.Before(time.Now()) {
			delete(r.store.sessions, id)
			deleted++
		}
	}

	return deleted, nil
}

// fakeTxManager executes the callback against the shared store. The fakes
// do not implement rollback; tests assert on returned values, not store size.
type fakeTxManager struct{ store *fakeStore }

func (tm *fakeTxManager) Execute(_ context.Context, fn func(repository.RepositoryFactory) error) error {
	return fn(&fakeRepoFactory{store: tm.store})
}

type fakeRepoFactory struct{ store *fakeStore }

func (f *fakeRepoFactory) NewUserRepository() repository.UserRepository {
	return &fakeUserRepo{store: f.store}
}

func (f *fakeRepoFactory) NewRefreshTokenRepository() repository.RefreshTokenRepository {
	return &fakeRefreshTokenRepo{store: f.store}
}

func (f *fakeRepoFactory) NewSessionRepository() repository.SessionRepository {
	return &fakeSessionRepo{store: f.store}
}

// fakeIdentityProvider simulates the external identity provider.
type fakeIdentityProvider struct {
	mu          sync.Mutex
	validCode   string
	users       map[string]*service.IdentityUser // keyed by phone
	tokenUsers  map[string]*service.IdentityUser // keyed by provider token
	sendCount   int
	resendCount int
	sendErr     error
}

func newFakeIdentityProvider() *fakeIdentityProvider {
	return &fakeIdentityProvider{
		validCode:  "123456",
		users:      make(map[string]*service.IdentityUser),
		tokenUsers: make(map[string]*service.IdentityUser),
	}
}

func (p *fakeIdentityProvider) SendPhoneOTP(_ context.Context, phone string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendCount++

	return p.sendErr
}

func (p *fakeIdentityProvider) ResendPhoneOTP(_ context.Context, phone string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resendCount++

	return p.sendErr
}

func (p *fakeIdentityProvider) VerifyPhoneOTP(_ context.Context, phone, code string) (*service.IdentityUser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if code != p.validCode {
		return nil, errors.Wrap(service.ErrOTPVerificationFailed, "wrong code")
	}

	if user, ok := p.users[phone]; ok {
		return user, nil
	}

	user := &service.IdentityUser{ID: "idp-" + phone, Phone: phone}
	p.users[phone] = user

	return user, nil
}

func (p *fakeIdentityProvider) UserFromToken(_ context.Context, providerToken string) (*service.IdentityUser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	user, ok := p.tokenUsers[providerToken]
	if !ok {
		return nil, errors.Wrap(service.ErrIdentityTokenInvalid, "unknown token")
	}

	return user, nil
}

func (p *fakeIdentityProvider) GoogleAuthURL(redirectTo string) string {
	return "https://id.example.com/authorize?provider=google&redirect_to=" + redirectTo
}

func (p *fakeIdentityProvider) sends() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.sendCount
}

// fakeEventPublisher records published events.
type fakeEventPublisher struct {
	mu     sync.Mutex
	events []*service.AuthEvent
}

func (p *fakeEventPublisher) PublishAuthEvent(_ context.Context, event *service.AuthEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)

	return nil
}

func (p *fakeEventPublisher) Close() error { return nil }

func (p *fakeEventPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}

	return types
}

// --- Test fixture ---

type authFixture struct {
	svc      usecase.AuthUsecase
	store    *fakeStore
	identity *fakeIdentityProvider
	events   *fakeEventPublisher
	tokens   service.TokenService
	registry service.TokenRegistry
	cache    service.CacheService
	redis    *miniredis.Miniredis
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.DiscardHandler)
	cacheSvc := cache.NewWithClient(client, true, logger)

	cfg := &config.Config{}
	cfg.SecretKey.Access = "test_access_secret_key_very_long_for_testing"
	cfg.Auth = &config.AuthConfig{
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 30 * 24 * time.Hour,
		SessionTTL:      7 * 24 * time.Hour,
	}
	cfg.OTP = &config.OTPConfig{
		MaxSends:       3,
		Window:         15 * time.Minute,
		ResendCooldown: time.Minute,
	}

	tokenSvc, err := infraauth.NewJWTService(cfg)
	require.NoError(t, err)
	registry := infraauth.NewTokenRegistry(cacheSvc, tokenSvc)

	store := newFakeStore()
	identity := newFakeIdentityProvider()
	events := &fakeEventPublisher{}

	svc := NewAuthService(AuthServiceParams{
		TxManager:        &fakeTxManager{store: store},
		UserRepo:         &fakeUserRepo{store: store},
		RefreshTokenRepo: &fakeRefreshTokenRepo{store: store},
		SessionRepo:      &fakeSessionRepo{store: store},
		Identity:         identity,
		TokenService:     tokenSvc,
		TokenRegistry:    registry,
		Cache:            cacheSvc,
		Events:           events,
		Config:           cfg,
		Logger:           logger,
	})

	return &authFixture{
		svc:      svc,
		store:    store,
		identity: identity,
		events:   events,
		tokens:   tokenSvc,
		registry: registry,
		cache:    cacheSvc,
		redis:    mr,
	}
}

// login runs the full phone OTP flow and returns the issued pair.
func (f *authFixture) login(t *testing.T, phone string) *usecase.AuthOutput {
	t.Helper()

	output, err := f.svc.VerifyOTP(context.Background(), usecase.VerifyOTPInput{
		Phone:     phone,
		Code:      f.identity.validCode,
		IPAddress: "203.0.113.7",
		UserAgent: "test-agent",
	})
	require.NoError(t, err)

	return output
}

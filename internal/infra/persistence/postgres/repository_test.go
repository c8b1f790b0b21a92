package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"authsvc/internal/domain/entity"
	"authsvc/internal/domain/repository"
	"authsvc/internal/infra/persistence/model"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// A named shared-cache database keeps one store across pooled connections
	// while staying isolated per test.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.UserModel{},
		&model.UserRoleModel{},
		&model.RefreshTokenModel{},
		&model.SessionModel{},
	))

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		require.NoError(t, err)
		sqlDB.Close()
	})

	return db
}

func newTestUser(t *testing.T, db *gorm.DB, phone string) *entity.User {
	t.Helper()

	user := &entity.User{
		IdentityID: "idp-" + uuid.NewString(),
		Phone:      phone,
		FirstName:  "Mei",
		LastName:   "Lin",
		Status:     entity.UserStatusActive,
		Roles:      entity.Roles{entity.RoleRider},
	}
	require.NoError(t, NewUserRepository(db).Create(context.Background(), user))

	return user
}

func newTestRefreshToken(userID uuid.UUID, hash string, ttl time.Duration) *entity.RefreshToken {
	return &entity.RefreshToken{
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: time.Now().Add(ttl),
	}
}

func TestUserRepository_CreateWithRoles(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := newTestUser(t, db, "+886912345678")
	require.NotEqual(t, uuid.Nil, user.ID)

	found, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.IdentityID, found.IdentityID)
	assert.Equal(t, "+886912345678", found.Phone)
	assert.Equal(t, entity.UserStatusActive, found.Status)
	assert.Equal(t, entity.Roles{entity.RoleRider}, found.Roles)

	byPhone, err := repo.FindByPhone(ctx, "+886912345678")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byPhone.ID)

	byIdentity, err := repo.FindByIdentityID(ctx, user.IdentityID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, byIdentity.ID)
}

func TestUserRepository_DuplicatePhone(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	newTestUser(t, db, "+886911111111")

	dup := &entity.User{
		IdentityID: "idp-other",
		Phone:      "+886911111111",
		Status:     entity.UserStatusActive,
		Roles:      entity.Roles{entity.RoleRider},
	}
	err := repo.Create(ctx, dup)
	assert.ErrorIs(t, err, repository.ErrUserDuplicate)
}

func TestUserRepository_NotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)

	_, err := repo.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	_, err = repo.FindByPhone(context.Background(), "+886900000000")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestUserRepository_AssignRole(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := newTestUser(t, db, "+886922222222")

	require.NoError(t, repo.AssignRole(ctx, user.ID, entity.RoleDriver))
	// Assigning a held role again is a no-op, not an error.
	require.NoError(t, repo.AssignRole(ctx, user.ID, entity.RoleDriver))

	roles, err := repo.ActiveRoles(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, roles, 2)
	assert.True(t, roles.Contains(entity.RoleRider))
	assert.True(t, roles.Contains(entity.RoleDriver))
	assert.Equal(t, entity.RoleDriver, roles.Highest())
}

func TestUserRepository_UpdateLastLogin(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := newTestUser(t, db, "+886933333333")

	at := time.Now().Truncate(time.Second)
	require.NoError(t, repo.UpdateLastLogin(ctx, user.ID, at))

	found, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, found.LastLoginAt)
	assert.WithinDuration(t, at, *found.LastLoginAt, time.Second)

	err = repo.UpdateLastLogin(ctx, uuid.New(), at)
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestUserRepository_UpdateProfile(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := newTestUser(t, db, "+886944444444")

	require.NoError(t, repo.UpdateProfile(ctx, user.ID, "ada@example.com", "Ada", ""))

	found, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", found.Email)
	assert.Equal(t, "Ada", found.FirstName)

	// Blank fields leave existing columns untouched.
	require.NoError(t, repo.UpdateProfile(ctx, user.ID, "", "Grace", ""))
	found, err = repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", found.Email)
	assert.Equal(t, "Grace", found.FirstName)

	err = repo.UpdateProfile(ctx, uuid.New(), "x@example.com", "", "")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestRefreshTokenRepository_CreateAndFind(t *testing.T) {
	db := newTestDB(t)
	repo := NewRefreshTokenRepository(db)
	ctx := context.Background()

	user := newTestUser(t, db, "+886944444444")

	token := newTestRefreshToken(user.ID, "hash-aaaa", time.Hour)
	require.NoError(t, repo.Create(ctx, token))
	require.NotEqual(t, uuid.Nil, token.ID)

	found, err := repo.FindByTokenHash(ctx, "hash-aaaa")
	require.NoError(t, err)
	assert.Equal(t, token.ID, found.ID)
	assert.Equal(t, user.ID, found.UserID)
	assert.False(t, found.IsRevoked)
	assert.True(t, found.Active(time.Now()))

	_, err = repo.FindByTokenHash(ctx, "hash-missing")
	assert.ErrorIs(t, err, repository.ErrRefreshTokenNotFound)
}

func TestRefreshTokenRepository_ExpiredToken(t *testing.T) {
	db := newTestDB(t)
	repo := NewRefreshTokenRepository(db)
	ctx := context.Background()

	user := newTestUser(t, db, "+886955555555")

	token := newTestRefreshToken(user.ID, "hash-expired", -time.Minute)
	require.NoError(t, repo.Create(ctx, token))

	_, err := repo.FindByTokenHash(ctx, "hash-expired")
	assert.ErrorIs(t, err, repository.ErrRefreshTokenExpired)
}

func TestRefreshTokenRepository_MarkRotatedSingleUse(t *testing.T) {
	db := newTestDB(t)
	repo := NewRefreshTokenRepository(db)
	ctx := context.Background()

	user := newTestUser(t, db, "+886966666666")

	old := newTestRefreshToken(user.ID, "hash-old", time.Hour)
	require.NoError(t, repo.Create(ctx, old))
	successor := newTestRefreshToken(user.ID, "hash-new", time.Hour)
	require.NoError(t, repo.Create(ctx, successor))

	now := time.Now()
	require.NoError(t, repo.MarkRotated(ctx, old.ID, successor.ID, now))

	// A second rotation of the same token loses the compare-and-set.
	err := repo.MarkRotated(ctx, old.ID, uuid.New(), now)
	assert.ErrorIs(t, err, repository.ErrRefreshTokenRevoked)

	found, err := repo.FindByID(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, found.IsRevoked)
	require.NotNil(t, found.ReplacedBy)
	assert.Equal(t, successor.ID, *found.ReplacedBy)
}

func TestRefreshTokenRepository_RevokeAllByUserID(t *testing.T) {
	db := newTestDB(t)
	repo := NewRefreshTokenRepository(db)
	ctx := context.Background()

	user := newTestUser(t, db, "+886977777777")
	other := newTestUser(t, db, "+886977777778")

	require.NoError(t, repo.Create(ctx, newTestRefreshToken(user.ID, "hash-r1", time.Hour)))
	require.NoError(t, repo.Create(ctx, newTestRefreshToken(user.ID, "hash-r2", time.Hour)))
	require.NoError(t, repo.Create(ctx, newTestRefreshToken(other.ID, "hash-r3", time.Hour)))

	revoked, err := repo.RevokeAllByUserID(ctx, user.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), revoked)

	// Other users' tokens stay live.
	found, err := repo.FindByTokenHash(ctx, "hash-r3")
	require.NoError(t, err)
	assert.False(t, found.IsRevoked)

	// Idempotent: nothing left to revoke.
	revoked, err = repo.RevokeAllByUserID(ctx, user.ID, time.Now())
	require.NoError(t, err)
	assert.Zero(t, revoked)
}

func TestRefreshTokenRepository_FindChain(t *testing.T) {
	db := newTestDB(t)
	repo := NewRefreshTokenRepository(db)
	ctx := context.Background()

	user := newTestUser(t, db, "+886988888888")

	// Build a three-link rotation chain: first -> second -> third.
	first := newTestRefreshToken(user.ID, "hash-c1", time.Hour)
	require.NoError(t, repo.Create(ctx, first))
	second := newTestRefreshToken(user.ID, "hash-c2", time.Hour)
	require.NoError(t, repo.Create(ctx, second))
	third := newTestRefreshToken(user.ID, "hash-c3", time.Hour)
	require.NoError(t, repo.Create(ctx, third))

	now := time.Now()
	require.NoError(t, repo.MarkRotated(ctx, first.ID, second.ID, now))
	require.NoError(t, repo.MarkRotated(ctx, second.ID, third.ID, now))

	chain, err := repo.FindChain(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, first.ID, chain[0].ID)
	assert.Equal(t, second.ID, chain[1].ID)
	assert.Equal(t, third.ID, chain[2].ID)
	assert.True(t, chain[0].IsRevoked)
	assert.True(t, chain[1].IsRevoked)
	assert.False(t, chain[2].IsRevoked)

	_, err = repo.FindChain(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrRefreshTokenNotFound)
}

func TestRefreshTokenRepository_DeleteExpired(t *testing.T) {
	db := newTestDB(t)
	repo := NewRefreshTokenRepository(db)
	ctx := context.Background()

	user := newTestUser(t, db, "+886999999999")

	require.NoError(t, repo.Create(ctx, newTestRefreshToken(user.ID, "hash-live", time.Hour)))
	require.NoError(t, repo.Create(ctx, newTestRefreshToken(user.ID, "hash-dead1", -time.Hour)))
	require.NoError(t, repo.Create(ctx, newTestRefreshToken(user.ID, "hash-dead2", -time.Minute)))

	deleted, err := repo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = repo.FindByTokenHash(ctx, "hash-live")
	assert.NoError(t, err)
}

func TestSessionRepository_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	user := newTestUser(t, db, "+886910101010")

	session := &entity.Session{
		UserID:    user.ID,
		TokenHash: "hash-s1",
		IPAddress: "203.0.113.7",
		UserAgent: "test-agent",
		ExpiresAt: time.Now().Add(time.Hour),
		IsActive:  true,
	}
	require.NoError(t, repo.Create(ctx, session))
	require.NotEqual(t, uuid.Nil, session.ID)

	expired := &entity.Session{
		UserID:    user.ID,
		TokenHash: "hash-s2",
		ExpiresAt: time.Now().Add(-time.Hour),
		IsActive:  true,
	}
	require.NoError(t, repo.Create(ctx, expired))

	active, err := repo.FindActiveByUserID(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, session.ID, active[0].ID)
	assert.Equal(t, "203.0.113.7", active[0].IPAddress)

	revoked, err := repo.RevokeAllByUserID(ctx, user.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), revoked)

	active, err = repo.FindActiveByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	deleted, err := repo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestTransactionManager_CommitAndRollback(t *testing.T) {
	db := newTestDB(t)
	tm := NewTransactionManager(db)
	ctx := context.Background()

	// Commit path: user and token land together.
	err := tm.Execute(ctx, func(f repository.RepositoryFactory) error {
		user := &entity.User{
			IdentityID: "idp-tx-commit",
			Phone:      "+886920202020",
			Status:     entity.UserStatusActive,
			Roles:      entity.Roles{entity.RoleRider},
		}
		if err := f.NewUserRepository().Create(ctx, user); err != nil {
			return err
		}

		return f.NewRefreshTokenRepository().Create(ctx, newTestRefreshToken(user.ID, "hash-tx", time.Hour))
	})
	require.NoError(t, err)

	userRepo := NewUserRepository(db)
	_, err = userRepo.FindByIdentityID(ctx, "idp-tx-commit")
	require.NoError(t, err)

	// Rollback path: neither row survives.
	wantErr := errors.New("boom")
	err = tm.Execute(ctx, func(f repository.RepositoryFactory) error {
		user := &entity.User{
			IdentityID: "idp-tx-rollback",
			Phone:      "+886930303030",
			Status:     entity.UserStatusActive,
			Roles:      entity.Roles{entity.RoleRider},
		}
		if err := f.NewUserRepository().Create(ctx, user); err != nil {
			return err
		}

		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	_, err = userRepo.FindByIdentityID(ctx, "idp-tx-rollback")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestRefreshTokenRepository_RevokedSurvivesExpiry(t *testing.T) {
	db := newTestDB(t)
	repo := NewRefreshTokenRepository(db)
	ctx := context.Background()

	user := newTestUser(t, db, "+886931313131")

	old := newTestRefreshToken(user.ID, "hash-replayed", time.Hour)
	require.NoError(t, repo.Create(ctx, old))
	successor := newTestRefreshToken(user.ID, "hash-successor", time.Hour)
	require.NoError(t, repo.Create(ctx, successor))
	require.NoError(t, repo.MarkRotated(ctx, old.ID, successor.ID, time.Now()))

	// Age the revoked record past its natural expiry.
	err := db.Model(&model.RefreshTokenModel{}).
		Where("id = ?", old.ID).
		Update("expires_at", time.Now().Add(-time.Hour)).Error
	require.NoError(t, err)

	// The record still comes back intact so the caller can recognise the
	// replay of a rotated-out token; expiry only disqualifies live tokens.
	found, err := repo.FindByTokenHash(ctx, "hash-replayed")
	require.NoError(t, err)
	assert.True(t, found.IsRevoked)
	require.NotNil(t, found.ReplacedBy)
	assert.Equal(t, successor.ID, *found.ReplacedBy)
}

func TestUserRepository_LinkIdentity(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := newTestUser(t, db, "+886932323232")

	require.NoError(t, repo.LinkIdentity(ctx, user.ID, "idp-relinked"))

	found, err := repo.FindByIdentityID(ctx, "idp-relinked")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	err = repo.LinkIdentity(ctx, uuid.New(), "idp-nobody")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	// Stealing another account's identity hits the unique constraint.
	other := newTestUser(t, db, "+886932323233")
	err = repo.LinkIdentity(ctx, other.ID, "idp-relinked")
	assert.ErrorIs(t, err, repository.ErrUserDuplicate)
}

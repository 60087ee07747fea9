package store

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"ransomhub/pkg/domain"
)

const migrateLockID int64 = 52718833

// GormStore implements Store using GORM. Production runs on Postgres,
// tests run on SQLite.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore opens the Postgres DB and runs auto-migrations under an
// advisory lock so concurrent service starts do not race.
func NewGormStore(dsn string, logger *slog.Logger) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig(logger))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(allModels()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// NewSQLiteStore opens a SQLite database file and migrates it. A single
// connection is used so transactions serialize the way row locks do on Postgres.
func NewSQLiteStore(path string, logger *slog.Logger) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig(logger))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gormConfig(logger *slog.Logger) *gorm.Config {
	if logger == nil {
		logger = slog.Default()
	}
	return &gorm.Config{
		Logger:         slogGorm.New(slogGorm.WithLogger(logger)),
		TranslateError: true,
	}
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser inserts a new user. The unique indexes on username and email
// decide duplicates, so concurrent signups cannot both succeed.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	err := s.db.WithContext(ctx).Create(&model).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return err
	}
	if _, taken, lookupErr := s.GetUserByEmail(ctx, model.Email); lookupErr == nil && taken {
		return ErrDuplicateEmail
	}
	return ErrDuplicateUsername
}

// SaveUser updates a user's mutable profile columns.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	model.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "phone", "password_hash", "role", "is_verified", "is_approved", "is_suspended",
			"public_key", "encrypted_private_key", "private_key_salt", "profile_image_key",
			"identity_doc_key", "updated_at",
		}),
	}).Create(&model).Error
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	return s.getUser(ctx, "id = ?", id)
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error) {
	return s.getUser(ctx, "username = ?", username)
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	return s.getUser(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *GormStore) getUser(ctx context.Context, query string, arg any) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUsersByUsernames returns the users that exist among usernames, in no particular order.
func (s *GormStore) GetUsersByUsernames(ctx context.Context, usernames []string) ([]domain.User, error) {
	if len(usernames) == 0 {
		return []domain.User{}, nil
	}
	var models []UserModel
	if err := s.db.WithContext(ctx).Where("username IN ?", usernames).Find(&models).Error; err != nil {
		return nil, err
	}
	return usersFromModels(models), nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return usersFromModels(models), nil
}

// SetUserSuspended flips the suspension flag.
func (s *GormStore) SetUserSuspended(ctx context.Context, id string, suspended bool) error {
	return s.updateUser(ctx, id, map[string]any{"is_suspended": suspended})
}

// SetUserApproved flips the identity approval flag.
func (s *GormStore) SetUserApproved(ctx context.Context, id string, approved bool) error {
	return s.updateUser(ctx, id, map[string]any{"is_approved": approved})
}

func (s *GormStore) updateUser(ctx context.Context, id string, values map[string]any) error {
	values["updated_at"] = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetUserVerificationCode stores code, replacing any unconsumed one.
func (s *GormStore) SetUserVerificationCode(ctx context.Context, id, code string) error {
	return s.updateUser(ctx, id, map[string]any{"verification_code": code})
}

// SetUserResetCode stores a password reset code, replacing any unconsumed one.
func (s *GormStore) SetUserResetCode(ctx context.Context, id, code string) error {
	return s.updateUser(ctx, id, map[string]any{"reset_code": code})
}

// ConsumeUserResetCode clears a matching reset code. A mismatch leaves it in place.
func (s *GormStore) ConsumeUserResetCode(ctx context.Context, id, code string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model UserModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if err := matchCode(model.ResetCode, code); err != nil {
			return err
		}
		return tx.Model(&UserModel{}).Where("id = ?", id).Updates(map[string]any{
			"reset_code": nil,
			"updated_at": time.Now().UTC(),
		}).Error
	})
}

// ConsumeUserVerificationCode clears a matching code and marks the user
// verified. A mismatch leaves the stored code in place.
func (s *GormStore) ConsumeUserVerificationCode(ctx context.Context, id, code string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model UserModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if err := matchCode(model.VerificationCode, code); err != nil {
			return err
		}
		return tx.Model(&UserModel{}).Where("id = ?", id).Updates(map[string]any{
			"verification_code": nil,
			"is_verified":       true,
			"updated_at":        time.Now().UTC(),
		}).Error
	})
}

func matchCode(stored *string, submitted string) error {
	if stored == nil || *stored == "" {
		return ErrNoPendingCode
	}
	if subtle.ConstantTimeCompare([]byte(*stored), []byte(submitted)) != 1 {
		return ErrInvalidCode
	}
	return nil
}

func userToModel(u domain.User) UserModel {
	var code *string
	if u.VerificationCode != "" {
		value := u.VerificationCode
		code = &value
	}
	role := string(u.Role)
	if role == "" {
		role = string(domain.RoleUser)
	}
	return UserModel{
		ID:                  u.ID,
		Username:            u.Username,
		Email:               strings.ToLower(strings.TrimSpace(u.Email)),
		Name:                u.Name,
		Phone:               u.Phone,
		PasswordHash:        u.PasswordHash,
		Role:                role,
		IsVerified:          u.IsVerified,
		IsApproved:          u.IsApproved,
		IsSuspended:         u.IsSuspended,
		PublicKey:           u.PublicKey,
		EncryptedPrivateKey: u.EncryptedPrivateKey,
		PrivateKeySalt:      u.PrivateKeySalt,
		VerificationCode:    code,
		ProfileImageKey:     u.ProfileImageKey,
		IdentityDocKey:      u.IdentityDocKey,
		LastBlockAt:         u.LastBlockAt,
		BlockActionCount:    u.BlockActionCount,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	u := domain.User{
		ID:                  m.ID,
		Username:            m.Username,
		Email:               m.Email,
		Name:                m.Name,
		Phone:               m.Phone,
		PasswordHash:        m.PasswordHash,
		Role:                domain.UserRole(m.Role),
		IsVerified:          m.IsVerified,
		IsApproved:          m.IsApproved,
		IsSuspended:         m.IsSuspended,
		PublicKey:           m.PublicKey,
		EncryptedPrivateKey: m.EncryptedPrivateKey,
		PrivateKeySalt:      m.PrivateKeySalt,
		ProfileImageKey:     m.ProfileImageKey,
		IdentityDocKey:      m.IdentityDocKey,
		LastBlockAt:         m.LastBlockAt,
		BlockActionCount:    m.BlockActionCount,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
	if m.VerificationCode != nil {
		u.VerificationCode = *m.VerificationCode
	}
	if m.ResetCode != nil {
		u.ResetCode = *m.ResetCode
	}
	return u
}

func usersFromModels(models []UserModel) []domain.User {
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res
}

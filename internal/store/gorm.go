package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatrelay/internal/auth"
	"chatrelay/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormStore 将凭据持久化到 identities 表，调用方负责迁移。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Register(ctx context.Context, username, password string) (Identity, error) {
	name, err := ValidateUsername(username)
	if err != nil {
		return Identity{}, err
	}
	if err := ValidatePassword(password); err != nil {
		return Identity{}, err
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Identity{}).Where("display_name = ?", name).Count(&count).Error; err != nil {
		return Identity{}, fmt.Errorf("count identities: %w", err)
	}
	if count > 0 {
		return Identity{}, ErrDuplicateUsername
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return Identity{}, err
	}
	rec := models.Identity{ID: uuid.NewString(), DisplayName: name, PasswordHash: hash}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Identity{}, ErrDuplicateUsername
		}
		return Identity{}, fmt.Errorf("create identity: %w", err)
	}
	return fromModel(rec), nil
}

func (s *GormStore) Verify(ctx context.Context, username, password string) (Identity, error) {
	var rec models.Identity
	err := s.db.WithContext(ctx).Where("display_name = ?", strings.TrimSpace(username)).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{}, ErrUnknownUsername
		}
		return Identity{}, fmt.Errorf("query identity: %w", err)
	}
	if !auth.VerifyPassword(rec.PasswordHash, password) {
		return Identity{}, ErrWrongPassword
	}
	return fromModel(rec), nil
}

func (s *GormStore) Lookup(ctx context.Context, identityID string) (Identity, error) {
	var rec models.Identity
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", identityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{}, ErrUnknownIdentity
		}
		return Identity{}, fmt.Errorf("lookup identity: %w", err)
	}
	return fromModel(rec), nil
}

func fromModel(rec models.Identity) Identity {
	return Identity{ID: rec.ID, DisplayName: rec.DisplayName, PasswordHash: rec.PasswordHash, CreatedAt: rec.CreatedAt}
}

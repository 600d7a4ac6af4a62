package credstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"librarydesk/pkg/domain"
)

// CredentialModel is the GORM row holding one profile's credential pair.
type CredentialModel struct {
	Profile          string `gorm:"primaryKey"`
	AccessToken      string `gorm:"not null"`
	RefreshToken     string `gorm:"not null"`
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	UpdatedAt        time.Time `gorm:"not null"`
}

// TableName pins the table name independent of GORM naming strategy.
func (CredentialModel) TableName() string { return "librarydesk_credentials" }

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db      *gorm.DB
	profile string
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn, profile string) (*GormStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("credstore: database URL is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return NewGormStoreWithDB(db, profile)
}

// NewGormStoreWithDB migrates and wraps an already opened DB.
func NewGormStoreWithDB(db *gorm.DB, profile string) (*GormStore, error) {
	if err := db.AutoMigrate(&CredentialModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db, profile: profile}, nil
}

// Get returns the stored pair.
func (s *GormStore) Get() (domain.Credentials, bool, error) {
	var model CredentialModel
	if err := s.db.First(&model, "profile = ?", s.profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Credentials{}, false, nil
		}
		return domain.Credentials{}, false, err
	}
	creds := credentialsFromModel(model)
	if !creds.Complete() {
		return domain.Credentials{}, false, nil
	}
	return creds, true, nil
}

// Set upserts the profile's pair.
func (s *GormStore) Set(c domain.Credentials) error {
	if err := validate(c); err != nil {
		return err
	}
	return s.upsert(c).Error
}

// credentialUpdateColumns are overwritten when the profile row already exists.
var credentialUpdateColumns = []string{"access_token", "refresh_token", "access_expires_at", "refresh_expires_at", "updated_at"}

func (s *GormStore) upsert(c domain.Credentials) *gorm.DB {
	model := credentialsToModel(s.profile, c)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "profile"}},
		DoUpdates: clause.AssignmentColumns(credentialUpdateColumns),
	}).Create(&model)
}

// Clear deletes the profile's row.
func (s *GormStore) Clear() error {
	return s.db.Where("profile = ?", s.profile).Delete(&CredentialModel{}).Error
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func credentialsToModel(profile string, c domain.Credentials) CredentialModel {
	return CredentialModel{
		Profile:          profile,
		AccessToken:      c.AccessToken,
		RefreshToken:     c.RefreshToken,
		AccessExpiresAt:  c.AccessExpiresAt.UTC(),
		RefreshExpiresAt: c.RefreshExpiresAt.UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
}

func credentialsFromModel(m CredentialModel) domain.Credentials {
	return domain.Credentials{
		AccessToken:      m.AccessToken,
		RefreshToken:     m.RefreshToken,
		AccessExpiresAt:  m.AccessExpiresAt,
		RefreshExpiresAt: m.RefreshExpiresAt,
	}
}

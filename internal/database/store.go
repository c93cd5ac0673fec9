package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"channel-access-bot/internal/apperr"
	"channel-access-bot/internal/config"
	"channel-access-bot/internal/models"
)

// SettingsStore persists the singleton admin configuration.
type SettingsStore interface {
	InitSettings(ctx context.Context) (*models.Settings, error)
	GetSettings(ctx context.Context) (*models.Settings, error)
	SetChannel(ctx context.Context, channelID int64) error
	SetShortenerDomain(ctx context.Context, domain string) error
	SetShortenerAPIKey(ctx context.Context, apiKey string) error
	SetInviteDuration(ctx context.Context, seconds int64) error
	ResetSettings(ctx context.Context) (bool, error)
}

// UserLedger persists per-user entitlement records.
type UserLedger interface {
	UpsertUser(ctx context.Context, userID int64) (*models.User, bool, error)
	UserExists(ctx context.Context, userID int64) (bool, error)
	MarkGranted(ctx context.Context, userID int64, free bool, at time.Time) error
	CountUsers(ctx context.Context) (int64, error)
	UserIDs(ctx context.Context) ([]int64, error)
}

// Store is a storage backend holding both settings and the ledger.
type Store interface {
	SettingsStore
	UserLedger
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// GormStore implements Store on top of gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close(_ context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InitSettings inserts the default row unless one exists and returns the
// current settings. Called once at startup.
func (s *GormStore) InitSettings(ctx context.Context) (*models.Settings, error) {
	defaults := models.DefaultSettings()
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&defaults).Error
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "init settings")
	}
	return s.GetSettings(ctx)
}

func (s *GormStore) GetSettings(ctx context.Context) (*models.Settings, error) {
	var settings models.Settings
	err := s.db.WithContext(ctx).First(&settings, models.SettingsID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		defaults := models.DefaultSettings()
		return &defaults, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "get settings")
	}
	return &settings, nil
}

func (s *GormStore) SetChannel(ctx context.Context, channelID int64) error {
	return s.updateSettings(ctx, "channel_id", channelID)
}

func (s *GormStore) SetShortenerDomain(ctx context.Context, domain string) error {
	return s.updateSettings(ctx, "shortener_domain", domain)
}

func (s *GormStore) SetShortenerAPIKey(ctx context.Context, apiKey string) error {
	return s.updateSettings(ctx, "shortener_api_key", apiKey)
}

func (s *GormStore) SetInviteDuration(ctx context.Context, seconds int64) error {
	if seconds <= 0 {
		return apperr.NewValidation("invite duration", "must be positive")
	}
	return s.updateSettings(ctx, "invite_duration_seconds", seconds)
}

func (s *GormStore) updateSettings(ctx context.Context, column string, value interface{}) error {
	res := s.db.WithContext(ctx).
		Model(&models.Settings{ID: models.SettingsID}).
		Update(column, value)
	if res.Error != nil {
		return apperr.Wrapf(res.Error, apperr.CodeInternal, "update settings %s", column)
	}
	if res.RowsAffected == 0 {
		// Row vanished behind our back; recreate defaults and apply again.
		if _, err := s.InitSettings(ctx); err != nil {
			return err
		}
		return s.db.WithContext(ctx).
			Model(&models.Settings{ID: models.SettingsID}).
			Update(column, value).Error
	}
	return nil
}

// ResetSettings restores defaults. It reports false when there was nothing
// configured to reset.
func (s *GormStore) ResetSettings(ctx context.Context) (bool, error) {
	var existed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Settings
		err := tx.First(&current, models.SettingsID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			existed = false
		case err != nil:
			return err
		default:
			existed = !isDefault(&current)
		}

		defaults := models.DefaultSettings()
		return tx.Save(&defaults).Error
	})
	if err != nil {
		return false, apperr.Wrap(err, apperr.CodeInternal, "reset settings")
	}
	return existed, nil
}

func isDefault(s *models.Settings) bool {
	return s.ChannelID == nil &&
		s.ShortenerDomain == nil &&
		s.ShortenerAPIKey == nil &&
		s.InviteDurationSeconds == models.DefaultInviteDurationSeconds
}

// UpsertUser returns the ledger record, creating it on first contact. The
// boolean is true when the record was created by this call.
func (s *GormStore) UpsertUser(ctx context.Context, userID int64) (*models.User, bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.User{UserID: userID})
	if res.Error != nil {
		return nil, false, apperr.Wrap(res.Error, apperr.CodeInternal, "create user")
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error; err != nil {
		return nil, false, apperr.Wrap(err, apperr.CodeInternal, "load user")
	}
	return &user, res.RowsAffected == 1, nil
}

func (s *GormStore) UserExists(ctx context.Context, userID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("user_id = ?", userID).Count(&count).Error
	if err != nil {
		return false, apperr.Wrap(err, apperr.CodeInternal, "check user")
	}
	return count > 0, nil
}

// MarkGranted records a delivered grant in one update. The free-link flag is
// only ever set, never cleared.
func (s *GormStore) MarkGranted(ctx context.Context, userID int64, free bool, at time.Time) error {
	updates := map[string]interface{}{
		"last_link_at": at,
	}
	if free {
		updates["has_received_free_link"] = true
	}

	res := s.db.WithContext(ctx).Model(&models.User{}).Where("user_id = ?", userID).Updates(updates)
	if res.Error != nil {
		return apperr.Wrap(res.Error, apperr.CodeInternal, "mark grant")
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.CodeNotFound, fmt.Sprintf("user %d not found", userID))
	}
	return nil
}

func (s *GormStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return 0, apperr.Wrap(err, apperr.CodeInternal, "count users")
	}
	return count, nil
}

func (s *GormStore) UserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Order("user_id").Pluck("user_id", &ids).Error; err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "list users")
	}
	return ids, nil
}

var (
	_ Store = (*GormStore)(nil)
	_ Store = (*MongoStore)(nil)
)

// Open connects the backend named by the DATABASE_URL scheme.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	driver, err := cfg.StorageDriver()
	if err != nil {
		return nil, err
	}
	switch driver {
	case config.DriverMongo:
		return ConnectMongo(ctx, cfg)
	default:
		db, err := ConnectPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewGormStore(db), nil
	}
}

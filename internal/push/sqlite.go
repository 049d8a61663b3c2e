package push

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// subscriptionRecord is the push_subscriptions row.
type subscriptionRecord struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	Endpoint  string    `gorm:"type:text;not null;uniqueIndex"`
	P256DH    string    `gorm:"column:p256dh;type:text;not null"`
	Auth      string    `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (subscriptionRecord) TableName() string { return "push_subscriptions" }

func (r *subscriptionRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// SQLStore keeps subscriptions in a SQLite database so they survive restarts.
type SQLStore struct {
	db *gorm.DB
}

var _ Store = (*SQLStore)(nil)

// OpenSQLite opens (or creates) the database at path and migrates it.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&subscriptionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) Save(ctx context.Context, sub Subscription) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("endpoint = ?", sub.Endpoint).Delete(&subscriptionRecord{}).Error; err != nil {
			return err
		}
		return tx.Create(&subscriptionRecord{
			Endpoint: sub.Endpoint,
			P256DH:   sub.Keys.P256DH,
			Auth:     sub.Keys.Auth,
		}).Error
	})
}

func (s *SQLStore) Delete(ctx context.Context, endpoint string) (bool, error) {
	res := s.db.WithContext(ctx).Where("endpoint = ?", endpoint).Delete(&subscriptionRecord{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *SQLStore) List(ctx context.Context) ([]Subscription, error) {
	var records []subscriptionRecord
	if err := s.db.WithContext(ctx).Order("endpoint").Find(&records).Error; err != nil {
		return nil, err
	}

	out := make([]Subscription, 0, len(records))
	for _, r := range records {
		var sub Subscription
		sub.Endpoint = r.Endpoint
		sub.Keys.P256DH = r.P256DH
		sub.Keys.Auth = r.Auth
		out = append(out, sub)
	}
	return out, nil
}

func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&subscriptionRecord{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

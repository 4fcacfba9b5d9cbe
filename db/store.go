package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ip-tracker/models"
)

// ErrStoreUnavailable wraps every failure coming back from the database.
var ErrStoreUnavailable = errors.New("record store unavailable")

// GormStore is the record store for request logs, the blocklist and
// suspicious IP classifications.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(conn *gorm.DB) *GormStore {
	return &GormStore{db: conn}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// IsBlocked reports whether ip is on the blocklist.
func (s *GormStore) IsBlocked(ctx context.Context, ip string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.BlockedIP{}).
		Where("ip_address = ?", ip).
		Count(&n).Error
	if err != nil {
		return false, unavailable("find blocked", err)
	}
	return n > 0, nil
}

// BlockIP adds ip to the blocklist. Adding an existing entry is a no-op.
func (s *GormStore) BlockIP(ctx context.Context, ip string) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.BlockedIP{IPAddress: ip}).Error
	if err != nil {
		return unavailable("block ip", err)
	}
	return nil
}

// UnblockIP removes ip from the blocklist and reports whether it was present.
func (s *GormStore) UnblockIP(ctx context.Context, ip string) (bool, error) {
	res := s.db.WithContext(ctx).Where("ip_address = ?", ip).Delete(&models.BlockedIP{})
	if res.Error != nil {
		return false, unavailable("unblock ip", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) CreateLog(ctx context.Context, entry *models.RequestLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return unavailable("create log", err)
	}
	return nil
}

type ipCount struct {
	IPAddress string
	Total     int64
}

// CountByIP groups logs newer than since by IP and returns the IPs whose
// count is strictly greater than above. A non-empty paths restricts the
// count to those exact paths.
func (s *GormStore) CountByIP(ctx context.Context, since time.Time, paths []string, above int64) (map[string]int64, error) {
	query := s.db.WithContext(ctx).
		Model(&models.RequestLog{}).
		Select("ip_address, COUNT(*) AS total").
		Where("timestamp >= ?", since)
	if len(paths) > 0 {
		query = query.Where("path IN ?", paths)
	}

	var rows []ipCount
	err := query.Group("ip_address").Having("COUNT(*) > ?", above).Scan(&rows).Error
	if err != nil {
		return nil, unavailable("count by ip", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.IPAddress] = row.Total
	}
	return counts, nil
}

// UpsertClassification creates the classification for ip or applies the new
// detection to the existing row, in a single transaction. created is true when
// a new row was inserted.
func (s *GormStore) UpsertClassification(ctx context.Context, ip string, reason models.Reason, count int64, now time.Time) (row models.SuspiciousIP, created bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		findErr := tx.Where("ip_address = ?", ip).First(&row).Error
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			row = models.NewSuspiciousIP(ip, reason, count, now)
			created = true
			return tx.Create(&row).Error
		}
		if findErr != nil {
			return findErr
		}

		row.Flag(reason, count, now)
		return tx.Model(&row).
			Select("reason", "request_count", "is_active", "updated_at").
			Updates(&row).Error
	})
	if err != nil {
		return models.SuspiciousIP{}, false, unavailable("upsert classification", err)
	}
	return row, created, nil
}

// DeactivateStale marks active classifications last updated before threshold
// as inactive and returns how many rows changed.
func (s *GormStore) DeactivateStale(ctx context.Context, threshold, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.SuspiciousIP{}).
		Where("is_active = ? AND updated_at < ?", true, threshold).
		Updates(map[string]interface{}{"is_active": false, "updated_at": now})
	if res.Error != nil {
		return 0, unavailable("deactivate stale", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) DeleteLogsOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("timestamp < ?", threshold).
		Delete(&models.RequestLog{})
	if res.Error != nil {
		return 0, unavailable("delete logs", res.Error)
	}
	return res.RowsAffected, nil
}

// ListClassifications returns classifications newest first.
func (s *GormStore) ListClassifications(ctx context.Context, activeOnly bool) ([]models.SuspiciousIP, error) {
	query := s.db.WithContext(ctx).Order("flagged_at DESC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var rows []models.SuspiciousIP
	if err := query.Find(&rows).Error; err != nil {
		return nil, unavailable("list classifications", err)
	}
	return rows, nil
}

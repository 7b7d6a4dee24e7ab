package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps counters in the rate_limit_counters table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store over db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Admit implements Store. The current bucket row is created if missing and
// then bumped with UPDATE ... WHERE count < max-others, so two concurrent
// callers cannot both take the last slot.
func (s *GormStore) Admit(ctx context.Context, key CounterKey, buckets []int64, max int, _ time.Duration) (bool, []int, error) {
	counts := make([]int, len(buckets))
	admitted := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.RateLimitCounter{
			Identifier:     key.Identifier,
			IdentifierType: key.IdentifierType,
			Endpoint:       key.Endpoint,
			WindowStartMs:  buckets[0],
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("ratelimit: ensure bucket: %w", err)
		}

		q := tx.Where("identifier = ? AND identifier_type = ? AND endpoint = ? AND window_start_ms IN ?",
			key.Identifier, key.IdentifierType, key.Endpoint, buckets)
		if tx.Dialector.Name() != "sqlite" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var rows []models.RateLimitCounter
		if err := q.Find(&rows).Error; err != nil {
			return fmt.Errorf("ratelimit: read buckets: %w", err)
		}
		index := make(map[int64]int, len(buckets))
		for i, b := range buckets {
			index[b] = i
		}
		others := 0
		for _, r := range rows {
			i := index[r.WindowStartMs]
			counts[i] = r.Count
			if i != 0 {
				others += r.Count
			}
		}

		res := tx.Model(&models.RateLimitCounter{}).
			Where("identifier = ? AND identifier_type = ? AND endpoint = ? AND window_start_ms = ? AND count < ?",
				key.Identifier, key.IdentifierType, key.Endpoint, buckets[0], max-others).
			UpdateColumn("count", gorm.Expr("count + 1"))
		if res.Error != nil {
			return fmt.Errorf("ratelimit: increment: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			admitted = true
			counts[0]++
		}
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return admitted, counts, nil
}

// DeleteBefore removes buckets that started before cutoff.
func (s *GormStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("window_start_ms < ?", cutoff.UnixMilli()).Delete(&models.RateLimitCounter{})
	if res.Error != nil {
		return 0, fmt.Errorf("ratelimit: delete old buckets: %w", res.Error)
	}
	return res.RowsAffected, nil
}

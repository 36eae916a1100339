package utils

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/districtwars/models"
)

// SweepExpiredCooldowns clears cooldown deadlines that passed before now and
// returns the number of players released.
func SweepExpiredCooldowns(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&models.Player{}).
		Where("cooldown_until IS NOT NULL AND cooldown_until <= ?", now).
		Update("cooldown_until", nil)
	return res.RowsAffected, res.Error
}

// StartCooldownSweeper periodically releases expired cooldowns until ctx is
// cancelled. Reads already treat an expired deadline as idle; the sweep keeps
// stored rows tidy.
func StartCooldownSweeper(ctx context.Context, db *gorm.DB, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				n, err := SweepExpiredCooldowns(ctx, db, now)
				if err != nil {
					L().Warn("cooldown sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					L().Debug("cooldowns released", zap.Int64("players", n))
				}
			}
		}
	}()
}

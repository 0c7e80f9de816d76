package counter

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/QuotaFox/app/models"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/cache"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const actionCountersKey = "usage:counters:actions"

// AddAction increments the pending analytics counter for an action in Redis.
// Fields are keyed action|date so a flush lands on the right day even when it
// runs after midnight.
func AddAction(action string) error {
	ctx := context.Background()
	field := strings.TrimSpace(action) + "|" + time.Now().UTC().Format("2006-01-02")
	return cache.GetClient().HIncrBy(ctx, actionCountersKey, field, 1).Err()
}

// FlushAll drains the pending action counters into the action_stats table.
// Uses RENAME to a temporary key for atomic drain without losing in-flight
// increments.
func FlushAll() error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := actionCountersKey + ":tmp:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := rdb.Do(ctx, "RENAME", actionCountersKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") || err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	db := database.GetDB()
	for field, v := range data {
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		action, date, ok := strings.Cut(field, "|")
		if !ok || action == "" {
			continue
		}

		stat := &models.ActionStat{Action: action, Date: date, Count: inc}
		err := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "action"},
				{Name: "date"},
			},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count": gorm.Expr("count + ?", inc),
			}),
		}).Create(stat).Error
		if err != nil {
			return err
		}
	}
	return nil
}

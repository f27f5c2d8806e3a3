package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StrategyRecord 对应 strategy_configs 一行。
type StrategyRecord struct {
	AccountID       int64
	TriggerMode     string
	IntervalSeconds int
	TickBatchSize   int
	Enabled         bool
	LastTriggerAt   *time.Time
	UpdatedAt       time.Time
}

// SeedStrategy 仅在账户尚无策略时写入（配置文件只提供初始值）。
func (s *Store) SeedStrategy(ctx context.Context, rec StrategyRecord) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR IGNORE INTO strategy_configs
			(account_id, trigger_mode, interval_seconds, tick_batch_size, enabled, last_trigger_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.AccountID, rec.TriggerMode, rec.IntervalSeconds, rec.TickBatchSize,
		boolToInt(rec.Enabled), timeToMillisPtr(rec.LastTriggerAt), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("写入账户 %d 默认策略失败: %w", rec.AccountID, err)
	}
	return nil
}

// UpsertStrategy 更新配置字段，保留已有的 last_trigger_at。
func (s *Store) UpsertStrategy(ctx context.Context, rec StrategyRecord) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO strategy_configs
			(account_id, trigger_mode, interval_seconds, tick_batch_size, enabled, last_trigger_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			trigger_mode=excluded.trigger_mode,
			interval_seconds=excluded.interval_seconds,
			tick_batch_size=excluded.tick_batch_size,
			enabled=excluded.enabled,
			last_trigger_at=COALESCE(strategy_configs.last_trigger_at, excluded.last_trigger_at),
			updated_at=excluded.updated_at`,
		rec.AccountID, rec.TriggerMode, rec.IntervalSeconds, rec.TickBatchSize,
		boolToInt(rec.Enabled), timeToMillisPtr(rec.LastTriggerAt), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("更新账户 %d 策略失败: %w", rec.AccountID, err)
	}
	return nil
}

// SetLastTrigger 记录最近一次触发时间。
func (s *Store) SetLastTrigger(ctx context.Context, accountID int64, at time.Time) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`UPDATE strategy_configs SET last_trigger_at = ? WHERE account_id = ?`,
		at.UnixMilli(), accountID)
	return err
}

// ListStrategies 全部账户策略，按账户 ID 升序。
func (s *Store) ListStrategies(ctx context.Context) ([]StrategyRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT account_id, trigger_mode, interval_seconds, tick_batch_size, enabled, last_trigger_at, updated_at
		FROM strategy_configs ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("查询策略失败: %w", err)
	}
	defer rows.Close()
	var out []StrategyRecord
	for rows.Next() {
		var (
			rec     StrategyRecord
			enabled int
			last    sql.NullInt64
			updated int64
		)
		if err := rows.Scan(&rec.AccountID, &rec.TriggerMode, &rec.IntervalSeconds, &rec.TickBatchSize, &enabled, &last, &updated); err != nil {
			return nil, err
		}
		rec.Enabled = enabled != 0
		if last.Valid {
			t := millisToTime(last.Int64)
			rec.LastTriggerAt = &t
		}
		rec.UpdatedAt = millisToTime(updated)
		out = append(out, rec)
	}
	return out, rows.Err()
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS strategy_configs (
	account_id       INTEGER PRIMARY KEY,
	trigger_mode     TEXT    NOT NULL DEFAULT 'realtime',
	interval_seconds INTEGER NOT NULL DEFAULT 1,
	tick_batch_size  INTEGER NOT NULL DEFAULT 1,
	enabled          INTEGER NOT NULL DEFAULT 1,
	last_trigger_at  INTEGER,
	updated_at       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS decision_logs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id     INTEGER NOT NULL,
	decision_time  INTEGER NOT NULL,
	operation      TEXT    NOT NULL,
	symbol         TEXT,
	prev_portion   TEXT    NOT NULL,
	target_portion TEXT    NOT NULL,
	total_balance  TEXT    NOT NULL,
	executed       INTEGER NOT NULL,
	order_id       TEXT,
	failure        TEXT,
	reason         TEXT
);
CREATE INDEX IF NOT EXISTS idx_decision_logs_account ON decision_logs(account_id, decision_time DESC);
CREATE TABLE IF NOT EXISTS trades (
	id         TEXT PRIMARY KEY,
	account_id INTEGER NOT NULL,
	order_id   TEXT    NOT NULL,
	symbol     TEXT    NOT NULL,
	side       TEXT    NOT NULL,
	quantity   TEXT    NOT NULL,
	price      TEXT    NOT NULL,
	notional   TEXT    NOT NULL,
	trade_time INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account_id, trade_time DESC);
`

// Store SQLite 持久化：策略配置、决策日志与成交记录。
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open 打开（必要时创建）数据库并建表。path 为 ":memory:" 时使用内存库。
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("db_path 不能为空")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("创建数据目录失败: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// 单连接：内存库跨连接不共享，文件库也避免写锁竞争
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("设置 busy_timeout 失败: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("store 未初始化或已关闭")
	}
	return s.db, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func timeToMillisPtr(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func nullIfEmptyString(v string) interface{} {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

package database

import (
	"context"
	"database/sql"
	"fmt"

	"arena/internal/decision"

	"github.com/shopspring/decimal"
)

// RecordOutcome 写入一条决策日志。
func (s *Store) RecordOutcome(ctx context.Context, out decision.Outcome) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO decision_logs
			(account_id, decision_time, operation, symbol, prev_portion, target_portion,
			 total_balance, executed, order_id, failure, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.AccountID, out.Time.UnixMilli(), string(out.Operation), nullIfEmptyString(out.Symbol),
		out.PrevPortion.String(), out.TargetPortion.String(), out.TotalBalance.String(),
		boolToInt(out.Executed), nullIfEmptyString(out.OrderID), nullIfEmptyString(string(out.Failure)),
		out.Reason)
	if err != nil {
		return fmt.Errorf("写入决策日志失败: %w", err)
	}
	return nil
}

// RecordTrade 写入成交记录；重复 ID 忽略。
func (s *Store) RecordTrade(ctx context.Context, tr decision.Trade) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades
			(id, account_id, order_id, symbol, side, quantity, price, notional, trade_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.AccountID, tr.OrderID, tr.Symbol, tr.Side,
		tr.Quantity.String(), tr.Price.String(), tr.Notional.String(), tr.Time.UnixMilli())
	if err != nil {
		return fmt.Errorf("写入成交记录失败: %w", err)
	}
	return nil
}

// ListDecisions 最近的决策，时间倒序。
func (s *Store) ListDecisions(ctx context.Context, accountID int64, limit int) ([]decision.Outcome, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT account_id, decision_time, operation, symbol, prev_portion, target_portion,
		       total_balance, executed, order_id, failure, reason
		FROM decision_logs WHERE account_id = ?
		ORDER BY decision_time DESC, id DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询决策日志失败: %w", err)
	}
	defer rows.Close()
	var out []decision.Outcome
	for rows.Next() {
		var (
			o                     decision.Outcome
			ts                    int64
			op                    string
			symbol, orderID, fail sql.NullString
			prev, target, total   string
			executed              int
			reason                sql.NullString
		)
		if err := rows.Scan(&o.AccountID, &ts, &op, &symbol, &prev, &target, &total, &executed, &orderID, &fail, &reason); err != nil {
			return nil, err
		}
		o.Time = millisToTime(ts)
		o.Operation = decision.Operation(op)
		o.Symbol = symbol.String
		o.PrevPortion = decimal.RequireFromString(prev)
		o.TargetPortion = decimal.RequireFromString(target)
		o.TotalBalance = decimal.RequireFromString(total)
		o.Executed = executed != 0
		o.OrderID = orderID.String
		o.Failure = decision.Failure(fail.String)
		o.Reason = reason.String
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListTrades 最近的成交，时间倒序。
func (s *Store) ListTrades(ctx context.Context, accountID int64, limit int) ([]decision.Trade, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, account_id, order_id, symbol, side, quantity, price, notional, trade_time
		FROM trades WHERE account_id = ? ORDER BY trade_time DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询成交记录失败: %w", err)
	}
	defer rows.Close()
	var out []decision.Trade
	for rows.Next() {
		var (
			tr                   decision.Trade
			qty, price, notional string
			ts                   int64
		)
		if err := rows.Scan(&tr.ID, &tr.AccountID, &tr.OrderID, &tr.Symbol, &tr.Side, &qty, &price, &notional, &ts); err != nil {
			return nil, err
		}
		tr.Quantity = decimal.RequireFromString(qty)
		tr.Price = decimal.RequireFromString(price)
		tr.Notional = decimal.RequireFromString(notional)
		tr.Time = millisToTime(ts)
		out = append(out, tr)
	}
	return out, rows.Err()
}

package writer

import (
	"context"
	"fmt"
)

const createTradesTable = `
CREATE TABLE IF NOT EXISTS stock_trades (
	code        TEXT          NOT NULL,
	trade_date  DATE          NOT NULL,
	trade_time  TEXT          NOT NULL,
	received_at BIGINT        NOT NULL,
	price       BIGINT        NOT NULL,
	change      BIGINT        NOT NULL,
	change_rate NUMERIC(10,2) NOT NULL,
	open        BIGINT        NOT NULL,
	high        BIGINT        NOT NULL,
	low         BIGINT        NOT NULL,
	volume      BIGINT        NOT NULL,
	cum_volume  BIGINT        NOT NULL,
	session_id  UUID          NOT NULL,
	PRIMARY KEY (code, trade_date, cum_volume)
)`

const createTradesIndex = `
CREATE INDEX IF NOT EXISTS stock_trades_received_at_idx ON stock_trades (received_at)`

// EnsureSchema creates the stock_trades table if it does not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range []string{createTradesTable, createTradesIndex} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

package store

import (
	"context"
	"fmt"
)

// schemaStatements creates the ledger tables and the indexes the tick
// engine's range queries rely on. Every statement is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS players (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		balance     BIGINT NOT NULL DEFAULT 0,
		net_worth   BIGINT NOT NULL DEFAULT 0,
		version     BIGINT NOT NULL DEFAULT 1,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS companies (
		id          TEXT PRIMARY KEY,
		owner_id    TEXT NOT NULL REFERENCES players(id),
		name        TEXT NOT NULL,
		balance     BIGINT NOT NULL DEFAULT 0,
		is_public   BOOLEAN NOT NULL DEFAULT false,
		market_cap  BIGINT NOT NULL DEFAULT 0,
		version     BIGINT NOT NULL DEFAULT 1,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id                          TEXT PRIMARY KEY,
		company_id                  TEXT NOT NULL REFERENCES companies(id),
		name                        TEXT NOT NULL,
		price                       BIGINT NOT NULL,
		production_cost_percentage  DOUBLE PRECISION NOT NULL DEFAULT 0,
		stock                       BIGINT,
		total_sold                  BIGINT NOT NULL DEFAULT 0,
		total_revenue               BIGINT NOT NULL DEFAULT 0,
		quality_rating              DOUBLE PRECISION,
		is_active                   BOOLEAN NOT NULL DEFAULT true,
		is_archived                 BOOLEAN NOT NULL DEFAULT false,
		max_per_order               BIGINT,
		version                     BIGINT NOT NULL DEFAULT 1,
		created_at                  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at                  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS stocks (
		id                       TEXT PRIMARY KEY,
		symbol                   TEXT NOT NULL UNIQUE,
		name                     TEXT NOT NULL,
		sector                   TEXT NOT NULL DEFAULT '',
		current_price            BIGINT NOT NULL,
		previous_price           BIGINT NOT NULL,
		fair_value               BIGINT NOT NULL,
		momentum                 DOUBLE PRECISION NOT NULL DEFAULT 0,
		volatility               DOUBLE PRECISION NOT NULL,
		base_volatility          DOUBLE PRECISION NOT NULL,
		liquidity                DOUBLE PRECISION NOT NULL,
		outstanding_shares       BIGINT NOT NULL,
		market_cap               BIGINT NOT NULL,
		last_price_change        TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_volatility_cluster  TIMESTAMPTZ NOT NULL DEFAULT now(),
		version                  BIGINT NOT NULL DEFAULT 1,
		created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS cryptos (
		id                      TEXT PRIMARY KEY,
		symbol                  TEXT NOT NULL UNIQUE,
		name                    TEXT NOT NULL,
		current_price           BIGINT NOT NULL,
		previous_price          BIGINT NOT NULL,
		total_supply            BIGINT NOT NULL,
		circulating_supply      BIGINT NOT NULL,
		market_cap              BIGINT NOT NULL,
		base_volatility         DOUBLE PRECISION NOT NULL,
		volatility              DOUBLE PRECISION NOT NULL,
		trend_drift             DOUBLE PRECISION NOT NULL DEFAULT 0,
		momentum                DOUBLE PRECISION NOT NULL DEFAULT 0,
		liquidity               DOUBLE PRECISION NOT NULL,
		last_price_change       TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_volatility_update  TIMESTAMPTZ NOT NULL DEFAULT now(),
		version                 BIGINT NOT NULL DEFAULT 1,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS price_bars (
		id          TEXT PRIMARY KEY,
		asset_kind  TEXT NOT NULL,
		asset_id    TEXT NOT NULL,
		timestamp   TIMESTAMPTZ NOT NULL,
		open        BIGINT NOT NULL,
		high        BIGINT NOT NULL,
		low         BIGINT NOT NULL,
		close       BIGINT NOT NULL,
		volume      BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS stock_holdings (
		player_id       TEXT NOT NULL REFERENCES players(id),
		stock_id        TEXT NOT NULL REFERENCES stocks(id),
		shares          NUMERIC NOT NULL,
		average_cost    BIGINT NOT NULL DEFAULT 0,
		total_invested  BIGINT NOT NULL DEFAULT 0,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (player_id, stock_id)
	)`,
	`CREATE TABLE IF NOT EXISTS crypto_holdings (
		player_id       TEXT NOT NULL REFERENCES players(id),
		crypto_id       TEXT NOT NULL REFERENCES cryptos(id),
		balance         NUMERIC NOT NULL,
		average_cost    BIGINT NOT NULL DEFAULT 0,
		total_invested  BIGINT NOT NULL DEFAULT 0,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (player_id, crypto_id)
	)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id                     TEXT PRIMARY KEY,
		player_id              TEXT NOT NULL REFERENCES players(id),
		amount                 BIGINT NOT NULL,
		interest_rate          DOUBLE PRECISION NOT NULL,
		remaining_balance      BIGINT NOT NULL,
		accrued_interest       BIGINT NOT NULL DEFAULT 0,
		status                 TEXT NOT NULL,
		last_interest_applied  TIMESTAMPTZ NOT NULL,
		version                BIGINT NOT NULL DEFAULT 1,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS marketplace_sales (
		id              TEXT PRIMARY KEY,
		product_id      TEXT NOT NULL,
		company_id      TEXT NOT NULL,
		quantity        BIGINT NOT NULL,
		purchaser_id    TEXT NOT NULL,
		purchaser_type  TEXT NOT NULL,
		total_price     BIGINT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS ticks (
		id                  TEXT PRIMARY KEY,
		tick_number         BIGINT NOT NULL UNIQUE,
		timestamp           TIMESTAMPTZ NOT NULL,
		bot_purchases       JSONB NOT NULL DEFAULT '[]',
		price_updates       JSONB NOT NULL DEFAULT '[]',
		total_budget_spent  BIGINT NOT NULL DEFAULT 0
	)`,
	"CREATE INDEX IF NOT EXISTS idx_players_net_worth ON players(net_worth DESC);",
	"CREATE INDEX IF NOT EXISTS idx_companies_owner ON companies(owner_id);",
	"CREATE INDEX IF NOT EXISTS idx_products_active_revenue ON products(total_revenue DESC) WHERE is_active AND NOT is_archived;",
	"CREATE INDEX IF NOT EXISTS idx_price_bars_asset_ts ON price_bars(asset_kind, asset_id, timestamp DESC);",
	"CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status);",
	"CREATE INDEX IF NOT EXISTS idx_loans_player ON loans(player_id);",
	"CREATE INDEX IF NOT EXISTS idx_sales_product ON marketplace_sales(product_id);",
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

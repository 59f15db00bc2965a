package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/marketsim/tick-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Money is stored as BIGINT cents; holding quantities as NUMERIC.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("get %s %s: %w", what, id, err)
}

// casMiss classifies a compare-and-swap UPDATE that matched no row.
func (s *PostgresStore) casMiss(ctx context.Context, table, id string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table), id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", table, id, err)
	}
	if !exists {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", table, id, ErrVersionConflict)
}

// --- Players ---

const playerCols = `id, name, balance, net_worth, version, created_at, updated_at`

func scanPlayer(row rowScanner) (model.Player, error) {
	var p model.Player
	err := row.Scan(&p.ID, &p.Name, &p.Balance, &p.NetWorth, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *PostgresStore) CreatePlayer(ctx context.Context, p *model.Player) error {
	p.Version = 1
	err := s.pool.QueryRow(ctx,
		`INSERT INTO players (id, name, balance, net_worth, version)
		 VALUES ($1, $2, $3, $4, 1)
		 RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Balance, p.NetWorth,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create player %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	p, err := scanPlayer(s.pool.QueryRow(ctx,
		`SELECT `+playerCols+` FROM players WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "player", id)
	}
	return &p, nil
}

func (s *PostgresStore) UpdatePlayer(ctx context.Context, p *model.Player) error {
	err := s.pool.QueryRow(ctx,
		`UPDATE players
		 SET name = $3, balance = $4, net_worth = $5,
		     version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2
		 RETURNING version, updated_at`,
		p.ID, p.Version, p.Name, p.Balance, p.NetWorth,
	).Scan(&p.Version, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.casMiss(ctx, "players", p.ID)
	}
	if err != nil {
		return fmt.Errorf("update player %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListPlayers(ctx context.Context, afterID string, limit int) ([]model.Player, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+playerCols+` FROM players WHERE id > $1 ORDER BY id LIMIT $2`,
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()
	return collect(rows, scanPlayer)
}

func (s *PostgresStore) TopPlayersByNetWorth(ctx context.Context, limit int) ([]model.Player, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+playerCols+` FROM players ORDER BY net_worth DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("top players: %w", err)
	}
	defer rows.Close()
	return collect(rows, scanPlayer)
}

// --- Companies ---

const companyCols = `id, owner_id, name, balance, is_public, market_cap, version, created_at, updated_at`

func scanCompany(row rowScanner) (model.Company, error) {
	var c model.Company
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Balance, &c.IsPublic, &c.MarketCap,
		&c.Version, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *PostgresStore) CreateCompany(ctx context.Context, c *model.Company) error {
	c.Version = 1
	err := s.pool.QueryRow(ctx,
		`INSERT INTO companies (id, owner_id, name, balance, is_public, market_cap, version)
		 VALUES ($1, $2, $3, $4, $5, $6, 1)
		 RETURNING created_at, updated_at`,
		c.ID, c.OwnerID, c.Name, c.Balance, c.IsPublic, c.MarketCap,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create company %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	c, err := scanCompany(s.pool.QueryRow(ctx,
		`SELECT `+companyCols+` FROM companies WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "company", id)
	}
	return &c, nil
}

func (s *PostgresStore) UpdateCompany(ctx context.Context, c *model.Company) error {
	err := s.pool.QueryRow(ctx,
		`UPDATE companies
		 SET name = $3, balance = $4, is_public = $5, market_cap = $6,
		     version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2
		 RETURNING version, updated_at`,
		c.ID, c.Version, c.Name, c.Balance, c.IsPublic, c.MarketCap,
	).Scan(&c.Version, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.casMiss(ctx, "companies", c.ID)
	}
	if err != nil {
		return fmt.Errorf("update company %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListCompaniesByOwner(ctx context.Context, ownerID string) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+companyCols+` FROM companies WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list companies for %s: %w", ownerID, err)
	}
	defer rows.Close()
	return collect(rows, scanCompany)
}

// --- Products ---

const productCols = `id, company_id, name, price, production_cost_percentage, stock,
	total_sold, total_revenue, quality_rating, is_active, is_archived, max_per_order,
	version, created_at, updated_at`

func scanProduct(row rowScanner) (model.Product, error) {
	var p model.Product
	err := row.Scan(&p.ID, &p.CompanyID, &p.Name, &p.Price, &p.ProductionCostPercentage, &p.Stock,
		&p.TotalSold, &p.TotalRevenue, &p.QualityRating, &p.IsActive, &p.IsArchived, &p.MaxPerOrder,
		&p.Version, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p *model.Product) error {
	p.Version = 1
	err := s.pool.QueryRow(ctx,
		`INSERT INTO products (id, company_id, name, price, production_cost_percentage, stock,
		                       total_sold, total_revenue, quality_rating, is_active, is_archived,
		                       max_per_order, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)
		 RETURNING created_at, updated_at`,
		p.ID, p.CompanyID, p.Name, p.Price, p.ProductionCostPercentage, p.Stock,
		p.TotalSold, p.TotalRevenue, p.QualityRating, p.IsActive, p.IsArchived, p.MaxPerOrder,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create product %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx,
		`SELECT `+productCols+` FROM products WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "product", id)
	}
	return &p, nil
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, p *model.Product) error {
	err := s.pool.QueryRow(ctx,
		`UPDATE products
		 SET name = $3, price = $4, production_cost_percentage = $5, stock = $6,
		     total_sold = $7, total_revenue = $8, quality_rating = $9,
		     is_active = $10, is_archived = $11, max_per_order = $12,
		     version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2
		 RETURNING version, updated_at`,
		p.ID, p.Version, p.Name, p.Price, p.ProductionCostPercentage, p.Stock,
		p.TotalSold, p.TotalRevenue, p.QualityRating, p.IsActive, p.IsArchived, p.MaxPerOrder,
	).Scan(&p.Version, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.casMiss(ctx, "products", p.ID)
	}
	if err != nil {
		return fmt.Errorf("update product %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListActiveProductsByRevenue(ctx context.Context, maxPrice int64, limit int) ([]model.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+productCols+`
		 FROM products
		 WHERE is_active AND NOT is_archived
		   AND price > 0 AND price <= $1
		   AND (stock IS NULL OR stock > 0)
		 ORDER BY total_revenue DESC, id
		 LIMIT $2`, maxPrice, limit)
	if err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}
	defer rows.Close()
	return collect(rows, scanProduct)
}

// --- Stocks ---

const stockCols = `id, symbol, name, sector, current_price, previous_price, fair_value,
	momentum, volatility, base_volatility, liquidity, outstanding_shares, market_cap,
	last_price_change, last_volatility_cluster, version, created_at, updated_at`

func scanStock(row rowScanner) (model.Stock, error) {
	var st model.Stock
	err := row.Scan(&st.ID, &st.Symbol, &st.Name, &st.Sector, &st.CurrentPrice, &st.PreviousPrice, &st.FairValue,
		&st.Momentum, &st.Volatility, &st.BaseVolatility, &st.Liquidity, &st.OutstandingShares, &st.MarketCap,
		&st.LastPriceChange, &st.LastVolatilityCluster, &st.Version, &st.CreatedAt, &st.UpdatedAt)
	return st, err
}

func (s *PostgresStore) CreateStock(ctx context.Context, st *model.Stock) error {
	st.Version = 1
	err := s.pool.QueryRow(ctx,
		`INSERT INTO stocks (id, symbol, name, sector, current_price, previous_price, fair_value,
		                     momentum, volatility, base_volatility, liquidity, outstanding_shares,
		                     market_cap, last_price_change, last_volatility_cluster, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1)
		 RETURNING created_at, updated_at`,
		st.ID, st.Symbol, st.Name, st.Sector, st.CurrentPrice, st.PreviousPrice, st.FairValue,
		st.Momentum, st.Volatility, st.BaseVolatility, st.Liquidity, st.OutstandingShares,
		st.MarketCap, st.LastPriceChange, st.LastVolatilityCluster,
	).Scan(&st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create stock %s: %w", st.Symbol, err)
	}
	return nil
}

func (s *PostgresStore) GetStock(ctx context.Context, id string) (*model.Stock, error) {
	st, err := scanStock(s.pool.QueryRow(ctx,
		`SELECT `+stockCols+` FROM stocks WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "stock", id)
	}
	return &st, nil
}

func (s *PostgresStore) UpdateStock(ctx context.Context, st *model.Stock) error {
	err := s.pool.QueryRow(ctx,
		`UPDATE stocks
		 SET current_price = $3, previous_price = $4, fair_value = $5, momentum = $6,
		     volatility = $7, base_volatility = $8, liquidity = $9, outstanding_shares = $10,
		     market_cap = $11, last_price_change = $12, last_volatility_cluster = $13,
		     version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2
		 RETURNING version, updated_at`,
		st.ID, st.Version, st.CurrentPrice, st.PreviousPrice, st.FairValue, st.Momentum,
		st.Volatility, st.BaseVolatility, st.Liquidity, st.OutstandingShares,
		st.MarketCap, st.LastPriceChange, st.LastVolatilityCluster,
	).Scan(&st.Version, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.casMiss(ctx, "stocks", st.ID)
	}
	if err != nil {
		return fmt.Errorf("update stock %s: %w", st.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+stockCols+` FROM stocks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list stocks: %w", err)
	}
	defer rows.Close()
	return collect(rows, scanStock)
}

// --- Cryptocurrencies ---

const cryptoCols = `id, symbol, name, current_price, previous_price, total_supply, circulating_supply,
	market_cap, base_volatility, volatility, trend_drift, momentum, liquidity,
	last_price_change, last_volatility_update, version, created_at, updated_at`

func scanCrypto(row rowScanner) (model.Crypto, error) {
	var c model.Crypto
	err := row.Scan(&c.ID, &c.Symbol, &c.Name, &c.CurrentPrice, &c.PreviousPrice, &c.TotalSupply, &c.CirculatingSupply,
		&c.MarketCap, &c.BaseVolatility, &c.Volatility, &c.TrendDrift, &c.Momentum, &c.Liquidity,
		&c.LastPriceChange, &c.LastVolatilityUpdate, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *PostgresStore) CreateCrypto(ctx context.Context, c *model.Crypto) error {
	c.Version = 1
	err := s.pool.QueryRow(ctx,
		`INSERT INTO cryptos (id, symbol, name, current_price, previous_price, total_supply,
		                      circulating_supply, market_cap, base_volatility, volatility,
		                      trend_drift, momentum, liquidity, last_price_change,
		                      last_volatility_update, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1)
		 RETURNING created_at, updated_at`,
		c.ID, c.Symbol, c.Name, c.CurrentPrice, c.PreviousPrice, c.TotalSupply,
		c.CirculatingSupply, c.MarketCap, c.BaseVolatility, c.Volatility,
		c.TrendDrift, c.Momentum, c.Liquidity, c.LastPriceChange, c.LastVolatilityUpdate,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create crypto %s: %w", c.Symbol, err)
	}
	return nil
}

func (s *PostgresStore) GetCrypto(ctx context.Context, id string) (*model.Crypto, error) {
	c, err := scanCrypto(s.pool.QueryRow(ctx,
		`SELECT `+cryptoCols+` FROM cryptos WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "crypto", id)
	}
	return &c, nil
}

func (s *PostgresStore) UpdateCrypto(ctx context.Context, c *model.Crypto) error {
	err := s.pool.QueryRow(ctx,
		`UPDATE cryptos
		 SET current_price = $3, previous_price = $4, total_supply = $5, circulating_supply = $6,
		     market_cap = $7, base_volatility = $8, volatility = $9, trend_drift = $10,
		     momentum = $11, liquidity = $12, last_price_change = $13, last_volatility_update = $14,
		     version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2
		 RETURNING version, updated_at`,
		c.ID, c.Version, c.CurrentPrice, c.PreviousPrice, c.TotalSupply, c.CirculatingSupply,
		c.MarketCap, c.BaseVolatility, c.Volatility, c.TrendDrift,
		c.Momentum, c.Liquidity, c.LastPriceChange, c.LastVolatilityUpdate,
	).Scan(&c.Version, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.casMiss(ctx, "cryptos", c.ID)
	}
	if err != nil {
		return fmt.Errorf("update crypto %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListCryptos(ctx context.Context) ([]model.Crypto, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+cryptoCols+` FROM cryptos ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list cryptos: %w", err)
	}
	defer rows.Close()
	return collect(rows, scanCrypto)
}

// --- Price history ---

func (s *PostgresStore) InsertPriceBar(ctx context.Context, b *model.PriceBar) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_bars (id, asset_kind, asset_id, timestamp, open, high, low, close, volume)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, string(b.AssetKind), b.AssetID, b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume,
	)
	if err != nil {
		return fmt.Errorf("insert price bar %s: %w", b.AssetID, err)
	}
	return nil
}

func (s *PostgresStore) ListPriceBars(ctx context.Context, kind model.AssetKind, assetID string, limit int) ([]model.PriceBar, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, asset_kind, asset_id, timestamp, open, high, low, close, volume
		 FROM price_bars
		 WHERE asset_kind = $1 AND asset_id = $2
		 ORDER BY timestamp DESC
		 LIMIT $3`, string(kind), assetID, limit)
	if err != nil {
		return nil, fmt.Errorf("list price bars %s: %w", assetID, err)
	}
	defer rows.Close()
	return collect(rows, func(row rowScanner) (model.PriceBar, error) {
		var b model.PriceBar
		var k string
		err := row.Scan(&b.ID, &k, &b.AssetID, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume)
		b.AssetKind = model.AssetKind(k)
		return b, err
	})
}

// --- Holdings ---

func (s *PostgresStore) UpsertStockHolding(ctx context.Context, h *model.StockHolding) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO stock_holdings (player_id, stock_id, shares, average_cost, total_invested, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, now())
		 ON CONFLICT (player_id, stock_id) DO UPDATE
		 SET shares = EXCLUDED.shares, average_cost = EXCLUDED.average_cost,
		     total_invested = EXCLUDED.total_invested, updated_at = now()
		 RETURNING updated_at`,
		h.PlayerID, h.StockID, h.Shares.String(), h.AverageCost, h.TotalInvested,
	).Scan(&h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert stock holding %s/%s: %w", h.PlayerID, h.StockID, err)
	}
	return nil
}

func (s *PostgresStore) ListStockHoldingsByPlayer(ctx context.Context, playerID string) ([]model.StockHolding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT player_id, stock_id, shares::TEXT, average_cost, total_invested, updated_at
		 FROM stock_holdings WHERE player_id = $1 ORDER BY stock_id`, playerID)
	if err != nil {
		return nil, fmt.Errorf("list stock holdings %s: %w", playerID, err)
	}
	defer rows.Close()
	return collect(rows, func(row rowScanner) (model.StockHolding, error) {
		var h model.StockHolding
		var shares string
		if err := row.Scan(&h.PlayerID, &h.StockID, &shares, &h.AverageCost, &h.TotalInvested, &h.UpdatedAt); err != nil {
			return h, err
		}
		var err error
		h.Shares, err = decimal.NewFromString(shares)
		return h, err
	})
}

func (s *PostgresStore) UpsertCryptoHolding(ctx context.Context, h *model.CryptoHolding) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO crypto_holdings (player_id, crypto_id, balance, average_cost, total_invested, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, now())
		 ON CONFLICT (player_id, crypto_id) DO UPDATE
		 SET balance = EXCLUDED.balance, average_cost = EXCLUDED.average_cost,
		     total_invested = EXCLUDED.total_invested, updated_at = now()
		 RETURNING updated_at`,
		h.PlayerID, h.CryptoID, h.Balance.String(), h.AverageCost, h.TotalInvested,
	).Scan(&h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert crypto holding %s/%s: %w", h.PlayerID, h.CryptoID, err)
	}
	return nil
}

func (s *PostgresStore) ListCryptoHoldingsByPlayer(ctx context.Context, playerID string) ([]model.CryptoHolding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT player_id, crypto_id, balance::TEXT, average_cost, total_invested, updated_at
		 FROM crypto_holdings WHERE player_id = $1 ORDER BY crypto_id`, playerID)
	if err != nil {
		return nil, fmt.Errorf("list crypto holdings %s: %w", playerID, err)
	}
	defer rows.Close()
	return collect(rows, func(row rowScanner) (model.CryptoHolding, error) {
		var h model.CryptoHolding
		var bal string
		if err := row.Scan(&h.PlayerID, &h.CryptoID, &bal, &h.AverageCost, &h.TotalInvested, &h.UpdatedAt); err != nil {
			return h, err
		}
		var err error
		h.Balance, err = decimal.NewFromString(bal)
		return h, err
	})
}

// --- Loans ---

const loanCols = `id, player_id, amount, interest_rate, remaining_balance, accrued_interest,
	status, last_interest_applied, version, created_at, updated_at`

func scanLoan(row rowScanner) (model.Loan, error) {
	var l model.Loan
	err := row.Scan(&l.ID, &l.PlayerID, &l.Amount, &l.InterestRate, &l.RemainingBalance, &l.AccruedInterest,
		&l.Status, &l.LastInterestApplied, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (s *PostgresStore) CreateLoan(ctx context.Context, l *model.Loan) error {
	l.Version = 1
	err := s.pool.QueryRow(ctx,
		`INSERT INTO loans (id, player_id, amount, interest_rate, remaining_balance,
		                    accrued_interest, status, last_interest_applied, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		 RETURNING created_at, updated_at`,
		l.ID, l.PlayerID, l.Amount, l.InterestRate, l.RemainingBalance,
		l.AccruedInterest, l.Status, l.LastInterestApplied,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create loan %s: %w", l.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetLoan(ctx context.Context, id string) (*model.Loan, error) {
	l, err := scanLoan(s.pool.QueryRow(ctx,
		`SELECT `+loanCols+` FROM loans WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "loan", id)
	}
	return &l, nil
}

func (s *PostgresStore) UpdateLoan(ctx context.Context, l *model.Loan) error {
	err := s.pool.QueryRow(ctx,
		`UPDATE loans
		 SET remaining_balance = $3, accrued_interest = $4, status = $5,
		     last_interest_applied = $6, interest_rate = $7,
		     version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2
		 RETURNING version, updated_at`,
		l.ID, l.Version, l.RemainingBalance, l.AccruedInterest, l.Status,
		l.LastInterestApplied, l.InterestRate,
	).Scan(&l.Version, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.casMiss(ctx, "loans", l.ID)
	}
	if err != nil {
		return fmt.Errorf("update loan %s: %w", l.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListLoansByStatus(ctx context.Context, status string) ([]model.Loan, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+loanCols+` FROM loans WHERE status = $1 ORDER BY id`, status)
	if err != nil {
		return nil, fmt.Errorf("list %s loans: %w", status, err)
	}
	defer rows.Close()
	return collect(rows, scanLoan)
}

func (s *PostgresStore) ListLoansByPlayer(ctx context.Context, playerID string) ([]model.Loan, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+loanCols+` FROM loans WHERE player_id = $1 ORDER BY id`, playerID)
	if err != nil {
		return nil, fmt.Errorf("list loans for %s: %w", playerID, err)
	}
	defer rows.Close()
	return collect(rows, scanLoan)
}

// --- Marketplace sales ---

func (s *PostgresStore) InsertSale(ctx context.Context, sale *model.MarketplaceSale) error {
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO marketplace_sales (id, product_id, company_id, quantity, purchaser_id,
		                                purchaser_type, total_price, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sale.ID, sale.ProductID, sale.CompanyID, sale.Quantity, sale.PurchaserID,
		sale.PurchaserType, sale.TotalPrice, sale.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sale %s: %w", sale.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListSalesByProduct(ctx context.Context, productID string) ([]model.MarketplaceSale, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, company_id, quantity, purchaser_id, purchaser_type, total_price, created_at
		 FROM marketplace_sales WHERE product_id = $1 ORDER BY created_at`, productID)
	if err != nil {
		return nil, fmt.Errorf("list sales %s: %w", productID, err)
	}
	defer rows.Close()
	return collect(rows, func(row rowScanner) (model.MarketplaceSale, error) {
		var m model.MarketplaceSale
		err := row.Scan(&m.ID, &m.ProductID, &m.CompanyID, &m.Quantity, &m.PurchaserID,
			&m.PurchaserType, &m.TotalPrice, &m.CreatedAt)
		return m, err
	})
}

// --- Tick history ---

const tickCols = `id, tick_number, timestamp, bot_purchases, price_updates, total_budget_spent`

func scanTick(row rowScanner) (model.TickRecord, error) {
	var t model.TickRecord
	var purchases, updates []byte
	if err := row.Scan(&t.ID, &t.TickNumber, &t.Timestamp, &purchases, &updates, &t.TotalBudgetSpent); err != nil {
		return t, err
	}
	if err := json.Unmarshal(purchases, &t.BotPurchases); err != nil {
		return t, fmt.Errorf("decode bot purchases: %w", err)
	}
	if err := json.Unmarshal(updates, &t.PriceUpdates); err != nil {
		return t, fmt.Errorf("decode price updates: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) InsertTick(ctx context.Context, t *model.TickRecord) error {
	purchases, err := json.Marshal(nonNil(t.BotPurchases))
	if err != nil {
		return fmt.Errorf("encode bot purchases: %w", err)
	}
	updates, err := json.Marshal(nonNil(t.PriceUpdates))
	if err != nil {
		return fmt.Errorf("encode price updates: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO ticks (id, tick_number, timestamp, bot_purchases, price_updates, total_budget_spent)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.TickNumber, t.Timestamp, purchases, updates, t.TotalBudgetSpent,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("tick %d: %w", t.TickNumber, ErrDuplicateTick)
	}
	if err != nil {
		return fmt.Errorf("insert tick %d: %w", t.TickNumber, err)
	}
	return nil
}

func (s *PostgresStore) LatestTick(ctx context.Context) (*model.TickRecord, error) {
	t, err := scanTick(s.pool.QueryRow(ctx,
		`SELECT `+tickCols+` FROM ticks ORDER BY tick_number DESC LIMIT 1`))
	if err != nil {
		return nil, notFound(err, "tick", "latest")
	}
	return &t, nil
}

func (s *PostgresStore) ListTicks(ctx context.Context, limit int) ([]model.TickRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tickCols+` FROM ticks ORDER BY tick_number DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list ticks: %w", err)
	}
	defer rows.Close()
	return collect(rows, scanTick)
}

// --- Locker ---

// TryLock takes a session-level advisory lock on a dedicated connection.
// The lock lives until unlock is called or the connection drops, so ttl
// is not used.
func (s *PostgresStore) TryLock(ctx context.Context, name string, _ time.Duration) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock conn: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock %s: %w", name, err)
	}
	if !ok {
		conn.Release()
		return nil, ErrLockHeld
	}

	return func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, name)
		conn.Release()
	}, nil
}

// --- helpers ---

func collect[T any](rows pgx.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Package model defines the core domain types shared across the tick engine.
// Money is int64 minor units (cents). Share and coin counts use
// shopspring/decimal because holdings may be fractional.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxMoney is the largest magnitude any stored amount may reach (2^53-1).
// Values beyond it cannot round-trip through a JSON number exactly.
const MaxMoney int64 = 1<<53 - 1

// BotPurchaser is the purchaser id recorded on sales made by simulated buyers.
const BotPurchaser = "bot"

// Purchaser types for MarketplaceSale.
const (
	PurchaserPlayer = "player"
	PurchaserBot    = "bot"
)

// Loan statuses.
const (
	LoanActive    = "active"
	LoanPaid      = "paid"
	LoanDefaulted = "defaulted"
)

// AssetKind distinguishes stocks from cryptocurrencies in price bars and
// tick price updates.
type AssetKind string

const (
	AssetStock  AssetKind = "stock"
	AssetCrypto AssetKind = "crypto"
)

// Player is a participant in the simulation. NetWorth is a cache derived
// from holdings each tick; it is never the source of truth.
type Player struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Balance   int64     `json:"balance" db:"balance"`
	NetWorth  int64     `json:"net_worth" db:"net_worth"`
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Company is owned by exactly one player. Balance is its only treasury.
type Company struct {
	ID        string    `json:"id" db:"id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Name      string    `json:"name" db:"name"`
	Balance   int64     `json:"balance" db:"balance"`
	IsPublic  bool      `json:"is_public" db:"is_public"`
	MarketCap int64     `json:"market_cap" db:"market_cap"` // only meaningful when public
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Product is sold by a company on the marketplace.
type Product struct {
	ID                       string    `json:"id" db:"id"`
	CompanyID                string    `json:"company_id" db:"company_id"`
	Name                     string    `json:"name" db:"name"`
	Price                    int64     `json:"price" db:"price"`
	ProductionCostPercentage float64   `json:"production_cost_percentage" db:"production_cost_percentage"`
	Stock                    *int64    `json:"stock,omitempty" db:"stock"` // nil = unlimited
	TotalSold                int64     `json:"total_sold" db:"total_sold"`
	TotalRevenue             int64     `json:"total_revenue" db:"total_revenue"`
	QualityRating            *float64  `json:"quality_rating,omitempty" db:"quality_rating"`
	IsActive                 bool      `json:"is_active" db:"is_active"`
	IsArchived               bool      `json:"is_archived" db:"is_archived"`
	MaxPerOrder              *int64    `json:"max_per_order,omitempty" db:"max_per_order"`
	Version                  int64     `json:"version" db:"version"`
	CreatedAt                time.Time `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time `json:"updated_at" db:"updated_at"`
}

// Stock is a simulated listed equity priced against a fair value.
type Stock struct {
	ID                    string    `json:"id" db:"id"`
	Symbol                string    `json:"symbol" db:"symbol"`
	Name                  string    `json:"name" db:"name"`
	Sector                string    `json:"sector" db:"sector"`
	CurrentPrice          int64     `json:"current_price" db:"current_price"`
	PreviousPrice         int64     `json:"previous_price" db:"previous_price"`
	FairValue             int64     `json:"fair_value" db:"fair_value"`
	Momentum              float64   `json:"momentum" db:"momentum"`
	Volatility            float64   `json:"volatility" db:"volatility"`
	BaseVolatility        float64   `json:"base_volatility" db:"base_volatility"`
	Liquidity             float64   `json:"liquidity" db:"liquidity"`
	OutstandingShares     int64     `json:"outstanding_shares" db:"outstanding_shares"`
	MarketCap             int64     `json:"market_cap" db:"market_cap"`
	LastPriceChange       time.Time `json:"last_price_change" db:"last_price_change"`
	LastVolatilityCluster time.Time `json:"last_volatility_cluster" db:"last_volatility_cluster"`
	Version               int64     `json:"version" db:"version"`
	CreatedAt             time.Time `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time `json:"updated_at" db:"updated_at"`
}

// Crypto is a simulated cryptocurrency. It has no fair value, only drift.
type Crypto struct {
	ID                   string    `json:"id" db:"id"`
	Symbol               string    `json:"symbol" db:"symbol"`
	Name                 string    `json:"name" db:"name"`
	CurrentPrice         int64     `json:"current_price" db:"current_price"`
	PreviousPrice        int64     `json:"previous_price" db:"previous_price"`
	TotalSupply          int64     `json:"total_supply" db:"total_supply"`
	CirculatingSupply    int64     `json:"circulating_supply" db:"circulating_supply"`
	MarketCap            int64     `json:"market_cap" db:"market_cap"`
	BaseVolatility       float64   `json:"base_volatility" db:"base_volatility"`
	Volatility           float64   `json:"volatility" db:"volatility"`
	TrendDrift           float64   `json:"trend_drift" db:"trend_drift"`
	Momentum             float64   `json:"momentum" db:"momentum"`
	Liquidity            float64   `json:"liquidity" db:"liquidity"`
	LastPriceChange      time.Time `json:"last_price_change" db:"last_price_change"`
	LastVolatilityUpdate time.Time `json:"last_volatility_update" db:"last_volatility_update"`
	Version              int64     `json:"version" db:"version"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// PriceBar is one OHLCV bar of an asset's price history, appended per tick.
type PriceBar struct {
	ID        string    `json:"id" db:"id"`
	AssetKind AssetKind `json:"asset_kind" db:"asset_kind"`
	AssetID   string    `json:"asset_id" db:"asset_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Open      int64     `json:"open" db:"open"`
	High      int64     `json:"high" db:"high"`
	Low       int64     `json:"low" db:"low"`
	Close     int64     `json:"close" db:"close"`
	Volume    int64     `json:"volume" db:"volume"`
}

// StockHolding is a player's position in one stock.
type StockHolding struct {
	PlayerID      string          `json:"player_id" db:"player_id"`
	StockID       string          `json:"stock_id" db:"stock_id"`
	Shares        decimal.Decimal `json:"shares" db:"shares"`
	AverageCost   int64           `json:"average_cost" db:"average_cost"`
	TotalInvested int64           `json:"total_invested" db:"total_invested"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// CryptoHolding is a player's wallet balance in one cryptocurrency.
type CryptoHolding struct {
	PlayerID      string          `json:"player_id" db:"player_id"`
	CryptoID      string          `json:"crypto_id" db:"crypto_id"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	AverageCost   int64           `json:"average_cost" db:"average_cost"`
	TotalInvested int64           `json:"total_invested" db:"total_invested"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Loan is debt owed by a player. InterestRate is a percentage per day.
type Loan struct {
	ID                  string    `json:"id" db:"id"`
	PlayerID            string    `json:"player_id" db:"player_id"`
	Amount              int64     `json:"amount" db:"amount"`
	InterestRate        float64   `json:"interest_rate" db:"interest_rate"`
	RemainingBalance    int64     `json:"remaining_balance" db:"remaining_balance"`
	AccruedInterest     int64     `json:"accrued_interest" db:"accrued_interest"`
	Status              string    `json:"status" db:"status"`
	LastInterestApplied time.Time `json:"last_interest_applied" db:"last_interest_applied"`
	Version             int64     `json:"version" db:"version"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// MarketplaceSale is an append-only record of a product purchase.
type MarketplaceSale struct {
	ID            string    `json:"id" db:"id"`
	ProductID     string    `json:"product_id" db:"product_id"`
	CompanyID     string    `json:"company_id" db:"company_id"`
	Quantity      int64     `json:"quantity" db:"quantity"`
	PurchaserID   string    `json:"purchaser_id" db:"purchaser_id"`
	PurchaserType string    `json:"purchaser_type" db:"purchaser_type"`
	TotalPrice    int64     `json:"total_price" db:"total_price"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// BotPurchase is one simulated purchase recorded in tick history.
type BotPurchase struct {
	ProductID  string `json:"product_id"`
	CompanyID  string `json:"company_id"`
	Quantity   int64  `json:"quantity"`
	TotalPrice int64  `json:"total_price"`
}

// PriceUpdate is the delta applied to one asset during a tick.
type PriceUpdate struct {
	Kind     AssetKind `json:"kind"`
	AssetID  string    `json:"asset_id"`
	Symbol   string    `json:"symbol"`
	OldPrice int64     `json:"old_price"`
	NewPrice int64     `json:"new_price"`
}

// TickRecord is the immutable audit entry written once per committed tick.
type TickRecord struct {
	ID               string        `json:"id" db:"id"`
	TickNumber       int64         `json:"tick_number" db:"tick_number"`
	Timestamp        time.Time     `json:"timestamp" db:"timestamp"`
	BotPurchases     []BotPurchase `json:"bot_purchases" db:"bot_purchases"`
	PriceUpdates     []PriceUpdate `json:"price_updates" db:"price_updates"`
	TotalBudgetSpent int64         `json:"total_budget_spent" db:"total_budget_spent"`
}

// TickSummary is the most recent committed tick, used by clients to compute
// the time until the next tick.
type TickSummary struct {
	TickNumber int64     `json:"tick_number"`
	Timestamp  time.Time `json:"timestamp"`
}

// TickResult is returned by every tick trigger.
type TickResult struct {
	TickNumber    int64  `json:"tick_number"`
	TickID        string `json:"tick_id"`
	BotPurchases  int    `json:"bot_purchases"`
	StockUpdates  int    `json:"stock_updates"`
	CryptoUpdates int    `json:"crypto_updates"`
}

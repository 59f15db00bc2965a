// Package store defines the ledger persistence interface consumed by the
// tick engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache and run lock), and in-memory (for testing).
//
// The contract mirrors a document store: point reads, inserts, indexed
// ordered range queries with a take-N limit, and single-document updates.
// There are no multi-document transactions. Every Update* is a
// compare-and-swap on the document's Version: it succeeds only when the
// stored version equals the caller's, then bumps Version and UpdatedAt.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/marketsim/tick-engine/internal/model"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrVersionConflict is returned when a compare-and-swap update lost a
	// race with another writer. Callers re-read and retry.
	ErrVersionConflict = errors.New("store: version conflict")

	// ErrDuplicateTick is returned when a tick record with the same tick
	// number already exists.
	ErrDuplicateTick = errors.New("store: duplicate tick number")

	// ErrLockHeld is returned by Locker when another process holds the lock.
	ErrLockHeld = errors.New("store: lock held")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Players ---

	CreatePlayer(ctx context.Context, p *model.Player) error
	GetPlayer(ctx context.Context, id string) (*model.Player, error)
	UpdatePlayer(ctx context.Context, p *model.Player) error

	// ListPlayers pages through players ordered by id. Pass the last id of
	// the previous page as afterID ("" for the first page).
	ListPlayers(ctx context.Context, afterID string, limit int) ([]model.Player, error)

	// TopPlayersByNetWorth reads the net worth index, highest first.
	TopPlayersByNetWorth(ctx context.Context, limit int) ([]model.Player, error)

	// --- Companies ---

	CreateCompany(ctx context.Context, c *model.Company) error
	GetCompany(ctx context.Context, id string) (*model.Company, error)
	UpdateCompany(ctx context.Context, c *model.Company) error
	ListCompaniesByOwner(ctx context.Context, ownerID string) ([]model.Company, error)

	// --- Products ---

	CreateProduct(ctx context.Context, p *model.Product) error
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	UpdateProduct(ctx context.Context, p *model.Product) error

	// ListActiveProductsByRevenue returns active, non-archived products with
	// 0 < price <= maxPrice and stock unlimited or positive, ordered by
	// total revenue descending, at most limit rows.
	ListActiveProductsByRevenue(ctx context.Context, maxPrice int64, limit int) ([]model.Product, error)

	// --- Stocks ---

	CreateStock(ctx context.Context, s *model.Stock) error
	GetStock(ctx context.Context, id string) (*model.Stock, error)
	UpdateStock(ctx context.Context, s *model.Stock) error
	ListStocks(ctx context.Context) ([]model.Stock, error)

	// --- Cryptocurrencies ---

	CreateCrypto(ctx context.Context, c *model.Crypto) error
	GetCrypto(ctx context.Context, id string) (*model.Crypto, error)
	UpdateCrypto(ctx context.Context, c *model.Crypto) error
	ListCryptos(ctx context.Context) ([]model.Crypto, error)

	// --- Price history (append-only) ---

	InsertPriceBar(ctx context.Context, bar *model.PriceBar) error

	// ListPriceBars returns the newest bars of one asset, newest first.
	ListPriceBars(ctx context.Context, kind model.AssetKind, assetID string, limit int) ([]model.PriceBar, error)

	// --- Holdings ---

	UpsertStockHolding(ctx context.Context, h *model.StockHolding) error
	ListStockHoldingsByPlayer(ctx context.Context, playerID string) ([]model.StockHolding, error)
	UpsertCryptoHolding(ctx context.Context, h *model.CryptoHolding) error
	ListCryptoHoldingsByPlayer(ctx context.Context, playerID string) ([]model.CryptoHolding, error)

	// --- Loans ---

	CreateLoan(ctx context.Context, l *model.Loan) error
	GetLoan(ctx context.Context, id string) (*model.Loan, error)
	UpdateLoan(ctx context.Context, l *model.Loan) error
	ListLoansByStatus(ctx context.Context, status string) ([]model.Loan, error)
	ListLoansByPlayer(ctx context.Context, playerID string) ([]model.Loan, error)

	// --- Marketplace sales (append-only) ---

	InsertSale(ctx context.Context, sale *model.MarketplaceSale) error
	ListSalesByProduct(ctx context.Context, productID string) ([]model.MarketplaceSale, error)

	// --- Tick history (append-only) ---

	// InsertTick appends a tick record. Returns ErrDuplicateTick when the
	// tick number is taken.
	InsertTick(ctx context.Context, t *model.TickRecord) error

	// LatestTick returns the record with the highest tick number, or
	// ErrNotFound when no tick has been committed.
	LatestTick(ctx context.Context) (*model.TickRecord, error)

	// ListTicks returns the newest records, highest tick number first.
	ListTicks(ctx context.Context, limit int) ([]model.TickRecord, error)
}

// Locker is implemented by stores that can serialize tick runs across
// processes. The returned function releases the lock.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(), err error)
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marketsim/tick-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	players    map[string]*model.Player
	companies  map[string]*model.Company
	products   map[string]*model.Product
	stocks     map[string]*model.Stock
	cryptos    map[string]*model.Crypto
	loans      map[string]*model.Loan
	stockHold  map[string]*model.StockHolding
	cryptoHold map[string]*model.CryptoHolding
	bars       []model.PriceBar
	sales      []model.MarketplaceSale
	ticks      []model.TickRecord
	locks      map[string]time.Time

	now func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		players:    make(map[string]*model.Player),
		companies:  make(map[string]*model.Company),
		products:   make(map[string]*model.Product),
		stocks:     make(map[string]*model.Stock),
		cryptos:    make(map[string]*model.Crypto),
		loans:      make(map[string]*model.Loan),
		stockHold:  make(map[string]*model.StockHolding),
		cryptoHold: make(map[string]*model.CryptoHolding),
		locks:      make(map[string]time.Time),
		now:        time.Now,
	}
}

// --- Players ---

func (s *MemoryStore) CreatePlayer(_ context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[p.ID]; ok {
		return fmt.Errorf("player %s already exists", p.ID)
	}
	s.stampCreate(&p.Version, &p.CreatedAt, &p.UpdatedAt)
	cp := *p
	s.players[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPlayer(_ context.Context, id string) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[id]
	if !ok {
		return nil, fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) UpdatePlayer(_ context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.players[p.ID]
	if !ok {
		return fmt.Errorf("player %s: %w", p.ID, ErrNotFound)
	}
	if cur.Version != p.Version {
		return fmt.Errorf("player %s: %w", p.ID, ErrVersionConflict)
	}
	s.stampUpdate(&p.Version, &p.UpdatedAt)
	p.CreatedAt = cur.CreatedAt
	cp := *p
	s.players[p.ID] = &cp
	return nil
}

func (s *MemoryStore) ListPlayers(_ context.Context, afterID string, limit int) ([]model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Player, 0, len(s.players))
	for _, p := range s.players {
		if p.ID > afterID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return take(out, limit), nil
}

func (s *MemoryStore) TopPlayersByNetWorth(_ context.Context, limit int) ([]model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NetWorth != out[j].NetWorth {
			return out[i].NetWorth > out[j].NetWorth
		}
		return out[i].ID < out[j].ID
	})
	return take(out, limit), nil
}

// --- Companies ---

func (s *MemoryStore) CreateCompany(_ context.Context, c *model.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.companies[c.ID]; ok {
		return fmt.Errorf("company %s already exists", c.ID)
	}
	s.stampCreate(&c.Version, &c.CreatedAt, &c.UpdatedAt)
	cp := *c
	s.companies[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCompany(_ context.Context, id string) (*model.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.companies[id]
	if !ok {
		return nil, fmt.Errorf("company %s: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) UpdateCompany(_ context.Context, c *model.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.companies[c.ID]
	if !ok {
		return fmt.Errorf("company %s: %w", c.ID, ErrNotFound)
	}
	if cur.Version != c.Version {
		return fmt.Errorf("company %s: %w", c.ID, ErrVersionConflict)
	}
	s.stampUpdate(&c.Version, &c.UpdatedAt)
	c.CreatedAt = cur.CreatedAt
	cp := *c
	s.companies[c.ID] = &cp
	return nil
}

func (s *MemoryStore) ListCompaniesByOwner(_ context.Context, ownerID string) ([]model.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Company
	for _, c := range s.companies {
		if c.OwnerID == ownerID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Products ---

func (s *MemoryStore) CreateProduct(_ context.Context, p *model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[p.ID]; ok {
		return fmt.Errorf("product %s already exists", p.ID)
	}
	s.stampCreate(&p.Version, &p.CreatedAt, &p.UpdatedAt)
	s.products[p.ID] = cloneProduct(p)
	return nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return cloneProduct(p), nil
}

func (s *MemoryStore) UpdateProduct(_ context.Context, p *model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.products[p.ID]
	if !ok {
		return fmt.Errorf("product %s: %w", p.ID, ErrNotFound)
	}
	if cur.Version != p.Version {
		return fmt.Errorf("product %s: %w", p.ID, ErrVersionConflict)
	}
	s.stampUpdate(&p.Version, &p.UpdatedAt)
	p.CreatedAt = cur.CreatedAt
	s.products[p.ID] = cloneProduct(p)
	return nil
}

func (s *MemoryStore) ListActiveProductsByRevenue(_ context.Context, maxPrice int64, limit int) ([]model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Product
	for _, p := range s.products {
		if !p.IsActive || p.IsArchived {
			continue
		}
		if p.Price <= 0 || p.Price > maxPrice {
			continue
		}
		if p.Stock != nil && *p.Stock <= 0 {
			continue
		}
		out = append(out, *cloneProduct(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalRevenue != out[j].TotalRevenue {
			return out[i].TotalRevenue > out[j].TotalRevenue
		}
		return out[i].ID < out[j].ID
	})
	return take(out, limit), nil
}

// --- Stocks ---

func (s *MemoryStore) CreateStock(_ context.Context, st *model.Stock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stocks[st.ID]; ok {
		return fmt.Errorf("stock %s already exists", st.ID)
	}
	s.stampCreate(&st.Version, &st.CreatedAt, &st.UpdatedAt)
	cp := *st
	s.stocks[st.ID] = &cp
	return nil
}

func (s *MemoryStore) GetStock(_ context.Context, id string) (*model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stocks[id]
	if !ok {
		return nil, fmt.Errorf("stock %s: %w", id, ErrNotFound)
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) UpdateStock(_ context.Context, st *model.Stock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.stocks[st.ID]
	if !ok {
		return fmt.Errorf("stock %s: %w", st.ID, ErrNotFound)
	}
	if cur.Version != st.Version {
		return fmt.Errorf("stock %s: %w", st.ID, ErrVersionConflict)
	}
	s.stampUpdate(&st.Version, &st.UpdatedAt)
	st.CreatedAt = cur.CreatedAt
	cp := *st
	s.stocks[st.ID] = &cp
	return nil
}

func (s *MemoryStore) ListStocks(_ context.Context) ([]model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Stock, 0, len(s.stocks))
	for _, st := range s.stocks {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Cryptocurrencies ---

func (s *MemoryStore) CreateCrypto(_ context.Context, c *model.Crypto) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cryptos[c.ID]; ok {
		return fmt.Errorf("crypto %s already exists", c.ID)
	}
	s.stampCreate(&c.Version, &c.CreatedAt, &c.UpdatedAt)
	cp := *c
	s.cryptos[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCrypto(_ context.Context, id string) (*model.Crypto, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cryptos[id]
	if !ok {
		return nil, fmt.Errorf("crypto %s: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) UpdateCrypto(_ context.Context, c *model.Crypto) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.cryptos[c.ID]
	if !ok {
		return fmt.Errorf("crypto %s: %w", c.ID, ErrNotFound)
	}
	if cur.Version != c.Version {
		return fmt.Errorf("crypto %s: %w", c.ID, ErrVersionConflict)
	}
	s.stampUpdate(&c.Version, &c.UpdatedAt)
	c.CreatedAt = cur.CreatedAt
	cp := *c
	s.cryptos[c.ID] = &cp
	return nil
}

func (s *MemoryStore) ListCryptos(_ context.Context) ([]model.Crypto, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Crypto, 0, len(s.cryptos))
	for _, c := range s.cryptos {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Price history ---

func (s *MemoryStore) InsertPriceBar(_ context.Context, bar *model.PriceBar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bars = append(s.bars, *bar)
	return nil
}

func (s *MemoryStore) ListPriceBars(_ context.Context, kind model.AssetKind, assetID string, limit int) ([]model.PriceBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PriceBar
	for i := len(s.bars) - 1; i >= 0; i-- {
		b := s.bars[i]
		if b.AssetKind == kind && b.AssetID == assetID {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return take(out, limit), nil
}

// --- Holdings ---

func (s *MemoryStore) UpsertStockHolding(_ context.Context, h *model.StockHolding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h.UpdatedAt = s.now().UTC()
	cp := *h
	s.stockHold[holdingKey(h.PlayerID, h.StockID)] = &cp
	return nil
}

func (s *MemoryStore) ListStockHoldingsByPlayer(_ context.Context, playerID string) ([]model.StockHolding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.StockHolding
	for _, h := range s.stockHold {
		if h.PlayerID == playerID {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StockID < out[j].StockID })
	return out, nil
}

func (s *MemoryStore) UpsertCryptoHolding(_ context.Context, h *model.CryptoHolding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h.UpdatedAt = s.now().UTC()
	cp := *h
	s.cryptoHold[holdingKey(h.PlayerID, h.CryptoID)] = &cp
	return nil
}

func (s *MemoryStore) ListCryptoHoldingsByPlayer(_ context.Context, playerID string) ([]model.CryptoHolding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.CryptoHolding
	for _, h := range s.cryptoHold {
		if h.PlayerID == playerID {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CryptoID < out[j].CryptoID })
	return out, nil
}

// --- Loans ---

func (s *MemoryStore) CreateLoan(_ context.Context, l *model.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.loans[l.ID]; ok {
		return fmt.Errorf("loan %s already exists", l.ID)
	}
	s.stampCreate(&l.Version, &l.CreatedAt, &l.UpdatedAt)
	cp := *l
	s.loans[l.ID] = &cp
	return nil
}

func (s *MemoryStore) GetLoan(_ context.Context, id string) (*model.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) UpdateLoan(_ context.Context, l *model.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.loans[l.ID]
	if !ok {
		return fmt.Errorf("loan %s: %w", l.ID, ErrNotFound)
	}
	if cur.Version != l.Version {
		return fmt.Errorf("loan %s: %w", l.ID, ErrVersionConflict)
	}
	s.stampUpdate(&l.Version, &l.UpdatedAt)
	l.CreatedAt = cur.CreatedAt
	cp := *l
	s.loans[l.ID] = &cp
	return nil
}

func (s *MemoryStore) ListLoansByStatus(_ context.Context, status string) ([]model.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Loan
	for _, l := range s.loans {
		if l.Status == status {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListLoansByPlayer(_ context.Context, playerID string) ([]model.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Loan
	for _, l := range s.loans {
		if l.PlayerID == playerID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Marketplace sales ---

func (s *MemoryStore) InsertSale(_ context.Context, sale *model.MarketplaceSale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = s.now().UTC()
	}
	s.sales = append(s.sales, *sale)
	return nil
}

func (s *MemoryStore) ListSalesByProduct(_ context.Context, productID string) ([]model.MarketplaceSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.MarketplaceSale
	for _, sale := range s.sales {
		if sale.ProductID == productID {
			out = append(out, sale)
		}
	}
	return out, nil
}

// --- Tick history ---

func (s *MemoryStore) InsertTick(_ context.Context, t *model.TickRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.ticks {
		if existing.TickNumber == t.TickNumber {
			return fmt.Errorf("tick %d: %w", t.TickNumber, ErrDuplicateTick)
		}
	}
	s.ticks = append(s.ticks, cloneTick(t))
	return nil
}

func (s *MemoryStore) LatestTick(_ context.Context) (*model.TickRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.ticks) == 0 {
		return nil, fmt.Errorf("latest tick: %w", ErrNotFound)
	}
	best := 0
	for i, t := range s.ticks {
		if t.TickNumber > s.ticks[best].TickNumber {
			best = i
		}
	}
	cp := cloneTick(&s.ticks[best])
	return &cp, nil
}

func (s *MemoryStore) ListTicks(_ context.Context, limit int) ([]model.TickRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.TickRecord, 0, len(s.ticks))
	for i := range s.ticks {
		out = append(out, cloneTick(&s.ticks[i]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TickNumber > out[j].TickNumber })
	return take(out, limit), nil
}

// --- Locker ---

// TryLock implements Locker for a single process. Expired locks are
// reclaimed.
func (s *MemoryStore) TryLock(_ context.Context, name string, ttl time.Duration) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.locks[name]; ok && now.Before(exp) {
		return nil, ErrLockHeld
	}
	exp := now.Add(ttl)
	s.locks[name] = exp
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.locks[name].Equal(exp) {
			delete(s.locks, name)
		}
	}, nil
}

// --- helpers ---

func (s *MemoryStore) stampCreate(version *int64, created, updated *time.Time) {
	now := s.now().UTC()
	*version = 1
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

func (s *MemoryStore) stampUpdate(version *int64, updated *time.Time) {
	*version++
	*updated = s.now().UTC()
}

func holdingKey(playerID, assetID string) string { return playerID + "/" + assetID }

func take[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

func cloneProduct(p *model.Product) *model.Product {
	cp := *p
	if p.Stock != nil {
		v := *p.Stock
		cp.Stock = &v
	}
	if p.QualityRating != nil {
		v := *p.QualityRating
		cp.QualityRating = &v
	}
	if p.MaxPerOrder != nil {
		v := *p.MaxPerOrder
		cp.MaxPerOrder = &v
	}
	return &cp
}

func cloneTick(t *model.TickRecord) model.TickRecord {
	cp := *t
	cp.BotPurchases = append([]model.BotPurchase(nil), t.BotPurchases...)
	cp.PriceUpdates = append([]model.PriceUpdate(nil), t.PriceUpdates...)
	return cp
}

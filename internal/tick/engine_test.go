package tick

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/tick-engine/internal/model"
	"github.com/marketsim/tick-engine/internal/networth"
	"github.com/marketsim/tick-engine/internal/pricing"
	"github.com/marketsim/tick-engine/internal/store"
)

var tickTime = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

func i64(v int64) *int64 { return &v }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BotBudget = 1_000_000
	cfg.Retry.InitialDelay = time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, s store.Store) *Engine {
	t.Helper()
	e := NewEngine(s, testConfig(), pricing.NewLockedRand(42), nil)
	e.now = func() time.Time { return tickTime }
	return e
}

// seedWorld creates one player who owns a company selling one product,
// holds 10 shares of one stock, and has an active loan last charged one
// sub-interval before tickTime.
func seedWorld(t *testing.T, ms *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	must(ms.CreatePlayer(ctx, &model.Player{ID: "p1", Name: "alice", Balance: 500_000}))
	must(ms.CreateCompany(ctx, &model.Company{ID: "c1", OwnerID: "p1", Name: "Acme Goods"}))
	must(ms.CreateProduct(ctx, &model.Product{
		ID: "prod1", CompanyID: "c1", Name: "Widget",
		Price: 10_000, Stock: i64(50), IsActive: true,
	}))
	must(ms.CreateStock(ctx, &model.Stock{
		ID: "s1", Symbol: "ACME", Name: "Acme Corp",
		CurrentPrice: 2_000, FairValue: 2_000,
		Volatility: 0.3, BaseVolatility: 0.3, Liquidity: 1_000_000,
		OutstandingShares: 1_000,
	}))
	must(ms.CreateCrypto(ctx, &model.Crypto{
		ID: "btc", Symbol: "BTC", Name: "Bitcoin",
		CurrentPrice: 5_000_000, TotalSupply: 21_000_000, CirculatingSupply: 19_000_000,
		Volatility: 0.6, BaseVolatility: 0.6, Liquidity: 1_000_000,
	}))
	must(ms.UpsertStockHolding(ctx, &model.StockHolding{PlayerID: "p1", StockID: "s1", Shares: decimal.NewFromInt(10)}))
	must(ms.CreateLoan(ctx, &model.Loan{
		ID: "l1", PlayerID: "p1", Amount: 100_000, InterestRate: 5,
		RemainingBalance: 100_000, Status: model.LoanActive,
		LastInterestApplied: tickTime.Add(-20 * time.Minute),
	}))
}

func TestRunTick_FullFlow(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	seedWorld(t, ms)
	e := newTestEngine(t, ms)

	res, err := e.RunTick(ctx)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if res.TickNumber != 1 || res.TickID == "" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.BotPurchases != 1 || res.StockUpdates != 1 || res.CryptoUpdates != 1 {
		t.Errorf("unexpected counts %+v", res)
	}
	if e.State() != StateCommitted {
		t.Errorf("expected committed, got %s", e.State())
	}

	// Bot purchases: 50 units at 10,000 cleared the stock.
	prod, _ := ms.GetProduct(ctx, "prod1")
	if *prod.Stock != 0 || prod.TotalSold != 50 || prod.TotalRevenue != 500_000 {
		t.Errorf("unexpected product after tick: stock=%d sold=%d revenue=%d", *prod.Stock, prod.TotalSold, prod.TotalRevenue)
	}
	company, _ := ms.GetCompany(ctx, "c1")
	if company.Balance != 500_000 {
		t.Errorf("expected company credited 500000, got %d", company.Balance)
	}
	sales, _ := ms.ListSalesByProduct(ctx, "prod1")
	if len(sales) != 1 || sales[0].PurchaserID != model.BotPurchaser || sales[0].TotalPrice != 500_000 {
		t.Errorf("unexpected sales %+v", sales)
	}

	// Prices moved and stayed positive; bars appended.
	st, _ := ms.GetStock(ctx, "s1")
	if st.PreviousPrice != 2_000 || st.CurrentPrice <= 0 || !st.LastPriceChange.Equal(tickTime) {
		t.Errorf("unexpected stock after tick %+v", st)
	}
	if st.MarketCap != st.CurrentPrice*st.OutstandingShares {
		t.Errorf("market cap %d does not match price × shares", st.MarketCap)
	}
	bars, _ := ms.ListPriceBars(ctx, model.AssetStock, "s1", 10)
	if len(bars) != 1 || bars[0].Open != 2_000 || bars[0].Close != st.CurrentPrice {
		t.Errorf("unexpected bars %+v", bars)
	}

	// Loan: one sub-interval at 5%/day on 100,000 is 69.
	loan, _ := ms.GetLoan(ctx, "l1")
	if loan.RemainingBalance != 100_069 || loan.AccruedInterest != 69 {
		t.Errorf("unexpected loan %+v", loan)
	}
	player, _ := ms.GetPlayer(ctx, "p1")
	if player.Balance != 500_000-69 {
		t.Errorf("expected balance 499931, got %d", player.Balance)
	}

	// Net worth reflects this tick's prices and interest.
	_, live, err := networth.NewCalculator(ms).ForPlayer(ctx, "p1")
	if err != nil {
		t.Fatalf("ForPlayer: %v", err)
	}
	if player.NetWorth != live.NetWorth {
		t.Errorf("cached net worth %d != computed %d", player.NetWorth, live.NetWorth)
	}
	want := int64(500_000-69) + 10*st.CurrentPrice + 500_000 - 100_069
	if player.NetWorth != want {
		t.Errorf("expected net worth %d, got %d", want, player.NetWorth)
	}

	// History.
	rec, err := ms.LatestTick(ctx)
	if err != nil {
		t.Fatalf("LatestTick: %v", err)
	}
	if rec.TickNumber != 1 || rec.TotalBudgetSpent != 500_000 || len(rec.PriceUpdates) != 2 {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestRunTick_MonotonicNumbersAndTimestamps(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	seedWorld(t, ms)
	e := newTestEngine(t, ms)

	for i := 0; i < 3; i++ {
		if _, err := e.RunTick(ctx); err != nil {
			t.Fatalf("tick %d: %v", i+1, err)
		}
	}

	hist, err := e.History(ctx, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("expected 3 records, got %d", len(hist))
	}
	for i, rec := range hist {
		if rec.TickNumber != int64(3-i) {
			t.Errorf("record %d: expected tick %d, got %d", i, 3-i, rec.TickNumber)
		}
		if i > 0 && !hist[i-1].Timestamp.After(rec.Timestamp) {
			t.Errorf("timestamps not strictly increasing: %v then %v", rec.Timestamp, hist[i-1].Timestamp)
		}
	}

	last, err := e.LastTick(ctx)
	if err != nil || last == nil || last.TickNumber != 3 {
		t.Errorf("expected last tick 3, got %+v (%v)", last, err)
	}

	// The clock did not move, so the loan was charged exactly once.
	loan, _ := ms.GetLoan(ctx, "l1")
	if loan.AccruedInterest != 69 {
		t.Errorf("expected interest charged once, got %d", loan.AccruedInterest)
	}
}

func TestLastTick_None(t *testing.T) {
	e := newTestEngine(t, store.NewMemoryStore())
	last, err := e.LastTick(context.Background())
	if err != nil || last != nil {
		t.Errorf("expected nil, nil; got %+v, %v", last, err)
	}
}

func TestRunTick_EmptyWorld(t *testing.T) {
	e := newTestEngine(t, store.NewMemoryStore())
	res, err := e.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if res.TickNumber != 1 || res.BotPurchases != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

// failingStore fails crypto writes after everything before them succeeded.
type failingStore struct {
	*store.MemoryStore
}

func (f *failingStore) UpdateCrypto(context.Context, *model.Crypto) error {
	return errors.New("disk on fire")
}

func TestRunTick_FailureWritesNoHistory(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	seedWorld(t, ms)
	e := newTestEngine(t, &failingStore{ms})

	if _, err := e.RunTick(ctx); err == nil {
		t.Fatal("expected tick to fail")
	}
	if e.State() != StateFailed {
		t.Errorf("expected failed, got %s", e.State())
	}
	if _, err := ms.LatestTick(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected no history, got %v", err)
	}

	// Earlier steps are not rolled back.
	st, _ := ms.GetStock(ctx, "s1")
	if st.PreviousPrice != 2_000 {
		t.Errorf("expected stock step applied before the failure")
	}
	loan, _ := ms.GetLoan(ctx, "l1")
	if loan.AccruedInterest != 0 {
		t.Errorf("loan step must not run after a failed crypto step")
	}
}

func TestRunTick_RejectsConcurrentRuns(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	e := newTestEngine(t, ms)

	e.run.Lock()
	_, err := e.RunTick(ctx)
	e.run.Unlock()
	if !errors.Is(err, ErrTickInProgress) {
		t.Errorf("expected ErrTickInProgress from in-process lock, got %v", err)
	}

	unlock, err := ms.TryLock(ctx, lockName, time.Minute)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	_, err = e.RunTick(ctx)
	if !errors.Is(err, ErrTickInProgress) {
		t.Errorf("expected ErrTickInProgress from store lock, got %v", err)
	}
	unlock()

	if _, err := e.RunTick(ctx); err != nil {
		t.Errorf("expected tick after unlock, got %v", err)
	}
}

func TestRunTick_ParallelTriggersCommitDistinctNumbers(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	seedWorld(t, ms)
	e := newTestEngine(t, ms)

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[int64]bool{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.RunTick(ctx)
			if errors.Is(err, ErrTickInProgress) {
				return
			}
			if err != nil {
				t.Errorf("RunTick: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[res.TickNumber] {
				t.Errorf("tick number %d committed twice", res.TickNumber)
			}
			seen[res.TickNumber] = true
		}()
	}
	wg.Wait()
	if len(seen) == 0 {
		t.Error("expected at least one tick to commit")
	}
}

func TestOnCommit(t *testing.T) {
	e := newTestEngine(t, store.NewMemoryStore())
	var got []model.TickRecord
	e.OnCommit(func(rec model.TickRecord) { got = append(got, rec) })

	if _, err := e.RunTick(context.Background()); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if len(got) != 1 || got[0].TickNumber != 1 {
		t.Errorf("expected one hook call for tick 1, got %+v", got)
	}
}

// --- Step tests ---

func TestBotBuyer_RespectsBudgetAndStock(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	_ = ms.CreateCompany(ctx, &model.Company{ID: "c1", OwnerID: "p1"})
	for i := 0; i < 6; i++ {
		_ = ms.CreateProduct(ctx, &model.Product{
			ID:        fmt.Sprintf("prod%d", i),
			CompanyID: "c1",
			Price:     int64(5_000 + 20_000*i),
			Stock:     i64(int64(3 + i)),
			IsActive:  true,
		})
	}

	b := NewBotBuyer(ms, testConfig(), nil)
	purchases, err := b.Run(ctx, 300_000)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var spent int64
	for _, p := range purchases {
		spent += p.TotalPrice
		prod, _ := ms.GetProduct(ctx, p.ProductID)
		if *prod.Stock < 0 {
			t.Errorf("product %s oversold: stock %d", prod.ID, *prod.Stock)
		}
		if p.TotalPrice != p.Quantity*prod.Price {
			t.Errorf("purchase %+v does not match price %d", p, prod.Price)
		}
	}
	if spent > 300_000 {
		t.Errorf("spent %d over budget", spent)
	}
	company, _ := ms.GetCompany(ctx, "c1")
	if company.Balance != spent {
		t.Errorf("company balance %d != spent %d", company.Balance, spent)
	}
}

func TestBotBuyer_MissingCompanyStillRecordsSale(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	_ = ms.CreateProduct(ctx, &model.Product{ID: "orphan", CompanyID: "gone", Price: 1_000, IsActive: true})

	purchases, err := NewBotBuyer(ms, testConfig(), nil).Run(ctx, 10_000)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(purchases) != 1 || purchases[0].Quantity != 10 {
		t.Fatalf("unexpected purchases %+v", purchases)
	}
	sales, _ := ms.ListSalesByProduct(ctx, "orphan")
	if len(sales) != 1 {
		t.Errorf("expected the sale recorded, got %d", len(sales))
	}
}

func TestLoanAccruer_IdempotentWithinSubInterval(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	seedWorld(t, ms)
	a := NewLoanAccruer(ms, testConfig(), nil)

	first, err := a.Run(ctx, tickTime)
	if err != nil || first != 69 {
		t.Fatalf("expected 69 charged, got %d (%v)", first, err)
	}
	second, err := a.Run(ctx, tickTime.Add(5*time.Minute))
	if err != nil || second != 0 {
		t.Errorf("expected nothing charged within the sub-interval, got %d (%v)", second, err)
	}

	player, _ := ms.GetPlayer(ctx, "p1")
	if player.Balance != 500_000-69 {
		t.Errorf("expected one debit, balance %d", player.Balance)
	}
}

func TestLoanAccruer_BalanceMayGoNegative(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	_ = ms.CreatePlayer(ctx, &model.Player{ID: "broke", Balance: 10})
	_ = ms.CreateLoan(ctx, &model.Loan{
		ID: "l", PlayerID: "broke", InterestRate: 10, RemainingBalance: 1_000_000,
		Status: model.LoanActive, LastInterestApplied: tickTime.Add(-24 * time.Hour),
	})

	total, err := NewLoanAccruer(ms, testConfig(), nil).Run(ctx, tickTime)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if total != 100_000 {
		t.Errorf("expected a day at 10%% = 100000, got %d", total)
	}
	p, _ := ms.GetPlayer(ctx, "broke")
	if p.Balance != 10-100_000 {
		t.Errorf("expected negative balance, got %d", p.Balance)
	}
}

func TestLoanAccruer_UnchargedLoanStartsClock(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	_ = ms.CreatePlayer(ctx, &model.Player{ID: "p1", Balance: 500_000})
	_ = ms.CreateLoan(ctx, &model.Loan{
		ID: "fresh", PlayerID: "p1", InterestRate: 5, RemainingBalance: 100_000,
		Status: model.LoanActive,
	})
	a := NewLoanAccruer(ms, testConfig(), nil)

	total, err := a.Run(ctx, tickTime)
	if err != nil || total != 0 {
		t.Fatalf("expected nothing charged on the first run, got %d (%v)", total, err)
	}
	loan, _ := ms.GetLoan(ctx, "fresh")
	if !loan.LastInterestApplied.Equal(tickTime) {
		t.Errorf("clock should start at the tick, got %v", loan.LastInterestApplied)
	}

	total, err = a.Run(ctx, tickTime.Add(20*time.Minute))
	if err != nil || total != 69 {
		t.Errorf("expected 69 one sub-interval later, got %d (%v)", total, err)
	}
	p, _ := ms.GetPlayer(ctx, "p1")
	if p.Balance != 500_000-69 {
		t.Errorf("expected one debit of 69, balance %d", p.Balance)
	}
}

func TestNetWorthUpdater_PagesAndSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	for i := 0; i < 5; i++ {
		_ = ms.CreatePlayer(ctx, &model.Player{ID: fmt.Sprintf("p%d", i), Balance: int64(1_000 * (i + 1))})
	}
	cfg := testConfig()
	cfg.PlayerPageSize = 2
	u := NewNetWorthUpdater(ms, cfg, nil)

	written, err := u.Run(ctx)
	if err != nil || written != 5 {
		t.Fatalf("expected 5 writes, got %d (%v)", written, err)
	}
	for i := 0; i < 5; i++ {
		p, _ := ms.GetPlayer(ctx, fmt.Sprintf("p%d", i))
		if p.NetWorth != p.Balance {
			t.Errorf("player %s: net worth %d, want %d", p.ID, p.NetWorth, p.Balance)
		}
	}

	written, err = u.Run(ctx)
	if err != nil || written != 0 {
		t.Errorf("expected no writes when nothing changed, got %d (%v)", written, err)
	}
}

func TestScheduler_RunsUntilCancelled(t *testing.T) {
	ms := store.NewMemoryStore()
	e := newTestEngine(t, ms)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		NewScheduler(e, 5*time.Millisecond, nil).Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if last, _ := e.LastTick(context.Background()); last != nil && last.TickNumber >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	last, _ := e.LastTick(context.Background())
	if last == nil || last.TickNumber < 2 {
		t.Errorf("expected at least two scheduled ticks, got %+v", last)
	}
}

// slowStocksStore parks the stock step of the first tick until released.
type slowStocksStore struct {
	*store.MemoryStore
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *slowStocksStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	return s.MemoryStore.ListStocks(ctx)
}

func TestScheduler_StopLetsInFlightTickFinish(t *testing.T) {
	ms := store.NewMemoryStore()
	seedWorld(t, ms)
	slow := &slowStocksStore{MemoryStore: ms, started: make(chan struct{}), release: make(chan struct{})}
	e := newTestEngine(t, slow)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		NewScheduler(e, 5*time.Millisecond, nil).Run(ctx)
		close(done)
	}()

	select {
	case <-slow.started:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled tick never started")
	}
	cancel()

	select {
	case <-done:
		t.Fatal("scheduler returned while a tick was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(slow.release)
	<-done

	last, err := e.LastTick(context.Background())
	if err != nil || last == nil || last.TickNumber != 1 {
		t.Fatalf("expected tick 1 committed after shutdown, got %+v (%v)", last, err)
	}
	if e.State() != StateCommitted {
		t.Errorf("expected state committed, got %s", e.State())
	}
}

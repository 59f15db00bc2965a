package tick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketsim/tick-engine/internal/metrics"
	"github.com/marketsim/tick-engine/internal/model"
	"github.com/marketsim/tick-engine/internal/pricing"
	"github.com/marketsim/tick-engine/internal/store"
)

// State is the coordinator's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCommitted State = "committed"
	StateFailed    State = "failed"
)

const lockName = "market-tick"

// Engine coordinates one tick: bot purchases, stock prices, crypto prices,
// loan interest, net worth, then the history record. Steps never run in
// parallel and never reorder; each observes the writes of the ones before.
type Engine struct {
	store  store.Store
	locker store.Locker
	cfg    Config
	logger *slog.Logger

	bots     *BotBuyer
	prices   *PriceUpdater
	loans    *LoanAccruer
	netWorth *NetWorthUpdater

	run      sync.Mutex
	mu       sync.RWMutex
	state    State
	onCommit []func(model.TickRecord)

	now func() time.Time
}

// NewEngine wires the tick steps over s. rng drives the pricing models;
// pass a seeded source to replay a run. When s can lock across processes
// it is used as the run lock.
func NewEngine(s store.Store, cfg Config, rng pricing.Rand, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if rng == nil {
		rng = pricing.NewLockedRand(0)
	}
	e := &Engine{
		store:    s,
		cfg:      cfg,
		logger:   logger,
		bots:     NewBotBuyer(s, cfg, logger),
		prices:   NewPriceUpdater(s, cfg, rng, logger),
		loans:    NewLoanAccruer(s, cfg, logger),
		netWorth: NewNetWorthUpdater(s, cfg, logger),
		state:    StateIdle,
		now:      time.Now,
	}
	if l, ok := s.(store.Locker); ok {
		e.locker = l
	}
	return e
}

// WithLocker replaces the cross-process run lock.
func (e *Engine) WithLocker(l store.Locker) *Engine {
	e.locker = l
	return e
}

// OnCommit registers fn to be called with every committed tick record.
// Hooks run synchronously after the record is stored.
func (e *Engine) OnCommit(fn func(model.TickRecord)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCommit = append(e.onCommit, fn)
}

// State returns the state of the most recent tick attempt.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// RunTick executes one tick. It returns ErrTickInProgress when another
// tick holds the run lock, here or in another process. On failure no
// history is written; mutations applied by earlier steps are kept.
func (e *Engine) RunTick(ctx context.Context) (*model.TickResult, error) {
	if !e.run.TryLock() {
		metrics.TicksTotal.WithLabelValues("busy").Inc()
		return nil, ErrTickInProgress
	}
	defer e.run.Unlock()

	if e.locker != nil {
		unlock, err := e.locker.TryLock(ctx, lockName, e.cfg.LockTTL)
		if errors.Is(err, store.ErrLockHeld) {
			metrics.TicksTotal.WithLabelValues("busy").Inc()
			return nil, ErrTickInProgress
		}
		if err != nil {
			return nil, fmt.Errorf("acquire tick lock: %w", err)
		}
		defer unlock()
	}

	e.setState(StateRunning)
	start := time.Now()

	result, err := e.runLocked(ctx)
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		e.setState(StateFailed)
		metrics.TicksTotal.WithLabelValues("failed").Inc()
		e.logger.Error("tick failed", "err", err, "duration", time.Since(start))
		return nil, err
	}

	e.setState(StateCommitted)
	metrics.TicksTotal.WithLabelValues("committed").Inc()
	metrics.LastTickNumber.Set(float64(result.TickNumber))
	e.logger.Info("tick committed",
		"tick", result.TickNumber,
		"bot_purchases", result.BotPurchases,
		"stock_updates", result.StockUpdates,
		"crypto_updates", result.CryptoUpdates,
		"duration", time.Since(start),
	)
	return result, nil
}

func (e *Engine) runLocked(ctx context.Context) (*model.TickResult, error) {
	number := int64(1)
	now := e.now().UTC().Truncate(time.Microsecond)

	last, err := e.store.LatestTick(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("latest tick: %w", err)
	default:
		number = last.TickNumber + 1
		if !now.After(last.Timestamp) {
			now = last.Timestamp.Add(time.Microsecond)
		}
	}
	log := e.logger.With("tick", number)

	stepStart := time.Now()
	purchases, err := e.bots.Run(ctx, e.cfg.BotBudget)
	if err != nil {
		return nil, fmt.Errorf("tick %d: bot purchases: %w", number, err)
	}
	metrics.ObserveStep("bot_purchases", stepStart)

	stepStart = time.Now()
	stockUpdates, err := e.prices.UpdateStocks(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("tick %d: stock prices: %w", number, err)
	}
	metrics.ObserveStep("stock_prices", stepStart)

	stepStart = time.Now()
	cryptoUpdates, err := e.prices.UpdateCryptos(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("tick %d: crypto prices: %w", number, err)
	}
	metrics.ObserveStep("crypto_prices", stepStart)

	stepStart = time.Now()
	charged, err := e.loans.Run(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("tick %d: loan interest: %w", number, err)
	}
	metrics.ObserveStep("loan_interest", stepStart)

	stepStart = time.Now()
	written, err := e.netWorth.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("tick %d: net worth: %w", number, err)
	}
	metrics.ObserveStep("net_worth", stepStart)

	var spent int64
	for _, p := range purchases {
		spent += p.TotalPrice
	}
	updates := make([]model.PriceUpdate, 0, len(stockUpdates)+len(cryptoUpdates))
	updates = append(updates, stockUpdates...)
	updates = append(updates, cryptoUpdates...)
	if purchases == nil {
		purchases = []model.BotPurchase{}
	}

	rec := &model.TickRecord{
		ID:               uuid.New().String(),
		TickNumber:       number,
		Timestamp:        now,
		BotPurchases:     purchases,
		PriceUpdates:     updates,
		TotalBudgetSpent: spent,
	}
	if err := e.store.InsertTick(ctx, rec); err != nil {
		return nil, fmt.Errorf("tick %d: record history: %w", number, err)
	}
	log.Debug("tick history written", "interest_charged", charged, "net_worth_writes", written)

	e.mu.RLock()
	hooks := e.onCommit
	e.mu.RUnlock()
	for _, fn := range hooks {
		fn(*rec)
	}

	return &model.TickResult{
		TickNumber:    number,
		TickID:        rec.ID,
		BotPurchases:  len(purchases),
		StockUpdates:  len(stockUpdates),
		CryptoUpdates: len(cryptoUpdates),
	}, nil
}

// History returns up to n committed ticks, newest first. n <= 0 means 100.
func (e *Engine) History(ctx context.Context, n int) ([]model.TickRecord, error) {
	if n <= 0 {
		n = 100
	}
	ticks, err := e.store.ListTicks(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("tick history: %w", err)
	}
	return ticks, nil
}

// LastTick returns the most recent committed tick, or nil when none has
// been committed yet.
func (e *Engine) LastTick(ctx context.Context) (*model.TickSummary, error) {
	t, err := e.store.LatestTick(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last tick: %w", err)
	}
	return &model.TickSummary{TickNumber: t.TickNumber, Timestamp: t.Timestamp}, nil
}

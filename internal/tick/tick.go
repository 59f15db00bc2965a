// Package tick runs the periodic market tick: bot purchases, stock and
// crypto repricing, loan interest, and net worth, in that order, followed
// by one immutable history record.
//
// The store has no multi-document transactions. Each step is an ordered
// sequence of single-document compare-and-swap writes, ordered so that a
// failure part way through never charges anyone twice.
package tick

import (
	"context"
	"errors"
	"time"

	"github.com/marketsim/tick-engine/internal/interest"
	"github.com/marketsim/tick-engine/internal/metrics"
	"github.com/marketsim/tick-engine/internal/store"
)

// ErrTickInProgress is returned when another tick holds the run lock.
var ErrTickInProgress = errors.New("tick: a tick is already in progress")

// Config holds the tick engine's tunables.
type Config struct {
	Every            time.Duration // scheduler period; also the pricing step length
	BotBudget        int64
	ProductLimit     int
	MaxProductPrice  int64
	InterestInterval time.Duration
	PlayerPageSize   int
	NetWorthWorkers  int
	LockTTL          time.Duration
	Retry            store.RetryConfig
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Every:            5 * time.Minute,
		BotBudget:        10_000_000,
		ProductLimit:     100,
		MaxProductPrice:  5_000_000,
		InterestInterval: interest.DefaultSubInterval,
		PlayerPageSize:   1000,
		NetWorthWorkers:  4,
		LockTTL:          10 * time.Minute,
		Retry:            store.DefaultRetryConfig(),
	}
}

// retry wraps store.RetryOnConflict and counts conflicts per document kind.
func retry(ctx context.Context, cfg store.RetryConfig, kind string, fn func() error) error {
	return store.RetryOnConflict(ctx, cfg, func() error {
		err := fn()
		if errors.Is(err, store.ErrVersionConflict) {
			metrics.CASRetries.WithLabelValues(kind).Inc()
		}
		return err
	})
}

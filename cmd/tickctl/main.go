package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/marketsim/tick-engine/internal/audit"
	"github.com/marketsim/tick-engine/internal/config"
	"github.com/marketsim/tick-engine/internal/db"
	"github.com/marketsim/tick-engine/internal/logging"
	"github.com/marketsim/tick-engine/internal/pricing"
	"github.com/marketsim/tick-engine/internal/seed"
	"github.com/marketsim/tick-engine/internal/store"
	"github.com/marketsim/tick-engine/internal/tick"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "tickctl",
		Short:        "Operate the market tick engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (overrides TICK_CONFIG)")

	root.AddCommand(
		newRunCmd(&configPath),
		newHistoryCmd(&configPath),
		newLastCmd(&configPath),
		newMigrateCmd(&configPath),
		newSeedCmd(&configPath),
		newAuditCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// env is what every command works against.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   store.Store
	locker  store.Locker
	pg      *store.PostgresStore
	cleanup []func()
}

func (e *env) Close() {
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		e.cleanup[i]()
	}
}

func open(ctx context.Context, configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.FilePath = cfg.LogFile
	logger, closer := logging.New(logCfg)

	e := &env{cfg: cfg, logger: logger}
	e.cleanup = append(e.cleanup, func() { closer.Close() })

	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using a throwaway in-memory store")
		ms := store.NewMemoryStore()
		e.store, e.locker = ms, ms
		return e, nil
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.cleanup = append(e.cleanup, pool.Close)
	e.pg = store.NewPostgresStore(pool)
	e.store, e.locker = e.pg, e.pg

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		e.cleanup = append(e.cleanup, func() { rdb.Close() })
		e.store = store.NewCachedStore(e.store, rdb, cfg.CacheTTL)
		e.locker = store.NewRedisLocker(rdb)
	}
	return e, nil
}

func (e *env) engine() *tick.Engine {
	return tick.NewEngine(e.store, e.cfg.Tick(), pricing.NewLockedRand(e.cfg.RandomSeed), e.logger).
		WithLocker(e.locker)
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one tick now and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.engine().RunTick(cmd.Context())
			if errors.Is(err, tick.ErrTickInProgress) {
				return fmt.Errorf("another tick is running, try again later")
			}
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func newHistoryCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List committed ticks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			ticks, err := e.engine().History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TICK\tTIMESTAMP\tPURCHASES\tSPENT\tPRICE UPDATES")
			for _, t := range ticks {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%d\n",
					t.TickNumber, t.Timestamp.Format(time.RFC3339), len(t.BotPurchases),
					formatCents(t.TotalBudgetSpent), len(t.PriceUpdates))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of ticks to show")
	return cmd
}

func newLastCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "last",
		Short: "Show the most recent tick and when the next one is due",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			last, err := e.engine().LastTick(cmd.Context())
			if err != nil {
				return err
			}
			if last == nil {
				fmt.Println("no ticks committed yet")
				return nil
			}
			next := last.Timestamp.Add(e.cfg.Every)
			fmt.Printf("tick %d at %s (next due in %s)\n",
				last.TickNumber, last.Timestamp.Format(time.RFC3339),
				time.Until(next).Round(time.Second))
			return nil
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the PostgreSQL schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			if e.pg == nil {
				return fmt.Errorf("migrate needs DATABASE_URL")
			}
			if err := e.pg.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}

func newSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the demo stock and crypto catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			stocks, cryptos, err := seed.Defaults(cmd.Context(), e.store, e.logger)
			if err != nil {
				return err
			}
			fmt.Printf("seeded %d stocks, %d cryptos\n", stocks, cryptos)
			return nil
		},
	}
}

func newAuditCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "List players with a negative cash balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			rows, err := audit.NegativeBalances(cmd.Context(), e.store, e.cfg.PlayerPageSize, e.logger)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("no negative balances")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PLAYER\tNAME\tBALANCE\tNET WORTH")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.PlayerID, r.Name, formatCents(r.Balance), formatCents(r.NetWorth))
			}
			return tw.Flush()
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatCents(v int64) string {
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/100, v%100)
}

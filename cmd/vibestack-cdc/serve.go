package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/vibestack/cdc-core/internal/controller"
	"github.com/vibestack/cdc-core/internal/filter"
	"github.com/vibestack/cdc-core/internal/history"
	"github.com/vibestack/cdc-core/internal/metrics"
	"github.com/vibestack/cdc-core/internal/notifier"
	"github.com/vibestack/cdc-core/internal/poller"
	"github.com/vibestack/cdc-core/internal/registry"
	"github.com/vibestack/cdc-core/internal/server"
	"github.com/vibestack/cdc-core/internal/slotadapter"
	"github.com/vibestack/cdc-core/internal/statestore"
	"github.com/vibestack/cdc-core/internal/transform"
	"github.com/vibestack/cdc-core/internal/transport/wsbridge"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the replication actor and its admin HTTP API",
	Long: `Serve owns the replication slot for the lifetime of the process: it
wakes on init or on its hibernation alarm, polls the slot on a cooperative
cadence, fans out changes to connected clients, and hibernates when no
client remains. The admin API and per-client change stream are both
served over HTTP on the same port.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		collector := metrics.NewCollector(logger)
		defer collector.Close()

		persister, err := metrics.NewStatePersister(collector, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("state persister disabled")
		} else {
			persister.Start()
			defer persister.Stop()
		}

		ctx := cmd.Context()

		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()

		replPool, err := pgxpool.New(ctx, cfg.Database.ReplicationDSN())
		if err != nil {
			return fmt.Errorf("connect replication pool: %w", err)
		}
		defer replPool.Close()

		slot := slotadapter.New(replPool, cfg.Replication.SlotName, cfg.Replication.OutputPlugin, logger)
		state := statestore.New(pool, logger)
		tableFilter := filter.New(cfg.TrackedTables)
		tr := transform.New(tableFilter, collector)
		hist := history.New(pool, cfg.Polling.StoreBatchSize, logger)
		reg := registry.New(pool, cfg.Registry.ClientTimeout, cfg.Registry.FullCleanupInterval, logger)
		notif := notifier.New(logger)
		stream := wsbridge.NewHub(reg, logger)

		pollCfg := poller.Config{
			PollingInterval:        cfg.Polling.PollingInterval,
			FastPollingInterval:    cfg.Polling.FastPollingInterval,
			WalBatchSize:           cfg.Polling.WalBatchSize,
			WalConsumeSize:         cfg.Polling.WalConsumeSize,
			WalBatchThreshold:      cfg.Polling.WalBatchThreshold,
			MaxConsecutivePolls:    cfg.Polling.MaxConsecutivePolls,
			StoreBatchSize:         cfg.Polling.StoreBatchSize,
			SkipWALConsumption:     cfg.Polling.SkipWALConsumption,
			HeartbeatIntervalTicks: cfg.Polling.HeartbeatIntervalTicks,
		}
		engine := poller.New(pollCfg, slot, state, tr, hist, notif, stream, collector, logger)
		ctrl := controller.New(cfg.Replication.SlotName, engine, slot, state, reg, collector, logger)
		ctrl.SetIntervals(cfg.Lifecycle.ClientCheckInterval, cfg.Lifecycle.HibernationCheckInterval)

		srv := server.New(collector, &cfg, logger)
		srv.SetController(ctrl)
		srv.SetStream(stream)

		if _, err := ctrl.Init(ctx); err != nil {
			logger.Warn().Err(err).Msg("initial wake failed; admin API will still serve")
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := ctrl.Stop(stopCtx); err != nil {
				logger.Warn().Err(err).Msg("controller shutdown")
			}
		}()

		return srv.Start(ctx, servePort)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 7654, "HTTP server port")
	rootCmd.AddCommand(serveCmd)
}

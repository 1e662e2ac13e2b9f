package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarcoPoloResearchLab/stockroom/internal/logging"
	"github.com/MarcoPoloResearchLab/stockroom/internal/replication"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newAgentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run a replica that synchronizes with the hub in the background",
		Long: "Runs replication rounds on the configured interval, probes the hub while it is " +
			"unreachable and starts a round as soon as it answers again. SIGHUP requests an immediate round.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one replication round against the hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(logging.FormatConsole)
			if err != nil {
				return err
			}
			defer rt.Close()

			coordinator, err := newCoordinator(rt)
			if err != nil {
				return err
			}
			report, err := coordinator.Sync(cmd.Context(), replication.TriggerManual)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"pushed %d entities and %d movements, received %d entities and %d movements, %d conflicts, %d skipped\n",
				report.PushedEntities, report.PushedMovements,
				report.ReceivedEntities, report.ReceivedMovements,
				report.TotalConflicts(), report.Skipped)
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local inventory totals and replication progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(logging.FormatConsole)
			if err != nil {
				return err
			}
			defer rt.Close()

			status, err := replication.StoreStatus(cmd.Context(), rt.store)
			if err != nil {
				return err
			}
			state, err := replication.LoadState(cmd.Context(), rt.db, rt.config.HubPeer)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "products:   %d (%d low on stock)\n", status.ProductCount, status.LowStockCount)
			fmt.Fprintf(out, "categories: %d\n", status.CategoryCount)
			fmt.Fprintf(out, "locations:  %d\n", status.StorageLocationCount)
			fmt.Fprintf(out, "movements:  %d\n", status.MovementCount)
			fmt.Fprintf(out, "checksum:   %s\n", status.Checksum)
			if state.Watermark.IsZero() {
				fmt.Fprintf(out, "last sync:  never\n")
			} else {
				fmt.Fprintf(out, "last sync:  %s (%d conflicts)\n", state.LastRoundAt.Time().Format("2006-01-02 15:04:05"), state.LastConflictCount)
			}
			return nil
		},
	}
}

func newCoordinator(rt *runtime) (*replication.Coordinator, error) {
	if err := rt.config.RequireHub(); err != nil {
		return nil, err
	}
	transport, err := replication.NewHTTPTransport(replication.HTTPTransportConfig{
		BaseURL:          rt.config.HubURL,
		Token:            rt.config.HubToken,
		MaxResponseBytes: rt.config.HubMaxResponseBytes,
	})
	if err != nil {
		return nil, err
	}
	return replication.NewCoordinator(replication.CoordinatorConfig{
		Store:     rt.store,
		Transport: transport,
		Peer:      rt.config.HubPeer,
		Logger:    rt.logger,
	})
}

func runAgent(ctx context.Context) error {
	rt, err := openRuntime(logging.FormatJSON)
	if err != nil {
		return err
	}
	defer rt.Close()

	coordinator, err := newCoordinator(rt)
	if err != nil {
		return err
	}
	if !rt.config.SyncAuto {
		return errors.New("sync.auto is disabled; use the sync command for manual rounds")
	}

	scheduler, err := replication.NewScheduler(replication.SchedulerConfig{
		Syncer:        coordinator,
		Interval:      rt.config.SyncInterval,
		ProbeInterval: rt.config.SyncProbeInterval,
		RunAtStart:    true,
		Logger:        rt.logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hangups := make(chan os.Signal, 1)
	signal.Notify(hangups, syscall.SIGHUP)
	defer signal.Stop(hangups)

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		return scheduler.Run(groupCtx)
	})
	group.Go(func() error {
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-hangups:
				rt.logger.Info("manual round requested", zap.String("signal", "SIGHUP"))
				scheduler.TriggerNow()
			}
		}
	})
	return group.Wait()
}

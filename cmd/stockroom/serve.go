package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/stockroom/internal/auth"
	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"github.com/MarcoPoloResearchLab/stockroom/internal/logging"
	"github.com/MarcoPoloResearchLab/stockroom/internal/replication"
	"github.com/MarcoPoloResearchLab/stockroom/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hub HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	rt, err := openRuntime(logging.FormatJSON)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.config.RequireSigningSecret(); err != nil {
		return err
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(rt.config.SigningSecret),
		Issuer:        rt.config.Issuer,
		CookieName:    rt.config.CookieName,
	})
	if err != nil {
		return err
	}

	userService, err := rt.users()
	if err != nil {
		return err
	}
	ledger, err := rt.ledger()
	if err != nil {
		return err
	}
	catalog, err := inventory.NewCatalog(rt.store)
	if err != nil {
		return err
	}
	replicationService, err := replication.NewService(replication.ServiceConfig{
		Store:  rt.store,
		Users:  userService,
		Logger: rt.logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Validator:   validator,
		Users:       userService,
		Replication: replicationService,
		Ledger:      ledger,
		Catalog:     catalog,
		Store:       rt.store,
		Logger:      rt.logger,
		Realtime:    server.NewRealtimeDispatcher(),
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              rt.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		rt.logger.Info("server starting", zap.String("address", rt.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		rt.logger.Info("server stopping")
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

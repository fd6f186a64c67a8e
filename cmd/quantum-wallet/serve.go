package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/spf13/cobra"

	"github.com/quantumauth-io/quantum-wallet-core/internal/approval"
	"github.com/quantumauth-io/quantum-wallet-core/internal/constants"
	wallethttp "github.com/quantumauth-io/quantum-wallet-core/internal/http"
	"github.com/quantumauth-io/quantum-wallet-core/internal/metrics"
	"github.com/quantumauth-io/quantum-wallet-core/internal/networks"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the loopback relay and consent API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func runServe(parent context.Context, flags *rootFlags) error {
	log.Info("quantum-wallet",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := flags.load()
	if err != nil {
		return errors.Wrap(err, "failed to parse config")
	}

	w, stateDir, err := flags.openWallet(cfg)
	if err != nil {
		return err
	}

	nets, err := networks.NewManager(filepath.Join(stateDir, constants.NetworksFile))
	if err != nil {
		return err
	}
	if err := nets.EnsureFromConfig(cfg.KnownNetworks(), cfg.Networks.Active); err != nil {
		return err
	}

	sessions := metrics.NewSessions()
	coordinator := approval.New(w, cfg.ApprovalConfig(),
		approval.WithNetworkState(nets),
		approval.WithConsentUI(wallethttp.NewConsentNotifier(cfg.Server.PublicURL)),
		approval.WithObserver(sessions),
	)
	defer coordinator.Close()

	srv, err := wallethttp.NewServer(wallethttp.Config{
		StateDir:         stateDir,
		PublicURL:        cfg.Server.PublicURL,
		UIAllowedOrigins: cfg.Server.UIAllowedOrigins,
		PairTTL:          cfg.Server.PairTTL,
	}, coordinator, nets, sessions.Handler())
	if err != nil {
		return err
	}

	pairURL, err := srv.NewPairCode()
	if err != nil {
		return err
	}
	log.Info("open the consent UI to pair", "url", pairURL)

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", addr, "accounts", len(w.Accounts()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "HTTP server error")
		}
	}

	// pending relay requests get their abandoned reply before the listener stops
	coordinator.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", "error", err)
		return err
	}
	log.Info("HTTP server gracefully stopped")
	return nil
}

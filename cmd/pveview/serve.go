package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rcourtman/pveview/internal/api"
	"github.com/rcourtman/pveview/internal/config"
	"github.com/rcourtman/pveview/internal/logging"
	"github.com/rcourtman/pveview/internal/poller"
	"github.com/rcourtman/pveview/internal/session"
	"github.com/rcourtman/pveview/internal/websocket"
	"github.com/rcourtman/pveview/pkg/pve"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the cluster and serve the live view (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var (
	stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	readPassword    = func() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) }
)

// loadConfig loads and validates the configuration. A missing password is
// asked for on the terminal when one is attached.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if cfg.TokenID == "" && cfg.User != "" && cfg.Password == "" && stdinIsTerminal() {
		fmt.Fprintf(os.Stderr, "Password for %s: ", cfg.User)
		pw, err := readPassword()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		cfg.Password = strings.TrimRight(string(pw), "\r\n")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServer(ctx context.Context) error {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "pveview",
	})

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "pveview",
	})

	var preset *config.ViewPreset
	if cfg.ViewFile != "" {
		if preset, err = config.LoadViewPreset(cfg.ViewFile); err != nil {
			return err
		}
	}

	client, err := pve.NewClient(cfg.ClientConfig())
	if err != nil {
		return fmt.Errorf("create cluster client: %w", err)
	}
	defer client.Logout()

	sess := session.New(preset)
	hub := websocket.NewHub(func() any { return sess.Snapshot() }, cfg.AllowedOrigins)
	publish := func(u *session.Update) { hub.BroadcastChangeSet(u) }

	p := poller.New(client, sess, publish, poller.Options{
		Interval:      cfg.PollInterval,
		RenewInterval: cfg.TicketRenewInterval,
		OnReset:       hub.BroadcastState,
	})

	router := api.NewRouter(api.Options{
		Session: sess,
		Hub:     hub,
		Status:  p.Status,
		Publish: publish,
		Version: Version,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var watcher *config.ViewWatcher
	if cfg.ViewFile != "" {
		watcher, err = config.NewViewWatcher(cfg.ViewFile, func(vp *config.ViewPreset) {
			update, err := sess.SetView(vp)
			if err != nil {
				log.Error().Err(err).Str("preset", vp.Name).Msg("Failed to apply view preset")
				return
			}
			if !update.Empty() {
				publish(update)
			}
		})
		if err != nil {
			return fmt.Errorf("watch view file: %w", err)
		}
		watcher.Start()
		defer watcher.Stop()
	}

	log.Info().
		Str("version", Version).
		Str("cluster", client.Endpoint()).
		Bool("token_auth", client.UsesToken()).
		Dur("poll_interval", cfg.PollInterval).
		Msg("Starting pveview")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return p.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		reload := make(chan os.Signal, 1)
		signal.Notify(reload, syscall.SIGHUP)
		defer signal.Stop(reload)

		for {
			select {
			case <-reload:
				if watcher != nil {
					log.Info().Msg("Received SIGHUP, reloading view file")
					watcher.Reload()
				}
			case <-gctx.Done():
				log.Info().Msg("Shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown http server: %w", err)
				}
				return nil
			}
		}
	})

	err = g.Wait()
	sess.Close()
	log.Info().Msg("pveview stopped")
	return err
}

package cmd

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/clubhouse/api"
	"github.com/jmcleod/clubhouse/identity/local"
	"github.com/jmcleod/clubhouse/internal/config"
	"github.com/jmcleod/clubhouse/internal/util"
	"github.com/jmcleod/clubhouse/mail"
	"github.com/jmcleod/clubhouse/records"
	"github.com/jmcleod/clubhouse/storage"
	"github.com/jmcleod/clubhouse/web"
)

const shutdownTimeout = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the website server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := cfg.Logger(os.Stderr)
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		repo, closeRepo, err := openRepository(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer closeRepo()

		svc, err := newIdentityService(repo, cfg, logger)
		if err != nil {
			return err
		}

		opts, cleanup, err := apiOptions(repo, cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()
		store := records.New(repo)
		composer := mail.NewComposer(cfg.Mail.ContactAddress)
		opts = append(opts, api.WithRecords(store), api.WithComposer(composer))

		a := api.New(repo, svc, opts...)
		defer a.Close()

		site, err := web.New(web.Config{
			Records:          store,
			Composer:         composer,
			Source:           a.SessionSource,
			CSRFToken:        api.CSRFToken,
			SignIn:           http.HandlerFunc(a.LoginForm),
			SignOut:          http.HandlerFunc(a.LogoutForm),
			LimitSubmissions: a.LimitSubmissions,
			MinVerify:        cfg.Guard.MinVerify,
			Logger:           logger,
		})
		if err != nil {
			return err
		}

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Use(api.SecurityHeaders)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Mount("/api/v1", a.Router())
		r.Mount("/", api.CSRFMiddleware(site.Handler()))

		server := &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// No WriteTimeout: /api/v1/auth/stream holds responses open and
			// clears its own deadline. Other handlers are bounded by the
			// guard and request contexts.
			IdleTimeout: 60 * time.Second,
			ErrorLog:    slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		}
		if !cfg.Server.Insecure {
			tlsConfig, err := loadTLSConfig(cfg.Server, logger)
			if err != nil {
				return err
			}
			server.TLSConfig = tlsConfig
		}

		printBanner(cmd.OutOrStdout())
		logger.Info("starting server",
			"addr", server.Addr,
			"tls", !cfg.Server.Insecure,
			"storage", cfg.Storage.Backend,
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			if cfg.Server.Insecure {
				err = server.ListenAndServe()
			} else {
				err = server.ListenAndServeTLS("", "")
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntP("port", "p", 8443, "Port to listen on")
	serverCmd.Flags().String("host", "", "Interface to listen on")
	serverCmd.Flags().String("tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().String("tls-key", "", "Path to TLS key file")
	serverCmd.Flags().Bool("insecure", false, "Serve plain HTTP (behind a TLS-terminating proxy)")
	serverCmd.Flags().String("log-level", "", "Log level: debug, info, warn or error")
	serverCmd.Flags().String("log-format", "", "Log format: json or text")
}

func newIdentityService(repo storage.Repository, cfg *config.Config, logger *slog.Logger) (*local.Service, error) {
	opts := []local.Option{
		local.WithIssuer(cfg.Auth.Issuer),
		local.WithTokenTTL(cfg.Auth.TokenTTL),
		local.WithRefreshTTL(cfg.Auth.SessionTTL),
		local.WithLogger(logger),
	}
	if cfg.Auth.SigningKey != "" {
		key, err := hex.DecodeString(cfg.Auth.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("decoding auth.signing_key: %w", err)
		}
		opts = append(opts, local.WithSigningKey(key))
	}
	return local.New(repo, opts...)
}

// apiOptions translates the configuration into API options. cleanup
// releases the persistent session store, if one was opened.
func apiOptions(repo storage.Repository, cfg *config.Config, logger *slog.Logger) (opts []api.Option, cleanup func(), err error) {
	cleanup = func() {}
	opts = []api.Option{
		api.WithLogger(logger),
		api.WithMinVerify(cfg.Guard.MinVerify),
		api.WithSessionTTL(cfg.Auth.SessionTTL),
		api.WithIdleTimeout(cfg.Auth.IdleTimeout),
		api.WithAlertFunc(func(e api.AlertEvent) {
			logger.Warn("security alert",
				"type", e.Type,
				"message", e.Message,
				"count", e.Count,
				"threshold", e.Threshold,
			)
		}),
	}

	if len(cfg.Server.TrustedProxies) > 0 {
		opt, err := api.WithTrustedProxies(cfg.Server.TrustedProxies)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing server.trusted_proxies: %w", err)
		}
		opts = append(opts, opt)
	}
	if cfg.Audit.WebhookURL != "" {
		opts = append(opts, api.WithAuditWebhook(cfg.Audit.WebhookURL, cfg.Audit.WebhookHeader))
	}
	if cfg.Auth.SessionKey != "" {
		key, err := util.DecodeAESKeyHex(cfg.Auth.SessionKey)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding auth.session_key: %w", err)
		}
		sessions, err := api.NewPersistentSessionStore(repo, cfg.Auth.IdleTimeout, key)
		if err != nil {
			return nil, nil, fmt.Errorf("opening session store: %w", err)
		}
		opts = append(opts, api.WithSessionStore(sessions))
		cleanup = sessions.Close
	}
	return opts, cleanup, nil
}

func loadTLSConfig(cfg config.ServerConfig, logger *slog.Logger) (*tls.Config, error) {
	var cert tls.Certificate
	var err error
	if cfg.TLSCert != "" {
		cert, err = tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
	} else {
		cert, err = util.GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		logger.Warn("using self-signed runtime generated certificate for TLS")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

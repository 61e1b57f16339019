package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/workdeck/account-session-service/internal/app"
	"github.com/workdeck/account-session-service/internal/config"
	"github.com/workdeck/account-session-service/internal/gate"
	"github.com/workdeck/account-session-service/internal/http/handler"
	"github.com/workdeck/account-session-service/internal/http/router"
	"github.com/workdeck/account-session-service/internal/oauth"
	"github.com/workdeck/account-session-service/internal/observability"
	"github.com/workdeck/account-session-service/internal/repository"
	"github.com/workdeck/account-session-service/internal/scope"
	"github.com/workdeck/account-session-service/internal/security"
	"github.com/workdeck/account-session-service/internal/service"
	"github.com/workdeck/account-session-service/internal/session"
)

func main() {
	root := &cobra.Command{
		Use:          "account-session-service",
		Short:        "Multi-account session and OAuth token lifecycle service",
		SilenceUsage: true,
	}
	root.AddCommand(serveCommand())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, loggerProvider, err := observability.InitLogging(ctx, cfg)
	if err != nil {
		return err
	}
	runtime, err := observability.InitRuntime(ctx, cfg, logger, loggerProvider)
	if err != nil {
		return err
	}

	db, err := repository.OpenDatabase(cfg)
	if err != nil {
		return err
	}
	accountRepo := repository.NewAccountRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	var revocations session.RevocationStore
	if cfg.RedisEnabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		revocations = session.NewRedisRevocationStore(client, "session_revocations")
	}

	codec := security.NewCarrierCodec(cfg.OTELServiceName, cfg.CarrierSecret)
	sessions := session.NewManager(codec, revocations, session.ManagerOptions{
		CookieName:   cfg.CarrierCookieName,
		CookieMaxAge: cfg.CarrierCookieMaxAge,
		CookieSecure: cfg.CarrierCookieSecure,
		SessionTTL:   cfg.SessionTTL,
		MaxAccounts:  cfg.MaxAccountsPerSession,
	})

	provider := oauth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL, cfg.ProviderTimeout)
	registry := scope.NewRegistry()
	accessGate := gate.New(accountRepo, tokenRepo, provider, registry, provider, cfg.TokenRefreshSkew)
	accountService := service.NewAccountService(accountRepo, tokenRepo, provider)

	deps := router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(accountService, sessions, provider, cfg.CarrierCookieSecure),
		SessionHandler:   handler.NewSessionHandler(sessions, accessGate),
		SessionManager:   sessions,
		CORSOrigins:      cfg.CORSOrigins,
		APIRateLimitRPM:  cfg.APIRateLimitRPM,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		EnableOTelHTTP:   cfg.OTELTracesEnabled,
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	return app.New(cfg, logger, server, runtime).Run(ctx)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-chi/jwtauth/v5"
	"github.com/jinzhu/copier"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"
	"github.com/tendant/simple-sso/pkg/config"
	"github.com/tendant/simple-sso/pkg/externalprovider"
	"github.com/tendant/simple-sso/pkg/externalprovider/api"
	"github.com/tendant/simple-sso/pkg/identity"
	"github.com/tendant/simple-sso/pkg/notification"
	"github.com/tendant/simple-sso/pkg/tokengenerator"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	}))
	slog.SetDefault(logger)

	configFile := flag.String("config", os.Getenv("SSO_CONFIG"), "Optional YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	repo, closeRepo, err := newRepository(ctx, cfg.Store)
	if err != nil {
		slog.Error("Failed to open identity store", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	defer closeRepo()

	tokenGenerator, err := tokengenerator.NewJwtTokenGenerator(cfg.Jwt.Key, cfg.Jwt.Issuer, cfg.Jwt.Audience)
	if err != nil {
		slog.Error("Failed to create token generator", "err", err)
		os.Exit(1)
	}

	registry, err := newRegistry(ctx, cfg.Providers.Enabled())
	if err != nil {
		slog.Error("Failed to configure external providers", "err", err)
		os.Exit(1)
	}
	if len(registry.List()) == 0 {
		slog.Warn("No external providers configured")
	}

	states, err := newStateRepository(cfg)
	if err != nil {
		slog.Error("Failed to create state repository", "err", err)
		os.Exit(1)
	}

	opts := []externalprovider.Option{
		externalprovider.WithRequireVerifiedEmail(cfg.Login.RequireVerifiedEmail),
	}
	if cfg.Email.Enabled {
		manager, err := notification.NewNotificationManagerWithOptions(cfg.FrontendURL,
			notification.WithSMTP(cfg.Email.ToSMTPConfig()),
			notification.WithLoginLinkedTemplate(),
		)
		if err != nil {
			slog.Error("Failed to create notification manager", "err", err)
			os.Exit(1)
		}
		opts = append(opts, externalprovider.WithLinkNotifier(notification.NewLoginLinkNotifier(manager)))
	}

	service := externalprovider.NewExternalLoginService(repo, tokenGenerator, opts...)
	handshake := externalprovider.NewHandshake(registry, states, cfg.BaseURL,
		externalprovider.WithStateExpiration(cfg.Login.StateExpiration))
	handle := api.NewHandle(handshake, registry, service, repo, cfg.FrontendURL)
	tokenAuth := jwtauth.New("HS256", []byte(cfg.Jwt.Key), nil)

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)
	api.Routes(server.R, handle, tokenAuth)

	slog.Info("Starting SSO service",
		"base_url", cfg.BaseURL,
		"callback_url", handshake.CallbackURL(),
		"store", cfg.Store.Backend,
		"providers", len(registry.List()))
	server.Run()
}

func newRepository(ctx context.Context, store config.StoreConfig) (identity.Repository, func(), error) {
	noop := func() {}
	switch store.Backend {
	case config.StoreFile:
		repo, err := identity.NewFileRepository(store.DataDir)
		return repo, noop, err
	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(store.SQLitePath), 0755); err != nil {
			return nil, noop, err
		}
		repo, err := identity.NewSQLiteRepository(store.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return repo, func() { repo.Close() }, nil
	case config.StorePostgres:
		dbConfig := store.Database.ToDbConfig()
		pool, err := dbutils.NewDbPool(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed creating dbpool", "db", dbConfig.Database, "host", dbConfig.Host, "port", dbConfig.Port, "user", dbConfig.User)
			return nil, noop, err
		}
		repo := identity.NewPostgresRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("failed to migrate schema: %w", err)
		}
		return repo, pool.Close, nil
	default:
		slog.Warn("Using in-memory identity store, users are lost on restart")
		return identity.NewInMemoryRepository(), noop, nil
	}
}

func newStateRepository(cfg *config.Config) (externalprovider.StateRepository, error) {
	if cfg.Login.PersistState {
		return externalprovider.NewFileStateRepository(cfg.Store.DataDir)
	}
	return externalprovider.NewInMemoryStateRepository(), nil
}

func newRegistry(ctx context.Context, settings []config.ProviderSettings) (*externalprovider.Registry, error) {
	registry := externalprovider.NewRegistry()
	for _, s := range settings {
		var pc externalprovider.ProviderConfig
		if err := copier.Copy(&pc, &s); err != nil {
			return nil, fmt.Errorf("failed to copy %s settings: %w", s.Name, err)
		}

		var provider externalprovider.Provider
		switch s.Kind {
		case config.KindGoogle:
			provider = externalprovider.NewGoogleProvider(pc)
		case config.KindGitHub:
			provider = externalprovider.NewGitHubProvider(pc)
		case config.KindMicrosoft:
			provider = externalprovider.NewMicrosoftProvider(pc)
		case config.KindOIDC:
			p, err := externalprovider.NewOIDCProvider(ctx, pc)
			if err != nil {
				return nil, err
			}
			provider = p
		default:
			return nil, fmt.Errorf("unknown provider kind %q", s.Kind)
		}

		slog.Info("External provider enabled", "provider", provider.Name())
		registry.Register(provider)
	}
	return registry, nil
}

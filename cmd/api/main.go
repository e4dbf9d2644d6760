package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/federation"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/federation/provider"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	tokenrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/token/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

type identityStore interface {
	identity.Store
	federation.Store
}

type refreshRegistry interface {
	token.Registry
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-auth-go")

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store    identityStore
		registry refreshRegistry
		db       *sqlx.DB
	)
	switch cfg.IdentityStore {
	case config.StoreMemory:
		sugar.Warn("using in-memory identity store; accounts are lost on restart")
		store = repo.NewMemoryRepo()
		registry = tokenrepo.NewMemoryRefreshRepo()
	default:
		db, err = database.Connect(database.ConfigFromEnv())
		if err != nil {
			sugar.Fatalf("db connect: %v", err)
		}
		defer db.Close()

		identities := repo.NewIdentityRepo(db)
		if err := identities.EnsureTable(ctx); err != nil {
			sugar.Fatalf("ensure identities table: %v", err)
		}
		refresh := tokenrepo.NewRefreshRepo(db)
		if err := refresh.EnsureTable(ctx); err != nil {
			sugar.Fatalf("ensure refresh token table: %v", err)
		}
		store, registry = identities, refresh
	}

	tokens, err := token.NewService(token.Config{
		Secret:     []byte(cfg.JWTSecret),
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.JWTAccessTTL,
		RefreshTTL: cfg.JWTRefreshTTL,
	}, registry)
	if err != nil {
		sugar.Fatalf("token service: %v", err)
	}

	states, closeStates := stateStore(ctx, cfg, sugar)
	defer closeStates()

	policy := auth.DefaultPolicy(cfg.AnonymousPrefixes())
	handler := router.RegisterRoutes(router.Deps{
		Logger:   sugar,
		Identity: identity.NewHandler(identity.NewService(store, identity.BcryptHasher{Cost: cfg.BcryptCost}, sugar), tokens, sugar),
		Federation: federation.NewHandler(providers(ctx, cfg, sugar), states, federation.NewService(store, sugar), tokens, federation.HandlerConfig{
			SuccessURL: cfg.OAuthClientRedirectURL,
			FailureURL: cfg.OAuthFailureRedirectURL,
			Debug:      cfg.OAuthDebug,
			StateTTL:   cfg.OAuthStateTTL,
		}, sugar),
		Interceptor: auth.NewInterceptor(tokens, store, policy.AnonymousPrefixes(), sugar),
		Policy:      policy,
		CORSOrigins: cfg.AllowedOrigins(),
		Debug:       cfg.OAuthDebug,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go purgeExpired(ctx, registry, sugar)

	// run server in background
	go func() {
		sugar.Infow("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	if db != nil {
		if err := db.PingContext(doneCtx); err != nil {
			sugar.Warnf("db ping on shutdown failed: %v", err)
		}
	}

	sugar.Info("goodbye")
}

// stateStore picks Redis when REDIS_ADDR is set and falls back to process memory.
func stateStore(ctx context.Context, cfg config.Config, sugar *zap.SugaredLogger) (federation.StateStore, func()) {
	if cfg.RedisAddr == "" {
		sugar.Info("oauth state kept in memory; set REDIS_ADDR when running more than one instance")
		return federation.NewMemoryStateStore(), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		sugar.Fatalf("redis ping: %v", err)
	}
	return federation.NewRedisStateStore(client), func() { _ = client.Close() }
}

func providers(ctx context.Context, cfg config.Config, sugar *zap.SugaredLogger) *federation.Registry {
	var list []federation.Provider
	if cfg.GoogleEnabled() {
		g, err := provider.NewGoogle(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		if err != nil {
			sugar.Warnw("google login disabled", "err", err)
		} else {
			list = append(list, g)
		}
	}
	if cfg.GitHubEnabled() {
		gh, err := provider.NewGitHub(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubRedirectURL)
		if err != nil {
			sugar.Warnw("github login disabled", "err", err)
		} else {
			list = append(list, gh)
		}
	}
	reg := federation.NewRegistry(list...)
	sugar.Infow("oauth providers", "enabled", reg.Names())
	return reg
}

// purgeExpired drops dead refresh records once an hour.
func purgeExpired(ctx context.Context, registry refreshRegistry, sugar *zap.SugaredLogger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := registry.DeleteExpired(ctx, now)
			if err != nil {
				sugar.Warnw("purge expired refresh tokens failed", "err", err)
				continue
			}
			if n > 0 {
				sugar.Debugw("purged expired refresh tokens", "count", n)
			}
		}
	}
}

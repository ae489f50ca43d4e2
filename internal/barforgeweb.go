package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jtaw5649/barforge-web/internal/authz"
	"github.com/jtaw5649/barforge-web/internal/config"
	"github.com/jtaw5649/barforge-web/internal/crypto"
	"github.com/jtaw5649/barforge-web/internal/idp"
	"github.com/jtaw5649/barforge-web/internal/log"
	"github.com/jtaw5649/barforge-web/internal/registry"
	"github.com/jtaw5649/barforge-web/internal/server"
	"github.com/jtaw5649/barforge-web/internal/session"
	"github.com/jtaw5649/barforge-web/internal/storage"
)

// BarforgeWeb is the complete web front application
type BarforgeWeb struct {
	config     config.Config
	httpServer *server.HTTPServer
	store      storage.Store
	cleanup    *storage.CleanupManager
}

// NewBarforgeWeb creates the application with all dependencies built
func NewBarforgeWeb(ctx context.Context, cfg config.Config) (*BarforgeWeb, error) {
	log.LogInfoWithFields("barforgeweb", "Building web front application", map[string]any{
		"baseURL":  cfg.Web.BaseURL,
		"registry": cfg.Web.RegistryURL,
		"backend":  string(cfg.Web.Sessions.Backend),
	})

	if _, err := url.Parse(cfg.Web.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	store, err := setupStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup session storage: %w", err)
	}

	key := crypto.DeriveKey(string(cfg.Web.TokenSecret))

	var providerOpts []idp.GitHubOption
	if cfg.Web.GitHub.AuthURL != "" && cfg.Web.GitHub.TokenURL != "" {
		providerOpts = append(providerOpts, idp.WithEndpoints(cfg.Web.GitHub.AuthURL, cfg.Web.GitHub.TokenURL))
	}
	if cfg.Web.GitHub.APIBaseURL != "" {
		providerOpts = append(providerOpts, idp.WithAPIBaseURL(cfg.Web.GitHub.APIBaseURL))
	}
	provider := idp.NewGitHubProvider(
		string(cfg.Web.GitHub.ClientID),
		string(cfg.Web.GitHub.ClientSecret),
		cfg.Web.GitHub.RedirectURI,
		providerOpts...,
	)

	registryClient := registry.NewClient(cfg.Web.RegistryURL)
	resolver := authz.NewResolver(cfg.Web.AdminLogins, registryClient, key)
	sessionManager := session.NewManager(store, cfg.Web.Sessions.TTL)

	handler := buildHTTPHandler(cfg, sessionManager, provider, registryClient, resolver, key)

	return &BarforgeWeb{
		config:     cfg,
		httpServer: server.NewHTTPServer(handler, cfg.Web.Addr),
		store:      store,
		cleanup:    storage.NewCleanupManager(store, cfg.Web.Sessions.CleanupInterval),
	}, nil
}

// Run starts the application and blocks until shutdown
func (b *BarforgeWeb) Run() error {
	log.LogInfoWithFields("barforgeweb", "Starting web front", map[string]any{
		"addr": b.config.Web.Addr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b.cleanup.Start(ctx)

	errChan := make(chan error, 1)
	go func() {
		if err := b.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("barforgeweb", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("barforgeweb", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	case <-ctx.Done():
		shutdownReason = "context cancelled"
	}

	log.LogInfoWithFields("barforgeweb", "Starting graceful shutdown", map[string]any{
		"reason": shutdownReason,
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := b.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("barforgeweb", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	b.cleanup.Stop()
	if err := b.store.Close(); err != nil {
		log.LogWarnWithFields("barforgeweb", "Session store close error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("barforgeweb", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return nil
}

// setupStorage creates the session store selected by the configuration
func setupStorage(ctx context.Context, cfg config.Config) (storage.Store, error) {
	sessions := cfg.Web.Sessions

	switch sessions.Backend {
	case config.SessionBackendRedis:
		log.LogInfoWithFields("storage", "Using Redis session store", map[string]any{
			"addr": sessions.RedisAddr,
			"db":   sessions.RedisDB,
		})
		return storage.NewRedisStore(ctx, sessions.RedisAddr, sessions.RedisDB, sessions.TTL)

	case config.SessionBackendFirestore:
		log.LogInfoWithFields("storage", "Using Firestore session store", map[string]any{
			"project":    sessions.FirestoreProject,
			"collection": sessions.FirestoreCollection,
		})
		return storage.NewFirestoreStore(ctx, sessions.FirestoreProject, sessions.FirestoreCollection, sessions.TTL)

	default:
		log.LogInfoWithFields("storage", "Using in-memory session store", nil)
		return storage.NewMemoryStore(sessions.TTL), nil
	}
}

// buildHTTPHandler assembles the route table and middleware chains
func buildHTTPHandler(
	cfg config.Config,
	sessionManager *session.Manager,
	provider idp.Provider,
	registryClient *registry.Client,
	resolver *authz.Resolver,
	key [32]byte,
) http.Handler {
	mux := http.NewServeMux()

	authLogger := server.NewLoggerMiddleware("auth")
	apiLogger := server.NewLoggerMiddleware("api")
	recoverMW := server.NewRecoverMiddleware("web")
	cors := server.NewCORSMiddleware(cfg.Web.AllowedOrigins)
	requestID := server.NewRequestIDMiddleware()
	sessions := server.NewSessionMiddleware(sessionManager)
	csrf := server.NewCSRFMiddleware()

	mux.Handle("/health", server.NewHealthHandler())

	authHandlers := server.NewAuthHandlers(provider, registryClient, resolver, key)
	proxyHandlers := server.NewProxyHandlers(registryClient, key)

	// The OAuth round trip is CSRF-protected by the state parameter, not
	// by the header token, so the callback chain omits the csrf middleware
	authChain := func(h http.HandlerFunc) http.Handler {
		return server.ChainMiddleware(h, sessions, cors, authLogger, requestID, recoverMW)
	}
	apiChain := func(h http.HandlerFunc) http.Handler {
		return server.ChainMiddleware(h, csrf, sessions, cors, apiLogger, requestID, recoverMW)
	}

	mux.Handle("GET /auth/github", authChain(authHandlers.LoginHandler))
	mux.Handle("GET /auth/github/callback", authChain(authHandlers.CallbackHandler))
	mux.Handle("POST /auth/logout", apiChain(authHandlers.LogoutHandler))

	mux.Handle("GET /api/session", apiChain(authHandlers.SessionStatusHandler))
	mux.Handle("GET /api/csrf-token", apiChain(authHandlers.CSRFTokenHandler))

	mux.Handle("/api/stars", apiChain(proxyHandlers.StarsHandler))
	mux.Handle("/api/stars/", apiChain(proxyHandlers.StarsHandler))
	mux.Handle("/api/notifications", apiChain(proxyHandlers.NotificationsHandler))
	mux.Handle("/api/notifications/", apiChain(proxyHandlers.NotificationsHandler))

	log.LogInfoWithFields("server", "Web front routes initialized", nil)
	return mux
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tariel-x/agentdesk/internal/auth"
	"github.com/tariel-x/agentdesk/internal/callers"
	"github.com/tariel-x/agentdesk/internal/config"
	"github.com/tariel-x/agentdesk/internal/gateway"
	"github.com/tariel-x/agentdesk/internal/handlers"
	"github.com/tariel-x/agentdesk/internal/notify"
	"github.com/tariel-x/agentdesk/internal/push"
	"github.com/tariel-x/agentdesk/internal/static"
	"github.com/tariel-x/agentdesk/internal/websocket"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

const AppVersion = "1.0.0"

// Build timestamp - set at compile time or use current time
var buildTimestamp = time.Now().Unix()

func main() {
	httpOnly := flag.Bool("http-only", false, "Serve plain HTTP regardless of TLS_MODE")
	selfSigned := flag.Bool("self-signed", false, "Serve HTTPS with a generated self-signed certificate")
	flag.Parse()

	if err := run(*httpOnly, *selfSigned); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(httpOnly, selfSigned bool) error {
	cfg, err := config.Load(httpOnly, selfSigned)
	if err != nil {
		return err
	}

	logger, closeLog := newLogger(cfg)
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info(fmt.Sprintf("Agent Desk v%s (build: %d)", AppVersion, buildTimestamp),
		"tls_mode", cfg.TLSMode,
		"agent_auth", cfg.AgentGateEnabled(),
	)

	gw, err := gateway.NewOpenTok(gateway.Config{
		APIKey:    cfg.OpenTok.APIKey,
		APISecret: cfg.OpenTok.APISecret,
		BaseURL:   cfg.OpenTok.BaseURL,
	})
	if err != nil {
		return err
	}

	hub := websocket.NewHub(logger.With("component", "ws"))
	defer hub.Close()

	registry := callers.NewRegistry(callers.Policy{
		TTL:             cfg.Callers.TTL,
		MaxCallers:      cfg.Callers.MaxCallers,
		CleanupInterval: cfg.Callers.CleanupInterval,
		SignalTimeout:   cfg.OpenTok.SignalTimeout,
	}, logger.With("component", "callers"), hub, notify.NewSignaler(gw))

	pushNotifier, closePush, err := newPushNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer closePush()

	var agents *auth.Manager
	if cfg.AgentGateEnabled() {
		agents, err = auth.NewManager(cfg.Agent.PasswordHash, cfg.Agent.JWTSecret, cfg.Agent.SessionTTL)
		if err != nil {
			return fmt.Errorf("agent gate: %w", err)
		}
	}

	h := handlers.New(cfg, registry, gw, hub, pushNotifier, agents, logger)
	router := setupRouter(h, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Callers.TTL > 0 {
		go registry.RunCleanup(ctx)
	}

	err = serve(ctx, router, cfg, logger)
	if errors.Is(err, context.Canceled) {
		logger.Info("server stopped")
		return nil
	}
	return err
}

func newPushNotifier(cfg *config.Config, logger *slog.Logger) (*push.Notifier, func(), error) {
	keys := push.Keys{
		PublicKey:  cfg.VAPID.PublicKey,
		PrivateKey: cfg.VAPID.PrivateKey,
		Subject:    cfg.VAPID.Subject,
	}
	if keys.PublicKey == "" {
		generated, err := push.GenerateKeys(cfg.VAPID.Subject)
		if err != nil {
			return nil, nil, fmt.Errorf("generate vapid keys: %w", err)
		}
		keys = generated
		logger.Warn("VAPID keys not configured, using ephemeral keys; agents must resubscribe after restart")
	}

	var store push.Store
	closeFn := func() {}
	if cfg.VAPID.StorePath != "" {
		sqlStore, err := push.OpenSQLite(cfg.VAPID.StorePath)
		if err != nil {
			return nil, nil, fmt.Errorf("push store: %w", err)
		}
		store = sqlStore
		closeFn = func() { _ = sqlStore.Close() }
		logger.Info("push subscriptions stored on disk", "path", cfg.VAPID.StorePath)
	}

	return push.NewNotifier(keys, store, logger.With("component", "push")), closeFn, nil
}

func setupRouter(h *handlers.Handlers, cfg *config.Config, logger *slog.Logger) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(slogGinLogger(logger))
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/ws"})))

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	h.Register(router)
	static.RegisterUIRoutes(router, cfg)

	return router
}

// Frontdesk — the multitenant virtual receptionist platform.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/marcus-qen/frontdesk/internal/aiprovider"
	"github.com/marcus-qen/frontdesk/internal/audit"
	"github.com/marcus-qen/frontdesk/internal/auth"
	"github.com/marcus-qen/frontdesk/internal/autoscale"
	"github.com/marcus-qen/frontdesk/internal/callback"
	"github.com/marcus-qen/frontdesk/internal/carrier"
	"github.com/marcus-qen/frontdesk/internal/config"
	"github.com/marcus-qen/frontdesk/internal/directory"
	"github.com/marcus-qen/frontdesk/internal/events"
	"github.com/marcus-qen/frontdesk/internal/gateway"
	"github.com/marcus-qen/frontdesk/internal/ledger"
	"github.com/marcus-qen/frontdesk/internal/mcpserver"
	"github.com/marcus-qen/frontdesk/internal/routing"
	"github.com/marcus-qen/frontdesk/internal/server"
	"github.com/marcus-qen/frontdesk/internal/session"
	"github.com/marcus-qen/frontdesk/internal/shared/privacy"
	"github.com/marcus-qen/frontdesk/internal/shared/ratelimit"
	"github.com/marcus-qen/frontdesk/internal/shared/signing"
	"github.com/marcus-qen/frontdesk/internal/store"
	"github.com/marcus-qen/frontdesk/internal/telemetry"
	"github.com/marcus-qen/frontdesk/internal/tenant"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func newLogger(level string) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

func main() {
	configPath := flag.String("config", os.Getenv("FRONTDESK_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	server.Version, server.Commit, server.Date = version, commit, date
	mcpserver.Version = version

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Tracing
	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = shutdownTracing(shutdownCtx)
	}()

	// Shared database handle for callbacks and API keys
	db, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("cannot open database", zap.Error(err))
	}
	defer db.Close()

	// Persistent subsystems
	auditStore, err := audit.NewStore(cfg.DatabaseDSN, 10000)
	if err != nil {
		logger.Fatal("cannot open audit store", zap.Error(err))
	}
	defer auditStore.Close()
	go auditStore.PurgeLoop(ctx, 90*24*time.Hour, time.Hour)

	credits, err := ledger.NewStore(cfg.DatabaseDSN, logger.Named("ledger"))
	if err != nil {
		logger.Fatal("cannot open credit ledger", zap.Error(err))
	}
	defer credits.Close()

	cycleWorker, err := ledger.NewCycleWorker(credits, "", logger.Named("cycle"))
	if err != nil {
		logger.Fatal("invalid cycle schedule", zap.Error(err))
	}
	go cycleWorker.Run(ctx)

	// Registries
	hasher := privacy.NewHasher([]byte(cfg.FingerprintSalt))
	tenants := tenant.NewRegistry(logger.Named("tenants"))
	agents := directory.New(logger.Named("directory"))
	tenants.RegisterCascade(agents)

	callbacks, err := callback.NewQueue(db, tenants, hasher, logger.Named("callbacks"))
	if err != nil {
		logger.Fatal("cannot open callback queue", zap.Error(err))
	}
	tenants.RegisterCascade(callbacks)

	bus := events.NewBus(256)

	// AI conversation gateway
	endpoints := make([]gateway.Endpoint, 0, len(cfg.Provider.Endpoints))
	for _, ep := range cfg.Provider.Endpoints {
		endpoints = append(endpoints, gateway.Endpoint{
			ID:        ep.ID,
			URL:       ep.URL,
			HealthURL: ep.HealthURL,
			Weight:    ep.Weight,
			Priority:  ep.Priority,
		})
	}
	gw, err := gateway.New(gateway.Config{
		Endpoints: endpoints,
		Policy:    gateway.Policy(cfg.Provider.Policy),
	}, bus, logger.Named("gateway"))
	if err != nil {
		logger.Fatal("cannot build gateway", zap.Error(err))
	}
	go gw.Run(ctx)

	dialer := &aiprovider.Dialer{APIKey: cfg.Provider.APIKey, Log: logger.Named("aiprovider")}
	opener := gateway.NewOpener(gw, dialer, logger.Named("opener"))

	// Carrier edge
	verifier := signing.NewVerifier([]byte(cfg.Carrier.SigningToken))
	phone := carrier.NewTelephony(cfg.Carrier.CommandURL, verifier, logger.Named("telephony"))

	// The carrier bridge rings the agent leg itself; busy and no-answer
	// come back through status callbacks, so offers accept immediately.
	offerer := routing.OfferFunc(func(_ context.Context, _ directory.Agent, _ routing.Request) (bool, error) {
		return true, nil
	})
	engine := routing.NewEngine(agents, tenants, offerer, logger.Named("routing"))

	sessionStore := session.NewStore()
	sessions := session.NewOrchestrator(
		session.DefaultConfig(),
		tenants, engine, credits, callbacks, opener, phone,
		auditStore, bus, hasher, sessionStore, logger.Named("sessions"),
	)

	scheduler := callback.NewScheduler(callbacks,
		callback.DialFunc(func(_ context.Context, cb callback.Callback) (callback.DialResult, error) {
			answered, err := phone.Originate(cb.Number, "")
			if err != nil {
				return callback.DialResult{Outcome: callback.OutcomeFailed}, err
			}
			if !answered {
				return callback.DialResult{Outcome: callback.OutcomeNoAnswer}, nil
			}
			return callback.DialResult{Outcome: callback.OutcomeConnected, Resolved: true}, nil
		}),
		bus, 30*time.Second, logger.Named("scheduler"))
	go scheduler.Run(ctx)

	numbers := make(map[string]config.NumberMapping, len(cfg.Carrier.Numbers))
	for _, nm := range cfg.Carrier.Numbers {
		numbers[nm.Number] = nm
	}
	resolve := carrier.NumberResolver(func(dialed string) (string, string, bool) {
		nm, ok := numbers[dialed]
		return nm.TenantID, nm.Department, ok
	})
	webhook := carrier.NewWebhook(sessions, resolve, verifier, cfg.Carrier.MediaURL, logger.Named("carrier"))

	// Media worker autoscaling
	var scaler server.Scaler
	if cfg.Autoscale.Enabled {
		restCfg, err := rest.InClusterConfig()
		if err != nil {
			logger.Warn("autoscaling disabled, no cluster config", zap.Error(err))
		} else {
			clientset, err := kubernetes.NewForConfig(restCfg)
			if err != nil {
				logger.Warn("autoscaling disabled", zap.Error(err))
			} else {
				controller := autoscale.New(
					autoscale.DefaultConfig(),
					func() int { return sessionStore.ActiveCount("") },
					&autoscale.DeploymentExecutor{
						Client:     clientset,
						Namespace:  cfg.Autoscale.Namespace,
						Deployment: cfg.Autoscale.Deployment,
					},
					bus,
					zapr.NewLogger(logger),
				)
				scaler = controller
				go func() {
					if err := controller.Start(ctx); err != nil {
						logger.Error("autoscaler stopped", zap.Error(err))
					}
				}()
			}
		}
	}

	// Auth
	keys, err := auth.NewKeyStore(db)
	if err != nil {
		logger.Fatal("cannot open key store", zap.Error(err))
	}
	var oidcVerifier auth.TokenVerifier
	if cfg.OIDC.Enabled {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDC, logger)
		if err != nil {
			logger.Fatal("cannot configure oidc", zap.Error(err))
		}
		oidcVerifier = v
	}

	// MCP admin tools
	mcp := mcpserver.New(tenants, agents, callbacks, credits, auditStore, gw, logger)

	srv := server.New(server.Deps{
		Tenants:   tenants,
		Agents:    agents,
		Callbacks: callbacks,
		Credits:   credits,
		Audit:     auditStore,
		Gateway:   gw,
		Webhook:   webhook,
		Sessions:  sessionStore,
		Scaler:    scaler,
		Keys:      keys,
		MCP:       mcp.Handler(),
	}, server.Options{
		ListenAddr:  cfg.ListenAddr,
		AuthEnabled: cfg.AuthEnabled,
		OIDC:        oidcVerifier,
		RateLimit:   ratelimit.Config{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute},
	}, logger)

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.Housekeep()
			}
		}
	}()

	logger.Info("frontdesk starting",
		zap.String("version", version),
		zap.String("addr", cfg.ListenAddr),
		zap.Int("provider_endpoints", len(endpoints)))

	if err := srv.Start(ctx, cfg.TLSCert, cfg.TLSKey); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("frontdesk stopped")
}

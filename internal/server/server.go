// Package server wires together all platform subsystems and exposes the
// HTTP server. main() builds a Server, calls ListenAndServe, done.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/frontdesk/internal/audit"
	"github.com/marcus-qen/frontdesk/internal/auth"
	"github.com/marcus-qen/frontdesk/internal/callback"
	"github.com/marcus-qen/frontdesk/internal/carrier"
	"github.com/marcus-qen/frontdesk/internal/directory"
	"github.com/marcus-qen/frontdesk/internal/gateway"
	"github.com/marcus-qen/frontdesk/internal/ledger"
	"github.com/marcus-qen/frontdesk/internal/session"
	"github.com/marcus-qen/frontdesk/internal/shared/ratelimit"
	"github.com/marcus-qen/frontdesk/internal/tenant"
)

// Version info injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Scaler forces an immediate autoscale evaluation; *autoscale.Controller
// satisfies it.
type Scaler interface {
	ForceEvaluation(ctx context.Context) error
}

// Deps are the subsystems the server exposes over HTTP. Gateway, Webhook,
// Sessions, Scaler, MCP and Keys may be nil; their routes are then not
// registered.
type Deps struct {
	Tenants   *tenant.Registry
	Agents    *directory.Directory
	Callbacks *callback.Queue
	Credits   *ledger.Store
	Audit     *audit.Store
	Gateway   *gateway.Gateway
	Webhook   *carrier.Webhook
	Sessions  *session.Store
	Scaler    Scaler
	Keys      *auth.KeyStore
	MCP       http.Handler
}

// Options tune server behaviour.
type Options struct {
	ListenAddr  string
	AuthEnabled bool
	OIDC        auth.TokenVerifier // optional
	RateLimit   ratelimit.Config
}

// Server is the assembled HTTP surface.
type Server struct {
	deps    Deps
	opts    Options
	log     *zap.Logger
	limiter *ratelimit.Limiter
	authMW  *auth.Middleware

	httpServer *http.Server
}

// New assembles the server. Handlers are registered once; Start and
// Shutdown manage the listener.
func New(deps Deps, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ListenAddr == "" {
		opts.ListenAddr = ":8080"
	}

	s := &Server{
		deps:    deps,
		opts:    opts,
		log:     log.Named("server"),
		limiter: ratelimit.NewLimiter(opts.RateLimit),
	}
	if opts.AuthEnabled && deps.Keys != nil {
		s.authMW = auth.NewMiddleware(deps.Keys, opts.OIDC, log)
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var handler http.Handler = mux
	if s.authMW != nil {
		handler = s.authMW.Wrap(handler)
	}
	handler = s.rateLimited(handler)
	handler = withCorrelationID(handler)

	s.httpServer = &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the full middleware chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context, certFile, keyFile string) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" && keyFile != "" {
			err = s.httpServer.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.log.Info("listening", zap.String("addr", s.opts.ListenAddr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Housekeep prunes idle rate-limit buckets. Run from a ticker in main.
func (s *Server) Housekeep() {
	if n := s.limiter.Prune(time.Hour); n > 0 {
		s.log.Debug("pruned rate limit buckets", zap.Int("evicted", n))
	}
}

package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/frontdesk/internal/events"
	"github.com/marcus-qen/frontdesk/internal/metrics"
	"github.com/marcus-qen/frontdesk/internal/shared/fault"
)

// Endpoint is one AI provider backend.
type Endpoint struct {
	ID        string `json:"id" yaml:"id"`
	URL       string `json:"url" yaml:"url"`                 // websocket URL for conversations
	HealthURL string `json:"health_url" yaml:"health_url"`   // HTTP health probe
	Weight    int    `json:"weight" yaml:"weight"`           // share of traffic; defaults to 1
	Priority  int    `json:"priority" yaml:"priority"`       // failover tier; lower is preferred, defaults to 1
}

// EndpointStatus is the admin-facing view of one endpoint.
type EndpointStatus struct {
	Endpoint
	Healthy     bool         `json:"healthy"`
	Breaker     BreakerState `json:"breaker"`
	Active      int          `json:"active"`
	Primary     bool         `json:"primary"`
	LastChecked time.Time    `json:"last_checked,omitempty"`
}

// Policy selects how conversation opens spread across endpoints.
type Policy string

const (
	// PolicyWeighted is smooth weighted round-robin, the default.
	PolicyWeighted Policy = "weighted_round_robin"
	// PolicyRoundRobin ignores weights.
	PolicyRoundRobin Policy = "round_robin"
	// PolicyLeastConnections picks the endpoint with the fewest open
	// conversations.
	PolicyLeastConnections Policy = "least_connections"
)

// Config tunes the gateway.
type Config struct {
	Endpoints        []Endpoint    `yaml:"endpoints"`
	Policy           Policy        `yaml:"policy"`
	CheckInterval    time.Duration `yaml:"check_interval"`
	CheckTimeout     time.Duration `yaml:"check_timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

type endpointState struct {
	ep          Endpoint
	breaker     *Breaker
	healthy     bool
	lastChecked time.Time
	active      int
	// smooth weighted round-robin bookkeeping
	current int
}

// Gateway balances conversation opens across healthy endpoints using smooth
// weighted round-robin, and fails over when the chosen endpoint rejects.
type Gateway struct {
	mu        sync.Mutex
	endpoints []*endpointState
	policy    Policy
	interval  time.Duration
	timeout   time.Duration
	client    *http.Client
	bus       *events.Bus
	log       *zap.Logger

	// activeID is the current primary: the admissible endpoint in the best
	// priority tier. It moves down on failure and back up on recovery.
	activeID    string
	activeSince time.Time
}

// New builds a gateway over the configured endpoints.
func New(cfg Config, bus *events.Bus, log *zap.Logger) (*Gateway, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fault.New(fault.Validation, "gateway requires at least one endpoint")
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	switch cfg.Policy {
	case PolicyWeighted, PolicyRoundRobin, PolicyLeastConnections:
	case "":
		cfg.Policy = PolicyWeighted
	default:
		return nil, fault.New(fault.Validation, "unknown gateway policy %q", cfg.Policy)
	}

	g := &Gateway{
		policy:   cfg.Policy,
		interval: cfg.CheckInterval,
		timeout:  cfg.CheckTimeout,
		client:   &http.Client{Timeout: cfg.CheckTimeout},
		bus:      bus,
		log:      log,
	}
	for _, ep := range cfg.Endpoints {
		if ep.Weight <= 0 {
			ep.Weight = 1
		}
		if ep.Priority <= 0 {
			ep.Priority = 1
		}
		g.endpoints = append(g.endpoints, &endpointState{
			ep:      ep,
			breaker: NewBreaker(cfg.FailureThreshold, cfg.Cooldown),
			// New endpoints start healthy; the first probe corrects fast.
			healthy: true,
		})
	}
	if next := g.bestAdmissible(); next != nil {
		g.activeID = next.ep.ID
		g.activeSince = time.Now().UTC()
	}
	return g, nil
}

// Select picks the next endpoint per the configured policy over the
// admissible set: healthy, breaker-permitting, and in the best priority
// tier that has members. The breaker's Allow is consumed here, so the
// caller must report the outcome with Success or Failure, and must Release
// the endpoint when the conversation ends. When nothing is admissible the
// whole pool is back in play: a dial that might work beats a guaranteed
// refusal, and a critical alert goes out.
func (g *Gateway) Select() (Endpoint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	skip := make(map[string]bool)
	for {
		best := g.pick(skip, false)
		if best == nil {
			break
		}
		if best.breaker.Allow() {
			best.active++
			return best.ep, nil
		}
		// Half-open with a probe already in flight; leave the recovering
		// endpoint alone and re-run the pick without it.
		skip[best.ep.ID] = true
	}

	g.log.Error("no healthy provider endpoints, dialing into the dark")
	if g.bus != nil {
		g.bus.Publish(events.Event{
			Type:    events.GatewayDegraded,
			Summary: "all provider endpoints down, trying anyway",
		})
	}
	best := g.pick(nil, true)
	if best == nil {
		return Endpoint{}, fault.New(fault.Upstream, "no provider endpoints configured")
	}
	best.active++
	return best.ep, nil
}

// pick runs one policy round. Normally only healthy, breaker-permitting
// endpoints in the best priority tier compete; degraded mode considers
// everything. Caller holds mu.
func (g *Gateway) pick(skip map[string]bool, degraded bool) *endpointState {
	admissible := func(es *endpointState) bool {
		if skip[es.ep.ID] {
			return false
		}
		if degraded {
			return true
		}
		return es.healthy && es.breaker.State() != BreakerOpen
	}

	tier := 0
	for _, es := range g.endpoints {
		if !admissible(es) {
			continue
		}
		if tier == 0 || es.ep.Priority < tier {
			tier = es.ep.Priority
		}
	}
	if tier == 0 {
		return nil
	}

	var best *endpointState
	total := 0
	for _, es := range g.endpoints {
		if !admissible(es) || es.ep.Priority != tier {
			continue
		}
		switch g.policy {
		case PolicyLeastConnections:
			if best == nil || es.active < best.active {
				best = es
			}
		default:
			weight := es.ep.Weight
			if g.policy == PolicyRoundRobin {
				weight = 1
			}
			es.current += weight
			total += weight
			if best == nil || es.current > best.current {
				best = es
			}
		}
	}
	if best != nil && g.policy != PolicyLeastConnections {
		best.current -= total
	}
	return best
}

// bestAdmissible returns the endpoint that should be primary right now.
// Caller holds mu (or is still single-threaded in New).
func (g *Gateway) bestAdmissible() *endpointState {
	var next *endpointState
	for _, es := range g.endpoints {
		if !es.healthy || es.breaker.State() == BreakerOpen {
			continue
		}
		if next == nil || es.ep.Priority < next.ep.Priority {
			next = es
		}
	}
	return next
}

// recomputeActive moves the primary after a health or breaker change and
// publishes the failover, both downward (primary lost) and back upward
// (higher-priority endpoint recovered).
func (g *Gateway) recomputeActive(reason string) {
	g.mu.Lock()
	next := g.bestAdmissible()
	from := g.activeID
	to := ""
	if next != nil {
		to = next.ep.ID
	}
	if from == to {
		g.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	var heldFor time.Duration
	if !g.activeSince.IsZero() {
		heldFor = now.Sub(g.activeSince)
	}
	g.activeID = to
	g.activeSince = now
	g.mu.Unlock()

	g.log.Warn("provider primary changed",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("reason", reason),
		zap.Duration("previous_held_for", heldFor),
	)
	metrics.RecordFailover(from)
	if g.bus == nil {
		return
	}
	g.bus.Publish(events.Event{
		Type:    events.GatewayFailover,
		Summary: "provider primary changed",
		Detail: map[string]any{
			"from":              from,
			"to":                to,
			"reason":            reason,
			"success":           to != "",
			"previous_held_for": heldFor.String(),
		},
	})
}

// Release returns an endpoint's conversation slot once the stream closes.
func (g *Gateway) Release(endpointID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, es := range g.endpoints {
		if es.ep.ID == endpointID && es.active > 0 {
			es.active--
			return
		}
	}
}

// Success reports a successful conversation open against an endpoint.
func (g *Gateway) Success(endpointID string) {
	if es := g.find(endpointID); es != nil {
		es.breaker.Success()
		g.recomputeActive("endpoint recovered")
	}
}

// Failure reports a failed conversation open.
func (g *Gateway) Failure(endpointID string) {
	es := g.find(endpointID)
	if es == nil {
		return
	}
	before := es.breaker.State()
	es.breaker.Failure()
	if before != BreakerOpen && es.breaker.State() == BreakerOpen {
		g.log.Warn("endpoint breaker opened", zap.String("endpoint_id", endpointID))
		g.recomputeActive("breaker opened")
	}
}

// Run drives periodic health checks until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	g.checkAll(ctx)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.checkAll(ctx)
		}
	}
}

// Status returns the admin view of every endpoint.
func (g *Gateway) Status() []EndpointStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]EndpointStatus, 0, len(g.endpoints))
	for _, es := range g.endpoints {
		out = append(out, EndpointStatus{
			Endpoint:    es.ep,
			Healthy:     es.healthy,
			Breaker:     es.breaker.State(),
			Active:      es.active,
			Primary:     es.ep.ID == g.activeID,
			LastChecked: es.lastChecked,
		})
	}
	return out
}

func (g *Gateway) find(endpointID string) *endpointState {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, es := range g.endpoints {
		if es.ep.ID == endpointID {
			return es
		}
	}
	return nil
}

func (g *Gateway) checkAll(ctx context.Context) {
	for _, es := range g.snapshot() {
		healthy := g.probe(ctx, es.ep)

		g.mu.Lock()
		was := es.healthy
		es.healthy = healthy
		es.lastChecked = time.Now().UTC()
		g.mu.Unlock()

		metrics.RecordEndpointHealth(es.ep.ID, healthy)
		if was && !healthy {
			g.log.Warn("endpoint unhealthy", zap.String("endpoint_id", es.ep.ID))
			g.recomputeActive("health check failed")
		}
		if !was && healthy {
			g.log.Info("endpoint recovered", zap.String("endpoint_id", es.ep.ID))
			g.recomputeActive("endpoint recovered")
		}
	}
}

func (g *Gateway) snapshot() []*endpointState {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*endpointState, len(g.endpoints))
	copy(out, g.endpoints)
	return out
}

func (g *Gateway) probe(ctx context.Context, ep Endpoint) bool {
	if ep.HealthURL == "" {
		return true
	}
	probeCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, ep.HealthURL, nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// ActivePrimary returns the id of the current primary endpoint; empty when
// everything is down.
func (g *Gateway) ActivePrimary() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeID
}

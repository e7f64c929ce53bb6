package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus-qen/frontdesk/internal/aiprovider"
	"github.com/marcus-qen/frontdesk/internal/events"
	"github.com/marcus-qen/frontdesk/internal/shared/fault"
)

func TestBreakerTripsAndRecovers(t *testing.T) {
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(3, 30*time.Second)
	b.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("closed breaker rejected request %d", i)
		}
		b.Failure()
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state after threshold = %s, want open", b.State())
	}
	if b.Allow() {
		t.Error("open breaker allowed a request")
	}

	// Cooldown elapses: one probe goes through, the rest wait.
	clock = clock.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatal("half-open breaker rejected the probe")
	}
	if b.Allow() {
		t.Error("second request allowed during probe")
	}

	b.Success()
	if b.State() != BreakerClosed {
		t.Errorf("state after probe success = %s, want closed", b.State())
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(1, 30*time.Second)
	b.now = func() time.Time { return clock }

	b.Allow()
	b.Failure()
	clock = clock.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatal("probe rejected")
	}
	b.Failure()

	if b.State() != BreakerOpen {
		t.Errorf("state after failed probe = %s, want open", b.State())
	}
	if b.Allow() {
		t.Error("reopened breaker allowed a request")
	}
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker(0, 0)
	if b.threshold != 5 {
		t.Errorf("default threshold = %d, want 5", b.threshold)
	}
	if b.cooldown != 60*time.Second {
		t.Errorf("default cooldown = %v, want 60s", b.cooldown)
	}
}

func TestSelectWeightedDistribution(t *testing.T) {
	g, err := New(Config{Endpoints: []Endpoint{
		{ID: "heavy", URL: "ws://heavy", Weight: 3},
		{ID: "light", URL: "ws://light", Weight: 1},
	}}, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	counts := map[string]int{}
	for i := 0; i < 40; i++ {
		ep, err := g.Select()
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		counts[ep.ID]++
		g.Success(ep.ID)
	}
	if counts["heavy"] != 30 || counts["light"] != 10 {
		t.Errorf("distribution = %v, want 3:1", counts)
	}
}

func TestSelectRoundRobinIgnoresWeights(t *testing.T) {
	g, err := New(Config{
		Policy: PolicyRoundRobin,
		Endpoints: []Endpoint{
			{ID: "heavy", URL: "ws://heavy", Weight: 3},
			{ID: "light", URL: "ws://light", Weight: 1},
		},
	}, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	counts := map[string]int{}
	for i := 0; i < 10; i++ {
		ep, err := g.Select()
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		counts[ep.ID]++
	}
	if counts["heavy"] != 5 || counts["light"] != 5 {
		t.Errorf("distribution = %v, want 1:1", counts)
	}
}

func TestSelectLeastConnections(t *testing.T) {
	g, err := New(Config{
		Policy: PolicyLeastConnections,
		Endpoints: []Endpoint{
			{ID: "a", URL: "ws://a"},
			{ID: "b", URL: "ws://b"},
		},
	}, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	first, _ := g.Select()
	second, _ := g.Select()
	if first.ID == second.ID {
		t.Fatalf("both selects landed on %s", first.ID)
	}

	// Releasing one slot makes that endpoint the emptiest again.
	g.Release(first.ID)
	third, _ := g.Select()
	if third.ID != first.ID {
		t.Errorf("selected %s, want %s", third.ID, first.ID)
	}
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	_, err := New(Config{
		Policy:    "fastest",
		Endpoints: []Endpoint{{ID: "a", URL: "ws://a"}},
	}, nil, nil)
	if !fault.Is(err, fault.Validation) {
		t.Errorf("want validation fault, got %v", err)
	}
}

func TestSelectSkipsOpenBreaker(t *testing.T) {
	g, err := New(Config{
		Endpoints:        []Endpoint{{ID: "a", URL: "ws://a"}, {ID: "b", URL: "ws://b"}},
		FailureThreshold: 1,
	}, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	g.Failure("a")
	for i := 0; i < 10; i++ {
		ep, err := g.Select()
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if ep.ID == "a" {
			t.Fatal("selected endpoint with open breaker")
		}
		g.Success(ep.ID)
	}
}

func TestSelectFallsBackToFullPoolWhenAllDown(t *testing.T) {
	bus := events.NewBus(8)
	alerts := bus.Subscribe("test")
	defer bus.Unsubscribe("test")

	g, _ := New(Config{
		Endpoints:        []Endpoint{{ID: "a", URL: "ws://a"}},
		FailureThreshold: 1,
	}, bus, nil)
	g.Failure("a")

	// A dial that might work beats a guaranteed refusal, so the dead
	// endpoint is still handed out, loudly.
	ep, err := g.Select()
	if err != nil {
		t.Fatalf("select with all down: %v", err)
	}
	if ep.ID != "a" {
		t.Errorf("selected %s, want a", ep.ID)
	}

	degraded := false
	for len(alerts) > 0 {
		if evt := <-alerts; evt.Type == events.GatewayDegraded {
			degraded = true
		}
	}
	if !degraded {
		t.Error("no degraded alert published")
	}
}

func TestHealthCheckRemovesAndRestores(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g, err := New(Config{Endpoints: []Endpoint{
		{ID: "a", URL: "ws://a", HealthURL: srv.URL},
		{ID: "b", URL: "ws://b"},
	}}, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	g.checkAll(context.Background())
	if st := g.Status(); !st[0].Healthy {
		t.Fatal("endpoint should be healthy")
	}

	healthy.Store(false)
	g.checkAll(context.Background())
	if st := g.Status(); st[0].Healthy {
		t.Fatal("endpoint should be unhealthy after failed probe")
	}
	for i := 0; i < 6; i++ {
		ep, err := g.Select()
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if ep.ID == "a" {
			t.Fatal("unhealthy endpoint still selectable")
		}
		g.Release(ep.ID)
	}

	healthy.Store(true)
	g.checkAll(context.Background())
	seen := map[string]bool{}
	for i := 0; i < 6; i++ {
		ep, err := g.Select()
		if err != nil {
			t.Fatalf("select after recovery: %v", err)
		}
		seen[ep.ID] = true
		g.Release(ep.ID)
	}
	if !seen["a"] {
		t.Error("recovered endpoint never selected")
	}
}

func TestPriorityFailoverAndRecovery(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	bus := events.NewBus(8)
	failovers := bus.Subscribe("test")
	defer bus.Unsubscribe("test")

	g, err := New(Config{Endpoints: []Endpoint{
		{ID: "e1", URL: "ws://e1", HealthURL: srv.URL, Priority: 1},
		{ID: "e2", URL: "ws://e2", Priority: 2},
	}}, bus, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	g.checkAll(context.Background())

	// Healthy primary takes all traffic; the standby tier is idle.
	for i := 0; i < 4; i++ {
		ep, _ := g.Select()
		if ep.ID != "e1" {
			t.Fatalf("selected %s with primary healthy, want e1", ep.ID)
		}
		g.Release(ep.ID)
	}
	if g.ActivePrimary() != "e1" {
		t.Fatalf("active = %s, want e1", g.ActivePrimary())
	}

	// Primary drops: the standby becomes active and the failover event
	// names both sides.
	healthy.Store(false)
	g.checkAll(context.Background())
	if g.ActivePrimary() != "e2" {
		t.Fatalf("active after failure = %s, want e2", g.ActivePrimary())
	}
	ep, _ := g.Select()
	if ep.ID != "e2" {
		t.Errorf("selected %s after failover, want e2", ep.ID)
	}
	g.Release(ep.ID)

	var evt events.Event
	select {
	case evt = <-failovers:
	default:
		t.Fatal("no failover event published")
	}
	if evt.Type != events.GatewayFailover {
		t.Fatalf("event type = %s", evt.Type)
	}
	if evt.Detail.(map[string]any)["from"] != "e1" || evt.Detail.(map[string]any)["to"] != "e2" {
		t.Errorf("failover detail = %v, want from e1 to e2", evt.Detail)
	}

	// Primary heals: traffic returns to it.
	healthy.Store(true)
	g.checkAll(context.Background())
	if g.ActivePrimary() != "e1" {
		t.Fatalf("active after recovery = %s, want e1", g.ActivePrimary())
	}
	ep, _ = g.Select()
	if ep.ID != "e1" {
		t.Errorf("selected %s after recovery, want e1", ep.ID)
	}
}

var upgrader = websocket.Upgrader{}

func TestOpenerFailsOverToWorkingEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	g, err := New(Config{
		Endpoints: []Endpoint{
			// Dead endpoint carries more weight, so it is tried first.
			{ID: "dead", URL: "ws://127.0.0.1:1/nope", Weight: 5},
			{ID: "live", URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Weight: 1},
		},
		FailureThreshold: 1,
	}, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	o := NewOpener(g, &aiprovider.Dialer{}, nil)
	stream, err := o.Open(context.Background(), "t-1", "call-1", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()

	// The dead endpoint's breaker is open now; the next open goes straight
	// to the live one.
	ep, err := g.Select()
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if ep.ID != "live" {
		t.Errorf("selected %s, want live", ep.ID)
	}
}

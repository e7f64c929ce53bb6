package session

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/marcus-qen/frontdesk/internal/aiprovider"
	"github.com/marcus-qen/frontdesk/internal/audit"
	"github.com/marcus-qen/frontdesk/internal/callback"
	"github.com/marcus-qen/frontdesk/internal/directory"
	"github.com/marcus-qen/frontdesk/internal/events"
	"github.com/marcus-qen/frontdesk/internal/ledger"
	"github.com/marcus-qen/frontdesk/internal/metrics"
	"github.com/marcus-qen/frontdesk/internal/routing"
	"github.com/marcus-qen/frontdesk/internal/shared/fault"
	"github.com/marcus-qen/frontdesk/internal/shared/privacy"
	"github.com/marcus-qen/frontdesk/internal/telemetry"
	"github.com/marcus-qen/frontdesk/internal/tenant"
)

// ConversationStream is the slice of the provider client the orchestrator
// needs; *aiprovider.Stream satisfies it.
type ConversationStream interface {
	Frames() <-chan aiprovider.Frame
	SendAudio([]byte) error
	CommitTurn() error
	Cancel() error
	Close() error
}

// StreamOpener opens a conversation stream for a call. The gateway-backed
// implementation picks a healthy endpoint per open.
type StreamOpener interface {
	Open(ctx context.Context, tenantID, callID, persona string) (ConversationStream, error)
}

// Router resolves transfer requests; *routing.Engine satisfies it.
type Router interface {
	Resolve(ctx context.Context, req routing.Request) (routing.Decision, error)
}

// Charger is the ledger surface a session needs.
type Charger interface {
	CheckBudget(tenantID string, seconds int64) ledger.CheckResult
	Debit(tenantID string, seconds int64, callID string) (ledger.Transaction, bool, error)
}

// CallbackQueue accepts promised return calls.
type CallbackQueue interface {
	Create(cb callback.Callback) (*callback.Callback, error)
}

// Admitter is the tenant surface a session needs; *tenant.Registry
// satisfies it.
type Admitter interface {
	Get(id string) (*tenant.Tenant, error)
	AdmitCall(id string) error
	ReleaseCall(id string)
}

// Recorder writes audit events; *audit.Store satisfies it.
type Recorder interface {
	Record(evt audit.Event) error
}

// Telephony is the carrier-side action surface: speaking to the caller,
// bridging to an agent, starting voicemail, hanging up.
type Telephony interface {
	Say(callID, text string) error
	Bridge(callID string, agent directory.Agent) error
	StartVoicemail(callID, box string) error
	Hangup(callID string) error
}

// CallerEventKind classifies inbound carrier events.
type CallerEventKind string

const (
	CallerAudio         CallerEventKind = "audio"
	CallerSpeechStarted CallerEventKind = "speech_started"
	CallerSpeechStopped CallerEventKind = "speech_stopped"
	CallerHangup        CallerEventKind = "hangup"
	CallerVoicemailDone CallerEventKind = "voicemail_done"
)

// CallerEvent is one inbound event from the carrier leg.
type CallerEvent struct {
	Kind  CallerEventKind
	Audio []byte
}

// OpenRequest asks the orchestrator to take a call.
type OpenRequest struct {
	TenantID   string
	CallID     string
	From       string // raw caller number; fingerprinted immediately
	Department string
}

// Config tunes the per-call loops.
type Config struct {
	Greeting       string        `yaml:"greeting"`
	Persona        string        `yaml:"persona"`
	SilenceTimeout time.Duration `yaml:"silence_timeout"`
	MaxDuration    time.Duration `yaml:"max_duration"`
	// MinChargeSeconds floors the close-time debit for any answered call.
	MinChargeSeconds int64 `yaml:"min_charge_seconds"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Greeting:         "Thank you for calling. How can I help you today?",
		Persona:          "receptionist",
		SilenceTimeout:   8 * time.Second,
		MaxDuration:      15 * time.Minute,
		MinChargeSeconds: 1,
	}
}

// Orchestrator owns every live call. One goroutine per call reads carrier
// and provider events and drives the state machine; all cross-cutting
// effects (charging, audit, events) happen here so the protocol handlers
// stay thin.
type Orchestrator struct {
	cfg       Config
	tenants   Admitter
	router    Router
	charger   Charger
	callbacks CallbackQueue
	opener    StreamOpener
	phone     Telephony
	auditor   Recorder
	bus       *events.Bus
	hasher    *privacy.Hasher
	store     *Store
	log       *zap.Logger

	mu    sync.Mutex
	calls map[string]chan CallerEvent
}

// NewOrchestrator wires the session orchestrator.
func NewOrchestrator(
	cfg Config,
	tenants Admitter,
	router Router,
	charger Charger,
	callbacks CallbackQueue,
	opener StreamOpener,
	phone Telephony,
	auditor Recorder,
	bus *events.Bus,
	hasher *privacy.Hasher,
	store *Store,
	log *zap.Logger,
) *Orchestrator {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultConfig().SilenceTimeout
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultConfig().MaxDuration
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultConfig().Greeting
	}
	if cfg.MinChargeSeconds <= 0 {
		cfg.MinChargeSeconds = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		tenants:   tenants,
		router:    router,
		charger:   charger,
		callbacks: callbacks,
		opener:    opener,
		phone:     phone,
		auditor:   auditor,
		bus:       bus,
		hasher:    hasher,
		store:     store,
		log:       log,
		calls:     make(map[string]chan CallerEvent),
	}
}

// Deliver routes a carrier event to the call's mailbox. Unknown calls and
// full mailboxes drop; audio is lossy by nature and control events are
// retried by the carrier.
func (o *Orchestrator) Deliver(callID string, ev CallerEvent) bool {
	o.mu.Lock()
	mailbox, ok := o.calls[callID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case mailbox <- ev:
		return true
	default:
		return false
	}
}

// Active reports whether a call is currently owned by the orchestrator.
func (o *Orchestrator) Active(callID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.calls[callID]
	return ok
}

// Run handles one call from answer to charge. It blocks until the session
// closes; callers run it in its own goroutine.
func (o *Orchestrator) Run(ctx context.Context, req OpenRequest) error {
	if req.TenantID == "" || req.CallID == "" {
		return fault.New(fault.Validation, "session requires tenant and call ids")
	}

	tn, err := o.tenants.Get(req.TenantID)
	if err != nil {
		return err
	}
	if err := o.tenants.AdmitCall(req.TenantID); err != nil {
		o.record(audit.Event{
			TenantID:      req.TenantID,
			Type:          audit.EventSessionClosed,
			CorrelationID: req.CallID,
			Payload:       map[string]any{"reason": string(CloseRefused), "cause": err.Error()},
			Success:       false,
		})
		return err
	}
	defer o.tenants.ReleaseCall(req.TenantID)

	// Only a tenant with zero budget left is refused; a call that outruns
	// the last seconds is tolerated and settled best-effort at close.
	if o.charger.CheckBudget(req.TenantID, 1) == ledger.CheckDeny {
		o.record(audit.Event{
			TenantID:      req.TenantID,
			Type:          audit.EventCreditRejected,
			CorrelationID: req.CallID,
			Payload:       map[string]any{"reason": "budget exhausted"},
			Success:       false,
		})
		return fault.New(fault.Quota, "tenant %s has no remaining call budget", req.TenantID)
	}

	c := &call{
		o:   o,
		tn:  tn,
		cfg: o.cfg,
		sess: Session{
			CallID:            req.CallID,
			TenantID:          req.TenantID,
			Department:        req.Department,
			CallerFingerprint: o.hasher.Fingerprint(req.From),
			State:             StateGreeting,
			StartedAt:         time.Now().UTC(),
		},
		from:    req.From,
		mailbox: make(chan CallerEvent, 64),
	}

	o.mu.Lock()
	if _, dup := o.calls[req.CallID]; dup {
		o.mu.Unlock()
		return fault.New(fault.Conflict, "call %s already has a session", req.CallID)
	}
	o.calls[req.CallID] = c.mailbox
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.calls, req.CallID)
		o.mu.Unlock()
	}()

	return c.run(ctx)
}

func (o *Orchestrator) record(evt audit.Event) {
	if o.auditor == nil {
		return
	}
	if err := o.auditor.Record(evt); err != nil {
		o.log.Error("audit record failed",
			zap.String("tenant_id", evt.TenantID),
			zap.String("type", string(evt.Type)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) publish(evt events.Event) {
	if o.bus != nil {
		o.bus.Publish(evt)
	}
}

// call is the per-call loop state.
type call struct {
	o       *Orchestrator
	tn      *tenant.Tenant
	cfg     Config
	sess    Session
	from    string
	mailbox chan CallerEvent

	stream ConversationStream
	frames <-chan aiprovider.Frame
	speech strings.Builder
	closed bool

	span     trace.Span
	turnSpan trace.Span
}

func (c *call) run(ctx context.Context) error {
	o := c.o

	ctx, span := telemetry.StartCallSpan(ctx, c.sess.TenantID, c.sess.CallID)
	c.span = span

	c.sess.State = StateGreeting
	o.store.Put(c.sess)
	metrics.ActiveCalls.Inc()
	o.record(audit.Event{
		TenantID:      c.sess.TenantID,
		Type:          audit.EventSessionOpened,
		ActorHash:     c.sess.CallerFingerprint,
		CorrelationID: c.sess.CallID,
		Payload:       map[string]any{"department": c.sess.Department},
		Success:       true,
	})
	o.publish(events.Event{
		Type: events.SessionOpened, TenantID: c.sess.TenantID, CallID: c.sess.CallID,
		Summary: "call answered",
	})

	stream, err := o.opener.Open(ctx, c.sess.TenantID, c.sess.CallID, c.cfg.Persona)
	if err != nil {
		// Provider down: skip the AI leg entirely and hand the caller to
		// routing.
		o.log.Warn("provider unavailable, degrading to direct routing",
			zap.String("call_id", c.sess.CallID), zap.Error(err))
		c.routeOrFallback(ctx, c.sess.Department)
		return c.waitForEnd(ctx)
	}
	c.stream = stream
	c.frames = stream.Frames()
	defer stream.Close()

	if err := o.phone.Say(c.sess.CallID, c.cfg.Greeting); err != nil {
		c.finalize(CloseError)
		return err
	}
	c.transition(TriggerGreeted)

	maxTimer := time.NewTimer(c.cfg.MaxDuration)
	defer maxTimer.Stop()
	silence := time.NewTimer(c.cfg.SilenceTimeout)
	defer silence.Stop()

	for !c.closed {
		// A call past its ceiling ends as expired even when another event
		// is ready in the same tick.
		select {
		case <-maxTimer.C:
			c.finalize(CloseExpired)
			return nil
		default:
		}

		select {
		case <-ctx.Done():
			c.finalize(CloseError)
			return ctx.Err()

		case <-maxTimer.C:
			c.finalize(CloseExpired)
			return nil

		case <-silence.C:
			if c.sess.State == StateListening && c.sess.Turns > 0 {
				c.commitTurn(ctx)
			}
			silence.Reset(c.cfg.SilenceTimeout)

		case ev := <-c.mailbox:
			c.onCallerEvent(ctx, ev, silence)

		case f, ok := <-c.frames:
			if !ok {
				// Provider died mid-call; degrade to routing.
				o.log.Warn("provider stream lost mid-call", zap.String("call_id", c.sess.CallID))
				c.frames = nil
				if !Terminal(c.sess.State) {
					c.routeOrFallback(ctx, c.sess.Department)
				}
				continue
			}
			c.onFrame(ctx, f)
		}
	}
	return nil
}

// waitForEnd drains carrier events for a session whose AI leg never opened
// or already ended (bridged, voicemail).
func (c *call) waitForEnd(ctx context.Context) error {
	for !c.closed {
		select {
		case <-ctx.Done():
			c.finalize(CloseError)
			return ctx.Err()
		case ev := <-c.mailbox:
			switch ev.Kind {
			case CallerHangup:
				c.finalize(CloseHangup)
			case CallerVoicemailDone:
				c.finalize(CloseCompleted)
			}
		}
	}
	return nil
}

func (c *call) onCallerEvent(ctx context.Context, ev CallerEvent, silence *time.Timer) {
	switch ev.Kind {
	case CallerAudio:
		if c.sess.State == StateListening && c.stream != nil {
			if err := c.stream.SendAudio(ev.Audio); err != nil {
				c.o.log.Warn("audio forward failed", zap.String("call_id", c.sess.CallID), zap.Error(err))
			}
			silence.Reset(c.cfg.SilenceTimeout)
		}

	case CallerSpeechStarted:
		// Barge-in: the caller talks over the AI. Cancel and discard
		// everything until the provider acks.
		if c.sess.State == StateSpeaking && c.stream != nil {
			if err := c.stream.Cancel(); err != nil {
				c.o.log.Warn("barge-in cancel failed", zap.String("call_id", c.sess.CallID), zap.Error(err))
				return
			}
			c.transition(TriggerBargeIn)
			c.speech.Reset()
		}

	case CallerSpeechStopped:
		if c.sess.State == StateListening {
			c.commitTurn(ctx)
		}

	case CallerHangup:
		c.finalize(CloseHangup)

	case CallerVoicemailDone:
		if c.sess.State == StateVoicemail {
			c.finalize(CloseCompleted)
		}
	}
}

func (c *call) onFrame(ctx context.Context, f aiprovider.Frame) {
	switch f.Type {
	case aiprovider.FrameToken:
		if c.sess.State == StateCancelling {
			return // stale tokens after barge-in
		}
		if c.sess.State == StateThinking {
			c.transition(TriggerResponse)
		}
		if c.sess.State == StateSpeaking {
			c.speech.WriteString(f.Text)
		}

	case aiprovider.FrameUtteranceEnd:
		if c.sess.State != StateSpeaking {
			return
		}
		if text := c.speech.String(); text != "" {
			if err := c.o.phone.Say(c.sess.CallID, text); err != nil {
				c.o.log.Warn("say failed", zap.String("call_id", c.sess.CallID), zap.Error(err))
			}
		}
		c.speech.Reset()
		c.transition(TriggerResponseDone)
		c.endTurnSpan()

	case aiprovider.FrameCancelled:
		if c.sess.State == StateCancelling {
			c.speech.Reset()
			c.transition(TriggerCancelAcked)
		}

	case aiprovider.FrameFunctionCall:
		c.onFunctionCall(ctx, f)

	case aiprovider.FrameError:
		c.o.log.Warn("provider error frame",
			zap.String("call_id", c.sess.CallID), zap.String("error", f.Err))
		// A broken AI turn must not strand the caller: apologize and hand
		// the call to a human, same as losing the stream.
		if !Terminal(c.sess.State) && c.sess.State != StateRouting && c.sess.State != StateVoicemail {
			c.speech.Reset()
			_ = c.o.phone.Say(c.sess.CallID, degradedUtterance)
			c.routeOrFallback(ctx, c.sess.Department)
		}
	}
}

// degradedUtterance is what the caller hears when the AI leg breaks mid-call.
const degradedUtterance = "I'm sorry, I'm having trouble hearing you. Let me connect you with someone who can help."

func (c *call) onFunctionCall(ctx context.Context, f aiprovider.Frame) {
	switch f.Name {
	case "transfer":
		dept, _ := f.Args["department"].(string)
		if dept == "" {
			dept = c.sess.Department
		}
		c.transition(TriggerTransfer)
		_ = c.o.phone.Say(c.sess.CallID, "One moment while I connect you.")
		c.routeOrFallback(ctx, dept)

	case "schedule_callback":
		reason, _ := f.Args["reason"].(string)
		c.scheduleCallback(reason)

	case "end_call":
		_ = c.o.phone.Say(c.sess.CallID, "Thanks for calling. Goodbye!")
		c.finalize(CloseCompleted)

	default:
		c.o.log.Warn("unknown function call",
			zap.String("call_id", c.sess.CallID), zap.String("name", f.Name))
	}
}

// routeOrFallback runs the transfer loop and lands the caller somewhere:
// an agent bridge, voicemail, or a scheduled callback.
func (c *call) routeOrFallback(ctx context.Context, dept string) {
	o := c.o
	if c.sess.State != StateRouting {
		// Direct entry (provider down) skips the AI states.
		c.sess.State = StateRouting
		o.store.Put(c.sess)
	}
	o.record(audit.Event{
		TenantID:      c.sess.TenantID,
		Type:          audit.EventRoutingRequested,
		ActorHash:     c.sess.CallerFingerprint,
		CorrelationID: c.sess.CallID,
		Payload:       map[string]any{"department": dept},
		Success:       true,
	})

	ctx, routeSpan := telemetry.StartRoutingSpan(ctx, c.sess.TenantID, dept)
	decision, err := o.router.Resolve(ctx, routing.Request{
		TenantID:   c.sess.TenantID,
		CallID:     c.sess.CallID,
		Department: dept,
	})
	if err != nil {
		telemetry.EndRoutingSpan(routeSpan, "error", 0)
		o.log.Error("routing failed", zap.String("call_id", c.sess.CallID), zap.Error(err))
		c.toVoicemail(dept)
		return
	}
	telemetry.EndRoutingSpan(routeSpan, string(decision.Kind), len(decision.Attempts))

	switch decision.Kind {
	case routing.DecideAgent:
		_, bridgeSpan := telemetry.StartCarrierSpan(ctx, c.sess.CallID, "bridge")
		err := o.phone.Bridge(c.sess.CallID, *decision.Agent)
		bridgeSpan.End()
		if err != nil {
			o.log.Error("bridge failed", zap.String("call_id", c.sess.CallID), zap.Error(err))
			c.toVoicemail(dept)
			return
		}
		c.sess.AgentID = decision.Agent.ID
		c.transition(TriggerBridged)
		// The AI leg is done once a human has the call.
		if c.stream != nil {
			_ = c.stream.Close()
		}
		o.record(audit.Event{
			TenantID:      c.sess.TenantID,
			Type:          audit.EventSessionBridged,
			ActorHash:     c.sess.CallerFingerprint,
			CorrelationID: c.sess.CallID,
			Payload:       map[string]any{"agent_id": decision.Agent.ID, "attempts": len(decision.Attempts)},
			Success:       true,
		})
		o.publish(events.Event{
			Type: events.SessionBridged, TenantID: c.sess.TenantID, CallID: c.sess.CallID,
			Summary: "caller bridged to agent",
		})

	case routing.DecideCallback:
		c.scheduleCallback("no agent available")

	default:
		c.toVoicemail(dept)
	}
}

func (c *call) toVoicemail(dept string) {
	o := c.o
	next, err := Transition(c.sess.State, TriggerVoicemail)
	if err != nil {
		c.finalize(CloseError)
		return
	}
	c.sess.State = next
	o.store.Put(c.sess)

	box := dept
	if box == "" {
		box = "general"
	}
	if err := o.phone.StartVoicemail(c.sess.CallID, box); err != nil {
		o.log.Error("voicemail start failed", zap.String("call_id", c.sess.CallID), zap.Error(err))
		c.finalize(CloseError)
		return
	}
	o.record(audit.Event{
		TenantID:      c.sess.TenantID,
		Type:          audit.EventSessionVoicemail,
		ActorHash:     c.sess.CallerFingerprint,
		CorrelationID: c.sess.CallID,
		Payload:       map[string]any{"box": box},
		Success:       true,
	})
	o.publish(events.Event{
		Type: events.SessionVoicemail, TenantID: c.sess.TenantID, CallID: c.sess.CallID,
		Summary: "caller sent to voicemail",
	})
}

func (c *call) scheduleCallback(reason string) {
	o := c.o
	cb, err := o.callbacks.Create(callback.Callback{
		TenantID:   c.sess.TenantID,
		Department: c.sess.Department,
		Number:     c.from,
		Reason:     reason,
		Priority:   callback.PriorityNormal,
	})
	if err != nil {
		o.log.Error("callback create failed", zap.String("call_id", c.sess.CallID), zap.Error(err))
		c.toVoicemail(c.sess.Department)
		return
	}
	_ = o.phone.Say(c.sess.CallID, "We will call you back as soon as someone is free.")
	o.record(audit.Event{
		TenantID:      c.sess.TenantID,
		Type:          audit.EventCallbackCreated,
		ActorHash:     c.sess.CallerFingerprint,
		CorrelationID: c.sess.CallID,
		Payload:       map[string]any{"callback_id": cb.ID, "reason": reason},
		Success:       true,
	})
	o.publish(events.Event{
		Type: events.CallbackCreated, TenantID: c.sess.TenantID, CallID: c.sess.CallID,
		Summary: "callback scheduled",
	})
	c.finalize(CloseCompleted)
}

func (c *call) commitTurn(ctx context.Context) {
	if c.stream == nil {
		return
	}
	if err := c.stream.CommitTurn(); err != nil {
		c.o.log.Warn("commit failed", zap.String("call_id", c.sess.CallID), zap.Error(err))
		return
	}
	c.sess.Turns++
	c.transition(TriggerTurnCommitted)
	c.endTurnSpan()
	_, c.turnSpan = telemetry.StartTurnSpan(ctx, c.sess.CallID, c.sess.Turns)

	// A conversation that keeps going round with the AI gets handed to a
	// human once the tenant's turn budget is spent.
	if max := c.tn.Routing.MaxTransferAttempts; max > 0 && c.sess.Turns >= max {
		c.o.log.Info("turn budget spent, handing off",
			zap.String("call_id", c.sess.CallID),
			zap.Int("turns", c.sess.Turns),
		)
		_ = c.o.phone.Say(c.sess.CallID, "Let me connect you with someone who can help.")
		c.routeOrFallback(ctx, c.sess.Department)
	}
}

func (c *call) endTurnSpan() {
	if c.turnSpan != nil {
		c.turnSpan.End()
		c.turnSpan = nil
	}
}

// transition applies a trigger, logging rather than failing on an illegal
// move; the loop's state checks make those unreachable in practice.
func (c *call) transition(trig Trigger) {
	next, err := Transition(c.sess.State, trig)
	if err != nil {
		c.o.log.Error("illegal session transition",
			zap.String("call_id", c.sess.CallID),
			zap.String("state", string(c.sess.State)),
			zap.String("trigger", string(trig)),
		)
		return
	}
	c.sess.State = next
	c.o.store.Put(c.sess)
}

// finalize closes the session exactly once: hang up, charge, audit.
func (c *call) finalize(reason CloseReason) {
	if c.closed {
		return
	}
	c.closed = true
	o := c.o

	c.sess.State = StateClosed
	c.sess.Reason = reason
	c.sess.EndedAt = time.Now().UTC()

	if c.stream != nil {
		_ = c.stream.Close()
	}
	if reason != CloseHangup {
		_ = o.phone.Hangup(c.sess.CallID)
	}

	seconds := int64(math.Ceil(c.sess.Duration(c.sess.EndedAt).Seconds()))
	if seconds < c.cfg.MinChargeSeconds {
		seconds = c.cfg.MinChargeSeconds
	}

	tx, applied, err := o.charger.Debit(c.sess.TenantID, seconds, c.sess.CallID)
	if err != nil {
		o.log.Error("session charge failed",
			zap.String("call_id", c.sess.CallID),
			zap.Int64("seconds", seconds),
			zap.Error(err),
		)
	}
	if applied {
		c.sess.ChargedSeconds = seconds
	}

	o.record(audit.Event{
		TenantID:      c.sess.TenantID,
		Type:          audit.EventSessionClosed,
		ActorHash:     c.sess.CallerFingerprint,
		CorrelationID: c.sess.CallID,
		Payload: map[string]any{
			"reason":          string(reason),
			"charged_seconds": seconds,
			"turns":           c.sess.Turns,
			"best_effort":     tx.BestEffort,
		},
		Success: err == nil,
	})
	o.publish(events.Event{
		Type: events.SessionClosed, TenantID: c.sess.TenantID, CallID: c.sess.CallID,
		Summary: "call ended",
		Detail:  map[string]any{"reason": string(reason), "charged_seconds": seconds},
	})

	c.endTurnSpan()
	if c.span != nil {
		telemetry.EndCallSpan(c.span, string(reason), c.sess.Turns, c.sess.ChargedSeconds)
	}

	o.store.Remove(c.sess.CallID)
	metrics.ActiveCalls.Dec()
	metrics.RecordCallComplete(c.sess.TenantID, string(reason), c.sess.EndedAt.Sub(c.sess.StartedAt), c.sess.ChargedSeconds)
	o.log.Info("session closed",
		zap.String("tenant_id", c.sess.TenantID),
		zap.String("call_id", c.sess.CallID),
		zap.String("reason", string(reason)),
		zap.Int64("charged_seconds", seconds),
		zap.Int("turns", c.sess.Turns),
	)
}

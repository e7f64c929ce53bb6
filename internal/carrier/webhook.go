package carrier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/marcus-qen/frontdesk/internal/metrics"
	"github.com/marcus-qen/frontdesk/internal/session"
	"github.com/marcus-qen/frontdesk/internal/shared/signing"
)

// NumberResolver maps a dialed number to its tenant and department. The
// carrier only knows numbers; everything behind the webhook is
// tenant-scoped.
type NumberResolver func(dialed string) (tenantID, department string, ok bool)

// Sessions is the orchestrator surface the webhook needs.
type Sessions interface {
	Run(ctx context.Context, req session.OpenRequest) error
	Deliver(callID string, ev session.CallerEvent) bool
}

// Webhook handles carrier callbacks: inbound calls, status updates, and
// the media websocket. Every HTTP callback is HMAC-verified before any
// processing.
type Webhook struct {
	sessions Sessions
	resolve  NumberResolver
	verifier *signing.Verifier
	mediaURL string
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewWebhook wires the carrier edge. mediaURL is the externally reachable
// websocket URL the carrier should stream call audio to.
func NewWebhook(sessions Sessions, resolve NumberResolver, verifier *signing.Verifier, mediaURL string, log *zap.Logger) *Webhook {
	if log == nil {
		log = zap.NewNop()
	}
	return &Webhook{
		sessions: sessions,
		resolve:  resolve,
		verifier: verifier,
		mediaURL: mediaURL,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// signatureHeader carries the carrier's HMAC over URL and body.
const signatureHeader = "X-Carrier-Signature"

// verified wraps a handler with signature verification.
func (h *Webhook) verified(next func(w http.ResponseWriter, r *http.Request, body []byte)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		sig := r.Header.Get(signatureHeader)
		if err := h.verifier.Verify(requestURL(r), body, sig); err != nil {
			metrics.WebhookRejectsTotal.WithLabelValues("bad_signature").Inc()
			h.log.Warn("carrier webhook signature rejected",
				zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
		next(w, r, body)
	}
}

// HandleInbound answers a new call: resolve the tenant, start a session,
// and tell the carrier to open the media stream.
func (h *Webhook) HandleInbound() http.HandlerFunc {
	return h.verified(func(w http.ResponseWriter, r *http.Request, body []byte) {
		var in struct {
			CallID string `json:"call_id"`
			From   string `json:"from"`
			To     string `json:"to"`
		}
		if err := json.Unmarshal(body, &in); err != nil || in.CallID == "" {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}

		tenantID, department, ok := h.resolve(in.To)
		if !ok {
			metrics.WebhookRejectsTotal.WithLabelValues("unmapped_number").Inc()
			h.log.Warn("call to unmapped number", zap.String("call_id", in.CallID))
			h.reply(w, (&Response{}).Add(
				Say{Text: "This number is not in service."},
				Hangup{},
			))
			return
		}

		go func() {
			err := h.sessions.Run(context.Background(), session.OpenRequest{
				TenantID:   tenantID,
				CallID:     in.CallID,
				From:       in.From,
				Department: department,
			})
			if err != nil {
				h.log.Warn("session ended with error",
					zap.String("call_id", in.CallID), zap.Error(err))
			}
		}()

		h.reply(w, (&Response{}).Add(Connect{Stream: Stream{URL: h.mediaURL + "?call=" + in.CallID}}))
	})
}

// HandleStatus consumes carrier status callbacks (hangup, voicemail done).
func (h *Webhook) HandleStatus() http.HandlerFunc {
	return h.verified(func(w http.ResponseWriter, r *http.Request, body []byte) {
		var in struct {
			CallID string `json:"call_id"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(body, &in); err != nil || in.CallID == "" {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}

		switch in.Status {
		case "completed", "busy", "failed", "no-answer":
			h.sessions.Deliver(in.CallID, session.CallerEvent{Kind: session.CallerHangup})
		case "voicemail-done":
			h.sessions.Deliver(in.CallID, session.CallerEvent{Kind: session.CallerVoicemailDone})
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// HandleMedia upgrades the media websocket and pumps caller audio and
// voice-activity events into the session mailbox.
func (h *Webhook) HandleMedia() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callID := r.URL.Query().Get("call")
		if callID == "" {
			http.Error(w, "missing call id", http.StatusBadRequest)
			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(1 << 20)

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var frame struct {
				Event string `json:"event"`
				Audio string `json:"audio,omitempty"`
			}
			if err := json.Unmarshal(msg, &frame); err != nil {
				continue
			}

			switch frame.Event {
			case "media":
				pcm, err := base64.StdEncoding.DecodeString(frame.Audio)
				if err != nil {
					continue
				}
				h.sessions.Deliver(callID, session.CallerEvent{Kind: session.CallerAudio, Audio: pcm})
			case "speech_started":
				h.sessions.Deliver(callID, session.CallerEvent{Kind: session.CallerSpeechStarted})
			case "speech_stopped":
				h.sessions.Deliver(callID, session.CallerEvent{Kind: session.CallerSpeechStopped})
			case "stop":
				h.sessions.Deliver(callID, session.CallerEvent{Kind: session.CallerHangup})
				return
			}
		}
	}
}

func (h *Webhook) reply(w http.ResponseWriter, resp *Response) {
	doc, err := resp.Build()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(doc)
}

// requestURL reconstructs the externally visible URL the carrier signed.
func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

package carrier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/frontdesk/internal/directory"
	"github.com/marcus-qen/frontdesk/internal/shared/fault"
	"github.com/marcus-qen/frontdesk/internal/shared/signing"
)

// Telephony drives live calls through the carrier's command API. Every
// command is signed with the same shared token the carrier uses for its
// webhooks. It satisfies the session orchestrator's Telephony interface.
type Telephony struct {
	baseURL string
	signer  *signing.Verifier
	client  *http.Client
	log     *zap.Logger
}

// NewTelephony builds the command client.
func NewTelephony(baseURL string, signer *signing.Verifier, log *zap.Logger) *Telephony {
	if log == nil {
		log = zap.NewNop()
	}
	return &Telephony{
		baseURL: baseURL,
		signer:  signer,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

type command struct {
	Action    string `json:"action"`
	Text      string `json:"text,omitempty"`
	Number    string `json:"number,omitempty"`
	Extension string `json:"extension,omitempty"`
	Box       string `json:"box,omitempty"`
}

// Say speaks text to the caller via carrier TTS.
func (t *Telephony) Say(callID, text string) error {
	return t.send(callID, command{Action: "say", Text: text})
}

// Bridge connects the caller to an agent's extension.
func (t *Telephony) Bridge(callID string, agent directory.Agent) error {
	return t.send(callID, command{Action: "bridge", Extension: agent.Extension})
}

// StartVoicemail begins recording into the department's box.
func (t *Telephony) StartVoicemail(callID, box string) error {
	return t.send(callID, command{Action: "voicemail", Box: box})
}

// Hangup ends the call.
func (t *Telephony) Hangup(callID string) error {
	return t.send(callID, command{Action: "hangup"})
}

// Originate places an outbound call to number and, once answered, bridges
// it to the agent extension. Used by the callback scheduler; the reported
// answer state drives retry backoff.
func (t *Telephony) Originate(number, extension string) (bool, error) {
	body, err := json.Marshal(command{Action: "originate", Number: number, Extension: extension})
	if err != nil {
		return false, fmt.Errorf("marshal originate: %w", err)
	}
	url := t.baseURL + "/calls"

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build originate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, t.signer.Sign(url, body))

	resp, err := t.client.Do(req)
	if err != nil {
		return false, fault.Wrap(fault.Upstream, err, "carrier originate")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return false, fault.New(fault.Upstream, "carrier originate: status %d", resp.StatusCode)
	}

	var out struct {
		Answered bool `json:"answered"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode originate response: %w", err)
	}
	return out.Answered, nil
}

func (t *Telephony) send(callID string, cmd command) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	url := fmt.Sprintf("%s/calls/%s/commands", t.baseURL, callID)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build command request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, t.signer.Sign(url, body))

	resp, err := t.client.Do(req)
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "carrier command %s for call %s", cmd.Action, callID)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fault.New(fault.Upstream, "carrier command %s for call %s: status %d", cmd.Action, callID, resp.StatusCode)
	}
	return nil
}

package aiprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// fakeProvider upgrades, reads upstream messages, and answers commits with
// a short token stream and cancels with a cancelled ack.
func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			switch m["type"] {
			case "commit":
				_ = conn.WriteJSON(Frame{Type: FrameToken, Text: "Hello, "})
				_ = conn.WriteJSON(Frame{Type: FrameToken, Text: "how can I help?"})
				_ = conn.WriteJSON(Frame{Type: FrameUtteranceEnd})
			case "cancel":
				_ = conn.WriteJSON(Frame{Type: FrameToken, Text: "stale"})
				_ = conn.WriteJSON(Frame{Type: FrameCancelled})
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func collect(t *testing.T, s *Stream, until FrameType) []Frame {
	t.Helper()
	var got []Frame
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-s.Frames():
			if !ok {
				t.Fatal("stream closed early")
			}
			got = append(got, f)
			if f.Type == until {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s, got %v", until, got)
		}
	}
}

func TestCommitStreamsTokens(t *testing.T) {
	srv := fakeProvider(t)
	defer srv.Close()

	d := &Dialer{}
	s, err := d.Dial(context.Background(), wsURL(srv), "t-1", "call-1", "receptionist")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer s.Close()

	if err := s.SendAudio([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("send audio: %v", err)
	}
	if err := s.CommitTurn(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got := collect(t, s, FrameUtteranceEnd)
	var text strings.Builder
	for _, f := range got {
		if f.Type == FrameToken {
			text.WriteString(f.Text)
		}
	}
	if text.String() != "Hello, how can I help?" {
		t.Errorf("assembled text = %q", text.String())
	}
}

func TestCancelIsAcknowledged(t *testing.T) {
	srv := fakeProvider(t)
	defer srv.Close()

	d := &Dialer{}
	s, err := d.Dial(context.Background(), wsURL(srv), "t-1", "call-1", "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer s.Close()

	if err := s.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got := collect(t, s, FrameCancelled)
	if got[len(got)-1].Type != FrameCancelled {
		t.Errorf("last frame = %s, want cancelled ack", got[len(got)-1].Type)
	}
}

func TestDialFailure(t *testing.T) {
	d := &Dialer{}
	_, err := d.Dial(context.Background(), "ws://127.0.0.1:1/nope", "t-1", "call-1", "")
	if err == nil {
		t.Fatal("expected dial error")
	}
}

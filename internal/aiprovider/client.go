/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package aiprovider speaks the streaming conversation protocol with an AI
// inference endpoint over a websocket. One Stream maps to one call: caller
// audio goes up, response tokens and control frames come down. Cancellation
// is cooperative: after Cancel the provider keeps streaming until it
// acknowledges with a cancelled frame, and the session must discard tokens
// until then.
package aiprovider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/marcus-qen/frontdesk/internal/shared/fault"
)

// FrameType classifies downstream frames.
type FrameType string

const (
	FrameToken        FrameType = "token"
	FrameUtteranceEnd FrameType = "utterance_end"
	FrameCancelled    FrameType = "cancelled"
	FrameFunctionCall FrameType = "function_call"
	FrameError        FrameType = "error"
)

// Frame is one downstream protocol message.
type Frame struct {
	Type FrameType      `json:"type"`
	Text string         `json:"text,omitempty"`
	Name string         `json:"name,omitempty"` // function name for function_call
	Args map[string]any `json:"args,omitempty"`
	Err  string         `json:"error,omitempty"`
}

// upstream message shapes.
type audioMsg struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64 PCM
}

type controlMsg struct {
	Type string `json:"type"`
}

type openMsg struct {
	Type     string `json:"type"`
	TenantID string `json:"tenant_id"`
	CallID   string `json:"call_id"`
	Persona  string `json:"persona,omitempty"`
}

const (
	writeWait   = 10 * time.Second
	inboxSize   = 256
	maxFrameLen = 1 << 20
)

// Stream is one live conversation with the provider. Writes are serialized;
// frames arrive on Frames until the connection drops, after which the
// channel closes.
type Stream struct {
	conn *websocket.Conn
	log  *zap.Logger

	writeMu sync.Mutex
	frames  chan Frame

	closeOnce sync.Once
}

// Dialer opens streams against a provider endpoint. The gateway hands it
// the endpoint URL to use per call.
type Dialer struct {
	APIKey string
	Log    *zap.Logger
}

// Dial opens a conversation stream for one call. The endpoint URL comes
// from gateway selection, not configuration, so failover changes it per
// call.
func (d *Dialer) Dial(ctx context.Context, endpointURL, tenantID, callID, persona string) (*Stream, error) {
	header := http.Header{}
	if d.APIKey != "" {
		header.Set("Authorization", "Bearer "+d.APIKey)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpointURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fault.Wrap(fault.Auth, err, "provider rejected credentials")
			}
		}
		return nil, fault.Wrap(fault.Upstream, err, "dial provider %s", endpointURL)
	}
	conn.SetReadLimit(maxFrameLen)

	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	s := &Stream{
		conn:   conn,
		log:    log,
		frames: make(chan Frame, inboxSize),
	}

	if err := s.write(openMsg{Type: "open", TenantID: tenantID, CallID: callID, Persona: persona}); err != nil {
		conn.Close()
		return nil, fault.Wrap(fault.Upstream, err, "open conversation")
	}

	go s.readLoop()
	return s, nil
}

// Frames returns the downstream frame channel. It closes when the
// connection ends.
func (s *Stream) Frames() <-chan Frame {
	return s.frames
}

// SendAudio forwards one chunk of caller audio.
func (s *Stream) SendAudio(pcm []byte) error {
	return s.write(audioMsg{Type: "audio", Audio: base64.StdEncoding.EncodeToString(pcm)})
}

// CommitTurn tells the provider the caller stopped talking and a response
// should begin.
func (s *Stream) CommitTurn() error {
	return s.write(controlMsg{Type: "commit"})
}

// Cancel asks the provider to abandon the in-flight response. The provider
// acknowledges with a cancelled frame; tokens before the ack are stale.
func (s *Stream) Cancel() error {
	return s.write(controlMsg{Type: "cancel"})
}

// Close tears the stream down.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Stream) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (s *Stream) readLoop() {
	defer close(s.frames)
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			s.log.Warn("invalid provider frame", zap.Error(err))
			continue
		}

		select {
		case s.frames <- f:
		default:
			s.log.Warn("frame inbox full, dropping", zap.String("type", string(f.Type)))
		}
	}
}

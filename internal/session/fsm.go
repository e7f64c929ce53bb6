/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package session runs one live phone call end to end: the AI turn loop,
// barge-in, handoff to a human, voicemail and callback fallbacks, and the
// final charge against the tenant's minute budget. The state machine is a
// pure transition table; the orchestrator drives it from carrier and
// provider events.
package session

import "github.com/marcus-qen/frontdesk/internal/shared/fault"

// State is a call's position in its lifecycle.
type State string

const (
	// StateGreeting: the AI is delivering its opening line.
	StateGreeting State = "greeting"
	// StateListening: the caller has the floor; audio streams up.
	StateListening State = "listening"
	// StateThinking: the turn is committed, response not yet started.
	StateThinking State = "thinking"
	// StateSpeaking: response tokens are playing to the caller.
	StateSpeaking State = "speaking"
	// StateCancelling: barge-in sent, waiting for the provider's ack.
	// Tokens that arrive here are stale and are discarded.
	StateCancelling State = "cancelling"
	// StateRouting: a transfer attempt loop is in flight.
	StateRouting State = "routing"
	// StateBridged: the caller is connected to a human agent.
	StateBridged State = "bridged"
	// StateVoicemail: the caller is recording a message.
	StateVoicemail State = "voicemail"
	// StateClosed is terminal; the session is charged and gone.
	StateClosed State = "closed"
)

// Trigger is what moves a session between states.
type Trigger string

const (
	TriggerGreeted       Trigger = "greeted"
	TriggerTurnCommitted Trigger = "turn_committed"
	TriggerResponse      Trigger = "response_started"
	TriggerResponseDone  Trigger = "response_done"
	TriggerBargeIn       Trigger = "barge_in"
	TriggerCancelAcked   Trigger = "cancel_acked"
	TriggerTransfer      Trigger = "transfer_requested"
	TriggerBridged       Trigger = "bridged"
	TriggerVoicemail     Trigger = "to_voicemail"
	TriggerClose         Trigger = "close"
)

// transitions is the legal-move table. TriggerClose is valid from every
// state and handled in Transition directly.
var transitions = map[State]map[Trigger]State{
	StateGreeting: {
		TriggerGreeted: StateListening,
	},
	StateListening: {
		TriggerTurnCommitted: StateThinking,
	},
	StateThinking: {
		TriggerResponse:  StateSpeaking,
		TriggerTransfer:  StateRouting,
		TriggerVoicemail: StateVoicemail,
	},
	StateSpeaking: {
		TriggerResponseDone: StateListening,
		TriggerBargeIn:      StateCancelling,
		TriggerTransfer:     StateRouting,
		TriggerVoicemail:    StateVoicemail,
	},
	StateCancelling: {
		TriggerCancelAcked: StateListening,
	},
	StateRouting: {
		TriggerBridged:   StateBridged,
		TriggerVoicemail: StateVoicemail,
	},
	StateBridged:   {},
	StateVoicemail: {},
}

// Transition returns the next state, or a conflict fault for an illegal
// move. Close is always legal; a closed session accepts nothing.
func Transition(from State, trig Trigger) (State, error) {
	if from == StateClosed {
		return StateClosed, fault.New(fault.Conflict, "session is closed")
	}
	if trig == TriggerClose {
		return StateClosed, nil
	}
	next, ok := transitions[from][trig]
	if !ok {
		return from, fault.New(fault.Conflict, "cannot %s from %s", trig, from)
	}
	return next, nil
}

// Terminal reports whether a state accepts no further conversation turns.
func Terminal(s State) bool {
	switch s {
	case StateBridged, StateVoicemail, StateClosed:
		return true
	}
	return false
}

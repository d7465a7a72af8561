// Package audio defines the Media Bridge contract: the narrow interface
// between a call leg (SIP, WebRTC, a telephony PSTN trunk, a browser mic/speaker
// pair) and the broker's turn orchestrator.
//
// The two primary abstractions are:
//
//   - [Bridge] — accepts or places a call and returns a [Session].
//   - [Session] — represents one active, bidirectional call: an inbound PCM
//     stream from the caller and an outbound PCM stream the broker writes
//     synthesized speech into.
//
// Unlike a multi-participant voice-channel platform, a [Session] carries
// exactly one caller; the broker pairs one [Session] with one conversation.
// Implementations of these interfaces are provided by transport-specific
// adapter packages (SIP, WebRTC, a browser WebSocket bridge) that this module
// does not implement — see SPEC_FULL.md's Non-goals.
//
// This package lives under pkg/ because external code (transport adapters)
// is expected to implement [Bridge] and [Session].
package audio

import (
	"context"
)

// EventType classifies lifecycle events emitted by a [Session].
type EventType int

const (
	// EventAnswered is emitted when the remote leg accepts the call.
	EventAnswered EventType = iota

	// EventHangup is emitted when the remote leg ends the call.
	EventHangup
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventAnswered:
		return "ANSWERED"
	case EventHangup:
		return "HANGUP"
	default:
		return "UNKNOWN"
	}
}

// Event describes a call lifecycle change on a [Session].
// Callbacks registered via [Session.OnEvent] receive values of this type.
type Event struct {
	// Type indicates what happened.
	Type EventType

	// CallerID is the transport-specific identifier for the remote party
	// (e.g., a SIP From header, a phone number, a WebRTC peer ID).
	CallerID string
}

// Session represents one active, bidirectional call between a caller and
// the broker.
//
// A Session is obtained by calling [Bridge.Accept] or [Bridge.Dial] and
// remains valid until [Session.Hangup] is called or the remote leg ends the
// call; the context passed to Accept or Dial does not bound its lifetime.
// The inbound channel is closed when the call terminates; the outbound
// channel belongs to its writer (see [Session.OutboundStream]).
//
// Implementations must be safe for concurrent use.
type Session interface {
	// InboundStream returns the read-only channel delivering [AudioFrame]
	// values captured from the caller. The channel is closed when the call
	// ends.
	InboundStream() <-chan AudioFrame

	// OutboundStream returns the write-only channel the broker writes
	// synthesized speech into. The channel is buffered; writes must not
	// block indefinitely.
	//
	// Ownership: the returned channel is owned by the caller (writer). The
	// session does NOT close this channel on Hangup — the broker is
	// responsible for stopping writes and optionally closing the channel.
	// Writing after Hangup results in dropped frames, not a panic.
	OutboundStream() chan<- AudioFrame

	// OnEvent registers cb as the callback to invoke whenever a lifecycle
	// event occurs. Only one callback may be registered at a time;
	// subsequent calls replace the previous registration. The callback is
	// invoked on an internal goroutine and must not block.
	OnEvent(cb func(Event))

	// Hangup cleanly tears down the call, drains pending frames, and closes
	// the inbound channel; the outbound channel is left to its writer. Safe
	// to call more than once; subsequent calls are
	// no-ops and return nil.
	Hangup() error
}

// Bridge is the entry point for a call transport.
// Implementations wrap transport-specific SDKs (SIP, WebRTC, a browser
// WebSocket audio bridge, …) and expose a uniform [Session] abstraction.
//
// Implementations must be safe for concurrent use.
type Bridge interface {
	// Accept waits for and accepts the next inbound call and returns an
	// active [Session]. The supplied ctx governs the lifetime of the accept
	// attempt only; once connected, the Session remains alive until
	// [Session.Hangup] is called explicitly.
	//
	// Returns an error if no call can be accepted (transport failure,
	// context cancellation, etc.).
	Accept(ctx context.Context) (Session, error)

	// Dial places an outbound call to destination (a transport-specific
	// address — a phone number, a SIP URI) and returns an active [Session]
	// once the remote leg answers.
	//
	// Returns an error if the call cannot be established (auth failure,
	// no answer, network error, etc.).
	Dial(ctx context.Context, destination string) (Session, error)
}

// Package mock provides in-memory mock implementations of the [audio.Bridge],
// [audio.Session], and [audio.Mixer] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	out := make(chan audio.AudioFrame, 16)
//	sess := &mock.Session{
//	    InboundStreamResult: make(chan audio.AudioFrame),
//	    OutboundStreamResult: out,
//	}
//	bridge := &mock.Bridge{AcceptResult: sess}
//	got, err := bridge.Accept(ctx)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voicebroker/pkg/audio"
)

// ─── Session ───────────────────────────────────────────────────────────────────

// Session is a mock implementation of [audio.Session].
// Set the exported Result fields before use; inspect the Call* fields after.
type Session struct {
	mu sync.Mutex

	// InboundStreamResult is returned by [Session.InboundStream].
	InboundStreamResult chan audio.AudioFrame

	// OutboundStreamResult is returned by [Session.OutboundStream].
	OutboundStreamResult chan<- audio.AudioFrame

	// HangupError is returned by [Session.Hangup].
	HangupError error

	// CallCountInboundStream records how many times InboundStream was called.
	CallCountInboundStream int

	// CallCountOutboundStream records how many times OutboundStream was called.
	CallCountOutboundStream int

	// CallCountHangup records how many times Hangup was called.
	CallCountHangup int

	// CallCountOnEvent records how many times OnEvent was called.
	CallCountOnEvent int

	// RecordedCallbacks holds the callbacks registered via OnEvent, in order
	// of registration.
	RecordedCallbacks []func(audio.Event)
}

// InboundStream implements [audio.Session]. Returns InboundStreamResult.
func (s *Session) InboundStream() <-chan audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountInboundStream++
	return s.InboundStreamResult
}

// OutboundStream implements [audio.Session]. Returns OutboundStreamResult.
func (s *Session) OutboundStream() chan<- audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOutboundStream++
	return s.OutboundStreamResult
}

// OnEvent implements [audio.Session].
// The callback is appended to RecordedCallbacks. To simulate events in
// tests, call [Session.EmitEvent].
func (s *Session) OnEvent(cb func(audio.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOnEvent++
	s.RecordedCallbacks = append(s.RecordedCallbacks, cb)
}

// Hangup implements [audio.Session]. Returns HangupError.
func (s *Session) Hangup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountHangup++
	return s.HangupError
}

// EmitEvent calls all registered event callbacks with ev.
// Use this in tests to simulate call lifecycle transitions.
func (s *Session) EmitEvent(ev audio.Event) {
	s.mu.Lock()
	cbs := make([]func(audio.Event), len(s.RecordedCallbacks))
	copy(cbs, s.RecordedCallbacks)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

// ─── Bridge ────────────────────────────────────────────────────────────────────

// AcceptCall records a single [Bridge.Accept] invocation (no arguments beyond ctx).
type AcceptCall struct{}

// DialCall records the arguments of a single [Bridge.Dial] invocation.
type DialCall struct {
	// Destination is the destination argument passed to Dial.
	Destination string
}

// Bridge is a mock implementation of [audio.Bridge].
type Bridge struct {
	mu sync.Mutex

	// AcceptResult is the [audio.Session] returned by Accept.
	AcceptResult audio.Session
	// AcceptError is the error returned by Accept.
	AcceptError error
	// AcceptCalls records all Accept invocations.
	AcceptCalls []AcceptCall

	// DialResult is the [audio.Session] returned by Dial.
	DialResult audio.Session
	// DialError is the error returned by Dial.
	DialError error
	// DialCalls records all Dial invocations.
	DialCalls []DialCall
}

// Accept implements [audio.Bridge]. Records the call and returns AcceptResult / AcceptError.
func (b *Bridge) Accept(_ context.Context) (audio.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.AcceptCalls = append(b.AcceptCalls, AcceptCall{})
	return b.AcceptResult, b.AcceptError
}

// Dial implements [audio.Bridge]. Records the call and returns DialResult / DialError.
func (b *Bridge) Dial(_ context.Context, destination string) (audio.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DialCalls = append(b.DialCalls, DialCall{Destination: destination})
	return b.DialResult, b.DialError
}

// ─── Mixer ────────────────────────────────────────────────────────────────────

// EnqueueCall records the arguments of a single [Mixer.Enqueue] invocation.
type EnqueueCall struct {
	// Segment is the audio segment passed to Enqueue.
	Segment *audio.AudioSegment
	// Priority is the priority argument passed to Enqueue.
	Priority int
}

// InterruptCall records the arguments of a single [Mixer.Interrupt] invocation.
type InterruptCall struct {
	// Reason is the interrupt reason passed to Interrupt.
	Reason audio.InterruptReason
}

// SetGapCall records the arguments of a single [Mixer.SetGap] invocation.
type SetGapCall struct {
	// Duration is the gap duration passed to SetGap.
	Duration time.Duration
}

// Mixer is a mock implementation of [audio.Mixer].
type Mixer struct {
	mu sync.Mutex

	// EnqueueCalls records all Enqueue invocations.
	EnqueueCalls []EnqueueCall

	// InterruptCalls records all Interrupt invocations.
	InterruptCalls []InterruptCall

	// SetGapCalls records all SetGap invocations.
	SetGapCalls []SetGapCall

	// CallCountOnBargeIn records how many times OnBargeIn was called.
	CallCountOnBargeIn int

	// BargeInHandlers holds the handlers registered via OnBargeIn in registration order.
	BargeInHandlers []func(speakerID string)
}

// Enqueue implements [audio.Mixer]. Records the call arguments.
func (m *Mixer) Enqueue(segment *audio.AudioSegment, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnqueueCalls = append(m.EnqueueCalls, EnqueueCall{Segment: segment, Priority: priority})
}

// Interrupt implements [audio.Mixer]. Records the reason.
func (m *Mixer) Interrupt(reason audio.InterruptReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InterruptCalls = append(m.InterruptCalls, InterruptCall{Reason: reason})
}

// OnBargeIn implements [audio.Mixer]. Appends handler to BargeInHandlers.
func (m *Mixer) OnBargeIn(handler func(speakerID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountOnBargeIn++
	m.BargeInHandlers = append(m.BargeInHandlers, handler)
}

// SetGap implements [audio.Mixer]. Records the gap duration.
func (m *Mixer) SetGap(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetGapCalls = append(m.SetGapCalls, SetGapCall{Duration: d})
}

// TriggerBargeIn calls all registered barge-in handlers with speakerID.
// Use this in tests to simulate a player interrupting an agent.
func (m *Mixer) TriggerBargeIn(speakerID string) {
	m.mu.Lock()
	handlers := make([]func(string), len(m.BargeInHandlers))
	copy(handlers, m.BargeInHandlers)
	m.mu.Unlock()
	for _, h := range handlers {
		h(speakerID)
	}
}

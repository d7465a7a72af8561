// Package vad implements the VAD Gate: a per-session component that
// buffers inbound PCM into fixed-size frames, classifies each frame via a
// provider.vad.Engine session, and exposes speech_started/speech_ended edges
// as a side channel to the turn orchestrator without ever dropping audio.
//
// Grounded on pkg/audio.FormatConverter's per-stream accumulator shape (a
// struct created once per stream, not shared across goroutines, holding a
// byte-level working buffer) and the pkg/provider/vad session contract it
// wraps.
package vad

import (
	"fmt"

	"github.com/MrWong99/voicebroker/pkg/provider/vad"
)

// FrameSizeMs is the fixed frame duration the Gate buffers PCM into before
// classification, per the VAD Gate contract.
const FrameSizeMs = 30

// DefaultSpeechFrames is the default K_v: consecutive voice frames required
// to emit speech_started (12 frames * 30ms = 360ms).
const DefaultSpeechFrames = 12

// DefaultSilenceFrames is the default K_s: consecutive silence frames
// required to emit speech_ended while in active state (20 frames * 30ms = 600ms).
const DefaultSilenceFrames = 20

// Edge is the side-channel signal the Gate emits alongside forwarded audio.
type Edge int

const (
	// EdgeNone means no state transition occurred for this frame.
	EdgeNone Edge = iota
	// EdgeSpeechStarted means K_v consecutive voice frames were just observed.
	EdgeSpeechStarted
	// EdgeSpeechEnded means K_s consecutive silence frames were just observed
	// while the gate was in active (speaking) state.
	EdgeSpeechEnded
)

// Config configures a Gate instance. SpeechFrames and SilenceFrames default
// to [DefaultSpeechFrames] and [DefaultSilenceFrames] when zero.
type Config struct {
	SampleRate    int
	SpeechFrames  int
	SilenceFrames int
}

// bytesPerFrame returns the number of PCM bytes in one FrameSizeMs frame at
// the given sample rate, assuming 16-bit mono samples.
func bytesPerFrame(sampleRate int) int {
	samples := sampleRate * FrameSizeMs / 1000
	return samples * 2
}

// Gate buffers inbound PCM for a single session into fixed frames, classifies
// each via an underlying VAD session, and tracks the voice/silence run state
// needed to emit edges. Not safe for concurrent use — create one per stream.
type Gate struct {
	session vad.SessionHandle
	cfg     Config

	frameBytes int
	buf        []byte

	active        bool
	voiceRun      int
	silenceRun    int
}

// New creates a Gate that buffers PCM into FrameSizeMs frames and classifies
// them via session. session must have been created with a Config whose
// SampleRate and FrameSizeMs match cfg.SampleRate and [FrameSizeMs].
func New(session vad.SessionHandle, cfg Config) *Gate {
	if cfg.SpeechFrames <= 0 {
		cfg.SpeechFrames = DefaultSpeechFrames
	}
	if cfg.SilenceFrames <= 0 {
		cfg.SilenceFrames = DefaultSilenceFrames
	}
	return &Gate{
		session:    session,
		cfg:        cfg,
		frameBytes: bytesPerFrame(cfg.SampleRate),
	}
}

// FrameResult is the outcome of processing one chunk of inbound PCM: the
// edges observed across the frames consumed from it. It carries no audio;
// the caller forwards the chunk to STT itself.
type FrameResult struct {
	// Edges are zero or more state transitions observed while classifying
	// the fixed-size frames extracted from this chunk, in chronological order.
	Edges []Edge
}

// Process accumulates pcm into the Gate's frame buffer, classifies every
// complete [FrameSizeMs] frame now available, and returns the edges observed.
// Audio is never dropped: incomplete tail bytes remain buffered for the next
// call regardless of classification outcome. The caller is responsible for
// forwarding pcm to STT itself — the Gate's edges are a side channel only.
func (g *Gate) Process(pcm []byte) (FrameResult, error) {
	if g.frameBytes <= 0 {
		return FrameResult{}, fmt.Errorf("vad: invalid frame size for sample rate %d", g.cfg.SampleRate)
	}
	g.buf = append(g.buf, pcm...)

	var result FrameResult
	for len(g.buf) >= g.frameBytes {
		frame := g.buf[:g.frameBytes]
		g.buf = g.buf[g.frameBytes:]

		event, err := g.session.ProcessFrame(frame)
		if err != nil {
			return result, fmt.Errorf("vad: classify frame: %w", err)
		}

		edge := g.observe(isVoice(event.Type))
		if edge != EdgeNone {
			result.Edges = append(result.Edges, edge)
		}
	}
	return result, nil
}

func isVoice(t vad.VADEventType) bool {
	return t == vad.VADSpeechStart || t == vad.VADSpeechContinue
}

// observe updates the consecutive-frame run counters for one classified
// frame and returns the edge, if any, that crossing a threshold produces.
func (g *Gate) observe(voice bool) Edge {
	if voice {
		g.voiceRun++
		g.silenceRun = 0
	} else {
		g.silenceRun++
		g.voiceRun = 0
	}

	switch {
	case !g.active && g.voiceRun >= g.cfg.SpeechFrames:
		g.active = true
		return EdgeSpeechStarted
	case g.active && g.silenceRun >= g.cfg.SilenceFrames:
		g.active = false
		return EdgeSpeechEnded
	default:
		return EdgeNone
	}
}

// Active reports whether the gate currently considers the session to be in
// an active speech segment (between a speech_started and its speech_ended).
func (g *Gate) Active() bool {
	return g.active
}

// Reset clears buffered audio and run state, and resets the underlying VAD
// session. Use after a barge-in or turn cancellation to avoid stale state
// bleeding into the next segment.
func (g *Gate) Reset() {
	g.buf = g.buf[:0]
	g.active = false
	g.voiceRun = 0
	g.silenceRun = 0
	g.session.Reset()
}

// Close releases the underlying VAD session.
func (g *Gate) Close() error {
	return g.session.Close()
}

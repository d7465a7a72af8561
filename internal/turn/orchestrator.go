// Package turn implements the Turn Orchestrator: the per-call state machine
// that mediates STT, RAG retrieval, the LLM tool-calling loop, and TTS
// playback, and that reacts to barge-in by cancelling an in-flight turn.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voicebroker/internal/mcp"
	"github.com/MrWong99/voicebroker/internal/observe"
	"github.com/MrWong99/voicebroker/internal/rag"
	"github.com/MrWong99/voicebroker/internal/session"
	"github.com/MrWong99/voicebroker/internal/vad"
	"github.com/MrWong99/voicebroker/pkg/audio"
	"github.com/MrWong99/voicebroker/pkg/provider/llm"
	"github.com/MrWong99/voicebroker/pkg/provider/stt"
	"github.com/MrWong99/voicebroker/pkg/provider/tts"
	"github.com/MrWong99/voicebroker/pkg/types"
)

// Default timeouts and limits for the turn state machine. All are
// overridable via Options.
const (
	DefaultMaxRounds            = 5
	DefaultToolTimeout           = 15 * time.Second
	DefaultSTTConnectTimeout     = 5 * time.Second
	DefaultLLMFirstTokenTimeout  = 10 * time.Second
	DefaultTTSFirstByteTimeout   = 3 * time.Second
	DefaultCancelGrace           = 200 * time.Millisecond
	DefaultTTSSampleRate         = 22050
	DefaultTTSChannels           = 1
)

// fallbackMessage is spoken when the tool-round budget is exhausted with no
// accumulated text to commit.
const fallbackMessage = "I'm having trouble completing that right now. Could you try again?"

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithRAG enables retrieval-augmented system prompts against r, scoped to
// namespace (empty matches every namespace).
func WithRAG(r *rag.Retriever, namespace string) Option {
	return func(o *Orchestrator) {
		o.retriever = r
		o.ragNamespace = namespace
	}
}

// WithMaxRounds overrides the tool-round cap (default [DefaultMaxRounds]).
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// Timeouts holds per-stage timeout overrides for [WithTimeoutOverrides]; a
// zero field keeps that stage's default.
type Timeouts struct {
	ToolCall       time.Duration
	STTConnect     time.Duration
	LLMFirstToken  time.Duration
	TTSFirstByte   time.Duration
	CancelGrace    time.Duration
}

// WithTimeoutOverrides applies t, leaving any zero field at its default.
func WithTimeoutOverrides(t Timeouts) Option {
	return func(o *Orchestrator) {
		if t.ToolCall > 0 {
			o.toolTimeout = t.ToolCall
		}
		if t.STTConnect > 0 {
			o.sttConnectTimeout = t.STTConnect
		}
		if t.LLMFirstToken > 0 {
			o.llmFirstTokenTimeout = t.LLMFirstToken
		}
		if t.TTSFirstByte > 0 {
			o.ttsFirstByteTimeout = t.TTSFirstByte
		}
		if t.CancelGrace > 0 {
			o.cancelGrace = t.CancelGrace
		}
	}
}

// WithSentenceEnvelope overrides the TTS sentence segmentation envelope
// (defaults [DefaultSentenceMin]/[DefaultSentenceMax]).
func WithSentenceEnvelope(min, max int) Option {
	return func(o *Orchestrator) {
		o.sentenceMin, o.sentenceMax = min, max
	}
}

// WithTTSAudioFormat overrides the PCM format declared on outbound
// [audio.AudioSegment] values (defaults 22050 Hz mono).
func WithTTSAudioFormat(sampleRate, channels int) Option {
	return func(o *Orchestrator) {
		if sampleRate > 0 {
			o.ttsSampleRate = sampleRate
		}
		if channels > 0 {
			o.ttsChannels = channels
		}
	}
}

// WithMCPHost adds externally-hosted MCP tools, visible up to tier, to the
// tool set offered alongside the session's static bindings.
func WithMCPHost(host mcp.Host, tier mcp.BudgetTier) Option {
	return func(o *Orchestrator) {
		o.mcpHost = host
		o.budgetTier = tier
	}
}

// WithMetrics records per-stage durations and counts to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithObservers registers callbacks for turn-level error and state-change
// events. Either may be nil.
func WithObservers(onError func(error), onState func(from, to State)) Option {
	return func(o *Orchestrator) {
		o.onError = onError
		o.onState = onState
	}
}

// Orchestrator drives one call's turn-taking state machine: it pumps
// inbound audio through the VAD gate and STT driver, and on speech_ended
// runs the Thinking-state tool-round procedure against the LLM, RAG
// retriever, and tool executor, streaming the response into TTS and the
// media bridge.
//
// One Orchestrator serves exactly one [session.Session] and one
// [audio.Session] for the lifetime of a call. Run must not be called more
// than once concurrently.
type Orchestrator struct {
	sess  *session.Session
	media audio.Session
	mixer audio.Mixer
	gate  *vad.Gate

	sttP  stt.Provider
	llmP  llm.Provider
	ttsP  tts.Provider
	voice types.VoiceProfile

	retriever    *rag.Retriever
	ragNamespace string

	mcpHost    mcp.Host
	budgetTier mcp.BudgetTier

	metrics *observe.Metrics

	maxRounds            int
	toolTimeout          time.Duration
	sttConnectTimeout    time.Duration
	llmFirstTokenTimeout time.Duration
	ttsFirstByteTimeout  time.Duration
	cancelGrace          time.Duration
	sentenceMin          int
	sentenceMax          int
	ttsSampleRate        int
	ttsChannels          int

	onError func(error)
	onState func(from, to State)

	mu    sync.Mutex
	state State

	bargeIn atomic.Bool
}

// New constructs an Orchestrator for one call. sess holds the conversation
// history and tool bindings; media is the call's audio transport; mixer
// sequences synthesized speech for playback; gate is this call's VAD gate.
func New(sess *session.Session, media audio.Session, mixer audio.Mixer, gate *vad.Gate, sttP stt.Provider, llmP llm.Provider, ttsP tts.Provider, voice types.VoiceProfile, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sess:  sess,
		media: media,
		mixer: mixer,
		gate:  gate,
		sttP:  sttP,
		llmP:  llmP,
		ttsP:  ttsP,
		voice: voice,

		maxRounds:            DefaultMaxRounds,
		toolTimeout:          DefaultToolTimeout,
		sttConnectTimeout:    DefaultSTTConnectTimeout,
		llmFirstTokenTimeout: DefaultLLMFirstTokenTimeout,
		ttsFirstByteTimeout:  DefaultTTSFirstByteTimeout,
		cancelGrace:          DefaultCancelGrace,
		sentenceMin:          DefaultSentenceMin,
		sentenceMax:          DefaultSentenceMax,
		ttsSampleRate:        DefaultTTSSampleRate,
		ttsChannels:          DefaultTTSChannels,

		state: Idle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the orchestrator's current state. Safe for concurrent use.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()
	if prev != s && o.onState != nil {
		o.onState(prev, s)
	}
}

func (o *Orchestrator) emitError(err error) {
	slog.Warn("turn: orchestrator error", "error", err, "session", o.sess.ID)
	if o.onError != nil {
		o.onError(err)
	}
}

// Run pumps inbound audio for the call until the media session ends or ctx
// is cancelled. It opens the STT session lazily on the first frame;
// a failure to open surfaces [ErrSTTUnavailable] and ends the call without
// ever running a turn.
func (o *Orchestrator) Run(ctx context.Context) error {
	inbound := o.media.InboundStream()

	var sttSess stt.SessionHandle
	defer func() {
		o.sess.Cancel()
		if sttSess != nil {
			_ = sttSess.Close()
		}
		_ = o.gate.Close()
	}()

	finals := make(chan types.Transcript, 16)
	var pending strings.Builder

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-inbound:
			if !ok {
				return nil
			}

			if sttSess == nil {
				var err error
				connectCtx, cancel := context.WithTimeout(ctx, o.sttConnectTimeout)
				sttSess, err = o.sttP.StartStream(connectCtx, stt.StreamConfig{
					SampleRate: frame.SampleRate,
					Channels:   frame.Channels,
				})
				cancel()
				if err != nil {
					o.emitError(fmt.Errorf("%w: %v", ErrSTTUnavailable, err))
					return ErrSTTUnavailable
				}
				go drainTranscripts(sttSess.Partials())
				go forwardFinals(sttSess.Finals(), finals)
			}

			if err := sttSess.SendAudio(frame.Data); err != nil {
				slog.Warn("turn: stt send audio failed", "error", err, "session", o.sess.ID)
			}

			result, err := o.gate.Process(frame.Data)
			if err != nil {
				slog.Warn("turn: vad gate error", "error", err, "session", o.sess.ID)
				continue
			}
			for _, edge := range result.Edges {
				o.handleEdge(ctx, edge, &pending)
			}

		case tr, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			if o.State() == Listening && tr.Text != "" {
				if pending.Len() > 0 {
					pending.WriteByte(' ')
				}
				pending.WriteString(tr.Text)
			}
		}
	}
}

// handleEdge applies one VAD edge to the state machine's transition table.
func (o *Orchestrator) handleEdge(ctx context.Context, edge vad.Edge, pending *strings.Builder) {
	switch edge {
	case vad.EdgeSpeechStarted:
		switch o.State() {
		case Idle:
			pending.Reset()
			o.setState(Listening)
		case Thinking, Speaking:
			o.bargeIn.Store(true)
			o.setState(Interrupted)
			o.sess.Cancel()
		}

	case vad.EdgeSpeechEnded:
		if o.State() != Listening {
			return
		}
		text := strings.TrimSpace(pending.String())
		pending.Reset()
		if text == "" {
			// Tie-break: empty user transcript does not trigger a turn.
			o.setState(Idle)
			return
		}
		o.setState(Thinking)
		go o.runTurn(ctx, text)
	}
}

// drainTranscripts discards partial transcripts; they exist for UI feedback
// only and must never reach the conversation log.
func drainTranscripts(ch <-chan types.Transcript) {
	for range ch {
	}
}

// forwardFinals relays final transcripts from an STT session to out,
// stopping when either channel closes.
func forwardFinals(in <-chan types.Transcript, out chan<- types.Transcript) {
	defer close(out)
	for tr := range in {
		out <- tr
	}
}

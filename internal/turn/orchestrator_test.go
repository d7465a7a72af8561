package turn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voicebroker/internal/session"
	"github.com/MrWong99/voicebroker/internal/store/postgres"
	"github.com/MrWong99/voicebroker/internal/tools"
	"github.com/MrWong99/voicebroker/internal/vad"
	"github.com/MrWong99/voicebroker/pkg/audio"
	audiomock "github.com/MrWong99/voicebroker/pkg/audio/mock"
	"github.com/MrWong99/voicebroker/pkg/provider/llm"
	llmmock "github.com/MrWong99/voicebroker/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/voicebroker/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/voicebroker/pkg/provider/tts/mock"
	vadprovider "github.com/MrWong99/voicebroker/pkg/provider/vad"
	vadmock "github.com/MrWong99/voicebroker/pkg/provider/vad/mock"
	"github.com/MrWong99/voicebroker/pkg/types"
)

var errSTTConnectFailed = errors.New("stt: connection refused")

// newNoopGate builds a real Gate over a mock VAD session that classifies
// every frame as silence, so tests that exercise Run's audio pump but are
// not asserting on VAD edges never observe a spurious transition.
func newNoopGate() *vad.Gate {
	silent := &vadmock.Session{EventResult: vadprovider.VADEvent{Type: vadprovider.VADSilence}}
	return vad.New(silent, vad.Config{SampleRate: 16000})
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	executor := tools.NewExecutor(tools.NewRegistry(), nil)
	agent := postgres.Agent{ID: "agent-1", SystemPrompt: "You are a helpful voice agent."}
	return session.New("sess-1", agent, executor)
}

func newTestOrchestrator(t *testing.T, llmP *llmmock.Provider, ttsP *ttsmock.Provider, mixer *audiomock.Mixer, opts ...Option) (*Orchestrator, *session.Session) {
	t.Helper()
	sess := newTestSession(t)
	media := &audiomock.Session{InboundStreamResult: make(chan audio.AudioFrame)}
	allOpts := append([]Option{
		WithTimeoutOverrides(Timeouts{
			ToolCall:      2 * time.Second,
			LLMFirstToken: 2 * time.Second,
			TTSFirstByte:  2 * time.Second,
			CancelGrace:   50 * time.Millisecond,
		}),
	}, opts...)
	o := New(sess, media, mixer, newNoopGate(), &sttmock.Provider{}, llmP, ttsP, types.VoiceProfile{ID: "voice-1"}, allOpts...)
	return o, sess
}

func TestRunTurn_SimpleTextCommitsAssistantMessage(t *testing.T) {
	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Hello there, how can I help you today?", FinishReason: "stop"},
	}}
	ttsP := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("audio-bytes")}}
	mixer := &audiomock.Mixer{}

	o, sess := newTestOrchestrator(t, llmP, ttsP, mixer)
	o.runTurn(context.Background(), "Hi")

	if got := o.State(); got != Idle {
		t.Errorf("final state = %v, want Idle", got)
	}

	msgs := sess.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (user + assistant): %#v", len(msgs), msgs)
	}
	if msgs[0].Role != "user" || msgs[0].Content != "Hi" {
		t.Errorf("first message = %#v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "Hello there, how can I help you today?" {
		t.Errorf("second message = %#v", msgs[1])
	}

	if len(mixer.EnqueueCalls) != 1 {
		t.Errorf("mixer.EnqueueCalls = %d, want 1", len(mixer.EnqueueCalls))
	}
}

func TestRunTurn_ToolCallRoundThenFinalAnswer(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"order_id": "abc123"})
	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{
			ToolCalls:    []types.ToolCall{{ID: "call-1", Name: "lookup_order", Arguments: json.RawMessage(args)}},
			FinishReason: "tool_calls",
		},
	}}
	ttsP := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("audio-bytes")}}
	mixer := &audiomock.Mixer{}

	o, sess := newTestOrchestrator(t, llmP, ttsP, mixer)

	// The mock LLM provider returns the same StreamChunks on every call, so
	// every round looks like a tool-call round until MAX_ROUNDS is hit. This
	// test only inspects the first round's side effects: the assistant
	// message carrying the tool call, and the resulting tool message.
	o.runTurn(context.Background(), "Where is my order?")

	msgs := sess.Snapshot()
	var sawToolCallMsg, sawToolResultMsg bool
	for _, m := range msgs {
		if m.Role == "assistant" && len(m.ToolCalls) == 1 && m.Content == "" {
			sawToolCallMsg = true
		}
		if m.Role == "tool" && m.ToolCallID == "call-1" {
			sawToolResultMsg = true
		}
	}
	if !sawToolCallMsg {
		t.Errorf("expected an assistant message carrying the tool call with empty content, got %#v", msgs)
	}
	if !sawToolResultMsg {
		t.Errorf("expected a tool-role message for call-1, got %#v", msgs)
	}
}

func TestRunTurn_MaxRoundsFallsBackWhenNoText(t *testing.T) {
	args, _ := json.Marshal(map[string]any{})
	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{
			ToolCalls:    []types.ToolCall{{ID: "call-1", Name: "noop", Arguments: json.RawMessage(args)}},
			FinishReason: "tool_calls",
		},
	}}
	ttsP := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("audio-bytes")}}
	mixer := &audiomock.Mixer{}

	o, sess := newTestOrchestrator(t, llmP, ttsP, mixer, WithMaxRounds(2))
	o.runTurn(context.Background(), "Do the thing")

	if got := o.State(); got != Idle {
		t.Errorf("final state = %v, want Idle", got)
	}

	msgs := sess.Snapshot()
	last := msgs[len(msgs)-1]
	if last.Role != "assistant" || last.Content != fallbackMessage {
		t.Errorf("last message = %#v, want fallback assistant message %q", last, fallbackMessage)
	}
}

func TestRunTurn_CancelledMidTurnReturnsToListening(t *testing.T) {
	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Some words before the interruption lands.", FinishReason: "stop"},
	}}
	ttsP := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("audio-bytes")}}
	mixer := &audiomock.Mixer{}

	o, sess := newTestOrchestrator(t, llmP, ttsP, mixer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // simulate a barge-in cancelling the turn before it starts consuming
	o.bargeIn.Store(true)

	o.runTurn(ctx, "Hi")

	if got := o.State(); got != Listening {
		t.Errorf("final state = %v, want Listening after cancelled turn", got)
	}

	msgs := sess.Snapshot()
	for _, m := range msgs {
		if m.Role == "assistant" {
			t.Errorf("expected no committed assistant message after cancellation, got %#v", m)
		}
	}
}

func TestHandleEdge_IdleToListeningOnSpeechStarted(t *testing.T) {
	llmP := &llmmock.Provider{}
	ttsP := &ttsmock.Provider{}
	mixer := &audiomock.Mixer{}
	o, _ := newTestOrchestrator(t, llmP, ttsP, mixer)

	var pending strings.Builder
	o.handleEdge(context.Background(), vad.EdgeSpeechStarted, &pending)

	if got := o.State(); got != Listening {
		t.Errorf("state after speech_started from Idle = %v, want Listening", got)
	}
}

func TestHandleEdge_EmptyTranscriptOnSpeechEndedStaysIdle(t *testing.T) {
	llmP := &llmmock.Provider{}
	ttsP := &ttsmock.Provider{}
	mixer := &audiomock.Mixer{}
	o, _ := newTestOrchestrator(t, llmP, ttsP, mixer)
	o.setState(Listening)

	var pending strings.Builder
	o.handleEdge(context.Background(), vad.EdgeSpeechEnded, &pending)

	if got := o.State(); got != Idle {
		t.Errorf("state after empty-transcript speech_ended = %v, want Idle (tie-break)", got)
	}
}

func TestHandleEdge_SpeechStartedDuringSpeakingTriggersInterrupt(t *testing.T) {
	llmP := &llmmock.Provider{}
	ttsP := &ttsmock.Provider{}
	mixer := &audiomock.Mixer{}
	o, sess := newTestOrchestrator(t, llmP, ttsP, mixer)
	o.setState(Speaking)

	cancelled := false
	sess.SetCancel(func() { cancelled = true })

	var pending strings.Builder
	o.handleEdge(context.Background(), vad.EdgeSpeechStarted, &pending)

	if got := o.State(); got != Interrupted {
		t.Errorf("state after barge-in during Speaking = %v, want Interrupted", got)
	}
	if !cancelled {
		t.Errorf("expected the in-flight turn's cancel func to be invoked")
	}
	if !o.bargeIn.Load() {
		t.Errorf("expected bargeIn flag to be set")
	}
}

func TestRun_STTUnavailableEndsCallWithoutRunningATurn(t *testing.T) {
	media := &audiomock.Session{InboundStreamResult: make(chan audio.AudioFrame, 1)}
	sttP := &sttmock.Provider{StartStreamErr: errSTTConnectFailed}
	llmP := &llmmock.Provider{}
	sess := newTestSession(t)

	o := New(sess, media, &audiomock.Mixer{}, newNoopGate(), sttP, llmP, &ttsmock.Provider{}, types.VoiceProfile{})

	media.InboundStreamResult <- audio.AudioFrame{Data: []byte{0, 0}, SampleRate: 16000, Channels: 1}

	err := o.Run(context.Background())
	if err == nil {
		t.Fatalf("expected an error, got nil")
	}
	if !strings.Contains(err.Error(), "stt unavailable") {
		t.Errorf("error = %v, want it to wrap ErrSTTUnavailable", err)
	}
	if len(llmP.StreamCalls) != 0 {
		t.Errorf("expected no LLM calls when STT never connects, got %d", len(llmP.StreamCalls))
	}
}

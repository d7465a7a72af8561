// Package session owns per-conversation state: the append-only message
// history guarded by a conversation lock, the per-session tool executor, and
// the cancellation token barge-in uses to abort an in-flight turn.
package session

import (
	"sync"
	"time"

	"github.com/MrWong99/voicebroker/internal/store/postgres"
	"github.com/MrWong99/voicebroker/internal/tools"
	"github.com/MrWong99/voicebroker/pkg/types"
)

// maxHistoryMessages is the number of most-recent conversation messages sent
// to the LLM per turn.
const maxHistoryMessages = 10

// Session is one active call's conversation state: the message history, the
// tool executor bound to this agent's enabled integrations, and the
// cancellation plumbing the turn orchestrator uses for barge-in.
//
// All exported methods are safe for concurrent use.
type Session struct {
	ID    string
	Agent postgres.Agent

	Executor *tools.Executor

	mu       sync.Mutex
	messages []types.Message

	lastActivity time.Time

	// cancel, when non-nil, aborts the turn currently in flight. The turn
	// orchestrator installs it on entering Thinking/Speaking and clears it on
	// returning to Idle or Listening.
	cancel func()
}

// New constructs a Session for agent, bound to tool executor executor.
func New(id string, agent postgres.Agent, executor *tools.Executor) *Session {
	return &Session{
		ID:           id,
		Agent:        agent,
		Executor:     executor,
		lastActivity: time.Now(),
	}
}

// Touch records activity, resetting the session's idle clock for the LRU
// reaper.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// IdleSince reports how long it has been since the last [Session.Touch].
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// AppendUserMessage appends a finalized user transcript to the conversation
// history under the conversation lock.
func (s *Session) AppendUserMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, types.Message{Role: "user", Content: text})
	s.lastActivity = time.Now()
}

// AppendAssistantMessage commits an assistant turn, optionally carrying tool
// calls. Called once per turn on normal completion — never for a cancelled
// turn, whose partial text must not reach the conversation log.
func (s *Session) AppendAssistantMessage(text string, toolCalls []types.ToolCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, types.Message{Role: "assistant", Content: text, ToolCalls: toolCalls})
	s.lastActivity = time.Now()
}

// AppendToolMessage appends one tool result message, matched to its call by
// ToolCallID. The Turn Orchestrator appends these in the exact order the LLM
// requested them, regardless of completion order.
func (s *Session) AppendToolMessage(toolCallID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, types.Message{Role: "tool", Content: content, ToolCallID: toolCallID})
	s.lastActivity = time.Now()
}

// LastUserMessages returns up to n most-recent user-role message contents,
// most-recent-last — the Turn Orchestrator's RAG query input.
func (s *Session) LastUserMessages(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for i := len(s.messages) - 1; i >= 0 && len(out) < n; i-- {
		if s.messages[i].Role == "user" {
			out = append(out, s.messages[i].Content)
		}
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Snapshot returns a copy of the last [maxHistoryMessages] conversation
// messages, suitable for sending to the LLM without holding the lock for the
// duration of the request.
func (s *Session) Snapshot() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := len(s.messages) - maxHistoryMessages
	if start < 0 {
		start = 0
	}
	out := make([]types.Message, len(s.messages)-start)
	copy(out, s.messages[start:])
	return out
}

// Lock acquires the session mutex, the same one every other Session method
// takes, so the holder must not call another Session method before
// [Session.Unlock]. Nothing in this module calls it; turns are not run under
// it.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the conversation lock acquired by [Session.Lock].
func (s *Session) Unlock() { s.mu.Unlock() }

// SetCancel installs the cancellation function for the turn currently in
// flight. Pass nil to clear it once the turn settles.
func (s *Session) SetCancel(cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

// Cancel invokes the installed cancellation function, if any. Used by
// barge-in (speech_started while Speaking) to abort the in-flight turn.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close releases resources owned by the session — currently just the tool
// executor's cached integrations.
func (s *Session) Close() error {
	return s.Executor.Close()
}

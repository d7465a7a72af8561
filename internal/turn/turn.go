package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voicebroker/internal/rag"
	"github.com/MrWong99/voicebroker/pkg/audio"
	"github.com/MrWong99/voicebroker/pkg/provider/llm"
	"github.com/MrWong99/voicebroker/pkg/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// runTurn executes the Thinking-state procedure for one finalized
// user utterance: it builds the RAG-augmented system prompt, runs the
// tool-round loop against the LLM, streams generated text into TTS, and
// commits (or discards) the resulting assistant message.
//
// Always transitions out of Thinking/Speaking/Interrupted by the time it
// returns: to Idle on normal completion or a fatal error, or to Listening
// if the turn was cancelled by a barge-in.
func (o *Orchestrator) runTurn(parent context.Context, userText string) {
	ctx, cancel := context.WithCancel(parent)
	o.sess.SetCancel(cancel)
	defer func() {
		o.sess.SetCancel(nil)
		cancel()
	}()

	o.sess.AppendUserMessage(userText)

	systemPrompt := o.buildSystemPrompt(ctx)
	toolDefs, static := o.buildToolDefinitions()

	ttsP := newTTSPipeline(o.ttsP, o.voice, o.mixer, o.ttsSampleRate, o.ttsChannels, 0, o.ttsFirstByteTimeout, o.sentenceMin, o.sentenceMax)

	var lastRoundText string
	ttsStarted := false
	ttsFailed := false
	onText := func(t string) {
		if t == "" || ttsFailed {
			return
		}
		if !ttsStarted {
			if err := ttsP.start(ctx); err != nil {
				ttsFailed = true
				o.abortTurn(err, ttsP, false)
				cancel()
				return
			}
			ttsStarted = true
			o.setState(Speaking)
		}
		ttsP.feed(ctx, t)
	}

	for round := 0; round < o.maxRounds; round++ {
		if ctx.Err() != nil {
			o.finishCancelled(ttsP)
			return
		}

		history := o.sess.Snapshot()
		history = append([]types.Message{{Role: "system", Content: systemPrompt}}, history...)

		req := llm.CompletionRequest{Messages: history, Tools: toolDefs}

		start := time.Now()
		chunks, err := o.llmP.StreamCompletion(ctx, req)
		if err != nil {
			o.recordLLMDuration(ctx, time.Since(start), "error")
			o.abortTurn(&TransientProviderError{Provider: "llm", Err: err}, ttsP, ctx.Err() != nil)
			return
		}

		text, calls, err := o.consumeRound(ctx, chunks, onText)
		o.recordLLMDuration(ctx, time.Since(start), statusOf(err))
		if ttsFailed {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				o.finishCancelled(ttsP)
				return
			}
			o.abortTurn(err, ttsP, false)
			return
		}

		lastRoundText = text

		if len(calls) == 0 {
			o.commitTurn(text, ttsP)
			return
		}

		o.sess.AppendAssistantMessage("", calls)
		results := o.executeTools(ctx, calls, static)
		for _, r := range results {
			o.sess.AppendToolMessage(r.ToolCallID, r.Content)
		}
	}

	// Round budget exhausted: answer with what we have.
	final := lastRoundText
	if final == "" {
		final = fallbackMessage
		onText(final)
		if ttsFailed {
			return
		}
	}
	o.commitTurn(final, ttsP)
}

// buildSystemPrompt synthesizes the system prompt for this turn: the
// agent's base prompt, augmented with retrieved product context when RAG is
// enabled and the query is non-empty.
func (o *Orchestrator) buildSystemPrompt(ctx context.Context) string {
	base := o.sess.Agent.SystemPrompt
	if o.retriever == nil {
		return base
	}

	query := rag.BuildQuery(o.sess.LastUserMessages(3))
	if query == "" {
		return base
	}

	contexts, err := o.retriever.Retrieve(ctx, query, o.ragNamespace)
	if err != nil {
		o.emitError(fmt.Errorf("turn: rag retrieval failed: %w", err))
		return base
	}
	return rag.SynthesizeSystemPrompt(base, contexts)
}

// consumeRound reads one LLM streaming round to completion: text chunks are
// forwarded to onText as they arrive (which lazily starts TTS on the first
// non-empty chunk), and any terminal tool_calls batch is collected. Returns
// the round's full text and tool calls, or an error if the stream fails or
// the first-token deadline elapses.
func (o *Orchestrator) consumeRound(ctx context.Context, chunks <-chan llm.Chunk, onText func(string)) (string, []types.ToolCall, error) {
	var text string
	var calls []types.ToolCall

	first := true
	timer := time.NewTimer(o.llmFirstTokenTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return text, nil, ctx.Err()

		case <-timer.C:
			return text, nil, &FatalProviderError{Provider: "llm", Err: fmt.Errorf("no token within %s", o.llmFirstTokenTimeout)}

		case chunk, ok := <-chunks:
			if !ok {
				return text, calls, nil
			}
			if first {
				first = false
				timer.Stop()
			}
			if chunk.Text != "" {
				text += chunk.Text
				onText(chunk.Text)
			}
			if len(chunk.ToolCalls) > 0 {
				calls = chunk.ToolCalls
			}
			if chunk.FinishReason == "error" {
				return text, nil, &TransientProviderError{Provider: "llm", Err: errors.New(chunk.Text)}
			}
			if chunk.FinishReason != "" {
				return text, calls, nil
			}
		}
	}
}

// commitTurn finalizes TTS, appends the committed assistant message, and
// returns the orchestrator to Idle.
func (o *Orchestrator) commitTurn(text string, ttsP *ttsPipeline) {
	ttsP.finish()
	o.sess.AppendAssistantMessage(text, nil)
	o.setState(Idle)
}

// finishCancelled drains TTS after a barge-in and returns to Listening:
// Interrupted -> cancellation complete -> Listening. The partial assistant
// text is discarded; it was already appended to neither the committed
// assistant message nor the log.
func (o *Orchestrator) finishCancelled(ttsP *ttsPipeline) {
	ttsP.abort(audio.PlayerBargeIn, o.cancelGrace)
	o.bargeIn.Store(false)
	o.setState(Listening)
}

// abortTurn handles a non-cancellation failure (a fatal/transient provider
// error, or a TTS stream that could not start): it emits an error event,
// discards any partial assistant text, and returns to Idle. If the failure
// happened after a barge-in had already been observed, control instead
// returns to Listening, matching finishCancelled's target state.
func (o *Orchestrator) abortTurn(err error, ttsP *ttsPipeline, alreadyCancelled bool) {
	o.emitError(err)
	ttsP.abort(audio.AgentOverride, o.cancelGrace)
	if alreadyCancelled || o.bargeIn.Load() {
		o.bargeIn.Store(false)
		o.setState(Listening)
		return
	}
	o.setState(Idle)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (o *Orchestrator) recordLLMDuration(ctx context.Context, d time.Duration, status string) {
	if o.metrics == nil {
		return
	}
	o.metrics.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

func (o *Orchestrator) recordToolCall(ctx context.Context, tool string, d time.Duration, status string) {
	if o.metrics == nil {
		return
	}
	o.metrics.ToolExecutionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tool", tool)))
	o.metrics.RecordToolCall(ctx, tool, status)
}

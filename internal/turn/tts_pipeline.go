package turn

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/voicebroker/pkg/audio"
	"github.com/MrWong99/voicebroker/pkg/provider/tts"
	"github.com/MrWong99/voicebroker/pkg/types"
)

// ttsTextBufferSize bounds how many segmented text fragments may queue ahead
// of the TTS driver before feed blocks, absorbing brief LLM bursts without
// unbounded growth.
const ttsTextBufferSize = 8

// ttsAudioBufferSize is sized to roughly 200 ms of audio at typical TTS chunk
// rates, matching the bounded ring buffer expected between TTS and the media
// bridge.
const ttsAudioBufferSize = 16

// ttsPipeline owns the text-to-speech stream for a single turn: it segments
// streamed LLM text into envelope-sized fragments, feeds them to the TTS
// driver, and relays synthesized audio into an [audio.AudioSegment] queued
// on the session's [audio.Mixer].
//
// Not safe for concurrent use — one pipeline per turn.
type ttsPipeline struct {
	provider tts.Provider
	voice    types.VoiceProfile
	mixer    audio.Mixer

	sampleRate int
	channels   int
	priority   int

	firstByteTimeout time.Duration

	seg     *sentenceSegmenter
	textCh  chan string
	segment *audio.AudioSegment
	done    chan struct{}
	started bool
}

func newTTSPipeline(provider tts.Provider, voice types.VoiceProfile, mixer audio.Mixer, sampleRate, channels, priority int, firstByteTimeout time.Duration, sentenceMin, sentenceMax int) *ttsPipeline {
	return &ttsPipeline{
		provider:         provider,
		voice:            voice,
		mixer:            mixer,
		sampleRate:       sampleRate,
		channels:         channels,
		priority:         priority,
		firstByteTimeout: firstByteTimeout,
		seg:              newSentenceSegmenter(sentenceMin, sentenceMax),
	}
}

// start opens the underlying synthesis stream and enqueues its audio on the
// mixer. It is a no-op on a pipeline that has already started. Returns a
// [TransientProviderError] if the stream cannot be opened, or a
// [FatalProviderError] if no audio arrives within firstByteTimeout.
func (p *ttsPipeline) start(ctx context.Context) error {
	if p.started {
		return nil
	}
	p.started = true

	p.textCh = make(chan string, ttsTextBufferSize)
	audioCh, err := p.provider.SynthesizeStream(ctx, p.textCh, p.voice)
	if err != nil {
		return &TransientProviderError{Provider: "tts", Err: err}
	}

	fwd := make(chan []byte, ttsAudioBufferSize)
	p.segment = &audio.AudioSegment{Audio: fwd, SampleRate: p.sampleRate, Channels: p.channels, Priority: p.priority}
	p.done = make(chan struct{})
	firstByte := make(chan struct{})

	go func() {
		defer close(fwd)
		defer close(p.done)
		first := true
		for b := range audioCh {
			if first {
				close(firstByte)
				first = false
			}
			select {
			case fwd <- b:
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			p.segment.SetStreamErr(ctx.Err())
		}
	}()

	p.mixer.Enqueue(p.segment, p.priority)

	select {
	case <-firstByte:
		return nil
	case <-time.After(p.firstByteTimeout):
		return &FatalProviderError{Provider: "tts", Err: fmt.Errorf("no audio within %s", p.firstByteTimeout)}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// feed segments t and forwards any complete fragments to the TTS stream.
func (p *ttsPipeline) feed(ctx context.Context, t string) {
	if t == "" {
		return
	}
	for _, frag := range p.seg.Feed(t) {
		select {
		case p.textCh <- frag:
		case <-ctx.Done():
			return
		}
	}
}

// finish flushes the final partial fragment, closes the text stream, and
// blocks until synthesis fully drains. Call this only on normal turn
// completion.
func (p *ttsPipeline) finish() {
	if !p.started {
		return
	}
	if rest := p.seg.Flush(); rest != "" {
		p.textCh <- rest
	}
	close(p.textCh)
	<-p.done
}

// abort interrupts playback for reason, closes the text stream without
// flushing the remainder, and waits up to grace for synthesis to drain
// before giving up.
func (p *ttsPipeline) abort(reason audio.InterruptReason, grace time.Duration) {
	if !p.started {
		return
	}
	p.mixer.Interrupt(reason)
	close(p.textCh)
	select {
	case <-p.done:
	case <-time.After(grace):
	}
}

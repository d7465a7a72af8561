package turn

// State is one state of the per-call turn-taking state machine.
type State int

const (
	// Idle means no speech is being captured and no turn is in flight.
	Idle State = iota

	// Listening means the caller is speaking; the orchestrator is
	// accumulating STT finals into the pending user transcript.
	Listening

	// Thinking means a turn is running the tool-round loop against the LLM.
	Thinking

	// Speaking means the LLM has yielded its first token and text is
	// streaming into the TTS driver.
	Speaking

	// Interrupted means a barge-in was observed while Thinking or Speaking;
	// the orchestrator is cancelling the in-flight turn.
	Interrupted
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Listening:
		return "LISTENING"
	case Thinking:
		return "THINKING"
	case Speaking:
		return "SPEAKING"
	case Interrupted:
		return "INTERRUPTED"
	default:
		return "UNKNOWN"
	}
}

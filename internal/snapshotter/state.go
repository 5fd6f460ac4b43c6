package snapshotter

// State is the coordinator's position in its lifecycle. There is no
// terminal state: the coordinator runs for as long as the filesystem is
// watched.
type State int

const (
	// StateIdle means no attempt is running.
	StateIdle State = iota
	// StateAttempting means one attempt is in flight and no change has
	// arrived since it started.
	StateAttempting
	// StateAttemptingWithPending means one attempt is in flight and at
	// least one change arrived after it started.
	StateAttemptingWithPending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateAttemptingWithPending:
		return "attempting_with_pending"
	default:
		return "unknown"
	}
}

// Input is one of the three signals the coordinator reacts to.
type Input int

const (
	// InputChanged reports a filesystem change notification.
	InputChanged Input = iota
	// InputSucceeded reports that the in-flight attempt succeeded.
	InputSucceeded
	// InputFailed reports that the in-flight attempt failed, including
	// deadline-induced failure.
	InputFailed
)

func (i Input) String() string {
	switch i {
	case InputChanged:
		return "changed"
	case InputSucceeded:
		return "succeeded"
	case InputFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Output is the effect a transition requests.
type Output int

const (
	OutputNone Output = iota
	OutputStartAttempt
)

// transition is the full state table as a pure function. The returned
// bool is false for protocol violations (a resolution arriving while
// idle), which callers must discard without touching state.
//
//	idle                    × changed   → start attempt, attempting
//	attempting              × changed   → -,             attempting_with_pending
//	attempting_with_pending × changed   → -,             attempting_with_pending
//	attempting              × succeeded → -,             idle
//	attempting_with_pending × succeeded → start attempt, attempting
//	attempting              × failed    → start attempt, attempting
//	attempting_with_pending × failed    → start attempt, attempting
func transition(state State, input Input) (Output, State, bool) {
	switch state {
	case StateIdle:
		switch input {
		case InputChanged:
			return OutputStartAttempt, StateAttempting, true
		case InputSucceeded, InputFailed:
			return OutputNone, StateIdle, false
		}
	case StateAttempting:
		switch input {
		case InputChanged:
			return OutputNone, StateAttemptingWithPending, true
		case InputSucceeded:
			return OutputNone, StateIdle, true
		case InputFailed:
			return OutputStartAttempt, StateAttempting, true
		}
	case StateAttemptingWithPending:
		switch input {
		case InputChanged:
			return OutputNone, StateAttemptingWithPending, true
		case InputSucceeded, InputFailed:
			return OutputStartAttempt, StateAttempting, true
		}
	}
	return OutputNone, state, false
}

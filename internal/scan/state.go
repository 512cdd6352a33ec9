package scan

// State is the lifecycle state of a scan session.
type State int

const (
	// StateIdle means no source is active.
	StateIdle State = iota
	// StateAwaitingAlignment means the source is live and the session is
	// waiting for the next tick to inspect a frame.
	StateAwaitingAlignment
	// StateScanning means a cycle is in flight.
	StateScanning
	// StateMatched is terminal: a record with an ID and a birth date was found.
	StateMatched
	// StateFailed is terminal: the source could not deliver frames.
	StateFailed
)

var stateNames = [...]string{
	StateIdle:              "idle",
	StateAwaitingAlignment: "awaiting-alignment",
	StateScanning:          "scanning",
	StateMatched:           "matched",
	StateFailed:            "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further cycles run until a reset.
func (s State) Terminal() bool { return s == StateMatched || s == StateFailed }

type event int

const (
	evSourceReady event = iota
	evSourceFailed
	evTick
	evAbsent
	evNoMatch
	evRecognitionFailed
	evBadGeometry
	evMatch
	evReset
)

var eventNames = [...]string{
	evSourceReady:       "source_ready",
	evSourceFailed:      "source_failed",
	evTick:              "tick",
	evAbsent:            "absent",
	evNoMatch:           "no_match",
	evRecognitionFailed: "recognition_failed",
	evBadGeometry:       "bad_geometry",
	evMatch:             "match",
	evReset:             "reset",
}

func (e event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[e]
}

// transition is the single source of truth for state changes. It returns
// false when the event does not apply in the current state; the state is
// then left unchanged.
func transition(s State, e event) (State, bool) {
	if e == evReset {
		return StateIdle, true
	}
	switch s {
	case StateIdle:
		switch e {
		case evSourceReady:
			return StateAwaitingAlignment, true
		case evSourceFailed:
			return StateFailed, true
		}
	case StateAwaitingAlignment:
		switch e {
		case evTick:
			return StateScanning, true
		case evSourceFailed:
			return StateFailed, true
		}
	case StateScanning:
		switch e {
		case evAbsent, evNoMatch, evRecognitionFailed, evBadGeometry:
			return StateAwaitingAlignment, true
		case evMatch:
			return StateMatched, true
		case evSourceFailed:
			return StateFailed, true
		}
	}
	return s, false
}

package scan

import "github.com/MeKo-Tech/idscan/internal/extract"

// Listener receives session notifications. Calls are made from a single
// dispatch goroutine in the order the controller produced them; a listener
// may call back into the controller.
type Listener interface {
	// OnGuidance receives the user-facing hint.
	OnGuidance(message string)
	// OnOverlay reports whether the alignment guide should be drawn.
	OnOverlay(ready bool)
	// OnState reports every state change.
	OnState(state State)
	// OnExtracted is called exactly once per session with the terminal record.
	OnExtracted(rec extract.Record)
}

// ListenerFuncs adapts plain functions to a Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Guidance  func(string)
	Overlay   func(bool)
	State     func(State)
	Extracted func(extract.Record)
}

func (l ListenerFuncs) OnGuidance(m string) {
	if l.Guidance != nil {
		l.Guidance(m)
	}
}

func (l ListenerFuncs) OnOverlay(ready bool) {
	if l.Overlay != nil {
		l.Overlay(ready)
	}
}

func (l ListenerFuncs) OnState(s State) {
	if l.State != nil {
		l.State(s)
	}
}

func (l ListenerFuncs) OnExtracted(rec extract.Record) {
	if l.Extracted != nil {
		l.Extracted(rec)
	}
}

package recording

import (
	"fmt"
	"time"

	"github.com/tiger/mari-voice/api/voice"
)

// Signal drives one microphone session transition.
type Signal string

const (
	SignalStart    Signal = "start"
	SignalStop     Signal = "stop"
	SignalFinalize Signal = "finalize"
	SignalAbort    Signal = "abort"
	SignalHandoff  Signal = "handoff"
	SignalSettled  Signal = "settled"
	SignalTeardown Signal = "teardown"
)

// FSMConfig controls deterministic lifecycle behavior.
type FSMConfig struct {
	Now func() time.Time
}

// FSM tracks the recording lifecycle with guarded transitions:
//
//	idle -start-> recording -stop-> stopping -finalize-> idle
//	recording -finalize|abort-> idle (device stopped on its own or failed)
//	idle -handoff-> processing -settled-> idle
//	any -teardown-> idle (terminal)
type FSM struct {
	state     voice.RecordingState
	terminal  bool
	enteredAt time.Time
	now       func() time.Time
}

// NewFSM returns an idle FSM.
func NewFSM(cfg FSMConfig) *FSM {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &FSM{
		state:     voice.StateIdle,
		enteredAt: cfg.Now(),
		now:       cfg.Now,
	}
}

// Transition applies signal and returns the resulting state.
func (f *FSM) Transition(signal Signal) (voice.RecordingState, error) {
	if f.terminal {
		return f.state, fmt.Errorf("recording session is closed in state %s", f.state)
	}
	next, ok := nextState(f.state, signal)
	if !ok {
		return f.state, fmt.Errorf("invalid recording transition %s -%s->", f.state, signal)
	}
	if signal == SignalTeardown {
		f.terminal = true
	}
	if next != f.state {
		f.enteredAt = f.now()
	}
	f.state = next
	return f.state, nil
}

// Can reports whether signal is accepted from the current state.
func (f *FSM) Can(signal Signal) bool {
	if f.terminal {
		return false
	}
	_, ok := nextState(f.state, signal)
	return ok
}

// State returns the current lifecycle state.
func (f *FSM) State() voice.RecordingState {
	return f.state
}

// IsTerminal reports whether teardown happened.
func (f *FSM) IsTerminal() bool {
	return f.terminal
}

// InStateFor returns how long the FSM has been in its current state.
func (f *FSM) InStateFor() time.Duration {
	return f.now().Sub(f.enteredAt)
}

func nextState(from voice.RecordingState, signal Signal) (voice.RecordingState, bool) {
	switch signal {
	case SignalTeardown:
		return voice.StateIdle, true
	case SignalStart:
		return voice.StateRecording, from == voice.StateIdle
	case SignalStop:
		return voice.StateStopping, from == voice.StateRecording
	case SignalFinalize, SignalAbort:
		return voice.StateIdle, from == voice.StateRecording || from == voice.StateStopping
	case SignalHandoff:
		return voice.StateProcessing, from == voice.StateIdle
	case SignalSettled:
		return voice.StateIdle, from == voice.StateProcessing
	default:
		return from, false
	}
}

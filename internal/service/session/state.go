package session

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of a connection's session.
type State int

const (
	// StateConnecting - transport accepted, welcome not yet sent.
	StateConnecting State = iota
	// StateReady - welcome sent, recording never started.
	StateReady
	// StateRecording - audio is being accumulated and flushed.
	StateRecording
	// StateIdle - recording stopped, context retained.
	StateIdle
	// StateClosed - terminal. No further sends.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	case StateRecording:
		return "RECORDING"
	case StateIdle:
		return "IDLE"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is CLOSED.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// Errors for invalid state transitions.
var (
	ErrSessionClosed = errors.New("session is closed")
	ErrNotConnecting = errors.New("session already accepted")
)

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	CONNECTING → READY → RECORDING ⇄ IDLE
//	     │         │         │        │
//	     └─────────┴─────────┴────────┴──→ CLOSED
//
// Rules:
//   - READY/IDLE → RECORDING on start_recording, or on a binary frame when
//     auto-start is enabled and the client never sent stop_recording.
//   - RECORDING → IDLE only after the final flush completed.
//   - FLUSHING is a sub-state flag orthogonal to the above.
//   - CLOSED: all transitions are rejected.
type Lifecycle struct {
	mu                sync.RWMutex
	state             State
	flushing          bool
	explicitlyStopped bool
}

// NewLifecycle creates a lifecycle in CONNECTING state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateConnecting}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Flushing reports whether a flush is in progress.
func (l *Lifecycle) Flushing() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.flushing
}

// IsClosed returns true once Close has been called.
func (l *Lifecycle) IsClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// Accept moves CONNECTING to READY.
func (l *Lifecycle) Accept() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateConnecting:
		l.state = StateReady
		return nil
	case StateClosed:
		return ErrSessionClosed
	default:
		return ErrNotConnecting
	}
}

// StartRecording moves READY or IDLE to RECORDING and clears the explicit
// stop flag. Starting while already recording is allowed.
func (l *Lifecycle) StartRecording() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateReady, StateIdle, StateRecording:
		l.state = StateRecording
		l.explicitlyStopped = false
		return nil
	case StateClosed:
		return ErrSessionClosed
	default:
		return fmt.Errorf("cannot start recording in state %v", l.state)
	}
}

// AutoStart moves READY or IDLE to RECORDING on incoming audio unless the
// client explicitly stopped. It reports whether a transition happened.
func (l *Lifecycle) AutoStart() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.explicitlyStopped {
		return false
	}
	switch l.state {
	case StateReady, StateIdle:
		l.state = StateRecording
		return true
	default:
		return false
	}
}

// RequestStop records that the client asked to stop. Auto-start stays
// disabled until the next StartRecording.
func (l *Lifecycle) RequestStop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.explicitlyStopped = true
}

// StopRecording completes a stop: RECORDING becomes IDLE. Stopping from READY
// or IDLE is a no-op.
func (l *Lifecycle) StopRecording() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateRecording:
		l.state = StateIdle
		return nil
	case StateReady, StateIdle:
		return nil
	case StateClosed:
		return ErrSessionClosed
	default:
		return fmt.Errorf("cannot stop recording in state %v", l.state)
	}
}

// ExplicitlyStopped reports whether the client sent stop_recording since the
// last start.
func (l *Lifecycle) ExplicitlyStopped() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.explicitlyStopped
}

// SetFlushing toggles the FLUSHING sub-state.
func (l *Lifecycle) SetFlushing(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushing = v
}

// Close transitions to CLOSED. Returns true only for the first call.
func (l *Lifecycle) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateClosed
	l.flushing = false
	return true
}

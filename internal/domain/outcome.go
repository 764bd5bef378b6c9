package domain

import (
	"fmt"
	"time"
)

// SyncState is the lifecycle of one event inside the sync handler
type SyncState string

const (
	SyncStateReceived  SyncState = "received"
	SyncStateMapped    SyncState = "mapped"
	SyncStateSent      SyncState = "sent"
	SyncStateSucceeded SyncState = "succeeded"
	SyncStateFailed    SyncState = "failed"
)

// Terminal reports whether no further transition is possible
func (s SyncState) Terminal() bool {
	return s == SyncStateSucceeded || s == SyncStateFailed
}

// CanTransitionTo reports whether next follows s. There is no way back to Received.
func (s SyncState) CanTransitionTo(next SyncState) bool {
	switch s {
	case SyncStateReceived:
		return next == SyncStateMapped
	case SyncStateMapped:
		return next == SyncStateSent
	case SyncStateSent:
		return next.Terminal()
	default:
		return false
	}
}

// SyncProgress walks one event through Received, Mapped, Sent and a terminal state.
type SyncProgress struct {
	states []SyncState
}

// StartSync begins a lifecycle in SyncStateReceived
func StartSync() *SyncProgress {
	return &SyncProgress{states: []SyncState{SyncStateReceived}}
}

func (p *SyncProgress) State() SyncState {
	return p.states[len(p.states)-1]
}

// Advance moves to next, refusing transitions CanTransitionTo rejects.
func (p *SyncProgress) Advance(next SyncState) error {
	if current := p.State(); !current.CanTransitionTo(next) {
		return fmt.Errorf("invalid sync transition %s -> %s", current, next)
	}
	p.states = append(p.states, next)
	return nil
}

// States returns the states visited so far, oldest first
func (p *SyncProgress) States() []SyncState {
	return append([]SyncState(nil), p.states...)
}

// Succeeded finishes the lifecycle in SyncStateSucceeded
func (p *SyncProgress) Succeeded(event InventoryChangeEvent, response map[string]any, duration time.Duration) (SyncOutcome, error) {
	err := p.Advance(SyncStateSucceeded)
	outcome := Succeeded(event, response, duration)
	outcome.states = p.States()
	return outcome, err
}

// Failed finishes the lifecycle in SyncStateFailed
func (p *SyncProgress) Failed(event InventoryChangeEvent, cause error, duration time.Duration) (SyncOutcome, error) {
	err := p.Advance(SyncStateFailed)
	outcome := Failed(event, cause, duration)
	outcome.states = p.States()
	return outcome, err
}

// SyncOutcome is the result of one sync attempt. It is only ever logged and handed
// to an outcome policy; it is never stored.
type SyncOutcome struct {
	state    SyncState
	event    InventoryChangeEvent
	response map[string]any
	cause    error
	duration time.Duration
	states   []SyncState
}

// Succeeded builds the outcome of an attempt that got a vendor response
func Succeeded(event InventoryChangeEvent, response map[string]any, duration time.Duration) SyncOutcome {
	return SyncOutcome{
		state:    SyncStateSucceeded,
		event:    event,
		response: response,
		duration: duration,
	}
}

// Failed builds the outcome of an attempt that got no usable response
func Failed(event InventoryChangeEvent, cause error, duration time.Duration) SyncOutcome {
	return SyncOutcome{
		state:    SyncStateFailed,
		event:    event,
		cause:    cause,
		duration: duration,
	}
}

func (o SyncOutcome) State() SyncState            { return o.state }
func (o SyncOutcome) Event() InventoryChangeEvent { return o.event }
func (o SyncOutcome) Response() map[string]any    { return o.response }
func (o SyncOutcome) Err() error                  { return o.cause }
func (o SyncOutcome) Duration() time.Duration     { return o.duration }
func (o SyncOutcome) Succeeded() bool             { return o.state == SyncStateSucceeded }

// States is the lifecycle the attempt went through. Outcomes built without a
// SyncProgress report only their terminal state.
func (o SyncOutcome) States() []SyncState {
	if len(o.states) == 0 {
		return []SyncState{o.state}
	}
	return append([]SyncState(nil), o.states...)
}

package webrtc

import "fmt"

// Event is delivered on Connection.Events. Only types in this package
// implement it.
type Event interface {
	isConnectionEvent()
}

type connectionEvent struct{}

func (connectionEvent) isConnectionEvent() {}

// StateChanged reports a transition. Err is set when the transition was
// caused by a failure.
type StateChanged struct {
	connectionEvent
	From State
	To   State
	Err  error
}

func (e StateChanged) String() string {
	if e.Err != nil {
		return fmt.Sprintf("%s -> %s: %v", e.From, e.To, e.Err)
	}
	return fmt.Sprintf("%s -> %s", e.From, e.To)
}

// DataReceived carries one inbound data channel message.
type DataReceived struct {
	connectionEvent
	Data []byte
}

var (
	_ Event = StateChanged{}
	_ Event = DataReceived{}
)

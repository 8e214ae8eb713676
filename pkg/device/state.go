package device

import "fmt"

type State byte

const (
	StateIdle State = iota
	StateEnumerating
	StateOpening
	StateConfiguring
	StateReady
	StateStreaming
	StateStopping
	StateClosing
	StateFaulted
)

var stateNames = [...]string{
	StateIdle:        "idle",
	StateEnumerating: "enumerating",
	StateOpening:     "opening",
	StateConfiguring: "configuring",
	StateReady:       "ready",
	StateStreaming:   "streaming",
	StateStopping:    "stopping",
	StateClosing:     "closing",
	StateFaulted:     "faulted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", byte(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Connected reports whether a handle is held and configured.
func (s State) Connected() bool {
	return s == StateReady || s == StateStreaming || s == StateStopping
}

type Event byte

const (
	EventConnect Event = iota
	EventFound
	EventNotFound
	EventOpened
	EventBusy
	EventConfigured
	EventRejected
	EventStart
	EventStop
	EventStopped
	EventDisconnect
	EventClosed
	EventFault
)

var eventNames = [...]string{
	EventConnect:    "connect",
	EventFound:      "found",
	EventNotFound:   "not found",
	EventOpened:     "opened",
	EventBusy:       "busy",
	EventConfigured: "configured",
	EventRejected:   "rejected",
	EventStart:      "start",
	EventStop:       "stop",
	EventStopped:    "stopped",
	EventDisconnect: "disconnect",
	EventClosed:     "closed",
	EventFault:      "fault",
}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", byte(e))
}

type edge struct {
	from State
	on   Event
}

var transitions = map[edge]State{
	{StateIdle, EventConnect}:           StateEnumerating,
	{StateEnumerating, EventFound}:      StateOpening,
	{StateEnumerating, EventNotFound}:   StateFaulted,
	{StateOpening, EventOpened}:         StateConfiguring,
	{StateOpening, EventBusy}:           StateFaulted,
	{StateConfiguring, EventConfigured}: StateReady,
	{StateConfiguring, EventRejected}:   StateFaulted,
	{StateReady, EventStart}:            StateStreaming,
	{StateStreaming, EventStop}:         StateStopping,
	{StateStopping, EventStopped}:       StateReady,
	{StateClosing, EventClosed}:         StateIdle,
}

// Next is the transition function of the controller state machine.
// It is pure: the same state and event always give the same result.
func Next(s State, e Event) (State, error) {
	switch e {
	case EventDisconnect:
		if s != StateIdle && s != StateClosing {
			return StateClosing, nil
		}
	case EventFault:
		// teardown errors are reported but never leave Closing
		if s != StateClosing {
			return StateFaulted, nil
		}
	default:
		if to, ok := transitions[edge{s, e}]; ok {
			return to, nil
		}
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, e)
}

// Fold applies events in order and stops on the first invalid one.
func Fold(s State, events ...Event) (State, error) {
	for _, e := range events {
		next, err := Next(s, e)
		if err != nil {
			return s, err
		}
		s = next
	}
	return s, nil
}

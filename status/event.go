package status

import "time"

// EventKind classifies status events.
type EventKind int

const (
	ButtonEvent  EventKind = iota // a pilot button was pressed or released
	LockEvent                     // the summarised joint lock state changed
	ModeEvent                     // the operating mode changed
	FCIEvent                      // FCI was activated or deactivated
	ControlEvent                  // the control token changed hands
	RobotEvent                    // a new arm configuration arrived
)

var eventKindNames = map[EventKind]string{
	ButtonEvent:  "button",
	LockEvent:    "lock",
	ModeEvent:    "mode",
	FCIEvent:     "fci",
	ControlEvent: "control",
	RobotEvent:   "robot",
}

func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Event is a typed state change decoded from one message. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind  EventKind
	Topic Topic
	At    time.Time

	Button  Button
	Pressed bool

	Joints JointLock

	Mode      string
	FCIActive bool
	Owner     string

	Robot *RobotState
}

// Condition selects the events a waiter is interested in.
type Condition func(Event) bool

// PressOf matches button b transitioning to pressed.
func PressOf(b Button) Condition {
	return func(e Event) bool {
		return e.Kind == ButtonEvent && e.Button == b && e.Pressed
	}
}

// ReleaseOf matches button b transitioning to released.
func ReleaseOf(b Button) Condition {
	return func(e Event) bool {
		return e.Kind == ButtonEvent && e.Button == b && !e.Pressed
	}
}

// JointsBecome matches the joint lock summary changing to l.
func JointsBecome(l JointLock) Condition {
	return func(e Event) bool {
		return e.Kind == LockEvent && e.Joints == l
	}
}

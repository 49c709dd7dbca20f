package status

import (
	"encoding/json"
	"sort"
	"time"
)

// Button is a key on the robot's pilot interface.
type Button string

const (
	Circle Button = "circle"
	Check  Button = "check"
	Cross  Button = "cross"
	Up     Button = "up"
	Down   Button = "down"
	Left   Button = "left"
	Right  Button = "right"
)

// Buttons lists every pilot button.
var Buttons = []Button{Circle, Check, Cross, Up, Down, Left, Right}

// BrakeState is the state of a single joint brake.
type BrakeState string

const (
	BrakeLocked   BrakeState = "Locked"
	BrakeUnlocked BrakeState = "Unlocked"
)

// JointLock summarises the brake state of all joints.
type JointLock int

const (
	LockUnknown JointLock = iota // no brake state received yet
	Locked                       // every brake closed
	Unlocked                     // every brake open
	PartiallyLocked
)

var jointLockNames = map[JointLock]string{
	LockUnknown:     "unknown",
	Locked:          "locked",
	Unlocked:        "unlocked",
	PartiallyLocked: "partial",
}

func (l JointLock) String() string {
	if s, ok := jointLockNames[l]; ok {
		return s
	}
	return "unknown"
}

func (l JointLock) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func jointLockOf(brakes []BrakeState) JointLock {
	if len(brakes) == 0 {
		return LockUnknown
	}
	locked := 0
	for _, b := range brakes {
		if b == BrakeLocked {
			locked++
		}
	}
	switch locked {
	case len(brakes):
		return Locked
	case 0:
		return Unlocked
	default:
		return PartiallyLocked
	}
}

// RobotState is the last arm configuration reported on the Robot topic.
type RobotState struct {
	CartesianPose    []float64 `json:"cartesianPose"`
	EstimatedForces  []float64 `json:"estimatedForces"`
	EstimatedTorques []float64 `json:"estimatedTorques"`
	JointAngles      []float64 `json:"jointAngles"`
}

func (r *RobotState) clone() *RobotState {
	if r == nil {
		return nil
	}
	return &RobotState{
		CartesianPose:    append([]float64(nil), r.CartesianPose...),
		EstimatedForces:  append([]float64(nil), r.EstimatedForces...),
		EstimatedTorques: append([]float64(nil), r.EstimatedTorques...),
		JointAngles:      append([]float64(nil), r.JointAngles...),
	}
}

// State is the last known desk state as seen by one channel. Fields a topic
// never reports keep their zero value.
type State struct {
	Buttons        map[Button]bool `json:"buttons"`
	Brakes         []BrakeState    `json:"brakes,omitempty"`
	Joints         JointLock       `json:"joints"`
	OperatingMode  string          `json:"operatingMode,omitempty"`
	FCIActive      bool            `json:"fciActive"`
	ControlOwner   string          `json:"controlOwner,omitempty"`
	SafetySequence uint64          `json:"safetySequence,omitempty"`
	Robot          *RobotState     `json:"robot,omitempty"`
	Messages       uint64          `json:"messages"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	// Stale is set once the channel has closed. The remaining fields are
	// retained but no longer track the device.
	Stale bool `json:"stale"`
}

func newState() State {
	return State{Buttons: make(map[Button]bool)}
}

// Pressed reports whether b is currently held down.
func (s State) Pressed(b Button) bool {
	return s.Buttons[b]
}

// Clone returns a deep copy of the State so it can be retained or mutated
// independently of the channel.
func (s State) Clone() State {
	c := s
	c.Buttons = make(map[Button]bool, len(s.Buttons))
	for b, p := range s.Buttons {
		c.Buttons[b] = p
	}
	if s.Brakes != nil {
		c.Brakes = append([]BrakeState(nil), s.Brakes...)
	}
	c.Robot = s.Robot.clone()
	return c
}

// update is one decoded message. Nil fields were absent from the message.
type update struct {
	buttons map[Button]bool
	brakes  []BrakeState
	seq     *uint64
	mode    *string
	fci     *bool
	owner   *string
	robot   *RobotState
}

// apply folds u into s and returns the events it produced, in a stable
// order. Button entries always produce an event since the navigation topic
// only reports transitions; everything else produces one only on change.
func (s *State) apply(topic Topic, u *update, now time.Time) []Event {
	var events []Event
	newEvent := func(kind EventKind) Event {
		return Event{Kind: kind, Topic: topic, At: now}
	}

	if len(u.buttons) > 0 {
		names := make([]string, 0, len(u.buttons))
		for b := range u.buttons {
			names = append(names, string(b))
		}
		sort.Strings(names)
		for _, name := range names {
			b := Button(name)
			pressed := u.buttons[b]
			s.Buttons[b] = pressed
			e := newEvent(ButtonEvent)
			e.Button = b
			e.Pressed = pressed
			events = append(events, e)
		}
	}

	if u.brakes != nil {
		s.Brakes = append(s.Brakes[:0:0], u.brakes...)
		if lock := jointLockOf(u.brakes); lock != s.Joints {
			s.Joints = lock
			e := newEvent(LockEvent)
			e.Joints = lock
			events = append(events, e)
		}
	}
	if u.seq != nil {
		s.SafetySequence = *u.seq
	}

	if u.mode != nil && *u.mode != s.OperatingMode {
		s.OperatingMode = *u.mode
		e := newEvent(ModeEvent)
		e.Mode = *u.mode
		events = append(events, e)
	}

	if u.fci != nil && *u.fci != s.FCIActive {
		s.FCIActive = *u.fci
		e := newEvent(FCIEvent)
		e.FCIActive = *u.fci
		events = append(events, e)
	}

	if u.owner != nil && *u.owner != s.ControlOwner {
		s.ControlOwner = *u.owner
		e := newEvent(ControlEvent)
		e.Owner = *u.owner
		events = append(events, e)
	}

	if u.robot != nil {
		s.Robot = u.robot.clone()
		e := newEvent(RobotEvent)
		e.Robot = u.robot.clone()
		events = append(events, e)
	}

	s.Messages++
	s.UpdatedAt = now
	return events
}

package status

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

type unmarshalFunc func([]byte, any) error

// decode turns one websocket frame into an update. Any error wraps
// ErrMalformed and the frame must be dropped as a whole.
func decode(topic Topic, frameType int, data []byte) (*update, error) {
	var unmarshal unmarshalFunc
	switch frameType {
	case websocket.TextMessage:
		unmarshal = json.Unmarshal
	case websocket.BinaryMessage:
		unmarshal = cbor.Unmarshal
	default:
		return nil, fmt.Errorf("%w: unexpected frame type %d", ErrMalformed, frameType)
	}

	var (
		u   *update
		err error
	)
	switch topic {
	case Navigation:
		u, err = decodeNavigation(unmarshal, data)
	case Safety:
		u, err = decodeSafety(unmarshal, data)
	case SystemStatus:
		u, err = decodeSystemStatus(unmarshal, data)
	case Robot:
		u, err = decodeRobot(unmarshal, data)
	default:
		err = topic.valid()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, topic, err)
	}
	return u, nil
}

func decodeNavigation(unmarshal unmarshalFunc, data []byte) (*update, error) {
	var msg map[string]bool
	if err := unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("expected an object of button states")
	}
	u := &update{buttons: make(map[Button]bool, len(msg))}
	for name, pressed := range msg {
		if name == "" {
			return nil, fmt.Errorf("empty button name")
		}
		u.buttons[Button(name)] = pressed
	}
	return u, nil
}

func decodeSafety(unmarshal unmarshalFunc, data []byte) (*update, error) {
	var msg safetyMessage
	if err := unmarshal(data, &msg); err != nil {
		return nil, err
	}
	u := &update{}
	if err := u.setSafety(&msg); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *update) setSafety(msg *safetyMessage) error {
	if msg.BrakeState == nil {
		return fmt.Errorf("missing brakeState")
	}
	brakes := make([]BrakeState, len(msg.BrakeState))
	for i, b := range msg.BrakeState {
		switch BrakeState(b) {
		case BrakeLocked, BrakeUnlocked:
			brakes[i] = BrakeState(b)
		default:
			return fmt.Errorf("joint %d: unknown brake state %q", i+1, b)
		}
	}
	u.brakes = brakes
	u.seq = msg.SequenceNumber
	return nil
}

func decodeSystemStatus(unmarshal unmarshalFunc, data []byte) (*update, error) {
	var msg systemStatusMessage
	if err := unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Safety == nil && msg.ControlToken == nil && msg.Derived == nil {
		return nil, fmt.Errorf("no known sections")
	}

	u := &update{}
	if msg.Safety != nil {
		if err := u.setSafety(msg.Safety); err != nil {
			return nil, fmt.Errorf("safety: %v", err)
		}
	}
	if ct := msg.ControlToken; ct != nil {
		owner := ""
		if ct.ActiveToken != nil {
			owner = ct.ActiveToken.OwnedBy
		}
		u.owner = &owner
		u.fci = ct.FCIActive
	}
	if msg.Derived != nil {
		u.mode = msg.Derived.OperatingMode
	}
	return u, nil
}

func decodeRobot(unmarshal unmarshalFunc, data []byte) (*update, error) {
	var msg robotMessage
	if err := unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.JointAngles == nil {
		return nil, fmt.Errorf("missing jointAngles")
	}
	return &update{robot: &RobotState{
		CartesianPose:    msg.CartesianPose,
		EstimatedForces:  msg.EstimatedForces,
		EstimatedTorques: msg.EstimatedTorques,
		JointAngles:      msg.JointAngles,
	}}, nil
}

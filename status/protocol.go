package status

import "fmt"

// Topic identifies one of the desk's push endpoints.
type Topic string

const (
	// Navigation reports pilot button transitions. Each message holds only
	// the buttons that changed, e.g. {"circle": false} on release.
	Navigation Topic = "desk/api/navigation/events"
	// Safety reports the safety controller status including per-joint
	// brake state.
	Safety Topic = "admin/api/safety/status"
	// SystemStatus is the combined status: safety, control token, FCI and
	// the derived operating mode.
	SystemStatus Topic = "admin/api/system-status"
	// Robot streams the arm configuration (pose, forces, joint angles).
	Robot Topic = "desk/api/robot/configuration"
)

var topicNames = map[Topic]string{
	Navigation:   "navigation",
	Safety:       "safety",
	SystemStatus: "system-status",
	Robot:        "robot",
}

func (t Topic) String() string {
	if s, ok := topicNames[t]; ok {
		return s
	}
	return string(t)
}

func (t Topic) valid() error {
	if _, ok := topicNames[t]; !ok {
		return fmt.Errorf("status: unknown topic %q", string(t))
	}
	return nil
}

// Wire types. Field names follow the desk's JSON schema; binary frames carry
// the same structure CBOR-encoded and reuse the json tags.

type safetyMessage struct {
	SequenceNumber *uint64  `json:"sequenceNumber"`
	BrakeState     []string `json:"brakeState"`
}

type activeTokenMessage struct {
	ID      int64  `json:"id"`
	OwnedBy string `json:"ownedBy"`
}

type controlTokenMessage struct {
	ActiveToken *activeTokenMessage `json:"activeToken"`
	FCIActive   *bool               `json:"fciActive"`
}

type derivedMessage struct {
	OperatingMode *string `json:"operatingMode"`
}

type systemStatusMessage struct {
	Safety       *safetyMessage       `json:"safety"`
	ControlToken *controlTokenMessage `json:"controlToken"`
	Derived      *derivedMessage      `json:"derived"`
}

type robotMessage struct {
	CartesianPose    []float64 `json:"cartesianPose"`
	EstimatedForces  []float64 `json:"estimatedForces"`
	EstimatedTorques []float64 `json:"estimatedTorques"`
	JointAngles      []float64 `json:"jointAngles"`
}

package desk

import (
	"fmt"
	"strings"
)

// Platform is the robot hardware generation. It selects endpoint paths and
// which commands exist.
type Platform int

const (
	Panda Platform = iota // Franka Emika Robot (FER), the older generation
	FR3                   // Franka Research 3
)

var platformNames = map[Platform]string{
	Panda: "panda",
	FR3:   "fr3",
}

var platformAliases = map[string]Platform{
	"panda":              Panda,
	"fer":                Panda,
	"franka_emika_robot": Panda,
	"frankaemikarobot":   Panda,
	"fr3":                FR3,
	"frankaresearch3":    FR3,
	"franka_research_3":  FR3,
}

func (p Platform) String() string {
	if s, ok := platformNames[p]; ok {
		return s
	}
	return "unknown"
}

// ParsePlatform accepts the common names of both generations,
// case-insensitively.
func ParsePlatform(s string) (Platform, error) {
	if p, ok := platformAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("desk: unknown platform %q, must be either 'panda' or 'fr3'", s)
}

func (p Platform) brakePath(lock bool) string {
	switch {
	case p == Panda && lock:
		return "/desk/api/robot/close-brakes"
	case p == Panda:
		return "/desk/api/robot/open-brakes"
	case lock:
		return "/desk/api/joints/lock"
	default:
		return "/desk/api/joints/unlock"
	}
}

// Mode is the robot operating mode.
type Mode string

const (
	Programming Mode = "programming"
	Execution   Mode = "execution"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Programming, Execution:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// supportsMode reports whether the platform can switch to m.
func (p Platform) supportsMode(m Mode) error {
	if m != Programming && m != Execution {
		return fmt.Errorf("%w: %q", ErrInvalidMode, string(m))
	}
	if p == Panda {
		return fmt.Errorf("%w: %s does not support operating modes", ErrInvalidMode, p)
	}
	return nil
}

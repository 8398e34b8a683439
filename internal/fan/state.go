package fan

import (
	"fmt"
	"math"
	"strings"
)

type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// ParseDirection accepts "forward" or "reverse" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward":
		return Forward, nil
	case "reverse":
		return Reverse, nil
	default:
		return Forward, fmt.Errorf("fan: unknown direction %q", s)
	}
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// State is what the actuator reads on every update. Speed is always within
// [0,1].
type State struct {
	Speed     float64
	Direction Direction
	Enabled   bool
}

// ClampSpeed limits v to [0,1]. NaN maps to 0.
func ClampSpeed(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SpeedPercent reports speed as an integer percentage, truncated the way the
// control page and /status show it.
func (s State) SpeedPercent() int {
	return int(ClampSpeed(s.Speed)*100 + 1e-9)
}

// DutyPercent is the PWM duty the actuator writes for s.
func (s State) DutyPercent() float64 {
	if !s.Enabled {
		return 0
	}
	return ClampSpeed(s.Speed) * 100
}

// Step moves speed by delta and clamps the result. The sum is rounded to
// micro-units so repeated 0.05 steps land exactly on 0 and 1.
func (s State) Step(delta float64) State {
	s.Speed = ClampSpeed(math.Round((s.Speed+delta)*1e6) / 1e6)
	return s
}

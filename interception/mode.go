// Package interception implements the state machine that turns target decisions into setpoints.
package interception

import (
	"encoding/json"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/imhunterand/iDA-projectile/projectile"
)

// Mode is the high level state of the interceptor.
type Mode int

const (
	// Ready holds the ready joint configuration with no target.
	Ready Mode = iota
	// Tracking follows the currently predicted intercept point of the target.
	Tracking
	// Intercepting is locked onto the final predicted intercept pose.
	Intercepting
	// Recovering returns to the ready configuration after an intercept.
	Recovering
)

func (m Mode) String() string {
	switch m {
	case Ready:
		return "READY"
	case Tracking:
		return "TRACKING"
	case Intercepting:
		return "INTERCEPTING"
	case Recovering:
		return "RECOVERING"
	}
	return "UNKNOWN"
}

// ParseMode parses a mode name, case insensitively.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{Ready, Tracking, Intercepting, Recovering} {
		if strings.EqualFold(strings.TrimSpace(s), m.String()) {
			return m, nil
		}
	}
	return Ready, errors.Errorf("unknown mode %q", s)
}

// MarshalJSON encodes the mode name.
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON decodes a mode name.
func (m *Mode) UnmarshalJSON(data []byte) (err error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*m, err = ParseMode(s)
	return
}

// State is the observable state of the machine. Target is nil unless Mode is Tracking or
// Intercepting.
type State struct {
	Mode           Mode                   `json:"mode"`
	Target         *projectile.Projectile `json:"target,omitempty"`
	InterceptTime  float64                `json:"intercept_time"`
	InterceptPoint r3.Vector              `json:"intercept_point"`
	Paused         bool                   `json:"paused"`
	// EngagementID identifies one pursuit of one target, for correlating log lines.
	EngagementID string `json:"engagement_id,omitempty"`
}

// Copy returns a deep copy.
func (s State) Copy() State {
	if s.Target != nil {
		target := *s.Target
		s.Target = &target
	}
	return s
}

package flags

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPause = errors.New("invalid pause request")

const maxReasonLen = 256

// Pause is the operator's hold on new buys. It keeps the trading loop in
// AwaitingLiquidity; a cycle already past the commit runs to its sell.
type Pause struct {
	Paused    bool       `json:"paused"`
	Reason    string     `json:"reason,omitempty"`
	By        string     `json:"by,omitempty"`
	Until     *time.Time `json:"until,omitempty"` // nil holds until resumed
	UpdatedAt time.Time  `json:"updated_at"`
}

// Active reports whether the pause still holds at now.
func (p *Pause) Active(now time.Time) bool {
	if p == nil || !p.Paused {
		return false
	}
	return p.Until == nil || now.Before(*p.Until)
}

// PauseRequest asks for a pause. For == 0 pauses until resumed.
type PauseRequest struct {
	Reason string
	By     string
	For    time.Duration
}

func (r PauseRequest) validate() error {
	if r.For < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidPause)
	}
	if len(r.Reason) > maxReasonLen {
		return fmt.Errorf("%w: reason longer than %d bytes", ErrInvalidPause, maxReasonLen)
	}
	return nil
}

package live

import (
	"fmt"

	"github.com/gorilla/websocket"
)

// State of one live session. Transitions only move forward.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// closeReason is what the peer sees in the close frame.
type closeReason struct {
	code int
	text string
}

var (
	closeNormal       = closeReason{websocket.CloseNormalClosure, ""}
	closeGoingAway    = closeReason{websocket.CloseGoingAway, "server shutting down"}
	closeBadToken     = closeReason{websocket.ClosePolicyViolation, "invalid credentials"}
	closeUserGone     = closeReason{websocket.ClosePolicyViolation, "user not found"}
	closeMalformed    = closeReason{websocket.ClosePolicyViolation, "malformed input"}
	closeBusDown      = closeReason{websocket.CloseTryAgainLater, "bus unavailable"}
	closeInternal     = closeReason{websocket.CloseInternalServerErr, "internal error"}
	closePeerGone     = closeReason{websocket.CloseNormalClosure, "peer gone"}
)

// closeError ends the session with reason when returned by a flavor.
type closeError struct {
	reason closeReason
	cause  error
}

func (e *closeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("close %d %s: %v", e.reason.code, e.reason.text, e.cause)
	}
	return fmt.Sprintf("close %d %s", e.reason.code, e.reason.text)
}

func (e *closeError) Unwrap() error { return e.cause }

func closeWith(r closeReason, cause error) error { return &closeError{reason: r, cause: cause} }

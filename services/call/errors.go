package call

import (
	"errors"
	"fmt"
)

// Reasons reported to a requester in join-denied.
const (
	ReasonNotFound     = "not found"
	ReasonCancelled    = "cancelled"
	ReasonNotConfirmed = "not confirmed"
	ReasonNotYours     = "not your appointment"
	ReasonTooEarly     = "too early"
	ReasonRoomFull     = "room full"
	ReasonJoinFailed   = "join failed"
)

// ErrRoomFull is returned by RoomRegistry.Join when the room is at capacity.
var ErrRoomFull = errors.New("room is at capacity")

// Decision is the outcome of evaluating a join request.
// Err is set only when a lookup failed; it is logged, never shown to clients.
type Decision struct {
	Admitted bool
	Reason   string
	Err      error
}

// Admit returns an admitting decision.
func Admit() Decision {
	return Decision{Admitted: true}
}

// Deny returns a denial with a client-facing reason.
func Deny(reason string) Decision {
	return Decision{Reason: reason}
}

// lookupFailed hides err behind the generic reason.
func lookupFailed(format string, err error) Decision {
	return Decision{Reason: ReasonJoinFailed, Err: fmt.Errorf(format, err)}
}

func (d Decision) String() string {
	if d.Admitted {
		return "admit"
	}
	return "deny: " + d.Reason
}

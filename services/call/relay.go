package call

import (
	"context"
	"encoding/json"

	"medicall/models"
)

// SignalRelay forwards opaque WebRTC negotiation payloads between room
// members. It never inspects or buffers the payload; with no other member
// present the payload is simply not delivered.
type SignalRelay struct {
	Rooms   RoomRegistry
	Metrics *Metrics
}

// Forward sends payload to every member of roomKey except the sender.
func (r *SignalRelay) Forward(ctx context.Context, roomKey, fromSessionID string, payload json.RawMessage) error {
	if err := r.Rooms.Broadcast(ctx, roomKey, fromSessionID, models.NewEvent(models.EventSignal, payload)); err != nil {
		return err
	}
	r.Metrics.signalRelayed()
	return nil
}

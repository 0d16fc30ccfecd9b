package models

import "encoding/json"

// Socket event names.
const (
	EventAnnouncePresence = "announce-presence"
	EventOnlineUsers      = "online-users"
	EventJoinRoom         = "join-room"
	EventJoinOK           = "join-ok"
	EventJoinDenied       = "join-denied"
	EventRoomUsers        = "room-users"
	EventRoomReady        = "room-ready"
	EventSignal           = "signal"
	EventLeaveRoom        = "leave-room"
	EventPeerLeft         = "peer-left"

	// Names emitted by older web clients.
	EventJoinAppointment  = "join-appointment"
	EventLeaveAppointment = "leave-appointment"
)

// Event is one message on the socket, in either direction.
// Data is kept as raw JSON so signaling payloads pass through untouched.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an outbound event, encoding data as its payload.
func NewEvent(name string, data interface{}) Event {
	ev := Event{Name: name}
	if data == nil {
		return ev
	}
	if raw, ok := data.(json.RawMessage); ok {
		ev.Data = raw
		return ev
	}
	b, err := json.Marshal(data)
	if err == nil {
		ev.Data = b
	}
	return ev
}

// PresencePayload is sent with announce-presence.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// RoomRequest is sent with join-room and leave-room.
type RoomRequest struct {
	AppointmentID string `json:"appointmentId"`
}

// SignalRequest is sent with signal. Payload is opaque SDP/ICE data; older
// clients send it as "data".
type SignalRequest struct {
	AppointmentID string          `json:"appointmentId"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// Body returns whichever of payload/data the client filled in.
func (r SignalRequest) Body() json.RawMessage {
	if len(r.Payload) > 0 {
		return r.Payload
	}
	return r.Data
}

// JoinOK is sent to a requester after admission.
type JoinOK struct {
	RoomKey string `json:"roomKey"`
}

// JoinDenied is sent to a requester whose join was refused.
type JoinDenied struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// RoomUsers is broadcast to a room after each membership change.
type RoomUsers struct {
	Count int `json:"count"`
}

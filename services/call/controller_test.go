package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"medicall/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type verifierStub map[string]models.Identity

func (v verifierStub) Verify(token string) (models.Identity, error) {
	id, ok := v[token]
	if !ok {
		return models.Identity{}, errors.New("invalid token")
	}
	return id, nil
}

type harness struct {
	*clinic
	ctrl    *Controller
	rooms   *MemoryRegistry
	metrics *Metrics
	room    string
}

func newHarness(opts Options) *harness {
	c := newClinic()
	rooms := NewMemoryRegistry(DefaultRoomCapacity)
	metrics := NewMetrics(prometheus.NewRegistry())
	verifier := verifierStub{"patient-token": c.patient, "doctor-token": c.doctor}
	ctrl := NewController(verifier, c.gate, rooms, NewMemoryPresence(), metrics, nil, opts)
	return &harness{clinic: c, ctrl: ctrl, rooms: rooms, metrics: metrics, room: RoomKey(c.apptID)}
}

func (h *harness) send(s *Session, name string, data interface{}) {
	h.ctrl.HandleEvent(context.Background(), s, models.NewEvent(name, data))
}

func (h *harness) join(s *Session) {
	h.send(s, models.EventJoinRoom, models.RoomRequest{AppointmentID: h.apptID})
}

func (h *harness) size() int {
	n, _ := h.rooms.SizeOf(context.Background(), h.room)
	return n
}

func denial(t *testing.T, evs []models.Event) models.JoinDenied {
	t.Helper()
	var d models.JoinDenied
	require.NoError(t, json.Unmarshal(find(t, evs, models.EventJoinDenied).Data, &d))
	return d
}

func TestController_Authenticate(t *testing.T) {
	h := newHarness(Options{})

	id, err := h.ctrl.Authenticate("doctor-token")
	require.NoError(t, err)
	assert.Equal(t, h.doctor, id)

	_, err = h.ctrl.Authenticate("forged")
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.authFailures))
	assert.Equal(t, 0, h.ctrl.SessionCount())
}

func TestController_ConsultationFlow(t *testing.T) {
	h := newHarness(Options{})
	patient := h.ctrl.Open(h.patient)
	doctor := h.ctrl.Open(h.doctor)
	assert.Equal(t, 2, h.ctrl.SessionCount())
	assert.Equal(t, StateAuthenticated, patient.State())

	// 09:54 is outside the five minute lead.
	h.clock.Set(h.scheduled.Add(-6 * time.Minute))
	h.join(patient)
	evs := drain(patient)
	assert.Equal(t, []string{models.EventJoinDenied}, eventNames(evs))
	d := denial(t, evs)
	assert.Equal(t, ReasonTooEarly, d.Reason)
	assert.Equal(t, ReasonTooEarly, d.Message)
	assert.Equal(t, 0, h.size())
	assert.Equal(t, "", patient.CurrentRoom())

	// 09:55 is admitted.
	h.clock.Set(h.scheduled.Add(-5 * time.Minute))
	h.join(patient)
	evs = drain(patient)
	assert.Equal(t, []string{models.EventJoinOK, models.EventRoomUsers}, eventNames(evs))
	assert.Equal(t, h.room, patient.CurrentRoom())
	assert.Equal(t, StateInRoom, patient.State())
	assert.Equal(t, 1, h.size())

	h.join(doctor)
	assert.Equal(t, []string{models.EventJoinOK, models.EventRoomUsers, models.EventRoomReady}, eventNames(drain(doctor)))
	evs = drain(patient)
	assert.Equal(t, []string{models.EventRoomUsers, models.EventRoomReady}, eventNames(evs))
	assert.Equal(t, 2, h.size())

	// The offer reaches the doctor verbatim and not the sender.
	offer := json.RawMessage(`{"type":"offer","sdp":"v=0\r\no=- 46117 2 IN IP4 127.0.0.1\r\n"}`)
	h.send(patient, models.EventSignal, models.SignalRequest{AppointmentID: h.apptID, Payload: offer})
	evs = drain(doctor)
	require.Equal(t, []string{models.EventSignal}, eventNames(evs))
	assert.Equal(t, string(offer), string(evs[0].Data))
	assert.Empty(t, drain(patient))

	// Older clients send the body as data.
	answer := json.RawMessage(`{"type":"answer","sdp":"v=0"}`)
	h.send(doctor, models.EventSignal, models.SignalRequest{AppointmentID: h.apptID, Data: answer})
	evs = drain(patient)
	require.Len(t, evs, 1)
	assert.Equal(t, string(answer), string(evs[0].Data))

	// The doctor drops without leaving.
	h.ctrl.Disconnect(doctor)
	assert.Equal(t, StateTerminated, doctor.State())
	evs = drain(patient)
	assert.Equal(t, []string{models.EventPeerLeft, models.EventRoomUsers}, eventNames(evs))
	var ru models.RoomUsers
	require.NoError(t, json.Unmarshal(evs[1].Data, &ru))
	assert.Equal(t, 1, ru.Count)
	assert.Equal(t, 1, h.size())

	h.send(patient, models.EventLeaveRoom, models.RoomRequest{AppointmentID: h.apptID})
	assert.Equal(t, "", patient.CurrentRoom())
	assert.False(t, h.rooms.Exists(h.room))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.joinAttempts.WithLabelValues(ReasonTooEarly)))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.joinAttempts.WithLabelValues("admitted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.signals.WithLabelValues("relayed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.activeSessions))
}

func TestController_StrangerDenied(t *testing.T) {
	h := newHarness(Options{})
	patient := h.ctrl.Open(h.patient)
	stranger := h.ctrl.Open(h.otherPat)

	h.join(patient)
	drain(patient)

	h.join(stranger)
	assert.Equal(t, ReasonNotYours, denial(t, drain(stranger)).Reason)
	assert.Equal(t, 1, h.size())
	assert.Empty(t, drain(patient))

	// A signal from outside the room goes nowhere.
	h.send(stranger, models.EventSignal, models.SignalRequest{AppointmentID: h.apptID, Payload: json.RawMessage(`{}`)})
	assert.Empty(t, drain(patient))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.signals.WithLabelValues("dropped")))
}

func TestController_DenialReasons(t *testing.T) {
	h := newHarness(Options{})
	s := h.ctrl.Open(h.patient)

	h.send(s, models.EventJoinRoom, models.RoomRequest{AppointmentID: primitive.NewObjectID().Hex()})
	assert.Equal(t, ReasonNotFound, denial(t, drain(s)).Reason)

	h.send(s, models.EventJoinRoom, models.RoomRequest{})
	assert.Equal(t, ReasonNotFound, denial(t, drain(s)).Reason)

	h.ctrl.HandleEvent(context.Background(), s, models.Event{Name: models.EventJoinRoom, Data: json.RawMessage(`"oops"`)})
	assert.Equal(t, ReasonNotFound, denial(t, drain(s)).Reason)

	h.appts.setStatus(h.apptID, models.AppointmentCancelled)
	h.join(s)
	assert.Equal(t, ReasonCancelled, denial(t, drain(s)).Reason)

	h.appts.setStatus(h.apptID, models.AppointmentPending)
	h.join(s)
	assert.Equal(t, ReasonNotConfirmed, denial(t, drain(s)).Reason)

	h.appts.setStatus(h.apptID, models.AppointmentConfirmed)
	h.appts.err = errors.New("no reachable servers")
	h.join(s)
	assert.Equal(t, ReasonJoinFailed, denial(t, drain(s)).Reason)
	assert.Equal(t, "", s.CurrentRoom())
	assert.Equal(t, StateAuthenticated, s.State())
}

func TestController_JoinAlias(t *testing.T) {
	h := newHarness(Options{})
	s := h.ctrl.Open(h.patient)

	h.send(s, models.EventJoinAppointment, models.RoomRequest{AppointmentID: h.apptID})
	assert.Equal(t, h.room, s.CurrentRoom())

	h.send(s, models.EventLeaveAppointment, models.RoomRequest{AppointmentID: h.apptID})
	assert.Equal(t, "", s.CurrentRoom())
	assert.Equal(t, 0, h.size())
}

func TestController_RoomFull(t *testing.T) {
	h := newHarness(Options{})
	patient := h.ctrl.Open(h.patient)
	doctor := h.ctrl.Open(h.doctor)
	second := h.ctrl.Open(h.patient)

	h.join(patient)
	h.join(doctor)
	drain(patient)
	drain(doctor)

	h.join(second)
	assert.Equal(t, ReasonRoomFull, denial(t, drain(second)).Reason)
	assert.Equal(t, 2, h.size())
	assert.Empty(t, drain(patient))
	assert.Empty(t, drain(doctor))
}

func TestController_RejoinSameRoom(t *testing.T) {
	h := newHarness(Options{})
	s := h.ctrl.Open(h.patient)

	h.join(s)
	drain(s)
	h.join(s)
	assert.Equal(t, []string{models.EventJoinOK, models.EventRoomUsers}, eventNames(drain(s)))
	assert.Equal(t, 1, h.size())
}

func TestController_JoiningAnotherRoomLeavesTheFirst(t *testing.T) {
	h := newHarness(Options{})
	second := primitive.NewObjectID()
	h.appts.appts[second.Hex()] = &models.Appointment{
		ID:                  second,
		PatientID:           mustOID(t, h.patient.UserID),
		DoctorApplicationID: h.doctorApp,
		Date:                h.scheduled,
		Time:                "10:00",
		Status:              models.AppointmentConfirmed,
	}

	patient := h.ctrl.Open(h.patient)
	doctor := h.ctrl.Open(h.doctor)
	h.join(patient)
	h.join(doctor)
	drain(doctor)

	h.send(patient, models.EventJoinRoom, models.RoomRequest{AppointmentID: second.Hex()})
	assert.Equal(t, RoomKey(second.Hex()), patient.CurrentRoom())
	assert.Equal(t, 1, h.size())
	assert.Equal(t, []string{models.EventPeerLeft, models.EventRoomUsers}, eventNames(drain(doctor)))
}

func TestController_SwitchIntoFullRoomKeepsCurrentCall(t *testing.T) {
	h := newHarness(Options{})
	second := primitive.NewObjectID()
	h.appts.appts[second.Hex()] = &models.Appointment{
		ID:                  second,
		PatientID:           mustOID(t, h.patient.UserID),
		DoctorApplicationID: h.doctorApp,
		Date:                h.scheduled,
		Time:                "10:00",
		Status:              models.AppointmentConfirmed,
	}
	ctx := context.Background()
	secondRoom := RoomKey(second.Hex())
	_, err := h.rooms.Join(ctx, secondRoom, newPeer("x1"))
	require.NoError(t, err)
	_, err = h.rooms.Join(ctx, secondRoom, newPeer("x2"))
	require.NoError(t, err)

	patient := h.ctrl.Open(h.patient)
	doctor := h.ctrl.Open(h.doctor)
	h.join(patient)
	h.join(doctor)
	drain(patient)
	drain(doctor)

	h.send(patient, models.EventJoinRoom, models.RoomRequest{AppointmentID: second.Hex()})
	assert.Equal(t, ReasonRoomFull, denial(t, drain(patient)).Reason)
	assert.Equal(t, h.room, patient.CurrentRoom())
	assert.Equal(t, 2, h.size())
	assert.Empty(t, drain(doctor))

	n, _ := h.rooms.SizeOf(ctx, secondRoom)
	assert.Equal(t, 2, n)

	// The call still works.
	h.send(patient, models.EventSignal, models.SignalRequest{AppointmentID: h.apptID, Payload: json.RawMessage(`{"type":"offer"}`)})
	assert.Equal(t, []string{models.EventSignal}, eventNames(drain(doctor)))
}

// racingPresence runs onAnnounce after the entry is written, standing in for
// a disconnect that lands while announce-presence is in flight.
type racingPresence struct {
	PresenceTracker
	onAnnounce func()
}

func (p *racingPresence) Announce(ctx context.Context, userID, sessionID string) error {
	if err := p.PresenceTracker.Announce(ctx, userID, sessionID); err != nil {
		return err
	}
	p.onAnnounce()
	return nil
}

func TestController_AnnounceRacingDisconnect(t *testing.T) {
	h := newHarness(Options{})
	presence := &racingPresence{PresenceTracker: NewMemoryPresence()}
	h.ctrl.Presence = presence

	watcher := h.ctrl.Open(h.doctor)
	s := h.ctrl.Open(h.patient)
	presence.onAnnounce = func() { h.ctrl.Disconnect(s) }

	h.send(s, models.EventAnnouncePresence, models.PresencePayload{UserID: h.patient.UserID})

	online, err := presence.Online(context.Background())
	require.NoError(t, err)
	assert.Empty(t, online)
	assert.Empty(t, drain(watcher))
}

func mustOID(t *testing.T, hex string) primitive.ObjectID {
	t.Helper()
	oid, err := primitive.ObjectIDFromHex(hex)
	require.NoError(t, err)
	return oid
}

func TestController_LeaveOtherRoomIgnored(t *testing.T) {
	h := newHarness(Options{})
	s := h.ctrl.Open(h.patient)
	h.join(s)

	h.send(s, models.EventLeaveRoom, models.RoomRequest{AppointmentID: "someone-else"})
	assert.Equal(t, h.room, s.CurrentRoom())

	// No id means the current room.
	h.send(s, models.EventLeaveRoom, nil)
	assert.Equal(t, "", s.CurrentRoom())
	assert.Equal(t, 0, h.size())
}

func TestController_DisconnectIsIdempotent(t *testing.T) {
	h := newHarness(Options{})
	patient := h.ctrl.Open(h.patient)
	doctor := h.ctrl.Open(h.doctor)
	h.join(patient)
	h.join(doctor)
	drain(doctor)

	h.ctrl.Disconnect(patient)
	h.ctrl.Disconnect(patient)
	assert.Equal(t, 1, h.size())
	assert.Equal(t, 1, h.ctrl.SessionCount())
	assert.Equal(t, []string{models.EventPeerLeft, models.EventRoomUsers}, eventNames(drain(doctor)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.activeSessions))

	drain(patient)
	_, open := <-patient.Outbound()
	assert.False(t, open)

	// Events after disconnect are ignored.
	h.join(patient)
	assert.Equal(t, 1, h.size())

	h.ctrl.Disconnect(doctor)
	assert.Equal(t, 0, h.size())
	assert.False(t, h.rooms.Exists(h.room))
}

func TestController_Presence(t *testing.T) {
	h := newHarness(Options{})
	patient := h.ctrl.Open(h.patient)
	doctor := h.ctrl.Open(h.doctor)

	h.send(patient, models.EventAnnouncePresence, models.PresencePayload{UserID: h.patient.UserID})
	var online []string
	require.NoError(t, json.Unmarshal(find(t, drain(doctor), models.EventOnlineUsers).Data, &online))
	assert.Equal(t, []string{h.patient.UserID}, online)
	drain(patient)

	// A claim for another user records the authenticated one.
	h.send(doctor, models.EventAnnouncePresence, models.PresencePayload{UserID: "impostor"})
	require.NoError(t, json.Unmarshal(find(t, drain(patient), models.EventOnlineUsers).Data, &online))
	assert.ElementsMatch(t, []string{h.patient.UserID, h.doctor.UserID}, online)

	h.ctrl.Disconnect(doctor)
	require.NoError(t, json.Unmarshal(find(t, drain(patient), models.EventOnlineUsers).Data, &online))
	assert.Equal(t, []string{h.patient.UserID}, online)

	// A session that never announced leaves the list alone.
	quiet := h.ctrl.Open(h.otherPat)
	h.ctrl.Disconnect(quiet)
	assert.Empty(t, drain(patient))

	h.ctrl.Disconnect(patient)
	online, _ = h.ctrl.Presence.Online(context.Background())
	assert.Empty(t, online)
}

func TestController_RateLimit(t *testing.T) {
	h := newHarness(Options{EventsPerSecond: 1, EventBurst: 2})
	s := h.ctrl.Open(h.patient)

	for i := 0; i < 5; i++ {
		h.send(s, models.EventJoinRoom, models.RoomRequest{AppointmentID: fmt.Sprintf("missing-%d", i)})
	}
	assert.Len(t, drain(s), 2)
	assert.Equal(t, 2, h.appts.calls)
}

func TestController_UnknownEventIgnored(t *testing.T) {
	h := newHarness(Options{})
	s := h.ctrl.Open(h.patient)

	h.send(s, "reticulate-splines", map[string]int{"n": 3})
	assert.Empty(t, drain(s))
	assert.Equal(t, StateAuthenticated, s.State())
}

type panickingGate struct{}

func (panickingGate) Evaluate(ctx context.Context, appointmentID string, who models.Identity) Decision {
	panic("boom")
}

func TestController_PanicContained(t *testing.T) {
	h := newHarness(Options{})
	h.ctrl.Gate = panickingGate{}
	s := h.ctrl.Open(h.patient)

	assert.NotPanics(t, func() { h.join(s) })
	assert.Equal(t, StateAuthenticated, s.State())
}

func TestController_StalledSessionDropped(t *testing.T) {
	h := newHarness(Options{OutboundBuffer: 3})
	patient := h.ctrl.Open(h.patient)
	doctor := h.ctrl.Open(h.doctor)
	h.join(patient)
	h.join(doctor)

	// The patient never drains, so room-ready overflowed its queue.
	assert.True(t, patient.Stalled())
	assert.False(t, patient.Deliver(models.NewEvent(models.EventSignal, nil)))

	drain(doctor)
	h.send(doctor, models.EventSignal, models.SignalRequest{AppointmentID: h.apptID, Payload: json.RawMessage(`{}`)})
	assert.False(t, doctor.Stalled())
}

func TestController_Shutdown(t *testing.T) {
	h := newHarness(Options{})
	patient := h.ctrl.Open(h.patient)
	doctor := h.ctrl.Open(h.doctor)
	h.join(patient)
	h.join(doctor)

	h.ctrl.Shutdown()
	assert.Equal(t, 0, h.ctrl.SessionCount())
	assert.Equal(t, 0, h.size())
	assert.Equal(t, StateTerminated, patient.State())
	assert.Equal(t, StateTerminated, doctor.State())
}

package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"medicall/models"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type appointmentStub struct {
	mu    sync.Mutex
	appts map[string]*models.Appointment
	err   error
	calls int
}

func (s *appointmentStub) GetByID(ctx context.Context, id string) (*models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	a, ok := s.appts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *appointmentStub) setStatus(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appts[id].Status = status
}

type doctorStub struct {
	apps map[string]*models.DoctorApplication // userID -> application
	err  error
}

func (s *doctorStub) GetApprovedByUser(ctx context.Context, userID string) (*models.DoctorApplication, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.apps[userID], nil
}

// clinic is a small fixture: one confirmed appointment at 10:00 UTC on
// 2025-03-10 between patient and doctor.
type clinic struct {
	patient   models.Identity
	doctor    models.Identity
	otherPat  models.Identity
	otherDoc  models.Identity
	apptID    string
	appts     *appointmentStub
	doctors   *doctorStub
	clock     *fakeClock
	gate      *DefaultAppointmentGate
	scheduled time.Time
	doctorApp primitive.ObjectID
}

func newClinic() *clinic {
	patientID := primitive.NewObjectID()
	doctorUser := primitive.NewObjectID()
	otherDocUser := primitive.NewObjectID()
	doctorApp := primitive.NewObjectID()
	apptID := primitive.NewObjectID()

	appts := &appointmentStub{appts: map[string]*models.Appointment{
		apptID.Hex(): {
			ID:                  apptID,
			PatientID:           patientID,
			DoctorApplicationID: doctorApp,
			Date:                time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			Time:                "10:00",
			Status:              models.AppointmentConfirmed,
		},
	}}
	doctors := &doctorStub{apps: map[string]*models.DoctorApplication{
		doctorUser.Hex():   {ID: doctorApp, UserID: doctorUser, Status: models.DoctorApplicationApproved},
		otherDocUser.Hex(): {ID: primitive.NewObjectID(), UserID: otherDocUser, Status: models.DoctorApplicationApproved},
	}}

	scheduled := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: scheduled.Add(-time.Minute)}
	gate := NewAppointmentGate(appts, doctors)
	gate.Location = time.UTC
	gate.Now = clock.Now

	return &clinic{
		patient:   models.Identity{UserID: patientID.Hex(), Role: models.RolePatient},
		doctor:    models.Identity{UserID: doctorUser.Hex(), Role: models.RoleDoctor},
		otherPat:  models.Identity{UserID: primitive.NewObjectID().Hex(), Role: models.RolePatient},
		otherDoc:  models.Identity{UserID: otherDocUser.Hex(), Role: models.RoleDoctor},
		apptID:    apptID.Hex(),
		appts:     appts,
		doctors:   doctors,
		clock:     clock,
		gate:      gate,
		scheduled: scheduled,
		doctorApp: doctorApp,
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// recordingPeer collects delivered events.
type recordingPeer struct {
	id     string
	mu     sync.Mutex
	events []models.Event
}

func newPeer(id string) *recordingPeer { return &recordingPeer{id: id} }

func (p *recordingPeer) ID() string { return p.id }

func (p *recordingPeer) Deliver(ev models.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return true
}

func (p *recordingPeer) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Name)
	}
	return out
}

func (p *recordingPeer) count(name string) int {
	n := 0
	for _, got := range p.names() {
		if got == name {
			n++
		}
	}
	return n
}

func (p *recordingPeer) last(name string) (models.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Name == name {
			return p.events[i], true
		}
	}
	return models.Event{}, false
}

func (p *recordingPeer) reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}

// drain reads everything currently queued for s.
func drain(s *Session) []models.Event {
	var out []models.Event
	for {
		select {
		case ev, ok := <-s.Outbound():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventNames(evs []models.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Name)
	}
	return out
}

func find(t *testing.T, evs []models.Event, name string) models.Event {
	t.Helper()
	for _, ev := range evs {
		if ev.Name == name {
			return ev
		}
	}
	require.Failf(t, "event not found", "no %q in %v", name, eventNames(evs))
	return models.Event{}
}

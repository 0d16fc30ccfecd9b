package call

import (
	"context"
	"fmt"
	"strings"
	"time"

	"medicall/database/repository"
	"medicall/models"
)

// DefaultJoinLead is how early a participant may enter the call room.
const DefaultJoinLead = 5 * time.Minute

// AppointmentGate decides whether an identity may join an appointment's call room.
type AppointmentGate interface {
	Evaluate(ctx context.Context, appointmentID string, who models.Identity) Decision
}

// DefaultAppointmentGate evaluates joins against live appointment state.
// Nothing is cached: status can change between two attempts.
type DefaultAppointmentGate struct {
	Appointments repository.AppointmentRepository
	Doctors      repository.DoctorApplicationRepository
	JoinLead     time.Duration
	Location     *time.Location
	Now          func() time.Time
}

// NewAppointmentGate creates a gate with the default lead time and the local zone.
func NewAppointmentGate(appts repository.AppointmentRepository, doctors repository.DoctorApplicationRepository) *DefaultAppointmentGate {
	return &DefaultAppointmentGate{
		Appointments: appts,
		Doctors:      doctors,
		JoinLead:     DefaultJoinLead,
		Location:     time.Local,
		Now:          time.Now,
	}
}

// Evaluate runs the admission checks in order and stops at the first failure.
func (g *DefaultAppointmentGate) Evaluate(ctx context.Context, appointmentID string, who models.Identity) Decision {
	appt, err := g.Appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return lookupFailed("appointment lookup: %w", err)
	}
	if appt == nil {
		return Deny(ReasonNotFound)
	}

	// Cancelled first for the more specific reason.
	if appt.Status == models.AppointmentCancelled {
		return Deny(ReasonCancelled)
	}
	if appt.Status != models.AppointmentConfirmed {
		return Deny(ReasonNotConfirmed)
	}

	switch who.Role {
	case models.RolePatient:
		if appt.PatientID.Hex() != who.UserID {
			return Deny(ReasonNotYours)
		}
	case models.RoleDoctor:
		app, err := g.Doctors.GetApprovedByUser(ctx, who.UserID)
		if err != nil {
			return lookupFailed("doctor application lookup: %w", err)
		}
		if app == nil || app.ID != appt.DoctorApplicationID {
			return Deny(ReasonNotYours)
		}
	default:
		// No admin access to calls.
		return Deny(ReasonNotYours)
	}

	start, err := ScheduledStart(appt, g.location())
	if err != nil {
		return lookupFailed("appointment schedule: %w", err)
	}
	// No upper bound: an overrunning or late call stays joinable.
	if g.now().Before(start.Add(-g.JoinLead)) {
		return Deny(ReasonTooEarly)
	}
	return Admit()
}

func (g *DefaultAppointmentGate) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

func (g *DefaultAppointmentGate) location() *time.Location {
	if g.Location == nil {
		return time.Local
	}
	return g.Location
}

var slotLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3:04PM", "03:04 PM"}

// ScheduledStart combines the appointment's calendar day with its slot time in loc.
func ScheduledStart(appt *models.Appointment, loc *time.Location) (time.Time, error) {
	raw := strings.ToUpper(strings.TrimSpace(appt.Time))
	for _, layout := range slotLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		y, m, d := appt.Date.In(loc).Date()
		return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised slot time %q", appt.Time)
}

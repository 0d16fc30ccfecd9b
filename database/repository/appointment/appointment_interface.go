package appointmentRepo

import (
	"context"

	"medicall/models"
)

// AppointmentRepository is the read-only view of appointments the call service needs.
type AppointmentRepository interface {
	// GetByID returns the appointment with the given hex id, or nil when none exists.
	GetByID(ctx context.Context, id string) (*models.Appointment, error)
}

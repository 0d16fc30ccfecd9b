package doctorApplicationRepo

import (
	"context"

	"medicall/models"
)

// DoctorApplicationRepository is the read-only view of doctor applications.
type DoctorApplicationRepository interface {
	// GetApprovedByUser returns the approved application owned by userID, or nil.
	GetApprovedByUser(ctx context.Context, userID string) (*models.DoctorApplication, error)
}

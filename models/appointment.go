package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Appointment statuses as seen by the call room gate.
const (
	AppointmentPending   = "Pending"
	AppointmentConfirmed = "Confirmed"
	AppointmentCancelled = "Cancelled"
	AppointmentCompleted = "Completed"

	// AppointmentBooked is the legacy spelling of Confirmed written by the booking API.
	AppointmentBooked = "Booked"
)

// Appointment is the read-only snapshot of an appointment fetched at join time.
type Appointment struct {
	ID                  primitive.ObjectID `bson:"_id" json:"id"`
	PatientID           primitive.ObjectID `bson:"patientId" json:"patientId"`
	DoctorApplicationID primitive.ObjectID `bson:"doctorApplicationId" json:"doctorApplicationId"`
	Date                time.Time          `bson:"date" json:"date"`                     // Calendar day of the visit
	Time                string             `bson:"time" json:"time"`                     // Slot start, "HH:MM"
	Status              string             `bson:"status" json:"status"`                 // Pending, Confirmed, Cancelled, Completed
	CreatedAt           time.Time          `bson:"createdAt,omitempty" json:"createdAt"` // Set by the booking API
	UpdatedAt           time.Time          `bson:"updatedAt,omitempty" json:"updatedAt"` // Set by the booking API
}

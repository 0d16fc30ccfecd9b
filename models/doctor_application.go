package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Doctor application statuses.
const (
	DoctorApplicationPending  = "Pending"
	DoctorApplicationApproved = "Approved"
	DoctorApplicationRejected = "Rejected"
)

// DoctorApplication is the subset of a doctor's application the call gate needs.
type DoctorApplication struct {
	ID             primitive.ObjectID `bson:"_id" json:"id"`
	UserID         primitive.ObjectID `bson:"userId" json:"userId"`
	FullName       string             `bson:"fullName,omitempty" json:"fullName,omitempty"`
	Specialization string             `bson:"specialization,omitempty" json:"specialization,omitempty"`
	Status         string             `bson:"status" json:"status"`
}

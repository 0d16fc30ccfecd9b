package appointmentRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medicall/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoAppointmentRepo implements AppointmentRepository using MongoDB.
type MongoAppointmentRepo struct {
	coll *mongo.Collection
}

// NewMongoAppointmentRepo creates a repository over the "appointments" collection of db.
func NewMongoAppointmentRepo(db *mongo.Database) AppointmentRepository {
	return &MongoAppointmentRepo{coll: db.Collection("appointments")}
}

// newContext derives a bounded context for a single query.
func newContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}

// snapshotProjection limits reads to the fields the call gate consumes.
var snapshotProjection = bson.M{
	"_id":                 1,
	"patientId":           1,
	"doctorApplicationId": 1,
	"date":                1,
	"time":                1,
	"status":              1,
}

// GetByID retrieves an appointment by its ObjectID hex string.
// A malformed id is treated like a missing appointment.
func (r *MongoAppointmentRepo) GetByID(ctx context.Context, id string) (*models.Appointment, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}

	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	opts := options.FindOne().SetProjection(snapshotProjection)

	var appt models.Appointment
	if err := r.coll.FindOne(ctx, bson.M{"_id": oid}, opts).Decode(&appt); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch appointment with id %s: %w", id, err)
	}
	appt.Status = NormalizeStatus(appt.Status)
	return &appt, nil
}

// NormalizeStatus maps legacy status spellings onto the canonical set.
func NormalizeStatus(status string) string {
	if status == models.AppointmentBooked {
		return models.AppointmentConfirmed
	}
	return status
}

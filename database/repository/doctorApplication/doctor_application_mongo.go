package doctorApplicationRepo

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

// MongoDoctorApplicationRepo implements DoctorApplicationRepository using MongoDB.
type MongoDoctorApplicationRepo struct {
	coll *mongo.Collection
}

// NewMongoDoctorApplicationRepo creates a repository over the "doctorapplications" collection of db.
func NewMongoDoctorApplicationRepo(db *mongo.Database) DoctorApplicationRepository {
	return &MongoDoctorApplicationRepo{coll: db.Collection("doctorapplications")}
}

// GetApprovedByUser retrieves the approved application for a user id.
func (r *MongoDoctorApplicationRepo) GetApprovedByUser(ctx context.Context, userID string) (*models.DoctorApplication, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"userId": oid, "status": models.DoctorApplicationApproved}
	opts := options.FindOne().SetProjection(bson.M{"_id": 1, "userId": 1, "fullName": 1, "specialization": 1, "status": 1})

	var app models.DoctorApplication
	if err := r.coll.FindOne(ctx, filter, opts).Decode(&app); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch approved application for user %s: %w", userID, err)
	}
	return &app, nil
}

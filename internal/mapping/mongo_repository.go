package mapping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "appointment_mappings"

// MongoRepository implements Repository on one collection with a unique
// index on appointment_id.
type MongoRepository struct {
	coll *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(collectionName)}
}

// EnsureIndexes creates the unique appointment_id index the create path
// relies on, plus lookup indexes.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "appointment_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("ux_appointment_id"),
		},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "patient_id", Value: 1}}},
		{Keys: bson.D{{Key: "doctor_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create %s indexes: %w", collectionName, err)
	}
	return nil
}

func (r *MongoRepository) Insert(ctx context.Context, m Mapping) error {
	if _, err := r.coll.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrMappingExists
		}
		return fmt.Errorf("insert appointment mapping: %w", err)
	}
	return nil
}

func (r *MongoRepository) GetByAppointmentID(ctx context.Context, appointmentID int64) (*Mapping, error) {
	var m Mapping
	err := r.coll.FindOne(ctx, bson.M{"appointment_id": appointmentID}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMappingNotFound
		}
		return nil, fmt.Errorf("get appointment mapping %d: %w", appointmentID, err)
	}
	return &m, nil
}

func (r *MongoRepository) CompareAndSetStatus(ctx context.Context, appointmentID int64, from, to Status, at time.Time) (*Mapping, error) {
	filter := bson.M{"appointment_id": appointmentID, "status": from}
	update := bson.M{"$set": bson.M{"status": to, "updated_at": at}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m Mapping
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err == nil {
		return &m, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("update appointment mapping %d: %w", appointmentID, err)
	}

	// Nothing matched: either the mapping is gone or its status moved.
	if _, getErr := r.GetByAppointmentID(ctx, appointmentID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrStatusChanged
}

func (r *MongoRepository) ListByStatus(ctx context.Context, status Status) ([]Mapping, error) {
	return r.find(ctx, bson.M{"status": status})
}

func (r *MongoRepository) ListByPatient(ctx context.Context, patientID int64) ([]Mapping, error) {
	return r.find(ctx, bson.M{"patient_id": patientID})
}

func (r *MongoRepository) ListByDoctor(ctx context.Context, doctorID int64) ([]Mapping, error) {
	return r.find(ctx, bson.M{"doctor_id": doctorID})
}

func (r *MongoRepository) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count appointment mappings: %w", err)
	}
	defer cursor.Close(ctx)

	counts := make(map[Status]int64)
	for cursor.Next(ctx) {
		var row struct {
			Status Status `bson:"_id"`
			Count  int64  `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode mapping count: %w", err)
		}
		counts[row.Status] = row.Count
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return counts, nil
}

func (r *MongoRepository) find(ctx context.Context, filter bson.M) ([]Mapping, error) {
	opts := options.Find().SetSort(bson.D{{Key: "appointment_time", Value: 1}})

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find appointment mappings: %w", err)
	}
	defer cursor.Close(ctx)

	var mappings []Mapping
	for cursor.Next(ctx) {
		var m Mapping
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode appointment mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return mappings, nil
}

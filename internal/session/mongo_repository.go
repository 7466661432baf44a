package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	sessionsCollection = "sessions"
	filesCollection    = "session_files"
)

// MongoRepository stores sessions and their attachment metadata in two
// collections. It implements both Repository and AttachmentRepository.
type MongoRepository struct {
	sessions *mongo.Collection
	files    *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		sessions: db.Collection(sessionsCollection),
		files:    db.Collection(filesCollection),
	}
}

func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "appointment_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("ux_appointment_id"),
		},
		{Keys: bson.D{{Key: "patient_id", Value: 1}}},
		{Keys: bson.D{{Key: "doctor_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create %s indexes: %w", sessionsCollection, err)
	}

	_, err = r.files.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "uploaded_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create %s indexes: %w", filesCollection, err)
	}
	return nil
}

func (r *MongoRepository) Insert(ctx context.Context, s Session) error {
	if _, err := r.sessions.InsertOne(ctx, s); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoRepository) GetByAppointmentID(ctx context.Context, appointmentID int64) (*Session, error) {
	return r.findOne(ctx, bson.M{"appointment_id": appointmentID})
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M) (*Session, error) {
	var s Session
	if err := r.sessions.FindOne(ctx, filter).Decode(&s); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

func (r *MongoRepository) CompareAndSetStatus(ctx context.Context, id string, from, to Status, change StatusChange) (*Session, error) {
	set := bson.M{"status": to, "updated_at": change.At}
	if change.StartTime != nil {
		set["start_time"] = *change.StartTime
	}
	if change.EndTime != nil {
		set["end_time"] = *change.EndTime
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var s Session
	err := r.sessions.FindOneAndUpdate(ctx, bson.M{"_id": id, "status": from}, bson.M{"$set": set}, opts).Decode(&s)
	if err == nil {
		return &s, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("update session %s: %w", id, err)
	}

	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrStatusChanged
}

func (r *MongoRepository) SetFileStats(ctx context.Context, id string, stats FileStats, at time.Time) error {
	res, err := r.sessions.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"file_count":        stats.Count,
		"has_patient_files": stats.HasPatient,
		"has_doctor_files":  stats.HasDoctor,
		"updated_at":        at,
	}})
	if err != nil {
		return fmt.Errorf("update session file stats: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *MongoRepository) ListByPatient(ctx context.Context, patientID int64) ([]Session, error) {
	return r.find(ctx, bson.M{"patient_id": patientID})
}

func (r *MongoRepository) ListByDoctor(ctx context.Context, doctorID int64) ([]Session, error) {
	return r.find(ctx, bson.M{"doctor_id": doctorID})
}

func (r *MongoRepository) find(ctx context.Context, filter bson.M) ([]Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "scheduled_time", Value: 1}})
	cursor, err := r.sessions.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find sessions: %w", err)
	}

	var sessions []Session
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return sessions, nil
}

func (r *MongoRepository) InsertAttachment(ctx context.Context, a Attachment) error {
	if _, err := r.files.InsertOne(ctx, a); err != nil {
		return fmt.Errorf("insert session file: %w", err)
	}
	return nil
}

func (r *MongoRepository) GetAttachment(ctx context.Context, id string) (*Attachment, error) {
	var a Attachment
	if err := r.files.FindOne(ctx, bson.M{"_id": id}).Decode(&a); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAttachmentNotFound
		}
		return nil, fmt.Errorf("get session file: %w", err)
	}
	return &a, nil
}

func (r *MongoRepository) DeleteAttachment(ctx context.Context, id string) error {
	res, err := r.files.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete session file: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrAttachmentNotFound
	}
	return nil
}

func (r *MongoRepository) ListAttachments(ctx context.Context, sessionID string) ([]Attachment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "uploaded_at", Value: 1}})
	cursor, err := r.files.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find session files: %w", err)
	}

	var files []Attachment
	if err := cursor.All(ctx, &files); err != nil {
		return nil, fmt.Errorf("decode session files: %w", err)
	}
	return files, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transcoding_service/internal/transcode/domain"
	errprocess "transcoding_service/pkg/err"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoMetadataRepo struct {
	coll *mongo.Collection
}

// NewMongoMetadataRepo create mongo MetadataRepo on collection
func NewMongoMetadataRepo(db *mongo.Database, collection string) MetadataRepo {
	return &mongoMetadataRepo{coll: db.Collection(collection)}
}

// AutoMigrate 建立 (owner, video_name) unique index
func (r *mongoMetadataRepo) AutoMigrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "owner", Value: 1}, {Key: "video_name", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("idx_owner_video"),
	})
	return err
}

// Record UpdateOne upsert, created_at only on insert
func (r *mongoMetadataRepo) Record(ctx context.Context, rec *domain.MetadataRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	filter := bson.M{"owner": rec.Owner, "video_name": rec.VideoName}
	update := bson.M{
		"$set": bson.M{
			"s3_url":             rec.ArtifactURL,
			"transcode_duration": rec.TranscodeDuration,
			"updated_at":         rec.UpdatedAt,
		},
		"$setOnInsert": bson.M{"created_at": rec.CreatedAt},
	}
	if _, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return errprocess.Wrap(errprocess.KindTransient, "repository.Record", err, fmt.Sprintf("upsert[%s/%s]", rec.Owner, rec.VideoName))
	}
	return nil
}

func (r *mongoMetadataRepo) Find(ctx context.Context, owner, videoName string) (*domain.MetadataRecord, error) {
	var rec domain.MetadataRecord
	err := r.coll.FindOne(ctx, bson.M{"owner": owner, "video_name": videoName}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errprocess.Wrap(errprocess.KindNotFound, "repository.Find", err, fmt.Sprintf("record[%s/%s]", owner, videoName))
	}
	if err != nil {
		return nil, errprocess.Wrap(errprocess.KindTransient, "repository.Find", err, fmt.Sprintf("record[%s/%s]", owner, videoName))
	}
	return &rec, nil
}

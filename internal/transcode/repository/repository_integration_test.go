//go:build integration

package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"testing"
	"time"

	"transcoding_service/internal/transcode/domain"
	"transcoding_service/pkg/database"
	errprocess "transcoding_service/pkg/err"
	"transcoding_service/pkg/logger"
	testtool "transcoding_service/pkg/test_tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	pgConn    database.Connection
	mongoConn database.Connection
)

// **TestMain - 啟動 PostgreSQL 與 MongoDB**
func TestMain(m *testing.M) {
	ctx := context.Background()
	logger.SetNewNop()

	postgresContainer, pgHost, pgPort, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image: "postgres:16",
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "transcodedb",
		},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	})
	if err != nil {
		log.Fatalf("❌ Failed to start PostgreSQL: %v", err)
	}
	port, _ := strconv.Atoi(pgPort)
	pgConn = database.Connection{
		ConnectStr:    database.PostgresDSN(pgHost, port, "test", "test", "transcodedb"),
		RetryCount:    10,
		RetryInterval: time.Second,
	}

	mongoContainer, mongoHost, mongoPort, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	})
	if err != nil {
		log.Fatalf("❌ Failed to start MongoDB: %v", err)
	}
	mongoConn = database.Connection{
		ConnectStr:    fmt.Sprintf("mongodb://%s:%s", mongoHost, mongoPort),
		RetryCount:    10,
		RetryInterval: time.Second,
	}

	code := m.Run()
	_ = postgresContainer.Terminate(ctx)
	_ = mongoContainer.Terminate(ctx)
	os.Exit(code)
}

func assertUpsert(t *testing.T, repo MetadataRepo) {
	ctx := context.Background()
	require.NoError(t, repo.AutoMigrate())

	require.NoError(t, repo.Record(ctx, &domain.MetadataRecord{
		Owner: "alice", VideoName: "clip", ArtifactURL: "https://b.minio/transcoded/clip-output.mp4", TranscodeDuration: "3.00 seconds",
	}))
	first, err := repo.Find(ctx, "alice", "clip")
	require.NoError(t, err)

	require.NoError(t, repo.Record(ctx, &domain.MetadataRecord{
		Owner: "alice", VideoName: "clip", ArtifactURL: "https://b.minio/transcoded/clip-output.mp4", TranscodeDuration: "5.25 seconds",
	}))
	second, err := repo.Find(ctx, "alice", "clip")
	require.NoError(t, err)
	assert.Equal(t, "5.25 seconds", second.TranscodeDuration)
	assert.WithinDuration(t, first.CreatedAt, second.CreatedAt, time.Millisecond)

	_, err = repo.Find(ctx, "nobody", "clip")
	assert.True(t, errprocess.IsNotFound(err))
}

func TestPostgresMetadataRepo(t *testing.T) {
	db, err := database.NewPGConnection(pgConn)
	require.NoError(t, err)
	repo := NewMetadataRepo(db, "video_transcodes")
	assertUpsert(t, repo)

	var count int64
	require.NoError(t, db.Table("video_transcodes").Where("owner = ?", "alice").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestMongoMetadataRepo(t *testing.T) {
	mdb, err := database.NewMongoDB(context.Background(), mongoConn, "transcodedb")
	require.NoError(t, err)
	repo := NewMongoMetadataRepo(mdb.Database, "video_transcodes")
	assertUpsert(t, repo)
}

func TestPostgresDeadLetterRepo(t *testing.T) {
	ctx := context.Background()
	pool, err := database.NewDatabaseConnection(ctx, pgConn)
	require.NoError(t, err)
	defer pool.Close()

	repo := NewDeadLetterRepo(pool)
	require.NoError(t, repo.Migrate(ctx))

	dl := &domain.DeadLetter{MessageID: "m1", Body: []byte(`{"videoName":"clip"}`), Reason: "max receives", Kind: "transcode", ReceiveCount: 6, VideoName: "clip"}
	require.NoError(t, repo.Put(ctx, dl))

	list, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "clip", list[0].VideoName)

	got, err := repo.Get(ctx, dl.ID)
	require.NoError(t, err)
	assert.Equal(t, dl.Body, got.Body)

	require.NoError(t, repo.Delete(ctx, dl.ID))
	_, err = repo.Get(ctx, dl.ID)
	assert.True(t, errprocess.IsNotFound(err))
}

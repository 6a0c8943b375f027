package bootstrap

import (
	"context"
	"fmt"
	"time"

	"transcoding_service/internal/transcode/app"
	"transcoding_service/internal/transcode/queue"
	"transcoding_service/internal/transcode/repository"
	"transcoding_service/internal/transcode/workspace"
	"transcoding_service/pkg/config"
	"transcoding_service/pkg/database"
	"transcoding_service/pkg/logger"
	t_token "transcoding_service/pkg/token"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Deps connections shared by the http service, the worker and transcodectl.
// Every getter connects once and registers a closer.
type Deps struct {
	Cfg config.Transcoding

	store       *database.MinIOClient
	queue       queue.Queue
	redis       *redis.Client
	records     repository.MetadataRepo
	deadLetters repository.DeadLetterRepo
	notifier    app.OutcomeNotifier

	closers []func()
}

// New apply defaults and validate cfg
func New(cfg config.Transcoding) (*Deps, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Deps{Cfg: cfg}, nil
}

// Close release everything in reverse order
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

func (d *Deps) onClose(f func()) {
	d.closers = append(d.closers, f)
}

func (d *Deps) redisConfigured() bool {
	return d.Cfg.Redis.Addr != "" || len(d.Cfg.Redis.SentinelAddrs) > 0
}

// Store minio artifact store
func (d *Deps) Store() (*database.MinIOClient, error) {
	if d.store != nil {
		return d.store, nil
	}
	count, interval := d.Cfg.MinIO.Retry()
	store, err := database.NewMinIOConnection(database.MinIOConnection{
		Endpoint:   d.Cfg.MinIO.Endpoint(),
		User:       d.Cfg.MinIO.User,
		Password:   d.Cfg.MinIO.Password,
		BucketName: d.Cfg.MinIO.BucketName,
		UseSSL:     d.Cfg.MinIO.UseSSL,

		RetryCount:    count,
		RetryInterval: interval,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: %w", err)
	}
	d.store = store
	return store, nil
}

// Redis redis client, nil when redis is not configured
func (d *Deps) Redis(ctx context.Context) (*redis.Client, error) {
	if d.redis != nil || !d.redisConfigured() {
		return d.redis, nil
	}
	client, err := database.NewRedisClient(ctx, database.RedisConnection{
		Addr:          d.Cfg.Redis.Addr,
		MasterName:    d.Cfg.Redis.MasterName,
		SentinelAddrs: d.Cfg.Redis.SentinelAddrs,
		Password:      d.Cfg.Redis.Password,
		DB:            d.Cfg.Redis.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	d.redis = client
	d.onClose(func() { client.Close() })
	return client, nil
}

// Queue job queue of queue.driver
func (d *Deps) Queue(ctx context.Context) (queue.Queue, error) {
	if d.queue != nil {
		return d.queue, nil
	}
	qc := d.Cfg.Queue
	opts := queue.Options{
		WaitTime:          qc.WaitTime,
		VisibilityTimeout: qc.VisibilityTimeout,
		PollInterval:      qc.PollInterval,
	}

	var q queue.Queue
	switch qc.Driver {
	case "redis":
		client, err := d.Redis(ctx)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, fmt.Errorf("queue.driver redis needs redis.addr or redis.sentinel_addrs")
		}
		q = queue.NewRedisQueue(client, qc.Name, opts)
	case "rabbitmq":
		count, interval := d.Cfg.RabbitMQ.Retry()
		conn, err := database.ConnectRabbitMQWithRetry(database.Connection{
			ConnectStr:    d.Cfg.RabbitMQ.URL(),
			RetryCount:    count,
			RetryInterval: interval,
		})
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		d.onClose(func() { conn.Close() })
		ch, err := database.GetRabbitMQChannelWithRetry(conn, count, interval)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq channel: %w", err)
		}
		rq, err := queue.NewRabbitQueue(ch, qc.Name, d.Cfg.RabbitMQ.Quorum, opts)
		if err != nil {
			ch.Close()
			return nil, err
		}
		q = rq
	default:
		logger.Log.Warn("memory queue in use, jobs are lost on restart")
		q = queue.NewMemoryQueue(opts)
	}

	d.queue = q
	d.onClose(func() {
		if err := q.Close(); err != nil {
			logger.Log.Warn("queue close failed", zap.Error(err))
		}
	})
	return q, nil
}

// MetadataRepo metadata ledger of metadata.driver, migrated
func (d *Deps) MetadataRepo(ctx context.Context) (repository.MetadataRepo, error) {
	if d.records != nil {
		return d.records, nil
	}
	mc := d.Cfg.Metadata

	var repo repository.MetadataRepo
	switch mc.Driver {
	case "postgres":
		pg := d.Cfg.PostgreSQL
		count, interval := pg.Retry()
		db, err := database.NewPGConnection(database.Connection{
			ConnectStr:    database.PostgresDSN(pg.Host, pg.Port, pg.User, pg.Password, pg.Database),
			RetryCount:    count,
			RetryInterval: interval,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			d.onClose(func() { sqlDB.Close() })
		}
		repo = repository.NewMetadataRepo(db, mc.Table)
	case "mongo":
		m := d.Cfg.Mongo
		count, interval := m.Retry()
		mdb, err := database.NewMongoDB(ctx, database.Connection{
			ConnectStr:    fmt.Sprintf("mongodb://%s:%s@%s:%d", m.User, m.Password, m.Host, m.Port),
			RetryCount:    count,
			RetryInterval: interval,
		}, m.Database)
		if err != nil {
			return nil, fmt.Errorf("mongo: %w", err)
		}
		d.onClose(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mdb.Close(ctx)
		})
		repo = repository.NewMongoMetadataRepo(mdb.Database, mc.Table)
	default:
		logger.Log.Warn("memory metadata store in use, records are lost on restart")
		repo = repository.NewMemoryMetadataRepo()
	}

	if err := repo.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("metadata migrate: %w", err)
	}
	d.records = repo
	return repo, nil
}

// DeadLetterRepo poison message store of deadletter.driver, migrated
func (d *Deps) DeadLetterRepo(ctx context.Context) (repository.DeadLetterRepo, error) {
	if d.deadLetters != nil {
		return d.deadLetters, nil
	}

	var repo repository.DeadLetterRepo
	switch d.Cfg.DeadLetter.Driver {
	case "postgres":
		pg := d.Cfg.PostgreSQL
		count, interval := pg.Retry()
		pool, err := database.NewDatabaseConnection(ctx, database.Connection{
			ConnectStr:    database.PostgresDSN(pg.Host, pg.Port, pg.User, pg.Password, pg.Database),
			RetryCount:    count,
			RetryInterval: interval,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		d.onClose(pool.Close)
		repo = repository.NewDeadLetterRepo(pool)
	default:
		repo = repository.NewMemoryDeadLetterRepo()
	}

	if err := repo.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("dead letter migrate: %w", err)
	}
	d.deadLetters = repo
	return repo, nil
}

// Notifier kafka outcome notifier when kafka.enabled, otherwise a no-op
func (d *Deps) Notifier() (app.OutcomeNotifier, error) {
	if d.notifier != nil {
		return d.notifier, nil
	}
	if !d.Cfg.Kafka.Enabled {
		d.notifier = app.NoopNotifier{}
		return d.notifier, nil
	}
	count, interval := d.Cfg.Kafka.Retry()
	writer, err := database.NewKafkaWriterWithRetry(database.KafkaConnection{
		Brokers:       d.Cfg.Kafka.Brokers,
		Topic:         d.Cfg.Kafka.Topic,
		RetryCount:    count,
		RetryInterval: interval,
	})
	if err != nil {
		return nil, err
	}
	d.onClose(func() { writer.Close() })
	d.notifier = app.NewKafkaNotifier(writer)
	return d.notifier, nil
}

// JobLock redis lock when redis is configured, otherwise a no-op
func (d *Deps) JobLock(ctx context.Context) (app.JobLock, error) {
	client, err := d.Redis(ctx)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return app.NoopLock{}, nil
	}
	return app.NewRedisLock(client, d.Cfg.Worker.LockTTL), nil
}

// Relay redis progress relay, nil when worker.relay is off
func (d *Deps) Relay(ctx context.Context) (*app.RedisRelay, error) {
	if !d.Cfg.Worker.Relay {
		return nil, nil
	}
	client, err := d.Redis(ctx)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("worker.relay needs redis.addr or redis.sentinel_addrs")
	}
	return app.NewRedisRelay(client), nil
}

// UseCase producer side use case
func (d *Deps) UseCase(ctx context.Context) (app.TranscodeUseCase, error) {
	store, err := d.Store()
	if err != nil {
		return nil, err
	}
	q, err := d.Queue(ctx)
	if err != nil {
		return nil, err
	}
	return app.NewTranscodeUseCase(store, q, app.UseCaseConfig{
		AllowedExts:  d.Cfg.AllowedExts,
		SignedURLTTL: d.Cfg.SignedURL.TTL,
	}), nil
}

// Worker build the worker loop publishing progress to progress
func (d *Deps) Worker(ctx context.Context, progress app.ProgressPublisher) (*app.Worker, *workspace.Manager, error) {
	store, err := d.Store()
	if err != nil {
		return nil, nil, err
	}
	q, err := d.Queue(ctx)
	if err != nil {
		return nil, nil, err
	}
	records, err := d.MetadataRepo(ctx)
	if err != nil {
		return nil, nil, err
	}
	deadLetters, err := d.DeadLetterRepo(ctx)
	if err != nil {
		return nil, nil, err
	}
	lock, err := d.JobLock(ctx)
	if err != nil {
		return nil, nil, err
	}
	notifier, err := d.Notifier()
	if err != nil {
		return nil, nil, err
	}
	ws, err := workspace.NewManager(d.Cfg.Workspace.Root)
	if err != nil {
		return nil, nil, err
	}

	ff := d.Cfg.FFmpeg
	processor := app.NewProcessor(store, app.NewFFmpeg(ff.Path, ff.FFprobePath, ff.Timeout), ws, records, progress, app.ProcessorConfig{
		SignedURLTTL:    d.Cfg.SignedURL.TTL,
		ArtifactBaseURL: d.Cfg.ArtifactBaseURL(),
		DefaultOwner:    d.Cfg.Metadata.DefaultOwner,
	})
	w := app.NewWorker(q, processor, deadLetters, progress, lock, notifier, app.WorkerConfig{
		RetryDelay:        d.Cfg.Queue.RetryDelay,
		VisibilityTimeout: d.Cfg.Queue.VisibilityTimeout,
		MaxReceives:       d.Cfg.Queue.MaxReceives,
	})
	return w, ws, nil
}

// NewVerifier token verifier of auth.mode
func NewVerifier(a config.AuthConfig) (t_token.Verifier, error) {
	jwks := func() (t_token.Verifier, error) {
		if a.JWKSURL == "" {
			return nil, fmt.Errorf("auth.jwks_url is required")
		}
		return &t_token.JWKSVerifier{
			Keys:   t_token.NewKeyResolver(a.JWKSURL, a.KeyCacheTTL, a.MinRefreshInterval, nil),
			Issuer: a.Issuer,
		}, nil
	}
	remote := func() (t_token.Verifier, error) {
		if a.VerifyURL == "" {
			return nil, fmt.Errorf("auth.verify_url is required")
		}
		return t_token.NewRemoteVerifier(a.VerifyURL, nil), nil
	}

	switch a.Mode {
	case "hmac":
		if a.HMACSecret == "" {
			return nil, fmt.Errorf("auth.hmac_secret is required")
		}
		return t_token.NewHMACVerifier(a.HMACSecret, a.Issuer), nil
	case "jwks":
		return jwks()
	case "remote":
		return remote()
	case "chain":
		j, err := jwks()
		if err != nil {
			return nil, err
		}
		r, err := remote()
		if err != nil {
			return nil, err
		}
		return t_token.ChainVerifier{j, r}, nil
	default:
		return nil, fmt.Errorf("auth.mode[%s] unknown", a.Mode)
	}
}

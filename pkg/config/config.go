package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Transcoding definition transcoding_service YAML structure
type Transcoding struct {
	Port          string   `mapstructure:"port"`
	IP            string   `mapstructure:"ip"`
	UploadLimitMB int      `mapstructure:"upload_limit_mb"`
	AllowedExts   []string `mapstructure:"allowed_exts"`
	// PublicBaseURL artifact url prefix stored in metadata records
	PublicBaseURL string `mapstructure:"public_base_url"`
	CORSOrigins   string `mapstructure:"cors_origins"`

	Queue      QueueConfig      `mapstructure:"queue"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	SignedURL  SignedURLConfig  `mapstructure:"signed_url"`
	Metadata   MetadataConfig   `mapstructure:"metadata"`
	DeadLetter DeadLetterConfig `mapstructure:"deadletter"`
	PostgreSQL DatabaseConfig   `mapstructure:"pg"`
	Mongo      DatabaseConfig   `mapstructure:"mongo"`
	Redis      RedisConfig      `mapstructure:"redis"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	FFmpeg     FFmpegConfig     `mapstructure:"ffmpeg"`
	Workspace  WorkspaceConfig  `mapstructure:"workspace"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	GRPC       GRPCConfig       `mapstructure:"grpc"`
}

// QueueConfig definition job queue setting
type QueueConfig struct {
	Driver            string        `mapstructure:"driver"` // memory | redis | rabbitmq
	Name              string        `mapstructure:"name"`
	WaitTime          time.Duration `mapstructure:"wait_time"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MaxReceives       int           `mapstructure:"max_receives"`
}

// MinIOConfig definition object storage setting
type MinIOConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	BucketName    string `mapstructure:"bucket_name"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	PublicHost    string `mapstructure:"public_host"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// SignedURLConfig definition download url setting
type SignedURLConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// MetadataConfig definition metadata ledger setting
type MetadataConfig struct {
	Driver       string `mapstructure:"driver"` // memory | postgres | mongo
	Table        string `mapstructure:"table"`
	DefaultOwner string `mapstructure:"default_owner"`
}

// DeadLetterConfig definition poison message store
type DeadLetterConfig struct {
	Driver string `mapstructure:"driver"` // memory | postgres
}

// RedisConfig definition redis setting
type RedisConfig struct {
	Addr          string   `mapstructure:"addr"`
	MasterName    string   `mapstructure:"master_name"`
	SentinelAddrs []string `mapstructure:"sentinel_addrs"`
	Password      string   `mapstructure:"password"`
	RedisDB       int      `mapstructure:"redis_db"`
}

// RabbitMQConfig definition rabbitmq setting
type RabbitMQConfig struct {
	IP            string `mapstructure:"ip"`
	Port          string `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Quorum        bool   `mapstructure:"quorum"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// KafkaConfig definition kafka setting
type KafkaConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	RetryInterval int      `mapstructure:"retry_interval"`
	RetryCount    int      `mapstructure:"retry_count"`
}

// FFmpegConfig definition codec setting
type FFmpegConfig struct {
	Path        string        `mapstructure:"path"`
	FFprobePath string        `mapstructure:"ffprobe_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// WorkspaceConfig definition local scratch directory
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

// AuthConfig definition token verification
type AuthConfig struct {
	Mode               string        `mapstructure:"mode"` // hmac | jwks | remote | chain
	JWKSURL            string        `mapstructure:"jwks_url"`
	KeyCacheTTL        time.Duration `mapstructure:"key_cache_ttl"`
	MinRefreshInterval time.Duration `mapstructure:"min_refresh_interval"`
	VerifyURL          string        `mapstructure:"verify_url"`
	HMACSecret         string        `mapstructure:"hmac_secret"`
	Issuer             string        `mapstructure:"issuer"`
}

// WorkerConfig definition worker loop setting
type WorkerConfig struct {
	Embedded bool          `mapstructure:"embedded"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	Relay    bool          `mapstructure:"relay"`
}

// GRPCConfig definition worker health endpoint
type GRPCConfig struct {
	Port string `mapstructure:"port"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// ApplyDefaults fill zero values
func (c *Transcoding) ApplyDefaults() {
	if c.Port == "" {
		c.Port = "3002"
	}
	if c.UploadLimitMB == 0 {
		c.UploadLimitMB = 50
	}
	if c.CORSOrigins == "" {
		c.CORSOrigins = "*"
	}
	if len(c.AllowedExts) == 0 {
		c.AllowedExts = []string{".mov", ".mp4", ".mkv", ".avi", ".webm"}
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.WaitTime == 0 {
		c.Queue.WaitTime = 20 * time.Second
	}
	if c.Queue.VisibilityTimeout == 0 {
		c.Queue.VisibilityTimeout = 15 * time.Minute
	}
	if c.Queue.RetryDelay == 0 {
		c.Queue.RetryDelay = 5 * time.Second
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = time.Second
	}
	if c.Queue.MaxReceives == 0 {
		c.Queue.MaxReceives = 5
	}
	if c.SignedURL.TTL == 0 {
		c.SignedURL.TTL = time.Hour
	}
	if c.Metadata.Driver == "" {
		c.Metadata.Driver = "memory"
	}
	if c.DeadLetter.Driver == "" {
		c.DeadLetter.Driver = "memory"
	}
	if c.FFmpeg.Path == "" {
		c.FFmpeg.Path = "ffmpeg"
	}
	if c.FFmpeg.FFprobePath == "" {
		c.FFmpeg.FFprobePath = "ffprobe"
	}
	if c.Workspace.Root == "" {
		c.Workspace.Root = filepath.Join(os.TempDir(), "transcode")
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = "hmac"
	}
	if c.Auth.KeyCacheTTL == 0 {
		c.Auth.KeyCacheTTL = time.Hour
	}
	if c.Auth.MinRefreshInterval == 0 {
		c.Auth.MinRefreshInterval = time.Minute
	}
	if c.Worker.LockTTL == 0 {
		c.Worker.LockTTL = c.Queue.VisibilityTimeout
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "transcode.outcomes"
	}
}

// Validate startup settings, worker must not start without them
func (c *Transcoding) Validate() error {
	var errs []string
	if c.Queue.Name == "" {
		errs = append(errs, "queue.name is required")
	}
	if c.MinIO.BucketName == "" {
		errs = append(errs, "minio.bucket_name is required")
	}
	if c.Metadata.Driver != "memory" && c.Metadata.Table == "" {
		errs = append(errs, "metadata.table is required")
	}
	switch c.Queue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		errs = append(errs, "queue.driver must be memory, redis or rabbitmq")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ArtifactBaseURL public_base_url, else https://<bucket>.<public_host>, else the minio endpoint
func (c *Transcoding) ArtifactBaseURL() string {
	if c.PublicBaseURL != "" {
		return strings.TrimRight(c.PublicBaseURL, "/")
	}
	if c.MinIO.PublicHost != "" {
		return fmt.Sprintf("https://%s.%s", c.MinIO.BucketName, c.MinIO.PublicHost)
	}
	scheme := "http"
	if c.MinIO.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, c.MinIO.Endpoint(), c.MinIO.BucketName)
}

// Endpoint host:port
func (m MinIOConfig) Endpoint() string {
	if m.Port == 0 {
		return m.Host
	}
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// URL amqp url
func (r RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", r.User, r.Password, r.IP, r.Port)
}

// Retry retry count and interval, at least one attempt
func retry(count, intervalSec int) (int, time.Duration) {
	if count <= 0 {
		count = 1
	}
	return count, time.Duration(intervalSec) * time.Second
}

// Retry minio connect retry
func (m MinIOConfig) Retry() (int, time.Duration) { return retry(m.RetryCount, m.RetryInterval) }

// Retry rabbitmq connect retry
func (r RabbitMQConfig) Retry() (int, time.Duration) { return retry(r.RetryCount, r.RetryInterval) }

// Retry kafka connect retry
func (k KafkaConfig) Retry() (int, time.Duration) { return retry(k.RetryCount, k.RetryInterval) }

// Retry database connect retry
func (d DatabaseConfig) Retry() (int, time.Duration) { return retry(d.RetryCount, d.RetryInterval) }

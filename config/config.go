package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Run modes for the main binary.
const (
	ModeAPI    = "api"
	ModeWorker = "worker"
	ModeAll    = "all"
)

// Config holds every setting read from the environment.
// It is loaded once in main and handed to the components that need it.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"8088"`
	Mode     string `envconfig:"MODE" default:"all"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	QueueName     string `envconfig:"QUEUE_NAME" default:"omip:parse"`

	S3URL    string `envconfig:"S3_URL" required:"true"`
	S3Region string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Key    string `envconfig:"S3_KEY" required:"true"`
	S3Secret string `envconfig:"S3_SECRET" required:"true"`
	S3Bucket string `envconfig:"S3_BUCKET" default:"omip"`

	ParserAPIURL  string        `envconfig:"PARSER_API_URL" required:"true"`
	ParserTimeout time.Duration `envconfig:"PARSER_TIMEOUT" default:"120s"`

	// Worker settings. Each worker runs a single job at a time; scale with WORKER_COUNT.
	WorkerCount      int           `envconfig:"WORKER_COUNT" default:"1"`
	WorkerName       string        `envconfig:"WORKER_NAME"`
	JobSoftTimeLimit time.Duration `envconfig:"JOB_SOFT_TIME_LIMIT" default:"9m"`
	JobHardTimeLimit time.Duration `envconfig:"JOB_HARD_TIME_LIMIT" default:"10m"`

	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"60s"`
	RetryMaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"600s"`
	RetryJitter      time.Duration `envconfig:"RETRY_JITTER" default:"30s"`

	ReconcileSchedule  string        `envconfig:"RECONCILE_SCHEDULE" default:"*/5 * * * *"`
	StartupWaitTimeout time.Duration `envconfig:"STARTUP_WAIT_TIMEOUT" default:"60s"`

	// Export retention for cmd/export.
	ExportPrefix string `envconfig:"EXPORT_PREFIX" default:"exports/"`
	KeepExports  int    `envconfig:"KEEP_EXPORTS" default:"4"`
}

// DSN returns the PostgreSQL data source name.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// RunsAPI reports whether the HTTP server should be started.
func (c *Config) RunsAPI() bool { return c.Mode == ModeAPI || c.Mode == ModeAll }

// RunsWorkers reports whether job workers should be started.
func (c *Config) RunsWorkers() bool { return c.Mode == ModeWorker || c.Mode == ModeAll }

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAPI, ModeWorker, ModeAll:
	default:
		return fmt.Errorf("invalid MODE %q", c.Mode)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.WorkerCount)
	}
	if c.JobSoftTimeLimit <= 0 || c.JobHardTimeLimit <= 0 {
		return fmt.Errorf("job time limits must be positive")
	}
	if c.JobSoftTimeLimit > c.JobHardTimeLimit {
		return fmt.Errorf("JOB_SOFT_TIME_LIMIT (%s) exceeds JOB_HARD_TIME_LIMIT (%s)", c.JobSoftTimeLimit, c.JobHardTimeLimit)
	}
	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must not be negative")
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("RETRY_MAX_DELAY must be >= RETRY_BASE_DELAY")
	}
	return nil
}

// Load reads the configuration from the environment, after an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	if c.WorkerName == "" {
		c.WorkerName = defaultWorkerName()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// defaultWorkerName ist pro Prozess eindeutig: Hostname plus PID.
func defaultWorkerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

package main

import (
	"fmt"
	"os"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/db"
	"arenaoj/internal/common/mq"
	"arenaoj/internal/common/storage"
	contestmodel "arenaoj/internal/contest/model"
	contestservice "arenaoj/internal/contest/service"
	"arenaoj/internal/judge/grading"
	"arenaoj/internal/judge/model"
	"arenaoj/internal/judge/queue"
	"arenaoj/internal/judge/sandbox"
	"arenaoj/internal/judge/sandbox/engine"
	"arenaoj/internal/judge/sandbox/profile"
	"arenaoj/internal/judge/service"
	"arenaoj/internal/judge/testcase"
	"arenaoj/pkg/retry"
	"arenaoj/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultMetaTTL         = 30 * time.Second
	defaultFinalTopic      = "judge.status.final"
	defaultMemoryResultTTL = time.Hour

	queueBackendMemory = "memory"
	queueBackendRedis  = "redis"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig holds the outbound event settings. Publishing is off without brokers.
type KafkaConfig struct {
	Producer   mq.KafkaConfig `yaml:",inline"`
	FinalTopic string         `yaml:"finalTopic"`
}

// QueueConfig selects the job store.
type QueueConfig struct {
	Backend string                  `yaml:"backend"`
	Polling service.QueueConfig     `yaml:",inline"`
	Redis   queue.RedisStoreConfig  `yaml:"redis"`
	Memory  queue.MemoryStoreConfig `yaml:"memory"`
}

// SandboxConfig holds the container runtime and executor limits.
type SandboxConfig struct {
	Engine   engine.Config  `yaml:"engine"`
	Executor sandbox.Config `yaml:",inline"`
}

// SubmitConfig bounds accepted submissions.
type SubmitConfig struct {
	MaxCodeBytes int64 `yaml:"maxCodeBytes"`
}

// ProblemConfig controls problem metadata lookups.
type ProblemConfig struct {
	MetaTTL time.Duration `yaml:"metaTTL"`
	// Static problems are served when no database is configured.
	Static []StaticProblem `yaml:"static"`
}

// StaticProblem is a problem defined in the config file.
type StaticProblem struct {
	ID                string `yaml:"id"`
	TimeLimitMs       int64  `yaml:"timeLimitMs"`
	MemoryLimitMB     int64  `yaml:"memoryLimitMB"`
	TestCount         int    `yaml:"testCount"`
	ContestID         string `yaml:"contestId"`
	ValidatorLanguage string `yaml:"validatorLanguage"`
}

// ContestConfig controls leaderboard scoring.
type ContestConfig struct {
	Scoring contestservice.Config `yaml:",inline"`
	MetaTTL time.Duration         `yaml:"metaTTL"`
	Static  []StaticContest       `yaml:"static"`
}

// StaticContest is a contest defined in the config file.
type StaticContest struct {
	ID    string    `yaml:"id"`
	Start time.Time `yaml:"start"`
	End   time.Time `yaml:"end"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server    ServerConfig           `yaml:"server"`
	Logger    logger.Config          `yaml:"logger"`
	Database  db.MySQLConfig         `yaml:"database"`
	Redis     cache.RedisConfig      `yaml:"redis"`
	MinIO     storage.MinIOConfig    `yaml:"minio"`
	Kafka     KafkaConfig            `yaml:"kafka"`
	Queue     QueueConfig            `yaml:"queue"`
	Worker    service.WorkerConfig   `yaml:"worker"`
	Sandbox   SandboxConfig          `yaml:"sandbox"`
	Languages []profile.LanguageSpec `yaml:"languages"`
	TestCase  testcase.Config        `yaml:"testcase"`
	Grading   grading.Config         `yaml:"grading"`
	Submit    SubmitConfig           `yaml:"submit"`
	Problem   ProblemConfig          `yaml:"problem"`
	Contest   ContestConfig          `yaml:"contest"`
	Retry     retry.Policy           `yaml:"retry"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
		return fmt.Errorf("minio endpoint and bucket are required")
	}
	switch c.Queue.Backend {
	case "", queueBackendMemory:
	case queueBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis queue backend")
		}
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}
	if c.Database.DSN == "" && len(c.Problem.Static) == 0 {
		return fmt.Errorf("database dsn or static problems are required")
	}
	for _, ct := range c.Contest.Static {
		if ct.ID == "" || !ct.End.After(ct.Start) {
			return fmt.Errorf("static contest %q needs an id and end after start", ct.ID)
		}
	}
	return nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultHTTPAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = defaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = defaultWriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = defaultIdleTimeout
	}
	if c.Redis.Addr != "" {
		c.Redis.ApplyDefaults()
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = queueBackendMemory
	}
	if c.Queue.Memory.ResultTTL == 0 {
		c.Queue.Memory.ResultTTL = defaultMemoryResultTTL
	}
	if c.Problem.MetaTTL == 0 {
		c.Problem.MetaTTL = defaultMetaTTL
	}
	if c.Contest.MetaTTL == 0 {
		c.Contest.MetaTTL = defaultMetaTTL
	}
	if c.TestCase.Bucket == "" {
		c.TestCase.Bucket = c.MinIO.Bucket
	}
	if c.Kafka.FinalTopic == "" {
		c.Kafka.FinalTopic = defaultFinalTopic
	}
	if len(c.Languages) == 0 {
		c.Languages = profile.DefaultLanguages()
	}
}

// maxCodeBytes never exceeds what the executor accepts, so Submit rejects
// oversize code before any sandbox work.
func (c SubmitConfig) maxCodeBytes(executorLimit int64) int64 {
	if c.MaxCodeBytes <= 0 || c.MaxCodeBytes > executorLimit {
		return executorLimit
	}
	return c.MaxCodeBytes
}

func (p StaticProblem) toMeta() model.ProblemMeta {
	return model.ProblemMeta{
		ProblemID:         p.ID,
		TimeLimitMs:       p.TimeLimitMs,
		MemoryLimitMB:     p.MemoryLimitMB,
		TestCount:         p.TestCount,
		ContestID:         p.ContestID,
		ValidatorLanguage: p.ValidatorLanguage,
	}
}

func (c StaticContest) toModel() contestmodel.Contest {
	return contestmodel.Contest{ID: c.ID, StartTime: c.Start, EndTime: c.End}
}

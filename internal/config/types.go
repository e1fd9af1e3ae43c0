package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server   ServerConfig         `json:"server"`
	Upload   UploadConfig         `json:"upload"`
	Database Database             `json:"database"`
	Redis    RedisConfig          `json:"redis"`
	S3       S3Config             `json:"s3"`
	Optimize OptimizeWorkerConfig `json:"optimize_worker"`
	Lock     LockConfig           `json:"lock"`
	Sentry   SentryConfig         `json:"sentry"`
}

type ServerConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type UploadConfig struct {
	MaxRequestBodyMB     int64 `json:"max_request_body"`
	MaxMultipartMemoryMB int64 `json:"max_multipart_memory"`
}

type Database struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	Password            string        `json:"password"`
	DatabaseID          int           `json:"database_id"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	DialTimeout         time.Duration `json:"dial_timeout"`
	ReadTimeout         time.Duration `json:"read_timeout"`
	WriteTimeout        time.Duration `json:"write_timeout"`
	PoolSize            int           `json:"pool_size"`
	Nodes               []RedisNode   `json:"nodes"`
}

type RedisNode struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (n RedisNode) Addr() string { return fmt.Sprintf("%s:%d", n.Host, n.Port) }

type S3Config struct {
	BucketName  string `json:"bucket_name"`
	Region      string `json:"region"`
	AccessKeyID string `json:"access_key_id"`
	SecretKey   string `json:"secret_key"`
	Endpoint    string `json:"endpoint"`
}

type OptimizeWorkerConfig struct {
	Stream           string        `json:"stream"`             // redis stream name
	Group            string        `json:"group"`              // consumer group name
	Consumer         string        `json:"consumer"`           // consumer name within the group
	Workers          int           `json:"workers"`            // number of concurrent goroutines
	MaxAttempts      int           `json:"max_attempts"`       // max retries before DLQ
	MaxLen           int64         `json:"max_len"`            // stream max length before trim
	BackoffBase      time.Duration `json:"backoff_base"`       // base retry delay
	BlockTimeout     time.Duration `json:"block_timeout"`      // XREADGROUP block timeout
	DeadLetterStream string        `json:"dead_letter_stream"` // defaults to stream + ":dlq"
}

// DLQ returns the dead-letter stream name.
func (c OptimizeWorkerConfig) DLQ() string {
	if c.DeadLetterStream != "" {
		return c.DeadLetterStream
	}
	return c.Stream + ":dlq"
}

type LockConfig struct {
	TTL        time.Duration `json:"ttl"`         // lock expiry, guards against dead holders
	RetryDelay time.Duration `json:"retry_delay"` // pause between acquire attempts
	WaitFor    time.Duration `json:"wait_for"`    // total acquire budget
}

type SentryConfig struct {
	SentryDSN   string `json:"sentry_dsn"`
	Environment string `json:"environment"`
}

package config

import (
	"encoding/json"
	"os"
	"time"
)

// Create new config instance with defaults that keep a dev setup working
// from an almost empty file.
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Upload: UploadConfig{
			MaxRequestBodyMB:     32,
			MaxMultipartMemoryMB: 16,
		},
		Redis: RedisConfig{
			HealthCheckInterval: 30,
			DialTimeout:         5,
			ReadTimeout:         3,
			WriteTimeout:        3,
			PoolSize:            20,
		},
		Optimize: OptimizeWorkerConfig{
			Stream:       "shop:images:optimize",
			Group:        "optimize-workers",
			Consumer:     "worker-1",
			Workers:      2,
			MaxAttempts:  5,
			MaxLen:       10000,
			BackoffBase:  500 * time.Millisecond,
			BlockTimeout: 5 * time.Second,
		},
		Lock: LockConfig{
			TTL:        5 * time.Second,
			RetryDelay: 50 * time.Millisecond,
			WaitFor:    5 * time.Second,
		},
	}
}

// Load configuration file in json format
func (c *Config) Read(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, c)
}

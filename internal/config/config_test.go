package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func TestReadOverridesDefaults(t *testing.T) {
	cfg := NewConfig()
	path := writeTempConfig(t, `{
		"server": {"port": 8081},
		"database": {"dsn": "postgres://localhost/shop"},
		"optimize_worker": {"stream": "custom:stream", "max_attempts": 7},
		"s3": {"bucket_name": "shop-images"}
	}`)

	require.NoError(t, cfg.Read(path))

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/shop", cfg.Database.DSN)
	assert.Equal(t, "custom:stream", cfg.Optimize.Stream)
	assert.Equal(t, 7, cfg.Optimize.MaxAttempts)
	assert.Equal(t, "shop-images", cfg.S3.BucketName)
}

func TestDefaultsSurviveEmptyFile(t *testing.T) {
	cfg := NewConfig()
	path := writeTempConfig(t, `{}`)

	require.NoError(t, cfg.Read(path))

	assert.Equal(t, "shop:images:optimize", cfg.Optimize.Stream)
	assert.Equal(t, "optimize-workers", cfg.Optimize.Group)
	assert.Equal(t, 5, cfg.Optimize.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Lock.TTL)
	assert.Equal(t, 50*time.Millisecond, cfg.Lock.RetryDelay)
}

func TestReadMissingFile(t *testing.T) {
	cfg := NewConfig()
	assert.Error(t, cfg.Read(filepath.Join(t.TempDir(), "nope.json")))
}

func TestDLQDefaultsToStreamSuffix(t *testing.T) {
	c := OptimizeWorkerConfig{Stream: "s"}
	assert.Equal(t, "s:dlq", c.DLQ())

	c.DeadLetterStream = "elsewhere"
	assert.Equal(t, "elsewhere", c.DLQ())
}

func TestRedisNodeAddr(t *testing.T) {
	n := RedisNode{Host: "10.0.0.1", Port: 6379}
	assert.Equal(t, "10.0.0.1:6379", n.Addr())
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 3004, cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "db/pg", cfg.DatabaseMigrationFolderPath)
	assert.Equal(t, 0.85, cfg.SimilarityThreshold)
	assert.Equal(t, 5000, cfg.ResolveCandidateLimit)
	assert.Equal(t, 30*time.Second, cfg.MergeLockTTL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, 30*time.Second, cfg.BackendCooldown)
	assert.Equal(t, 10000, cfg.VectorCacheSize)
	assert.Empty(t, cfg.GraphDBName)
}

func TestLoad_EnvFileAndEnvironment(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("SIMILARITY_THRESHOLD=0.9\nSCAN_PARTITION_CEILING=50\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("SIMILARITY_THRESHOLD") })

	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("MERGE_LOCK_TTL", "1m")
	// godotenv does not override variables that are already set
	t.Setenv("SCAN_PARTITION_CEILING", "75")

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.SimilarityThreshold)
	assert.Equal(t, 75, cfg.PartitionCeiling)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.Minute, cfg.MergeLockTTL)
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DatabaseHost:     "db",
		DatabasePort:     "5432",
		DatabaseUserName: "sorrel",
		DatabasePassword: "secret",
		DatabaseName:     "sorrel",
		DatabaseSSLMode:  "disable",
	}
	assert.Equal(t, "host=db port=5432 user=sorrel password=secret dbname=sorrel sslmode=disable", cfg.DatabaseDSN())
}

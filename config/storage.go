package config

import (
	"fmt"
	"strings"
	"time"
)

// StorageMode selects the session storage adapter.
type StorageMode string

const (
	// StorageModeMemory keeps the session in process memory.
	StorageModeMemory StorageMode = "memory"
	// StorageModeFile keeps the session in a per-session file.
	StorageModeFile StorageMode = "file"
	// StorageModeRedis keeps the session in a Redis hash.
	StorageModeRedis StorageMode = "redis"
)

// UnmarshalText implements encoding.TextUnmarshaler for StorageMode.
func (m *StorageMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "memory", "file", "redis":
		*m = StorageMode(v)
		return nil
	default:
		return fmt.Errorf("invalid StorageMode: %q (valid options: memory, file, redis)", v)
	}
}

const defaultSessionTTL = 12 * time.Hour

// StorageConfig contains session storage configuration.
type StorageConfig struct {
	Mode StorageMode `env:"STORAGE_MODE" envDefault:"memory"`
	// Dir holds per-session files in file mode.
	Dir string `env:"STORAGE_DIR" envDefault:".univer"`
	// SessionID scopes file and Redis storage; generated when empty.
	SessionID  string        `env:"STORAGE_SESSION_ID"`
	SessionTTL time.Duration `env:"STORAGE_SESSION_TTL" envDefault:"12h"`
	KeyPrefix  string        `env:"STORAGE_KEY_PREFIX"  envDefault:"univer:session:"`
}

// Sanitize applies guardrails to storage values.
func (c *StorageConfig) Sanitize() {
	if c.Mode == "" {
		c.Mode = StorageModeMemory
	}
	c.Dir = strings.TrimSpace(c.Dir)
	if c.Dir == "" {
		c.Dir = ".univer"
	}
	c.SessionID = strings.TrimSpace(c.SessionID)
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}

// Sanitize trims node lists and drops empty entries.
func (c *RedisConfig) Sanitize() {
	c.URI = strings.TrimSpace(c.URI)
	c.SentinelNodes = compact(c.SentinelNodes)
	c.ClusterNodes = compact(c.ClusterNodes)
	if c.DB < 0 {
		c.DB = 0
	}
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

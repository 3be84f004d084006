package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logger"
	"gopkg.in/yaml.v3"
)

const (
	ContextModeAll      = "all"
	ContextModeRelevant = "relevant"

	IndexTypeFile     = "file"
	IndexTypePGVector = "pgvector"
)

type Config struct {
	Port             int              `json:"port"`
	JWTSecret        string           `json:"jwt_secret"`
	JWTTTLMinutes    int              `json:"jwt_ttl_minutes"`
	AdminKeyHash     string           `json:"admin_key_hash"`
	UserKeyHash      string           `json:"user_key_hash"`
	CORSAllowlist    []string         `json:"cors_allowlist"`
	QueryRateLimitMs int              `json:"query_rate_limit_ms"`
	MaxUploadBytes   int64            `json:"max_upload_bytes"`
	LogConfig        logger.LogConfig `json:"log_config"`
	Chunk            ChunkConfig      `json:"chunk"`
	Retrieval        RetrievalConfig  `json:"retrieval"`
	Index            IndexConfig      `json:"index"`
	AI               AIConfig         `json:"ai"`
	Cache            CacheConfig      `json:"cache"`
	FileStore        FileStoreConfig  `json:"file_store"`
	Inbox            InboxConfig      `json:"inbox"`
}

type ChunkConfig struct {
	Size    int `json:"size"`
	Overlap int `json:"overlap"`
}

type RetrievalConfig struct {
	TopK          int      `json:"top_k"`
	Threshold     *float64 `json:"threshold"`
	ContextMode   string   `json:"context_mode"`
	MaxQueryChars int      `json:"max_query_chars"`
}

type IndexConfig struct {
	Type     string         `json:"type"`
	Path     string         `json:"path"`
	Metric   string         `json:"metric"`
	Database DatabaseConfig `json:"database"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type AIConfig struct {
	Providers       []AIProviderConfig `json:"providers"`
	Embedder        AIModelConfig      `json:"embedder"`
	Generators      []AIModelConfig    `json:"generators"`
	BatchSize       int                `json:"batch_size"`
	EmbedTimeout    int                `json:"embed_timeout"`
	GenerateTimeout int                `json:"generate_timeout"`
	BreakerFailures uint32             `json:"breaker_failures"`
	BreakerCooldown int                `json:"breaker_cooldown"`
}

type AIProviderConfig struct {
	Name string      `json:"name"`
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type AIModelConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type CacheConfig struct {
	LRUSize int         `json:"lru_size"`
	LRUTTL  int         `json:"lru_ttl"`
	Redis   RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	TTL      int    `json:"ttl"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type InboxConfig struct {
	Cron string `json:"cron"`
}

// Load reads a JSON config, or YAML when the file ends in .yaml/.yml. YAML
// is decoded through the same json tags.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var generic map[string]interface{}
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if raw, err = json.Marshal(generic); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.JWTTTLMinutes == 0 {
		c.JWTTTLMinutes = 30
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 10 * 1024 * 1024
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.Chunk.Size == 0 {
		c.Chunk.Size = 500
		if c.Chunk.Overlap == 0 {
			c.Chunk.Overlap = 50
		}
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("chunk.overlap must be in [0, chunk.size)")
	}
	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 5
	}
	if c.Retrieval.Threshold == nil {
		th := 0.20
		c.Retrieval.Threshold = &th
	}
	if c.Retrieval.MaxQueryChars == 0 {
		c.Retrieval.MaxQueryChars = 2000
	}
	switch c.Retrieval.ContextMode {
	case "":
		c.Retrieval.ContextMode = ContextModeAll
	case ContextModeAll, ContextModeRelevant:
	default:
		return fmt.Errorf("retrieval.context_mode must be all or relevant")
	}

	if c.Index.Type == "" {
		c.Index.Type = IndexTypeFile
	}
	if c.Index.Metric == "" {
		c.Index.Metric = "cosine"
	}
	switch c.Index.Type {
	case IndexTypeFile:
		if c.Index.Path == "" {
			return fmt.Errorf("index.path is required for file index")
		}
	case IndexTypePGVector:
		if c.Index.Database.DSN == "" && c.Index.Database.Host == "" {
			return fmt.Errorf("index.database dsn or host is required for pgvector index")
		}
		if c.Index.Database.Port == 0 {
			c.Index.Database.Port = 5432
		}
	default:
		return fmt.Errorf("index.type must be file or pgvector")
	}

	if err := c.AI.validate(); err != nil {
		return err
	}
	if c.Cache.LRUSize > 0 && c.Cache.LRUTTL == 0 {
		c.Cache.LRUTTL = 3600
	}
	if c.Cache.Redis.Addr != "" && c.Cache.Redis.TTL == 0 {
		c.Cache.Redis.TTL = 7 * 24 * 3600
	}
	if c.FileStore.Type == "" {
		c.FileStore.Type = "local"
	}
	return nil
}

func (a *AIConfig) validate() error {
	names := make(map[string]struct{}, len(a.Providers))
	for i, p := range a.Providers {
		if p.Name == "" || p.Type == "" {
			return fmt.Errorf("ai.providers[%d] name and type are required", i)
		}
		names[p.Name] = struct{}{}
	}
	if a.Embedder.Provider == "" || a.Embedder.Model == "" {
		return fmt.Errorf("ai.embedder provider and model are required")
	}
	if _, ok := names[a.Embedder.Provider]; !ok {
		return fmt.Errorf("ai.embedder references unknown provider %q", a.Embedder.Provider)
	}
	if len(a.Generators) == 0 {
		return fmt.Errorf("ai.generators requires at least one entry")
	}
	for i, g := range a.Generators {
		if _, ok := names[g.Provider]; !ok || g.Model == "" {
			return fmt.Errorf("ai.generators[%d] needs a known provider and a model", i)
		}
	}
	if a.BatchSize == 0 {
		a.BatchSize = 64
	}
	if a.EmbedTimeout == 0 {
		a.EmbedTimeout = 30
	}
	if a.GenerateTimeout == 0 {
		a.GenerateTimeout = 60
	}
	if a.BreakerFailures == 0 {
		a.BreakerFailures = 5
	}
	if a.BreakerCooldown == 0 {
		a.BreakerCooldown = 30
	}
	return nil
}

// ValidateServer checks the settings only the HTTP server needs.
func (c *Config) ValidateServer() error {
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if c.AdminKeyHash == "" {
		return fmt.Errorf("admin_key_hash is required")
	}
	return nil
}

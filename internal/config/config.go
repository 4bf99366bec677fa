package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Vector     VectorConfig     `mapstructure:"vector"`
	Storage    StorageConfig    `mapstructure:"storage"`
	VLM        VLMConfig        `mapstructure:"vlm"`
	Ranker     RankerConfig     `mapstructure:"ranker"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Annotation AnnotationConfig `mapstructure:"annotation"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Content    ContentConfig    `mapstructure:"content"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Export     ExportConfig     `mapstructure:"export"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`   // sqlite file path
	URL             string        `mapstructure:"url"`    // postgres connection URL
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	return c.Path
}

type VectorConfig struct {
	Backend    string       `mapstructure:"backend"` // qdrant or pgvector
	Collection string       `mapstructure:"collection"`
	Qdrant     QdrantConfig `mapstructure:"qdrant"`
}

type QdrantConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
	UseTLS bool   `mapstructure:"use_tls"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"` // r2, s3, s3compatible; detected from endpoint when empty
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type VLMConfig struct {
	Model     string        `mapstructure:"model"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type RankerConfig struct {
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AnnotationConfig struct {
	BatchSize         int           `mapstructure:"batch_size"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	MaxRounds         int           `mapstructure:"max_rounds"`
	Concurrency       int           `mapstructure:"concurrency"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
}

type RetrievalConfig struct {
	K              int           `mapstructure:"k"`
	FinalCount     int           `mapstructure:"final_count"`
	QueryCacheSize int           `mapstructure:"query_cache_size"`
	QueryCacheTTL  time.Duration `mapstructure:"query_cache_ttl"`
}

type ContentConfig struct {
	Dir             string        `mapstructure:"dir"`
	MinWidth        int           `mapstructure:"min_width"`
	MinHeight       int           `mapstructure:"min_height"`
	JPEGQuality     int           `mapstructure:"jpeg_quality"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	Concurrency     int           `mapstructure:"concurrency"`

	// Shared by the fetch and publish stages
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
}

type IngestConfig struct {
	BatchSize           int  `mapstructure:"batch_size"`
	DedupIncludeDeleted bool `mapstructure:"dedup_include_deleted"`
}

type SourcesConfig struct {
	StagingPath   string `mapstructure:"staging_path"`
	BoardListPath string `mapstructure:"boardlist_path"`
}

type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load reads configuration from file, environment and defaults.
// Parameters:
//   - configPath: explicit config file path; empty searches ./configs and the working directory.
// Returns:
//   - *Config: merged configuration.
//   - error: non-nil if an existing file cannot be read or decoded.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Sensitive values come from well-known variable names
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("vector.qdrant.host", "QDRANT_HOST")
	v.BindEnv("vector.qdrant.port", "QDRANT_PORT")
	v.BindEnv("vector.qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.public_url", "S3_PUBLIC_URL")
	v.BindEnv("vlm.api_key", "OPENAI_API_KEY")
	v.BindEnv("vlm.base_url", "OPENAI_BASE_URL")
	v.BindEnv("vlm.model", "VLM_MODEL")
	v.BindEnv("ranker.api_key", "OPENAI_API_KEY")
	v.BindEnv("ranker.base_url", "OPENAI_BASE_URL")
	v.BindEnv("ranker.model", "RANKER_MODEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Embedding.ResolveEnvVars()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/images.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("vector.backend", "qdrant")
	v.SetDefault("vector.collection", "images")
	v.SetDefault("vector.qdrant.host", "localhost")
	v.SetDefault("vector.qdrant.port", 6334)

	v.SetDefault("storage.bucket", "images")
	v.SetDefault("storage.use_ssl", true)

	v.SetDefault("vlm.model", "gpt-4o-mini")
	v.SetDefault("vlm.base_url", "https://api.openai.com/v1")
	v.SetDefault("vlm.max_tokens", 600)
	v.SetDefault("vlm.timeout", 60*time.Second)

	v.SetDefault("ranker.model", "gpt-4o-mini")
	v.SetDefault("ranker.base_url", "https://api.openai.com/v1")
	v.SetDefault("ranker.timeout", 30*time.Second)

	v.SetDefault("embedding.provider", EmbeddingProviderJina)
	v.SetDefault("embedding.model", "jina-embeddings-v3")
	v.SetDefault("embedding.api_key_env", "JINA_API_KEY")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.batch_size", 100)
	v.SetDefault("embedding.commit_size", 500)
	v.SetDefault("embedding.max_attempts", 3)
	v.SetDefault("embedding.retry_delay", 3*time.Second)
	v.SetDefault("embedding.timeout", 30*time.Second)

	v.SetDefault("annotation.batch_size", 100)
	v.SetDefault("annotation.max_attempts", 3)
	v.SetDefault("annotation.max_rounds", 2)
	v.SetDefault("annotation.concurrency", 4)
	v.SetDefault("annotation.requests_per_second", 2.0)
	v.SetDefault("annotation.backoff_base", time.Second)

	v.SetDefault("retrieval.k", 10)
	v.SetDefault("retrieval.final_count", 5)
	v.SetDefault("retrieval.query_cache_size", 256)
	v.SetDefault("retrieval.query_cache_ttl", 10*time.Minute)

	v.SetDefault("content.dir", "./data/images")
	v.SetDefault("content.min_width", 200)
	v.SetDefault("content.min_height", 200)
	v.SetDefault("content.jpeg_quality", 90)
	v.SetDefault("content.download_timeout", 30*time.Second)
	v.SetDefault("content.concurrency", 4)
	v.SetDefault("content.requests_per_second", 5.0)
	v.SetDefault("content.max_attempts", 3)
	v.SetDefault("content.backoff_base", time.Second)

	v.SetDefault("ingest.batch_size", 200)
	v.SetDefault("ingest.dedup_include_deleted", true)

	v.SetDefault("sources.staging_path", "./data/staging/manifest.jsonl")
	v.SetDefault("sources.boardlist_path", "./data/boards.csv")

	v.SetDefault("export.dir", "./data/export")
}

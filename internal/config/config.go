// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Extractor   ExtractorConfig   `mapstructure:"extractor"`
	Chunker     ChunkerConfig     `mapstructure:"chunker"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	LLM         LLMConfig         `mapstructure:"llm"`
	RAG         RAGConfig         `mapstructure:"rag"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// MaxUploadMB 限制单个上传文件的大小。
	MaxUploadMB int64 `mapstructure:"max_upload_mb"`
	// SeedDir 下的文件在启动时导入，已导入的内容会跳过。
	SeedDir string `mapstructure:"seed_dir"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	Driver string      `mapstructure:"driver"` // mysql | sqlite
	DSN    string      `mapstructure:"dsn"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空时不启用 Redis。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig 存储原始文档文件的存放位置。
type StorageConfig struct {
	Backend  string      `mapstructure:"backend"` // local | minio
	LocalDir string      `mapstructure:"local_dir"`
	MinIO    MinIOConfig `mapstructure:"minio"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// KafkaConfig 存储 Kafka 相关的配置。Enabled 为 false 时上传后同步入库。
type KafkaConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// ExtractorConfig 控制文本提取。
type ExtractorConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// ChunkerConfig 控制文本分块的窗口大小（单位：词）。
type ChunkerConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
	Overlap   int `mapstructure:"overlap"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	Provider   string          `mapstructure:"provider"` // openai | hash
	APIKey     string          `mapstructure:"api_key"`
	BaseURL    string          `mapstructure:"base_url"`
	Model      string          `mapstructure:"model"`
	Dimensions int             `mapstructure:"dimensions"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig 限制对外部模型接口的请求速率，RequestsPerSecond 为 0 时不限制。
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// VectorStoreConfig 选择向量索引的后端。
type VectorStoreConfig struct {
	Backend       string              `mapstructure:"backend"` // memory | elasticsearch | pgvector
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Pgvector      PgvectorConfig      `mapstructure:"pgvector"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// PgvectorConfig 存储 PostgreSQL + pgvector 的配置。
type PgvectorConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Provider       string              `mapstructure:"provider"` // openai | gemini
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Model          string              `mapstructure:"model"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
	RateLimit      RateLimitConfig     `mapstructure:"rate_limit"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// RAGConfig 控制检索与提示词组装。
type RAGConfig struct {
	TopK            int    `mapstructure:"top_k"`
	Preamble        string `mapstructure:"preamble"`
	NoDocumentsText string `mapstructure:"no_documents_text"`
}

// ErrInvalidConfig 表示配置内容不合法。
var ErrInvalidConfig = errors.New("invalid configuration")

// Default 返回一份可直接运行的开发环境配置：sqlite + 本地文件 + 内存索引 + hash 向量。
func Default() Config {
	return Config{
		Server:    ServerConfig{Port: "8081", Mode: "debug", MaxUploadMB: 50, SeedDir: "initfile"},
		Log:       LogConfig{Level: "info", Format: "console"},
		Database:  DatabaseConfig{Driver: "sqlite", DSN: "data/docchat.db"},
		Storage:   StorageConfig{Backend: "local", LocalDir: "data/documents"},
		Kafka:     KafkaConfig{Topic: "document-ingest", GroupID: "docchat-go-consumer", MaxAttempts: 3},
		Extractor: ExtractorConfig{TimeoutSeconds: 120},
		Chunker:   ChunkerConfig{ChunkSize: 500, Overlap: 50},
		Embedding: EmbeddingConfig{Provider: "hash", Model: "hash-384", Dimensions: 384},
		VectorStore: VectorStoreConfig{
			Backend:       "memory",
			Elasticsearch: ElasticsearchConfig{IndexName: "documents"},
			Pgvector:      PgvectorConfig{Table: "document_chunks"},
		},
		LLM: LLMConfig{
			Provider:       "gemini",
			BaseURL:        "https://generativelanguage.googleapis.com/v1beta",
			Model:          "gemini-flash-latest",
			TimeoutSeconds: 60,
		},
		RAG: RAGConfig{TopK: 3},
	}
}

// Validate 在启动阶段校验配置，分块参数错误在这里暴露而不是在每次调用时。
func (c Config) Validate() error {
	if c.Chunker.ChunkSize <= 0 || c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("%w: chunker.chunk_size=%d chunker.overlap=%d", ErrInvalidConfig, c.Chunker.ChunkSize, c.Chunker.Overlap)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("%w: embedding.dimensions must be positive", ErrInvalidConfig)
	}
	switch c.VectorStore.Backend {
	case "memory", "elasticsearch", "pgvector":
	default:
		return fmt.Errorf("%w: unknown vector_store.backend %q", ErrInvalidConfig, c.VectorStore.Backend)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("%w: rag.top_k must be positive", ErrInvalidConfig)
	}
	return nil
}

// Timeout 返回提取超时时间，0 表示不限制。
func (c ExtractorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout 返回单次生成调用的超时时间，0 表示不限制。
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load 读取指定路径的 YAML 文件，缺省项使用 Default 的值，并允许 DOCCHAT_* 环境变量覆盖。
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("docchat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	AI       AIConfig       `mapstructure:"ai"`
	RAG      RagConfig      `mapstructure:"rag"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	MaxUploadMB  int    `mapstructure:"max_upload_mb"` // 上传文件大小上限（MB）

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig 调用模型的接口按客户端限流，requests_per_second 为 0 时关闭
type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // sqlite, postgres
	Path            string `mapstructure:"path"`   // sqlite 数据库文件
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
	LogLevel        string `mapstructure:"log_level"`         // SQL 日志级别: silent, error, warn, info
	SlowThresholdMs int    `mapstructure:"slow_threshold_ms"` // 慢查询阈值（毫秒），0 表示不记录慢查询
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AIConfig 模型服务配置
type AIConfig struct {
	HuggingFaceAPIKey string           `mapstructure:"huggingface_api_key"`
	Embedding         EmbeddingConfig  `mapstructure:"embedding"`
	Generation        GenerationConfig `mapstructure:"generation"`
	OpenAI            OpenAIConfig     `mapstructure:"openai"`
}

// EmbeddingConfig 向量化配置
type EmbeddingConfig struct {
	Provider       string `mapstructure:"provider"` // hf, openai
	Model          string `mapstructure:"model"`
	Dimension      int    `mapstructure:"dimension"`
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// GenerationConfig 文本生成配置
type GenerationConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	TopP           float64 `mapstructure:"top_p"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// OpenAIConfig OpenAI 兼容向量化服务配置
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// RagConfig RAG 相关配置
type RagConfig struct {
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	PersistDir   string `mapstructure:"persist_dir"`
	Collection   string `mapstructure:"collection"`
	TopK         int    `mapstructure:"top_k"`
	UploadDir    string `mapstructure:"upload_dir"`
}


// setDefaults 注册默认值，缺少配置文件时服务仍可启动
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 60)
	v.SetDefault("server.write_timeout", 300)
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("server.rate_limit.requests_per_second", 5)
	v.SetDefault("server.rate_limit.requests_per_minute", 120)
	v.SetDefault("server.rate_limit.burst", 10)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "chat_history.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.slow_threshold_ms", 200)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("ai.huggingface_api_key", "")
	v.SetDefault("ai.embedding.provider", "hf")
	v.SetDefault("ai.embedding.model", "sentence-transformers/all-MiniLM-L6-v2")
	v.SetDefault("ai.embedding.dimension", 384)
	v.SetDefault("ai.embedding.endpoint", "https://router.huggingface.co/hf-inference/models")
	v.SetDefault("ai.embedding.timeout_seconds", 60)
	v.SetDefault("ai.generation.base_url", "https://router.huggingface.co/v1")
	v.SetDefault("ai.generation.model", "meta-llama/Meta-Llama-3-8B-Instruct")
	v.SetDefault("ai.generation.max_tokens", 500)
	v.SetDefault("ai.generation.temperature", 0.7)
	v.SetDefault("ai.generation.top_p", 0.95)
	v.SetDefault("ai.generation.timeout_seconds", 120)
	v.SetDefault("ai.openai.api_key", "")
	v.SetDefault("ai.openai.base_url", "")

	v.SetDefault("rag.chunk_size", 1000)
	v.SetDefault("rag.chunk_overlap", 200)
	v.SetDefault("rag.persist_dir", "./vector_db")
	v.SetDefault("rag.collection", "documents")
	v.SetDefault("rag.top_k", 3)
	v.SetDefault("rag.upload_dir", "uploads")
}

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// 设置配置文件名和路径
	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP") // 环境变量前缀：APP_
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：APP_RAG_CHUNK_SIZE

	// 读取配置文件，找不到文件时使用默认值
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 兼容旧的 HUGGINGFACE_API_KEY 环境变量
	if cfg.AI.HuggingFaceAPIKey == "" {
		cfg.AI.HuggingFaceAPIKey = os.Getenv("HUGGINGFACE_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("不支持的数据库驱动: %s", c.Database.Driver)
	}
	switch c.Database.LogLevel {
	case "", "silent", "error", "warn", "info":
	default:
		return fmt.Errorf("不支持的 SQL 日志级别: %s", c.Database.LogLevel)
	}
	if c.Database.SlowThresholdMs < 0 {
		return fmt.Errorf("slow_threshold_ms 不能为负数")
	}
	switch c.AI.Embedding.Provider {
	case "hf", "openai":
	default:
		return fmt.Errorf("不支持的向量化提供者: %s", c.AI.Embedding.Provider)
	}
	if c.AI.Embedding.Dimension <= 0 {
		return fmt.Errorf("向量维度必须大于 0")
	}
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size 必须大于 0")
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("chunk_overlap 必须在 [0, chunk_size) 范围内")
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 || c.Server.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("限流参数不能为负数")
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("top_k 必须大于 0")
	}
	return nil
}

// GetDSN 获取 PostgreSQL 连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

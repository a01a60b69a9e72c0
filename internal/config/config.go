// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Sanitizer     SanitizerConfig     `mapstructure:"sanitizer"`
	ChatStore     ChatStoreConfig     `mapstructure:"chat_store"`
	Templates     TemplatesConfig     `mapstructure:"templates"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// StorageConfig 选择对象存储实现："minio" 或 "local"。
type StorageConfig struct {
	Driver    string `mapstructure:"driver"`
	LocalRoot string `mapstructure:"local_root"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	Dimensions    int           `mapstructure:"dimensions"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxInputChars int           `mapstructure:"max_input_chars"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey            string              `mapstructure:"api_key"`
	BaseURL           string              `mapstructure:"base_url"`
	Model             string              `mapstructure:"model"`
	RequirementsModel string              `mapstructure:"requirements_model"`
	PrototypeModel    string              `mapstructure:"prototype_model"`
	Timeout           time.Duration       `mapstructure:"timeout"`
	Generation        LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// RetrievalConfig 配置模板检索。
type RetrievalConfig struct {
	TopK        int           `mapstructure:"top_k"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Concurrency int           `mapstructure:"concurrency"`
}

// SanitizerConfig 配置关键词词表。
type SanitizerConfig struct {
	VocabularyPath string `mapstructure:"vocabulary_path"`
}

// ChatStoreConfig 选择聊天存储实现："memory" 或 "redis"。
type ChatStoreConfig struct {
	Driver         string        `mapstructure:"driver"`
	MemoryCapacity int           `mapstructure:"memory_capacity"`
	TTL            time.Duration `mapstructure:"ttl"`
}

// TemplatesConfig 配置模板种子目录。
type TemplatesConfig struct {
	SeedDir string `mapstructure:"seed_dir"`
	Watch   bool   `mapstructure:"watch"`
}

// RateLimitConfig 配置生成接口的每用户限流。
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

func setDefaults(v *viper.Viper) {
	// 密钥类配置通常只通过环境变量提供，需要注册默认值才能被 Unmarshal 识别
	v.SetDefault("jwt.secret", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.group_id", "protoforge-template-indexer")
	v.SetDefault("elasticsearch.index_name", "prototype_templates")
	v.SetDefault("storage.driver", "minio")
	v.SetDefault("storage.local_root", "./data/objects")
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.max_input_chars", 8000)
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("retrieval.timeout", 10*time.Second)
	v.SetDefault("retrieval.concurrency", 4)
	v.SetDefault("sanitizer.vocabulary_path", "./configs/keywords.yaml")
	v.SetDefault("chat_store.driver", "redis")
	v.SetDefault("chat_store.memory_capacity", 10000)
	v.SetDefault("templates.seed_dir", "./templates")
	v.SetDefault("rate_limit.requests_per_minute", 6)
	v.SetDefault("rate_limit.burst", 2)
}

// Load 从指定路径读取 YAML 配置，环境变量 PROTOFORGE_* 可覆盖其中的键。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PROTOFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 加载配置到 Conf，失败时 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}

// StageModels 返回两个阶段使用的模型名，未配置时回退到默认模型。
func (c LLMConfig) StageModels() (requirements, prototype string) {
	requirements, prototype = c.RequirementsModel, c.PrototypeModel
	if requirements == "" {
		requirements = c.Model
	}
	if prototype == "" {
		prototype = c.Model
	}
	return requirements, prototype
}

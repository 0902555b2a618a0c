// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 RECETARIO_MINIO_ACCESS_KEY_ID。
const EnvPrefix = "RECETARIO"

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
// 进程启动时构造一次，以指针形式传递给各组件的构造函数。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	LLM           LLMConfig           `mapstructure:"llm"`
	ImageGen      ImageGenConfig      `mapstructure:"image_gen"`
	ImageSearch   ImageSearchConfig   `mapstructure:"image_search"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Recipes       RecipesConfig       `mapstructure:"recipes"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Mode           string   `mapstructure:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
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

// JWTConfig 存储聊天会话令牌的配置。
type JWTConfig struct {
	Secret             string `mapstructure:"secret"`
	SessionExpireHours int    `mapstructure:"session_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。Enabled 为 false 时不发布食谱事件。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
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
	// PublicBaseURL 为空时根据 Endpoint 与 UseSSL 拼出公开访问地址。
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置助手人设与失败时的提示语。
type LLMPromptConfig struct {
	Persona     string `mapstructure:"persona"`
	FailureText string `mapstructure:"failure_text"`
}

// ImageGenConfig 存储配图生成服务的配置。APIKey 为空时沿用 LLM 的 APIKey。
type ImageGenConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Size    string        `mapstructure:"size"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ImageSearchConfig 存储按关键词查找图库图片的兜底服务配置。
type ImageSearchConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Width   int           `mapstructure:"width"`
	Height  int           `mapstructure:"height"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ChatConfig 存储对话会话相关的配置。
type ChatConfig struct {
	HistoryTTL       time.Duration `mapstructure:"history_ttl"`
	MaxMessages      int           `mapstructure:"max_messages"`
	PromptsPerMinute int           `mapstructure:"prompts_per_minute"`
	PromptBurst      int           `mapstructure:"prompt_burst"`
}

// RecipesConfig 存储食谱编排相关的配置。
type RecipesConfig struct {
	SeedOnEmpty   bool `mapstructure:"seed_on_empty"`
	MaxImageWidth int  `mapstructure:"max_image_width"`
	MaxUploadMB   int  `mapstructure:"max_upload_mb"`
}

// Load 读取 .env（若存在）与指定的 YAML 文件，叠加环境变量后解析为 Config 并校验必填项。
func Load(configPath string) (*Config, error) {
	// .env 仅用于本地开发，不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	// AutomaticEnv 只对已知键生效，必填项显式绑定以支持纯环境变量部署
	for _, key := range requiredKeys {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if cfg.ImageGen.APIKey == "" {
		cfg.ImageGen.APIKey = cfg.LLM.APIKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad 与 Load 相同，但在失败时 panic，供 main 使用。
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	return cfg
}

var requiredKeys = []string{
	"database.mysql.dsn",
	"minio.endpoint",
	"minio.access_key_id",
	"minio.secret_access_key",
	"llm.api_key",
	"jwt.secret",
}

// Validate 检查启动所必需的配置项，缺失任何一项都视为致命错误。
func (c *Config) Validate() error {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("database.mysql.dsn", c.Database.MySQL.DSN)
	check("minio.endpoint", c.MinIO.Endpoint)
	check("minio.access_key_id", c.MinIO.AccessKeyID)
	check("minio.secret_access_key", c.MinIO.SecretAccessKey)
	check("llm.api_key", c.LLM.APIKey)
	check("jwt.secret", c.JWT.Secret)
	if c.Kafka.Enabled {
		check("kafka.brokers", c.Kafka.Brokers)
	}
	if c.Elasticsearch.Enabled {
		check("elasticsearch.addresses", c.Elasticsearch.Addresses)
	}
	if len(missing) > 0 {
		return errors.New("缺少必需的配置项: " + strings.Join(missing, ", "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("jwt.session_expire_hours", 72)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "recipe-events")
	v.SetDefault("kafka.group_id", "recetario-indexer")
	v.SetDefault("elasticsearch.index_name", "recipes")
	v.SetDefault("minio.bucket_name", "recipe-images")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.prompt.persona", "Eres un chef creativo dentro de un recetario digital hecho con amor. "+
		"Tu objetivo es proporcionar una receta maravillosa basada en la solicitud del usuario. "+
		"Sé cálido y alentador en tus respuestas.")
	v.SetDefault("llm.prompt.failure_text", "Lo siento, tuve problemas para crear una receta. ¡Por favor, inténtalo de nuevo!")
	v.SetDefault("image_gen.base_url", "https://api.openai.com/v1")
	v.SetDefault("image_gen.model", "dall-e-3")
	v.SetDefault("image_gen.size", "1024x1024")
	v.SetDefault("image_gen.timeout", 90*time.Second)
	v.SetDefault("image_search.base_url", "https://loremflickr.com")
	v.SetDefault("image_search.width", 800)
	v.SetDefault("image_search.height", 600)
	v.SetDefault("image_search.timeout", 20*time.Second)
	v.SetDefault("chat.history_ttl", 7*24*time.Hour)
	v.SetDefault("chat.max_messages", 100)
	v.SetDefault("chat.prompts_per_minute", 20)
	v.SetDefault("chat.prompt_burst", 5)
	v.SetDefault("recipes.seed_on_empty", true)
	v.SetDefault("recipes.max_image_width", 1200)
	v.SetDefault("recipes.max_upload_mb", 10)
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig
	Elasticsearch ElasticsearchConfig
	Store         StoreConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Milvus        MilvusConfig
	LLM           LLMConfig
	Relevance     RelevanceConfig
	Search        SearchConfig
	Kafka         KafkaConfig
	RateLimit     RateLimitConfig
	Logging       LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

type ElasticsearchConfig struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string
}

type StoreConfig struct {
	// Driver is "elasticsearch" or "memory".
	Driver string
	// Refresh is passed to every write: "true", "false" or "wait_for".
	Refresh       string
	TimeoutSec    int
	BulkBatchSize int
}

type DatabaseConfig struct {
	// Driver is "sqlite3" or "postgres".
	Driver string
	DSN    string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type MilvusConfig struct {
	Enabled        bool
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type LLMConfig struct {
	Model          string
	APIKey         string
	BaseURL        string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
}

type RelevanceConfig struct {
	Enabled    bool
	TimeoutSec int
	MaxTokens  int
}

type SearchConfig struct {
	PageSize        int
	FallbackEnabled bool
	CacheTTLSec     int
	HistoryTurns    int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/retail-agent")

	v.SetEnvPrefix("RETAIL_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "elasticsearch", "memory":
	default:
		return fmt.Errorf("invalid store.driver %q", c.Store.Driver)
	}
	switch c.Store.Refresh {
	case "true", "false", "wait_for":
	default:
		return fmt.Errorf("invalid store.refresh %q", c.Store.Refresh)
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("invalid database.driver %q", c.Database.Driver)
	}
	if c.Search.PageSize <= 0 {
		return fmt.Errorf("search.pageSize must be positive")
	}
	return nil
}

// setDefaults registers every key, secrets included. A key without a
// default is never read from the environment.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 60)
	v.SetDefault("server.bodyLimit", 20971520)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)

	v.SetDefault("elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.apiKey", "")

	v.SetDefault("store.driver", "elasticsearch")
	v.SetDefault("store.refresh", "true")
	v.SetDefault("store.timeoutSec", 10)
	v.SetDefault("store.bulkBatchSize", 500)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./data/retail-agent.db")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("milvus.enabled", false)
	v.SetDefault("milvus.endpoint", "localhost:19530")
	v.SetDefault("milvus.collectionName", "tenant_documents")
	v.SetDefault("milvus.vectorDim", 1536)

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 2048)
	v.SetDefault("llm.timeoutSec", 30)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")

	v.SetDefault("relevance.enabled", true)
	v.SetDefault("relevance.timeoutSec", 15)
	v.SetDefault("relevance.maxTokens", 2048)

	v.SetDefault("search.pageSize", 10)
	v.SetDefault("search.fallbackEnabled", true)
	v.SetDefault("search.cacheTTLSec", 300)
	v.SetDefault("search.historyTurns", 6)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "catalog-events")

	v.SetDefault("rateLimit.requestsPerMinute", 120)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}

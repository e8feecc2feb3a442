package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	DB      DBConfig      `mapstructure:"db"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Indexer IndexerConfig `mapstructure:"indexer"`
	Chains  []ChainConfig `mapstructure:"chains"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	HttpPort string `mapstructure:"http_port"`
}

type DBConfig struct {
	Driver   string `mapstructure:"driver"` // "postgres" or "sqlite"
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Path     string `mapstructure:"path"` // sqlite 文件路径
}

// DSN builds the gorm connection string for the configured driver.
func (c DBConfig) DSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.Host, c.User, c.Password, c.Name, c.Port)
}

// MigrateURL is the golang-migrate database URL for postgres.
func (c DBConfig) MigrateURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Name)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	DeadLetterTopic string   `mapstructure:"dead_letter_topic"`
}

type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Stream string `mapstructure:"stream"`
}

type QueueConfig struct {
	Backend           string        `mapstructure:"backend"` // "redis", "nats" or "memory"
	Name              string        `mapstructure:"name"`
	Group             string        `mapstructure:"group"`
	Consumer          string        `mapstructure:"consumer"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	PollBatch         int           `mapstructure:"poll_batch"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

type IndexerConfig struct {
	Lookahead       int           `mapstructure:"lookahead"`
	Workers         int           `mapstructure:"workers"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
	RelayInterval   time.Duration `mapstructure:"relay_interval"`
	MaintenanceSpec string        `mapstructure:"maintenance_spec"`
}

type ChainConfig struct {
	Name          string        `mapstructure:"name"`
	Decoder       string        `mapstructure:"decoder"` // 留空时按链名选择
	RpcUrl        string        `mapstructure:"rpc_url"`
	Contract      string        `mapstructure:"contract"`
	StartBlock    uint64        `mapstructure:"start_block"`
	Window        uint64        `mapstructure:"window"`
	Confirmations uint64        `mapstructure:"confirmations"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

var Global Config

func Init() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// 环境变量覆盖: INDEXER_LOOKAHEAD -> indexer.lookahead
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s, chains: %d", Global.App.Env, len(Global.Chains))
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.http_port", "3000")

	viper.SetDefault("db.driver", "postgres")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "indexer")
	viper.SetDefault("db.password", "indexer")
	viper.SetDefault("db.name", "darkpool_indexer")
	viper.SetDefault("db.path", "indexer.db")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.dead_letter_topic", "darkpool_indexer_dead_letters")

	viper.SetDefault("nats.url", "nats://localhost:4222")
	viper.SetDefault("nats.stream", "DARKPOOL_EVENTS")

	viper.SetDefault("queue.backend", "redis")
	viper.SetDefault("queue.name", "darkpool:events")
	viper.SetDefault("queue.group", "applicator")
	viper.SetDefault("queue.consumer", "applicator-0")
	viper.SetDefault("queue.visibility_timeout", 30*time.Second)
	viper.SetDefault("queue.poll_batch", 16)
	viper.SetDefault("queue.poll_interval", 500*time.Millisecond)

	viper.SetDefault("indexer.lookahead", 8)
	viper.SetDefault("indexer.workers", 8)
	viper.SetDefault("indexer.max_attempts", 5)
	viper.SetDefault("indexer.retry_base_delay", time.Second)
	viper.SetDefault("indexer.retry_max_delay", 20*time.Second)
	viper.SetDefault("indexer.relay_interval", 500*time.Millisecond)
	viper.SetDefault("indexer.maintenance_spec", "@every 5m")
}

// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 是所有服务共享的配置结构。
// 加载顺序：代码默认值 -> YAML 文件 (CONFIG_FILE) -> 环境变量。
type Config struct {
	App    AppConfig    `yaml:"app"`
	Infra  InfraConfig  `yaml:"infra"`
	Ledger LedgerConfig `yaml:"ledger"`
	Claim  ClaimConfig  `yaml:"claim"`
	Auth   AuthConfig   `yaml:"auth"`
	Push   PushConfig   `yaml:"push"`
}

type AppConfig struct {
	Env       string `yaml:"env" envconfig:"APP_ENV"`
	LogLevel  string `yaml:"logLevel" envconfig:"LOG_LEVEL"`
	LogPretty bool   `yaml:"logPretty" envconfig:"LOG_PRETTY"`
	Port      int    `yaml:"port" envconfig:"PORT"`
}

type InfraConfig struct {
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint" envconfig:"JAEGER_ENDPOINT"`
}

type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers" envconfig:"KAFKA_BROKERS"`
	PlayerTopic       string        `yaml:"playerTopic" envconfig:"KAFKA_PLAYER_TOPIC"`
	NotificationTopic string        `yaml:"notificationTopic" envconfig:"KAFKA_NOTIFICATION_TOPIC"`
	PromotionsGroup   string        `yaml:"promotionsGroup" envconfig:"KAFKA_PROMOTIONS_GROUP"`
	NotificationGroup string        `yaml:"notificationGroup" envconfig:"KAFKA_NOTIFICATION_GROUP"`
	MaxAttempts       int           `yaml:"maxAttempts" envconfig:"KAFKA_MAX_ATTEMPTS"`
	RetryBackoff      time.Duration `yaml:"retryBackoff" envconfig:"KAFKA_RETRY_BACKOFF"`
}

type MySQLConfig struct {
	Host        string `yaml:"host" envconfig:"MYSQL_HOST"`
	Port        int    `yaml:"port" envconfig:"MYSQL_PORT"`
	User        string `yaml:"user" envconfig:"MYSQL_USER"`
	Password    string `yaml:"password" envconfig:"MYSQL_PASSWORD"`
	Database    string `yaml:"database" envconfig:"MYSQL_DATABASE"`
	AutoMigrate bool   `yaml:"autoMigrate" envconfig:"MYSQL_AUTO_MIGRATE"`
}

// RedisConfig 中 Enabled 为 false 时通知服务只使用进程内会话表。
type RedisConfig struct {
	Addrs    []string `yaml:"addrs" envconfig:"REDIS_ADDRS"`
	Password string   `yaml:"password" envconfig:"REDIS_PASSWORD"`
	Enabled  bool     `yaml:"enabled" envconfig:"REDIS_ENABLED"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers" envconfig:"ZK_SERVERS"`
	SessionTimeout time.Duration `yaml:"sessionTimeout" envconfig:"ZK_SESSION_TIMEOUT"`
	Enabled        bool          `yaml:"enabled" envconfig:"ZK_ENABLED"`
}

type NacosConfig struct {
	ServerAddrs string `yaml:"serverAddrs" envconfig:"NACOS_SERVER_ADDRS"`
	Namespace   string `yaml:"namespace" envconfig:"NACOS_NAMESPACE"`
	Group       string `yaml:"group" envconfig:"NACOS_GROUP"`
	Enabled     bool   `yaml:"enabled" envconfig:"NACOS_ENABLED"`
}

// LedgerConfig 中 Addr 为空且启用 Nacos 时，通过 ServiceName 做服务发现。
type LedgerConfig struct {
	Addr        string        `yaml:"addr" envconfig:"LEDGER_ADDR"`
	ServiceName string        `yaml:"serviceName" envconfig:"LEDGER_SERVICE_NAME"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"LEDGER_TIMEOUT"`
}

type ClaimConfig struct {
	SweepInterval  time.Duration `yaml:"sweepInterval" envconfig:"CLAIM_SWEEP_INTERVAL"`
	StaleThreshold time.Duration `yaml:"staleThreshold" envconfig:"CLAIM_STALE_THRESHOLD"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret" envconfig:"JWT_SECRET"`
}

type PushConfig struct {
	SendBuffer   int           `yaml:"sendBuffer" envconfig:"PUSH_SEND_BUFFER"`
	PresenceTTL  time.Duration `yaml:"presenceTTL" envconfig:"PUSH_PRESENCE_TTL"`
	WriteTimeout time.Duration `yaml:"writeTimeout" envconfig:"PUSH_WRITE_TIMEOUT"`
}

// localJWTSecret 只在 app.env=local 且未配置密钥时使用
const localJWTSecret = "promohub-local-secret"

// DefaultConfig 返回本地开发可用的默认配置。
func DefaultConfig() Config {
	return Config{
		App: AppConfig{Env: "local", LogLevel: "info", Port: 8080},
		Infra: InfraConfig{
			Jaeger: JaegerConfig{Endpoint: "http://localhost:14268/api/traces"},
			Kafka: KafkaConfig{
				Brokers:           []string{"localhost:9092"},
				PlayerTopic:       "player",
				NotificationTopic: "notification",
				PromotionsGroup:   "promotions-group",
				NotificationGroup: "notifications-group",
				MaxAttempts:       3,
				RetryBackoff:      500 * time.Millisecond,
			},
			MySQL: MySQLConfig{Host: "localhost", Port: 3306, User: "root", Database: "promotions", AutoMigrate: true},
			Redis: RedisConfig{Addrs: []string{"localhost:6379"}},
			Zookeeper: ZookeeperConfig{
				Servers:        []string{"localhost:2181"},
				SessionTimeout: 10 * time.Second,
			},
			Nacos: NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"},
		},
		Ledger: LedgerConfig{Addr: "localhost:50051", ServiceName: "users-service", Timeout: 5 * time.Second},
		Claim:  ClaimConfig{SweepInterval: time.Minute, StaleThreshold: 2 * time.Minute},
		Push:   PushConfig{SendBuffer: 256, PresenceTTL: 2 * time.Minute, WriteTimeout: 10 * time.Second},
	}
}

var (
	currentConfig = DefaultConfig()
	configMu      sync.RWMutex
)

// LoadConfig 依次应用默认值、YAML 文件和环境变量，并设置为当前配置。
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config file %s", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config file %s", path)
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, errors.Wrap(err, "apply env overrides")
	}
	if cfg.Ledger.Timeout <= 0 {
		return cfg, errors.New("ledger.timeout must be positive")
	}
	if cfg.Auth.JWTSecret == "" {
		if cfg.App.Env != "local" {
			return cfg, errors.New("auth.jwtSecret is required outside the local env")
		}
		cfg.Auth.JWTSecret = localJWTSecret
	}

	configMu.Lock()
	currentConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// GetCurrentConfig 返回最近一次加载的配置。
func GetCurrentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return currentConfig
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

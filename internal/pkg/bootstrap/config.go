// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "configs/ordering.yaml"

type Config struct {
	App   AppConfig   `yaml:"app"`
	Infra InfraConfig `yaml:"infra"`
}

type AppConfig struct {
	ServiceName        string        `yaml:"serviceName"`
	LogLevel           string        `yaml:"logLevel"`
	HTTPPort           int           `yaml:"httpPort"`
	GracePeriod        time.Duration `yaml:"gracePeriod"`
	SimulatedWorkDelay time.Duration `yaml:"simulatedWorkDelay"`
	TurnTimeout        time.Duration `yaml:"turnTimeout"`
	IdleTimeout        time.Duration `yaml:"idleTimeout"`
}

type InfraConfig struct {
	StateStore string          `yaml:"stateStore"` // redis | mysql | memory
	Scheduler  string          `yaml:"scheduler"`  // redis | memory
	Redis      RedisConfig     `yaml:"redis"`
	MySQL      MySQLConfig     `yaml:"mysql"`
	Kafka      KafkaConfig     `yaml:"kafka"`
	Jaeger     JaegerConfig    `yaml:"jaeger"`
	Zookeeper  ZookeeperConfig `yaml:"zookeeper"`
	Nacos      NacosConfig     `yaml:"nacos"`
	Reminders  ReminderConfig  `yaml:"reminders"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

type MySQLConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	DB       string `yaml:"db"`
}

type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	NotificationTopic string   `yaml:"notificationTopic"`
	DeadLetterTopic   string   `yaml:"deadLetterTopic"` // 为空时处理失败的通知不提交 offset，原地重试
	GroupID           string   `yaml:"groupID"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
}

type NacosConfig struct {
	ServerAddrs string `yaml:"serverAddrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type ReminderConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
}

var currentConfig atomic.Pointer[Config]

// GetCurrentConfig 返回最近一次 LoadConfig 的结果
func GetCurrentConfig() *Config {
	if c := currentConfig.Load(); c != nil {
		return c
	}
	return DefaultConfig()
}

func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			ServiceName:        "ordering-process",
			LogLevel:           "info",
			HTTPPort:           8080,
			GracePeriod:        time.Minute,
			SimulatedWorkDelay: 10 * time.Second,
			TurnTimeout:        30 * time.Second,
			IdleTimeout:        5 * time.Minute,
		},
		Infra: InfraConfig{
			StateStore: "redis",
			Scheduler:  "redis",
			Redis:      RedisConfig{Addr: "localhost:6379"},
			MySQL:      MySQLConfig{User: "root", Host: "localhost:3306", DB: "ordering"},
			Kafka: KafkaConfig{
				Brokers:           []string{"localhost:9092"},
				NotificationTopic: "ordering-notifications",
				DeadLetterTopic:   "ordering-notifications-dlt",
				GroupID:           "ordering-process",
			},
			Zookeeper: ZookeeperConfig{SessionTimeout: 10 * time.Second},
			Nacos:     NacosConfig{Group: "DEFAULT_GROUP"},
			Reminders: ReminderConfig{PollInterval: time.Second, RetryBackoff: 5 * time.Second},
		},
	}
}

// LoadConfig 依次应用默认值、YAML 文件（CONFIG_PATH，可缺省）和环境变量
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	path := getEnv("CONFIG_PATH", defaultConfigPath)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	case os.IsNotExist(err):
	default:
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	currentConfig.Store(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.App.ServiceName = getEnv("SERVICE_NAME", cfg.App.ServiceName)
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)
	cfg.Infra.StateStore = getEnv("STATE_STORE", cfg.Infra.StateStore)
	cfg.Infra.Scheduler = getEnv("REMINDER_SCHEDULER", cfg.Infra.Scheduler)
	cfg.Infra.Redis.Addr = getEnv("REDIS_ADDR", cfg.Infra.Redis.Addr)
	cfg.Infra.MySQL.User = getEnv("MYSQL_USER", cfg.Infra.MySQL.User)
	cfg.Infra.MySQL.Password = getEnv("MYSQL_PASSWORD", cfg.Infra.MySQL.Password)
	cfg.Infra.MySQL.Host = getEnv("MYSQL_HOST", cfg.Infra.MySQL.Host)
	cfg.Infra.MySQL.DB = getEnv("MYSQL_DB", cfg.Infra.MySQL.DB)
	cfg.Infra.Kafka.NotificationTopic = getEnv("KAFKA_NOTIFICATION_TOPIC", cfg.Infra.Kafka.NotificationTopic)
	cfg.Infra.Kafka.DeadLetterTopic = getEnv("KAFKA_DEAD_LETTER_TOPIC", cfg.Infra.Kafka.DeadLetterTopic)
	cfg.Infra.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", cfg.Infra.Kafka.GroupID)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", cfg.Infra.Nacos.ServerAddrs)
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)
	cfg.Infra.Kafka.Brokers = getEnvList("KAFKA_BROKERS", cfg.Infra.Kafka.Brokers)
	cfg.Infra.Zookeeper.Servers = getEnvList("ZOOKEEPER_SERVERS", cfg.Infra.Zookeeper.Servers)

	var err error
	if cfg.App.HTTPPort, err = getEnvInt("HTTP_PORT", cfg.App.HTTPPort); err != nil {
		return err
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"GRACE_PERIOD", &cfg.App.GracePeriod},
		{"SIMULATED_WORK_DELAY", &cfg.App.SimulatedWorkDelay},
		{"TURN_TIMEOUT", &cfg.App.TurnTimeout},
		{"IDLE_TIMEOUT", &cfg.App.IdleTimeout},
		{"REMINDER_POLL_INTERVAL", &cfg.Infra.Reminders.PollInterval},
		{"REMINDER_RETRY_BACKOFF", &cfg.Infra.Reminders.RetryBackoff},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate 拒绝无法启动的组合
func (c *Config) Validate() error {
	switch c.Infra.StateStore {
	case "redis", "mysql", "memory":
	default:
		return errors.Errorf("unknown state store %q", c.Infra.StateStore)
	}
	switch c.Infra.Scheduler {
	case "redis", "memory":
	default:
		return errors.Errorf("unknown reminder scheduler %q", c.Infra.Scheduler)
	}
	if c.App.GracePeriod < 0 || c.App.SimulatedWorkDelay < 0 {
		return errors.New("delays must not be negative")
	}
	if c.App.HTTPPort <= 0 {
		return errors.Errorf("invalid http port %d", c.App.HTTPPort)
	}
	return nil
}

// getEnv 从环境变量中读取配置
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	return n, errors.Wrapf(err, "parse %s", key)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	return d, errors.Wrapf(err, "parse %s", key)
}

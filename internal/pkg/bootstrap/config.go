// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "configs/cart-service.yaml"

// Config 是服务的全部配置，先加载默认值，再叠加 YAML 文件，最后由环境变量覆盖
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Cart      CartConfig      `yaml:"cart"`
	Reclaimer ReclaimerConfig `yaml:"reclaimer"`
	Store     StoreConfig     `yaml:"store"`
	Infra     InfraConfig     `yaml:"infra"`
}

type ServiceConfig struct {
	Name     string `yaml:"name"`
	Port     int    `yaml:"port"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"logLevel"`
}

// CartConfig 购物车引擎参数
type CartConfig struct {
	TTL              time.Duration `yaml:"ttl"`
	TouchOnRead      bool          `yaml:"touchOnRead"`
	TxMaxAttempts    int           `yaml:"txMaxAttempts"`
	DefaultPageLimit int           `yaml:"defaultPageLimit"`
	MaxPageLimit     int           `yaml:"maxPageLimit"`
	// Policy 是一个 CEL 表达式，可用变量: userId, productId, quantity, stock, lines
	Policy string `yaml:"policy"`
}

// ReclaimerConfig 过期回收任务参数
type ReclaimerConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batchSize"`
	RunOnStart bool          `yaml:"runOnStart"`
	Lock       string        `yaml:"lock"` // none / redis / zookeeper
	LockTTL    time.Duration `yaml:"lockTTL"`
}

type StoreConfig struct {
	Driver string      `yaml:"driver"` // bolt / mongo / mysql
	Bolt   BoltConfig  `yaml:"bolt"`
	Mongo  MongoConfig `yaml:"mongo"`
	MySQL  MySQLConfig `yaml:"mysql"`
}

type BoltConfig struct {
	Path string `yaml:"path"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
	// TTLGrace 是 TTL 索引相对 expiresAt 的宽限期，TTL 只是兜底，回收任务必须先于它执行
	TTLGrace time.Duration `yaml:"ttlGrace"`
}

type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

type InfraConfig struct {
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

type RedisConfig struct {
	Addrs string `yaml:"addrs"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	ReclaimTopic string   `yaml:"reclaimTopic"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"serverAddrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type ZookeeperConfig struct {
	Servers        string        `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
}

var (
	currentConfig *Config
	configMu      sync.RWMutex
)

// DefaultConfig 返回内置默认配置
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "cart-service",
			Port:     8090,
			Env:      "dev",
			LogLevel: "info",
		},
		Cart: CartConfig{
			TTL:              2 * time.Hour,
			TouchOnRead:      true,
			TxMaxAttempts:    3,
			DefaultPageLimit: 10,
			MaxPageLimit:     100,
		},
		Reclaimer: ReclaimerConfig{
			Enabled:   true,
			Interval:  30 * time.Minute,
			BatchSize: 500,
			Lock:      "none",
			LockTTL:   5 * time.Minute,
		},
		Store: StoreConfig{
			Driver: "bolt",
			Bolt:   BoltConfig{Path: "data/cart.db"},
			Mongo:  MongoConfig{Database: "shop", TTLGrace: 24 * time.Hour},
		},
		Infra: InfraConfig{
			Jaeger:    JaegerConfig{SampleRatio: 1},
			Kafka:     KafkaConfig{ReclaimTopic: "cart-events"},
			Nacos:     NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"},
			Zookeeper: ZookeeperConfig{SessionTimeout: 10 * time.Second},
		},
	}
}

// Init 从 CONFIG_FILE 指定的文件加载配置，文件不存在时使用默认值
func Init() (*Config, error) {
	path := getEnv("CONFIG_FILE", defaultConfigFile)
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	configMu.Lock()
	currentConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// GetCurrentConfig 返回 Init 加载的配置，未初始化时返回默认配置
func GetCurrentConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	if currentConfig == nil {
		return DefaultConfig()
	}
	return currentConfig
}

// Load 读取 YAML 文件并叠加环境变量
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	case os.IsNotExist(err):
		// 没有配置文件时只用默认值和环境变量
	default:
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch {
	case c.Cart.TTL <= 0:
		return errors.New("config: cart.ttl must be positive")
	case c.Cart.TxMaxAttempts < 1:
		return errors.New("config: cart.txMaxAttempts must be >= 1")
	case c.Cart.DefaultPageLimit < 1 || c.Cart.MaxPageLimit < c.Cart.DefaultPageLimit:
		return errors.New("config: invalid cart page limits")
	case c.Reclaimer.Interval <= 0:
		return errors.New("config: reclaimer.interval must be positive")
	case c.Reclaimer.BatchSize < 1:
		return errors.New("config: reclaimer.batchSize must be >= 1")
	}
	switch c.Store.Driver {
	case "bolt", "mongo", "mysql":
	default:
		return errors.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	switch c.Reclaimer.Lock {
	case "none", "redis", "zookeeper":
	default:
		return errors.Errorf("config: unknown reclaimer lock %q", c.Reclaimer.Lock)
	}
	return nil
}

func applyEnv(c *Config) {
	c.Service.Env = getEnv("APP_ENV", c.Service.Env)
	c.Service.LogLevel = getEnv("LOG_LEVEL", c.Service.LogLevel)
	c.Service.Port = getEnvInt("HTTP_PORT", c.Service.Port)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.Bolt.Path = getEnv("BOLT_PATH", c.Store.Bolt.Path)
	c.Store.Mongo.URI = getEnv("MONGO_URI", c.Store.Mongo.URI)
	c.Store.Mongo.Database = getEnv("MONGO_DATABASE", c.Store.Mongo.Database)
	c.Store.MySQL.DSN = getEnv("MYSQL_DSN", c.Store.MySQL.DSN)

	c.Reclaimer.Lock = getEnv("RECLAIMER_LOCK", c.Reclaimer.Lock)

	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	c.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", c.Infra.Redis.Addrs)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Infra.Kafka.Brokers = strings.Split(brokers, ",")
	}
	c.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.ServerAddrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)
	if v, ok := os.LookupEnv("NACOS_ENABLED"); ok {
		c.Infra.Nacos.Enabled = v == "true" || v == "1"
	}
	c.Infra.Zookeeper.Servers = getEnv("ZOOKEEPER_SERVERS", c.Infra.Zookeeper.Servers)
}

// getEnv 从环境变量中读取配置
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

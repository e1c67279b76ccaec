package app

import (
	"context"
	"time"

	"github.com/ceyewan/bulwark/api"
	"github.com/ceyewan/bulwark/cache"
	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/config"
	"github.com/ceyewan/bulwark/connector"
	"github.com/ceyewan/bulwark/idem"
	"github.com/ceyewan/bulwark/metrics"
	"github.com/ceyewan/bulwark/mq"
	"github.com/ceyewan/bulwark/notify"
	"github.com/ceyewan/bulwark/orchestrator"
	"github.com/ceyewan/bulwark/provider/bureau"
	"github.com/ceyewan/bulwark/provider/gateway"
	"github.com/ceyewan/bulwark/provider/registry"
	"github.com/ceyewan/bulwark/ratelimit"
	"github.com/ceyewan/bulwark/trace"
	"github.com/ceyewan/bulwark/xerrors"
)

// ErrInvalidConfig 配置无效
var ErrInvalidConfig = xerrors.New("app: invalid config")

// Config 进程配置，对应 bulwark.yaml 的顶层结构
type Config struct {
	Log     clog.Config    `mapstructure:"log"`
	Metrics metrics.Config `mapstructure:"metrics"`
	Trace   trace.Config   `mapstructure:"trace"`

	// 外部连接，只有被启用的后端引用时才会建立
	Redis    connector.RedisConfig `mapstructure:"redis"`
	NATS     connector.NATSConfig  `mapstructure:"nats"`
	Kafka    connector.KafkaConfig `mapstructure:"kafka"`
	Database DatabaseConfig        `mapstructure:"database"`

	Cache     cache.Config        `mapstructure:"cache"`
	Idem      idem.Config         `mapstructure:"idem"`
	Providers ProvidersConfig     `mapstructure:"providers"`
	Engine    orchestrator.Config `mapstructure:"engine"`
	MQ        mq.Config           `mapstructure:"mq"`
	Notify    notify.Config       `mapstructure:"notify"`
	// Pace 通知 Worker 使用的进程内令牌桶
	Pace ratelimit.StandaloneConfig `mapstructure:"pace"`
	API  api.Config                 `mapstructure:"api"`
	// HubBuffer 每个 SSE 订阅者的缓冲条数
	HubBuffer int `mapstructure:"hub_buffer"`
}

// 投递状态存储后端
const (
	DatabaseMemory = "memory"
	DatabaseSQLite = "sqlite"
	DatabaseMySQL  = "mysql"
)

// DatabaseConfig 投递状态存储
type DatabaseConfig struct {
	// Driver memory | sqlite | mysql (默认: memory)
	Driver string                 `mapstructure:"driver"`
	SQLite connector.SQLiteConfig `mapstructure:"sqlite"`
	MySQL  connector.MySQLConfig  `mapstructure:"mysql"`
}

// 登记查询适配器类型
const (
	RegistryBrasilAPI = "brasilapi"
	RegistryReceitaWS = "receitaws"
)

// RegistryConfig 登记查询服务，Kind 决定使用哪种适配器
type RegistryConfig struct {
	Kind            string `mapstructure:"kind"`
	registry.Config `mapstructure:",squash"`
}

// ProvidersConfig 外部服务列表
type ProvidersConfig struct {
	// Timeout 单次 HTTP 请求超时 (默认: 10s)
	Timeout    time.Duration    `mapstructure:"timeout"`
	Registries []RegistryConfig `mapstructure:"registries"`
	Bureaus    []bureau.Config  `mapstructure:"bureaus"`
	Email      []gateway.Config `mapstructure:"email"`
	WhatsApp   []gateway.Config `mapstructure:"whatsapp"`
}

func (c *Config) setDefaults() {
	if c.Cache.Driver == "" {
		c.Cache.Driver = cache.DriverMemory
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DatabaseMemory
	}
	if c.Trace.ServiceName == "" {
		c.Trace.ServiceName = c.API.ServiceName
	}
	if c.Metrics.ServiceName == "" {
		c.Metrics.ServiceName = c.API.ServiceName
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DatabaseMemory, DatabaseSQLite, DatabaseMySQL:
	default:
		return xerrors.Wrapf(ErrInvalidConfig, "unsupported database driver %q", c.Database.Driver)
	}
	for _, r := range c.Providers.Registries {
		if r.Kind != RegistryBrasilAPI && r.Kind != RegistryReceitaWS {
			return xerrors.Wrapf(ErrInvalidConfig, "unsupported registry kind %q", r.Kind)
		}
	}
	if c.HubBuffer < 0 {
		return xerrors.Wrap(ErrInvalidConfig, "hub_buffer must not be negative")
	}
	return nil
}

// Defaults 注册到配置加载器的默认值，同时决定哪些 key 可以被环境变量覆盖
func Defaults() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "json",
		"log.output": "stdout",

		"metrics.enabled":      true,
		"metrics.service_name": "bulwark",
		"metrics.port":         9090,
		"metrics.path":         "/metrics",
		"metrics.runtime":      true,

		"trace.service_name": "bulwark",
		"trace.endpoint":     "",
		"trace.sampler":      1.0,
		"trace.insecure":     true,

		"redis.addr":     "127.0.0.1:6379",
		"redis.password": "",
		"nats.url":       "nats://127.0.0.1:4222",
		"kafka.seed":     []string{"127.0.0.1:9092"},

		"database.driver":         DatabaseMemory,
		"database.sqlite.path":    "bulwark.db",
		"database.mysql.dsn":      "",
		"database.mysql.host":     "127.0.0.1",
		"database.mysql.port":     3306,
		"database.mysql.username": "bulwark",
		"database.mysql.password": "",
		"database.mysql.database": "bulwark",

		"cache.driver":     string(cache.DriverMemory),
		"cache.prefix":     "bulwark:",
		"cache.serializer": "json",

		"idem.driver":      string(idem.DriverMemory),
		"idem.prefix":      "bulwark:idem:",
		"idem.default_ttl": "24h",
		"idem.lock_ttl":    "30s",

		"providers.timeout": "10s",

		"engine.breaker.threshold":             5,
		"engine.breaker.cooldown":              "30s",
		"engine.rate_limit.default.quota":      100,
		"engine.rate_limit.default.window":     "1h",
		"engine.cache_ttl.validate_identifier": "720h",
		"engine.cache_ttl.analyze_risk":        "24h",
		"engine.call_timeout":                  "15s",

		"mq.driver": string(mq.DriverMemory),

		"notify.topic":       "bulwark.notifications",
		"notify.queue_group": "notify-workers",
		"notify.codec":       "json",
		"notify.retry":       0,

		"api.addr":                   ":8080",
		"api.service_name":           "bulwark",
		"api.shutdown_timeout":       "10s",
		"api.heartbeat":              "15s",
		"api.client_rate.per_second": 20,
		"api.client_rate.burst":      40,

		"hub_buffer": 16,
	}
}

// Load 从配置文件、.env 与环境变量加载配置。
// 返回的 Loader 用于运行期监听热更新的 key。
func Load(ctx context.Context, name string, paths ...string) (*Config, config.Loader, error) {
	loader, err := config.New(&config.Config{Name: name, Paths: paths, EnvPrefix: "BULWARK"},
		config.WithDefaults(Defaults()))
	if err != nil {
		return nil, nil, xerrors.Wrap(err, "create config loader")
	}
	if err := loader.Load(ctx); err != nil {
		return nil, nil, xerrors.Wrap(err, "load config")
	}

	var cfg Config
	if err := loader.Unmarshal(&cfg); err != nil {
		return nil, nil, xerrors.Wrap(err, "unmarshal config")
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}
	return &cfg, loader, nil
}

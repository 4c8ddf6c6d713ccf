package config

import "time"

type DBConfig struct {
	URL             string        `mapstructure:"url" validate:"required"`
	MaxOpenConns    int32         `mapstructure:"max_open_conns"`
	MinIdleConns    int32         `mapstructure:"min_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	HealthTimeout   time.Duration `mapstructure:"health_timeout"`
}

type RedisConfig struct {
	URL             string        `mapstructure:"url" validate:"required"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

type RabbitMQConfig struct {
	BrokerLink   string `mapstructure:"broker_link" validate:"required"`
	ExchangeName string `mapstructure:"exchange_name" validate:"required"`
	ExchangeType string `mapstructure:"exchange_type"`
	QueueName    string `mapstructure:"queue_name" validate:"required"`
	RoutingKey   string `mapstructure:"routing_key" validate:"required"`
	WorkerCount  int    `mapstructure:"worker_count" validate:"gte=1"`
}

type SweeperConfig struct {
	Interval       time.Duration `mapstructure:"interval" validate:"required"`
	PageSize       int32         `mapstructure:"page_size" validate:"gte=1"`
	MonitorTimeout time.Duration `mapstructure:"monitor_timeout" validate:"required"`
	LeaderLockKey  int64         `mapstructure:"leader_lock_key"`
}

type RateLimitConfig struct {
	Window time.Duration `mapstructure:"window" validate:"required"`
	Quota  int64         `mapstructure:"quota" validate:"gte=1"`
}

type IngestConfig struct {
	CASAttempts    int           `mapstructure:"cas_attempts" validate:"gte=1"`
	CASBackoffBase time.Duration `mapstructure:"cas_backoff_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type Config struct {
	Env         string           `mapstructure:"env"`
	ServiceName string           `mapstructure:"service_name"`
	Port        int              `mapstructure:"port" validate:"gte=1,lte=65535"`
	DB          *DBConfig        `mapstructure:"db" validate:"required"`
	Redis       *RedisConfig     `mapstructure:"redis" validate:"required"`
	RabbitMQ    *RabbitMQConfig  `mapstructure:"rabbitmq" validate:"required"`
	Sweeper     *SweeperConfig   `mapstructure:"sweeper" validate:"required"`
	RateLimit   *RateLimitConfig `mapstructure:"ratelimit" validate:"required"`
	Ingest      *IngestConfig    `mapstructure:"ingest" validate:"required"`
}

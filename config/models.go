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
	URL string `mapstructure:"url"`
}

type BrokerConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

type MailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type AuthConfig struct {
	Secret   string        `mapstructure:"secret" validate:"required,min=32"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type AdminConfig struct {
	Key string `mapstructure:"key" validate:"required,min=16"`
}

type DispatchConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// CallbackTTL bounds how long a dispatched task may wait for its reply
	// before the pending entry is dropped.
	CallbackTTL   time.Duration `mapstructure:"callback_ttl"`
	RecordExpired bool          `mapstructure:"record_expired"`
	Reward        int64         `mapstructure:"reward" validate:"gte=0"`
}

type AlertConfig struct {
	Requirement int           `mapstructure:"requirement" validate:"gte=1"`
	Lookback    int           `mapstructure:"lookback" validate:"gte=1"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

type IdentityConfig struct {
	TrustFirstUse bool `mapstructure:"trust_first_use"`
}

type Config struct {
	Env         string          `mapstructure:"env"`
	ServiceName string          `mapstructure:"service_name"`
	Port        int             `mapstructure:"port" validate:"gt=0,lte=65535"`
	DB          *DBConfig       `mapstructure:"db" validate:"required"`
	Redis       *RedisConfig    `mapstructure:"redis"`
	Broker      *BrokerConfig   `mapstructure:"broker"`
	Mail        *MailConfig     `mapstructure:"mail"`
	Auth        *AuthConfig     `mapstructure:"auth" validate:"required"`
	Admin       *AdminConfig    `mapstructure:"admin" validate:"required"`
	Dispatch    *DispatchConfig `mapstructure:"dispatch" validate:"required"`
	Alert       *AlertConfig    `mapstructure:"alert" validate:"required"`
	Identity    *IdentityConfig `mapstructure:"identity"`
}

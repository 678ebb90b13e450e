package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creditrail/creditrail/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Service    ServiceConfig    `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Postgres   PostgresConfig   `validate:"required"`
	RabbitMQ   RabbitMQConfig   `validate:"required"`
	Redis      RedisConfig      `validate:"required"`
	Scheduler  SchedulerConfig
	Event      EventConfig
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

// ServiceConfig identifies this process on the inter-application bus. The
// source application code is stamped on every outbound envelope.
type ServiceConfig struct {
	Name        string `validate:"required"`
	FrontendURL string
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

type PostgresConfig struct {
	Host                   string
	Port                   int
	User                   string
	Password               string
	DBName                 string
	SSLMode                string
	MaxOpenConns           int
	MaxIdleConns           int
	ConnMaxLifetimeMinutes int
}

type RabbitMQConfig struct {
	URL               string
	Hostname          string
	Port              int
	Username          string
	Password          string
	Protocol          string
	TopicExchange     string
	FanoutExchange    string
	ConfirmTimeout    time.Duration
	ReconnectInterval time.Duration
	MaxReconnects     int
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type SchedulerConfig struct {
	// ExpiryInterval is the sweep period of the seasonal credit expiry loop.
	ExpiryInterval time.Duration
	// RetryScanInterval is the period of the unacked-event retry scanner.
	RetryScanInterval time.Duration
	// RetryAckWindow is how long an event may stay unacked before the
	// scanner re-publishes it.
	RetryAckWindow time.Duration
}

type EventConfig struct {
	// IdempotencyWindowSize bounds the recently-processed key set kept by
	// the consumer runtime.
	IdempotencyWindowSize int
	// HandlerRetries is the number of in-process retries before a poison
	// message is acknowledged and reported as failed.
	HandlerRetries int
}

func NewConfig() (*Configuration, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/creditrail")

	v.SetEnvPrefix("CREDITRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", types.ModeServer)
	v.SetDefault("logging.level", types.LogLevelInfo)
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.maxopenconns", 20)
	v.SetDefault("postgres.maxidleconns", 5)
	v.SetDefault("postgres.connmaxlifetimeminutes", 30)
	v.SetDefault("rabbitmq.protocol", "amqp")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.topicexchange", "inter-app-events")
	v.SetDefault("rabbitmq.fanoutexchange", "inter-app-broadcast")
	v.SetDefault("rabbitmq.confirmtimeout", 10*time.Second)
	v.SetDefault("rabbitmq.reconnectinterval", 5*time.Second)
	v.SetDefault("rabbitmq.maxreconnects", 10)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("scheduler.expiryinterval", 60*time.Second)
	v.SetDefault("scheduler.retryscaninterval", time.Minute)
	v.SetDefault("scheduler.retryackwindow", 5*time.Minute)
	v.SetDefault("event.idempotencywindowsize", 10000)
	v.SetDefault("event.handlerretries", 1)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a default configuration for local development and
// tests. This is useful for running scripts or other non-web applications.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Service:    ServiceConfig{Name: "credit_service"},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		RabbitMQ: RabbitMQConfig{
			TopicExchange:     "inter-app-events",
			FanoutExchange:    "inter-app-broadcast",
			ConfirmTimeout:    10 * time.Second,
			ReconnectInterval: 5 * time.Second,
			MaxReconnects:     10,
		},
		Scheduler: SchedulerConfig{
			ExpiryInterval:    60 * time.Second,
			RetryScanInterval: time.Minute,
			RetryAckWindow:    5 * time.Minute,
		},
		Event: EventConfig{
			IdempotencyWindowSize: 10000,
			HandlerRetries:        1,
		},
	}
}

// GetDSN builds the lib/pq connection string.
func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}

// GetURL builds the broker URL, preferring an explicit URL over the
// individual host settings.
func (c RabbitMQConfig) GetURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("%s://%s:%s@%s:%d", c.Protocol, c.Username, c.Password, c.Hostname, c.Port)
}

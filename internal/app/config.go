package app

import (
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr     string `default:"0.0.0.0:8080" usage:"HTTP listen address"`
	Mongo    MongoConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Session  SessionConfig
	Guest    GuestConfig
	Cache    CacheConfig
	Catalog  CatalogConfig
	HTTP     HTTPConfig
	Graceful GracefulConfig
}

type MongoConfig struct {
	URI      string `default:"mongodb://localhost:27017" usage:"MongoDB connection URI"`
	Database string `default:"storefront" usage:"MongoDB database name"`
}

type RedisConfig struct {
	Addr     string `default:"localhost:6379" usage:"Redis address"`
	Password string `default:"" usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database number"`
}

// KafkaConfig controls checkout events. With no brokers events are only
// logged and the reconciler does not run.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka broker addresses"`
	Topic   string   `default:"checkout-outbox" usage:"Checkout events topic"`
}

type SessionConfig struct {
	Secret string `usage:"HS256 secret used to verify session tokens (STOREFRONT_SESSION_SECRET)"`
	Cookie string `default:"session" usage:"Session cookie name"`
}

type GuestConfig struct {
	MaxAge time.Duration `default:"720h" usage:"Guest cart cookie lifetime"`
	Secure bool          `default:"false" usage:"Send the guest cart cookie over HTTPS only"`
}

type CacheConfig struct {
	TTL         time.Duration `default:"15m" usage:"Base TTL of cached carts"`
	MergeKeyTTL time.Duration `default:"24h" usage:"How long merge idempotency keys are remembered"`
}

type CatalogConfig struct {
	MaxRequests         uint32        `default:"3" usage:"Requests allowed while the catalog breaker is half-open"`
	Interval            time.Duration `default:"1m" usage:"Catalog breaker counter reset interval"`
	Timeout             time.Duration `default:"30s" usage:"Catalog breaker open duration"`
	ConsecutiveFailures uint32        `default:"5" usage:"Consecutive failures that open the catalog breaker"`
}

type HTTPConfig struct {
	RequestTimeout     time.Duration `default:"10s" usage:"Per request timeout"`
	MaxRequestBodySize int64         `default:"1048576" usage:"Maximum request body size in bytes"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files.
func LoadConfig() (*Config, error) {
	return loadConfig(false)
}

func loadConfig(skipFlags bool) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: skipFlags,
		EnvPrefix: "STOREFRONT",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Session.Secret == "" {
		return errors.New("session secret is required: set STOREFRONT_SESSION_SECRET")
	}
	if c.Mongo.URI == "" || c.Mongo.Database == "" {
		return errors.New("mongo URI and database are required")
	}
	if c.HTTP.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if c.Catalog.ConsecutiveFailures == 0 {
		return errors.New("catalog breaker needs at least one failure to trip")
	}
	return nil
}

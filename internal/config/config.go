package config

import (
	"time"

	env "github.com/Netflix/go-env"
	"github.com/chatrelay/whatsapp-gateway/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every env-backed setting of the gateway. Only this struct may
// be used to read configuration; no direct env access elsewhere.
type Config struct {
	AppEnv   string `env:"APP_ENV" default:"dev"`
	AppName  string `env:"APP_NAME" default:"whatsapp_gateway"`
	AppDebug bool   `env:"APP_DEBUG" default:"1"`

	HttpListenAddr string `env:"HTTP_LISTEN_ADDR" default:":8080"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`
	MetricsAddr   string `env:"METRICS_ADDR" default:":9100"`

	// Meta Graph API
	GraphApiBaseUrl  string        `env:"GRAPH_API_BASE_URL" default:"https://graph.facebook.com/v20.0"`
	GraphApiTimeout  time.Duration `env:"GRAPH_API_TIMEOUT" default:"10s"`
	GraphApiMaxConns int           `env:"GRAPH_API_MAX_CONNS" default:"512"`

	// media blob storage
	MediaStorageRoot string `env:"MEDIA_STORAGE_ROOT" default:"./storage/whatsapp"`
	MediaPublicBase  string `env:"MEDIA_PUBLIC_BASE" default:"/media"`

	// change monitor
	MonitorInterval     time.Duration `env:"MONITOR_INTERVAL" default:"1s"`
	MonitorWatermarkKey string        `env:"MONITOR_WATERMARK_KEY" default:"monitor:watermark"`
	MonitorWorkers      int           `env:"MONITOR_WORKERS" default:"16"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)
	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

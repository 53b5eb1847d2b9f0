package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Client    *clientConfig
	DevServer *devServerConfig
}

type clientConfig struct {
	// ApiUrl overrides the server URL from flags and the client config file.
	ApiUrl        string        `envconfig:"INSIGHTFLOW_API_URL" default:""`
	LogLevel      string        `envconfig:"INSIGHTFLOW_LOG_LEVEL" default:"info"`
	UploadTimeout time.Duration `envconfig:"INSIGHTFLOW_UPLOAD_TIMEOUT" default:"5m"`
	DialTimeout   time.Duration `envconfig:"INSIGHTFLOW_DIAL_TIMEOUT" default:"30s"`
}

type devServerConfig struct {
	Address     string        `envconfig:"INSIGHTFLOW_DEVSERVER_ADDRESS" default:":8000"`
	BaseUrl     string        `envconfig:"INSIGHTFLOW_DEVSERVER_BASE_URL" default:"http://localhost:8000"`
	UploadDir   string        `envconfig:"INSIGHTFLOW_DEVSERVER_UPLOAD_DIR" default:""`
	StepDelay   time.Duration `envconfig:"INSIGHTFLOW_DEVSERVER_STEP_DELAY" default:"400ms"`
	MaxFileSize int64         `envconfig:"INSIGHTFLOW_DEVSERVER_MAX_FILE_SIZE" default:"52428800"`
	Results     resultsConfig
}

type resultsConfig struct {
	// Bucket enables the S3 compatible result store when set.
	Bucket    string        `envconfig:"INSIGHTFLOW_RESULTS_BUCKET" default:""`
	Endpoint  string        `envconfig:"INSIGHTFLOW_RESULTS_ENDPOINT" default:""`
	AccessKey string        `envconfig:"INSIGHTFLOW_RESULTS_ACCESS_KEY" default:""`
	SecretKey string        `envconfig:"INSIGHTFLOW_RESULTS_SECRET_KEY" default:""`
	UseSSL    bool          `envconfig:"INSIGHTFLOW_RESULTS_USE_SSL" default:"true"`
	LinkTTL   time.Duration `envconfig:"INSIGHTFLOW_RESULTS_LINK_TTL" default:"24h"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		cfg := new(Config)
		if err := envconfig.Process("", cfg); err != nil {
			return nil, err
		}
		singleConfig = cfg
	}
	return singleConfig, nil
}

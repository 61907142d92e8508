// Package config reads environment defaults shared by the provider and
// the CLI. Explicit provider arguments and CLI flags win over these.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	API     APIConfig
	Bucket  BucketConfig
	Deploy  DeployConfig
	LogJSON bool `envconfig:"SITEPUBLISH_LOG_JSON" default:"false"`
}

type APIConfig struct {
	URL     string        `envconfig:"SITEPUBLISH_API_URL"`
	Token   string        `envconfig:"SITEPUBLISH_API_TOKEN"`
	Timeout time.Duration `envconfig:"SITEPUBLISH_API_TIMEOUT" default:"60s"`
}

type BucketConfig struct {
	Type           string `envconfig:"SITEPUBLISH_BUCKET_TYPE"`
	Name           string `envconfig:"SITEPUBLISH_BUCKET"`
	Prefix         string `envconfig:"SITEPUBLISH_BUCKET_PREFIX"`
	Region         string `envconfig:"SITEPUBLISH_BUCKET_REGION"`
	Endpoint       string `envconfig:"SITEPUBLISH_BUCKET_ENDPOINT"`
	AccessKeyID    string `envconfig:"SITEPUBLISH_BUCKET_ACCESS_KEY_ID"`
	SecretKey      string `envconfig:"SITEPUBLISH_BUCKET_SECRET_ACCESS_KEY"`
	StorageAccount string `envconfig:"SITEPUBLISH_STORAGE_ACCOUNT"`
	ContainerName  string `envconfig:"SITEPUBLISH_CONTAINER_NAME"`
	PublicBaseURL  string `envconfig:"SITEPUBLISH_PUBLIC_BASE_URL"`
	MaxRetries     int    `envconfig:"SITEPUBLISH_BUCKET_MAX_RETRIES" default:"3"`
	RetainDeploys  int    `envconfig:"SITEPUBLISH_RETAIN_DEPLOYS" default:"5"`
}

type DeployConfig struct {
	MaxConcurrency int           `envconfig:"SITEPUBLISH_MAX_CONCURRENCY" default:"10"`
	PollInterval   time.Duration `envconfig:"SITEPUBLISH_POLL_INTERVAL" default:"2s"`
	MaxWait        time.Duration `envconfig:"SITEPUBLISH_MAX_WAIT" default:"60s"`
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks value ranges that envconfig cannot express.
func (c *Config) Validate() error {
	switch {
	case c.Deploy.MaxConcurrency < 1:
		return fmt.Errorf("config: SITEPUBLISH_MAX_CONCURRENCY must be at least 1, got %d", c.Deploy.MaxConcurrency)
	case c.Deploy.PollInterval <= 0:
		return fmt.Errorf("config: SITEPUBLISH_POLL_INTERVAL must be positive, got %s", c.Deploy.PollInterval)
	case c.Deploy.MaxWait < c.Deploy.PollInterval:
		return fmt.Errorf("config: SITEPUBLISH_MAX_WAIT (%s) must not be shorter than SITEPUBLISH_POLL_INTERVAL (%s)",
			c.Deploy.MaxWait, c.Deploy.PollInterval)
	case c.Bucket.MaxRetries < 0:
		return fmt.Errorf("config: SITEPUBLISH_BUCKET_MAX_RETRIES must not be negative")
	case c.API.URL != "" && c.Bucket.Type != "":
		return fmt.Errorf("config: set SITEPUBLISH_API_URL or SITEPUBLISH_BUCKET_TYPE, not both")
	}
	return nil
}

// HostKind reports which host the environment selects: "api", "bucket"
// or "" when neither is configured.
func (c *Config) HostKind() string {
	switch {
	case c.API.URL != "":
		return "api"
	case c.Bucket.Type != "":
		return "bucket"
	}
	return ""
}

// Package config centralizes how QRescue reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. QRESCUE_ADDRESS.
const Prefix = "QRESCUE"

// Deployment modes.
const (
	ModeStateless  = "stateless"
	ModePersistent = "persistent"
)

// Phone validity policies.
const (
	PhonePermissive = "permissive"
	PhoneStrict     = "strict"
)

// Persistence backends used in persistent mode.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Location dispatch strategies.
const (
	DispatchInline = "inline"
	DispatchPool   = "pool"
	DispatchQueue  = "queue"
)

// Photo blob backends.
const (
	PhotosDisk = "disk"
	PhotosS3   = "s3"
)

// Config represents runtime configuration for the service. Struct tags tell
// envconfig which variable feeds each field and what the default is.
type Config struct {
	Address string `envconfig:"ADDRESS" default:":8080"`
	// BaseURL is only used to build absolute links; empty means relative.
	BaseURL     string `envconfig:"BASE_URL"`
	DeployMode  string `envconfig:"DEPLOY_MODE" default:"stateless"`
	PhonePolicy string `envconfig:"PHONE_POLICY" default:"permissive"`

	PersistBackend string `envconfig:"PERSIST_BACKEND" default:"file"`
	DataDir        string `envconfig:"DATA_DIR" default:"./data"`
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	RedisAddr      string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`

	LocationDispatch string `envconfig:"LOCATION_DISPATCH" default:"inline"`
	ProcessingPool   int    `envconfig:"WORKERS" default:"2"`

	MaxPhotoSize      int64    `envconfig:"MAX_PHOTO_BYTES" default:"10485760"`
	AllowedPhotoTypes []string `envconfig:"ALLOWED_PHOTO_TYPES" default:"image/jpeg,image/png,image/webp,image/gif"`
	PhotoBackend      string   `envconfig:"PHOTO_BACKEND" default:"disk"`
	PhotoDir          string   `envconfig:"PHOTO_DIR" default:"./data/photos"`
	S3Endpoint        string   `envconfig:"S3_ENDPOINT" default:"localhost:9000"`
	S3AccessKey       string   `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey       string   `envconfig:"S3_SECRET_KEY"`
	S3UseSSL          bool     `envconfig:"S3_USE_SSL" default:"false"`
	S3Region          string   `envconfig:"S3_REGION" default:"us-east-1"`
	PhotoBucket       string   `envconfig:"PHOTO_BUCKET" default:"qrescue-photos"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads configuration from environment variables falling back to
// defaults, then validates the enumerated settings.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Persistent reports whether the store writes through to durable storage.
func (c *Config) Persistent() bool {
	return c.DeployMode == ModePersistent
}

// Validate checks every enumerated setting.
func (c *Config) Validate() error {
	checks := []struct {
		name    string
		value   string
		allowed []string
	}{
		{"DEPLOY_MODE", c.DeployMode, []string{ModeStateless, ModePersistent}},
		{"PHONE_POLICY", c.PhonePolicy, []string{PhonePermissive, PhoneStrict}},
		{"PERSIST_BACKEND", c.PersistBackend, []string{BackendFile, BackendPostgres, BackendRedis}},
		{"LOCATION_DISPATCH", c.LocationDispatch, []string{DispatchInline, DispatchPool, DispatchQueue}},
		{"PHOTO_BACKEND", c.PhotoBackend, []string{PhotosDisk, PhotosS3}},
	}
	for _, chk := range checks {
		if !contains(chk.allowed, chk.value) {
			return fmt.Errorf("%s_%s: %q is not one of %s", Prefix, chk.name, chk.value, strings.Join(chk.allowed, ", "))
		}
	}
	if c.Persistent() && c.PersistBackend == BackendPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("%s_DATABASE_URL is required for the postgres backend", Prefix)
	}
	if c.MaxPhotoSize <= 0 {
		return fmt.Errorf("%s_MAX_PHOTO_BYTES must be positive", Prefix)
	}
	return nil
}

func (c *Config) normalize() {
	c.DeployMode = strings.ToLower(strings.TrimSpace(c.DeployMode))
	c.PhonePolicy = strings.ToLower(strings.TrimSpace(c.PhonePolicy))
	c.PersistBackend = strings.ToLower(strings.TrimSpace(c.PersistBackend))
	c.LocationDispatch = strings.ToLower(strings.TrimSpace(c.LocationDispatch))
	c.PhotoBackend = strings.ToLower(strings.TrimSpace(c.PhotoBackend))
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	for i := range c.AllowedPhotoTypes {
		c.AllowedPhotoTypes[i] = strings.TrimSpace(c.AllowedPhotoTypes[i])
	}
	if c.ProcessingPool <= 0 {
		c.ProcessingPool = 2
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Package config loads the agent configuration: defaults, then an optional
// YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jun/gophvault/internal/blob"
	"gopkg.in/yaml.v3"
)

// Document store drivers.
const (
	DriverMemory   = "memory"
	DriverDynamoDB = "dynamodb"
	DriverPostgres = "postgres"
)

type Config struct {
	DevMode    bool   `yaml:"dev_mode"`
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	// SSM parameter names; resolved from the environment in DEV_MODE.
	JWTSecretParam string `yaml:"jwt_secret_param"`
	KMSKeyID       string `yaml:"kms_key_id"`

	Google   GoogleConfig   `yaml:"google"`
	Docstore DocstoreConfig `yaml:"docstore"`
	Blob     BlobConfig     `yaml:"blob"`
	Transfer TransferConfig `yaml:"transfer"`
	Server   ServerConfig   `yaml:"server"`

	AccountLocksTable string        `yaml:"account_locks_table"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
}

type GoogleConfig struct {
	ClientID          string `yaml:"client_id"`
	ClientSecretParam string `yaml:"client_secret_param"`
	RedirectURL       string `yaml:"redirect_url"`
}

type DocstoreConfig struct {
	Driver      string `yaml:"driver"`
	TablePrefix string `yaml:"table_prefix"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type BlobConfig struct {
	Backend string   `yaml:"backend"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type TransferConfig struct {
	ChunkSize   int64 `yaml:"chunk_size"`
	MaxParallel int   `yaml:"max_parallel"`
}

type ServerConfig struct {
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ListenAddr:     ":8080",
		LogLevel:       "info",
		LogFormat:      "json",
		JWTSecretParam: "/gophvault/jwt-secret",
		KMSKeyID:       "alias/gophvault-token-key",
		Google: GoogleConfig{
			ClientSecretParam: "/gophvault/google-client-secret",
			RedirectURL:       "http://localhost:8080/auth/drive/callback",
		},
		Docstore: DocstoreConfig{
			Driver:      DriverMemory,
			TablePrefix: "gophvault-",
		},
		Blob: BlobConfig{
			Backend: blob.KindMemory.String(),
			S3:      S3Config{Region: "us-east-1"},
		},
		Transfer: TransferConfig{
			ChunkSize:   64 << 20,
			MaxParallel: 4,
		},
		Server: ServerConfig{
			ReadTimeout:       5 * time.Minute,
			WriteTimeout:      5 * time.Minute,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxBodyBytes:      1 << 30,
		},
		AccountLocksTable: "AccountLocks",
		SessionTTL:        12 * time.Hour,
	}
}

// Load reads path (if set and present), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromEnv(cfg *Config) error {
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("DEV_MODE"); v != "" {
		cfg.DevMode = v == "true"
	}
	setString("LISTEN_ADDR", &cfg.ListenAddr)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("LOG_FORMAT", &cfg.LogFormat)
	setString("JWT_SECRET_PARAM", &cfg.JWTSecretParam)
	setString("KMS_KEY_ID", &cfg.KMSKeyID)
	setString("GOOGLE_CLIENT_ID", &cfg.Google.ClientID)
	setString("GOOGLE_CLIENT_SECRET_PARAM", &cfg.Google.ClientSecretParam)
	setString("GOOGLE_REDIRECT_URL", &cfg.Google.RedirectURL)
	setString("DOCSTORE_DRIVER", &cfg.Docstore.Driver)
	setString("DOCSTORE_TABLE_PREFIX", &cfg.Docstore.TablePrefix)
	setString("POSTGRES_DSN", &cfg.Docstore.PostgresDSN)
	setString("BLOB_BACKEND", &cfg.Blob.Backend)
	setString("S3_BUCKET", &cfg.Blob.S3.Bucket)
	setString("S3_REGION", &cfg.Blob.S3.Region)
	setString("S3_ENDPOINT", &cfg.Blob.S3.Endpoint)
	setString("S3_ACCESS_KEY_ID", &cfg.Blob.S3.AccessKeyID)
	setString("S3_SECRET_ACCESS_KEY", &cfg.Blob.S3.SecretAccessKey)
	setString("ACCOUNT_LOCKS_TABLE", &cfg.AccountLocksTable)

	if v := os.Getenv("TRANSFER_CHUNK_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TRANSFER_CHUNK_SIZE: %w", err)
		}
		cfg.Transfer.ChunkSize = n
	}
	if v := os.Getenv("TRANSFER_MAX_PARALLEL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TRANSFER_MAX_PARALLEL: %w", err)
		}
		cfg.Transfer.MaxParallel = n
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SESSION_TTL: %w", err)
		}
		cfg.SessionTTL = d
	}
	return nil
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid log_format: %s (must be json or text)", c.LogFormat)
	}

	switch c.Docstore.Driver {
	case DriverMemory, DriverDynamoDB:
	case DriverPostgres:
		if c.Docstore.PostgresDSN == "" {
			return fmt.Errorf("docstore.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid docstore.driver: %s", c.Docstore.Driver)
	}

	kind, err := blob.ParseKind(c.Blob.Backend)
	if err != nil {
		return fmt.Errorf("invalid blob.backend: %w", err)
	}
	if kind == blob.KindS3 && c.Blob.S3.Bucket == "" {
		return fmt.Errorf("blob.s3.bucket is required for the s3 backend")
	}
	if kind == blob.KindGoogleDrive && c.Google.ClientID == "" {
		return fmt.Errorf("google.client_id is required for the googledrive backend")
	}

	if c.Transfer.ChunkSize <= 0 {
		return fmt.Errorf("transfer.chunk_size must be positive")
	}
	if c.Transfer.MaxParallel <= 0 {
		return fmt.Errorf("transfer.max_parallel must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}
	return nil
}

// BlobKind returns the configured backend. Validate has already checked it.
func (c *Config) BlobKind() blob.Kind {
	kind, _ := blob.ParseKind(c.Blob.Backend)
	return kind
}

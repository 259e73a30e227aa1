package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ehr/medrecords/internal/platform/hipaa"
)

// minSigningKeyLen is the shortest HS256 secret accepted outside development.
const minSigningKeyLen = 32

type Config struct {
	Port                    string   `mapstructure:"PORT"`
	Env                     string   `mapstructure:"ENV"`
	DatabaseURL             string   `mapstructure:"DATABASE_URL"`
	DBMaxConns              int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns              int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins             []string `mapstructure:"CORS_ORIGINS"`
	IdentifierEncryptionKey string   `mapstructure:"IDENTIFIER_ENCRYPTION_KEY"`
	IdentifierIndexMode     string   `mapstructure:"IDENTIFIER_INDEX_MODE"`
	AuthSigningKey          string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer              string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience            string   `mapstructure:"AUTH_AUDIENCE"`
	UploadMaxSize           int64    `mapstructure:"UPLOAD_MAX_SIZE"`
	MigrationsDir           string   `mapstructure:"MIGRATIONS_DIR"`
	BlobDir                 string   `mapstructure:"BLOB_DIR"`
	BlobS3Bucket            string   `mapstructure:"BLOB_S3_BUCKET"`
	BlobS3Prefix            string   `mapstructure:"BLOB_S3_PREFIX"`
	BlobS3Endpoint          string   `mapstructure:"BLOB_S3_ENDPOINT"`
}

var envKeys = []string{
	"PORT",
	"ENV",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"CORS_ORIGINS",
	"IDENTIFIER_ENCRYPTION_KEY",
	"IDENTIFIER_INDEX_MODE",
	"AUTH_SIGNING_KEY",
	"AUTH_ISSUER",
	"AUTH_AUDIENCE",
	"UPLOAD_MAX_SIZE",
	"MIGRATIONS_DIR",
	"BLOB_DIR",
	"BLOB_S3_BUCKET",
	"BLOB_S3_PREFIX",
	"BLOB_S3_ENDPOINT",
}

// Load reads configuration from the environment and an optional .env file.
// It does not validate; callers that need a database or keys call Validate.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("IDENTIFIER_INDEX_MODE", hipaa.IndexModeSHA256)
	v.SetDefault("AUTH_ISSUER", "medrecords")
	v.SetDefault("UPLOAD_MAX_SIZE", 52428800)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("BLOB_S3_PREFIX", "reports/")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}
	cfg.IdentifierIndexMode = strings.ToLower(strings.TrimSpace(cfg.IdentifierIndexMode))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to serve with. Outside
// development a signing key is mandatory; in production the identifier key
// must be supplied rather than generated at startup.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.UploadMaxSize <= 0 {
		return fmt.Errorf("UPLOAD_MAX_SIZE must be positive, got %d", c.UploadMaxSize)
	}
	if c.BlobDir != "" && c.BlobS3Bucket != "" {
		return fmt.Errorf("BLOB_DIR and BLOB_S3_BUCKET are mutually exclusive")
	}

	switch c.IdentifierIndexMode {
	case hipaa.IndexModeSHA256, hipaa.IndexModeHMAC:
	default:
		return fmt.Errorf("IDENTIFIER_INDEX_MODE must be %q or %q, got %q",
			hipaa.IndexModeSHA256, hipaa.IndexModeHMAC, c.IdentifierIndexMode)
	}

	if c.IsProduction() && c.IdentifierEncryptionKey == "" {
		return fmt.Errorf("IDENTIFIER_ENCRYPTION_KEY is required in production")
	}
	if c.IdentifierEncryptionKey != "" {
		if _, err := hipaa.ParseKey(c.IdentifierEncryptionKey); err != nil {
			return fmt.Errorf("IDENTIFIER_ENCRYPTION_KEY: %w", err)
		}
	}

	if !c.IsDev() {
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
		}
		if len(c.AuthSigningKey) < minSigningKeyLen {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least %d bytes", minSigningKeyLen)
		}
	}

	return nil
}

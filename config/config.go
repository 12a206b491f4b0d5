package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Voting   VotingConfig
	AWS      AWSConfig
	Email    EmailConfig
	Client   ClientConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	PublicBaseURL      string // used to build vote links sent by email
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds access and refresh token settings.
type JWTConfig struct {
	Secret            string
	AccessTTLMinutes  int
	RefreshTTLHours   int
	RefreshTokenBytes int
}

// AccessTTL returns the access token lifetime.
func (c JWTConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessTTLMinutes) * time.Minute
}

// RefreshTTL returns the refresh token lifetime.
func (c JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLHours) * time.Hour
}

// VotingConfig controls the vote storage backend.
type VotingConfig struct {
	StorageDriver    string // "postgres" or "memory"
	CommitTimeoutSec int
	MaxBulkLinks     int
}

// CommitTimeout bounds a single vote submission transaction.
func (c VotingConfig) CommitTimeout() time.Duration {
	return time.Duration(c.CommitTimeoutSec) * time.Second
}

// AWSConfig holds AWS credentials and the exports bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ExportsBucket        string
	PresignExpireMinutes int
}

// EmailConfig for SMTP delivery of vote invitations.
type EmailConfig struct {
	FromAddress string
	FromName    string
	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
}

// ClientConfig configures pkg/apiclient consumers (admin tooling, integration jobs).
type ClientConfig struct {
	BaseURL           string
	SessionKey        string
	RefreshTimeoutSec int
}

// RefreshTimeout bounds a single credential refresh round trip.
func (c ClientConfig) RefreshTimeout() time.Duration {
	return time.Duration(c.RefreshTimeoutSec) * time.Second
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "polls"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 0)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", "change-me-in-production"),
			AccessTTLMinutes:  getEnvInt("JWT_ACCESS_TTL_MINUTES", 15),
			RefreshTTLHours:   getEnvInt("JWT_REFRESH_TTL_HOURS", 24*7),
			RefreshTokenBytes: getEnvInt("JWT_REFRESH_TOKEN_BYTES", 32),
		},
		Voting: VotingConfig{
			StorageDriver:    getEnv("VOTE_STORAGE_DRIVER", "postgres"),
			CommitTimeoutSec: getEnvInt("VOTE_COMMIT_TIMEOUT_SEC", 5),
			MaxBulkLinks:     getEnvInt("VOTE_MAX_BULK_LINKS", 500),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ExportsBucket:        getEnv("AWS_S3_EXPORTS_BUCKET", "poll-exports"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Email: EmailConfig{
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "noreply@example.com"),
			FromName:    getEnv("EMAIL_FROM_NAME", "Aura Polls"),
			SMTPHost:    getEnv("SMTP_HOST", ""),
			SMTPPort:    getEnvInt("SMTP_PORT", 587),
			SMTPUser:    getEnv("SMTP_USER", ""),
			SMTPPass:    getEnv("SMTP_PASS", ""),
		},
		Client: ClientConfig{
			BaseURL:           getEnv("API_BASE_URL", "http://localhost:8080"),
			SessionKey:        getEnv("API_SESSION_KEY", "default"),
			RefreshTimeoutSec: getEnvInt("API_REFRESH_TIMEOUT_SEC", 10),
		},
	}

	switch cfg.Voting.StorageDriver {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("invalid VOTE_STORAGE_DRIVER %q", cfg.Voting.StorageDriver)
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

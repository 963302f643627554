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
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Webex     WebexConfig
	AWS       AWSConfig
	Recording RecordingConfig
	Email     EmailConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
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
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds settings for validating host-issued bearer tokens.
type JWTConfig struct {
	Secret string
}

// WebexConfig holds the conferencing site and admin credentials.
type WebexConfig struct {
	SiteName      string // {site}.webex.com
	AdminUsername string
	AdminPassword string
	PartnerID     string
	CallTimeout   time.Duration
	SecretKey     string // key material for encrypting per-user remote passwords
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	PresignExpireMinutes int
}

// DownloadPolicy controls which recordings are fetched into local storage.
type DownloadPolicy string

const (
	DownloadNone       DownloadPolicy = "none"
	DownloadAssociated DownloadPolicy = "associated"
	DownloadAll        DownloadPolicy = "all"
)

// NotifyPolicy controls which recordings trigger an email.
type NotifyPolicy string

const (
	NotifyNone         NotifyPolicy = "none"
	NotifyAssociated   NotifyPolicy = "associated"
	NotifyUnassociated NotifyPolicy = "unassociated"
	NotifyAll          NotifyPolicy = "all"
)

// RecordingConfig holds recording lifecycle settings.
type RecordingConfig struct {
	DownloadPolicy   DownloadPolicy
	NotifyPolicy     NotifyPolicy
	DeleteAfterFetch bool          // remove the provider copy once internalized
	GraceMinutes     int           // meeting availability window past scheduled end
	TrashHoldDays    int           // soft-delete retention before hard delete
	PollInterval     time.Duration // remote recording discovery interval
	StatusInterval   time.Duration // open-session status sweep interval
	DownloadTimeout  time.Duration // artifact fetch timeout
	PollWindowBuffer time.Duration // look-behind added to the last poll mark
}

// EmailConfig holds SMTP settings and the notification template.
type EmailConfig struct {
	FromAddress     string
	FromName        string
	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPass        string
	SubjectTemplate string
	BodyTemplate    string
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// ServiceURL returns the vendor XML service endpoint for the configured site.
func (c WebexConfig) ServiceURL() string {
	return fmt.Sprintf("https://%s.webex.com/WBXService/XMLService", c.SiteName)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/campusconf?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "campusconf"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
		},
		Webex: WebexConfig{
			SiteName:      getEnv("WEBEX_SITE_NAME", ""),
			AdminUsername: getEnv("WEBEX_ADMIN_USERNAME", ""),
			AdminPassword: getEnv("WEBEX_ADMIN_PASSWORD", ""),
			PartnerID:     getEnv("WEBEX_PARTNER_ID", ""),
			CallTimeout:   time.Duration(getEnvInt("WEBEX_CALL_TIMEOUT_SEC", 120)) * time.Second,
			SecretKey:     getEnv("WEBEX_SECRET_KEY", ""),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", "campusconf-recordings"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Recording: RecordingConfig{
			DownloadPolicy:   DownloadPolicy(getEnv("RECORDING_DOWNLOAD_POLICY", string(DownloadAssociated))),
			NotifyPolicy:     NotifyPolicy(getEnv("RECORDING_NOTIFY_POLICY", string(NotifyAssociated))),
			DeleteAfterFetch: getEnv("RECORDING_DELETE_AFTER_FETCH", "false") == "true",
			GraceMinutes:     getEnvInt("MEETING_GRACE_MINUTES", 60),
			TrashHoldDays:    getEnvInt("RECORDING_TRASH_HOLD_DAYS", 14),
			PollInterval:     time.Duration(getEnvInt("RECORDING_POLL_INTERVAL_SEC", 900)) * time.Second,
			StatusInterval:   time.Duration(getEnvInt("MEETING_STATUS_INTERVAL_SEC", 300)) * time.Second,
			DownloadTimeout:  time.Duration(getEnvInt("RECORDING_DOWNLOAD_TIMEOUT_SEC", 1800)) * time.Second,
			PollWindowBuffer: time.Duration(getEnvInt("RECORDING_POLL_BUFFER_HOURS", 24)) * time.Hour,
		},
		Email: EmailConfig{
			FromAddress:     getEnv("EMAIL_FROM_ADDRESS", "noreply@example.com"),
			FromName:        getEnv("EMAIL_FROM_NAME", "Campus Conferencing"),
			SMTPHost:        getEnv("SMTP_HOST", ""),
			SMTPPort:        getEnvInt("SMTP_PORT", 587),
			SMTPUser:        getEnv("SMTP_USER", ""),
			SMTPPass:        getEnv("SMTP_PASS", ""),
			SubjectTemplate: getEnv("NOTIFY_SUBJECT_TEMPLATE", "Recording available: {{.Recording.Name}}"),
			BodyTemplate: getEnv("NOTIFY_BODY_TEMPLATE",
				"The recording \"{{.Recording.Name}}\" created {{.Recording.TimeCreated}} has been updated.\n"+
					"Stream: {{.Recording.StreamURL}}\nDownload: {{.Recording.FileURL}}\n"),
		},
	}

	if cfg.Webex.SiteName == "" {
		return nil, fmt.Errorf("WEBEX_SITE_NAME is required")
	}
	if strings.Contains(cfg.Webex.SiteName, ".") {
		return nil, fmt.Errorf("WEBEX_SITE_NAME must be the bare subdomain, got %q", cfg.Webex.SiteName)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

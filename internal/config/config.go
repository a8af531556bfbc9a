package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port               string
	DBConn             string
	LogLevel           string
	ExportDir          string
	ExportWorkers      int
	JobStaleAfter      time.Duration
	GoogleTokenInfoURL string
	SMTPHost           string
	SMTPPort           string
	SMTPUsername       string
	SMTPPassword       string
	SenderEmail        string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DBConn:             getEnv("DB_CONN", "host=localhost port=5432 user=test password=test dbname=users sslmode=disable"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		ExportDir:          getEnv("EXPORT_DIR", "./exports"),
		GoogleTokenInfoURL: getEnv("GOOGLE_TOKENINFO_URL", "https://oauth2.googleapis.com/tokeninfo"),
		SMTPHost:           getEnv("SMTP_HOST", ""),
		SMTPPort:           getEnv("SMTP_PORT", "587"),
		SMTPUsername:       getEnv("SMTP_USERNAME", ""),
		SMTPPassword:       getEnv("SMTP_PASSWORD", ""),
		SenderEmail:        getEnv("SENDER_EMAIL", "noreply@example.com"),
	}

	workers, err := strconv.Atoi(getEnv("EXPORT_WORKERS", "4"))
	if err != nil || workers < 1 {
		return nil, fmt.Errorf("EXPORT_WORKERS must be a positive integer")
	}
	cfg.ExportWorkers = workers

	staleAfter, err := time.ParseDuration(getEnv("JOB_STALE_AFTER", "10m"))
	if err != nil || staleAfter <= 0 {
		return nil, fmt.Errorf("JOB_STALE_AFTER must be a positive duration")
	}
	cfg.JobStaleAfter = staleAfter

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"drowsiness-monitor/backend/internal/log"
	"drowsiness-monitor/backend/internal/models"

	"github.com/joho/godotenv"
)

type Config struct {
	GRPCPort         string
	HTTPPort         string
	DetectorURL      string
	CORSOrigins      string
	AdminTokenHash   string
	MaxMessageSizeMB int
	LogLevel         string
	Environment      string

	DBEnabled  bool
	DBName     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	Pipeline Pipeline
}

func (p *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBPassword, p.DBName, p.DBSSLMode)
}

// DSNForLog returns the DSN with the password masked.
func (p *Config) DSNForLog() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=*** dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBName, p.DBSSLMode)
}

func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

func LoadConfig() (*Config, error) {
	// .env is optional; the process environment always wins.
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using system environment variables")
	}

	cfg := &Config{
		GRPCPort:         getEnv("GRPC_PORT", "50051"),
		HTTPPort:         getEnv("HTTP_PORT", "8081"),
		DetectorURL:      getEnv("DETECTOR_URL", ""),
		CORSOrigins:      getEnv("CORS_ORIGINS", "*"),
		AdminTokenHash:   getEnv("ADMIN_TOKEN_HASH", ""),
		MaxMessageSizeMB: getEnvInt("MAX_MESSAGE_SIZE_MB", 16),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Environment:      getEnv("ENVIRONMENT", "production"),
		DBEnabled:        getEnvBool("DB_ENABLED", false),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnv("DB_PORT", "5432"),
		DBUser:           getEnv("DB_USER", "postgres"),
		DBPassword:       getEnv("DB_PASSWORD", ""),
		DBName:           getEnv("DB_NAME", "drowsiness"),
		DBSSLMode:        getEnv("DB_SSLMODE", "disable"),
	}

	pipeline, err := loadPipeline()
	if err != nil {
		return nil, err
	}
	cfg.Pipeline = pipeline

	if cfg.DBEnabled && cfg.DBPassword == "" {
		log.Warn("DB_PASSWORD is not set")
	}
	if cfg.AdminTokenHash == "" {
		log.Warn("ADMIN_TOKEN_HASH is not set, write endpoints are disabled")
	}

	return cfg, nil
}

func loadPipeline() (Pipeline, error) {
	def := DefaultPipeline()

	delegate := def.Delegate
	if v := os.Getenv("ACCELERATOR_DELEGATE"); v != "" {
		d, err := models.ParseDelegate(v)
		if err != nil {
			return Pipeline{}, err
		}
		delegate = d
	}

	p := def.
		WithEARThreshold(getEnvFloat("EAR_THRESHOLD", def.EARThreshold)).
		WithWindow(getEnvInt("WINDOW_SECONDS", def.WindowSeconds), getEnvInt("FRAME_RATE_HINT", def.FrameRateHint)).
		WithDelegate(delegate).
		WithTopology(getEnv("LANDMARK_TOPOLOGY", def.Topology)).
		WithLabelThresholds(
			getEnvFloat("PERCLOS_DROWSY_PCT", def.DrowsyPercent),
			getEnvFloat("PERCLOS_FATIGUE_PCT", def.FatiguePercent),
		)

	if err := p.Validate(); err != nil {
		return Pipeline{}, fmt.Errorf("pipeline config: %w", err)
	}
	return p, nil
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
		log.Warn("invalid integer in environment, using default", "key", key, "value", v)
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Warn("invalid number in environment, using default", "key", key, "value", v)
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return defaultVal
}

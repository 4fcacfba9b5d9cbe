package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// DefaultSensitivePaths are the endpoints whose repeated access gets an IP flagged.
var DefaultSensitivePaths = []string{"/admin", "/login", "/api/auth", "/api/users"}

// Detection holds the thresholds used by the anomaly sweep.
type Detection struct {
	HighRequestThreshold   int64
	SensitivePathThreshold int64
	Window                 time.Duration
	InactivityThreshold    time.Duration
	SensitivePaths         []string
}

// Retention controls how long request logs are kept.
type Retention struct {
	MaxAge time.Duration
}

// Geolocation configures the geolocation resolver and its cache.
type Geolocation struct {
	DBPath   string
	RedisURL string
	TTL      time.Duration
	Timeout  time.Duration
}

// Schedule holds the cron expressions for the periodic jobs.
type Schedule struct {
	AnomalySweep string
	LogCleanup   string
	Timezone     string
}

type Config struct {
	Port               string
	DBConnectionString string
	LogLevel           string
	TrustForwardedFor  bool
	StoreTimeout       time.Duration
	AdminRateLimit     float64 // requests per minute
	AdminRateBurst     int

	Detection   Detection
	Retention   Retention
	Geolocation Geolocation
	Schedule    Schedule
}

// Default returns the production thresholds without reading the environment.
func Default() Config {
	return Config{
		Port:              "8080",
		LogLevel:          "info",
		TrustForwardedFor: true,
		StoreTimeout:      2 * time.Second,
		AdminRateLimit:    10,
		AdminRateBurst:    10,
		Detection: Detection{
			HighRequestThreshold:   100,
			SensitivePathThreshold: 5,
			Window:                 time.Hour,
			InactivityThreshold:    24 * time.Hour,
			SensitivePaths:         append([]string(nil), DefaultSensitivePaths...),
		},
		Retention: Retention{
			MaxAge: 30 * 24 * time.Hour,
		},
		Geolocation: Geolocation{
			TTL:     24 * time.Hour,
			Timeout: 500 * time.Millisecond,
		},
		Schedule: Schedule{
			AnomalySweep: "0 * * * *",
			LogCleanup:   "0 2 * * *",
			Timezone:     "UTC",
		},
	}
}

func LoadConfig() Config {
	err := godotenv.Load()
	if err != nil {
		log.Info("No .env file found, relying on environment variables")
	}

	def := Default()

	return Config{
		Port:               getEnv("PORT", def.Port),
		DBConnectionString: getEnv("DB_CONNECTION_STRING", ""),
		LogLevel:           getEnv("LOG_LEVEL", def.LogLevel),
		TrustForwardedFor:  getEnvBool("TRUST_FORWARDED_FOR", def.TrustForwardedFor),
		StoreTimeout:       getEnvDuration("STORE_TIMEOUT", def.StoreTimeout),
		AdminRateLimit:     getEnvFloat("ADMIN_RATE_LIMIT", def.AdminRateLimit),
		AdminRateBurst:     getEnvInt("ADMIN_RATE_BURST", def.AdminRateBurst),
		Detection: Detection{
			HighRequestThreshold:   int64(getEnvInt("HIGH_REQUEST_THRESHOLD", int(def.Detection.HighRequestThreshold))),
			SensitivePathThreshold: int64(getEnvInt("SENSITIVE_PATH_THRESHOLD", int(def.Detection.SensitivePathThreshold))),
			Window:                 getEnvDuration("DETECTION_WINDOW", def.Detection.Window),
			InactivityThreshold:    getEnvDuration("INACTIVITY_THRESHOLD", def.Detection.InactivityThreshold),
			SensitivePaths:         getEnvList("SENSITIVE_PATHS", def.Detection.SensitivePaths),
		},
		Retention: Retention{
			MaxAge: getEnvDuration("LOG_RETENTION", def.Retention.MaxAge),
		},
		Geolocation: Geolocation{
			DBPath:   getEnv("GEOIP_DB_PATH", ""),
			RedisURL: getEnv("REDIS_URL", ""),
			TTL:      getEnvDuration("GEOLOCATION_TTL", def.Geolocation.TTL),
			Timeout:  getEnvDuration("GEOLOCATION_TIMEOUT", def.Geolocation.Timeout),
		},
		Schedule: Schedule{
			AnomalySweep: getEnv("ANOMALY_SWEEP_CRON", def.Schedule.AnomalySweep),
			LogCleanup:   getEnv("LOG_CLEANUP_CRON", def.Schedule.LogCleanup),
			Timezone:     getEnv("SCHEDULER_TIMEZONE", def.Schedule.Timezone),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Warn("Invalid integer in environment, using default", "key", key, "value", value)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
		log.Warn("Invalid number in environment, using default", "key", key, "value", value)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		log.Warn("Invalid boolean in environment, using default", "key", key, "value", value)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
		log.Warn("Invalid duration in environment, using default", "key", key, "value", value)
	}
	return fallback
}

// getEnvList splits a comma separated value, dropping empty entries.
func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return append([]string(nil), fallback...)
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}

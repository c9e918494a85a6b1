package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                string
	AllowedOrigin       string
	BackendBaseURL      string
	BackendTimeout      time.Duration
	AuthSecret          string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	MenuCacheTTLSeconds int
	OutputDir           string
	LogLevel            string
	LogFormat           string
	RateLimitRPS        float64
	RateLimitBurst      int
	ReportTimezone      string
}

// Load reads the process environment after applying an optional .env file.
// Variables already set in the environment win over the file.
func Load() Config {
	_ = godotenv.Load()
	return fromEnv()
}

func fromEnv() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	timeout, err := strconv.Atoi(getEnv("BACKEND_TIMEOUT_SECONDS", "10"))
	if err != nil || timeout < 1 {
		timeout = 10
	}
	ttl, err := strconv.Atoi(getEnv("MENU_CACHE_TTL_SECONDS", "60"))
	if err != nil || ttl < 1 {
		ttl = 60
	}
	rps, err := strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "20"), 64)
	if err != nil || rps <= 0 {
		rps = 20
	}
	burst, err := strconv.Atoi(getEnv("RATE_LIMIT_BURST", "40"))
	if err != nil || burst < 1 {
		burst = 40
	}

	return Config{
		Port:                getEnv("PORT", "8090"),
		AllowedOrigin:       getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		BackendBaseURL:      strings.TrimRight(getEnv("BACKEND_BASE_URL", "http://localhost:8080/api/auth"), "/"),
		BackendTimeout:      time.Duration(timeout) * time.Second,
		AuthSecret:          strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             redisDB,
		MenuCacheTTLSeconds: ttl,
		OutputDir:           getEnv("OUTPUT_DIR", "documents"),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(getEnv("LOG_FORMAT", "text")),
		RateLimitRPS:        rps,
		RateLimitBurst:      burst,
		ReportTimezone:      getEnv("REPORT_TIMEZONE", "Local"),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) MenuCacheTTL() time.Duration {
	return time.Duration(c.MenuCacheTTLSeconds) * time.Second
}

// Location resolves ReportTimezone, falling back to the host zone.
func (c Config) Location() (*time.Location, error) {
	if c.ReportTimezone == "" || strings.EqualFold(c.ReportTimezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.ReportTimezone)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

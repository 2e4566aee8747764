package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every runtime knob for the scheduling core. It is loaded
// once at startup from the environment, the same way the teacher loads its
// platform credentials.
type Config struct {
	PostgresURI  string
	DatabaseName string
	RedisURI     string
	FrontendURL  string
	SecretKey    string
	PlatformBaseURL string

	// Scheduler / leaser knobs (spec.md §4.6, §5).
	TickInterval time.Duration
	LeaseTTL     time.Duration
	BatchSize    int

	// PublishFSM knobs (spec.md §4.7).
	MaxRetries     int
	PollInitial    time.Duration
	PollFactor     float64
	PollCap        time.Duration
	PollMaxWait    time.Duration
	PublishTimeout time.Duration

	// AutoPauseAfterFails freezes an account once this many of its most
	// recent posts all landed on failed with retry_count >= 2; 0 disables
	// the check. Mirrors the original worker's PAUSE_ON_CONSEC_FAILS.
	AutoPauseAfterFails int

	// Schedule-time spacing/daily-cap knobs, read by PostService for
	// create and move. The governor and planner use their own fixed caps.
	DailyPostCap int
	MinSpacing   time.Duration
}

func LoadConfig() *Config {
	return &Config{
		PostgresURI:  getEnv("POSTGRES_URI", ""),
		DatabaseName: getEnv("DATABASE_NAME", ""),
		RedisURI:     getEnv("REDIS_URI", ""),
		FrontendURL:  getEnv("FRONTEND_URL", "http://localhost:5173"),
		SecretKey:    getEnv("SECRET_KEY", ""),
		PlatformBaseURL: getEnv("PLATFORM_BASE_URL", "https://graph.facebook.com/v19.0"),

		TickInterval: getEnvDuration("TICK_INTERVAL", 5*time.Second),
		LeaseTTL:     getEnvDuration("LEASE_TTL", 5*time.Minute),
		BatchSize:    getEnvInt("LEASE_BATCH_SIZE", 25),

		MaxRetries:     getEnvInt("MAX_RETRIES", 5),
		PollInitial:    getEnvDuration("POLL_INITIAL", 2*time.Second),
		PollFactor:     2.0,
		PollCap:        getEnvDuration("POLL_CAP", 30*time.Second),
		PollMaxWait:    getEnvDuration("POLL_MAX_WAIT", 5*time.Minute),
		PublishTimeout: getEnvDuration("PUBLISH_TIMEOUT", 20*time.Second),

		AutoPauseAfterFails: getEnvInt("PAUSE_ON_CONSEC_FAILS", 3),

		DailyPostCap: getEnvInt("DAILY_POST_CAP", 15),
		MinSpacing:   getEnvDuration("MIN_SPACING", 15*time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProviderLimits holds per-window call limits for one upstream provider.
type ProviderLimits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

type Config struct {
	Port        string
	Environment string
	JWTSecret   string

	// Upstream source policy
	UseSimulatedProviders bool
	EnableLiveCalls       bool
	SimulateNetworkDelay  bool
	SimulateFailures      bool
	LiveAPIBaseURL        string
	LiveCallTimeout       time.Duration

	// Quota tracking
	ProviderQuotas map[string]ProviderLimits

	// Cache layer
	CacheMaxEntries int
	CacheDBPath     string
	MongoURI        string

	// Realtime broadcast
	BroadcastInterval time.Duration
	PriceFreshness    time.Duration
	ClientIdleTimeout time.Duration
	MaxClients        int
}

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		JWTSecret:   getEnv("JWT_SECRET", "your-secret-key"),

		UseSimulatedProviders: getEnvBool("USE_SIMULATED_PROVIDERS", false),
		EnableLiveCalls:       getEnvBool("ENABLE_LIVE_CALLS", true),
		SimulateNetworkDelay:  getEnvBool("SIMULATE_NETWORK_DELAY", false),
		SimulateFailures:      getEnvBool("SIMULATE_FAILURES", false),
		LiveAPIBaseURL:        getEnv("LIVE_API_BASE_URL", "https://api-finfo.vndirect.com.vn/v4"),
		LiveCallTimeout:       getEnvDuration("LIVE_CALL_TIMEOUT", 10*time.Second),

		ProviderQuotas: loadProviderQuotas(),

		CacheMaxEntries: getEnvInt("CACHE_MAX_ENTRIES", 1000),
		CacheDBPath:     getEnv("CACHE_DB_PATH", "data/cache.db"),
		MongoURI:        getEnv("MONGODB_URI", ""),

		BroadcastInterval: getEnvDuration("BROADCAST_INTERVAL", 5*time.Second),
		PriceFreshness:    getEnvDuration("PRICE_FRESHNESS", 30*time.Second),
		ClientIdleTimeout: getEnvDuration("CLIENT_IDLE_TIMEOUT", 5*time.Minute),
		MaxClients:        getEnvInt("MAX_WEBSOCKET_CLIENTS", 100),
	}

	return config, nil
}

// loadProviderQuotas returns quota limits for the known upstream providers.
// Limits can be overridden per provider via <PROVIDER>_CALLS_PER_{MINUTE,HOUR,DAY}.
func loadProviderQuotas() map[string]ProviderLimits {
	quotas := map[string]ProviderLimits{
		"vndirect": {PerMinute: 30, PerHour: 500, PerDay: 5000},
		"polygon":  {PerMinute: 5, PerHour: 100, PerDay: 500},
	}

	for name, limits := range quotas {
		prefix := strings.ToUpper(name)
		quotas[name] = ProviderLimits{
			PerMinute: getEnvInt(prefix+"_CALLS_PER_MINUTE", limits.PerMinute),
			PerHour:   getEnvInt(prefix+"_CALLS_PER_HOUR", limits.PerHour),
			PerDay:    getEnvInt(prefix+"_CALLS_PER_DAY", limits.PerDay),
		}
	}

	return quotas
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Invalid boolean for %s: %q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid integer for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid duration for %s: %q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

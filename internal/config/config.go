package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Common
	Env      string
	LogLevel string
	// API
	Port        string
	DatabaseURL string
	// Cache
	CacheBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CurrentTTL    time.Duration
	HistoryTTL    time.Duration
	// Sources
	Provider       string
	BCVURL         string
	BinanceP2PURL  string
	ItalcambiosURL string
	FetchTimeout   time.Duration
	// Scheduler
	UpdateInterval   time.Duration
	Freshness        time.Duration
	ChangeTolerance  string
	HistoryRetention time.Duration
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoiDef(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

// Load reads environment variables and applies defaults.
func Load() Config {
	return Config{
		Env:              getEnv("ENV", "local"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Port:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		CacheBackend:     getEnv("CACHE_BACKEND", "redis"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          atoiDef(getEnv("REDIS_DB", "0"), 0),
		CurrentTTL:       time.Duration(atoiDef(getEnv("CURRENT_TTL_SECONDS", "600"), 600)) * time.Second,
		HistoryTTL:       time.Duration(atoiDef(getEnv("HISTORY_TTL_SECONDS", "300"), 300)) * time.Second,
		Provider:         getEnv("PROVIDER", "live"),
		BCVURL:           getEnv("BCV_URL", "http://www.bcv.org.ve/"),
		BinanceP2PURL:    getEnv("BINANCE_P2P_URL", "https://p2p.binance.com/bapi/c2c/v2/friendly/c2c/adv/search"),
		ItalcambiosURL:   getEnv("ITALCAMBIOS_URL", "https://www.italcambio.com"),
		FetchTimeout:     time.Duration(atoiDef(getEnv("FETCH_TIMEOUT_SECONDS", "30"), 30)) * time.Second,
		UpdateInterval:   time.Duration(atoiDef(getEnv("UPDATE_INTERVAL_SECONDS", "300"), 300)) * time.Second,
		Freshness:        time.Duration(atoiDef(getEnv("FRESHNESS_MINUTES", "30"), 30)) * time.Minute,
		ChangeTolerance:  getEnv("CHANGE_TOLERANCE", "0.0001"),
		HistoryRetention: time.Duration(atoiDef(getEnv("HISTORY_RETENTION_DAYS", "90"), 90)) * 24 * time.Hour,
	}
}

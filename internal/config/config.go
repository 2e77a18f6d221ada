package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StoreID               string
	MarginPercent         float64
	MemberExpiryDays      int
	MemberNearExpiryDays  int
	ReportCacheTTLSeconds int
	AuthSecret            string
	AccessTokenTTLMinutes int
}

// Load reads a .env file if one is present, then the process environment.
// Explicit environment variables win over the file.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	marginPercent, err := strconv.ParseFloat(getEnv("MARGIN_PERCENT", "20"), 64)
	if err != nil || marginPercent < 0 || marginPercent > 100 {
		marginPercent = 20
	}
	expiryDays, err := strconv.Atoi(getEnv("MEMBER_EXPIRY_DAYS", "30"))
	if err != nil || expiryDays < 1 {
		expiryDays = 30
	}
	nearExpiryDays, err := strconv.Atoi(getEnv("MEMBER_NEAR_EXPIRY_DAYS", "23"))
	if err != nil || nearExpiryDays < 1 || nearExpiryDays >= expiryDays {
		nearExpiryDays = expiryDays - 7
		if nearExpiryDays < 1 {
			nearExpiryDays = 1
		}
	}
	reportTTL, err := strconv.Atoi(getEnv("REPORT_CACHE_TTL_SECONDS", "300"))
	if err != nil || reportTTL < 1 {
		reportTTL = 300
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		StoreID:               getEnv("DEFAULT_STORE_ID", "main-store"),
		MarginPercent:         marginPercent,
		MemberExpiryDays:      expiryDays,
		MemberNearExpiryDays:  nearExpiryDays,
		ReportCacheTTLSeconds: reportTTL,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// MarginRate converts the percentage knob into the fraction the pricing
// policy consumes.
func (c Config) MarginRate() float64 {
	return c.MarginPercent / 100
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

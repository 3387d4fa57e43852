package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Env                   string
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	MigrateOnStart        bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	FolioCacheTTL         time.Duration
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	BootstrapAdminUser    string
	BootstrapAdminPass    string
	BusinessTimezone      string
	TaxRatePercent        decimal.Decimal
}

// Load reads an optional .env file and then the process environment, which
// takes precedence.
func Load() Config {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("MIGRATE_ON_START", false)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("FOLIO_CACHE_TTL_SECONDS", 300)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("BOOTSTRAP_ADMIN_USER", "admin")
	v.SetDefault("BUSINESS_TIMEZONE", "America/Mexico_City")
	v.SetDefault("TAX_RATE_PERCENT", "16")

	cacheTTL := v.GetInt("FOLIO_CACHE_TTL_SECONDS")
	if cacheTTL < 1 {
		cacheTTL = 300
	}
	tokenTTL := v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	if tokenTTL < 1 {
		tokenTTL = 480
	}
	taxRate, err := decimal.NewFromString(strings.TrimSpace(v.GetString("TAX_RATE_PERCENT")))
	if err != nil || taxRate.IsNegative() {
		taxRate = decimal.NewFromInt(16)
	}

	return Config{
		Env:                   strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		MigrateOnStart:        v.GetBool("MIGRATE_ON_START"),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		FolioCacheTTL:         time.Duration(cacheTTL) * time.Second,
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(v.GetString("MANAGER_PIN")),
		BootstrapAdminUser:    strings.TrimSpace(v.GetString("BOOTSTRAP_ADMIN_USER")),
		BootstrapAdminPass:    v.GetString("BOOTSTRAP_ADMIN_PASSWORD"),
		BusinessTimezone:      strings.TrimSpace(v.GetString("BUSINESS_TIMEZONE")),
		TaxRatePercent:        taxRate,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

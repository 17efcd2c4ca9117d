package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ignatij/steward/pkg/delivery"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

const (
	DefaultHTTPPort      = "8080"
	DefaultSchedulerCron = "0 * * * *" // Hourly, so rules fire at their own time of day
	DefaultChurchName    = "our church"
)

// Config is the runtime configuration shared by the binaries.
type Config struct {
	DatabaseURL   string
	HTTPPort      string
	ChurchName    string
	Delivery      delivery.Config
	SchedulerCron string
	Location      *time.Location
}

// Load reads .env (when present) and the environment. A missing database
// configuration is not an error here; commands that need a database check
// DatabaseURL themselves.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:   databaseURL(),
		HTTPPort:      getenv("HTTP_PORT", DefaultHTTPPort),
		ChurchName:    getenv("CHURCH_NAME", DefaultChurchName),
		SchedulerCron: getenv("SCHEDULER_CRON", DefaultSchedulerCron),
		Delivery: delivery.Config{
			WebhookURL: os.Getenv("DELIVERY_WEBHOOK_URL"),
		},
		Location: time.Local,
	}

	if raw := os.Getenv("DELIVERY_TIMEOUT"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, errors.Wrapf(err, "invalid DELIVERY_TIMEOUT %q", raw)
		}
		cfg.Delivery.Timeout = timeout
	}
	if tz := os.Getenv("TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Config{}, errors.Wrapf(err, "invalid TIMEZONE %q", tz)
		}
		cfg.Location = loc
	}
	if _, err := cron.ParseStandard(cfg.SchedulerCron); err != nil {
		return Config{}, errors.Wrapf(err, "invalid SCHEDULER_CRON %q", cfg.SchedulerCron)
	}
	return cfg, nil
}

// TemplateVariables are the variables every rendered notification can use.
func (c Config) TemplateVariables() map[string]string {
	return map[string]string{"church_name": c.ChurchName}
}

// databaseURL prefers DATABASE_URL and otherwise builds a URL from the DB_* variables.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	dbUsername := os.Getenv("DB_USERNAME")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := getenv("DB_PORT", "5432")
	dbName := os.Getenv("DB_NAME")
	if dbUsername == "" || dbHost == "" || dbName == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUsername, dbPassword, dbHost, dbPort, dbName)
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

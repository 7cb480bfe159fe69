package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/labtrack/internal/logger"
	"github.com/nkiryanov/labtrack/internal/service/sweeper"
)

const (
	defaultListenAddr     = "localhost:8000"
	defaultLoggingLevel   = logger.LevelInfo
	defaultEnvironment    = logger.EnvProd
	defaultAccessTTL      = 5 * time.Minute
	defaultRefreshTTL     = 7 * 24 * time.Hour
	defaultSweepSchedule  = sweeper.DefaultSchedule
	defaultKafkaTopic     = "auth_events"
	defaultLoginRateLimit = 10
	minSecretKeyLen       = 32
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the labtrack service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret key to sign access tokens, at least 32 chars
	SecretKey string

	// Environment: dev or prod
	// Dev logs as text and shows raw internal errors to clients
	Environment string

	// Tokens lifetime
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Cron schedule of expired refresh tokens cleanup
	SweepSchedule string

	// Audit events are published to kafka if brokers are set
	KafkaBrokers []string
	KafkaTopic   string

	// Login attempts per minute per client IP, zero disables the limit
	LoginRateLimit int
}

func NewConfig() *Config {
	return &Config{
		LogLevel:       defaultLoggingLevel,
		ListenAddr:     defaultListenAddr,
		Environment:    defaultEnvironment,
		AccessTTL:      defaultAccessTTL,
		RefreshTTL:     defaultRefreshTTL,
		SweepSchedule:  defaultSweepSchedule,
		KafkaTopic:     defaultKafkaTopic,
		LoginRateLimit: defaultLoginRateLimit,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			i, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = i
			return nil
		}
	}
	setList := func(o *[]string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = splitList(value)
			}
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":       setString(&c.ListenAddr),
		"DATABASE_URI":      setString(&c.DatabaseDSN),
		"SECRET_KEY":        setString(&c.SecretKey),
		"LOG_LEVEL":         setString(&c.LogLevel),
		"ENVIRONMENT":       setString(&c.Environment),
		"ACCESS_TOKEN_TTL":  setDuration(&c.AccessTTL),
		"REFRESH_TOKEN_TTL": setDuration(&c.RefreshTTL),
		"SWEEP_SCHEDULE":    setString(&c.SweepSchedule),
		"KAFKA_BROKERS":     setList(&c.KafkaBrokers),
		"KAFKA_TOPIC":       setString(&c.KafkaTopic),
		"LOGIN_RATE_LIMIT":  setInt(&c.LoginRateLimit),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("labtrack", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key to sign access tokens")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime")
	fs.StringVar(&c.SweepSchedule, "sweep-schedule", c.SweepSchedule, "Cron schedule of expired refresh tokens cleanup")
	fs.StringSliceVar(&c.KafkaBrokers, "kafka-brokers", c.KafkaBrokers, "Kafka brokers for audit events, comma separated")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", c.KafkaTopic, "Kafka topic for audit events")
	fs.IntVar(&c.LoginRateLimit, "login-rate-limit", c.LoginRateLimit, "Login attempts per minute per IP, 0 to disable")

	return fs.Parse(args)
}

// Validate checks options that have no sane default
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}
	if len(c.SecretKey) < minSecretKeyLen {
		errs = append(errs, fmt.Errorf("secret key is required and must be at least %d chars", minSecretKeyLen))
	}
	if c.Environment != logger.EnvDev && c.Environment != logger.EnvProd {
		errs = append(errs, fmt.Errorf("unknown environment %q", c.Environment))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.LoginRateLimit < 0 {
		errs = append(errs, errors.New("login rate limit must not be negative"))
	}

	return errors.Join(errs...)
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Debug mode shows raw internal errors to clients
func (c *Config) Debug() bool {
	return c.Environment == logger.EnvDev
}

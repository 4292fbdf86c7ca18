package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	DB struct {
		Host     string
		Port     int
		User     string
		Password string
		Name     string
	}

	RedisAddr     string
	ClaimTTL      time.Duration
	KafkaBrokers  []string
	KafkaTopic    string
	EventWorkers  int
	EventQueue    int
	JWTSecret     string
	ServerURL     string
	ClientURL     string
	ProductName   string
	RequestMaxKiB int64

	SSLCommerz struct {
		StoreID       string
		StorePassword string
		Live          bool
		BaseURL       string
		Timeout       time.Duration
	}
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	cfg.HTTPAddr = getEnvOrDefault("HTTP_ADDR", ":8080")
	cfg.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", 5*time.Second)

	cfg.DB.Host = getEnvOrDefault("DB_HOST", "localhost")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 3306)
	cfg.DB.User = getEnvOrDefault("DB_USER", "root")
	cfg.DB.Password = getEnvOrDefault("DB_PASSWORD", "root")
	cfg.DB.Name = getEnvOrDefault("DB_NAME", "checkout")

	cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
	cfg.ClaimTTL = getEnvAsDuration("CALLBACK_CLAIM_TTL", 10*time.Minute)

	cfg.KafkaBrokers = getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"})
	cfg.KafkaTopic = getEnvOrDefault("KAFKA_PAYMENT_STATUS_TOPIC", "payment_status_updates")
	cfg.EventWorkers = getEnvAsInt("EVENT_WORKERS", 4)
	cfg.EventQueue = getEnvAsInt("EVENT_QUEUE_SIZE", 1000)

	cfg.JWTSecret = os.Getenv("ACCESS_TOKEN_SECRET")
	cfg.ServerURL = strings.TrimRight(getEnvOrDefault("SERVER_URL", "http://localhost:8080"), "/")
	cfg.ClientURL = strings.TrimRight(getEnvOrDefault("CLIENT_URL", "http://localhost:5173"), "/")
	cfg.ProductName = getEnvOrDefault("PRODUCT_NAME", "eShop Order")
	cfg.RequestMaxKiB = int64(getEnvAsInt("REQUEST_MAX_KIB", 64))

	cfg.SSLCommerz.StoreID = os.Getenv("SSLCOMMERZ_STORE_ID")
	cfg.SSLCommerz.StorePassword = os.Getenv("SSLCOMMERZ_STORE_PASSWORD")
	cfg.SSLCommerz.Live = getEnvAsBool("SSLCOMMERZ_IS_LIVE", false)
	cfg.SSLCommerz.BaseURL = os.Getenv("SSLCOMMERZ_BASE_URL")
	cfg.SSLCommerz.Timeout = getEnvAsDuration("SSLCOMMERZ_TIMEOUT", 15*time.Second)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "ACCESS_TOKEN_SECRET")
	}
	if c.SSLCommerz.StoreID == "" {
		missing = append(missing, "SSLCOMMERZ_STORE_ID")
	}
	if c.SSLCommerz.StorePassword == "" {
		missing = append(missing, "SSLCOMMERZ_STORE_PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.EventWorkers < 1 {
		return fmt.Errorf("EVENT_WORKERS must be at least 1, got %d", c.EventWorkers)
	}
	return nil
}

// MySQLDSN renders the go-sql-driver DSN. parseTime is always on because
// order and coupon timestamps are scanned into time.Time.
func (c *Config) MySQLDSN() string {
	dsn := mysql.NewConfig()
	dsn.User = c.DB.User
	dsn.Passwd = c.DB.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", c.DB.Host, c.DB.Port)
	dsn.DBName = c.DB.Name
	dsn.ParseTime = true
	dsn.Loc = time.UTC
	return dsn.FormatDSN()
}

// CallbackURL is the absolute URL the gateway calls for one callback path.
func (c *Config) CallbackURL(path string) string {
	return c.ServerURL + "/api/payment/" + path
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnvOrDefault(key, strconv.FormatBool(defaultValue))
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(valueStr) == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

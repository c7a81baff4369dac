package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Store       string // CARTS_STORE (default "postgres"; "memory" keeps events in process)
	DatabaseURL string // CARTS_DATABASE_URL, or built from DB_USER/DB_PASSWORD/DB_HOST/DB_PORT/DB_NAME
	HTTPAddr    string // CARTS_HTTP_ADDR (default ":5500")
	GRPCAddr    string // CARTS_GRPC_ADDR (default ":9090"; "off" disables gRPC)
	NATSURL     string // CARTS_NATS_URL (optional, empty = no bus mirror)

	LogLevel    slog.Level    // CARTS_LOG_LEVEL (default "info")
	SendTimeout time.Duration // CARTS_SEND_TIMEOUT (default 5s)
	CORSOrigins []string      // CARTS_CORS_ORIGINS (comma separated, default "*")

	DeviceStaleAfter time.Duration // CARTS_DEVICE_STALE_AFTER (default 15m)

	// Audit export settings
	ExportInterval   time.Duration // CARTS_EXPORT_INTERVAL (default 0 = disabled)
	ExportS3Bucket   string        // CARTS_EXPORT_S3_BUCKET (enables S3 when set)
	ExportS3Endpoint string        // CARTS_EXPORT_S3_ENDPOINT (custom endpoint for MinIO)
	ExportS3Region   string        // CARTS_EXPORT_S3_REGION (default "us-east-1")
	ExportS3Prefix   string        // CARTS_EXPORT_S3_PREFIX (default "carts/events")
	ExportDir        string        // CARTS_EXPORT_DIR (enables local files when set)
	ExportSettle     time.Duration // CARTS_EXPORT_SETTLE (default 30s; events younger than this wait)
}

// LoadDotEnv sets variables from a .env file without overriding ones that
// are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

func Load() (*Config, error) {
	c := &Config{
		Store:            envOrDefault("CARTS_STORE", StorePostgres),
		DatabaseURL:      os.Getenv("CARTS_DATABASE_URL"),
		HTTPAddr:         envOrDefault("CARTS_HTTP_ADDR", ":5500"),
		GRPCAddr:         envOrDefault("CARTS_GRPC_ADDR", ":9090"),
		NATSURL:          os.Getenv("CARTS_NATS_URL"),
		CORSOrigins:      splitList(envOrDefault("CARTS_CORS_ORIGINS", "*")),
		ExportS3Bucket:   os.Getenv("CARTS_EXPORT_S3_BUCKET"),
		ExportS3Endpoint: os.Getenv("CARTS_EXPORT_S3_ENDPOINT"),
		ExportS3Region:   envOrDefault("CARTS_EXPORT_S3_REGION", "us-east-1"),
		ExportS3Prefix:   envOrDefault("CARTS_EXPORT_S3_PREFIX", "carts/events"),
		ExportDir:        os.Getenv("CARTS_EXPORT_DIR"),
	}
	if c.GRPCAddr == "off" {
		c.GRPCAddr = ""
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = databaseURLFromParts()
	}

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return nil, fmt.Errorf("CARTS_DATABASE_URL or DB_HOST and DB_NAME are required")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("CARTS_STORE: unknown store %q", c.Store)
	}

	if err := c.LogLevel.UnmarshalText([]byte(envOrDefault("CARTS_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("CARTS_LOG_LEVEL: %w", err)
	}

	var err error
	if c.SendTimeout, err = durationEnv("CARTS_SEND_TIMEOUT", "5s"); err != nil {
		return nil, err
	}
	if c.SendTimeout <= 0 {
		return nil, fmt.Errorf("CARTS_SEND_TIMEOUT must be positive")
	}
	if c.DeviceStaleAfter, err = durationEnv("CARTS_DEVICE_STALE_AFTER", "15m"); err != nil {
		return nil, err
	}
	if c.DeviceStaleAfter <= 0 {
		return nil, fmt.Errorf("CARTS_DEVICE_STALE_AFTER must be positive")
	}
	if c.ExportInterval, err = durationEnv("CARTS_EXPORT_INTERVAL", "0"); err != nil {
		return nil, err
	}
	if c.ExportSettle, err = durationEnv("CARTS_EXPORT_SETTLE", "30s"); err != nil {
		return nil, err
	}
	if c.ExportSettle < 0 {
		return nil, fmt.Errorf("CARTS_EXPORT_SETTLE must not be negative")
	}

	return c, nil
}

// databaseURLFromParts builds a PostgreSQL URL from the DB_* variables used by
// existing deployments. It returns "" unless DB_HOST and DB_NAME are set.
func databaseURLFromParts() string {
	host, name := os.Getenv("DB_HOST"), os.Getenv("DB_NAME")
	if host == "" || name == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, envOrDefault("DB_PORT", "5432")),
		Path:     "/" + name,
		RawQuery: "sslmode=" + envOrDefault("DB_SSLMODE", "disable"),
	}
	if user := os.Getenv("DB_USER"); user != "" {
		if pw, ok := os.LookupEnv("DB_PASSWORD"); ok {
			u.User = url.UserPassword(user, pw)
		} else {
			u.User = url.User(user)
		}
	}
	return u.String()
}

func durationEnv(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

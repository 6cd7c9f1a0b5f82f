package config

import (
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

const EnvPrefix = "GOCHAT_"

type Config struct {
	ServerAddr     string
	DatabaseDriver string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
	Env            string

	TokenTTL       time.Duration
	TokenLeeway    time.Duration
	BcryptCost     int
	StorageTimeout time.Duration
	StorageRetries int
	PublishRate    float64
	PublishBurst   int
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

// NewConfig validates the required settings and fills the tuning fields
// with defaults. Callers may override the tuning fields and must then call
// Validate.
func NewConfig(serverAddr, databaseDriver, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}

	switch databaseDriver {
	case "postgres", "pgx":
		if databaseDSN == "" {
			return nil, fmt.Errorf("database DSN cannot be empty")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", databaseDriver)
	}

	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDriver: databaseDriver,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		Env:            "production",
		TokenTTL:       15 * time.Minute,
		TokenLeeway:    5 * time.Second,
		BcryptCost:     10,
		StorageTimeout: 5 * time.Second,
		StorageRetries: 3,
		PublishRate:    5,
		PublishBurst:   10,
	}, nil
}

func (c *Config) Validate() error {
	switch {
	case c.TokenTTL <= 0:
		return fmt.Errorf("token ttl must be positive")
	case c.TokenLeeway < 0:
		return fmt.Errorf("token leeway cannot be negative")
	case c.BcryptCost < 4 || c.BcryptCost > 31:
		return fmt.Errorf("bcrypt cost must be between 4 and 31")
	case c.StorageTimeout <= 0:
		return fmt.Errorf("storage timeout must be positive")
	case c.StorageRetries < 1:
		return fmt.Errorf("storage retries must be at least 1")
	case c.PublishRate <= 0 || c.PublishBurst < 1:
		return fmt.Errorf("publish rate and burst must be positive")
	}
	return nil
}

// ApplyEnv sets every flag that was not given on the command line from the
// matching GOCHAT_ environment variable, e.g. -db-dsn from GOCHAT_DB_DSN.
func ApplyEnv(fs *flag.FlagSet) error {
	return applyEnv(fs, os.LookupEnv)
}

func applyEnv(fs *flag.FlagSet, lookup func(string) (string, bool)) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	var errs []error
	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] {
			return
		}
		v, ok := lookup(EnvName(f.Name))
		if !ok {
			return
		}
		if err := fs.Set(f.Name, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvName(f.Name), err))
		}
	})

	return errors.Join(errs...)
}

func EnvName(flagName string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// SplitList splits a comma separated flag value, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

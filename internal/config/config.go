package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr    string
		BaseURL string
	}
	Log struct {
		Level string
	}
	Database struct {
		Path string
	}
	Auth struct {
		JWTSecret    string
		Issuer       string
		SessionTTL   time.Duration
		PasswordCost int
		SecureCookie bool
	}
	Verification struct {
		TTL         time.Duration
		Lockout     time.Duration
		MaxAttempts int
	}
	Notify struct {
		Workers   int
		QueueSize int
		Sender    string
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Admin struct {
		Username string
		Email    string
		Password string
	}
}

const (
	SenderLog = "log"
	SenderS3  = "s3"
)

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv(".env")

	v := viper.New()
	v.SetEnvPrefix("ACCOUNT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.baseurl", "http://localhost:8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.path", "data/accounts.db")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.issuer", "account-service")
	v.SetDefault("auth.sessionttl", "30m")
	v.SetDefault("auth.passwordcost", 12)
	v.SetDefault("auth.securecookie", false)
	v.SetDefault("verification.ttl", "15m")
	v.SetDefault("verification.lockout", "4m")
	v.SetDefault("verification.maxattempts", 4)
	v.SetDefault("notify.workers", 2)
	v.SetDefault("notify.queuesize", 100)
	v.SetDefault("notify.sender", SenderLog)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "verification-outbox")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.email", "")
	v.SetDefault("admin.password", "")
}

// Validate checks settings that have no usable default.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth jwt secret is required")
	}
	switch c.Notify.Sender {
	case SenderLog:
	case SenderS3:
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			return errors.New("storage bucket is required for the s3 sender")
		}
	default:
		return fmt.Errorf("unknown notify sender %q", c.Notify.Sender)
	}
	if c.Auth.SessionTTL <= 0 {
		return errors.New("auth session ttl must be positive")
	}
	return nil
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}

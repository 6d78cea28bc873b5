package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	API        APIConfig        `yaml:"api"`
	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Backup     BackupConfig     `yaml:"backup"`
	Redis      RedisConfig      `yaml:"redis"`
	Lock       LockConfig       `yaml:"lock"`
	Google     GoogleConfig     `yaml:"google"`
	Email      EmailConfig      `yaml:"email"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	AMQP       AMQPConfig       `yaml:"amqp"`
	Booking    BookingConfig    `yaml:"booking"`
	Worker     WorkerConfig     `yaml:"worker"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type APIConfig struct {
	HTTP        APIHTTPConfig      `yaml:"http"`
	RateLimit   APIRateLimitConfig `yaml:"rate_limit"`
	CORSOrigins []string           `yaml:"cors_origins"`
}

type APIHTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret"`
	Issuer    string   `yaml:"issuer"`
	Audience  string   `yaml:"audience"`
	AdminIDs  []string `yaml:"admin_ids"`
}

type DatabaseConfig struct {
	Driver string      `yaml:"driver"`
	Path   string      `yaml:"path"`
	Mongo  MongoConfig `yaml:"mongo"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type LockConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	CalendarID      string `yaml:"calendar_id"`
	StudioName      string `yaml:"studio_name"`
	Location        string `yaml:"location"`
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type TelegramConfig struct {
	BotToken string  `yaml:"bot_token"`
	ChatIDs  []int64 `yaml:"chat_ids"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type BookingConfig struct {
	DefaultTimeZone  string  `yaml:"default_time_zone"`
	MaxDurationHours float64 `yaml:"max_duration_hours"`
	DefaultUserName  string  `yaml:"default_user_name"`
}

type WorkerConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// Load reads the YAML file at configPath, expanding ${VAR} references from
// the environment (and an optional .env file).
func Load(configPath string) (*Config, error) {
	// .env необязателен
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "CHANGE_ME" {
		return errors.New("auth jwt secret is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case "mongo":
		if c.Database.Mongo.URI == "" || c.Database.Mongo.Database == "" {
			return errors.New("mongo uri and database are required")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if _, err := time.LoadLocation(c.Booking.DefaultTimeZone); err != nil {
		return fmt.Errorf("invalid booking.default_time_zone %q: %w", c.Booking.DefaultTimeZone, err)
	}
	if c.Booking.MaxDurationHours <= 0 {
		return errors.New("booking.max_duration_hours must be positive")
	}

	if c.Email.Enabled && (c.Email.Host == "" || c.Email.From == "") {
		return errors.New("email host and from are required when email is enabled")
	}

	if c.Google.CalendarID != "" && c.Google.CredentialsFile == "" {
		return errors.New("google credentials_file is required when calendar_id is set")
	}

	return nil
}

// CalendarEnabled reports whether calendar mirroring is configured.
func (c *Config) CalendarEnabled() bool {
	return c.Google.CalendarID != "" && c.Google.CredentialsFile != ""
}

// IsAdmin reports whether the user id is listed in auth.admin_ids.
func (c *AuthConfig) IsAdmin(userID string) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "studiobook"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.HTTP.ReadTimeout == 0 {
		c.API.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.API.HTTP.WriteTimeout == 0 {
		c.API.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.API.HTTP.ShutdownTimeout == 0 {
		c.API.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Mongo.Database == "" {
		c.Database.Mongo.Database = "studiobook"
	}

	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}

	if c.Lock.TTL == 0 {
		c.Lock.TTL = 15 * time.Second
	}
	if c.Lock.WaitTimeout == 0 {
		c.Lock.WaitTimeout = 5 * time.Second
	}

	if c.Google.StudioName == "" {
		c.Google.StudioName = "DJ Studio"
	}

	if c.Email.Port == 0 {
		c.Email.Port = 587
	}

	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "studiobook.events"
	}

	if c.Booking.DefaultTimeZone == "" {
		c.Booking.DefaultTimeZone = "Asia/Jakarta"
	}
	if c.Booking.MaxDurationHours == 0 {
		c.Booking.MaxDurationHours = 12
	}
	if c.Booking.DefaultUserName == "" {
		c.Booking.DefaultUserName = "A User"
	}

	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.InitialDelay == 0 {
		c.Worker.InitialDelay = 2 * time.Second
	}
	if c.Worker.MaxDelay == 0 {
		c.Worker.MaxDelay = time.Minute
	}
	if c.Worker.BackoffFactor == 0 {
		c.Worker.BackoffFactor = 2
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 30 * time.Second
	}
}

package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/xwiki/internal/cache"
	"github.com/starford/xwiki/internal/telemetry"
)

// Document store backends.
const (
	BackendGitHub = "github"
	BackendLocal  = "local"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Database  DatabaseConfig    `yaml:"database"`
	Storage   StorageConfig     `yaml:"storage"`
	GitHub    GitHubConfig      `yaml:"github"`
	Wiki      WikiConfig        `yaml:"wiki"`
	Telemetry TelemetryConfig   `yaml:"telemetry"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if c.Storage.Backend == BackendGitHub {
		if err := c.GitHub.Validate(); err != nil {
			return fmt.Errorf("github: %w", err)
		}
	}
	if err := c.Wiki.Validate(); err != nil {
		return fmt.Errorf("wiki: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// LogFile, when set, receives logs through a rotating writer in addition to stdout.
	LogFile string     `yaml:"log_file"`
	HTTP    HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
	// CORSOrigins lists allowed browser origins; "*" allows any.
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.ShutdownTimeout, validation.Min(time.Duration(0))),
	)
}

// DatabaseConfig selects the cache database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(cache.DriverPostgres, cache.DriverSQLite)),
		validation.Field(&c.DSN, validation.Required),
	)
}

// StorageConfig selects the document store backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	// ContentRoot is the directory inside the repository that holds pages.
	ContentRoot string `yaml:"content_root"`
	// LocalPath is the working tree used by the local backend.
	LocalPath string `yaml:"local_path"`
	// PublicURL is the externally visible base URL used for raw links of the local backend.
	PublicURL string `yaml:"public_url"`
	// Watch enables the file watcher for the local backend.
	Watch bool `yaml:"watch"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendGitHub, BackendLocal)),
		validation.Field(&c.LocalPath, validation.When(c.Backend == BackendLocal, validation.Required)),
	)
}

// GitHubConfig holds the repository used by the github backend.
type GitHubConfig struct {
	Token   string `yaml:"token"`
	Owner   string `yaml:"owner"`
	Repo    string `yaml:"repo"`
	Branch  string `yaml:"branch"`
	BaseURL string `yaml:"base_url"`
}

// Validate validates the GitHub configuration.
func (c *GitHubConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Token, validation.Required),
		validation.Field(&c.Owner, validation.Required),
		validation.Field(&c.Repo, validation.Required),
	)
}

// WikiConfig holds page bookkeeping settings.
type WikiConfig struct {
	DefaultProject string `yaml:"default_project"`
	ArchivePrefix  string `yaml:"archive_prefix"`
	// ReconcileInterval enables a periodic reconciliation pass; zero disables it.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	// ReconcileFix lets the periodic pass repair what it finds.
	ReconcileFix   bool          `yaml:"reconcile_fix"`
	EventsThrottle time.Duration `yaml:"events_throttle"`
	EventsPing     time.Duration `yaml:"events_heartbeat"`
}

// Validate validates the wiki configuration.
func (c *WikiConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DefaultProject, validation.Required, validation.Length(1, 50)),
		validation.Field(&c.ArchivePrefix, validation.Required),
		validation.Field(&c.ReconcileInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.EventsThrottle, validation.Min(time.Duration(0))),
		validation.Field(&c.EventsPing, validation.Min(time.Duration(0))),
	)
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	Stdout       bool   `yaml:"stdout"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// Validate validates the telemetry configuration.
func (c *TelemetryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ServiceName, validation.When(c.Enabled, validation.Required)),
	)
}

func (c *TelemetryConfig) otel() telemetry.Config {
	return telemetry.Config{
		Enabled:      c.Enabled,
		ServiceName:  c.ServiceName,
		Stdout:       c.Stdout,
		OTLPEndpoint: c.OTLPEndpoint,
		Insecure:     c.Insecure,
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:            8000,
				CORSOrigins:     []string{"http://localhost:3000"},
				ShutdownTimeout: 10 * time.Second,
			},
		},
		Database: DatabaseConfig{
			Driver: cache.DriverSQLite,
			DSN:    "./xwiki.db",
		},
		Storage: StorageConfig{
			Backend:     BackendLocal,
			ContentRoot: "content",
			LocalPath:   "./data",
			PublicURL:   "http://localhost:8000",
			Watch:       true,
		},
		GitHub: GitHubConfig{
			Branch: "main",
		},
		Wiki: WikiConfig{
			DefaultProject: "default",
			ArchivePrefix:  "archived",
			EventsThrottle: 2 * time.Second,
			EventsPing:     30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "xwiki",
			Stdout:      true,
		},
	}
}

package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/linestore/internal/lines"
	"github.com/starford/linestore/internal/telemetry"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Storage backends.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendS3     = "s3"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Storage   StorageConfig     `yaml:"storage"`
	Engine    EngineConfig      `yaml:"engine"`
	Journal   JournalConfig     `yaml:"journal"`
	Watcher   WatcherConfig     `yaml:"watcher"`
	SSE       SSEConfig         `yaml:"sse"`
	Telemetry telemetry.Config  `yaml:"telemetry"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry: enabled but endpoint is empty")
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StorageConfig selects where files live.
//
// Backend is one of:
//   - "local" (default): a directory on disk at Path, watched for outside edits.
//   - "memory": a process-local store, lost on exit. Capacity is the
//     reported total in bytes.
//   - "s3": an S3-compatible bucket.
type StorageConfig struct {
	Backend  string   `yaml:"backend"`
	Path     string   `yaml:"path"`
	Capacity uint64   `yaml:"capacity"`
	S3       S3Config `yaml:"s3"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = BackendLocal
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendLocal, BackendMemory, BackendS3)),
		validation.Field(&c.Path, validation.When(c.Backend == BackendLocal, validation.Required)),
	); err != nil {
		return err
	}
	if c.Backend == BackendS3 {
		return c.S3.Validate()
	}
	return nil
}

// S3Config holds the bucket settings for the s3 backend.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// Validate validates the S3 configuration.
func (c *S3Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Bucket, validation.Required),
	)
}

// EngineConfig tunes the line engine.
type EngineConfig struct {
	// Commit is "swap" (write a temp file, then rename) or "legacy"
	// (truncate and rewrite in place).
	Commit string `yaml:"commit"`
	// CacheBytes bounds the line offset cache. Zero disables it.
	CacheBytes int64 `yaml:"cache_bytes"`
}

// Validate validates the engine configuration.
func (c *EngineConfig) Validate() error {
	if c.Commit == "" {
		c.Commit = string(lines.CommitSwap)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Commit, validation.In(string(lines.CommitSwap), string(lines.CommitLegacy))),
		validation.Field(&c.CacheBytes, validation.Min(int64(0))),
	)
}

// JournalConfig holds the SQLite mutation journal location. An empty
// Path disables the journal.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// WatcherConfig controls detection of edits made by other processes.
// Only the local backend is watched.
type WatcherConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// SSEConfig tunes the event stream.
type SSEConfig struct {
	TreeThrottle time.Duration `yaml:"tree_throttle"`
	KeepAlive    time.Duration `yaml:"keep_alive"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Storage: StorageConfig{
			Backend: BackendLocal,
			Path:    "./data",
		},
		Engine: EngineConfig{
			Commit:     string(lines.CommitSwap),
			CacheBytes: 8 << 20,
		},
		Journal: JournalConfig{
			Path: "./linestore.db",
		},
		Watcher: WatcherConfig{
			Enabled:  true,
			Debounce: 200 * time.Millisecond,
		},
		SSE: SSEConfig{
			TreeThrottle: 2 * time.Second,
			KeepAlive:    30 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

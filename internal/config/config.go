package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir     string `yaml:"data_dir" validate:"required"`
	Development bool   `yaml:"development"`

	Log struct {
		Level  string `yaml:"level" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" validate:"oneof=text json"`
		File   string `yaml:"file"`
	} `yaml:"log"`

	TimeZone struct {
		Name      string `yaml:"name"`
		Offset    string `yaml:"offset"`
		OffsetDST string `yaml:"offset_dst"`
	} `yaml:"time_zone"`

	Database struct {
		AsyncURL string `yaml:"async_url"`
		SyncURL  string `yaml:"sync_url"`
	} `yaml:"database"`

	Tracking struct {
		PulseWidth time.Duration `yaml:"pulse_width" validate:"gt=0"`
		// MaxCredit caps one keep-alive credit. Zero means 3x PulseWidth;
		// negative disables the cap.
		MaxCredit         time.Duration `yaml:"max_credit"`
		PollInterval      time.Duration `yaml:"poll_interval" validate:"gt=0"`
		KeyboardIdle      time.Duration `yaml:"keyboard_idle" validate:"gt=0"`
		MouseDebounce     time.Duration `yaml:"mouse_debounce" validate:"gt=0"`
		MouseMaxEvents    int           `yaml:"mouse_max_events" validate:"gt=0"`
		EventBuffer       int           `yaml:"event_buffer" validate:"gt=0"`
		KeyboardDevice    string        `yaml:"keyboard_device"`
		MouseDevice       string        `yaml:"mouse_device"`
		DisableForeground bool          `yaml:"disable_foreground"`
	} `yaml:"tracking"`

	Queue struct {
		Capacity        int           `yaml:"capacity" validate:"gt=0"`
		BatchSize       int           `yaml:"batch_size" validate:"gt=0"`
		FlushInterval   time.Duration `yaml:"flush_interval" validate:"gt=0"`
		EnqueueTimeout  time.Duration `yaml:"enqueue_timeout" validate:"gt=0"`
		JournalMaxBytes int64         `yaml:"journal_max_bytes" validate:"gt=0"`
		Retry           struct {
			MaxAttempts  int           `yaml:"max_attempts" validate:"gt=0"`
			InitialDelay time.Duration `yaml:"initial_delay" validate:"gt=0"`
			MaxDelay     time.Duration `yaml:"max_delay" validate:"gtefield=InitialDelay"`
			Multiplier   float64       `yaml:"multiplier" validate:"gte=1"`
		} `yaml:"retry"`
	} `yaml:"queue"`

	Bridge struct {
		Enabled        bool     `yaml:"enabled"`
		Listen         string   `yaml:"listen" validate:"required_if=Enabled true"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"bridge"`

	Productivity struct {
		Programs []string `yaml:"programs"`
		Domains  []string `yaml:"domains"`
		Browsers []string `yaml:"browsers"`
	} `yaml:"productivity"`

	Heartbeat     string        `yaml:"heartbeat" validate:"required"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace" validate:"gt=0"`
}

// DefaultPath is ~/.activitytracker/config.yaml.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.yaml")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".activitytracker")
}

// Defaults returns the configuration used when no file exists.
func Defaults() *Config {
	cfg := &Config{DataDir: defaultDataDir()}
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	cfg.Tracking.PulseWidth = 10 * time.Second
	cfg.Tracking.PollInterval = time.Second
	cfg.Tracking.KeyboardIdle = time.Second
	cfg.Tracking.MouseDebounce = 300 * time.Millisecond
	cfg.Tracking.MouseMaxEvents = 1000
	cfg.Tracking.EventBuffer = 256

	cfg.Queue.Capacity = 40
	cfg.Queue.BatchSize = 100
	cfg.Queue.FlushInterval = time.Second
	cfg.Queue.EnqueueTimeout = 2 * time.Second
	cfg.Queue.JournalMaxBytes = 64 << 20
	cfg.Queue.Retry.MaxAttempts = 3
	cfg.Queue.Retry.InitialDelay = 200 * time.Millisecond
	cfg.Queue.Retry.MaxDelay = 5 * time.Second
	cfg.Queue.Retry.Multiplier = 2

	cfg.Bridge.Enabled = true
	cfg.Bridge.Listen = "127.0.0.1:5600"
	cfg.Bridge.AllowedOrigins = []string{"chrome-extension://*", "moz-extension://*", "http://localhost:*"}

	cfg.Productivity.Programs = []string{"code", "Code.exe", "goland", "nvim", "alacritty", "WindowsTerminal.exe"}
	cfg.Productivity.Domains = []string{"github.com", "stackoverflow.com", "go.dev", "pkg.go.dev", "docs.python.org"}
	cfg.Productivity.Browsers = []string{"chrome", "chrome.exe", "google-chrome", "chromium", "msedge.exe"}

	cfg.Heartbeat = "0 * * * * *"
	cfg.ShutdownGrace = 5 * time.Second
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	set := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set("LOCAL_TIME_ZONE", &cfg.TimeZone.Name)
	set("LOCAL_TIME_OFFSET", &cfg.TimeZone.Offset)
	set("LOCAL_TIME_OFFSET_DST", &cfg.TimeZone.OffsetDST)
	set("ASYNC_DATABASE_URL", &cfg.Database.AsyncURL)
	set("SYNCHRONOUS_DB_URL", &cfg.Database.SyncURL)
	set("KEYBOARD_DEVICE", &cfg.Tracking.KeyboardDevice)
	set("MOUSE_DEVICE", &cfg.Tracking.MouseDevice)
	set("ACTIVITYTRACKER_LOG_LEVEL", &cfg.Log.Level)
}

var validate = validator.New()

// Validate checks field ranges.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s fails %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// WriterURL is the database the daemon writes to. Empty means the SQLite
// file under DataDir.
func (c *Config) WriterURL() string {
	if c.Database.AsyncURL != "" {
		return c.Database.AsyncURL
	}
	return c.Database.SyncURL
}

// ReaderURL is the database used by one-shot CLI reports.
func (c *Config) ReaderURL() string {
	if c.Database.SyncURL != "" {
		return c.Database.SyncURL
	}
	return c.Database.AsyncURL
}

func (c *Config) DatabasePath() string { return filepath.Join(c.DataDir, "activity.db") }
func (c *Config) JournalDir() string   { return filepath.Join(c.DataDir, "journal") }
func (c *Config) PIDPath() string      { return filepath.Join(c.DataDir, "activitytracker.pid") }

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

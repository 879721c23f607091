// Package config loads framelight configuration from a YAML file.
//
// Missing keys fall back to defaults, so a partial config.yaml is enough to
// run a frame. Paths are created on load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Display   DisplayConfig   `yaml:"display"`
	Slideshow SlideshowConfig `yaml:"slideshow"`
	Email     EmailConfig     `yaml:"email"`
	Process   ProcessConfig   `yaml:"processing"`
	Geocode   GeocodeConfig   `yaml:"geocode"`
	Paths     PathsConfig     `yaml:"paths"`
}

// DisplayConfig describes the target panel.
type DisplayConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// SlideshowConfig controls playback.
type SlideshowConfig struct {
	AutoPlay           bool    `yaml:"auto_play"`
	IntervalSeconds    int     `yaml:"interval_seconds"`
	TransitionSeconds  float64 `yaml:"transition_duration"`
	OrderBy            string  `yaml:"order_by"` // "captured" or "ingested"
	Shuffle            bool    `yaml:"shuffle"`
	ShuffleReseed      string  `yaml:"shuffle_reseed"` // "session" or "rebuild"
	MenuTimeoutSeconds int     `yaml:"menu_timeout_seconds"`
}

// Interval returns the slide interval as a duration.
func (s SlideshowConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Transition returns the fade duration as a duration.
func (s SlideshowConfig) Transition() time.Duration {
	return time.Duration(s.TransitionSeconds * float64(time.Second))
}

// MenuTimeout returns how long the menu stays open without input.
func (s SlideshowConfig) MenuTimeout() time.Duration {
	return time.Duration(s.MenuTimeoutSeconds) * time.Second
}

// EmailConfig configures the mailbox the ingestor polls.
type EmailConfig struct {
	Provider             string `yaml:"provider"` // "imap" or "gmail"
	IMAPServer           string `yaml:"imap_server"`
	IMAPPort             int    `yaml:"imap_port"`
	SMTPServer           string `yaml:"smtp_server"`
	SMTPPort             int    `yaml:"smtp_port"`
	Username             string `yaml:"username"`
	Password             string `yaml:"password"`
	CredentialsPath      string `yaml:"credentials_path"` // gmail provider only
	CheckIntervalMinutes int    `yaml:"check_interval_minutes"`
	PollTimeoutSeconds   int    `yaml:"poll_timeout_seconds"`
	MaxBackoffMinutes    int    `yaml:"max_backoff_minutes"`
	AutoReply            bool   `yaml:"auto_reply"`
	ReplyMessage         string `yaml:"reply_message"`
}

// PollInterval returns the base mailbox poll interval.
func (e EmailConfig) PollInterval() time.Duration {
	return time.Duration(e.CheckIntervalMinutes) * time.Minute
}

// PollTimeout bounds one poll cycle, network I/O included.
func (e EmailConfig) PollTimeout() time.Duration {
	return time.Duration(e.PollTimeoutSeconds) * time.Second
}

// MaxBackoff caps the retry delay after consecutive failures.
func (e EmailConfig) MaxBackoff() time.Duration {
	return time.Duration(e.MaxBackoffMinutes) * time.Minute
}

// ProcessConfig controls proxy generation.
type ProcessConfig struct {
	Quality        int `yaml:"jpeg_quality"`
	Workers        int `yaml:"workers"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout bounds one image conversion.
func (p ProcessConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// GeocodeConfig controls optional reverse geocoding of GPS tags.
type GeocodeConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// PathsConfig locates the on-disk store.
type PathsConfig struct {
	Originals string `yaml:"original_images"`
	Proxies   string `yaml:"proxy_images"`
	Index     string `yaml:"index"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Display: DisplayConfig{Width: 1024, Height: 600},
		Slideshow: SlideshowConfig{
			AutoPlay:           true,
			IntervalSeconds:    10,
			TransitionSeconds:  1.0,
			OrderBy:            "captured",
			Shuffle:            false,
			ShuffleReseed:      "session",
			MenuTimeoutSeconds: 30,
		},
		Email: EmailConfig{
			Provider:             "imap",
			IMAPPort:             993,
			SMTPPort:             587,
			CheckIntervalMinutes: 5,
			PollTimeoutSeconds:   60,
			MaxBackoffMinutes:    60,
			AutoReply:            true,
			ReplyMessage:         "Picture received and added to the frame!",
		},
		Process: ProcessConfig{Quality: 85, Workers: 2, TimeoutSeconds: 30},
		Geocode: GeocodeConfig{
			Enabled:  false,
			Endpoint: "https://nominatim.openstreetmap.org/reverse",
		},
		Paths: PathsConfig{
			Originals: "./images/originals",
			Proxies:   "./images/proxies",
			Index:     "./images/frame.db",
		},
	}
}

// Load reads configuration from path, merging it over the defaults.
// A missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.ensureDirs()
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, cfg.ensureDirs()
}

// Save writes the configuration back to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("display resolution %dx%d is not valid", c.Display.Width, c.Display.Height)
	}
	if c.Slideshow.IntervalSeconds <= 0 {
		return fmt.Errorf("slideshow interval must be positive")
	}
	switch c.Slideshow.OrderBy {
	case "captured", "ingested":
	default:
		return fmt.Errorf("unknown order_by %q", c.Slideshow.OrderBy)
	}
	switch c.Slideshow.ShuffleReseed {
	case "session", "rebuild":
	default:
		return fmt.Errorf("unknown shuffle_reseed %q", c.Slideshow.ShuffleReseed)
	}
	switch c.Email.Provider {
	case "imap", "gmail":
	default:
		return fmt.Errorf("unknown email provider %q", c.Email.Provider)
	}
	if c.Process.Quality < 1 || c.Process.Quality > 100 {
		return fmt.Errorf("jpeg_quality %d out of range", c.Process.Quality)
	}
	return nil
}

// ensureDirs creates the store directories so components can assume they exist.
func (c *Config) ensureDirs() error {
	for _, dir := range []string{c.Paths.Originals, c.Paths.Proxies, filepath.Dir(c.Paths.Index)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

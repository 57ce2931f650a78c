package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// DetailAPIConfig points at the external detail-provider collaborator used
// to enrich events with description/url before export.
type DetailAPIConfig struct {
	// BaseURL is the collaborator's root, e.g. "https://events.example.edu".
	// The enricher appends /api/events/details/ to it.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// TimeoutSeconds bounds a single enrichment request.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// LinkConfig describes the external calendar service's quick-add endpoint.
type LinkConfig struct {
	// BaseURL is the render endpoint, e.g.
	// "https://calendar.google.com/calendar/render".
	BaseURL string `yaml:"base_url" json:"base_url"`
}

// ExportConfig holds the constants stamped into generated documents.
type ExportConfig struct {
	// ProdID is the PRODID constant written into every document.
	ProdID string `yaml:"prod_id" json:"prod_id"`
	// UIDDomain is the suffix appended to event ids to form stable UIDs.
	UIDDomain string `yaml:"uid_domain" json:"uid_domain"`
	// Filename is the download filename for generated documents.
	Filename string `yaml:"filename" json:"filename"`
}

// DeliveryConfig tunes how generated artifacts are handed off.
type DeliveryConfig struct {
	// StaggerMs is the delay multiple between consecutive link opens.
	StaggerMs int `yaml:"stagger_ms" json:"stagger_ms"`
	// Mode selects the delivery port: "http" serves artifacts on the API
	// response, "browser" additionally opens links in a local headless
	// browser (kiosk installations).
	Mode string `yaml:"mode" json:"mode"`
	// DownloadDir is where the browser port saves documents.
	DownloadDir string `yaml:"download_dir" json:"download_dir"`
}

// SessionConfig tunes selection-session lifetime.
type SessionConfig struct {
	// TTLMinutes is how long an idle selection session is kept.
	TTLMinutes int `yaml:"ttl_minutes" json:"ttl_minutes"`
	// SweepSchedule is a cron spec for the janitor, e.g. "@every 5m".
	SweepSchedule string `yaml:"sweep_schedule" json:"sweep_schedule"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the export API.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of DEBUG/INFO/ERROR.
	LogLevel string `yaml:"log_level" json:"log_level"`

	DetailAPI DetailAPIConfig `yaml:"detail_api" json:"detail_api"`
	Link      LinkConfig      `yaml:"link" json:"link"`
	Export    ExportConfig    `yaml:"export" json:"export"`
	Delivery  DeliveryConfig  `yaml:"delivery" json:"delivery"`
	Sessions  SessionConfig   `yaml:"sessions" json:"sessions"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		LogLevel: "INFO",
		DetailAPI: DetailAPIConfig{
			BaseURL:        "http://127.0.0.1:8000",
			TimeoutSeconds: 10,
		},
		Link: LinkConfig{
			BaseURL: "https://calendar.google.com/calendar/render",
		},
		Export: ExportConfig{
			ProdID:    "-//campuscal//event export//EN",
			UIDDomain: "campuscal.app",
			Filename:  "events.ics",
		},
		Delivery: DeliveryConfig{
			StaggerMs:   300,
			Mode:        "http",
			DownloadDir: "/var/lib/campuscal/downloads",
		},
		Sessions: SessionConfig{
			TTLMinutes:    120,
			SweepSchedule: "@every 5m",
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.DetailAPI.BaseURL == "" {
		c.DetailAPI.BaseURL = def.DetailAPI.BaseURL
	}
	if c.DetailAPI.TimeoutSeconds <= 0 {
		c.DetailAPI.TimeoutSeconds = def.DetailAPI.TimeoutSeconds
	}
	if c.Link.BaseURL == "" {
		c.Link.BaseURL = def.Link.BaseURL
	}
	if c.Export.ProdID == "" {
		c.Export.ProdID = def.Export.ProdID
	}
	if c.Export.UIDDomain == "" {
		c.Export.UIDDomain = def.Export.UIDDomain
	}
	if c.Export.Filename == "" {
		c.Export.Filename = def.Export.Filename
	}
	if c.Delivery.StaggerMs <= 0 {
		c.Delivery.StaggerMs = def.Delivery.StaggerMs
	}
	// Mode default & validation.
	switch c.Delivery.Mode {
	case "http", "browser":
		// ok
	case "":
		c.Delivery.Mode = def.Delivery.Mode
	default:
		// Unknown value; fall back to http to avoid surprising side effects.
		c.Delivery.Mode = def.Delivery.Mode
	}
	if c.Delivery.DownloadDir == "" {
		c.Delivery.DownloadDir = def.Delivery.DownloadDir
	}
	if c.Sessions.TTLMinutes <= 0 {
		c.Sessions.TTLMinutes = def.Sessions.TTLMinutes
	}
	if c.Sessions.SweepSchedule == "" {
		c.Sessions.SweepSchedule = def.Sessions.SweepSchedule
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".campuscal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// Set permissions to 0600 on temp file before rename.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	// Rename over the target path.
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

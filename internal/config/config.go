package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"stash/internal/feed"
	"stash/internal/swipe"
)

const (
	DefaultConfigFileName = "config.toml"
	DefaultDBName         = "stash.db"
	DefaultRemoteURL      = "http://127.0.0.1:7040"
	DefaultAddr           = "127.0.0.1:7040"

	// EnvConfigPath overrides the config location.
	EnvConfigPath = "STASH_CONFIG"
)

type Keymap struct {
	Quit     string `toml:"quit"`
	Up       string `toml:"up"`
	Down     string `toml:"down"`
	Star     string `toml:"star"`
	Archive  string `toml:"archive"`
	Publish  string `toml:"publish"`
	Delete   string `toml:"delete"`
	Undo     string `toml:"undo"`
	Filter   string `toml:"filter"`
	LoadMore string `toml:"load_more"`
	Capture  string `toml:"capture"`
	Reveal   string `toml:"reveal"`
	Confirm  string `toml:"confirm"`
	Cancel   string `toml:"cancel"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// RejectRate is the fraction of item writes answered with 503.
	RejectRate float64 `toml:"reject_rate"`
}

type GestureConfig struct {
	EdgeMargin      float64 `toml:"edge_margin"`
	Deadzone        float64 `toml:"deadzone"`
	RevealThreshold float64 `toml:"reveal_threshold"`
	PanelWidth      float64 `toml:"panel_width"`
	Damping         float64 `toml:"damping"`
	// CellWidth converts terminal columns to gesture units.
	CellWidth float64 `toml:"cell_width"`
}

// Swipe returns the recognizer settings.
func (g GestureConfig) Swipe() swipe.Config {
	return swipe.Config{
		EdgeMargin:      g.EdgeMargin,
		Deadzone:        g.Deadzone,
		RevealThreshold: g.RevealThreshold,
		PanelWidth:      g.PanelWidth,
		Damping:         g.Damping,
	}
}

type LogConfig struct {
	Level string `toml:"level"`
	// File receives the log. Empty means stderr.
	File string `toml:"file"`
}

type Config struct {
	DBPath        string        `toml:"db_path"`
	RemoteURL     string        `toml:"remote_url"`
	DefaultFilter string        `toml:"default_filter"`
	PageSize      int           `toml:"page_size"`
	UndoSeconds   float64       `toml:"undo_seconds"`
	Server        ServerConfig  `toml:"server"`
	Gesture       GestureConfig `toml:"gesture"`
	Log           LogConfig     `toml:"log"`
	Keys          Keymap        `toml:"keys"`
}

// ResolveConfigPath returns $STASH_CONFIG or the per-user config file.
func ResolveConfigPath() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return DefaultConfigFileName
	}
	return filepath.Join(dir, "stash", DefaultConfigFileName)
}

// LoadOrCreate reads the config at path, writing the defaults there first
// when the file does not exist. A relative db_path is taken relative to the
// config file.
func LoadOrCreate(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := write(path, cfg); err != nil {
			return cfg, err
		}
		cfg.DBPath = resolveRelative(path, cfg.DBPath)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBName
	}
	cfg.DBPath = resolveRelative(path, cfg.DBPath)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first bad value.
func (c Config) Validate() error {
	if _, err := feed.ParseFilter(c.DefaultFilter); err != nil {
		return fmt.Errorf("default_filter: %w", err)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	if c.UndoSeconds <= 0 {
		return fmt.Errorf("undo_seconds must be positive, got %g", c.UndoSeconds)
	}
	if c.Server.RejectRate < 0 || c.Server.RejectRate > 1 {
		return fmt.Errorf("server.reject_rate must be within [0,1], got %g", c.Server.RejectRate)
	}
	if c.Gesture.CellWidth <= 0 {
		return fmt.Errorf("gesture.cell_width must be positive, got %g", c.Gesture.CellWidth)
	}
	if err := c.Gesture.Swipe().Validate(); err != nil {
		return fmt.Errorf("gesture: %w", err)
	}
	return nil
}

func resolveRelative(configPath, p string) string {
	if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "file:") {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

func write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Default is the configuration written on first launch.
func Default() Config {
	g := swipe.DefaultConfig()
	return Config{
		DBPath:        DefaultDBName,
		RemoteURL:     DefaultRemoteURL,
		DefaultFilter: string(feed.FilterActive),
		PageSize:      50,
		UndoSeconds:   5,
		Server: ServerConfig{
			Addr: DefaultAddr,
		},
		Gesture: GestureConfig{
			EdgeMargin:      g.EdgeMargin,
			Deadzone:        g.Deadzone,
			RevealThreshold: g.RevealThreshold,
			PanelWidth:      g.PanelWidth,
			Damping:         g.Damping,
			CellWidth:       8,
		},
		Log: LogConfig{
			Level: "info",
		},
		Keys: Keymap{
			Quit:     "q",
			Up:       "k",
			Down:     "j",
			Star:     "s",
			Archive:  "a",
			Publish:  "p",
			Delete:   "d",
			Undo:     "u",
			Filter:   "f",
			LoadMore: "m",
			Capture:  "c",
			Reveal:   "enter",
			Confirm:  "enter",
			Cancel:   "esc",
		},
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPath overrides the config file location.
	EnvPath = "QRSCAN_CONFIG"

	SourceScreen = "screen"
	SourceReplay = "replay"
)

// MQTT configures result publishing. An empty broker disables it.
type MQTT struct {
	Broker   string `json:"broker" yaml:"broker"`
	Topic    string `json:"topic" yaml:"topic"`
	ClientID string `json:"client_id" yaml:"client_id"`
	QoS      byte   `json:"qos" yaml:"qos"`
}

// Config holds runtime configuration for the scanner.
// Fields may be loaded from a JSON or YAML file and overridden by command-line flags.
type Config struct {
	Debug bool `json:"debug" yaml:"debug"`

	// Session
	LensFacing       string  `json:"lens_facing" yaml:"lens_facing"`
	Resolution       string  `json:"resolution" yaml:"resolution"`
	InitialZoom      float64 `json:"initial_zoom" yaml:"initial_zoom"`
	DecodeIntervalMs int     `json:"decode_interval_ms" yaml:"decode_interval_ms"`

	// Capture
	Source          string  `json:"source" yaml:"source"`
	ReplayDir       string  `json:"replay_dir" yaml:"replay_dir"`
	FrameIntervalMs int     `json:"frame_interval_ms" yaml:"frame_interval_ms"`
	MaxDigitalZoom  float64 `json:"max_digital_zoom" yaml:"max_digital_zoom"`

	// Screen region, all zero for the full screen.
	RegionX int `json:"region_x" yaml:"region_x"`
	RegionY int `json:"region_y" yaml:"region_y"`
	RegionW int `json:"region_w" yaml:"region_w"`
	RegionH int `json:"region_h" yaml:"region_h"`

	// Decoding
	TryHarder          bool `json:"try_harder" yaml:"try_harder"`
	MaxDecodeDimension int  `json:"max_decode_dimension" yaml:"max_decode_dimension"`

	// Results
	DuplicateWindowMs  int    `json:"duplicate_window_ms" yaml:"duplicate_window_ms"`
	DuplicateCacheSize int    `json:"duplicate_cache_size" yaml:"duplicate_cache_size"`
	EventHistory       int    `json:"event_history" yaml:"event_history"`
	HTTPAddr           string `json:"http_addr" yaml:"http_addr"`
	MQTT               MQTT   `json:"mqtt" yaml:"mqtt"`
}

// DefaultConfig returns a Config populated with standard defaults.
func DefaultConfig() *Config {
	return &Config{
		Debug:              false,
		LensFacing:         "back",
		Resolution:         "medium",
		InitialZoom:        0,
		DecodeIntervalMs:   0,
		Source:             SourceScreen,
		FrameIntervalMs:    33,
		MaxDigitalZoom:     4,
		MaxDecodeDimension: 1600,
		DuplicateWindowMs:  0,
		DuplicateCacheSize: 256,
		EventHistory:       100,
		HTTPAddr:           "127.0.0.1:8765",
		MQTT:               MQTT{Topic: "qrscan/results"},
	}
}

// Validate clamps/normalizes values to safe ranges. It only fails for
// combinations that cannot run.
func (c *Config) Validate() error {
	c.LensFacing = strings.ToLower(strings.TrimSpace(c.LensFacing))
	if c.LensFacing != "front" {
		c.LensFacing = "back"
	}
	if c.Resolution == "" {
		c.Resolution = "medium"
	}
	if c.InitialZoom < 0 {
		c.InitialZoom = 0
	}
	if c.DecodeIntervalMs < 0 {
		c.DecodeIntervalMs = 0
	}
	c.Source = strings.ToLower(strings.TrimSpace(c.Source))
	if c.Source == "" {
		c.Source = SourceScreen
	}
	if c.FrameIntervalMs <= 0 {
		c.FrameIntervalMs = 33
	}
	if c.MaxDigitalZoom < 1 {
		c.MaxDigitalZoom = 4
	}
	if c.RegionW < 0 || c.RegionH < 0 {
		c.RegionW, c.RegionH = 0, 0
	}
	if c.MaxDecodeDimension == 0 {
		c.MaxDecodeDimension = 1600
	}
	if c.DuplicateWindowMs < 0 {
		c.DuplicateWindowMs = 0
	}
	if c.DuplicateCacheSize <= 0 {
		c.DuplicateCacheSize = 256
	}
	if c.EventHistory < 0 {
		c.EventHistory = 0
	}
	if c.MQTT.QoS > 2 {
		c.MQTT.QoS = 0
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "qrscan/results"
	}
	if c.MQTT.Broker != "" && !strings.Contains(c.MQTT.Broker, "://") {
		c.MQTT.Broker = "tcp://" + c.MQTT.Broker
	}

	switch c.Source {
	case SourceScreen:
	case SourceReplay:
		if c.ReplayDir == "" {
			return fmt.Errorf("config: source %q needs replay_dir", c.Source)
		}
	default:
		return fmt.Errorf("config: unknown source %q", c.Source)
	}
	return nil
}

// Region returns the configured screen region; empty means the full screen.
func (c *Config) Region() image.Rectangle {
	if c.RegionW == 0 || c.RegionH == 0 {
		return image.Rectangle{}
	}
	return image.Rect(c.RegionX, c.RegionY, c.RegionX+c.RegionW, c.RegionY+c.RegionH)
}

// DefaultPath returns the config location: $QRSCAN_CONFIG when set,
// otherwise config.json under the XDG config home.
func DefaultPath() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return filepath.Join(xdg.ConfigHome, "qrscan", "config.json")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load attempts to read configuration from the given path, JSON or YAML by
// extension. If the file does not exist it returns DefaultConfig(). On a
// parse error it returns defaults with the error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return DefaultConfig(), fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Marshal encodes c as JSON or YAML.
func (c *Config) Marshal(asYAML bool) ([]byte, error) {
	if asYAML {
		return yaml.Marshal(c)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save writes the configuration to path, creating parent directories.
// The format follows the extension.
func (c *Config) Save(path string) error {
	_ = c.Validate()
	data, err := c.Marshal(isYAML(path))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

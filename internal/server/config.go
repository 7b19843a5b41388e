package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miskoemotorsports/pitdash/internal/link"
	"github.com/miskoemotorsports/pitdash/internal/logger"
	"github.com/miskoemotorsports/pitdash/internal/telemetry"
	"github.com/miskoemotorsports/pitdash/internal/window"
)

// Config holds all dashboard configuration.
type Config struct {
	mu sync.RWMutex

	// Serial link
	Link LinkConfig `yaml:"link" json:"link"`

	// Charts, table and staleness
	Display DisplayConfig `yaml:"display" json:"display"`

	// Static map overlay, passed through to the renderer untouched
	TrackMap TrackMapConfig `yaml:"track_map" json:"trackMap"`

	// Process log
	Logging logger.Config `yaml:"logging" json:"logging"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type LinkConfig struct {
	Driver           string `yaml:"driver" json:"driver"`      // "bugst", "tarm" or "demo"
	PortPath         string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyUSB0 or COM7
	BaudRate         int    `yaml:"baud_rate" json:"baudRate"`
	Protocol         string `yaml:"protocol" json:"protocol"` // "v1", "v2" or "v3"
	ReadTimeoutMs    int    `yaml:"read_timeout_ms" json:"readTimeoutMs"`
	ErrorThreshold   int    `yaml:"error_threshold" json:"errorThreshold"`
	BackoffInitialMs int    `yaml:"backoff_initial_ms" json:"backoffInitialMs"`
	BackoffMaxMs     int    `yaml:"backoff_max_ms" json:"backoffMaxMs"`
	PacingMs         int    `yaml:"pacing_ms" json:"pacingMs"` // 0 = sender cadence only
	MaxLineBytes     int    `yaml:"max_line_bytes" json:"maxLineBytes"`
}

type DisplayConfig struct {
	Title          string       `yaml:"title" json:"title"`
	DisplayPeriodS float64      `yaml:"display_period_s" json:"displayPeriodS"` // chart span
	SamplePeriodS  float64      `yaml:"sample_period_s" json:"samplePeriodS"`   // expected line interval
	SeedValue      float64      `yaml:"seed_value" json:"seedValue"`            // initial window contents
	RenderHz       int          `yaml:"render_hz" json:"renderHz"`
	StaleAfterMs   int          `yaml:"stale_after_ms" json:"staleAfterMs"`
	Axes           []AxisConfig `yaml:"axes" json:"axes"`
}

// AxisConfig is the y-range of one plotted channel.
type AxisConfig struct {
	Channel telemetry.Channel `yaml:"channel" json:"channel"`
	Label   string            `yaml:"label" json:"label"`
	Min     float64           `yaml:"min" json:"min"`
	Max     float64           `yaml:"max" json:"max"`
}

// TrackMapConfig locates the background map image and its geographic
// bounding box.
type TrackMapConfig struct {
	Image  string  `yaml:"image" json:"image"`
	Left   float64 `yaml:"left" json:"left"`
	Right  float64 `yaml:"right" json:"right"`
	Bottom float64 `yaml:"bottom" json:"bottom"`
	Top    float64 `yaml:"top" json:"top"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// defaultAxes holds the chart range for every channel a protocol may plot.
var defaultAxes = map[telemetry.Channel]AxisConfig{
	telemetry.RPM:              {Channel: telemetry.RPM, Label: "RPM", Min: 0, Max: 7200},
	telemetry.ThrottlePosition: {Channel: telemetry.ThrottlePosition, Label: "TPS", Min: 0, Max: 100},
	telemetry.AirFuelRatio:     {Channel: telemetry.AirFuelRatio, Label: "AFR", Min: 8, Max: 20},
	telemetry.WaterTemp:        {Channel: telemetry.WaterTemp, Label: "Water Temp (F)", Min: 0, Max: 235},
	telemetry.ManifoldPressure: {Channel: telemetry.ManifoldPressure, Label: "MAP (psi)", Min: 0, Max: 30},
	telemetry.SteeringPosition: {Channel: telemetry.SteeringPosition, Label: "Steering", Min: 0, Max: 60},
}

// DefaultAxes returns one axis per plotted channel of p, in chart order.
func DefaultAxes(p *telemetry.Protocol) []AxisConfig {
	axes := make([]AxisConfig, 0, len(p.Plotted))
	for _, c := range p.Plotted {
		a, ok := defaultAxes[c]
		if !ok {
			a = AxisConfig{Channel: c, Label: string(c), Min: 0, Max: 100}
		}
		axes = append(axes, a)
	}
	return axes
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Link: LinkConfig{
			Driver:           "bugst",
			PortPath:         "/dev/ttyUSB0",
			BaudRate:         115200,
			Protocol:         telemetry.V3.Name,
			ReadTimeoutMs:    200,
			ErrorThreshold:   5,
			BackoffInitialMs: 1000,
			BackoffMaxMs:     1000,
			PacingMs:         0,
			MaxLineBytes:     256,
		},
		Display: DisplayConfig{
			Title:          "Miskoe Motorsports Telemetry, Car #770",
			DisplayPeriodS: 30,
			SamplePeriodS:  0.25,
			SeedValue:      0,
			RenderHz:       4,
			StaleAfterMs:   2000,
			// Axes left empty follow the protocol's plotted channels, see fillAxes
		},
		TrackMap: TrackMapConfig{},
		Logging: logger.Config{
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	cfg.fillAxes()
	return cfg
}

// fillAxes charts the selected protocol's plotted channels when the file
// names no axes of its own.
func (c *Config) fillAxes() {
	if len(c.Display.Axes) > 0 {
		return
	}
	if p, err := telemetry.LookupProtocol(c.Link.Protocol); err == nil {
		c.Display.Axes = DefaultAxes(p)
	}
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: LINK_DRIVER, LINK_PORT, LINK_BAUD, LINK_PROTOCOL, LINK_PACING_MS,
// LISTEN_ADDR, LOG_FILE
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LINK_DRIVER"); v != "" {
		c.Link.Driver = v
	}
	if v := os.Getenv("LINK_PORT"); v != "" {
		c.Link.PortPath = v
	}
	if v := os.Getenv("LINK_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Link.BaudRate = n
		}
	}
	if v := os.Getenv("LINK_PROTOCOL"); v != "" {
		c.Link.Protocol = v
	}
	if v := os.Getenv("LINK_PACING_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Link.PacingMs = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Logging.File = v
	}
}

// Validate checks the settings the ingest core cannot run without.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, err := telemetry.LookupProtocol(c.Link.Protocol); err != nil {
		return err
	}
	if c.Link.BaudRate <= 0 {
		return fmt.Errorf("config: invalid baud rate %d", c.Link.BaudRate)
	}
	if c.Link.Driver != "demo" && c.Link.PortPath == "" {
		return fmt.Errorf("config: link.port_path is required for driver %q", c.Link.Driver)
	}
	if c.Display.DisplayPeriodS <= 0 || c.Display.SamplePeriodS <= 0 {
		return fmt.Errorf("config: display and sample periods must be positive")
	}
	return nil
}

// WindowLength is round(display period / sample period).
func (c *Config) WindowLength() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return window.Length(c.Display.DisplayPeriodS, c.Display.SamplePeriodS)
}

// ManagerConfig converts the link section for link.NewManager.
func (c *Config) ManagerConfig() (link.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	proto, err := telemetry.LookupProtocol(c.Link.Protocol)
	if err != nil {
		return link.Config{}, err
	}
	return link.Config{
		PortName:       c.Link.PortPath,
		Protocol:       proto,
		ErrorThreshold: c.Link.ErrorThreshold,
		BackoffInitial: ms(c.Link.BackoffInitialMs),
		BackoffMax:     ms(c.Link.BackoffMaxMs),
		Pacing:         ms(c.Link.PacingMs),
		MaxLineBytes:   c.Link.MaxLineBytes,
	}, nil
}

// OpenerConfig converts the link section for link.NewOpener.
func (c *Config) OpenerConfig() link.OpenerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return link.OpenerConfig{
		Driver:       c.Link.Driver,
		PortPath:     c.Link.PortPath,
		BaudRate:     c.Link.BaudRate,
		ReadTimeout:  ms(c.Link.ReadTimeoutMs),
		SamplePeriod: time.Duration(c.Display.SamplePeriodS * float64(time.Second)),
	}
}

// DisplaySettings returns a copy of the display and track map sections.
func (c *Config) DisplaySettings() (DisplayConfig, TrackMapConfig) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := c.Display
	d.Axes = append([]AxisConfig(nil), c.Display.Axes...)
	return d, c.TrackMap
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.filePath(), data, 0644)
}

// filePath is where Save writes. Callers hold mu.
func (c *Config) filePath() string {
	if c.path == "" {
		return "/etc/pitdash/config.yaml"
	}
	return c.path
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// ErrRestartRequired rejects a live update to a setting the serial link or
// the window store were built from.
var ErrRestartRequired = errors.New("setting only applies on restart")

// restartOnly lists, per JSON section, the keys a running process cannot
// pick up. A nil list covers the whole section.
var restartOnly = map[string][]string{
	"link":    nil,
	"logging": nil,
	"server":  nil,
	"display": {"displayPeriodS", "samplePeriodS", "seedValue"},
}

// restartOnlyKeys returns the dotted names of restart-only keys in patch.
func restartOnlyKeys(patch map[string]interface{}) []string {
	var keys []string
	for section, fields := range restartOnly {
		v, ok := patch[section]
		if !ok {
			continue
		}
		if fields == nil {
			keys = append(keys, section)
			continue
		}
		m, _ := v.(map[string]interface{})
		for _, f := range fields {
			if _, ok := m[f]; ok {
				keys = append(keys, section+"."+f)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Only display and track map
// settings the renderer reads live may change; anything the link or the
// window store depends on returns ErrRestartRequired and leaves the config
// untouched.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}
	if keys := restartOnlyKeys(patch); len(keys) > 0 {
		return fmt.Errorf("%w: %s (edit %s and restart)", ErrRestartRequired, strings.Join(keys, ", "), c.filePath())
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

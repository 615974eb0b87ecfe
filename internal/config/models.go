package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/galaxycam/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. GALAXYCAM_CAMERA_GAIN.
const EnvPrefix = "GALAXYCAM"

// Config represents the application configuration
type Config struct {
	Camera     CameraConfig  `json:"camera" yaml:"camera"`
	Stream     StreamConfig  `json:"stream" yaml:"stream"`
	Overlay    OverlayConfig `json:"overlay" yaml:"overlay"`
	Record     RecordConfig  `json:"record" yaml:"record"`
	ServerPort int           `json:"server_port" yaml:"server_port"`
	LogLevel   string        `json:"log_level" yaml:"log_level"`
	LogPretty  bool          `json:"log_pretty" yaml:"log_pretty"`
}

// CameraConfig selects and configures the camera
type CameraConfig struct {
	Driver         string         `json:"driver" yaml:"driver"`
	DriverOptions  map[string]any `json:"driver_options" yaml:"driver_options"`
	DeviceSelector string         `json:"device_selector" yaml:"device_selector"`
	ExposureMS     float64        `json:"exposure_ms" yaml:"exposure_ms"`
	Gain           float64        `json:"gain" yaml:"gain"`
	// FrameRate of 0 leaves the sensor free-running at its maximum rate
	FrameRate    float64  `json:"frame_rate" yaml:"frame_rate"`
	PixelFormats []string `json:"pixel_formats" yaml:"pixel_formats"`

	QueueCapacity      int    `json:"queue_capacity" yaml:"queue_capacity"`
	Overflow           string `json:"overflow" yaml:"overflow"`
	AcquireTimeoutMS   int    `json:"acquire_timeout_ms" yaml:"acquire_timeout_ms"`
	IdleIntervalMS     int    `json:"idle_interval_ms" yaml:"idle_interval_ms"`
	EnumerateTimeoutMS int    `json:"enumerate_timeout_ms" yaml:"enumerate_timeout_ms"`
	Demosaic           string `json:"demosaic" yaml:"demosaic"`
}

// AcquireTimeout returns the per-buffer wait
func (c CameraConfig) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutMS) * time.Millisecond
}

// IdleInterval returns the poll interval while not streaming
func (c CameraConfig) IdleInterval() time.Duration {
	return time.Duration(c.IdleIntervalMS) * time.Millisecond
}

// EnumerateTimeout returns the device discovery wait
func (c CameraConfig) EnumerateTimeout() time.Duration {
	return time.Duration(c.EnumerateTimeoutMS) * time.Millisecond
}

// StreamConfig represents MJPEG output configuration
type StreamConfig struct {
	FPS         int `json:"fps" yaml:"fps"`
	JPEGQuality int `json:"jpeg_quality" yaml:"jpeg_quality"`
	// Width scales the published stream; 0 keeps the sensor width
	Width int `json:"width" yaml:"width"`
}

// OverlayConfig represents overlay configuration
type OverlayConfig struct {
	Enabled bool                     `json:"enabled" yaml:"enabled"`
	Widgets []map[string]interface{} `json:"widgets" yaml:"widgets"`
}

// RecordConfig represents where grabbed frames are written
type RecordConfig struct {
	Directory string `json:"directory" yaml:"directory"`
	Format    string `json:"format" yaml:"format"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Camera: CameraConfig{
			Driver: "sim",
			DriverOptions: map[string]any{
				"width":        1280,
				"height":       1024,
				"pixel_format": "BayerRG8",
				"fps":          30,
				"serials":      []any{"SIM00001"},
			},
			ExposureMS:         10,
			Gain:               0,
			QueueCapacity:      3,
			Overflow:           "block",
			AcquireTimeoutMS:   100,
			IdleIntervalMS:     10,
			EnumerateTimeoutMS: 1000,
			Demosaic:           "bilinear",
		},
		Stream: StreamConfig{
			FPS:         15,
			JPEGQuality: 85,
		},
		Overlay: OverlayConfig{
			Enabled: true,
			Widgets: []map[string]interface{}{
				{"type": "text", "id": "info", "position": "top-left", "template": "{{.Serial}} #{{.Seq}} {{.Clock}} {{.Rate}} fps"},
			},
		},
		Record: RecordConfig{
			Directory: "frames",
			Format:    "png",
		},
	}
}

// Validate checks values the camera and server cannot work with
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.ServerPort < 0 || c.ServerPort > 65535 {
		add("server_port %d out of range", c.ServerPort)
	}
	if c.LogLevel != "" && !logger.ValidLevel(c.LogLevel) {
		add("log_level %q unknown (use trace, debug, info, warn, error)", c.LogLevel)
	}

	cam := c.Camera
	if cam.Driver == "" {
		add("camera.driver is empty")
	}
	if cam.ExposureMS <= 0 {
		add("camera.exposure_ms must be positive, got %v", cam.ExposureMS)
	}
	if cam.Gain < 0 {
		add("camera.gain must not be negative, got %v", cam.Gain)
	}
	if cam.FrameRate < 0 {
		add("camera.frame_rate must not be negative, got %v", cam.FrameRate)
	}
	if cam.QueueCapacity < 1 {
		add("camera.queue_capacity must be at least 1, got %d", cam.QueueCapacity)
	}
	switch cam.Overflow {
	case "", "block", "drop-oldest":
	default:
		add("camera.overflow %q unknown (use block or drop-oldest)", cam.Overflow)
	}
	switch cam.Demosaic {
	case "", "bilinear", "vng", "edge-aware", "ea":
	default:
		add("camera.demosaic %q unknown (use bilinear, vng or edge-aware)", cam.Demosaic)
	}
	if cam.AcquireTimeoutMS < 1 {
		add("camera.acquire_timeout_ms must be positive, got %d", cam.AcquireTimeoutMS)
	}
	if cam.IdleIntervalMS < 1 {
		add("camera.idle_interval_ms must be positive, got %d", cam.IdleIntervalMS)
	}
	if cam.EnumerateTimeoutMS < 1 {
		add("camera.enumerate_timeout_ms must be positive, got %d", cam.EnumerateTimeoutMS)
	}

	if c.Stream.FPS < 1 || c.Stream.FPS > 120 {
		add("stream.fps must be between 1 and 120, got %d", c.Stream.FPS)
	}
	if c.Stream.JPEGQuality < 1 || c.Stream.JPEGQuality > 100 {
		add("stream.jpeg_quality must be between 1 and 100, got %d", c.Stream.JPEGQuality)
	}
	if c.Stream.Width < 0 {
		add("stream.width must not be negative, got %d", c.Stream.Width)
	}
	switch c.Record.Format {
	case "png", "jpg", "jpeg", "bmp", "tiff":
	default:
		add("record.format %q unknown (use png, jpg, bmp or tiff)", c.Record.Format)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/galaxycam/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "galaxycam", "config.yaml"), nil
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	// Create config directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Str("driver", m.config.Camera.Driver).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk. Keys missing from the file keep
// their defaults.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	// Start from an empty map so the file replaces the default options
	// instead of merging into them.
	cfg.Camera.DriverOptions = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Camera.DriverOptions == nil {
		cfg.Camera.DriverOptions = map[string]any{}
	}
	if cfg.Overlay.Widgets == nil {
		cfg.Overlay.Widgets = []map[string]interface{}{}
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update validates and replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %d", port)
	}
	m.mu.Lock()
	m.config.ServerPort = port
	m.mu.Unlock()
	return m.Save()
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	if !logger.ValidLevel(level) {
		return fmt.Errorf("invalid log level: %s", level)
	}
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
	return m.Save()
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

// GetViper returns a viper view of the current configuration with
// GALAXYCAM_* environment overrides applied. Keys are the dotted yaml
// paths, e.g. camera.exposure_ms.
func (m *Manager) GetViper() (*viper.Viper, error) {
	data, err := yaml.Marshal(m.Get())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("failed to read config into viper: %w", err)
	}
	return v, nil
}

// Resolve returns the configuration with environment overrides applied.
func (m *Manager) Resolve() (*Config, error) {
	v, err := m.GetViper()
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// SetValue sets a dotted key from its string form, validates the result
// and saves it.
func (m *Manager) SetValue(key, value string) error {
	key = strings.ToLower(key)
	switch key {
	case "server_port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return m.SetPort(port)
	case "log_level":
		return m.SetLogLevel(strings.ToLower(value))
	}

	v, err := m.GetViper()
	if err != nil {
		return err
	}
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}
	v.Set(key, value)

	cfg, err := decode(v)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return m.Update(cfg)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return nil, err
	}
	if cfg.Camera.DriverOptions == nil {
		cfg.Camera.DriverOptions = map[string]any{}
	}
	if cfg.Overlay.Widgets == nil {
		cfg.Overlay.Widgets = []map[string]interface{}{}
	}
	return cfg, nil
}

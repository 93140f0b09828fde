// Package config loads the people-counter YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete people-counter configuration
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Input    InputConfig    `yaml:"input"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Output   OutputConfig   `yaml:"output"`
	Health   HealthConfig   `yaml:"health"`
	Log      LogConfig      `yaml:"log"`
}

// ModelConfig contains inference engine settings
type ModelConfig struct {
	Path         string  `yaml:"path"`
	Device       string  `yaml:"device"`        // CPU, CUDA, GPU, NPU, MYRIAD, HETERO:...
	Library      string  `yaml:"library"`       // ONNX Runtime shared library (-l)
	ChannelOrder string  `yaml:"channel_order"` // BGR, RGB
	PixelScale   float32 `yaml:"pixel_scale"`   // 1 keeps 0-255
	Threads      int     `yaml:"threads"`       // 0 = NumCPU
}

// InputConfig contains capture settings
type InputConfig struct {
	Source       string        `yaml:"source"` // CAM, image file, video file or URL
	CameraDevice string        `yaml:"camera_device"`
	OpenTimeout  time.Duration `yaml:"open_timeout"`
}

// TrackerConfig contains debounce settings
type TrackerConfig struct {
	DebounceWindow time.Duration `yaml:"debounce_window"`
}

// PipelineConfig contains driver settings
type PipelineConfig struct {
	ProbThreshold          float64       `yaml:"prob_threshold"`
	RequestSlots           int           `yaml:"request_slots"`
	InferenceTimeout       time.Duration `yaml:"inference_timeout"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Disabled  bool          `yaml:"disabled"` // log messages instead of publishing
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	ClientID  string        `yaml:"client_id"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	KeepAlive time.Duration `yaml:"keep_alive"`
	QoS       byte          `yaml:"qos"`
	Encoding  string        `yaml:"encoding"` // json, msgpack
	Topics    MQTTTopics    `yaml:"topics"`
}

// MQTTTopics contains the outbound topics
type MQTTTopics struct {
	Count    string `yaml:"count"`
	Duration string `yaml:"duration"`
}

// OutputConfig contains annotated frame output settings
type OutputConfig struct {
	ImagePath   string `yaml:"image_path"`   // still image mode
	Stream      string `yaml:"stream"`       // stdout, ffmpeg, none
	FFmpegURL   string `yaml:"ffmpeg_url"`   // stream=ffmpeg
	FrameRate   int    `yaml:"frame_rate"`   // stream=ffmpeg
	JPEGQuality int    `yaml:"jpeg_quality"` // still image mode
	Overlay     *bool  `yaml:"overlay"`      // default true
}

// HealthConfig contains the health endpoint settings
type HealthConfig struct {
	Addr string `yaml:"addr"` // empty disables the server
}

// LogConfig contains logging settings
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // text, json
	File       string `yaml:"file"`   // rotated log file, in addition to stderr
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Output stream modes
const (
	StreamStdout = "stdout"
	StreamFFmpeg = "ffmpeg"
	StreamNone   = "none"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	overlay := true
	return &Config{
		Model: ModelConfig{
			Device:       "CPU",
			ChannelOrder: "BGR",
			PixelScale:   1,
		},
		Input: InputConfig{
			CameraDevice: "/dev/video0",
			OpenTimeout:  10 * time.Second,
		},
		Tracker: TrackerConfig{
			DebounceWindow: time.Second,
		},
		Pipeline: PipelineConfig{
			ProbThreshold:          0.5,
			RequestSlots:           1,
			InferenceTimeout:       5 * time.Second,
			MaxConsecutiveFailures: 10,
		},
		MQTT: MQTTConfig{
			Host:      "localhost",
			Port:      3001,
			KeepAlive: 60 * time.Second,
			Encoding:  "json",
			Topics: MQTTTopics{
				Count:    "person",
				Duration: "person/duration",
			},
		},
		Output: OutputConfig{
			ImagePath:   "out_image.jpg",
			Stream:      StreamStdout,
			FrameRate:   24,
			JPEGQuality: 95,
			Overlay:     &overlay,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Read parses a YAML configuration file over the defaults without
// validating it, so command line overrides can be applied first.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Load reads a YAML configuration file over the defaults and validates it
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// OverlayEnabled reports whether frames are annotated.
func (c *Config) OverlayEnabled() bool {
	return c.Output.Overlay == nil || *c.Output.Overlay
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	peoplecounter "github.com/e7canasta/orion-care-sensor/modules/people-counter"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "people-counter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
model:
  path: /models/person-detection-retail-0013.onnx
  device: CUDA
input:
  source: /data/walk.mp4
tracker:
  debounce_window: 1500ms
pipeline:
  prob_threshold: 0.6
  request_slots: 2
mqtt:
  host: 10.0.0.5
  encoding: msgpack
  topics:
    count: lobby/person
output:
  stream: ffmpeg
  ffmpeg_url: http://0.0.0.0:3004/fac.ffm
health:
  addr: ":8081"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "CUDA", cfg.Model.Device)
	assert.Equal(t, "BGR", cfg.Model.ChannelOrder)
	assert.Equal(t, 1500*time.Millisecond, cfg.Tracker.DebounceWindow)
	assert.Equal(t, 0.6, cfg.Pipeline.ProbThreshold)
	assert.Equal(t, 2, cfg.Pipeline.RequestSlots)
	assert.Equal(t, 10, cfg.Pipeline.MaxConsecutiveFailures)

	// Unset fields keep their defaults
	assert.Equal(t, "10.0.0.5", cfg.MQTT.Host)
	assert.Equal(t, 3001, cfg.MQTT.Port)
	assert.Equal(t, 60*time.Second, cfg.MQTT.KeepAlive)
	assert.Equal(t, "msgpack", cfg.MQTT.Encoding)
	assert.Equal(t, "lobby/person", cfg.MQTT.Topics.Count)
	assert.Equal(t, "person/duration", cfg.MQTT.Topics.Duration)

	assert.Equal(t, StreamFFmpeg, cfg.Output.Stream)
	assert.Equal(t, "out_image.jpg", cfg.Output.ImagePath)
	assert.True(t, cfg.OverlayEnabled())
	assert.Equal(t, ":8081", cfg.Health.Addr)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "model: [unterminated"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config")
	})

	t.Run("validation", func(t *testing.T) {
		_, err := Load(writeConfig(t, "input:\n  source: CAM\n"))
		var cfgErr *peoplecounter.ConfigurationError
		require.True(t, errors.As(err, &cfgErr), "got %v", err)
		assert.Equal(t, "model.path", cfgErr.Field)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Model.Path = "model.onnx"
		cfg.Input.Source = "CAM"
		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"missing model", func(c *Config) { c.Model.Path = "" }, "model.path"},
		{"missing input", func(c *Config) { c.Input.Source = "" }, "input.source"},
		{"threshold above one", func(c *Config) { c.Pipeline.ProbThreshold = 1.5 }, "prob_threshold"},
		{"threshold negative", func(c *Config) { c.Pipeline.ProbThreshold = -0.1 }, "prob_threshold"},
		{"negative window", func(c *Config) { c.Tracker.DebounceWindow = -time.Second }, "tracker.debounce_window"},
		{"too many slots", func(c *Config) { c.Pipeline.RequestSlots = 64 }, "pipeline.request_slots"},
		{"bad channel order", func(c *Config) { c.Model.ChannelOrder = "GBR" }, "model.channel_order"},
		{"bad port", func(c *Config) { c.MQTT.Port = 70000 }, "mqtt.port"},
		{"port ignored when disabled", func(c *Config) { c.MQTT.Disabled = true; c.MQTT.Port = 0 }, ""},
		{"bad qos", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"bad encoding", func(c *Config) { c.MQTT.Encoding = "xml" }, "mqtt.encoding"},
		{"ffmpeg without url", func(c *Config) { c.Output.Stream = StreamFFmpeg }, "output.ffmpeg_url"},
		{"bad stream", func(c *Config) { c.Output.Stream = "window" }, "output.stream"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}

			var cfgErr *peoplecounter.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}

func TestValidate_FillsDefaults(t *testing.T) {
	cfg := &Config{
		Model: ModelConfig{Path: "m.onnx"},
		Input: InputConfig{Source: "in.mp4"},
		MQTT:  MQTTConfig{Host: "broker", Port: 1883},
	}
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "CPU", cfg.Model.Device)
	assert.Equal(t, float32(1), cfg.Model.PixelScale)
	assert.Equal(t, 1, cfg.Pipeline.RequestSlots)
	assert.Equal(t, "json", cfg.MQTT.Encoding)
	assert.Equal(t, peoplecounter.DefaultCountTopic, cfg.MQTT.Topics.Count)
	assert.Equal(t, StreamStdout, cfg.Output.Stream)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.True(t, cfg.OverlayEnabled())
}

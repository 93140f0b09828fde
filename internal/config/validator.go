package config

import (
	"fmt"
	"math"
	"strings"

	peoplecounter "github.com/e7canasta/orion-care-sensor/modules/people-counter"
)

func invalid(field, format string, args ...interface{}) error {
	return &peoplecounter.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the configuration and fills in defaults for empty optional
// fields. Errors are *peoplecounter.ConfigurationError.
func Validate(cfg *Config) error {
	// Model
	if cfg.Model.Path == "" {
		return invalid("model.path", "is required")
	}
	if cfg.Model.Device == "" {
		cfg.Model.Device = "CPU"
	}
	switch strings.ToUpper(cfg.Model.ChannelOrder) {
	case "":
		cfg.Model.ChannelOrder = "BGR"
	case "BGR", "RGB":
	default:
		return invalid("model.channel_order", "%q must be BGR or RGB", cfg.Model.ChannelOrder)
	}
	if cfg.Model.PixelScale == 0 {
		cfg.Model.PixelScale = 1
	}
	if cfg.Model.PixelScale < 0 {
		return invalid("model.pixel_scale", "must be > 0")
	}
	if cfg.Model.Threads < 0 {
		return invalid("model.threads", "must be >= 0")
	}

	// Input
	if cfg.Input.Source == "" {
		return invalid("input.source", "is required")
	}
	if cfg.Input.OpenTimeout < 0 {
		return invalid("input.open_timeout", "must not be negative")
	}

	// Tracker
	if cfg.Tracker.DebounceWindow < 0 {
		return invalid("tracker.debounce_window", "must not be negative")
	}

	// Pipeline
	if err := peoplecounter.ValidateThreshold(cfg.Pipeline.ProbThreshold); err != nil {
		return err
	}
	if cfg.Pipeline.RequestSlots == 0 {
		cfg.Pipeline.RequestSlots = 1
	}
	if cfg.Pipeline.RequestSlots < 0 || cfg.Pipeline.RequestSlots > 16 {
		return invalid("pipeline.request_slots", "%d must be in [1,16]", cfg.Pipeline.RequestSlots)
	}
	if cfg.Pipeline.InferenceTimeout < 0 {
		return invalid("pipeline.inference_timeout", "must not be negative")
	}
	if cfg.Pipeline.MaxConsecutiveFailures < 0 {
		return invalid("pipeline.max_consecutive_failures", "must not be negative")
	}

	// MQTT
	if !cfg.MQTT.Disabled {
		if cfg.MQTT.Host == "" {
			return invalid("mqtt.host", "is required unless mqtt.disabled is set")
		}
		if cfg.MQTT.Port <= 0 || cfg.MQTT.Port > math.MaxUint16 {
			return invalid("mqtt.port", "%d out of range", cfg.MQTT.Port)
		}
	}
	if cfg.MQTT.QoS > 2 {
		return invalid("mqtt.qos", "%d must be 0, 1 or 2", cfg.MQTT.QoS)
	}
	switch cfg.MQTT.Encoding {
	case "":
		cfg.MQTT.Encoding = "json"
	case "json", "msgpack":
	default:
		return invalid("mqtt.encoding", "%q must be json or msgpack", cfg.MQTT.Encoding)
	}
	if cfg.MQTT.Topics.Count == "" {
		cfg.MQTT.Topics.Count = peoplecounter.DefaultCountTopic
	}
	if cfg.MQTT.Topics.Duration == "" {
		cfg.MQTT.Topics.Duration = peoplecounter.DefaultDurationTopic
	}

	// Output
	if cfg.Output.ImagePath == "" {
		cfg.Output.ImagePath = "out_image.jpg"
	}
	switch cfg.Output.Stream {
	case "":
		cfg.Output.Stream = StreamStdout
	case StreamStdout, StreamNone:
	case StreamFFmpeg:
		if cfg.Output.FFmpegURL == "" {
			return invalid("output.ffmpeg_url", "is required when output.stream is ffmpeg")
		}
	default:
		return invalid("output.stream", "%q must be stdout, ffmpeg or none", cfg.Output.Stream)
	}
	if cfg.Output.JPEGQuality < 0 || cfg.Output.JPEGQuality > 100 {
		return invalid("output.jpeg_quality", "%d must be in [0,100]", cfg.Output.JPEGQuality)
	}

	// Log
	switch strings.ToLower(cfg.Log.Level) {
	case "":
		cfg.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", "%q must be debug, info, warn or error", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "text"
	case "text", "json":
	default:
		return invalid("log.format", "%q must be text or json", cfg.Log.Format)
	}

	return nil
}

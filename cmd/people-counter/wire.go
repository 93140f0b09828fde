package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.uber.org/multierr"

	peoplecounter "github.com/e7canasta/orion-care-sensor/modules/people-counter"
	"github.com/e7canasta/orion-care-sensor/modules/people-counter/internal/capture"
	"github.com/e7canasta/orion-care-sensor/modules/people-counter/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/people-counter/internal/engine"
	"github.com/e7canasta/orion-care-sensor/modules/people-counter/internal/export"
	"github.com/e7canasta/orion-care-sensor/modules/people-counter/internal/overlay"
	"github.com/e7canasta/orion-care-sensor/modules/people-counter/internal/transport"
)

// brokerTransport is what the pipeline and the health server need from a
// transport.
type brokerTransport interface {
	peoplecounter.Transport
	Connected() bool
}

// pipeline is a wired driver plus the pieces the health server reports on.
type pipeline struct {
	driver    *peoplecounter.Driver
	transport brokerTransport
}

// build opens every collaborator and wires the driver. On error everything
// opened so far is closed.
func build(ctx context.Context, cfg *config.Config, stdout io.Writer) (p *pipeline, err error) {
	var opened []io.Closer
	defer func() {
		if err != nil {
			for i := len(opened) - 1; i >= 0; i-- {
				err = multierr.Append(err, opened[i].Close())
			}
		}
	}()

	order, err := engine.ParseChannelOrder(cfg.Model.ChannelOrder)
	if err != nil {
		return nil, &peoplecounter.ConfigurationError{Field: "model.channel_order", Reason: err.Error()}
	}

	eng, err := engine.Load(engine.Config{
		ModelPath:    cfg.Model.Path,
		Device:       cfg.Model.Device,
		LibraryPath:  cfg.Model.Library,
		Slots:        cfg.Pipeline.RequestSlots,
		Threads:      cfg.Model.Threads,
		ChannelOrder: order,
		PixelScale:   cfg.Model.PixelScale,
	})
	if err != nil {
		return nil, err
	}
	opened = append(opened, eng)

	source, err := capture.Open(cfg.Input.Source, capture.Config{
		CameraDevice: cfg.Input.CameraDevice,
		OpenTimeout:  cfg.Input.OpenTimeout,
	})
	if err != nil {
		return nil, err
	}
	opened = append(opened, source)

	var tr brokerTransport
	if cfg.MQTT.Disabled {
		slog.Info("mqtt disabled, messages are only logged")
		tr = transport.NewLog()
	} else {
		mq, err := transport.Dial(ctx, transport.Config{
			Host:      cfg.MQTT.Host,
			Port:      cfg.MQTT.Port,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			KeepAlive: cfg.MQTT.KeepAlive,
			QoS:       cfg.MQTT.QoS,
		})
		if err != nil {
			return nil, err
		}
		opened = append(opened, mq)
		tr = mq
	}

	marshal, err := transport.Marshaler(cfg.MQTT.Encoding)
	if err != nil {
		return nil, &peoplecounter.ConfigurationError{Field: "mqtt.encoding", Reason: err.Error()}
	}

	sink, err := newSink(cfg, capture.IsStillImage(cfg.Input.Source), stdout)
	if err != nil {
		return nil, err
	}
	if sink != nil {
		opened = append(opened, sink)
	}

	deps := peoplecounter.Dependencies{
		Source:    source,
		Engine:    eng,
		Transport: tr,
	}
	if sink != nil {
		deps.Sink = sink
		if cfg.OverlayEnabled() {
			deps.Overlay = overlay.New(overlay.Config{})
		}
	}

	driver, err := peoplecounter.NewDriver(peoplecounter.Config{
		Threshold:              cfg.Pipeline.ProbThreshold,
		DebounceWindow:         cfg.Tracker.DebounceWindow,
		InferenceTimeout:       cfg.Pipeline.InferenceTimeout,
		MaxConsecutiveFailures: cfg.Pipeline.MaxConsecutiveFailures,
		Emitter: peoplecounter.EmitterConfig{
			CountTopic:    cfg.MQTT.Topics.Count,
			DurationTopic: cfg.MQTT.Topics.Duration,
			Marshal:       marshal,
		},
	}, deps)
	if err != nil {
		return nil, err
	}

	return &pipeline{driver: driver, transport: tr}, nil
}

// newSink picks the frame sink: the annotated image for still input,
// otherwise the configured stream. Returns nil for stream "none".
func newSink(cfg *config.Config, still bool, stdout io.Writer) (peoplecounter.FrameSink, error) {
	if still {
		sink, err := export.NewStill(cfg.Output.ImagePath, cfg.Output.JPEGQuality)
		if err != nil {
			return nil, &peoplecounter.ConfigurationError{Field: "output.image_path", Reason: err.Error()}
		}
		return sink, nil
	}

	switch cfg.Output.Stream {
	case config.StreamNone:
		return nil, nil
	case config.StreamFFmpeg:
		sink, err := export.NewFFmpeg(export.FFmpegConfig{
			URL:       cfg.Output.FFmpegURL,
			FrameRate: cfg.Output.FrameRate,
		})
		if err != nil {
			return nil, fmt.Errorf("ffmpeg output: %w", err)
		}
		return sink, nil
	default:
		return export.NewRaw(bufio.NewWriterSize(stdout, 1<<20)), nil
	}
}

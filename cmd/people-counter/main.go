// Command people-counter counts people in a camera, video or image input,
// publishes occupancy over MQTT and streams annotated frames.
//
// Usage:
//
//	people-counter -m person-detection-retail-0013.onnx -i CAM -d CPU -p 0.6 | ffmpeg ...
//	people-counter --config people-counter.yaml --stream ffmpeg --ffmpeg-url http://0.0.0.0:3004/fac.ffm
//
// Exit codes: 0 on end of stream or signal, 1 on runtime errors,
// 2 on invalid configuration.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	peoplecounter "github.com/e7canasta/orion-care-sensor/modules/people-counter"
	"github.com/e7canasta/orion-care-sensor/modules/people-counter/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/people-counter/internal/health"
)

// Version information
const version = "v0.1.0"

const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConfig
	}
	if opts.showVersion {
		fmt.Fprintf(stderr, "people-counter %s\n", version)
		return exitOK
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}

	logger, logCloser := newLogger(cfg.Log, stderr)
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("people-counter starting",
		"version", version,
		"model", cfg.Model.Path,
		"device", cfg.Model.Device,
		"input", cfg.Input.Source,
		"prob_threshold", cfg.Pipeline.ProbThreshold,
		"request_slots", cfg.Pipeline.RequestSlots,
		"mqtt_disabled", cfg.MQTT.Disabled,
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
	)

	p, err := build(ctx, cfg, stdout)
	if err != nil {
		slog.Error("failed to start pipeline", "error", err)
		return exitCode(err)
	}

	if cfg.Health.Addr != "" {
		srv := health.NewServer(p.driver, p.transport, nil)
		if err := srv.ListenAndServe(ctx, cfg.Health.Addr); err != nil {
			slog.Warn("health endpoint disabled", "error", err)
		}
	}

	err = p.driver.Run(ctx)
	stats := p.driver.Stats()
	slog.Info("people-counter stopped",
		"frames_processed", stats.FramesProcessed,
		"frames_skipped", stats.FramesSkipped,
		"total_entries", stats.Occupancy.TotalEntries,
		"messages_published", stats.MessagesPublished,
		"publish_failures", stats.PublishFailures,
	)

	code := exitCode(err)
	if code != exitOK {
		slog.Error("pipeline failed", "error", err)
	}
	return code
}

// loadConfig reads the optional YAML file, applies command line overrides
// and validates the result.
func loadConfig(opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Read(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	opts.apply(cfg)

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// exitCode maps a pipeline error to the process exit status.
func exitCode(err error) int {
	var cfgErr *peoplecounter.ConfigurationError
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return exitOK
	case errors.As(err, &cfgErr):
		return exitConfig
	default:
		return exitError
	}
}

package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/e7canasta/orion-care-sensor/modules/people-counter/internal/config"
)

// options holds the parsed command line.
type options struct {
	configPath  string
	showVersion bool
	debug       bool

	fs *pflag.FlagSet

	model         string
	input         string
	cpuExtension  string
	device        string
	probThreshold float64

	logFormat  string
	logFile    string
	mqttHost   string
	mqttPort   int
	noMQTT     bool
	healthAddr string
	stream     string
	ffmpegURL  string
	imagePath  string
	slots      int
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{}
	fs := pflag.NewFlagSet("people-counter", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false

	fs.StringVarP(&o.model, "model", "m", "", "Path to the detection model (.onnx)")
	fs.StringVarP(&o.input, "input", "i", "", "Input: CAM, an image (.jpg, .jpeg, .bmp, .png), a video file or a URL")
	fs.StringVarP(&o.cpuExtension, "cpu-extension", "l", "", "Path to the ONNX Runtime shared library")
	fs.StringVarP(&o.device, "device", "d", "CPU", "Target device: CPU, CUDA or an OpenVINO device (GPU, NPU, MYRIAD, HETERO:...)")
	fs.Float64VarP(&o.probThreshold, "prob-threshold", "p", 0.5, "Probability threshold for detections filtering")

	fs.StringVar(&o.configPath, "config", "", "YAML configuration file (flags override it)")
	fs.StringVar(&o.mqttHost, "mqtt-host", "", "MQTT broker host")
	fs.IntVar(&o.mqttPort, "mqtt-port", 0, "MQTT broker port")
	fs.BoolVar(&o.noMQTT, "no-mqtt", false, "Log messages instead of publishing them")
	fs.StringVar(&o.stream, "stream", "", "Frame output for video input: stdout, ffmpeg or none")
	fs.StringVar(&o.ffmpegURL, "ffmpeg-url", "", "ffmpeg output URL (with --stream ffmpeg)")
	fs.StringVar(&o.imagePath, "output-image", "", "Annotated image path for still image input")
	fs.IntVar(&o.slots, "slots", 0, "Number of concurrent inference requests")
	fs.StringVar(&o.healthAddr, "health-addr", "", "Serve /health, /readiness and /metrics on this address")
	fs.StringVar(&o.logFormat, "log-format", "", "Log format: text or json")
	fs.StringVar(&o.logFile, "log-file", "", "Also write logs to this rotated file")
	fs.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	fs.BoolVar(&o.showVersion, "version", false, "Show version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	o.fs = fs
	return o, nil
}

// apply overrides cfg with every flag set on the command line.
func (o *options) apply(cfg *config.Config) {
	changed := o.fs.Changed

	if changed("model") {
		cfg.Model.Path = o.model
	}
	if changed("input") {
		cfg.Input.Source = o.input
	}
	if changed("cpu-extension") {
		cfg.Model.Library = o.cpuExtension
	}
	if changed("device") {
		cfg.Model.Device = o.device
	}
	if changed("prob-threshold") {
		cfg.Pipeline.ProbThreshold = o.probThreshold
	}
	if changed("mqtt-host") {
		cfg.MQTT.Host = o.mqttHost
	}
	if changed("mqtt-port") {
		cfg.MQTT.Port = o.mqttPort
	}
	if o.noMQTT {
		cfg.MQTT.Disabled = true
	}
	if changed("stream") {
		cfg.Output.Stream = o.stream
	}
	if changed("ffmpeg-url") {
		cfg.Output.FFmpegURL = o.ffmpegURL
	}
	if changed("output-image") {
		cfg.Output.ImagePath = o.imagePath
	}
	if changed("slots") {
		cfg.Pipeline.RequestSlots = o.slots
	}
	if changed("health-addr") {
		cfg.Health.Addr = o.healthAddr
	}
	if changed("log-format") {
		cfg.Log.Format = o.logFormat
	}
	if changed("log-file") {
		cfg.Log.File = o.logFile
	}
	if o.debug {
		cfg.Log.Level = "debug"
	}
}

// Package peoplecounter counts people in front of a camera and reports
// occupancy over MQTT.
//
// Each frame runs through a fixed pipeline:
//
//	FrameSource → InferenceEngine → ParseDetections → Tracker → Emitter → Transport
//	                                                      └─→ Overlay → FrameSink
//
// The detector is an SSD-style model whose output is a [1,1,N,7] tensor of
// rows [image_id, label, confidence, xmin, ymin, xmax, ymax]. Rows with a
// confidence strictly above the probability threshold are counted.
//
// # Quick Start
//
//	driver, err := peoplecounter.NewDriver(peoplecounter.Config{
//	    Threshold: 0.5,
//	}, peoplecounter.Dependencies{
//	    Source:    source,    // capture.Open("CAM", capture.Config{})
//	    Engine:    engine,    // engine.Load(engine.Config{ModelPath: "model.onnx"})
//	    Transport: transport, // transport.Dial(ctx, transport.Config{})
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Blocks until end of stream, ctx cancellation or a fatal error
//	if err := driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
//
// # Debouncing
//
// Detectors flicker. The Tracker only accepts a raw count once it has been
// held for longer than the debounce window (1s by default):
//
//   - a rising edge is an arrival; TotalEntries grows by the difference
//   - a falling edge is a departure; its duration is measured from the last
//     arrival
//   - the settled count is reported on every frame
//
// Timestamps come from the driver clock, not from the frames.
//
// # Messages
//
// Per processed frame, in this order:
//
//	person           {"total": N}      on arrival
//	person/duration  {"duration": S}   on departure, whole seconds
//	person           {"count": N}      always
//
// Publishing is best-effort: a failed publish is logged and counted, it never
// stops tracking.
//
// # Errors
//
// ConfigurationError and UnsupportedLayerError are raised before the
// processing loop starts. Inside the loop, ErrInferenceTimeout,
// ErrInferenceFailed and ErrMalformedTensor skip the current frame; more than
// Config.MaxConsecutiveFailures of them in a row end the run with
// ErrTooManyFailures. Capture and sink errors are fatal.
//
// # Concurrency
//
// Driver.Run owns the Tracker and must run in a single goroutine. Stats may
// be called from any goroutine. Inference requests overlap across the
// engine's slots; results are consumed strictly in frame order.
package peoplecounter

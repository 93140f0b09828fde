package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"

	peoplecounter "github.com/e7canasta/orion-care-sensor/modules/people-counter"
)

func rgbFrame(width, height int, pixels ...[3]byte) peoplecounter.Frame {
	data := make([]byte, 0, width*height*3)
	for i := 0; i < width*height; i++ {
		p := pixels[i%len(pixels)]
		data = append(data, p[0], p[1], p[2])
	}
	return peoplecounter.Frame{Seq: 1, Timestamp: time.Unix(0, 0), Width: width, Height: height, Data: data}
}

func TestPreprocess_ChannelOrder(t *testing.T) {
	frame := rgbFrame(2, 1, [3]byte{10, 20, 30}, [3]byte{40, 50, 60})
	shape := peoplecounter.Shape{Channels: 3, Height: 1, Width: 2}

	tests := []struct {
		name  string
		order ChannelOrder
		scale float32
		want  []float32
	}{
		{"bgr planes", OrderBGR, 1, []float32{30, 60, 20, 50, 10, 40}},
		{"rgb planes", OrderRGB, 1, []float32{10, 40, 20, 50, 30, 60}},
		{"scaled", OrderRGB, 0.5, []float32{5, 20, 10, 25, 15, 30}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := make([]float32, 6)
			require.NoError(t, Preprocess(frame, shape, tt.order, tt.scale, dst))
			assert.Equal(t, tt.want, dst)
		})
	}
}

func TestPreprocess_Resize(t *testing.T) {
	frame := rgbFrame(8, 6, [3]byte{100, 150, 200})
	shape := peoplecounter.Shape{Channels: 3, Height: 3, Width: 4}
	dst := make([]float32, 3*3*4)

	require.NoError(t, Preprocess(frame, shape, OrderBGR, 1, dst))

	plane := 12
	for i := 0; i < plane; i++ {
		assert.InDelta(t, 200, dst[i], 1, "blue plane at %d", i)
		assert.InDelta(t, 150, dst[plane+i], 1, "green plane at %d", i)
		assert.InDelta(t, 100, dst[2*plane+i], 1, "red plane at %d", i)
	}
}

func TestPreprocess_Errors(t *testing.T) {
	frame := rgbFrame(2, 2, [3]byte{1, 2, 3})

	err := Preprocess(frame, peoplecounter.Shape{Channels: 3, Height: 2, Width: 2}, OrderBGR, 1, make([]float32, 5))
	assert.ErrorContains(t, err, "input buffer too small")

	err = Preprocess(frame, peoplecounter.Shape{Channels: 1, Height: 2, Width: 2}, OrderBGR, 1, make([]float32, 4))
	assert.ErrorContains(t, err, "unsupported channel count")

	bad := frame
	bad.Data = bad.Data[:5]
	err = Preprocess(bad, peoplecounter.Shape{Channels: 3, Height: 2, Width: 2}, OrderBGR, 1, make([]float32, 12))
	assert.ErrorContains(t, err, "invalid RGB frame")
}

func TestParseChannelOrder(t *testing.T) {
	for in, want := range map[string]ChannelOrder{"": OrderBGR, "BGR": OrderBGR, "bgr": OrderBGR, "RGB": OrderRGB, "rgb": OrderRGB} {
		got, err := ParseChannelOrder(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseChannelOrder("GBR")
	assert.Error(t, err)
}

func tensorInfo(name string, dims ...int64) ort.InputOutputInfo {
	return ort.InputOutputInfo{
		Name:         name,
		OrtValueType: ort.ONNXTypeTensor,
		Dimensions:   ort.NewShape(dims...),
		DataType:     ort.TensorElementDataTypeFloat,
	}
}

func TestCheckLayout(t *testing.T) {
	shape, out, err := checkLayout("CPU",
		[]ort.InputOutputInfo{tensorInfo("data", 1, 3, 320, 544)},
		[]ort.InputOutputInfo{tensorInfo("detection_out", 1, 1, 200, 7)},
	)
	require.NoError(t, err)
	assert.Equal(t, peoplecounter.Shape{Channels: 3, Height: 320, Width: 544}, shape)
	assert.Equal(t, []int64{1, 1, 200, 7}, out)

	// A dynamic batch dimension is pinned to 1
	_, out, err = checkLayout("CPU",
		[]ort.InputOutputInfo{tensorInfo("data", -1, 3, 320, 544)},
		[]ort.InputOutputInfo{tensorInfo("detection_out", -1, 1, 200, 7)},
	)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 200, 7}, out)
}

func TestCheckLayout_Unsupported(t *testing.T) {
	tests := []struct {
		name    string
		inputs  []ort.InputOutputInfo
		outputs []ort.InputOutputInfo
		layer   string
	}{
		{
			name:    "grayscale input",
			inputs:  []ort.InputOutputInfo{tensorInfo("data", 1, 1, 320, 544)},
			outputs: []ort.InputOutputInfo{tensorInfo("detection_out", 1, 1, 200, 7)},
			layer:   "data (1 channels, want 3)",
		},
		{
			name:    "dynamic spatial dims",
			inputs:  []ort.InputOutputInfo{tensorInfo("data", 1, 3, -1, -1)},
			outputs: []ort.InputOutputInfo{tensorInfo("detection_out", 1, 1, 200, 7)},
			layer:   "data (dynamic input dimensions",
		},
		{
			name:    "classifier output",
			inputs:  []ort.InputOutputInfo{tensorInfo("data", 1, 3, 224, 224)},
			outputs: []ort.InputOutputInfo{tensorInfo("prob", 1, 1000)},
			layer:   "prob (output shape",
		},
		{
			name:   "two outputs",
			inputs: []ort.InputOutputInfo{tensorInfo("data", 1, 3, 320, 544)},
			outputs: []ort.InputOutputInfo{
				tensorInfo("boxes", 1, 1, 200, 7),
				tensorInfo("scores", 1, 1, 200, 7),
			},
			layer: "scores (extra output)",
		},
		{
			name:   "no outputs",
			inputs: []ort.InputOutputInfo{tensorInfo("data", 1, 3, 320, 544)},
			layer:  "model has no input or output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := checkLayout("MYRIAD", tt.inputs, tt.outputs)

			var layerErr *peoplecounter.UnsupportedLayerError
			require.True(t, errors.As(err, &layerErr), "got %v", err)
			assert.Equal(t, "MYRIAD", layerErr.Device)

			found := false
			for _, l := range layerErr.Layers {
				if len(l) >= len(tt.layer) && l[:len(tt.layer)] == tt.layer {
					found = true
				}
			}
			assert.True(t, found, "layer %q not in %v", tt.layer, layerErr.Layers)
		})
	}
}

func TestLoad_MissingModel(t *testing.T) {
	_, err := Load(Config{ModelPath: "/nonexistent/person-detection.onnx", Slots: 1})

	var cfgErr *peoplecounter.ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
}

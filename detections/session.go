package detections

import (
	"fmt"
	"image"
	"time"

	"github.com/Tutortoise/yolo-detection-service/models"

	ort "github.com/yalue/onnxruntime_go"
)

type SessionConfig struct {
	ModelPath      string
	InputSize      int
	IntraOpThreads int
}

// ModelSession is one ONNX Runtime session with its bound input and output
// tensors. It is not safe for concurrent use.
type ModelSession struct {
	Session   *ort.AdvancedSession
	Input     *ort.Tensor[float32]
	Output    *ort.Tensor[float32]
	InputSize int
	Layout    OutputLayout
}

type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// NewModelSession reads the model's input and output signature and creates a
// session with tensors of matching shape.
func NewModelSession(cfg SessionConfig) (*ModelSession, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("error reading model signature: %w", err)
	}
	if len(inputs) != 1 || len(outputs) == 0 {
		return nil, fmt.Errorf("expected 1 input and at least 1 output, got %d and %d", len(inputs), len(outputs))
	}

	inputSize, layout, err := ResolveLayout(inputs[0].Dimensions, outputs[0].Dimensions, cfg.InputSize)
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("error setting intra-op threads: %w", err)
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputSize), int64(inputSize)))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(4+layout.NumClasses), int64(layout.NumAnchors))
	if layout.Transposed {
		outputShape = ort.NewShape(1, int64(layout.NumAnchors), int64(4+layout.NumClasses))
	}
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session:   session,
		Input:     inputTensor,
		Output:    outputTensor,
		InputSize: inputSize,
		Layout:    layout,
	}, nil
}

// ResolveLayout derives the square input size and the output layout from the
// model's declared shapes. Dynamic dimensions (<= 0) fall back to
// fallbackSize and the anchor count implied by the detection head strides.
func ResolveLayout(inputDims, outputDims ort.Shape, fallbackSize int) (int, OutputLayout, error) {
	if len(inputDims) != 4 {
		return 0, OutputLayout{}, fmt.Errorf("unsupported input rank %d, want NCHW", len(inputDims))
	}
	if inputDims[1] > 0 && inputDims[1] != 3 {
		return 0, OutputLayout{}, fmt.Errorf("unsupported input channels %d, want 3", inputDims[1])
	}
	if inputDims[2] > 0 && inputDims[3] > 0 && inputDims[2] != inputDims[3] {
		return 0, OutputLayout{}, fmt.Errorf("unsupported non-square input %dx%d", inputDims[3], inputDims[2])
	}

	size := fallbackSize
	if size <= 0 {
		size = DefaultInputSize
	}
	if inputDims[2] > 0 {
		size = int(inputDims[2])
	}

	if len(outputDims) != 3 {
		return 0, OutputLayout{}, fmt.Errorf("unsupported output rank %d, want 3", len(outputDims))
	}

	anchors := 0
	for _, stride := range headStrides {
		cells := size / stride
		anchors += cells * cells
	}

	rows, cols := int(outputDims[1]), int(outputDims[2])
	switch {
	case rows > 4 && (cols == anchors || cols <= 0) && rows < anchors:
		return size, OutputLayout{NumClasses: rows - 4, NumAnchors: anchors}, nil
	case cols > 4 && (rows == anchors || rows <= 0) && cols < anchors:
		return size, OutputLayout{NumClasses: cols - 4, NumAnchors: anchors, Transposed: true}, nil
	default:
		return 0, OutputLayout{}, fmt.Errorf("unsupported output shape %v for input size %d", outputDims, size)
	}
}

// Detect runs the full model pipeline on img and fills the stage timings.
func (m *ModelSession) Detect(img image.Image, timings *models.ProcessingTimings) ([]models.Detection, error) {
	prepStart := time.Now()
	canvas, lb := letterbox(img, m.InputSize)
	fillCHW(canvas, m.Input.GetData())
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	if err := m.Session.Run(); err != nil {
		return nil, &ProcessingError{Message: "model inference", Cause: err}
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	detections, err := Postprocess(m.Output.GetData(), m.Layout, lb)
	if err != nil {
		return nil, &ProcessingError{Message: "process predictions", Cause: err}
	}
	timings.Postprocess = time.Since(postStart)

	return detections, nil
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

// Package onnx wraps the onnxruntime environment and session lifecycle
// shared by the plate detector and the text recognizers.
package onnx

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	initOnce sync.Once
	initErr  error
)

// Init loads the onnxruntime shared library once per process. The
// environment stays alive for the process lifetime so multiple sessions
// can share it. ONNXRUNTIME_LIB_PATH overrides the platform default.
func Init() error {
	initOnce.Do(func() {
		if path := os.Getenv("ONNXRUNTIME_LIB_PATH"); path != "" {
			ort.SetSharedLibraryPath(path)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return fmt.Errorf("initialize onnxruntime: %w", initErr)
	}
	return nil
}

// Session owns one model plus its reusable input and output tensors.
// Run is not safe for concurrent use; callers serialize access.
type Session struct {
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	output   *ort.Tensor[float32]
	inShape  []int64
	outShape []int64
}

// NewSession opens the model at path and allocates tensors from its
// declared shapes. Dynamic dimensions resolve to 1.
func NewSession(path string) (*Session, error) {
	if err := Init(); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect model %s: %w", path, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s declares no inputs or outputs", path)
	}

	inShape := resolveShape(inputs[0].Dimensions)
	outShape := resolveShape(outputs[0].Dimensions)

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(inShape...))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	sess, err := ort.NewAdvancedSession(path,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create session for %s: %w", path, err)
	}

	return &Session{
		session:  sess,
		input:    inputTensor,
		output:   outputTensor,
		inShape:  inShape,
		outShape: outShape,
	}, nil
}

// InputShape returns the resolved input tensor dimensions.
func (s *Session) InputShape() []int64 { return s.inShape }

// OutputShape returns the resolved output tensor dimensions.
func (s *Session) OutputShape() []int64 { return s.outShape }

// Run copies input into the input tensor, executes the model, and
// returns a copy of the output tensor.
func (s *Session) Run(input []float32) ([]float32, error) {
	data := s.input.GetData()
	if len(input) != len(data) {
		return nil, fmt.Errorf("input length %d does not match tensor size %d", len(input), len(data))
	}
	copy(data, input)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := make([]float32, len(s.output.GetData()))
	copy(out, s.output.GetData())
	return out, nil
}

// Close releases the session and its tensors. The onnxruntime
// environment itself is never torn down.
func (s *Session) Close() {
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
}

func resolveShape(dims ort.Shape) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		if d <= 0 {
			d = 1
		}
		out[i] = d
	}
	return out
}

// Package onnx runs classifiers exported to ONNX through onnxruntime.
package onnx

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/example/mediscan/internal/classifier"
	"github.com/example/mediscan/internal/vision"
)

// Backend is the configuration name of this runtime.
const Backend = "onnx"

// Options configure how ONNX sessions are created.
type Options struct {
	// SharedLibraryPath points at libonnxruntime; empty uses the platform default.
	SharedLibraryPath string
	InputName         string
	OutputName        string
	NumClasses        int
}

var envMu sync.Mutex

func ensureEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// Shutdown destroys the process-wide onnxruntime environment.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// Session binds preallocated input and output tensors to one ONNX session.
type Session struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputShape   []int
	numClasses   int
}

// Opener returns a classifier.Opener creating sessions with opts.
func Opener(opts Options) classifier.Opener {
	return func(path string) (classifier.Session, error) {
		return Open(path, opts)
	}
}

// Open creates a session for the model at path.
func Open(path string, opts Options) (*Session, error) {
	if opts.NumClasses <= 0 {
		return nil, fmt.Errorf("onnx backend needs a positive class count, got %d", opts.NumClasses)
	}
	if err := ensureEnvironment(opts.SharedLibraryPath); err != nil {
		return nil, err
	}

	inputShape := []int{1, vision.InputSize, vision.InputSize, vision.Channels}
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, vision.InputSize, vision.InputSize, vision.Channels))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(opts.NumClasses)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{opts.InputName}, []string{opts.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Session{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputShape:   inputShape,
		numClasses:   opts.NumClasses,
	}, nil
}

// InputShape implements classifier.Session.
func (s *Session) InputShape() []int {
	return s.inputShape
}

// NumClasses implements classifier.Session.
func (s *Session) NumClasses() int {
	return s.numClasses
}

// Invoke implements classifier.Session.
func (s *Session) Invoke(input []float32) ([]float32, error) {
	dst := s.inputTensor.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("%w: got %d values, model expects %d", classifier.ErrShapeMismatch, len(input), len(dst))
	}
	copy(dst, input)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	scores := make([]float32, s.numClasses)
	copy(scores, s.outputTensor.GetData())
	return scores, nil
}

// Close implements classifier.Session.
func (s *Session) Close() error {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}

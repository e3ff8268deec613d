// Package tflite runs quantized TensorFlow Lite classifiers.
package tflite

import (
	"errors"
	"fmt"
	"math"
	"os"

	tflite "github.com/tphakala/go-tflite"
	"go.uber.org/zap"

	"github.com/example/mediscan/internal/classifier"
)

// Backend is the configuration name of this runtime.
const Backend = "tflite"

// Session owns one interpreter with its tensors allocated at load time.
// It is not safe for concurrent use.
type Session struct {
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	inputShape  []int
	inputLen    int
	numClasses  int
}

// Opener returns a classifier.Opener creating sessions with the given thread count.
func Opener(threads int, logger *zap.Logger) classifier.Opener {
	return func(path string) (classifier.Session, error) {
		return Open(path, threads, logger)
	}
}

// Open loads the model at path and allocates its tensors.
func Open(path string, threads int, logger *zap.Logger) (*Session, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from process configuration
	if err != nil {
		return nil, err
	}

	model := tflite.NewModel(data)
	if model == nil {
		return nil, errors.New("cannot load TensorFlow Lite model")
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(max(threads, 1))
	options.SetErrorReporter(func(msg string, _ any) {
		logger.Error("tflite error", zap.String("message", msg))
	}, nil)

	s := &Session{model: model, options: options}

	s.interpreter = tflite.NewInterpreter(model, options)
	if s.interpreter == nil {
		s.Close()
		return nil, errors.New("cannot create interpreter")
	}
	if status := s.interpreter.AllocateTensors(); status != tflite.OK {
		s.Close()
		return nil, fmt.Errorf("tensor allocation failed: %v", status)
	}

	input := s.interpreter.GetInputTensor(0)
	output := s.interpreter.GetOutputTensor(0)
	if input == nil || output == nil {
		s.Close()
		return nil, errors.New("model has no input or output tensor")
	}
	switch input.Type() {
	case tflite.Float32, tflite.UInt8, tflite.Int8:
	default:
		s.Close()
		return nil, fmt.Errorf("unsupported input tensor type %v", input.Type())
	}

	s.inputLen = 1
	for i := 0; i < input.NumDims(); i++ {
		s.inputShape = append(s.inputShape, input.Dim(i))
		s.inputLen *= input.Dim(i)
	}
	s.numClasses = output.Dim(output.NumDims() - 1)

	logger.Info("tflite model loaded",
		zap.String("path", path),
		zap.Ints("input_shape", s.inputShape),
		zap.Any("input_type", input.Type()),
		zap.Int("classes", s.numClasses),
		zap.Int("threads", max(threads, 1)))

	return s, nil
}

// InputShape implements classifier.Session.
func (s *Session) InputShape() []int {
	return s.inputShape
}

// NumClasses implements classifier.Session.
func (s *Session) NumClasses() int {
	return s.numClasses
}

// Invoke copies input into the interpreter, quantizing when the model takes
// integer input, and returns the dequantized output scores.
func (s *Session) Invoke(input []float32) ([]float32, error) {
	if len(input) != s.inputLen {
		return nil, fmt.Errorf("%w: got %d values, model expects %d", classifier.ErrShapeMismatch, len(input), s.inputLen)
	}

	in := s.interpreter.GetInputTensor(0)
	switch in.Type() {
	case tflite.Float32:
		copy(in.Float32s(), input)
	case tflite.UInt8:
		q := in.QuantizationParams()
		dst := in.UInt8s()
		for i, v := range input {
			dst[i] = uint8(quantize(v, q, 0, math.MaxUint8))
		}
	case tflite.Int8:
		q := in.QuantizationParams()
		dst := in.Int8s()
		for i, v := range input {
			dst[i] = int8(quantize(v, q, math.MinInt8, math.MaxInt8))
		}
	}

	if status := s.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	out := s.interpreter.GetOutputTensor(0)
	scores := make([]float32, s.numClasses)
	switch out.Type() {
	case tflite.Float32:
		copy(scores, out.Float32s())
	case tflite.UInt8:
		q := out.QuantizationParams()
		for i, v := range out.UInt8s()[:s.numClasses] {
			scores[i] = dequantize(int(v), q)
		}
	case tflite.Int8:
		q := out.QuantizationParams()
		for i, v := range out.Int8s()[:s.numClasses] {
			scores[i] = dequantize(int(v), q)
		}
	default:
		return nil, fmt.Errorf("unsupported output tensor type %v", out.Type())
	}
	return scores, nil
}

// Close releases the interpreter, options and model.
func (s *Session) Close() error {
	if s.interpreter != nil {
		s.interpreter.Delete()
		s.interpreter = nil
	}
	if s.options != nil {
		s.options.Delete()
		s.options = nil
	}
	if s.model != nil {
		s.model.Delete()
		s.model = nil
	}
	return nil
}

func quantize(v float32, q tflite.QuantizationParams, lo, hi int) int {
	scale := q.Scale
	if scale == 0 {
		scale = 1
	}
	n := int(math.Round(float64(v)/scale)) + q.ZeroPoint
	return min(max(n, lo), hi)
}

func dequantize(v int, q tflite.QuantizationParams) float32 {
	return float32(float64(v-q.ZeroPoint) * q.Scale)
}

package classifier

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/example/mediscan/internal/vision"
)

// Opener loads one model session from a file.
type Opener func(path string) (Session, error)

// LoadOptions describe where the model and labels live and how many
// independent runtime instances to create.
type LoadOptions struct {
	Backend    string
	ModelPath  string
	LabelsPath string
	Instances  int
	Open       Opener
}

// ModelContext bundles the loaded runtime with its labels. It is built once
// at startup and only read afterwards.
type ModelContext struct {
	Backend string
	Labels  LabelSet
	Runtime *Pool
}

// Load reads the labels and opens opts.Instances sessions. Any failure is a
// *ModelLoadError and already-opened sessions are closed.
func Load(opts LoadOptions) (*ModelContext, error) {
	if opts.Open == nil {
		return nil, &ModelLoadError{Path: opts.ModelPath, Err: errors.New("no runtime backend configured")}
	}

	labels, err := LoadLabels(opts.LabelsPath)
	if err != nil {
		return nil, &ModelLoadError{Path: opts.LabelsPath, Err: err}
	}

	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, &ModelLoadError{Path: opts.ModelPath, Err: err}
	}

	instances := max(opts.Instances, 1)
	sessions := make([]Session, 0, instances)
	closeAll := func() {
		for _, s := range sessions {
			_ = s.Close()
		}
	}

	for i := 0; i < instances; i++ {
		s, err := opts.Open(opts.ModelPath)
		if err != nil {
			closeAll()
			return nil, &ModelLoadError{Path: opts.ModelPath, Err: err}
		}
		sessions = append(sessions, s)
	}

	pool, err := NewPool(sessions...)
	if err != nil {
		closeAll()
		return nil, &ModelLoadError{Path: opts.ModelPath, Err: err}
	}

	return NewModelContext(opts.Backend, labels, pool)
}

// NewModelContext validates that the runtime and labels agree on the class
// count and on the preprocessor's tensor shape.
func NewModelContext(backend string, labels LabelSet, pool *Pool) (*ModelContext, error) {
	if pool.NumClasses() != labels.Len() {
		_ = pool.Close()
		return nil, &ModelLoadError{Err: fmt.Errorf("model has %d classes but %d labels were loaded", pool.NumClasses(), labels.Len())}
	}

	want := []int{1, vision.InputSize, vision.InputSize, vision.Channels}
	got := pool.InputShape()
	if !slices.Equal(got, want) {
		_ = pool.Close()
		return nil, &ModelLoadError{Err: fmt.Errorf("%w: model expects %v, preprocessor produces %v", ErrShapeMismatch, got, want)}
	}

	return &ModelContext{Backend: backend, Labels: labels, Runtime: pool}, nil
}

// Close releases the runtime sessions.
func (m *ModelContext) Close() error {
	if m == nil || m.Runtime == nil {
		return nil
	}
	return m.Runtime.Close()
}

package classifier

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/example/mediscan/internal/vision"
)

// Session is one loaded model instance. Implementations are not required to
// be safe for concurrent use; Pool hands each session to one caller at a time.
type Session interface {
	// InputShape is the tensor shape the model expects, e.g. [1 224 224 3].
	InputShape() []int
	// NumClasses is the length of the score vector returned by Invoke.
	NumClasses() int
	// Invoke runs the model on input and returns raw, unnormalized scores.
	Invoke(input []float32) ([]float32, error)
	Close() error
}

// Pool serializes access to a fixed set of sessions. A session is checked
// out for exactly one Infer call and returned on every exit path.
type Pool struct {
	idle       chan Session
	sessions   []Session
	inputShape []int
	numClasses int
}

// NewPool builds a pool over sessions that must all share the same shapes.
func NewPool(sessions ...Session) (*Pool, error) {
	if len(sessions) == 0 {
		return nil, errors.New("pool needs at least one session")
	}

	p := &Pool{
		idle:       make(chan Session, len(sessions)),
		sessions:   sessions,
		inputShape: slices.Clone(sessions[0].InputShape()),
		numClasses: sessions[0].NumClasses(),
	}
	for i, s := range sessions {
		if !slices.Equal(s.InputShape(), p.inputShape) || s.NumClasses() != p.numClasses {
			return nil, fmt.Errorf("session %d shape %v/%d differs from %v/%d",
				i, s.InputShape(), s.NumClasses(), p.inputShape, p.numClasses)
		}
		p.idle <- s
	}
	return p, nil
}

// Size returns the number of sessions in the pool.
func (p *Pool) Size() int {
	return len(p.sessions)
}

// InputShape returns the expected input tensor shape.
func (p *Pool) InputShape() []int {
	return slices.Clone(p.inputShape)
}

// NumClasses returns the length of score vectors produced by Infer.
func (p *Pool) NumClasses() int {
	return p.numClasses
}

// Infer checks out a session, runs t through it and returns the raw scores.
// Waiting for a session honours ctx; a cancelled caller never holds a slot.
func (p *Pool) Infer(ctx context.Context, t vision.Tensor) ([]float32, error) {
	if !slices.Equal(t.Shape[:], p.inputShape) || len(t.Data) != t.Len() {
		return nil, &InferenceError{Err: fmt.Errorf("%w: got %v, model expects %v", ErrShapeMismatch, t.Shape, p.inputShape)}
	}

	var s Session
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case s = <-p.idle:
	}
	defer func() { p.idle <- s }()

	scores, err := s.Invoke(t.Data)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	if len(scores) != p.numClasses {
		return nil, &InferenceError{Err: fmt.Errorf("model returned %d scores, expected %d", len(scores), p.numClasses)}
	}
	return scores, nil
}

// Close releases every session. It must not be called while Infer is running.
func (p *Pool) Close() error {
	var errs []error
	for _, s := range p.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

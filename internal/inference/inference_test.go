package inference

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/mediscan/internal/classifier"
	"github.com/example/mediscan/internal/vision"
)

var (
	skinTone = color.NRGBA{R: 220, G: 170, B: 140, A: 255}
	leafTone = color.NRGBA{R: 40, G: 160, B: 60, A: 255}
)

type countingClassifier struct {
	scores []float32
	err    error
	calls  atomic.Int32
	shapes [][4]int
	mu     sync.Mutex
}

func (c *countingClassifier) Infer(ctx context.Context, t vision.Tensor) ([]float32, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.shapes = append(c.shapes, t.Shape)
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.scores, nil
}

type recordingObserver struct {
	decisions []Decision
	failures  []string
	inferred  int
}

func (r *recordingObserver) ObserveDecision(d Decision)     { r.decisions = append(r.decisions, d) }
func (r *recordingObserver) ObserveInference(time.Duration) { r.inferred++ }
func (r *recordingObserver) ObserveFailure(stage string)    { r.failures = append(r.failures, stage) }

// logitsFor returns scores whose softmax puts p on class 0 and splits the
// rest evenly across the remaining classes.
func logitsFor(p float64, n int) []float32 {
	rest := (1 - p) / float64(n-1)
	scores := make([]float32, n)
	scores[0] = float32(math.Log(p))
	for i := 1; i < n; i++ {
		scores[i] = float32(math.Log(rest))
	}
	return scores
}

// imageWithSkin builds a 100×100 PNG whose first skinPixels pixels, in row
// order, are skin colored.
func imageWithSkin(t *testing.T, skinPixels int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	for i := 0; i < 100*100; i++ {
		c := leafTone
		if i < skinPixels {
			c = skinTone
		}
		img.SetNRGBA(i%100, i/100, c)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testLabels(t *testing.T) classifier.LabelSet {
	t.Helper()
	labels, err := classifier.NewLabelSet([]string{"melanoma", "nevus", "keratosis", "dermatofibroma"})
	require.NoError(t, err)
	return labels
}

func newTestPipeline(t *testing.T, c Classifier, obs Observer) *Pipeline {
	opts := DefaultOptions()
	opts.Observer = obs
	return NewWithClassifier(c, testLabels(t), opts, nil)
}

func TestPipelineScenarios(t *testing.T) {
	tests := []struct {
		name           string
		skinPixels     int
		top1           float64
		wantOutcome    string
		wantConfidence float64
		wantGate       Gate
		wantTopK       int
		wantInvoked    bool
	}{
		{name: "confident skin image", skinPixels: 5000, top1: 0.95, wantOutcome: "melanoma", wantConfidence: 0.95, wantGate: GateAccepted, wantTopK: 3, wantInvoked: true},
		{name: "low confidence", skinPixels: 5000, top1: 0.50, wantOutcome: OutcomeUncertain, wantConfidence: 0.50, wantGate: GateLowConfidence, wantTopK: 3, wantInvoked: true},
		{name: "almost no skin", skinPixels: 100, top1: 0.99, wantOutcome: OutcomeInvalid, wantConfidence: 0, wantGate: GateNonSkin, wantTopK: 0, wantInvoked: false},
		{name: "moderate confidence with little skin", skinPixels: 2500, top1: 0.80, wantOutcome: OutcomeInvalid, wantConfidence: 0.80, wantGate: GateLowSkin, wantTopK: 3, wantInvoked: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &countingClassifier{scores: logitsFor(tt.top1, 4)}
			obs := &recordingObserver{}
			p := newTestPipeline(t, c, obs)

			d, err := p.Classify(context.Background(), imageWithSkin(t, tt.skinPixels))
			require.NoError(t, err)

			assert.Equal(t, tt.wantOutcome, d.Outcome)
			assert.InDelta(t, tt.wantConfidence, d.Confidence, 1e-6)
			assert.Equal(t, tt.wantGate, d.Gate)
			assert.Len(t, d.TopK, tt.wantTopK)
			assert.InDelta(t, float64(tt.skinPixels)/10000, d.SkinRatio, 1e-12)
			assert.Equal(t, tt.wantInvoked, c.calls.Load() == 1)
			assert.Len(t, obs.decisions, 1)
		})
	}
}

func TestPipelineKeepsZeroThresholds(t *testing.T) {
	c := &countingClassifier{scores: logitsFor(0.5, 4)}
	opts := DefaultOptions()
	opts.Thresholds = Thresholds{}
	p := NewWithClassifier(c, testLabels(t), opts, nil)

	d, err := p.Classify(context.Background(), imageWithSkin(t, 100))
	require.NoError(t, err)
	assert.Equal(t, GateAccepted, d.Gate)
	assert.Equal(t, "melanoma", d.Outcome)
	assert.EqualValues(t, 1, c.calls.Load())
}

func TestPipelineNonSkinNeverInvokesClassifier(t *testing.T) {
	c := &countingClassifier{scores: logitsFor(0.99, 4)}
	p := newTestPipeline(t, c, nil)

	for _, skin := range []int{0, 1, 150, 299} {
		d, err := p.Classify(context.Background(), imageWithSkin(t, skin))
		require.NoError(t, err)
		assert.Equal(t, OutcomeInvalid, d.Outcome)
		assert.Zero(t, d.Confidence)
		assert.NotNil(t, d.TopK)
		assert.Empty(t, d.TopK)
	}
	assert.Zero(t, c.calls.Load())
}

func TestPipelinePassesFixedShapeTensor(t *testing.T) {
	c := &countingClassifier{scores: logitsFor(0.9, 4)}
	p := newTestPipeline(t, c, nil)

	img := image.NewNRGBA(image.Rect(0, 0, 37, 301))
	for y := 0; y < 301; y++ {
		for x := 0; x < 37; x++ {
			img.SetNRGBA(x, y, skinTone)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	_, err := p.Classify(context.Background(), buf.Bytes())
	require.NoError(t, err)
	require.Len(t, c.shapes, 1)
	assert.Equal(t, [4]int{1, 224, 224, 3}, c.shapes[0])
}

func TestPipelineIsDeterministic(t *testing.T) {
	c := &countingClassifier{scores: []float32{2.5, 0.1, 2.5, -1}}
	p := newTestPipeline(t, c, nil)
	data := imageWithSkin(t, 9000)

	first, err := p.Classify(context.Background(), data)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), Bytes(data))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, first.TopK, 3)
	assert.Equal(t, "melanoma", first.TopK[0].Label, "ties resolve to the lower index")
	assert.Equal(t, "keratosis", first.TopK[1].Label)
}

func TestPipelineDecodeFailure(t *testing.T) {
	c := &countingClassifier{scores: logitsFor(0.9, 4)}
	obs := &recordingObserver{}
	p := newTestPipeline(t, c, obs)

	_, err := p.Classify(context.Background(), []byte("GIF89a but not really"))

	var decodeErr *vision.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Zero(t, c.calls.Load())
	assert.Equal(t, []string{StageDecode}, obs.failures)
	assert.Empty(t, obs.decisions)
}

func TestPipelineInferenceFailure(t *testing.T) {
	c := &countingClassifier{err: &classifier.InferenceError{Err: classifier.ErrShapeMismatch}}
	obs := &recordingObserver{}
	p := newTestPipeline(t, c, obs)

	d, err := p.Classify(context.Background(), imageWithSkin(t, 8000))

	var inferErr *classifier.InferenceError
	require.ErrorAs(t, err, &inferErr)
	assert.Equal(t, Decision{}, d)
	assert.Equal(t, []string{StageInference}, obs.failures)
}

func TestPipelineRunReadFailure(t *testing.T) {
	p := newTestPipeline(t, &countingClassifier{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, ReaderSource{R: bytes.NewReader([]byte{1, 2, 3})})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPolicyBoundaries(t *testing.T) {
	policy := Policy{Thresholds: DefaultThresholds()}
	top := func(p float64) []classifier.TopKEntry {
		return []classifier.TopKEntry{{Index: 1, Label: "nevus", Probability: p}}
	}

	_, screened := policy.Screen(0.03)
	assert.False(t, screened, "ratio equal to the minimum passes the first gate")
	d, screened := policy.Screen(0.0299)
	assert.True(t, screened)
	assert.Equal(t, GateNonSkin, d.Gate)

	assert.Equal(t, "nevus", policy.Decide(0.30, top(0.70)).Outcome)
	assert.Equal(t, OutcomeUncertain, policy.Decide(0.9, top(0.6999)).Outcome)
	assert.Equal(t, OutcomeInvalid, policy.Decide(0.2999, top(0.99)).Outcome)
	assert.Equal(t, OutcomeUncertain, policy.Decide(0.25, top(0.5)).Outcome, "low confidence is checked before low skin")
}

func TestPolicyUsesConfiguredLowSkinGate(t *testing.T) {
	thresholds := DefaultThresholds()
	thresholds.LowSkinGate = thresholds.SkinRatioLow
	policy := Policy{Thresholds: thresholds}

	d := policy.Decide(0.25, []classifier.TopKEntry{{Label: "nevus", Probability: 0.8}})
	assert.Equal(t, "nevus", d.Outcome)
	assert.True(t, d.IsDiagnosis())
	assert.Equal(t, "diagnosis", d.OutcomeKind())
}

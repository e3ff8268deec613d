package inference

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/mediscan/internal/classifier"
	"github.com/example/mediscan/internal/vision"
)

// Classifier produces raw scores for one input tensor.
type Classifier interface {
	Infer(ctx context.Context, t vision.Tensor) ([]float32, error)
}

// Observer receives pipeline events, typically to export metrics.
type Observer interface {
	ObserveDecision(d Decision)
	ObserveInference(elapsed time.Duration)
	ObserveFailure(stage string)
}

type nopObserver struct{}

func (nopObserver) ObserveDecision(Decision)       {}
func (nopObserver) ObserveInference(time.Duration) {}
func (nopObserver) ObserveFailure(string)          {}

// Failure stages reported to Observer.ObserveFailure.
const (
	StageRead      = "read"
	StageDecode    = "decode"
	StageInference = "inference"
)

// Options tune a Pipeline. A zero TopK or Preprocessor falls back to the
// defaults; Thresholds are applied exactly as given.
type Options struct {
	Decoder      vision.Decoder
	Preprocessor vision.Preprocessor
	Thresholds   Thresholds
	TopK         int
	Observer     Observer
}

// DefaultOptions returns the options the deployed model expects.
func DefaultOptions() Options {
	return Options{
		Preprocessor: vision.DefaultPreprocessor(),
		Thresholds:   DefaultThresholds(),
		TopK:         classifier.DefaultTopK,
	}
}

// Pipeline classifies images. It holds no per-request state and is safe
// for concurrent use; only the classifier call contends.
type Pipeline struct {
	decoder      vision.Decoder
	preprocessor vision.Preprocessor
	classifier   Classifier
	labels       classifier.LabelSet
	policy       Policy
	topK         int
	observer     Observer
	logger       *zap.Logger
}

// New builds a pipeline over a loaded model context.
func New(mc *classifier.ModelContext, opts Options, logger *zap.Logger) *Pipeline {
	return NewWithClassifier(mc.Runtime, mc.Labels, opts, logger)
}

// NewWithClassifier builds a pipeline over any Classifier.
func NewWithClassifier(c Classifier, labels classifier.LabelSet, opts Options, logger *zap.Logger) *Pipeline {
	if opts.TopK <= 0 {
		opts.TopK = classifier.DefaultTopK
	}
	if opts.Preprocessor.Size == 0 {
		opts.Preprocessor = vision.DefaultPreprocessor()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		decoder:      opts.Decoder,
		preprocessor: opts.Preprocessor,
		classifier:   c,
		labels:       labels,
		policy:       Policy{Thresholds: opts.Thresholds},
		topK:         min(opts.TopK, labels.Len()),
		observer:     opts.Observer,
		logger:       logger.Named("pipeline"),
	}
}

// Labels returns the label set decisions are drawn from.
func (p *Pipeline) Labels() classifier.LabelSet {
	return p.labels
}

// Run reads src and classifies its bytes.
func (p *Pipeline) Run(ctx context.Context, src ByteSource) (Decision, error) {
	data, err := src.ReadAll(ctx)
	if err != nil {
		p.observer.ObserveFailure(StageRead)
		return Decision{}, err
	}
	return p.Classify(ctx, data)
}

// Classify runs the guarded pipeline on raw image bytes. Decode failures
// return *vision.DecodeError and runtime failures *classifier.InferenceError;
// "invalid" and "uncertain" outcomes are successful decisions.
func (p *Pipeline) Classify(ctx context.Context, data []byte) (Decision, error) {
	grid, err := p.decoder.Decode(data)
	if err != nil {
		p.observer.ObserveFailure(StageDecode)
		return Decision{}, err
	}

	skinRatio := vision.SkinRatio(grid)
	if d, done := p.policy.Screen(skinRatio); done {
		p.finish(d)
		return d, nil
	}

	tensor := p.preprocessor.Preprocess(grid)

	start := time.Now()
	scores, err := p.classifier.Infer(ctx, tensor)
	p.observer.ObserveInference(time.Since(start))
	if err != nil {
		p.observer.ObserveFailure(StageInference)
		return Decision{}, err
	}

	top := classifier.TopK(classifier.Softmax(scores), p.labels, p.topK)
	d := p.policy.Decide(skinRatio, top)
	p.finish(d)
	return d, nil
}

func (p *Pipeline) finish(d Decision) {
	p.observer.ObserveDecision(d)
	p.logger.Debug("decision",
		zap.String("outcome", d.Outcome),
		zap.String("gate", string(d.Gate)),
		zap.Float64("confidence", d.Confidence),
		zap.Float64("skin_ratio", d.SkinRatio))
}

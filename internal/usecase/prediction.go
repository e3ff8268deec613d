package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/mediscan/internal/classifier"
	"github.com/example/mediscan/internal/inference"
	"github.com/example/mediscan/internal/logging"
	"github.com/example/mediscan/internal/repository"
	"github.com/example/mediscan/internal/retry"
)

// HistoryLimit caps the number of records returned by History.
const HistoryLimit = 50

// PredictionRepository defines the persistence operations needed by the use case.
type PredictionRepository interface {
	SavePrediction(ctx context.Context, p *repository.Prediction) error
	FindPrediction(ctx context.Context, id uint) (*repository.Prediction, error)
	ListPredictions(ctx context.Context, userID *uint, limit int) ([]*repository.Prediction, error)
	FindDuplicatesByHash(ctx context.Context, hash string, excludeID uint) ([]*repository.Prediction, error)
	AggregateStats(ctx context.Context) (*repository.StatsAggregation, error)
}

// Classifier turns image bytes into a decision; *inference.Pipeline satisfies it.
type Classifier interface {
	Classify(ctx context.Context, data []byte) (inference.Decision, error)
}

// PredictionOptions tune caching.
type PredictionOptions struct {
	// Namespace separates cached decisions of different models.
	Namespace   string
	DecisionTTL time.Duration
	RecordTTL   time.Duration
}

// PredictRequest is one upload to classify.
type PredictRequest struct {
	UserID    *uint
	ImageName string
	Source    inference.ByteSource
}

// PredictionResult is the stored outcome of a PredictRequest.
type PredictionResult struct {
	PredictionID uint
	RequestID    string
	Decision     inference.Decision
	Cached       bool
}

// DuplicateReport lists earlier predictions for the same image bytes.
type DuplicateReport struct {
	Prediction *repository.Prediction
	Duplicates []*repository.Prediction
}

// PredictionUseCase encapsulates the business logic around the inference pipeline.
type PredictionUseCase struct {
	repo        PredictionRepository
	cache       Cache
	classifier  Classifier
	logger      *zap.Logger
	retry       retry.Policy
	namespace   string
	decisionTTL time.Duration
	recordTTL   time.Duration
}

// NewPredictionUseCase constructs a new use case instance.
func NewPredictionUseCase(repo PredictionRepository, cache Cache, c Classifier, opts PredictionOptions, logger *zap.Logger) *PredictionUseCase {
	if opts.DecisionTTL <= 0 {
		opts.DecisionTTL = 24 * time.Hour
	}
	if opts.RecordTTL <= 0 {
		opts.RecordTTL = 5 * time.Minute
	}
	return &PredictionUseCase{
		repo:        repo,
		cache:       cache,
		classifier:  c,
		logger:      logger.Named("prediction_usecase"),
		retry:       retry.DefaultPolicy(),
		namespace:   opts.Namespace,
		decisionTTL: opts.DecisionTTL,
		recordTTL:   opts.RecordTTL,
	}
}

// Predict classifies the uploaded image and persists the outcome. Decode and
// inference failures keep their types (*vision.DecodeError,
// *classifier.InferenceError) behind the returned operation error.
func (uc *PredictionUseCase) Predict(ctx context.Context, req PredictRequest) (*PredictionResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.predict", requestID)

	data, err := req.Source.ReadAll(ctx)
	if err != nil {
		return nil, logging.NewOperationError("usecase.read_image", requestID, err)
	}

	sum := sha1.Sum(data)
	hash := hex.EncodeToString(sum[:])

	decision, cached := uc.cachedDecision(ctx, requestID, hash)
	if !cached {
		decision, err = uc.classifier.Classify(ctx, data)
		if err != nil {
			wrapped := logging.NewOperationError("usecase.classify", requestID, err)
			opLogger.Warn("classification failed", zap.Error(wrapped))
			return nil, wrapped
		}
		uc.storeDecision(ctx, requestID, hash, decision)
	}

	topK, err := json.Marshal(decision.TopK)
	if err != nil {
		return nil, logging.NewOperationError("usecase.encode_topk", requestID, err)
	}

	record := &repository.Prediction{
		RequestID:  requestID,
		UserID:     req.UserID,
		ImageName:  req.ImageName,
		SHA1Hash:   hash,
		Label:      decision.Outcome,
		Confidence: decision.Confidence,
		SkinRatio:  decision.SkinRatio,
		Gate:       string(decision.Gate),
		TopK:       string(topK),
		CreatedAt:  time.Now().UTC(),
	}
	if err := uc.repo.SavePrediction(ctx, record); err != nil {
		wrapped := logging.NewOperationError("usecase.save_prediction", requestID, err)
		opLogger.Error("failed to persist prediction", zap.Error(wrapped))
		return nil, wrapped
	}
	uc.storeRecord(ctx, requestID, record)

	opLogger.Info("prediction stored",
		zap.Uint("prediction_id", record.ID),
		zap.String("outcome", decision.Outcome),
		zap.String("gate", string(decision.Gate)),
		zap.Bool("cached", cached))

	return &PredictionResult{
		PredictionID: record.ID,
		RequestID:    requestID,
		Decision:     decision,
		Cached:       cached,
	}, nil
}

// GetPrediction retrieves a cached prediction record or loads it from persistence.
func (uc *PredictionUseCase) GetPrediction(ctx context.Context, id uint) (*repository.Prediction, error) {
	cached, err := uc.cache.Get(ctx, recordKey(id))
	switch {
	case err == nil:
		var record repository.Prediction
		if err := json.Unmarshal([]byte(cached), &record); err == nil {
			return &record, nil
		}
		uc.logger.Warn("failed to decode cached prediction", zap.Uint("prediction_id", id))
	case !errors.Is(err, ErrCacheMiss):
		uc.logger.Warn("failed to read cache", zap.Error(err))
	}

	record, err := uc.repo.FindPrediction(ctx, id)
	if err != nil {
		return nil, err
	}
	uc.storeRecord(ctx, "", record)
	return record, nil
}

// History returns the latest predictions, optionally for a single user.
func (uc *PredictionUseCase) History(ctx context.Context, userID *uint) ([]*repository.Prediction, error) {
	return uc.repo.ListPredictions(ctx, userID, HistoryLimit)
}

// GetDuplicateReport builds a duplicate detection report for a prediction.
func (uc *PredictionUseCase) GetDuplicateReport(ctx context.Context, id uint) (*DuplicateReport, error) {
	record, err := uc.repo.FindPrediction(ctx, id)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, record.SHA1Hash, record.ID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{Prediction: record, Duplicates: duplicates}, nil
}

// DecodeTopK parses the top-k list stored with a prediction record.
func DecodeTopK(record *repository.Prediction) []classifier.TopKEntry {
	entries := []classifier.TopKEntry{}
	if record.TopK == "" {
		return entries
	}
	if err := json.Unmarshal([]byte(record.TopK), &entries); err != nil {
		return []classifier.TopKEntry{}
	}
	return entries
}

func (uc *PredictionUseCase) cachedDecision(ctx context.Context, requestID, hash string) (inference.Decision, bool) {
	value, err := uc.cache.Get(ctx, uc.decisionKey(hash))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			logging.WithOperation(uc.logger, "cache.get.decision", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return inference.Decision{}, false
	}

	var d inference.Decision
	if err := json.Unmarshal([]byte(value), &d); err != nil {
		logging.WithOperation(uc.logger, "cache.get.decision", requestID).Warn("failed to decode cached decision", zap.Error(err))
		return inference.Decision{}, false
	}
	if d.TopK == nil {
		d.TopK = []classifier.TopKEntry{}
	}
	return d, true
}

func (uc *PredictionUseCase) storeDecision(ctx context.Context, requestID, hash string, d inference.Decision) {
	payload, err := json.Marshal(d)
	if err != nil {
		return
	}
	key := uc.decisionKey(hash)
	if err := retry.Do(ctx, uc.logger, uc.retry, "cache.set.decision", requestID, func() error {
		return uc.cache.Set(ctx, key, string(payload), uc.decisionTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "cache.set.decision", requestID).Warn("failed to cache decision", zap.Error(err))
	}
}

func (uc *PredictionUseCase) storeRecord(ctx context.Context, requestID string, record *repository.Prediction) {
	payload, err := json.Marshal(record)
	if err != nil {
		return
	}
	key := recordKey(record.ID)
	if err := retry.Do(ctx, uc.logger, uc.retry, "cache.set.prediction", requestID, func() error {
		return uc.cache.Set(ctx, key, string(payload), uc.recordTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "cache.set.prediction", requestID).Warn("failed to cache prediction", zap.Error(err))
	}
}

func (uc *PredictionUseCase) decisionKey(hash string) string {
	if uc.namespace == "" {
		return fmt.Sprintf("decision:%s", hash)
	}
	return fmt.Sprintf("decision:%s:%s", uc.namespace, hash)
}

func recordKey(id uint) string {
	return "prediction:" + uintToString(id)
}

func uintToString(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/mediscan/internal/retry"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Repository provides persistence APIs for users and predictions.
type Repository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRepository creates a new repository instance.
func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	p := retry.DefaultPolicy()
	return &Repository{
		db:             db,
		logger:         logger.Named("repository"),
		retryAttempts:  p.Attempts,
		initialBackoff: p.InitialBackoff,
		maxBackoff:     p.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *Repository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&User{}, &Prediction{})
}

func (r *Repository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	policy := retry.Policy{Attempts: r.retryAttempts, InitialBackoff: r.initialBackoff, MaxBackoff: r.maxBackoff}
	return retry.Do(ctx, r.logger, policy, operation, requestID, func() error {
		err := fn()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
}

// SavePrediction persists a prediction record and fills in its ID.
func (r *Repository) SavePrediction(ctx context.Context, p *Prediction) error {
	return r.executeWithRetry(ctx, "repository.save_prediction", p.RequestID, func() error {
		return r.db.WithContext(ctx).Create(p).Error
	})
}

// FindPrediction retrieves a prediction by its identifier.
func (r *Repository) FindPrediction(ctx context.Context, id uint) (*Prediction, error) {
	var p Prediction
	err := r.executeWithRetry(ctx, "repository.find_prediction", "", func() error {
		return r.db.WithContext(ctx).First(&p, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPredictions returns the newest predictions first, optionally only those of userID.
func (r *Repository) ListPredictions(ctx context.Context, userID *uint, limit int) ([]*Prediction, error) {
	var rows []*Prediction
	err := r.executeWithRetry(ctx, "repository.list_predictions", "", func() error {
		q := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit)
		if userID != nil {
			q = q.Where("user_id = ?", *userID)
		}
		return q.Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FindDuplicatesByHash returns other predictions made for the same image bytes.
func (r *Repository) FindDuplicatesByHash(ctx context.Context, hash string, excludeID uint) ([]*Prediction, error) {
	var rows []*Prediction
	err := r.executeWithRetry(ctx, "repository.find_duplicates", "", func() error {
		return r.db.WithContext(ctx).
			Where("sha1_hash = ? AND id <> ?", hash, excludeID).
			Order("created_at DESC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// AggregateStats counts predictions per gate and accepted predictions per label.
func (r *Repository) AggregateStats(ctx context.Context) (*StatsAggregation, error) {
	var agg StatsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_stats", "", func() error {
		agg = StatsAggregation{}
		if err := r.db.WithContext(ctx).Model(&Prediction{}).
			Select("gate, COUNT(*) AS count, COALESCE(AVG(confidence), 0) AS average_confidence").
			Group("gate").
			Order("gate").
			Scan(&agg.Gates).Error; err != nil {
			return err
		}
		return r.db.WithContext(ctx).Model(&Prediction{}).
			Select("label, COUNT(*) AS count").
			Where("gate = ?", "accepted").
			Group("label").
			Order("count DESC").
			Order("label").
			Scan(&agg.Labels).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

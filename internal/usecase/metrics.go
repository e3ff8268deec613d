package usecase

import (
	"context"

	"github.com/example/mediscan/internal/inference"
)

// LabelTotal is the number of accepted predictions for one label.
type LabelTotal struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// StatsSummary represents aggregated prediction insights.
type StatsSummary struct {
	TotalPredictions  int64            `json:"total_predictions"`
	Invalid           int64            `json:"invalid"`
	Uncertain         int64            `json:"uncertain"`
	Diagnosis         int64            `json:"diagnosis"`
	DiagnosisRate     float64          `json:"diagnosis_rate"`
	AverageConfidence float64          `json:"average_confidence"`
	Gates             map[string]int64 `json:"gates"`
	Labels            []LabelTotal     `json:"labels"`
}

// GetStatsSummary aggregates prediction outcomes from persisted records.
func (uc *PredictionUseCase) GetStatsSummary(ctx context.Context) (*StatsSummary, error) {
	aggregation, err := uc.repo.AggregateStats(ctx)
	if err != nil {
		return nil, err
	}

	summary := &StatsSummary{
		Gates:  make(map[string]int64, len(aggregation.Gates)),
		Labels: make([]LabelTotal, 0, len(aggregation.Labels)),
	}

	var weighted float64
	for _, g := range aggregation.Gates {
		summary.TotalPredictions += g.Count
		summary.Gates[g.Gate] += g.Count
		weighted += g.AverageConfidence * float64(g.Count)

		switch inference.Gate(g.Gate) {
		case inference.GateAccepted:
			summary.Diagnosis += g.Count
		case inference.GateLowConfidence:
			summary.Uncertain += g.Count
		default:
			summary.Invalid += g.Count
		}
	}
	for _, l := range aggregation.Labels {
		summary.Labels = append(summary.Labels, LabelTotal{Label: l.Label, Count: l.Count})
	}

	if summary.TotalPredictions > 0 {
		summary.DiagnosisRate = float64(summary.Diagnosis) / float64(summary.TotalPredictions)
		summary.AverageConfidence = weighted / float64(summary.TotalPredictions)
	}

	return summary, nil
}

package usecase

import "context"

// MetricsSummary represents aggregated analysis insights for one user.
type MetricsSummary struct {
	TotalAnalyses          int64   `json:"total_analyses"`
	AuthenticCount         int64   `json:"authentic_count"`
	DeepfakeCount          int64   `json:"deepfake_count"`
	AuthenticRate          float64 `json:"authentic_rate"`
	AverageRealProbability float64 `json:"average_real_probability"`
	AverageFakeProbability float64 `json:"average_fake_probability"`
}

// GetMetricsSummary aggregates the user's analysis history from persisted records.
func (uc *AnalysisUseCase) GetMetricsSummary(ctx context.Context, userID string) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalAnalyses:          aggregation.TotalCount,
		AuthenticCount:         aggregation.AuthenticCount,
		DeepfakeCount:          aggregation.TotalCount - aggregation.AuthenticCount,
		AverageRealProbability: aggregation.AverageRealProbability,
		AverageFakeProbability: aggregation.AverageFakeProbability,
	}

	if aggregation.TotalCount > 0 {
		summary.AuthenticRate = float64(aggregation.AuthenticCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}

package cache

import (
	"context"
	"time"

	"stockbook/backend/internal/domain"
)

// DashboardCache stores computed dashboard summaries per user. A miss is
// reported as (nil, false, nil).
type DashboardCache interface {
	Get(ctx context.Context, userID string) (*domain.DashboardSummary, bool, error)
	Set(ctx context.Context, userID string, value *domain.DashboardSummary, ttl time.Duration) error
	Delete(ctx context.Context, userID string) error
}

type NoopDashboardCache struct{}

func (NoopDashboardCache) Get(_ context.Context, _ string) (*domain.DashboardSummary, bool, error) {
	return nil, false, nil
}

func (NoopDashboardCache) Set(_ context.Context, _ string, _ *domain.DashboardSummary, _ time.Duration) error {
	return nil
}

func (NoopDashboardCache) Delete(_ context.Context, _ string) error {
	return nil
}

package cache

import (
	"context"
	"time"

	"opsboard/internal/domain"
)

type SummaryCache interface {
	Get(ctx context.Context, key string) (*domain.SummaryReport, bool, error)
	Set(ctx context.Context, key string, value *domain.SummaryReport, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.SummaryReport, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.SummaryReport, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Invalidate(_ context.Context) error {
	return nil
}

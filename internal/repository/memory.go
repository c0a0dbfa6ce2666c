package repository

import (
	"context"
	"sync"
	"time"

	"github.com/kjannette/energy-monitor/internal/models"
)

// MemoryPriceRepo keeps prices in process memory. Nothing survives a restart.
type MemoryPriceRepo struct {
	mu     sync.RWMutex
	prices map[models.PriceKey]models.PriceRecord
}

func NewMemoryPriceRepo() *MemoryPriceRepo {
	return &MemoryPriceRepo{prices: make(map[models.PriceKey]models.PriceRecord)}
}

func (r *MemoryPriceRepo) SavePrices(ctx context.Context, prices []models.PriceRecord) error {
	if err := ctx.Err(); err != nil {
		return storeErr("save prices", err)
	}
	prices, err := normalizeBatch(prices)
	if err != nil {
		return storeErr("save prices", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range prices {
		key := p.Key()
		if _, exists := r.prices[key]; exists {
			continue
		}
		r.prices[key] = p
	}
	return nil
}

func (r *MemoryPriceRepo) GetLastPrices(ctx context.Context, limit int) ([]models.PriceRecord, error) {
	if limit <= 0 {
		return nil, storeErr("get last prices", errInvalidLimit)
	}
	if err := ctx.Err(); err != nil {
		return nil, storeErr("get last prices", err)
	}

	r.mu.RLock()
	out := make([]models.PriceRecord, 0, len(r.prices))
	for _, p := range r.prices {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryPriceRepo) GetDailyStats(ctx context.Context, day time.Time) (*models.DailyStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("get daily stats", err)
	}
	start, end := DayBounds(day)

	r.mu.RLock()
	var inDay []models.PriceRecord
	for _, p := range r.prices {
		if !p.Timestamp.Before(start) && p.Timestamp.Before(end) {
			inDay = append(inDay, p)
		}
	}
	r.mu.RUnlock()

	return aggregate(inDay), nil
}

func (r *MemoryPriceRepo) Ping(context.Context) error { return nil }

// Len reports how many records are stored.
func (r *MemoryPriceRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.prices)
}

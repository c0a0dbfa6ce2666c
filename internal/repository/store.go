package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kjannette/energy-monitor/internal/models"
	"github.com/shopspring/decimal"
)

// PriceStore is the storage contract shared by ingestion and the read API.
// Implementations must be safe for concurrent use.
type PriceStore interface {
	// SavePrices inserts every record whose (timestamp, zone) is not already
	// stored. The batch commits as a whole; key conflicts are skipped silently.
	SavePrices(ctx context.Context, prices []models.PriceRecord) error
	// GetLastPrices returns up to limit records, newest first.
	GetLastPrices(ctx context.Context, limit int) ([]models.PriceRecord, error)
	// GetDailyStats aggregates all zones over the UTC calendar day of day.
	GetDailyStats(ctx context.Context, day time.Time) (*models.DailyStats, error)
}

// StoreError wraps any failure of the backing engine.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

var errInvalidLimit = errors.New("limit must be positive")

// normalizeBatch validates every record and returns a copy with timestamps in
// UTC at second precision, the resolution of the natural key.
func normalizeBatch(prices []models.PriceRecord) ([]models.PriceRecord, error) {
	out := make([]models.PriceRecord, len(prices))
	for i, p := range prices {
		if p.Timestamp.IsZero() {
			return nil, fmt.Errorf("record %d: missing timestamp", i)
		}
		if !p.Zone.Valid() {
			return nil, fmt.Errorf("record %d: unknown zone %q", i, p.Zone)
		}
		n := models.NewPriceRecord(p.Timestamp, p.Value, p.Zone)
		n.Tags = p.Tags
		out[i] = n
	}
	return out, nil
}

// DayBounds returns the UTC day [start, end) for the calendar date of day.
func DayBounds(day time.Time) (start, end time.Time) {
	y, m, d := day.Date()
	start = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// aggregate computes daily statistics in process, for engines without SQL aggregates.
func aggregate(prices []models.PriceRecord) *models.DailyStats {
	stats := &models.DailyStats{Count: int64(len(prices))}
	if len(prices) == 0 {
		return stats
	}

	maxV, minV := prices[0].Value, prices[0].Value
	sum := decimal.Zero
	for _, p := range prices {
		if p.Value.GreaterThan(maxV) {
			maxV = p.Value
		}
		if p.Value.LessThan(minV) {
			minV = p.Value
		}
		sum = sum.Add(p.Value)
	}
	avg := sum.Div(decimal.NewFromInt(stats.Count))

	stats.Max = &maxV
	stats.Min = &minV
	stats.Avg = &avg
	return stats
}

// sortNewestFirst orders by timestamp descending, zone ascending on ties.
func sortNewestFirst(prices []models.PriceRecord) {
	sort.Slice(prices, func(i, j int) bool {
		if !prices[i].Timestamp.Equal(prices[j].Timestamp) {
			return prices[i].Timestamp.After(prices[j].Timestamp)
		}
		return prices[i].Zone < prices[j].Zone
	})
}

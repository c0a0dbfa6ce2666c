// Package query is the read side of the price store: validated arguments,
// then straight delegation.
package query

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/kjannette/energy-monitor/internal/models"
	"github.com/kjannette/energy-monitor/internal/repository"
)

const DefaultMaxLimit = 1000

// ErrInvalidArgument marks caller mistakes (bad limit, bad date).
var ErrInvalidArgument = errors.New("invalid argument")

var dateRegexp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Reader is the slice of repository.PriceStore the query side needs.
type Reader interface {
	GetLastPrices(ctx context.Context, limit int) ([]models.PriceRecord, error)
	GetDailyStats(ctx context.Context, day time.Time) (*models.DailyStats, error)
}

var _ Reader = (repository.PriceStore)(nil)

type Service struct {
	store    Reader
	maxLimit int
}

// NewService builds a Service. maxLimit <= 0 means DefaultMaxLimit.
func NewService(store Reader, maxLimit int) *Service {
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	return &Service{store: store, maxLimit: maxLimit}
}

func (s *Service) MaxLimit() int { return s.maxLimit }

// LatestPrices returns up to limit records, newest first.
func (s *Service) LatestPrices(ctx context.Context, limit int) ([]models.PriceRecord, error) {
	if limit < 1 || limit > s.maxLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d, got %d", ErrInvalidArgument, s.maxLimit, limit)
	}
	prices, err := s.store.GetLastPrices(ctx, limit)
	if err != nil {
		return nil, err
	}
	if prices == nil {
		prices = []models.PriceRecord{}
	}
	return prices, nil
}

// DailyStats aggregates the UTC calendar day named by date (YYYY-MM-DD).
func (s *Service) DailyStats(ctx context.Context, date string) (*models.DailyStats, error) {
	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	return s.store.GetDailyStats(ctx, day)
}

// ParseDate accepts a strict YYYY-MM-DD calendar date and returns UTC midnight.
func ParseDate(date string) (time.Time, error) {
	if !dateRegexp.MatchString(date) {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD", ErrInvalidArgument, date)
	}
	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD", ErrInvalidArgument, date)
	}
	return day, nil
}

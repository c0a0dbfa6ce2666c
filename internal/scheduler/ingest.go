package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kjannette/energy-monitor/internal/metrics"
	"github.com/kjannette/energy-monitor/internal/models"
	"github.com/kjannette/energy-monitor/internal/repository"
)

// PriceSource is the upstream half of a cycle.
type PriceSource interface {
	FetchSpotPrices(ctx context.Context) ([]models.PriceRecord, error)
}

type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

type IngestConfig struct {
	Interval     time.Duration // between cycle starts, e.g. 60*time.Second
	CycleTimeout time.Duration // upper bound for fetch+save
	Logger       *slog.Logger
	Metrics      *metrics.Ingest
	OnCycle      func(CycleResult)
}

// CycleResult describes one fetch+save attempt.
type CycleResult struct {
	Started time.Time
	Fetched int
	Took    time.Duration
	Err     error
}

// IngestScheduler runs fetch-then-save cycles on a fixed interval. A failed
// cycle is logged and left for the next tick; nothing is retried in between.
type IngestScheduler struct {
	source  PriceSource
	store   repository.PriceStore
	cfg     IngestConfig
	logger  *slog.Logger
	metrics *metrics.Ingest

	cycleMu sync.Mutex
	state   atomic.Int32

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	last    *CycleResult
}

func NewIngestScheduler(source PriceSource, store repository.PriceStore, cfg IngestConfig) *IngestScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 45 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewIngest(nil)
	}
	return &IngestScheduler{
		source:  source,
		store:   store,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "scheduler"),
		metrics: cfg.Metrics,
	}
}

// Start runs a first cycle right away, then one per interval tick. Ticks that
// fire while a cycle is still in flight are dropped.
func (s *IngestScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("already running")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	go func() {
		s.RunOnce(context.Background())

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				s.RunOnce(context.Background())
			}
		}
	}()

	s.logger.Info("started", "interval", s.cfg.Interval, "cycle_timeout", s.cfg.CycleTimeout)
}

// Stop ends the ticker loop. A cycle already in flight runs to completion.
func (s *IngestScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
	s.logger.Info("stopped")
}

func (s *IngestScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *IngestScheduler) State() State {
	return State(s.state.Load())
}

// LastCycle returns the most recent finished cycle, if any.
func (s *IngestScheduler) LastCycle() (CycleResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return CycleResult{}, false
	}
	return *s.last, true
}

// RunOnce executes a single cycle. It never panics and never overlaps with
// another cycle of the same scheduler.
func (s *IngestScheduler) RunOnce(ctx context.Context) (res CycleResult) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.state.Store(int32(Running))
	start := time.Now()
	res.Started = start
	outcome := metrics.OutcomeSuccess

	defer func() {
		if r := recover(); r != nil {
			outcome = metrics.OutcomePanic
			res.Err = fmt.Errorf("cycle panic: %v", r)
			s.logger.Error("cycle panicked", "panic", r)
		}
		res.Took = time.Since(start)
		s.metrics.ObserveCycle(outcome, res.Fetched, res.Took)
		s.state.Store(int32(Idle))

		s.mu.Lock()
		last := res
		s.last = &last
		s.mu.Unlock()

		s.notify(res)
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()

	s.logger.Debug("cycle started")

	prices, err := s.source.FetchSpotPrices(ctx)
	if err != nil {
		outcome = metrics.OutcomeFetchError
		res.Err = fmt.Errorf("fetch prices: %w", err)
		s.logger.Error("price fetch failed", "error", err)
		return res
	}
	res.Fetched = len(prices)
	s.logger.Info("prices downloaded", "count", len(prices))

	if err := s.store.SavePrices(ctx, prices); err != nil {
		outcome = metrics.OutcomeStoreError
		res.Err = fmt.Errorf("save prices: %w", err)
		s.logger.Error("saving prices failed", "count", len(prices), "error", err)
		return res
	}

	s.logger.Info("prices saved", "count", len(prices), "took", time.Since(start))
	return res
}

// notify hands res to OnCycle. A panicking callback is logged and does not
// take the ticker loop down with it.
func (s *IngestScheduler) notify(res CycleResult) {
	if s.cfg.OnCycle == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cycle callback panicked", "panic", r)
		}
	}()
	s.cfg.OnCycle(res)
}

package consistency

import (
	"context"
	"sync"
	"time"

	"github.com/ppiankov/claimledger/internal/model"
	"github.com/ppiankov/claimledger/internal/store"
	"go.uber.org/zap"
)

// Snapshotter opens point-in-time views of the ledger
type Snapshotter interface {
	Snapshot() *store.Snapshot
}

// Sweeper runs the full sweep in the background on a fixed interval
type Sweeper struct {
	checker  *Checker
	source   Snapshotter
	interval time.Duration
	timeout  time.Duration
	onReport func(*model.Report, time.Duration)

	mu   sync.RWMutex
	last *model.Report

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper creates a sweeper; onReport, when set, receives every finished report
func NewSweeper(checker *Checker, source Snapshotter, cfg model.SweepConfig, onReport func(*model.Report, time.Duration)) *Sweeper {
	return &Sweeper{
		checker:  checker,
		source:   source,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		onReport: onReport,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop; the first sweep runs immediately
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop halts the loop, cancelling a sweep in progress, and waits for it to exit
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Last returns the most recent report, complete or not
func (s *Sweeper) Last() *model.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// RunOnce sweeps a fresh snapshot and records the report
func (s *Sweeper) RunOnce(ctx context.Context) (*model.Report, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	snap := s.source.Snapshot()
	defer snap.Close()

	start := time.Now()
	report, err := s.checker.Sweep(ctx, snap)

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	if s.onReport != nil {
		s.onReport(report, time.Since(start))
	}
	return report, err
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	interval := s.interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := s.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			s.checker.logger.Warn("background sweep failed", zap.Error(err))
		} else if err == nil && !report.Clean() {
			s.checker.logger.Info("background sweep found violations",
				zap.String("report", report.ID),
				zap.Int("violations", len(report.Violations)))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

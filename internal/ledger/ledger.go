// Package ledger is the single entry point for reading and mutating claims.
//
// Every mutation runs as one store transaction holding the write locks of the
// claims it touches. Inside it the graph builder, the lifecycle machine and the
// promotion gate do their checks, and the synchronous consistency checks run
// last, so an operation either lands completely or leaves no trace.
package ledger

import (
	"context"
	"time"

	"github.com/ppiankov/claimledger/internal/cache"
	"github.com/ppiankov/claimledger/internal/consistency"
	"github.com/ppiankov/claimledger/internal/graph"
	"github.com/ppiankov/claimledger/internal/lifecycle"
	"github.com/ppiankov/claimledger/internal/logging"
	"github.com/ppiankov/claimledger/internal/metrics"
	"github.com/ppiankov/claimledger/internal/model"
	"github.com/ppiankov/claimledger/internal/promotion"
	"github.com/ppiankov/claimledger/internal/query"
	"github.com/ppiankov/claimledger/internal/store"
	"go.uber.org/zap"
)

// Ledger wires the store to the rule components
type Ledger struct {
	cfg     *model.Config
	store   *store.Store
	builder *graph.Builder
	machine *lifecycle.Machine
	gate    *promotion.Gate
	checker *consistency.Checker
	query   *query.Engine
	metrics *metrics.Metrics
	logger  *zap.Logger

	unsubscribe func()
	ownsStore   bool
}

// Open opens the store described by cfg and builds a ledger on top of it
func Open(cfg *model.Config, m *metrics.Metrics, logger *zap.Logger) (*Ledger, error) {
	logger = logging.OrNop(logger)

	st, err := store.Open(cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	l := New(cfg, st, m, logger)
	l.ownsStore = true
	return l, nil
}

// New builds a ledger on an already open store; Close leaves the store open
func New(cfg *model.Config, st *store.Store, m *metrics.Metrics, logger *zap.Logger) *Ledger {
	if cfg == nil {
		cfg = model.DefaultConfig()
	}
	logger = logging.OrNop(logger)

	var c cache.Cache = cache.Nop{}
	if cfg.Cache.Enabled {
		c = cache.NewMemoryCache(cfg.Cache.TTL, 2*cfg.Cache.TTL)
	}

	machine := lifecycle.New(logger)
	l := &Ledger{
		cfg:     cfg,
		store:   st,
		builder: graph.NewBuilder(logger),
		machine: machine,
		gate:    promotion.NewGate(cfg.Promotion, machine, logger),
		checker: consistency.NewChecker(logger),
		query:   query.NewEngine(st, c, logger),
		metrics: m,
		logger:  logger.Named("ledger"),
	}
	l.unsubscribe = st.Subscribe(func(ev store.Event) {
		m.ObserveEvent(string(ev.Kind))
	})
	return l
}

// Close releases the ledger and, when it opened it, the store
func (l *Ledger) Close() error {
	l.unsubscribe()
	l.query.Close()
	if l.ownsStore {
		return l.store.Close()
	}
	return nil
}

// Store returns the underlying claim store
func (l *Ledger) Store() *store.Store {
	return l.store
}

// Get returns the current revision of a claim
func (l *Ledger) Get(ctx context.Context, id model.ClaimID) (*model.Claim, error) {
	return l.store.Get(ctx, id)
}

// Sweep runs a full consistency sweep over a fresh snapshot
func (l *Ledger) Sweep(ctx context.Context) (report *model.Report, err error) {
	defer l.observe("sweep", &err)

	snap := l.store.Snapshot()
	defer snap.Close()

	start := time.Now()
	report, err = l.checker.Sweep(ctx, snap)
	l.metrics.ObserveSweep(report, time.Since(start))
	return report, err
}

// NewSweeper returns a background sweeper bound to this ledger's store and metrics
func (l *Ledger) NewSweeper() *consistency.Sweeper {
	return consistency.NewSweeper(l.checker, l.store, l.cfg.Sweep, l.metrics.ObserveSweep)
}

// ResolveCanonical returns the canonical claim for a claim id or scope
func (l *Ledger) ResolveCanonical(ctx context.Context, topicOrID string) (c *model.Claim, err error) {
	defer l.observe("resolve", &err)
	return l.query.ResolveCanonical(ctx, topicOrID)
}

// Supporters lists the claims that confirm, extend or refine id
func (l *Ledger) Supporters(ctx context.Context, id model.ClaimID) ([]model.ClaimID, error) {
	return l.query.Supporters(ctx, id)
}

// Detractors lists the claims that contradict id
func (l *Ledger) Detractors(ctx context.Context, id model.ClaimID) ([]model.ClaimID, error) {
	return l.query.Detractors(ctx, id)
}

// DerivationChain returns the supersession lineage through id, oldest first
func (l *Ledger) DerivationChain(ctx context.Context, id model.ClaimID) ([]*model.Claim, error) {
	return l.query.DerivationChain(ctx, id)
}

func (l *Ledger) observe(op string, errp *error) {
	err := *errp
	l.metrics.ObserveOperation(op, err)
	if err != nil {
		l.logger.Debug("operation failed", zap.String("op", op), zap.Error(err))
	}
}

package worker

import (
	"context"
	"fmt"

	"github.com/ppiankov/claimledger/internal/ingest"
	"github.com/ppiankov/claimledger/internal/logging"
	"github.com/ppiankov/claimledger/internal/model"
	"go.uber.org/zap"
)

// anonymousProducer keys drafts that name no producer in the limiter
const anonymousProducer = "anonymous"

// Ingester stores one claim
type Ingester interface {
	Ingest(ctx context.Context, c *model.Claim) (*model.Claim, error)
}

// IngestJob converts one draft record and hands it to the ingester
type IngestJob struct {
	Index    int
	Record   ingest.Record
	Ingester Ingester
	Limiter  *Limiter
}

// Execute executes the ingest job
func (j *IngestJob) Execute(ctx context.Context) Result {
	res := &IngestResult{
		Index:  j.Index,
		Source: j.Record.Source,
		ID:     model.ClaimID(j.Record.Draft.ID),
	}

	if err := ctx.Err(); err != nil {
		res.Error = err
		return res
	}

	c, err := j.Record.Draft.ToClaim()
	if err != nil {
		res.Error = err
		return res
	}

	if j.Limiter != nil {
		producer := j.Record.Draft.Producer
		if producer == "" {
			producer = anonymousProducer
		}
		if err := j.Limiter.Wait(ctx, producer); err != nil {
			res.Error = fmt.Errorf("rate limit: %w", err)
			return res
		}
	}

	res.Claim, res.Error = j.Ingester.Ingest(ctx, c)
	return res
}

// IngestResult represents the outcome of one record
type IngestResult struct {
	Index  int
	Source string
	ID     model.ClaimID
	Claim  *model.Claim
	Error  error
}

// GetError returns the error from the ingest result
func (r *IngestResult) GetError() error {
	return r.Error
}

// BatchProcessor ingests many records concurrently
// Records that reference other records of the same batch run in a later wave
// than their targets. Each record succeeds or fails on its own.
type BatchProcessor struct {
	ingester    Ingester
	limiter     *Limiter
	concurrency int
	logger      *zap.Logger
}

// NewBatchProcessor creates a new batch processor; limiter may be nil
func NewBatchProcessor(ingester Ingester, limiter *Limiter, concurrency int, logger *zap.Logger) *BatchProcessor {
	return &BatchProcessor{
		ingester:    ingester,
		limiter:     limiter,
		concurrency: concurrency,
		logger:      logging.OrNop(logger).Named("batch"),
	}
}

// ProcessRecords ingests records and returns one result per record, in input order
func (b *BatchProcessor) ProcessRecords(ctx context.Context, records []ingest.Record) []*IngestResult {
	results := make([]*IngestResult, len(records))
	if len(records) == 0 {
		return results
	}

	for n, wave := range Waves(records) {
		pool := NewPool(ctx, b.concurrency)
		pool.Start()

		for _, i := range wave {
			pool.Submit(&IngestJob{
				Index:    i,
				Record:   records[i],
				Ingester: b.ingester,
				Limiter:  b.limiter,
			})
		}

		for _, r := range pool.Wait() {
			res := r.(*IngestResult)
			results[res.Index] = res
		}
		b.logger.Debug("wave done", zap.Int("wave", n), zap.Int("records", len(wave)))
	}

	// Records never run because ctx ended
	for i, res := range results {
		if res == nil {
			err := ctx.Err()
			if err == nil {
				err = fmt.Errorf("record not processed")
			}
			results[i] = &IngestResult{
				Index:  i,
				Source: records[i].Source,
				ID:     model.ClaimID(records[i].Draft.ID),
				Error:  err,
			}
		}
	}
	return results
}

// ProcessFiles loads every file and ingests its records
// A file that cannot be decoded yields one failed result and does not stop the others.
func (b *BatchProcessor) ProcessFiles(ctx context.Context, paths []string) []*IngestResult {
	var records []ingest.Record
	var failed []*IngestResult
	for _, path := range paths {
		recs, err := ingest.LoadFile(path)
		if err != nil {
			failed = append(failed, &IngestResult{Source: path, Error: err})
			continue
		}
		records = append(records, recs...)
	}

	results := b.ProcessRecords(ctx, records)
	return append(results, failed...)
}

// Waves orders record indices so that intra-batch references point at
// earlier waves
// Records caught in a reference cycle run last, one per wave, in input order.
func Waves(records []ingest.Record) [][]int {
	byID := make(map[string]int, len(records))
	for i, r := range records {
		if _, dup := byID[r.Draft.ID]; !dup {
			byID[r.Draft.ID] = i
		}
	}

	pending := make([]map[int]bool, len(records))
	for i, r := range records {
		pending[i] = make(map[int]bool)
		for _, ref := range r.Draft.References() {
			if j, ok := byID[ref]; ok && j != i {
				pending[i][j] = true
			}
		}
	}

	done := make([]bool, len(records))
	remaining := len(records)
	var waves [][]int
	for remaining > 0 {
		var wave []int
		for i := range records {
			if !done[i] && len(pending[i]) == 0 {
				wave = append(wave, i)
			}
		}
		if len(wave) == 0 {
			break
		}
		for _, i := range wave {
			done[i] = true
			remaining--
		}
		for i := range records {
			for _, j := range wave {
				delete(pending[i], j)
			}
		}
		waves = append(waves, wave)
	}

	for i := range records {
		if !done[i] {
			waves = append(waves, []int{i})
		}
	}
	return waves
}

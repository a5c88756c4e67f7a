package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/jask/budgettracker/internal/database/repository"
	"github.com/jask/budgettracker/internal/ledgererr"
	"github.com/jask/budgettracker/internal/llm"
)

// AnnotationPipeline fills the classification columns of unannotated rows
// by sending them to an llm.Annotator in batches.
type AnnotationPipeline struct {
	Transactions *repository.TransactionRepo
	Annotator    llm.Annotator
	Diagnostics  Diagnostics
	Log          zerolog.Logger

	Concurrency int
	MaxBatches  int
	CallTimeout time.Duration
}

// PipelineReport summarises one Run.
type PipelineReport struct {
	RunID      string              `json:"run_id"`
	Batches    int                 `json:"batches"`
	Processed  int                 `json:"processed"`
	Failed     int                 `json:"failed"`
	Mismatched int                 `json:"mismatched"`
	Failures   []AnnotationFailure `json:"failures,omitempty"`
}

// AnnotationFailure is an item left unannotated for a later run.
type AnnotationFailure struct {
	ID      int64  `json:"id"`
	BatchID string `json:"batch_id"`
	Error   string `json:"error"`
}

type annotationBatch struct {
	id   string
	rows map[int64]repository.Transaction
	reqs []llm.AnnotationRequest
}

type batchOutcome struct {
	batch   annotationBatch
	results []llm.AnnotationResult
	err     error
}

// Run annotates at most batchSize*MaxBatches rows. Batches are dispatched to a fixed
// pool of workers; a single applier writes results so failed items never block the rest.
func (p *AnnotationPipeline) Run(ctx context.Context, batchSize int) (PipelineReport, error) {
	const op = "annotation run"
	res := PipelineReport{RunID: uuid.NewString()}
	if batchSize <= 0 {
		return res, ledgererr.Validation(op, "batch size must be positive, got %d", batchSize)
	}
	if p.Annotator == nil {
		return res, ledgererr.Validation(op, "no annotator configured")
	}
	workers := p.Concurrency
	if workers <= 0 {
		workers = 1
	}
	maxBatches := p.MaxBatches
	if maxBatches <= 0 {
		maxBatches = 1
	}
	log := p.Log.With().Str("run_id", res.RunID).Str("provider", p.Annotator.Name()).Logger()

	queue := make(chan annotationBatch, workers)
	results := make(chan batchOutcome, workers)

	fetchErr := make(chan error, 1)
	go func() {
		defer close(queue)
		fetchErr <- p.fetch(ctx, batchSize, maxBatches, queue)
	}()

	applied := make(chan struct{})
	go func() {
		defer close(applied)
		for out := range results {
			p.apply(ctx, log, out, &res)
		}
	}()

	wp := pool.New().WithMaxGoroutines(workers)
	for b := range queue {
		b := b
		res.Batches++
		wp.Go(func() {
			results <- p.annotate(ctx, b)
		})
	}
	wp.Wait()
	close(results)
	<-applied

	if err := <-fetchErr; err != nil {
		return res, err
	}
	log.Info().
		Int("batches", res.Batches).
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Int("mismatched", res.Mismatched).
		Msg("annotation run complete")
	return res, nil
}

// fetch pages through unannotated rows by id so concurrent updates never shift the cursor.
func (p *AnnotationPipeline) fetch(ctx context.Context, batchSize, maxBatches int, queue chan<- annotationBatch) error {
	var afterID int64
	for i := 0; i < maxBatches; i++ {
		rows, err := p.Transactions.ListUnannotated(ctx, batchSize, afterID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		b := annotationBatch{id: uuid.NewString(), rows: make(map[int64]repository.Transaction, len(rows))}
		for _, t := range rows {
			b.rows[t.ID] = t
			b.reqs = append(b.reqs, toRequest(t))
		}
		afterID = rows[len(rows)-1].ID
		select {
		case queue <- b:
		case <-ctx.Done():
			return ctx.Err()
		}
		if len(rows) < batchSize {
			return nil
		}
	}
	return nil
}

// annotate calls the collaborator and gives up once CallTimeout passes, even if the
// collaborator ignores its context.
func (p *AnnotationPipeline) annotate(ctx context.Context, b annotationBatch) batchOutcome {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
	}
	defer cancel()

	done := make(chan batchOutcome, 1)
	go func() {
		res, err := p.Annotator.Annotate(callCtx, b.reqs)
		done <- batchOutcome{batch: b, results: res, err: err}
	}()
	select {
	case out := <-done:
		return out
	case <-callCtx.Done():
		return batchOutcome{batch: b, err: callCtx.Err()}
	}
}

func (p *AnnotationPipeline) apply(ctx context.Context, log zerolog.Logger, out batchOutcome, rep *PipelineReport) {
	fail := func(id int64, err error) {
		rep.Failed++
		cerr := ledgererr.Collaborator("annotate", err).With("id", id).With("batch_id", out.batch.id)
		rep.Failures = append(rep.Failures, AnnotationFailure{ID: id, BatchID: out.batch.id, Error: cerr.Error()})
	}

	if out.err != nil {
		log.Warn().Err(out.err).Str("batch_id", out.batch.id).Int("items", len(out.batch.reqs)).Msg("annotation batch failed")
		for _, req := range out.batch.reqs {
			fail(req.ID, out.err)
		}
		return
	}

	answered := make(map[int64]bool, len(out.results))
	var updates []repository.Update
	for _, res := range out.results {
		row, ok := out.batch.rows[res.ID]
		if !ok || answered[res.ID] {
			continue
		}
		answered[res.ID] = true
		if res.Err != nil {
			fail(res.ID, res.Err)
			continue
		}
		if res.Description == "" || res.Category == "" {
			fail(res.ID, errors.New("empty description or category"))
			continue
		}
		if res.IsTaxes != nil && *res.IsTaxes != row.IsTaxes {
			rep.Mismatched++
			report(ctx, p.Diagnostics, Anomaly{
				Kind:          AnomalyTaxFlagMismatch,
				TransactionID: row.ID,
				StanID:        row.Stan(),
				Message:       fmt.Sprintf("annotator says is_taxes=%t, stored %t; stored flag kept", *res.IsTaxes, row.IsTaxes),
			})
		}
		updates = append(updates, repository.Update{ID: res.ID, Patch: classificationPatch(res)})
	}
	for _, req := range out.batch.reqs {
		if !answered[req.ID] {
			fail(req.ID, errors.New("no result for transaction"))
		}
	}
	if len(updates) == 0 {
		return
	}

	n, err := p.Transactions.UpdateMany(ctx, updates)
	if err == nil {
		rep.Processed += n
		return
	}
	// one bad id must not cost the whole batch
	log.Warn().Err(err).Str("batch_id", out.batch.id).Msg("batch update failed, applying items one by one")
	for _, u := range updates {
		if _, err := p.Transactions.UpdateByID(ctx, u.ID, u.Patch); err != nil {
			fail(u.ID, err)
			continue
		}
		rep.Processed++
	}
}

func classificationPatch(res llm.AnnotationResult) repository.Patch {
	p := repository.Patch{
		Description:    &res.Description,
		Category:       &res.Category,
		OriginatorName: &res.OriginatorName,
	}
	if res.Group != "" {
		p.Group = &res.Group
	}
	return p.Classification()
}

func toRequest(t repository.Transaction) llm.AnnotationRequest {
	req := llm.AnnotationRequest{ID: t.ID, BankDescription: t.BankDescription}
	switch {
	case t.IsExpenditure():
		req.Direction, req.Amount = "debit", t.Debit.String()
	case t.IsIncome():
		req.Direction, req.Amount = "credit", t.Credit.String()
	}
	if t.IsTaxes {
		req.Hint = "tax line"
	} else if t.Category != nil {
		req.Hint = "category: " + *t.Category
	}
	return req
}

// Package bulk creates records in sequential batches with per-item retries,
// exponential backoff, progress reporting and partial-failure aggregation.
package bulk

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fivetwenty-io/docbridge/internal/constants"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// Creator writes one record into resource.
type Creator interface {
	CreateRecord(ctx context.Context, resource string, record docbridge.Record, idempotencyKey string) (docbridge.Record, error)
}

// Discoverer reports the system state used to pick the write target.
type Discoverer interface {
	SystemInfo(ctx context.Context) (*docbridge.SystemInfo, error)
}

// Pipeline runs bulk creations for one session. Runs on one Pipeline are not
// coordinated with each other.
type Pipeline struct {
	creator    Creator
	discoverer Discoverer
	config     *docbridge.Config
	logger     docbridge.Logger

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	newKey func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock replaces time.Now for progress, ETA and duration figures.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithSleeper replaces the ctx-aware wait used for delays and backoff.
func WithSleeper(sleeper func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) {
		p.sleep = sleeper
	}
}

// NewPipeline creates a pipeline. discoverer may be nil, in which case records
// are always written to the configured resource.
func NewPipeline(creator Creator, discoverer Discoverer, config *docbridge.Config, logger docbridge.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = docbridge.NopLogger{}
	}

	pipeline := &Pipeline{
		creator:    creator,
		discoverer: discoverer,
		config:     config,
		logger:     logger,
		now:        time.Now,
		sleep:      sleep,
		newKey:     uuid.NewString,
	}

	for _, opt := range opts {
		opt(pipeline)
	}

	return pipeline
}

type run struct {
	pipeline   *Pipeline
	opts       docbridge.BulkOptions
	result     *docbridge.BulkCreateResult
	target     string
	maxRetries int
	started    time.Time
}

// Run creates items in order. Failed items never abort the run unless
// StopOnError is set. When ctx is canceled the run stops before the next item
// or delay and returns the consistent partial result together with ctx's error.
func (p *Pipeline) Run(ctx context.Context, items []docbridge.Record, opts docbridge.BulkOptions) (*docbridge.BulkCreateResult, error) {
	current := &run{
		pipeline:   p,
		opts:       opts,
		maxRetries: p.resolveRetries(opts),
		started:    p.now(),
		result: &docbridge.BulkCreateResult{
			Requested: len(items),
			Batches:   make([]docbridge.BulkCreateBatchResult, 0),
			Results:   make([]docbridge.BulkCreateItemResult, 0, len(items)),
			Errors:    make([]string, 0),
			Created:   make([]docbridge.Record, 0, len(items)),
		},
	}

	target, err := p.writeTarget(ctx)
	if err != nil {
		result := current.finish(err)
		result.Success = false

		return result, err
	}

	current.target = target
	current.result.Target = target

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = constants.DefaultBatchSize
	}

	batches := (len(items) + batchSize - 1) / batchSize

	p.logger.Info("Starting bulk create", map[string]interface{}{
		"target":      target,
		"items":       len(items),
		"batches":     batches,
		"max_retries": current.maxRetries,
	})

	err = current.process(ctx, items, batchSize, batches)

	result := current.finish(err)

	p.logger.Info("Bulk create finished", map[string]interface{}{
		"target":    target,
		"completed": result.Completed,
		"failed":    result.Failed,
		"retries":   result.Retries,
		"halted":    result.Halted,
		"canceled":  result.Canceled,
		"duration":  result.Duration,
	})

	return result, err
}

func (p *Pipeline) resolveRetries(opts docbridge.BulkOptions) int {
	retries := p.config.RetryLimit()
	if opts.MaxRetries != nil {
		retries = *opts.MaxRetries
	}

	if retries < 0 {
		retries = 0
	}

	return retries
}

func (p *Pipeline) writeTarget(ctx context.Context) (string, error) {
	if p.discoverer == nil || (!p.config.ValidateSchemas && !p.config.FallbackMode) {
		return p.config.Resource, nil
	}

	system, err := p.discoverer.SystemInfo(ctx)
	if err != nil {
		return "", err
	}

	if system.WriteTarget == "" {
		return p.config.Resource, nil
	}

	if system.WriteTarget != p.config.Resource {
		p.logger.Warn("Primary resource unavailable, writing to fallback resource", map[string]interface{}{
			"primary":  p.config.Resource,
			"fallback": system.WriteTarget,
		})
	}

	return system.WriteTarget, nil
}

func (r *run) process(ctx context.Context, items []docbridge.Record, batchSize, batches int) error {
	for number := 1; number <= batches; number++ {
		start := (number - 1) * batchSize
		end := min(start+batchSize, len(items))

		batch := docbridge.BulkCreateBatchResult{
			Number: number,
			Start:  start,
			Items:  make([]docbridge.BulkCreateItemResult, 0, end-start),
		}

		for index := start; index < end; index++ {
			if err := ctx.Err(); err != nil {
				r.appendBatch(batch)

				return err
			}

			r.progress(index, number)

			item, err := r.attempt(ctx, index, items[index])
			if err != nil {
				r.appendBatch(batch)

				return err
			}

			r.record(&batch, item)

			if !item.Success && r.opts.StopOnError {
				r.result.Halted = true
				r.appendBatch(batch)

				r.pipeline.logger.Warn("Stopping bulk create after failed item", map[string]interface{}{"index": index})

				return nil
			}

			if index < end-1 {
				if err := r.pipeline.sleep(ctx, r.opts.DelayBetweenRequests); err != nil {
					r.appendBatch(batch)

					return err
				}
			}
		}

		r.appendBatch(batch)
		r.batchComplete(batch)

		if number < batches {
			if err := r.pipeline.sleep(ctx, r.opts.DelayBetweenBatches); err != nil {
				return err
			}
		}
	}

	return nil
}

// attempt returns the terminal outcome of one item, or ctx's error when the run
// was canceled before the item reached one.
func (r *run) attempt(ctx context.Context, index int, record docbridge.Record) (docbridge.BulkCreateItemResult, error) {
	item := docbridge.BulkCreateItemResult{Index: index}

	var key string
	if !r.opts.DisableIdempotencyKeys {
		key = r.pipeline.newKey()
	}

	for {
		item.Attempts++

		created, err := r.pipeline.creator.CreateRecord(ctx, r.target, record, key)
		if err == nil {
			item.Success = true
			item.Record = created

			return item, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return item, ctxErr
		}

		item.Error = err

		if !docbridge.Retryable(err) || item.Attempts > r.maxRetries {
			return item, nil
		}

		r.result.Retries++
		wait := docbridge.Backoff(item.Attempts, r.opts.BackoffUnit)

		r.pipeline.logger.Debug("Retrying item", map[string]interface{}{
			"index":   index,
			"attempt": item.Attempts,
			"wait":    wait,
			"error":   err,
		})

		if sleepErr := r.pipeline.sleep(ctx, wait); sleepErr != nil {
			return item, sleepErr
		}
	}
}

func (r *run) record(batch *docbridge.BulkCreateBatchResult, item docbridge.BulkCreateItemResult) {
	batch.Items = append(batch.Items, item)
	r.result.Results = append(r.result.Results, item)

	if item.Success {
		batch.Completed++
		r.result.Completed++
		r.result.Created = append(r.result.Created, item.Record)

		return
	}

	batch.Failed++
	r.result.Failed++
	r.result.Errors = append(r.result.Errors, docbridge.ItemError(item.Index, item.Error))

	r.pipeline.logger.Warn("Item failed", map[string]interface{}{
		"index":    item.Index,
		"attempts": item.Attempts,
		"kind":     string(docbridge.KindOf(item.Error)),
		"error":    item.Error,
	})
}

func (r *run) appendBatch(batch docbridge.BulkCreateBatchResult) {
	if len(batch.Items) == 0 {
		return
	}

	r.result.Batches = append(r.result.Batches, batch)
}

func (r *run) progress(index, batch int) {
	processed := r.result.Completed + r.result.Failed
	elapsed := r.pipeline.now().Sub(r.started)

	snapshot := docbridge.ProgressSnapshot{
		Total:        r.result.Requested,
		Processed:    processed,
		Completed:    r.result.Completed,
		Failed:       r.result.Failed,
		Retries:      r.result.Retries,
		CurrentIndex: index,
		Batch:        batch,
		Elapsed:      elapsed,
	}

	if processed > 0 {
		eta := elapsed / time.Duration(processed) * time.Duration(r.result.Requested-processed)
		snapshot.ETA = &eta
	}

	if r.opts.OnProgress != nil {
		r.opts.OnProgress(snapshot)
	}

	r.emit(docbridge.Event{Type: docbridge.EventProgress, Progress: &snapshot})
}

func (r *run) batchComplete(batch docbridge.BulkCreateBatchResult) {
	if r.opts.OnBatchComplete != nil {
		r.opts.OnBatchComplete(batch)
	}

	r.emit(docbridge.Event{Type: docbridge.EventBatchComplete, Batch: &batch})
}

func (r *run) emit(event docbridge.Event) {
	if r.opts.Events == nil {
		return
	}

	select {
	case r.opts.Events <- event:
	default:
	}
}

func (r *run) finish(err error) *docbridge.BulkCreateResult {
	result := r.result
	result.Total = result.Completed + result.Failed
	result.Duration = r.pipeline.now().Sub(r.started)
	result.Success = result.Failed == 0
	result.Canceled = errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)

	return result
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

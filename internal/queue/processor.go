// Package queue implements the delivery queue processor: a polling worker
// that claims pending notification rows, fans each one out to every active
// push endpoint of its recipient, and applies the retry and expiry rules.
//
// Delivery semantics are at-least-one-of-N: a row is sent as soon as one
// endpoint accepts it. Only a pass where every endpoint fails counts against
// the row's attempt budget. Endpoint health is tracked independently of row
// attempts; an endpoint the push service reports gone is expired and never
// fanned out to again.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/terply/chat-backend/internal/domain"
	"github.com/terply/chat-backend/internal/push"
	"github.com/terply/chat-backend/internal/repo"
)

// Options configures a Processor.
type Options struct {
	DB   *gorm.DB
	Push push.Transport
	Log  zerolog.Logger

	// Interval between polling ticks.
	Interval time.Duration
	// BatchSize caps how many rows one tick claims.
	BatchSize int
	// MaxAttempts is the total delivery passes a row gets before it is
	// marked failed.
	MaxAttempts int
	// Retention is how long terminal rows are kept before the sweep
	// deletes them.
	Retention time.Duration
}

// Processor polls the notification queue and drives deliveries.
type Processor struct {
	db   *gorm.DB
	push push.Transport
	log  zerolog.Logger

	interval    time.Duration
	batchSize   int
	maxAttempts int
	retention   time.Duration

	ticking atomic.Bool
	now     func() time.Time
}

// NewProcessor constructs a Processor, applying defaults for unset options.
func NewProcessor(opts Options) *Processor {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Retention <= 0 {
		opts.Retention = 30 * 24 * time.Hour
	}
	return &Processor{
		db:          opts.DB,
		push:        opts.Push,
		log:         opts.Log.With().Str("component", "queue").Logger(),
		interval:    opts.Interval,
		batchSize:   opts.BatchSize,
		maxAttempts: opts.MaxAttempts,
		retention:   opts.Retention,
		now:         time.Now,
	}
}

// Start runs the polling loop until ctx is cancelled. It blocks; run it in
// its own goroutine.
func (p *Processor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info().
		Dur("interval", p.interval).
		Int("batch_size", p.batchSize).
		Int("max_attempts", p.maxAttempts).
		Msg("queue processor started")

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("queue processor stopped")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one processing pass. Overlapping invocations are coalesced: if
// a previous pass is still running the new one returns immediately. Tick
// never lets a delivery error escape; failures are logged and retried on a
// later pass.
func (p *Processor) Tick(ctx context.Context) {
	if !p.ticking.CompareAndSwap(false, true) {
		return
	}
	defer p.ticking.Store(false)

	start := p.now()
	defer func() { queueTickDur.Observe(p.now().Sub(start).Seconds()) }()

	batch, err := repo.ClaimBatch(ctx, p.db, p.batchSize, p.maxAttempts)
	if err != nil {
		p.log.Error().Err(err).Msg("claim batch")
		return
	}
	for i := range batch {
		p.process(ctx, &batch[i])
	}
}

// endpointResult pairs one endpoint with its delivery outcome for a pass.
type endpointResult struct {
	endpoint *domain.DeliveryEndpoint
	result   push.Result
}

func (p *Processor) process(ctx context.Context, row *domain.NotificationRow) {
	queueProcessed.Inc()
	attempts := row.Attempts + 1
	log := p.log.With().Str("notification_id", row.ID).Str("recipient_id", row.RecipientID).Int("attempt", attempts).Logger()

	endpoints, err := repo.ListActiveEndpoints(ctx, p.db, row.RecipientID)
	if err != nil {
		log.Error().Err(err).Msg("list endpoints")
		p.settle(ctx, row, attempts, false, "list endpoints: "+err.Error(), log)
		return
	}
	if len(endpoints) == 0 {
		// Nothing to deliver to and nothing a retry could fix.
		queueFailed.Inc()
		if err := repo.MarkFailed(ctx, p.db, row.ID, attempts, "no active endpoints"); err != nil {
			log.Error().Err(err).Msg("mark failed")
		}
		log.Warn().Msg("no active endpoints, notification failed")
		return
	}

	payload := push.Payload{Title: row.Title, Body: row.Body, Data: row.Data}

	// Fan out concurrently, then apply all bookkeeping on this goroutine so
	// SQLite sees writes one at a time.
	results := make([]endpointResult, len(endpoints))
	var wg sync.WaitGroup
	for i := range endpoints {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ep := &endpoints[i]
			results[i] = endpointResult{endpoint: ep, result: p.push.Send(ctx, ep, payload)}
		}(i)
	}
	wg.Wait()

	delivered := false
	lastErr := ""
	for _, r := range results {
		switch r.result.Outcome {
		case push.OutcomeOK:
			delivered = true
		case push.OutcomePermanent:
			if r.result.Err != nil {
				lastErr = r.result.Err.Error()
			}
			if err := repo.MarkEndpointExpired(ctx, p.db, r.endpoint.ID); err != nil {
				log.Error().Err(err).Str("endpoint_id", r.endpoint.ID).Msg("mark endpoint expired")
			}
			if err := repo.IncrementEndpointFailure(ctx, p.db, r.endpoint.ID); err != nil {
				log.Error().Err(err).Str("endpoint_id", r.endpoint.ID).Msg("bump endpoint failures")
			}
			log.Warn().Str("endpoint_id", r.endpoint.ID).Msg("endpoint gone, expired")
		case push.OutcomeTransient:
			if r.result.Err != nil {
				lastErr = r.result.Err.Error()
			}
			if err := repo.IncrementEndpointFailure(ctx, p.db, r.endpoint.ID); err != nil {
				log.Error().Err(err).Str("endpoint_id", r.endpoint.ID).Msg("bump endpoint failures")
			}
		}
	}
	if lastErr == "" && !delivered {
		lastErr = "delivery failed on all endpoints"
	}

	p.settle(ctx, row, attempts, delivered, lastErr, log)
}

// settle applies the row-level outcome of one delivery pass.
func (p *Processor) settle(ctx context.Context, row *domain.NotificationRow, attempts int, delivered bool, lastErr string, log zerolog.Logger) {
	switch {
	case delivered:
		queueSent.Inc()
		if err := repo.MarkSent(ctx, p.db, row.ID, attempts); err != nil {
			log.Error().Err(err).Msg("mark sent")
			return
		}
		log.Info().Msg("notification delivered")
	case attempts >= p.maxAttempts:
		queueFailed.Inc()
		if err := repo.MarkFailed(ctx, p.db, row.ID, attempts, lastErr); err != nil {
			log.Error().Err(err).Msg("mark failed")
			return
		}
		log.Warn().Str("cause", lastErr).Msg("notification failed, retries exhausted")
	default:
		queueRetried.Inc()
		if err := repo.RecordRetry(ctx, p.db, row.ID, attempts, lastErr); err != nil {
			log.Error().Err(err).Msg("record retry")
			return
		}
		log.Info().Str("cause", lastErr).Msg("notification will be retried")
	}
}

// Sweep deletes sent and failed rows older than the retention window.
// Pending rows are never touched. Intended to run on a daily cron.
func (p *Processor) Sweep(ctx context.Context) {
	cutoff := p.now().UTC().Add(-p.retention)
	n, err := repo.DeleteTerminalBefore(ctx, p.db, cutoff)
	if err != nil {
		p.log.Error().Err(err).Msg("retention sweep")
		return
	}
	queueSwept.Add(float64(n))
	p.log.Info().Int64("rows", n).Time("cutoff", cutoff).Msg("retention sweep complete")
}

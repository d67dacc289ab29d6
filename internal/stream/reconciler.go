package stream

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/terply/chat-backend/internal/domain"
	"github.com/terply/chat-backend/internal/identity"
)

// ErrLoadInFlight is returned by LoadMore while a previous page fetch has
// not finished.
var ErrLoadInFlight = errors.New("history fetch already in flight")

// ErrNoChannel is returned by operations that require an attached channel.
var ErrNoChannel = errors.New("no channel attached")

// Options configures a Reconciler.
type Options struct {
	Store     Store
	Transport Transport
	Resolver  *identity.Resolver
	Logger    zerolog.Logger

	// PageSize is the history page length. OptimisticWindow is the
	// time tolerance for matching an authoritative row to its optimistic
	// placeholder when the store did not echo the client id.
	PageSize         int
	OptimisticWindow time.Duration

	// OnStatus receives transport status changes (subscribed/closed/error).
	OnStatus func(string)
}

// Reconciler owns the ledger for one active channel at a time. It merges
// paginated history and live change-feed events into a single deduplicated,
// timestamp-ordered view, and drives the optimistic send protocol.
//
// Concurrency model: ApplyEvent calls are strictly serialized. An in-flight
// flag defers overlapping deliveries into an ordered queue drained one event
// at a time, so two merges can never race on the ledger. Switching channels
// bumps an epoch; any async result carrying a stale epoch is discarded.
type Reconciler struct {
	store     Store
	transport Transport
	resolver  *identity.Resolver
	log       zerolog.Logger

	pageSize int
	window   time.Duration
	onStatus func(string)

	mu        sync.Mutex
	ledger    *Ledger
	channelID string
	epoch     uint64
	loading   bool
	noMore    bool
	applying  bool
	pending   []Event
	sub       Subscription
	cancel    context.CancelFunc
	applyCtx  context.Context
}

// NewReconciler builds a Reconciler. PageSize defaults to 50 and the
// optimistic match window to 5s when unset.
func NewReconciler(opts Options) *Reconciler {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.OptimisticWindow <= 0 {
		opts.OptimisticWindow = 5 * time.Second
	}
	return &Reconciler{
		store:     opts.Store,
		transport: opts.Transport,
		resolver:  opts.Resolver,
		log:       opts.Logger,
		pageSize:  opts.PageSize,
		window:    opts.OptimisticWindow,
		onStatus:  opts.OnStatus,
		ledger:    NewLedger(),
	}
}

// Attach switches the reconciler to channelID: prior ledger state is
// cleared, the most recent history page is loaded, and the change-feed
// subscription is opened. It returns once the first page is in the ledger;
// the subscription continues asynchronously. In-flight work for the
// previous channel is cancelled and its late results are ignored.
func (r *Reconciler) Attach(ctx context.Context, channelID string) error {
	r.mu.Lock()
	r.epoch++
	epoch := r.epoch
	if r.sub != nil {
		r.sub.Unsubscribe()
		r.sub = nil
	}
	if r.cancel != nil {
		r.cancel()
	}
	applyCtx, cancel := context.WithCancel(context.Background())
	r.applyCtx, r.cancel = applyCtx, cancel
	r.channelID = channelID
	r.ledger.Clear()
	r.noMore = false
	r.loading = false
	r.pending = nil
	r.mu.Unlock()

	page, err := r.store.PageBefore(ctx, channelID, time.Time{}, r.pageSize)
	if err != nil {
		return err
	}
	resolved, err := r.attachSenders(ctx, page)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.epoch != epoch { // channel switched while we were fetching
		r.mu.Unlock()
		return nil
	}
	for i := range resolved {
		r.ledger.Upsert(&resolved[i])
	}
	if len(resolved) < r.pageSize {
		r.noMore = true
	}
	r.mu.Unlock()

	sub, err := r.transport.Subscribe(ctx, "channel:"+channelID,
		func(ev Event) { r.applyForEpoch(epoch, ev) },
		func(s string) {
			if r.onStatus != nil {
				r.onStatus(s)
			}
		},
	)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	r.sub = sub
	r.mu.Unlock()
	return nil
}

// Detach tears down the current subscription and clears the ledger.
func (r *Reconciler) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	if r.sub != nil {
		r.sub.Unsubscribe()
		r.sub = nil
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.channelID = ""
	r.ledger.Clear()
	r.pending = nil
}

// LoadMore fetches the next older history page and merges it without
// disturbing already-seen ids. It is a no-op (ErrLoadInFlight / nil) when a
// fetch is already running or no more pages exist.
func (r *Reconciler) LoadMore(ctx context.Context) error {
	r.mu.Lock()
	if r.channelID == "" {
		r.mu.Unlock()
		return ErrNoChannel
	}
	if r.noMore {
		r.mu.Unlock()
		return nil
	}
	if r.loading {
		r.mu.Unlock()
		return ErrLoadInFlight
	}
	r.loading = true
	epoch := r.epoch
	channelID := r.channelID
	before, ok := r.ledger.OldestTimestamp()
	r.mu.Unlock()
	if !ok {
		before = time.Time{}
	}

	defer func() {
		r.mu.Lock()
		r.loading = false
		r.mu.Unlock()
	}()

	page, err := r.store.PageBefore(ctx, channelID, before, r.pageSize)
	if err != nil {
		return err
	}
	resolved, err := r.attachSenders(ctx, page)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch != epoch {
		return nil
	}
	for i := range resolved {
		r.ledger.Upsert(&resolved[i])
	}
	if len(resolved) < r.pageSize {
		r.noMore = true
	}
	return nil
}

// ApplyEvent feeds one change-feed event into the ledger. Events are
// processed strictly in arrival order; deliveries that land while a merge
// is in flight are queued and drained afterwards. ApplyEvent never fails:
// per-event errors (malformed records, resolver outages) are logged and the
// event skipped so stream processing stays resilient.
func (r *Reconciler) ApplyEvent(ev Event) {
	r.mu.Lock()
	r.applyForEpochLocked(r.epoch, ev)
}

// applyForEpoch is the subscription callback path; it drops events from a
// stale epoch before touching any state.
func (r *Reconciler) applyForEpoch(epoch uint64, ev Event) {
	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		return
	}
	r.applyForEpochLocked(epoch, ev)
}

// applyForEpochLocked expects r.mu held and releases it.
func (r *Reconciler) applyForEpochLocked(epoch uint64, ev Event) {
	if r.applying {
		r.pending = append(r.pending, ev)
		r.mu.Unlock()
		return
	}
	r.applying = true
	ctx := r.applyCtx
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Unlock()

	r.processOne(ctx, epoch, ev)

	// Drain whatever queued up while we were merging, in order.
	for {
		r.mu.Lock()
		if r.epoch != epoch || len(r.pending) == 0 {
			r.applying = false
			r.pending = nil
			r.mu.Unlock()
			return
		}
		next := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		r.processOne(ctx, epoch, next)
	}
}

// processOne merges a single event. The ledger is only touched under the
// lock after every await (sender resolution) has completed, so a snapshot
// can never observe a half-applied merge.
func (r *Reconciler) processOne(ctx context.Context, epoch uint64, ev Event) {
	switch ev.Type {
	case EventDeleted:
		id := recordID(ev)
		if id == "" {
			r.log.Warn().Str("event", string(ev.Type)).Msg("stream: delete event without id, skipping")
			return
		}
		r.mu.Lock()
		if r.epoch == epoch {
			r.ledger.Remove(id)
		}
		r.mu.Unlock()

	case EventInserted, EventUpdated:
		m, err := DecodeMessage(ev.New)
		if err != nil {
			r.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("stream: dropping malformed record")
			return
		}

		r.mu.Lock()
		if r.epoch != epoch {
			r.mu.Unlock()
			return
		}
		if r.ledger.Has(m.ID) {
			// Duplicate insert after reconnection replay, or a plain
			// update: merge onto the existing entry.
			r.ledger.Upsert(m)
			r.mu.Unlock()
			return
		}
		if opt := r.ledger.FindOptimistic(m.Content, m.Timestamp, r.window); opt != nil {
			// The authoritative counterpart of an optimistic send under a
			// different id: replace, never append.
			m.Sender = opt.Sender
			r.ledger.ReplaceID(opt.ID, m)
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		// New id: full creation path. Resolve the sender (cache-first),
		// then insert.
		if r.resolver != nil {
			ident, err := r.resolver.Resolve(ctx, m.SenderID)
			if err != nil {
				r.log.Warn().Err(err).Str("sender_id", m.SenderID).Msg("stream: sender resolution failed, inserting without identity")
			} else {
				m.Sender = ident
			}
		}

		r.mu.Lock()
		if r.epoch == epoch {
			r.ledger.Upsert(m)
		}
		r.mu.Unlock()

	default:
		r.log.Warn().Str("event", string(ev.Type)).Msg("stream: unknown event type")
	}
}

// SendOptimistic fabricates a locally-tagged entry for content, inserts it
// into the ledger, and issues the write to the store. The client-generated
// id is written with the row, so the confirming stream event normally lands
// under the same id and the placeholder is replaced, not duplicated. On
// store failure the placeholder is removed from the ledger and returned
// with Failed set so the caller can render a distinguishable failed state.
func (r *Reconciler) SendOptimistic(ctx context.Context, senderID, content string, attachments []domain.Attachment) (*domain.Message, error) {
	r.mu.Lock()
	if r.channelID == "" {
		r.mu.Unlock()
		return nil, ErrNoChannel
	}
	epoch := r.epoch
	m := &domain.Message{
		ID:           uuid.NewString(),
		ChannelID:    r.channelID,
		SenderID:     senderID,
		Content:      content,
		Attachments:  attachments,
		Timestamp:    time.Now().UTC(),
		IsOptimistic: true,
	}
	if r.resolver != nil {
		if ident := r.resolver.Cache.Get(senderID); ident != nil {
			m.Sender = ident
		}
	}
	r.ledger.Upsert(m)
	r.mu.Unlock()

	stored, err := r.store.InsertMessage(ctx, m)
	if err != nil {
		r.mu.Lock()
		if r.epoch == epoch {
			if cur := r.ledger.Get(m.ID); cur != nil && cur.IsOptimistic {
				r.ledger.Remove(m.ID)
			}
		}
		r.mu.Unlock()
		failed := *m
		failed.Failed = true
		return &failed, err
	}

	// Reconcile immediately with the authoritative row; the stream event
	// that follows is then a harmless duplicate merge.
	r.mu.Lock()
	if r.epoch == epoch {
		stored.Sender = m.Sender
		if stored.ID != m.ID {
			r.ledger.ReplaceID(m.ID, stored)
		} else {
			r.ledger.Upsert(stored)
		}
	}
	r.mu.Unlock()
	return stored, nil
}

// Snapshot returns the ledger contents sorted by timestamp ascending. It is
// idempotent and side-effect-free; this is the only externally observed
// read path.
func (r *Reconciler) Snapshot() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.Snapshot()
}

// Channel returns the currently attached channel id ("" when detached).
func (r *Reconciler) Channel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channelID
}

// attachSenders resolves the distinct sender ids of a history page in one
// batch and attaches the identities. Messages whose sender cannot be
// resolved keep a nil Sender; a resolver transport failure aborts the page
// (the caller retries).
func (r *Reconciler) attachSenders(ctx context.Context, page []domain.Message) ([]domain.Message, error) {
	if r.resolver == nil || len(page) == 0 {
		return page, nil
	}
	seen := make(map[string]struct{}, len(page))
	var ids []string
	for i := range page {
		if _, ok := seen[page[i].SenderID]; !ok {
			seen[page[i].SenderID] = struct{}{}
			ids = append(ids, page[i].SenderID)
		}
	}
	sort.Strings(ids) // deterministic batch order
	idents, err := r.resolver.ResolveBatch(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range page {
		if ident, ok := idents[page[i].SenderID]; ok {
			ic := ident
			page[i].Sender = &ic
		}
	}
	return page, nil
}

package chatclient

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ams_backend/internal/domain"
)

const DefaultPollInterval = 5 * time.Second

// Source is the subset of the API the poller needs. *Client implements it.
type Source interface {
	Conversations(ctx context.Context) ([]domain.ConversationSummary, error)
	MarkRead(ctx context.Context, counterpartID string) (int64, error)
}

var _ Source = (*Client)(nil)

type PollerOptions struct {
	Interval time.Duration
	Log      *zap.Logger
	// OnUpdate receives the merged list after every applied tick.
	OnUpdate func([]domain.ConversationSummary)
	// OnError is told about failed mark-read calls so the UI can offer a
	// retry. The optimistic local state is left as is.
	OnError func(counterpartID string, err error)
}

// Poller refreshes a State on a fixed wall-clock interval.
type Poller struct {
	src      Source
	state    *State
	interval time.Duration
	log      *zap.Logger
	onUpdate func([]domain.ConversationSummary)
	onError  func(string, error)

	wg sync.WaitGroup
}

func NewPoller(src Source, state *State, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Poller{
		src:      src,
		state:    state,
		interval: opts.Interval,
		log:      opts.Log,
		onUpdate: opts.OnUpdate,
		onError:  opts.OnError,
	}
}

func (p *Poller) State() *State { return p.state }

// Run fetches immediately and then once per interval until ctx is done, at
// which point the State is closed. A tick never waits for the previous one.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer p.state.Close()

	p.spawnTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.spawnTick(ctx)
		}
	}
}

func (p *Poller) spawnTick(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Refresh(ctx)
	}()
}

// Refresh performs one fetch-and-merge. Failures are logged at debug level
// and left for the next tick.
func (p *Poller) Refresh(ctx context.Context) bool {
	seq := p.state.BeginTick()
	fresh, err := p.src.Conversations(ctx)
	if err != nil {
		p.log.Debug("poll failed", zap.Uint64("seq", seq), zap.Error(err))
		return false
	}
	if !p.state.ApplyTick(seq, fresh) {
		p.log.Debug("stale poll dropped", zap.Uint64("seq", seq))
		return false
	}
	if p.onUpdate != nil {
		p.onUpdate(p.state.Snapshot())
	}
	return true
}

// Select zeroes the counterpart's unread count locally, then marks it read on
// the server in the background and refreshes on success.
func (p *Poller) Select(ctx context.Context, counterpartID string) {
	p.state.MarkReadLocal(counterpartID)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.src.MarkRead(ctx, counterpartID); err != nil {
			p.log.Debug("mark read failed", zap.String("counterpart_id", counterpartID), zap.Error(err))
			if p.onError != nil {
				p.onError(counterpartID, err)
			}
			return
		}
		p.Refresh(ctx)
	}()
}

// Wait blocks until every in-flight tick and mark-read call has finished.
func (p *Poller) Wait() { p.wg.Wait() }

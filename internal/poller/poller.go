// Package poller queries an upload session's progress at a fixed cadence until
// the server reports it is no longer processing or the caller cancels.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/batchwatch/internal/models"
)

const (
	// DefaultInterval is the delay between two polls of one session.
	DefaultInterval = time.Second

	// DefaultRequestTimeout bounds a single progress request.
	DefaultRequestTimeout = 10 * time.Second
)

// ErrPollLimit is passed to OnExhausted when a run hits its maximum poll count.
var ErrPollLimit = errors.New("poll limit reached")

// Fetcher returns the current progress snapshot of a session.
type Fetcher interface {
	GetProgress(ctx context.Context, sessionID string) (*models.UploadProgress, error)
}

// Handlers receive the results of a run. Any of them may be nil.
//
// Handlers are invoked on the run's goroutine while its delivery lock is held,
// so they never race with Cancel. They must not call Cancel on the run that is
// delivering to them.
type Handlers struct {
	// OnProgress receives every successful snapshot, in request order.
	OnProgress func(seq uint64, p models.UploadProgress)
	// OnComplete fires exactly once, after OnProgress, when a snapshot reports
	// IsProcessing == false. The run has already stopped.
	OnComplete func(p models.UploadProgress)
	// OnTransientError reports a failed poll. The run keeps going.
	OnTransientError func(seq uint64, err error)
	// OnExhausted fires when the maximum poll count is reached. The run has stopped.
	OnExhausted func(err error)
}

// Poller starts polling runs against a Fetcher.
type Poller struct {
	fetcher        Fetcher
	interval       time.Duration
	requestTimeout time.Duration
	maxPolls       int
	logger         *slog.Logger
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the polling cadence. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithRequestTimeout bounds each progress request. Non-positive values are ignored.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.requestTimeout = d
		}
	}
}

// WithMaxPolls stops a run after n polls without completion. Zero means unbounded.
func WithMaxPolls(n int) Option {
	return func(p *Poller) {
		if n >= 0 {
			p.maxPolls = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Poller.
func New(f Fetcher, opts ...Option) *Poller {
	p := &Poller{
		fetcher:        f,
		interval:       DefaultInterval,
		requestTimeout: DefaultRequestTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval returns the configured polling cadence.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Start begins polling sessionID on a new goroutine. The first request is
// issued one interval after Start returns. The returned Run must be cancelled
// unless it finishes on its own.
func (p *Poller) Start(sessionID string, h Handlers) *Run {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Run{
		poller:    p,
		sessionID: sessionID,
		handlers:  h,
		ctx:       ctx,
		ctxCancel: cancel,
		done:      make(chan struct{}),
	}
	go r.loop()
	return r
}

// Run is one active polling loop for one session.
type Run struct {
	poller    *Poller
	sessionID string
	handlers  Handlers
	ctx       context.Context
	ctxCancel context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	stopped bool
	applied uint64 // Seq of the last applied snapshot
}

// SessionID returns the session this run polls.
func (r *Run) SessionID() string {
	return r.sessionID
}

// Done is closed once the run's goroutine has exited.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Cancel stops the run. After Cancel returns no handler is invoked again, even
// for a request that is already in flight; that request's context is cancelled.
// Cancel is idempotent and safe to call after the run finished on its own.
func (r *Run) Cancel() {
	r.mu.Lock()
	already := r.stopped
	r.stopped = true
	r.mu.Unlock()

	r.ctxCancel()
	if !already {
		r.poller.logger.Debug("polling cancelled", "session_id", r.sessionID)
	}
}

func (r *Run) loop() {
	defer close(r.done)
	defer r.ctxCancel()

	ticker := time.NewTicker(r.poller.interval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}
		if r.ctx.Err() != nil {
			return
		}

		// The request runs inline, so a tick that fires while it is in flight
		// is dropped instead of starting a second request.
		seq++
		if stop := r.deliver(r.poll(seq)); stop {
			return
		}

		if limit := r.poller.maxPolls; limit > 0 && seq >= uint64(limit) {
			r.exhaust(seq)
			return
		}
	}
}

// poll performs one request and tags its outcome.
func (r *Run) poll(seq uint64) Result {
	ctx, cancel := context.WithTimeout(r.ctx, r.poller.requestTimeout)
	defer cancel()

	p, err := r.poller.fetcher.GetProgress(ctx, r.sessionID)
	if err == nil && p == nil {
		err = errors.New("empty progress response")
	}
	if err != nil {
		return Result{Seq: seq, Outcome: OutcomeTransientFailure, Err: err}
	}
	return Result{Seq: seq, Outcome: OutcomeSuccess, Progress: p.Clone()}
}

// deliver applies res to the handlers and reports whether the loop must stop.
func (r *Run) deliver(res Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger := r.poller.logger
	if r.stopped {
		logger.Debug("discarding poll result after cancel", "session_id", r.sessionID, "seq", res.Seq)
		return true
	}
	if res.Seq <= r.applied {
		logger.Debug("discarding out-of-order poll result", "session_id", r.sessionID, "seq", res.Seq, "applied", r.applied)
		return false
	}

	switch res.Outcome {
	case OutcomeTransientFailure:
		logger.Warn("poll failed, will retry", "session_id", r.sessionID, "seq", res.Seq, "error", res.Err)
		if r.handlers.OnTransientError != nil {
			r.handlers.OnTransientError(res.Seq, res.Err)
		}
		return false

	case OutcomeSuccess:
		r.applied = res.Seq
		if r.handlers.OnProgress != nil {
			r.handlers.OnProgress(res.Seq, res.Progress)
		}
		if !res.Progress.IsProcessing {
			r.stopped = true
			logger.Info("session finished processing",
				"session_id", r.sessionID,
				"processed", res.Progress.ProcessedFiles,
				"total", res.Progress.TotalFiles)
			if r.handlers.OnComplete != nil {
				r.handlers.OnComplete(res.Progress)
			}
			return true
		}
	}
	return false
}

func (r *Run) exhaust(seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true

	err := fmt.Errorf("%w: %d polls for session %s", ErrPollLimit, seq, r.sessionID)
	r.poller.logger.Warn("giving up on session", "session_id", r.sessionID, "polls", seq)
	if r.handlers.OnExhausted != nil {
		r.handlers.OnExhausted(err)
	}
}

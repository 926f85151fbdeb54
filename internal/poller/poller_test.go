package poller_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raphaelgruber/batchwatch/internal/models"
	"github.com/raphaelgruber/batchwatch/internal/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tick = 10 * time.Millisecond

// scriptedFetcher answers polls from a fixed script; the last entry repeats.
type scriptedFetcher struct {
	mu      sync.Mutex
	script  []step
	calls   int
	current atomic.Int32
	maxSeen atomic.Int32
}

type step struct {
	progress *models.UploadProgress
	err      error
	delay    time.Duration
}

func (f *scriptedFetcher) GetProgress(ctx context.Context, sessionID string) (*models.UploadProgress, error) {
	n := f.current.Add(1)
	defer f.current.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	f.mu.Lock()
	idx := f.calls
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	s := f.script[idx]
	f.calls++
	f.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.progress == nil {
		return nil, nil
	}
	p := s.progress.Clone()
	p.SessionID = sessionID
	return &p, nil
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recorder captures handler invocations.
type recorder struct {
	mu         sync.Mutex
	progress   []models.UploadProgress
	seqs       []uint64
	completed  []models.UploadProgress
	transients []error
	exhausted  []error
}

func (r *recorder) handlers() poller.Handlers {
	return poller.Handlers{
		OnProgress: func(seq uint64, p models.UploadProgress) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.seqs = append(r.seqs, seq)
			r.progress = append(r.progress, p)
		},
		OnComplete: func(p models.UploadProgress) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completed = append(r.completed, p)
		},
		OnTransientError: func(seq uint64, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transients = append(r.transients, err)
		},
		OnExhausted: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.exhausted = append(r.exhausted, err)
		},
	}
}

func (r *recorder) counts() (progress, completed, transients, exhausted int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.progress), len(r.completed), len(r.transients), len(r.exhausted)
}

func processing(processed, total int) *models.UploadProgress {
	return &models.UploadProgress{TotalFiles: total, ProcessedFiles: processed, IsProcessing: true}
}

func finished(total int) *models.UploadProgress {
	return &models.UploadProgress{TotalFiles: total, ProcessedFiles: total, IsProcessing: false}
}

func waitDone(t *testing.T, run *poller.Run) {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("polling run did not exit")
	}
}

func TestNewDefaults(t *testing.T) {
	p := poller.New(&scriptedFetcher{})
	assert.Equal(t, poller.DefaultInterval, p.Interval())

	p = poller.New(&scriptedFetcher{}, poller.WithInterval(0))
	assert.Equal(t, poller.DefaultInterval, p.Interval(), "non-positive interval is ignored")
}

func TestRunStopsOnCompletion(t *testing.T) {
	f := &scriptedFetcher{script: []step{
		{progress: processing(0, 3)},
		{progress: processing(2, 3)},
		{progress: finished(3)},
	}}
	rec := &recorder{}

	run := poller.New(f, poller.WithInterval(tick)).Start("s1", rec.handlers())
	waitDone(t, run)

	progress, completed, transients, _ := rec.counts()
	assert.Equal(t, 3, progress)
	assert.Equal(t, 1, completed)
	assert.Zero(t, transients)
	assert.Equal(t, []uint64{1, 2, 3}, rec.seqs)
	assert.Equal(t, "s1", rec.completed[0].SessionID)
	assert.Equal(t, 3, rec.completed[0].ProcessedFiles)

	time.Sleep(5 * tick)
	assert.Equal(t, 3, f.Calls(), "no polls after completion")
}

func TestRunContinuesAfterTransientFailure(t *testing.T) {
	f := &scriptedFetcher{script: []step{
		{err: errors.New("connection reset")},
		{progress: nil},
		{progress: finished(1)},
	}}
	rec := &recorder{}

	run := poller.New(f, poller.WithInterval(tick)).Start("s1", rec.handlers())
	waitDone(t, run)

	progress, completed, transients, _ := rec.counts()
	assert.Equal(t, 1, progress)
	assert.Equal(t, 1, completed)
	assert.Equal(t, 2, transients)
	assert.Equal(t, []uint64{3}, rec.seqs)
}

func TestCancelDiscardsInFlightResponse(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	f := fetcherFunc(func(ctx context.Context, id string) (*models.UploadProgress, error) {
		started <- struct{}{}
		<-release // deliberately ignores ctx to simulate a late response
		return finished(2), nil
	})
	rec := &recorder{}

	run := poller.New(f, poller.WithInterval(tick)).Start("s1", rec.handlers())

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("poll never started")
	}
	run.Cancel()
	close(release)
	waitDone(t, run)

	progress, completed, transients, exhausted := rec.counts()
	assert.Zero(t, progress, "late response must not be delivered")
	assert.Zero(t, completed)
	assert.Zero(t, transients)
	assert.Zero(t, exhausted)
}

func TestCancelAbortsRequestContext(t *testing.T) {
	started := make(chan struct{}, 1)
	aborted := make(chan error, 1)
	f := fetcherFunc(func(ctx context.Context, id string) (*models.UploadProgress, error) {
		started <- struct{}{}
		<-ctx.Done()
		aborted <- ctx.Err()
		return nil, ctx.Err()
	})

	run := poller.New(f, poller.WithInterval(tick)).Start("s1", poller.Handlers{})
	<-started
	run.Cancel()

	select {
	case err := <-aborted:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("request context was not cancelled")
	}
	waitDone(t, run)
}

func TestRunNeverOverlapsRequests(t *testing.T) {
	f := &scriptedFetcher{script: []step{
		{progress: processing(0, 1), delay: 4 * tick},
		{progress: processing(0, 1), delay: 4 * tick},
		{progress: finished(1)},
	}}

	run := poller.New(f, poller.WithInterval(tick)).Start("s1", poller.Handlers{})
	waitDone(t, run)

	assert.Equal(t, int32(1), f.maxSeen.Load(), "at most one request in flight")
	assert.Equal(t, 3, f.Calls())
}

func TestRunMaxPolls(t *testing.T) {
	f := &scriptedFetcher{script: []step{{progress: processing(0, 5)}}}
	rec := &recorder{}

	run := poller.New(f, poller.WithInterval(tick), poller.WithMaxPolls(3)).Start("s1", rec.handlers())
	waitDone(t, run)

	progress, completed, _, exhausted := rec.counts()
	assert.Equal(t, 3, progress)
	assert.Zero(t, completed)
	require.Equal(t, 1, exhausted)
	assert.ErrorIs(t, rec.exhausted[0], poller.ErrPollLimit)
	assert.Equal(t, 3, f.Calls())
}

func TestRequestTimeoutIsTransient(t *testing.T) {
	var calls atomic.Int32
	f := fetcherFunc(func(ctx context.Context, id string) (*models.UploadProgress, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return finished(1), nil
	})
	rec := &recorder{}

	run := poller.New(f, poller.WithInterval(tick), poller.WithRequestTimeout(tick)).Start("s1", rec.handlers())
	waitDone(t, run)

	_, completed, transients, _ := rec.counts()
	assert.Equal(t, 1, completed)
	require.Equal(t, 1, transients)
	assert.ErrorIs(t, rec.transients[0], context.DeadlineExceeded)
}

func TestCancelIsIdempotent(t *testing.T) {
	f := &scriptedFetcher{script: []step{{progress: finished(1)}}}
	run := poller.New(f, poller.WithInterval(tick)).Start("s1", poller.Handlers{})
	waitDone(t, run)

	assert.NotPanics(t, func() {
		run.Cancel()
		run.Cancel()
	})
}

func TestCancelBeforeFirstTick(t *testing.T) {
	f := &scriptedFetcher{script: []step{{progress: finished(1)}}}
	run := poller.New(f, poller.WithInterval(time.Hour)).Start("s1", poller.Handlers{})
	assert.Equal(t, "s1", run.SessionID())

	run.Cancel()
	waitDone(t, run)
	assert.Zero(t, f.Calls(), "first poll happens one interval after start")
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "success", poller.OutcomeSuccess.String())
	assert.Equal(t, "transient_failure", poller.OutcomeTransientFailure.String())
	assert.Equal(t, "unknown", poller.Outcome(42).String())
}

type fetcherFunc func(ctx context.Context, sessionID string) (*models.UploadProgress, error)

func (f fetcherFunc) GetProgress(ctx context.Context, sessionID string) (*models.UploadProgress, error) {
	return f(ctx, sessionID)
}

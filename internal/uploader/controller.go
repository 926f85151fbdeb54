// Package uploader drives one batch upload at a time: it submits the files,
// tracks the resulting session with a poller and exposes the observable state.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/raphaelgruber/batchwatch/internal/client"
	"github.com/raphaelgruber/batchwatch/internal/models"
	"github.com/raphaelgruber/batchwatch/internal/poller"
)

var (
	// ErrCancelled is returned by Upload when the attempt was cancelled or
	// superseded by a newer Upload before its session could be tracked.
	ErrCancelled = errors.New("upload cancelled")

	// ErrClosed is returned by Upload after Close.
	ErrClosed = errors.New("upload controller closed")
)

// Status is the lifecycle phase of the controller.
type Status int

const (
	StatusIdle Status = iota
	StatusUploading
	StatusCompleted
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusUploading:
		return "uploading"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is a point-in-time view of the controller.
type State struct {
	Status    Status
	SessionID string
	// Progress is the last snapshot reported by the server, nil until the
	// first successful poll of the current session.
	Progress    *models.UploadProgress
	IsUploading bool
	// Err is set when the last attempt failed. Transient poll errors never
	// end up here.
	Err               error
	TransientFailures int
}

// Submitter starts a server-side batch job.
type Submitter interface {
	Submit(ctx context.Context, files []models.File) (*models.SessionHandle, error)
}

// session is one Upload attempt. Every field is guarded by Controller.mu.
type session struct {
	cancelled bool
	abort     context.CancelFunc // aborts an in-flight Submit
	run       *poller.Run
}

// retire aborts a session's submission and stops its run. Callers read both
// under Controller.mu and must release the lock before calling retire.
func retire(abort context.CancelFunc, run *poller.Run) {
	if abort != nil {
		abort()
	}
	if run != nil {
		run.Cancel()
	}
}

// Controller owns the upload state machine. A Controller must be closed.
type Controller struct {
	submitter Submitter
	poller    *poller.Poller
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	current *session
	settled chan struct{} // closed when the current attempt stops uploading
	changes chan struct{}
	closed  bool
}

// New creates a Controller in the idle state.
func New(submitter Submitter, p *poller.Poller, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		submitter: submitter,
		poller:    p,
		logger:    logger,
		changes:   make(chan struct{}, 1),
	}
}

// Changes signals that the state may have changed. Signals coalesce, so
// consumers should read Snapshot after each receive. The channel is closed by
// Close.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() State {
	st := c.state
	if st.Progress != nil {
		p := st.Progress.Clone()
		st.Progress = &p
	}
	return st
}

// Upload submits files and starts tracking the new session. Any previous
// session is retired first. ctx only governs the submission request; polling
// continues until completion, Cancel or Close.
func (c *Controller) Upload(ctx context.Context, files []models.File) error {
	if len(files) == 0 {
		return client.ErrNoFiles
	}

	submitCtx, abort := context.WithCancel(ctx)
	defer abort()

	sess := &session{abort: abort}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	prev := c.current
	var prevAbort context.CancelFunc
	var prevRun *poller.Run
	if prev != nil {
		prev.cancelled = true
		prevAbort, prevRun = prev.abort, prev.run
	}
	c.current = sess
	c.settleLocked()
	c.settled = make(chan struct{})
	c.state = State{Status: StatusUploading, IsUploading: true}
	c.notifyLocked()
	c.mu.Unlock()

	if prev != nil {
		retire(prevAbort, prevRun)
	}

	c.logger.Info("submitting batch", "files", len(files))
	handle, err := c.submitter.Submit(submitCtx, files)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != sess || sess.cancelled {
		if err == nil {
			c.logger.Debug("dropping session of superseded upload", "session_id", handle.SessionID)
		}
		return ErrCancelled
	}

	if err != nil {
		// A caller's cancel stops the attempt; a deadline is a failed submission.
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
			c.finishLocked(StatusCancelled, nil)
			c.logger.Info("upload aborted during submission", "reason", ctxErr)
			return fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
		}
		c.finishLocked(StatusFailed, err)
		c.logger.Error("upload failed", "error", err)
		return err
	}

	c.state.SessionID = handle.SessionID
	// Delivery takes the run lock before c.mu, so starting the run while
	// holding c.mu is safe; it guarantees Cancel always sees sess.run.
	sess.run = c.poller.Start(handle.SessionID, c.handlers(sess))
	c.notifyLocked()
	c.logger.Info("tracking session", "session_id", handle.SessionID)
	return nil
}

// Cancel stops tracking the current session. It is client-local: the server
// keeps processing. Cancel is a no-op when nothing is uploading.
func (c *Controller) Cancel() {
	c.mu.Lock()
	sess := c.current
	if sess == nil || sess.cancelled || !c.state.IsUploading {
		c.mu.Unlock()
		return
	}
	sess.cancelled = true
	abort, run := sess.abort, sess.run
	c.finishLocked(StatusCancelled, nil)
	c.logger.Info("upload cancelled", "session_id", c.state.SessionID)
	c.mu.Unlock()

	retire(abort, run)
}

// Close retires any active session and closes Changes. It is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	sess := c.current
	var abort context.CancelFunc
	var run *poller.Run
	if sess != nil {
		sess.cancelled = true
		abort, run = sess.abort, sess.run
	}
	if c.state.IsUploading {
		c.finishLocked(StatusCancelled, nil)
	}
	c.settleLocked()
	c.closed = true
	close(c.changes)
	c.mu.Unlock()

	if sess != nil {
		retire(abort, run)
	}
}

// Wait blocks until no upload is in progress or ctx is done, and returns the
// state at that point.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	for {
		c.mu.Lock()
		if !c.state.IsUploading || c.settled == nil {
			st := c.snapshotLocked()
			c.mu.Unlock()
			return st, nil
		}
		settled := c.settled
		c.mu.Unlock()

		select {
		case <-settled:
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		}
	}
}

func (c *Controller) handlers(sess *session) poller.Handlers {
	return poller.Handlers{
		OnProgress: func(seq uint64, p models.UploadProgress) {
			c.mu.Lock()
			defer c.mu.Unlock()
			// The final snapshot is applied by OnComplete together with the
			// status change, so no reader sees it while still uploading.
			if !c.ownsLocked(sess) || !p.IsProcessing {
				return
			}
			c.state.Progress = &p
			c.notifyLocked()
		},
		OnComplete: func(p models.UploadProgress) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if !c.ownsLocked(sess) {
				return
			}
			c.state.Progress = &p
			c.finishLocked(StatusCompleted, nil)
			c.logger.Info("upload completed",
				"session_id", p.SessionID,
				"processed", p.ProcessedFiles,
				"total", p.TotalFiles)
		},
		OnTransientError: func(seq uint64, err error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if !c.ownsLocked(sess) {
				return
			}
			c.state.TransientFailures++
			c.notifyLocked()
		},
		OnExhausted: func(err error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if !c.ownsLocked(sess) {
				return
			}
			c.finishLocked(StatusFailed, err)
			c.logger.Error("stopped tracking session", "session_id", c.state.SessionID, "error", err)
		},
	}
}

func (c *Controller) ownsLocked(sess *session) bool {
	return c.current == sess && !sess.cancelled && c.state.IsUploading
}

// finishLocked moves the current attempt into a terminal status.
func (c *Controller) finishLocked(status Status, err error) {
	c.state.Status = status
	c.state.IsUploading = false
	c.state.Err = err
	c.settleLocked()
	c.notifyLocked()
}

func (c *Controller) settleLocked() {
	if c.settled != nil {
		close(c.settled)
		c.settled = nil
	}
}

func (c *Controller) notifyLocked() {
	if c.closed {
		return
	}
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

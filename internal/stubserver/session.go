package stubserver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/batchwatch/internal/models"
	"golang.org/x/sync/errgroup"
)

// session is one simulated batch job. All fields are guarded by mu.
type session struct {
	mu       sync.Mutex
	progress models.UploadProgress
	polls    int
}

func newSession(id string, total, batchSize int) *session {
	return &session{
		progress: models.UploadProgress{
			SessionID:    id,
			TotalFiles:   total,
			TotalBatches: (total + batchSize - 1) / batchSize,
			IsProcessing: true,
			Files:        make([]models.FileStatus, 0, total),
		},
	}
}

func (s *session) snapshot() models.UploadProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress.Clone()
}

func (s *session) totalBatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress.TotalBatches
}

func (s *session) countPoll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	return s.polls
}

// startBatch appends the batch's files as pending and advances CurrentBatch.
func (s *session) startBatch(number int, files []submittedFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.CurrentBatch = number
	for _, f := range files {
		s.progress.Files = append(s.progress.Files, models.FileStatus{
			FileName: f.name,
			Status:   models.FileStatePending,
		})
	}
}

func (s *session) finish(idx int, status models.FileStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.Files[idx] = status
	s.progress.ProcessedFiles++
}

func (s *session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.IsProcessing = false
}

// process walks the files batch by batch. Files inside a batch run concurrently,
// bounded by cfg.Workers.
func (srv *Server) process(ctx context.Context, sess *session, files []submittedFile) {
	defer sess.stop()

	size := srv.cfg.BatchSize
	for start, number := 0, 1; start < len(files); start, number = start+size, number+1 {
		end := min(start+size, len(files))
		batch := files[start:end]
		sess.startBatch(number, batch)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(srv.cfg.Workers)
		for i, f := range batch {
			idx := start + i
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(srv.cfg.StepDelay):
				}
				sess.finish(idx, evaluate(f))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			srv.logger.Warn("batch processing aborted", "session_id", sess.snapshot().SessionID, "error", err)
			return
		}
	}

	srv.logger.Info("batch processing finished", "session_id", sess.snapshot().SessionID, "files", len(files))
}

// evaluate decides the simulated outcome for one file.
func evaluate(f submittedFile) models.FileStatus {
	switch {
	case f.size == 0:
		return models.FileStatus{FileName: f.name, Status: models.FileStateError, Error: "empty file"}
	case strings.Contains(strings.ToLower(f.name), "fail"):
		return models.FileStatus{FileName: f.name, Status: models.FileStateError, Error: "processing failed"}
	default:
		return models.FileStatus{FileName: f.name, Status: models.FileStateSuccess}
	}
}

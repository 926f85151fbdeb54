// Package stubserver implements the submission and progress endpoints with a
// simulated batch pipeline, for local development and client tests.
package stubserver

import (
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/raphaelgruber/batchwatch/internal/models"
)

// formField must match the field the client streams files under.
const formField = "files"

// Config controls the simulated pipeline.
type Config struct {
	BatchSize  int           // Files per batch (default 2)
	StepDelay  time.Duration // Simulated processing time per file
	Workers    int           // Files processed concurrently within a batch (default 2)
	SessionTTL time.Duration // How long finished sessions stay queryable (default 1h)
	MaxFiles   int           // Submissions above this are rejected; 0 = unlimited

	// FailEveryNthPoll makes every Nth progress query of a session return 503.
	// Zero disables it.
	FailEveryNthPoll int
}

// DefaultConfig returns the settings used by batchwatch-stub.
func DefaultConfig() Config {
	return Config{
		BatchSize:  2,
		StepDelay:  300 * time.Millisecond,
		Workers:    2,
		SessionTTL: time.Hour,
	}
}

// Server is the stub processing server.
type Server struct {
	cfg      Config
	engine   *gin.Engine
	sessions *ttlworker.Cache[string, *session]
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stub server. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Server {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.StepDelay < 0 {
		cfg.StepDelay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		sessions: ttlworker.NewCache[string, *session](cfg.SessionTTL),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), LoggingMiddleware(s.logger))

	engine.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	api := engine.Group("/api")
	api.POST("/upload", s.handleSubmit)
	api.GET("/upload/progress/:sessionId", s.handleProgress)
	return engine
}

// Handler returns the HTTP handler serving both endpoints under /api.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Close stops every simulated job and waits for the workers to exit.
// Sessions still in progress are reported as no longer processing.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

type submittedFile struct {
	name string
	size int64
}

// handleSubmit handles POST /api/upload
func (s *Server) handleSubmit(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid multipart body: " + err.Error()})
		return
	}
	headers := form.File[formField]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "no files provided"})
		return
	}
	if s.cfg.MaxFiles > 0 && len(headers) > s.cfg.MaxFiles {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": "too many files in one batch"})
		return
	}

	files := make([]submittedFile, 0, len(headers))
	for _, h := range headers {
		size, err := contentSize(h)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "failed to read " + h.Filename + ": " + err.Error()})
			return
		}
		files = append(files, submittedFile{name: h.Filename, size: size})
	}

	id := uuid.NewString()
	sess := newSession(id, len(files), s.cfg.BatchSize)
	s.sessions.Set(id, sess)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(s.ctx, sess, files)
	}()

	s.logger.Info("batch accepted", "session_id", id, "files", len(files), "batches", sess.totalBatches())
	c.JSON(http.StatusOK, models.SessionHandle{SessionID: id})
}

// handleProgress handles GET /api/upload/progress/:sessionId
func (s *Server) handleProgress(c *gin.Context) {
	id := strings.TrimSpace(c.Param("sessionId"))
	sess := s.sessions.Get(id)
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "session not found or expired"})
		return
	}

	if n := sess.countPoll(); s.cfg.FailEveryNthPoll > 0 && n%s.cfg.FailEveryNthPoll == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "progress temporarily unavailable"})
		return
	}

	c.JSON(http.StatusOK, sess.snapshot())
}

// contentSize reads the uploaded part to learn its real size.
func contentSize(h *multipart.FileHeader) (int64, error) {
	f, err := h.Open()
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(io.Discard, f)
}

package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/raphaelgruber/batchwatch/internal/client"
	"github.com/raphaelgruber/batchwatch/internal/config"
	"github.com/raphaelgruber/batchwatch/internal/metrics"
	"github.com/raphaelgruber/batchwatch/internal/models"
	"github.com/raphaelgruber/batchwatch/internal/poller"
	"github.com/raphaelgruber/batchwatch/internal/stubserver"
	"github.com/raphaelgruber/batchwatch/internal/uploader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupStub starts a stub processing server and points the package globals at it.
func setupStub(t *testing.T, stubCfg stubserver.Config) *client.Client {
	t.Helper()
	srv := stubserver.New(stubCfg, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})

	cfg = config.Config{
		ServerURL:      ts.URL + "/api",
		PollInterval:   10 * time.Millisecond,
		RequestTimeout: time.Second,
		SubmitTimeout:  5 * time.Second,
	}
	collector = metrics.NewCollector()
	apiClient = client.New(cfg.ServerURL, client.WithMetrics(collector))
	return apiClient
}

func testFiles() []models.File {
	return []models.File{
		models.FileFromBytes("a.pdf", []byte("alpha")),
		models.FileFromBytes("b-fail.pdf", []byte("beta")),
		models.FileFromBytes("c.pdf", []byte("gamma")),
	}
}

func TestWatchPlainCompletes(t *testing.T) {
	setupStub(t, stubserver.Config{BatchSize: 2, StepDelay: 5 * time.Millisecond})
	ctrl := newController()
	defer ctrl.Close()

	var out bytes.Buffer
	err := watchPlain(context.Background(), ctrl, testFiles(), &out)
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "Uploaded 3 files, session ")
	assert.Contains(t, s, "Completed")
	assert.Contains(t, s, "Files processed: 3/3")
	assert.Contains(t, s, "Succeeded:       2")
	assert.Contains(t, s, "b-fail.pdf: processing failed")

	st := ctrl.Snapshot()
	assert.Equal(t, uploader.StatusCompleted, st.Status)
	assert.NotNil(t, collector.Snapshot().Poll)
}

func TestWatchPlainInterrupted(t *testing.T) {
	setupStub(t, stubserver.Config{StepDelay: time.Hour})
	ctrl := newController()
	defer ctrl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	err := watchPlain(ctx, ctrl, testFiles(), &out)
	require.NoError(t, err, "stopping the watch is not a failure")

	assert.Contains(t, out.String(), "Stopped watching upload.")
	assert.Contains(t, out.String(), "batchwatch status ")
	assert.Equal(t, uploader.StatusCancelled, ctrl.Snapshot().Status)
}

func TestWatchPlainSubmissionRejected(t *testing.T) {
	setupStub(t, stubserver.Config{MaxFiles: 1})
	ctrl := newController()
	defer ctrl.Close()

	var out bytes.Buffer
	err := watchPlain(context.Background(), ctrl, testFiles(), &out)

	var subErr *client.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.NotContains(t, out.String(), "Uploaded")
}

func TestWatchPlainPollLimit(t *testing.T) {
	c := setupStub(t, stubserver.Config{StepDelay: time.Hour})
	ctrl := uploader.New(c, poller.New(c, poller.WithInterval(10*time.Millisecond), poller.WithMaxPolls(2)), nil)
	defer ctrl.Close()

	var out bytes.Buffer
	err := watchPlain(context.Background(), ctrl, testFiles(), &out)
	require.ErrorIs(t, err, poller.ErrPollLimit)
	assert.Contains(t, out.String(), "server did not finish in time")
}

func TestShowSession(t *testing.T) {
	c := setupStub(t, stubserver.Config{BatchSize: 3, StepDelay: time.Millisecond})
	handle, err := c.Submit(context.Background(), testFiles())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p, err := c.GetProgress(context.Background(), handle.SessionID)
		return err == nil && !p.IsProcessing
	}, 5*time.Second, 10*time.Millisecond)

	var out bytes.Buffer
	require.NoError(t, showSession(context.Background(), c, handle.SessionID, &out))
	assert.Contains(t, out.String(), "Session: "+handle.SessionID)
	assert.Contains(t, out.String(), "Status: finished")
	assert.Contains(t, out.String(), "Failed:          1")

	err = showSession(context.Background(), c, "unknown", &out)
	require.Error(t, err)
	assert.Equal(t, "session not found: unknown", err.Error())
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	files, err := collectFiles([]string{path})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "notes.txt", files[0].Name)

	_, err = collectFiles([]string{path, dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")

	_, err = collectFiles([]string{filepath.Join(dir, "missing.txt")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot read")
}

func TestPrintRequestStats(t *testing.T) {
	m := metrics.NewCollector()
	m.Record(metrics.OpSubmit, 120*time.Millisecond, nil)
	m.Record(metrics.OpPoll, 4*time.Millisecond, nil)

	var out bytes.Buffer
	printRequestStats(&out, m.Snapshot())

	assert.Contains(t, out.String(), "Submit:\n  Calls: 1, Failures: 0, Total: 120ms")
	assert.Contains(t, out.String(), "Progress polls:")
}

func TestUploadResult(t *testing.T) {
	assert.NoError(t, uploadResult(uploader.State{Status: uploader.StatusCompleted}))
	assert.NoError(t, uploadResult(uploader.State{Status: uploader.StatusCancelled}))
	assert.ErrorIs(t, uploadResult(uploader.State{Status: uploader.StatusFailed, Err: poller.ErrPollLimit}), poller.ErrPollLimit)
}

package display_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/raphaelgruber/batchwatch/internal/display"
	"github.com/raphaelgruber/batchwatch/internal/models"
	"github.com/raphaelgruber/batchwatch/internal/poller"
	"github.com/raphaelgruber/batchwatch/internal/uploader"
	"github.com/stretchr/testify/assert"
)

func sample() *models.UploadProgress {
	return &models.UploadProgress{
		SessionID:      "s1",
		TotalFiles:     3,
		ProcessedFiles: 2,
		CurrentBatch:   1,
		TotalBatches:   2,
		IsProcessing:   true,
		Files: []models.FileStatus{
			{FileName: "a.pdf", Status: models.FileStateSuccess},
			{FileName: "b.pdf", Status: models.FileStateError, Error: "parse failed"},
			{FileName: "c.pdf", Status: models.FileStatePending},
		},
	}
}

func TestReportRendersNothingWithoutData(t *testing.T) {
	theme := display.DefaultTheme

	assert.Empty(t, theme.Report(nil, true))
	assert.Empty(t, theme.Report(sample(), false))
}

func TestReport(t *testing.T) {
	out := display.DefaultTheme.Report(sample(), true)

	assert.Contains(t, out, "2/3 files")
	assert.Contains(t, out, "batch 1/2")
	assert.Contains(t, out, "1 ok")
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, out, "66.7%")
	assert.Contains(t, out, "b.pdf: parse failed")
	assert.NotContains(t, out, "a.pdf")
}

func TestCounts(t *testing.T) {
	tests := []struct {
		name string
		p    models.UploadProgress
		want string
	}{
		{
			name: "not started",
			p:    models.UploadProgress{},
			want: "0/0 files · 0 ok · 0 failed",
		},
		{
			name: "with batches",
			p:    *sample(),
			want: "2/3 files · batch 1/2 · 1 ok · 1 failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, display.Counts(tt.p))
		})
	}
}

func TestFinal(t *testing.T) {
	done := sample()
	done.IsProcessing = false
	done.ProcessedFiles = 3
	done.Files[2].Status = models.FileStateSuccess

	tests := []struct {
		name     string
		state    uploader.State
		contains []string
		absent   []string
	}{
		{
			name:     "completed",
			state:    uploader.State{Status: uploader.StatusCompleted, SessionID: "s1", Progress: done},
			contains: []string{"Completed", "Files processed: 3/3", "Succeeded:       2", "Failed:          1", "b.pdf: parse failed"},
			absent:   []string{"Pending"},
		},
		{
			name:     "cancelled before first poll",
			state:    uploader.State{Status: uploader.StatusCancelled, SessionID: "s1"},
			contains: []string{"Stopped watching", "batchwatch status s1"},
			absent:   []string{"Files processed"},
		},
		{
			name:     "cancelled mid-way",
			state:    uploader.State{Status: uploader.StatusCancelled, SessionID: "s1", Progress: sample()},
			contains: []string{"Stopped watching", "Pending:         1"},
		},
		{
			name:     "submission failed",
			state:    uploader.State{Status: uploader.StatusFailed, Err: errors.New("upload could not start: server returned 413")},
			contains: []string{"Upload failed: upload could not start: server returned 413"},
			absent:   []string{"Files processed"},
		},
		{
			name:     "poll limit",
			state:    uploader.State{Status: uploader.StatusFailed, Err: fmt.Errorf("%w: 5 polls", poller.ErrPollLimit), Progress: sample()},
			contains: []string{"server did not finish in time", "Files processed: 2/3"},
		},
		{
			name:     "transient failures",
			state:    uploader.State{Status: uploader.StatusCompleted, Progress: done, TransientFailures: 2},
			contains: []string{"2 status checks failed"},
		},
		{
			name:  "idle",
			state: uploader.State{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := display.DefaultTheme.Final(tt.state)
			if len(tt.contains) == 0 {
				assert.Empty(t, out)
			}
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, out, s)
			}
		})
	}
}

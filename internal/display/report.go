package display

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/batchwatch/internal/models"
	"github.com/raphaelgruber/batchwatch/internal/poller"
	"github.com/raphaelgruber/batchwatch/internal/progress"
	"github.com/raphaelgruber/batchwatch/internal/uploader"
)

// Counts returns the one-line progress summary, e.g.
// "1/3 files · batch 1/2 · 1 ok · 0 failed".
func Counts(p models.UploadProgress) string {
	sum := progress.Summarize(p)
	parts := []string{fmt.Sprintf("%d/%d files", p.ProcessedFiles, p.TotalFiles)}
	if p.TotalBatches > 0 {
		parts = append(parts, fmt.Sprintf("batch %d/%d", p.CurrentBatch, p.TotalBatches))
	}
	parts = append(parts,
		fmt.Sprintf("%d ok", sum.SuccessCount),
		fmt.Sprintf("%d failed", sum.ErrorCount),
	)
	return strings.Join(parts, " · ")
}

// Report renders an in-progress upload as plain lines. It returns "" when
// there is nothing to show: no snapshot yet, or no upload running.
func (t Theme) Report(p *models.UploadProgress, isUploading bool) string {
	if p == nil || !isUploading {
		return ""
	}

	pct := progress.Percentage(p.ProcessedFiles, p.TotalFiles)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %5.1f%% %s\n",
		t.StatusStyle().Render("[processing]"), pct, Counts(*p))
	b.WriteString(t.failedFiles(progress.Summarize(*p)))
	return b.String()
}

// Final renders the outcome of an upload that is no longer running.
func (t Theme) Final(st uploader.State) string {
	var b strings.Builder

	switch st.Status {
	case uploader.StatusCompleted:
		b.WriteString(t.CompletedStyle().Render("✓ Completed") + "\n\n")
	case uploader.StatusCancelled:
		msg := "Stopped watching upload."
		if st.SessionID != "" {
			msg += fmt.Sprintf("\nSession %s continues on the server.\nUse 'batchwatch status %s' to check it.",
				st.SessionID, st.SessionID)
		}
		b.WriteString(t.HintStyle().Render(msg) + "\n")
		if st.Progress == nil {
			return b.String()
		}
		b.WriteString("\n")
	case uploader.StatusFailed:
		b.WriteString(t.ErrorStyle().Render(fmt.Sprintf("✗ Upload failed: %s", failureReason(st.Err))) + "\n")
		if st.Progress == nil {
			return b.String()
		}
		b.WriteString("\n")
	default:
		return ""
	}

	if st.Progress != nil {
		b.WriteString(t.Details(*st.Progress))
	}
	if st.TransientFailures > 0 {
		b.WriteString(t.HintStyle().Render(fmt.Sprintf("  (%d status checks failed and were retried)", st.TransientFailures)) + "\n")
	}
	return b.String()
}

// Details renders the counters and failed files of a snapshot.
func (t Theme) Details(p models.UploadProgress) string {
	sum := progress.Summarize(p)

	var b strings.Builder
	fmt.Fprintf(&b, "  Files processed: %d/%d\n", p.ProcessedFiles, p.TotalFiles)
	if p.TotalBatches > 0 {
		fmt.Fprintf(&b, "  Batch:           %d/%d\n", p.CurrentBatch, p.TotalBatches)
	}
	fmt.Fprintf(&b, "  Succeeded:       %d\n", sum.SuccessCount)
	fmt.Fprintf(&b, "  Failed:          %d\n", sum.ErrorCount)
	if sum.PendingCount > 0 {
		fmt.Fprintf(&b, "  Pending:         %d\n", sum.PendingCount)
	}
	b.WriteString(t.failedFiles(sum))
	return b.String()
}

func (t Theme) failedFiles(sum progress.Summary) string {
	if len(sum.FailedFiles) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(t.ErrorStyle().Render(fmt.Sprintf("\nFailed files (%d):", len(sum.FailedFiles))) + "\n")
	for _, f := range sum.FailedFiles {
		if f.Error != "" {
			fmt.Fprintf(&b, "  • %s: %s\n", f.FileName, f.Error)
		} else {
			fmt.Fprintf(&b, "  • %s\n", f.FileName)
		}
	}
	return b.String()
}

func failureReason(err error) string {
	switch {
	case err == nil:
		return "unknown error"
	case errors.Is(err, poller.ErrPollLimit):
		return "server did not finish in time"
	default:
		return err.Error()
	}
}

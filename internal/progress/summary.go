// Package progress derives summary statistics from upload progress snapshots.
package progress

import "github.com/raphaelgruber/batchwatch/internal/models"

// Summary holds the derived counts for one UploadProgress snapshot.
type Summary struct {
	SuccessCount int
	ErrorCount   int
	PendingCount int
	Percentage   float64
	FailedFiles  []models.FileStatus // Error entries in server order
}

// Summarize computes a Summary from p. It has no side effects.
func Summarize(p models.UploadProgress) Summary {
	var s Summary
	for _, f := range p.Files {
		switch f.Status {
		case models.FileStateSuccess:
			s.SuccessCount++
		case models.FileStateError:
			s.ErrorCount++
			s.FailedFiles = append(s.FailedFiles, f)
		case models.FileStatePending:
			s.PendingCount++
		}
	}
	s.Percentage = Percentage(p.ProcessedFiles, p.TotalFiles)
	return s
}

// Percentage returns processed/total*100, or 0 when total is zero.
func Percentage(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(processed) / float64(total) * 100
}

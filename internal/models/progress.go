// Package models defines the data structures exchanged with the batch processing server.
package models

// FileState is the server-reported processing state of one submitted file.
type FileState string

const (
	FileStatePending FileState = "pending"
	FileStateSuccess FileState = "success"
	FileStateError   FileState = "error"
)

// FileStatus is the per-file record inside an UploadProgress snapshot.
type FileStatus struct {
	FileName string    `json:"fileName"`
	Status   FileState `json:"status"`
	Error    string    `json:"error,omitempty"` // Only set when Status is error
}

// UploadProgress is the full server-side state of one batch job.
// Every poll returns a complete replacement, never a delta.
type UploadProgress struct {
	SessionID      string       `json:"sessionId"`
	TotalFiles     int          `json:"totalFiles"`
	ProcessedFiles int          `json:"processedFiles"`
	CurrentBatch   int          `json:"currentBatch"`
	TotalBatches   int          `json:"totalBatches"`
	IsProcessing   bool         `json:"isProcessing"`
	Files          []FileStatus `json:"files"`
}

// SessionHandle is returned by the submission endpoint.
type SessionHandle struct {
	SessionID string `json:"sessionId"`
}

// Clone returns a deep copy so callers can hand snapshots out without sharing the Files slice.
func (p UploadProgress) Clone() UploadProgress {
	out := p
	if p.Files != nil {
		out.Files = make([]FileStatus, len(p.Files))
		copy(out.Files, p.Files)
	}
	return out
}

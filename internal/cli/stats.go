package cli

import (
	"fmt"
	"io"

	"github.com/raphaelgruber/batchwatch/internal/metrics"
)

// printRequestStats displays client-side request timings.
func printRequestStats(w io.Writer, snap metrics.Snapshot) {
	fmt.Fprintf(w, "\nRequest Statistics\n")
	fmt.Fprintf(w, "═══════════════════════════════════════\n")
	fmt.Fprintf(w, "Elapsed: %.1f seconds\n", snap.UptimeSeconds)

	if snap.Submit != nil {
		fmt.Fprintf(w, "\nSubmit:\n")
		printOpStats(w, snap.Submit)
	}

	if snap.Poll != nil {
		fmt.Fprintf(w, "\nProgress polls:\n")
		printOpStats(w, snap.Poll)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(w io.Writer, op *metrics.OperationSnapshot) {
	fmt.Fprintf(w, "  Calls: %d, Failures: %d, Total: %dms\n", op.Count, op.Failures, op.TotalTimeMs)
	fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

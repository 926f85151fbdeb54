package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/raphaelgruber/batchwatch/internal/client"
	"github.com/raphaelgruber/batchwatch/internal/display"
	"github.com/raphaelgruber/batchwatch/internal/poller"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show the progress of an upload session",
	Long: `Query the processing server once for the progress of a session.

Examples:
  batchwatch status 1f0c8a6e-2b7d-4d8e-9a51-3c2f7e1b9d40`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
	defer cancel()
	return showSession(ctx, apiClient, args[0], cmd.OutOrStdout())
}

func showSession(ctx context.Context, f poller.Fetcher, id string, out io.Writer) error {
	p, err := f.GetProgress(ctx, id)
	if errors.Is(err, client.ErrSessionNotFound) {
		return fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return fmt.Errorf("get progress: %w", err)
	}

	state := "finished"
	if p.IsProcessing {
		state = "processing"
	}

	fmt.Fprintf(out, "Session: %s\n", p.SessionID)
	fmt.Fprintf(out, "  Status: %s\n", state)
	fmt.Fprint(out, display.DefaultTheme.Details(*p))
	return nil
}

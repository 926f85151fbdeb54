package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/batchwatch/internal/display"
	"github.com/raphaelgruber/batchwatch/internal/models"
	"github.com/raphaelgruber/batchwatch/internal/uploader"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var uploadPlain bool

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload files as one batch and watch the processing",
	Long: `Upload files as one batch and follow the server-side processing until
every file succeeded or failed.

On a terminal an interactive progress bar is shown; press q or Ctrl+C to stop
watching. Otherwise (or with --plain) one line is printed per progress change
and SIGINT stops watching. The server keeps processing in both cases.

Examples:
  batchwatch upload report.pdf invoice.pdf
  batchwatch upload --plain ./scans/*.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadPlain, "plain", false, "plain line output even on a terminal")
}

// interactive reports whether the progress view should be used.
func interactive() bool {
	return !uploadPlain && term.IsTerminal(int(os.Stdout.Fd()))
}

func runUpload(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return err
	}

	ctrl := newController()
	defer ctrl.Close()

	if interactive() {
		err = RunUploadProgress(ctrl, files, cfg.SubmitTimeout)
	} else {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		err = watchPlain(ctx, ctrl, files, cmd.OutOrStdout())
	}

	if verbose {
		printRequestStats(cmd.ErrOrStderr(), collector.Snapshot())
	}
	return err
}

// collectFiles validates the paths before anything is sent.
func collectFiles(paths []string) ([]models.File, error) {
	files := make([]models.File, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", path)
		}
		files = append(files, models.FileFromPath(path))
	}
	return files, nil
}

// watchPlain uploads files and prints a line whenever the progress changes.
// Cancelling ctx stops watching without failing the command.
func watchPlain(ctx context.Context, ctrl *uploader.Controller, files []models.File, out io.Writer) error {
	theme := display.DefaultTheme

	submitCtx, cancel := context.WithTimeout(ctx, cfg.SubmitTimeout)
	err := ctrl.Upload(submitCtx, files)
	cancel()
	if errors.Is(err, uploader.ErrCancelled) {
		fmt.Fprint(out, theme.Final(ctrl.Snapshot()))
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Uploaded %d files, session %s\n", len(files), ctrl.Snapshot().SessionID)

	interrupted := ctx.Done()
	var last string
	for {
		select {
		case <-interrupted:
			interrupted = nil
			ctrl.Cancel()
		case <-ctrl.Changes():
		}

		st := ctrl.Snapshot()
		if line := theme.Report(st.Progress, st.IsUploading); line != "" && line != last {
			fmt.Fprint(out, line)
			last = line
		}
		if !st.IsUploading {
			fmt.Fprint(out, "\n"+theme.Final(st))
			return uploadResult(st)
		}
	}
}

// uploadResult maps a finished state to the command's error.
func uploadResult(st uploader.State) error {
	if st.Status == uploader.StatusFailed {
		return st.Err
	}
	return nil
}

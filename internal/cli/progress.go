package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/batchwatch/internal/display"
	"github.com/raphaelgruber/batchwatch/internal/models"
	"github.com/raphaelgruber/batchwatch/internal/uploader"
)

// stateMsg carries a controller snapshot after a change.
type stateMsg uploader.State

// closedMsg reports that the controller stopped publishing changes.
type closedMsg struct{}

// submitDoneMsg carries the result of the submission.
type submitDoneMsg struct {
	err error
}

// progressModel is the bubbletea model for upload progress.
type progressModel struct {
	ctrl          *uploader.Controller
	files         []models.File
	submitTimeout time.Duration
	state         uploader.State
	progress      progress.Model
	theme         display.Theme
	done          bool
	quitting      bool
	err           error
}

// newProgressModel creates a new progress model.
func newProgressModel(ctrl *uploader.Controller, files []models.File, submitTimeout time.Duration) progressModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		ctrl:          ctrl,
		files:         files,
		submitTimeout: submitTimeout,
		progress:      prog,
		theme:         display.DefaultTheme,
	}
}

// Init starts the submission and begins listening for changes.
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.submit(),
		waitForChange(m.ctrl),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.ctrl.Cancel()
			m.state = m.ctrl.Snapshot()
			m.quitting = true
			m.done = true
			return m, tea.Quit
		}

	case submitDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, uploader.ErrCancelled) {
			m.state = m.ctrl.Snapshot()
			m.err = msg.err
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case stateMsg:
		m.state = uploader.State(msg)
		switch m.state.Status {
		case uploader.StatusCompleted, uploader.StatusCancelled, uploader.StatusFailed:
			m.done = true
			if m.state.Status == uploader.StatusFailed {
				m.err = m.state.Err
			}
			return m, tea.Quit
		}
		return m, waitForChange(m.ctrl)

	case closedMsg:
		m.done = true
		return m, tea.Quit

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done {
		if m.err != nil && m.state.Status != uploader.StatusFailed {
			return m.theme.ErrorStyle().Render(fmt.Sprintf("\n✗ Upload failed: %s\n", m.err))
		}
		return "\n" + m.theme.Final(m.state)
	}

	hint := m.theme.HintStyle().Render("Press q to stop watching")

	p := m.state.Progress
	if p == nil {
		msg := fmt.Sprintf("Uploading %d files...", len(m.files))
		if m.state.SessionID != "" {
			msg = "Waiting for the server..."
		}
		return fmt.Sprintf("%s\n%s\n", m.theme.StatusStyle().Render(msg), hint)
	}

	status := m.theme.StatusStyle().Render("[processing]")
	progressBar := m.progress.ViewAs(float64(p.ProcessedFiles) / float64(max(p.TotalFiles, 1)))
	counts := display.Counts(*p)

	out := fmt.Sprintf("%s %s %s\n", status, progressBar, counts)
	if m.state.TransientFailures > 0 {
		out += m.theme.HintStyle().Render(fmt.Sprintf("(%d status checks failed, retrying)", m.state.TransientFailures)) + "\n"
	}
	return out + hint + "\n"
}

// submit uploads the files. Runs in a separate goroutine (command) so the
// view stays responsive while the request body streams.
func (m progressModel) submit() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.submitTimeout)
		defer cancel()

		return submitDoneMsg{err: m.ctrl.Upload(ctx, m.files)}
	}
}

// waitForChange blocks until the controller reports a change.
func waitForChange(ctrl *uploader.Controller) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ctrl.Changes(); !ok {
			return closedMsg{}
		}
		return stateMsg(ctrl.Snapshot())
	}
}

// RunUploadProgress runs the interactive progress UI for one upload.
// Returns nil on completion or when the user stops watching, and the
// failure otherwise.
func RunUploadProgress(ctrl *uploader.Controller, files []models.File, submitTimeout time.Duration) error {
	model := newProgressModel(ctrl, files, submitTimeout)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	// Check final state
	if m, ok := finalModel.(progressModel); ok {
		// Stopping the watch leaves the session running - not an error
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}

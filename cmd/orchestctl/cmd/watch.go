package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/coderun-ai/orchestrator/internal/jobspec"
)

const watchPollInterval = 2 * time.Second

// colorEnabled disables status coloring when stdout is redirected to a
// file or pipe, so plain-text logs don't carry ANSI escapes.
var colorEnabled = isatty.IsTerminal(os.Stdout.Fd())

var (
	watchSpinnerColor = lipgloss.Color("205")
	watchOKStyle      = newStatusStyle("42")
	watchFailStyle    = newStatusStyle("196")
	watchHumanStyle   = newStatusStyle("214")
)

func newStatusStyle(color string) lipgloss.Style {
	if !colorEnabled {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

var watchCmd = &cobra.Command{
	Use:   "watch <job_id>",
	Short: "Poll a job's result and render progress until it reaches a terminal state",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// resultMsg carries the outcome of one poll of /jobs/{id}/result.
type resultMsg struct {
	result *jobspec.JobResult
	err    error
}

func pollOnce(jobID string) tea.Cmd {
	return func() tea.Msg {
		result, err := fetchResult(jobID)
		return resultMsg{result: result, err: err}
	}
}

func waitAndPoll(jobID string) tea.Cmd {
	return tea.Tick(watchPollInterval, func(time.Time) tea.Msg {
		result, err := fetchResult(jobID)
		return resultMsg{result: result, err: err}
	})
}

// watchModel is the bubbletea model behind `orchestctl watch`.
type watchModel struct {
	jobID   string
	spinner spinner.Model
	result  *jobspec.JobResult
	err     error
	done    bool
}

func newWatchModel(jobID string) watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(watchSpinnerColor)
	return watchModel{jobID: jobID, spinner: s}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, pollOnce(m.jobID))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	case resultMsg:
		if msg.err != nil {
			m.err = msg.err
			m.done = true
			return m, tea.Quit
		}
		m.result = msg.result
		if m.result != nil && isTerminal(m.result.Status) {
			m.done = true
			return m, tea.Quit
		}
		return m, waitAndPoll(m.jobID)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func isTerminal(s jobspec.JobStatus) bool {
	return s == jobspec.JobStatusOK || s == jobspec.JobStatusFailed || s == jobspec.JobStatusNeedsHuman
}

func (m watchModel) View() string {
	if m.err != nil {
		return watchFailStyle.Render(fmt.Sprintf("error watching %s: %v\n", m.jobID, m.err))
	}
	if m.result == nil {
		return fmt.Sprintf("%s waiting for %s to start...\n", m.spinner.View(), m.jobID)
	}

	var lines string
	for _, step := range m.result.Steps {
		lines += fmt.Sprintf("  %-24s %s\n", step.StepID, styleStatus(string(step.Status)))
	}

	header := fmt.Sprintf("%s %s: %s\n", m.spinner.View(), m.jobID, styleStatus(string(m.result.Status)))
	if m.done {
		header = fmt.Sprintf("%s: %s\n", m.jobID, styleStatus(string(m.result.Status)))
	}
	return header + lines
}

func styleStatus(status string) string {
	switch jobspec.JobStatus(status) {
	case jobspec.JobStatusOK:
		return watchOKStyle.Render(status)
	case jobspec.JobStatusFailed:
		return watchFailStyle.Render(status)
	case jobspec.JobStatusNeedsHuman:
		return watchHumanStyle.Render(status)
	default:
		return status
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	p := tea.NewProgram(newWatchModel(args[0]))
	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(watchModel); ok && m.err != nil {
		return m.err
	}
	return nil
}

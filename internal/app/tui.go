package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tyiu/sats-price/internal/engine"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// snapshotInterval is how often the screen picks up prices that arrived
// without a command (poller, stream).
const snapshotInterval = 500 * time.Millisecond

type snapshotMsg struct{}

// execMsg carries the result of one console command.
type execMsg struct {
	output string
	quit   bool
	err    error
}

type tuiModel struct {
	ctx     context.Context
	session *engine.Session

	input   textinput.Model
	spinner spinner.Model
	width   int

	view   engine.View
	output string
	err    error
	busy   bool
}

func newTUIModel(ctx context.Context, session *engine.Session) tuiModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "btc 0.5, sats 2100, fiat eur 100, source coingecko, help"
	ti.CharLimit = 128
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = labelStyle

	return tuiModel{
		ctx:     ctx,
		session: session,
		input:   ti,
		spinner: sp,
		view:    session.Snapshot(),
	}
}

func snapshotEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return snapshotMsg{} })
}

// execCmd runs line through a Console that writes into its own buffer. The
// converter itself is redrawn from the session snapshot, so edits do not
// echo it.
func execCmd(ctx context.Context, session *engine.Session, line string) tea.Cmd {
	return func() tea.Msg {
		var buf bytes.Buffer
		c := &Console{session: session, out: &buf}
		quit, err := c.Exec(ctx, line)
		return execMsg{output: strings.TrimRight(buf.String(), "\n"), quit: quit, err: err}
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, snapshotEvery(snapshotInterval))
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-lipgloss.Width(m.input.Prompt)-1, 10)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			if m.busy || line == "" {
				return m, nil
			}
			m.input.Reset()
			m.busy = true
			return m, execCmd(m.ctx, m.session, line)
		}

	case execMsg:
		m.busy = false
		m.output, m.err = msg.output, msg.err
		m.view = m.session.Snapshot()
		if msg.quit || errors.Is(msg.err, engine.ErrSessionClosed) {
			return m, tea.Quit
		}
		return m, nil

	case snapshotMsg:
		m.view = m.session.Snapshot()
		return m, snapshotEvery(snapshotInterval)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m tuiModel) View() string {
	var b strings.Builder

	title := titleStyle.Render("₿ sats-price")
	if m.busy {
		title += " " + m.spinner.View()
	}
	b.WriteString(title)
	b.WriteString("\n\n")
	b.WriteString(RenderView(m.view))
	b.WriteByte('\n')

	if m.output != "" {
		b.WriteString(m.output)
		b.WriteByte('\n')
	}
	if m.err != nil {
		b.WriteString(errorText(m.err))
		b.WriteByte('\n')
	}

	b.WriteString(m.input.View())
	b.WriteByte('\n')
	b.WriteString(dimStyle.Render("enter run · esc quit · help lists commands"))

	out := b.String()
	if m.width > 0 {
		out = lipgloss.NewStyle().MaxWidth(m.width).Render(out)
	}
	return out + "\n"
}

// RunTUI drives a Session from the terminal until the user quits or ctx is
// done.
func RunTUI(ctx context.Context, session *engine.Session) error {
	p := tea.NewProgram(newTUIModel(ctx, session), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

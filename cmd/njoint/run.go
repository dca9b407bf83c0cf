package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/gwillem/njoint/pkg/demo"
	"github.com/gwillem/njoint/pkg/robot"
)

type RunCommand struct {
	Goals     []string `short:"g" long:"goal" description:"Position goal in rad, comma separated per joint (repeatable)"`
	GoalSteps int      `long:"goal-steps" default:"1000" description:"Control cycles per goal"`
	Steps     int      `long:"steps" description:"Stop after this many control cycles (0 runs until quit)"`
	Hz        int      `long:"hz" default:"30" description:"Display refresh rate"`
	LogFile   string   `long:"log-file" default:"njoint.log" description:"Log file while the live view is shown"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// jointColors cycle over the joints.
var jointColors = []string{"196", "208", "226", "46", "51", "201", "99", "250"}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type runModel struct {
	ctrl     *demo.Controller
	chart    *streamlinechart.Model
	names    []string
	mode     string
	width    int
	height   int
	logs     []string
	state    demo.State
	stopped  bool
	quitting bool
	last     robot.Vector // freeze the chart while nothing moves
}

func (m *runModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func (m *runModel) hasMovement(pos robot.Vector) bool {
	if len(m.last) != len(pos) {
		return true
	}
	for i, p := range pos {
		if p != m.last[i] {
			return true
		}
	}
	return false
}

type stateMsg demo.State
type logMsg string
type stoppedMsg struct{ err error }

func waitForState(ctrl *demo.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *demo.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

func waitForStop(done <-chan error) tea.Cmd {
	return func() tea.Msg {
		return stoppedMsg{err: <-done}
	}
}

func (m *runModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *runModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func newRunModel(ctrl *demo.Controller, cfg *robot.Config, mode string) runModel {
	lo, hi := 0.0, 0.0
	for i := 0; i < cfg.NJoints; i++ {
		lo = min(lo, cfg.HardPositionLimitsLower[i])
		hi = max(hi, cfg.HardPositionLimitsUpper[i])
	}
	chart := streamlinechart.New(80, 20, streamlinechart.WithYRange(lo, hi))

	names := cfg.AllJoints()
	for i, name := range names {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[i%len(jointColors)]))
		chart.SetDataSetStyles(name, runes.ThinLineStyle, style)
	}
	return runModel{
		ctrl:  ctrl,
		chart: &chart,
		names: names,
		mode:  mode,
	}
}

func (m runModel) init(done <-chan error) tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
		waitForStop(done),
	)
}

// runProgram wraps runModel with the stop channel of the controller.
type runProgram struct {
	runModel
	done <-chan error
}

func (p runProgram) Init() tea.Cmd {
	return p.init(p.done)
}

func (p runProgram) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m, cmd := p.runModel.update(msg)
	p.runModel = m
	return p, cmd
}

func (p runProgram) View() string {
	return p.runModel.view()
}

func (m runModel) update(msg tea.Msg) (runModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case stateMsg:
		m.state = demo.State(msg)
		if pos := m.state.Observation.Position; pos != nil && m.hasMovement(pos) {
			for i, name := range m.names {
				m.chart.PushDataSet(name, pos[i])
			}
			m.chart.DrawAll()
			m.last = pos
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)

	case stoppedMsg:
		m.stopped = true
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.addLog("Stopped: " + msg.err.Error())
		} else {
			m.addLog("Stopped")
		}
		return m, nil
	}

	return m, nil
}

func (m runModel) view() string {
	if m.quitting {
		return "Stopped.\n"
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("njoint run"))
	sb.WriteString(" - " + m.mode)
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  %d actions", m.state.ActionCount)))
	if m.stopped {
		sb.WriteString(failStyle.Render("  stopped"))
	}
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	sb.WriteString(m.legend())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m runModel) legend() string {
	items := make([]string, 0, len(m.names))
	for i, name := range m.names {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[i%len(jointColors)])).Bold(true)
		item := style.Render("━━") + " " + name
		if pos := m.state.Observation.Position; i < len(pos) {
			item += fmt.Sprintf(" %+.3f", pos[i])
		}
		items = append(items, item)
	}
	return strings.Join(items, "  ")
}

// parseGoals parses "a,b,c" goals with one value per joint.
func parseGoals(goals []string, n int) ([]robot.Vector, error) {
	out := make([]robot.Vector, 0, len(goals))
	for _, g := range goals {
		fields := strings.Split(g, ",")
		if len(fields) != n {
			return nil, errors.Errorf("goal %q: expected %d values, got %d", g, n, len(fields))
		}
		v := robot.NewVector(n)
		for i, f := range fields {
			x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, errors.Wrapf(err, "goal %q", g)
			}
			v[i] = x
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *RunCommand) Execute(args []string) error {
	logger, err := newLogger(c.LogFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	s, err := openSession(logger)
	if err != nil {
		return err
	}

	goals, err := parseGoals(c.Goals, s.cfg.NJoints)
	if err != nil {
		return multierr.Append(err, s.close())
	}
	dc := demo.Config{
		Mode:      demo.ModeHold,
		GoalSteps: c.GoalSteps,
		Steps:     c.Steps,
		PublishHz: c.Hz,
	}
	mode := "holding initial position"
	if len(goals) > 0 {
		dc.Mode = demo.ModeGoals
		dc.Goals = goals
		mode = fmt.Sprintf("%d goals", len(goals))
	}

	fmt.Printf("Initializing robot, logs in %s\n", c.LogFile)
	if err := s.driver.Initialize(); err != nil {
		return multierr.Append(err, s.close())
	}

	// the live view shows the controller messages
	ctrl, err := demo.NewController(s.driver, dc, nil)
	if err != nil {
		return multierr.Append(err, s.close())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	result := make(chan error, 1)
	go func() {
		err := ctrl.Start(ctx)
		result <- err
		done <- err
	}()

	prog := tea.NewProgram(runProgram{runModel: newRunModel(ctrl, s.cfg, mode), done: done}, tea.WithAltScreen())
	_, err = prog.Run()
	cancel()

	runErr := <-result
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	return multierr.Combine(err, runErr, s.close())
}

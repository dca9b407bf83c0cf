package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/gwillem/njoint/pkg/robot"
	"github.com/gwillem/njoint/pkg/servo"
)

// maxScanID bounds the servo ID scan of a bus.
const maxScanID = 20

type SetupCommand struct {
	Force bool `short:"f" long:"force" description:"Overwrite an existing configuration without asking"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("njoint setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━"))
	fmt.Println()

	if _, err := os.Stat(opts.Config); err == nil && !c.Force {
		overwrite := false
		if err := huh.NewConfirm().
			Title(fmt.Sprintf("%s exists. Overwrite?", opts.Config)).
			Value(&overwrite).
			Run(); err != nil || !overwrite {
			return nil
		}
	}

	var backendName string
	if err := huh.NewSelect[string]().
		Title("Which joints do you want to drive?").
		Options(
			huh.NewOption("Simulated joints", robot.BackendSim),
			huh.NewOption("Feetech servos on a serial bus", robot.BackendServo),
			huh.NewOption("BLMC motor boards on CAN", robot.BackendBLMC),
		).
		Value(&backendName).
		Run(); err != nil {
		return nil
	}

	var (
		cfg *robot.Config
		err error
	)
	switch backendName {
	case robot.BackendServo:
		cfg, err = setupServo()
	case robot.BackendBLMC:
		cfg, err = setupBLMC()
	default:
		cfg, err = setupSim()
	}
	if err != nil {
		return err
	}

	if err := cfg.SaveTo(opts.Config); err != nil {
		return errors.Wrap(err, "save config")
	}
	// loading fills the defaults and validates what was written
	if _, err := robot.LoadConfigFrom(opts.Config); err != nil {
		return errors.Wrapf(err, "written configuration %s is invalid", opts.Config)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Check it with " + headerStyle.Render("njoint config") +
		" and start with " + headerStyle.Render("njoint run"))
	return nil
}

func askJoints(title string, fallback int) (int, error) {
	value := strconv.Itoa(fallback)
	err := huh.NewInput().
		Title(title).
		Value(&value).
		Validate(func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return errors.New("enter a positive number")
			}
			return nil
		}).
		Run()
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

func askHomingMethod(cfg *robot.Config, methods ...robot.HomingMethod) error {
	options := make([]huh.Option[robot.HomingMethod], 0, len(methods))
	for _, m := range methods {
		options = append(options, huh.NewOption(m.String(), m))
	}
	return huh.NewSelect[robot.HomingMethod]().
		Title("Homing method").
		Options(options...).
		Value(&cfg.HomingMethod).
		Run()
}

func setupSim() (*robot.Config, error) {
	n, err := askJoints("Number of joints", 3)
	if err != nil {
		return nil, err
	}
	cfg := robot.DefaultConfig(n, robot.BackendSim)
	cfg.MoveToPositionToleranceRad = 0.01
	return cfg, nil
}

func setupBLMC() (*robot.Config, error) {
	n, err := askJoints("Number of joints (two per board)", 3)
	if err != nil {
		return nil, err
	}
	cfg := robot.DefaultConfig(n, robot.BackendBLMC)

	ports := make([]string, cfg.NumBoards())
	for i := range ports {
		ports[i] = fmt.Sprintf("can%d", i)
	}
	value := strings.Join(ports, " ")
	if err := huh.NewInput().
		Title(fmt.Sprintf("CAN interfaces of the %d board(s)", len(ports))).
		Value(&value).
		Validate(func(s string) error {
			if got := len(strings.Fields(s)); got != len(ports) {
				return errors.Errorf("expected %d interfaces, got %d", len(ports), got)
			}
			return nil
		}).
		Run(); err != nil {
		return nil, err
	}
	cfg.CANPorts = strings.Fields(value)

	if err := huh.NewConfirm().
		Title("Do the joints have end-stops?").
		Value(&cfg.HasEndstop).
		Run(); err != nil {
		return nil, err
	}
	methods := []robot.HomingMethod{robot.HomingNone, robot.HomingCurrentPosition, robot.HomingNextIndex}
	if cfg.HasEndstop {
		methods = append(methods, robot.HomingEndstop, robot.HomingEndstopIndex, robot.HomingEndstopRelease)
		cfg.Calibration.EndstopSearchTorquesNm = robot.Constant(n, -0.1)
	}
	if err := askHomingMethod(cfg, methods...); err != nil {
		return nil, err
	}
	if cfg.HomingMethod == robot.HomingNextIndex && cfg.Calibration.EndstopSearchTorquesNm.IsZero() {
		// the sign of the search torques gives the index search direction
		cfg.Calibration.EndstopSearchTorquesNm = robot.Constant(n, -0.1)
	}
	return cfg, nil
}

func setupServo() (*robot.Config, error) {
	fmt.Println("Scanning serial ports for Feetech servos...")
	fmt.Println()

	buses := findServoBuses()
	if len(buses) == 0 {
		return nil, errors.New("no servos found, make sure the bus is connected and powered on")
	}

	var found *busInfo
	for i := range buses {
		if len(buses) == 1 || identifyWithWiggle(buses[i]) {
			found = &buses[i]
			break
		}
	}
	for _, b := range buses {
		b.bus.Close()
	}
	if found == nil {
		return nil, errors.New("no bus selected")
	}

	ids := make([]int, len(found.servos))
	for i, s := range found.servos {
		ids[i] = s.ID
	}
	fmt.Printf("Using %d servo(s) on %s: %v\n\n", len(ids), found.port, ids)

	cal, err := calibrateServos(found.port, ids)
	if err != nil {
		return nil, err
	}

	cfg := robot.DefaultConfig(len(ids), robot.BackendServo)
	// torques become position offsets, the limit bounds the step per cycle
	cfg.MaxCurrentA = 1
	cfg.Motor = robot.MotorParameters{TorqueConstantNmpA: 0.1, GearRatio: 1}
	cfg.Servo = robot.ServoConfig{
		Port:               found.port,
		BaudRate:           servo.DefaultBaudRate,
		ComplianceRadPerNm: servo.DefaultCompliance,
		Calibration:        cal,
	}
	if err := askHomingMethod(cfg, robot.HomingNone, robot.HomingCurrentPosition); err != nil {
		return nil, err
	}
	return cfg, nil
}

type busInfo struct {
	port   string
	servos []feetech.FoundServo
	bus    *feetech.Bus
}

func findServoBuses() []busInfo {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	var buses []busInfo
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}

		bus, err := feetech.NewBus(feetech.BusConfig{
			Port:     port,
			BaudRate: servo.DefaultBaudRate,
			Protocol: feetech.ProtocolSTS,
			Timeout:  100 * time.Millisecond,
		})
		if err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		servos, err := bus.Scan(ctx, 1, maxScanID)
		cancel()
		if err != nil || len(servos) == 0 {
			bus.Close()
			continue
		}

		fmt.Printf("  Found %d servo(s) on %s\n", len(servos), port)
		buses = append(buses, busInfo{port: port, servos: servos, bus: bus})
	}
	return buses
}

// identifyWithWiggle moves the first servo of a bus a little and asks
// whether it belongs to the robot.
func identifyWithWiggle(b busInfo) bool {
	ctx := context.Background()
	s := feetech.NewServo(b.bus, b.servos[0].ID, b.servos[0].Model)

	originalPos, err := s.Position(ctx)
	if err != nil {
		fmt.Printf("  Error reading position: %v\n", err)
		return false
	}
	if err := s.Enable(ctx); err != nil {
		fmt.Printf("  Error enabling servo: %v\n", err)
		return false
	}

	fmt.Printf("\n  Wiggling servo %d on %s...\n", b.servos[0].ID, b.port)

	wiggleAmount := 30
	moveTimeMs := 500
	pause := time.Duration(moveTimeMs+100) * time.Millisecond
	for _, target := range []int{originalPos + wiggleAmount, originalPos - wiggleAmount, originalPos} {
		s.SetPositionWithTime(ctx, target, moveTimeMs)
		time.Sleep(pause)
	}
	s.Disable(ctx)

	use := false
	if err := huh.NewConfirm().
		Title(fmt.Sprintf("Use the robot on %s?", b.port)).
		Description("The one that just wiggled").
		Value(&use).
		Run(); err != nil {
		return false
	}
	return use
}

// calibrateServos records the range of motion of every servo while the
// user moves the joints by hand.
func calibrateServos(port string, ids []int) (robot.Calibration, error) {
	bus, err := servo.OpenBus(port, servo.DefaultBaudRate, ids)
	if err != nil {
		return nil, err
	}
	defer bus.Close()

	ctx := context.Background()
	if err := bus.DisableAll(ctx); err != nil {
		return nil, errors.Wrap(err, "disable servos")
	}
	start, err := bus.ReadPositions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read positions")
	}

	fmt.Println(subHeaderStyle.Render("Record range of motion"))
	fmt.Println("Move each joint to its minimum AND maximum positions.")
	fmt.Println()

	model := newCalibrationModel(bus, ids, start)
	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return nil, errors.Wrap(err, "calibration")
	}
	cm := final.(calibrationModel)

	cal := make(robot.Calibration, len(ids))
	for i, id := range ids {
		cal[i] = robot.MotorCalibration{
			ID:       id,
			RangeMin: cm.minPositions[id],
			RangeMax: cm.maxPositions[id],
		}
	}
	return cal, nil
}

// calibrationModel tracks min/max raw positions per servo ID.
type calibrationModel struct {
	bus          servo.Bus
	ids          []int
	curPositions map[int]int
	minPositions map[int]int
	maxPositions map[int]int
	quitting     bool
}

type tickMsg time.Time

func newCalibrationModel(bus servo.Bus, ids []int, start map[int]int) calibrationModel {
	m := calibrationModel{
		bus:          bus,
		ids:          ids,
		curPositions: make(map[int]int, len(ids)),
		minPositions: make(map[int]int, len(ids)),
		maxPositions: make(map[int]int, len(ids)),
	}
	for _, id := range ids {
		m.curPositions[id] = start[id]
		m.minPositions[id] = start[id]
		m.maxPositions[id] = start[id]
	}
	return m
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m calibrationModel) Init() tea.Cmd {
	return tick()
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		positions, err := m.bus.ReadPositions(context.Background())
		if err == nil {
			m.record(positions)
		}
		return m, tick()
	}

	return m, nil
}

func (m calibrationModel) record(positions map[int]int) {
	for id, pos := range positions {
		if _, ok := m.curPositions[id]; !ok {
			continue
		}
		m.curPositions[id] = pos
		m.minPositions[id] = min(m.minPositions[id], pos)
		m.maxPositions[id] = max(m.maxPositions[id], pos)
	}
}

func (m calibrationModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableIDStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableRangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableRangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	rows := make([][]string, 0, len(m.ids))
	ranges := make([]int, 0, len(m.ids))
	for _, id := range m.ids {
		rangeSize := m.maxPositions[id] - m.minPositions[id]
		ranges = append(ranges, rangeSize)
		rows = append(rows, []string{
			strconv.Itoa(id),
			strconv.Itoa(m.curPositions[id]),
			strconv.Itoa(m.minPositions[id]),
			strconv.Itoa(m.maxPositions[id]),
			strconv.Itoa(rangeSize),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Servo", "Current", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableIDStyle
			case 1:
				return tableCurrentStyle
			case 4:
				if row >= 0 && row < len(ranges) && ranges[row] > 500 {
					return tableRangeGoodStyle
				}
				return tableRangeLowStyle
			default:
				return tableCellStyle
			}
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("Press Enter when done"))

	return sb.String()
}

package blmc

import (
	"context"
	"sync"
	"time"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	goutils "go.viam.com/utils"
)

// Conn is a CAN socket bound to the interface of one board.
type Conn interface {
	Send(frame canbus.Frame) (int, error)
	Recv() (canbus.Frame, error)
	Close() error
}

// Dial opens a raw CAN socket on iface, e.g. "can0".
func Dial(iface string) (Conn, error) {
	sock, err := canbus.New()
	if err != nil {
		return nil, errors.Wrap(err, "create CAN socket")
	}
	if err := sock.Bind(iface); err != nil {
		return nil, multierr.Append(errors.Wrapf(err, "bind CAN socket to %s", iface), sock.Close())
	}
	return sock, nil
}

// Measurements is the latest state of both motors of a board.
type Measurements struct {
	Current  [2]float64 // A
	Position [2]float64 // motor revolutions
	Velocity [2]float64 // krpm
	ADC6     [2]float64
	// IndexCount counts the encoder index events per motor since start,
	// IndexPosition is the position of the latest one.
	IndexCount    [2]int
	IndexPosition [2]float64
}

// Board is one motor board. A background goroutine keeps the latest status
// and measurements.
type Board struct {
	conn   Conn
	name   string
	logger *zap.SugaredLogger

	cancel context.CancelFunc
	// done is closed when the receive goroutine returned.
	done chan struct{}

	mu        sync.Mutex
	status    Status
	hasStatus bool
	meas      Measurements
	paused    bool
}

// NewBoard starts receiving from conn. name identifies the board in logs.
func NewBoard(conn Conn, name string, logger *zap.SugaredLogger) *Board {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Board{
		conn:   conn,
		name:   name,
		logger: logger.With("board", name),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	goutils.ManagedGo(func() { b.receive(ctx) }, func() { close(b.done) })
	return b
}

func (b *Board) receive(ctx context.Context) {
	for ctx.Err() == nil {
		frame, err := b.conn.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Debugw("CAN receive failed", "error", err)
			goutils.SelectContextOrWait(ctx, time.Millisecond)
			continue
		}
		if err := b.handle(frame); err != nil {
			b.logger.Debugw("bad CAN frame", "id", frame.ID, "error", err)
		}
	}
}

func (b *Board) handle(frame canbus.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch frame.ID {
	case IDStatus:
		if len(frame.Data) < 1 {
			return errors.New("empty status frame")
		}
		b.status = ParseStatus(frame.Data[0])
		b.hasStatus = true
	case IDCurrent, IDPosition, IDVelocity, IDADC6:
		pair, err := decodePair(frame.Data)
		if err != nil {
			return err
		}
		switch frame.ID {
		case IDCurrent:
			b.meas.Current = pair
		case IDPosition:
			b.meas.Position = pair
		case IDVelocity:
			b.meas.Velocity = pair
		case IDADC6:
			b.meas.ADC6 = pair
		}
	case IDEncIndex:
		ev, err := decodeIndex(frame.Data)
		if err != nil {
			return err
		}
		b.meas.IndexCount[ev.Motor]++
		b.meas.IndexPosition[ev.Motor] = ev.Position
	}
	return nil
}

// Status returns the latest status and whether one was received at all.
func (b *Board) Status() (Status, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status, b.hasStatus
}

// Measurements returns the latest measurements.
func (b *Board) Measurements() Measurements {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meas
}

func (b *Board) send(frames ...canbus.Frame) error {
	for _, f := range frames {
		if _, err := b.conn.Send(f); err != nil {
			return errors.Wrapf(err, "send to board %s", b.name)
		}
	}
	return nil
}

// Enable turns on the measurement stream, the system and both motors.
func (b *Board) Enable() error {
	b.mu.Lock()
	b.paused = false
	b.mu.Unlock()
	return b.send(
		CommandFrame(CmdSendAll, 1),
		CommandFrame(CmdEnableSystem, 1),
		CommandFrame(CmdEnableMotor1, 1),
		CommandFrame(CmdEnableMotor2, 1),
	)
}

// WaitUntilReady blocks until both motors report ready.
func (b *Board) WaitUntilReady(ctx context.Context) error {
	for {
		if s, ok := b.Status(); ok && s.MotorReady[0] && s.MotorReady[1] {
			return nil
		}
		if !goutils.SelectContextOrWait(ctx, 10*time.Millisecond) {
			return errors.Wrapf(ctx.Err(), "board %s not ready", b.name)
		}
	}
}

// SetCurrents sends the current references (A) of both motors. Paused
// motors are enabled again first.
func (b *Board) SetCurrents(motor1, motor2 float64) error {
	b.mu.Lock()
	paused := b.paused
	b.paused = false
	b.mu.Unlock()

	var frames []canbus.Frame
	if paused {
		frames = append(frames, CommandFrame(CmdEnableMotor1, 1), CommandFrame(CmdEnableMotor2, 1))
	}
	return b.send(append(frames, CurrentFrame(motor1, motor2))...)
}

// Pause sends zero current and disables both motors.
func (b *Board) Pause() error {
	b.mu.Lock()
	b.paused = true
	b.mu.Unlock()
	return b.send(
		CurrentFrame(0, 0),
		CommandFrame(CmdEnableMotor1, 0),
		CommandFrame(CmdEnableMotor2, 0),
	)
}

// Close pauses the motors and closes the connection. The receive goroutine
// is not waited for; it stops once Recv returns.
func (b *Board) Close() error {
	err := b.Pause()
	b.cancel()
	return multierr.Append(err, b.conn.Close())
}

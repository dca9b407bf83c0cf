// Package servo drives the joints of a robot built from Feetech position
// servos on one serial bus. Torque commands are rendered as position
// targets through a configured compliance.
package servo

import (
	"context"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
)

// DefaultBaudRate of the STS servo bus.
const DefaultBaudRate = 1_000_000

// Bus is the group of servos the joints are driven through.
type Bus interface {
	EnableAll(ctx context.Context) error
	DisableAll(ctx context.Context) error
	// ReadPositions returns the raw position per servo ID.
	ReadPositions(ctx context.Context) (map[int]int, error)
	// WritePositions sets the raw goal position per servo ID.
	WritePositions(ctx context.Context, positions map[int]int) error
	Close() error
}

// feetechBus is a Bus on a real serial port.
type feetechBus struct {
	bus   *feetech.Bus
	group *feetech.ServoGroup
}

// OpenBus opens the serial port and groups the servos with the given IDs.
func OpenBus(port string, baudRate int, ids []int) (Bus, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: baudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open bus %s", port)
	}
	return &feetechBus{
		bus:   bus,
		group: feetech.NewServoGroupByIDs(bus, ids...),
	}, nil
}

func (b *feetechBus) EnableAll(ctx context.Context) error {
	return b.group.EnableAll(ctx)
}

func (b *feetechBus) DisableAll(ctx context.Context) error {
	return b.group.DisableAll(ctx)
}

func (b *feetechBus) ReadPositions(ctx context.Context) (map[int]int, error) {
	raw, err := b.group.Positions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read positions")
	}
	out := make(map[int]int, len(raw))
	for id, pos := range raw {
		out[int(id)] = int(pos)
	}
	return out, nil
}

func (b *feetechBus) WritePositions(ctx context.Context, positions map[int]int) error {
	raw := make(feetech.PositionMap, len(positions))
	for id, pos := range positions {
		raw[id] = pos
	}
	return errors.Wrap(b.group.SetPositions(ctx, raw), "write positions")
}

func (b *feetechBus) Close() error {
	return b.bus.Close()
}

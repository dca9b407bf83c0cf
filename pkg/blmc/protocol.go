// Package blmc talks to BLMC motor boards over SocketCAN. Every board drives
// two motors and streams their current, position, velocity and encoder
// index events; the host streams current references back.
package blmc

import (
	"encoding/binary"
	"math"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"

	"github.com/gwillem/njoint/pkg/robot"
)

// CAN frame IDs.
const (
	IDCommand    uint32 = 0x00
	IDCurrentRef uint32 = 0x05
	IDStatus     uint32 = 0x10
	IDCurrent    uint32 = 0x20
	IDPosition   uint32 = 0x30
	IDVelocity   uint32 = 0x40
	IDADC6       uint32 = 0x50
	IDEncIndex   uint32 = 0x60
)

// Command is the ID of a board command.
type Command int32

const (
	CmdEnableSystem          Command = 1
	CmdEnableMotor1          Command = 2
	CmdEnableMotor2          Command = 3
	CmdSendCurrent           Command = 12
	CmdSendPosition          Command = 13
	CmdSendVelocity          Command = 14
	CmdSendADC6              Command = 15
	CmdSendEncoderIndex      Command = 16
	CmdSendAll               Command = 20
	CmdSetCANRecvTimeout     Command = 30
	CmdEnablePosRolloverFail Command = 31
)

// q24 is the scale of the Q8.24 fixed point values on the bus.
const q24 = 1 << 24

// FromQ24 converts a Q8.24 value.
func FromQ24(v int32) float64 {
	return float64(v) / q24
}

// ToQ24 converts to Q8.24, saturating at the representable range.
func ToQ24(f float64) int32 {
	v := math.Round(f * q24)
	switch {
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

// CommandFrame encodes a command: value and command ID as big-endian int32.
func CommandFrame(cmd Command, value int32) canbus.Frame {
	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:4], uint32(value))
	binary.BigEndian.PutUint32(data[4:8], uint32(cmd))
	return canbus.Frame{ID: IDCommand, Data: data, Kind: canbus.SFF}
}

// CurrentFrame encodes the current references (A) of both motors.
func CurrentFrame(motor1, motor2 float64) canbus.Frame {
	return canbus.Frame{ID: IDCurrentRef, Data: pairData(motor1, motor2), Kind: canbus.SFF}
}

func pairData(a, b float64) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:4], uint32(ToQ24(a)))
	binary.BigEndian.PutUint32(data[4:8], uint32(ToQ24(b)))
	return data
}

// decodePair decodes the two Q8.24 values of a measurement frame.
func decodePair(data []byte) ([2]float64, error) {
	if len(data) < 8 {
		return [2]float64{}, errors.Errorf("measurement frame has %d bytes, want 8", len(data))
	}
	return [2]float64{
		FromQ24(int32(binary.BigEndian.Uint32(data[0:4]))),
		FromQ24(int32(binary.BigEndian.Uint32(data[4:8]))),
	}, nil
}

// IndexEvent is an encoder index detected by a board.
type IndexEvent struct {
	Motor    int
	Position float64 // motor revolutions
}

func decodeIndex(data []byte) (IndexEvent, error) {
	if len(data) < 5 {
		return IndexEvent{}, errors.Errorf("index frame has %d bytes, want 5", len(data))
	}
	motor := int(data[4])
	if motor > 1 {
		return IndexEvent{}, errors.Errorf("index frame for motor %d", motor)
	}
	return IndexEvent{
		Motor:    motor,
		Position: FromQ24(int32(binary.BigEndian.Uint32(data[0:4]))),
	}, nil
}

// IndexFrame encodes an encoder index event, as sent by a board.
func IndexFrame(ev IndexEvent) canbus.Frame {
	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:4], uint32(ToQ24(ev.Position)))
	data[4] = byte(ev.Motor)
	return canbus.Frame{ID: IDEncIndex, Data: data, Kind: canbus.SFF}
}

// MeasurementFrame encodes a measurement of both motors, as sent by a board.
func MeasurementFrame(id uint32, motor1, motor2 float64) canbus.Frame {
	return canbus.Frame{ID: id, Data: pairData(motor1, motor2), Kind: canbus.SFF}
}

// Status is the state byte a board reports.
type Status struct {
	SystemEnabled bool
	MotorEnabled  [2]bool
	MotorReady    [2]bool
	ErrorCode     robot.FaultCode
}

// ParseStatus decodes a status byte: bit 0 system enabled, bits 1 and 2
// motor 1 enabled and ready, bits 3 and 4 the same for motor 2, bits 5 to 7
// the error code.
func ParseStatus(b byte) Status {
	return Status{
		SystemEnabled: b&0x01 != 0,
		MotorEnabled:  [2]bool{b&0x02 != 0, b&0x08 != 0},
		MotorReady:    [2]bool{b&0x04 != 0, b&0x10 != 0},
		ErrorCode:     robot.FaultCode(b >> 5),
	}
}

// Byte encodes the status.
func (s Status) Byte() byte {
	var b byte
	set := func(v bool, bit byte) {
		if v {
			b |= bit
		}
	}
	set(s.SystemEnabled, 0x01)
	set(s.MotorEnabled[0], 0x02)
	set(s.MotorReady[0], 0x04)
	set(s.MotorEnabled[1], 0x08)
	set(s.MotorReady[1], 0x10)
	return b | byte(s.ErrorCode)<<5
}

// StatusFrame encodes a status, as sent by a board.
func StatusFrame(s Status) canbus.Frame {
	return canbus.Frame{ID: IDStatus, Data: []byte{s.Byte()}, Kind: canbus.SFF}
}

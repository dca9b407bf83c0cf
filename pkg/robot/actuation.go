package robot

// HomingStatus is the outcome of a hardware homing procedure.
type HomingStatus int

const (
	HomingNotInitialized HomingStatus = iota
	HomingSucceeded
	// HomingNotFound means no encoder index was seen within the search
	// distance.
	HomingNotFound
	HomingFault
)

func (s HomingStatus) String() string {
	switch s {
	case HomingNotInitialized:
		return "not initialized"
	case HomingSucceeded:
		return "succeeded"
	case HomingNotFound:
		return "index not found"
	case HomingFault:
		return "fault"
	default:
		return "unknown"
	}
}

// FaultCode is the error code reported by a motor board.
type FaultCode int

// Board error codes as sent in the status message.
const (
	FaultNone                FaultCode = 0
	FaultEncoder             FaultCode = 1
	FaultCANRecvTimeout      FaultCode = 2
	FaultCriticalTemperature FaultCode = 3
	FaultPositionConversion  FaultCode = 4
	FaultPositionRollover    FaultCode = 5
	FaultOther               FaultCode = 7
)

// String returns the operator-facing description of the fault. FaultNone
// maps to the empty string.
func (c FaultCode) String() string {
	switch c {
	case FaultNone:
		return ""
	case FaultEncoder:
		return "Encoder Error"
	case FaultCANRecvTimeout:
		return "CAN Receive Timeout"
	case FaultCriticalTemperature:
		return "Critical Temperature"
	case FaultPositionConversion:
		return "Error in SpinTAC Position Convert module"
	case FaultPositionRollover:
		return "Position Rollover"
	case FaultOther:
		return "Other Error"
	default:
		return "Unknown Error"
	}
}

// JointActuation is the hardware side of the driver: measured joint state,
// torque commands, hardware homing and per-board status.
//
// Implementations are not required to be safe for concurrent use. The
// driver never issues two calls at the same time.
type JointActuation interface {
	MeasuredPosition() Vector
	MeasuredVelocity() Vector
	MeasuredTorque() Vector

	// SetAndSendTorques commands joint torques (N·m).
	SetAndSendTorques(torques Vector)

	// ExecuteHomingIndexSearch moves every joint by stepSizes per cycle until
	// an encoder index is found, then sets the zero position so that the
	// index reads as -offset.
	ExecuteHomingIndexSearch(distanceLimit float64, offset, stepSizes Vector) HomingStatus

	// ExecuteHomingAtCurrentPosition sets the zero position so that the
	// current position reads as -offset.
	ExecuteHomingAtCurrentPosition(offset Vector) HomingStatus

	// Pause stops actuation (zero torque).
	Pause()

	NumBoards() int
	BoardError(board int) FaultCode
}

// GainSetter is implemented by actuations that run their own position
// controller, e.g. during the index search.
type GainSetter interface {
	SetPositionControlGains(kp, kd Vector)
}

package command

import "time"

// Link is the transmit side of the vehicle connection.
type Link interface {
	IsConnected() bool
	SendCommand(command uint16, params [7]float64) error
}

// Recorder persists dispatched command results. A nil recorder disables
// persistence; the in-memory history is kept either way.
type Recorder interface {
	RecordCommand(res Result) error
}

// Outcome classifies what happened to a dispatched command.
type Outcome uint8

const (
	// OutcomeSuccess means the frame left the transport. The vehicle's
	// acceptance is not tracked on this dialect.
	OutcomeSuccess Outcome = iota
	OutcomeFailed
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeRejected:
		return "rejected"
	default:
		return "invalid"
	}
}

// Result records one dispatched command.
type Result struct {
	Sequence  uint64
	CommandID uint16
	Name      string
	Outcome   Outcome
	Message   string
	Params    [7]float64
	Duration  time.Duration
	Timestamp time.Time
}

// Statistics are cumulative dispatch counters.
type Statistics struct {
	Sent      uint64
	Succeeded uint64
	Failed    uint64
	Rejected  uint64
}

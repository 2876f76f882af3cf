package registrar

import "time"

// State is the lifecycle position of a Record.
type State string

const (
	StatePending      State = "pending"
	StateSending      State = "sending"
	StateAcknowledged State = "acknowledged"
	StateRejected     State = "rejected"
)

// Record is the single persisted registration slot. A new token replaces the
// record wholesale; only InstanceID carries over.
type Record struct {
	Token          string     `json:"token"`
	State          State      `json:"state"`
	InstanceID     string     `json:"instance_id"`
	Attempts       int        `json:"attempts"`
	ObservedAt     time.Time  `json:"observed_at"`
	LastSentAt     *time.Time `json:"last_sent_at,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

// Acknowledged reports whether the server accepted the token.
func (r Record) Acknowledged() bool {
	return r.State == StateAcknowledged
}

// Resumable reports whether the record still needs to be sent.
func (r Record) Resumable() bool {
	return r.Token != "" && (r.State == StatePending || r.State == StateSending)
}

// Ack is the successful outcome of a submission.
type Ack struct {
	Token          string    `json:"token" yaml:"token"`
	InstanceID     string    `json:"instance_id" yaml:"instance_id"`
	Attempts       int       `json:"attempts" yaml:"attempts"`
	AcknowledgedAt time.Time `json:"acknowledged_at" yaml:"acknowledged_at"`
}

func ackFromRecord(rec Record) Ack {
	ack := Ack{
		Token:      rec.Token,
		InstanceID: rec.InstanceID,
		Attempts:   rec.Attempts,
	}
	if rec.AcknowledgedAt != nil {
		ack.AcknowledgedAt = *rec.AcknowledgedAt
	}
	return ack
}

// Result carries the outcome of an asynchronous submission.
type Result struct {
	Ack Ack
	Err error
}

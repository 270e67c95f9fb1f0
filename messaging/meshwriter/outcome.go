package meshwriter

import (
	"fmt"
	"time"
)

type Status int

const (
	// Success means a read-back matched before the ack timeout.
	Success Status = iota + 1
	// AckTimeoutButReadable means the ack wait expired but the final
	// read-back matched: slow propagation, not a failure.
	AckTimeoutButReadable
	Failure
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case AckTimeoutButReadable:
		return "ack_timeout_but_readable"
	case Failure:
		return "failure"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Outcome is the terminal result of one logical write. Each write produces
// exactly one.
type Outcome struct {
	Key     string
	Status  Status
	Latency time.Duration
	// Reason is set for Failure only.
	Reason string
}

// Persisted reports whether the value is known to be readable from the mesh.
func (o Outcome) Persisted() bool {
	return o.Status == Success || o.Status == AckTimeoutButReadable
}

const ReasonTimeout = "timeout"

type Write struct {
	Key   string
	Value []byte
}

// Stats counts writes. Issued minus Settled is the number still racing; once
// every write has returned it must be zero.
type Stats struct {
	Issued    int64
	Settled   int64
	Succeeded int64
	Late      int64
	Failed    int64
}

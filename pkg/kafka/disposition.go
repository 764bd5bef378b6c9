package kafka

// DispositionKind says what the consumer does with a message once its handler returns
type DispositionKind int

const (
	// DispositionAck commits the message offset.
	DispositionAck DispositionKind = iota
	// DispositionNack leaves the message uncommitted so it is redelivered after a
	// restart or rebalance. kafka-go commits offsets, not messages, so a later commit
	// on the same partition supersedes it.
	DispositionNack
	// DispositionDeadLetter publishes the message to the dead-letter topic, then commits.
	DispositionDeadLetter
)

// String returns the label used in logs and metrics
func (k DispositionKind) String() string {
	switch k {
	case DispositionAck:
		return "ack"
	case DispositionNack:
		return "nack"
	case DispositionDeadLetter:
		return "dead-letter"
	default:
		return "unknown"
	}
}

// Disposition is the explicit per-message outcome a MessageHandler returns
type Disposition struct {
	Kind DispositionKind
	// Reason is a short machine-readable label, e.g. "decode" or "sync_failed".
	Reason string
	Err    error
}

// Ack returns a disposition that commits the message
func Ack() Disposition {
	return Disposition{Kind: DispositionAck}
}

// Nack returns a disposition that leaves the message uncommitted
func Nack(err error) Disposition {
	return Disposition{Kind: DispositionNack, Err: err}
}

// DeadLetter returns a disposition that routes the message to the dead-letter topic
func DeadLetter(reason string, err error) Disposition {
	return Disposition{Kind: DispositionDeadLetter, Reason: reason, Err: err}
}

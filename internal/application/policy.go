package application

import (
	"fmt"
	"strings"

	"github.com/wms-platform/channel-sync-service/internal/domain"
	"github.com/wms-platform/channel-sync-service/pkg/kafka"
)

// Outcome policy names accepted by ParseOutcomePolicy
const (
	PolicyAbsorb     = "absorb"
	PolicyDeadLetter = "dead-letter"
)

// DeadLetterReasonSyncFailed labels messages dead-lettered after a failed sync.
const DeadLetterReasonSyncFailed = "sync_failed"

// OutcomePolicy decides what the consumer does with a message once its sync has run
type OutcomePolicy interface {
	Disposition(outcome domain.SyncOutcome) kafka.Disposition
}

// AbsorbPolicy acknowledges every message whatever the outcome. A failed sync is
// visible only in logs and metrics.
type AbsorbPolicy struct{}

// Disposition always acks
func (AbsorbPolicy) Disposition(domain.SyncOutcome) kafka.Disposition {
	return kafka.Ack()
}

// DeadLetterFailuresPolicy acks successful syncs and dead-letters failed ones
type DeadLetterFailuresPolicy struct{}

// Disposition dead-letters Failed outcomes
func (DeadLetterFailuresPolicy) Disposition(outcome domain.SyncOutcome) kafka.Disposition {
	if outcome.Succeeded() {
		return kafka.Ack()
	}
	return kafka.DeadLetter(DeadLetterReasonSyncFailed, outcome.Err())
}

// ParseOutcomePolicy returns the policy named by name. An empty name selects AbsorbPolicy.
func ParseOutcomePolicy(name string) (OutcomePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyAbsorb:
		return AbsorbPolicy{}, nil
	case PolicyDeadLetter:
		return DeadLetterFailuresPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown sync failure policy %q (want %q or %q)", name, PolicyAbsorb, PolicyDeadLetter)
	}
}

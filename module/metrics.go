package module

import (
	"time"
)

// SchedulerMetrics tracks the cooperative scheduler.
type SchedulerMetrics interface {
	// RoundDuration records how long one scheduler round took.
	RoundDuration(duration time.Duration)

	// TaskFailed counts tasks that ended with an error or a panic.
	TaskFailed(task string)
}

// WitnessMetrics tracks witness key state queries and receipts.
type WitnessMetrics interface {
	// WitnessQueried counts witness queries by outcome (responded, timeout).
	WitnessQueried(outcome string)

	// ReceiptsCollected records how many receipts an event collected before
	// the collector stopped waiting.
	ReceiptsCollected(received int, witnesses int)
}

// KeyStateMetrics tracks key state reconciliation.
type KeyStateMetrics interface {
	// SweepCompleted records a full sweep over the local identifiers.
	SweepCompleted(identifiers int, duration time.Duration)

	// DriftClassified counts classifications by result.
	DriftClassified(drift string)

	// KELUpdated counts local key event logs caught up to a witness.
	KELUpdated()
}

// GroupMetrics tracks multisig group operations.
type GroupMetrics interface {
	// GroupOperationTransition counts group operations entering a state.
	GroupOperationTransition(state string)
}

// DeckMetrics reports the lengths of the inter-task decks.
type DeckMetrics interface {
	DeckLength(deck string, length int)
}

// KeySyncMetrics bundles every metric of the agent.
type KeySyncMetrics interface {
	SchedulerMetrics
	WitnessMetrics
	KeyStateMetrics
	GroupMetrics
	DeckMetrics
}

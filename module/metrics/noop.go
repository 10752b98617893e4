package metrics

import (
	"time"

	"github.com/citadel-wallet/keysync/module"
)

type NoopCollector struct{}

var _ module.KeySyncMetrics = (*NoopCollector)(nil)

func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (nc *NoopCollector) RoundDuration(duration time.Duration)            {}
func (nc *NoopCollector) TaskFailed(task string)                          {}
func (nc *NoopCollector) WitnessQueried(outcome string)                   {}
func (nc *NoopCollector) ReceiptsCollected(received int, witnesses int)   {}
func (nc *NoopCollector) SweepCompleted(identifiers int, d time.Duration) {}
func (nc *NoopCollector) DriftClassified(drift string)                    {}
func (nc *NoopCollector) KELUpdated()                                     {}
func (nc *NoopCollector) GroupOperationTransition(state string)           {}
func (nc *NoopCollector) DeckLength(deck string, length int)              {}

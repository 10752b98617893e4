package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/citadel-wallet/keysync/module"
)

// KeySyncCollector reports agent metrics to prometheus.
type KeySyncCollector struct {
	roundDuration    prometheus.Histogram
	taskFailures     *prometheus.CounterVec
	witnessQueries   *prometheus.CounterVec
	receiptRatio     prometheus.Histogram
	sweeps           prometheus.Counter
	sweepDuration    prometheus.Histogram
	sweptIdentifiers prometheus.Gauge
	drift            *prometheus.CounterVec
	kelUpdates       prometheus.Counter
	groupTransitions *prometheus.CounterVec
	deckLength       *prometheus.GaugeVec
}

var _ module.KeySyncMetrics = (*KeySyncCollector)(nil)

// NewKeySyncCollector registers the collectors with the given registerer.
func NewKeySyncCollector(registerer prometheus.Registerer) *KeySyncCollector {
	factory := promauto.With(registerer)
	return &KeySyncCollector{
		roundDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceKeySync,
			Subsystem: subsystemScheduler,
			Name:      "round_duration_seconds",
			Help:      "time spent in one scheduler round",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5},
		}),
		taskFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceKeySync,
			Subsystem: subsystemScheduler,
			Name:      "task_failures_total",
			Help:      "number of tasks that ended with an error or panic",
		}, []string{LabelTask}),
		witnessQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceKeySync,
			Subsystem: subsystemWitness,
			Name:      "queries_total",
			Help:      "number of witness key state queries by outcome",
		}, []string{LabelOutcome}),
		receiptRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceKeySync,
			Subsystem: subsystemWitness,
			Name:      "receipt_ratio",
			Help:      "share of witnesses that receipted an event",
			Buckets:   prometheus.LinearBuckets(0, 0.25, 5),
		}),
		sweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceKeySync,
			Subsystem: subsystemKeyState,
			Name:      "sweeps_total",
			Help:      "number of completed witness sweeps",
		}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceKeySync,
			Subsystem: subsystemKeyState,
			Name:      "sweep_duration_seconds",
			Help:      "time taken by one witness sweep",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		sweptIdentifiers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceKeySync,
			Subsystem: subsystemKeyState,
			Name:      "swept_identifiers",
			Help:      "number of identifiers checked in the last sweep",
		}),
		drift: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceKeySync,
			Subsystem: subsystemKeyState,
			Name:      "drift_total",
			Help:      "classifications of local key state against witnesses",
		}, []string{LabelDrift}),
		kelUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceKeySync,
			Subsystem: subsystemKeyState,
			Name:      "kel_updates_total",
			Help:      "number of local key event logs caught up to a witness",
		}),
		groupTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceKeySync,
			Subsystem: subsystemGroup,
			Name:      "operation_transitions_total",
			Help:      "group operations entering a state",
		}, []string{LabelState}),
		deckLength: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespaceKeySync,
			Subsystem: subsystemDeck,
			Name:      "length",
			Help:      "number of pending items per deck",
		}, []string{LabelDeck}),
	}
}

func (c *KeySyncCollector) RoundDuration(duration time.Duration) {
	c.roundDuration.Observe(duration.Seconds())
}

func (c *KeySyncCollector) TaskFailed(task string) {
	c.taskFailures.WithLabelValues(task).Inc()
}

func (c *KeySyncCollector) WitnessQueried(outcome string) {
	c.witnessQueries.WithLabelValues(outcome).Inc()
}

func (c *KeySyncCollector) ReceiptsCollected(received int, witnesses int) {
	if witnesses == 0 {
		return
	}
	c.receiptRatio.Observe(float64(received) / float64(witnesses))
}

func (c *KeySyncCollector) SweepCompleted(identifiers int, duration time.Duration) {
	c.sweeps.Inc()
	c.sweptIdentifiers.Set(float64(identifiers))
	c.sweepDuration.Observe(duration.Seconds())
}

func (c *KeySyncCollector) DriftClassified(drift string) {
	c.drift.WithLabelValues(drift).Inc()
}

func (c *KeySyncCollector) KELUpdated() {
	c.kelUpdates.Inc()
}

func (c *KeySyncCollector) GroupOperationTransition(state string) {
	c.groupTransitions.WithLabelValues(state).Inc()
}

func (c *KeySyncCollector) DeckLength(deck string, length int) {
	c.deckLength.WithLabelValues(deck).Set(float64(length))
}

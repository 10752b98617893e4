package receipts

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/citadel-wallet/keysync/engine/common/fifoqueue"
	"github.com/citadel-wallet/keysync/engine/kelstate"
	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/model/messages"
	"github.com/citadel-wallet/keysync/module"
	"github.com/citadel-wallet/keysync/module/scheduler"
	"github.com/citadel-wallet/keysync/storage"
)

// Store is the part of the identity store the collector reads.
type Store interface {
	storage.KeyStates
	storage.Events
	storage.Receipts
}

// Config configures a receipt collector.
type Config struct {
	// Tock is the interval between two polls of the received receipts.
	Tock time.Duration
	// Timeout is how long the collector waits for receipts per attempt.
	Timeout time.Duration
	// Attempts bounds the solicitations of a forced collector; a regular
	// collector solicits once.
	Attempts uint64
	// RetryInterval is the initial backoff between two forced solicitations.
	RetryInterval time.Duration
	// MaxRetryInterval caps the backoff.
	MaxRetryInterval time.Duration
}

// DefaultConfig returns the configuration of the regular collector.
func DefaultConfig() Config {
	return Config{
		Tock:     0,
		Timeout:  10 * time.Second,
		Attempts: 1,
	}
}

// ForcedConfig returns the configuration of the collector re-soliciting
// receipts on the operator's request.
func ForcedConfig() Config {
	return Config{
		Tock:             5 * time.Second,
		Timeout:          10 * time.Second,
		Attempts:         5,
		RetryInterval:    5 * time.Second,
		MaxRetryInterval: time.Minute,
	}
}

// Validate rejects configurations the collector cannot run with. A collector
// soliciting more than once needs a positive backoff.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("receipt timeout must be positive, got %s", c.Timeout)
	}
	if c.Attempts == 0 {
		return fmt.Errorf("receipt attempts must be at least 1")
	}
	if c.Attempts > 1 && c.RetryInterval <= 0 {
		return fmt.Errorf("retry interval must be positive when soliciting %d times, got %s", c.Attempts, c.RetryInterval)
	}
	if c.Attempts > 1 && c.MaxRetryInterval < c.RetryInterval {
		return fmt.Errorf("max retry interval %s is below the retry interval %s", c.MaxRetryInterval, c.RetryInterval)
	}
	return nil
}

// Collector solicits witness receipts for the jobs pushed onto its deck and
// waits for them. A witness update deck, if given, is drained into catch-up
// jobs.
type Collector struct {
	log       zerolog.Logger
	config    Config
	store     Store
	transport module.Transport
	ui        module.UINotifier
	metrics   module.WitnessMetrics
	tracker   *Tracker
	jobs      *fifoqueue.Deck[*Job]
	updates   *fifoqueue.Deck[*kel.WitnessUpdateRequest]
	catchUps  *kelstate.CatchUps

	active []*Job
}

var _ scheduler.Task = (*Collector)(nil)

func NewCollector(
	log zerolog.Logger,
	name string,
	config Config,
	store Store,
	transport module.Transport,
	ui module.UINotifier,
	metrics module.WitnessMetrics,
	tracker *Tracker,
	jobs *fifoqueue.Deck[*Job],
	updates *fifoqueue.Deck[*kel.WitnessUpdateRequest],
	catchUps *kelstate.CatchUps,
) *Collector {
	return &Collector{
		log:       log.With().Str("engine", name).Logger(),
		config:    config,
		store:     store,
		transport: transport,
		ui:        ui,
		metrics:   metrics,
		tracker:   tracker,
		jobs:      jobs,
		updates:   updates,
		catchUps:  catchUps,
	}
}

func (c *Collector) Enter(context.Context) error { return nil }

func (c *Collector) Exit() {
	if len(c.active) > 0 {
		c.log.Info().Int("jobs", len(c.active)).Msg("abandoning receipt collection")
	}
}

func (c *Collector) Tock() time.Duration { return c.config.Tock }

// Active returns the number of jobs in progress.
func (c *Collector) Active() int {
	return len(c.active)
}

func (c *Collector) Recur(_ context.Context, now time.Time) (bool, error) {
	for {
		job, ok := c.jobs.Pull()
		if !ok {
			break
		}
		c.active = append(c.active, job)
	}
	if c.updates != nil {
		for {
			request, ok := c.updates.Pull()
			if !ok {
				break
			}
			c.active = append(c.active, CatchUp(request))
		}
	}

	remaining := c.active[:0]
	for _, job := range c.active {
		done, err := c.advance(job, now)
		if err != nil {
			c.log.Error().Err(err).Str("job", job.String()).Msg("receipt collection failed")
			c.ended(job)
			continue
		}
		if !done {
			remaining = append(remaining, job)
			continue
		}
		c.ended(job)
	}
	c.active = remaining
	return false, nil
}

func (c *Collector) advance(job *Job, now time.Time) (bool, error) {
	switch job.stage {
	case stageNew:
		err := c.prepare(job)
		if err != nil {
			return false, err
		}
		err = c.replay(job)
		if err != nil {
			c.log.Warn().Err(err).Str("job", job.String()).Msg("could not replay events to every witness")
		}
		job.stage = stageReplayed
		return false, nil

	case stageReplayed:
		err := c.solicit(job, job.Witnesses)
		if err != nil {
			c.log.Warn().Err(err).Str("job", job.String()).Msg("could not solicit every witness")
		}
		job.deadline = now.Add(c.config.Timeout)
		job.attempts = 1
		if c.config.Attempts > 1 {
			backoff := retry.NewExponential(c.config.RetryInterval)
			backoff = retry.WithCappedDuration(c.config.MaxRetryInterval, backoff)
			job.backoff = retry.WithMaxRetries(c.config.Attempts-1, backoff)
		}
		job.stage = stageAwaiting
		return false, nil

	case stageAwaiting:
		missing, err := c.missing(job)
		if err != nil {
			return false, err
		}
		if len(missing) == 0 {
			c.finish(job, missing)
			return true, nil
		}
		if now.Before(job.deadline) {
			return false, nil
		}
		if job.backoff != nil {
			next, stop := job.backoff.Next()
			if !stop {
				job.attempts++
				job.deadline = now.Add(next)
				c.log.Debug().Str("job", job.String()).Int("attempt", job.attempts).Int("missing", len(missing)).Msg("re-soliciting receipts")
				err = c.solicit(job, missing)
				if err != nil {
					c.log.Warn().Err(err).Str("job", job.String()).Msg("could not solicit every witness")
				}
				return false, nil
			}
		}
		c.finish(job, missing)
		return true, nil
	}
	return false, fmt.Errorf("unknown stage %d", job.stage)
}

// prepare resolves the event, the witnesses and the receipt threshold of the job.
func (c *Collector) prepare(job *Job) error {
	state, err := c.store.KeyState(job.Prefix)
	if err != nil {
		return fmt.Errorf("could not read key state of %s: %w", job.Prefix, err)
	}
	if job.Digest == "" {
		job.Sn = state.Sn
	}
	event, err := c.store.Event(job.Prefix, job.Sn)
	if err != nil {
		return fmt.Errorf("could not read event %d of %s: %w", job.Sn, job.Prefix, err)
	}
	if job.Digest != "" && event.Digest != job.Digest {
		return fmt.Errorf("event %d of %s is %s: %w", job.Sn, job.Prefix, event.Digest, storage.ErrDataMismatch)
	}
	job.Digest = event.Digest
	job.src = source(state)

	witnesses, toad := state.Witnesses, state.Toad
	if event.Kind.IsEstablishment() {
		witnesses, toad = event.Witnesses, event.Toad
	}
	if len(job.Witnesses) == 0 {
		job.Witnesses = witnesses
	}
	job.toad = toad
	job.total = len(witnesses)
	if job.Announce {
		if job.Replay == nil {
			job.Replay = make(map[kel.Prefix]uint64, len(job.Witnesses))
		}
		for _, witness := range job.Witnesses {
			if _, ok := job.Replay[witness]; !ok {
				job.Replay[witness] = job.Sn
			}
		}
	}
	return nil
}

func (c *Collector) replay(job *Job) error {
	var result *multierror.Error
	for witness, from := range job.Replay {
		if from > job.Sn {
			continue
		}
		events, err := c.store.EventsFrom(job.Prefix, from)
		if err != nil {
			return fmt.Errorf("could not read events of %s: %w", job.Prefix, err)
		}
		for len(events) > 0 && events[len(events)-1].Sn > job.Sn {
			events = events[:len(events)-1]
		}
		_, err = c.transport.Send(job.src, witness, messages.TopicReplay, &messages.EventReplay{Prefix: job.Prefix, Events: events})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("could not replay to %s: %w", witness, err))
			continue
		}
		c.log.Debug().
			Str("aid", job.Prefix.String()).
			Str("witness", witness.String()).
			Uint64("from", from).
			Uint64("to", job.Sn).
			Msg("replayed events to witness")
	}
	return result.ErrorOrNil()
}

func (c *Collector) solicit(job *Job, witnesses kel.PrefixList) error {
	var result *multierror.Error
	request := &messages.ReceiptRequest{Prefix: job.Prefix, Sn: job.Sn, Digest: job.Digest}
	for _, witness := range witnesses {
		_, err := c.transport.Send(job.src, witness, messages.TopicReceipt, request)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("could not solicit %s: %w", witness, err))
		}
	}
	return result.ErrorOrNil()
}

func (c *Collector) missing(job *Job) (kel.PrefixList, error) {
	received, err := c.store.Receipts(job.Prefix, job.Sn)
	if err != nil {
		return nil, err
	}
	var missing kel.PrefixList
	for _, witness := range job.Witnesses {
		if !received.Contains(witness) {
			missing = append(missing, witness)
		}
	}
	return missing, nil
}

func (c *Collector) finish(job *Job, missing kel.PrefixList) {
	received, err := c.store.Receipts(job.Prefix, job.Sn)
	if err != nil {
		c.log.Error().Err(err).Str("job", job.String()).Msg("could not read receipts")
		return
	}
	c.metrics.ReceiptsCollected(len(received), job.total)

	log := c.log.With().
		Str("aid", job.Prefix.String()).
		Uint64("sn", job.Sn).
		Int("receipts", len(received)).
		Int("toad", job.toad).
		Logger()
	if len(missing) > 0 {
		log.Warn().Int("missing", len(missing)).Msg("witnesses did not receipt")
	}
	if job.catchUp {
		return
	}
	c.tracker.Remember(job.Prefix, missing)
	if len(received) < job.toad {
		c.ui.Notify(fmt.Sprintf("Only %d of %d required witness receipts for %s", len(received), job.toad, job.Prefix.Short()))
		return
	}
	log.Info().Msg("event witnessed")
	c.ui.Notify(fmt.Sprintf("Event %d of %s is witnessed", job.Sn, job.Prefix.Short()))
	c.ui.Publish(module.AgentEvent{
		Kind:   module.EventReceiptsComplete,
		Prefix: job.Prefix,
		Detail: fmt.Sprintf("sn=%d receipts=%d", job.Sn, len(received)),
	})
}

func (c *Collector) ended(job *Job) {
	if job.catchUp && c.catchUps != nil {
		c.catchUps.Done(job.Prefix)
	}
}

func source(state *kel.KeyState) kel.Prefix {
	if state.IsGroup() && !state.Group.Local.IsEmpty() {
		return state.Group.Local
	}
	return state.Prefix
}

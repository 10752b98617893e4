package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/citadel-wallet/keysync/engine/common/fifoqueue"
	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/model/messages"
	"github.com/citadel-wallet/keysync/module"
	"github.com/citadel-wallet/keysync/module/scheduler"
	"github.com/citadel-wallet/keysync/storage"
)

// Store is the part of the identity store the mailbox writes to.
type Store interface {
	storage.KeyStates
	storage.Events
	storage.WitnessStates
	storage.Receipts
	storage.GroupOperations
}

// Config is the configuration of the mailbox.
type Config struct {
	// Batch is the maximum number of messages handled per round.
	Batch int
	// SeenCacheSize is the number of message ids remembered for de-duplication.
	SeenCacheSize int
}

func DefaultConfig() Config {
	return Config{
		Batch:         64,
		SeenCacheSize: 4096,
	}
}

// Mailbox drains the transport's inbound messages into the identity store.
// Key state notices fill the witness key state cache, replays extend key event
// logs, receipts are recorded, and multisig notices record the signatures they
// carry and, when the local member has not signed yet, become notices for the
// operator.
type Mailbox struct {
	log       zerolog.Logger
	config    Config
	transport module.Transport
	store     Store
	clock     clock.Clock
	ui        module.UINotifier
	notices   *fifoqueue.Deck[*messages.Notice]
	seen      *lru.Cache[string, struct{}]
}

var _ scheduler.Task = (*Mailbox)(nil)

func New(
	log zerolog.Logger,
	config Config,
	transport module.Transport,
	store Store,
	clk clock.Clock,
	ui module.UINotifier,
	notices *fifoqueue.Deck[*messages.Notice],
) (*Mailbox, error) {
	seen, err := lru.New[string, struct{}](config.SeenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create seen cache: %w", err)
	}
	return &Mailbox{
		log:       log.With().Str("engine", "mailbox").Logger(),
		config:    config,
		transport: transport,
		store:     store,
		clock:     clk,
		ui:        ui,
		notices:   notices,
		seen:      seen,
	}, nil
}

func (m *Mailbox) Enter(context.Context) error { return nil }

func (m *Mailbox) Exit() {}

func (m *Mailbox) Tock() time.Duration { return 0 }

// Recur handles up to one batch of inbound messages.
func (m *Mailbox) Recur(ctx context.Context, now time.Time) (bool, error) {
	for i := 0; i < m.config.Batch; i++ {
		select {
		case env := <-m.transport.Inbound():
			m.Handle(env, now)
		default:
			return false, nil
		}
	}
	return false, nil
}

// Handle processes a single inbound message. Failures are logged, a bad
// message never stops the mailbox.
func (m *Mailbox) Handle(env *messages.Envelope, now time.Time) {
	if env.ID != "" {
		if seen, _ := m.seen.ContainsOrAdd(env.ID, struct{}{}); seen {
			m.log.Debug().Str("id", env.ID).Msg("dropping duplicate message")
			return
		}
	}

	log := m.log.With().Str("src", env.Src.String()).Str("topic", env.Topic).Logger()
	var err error
	switch msg := env.Payload.(type) {
	case *messages.KeyStateNotice:
		err = m.onKeyStateNotice(env.Src, msg, now)
	case *messages.EventReplay:
		err = m.onEventReplay(msg)
	case *messages.Receipt:
		err = m.onReceipt(env.Src, msg)
	case *messages.MultisigNotice:
		err = m.onMultisigNotice(env.Src, msg, now)
	default:
		log.Warn().Msgf("dropping message of unexpected type %T", env.Payload)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("could not handle message")
	}
}

func (m *Mailbox) onKeyStateNotice(witness kel.Prefix, notice *messages.KeyStateNotice, now time.Time) error {
	return m.store.PinWitnessState(&kel.WitnessKeyState{
		Witness:  witness,
		Prefix:   notice.Prefix,
		Sn:       notice.Sn,
		Digest:   notice.Digest,
		Received: now,
	})
}

func (m *Mailbox) onEventReplay(replay *messages.EventReplay) error {
	accepted := 0
	for _, event := range replay.Events {
		if event.Prefix != replay.Prefix {
			return fmt.Errorf("replay for %s contains event of %s", replay.Prefix, event.Prefix)
		}
		err := m.store.Append(event)
		if errors.Is(err, storage.ErrAlreadyExists) {
			continue
		}
		if errors.Is(err, storage.ErrDataMismatch) {
			m.log.Error().
				Str("aid", event.Prefix.String()).
				Uint64("sn", event.Sn).
				Str("said", event.Digest).
				Msg("replayed event conflicts with local key event log, not applying")
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not append replayed event %s: %w", event, err)
		}
		accepted++
	}
	if accepted > 0 {
		m.log.Info().Str("aid", replay.Prefix.String()).Int("events", accepted).Msg("accepted replayed events")
	}
	return nil
}

func (m *Mailbox) onReceipt(src kel.Prefix, receipt *messages.Receipt) error {
	if receipt.Witness != src {
		return fmt.Errorf("receipt for witness %s sent by %s", receipt.Witness, src)
	}
	return m.store.AddReceipt(receipt.Prefix, receipt.Sn, receipt.Digest, receipt.Witness)
}

func (m *Mailbox) onMultisigNotice(src kel.Prefix, notice *messages.MultisigNotice, now time.Time) error {
	if notice.Event == nil {
		return fmt.Errorf("multisig notice without event")
	}
	err := kel.VerifyDigest(notice.Event)
	if err != nil {
		return fmt.Errorf("invalid multisig event: %w", err)
	}
	op := notice.Event.ID()
	members := notice.Event.Smids.Union(notice.Event.Rmids)
	if !members.Contains(src) {
		return fmt.Errorf("multisig notice for %s from non-member %s", op, src)
	}

	for _, signer := range notice.Signers.Union(kel.PrefixList{src}) {
		if !members.Contains(signer) {
			continue
		}
		err := m.store.AddSignature(op, signer)
		if err != nil {
			return fmt.Errorf("could not record signature of %s: %w", signer, err)
		}
	}

	joined, err := m.joined(op)
	if err != nil {
		return err
	}
	if joined || m.notices.Contains(func(n *messages.Notice) bool { return n.Multisig.Event.ID() == op }) {
		return nil
	}

	m.notices.Push(&messages.Notice{
		ID:       uuid.NewString(),
		From:     src,
		Received: now,
		Multisig: notice,
	})
	m.ui.Notify(fmt.Sprintf("%s requested a group %s for %s", src.Short(), notice.Event.Kind, op.Prefix.Short()))
	m.ui.Publish(module.AgentEvent{Kind: module.EventNotificationArrived, Prefix: op.Prefix, Detail: op.String()})
	m.ui.Refresh(module.ViewNotifications)
	return nil
}

// joined returns true if a local identifier already signed the operation.
func (m *Mailbox) joined(op kel.OperationID) (bool, error) {
	signers, err := m.store.Signers(op)
	if err != nil {
		return false, err
	}
	locals, err := m.store.Identifiers()
	if err != nil {
		return false, err
	}
	for _, s := range signers {
		if locals.Contains(s) {
			return true, nil
		}
	}
	return false, nil
}

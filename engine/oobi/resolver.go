package oobi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"

	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/model/messages"
	"github.com/citadel-wallet/keysync/module"
	"github.com/citadel-wallet/keysync/module/component"
	"github.com/citadel-wallet/keysync/module/irrecoverable"
	"github.com/citadel-wallet/keysync/network/codec/cbor"
	"github.com/citadel-wallet/keysync/storage"
)

const maxIntroductionSize = 4 << 20

// ResolverStore is the part of the identity store the resolver writes to.
type ResolverStore interface {
	storage.KeyStates
	storage.Events
	storage.Contacts
}

// Resolver fetches introductions in the background. A resolved identifier's
// key event log is appended to the store and its endpoint pinned as contact.
type Resolver struct {
	*component.ComponentManager
	log     zerolog.Logger
	store   ResolverStore
	client  *http.Client
	codec   *cbor.Codec
	pool    *workerpool.WorkerPool
	timeout time.Duration

	mu       sync.Mutex
	stopped  bool
	inflight map[kel.Prefix]struct{}
}

var _ module.Discovery = (*Resolver)(nil)
var _ component.Component = (*Resolver)(nil)

func NewResolver(log zerolog.Logger, store ResolverStore, workers int, timeout time.Duration) *Resolver {
	r := &Resolver{
		log:      log.With().Str("engine", "oobi_resolver").Logger(),
		store:    store,
		client:   &http.Client{Timeout: timeout},
		codec:    cbor.NewCodec(),
		pool:     workerpool.New(workers),
		timeout:  timeout,
		inflight: make(map[kel.Prefix]struct{}),
	}
	r.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(func(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
			ready()
			<-ctx.Done()
			r.mu.Lock()
			r.stopped = true
			r.mu.Unlock()
			r.pool.StopWait()
		}).
		Build()
	return r
}

// Resolve starts fetching the introduction unless one for prefix is in flight.
func (r *Resolver) Resolve(prefix kel.Prefix, oobi string) error {
	if oobi == "" {
		return fmt.Errorf("no introduction for %s", prefix)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return fmt.Errorf("resolver is stopped")
	}
	if _, ok := r.inflight[prefix]; ok {
		return nil
	}
	r.inflight[prefix] = struct{}{}
	r.pool.Submit(func() {
		defer func() {
			r.mu.Lock()
			delete(r.inflight, prefix)
			r.mu.Unlock()
		}()
		err := r.ResolveNow(prefix, oobi, "")
		if err != nil {
			r.log.Warn().Err(err).Str("aid", prefix.String()).Str("oobi", oobi).Msg("could not resolve introduction")
		}
	})
	return nil
}

// Resolved returns true once the key state of prefix is known.
func (r *Resolver) Resolved(prefix kel.Prefix) bool {
	_, err := r.store.KeyState(prefix)
	return err == nil
}

// ResolveNow fetches the introduction and blocks until it is stored. An empty
// alias keeps the alias of a known contact.
func (r *Resolver) ResolveNow(prefix kel.Prefix, oobi string, alias string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, oobi, nil)
	if err != nil {
		return fmt.Errorf("invalid introduction: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not fetch introduction: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("could not fetch introduction: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIntroductionSize))
	if err != nil {
		return fmt.Errorf("could not read introduction: %w", err)
	}

	decoded, err := r.codec.Decode(data)
	if err != nil {
		return fmt.Errorf("could not decode introduction: %w", err)
	}
	replay, ok := decoded.(*messages.EventReplay)
	if !ok {
		return fmt.Errorf("introduction carries %T instead of a key event log", decoded)
	}
	if replay.Prefix != prefix {
		return fmt.Errorf("introduction is for %s, not %s", replay.Prefix, prefix)
	}
	for _, event := range replay.Events {
		if event.Prefix != prefix {
			return fmt.Errorf("introduction of %s carries an event of %s", prefix, event.Prefix)
		}
		err := r.store.Append(event)
		if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("could not append event %d of %s: %w", event.Sn, prefix, err)
		}
	}

	contact := &kel.Contact{Prefix: prefix, OOBI: oobi, URL: resp.Header.Get(EndpointHeader)}
	known, err := r.store.Contact(prefix)
	if err == nil {
		contact.Alias = known.Alias
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("could not read contact %s: %w", prefix, err)
	}
	if alias != "" {
		contact.Alias = alias
	}
	err = r.store.PinContact(contact)
	if err != nil {
		return fmt.Errorf("could not pin contact %s: %w", prefix, err)
	}
	r.log.Info().Str("aid", prefix.String()).Int("events", len(replay.Events)).Msg("resolved introduction")
	return nil
}

package httpnet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/model/messages"
	"github.com/citadel-wallet/keysync/module"
	"github.com/citadel-wallet/keysync/module/component"
	"github.com/citadel-wallet/keysync/module/irrecoverable"
	"github.com/citadel-wallet/keysync/network/codec/cbor"
	"github.com/citadel-wallet/keysync/storage"
)

const (
	// MessagesPath is where controllers and witnesses post envelopes.
	MessagesPath = "/messages"

	contentType = "application/cbor"
	maxBodySize = 1 << 20
)

// ErrStopped is returned by Send once the transport shut down.
var ErrStopped = errors.New("transport is stopped")

// ErrInboundFull is returned to the poster when the inbound channel is full.
var ErrInboundFull = errors.New("inbound queue is full")

// Config configures the HTTP transport.
type Config struct {
	// Workers bounds the number of concurrent outbound posts.
	Workers int
	// Timeout bounds a single post.
	Timeout time.Duration
	// RateLimit and Burst limit outbound posts over all destinations.
	RateLimit rate.Limit
	Burst     int
	// BreakerFailures consecutive failures open the breaker of a destination
	// for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	InboundCapacity int
}

func DefaultConfig() Config {
	return Config{
		Workers:         16,
		Timeout:         10 * time.Second,
		RateLimit:       100,
		Burst:           20,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
		InboundCapacity: 1024,
	}
}

// Transport posts envelopes to the URL pinned for the destination's contact
// and receives envelopes posted to MessagesPath. Sends are handed to a worker
// pool and never block the caller.
type Transport struct {
	*component.ComponentManager
	log      zerolog.Logger
	config   Config
	contacts storage.Contacts
	codec    *cbor.Codec
	client   *http.Client
	pool     *workerpool.WorkerPool
	limiter  *rate.Limiter
	inbound  chan *messages.Envelope

	mu       sync.Mutex
	stopped  bool
	sent     map[string]struct{}
	breakers map[string]*gobreaker.CircuitBreaker
}

var _ module.Transport = (*Transport)(nil)
var _ component.Component = (*Transport)(nil)

func NewTransport(log zerolog.Logger, config Config, contacts storage.Contacts) *Transport {
	t := &Transport{
		log:      log.With().Str("module", "http_transport").Logger(),
		config:   config,
		contacts: contacts,
		codec:    cbor.NewCodec(),
		client:   &http.Client{Timeout: config.Timeout},
		pool:     workerpool.New(config.Workers),
		limiter:  rate.NewLimiter(config.RateLimit, config.Burst),
		inbound:  make(chan *messages.Envelope, config.InboundCapacity),
		sent:     make(map[string]struct{}),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	t.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(t.drain).
		Build()
	return t
}

// drain stops the worker pool on shutdown, letting queued posts finish.
func (t *Transport) drain(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()
	<-ctx.Done()
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.log.Debug().Int("queued", t.pool.WaitingQueueSize()).Msg("stopping outbound workers")
	t.pool.StopWait()
}

// Register adds the inbound endpoint to the router.
func (t *Transport) Register(router *mux.Router) {
	router.Methods(http.MethodPost).Path(MessagesPath).HandlerFunc(t.receive)
}

func (t *Transport) Send(src kel.Prefix, dest kel.Prefix, topic string, payload interface{}) (string, error) {
	contact, err := t.contacts.Contact(dest)
	if err != nil {
		return "", fmt.Errorf("could not find endpoint of %s: %w", dest, err)
	}
	if contact.URL == "" {
		return "", fmt.Errorf("contact %s has no endpoint", dest)
	}

	env := &messages.Envelope{
		ID:      uuid.NewString(),
		Src:     src,
		Dest:    dest,
		Topic:   topic,
		Payload: payload,
	}
	data, err := t.codec.EncodeEnvelope(env)
	if err != nil {
		return "", fmt.Errorf("could not encode %s message: %w", topic, err)
	}
	url := contact.URL + MessagesPath
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return "", ErrStopped
	}
	t.pool.Submit(func() {
		err := t.post(url, data)
		if err != nil {
			t.log.Warn().
				Err(err).
				Str("dest", dest.String()).
				Str("topic", topic).
				Msg("could not deliver message")
			return
		}
		t.mu.Lock()
		t.sent[env.ID] = struct{}{}
		t.mu.Unlock()
	})
	return env.ID, nil
}

// Sent returns true once the message was accepted by its destination.
func (t *Transport) Sent(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sent[id]
	return ok
}

func (t *Transport) Inbound() <-chan *messages.Envelope {
	return t.inbound
}

func (t *Transport) post(url string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.config.Timeout)
	defer cancel()
	err := t.limiter.Wait(ctx)
	if err != nil {
		return fmt.Errorf("rate limited: %w", err)
	}

	_, err = t.breaker(url).Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		resp, err := t.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode != http.StatusAccepted {
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		return nil, nil
	})
	return err
}

func (t *Transport) breaker(url string) *gobreaker.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, ok := t.breakers[url]
	if ok {
		return cb
	}
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    url,
		Timeout: t.config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= t.config.BreakerFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			t.log.Info().Str("endpoint", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	t.breakers[url] = cb
	return cb
}

func (t *Transport) receive(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	env, err := t.codec.DecodeEnvelope(data)
	if err != nil {
		t.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("dropping undecodable message")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	select {
	case t.inbound <- env:
		w.WriteHeader(http.StatusAccepted)
	default:
		t.log.Warn().Str("src", env.Src.String()).Str("topic", env.Topic).Msg("inbound queue full, dropping message")
		http.Error(w, ErrInboundFull.Error(), http.StatusServiceUnavailable)
	}
}

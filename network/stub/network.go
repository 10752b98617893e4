package stub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/model/messages"
	"github.com/citadel-wallet/keysync/module"
)

const inboundCapacity = 1024

// Network is an in-memory transport for one controller. Sends are delivered
// synchronously through the hub.
type Network struct {
	hub     *Hub
	self    kel.Prefix
	inbound chan *messages.Envelope

	mu   sync.Mutex
	sent map[string]struct{}
	// held queues outbound messages while the network is paused
	held   []*messages.Envelope
	paused bool
}

var _ module.Transport = (*Network)(nil)

// NewNetwork creates a network for self and plugs it into the hub.
func NewNetwork(hub *Hub, self kel.Prefix) *Network {
	net := &Network{
		hub:     hub,
		self:    self,
		inbound: make(chan *messages.Envelope, inboundCapacity),
		sent:    make(map[string]struct{}),
	}
	hub.Plug(net)
	return net
}

// Claim routes messages addressed to further local prefixes to this network.
func (n *Network) Claim(prefixes ...kel.Prefix) {
	for _, prefix := range prefixes {
		n.hub.Route(prefix, n)
	}
}

func (n *Network) Send(src kel.Prefix, dest kel.Prefix, topic string, payload interface{}) (string, error) {
	env := &messages.Envelope{
		ID:      uuid.NewString(),
		Src:     src,
		Dest:    dest,
		Topic:   topic,
		Payload: payload,
	}

	n.mu.Lock()
	if n.paused {
		n.held = append(n.held, env)
		n.mu.Unlock()
		return env.ID, nil
	}
	n.mu.Unlock()

	err := n.hub.deliver(env)
	if err != nil {
		return "", errors.Wrapf(err, "could not send %s message to %s", topic, dest)
	}
	n.markSent(env.ID)
	return env.ID, nil
}

func (n *Network) Sent(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.sent[id]
	return ok
}

func (n *Network) Inbound() <-chan *messages.Envelope {
	return n.inbound
}

// Pause holds outbound messages until Resume, so tests can observe a send in flight.
func (n *Network) Pause() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paused = true
}

// Resume delivers held messages in order.
func (n *Network) Resume() error {
	n.mu.Lock()
	held := n.held
	n.held = nil
	n.paused = false
	n.mu.Unlock()

	for _, env := range held {
		err := n.hub.deliver(env)
		if err != nil {
			return err
		}
		n.markSent(env.ID)
	}
	return nil
}

func (n *Network) markSent(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent[id] = struct{}{}
}

func (n *Network) receive(env *messages.Envelope) error {
	select {
	case n.inbound <- env:
		return nil
	default:
		return errors.Errorf("inbound queue of %v is full", n.self)
	}
}

package stub

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/model/messages"
	"github.com/citadel-wallet/keysync/network/codec/cbor"
)

// Handler answers a message delivered to a served prefix. Returned envelopes
// are delivered in turn.
type Handler func(env *messages.Envelope) []*messages.Envelope

// Hub connects in-memory networks and served handlers so that tests can run
// several controllers and witnesses in one process. Every message goes through
// the wire codec.
type Hub struct {
	sync.Mutex
	codec    *cbor.Codec
	networks map[kel.Prefix]*Network
	handlers map[kel.Prefix]Handler
	// unreachable prefixes silently drop what is sent to them
	unreachable map[kel.Prefix]struct{}
	// refused prefixes fail every send to them
	refused map[kel.Prefix]struct{}
}

func NewHub() *Hub {
	return &Hub{
		codec:       cbor.NewCodec(),
		networks:    make(map[kel.Prefix]*Network),
		handlers:    make(map[kel.Prefix]Handler),
		unreachable: make(map[kel.Prefix]struct{}),
		refused:     make(map[kel.Prefix]struct{}),
	}
}

// Plug registers a network so that others can reach it.
func (h *Hub) Plug(net *Network) {
	h.Route(net.self, net)
}

// Route delivers messages addressed to prefix to the network.
func (h *Hub) Route(prefix kel.Prefix, net *Network) {
	h.Lock()
	defer h.Unlock()
	h.networks[prefix] = net
}

// Serve answers every message addressed to prefix with the handler.
func (h *Hub) Serve(prefix kel.Prefix, handler Handler) {
	h.Lock()
	defer h.Unlock()
	h.handlers[prefix] = handler
}

// Unreachable drops messages to prefix until Reachable is called.
func (h *Hub) Unreachable(prefix kel.Prefix) {
	h.Lock()
	defer h.Unlock()
	h.unreachable[prefix] = struct{}{}
}

// Refuse fails sends to prefix until Reachable is called.
func (h *Hub) Refuse(prefix kel.Prefix) {
	h.Lock()
	defer h.Unlock()
	h.refused[prefix] = struct{}{}
}

func (h *Hub) Reachable(prefix kel.Prefix) {
	h.Lock()
	defer h.Unlock()
	delete(h.unreachable, prefix)
	delete(h.refused, prefix)
}

// deliver routes an envelope to its destination and the handler's replies
// back to theirs.
func (h *Hub) deliver(env *messages.Envelope) error {
	data, err := h.codec.EncodeEnvelope(env)
	if err != nil {
		return errors.Wrap(err, "could not encode envelope")
	}
	received, err := h.codec.DecodeEnvelope(data)
	if err != nil {
		return errors.Wrap(err, "could not decode envelope")
	}

	h.Lock()
	_, dropped := h.unreachable[env.Dest]
	_, refused := h.refused[env.Dest]
	handler, served := h.handlers[env.Dest]
	net, plugged := h.networks[env.Dest]
	h.Unlock()

	switch {
	case refused:
		return errors.Errorf("connection to %v refused", env.Dest)
	case dropped:
		return nil
	case served:
		for _, reply := range handler(received) {
			err := h.deliver(reply)
			if err != nil {
				return errors.Wrapf(err, "could not deliver reply of %s", env.Dest)
			}
		}
		return nil
	case plugged:
		return net.receive(received)
	default:
		return errors.Errorf("hub can not find a node for prefix %v", env.Dest)
	}
}

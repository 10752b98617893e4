package unittest

import (
	"sync"

	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/model/messages"
	"github.com/citadel-wallet/keysync/network/stub"
)

// FakeWitness is a witness served on a stub hub. It keeps the key event logs
// it was given, answers key state queries from them unless told to report
// something else, replays logs and receipts events it knows.
type FakeWitness struct {
	Prefix kel.Prefix

	mu       sync.Mutex
	kels     map[kel.Prefix][]*kel.Event
	reports  map[kel.Prefix]*messages.KeyStateNotice
	silent   bool
	received []*messages.Envelope
}

func NewFakeWitness(hub *stub.Hub, prefix kel.Prefix) *FakeWitness {
	w := &FakeWitness{
		Prefix:  prefix,
		kels:    make(map[kel.Prefix][]*kel.Event),
		reports: make(map[kel.Prefix]*messages.KeyStateNotice),
	}
	hub.Serve(prefix, w.handle)
	return w
}

// Learn adds events to the witness's logs. Known sequence numbers are skipped.
func (w *FakeWitness) Learn(events ...*kel.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.learn(events)
}

// Report makes the witness answer key state queries for prefix with the given state.
func (w *FakeWitness) Report(prefix kel.Prefix, sn uint64, digest string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reports[prefix] = &messages.KeyStateNotice{Prefix: prefix, Sn: sn, Digest: digest}
}

// Silence stops the witness from answering anything.
func (w *FakeWitness) Silence(silent bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.silent = silent
}

// Known returns the highest sequence number the witness knows for prefix, or false.
func (w *FakeWitness) Known(prefix kel.Prefix) (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	events := w.kels[prefix]
	if len(events) == 0 {
		return 0, false
	}
	return events[len(events)-1].Sn, true
}

// Received returns the messages the witness got on the given topic.
func (w *FakeWitness) Received(topic string) []*messages.Envelope {
	w.mu.Lock()
	defer w.mu.Unlock()
	var matching []*messages.Envelope
	for _, env := range w.received {
		if env.Topic == topic {
			matching = append(matching, env)
		}
	}
	return matching
}

func (w *FakeWitness) learn(events []*kel.Event) {
	for _, event := range events {
		log := w.kels[event.Prefix]
		if uint64(len(log)) != event.Sn {
			continue
		}
		w.kels[event.Prefix] = append(log, event)
	}
}

func (w *FakeWitness) handle(env *messages.Envelope) []*messages.Envelope {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.received = append(w.received, env)
	if w.silent {
		return nil
	}

	reply := func(topic string, payload interface{}) []*messages.Envelope {
		return []*messages.Envelope{{
			ID:      env.ID + "-reply",
			Src:     w.Prefix,
			Dest:    env.Src,
			Topic:   topic,
			Payload: payload,
		}}
	}

	switch msg := env.Payload.(type) {
	case *messages.KeyStateQuery:
		if report, ok := w.reports[msg.Prefix]; ok {
			return reply(messages.TopicKeyState, report)
		}
		log := w.kels[msg.Prefix]
		if len(log) == 0 {
			return nil
		}
		last := log[len(log)-1]
		return reply(messages.TopicKeyState, &messages.KeyStateNotice{Prefix: msg.Prefix, Sn: last.Sn, Digest: last.Digest})
	case *messages.LogsQuery:
		log := w.kels[msg.Prefix]
		if uint64(len(log)) <= msg.FromSn {
			return nil
		}
		return reply(messages.TopicReplay, &messages.EventReplay{Prefix: msg.Prefix, Events: log[msg.FromSn:]})
	case *messages.EventReplay:
		w.learn(msg.Events)
		return nil
	case *messages.ReceiptRequest:
		log := w.kels[msg.Prefix]
		if uint64(len(log)) <= msg.Sn || log[msg.Sn].Digest != msg.Digest {
			return nil
		}
		return reply(messages.TopicReceipt, &messages.Receipt{Prefix: msg.Prefix, Sn: msg.Sn, Digest: msg.Digest, Witness: w.Prefix})
	default:
		return nil
	}
}

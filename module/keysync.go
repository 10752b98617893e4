package module

import (
	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/model/messages"
	"github.com/citadel-wallet/keysync/storage"
)

// IdentityStore is the local keystore and event log engine.
type IdentityStore interface {
	storage.KeyStates
	storage.Events
	storage.WitnessStates
	storage.Receipts
	storage.GroupOperations
	storage.Contacts
}

// Transport delivers messages to witnesses and other controllers.
type Transport interface {
	// Send queues the payload for delivery without blocking and returns the
	// message id.
	Send(src kel.Prefix, dest kel.Prefix, topic string, payload interface{}) (string, error)

	// Sent returns true once the message left this node.
	Sent(id string) bool

	// Inbound delivers messages addressed to this node.
	Inbound() <-chan *messages.Envelope
}

// View names a screen of the user interface.
type View string

const (
	ViewIdentifiers   View = "identifiers"
	ViewNotifications View = "notifications"
	ViewWitnesses     View = "witnesses"
)

// IdentifierRoute returns the route of an identifier's detail view.
func IdentifierRoute(prefix kel.Prefix) string {
	return "/identifiers/" + prefix.String() + "/view"
}

// AgentEventKind enumerates terminal events signalled to the user interface.
type AgentEventKind string

const (
	EventKELUpdateComplete   AgentEventKind = "kel_update_complete"
	EventGroupComplete       AgentEventKind = "group_complete"
	EventDuplicityDetected   AgentEventKind = "duplicity_detected"
	EventReceiptsComplete    AgentEventKind = "receipts_complete"
	EventNotificationArrived AgentEventKind = "notification_arrived"
)

// AgentEvent is a terminal event of a background operation.
type AgentEvent struct {
	Kind   AgentEventKind
	Prefix kel.Prefix
	Detail string
}

// UINotifier is the fire-and-forget sink for user interface updates. None of
// its methods may block.
type UINotifier interface {
	// Notify shows a short message to the operator.
	Notify(msg string)

	// Refresh asks the interface to reload a view.
	Refresh(view View)

	// Navigate switches the interface to the given route.
	Navigate(route string)

	// Publish signals a terminal agent event.
	Publish(event AgentEvent)
}

// Discovery resolves out-of-band introductions of remote identifiers.
type Discovery interface {
	// Resolve starts resolving the OOBI without blocking.
	Resolve(prefix kel.Prefix, oobi string) error

	// Resolved returns true once the identifier is known to the identity store.
	Resolved(prefix kel.Prefix) bool
}

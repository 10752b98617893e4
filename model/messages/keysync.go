package messages

import (
	"time"

	"github.com/citadel-wallet/keysync/model/kel"
)

// Topics group messages by the component that consumes them.
const (
	TopicKeyState = "ksn"
	TopicLogs     = "logs"
	TopicReplay   = "replay"
	TopicReceipt  = "receipt"
	TopicMultisig = "multisig"
)

// Envelope carries one message between two prefixes.
type Envelope struct {
	ID      string
	Src     kel.Prefix
	Dest    kel.Prefix
	Topic   string
	Payload interface{}
}

// KeyStateQuery asks a witness for its view of an identifier's key state.
type KeyStateQuery struct {
	Prefix kel.Prefix
}

// KeyStateNotice is a witness's answer to a KeyStateQuery.
type KeyStateNotice struct {
	Prefix kel.Prefix
	Sn     uint64
	Digest string
}

// LogsQuery asks a witness to replay an identifier's key event log from a sequence number.
type LogsQuery struct {
	Prefix kel.Prefix
	FromSn uint64
}

// EventReplay carries key events, in order, either as answer to a LogsQuery or
// to catch a lagging witness up.
type EventReplay struct {
	Prefix kel.Prefix
	Events []*kel.Event
}

// ReceiptRequest asks a witness to receipt an event it has already seen.
type ReceiptRequest struct {
	Prefix kel.Prefix
	Sn     uint64
	Digest string
}

// Receipt is a witness's attestation that it witnessed the event.
type Receipt struct {
	Prefix  kel.Prefix
	Sn      uint64
	Digest  string
	Witness kel.Prefix
}

// MultisigNotice announces a partially signed group event to the other members.
// Signers lists every member whose signature the sender has observed so far.
type MultisigNotice struct {
	Event   *kel.Event
	Signers kel.PrefixList
	// OOBI lets members that do not know the group yet resolve it.
	OOBI string
}

// Notice is a multisig request from another member awaiting the operator.
type Notice struct {
	ID       string
	From     kel.Prefix
	Received time.Time
	Multisig *MultisigNotice
}

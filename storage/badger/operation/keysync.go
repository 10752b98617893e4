package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/citadel-wallet/keysync/model/kel"
)

func UpsertKeyState(state *kel.KeyState) func(*badger.Txn) error {
	return upsert(makePrefix(codeKeyState, state.Prefix), state)
}

func RetrieveKeyState(prefix kel.Prefix, state *kel.KeyState) func(*badger.Txn) error {
	return retrieve(makePrefix(codeKeyState, prefix), state)
}

// IndexLocal marks an identifier as controlled (or co-controlled) locally.
func IndexLocal(prefix kel.Prefix, alias string) func(*badger.Txn) error {
	return upsert(makePrefix(codeLocal, prefix), alias)
}

func LookupLocals(prefixes *kel.PrefixList) func(*badger.Txn) error {
	*prefixes = (*prefixes)[:0]
	return traverse(makePrefix(codeLocal), func() interface{} {
		return new(string)
	}, func(key []byte, _ interface{}) error {
		// key layout: code | len | prefix
		*prefixes = append(*prefixes, kel.Prefix(key[3:]))
		return nil
	})
}

func InsertEvent(event *kel.Event) func(*badger.Txn) error {
	return insert(makePrefix(codeEvent, event.Prefix, event.Sn), event)
}

func RetrieveEvent(prefix kel.Prefix, sn uint64, event *kel.Event) func(*badger.Txn) error {
	return retrieve(makePrefix(codeEvent, prefix, sn), event)
}

// FindEventsFrom collects the events of an identifier with sn >= from, in order.
func FindEventsFrom(prefix kel.Prefix, from uint64, events *[]*kel.Event) func(*badger.Txn) error {
	return traverse(makePrefix(codeEvent, prefix), func() interface{} {
		return new(kel.Event)
	}, func(_ []byte, entity interface{}) error {
		event := entity.(*kel.Event)
		if event.Sn >= from {
			*events = append(*events, event)
		}
		return nil
	})
}

func UpsertWitnessState(state *kel.WitnessKeyState) func(*badger.Txn) error {
	return upsert(makePrefix(codeWitnessState, state.Prefix, state.Witness), state)
}

func RetrieveWitnessState(prefix kel.Prefix, witness kel.Prefix, state *kel.WitnessKeyState) func(*badger.Txn) error {
	return retrieve(makePrefix(codeWitnessState, prefix, witness), state)
}

func RemoveWitnessState(prefix kel.Prefix, witness kel.Prefix) func(*badger.Txn) error {
	return remove(makePrefix(codeWitnessState, prefix, witness))
}

func UpsertReceipt(prefix kel.Prefix, sn uint64, digest string, witness kel.Prefix) func(*badger.Txn) error {
	return upsert(makePrefix(codeReceipt, prefix, sn, witness), &kel.WitnessKeyState{
		Witness: witness,
		Prefix:  prefix,
		Sn:      sn,
		Digest:  digest,
	})
}

// FindReceipts collects the receipts recorded for the event at sn.
func FindReceipts(prefix kel.Prefix, sn uint64, receipts *[]*kel.WitnessKeyState) func(*badger.Txn) error {
	return traverse(makePrefix(codeReceipt, prefix, sn), func() interface{} {
		return new(kel.WitnessKeyState)
	}, func(_ []byte, entity interface{}) error {
		*receipts = append(*receipts, entity.(*kel.WitnessKeyState))
		return nil
	})
}

func InsertPendingEvent(event *kel.Event) func(*badger.Txn) error {
	return insert(makePrefix(codePendingEvent, event.Prefix, event.Sn, event.Digest), event)
}

func RetrievePendingEvent(op kel.OperationID, event *kel.Event) func(*badger.Txn) error {
	return retrieve(makePrefix(codePendingEvent, op.Prefix, op.Sn, op.Digest), event)
}

func RemovePendingEvent(op kel.OperationID) func(*badger.Txn) error {
	return remove(makePrefix(codePendingEvent, op.Prefix, op.Sn, op.Digest))
}

func UpsertSigner(op kel.OperationID, signer kel.Prefix) func(*badger.Txn) error {
	return upsert(makePrefix(codeSigner, op.Prefix, op.Sn, op.Digest, signer), signer)
}

func FindSigners(op kel.OperationID, signers *kel.PrefixList) func(*badger.Txn) error {
	return traverse(makePrefix(codeSigner, op.Prefix, op.Sn, op.Digest), func() interface{} {
		return new(kel.Prefix)
	}, func(_ []byte, entity interface{}) error {
		*signers = append(*signers, *entity.(*kel.Prefix))
		return nil
	})
}

func UpsertContact(contact *kel.Contact) func(*badger.Txn) error {
	return upsert(makePrefix(codeContact, contact.Prefix), contact)
}

func RetrieveContact(prefix kel.Prefix, contact *kel.Contact) func(*badger.Txn) error {
	return retrieve(makePrefix(codeContact, prefix), contact)
}

func FindContacts(contacts *[]*kel.Contact) func(*badger.Txn) error {
	return traverse(makePrefix(codeContact), func() interface{} {
		return new(kel.Contact)
	}, func(_ []byte, entity interface{}) error {
		*contacts = append(*contacts, entity.(*kel.Contact))
		return nil
	})
}

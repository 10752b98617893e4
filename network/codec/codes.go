package codec

import (
	"fmt"

	"github.com/citadel-wallet/keysync/model/messages"
)

const (
	CodeMin uint8 = iota + 1

	// key state
	CodeKeyStateQuery
	CodeKeyStateNotice

	// key event log replay
	CodeLogsQuery
	CodeEventReplay

	// receipts
	CodeReceiptRequest
	CodeReceipt

	// multisig
	CodeMultisigNotice

	CodeMax
)

// MessageCodeFromInterface returns the code of the message's concrete type.
func MessageCodeFromInterface(v interface{}) (uint8, string, error) {
	switch v.(type) {
	case *messages.KeyStateQuery:
		return CodeKeyStateQuery, "messages.KeyStateQuery", nil
	case *messages.KeyStateNotice:
		return CodeKeyStateNotice, "messages.KeyStateNotice", nil
	case *messages.LogsQuery:
		return CodeLogsQuery, "messages.LogsQuery", nil
	case *messages.EventReplay:
		return CodeEventReplay, "messages.EventReplay", nil
	case *messages.ReceiptRequest:
		return CodeReceiptRequest, "messages.ReceiptRequest", nil
	case *messages.Receipt:
		return CodeReceipt, "messages.Receipt", nil
	case *messages.MultisigNotice:
		return CodeMultisigNotice, "messages.MultisigNotice", nil
	default:
		return 0, "", fmt.Errorf("invalid encode type (%T)", v)
	}
}

// InterfaceFromMessageCode returns a pointer to a zero message of the type the
// code represents.
// Expected error returns during normal operations:
//   - ErrUnknownMsgCode if the code is not one of the above.
func InterfaceFromMessageCode(code uint8) (interface{}, string, error) {
	switch code {
	case CodeKeyStateQuery:
		return &messages.KeyStateQuery{}, "messages.KeyStateQuery", nil
	case CodeKeyStateNotice:
		return &messages.KeyStateNotice{}, "messages.KeyStateNotice", nil
	case CodeLogsQuery:
		return &messages.LogsQuery{}, "messages.LogsQuery", nil
	case CodeEventReplay:
		return &messages.EventReplay{}, "messages.EventReplay", nil
	case CodeReceiptRequest:
		return &messages.ReceiptRequest{}, "messages.ReceiptRequest", nil
	case CodeReceipt:
		return &messages.Receipt{}, "messages.Receipt", nil
	case CodeMultisigNotice:
		return &messages.MultisigNotice{}, "messages.MultisigNotice", nil
	default:
		return nil, "", NewUnknownMsgCodeErr(code)
	}
}

package operation

import (
	"encoding/binary"
	"fmt"

	"github.com/citadel-wallet/keysync/model/kel"
)

const (
	// identifiers
	codeKeyState byte = 10
	codeLocal    byte = 11

	// key event logs
	codeEvent byte = 20

	// witness key state cache
	codeWitnessState byte = 30

	// witness receipts
	codeReceipt byte = 40

	// group operations
	codePendingEvent byte = 50
	codeSigner       byte = 51

	// contacts
	codeContact byte = 60
)

// makePrefix builds a key from a code and a list of key parts. Strings are
// length-prefixed so that a key is never the prefix of a longer unrelated key.
func makePrefix(code byte, keys ...interface{}) []byte {
	prefix := []byte{code}
	for _, key := range keys {
		prefix = append(prefix, b(key)...)
	}
	return prefix
}

func b(v interface{}) []byte {
	switch i := v.(type) {
	case uint64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, i)
		return b
	case kel.Prefix:
		return lengthPrefixed([]byte(i))
	case string:
		return lengthPrefixed([]byte(i))
	default:
		panic(fmt.Sprintf("unsupported type to convert (%T)", v))
	}
}

func lengthPrefixed(data []byte) []byte {
	b := make([]byte, 2, 2+len(data))
	binary.BigEndian.PutUint16(b, uint16(len(data)))
	return append(b, data...)
}

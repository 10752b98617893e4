package kel

import (
	"encoding/base64"
	"fmt"

	"github.com/vmihailenco/msgpack/v4"
	"lukechampine.com/blake3"
)

// DigestCode is the derivation code of Blake3-256 self-addressing digests.
const DigestCode = "E"

// ComputeDigest returns the self-addressing digest of the event. The digest is
// computed with the Digest field blanked and, for inceptions, the Prefix as well
// since the prefix of a self-addressing identifier is its inception digest.
func ComputeDigest(event *Event) (string, error) {
	dup := *event
	dup.Digest = ""
	if dup.Kind.IsInception() {
		dup.Prefix = ""
	}
	data, err := msgpack.Marshal(&dup)
	if err != nil {
		return "", fmt.Errorf("could not encode event: %w", err)
	}
	sum := blake3.Sum256(data)
	return DigestCode + base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// Seal computes and sets the digest of the event. Inceptions also take the
// digest as their prefix.
func Seal(event *Event) error {
	digest, err := ComputeDigest(event)
	if err != nil {
		return err
	}
	event.Digest = digest
	if event.Kind.IsInception() {
		event.Prefix = Prefix(digest)
	}
	return nil
}

// VerifyDigest checks that the event carries the digest of its content.
func VerifyDigest(event *Event) error {
	digest, err := ComputeDigest(event)
	if err != nil {
		return err
	}
	if digest != event.Digest {
		return fmt.Errorf("event digest %s does not match content digest %s", event.Digest, digest)
	}
	if event.Kind.IsInception() && event.Prefix != Prefix(digest) {
		return fmt.Errorf("inception prefix %s does not match digest %s", event.Prefix, digest)
	}
	return nil
}

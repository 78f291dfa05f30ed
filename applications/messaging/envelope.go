// Package messaging implements the send/deliver/ack flow that rides on
// top of a match (C6, spec.md §4.6): building and signing message
// envelopes with the server's long-term key, and the framed delivery and
// acknowledgement protocol.
package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/nearloop/backend/infrastructure/crypto"
	"github.com/nearloop/backend/infrastructure/errors"
)

// Payload is the envelope's signed content (spec.md §4.6 step 3): sender
// and receiver ids, the message uuid, each side's public-key id, the
// per-direction sequence id, the send time, and the (already encrypted,
// opaque to the server) ciphertext.
type Payload struct {
	SenderAccountID     string `json:"sender_account_id"`
	ReceiverAccountID   string `json:"receiver_account_id"`
	MessageUUID         string `json:"message_uuid"`
	SenderPublicKeyID   string `json:"sender_public_key_id"`
	ReceiverPublicKeyID string `json:"receiver_public_key_id"`
	SequenceID          int64  `json:"sequence_id"`
	SentAtUnix          int64  `json:"sent_at_unix"`
	Ciphertext          []byte `json:"ciphertext"`
}

// signedEnvelope is the wire form persisted as interaction.PendingMessage.Envelope.
type signedEnvelope struct {
	Payload   []byte `json:"payload"`
	Signature []byte `json:"signature"`
}

// BuildAndSign marshals payload and signs it with the server's long-term
// key, returning the bytes stored as the pending message's envelope and
// handed back to the sender for verification (spec.md §4.6 step 4).
func BuildAndSign(key *crypto.KeyPair, payload Payload) ([]byte, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("messaging: marshal payload: %w", err)
	}
	sig, err := crypto.Sign(key.PrivateKey, payloadJSON)
	if err != nil {
		return nil, errors.SigningFailed(err)
	}
	envelope, err := json.Marshal(signedEnvelope{Payload: payloadJSON, Signature: sig})
	if err != nil {
		return nil, fmt.Errorf("messaging: marshal envelope: %w", err)
	}
	return envelope, nil
}

// Open verifies envelope against the server's public key and returns its
// payload.
func Open(publicKey *crypto.KeyPair, envelope []byte) (Payload, error) {
	var wrapped signedEnvelope
	if err := json.Unmarshal(envelope, &wrapped); err != nil {
		return Payload{}, fmt.Errorf("messaging: unmarshal envelope: %w", err)
	}
	if !crypto.Verify(publicKey.PublicKey, wrapped.Payload, wrapped.Signature) {
		return Payload{}, errors.VerificationFailed(fmt.Errorf("envelope signature mismatch"))
	}
	var payload Payload
	if err := json.Unmarshal(wrapped.Payload, &payload); err != nil {
		return Payload{}, fmt.Errorf("messaging: unmarshal payload: %w", err)
	}
	return payload, nil
}

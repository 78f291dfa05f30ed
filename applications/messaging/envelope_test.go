package messaging

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nearloop/backend/infrastructure/crypto"
)

func TestBuildAndSignThenOpenRoundTrips(t *testing.T) {
	key, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	payload := Payload{
		SenderAccountID:     "acct-a",
		ReceiverAccountID:   "acct-b",
		MessageUUID:         "msg-uuid-1",
		SenderPublicKeyID:   "a-key-1",
		ReceiverPublicKeyID: "b-key-1",
		SequenceID:          3,
		SentAtUnix:          1700000000,
		Ciphertext:          []byte("opaque-client-ciphertext"),
	}

	envelope, err := BuildAndSign(key, payload)
	require.NoError(t, err)
	require.NotEmpty(t, envelope)

	got, err := Open(key, envelope)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestOpenRejectsEnvelopeSignedByADifferentKey(t *testing.T) {
	key, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	envelope, err := BuildAndSign(key, Payload{MessageUUID: "msg-1"})
	require.NoError(t, err)

	_, err = Open(other, envelope)
	require.Error(t, err)
}

func TestOpenRejectsTamperedEnvelope(t *testing.T) {
	key, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	envelope, err := BuildAndSign(key, Payload{MessageUUID: "msg-1", SequenceID: 1})
	require.NoError(t, err)
	envelope[len(envelope)-2] ^= 0xFF

	_, err = Open(key, envelope)
	require.Error(t, err)
}

package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type stringPayload string

func (s stringPayload) CanonicalBytes() ([]byte, error) {
	return []byte(s), nil
}

func TestPeerIdRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	id := key.PeerId()
	text, err := id.MarshalText()
	require.NoError(t, err)

	var parsed PeerId
	require.NoError(t, parsed.UnmarshalText(text))
	require.Equal(t, id, parsed)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	signed, err := Sign[stringPayload]("hello world", key)
	require.NoError(t, err)

	payload, err := signed.Verify()
	require.NoError(t, err)
	require.Equal(t, stringPayload("hello world"), payload)

	_, err = signed.VerifyFrom(key.PeerId())
	require.NoError(t, err)
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	other, err := GenerateKey()
	require.NoError(t, err)

	signed, err := Sign[stringPayload]("hello world", key)
	require.NoError(t, err)

	_, err = signed.VerifyFrom(other.PeerId())
	require.ErrorIs(t, err, ErrWrongSigner)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	signed, err := Sign[stringPayload]("hello world", key)
	require.NoError(t, err)

	signed.Payload = "goodbye world"
	_, err = signed.Verify()
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyRejectsForgedSignature(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	signed, err := Sign[stringPayload]("hello world", key)
	require.NoError(t, err)

	signed.Signature[0] ^= 0xff
	_, err = signed.Verify()
	require.Error(t, err)
}

package identity

import "fmt"

// ErrSignatureInvalid is returned by Verify/VerifyFrom when a signature does
// not match the claimed signer over the payload's canonical bytes.
var ErrSignatureInvalid = fmt.Errorf("identity: signature invalid")

// ErrWrongSigner is returned by VerifyFrom when the envelope was signed by
// someone other than the expected signer.
var ErrWrongSigner = fmt.Errorf("identity: wrong signer")

// Encodable is implemented by any payload that can be signed. CanonicalBytes
// must return byte-identical output across peers for equal values (§4.1).
type Encodable interface {
	CanonicalBytes() ([]byte, error)
}

// Signed wraps a value of type T together with the PeerId that claims to
// have produced it and a signature over its canonical bytes. A Signed value
// cannot be used in an authenticated context until Verify or VerifyFrom
// succeeds and returns the plain T — this is PrellBlock's type-level
// distinction between "received" and "trusted" data.
type Signed[T Encodable] struct {
	Payload   T
	Signer    PeerId
	Signature Signature
}

// Sign produces a Signed[T] over payload, signed by key.
func Sign[T Encodable](payload T, key *PrivateKey) (Signed[T], error) {
	data, err := payload.CanonicalBytes()
	if err != nil {
		var zero Signed[T]
		return zero, fmt.Errorf("identity: canonical bytes: %w", err)
	}
	sig, err := key.Sign(data)
	if err != nil {
		var zero Signed[T]
		return zero, err
	}
	return Signed[T]{Payload: payload, Signer: key.PeerId(), Signature: sig}, nil
}

// Verify checks the envelope against its own embedded Signer and returns
// the inner payload. Use this when the signer is not yet known to the
// caller ahead of time (e.g. a client transaction).
func (s Signed[T]) Verify() (T, error) {
	data, err := s.Payload.CanonicalBytes()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("identity: canonical bytes: %w", err)
	}
	if !Verify(s.Signer, data, s.Signature) {
		var zero T
		return zero, ErrSignatureInvalid
	}
	return s.Payload, nil
}

// VerifyFrom checks the envelope was both internally consistent and signed
// by expected. Use this at trust boundaries where the expected signer is
// mandated by context (e.g. a Prepare message must come from the leader).
func (s Signed[T]) VerifyFrom(expected PeerId) (T, error) {
	if s.Signer != expected {
		var zero T
		return zero, ErrWrongSigner
	}
	return s.Verify()
}

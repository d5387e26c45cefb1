package identity

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// PrivateKey is the signing key belonging to one PeerId. Each RPU and each
// client holds exactly one, loaded from a private key file never shared
// with the roster (see config.LoadIdentity).
type PrivateKey struct {
	key *ecdsa.PrivateKey
	id  PeerId
}

// GenerateKey creates a fresh random signing key.
func GenerateKey() (*PrivateKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return &PrivateKey{key: key, id: PeerIdFromPublicKey(&key.PublicKey)}, nil
}

// PrivateKeyFromHex loads a signing key from its raw hex-encoded scalar,
// the format written to the per-RPU private key file.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("identity: decode private key: %w", err)
	}
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("identity: parse private key: %w", err)
	}
	return &PrivateKey{key: key, id: PeerIdFromPublicKey(&key.PublicKey)}, nil
}

// Hex renders the raw scalar, for writing fresh key files.
func (k *PrivateKey) Hex() string {
	return hex.EncodeToString(crypto.FromECDSA(k.key))
}

// PeerId returns the identity this key signs for.
func (k *PrivateKey) PeerId() PeerId {
	return k.id
}

// Sign produces a recoverable signature over the Keccak256 digest of
// payload. Callers should pass the CanonicalBytes() of the value being
// signed, never a free-form byte slice, so every peer hashes and signs
// byte-identical input (§4.1 canonical encoding).
func (k *PrivateKey) Sign(payload []byte) (Signature, error) {
	var sig Signature
	digest := crypto.Keccak256(payload)
	raw, err := crypto.Sign(digest, k.key)
	if err != nil {
		return sig, fmt.Errorf("identity: sign: %w", err)
	}
	copy(sig[:], raw)
	return sig, nil
}

// Signature is a 65-byte recoverable secp256k1 signature (r, s, v).
type Signature [65]byte

// MarshalText implements encoding.TextMarshaler.
func (s Signature) MarshalText() ([]byte, error) {
	return []byte("0x" + hex.EncodeToString(s[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signature) UnmarshalText(text []byte) error {
	str := string(text)
	if len(str) != 2+len(s)*2 {
		return fmt.Errorf("identity: invalid signature length")
	}
	b, err := hex.DecodeString(str[2:])
	if err != nil {
		return fmt.Errorf("identity: invalid signature hex: %w", err)
	}
	copy(s[:], b)
	return nil
}

// Verify checks that signature is a valid signature over payload's
// Keccak256 digest, produced by the private key matching signer.
func Verify(signer PeerId, payload []byte, signature Signature) bool {
	digest := crypto.Keccak256(payload)
	// crypto.SigToPub requires the 65-byte [R || S || V] layout produced by
	// crypto.Sign, exactly what Signature stores.
	pub, err := crypto.SigToPub(digest, signature[:])
	if err != nil {
		return false
	}
	return PeerIdFromPublicKey(pub) == signer
}

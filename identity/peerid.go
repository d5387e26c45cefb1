// Package identity implements peer identities and the signed-message
// envelope used at every trust boundary in PrellBlock: RPU-to-RPU,
// client-to-RPU and inside committed blocks.
package identity

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// PeerId is the public key of an RPU or client. It doubles as address key
// in the roster and as the signer field of every Signed value.
type PeerId [33]byte

// ErrInvalidPeerId is returned when a textual PeerId cannot be parsed.
var ErrInvalidPeerId = errors.New("identity: invalid peer id")

// PeerIdFromPublicKey derives a PeerId from a secp256k1 public key.
func PeerIdFromPublicKey(pub *ecdsa.PublicKey) PeerId {
	var id PeerId
	copy(id[:], crypto.CompressPubkey(pub))
	return id
}

// PublicKey recovers the ecdsa.PublicKey encoded in this PeerId.
func (p PeerId) PublicKey() (*ecdsa.PublicKey, error) {
	return crypto.DecompressPubkey(p[:])
}

// ParsePeerId parses the `0x`-prefixed hex form written to roster files.
func ParsePeerId(s string) (PeerId, error) {
	var id PeerId
	if len(s) != 2+len(id)*2 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return id, ErrInvalidPeerId
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidPeerId, err)
	}
	copy(id[:], b)
	return id, nil
}

// String renders the `0x`-prefixed hex form.
func (p PeerId) String() string {
	return "0x" + hex.EncodeToString(p[:])
}

// MarshalText implements encoding.TextMarshaler so PeerId can be used
// directly as a YAML/JSON scalar in roster and identity files.
func (p PeerId) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PeerId) UnmarshalText(text []byte) error {
	id, err := ParsePeerId(string(text))
	if err != nil {
		return err
	}
	*p = id
	return nil
}

// IsZero reports whether p is the zero PeerId (no identity set).
func (p PeerId) IsZero() bool {
	return p == PeerId{}
}

package praftbft

import (
	"fmt"

	"github.com/prellblock/prellblock/identity"
)

// Kind enumerates the tagged error variants of §7, in full.
type Kind int

// The enumerated error kinds. Names are conceptual, matching §7 exactly.
const (
	SignatureInvalid Kind = iota
	NotARosterMember
	WrongLeader
	WrongLeaderTerm
	NoLeader
	WrongBlockNumber
	BlockNumberTooSmall
	BlockNumberTooBig
	LeaderTermTooSmall
	LeaderTermTooBig
	ChangedBlockHash
	WrongBlockHash
	NotEnoughSignatures
	WrongPhase
	PermissionDenied
	Timeout
	IoError
)

func (k Kind) String() string {
	switch k {
	case SignatureInvalid:
		return "SignatureInvalid"
	case NotARosterMember:
		return "NotARosterMember"
	case WrongLeader:
		return "WrongLeader"
	case WrongLeaderTerm:
		return "WrongLeaderTerm"
	case NoLeader:
		return "NoLeader"
	case WrongBlockNumber:
		return "WrongBlockNumber"
	case BlockNumberTooSmall:
		return "BlockNumberTooSmall"
	case BlockNumberTooBig:
		return "BlockNumberTooBig"
	case LeaderTermTooSmall:
		return "LeaderTermTooSmall"
	case LeaderTermTooBig:
		return "LeaderTermTooBig"
	case ChangedBlockHash:
		return "ChangedBlockHash"
	case WrongBlockHash:
		return "WrongBlockHash"
	case NotEnoughSignatures:
		return "NotEnoughSignatures"
	case WrongPhase:
		return "WrongPhase"
	case PermissionDenied:
		return "PermissionDenied"
	case Timeout:
		return "Timeout"
	case IoError:
		return "IoError"
	default:
		return "Unknown"
	}
}

// Error is the engine's typed, errors.Is-comparable error: peers compare on
// Kind alone, never on the human-readable message, following the teacher's
// own preference (seen throughout consensus test files) for sentinel/wrapped
// errors over ad hoc strings.
type Error struct {
	Kind Kind

	// Leader is set for WrongLeader: the PeerId the sender should have been.
	Leader identity.PeerId

	// Current and Expected are set for WrongPhase.
	Current, Expected PhaseKind

	msg string
}

// Error implements error.
func (e *Error) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("praftbft: %s: %s", e.Kind, e.msg)
	}
	return fmt.Sprintf("praftbft: %s", e.Kind)
}

// Code implements peer.CodedError, letting the transport layer relay Kind
// to the sender without importing this package.
func (e *Error) Code() byte { return byte(e.Kind) }

// Is makes every *Error of the same Kind match under errors.Is, regardless
// of the extra context fields carried alongside it.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Sentinel values for errors.Is comparisons against a bare Kind, e.g.
// errors.Is(err, praftbft.ErrNotEnoughSignatures).
var (
	ErrSignatureInvalid    = &Error{Kind: SignatureInvalid}
	ErrNotARosterMember    = &Error{Kind: NotARosterMember}
	ErrWrongLeader         = &Error{Kind: WrongLeader}
	ErrWrongLeaderTerm     = &Error{Kind: WrongLeaderTerm}
	ErrNoLeader            = &Error{Kind: NoLeader}
	ErrWrongBlockNumber    = &Error{Kind: WrongBlockNumber}
	ErrBlockNumberTooSmall = &Error{Kind: BlockNumberTooSmall}
	ErrBlockNumberTooBig   = &Error{Kind: BlockNumberTooBig}
	ErrLeaderTermTooSmall  = &Error{Kind: LeaderTermTooSmall}
	ErrLeaderTermTooBig    = &Error{Kind: LeaderTermTooBig}
	ErrChangedBlockHash    = &Error{Kind: ChangedBlockHash}
	ErrWrongBlockHash      = &Error{Kind: WrongBlockHash}
	ErrNotEnoughSignatures = &Error{Kind: NotEnoughSignatures}
	ErrWrongPhase          = &Error{Kind: WrongPhase}
	ErrPermissionDenied    = &Error{Kind: PermissionDenied}
	ErrTimeout             = &Error{Kind: Timeout}
	ErrIO                  = &Error{Kind: IoError}
)

package worldstate

// Account is the permission/quota record PrellBlock keeps per PeerId. It is
// read by the permission checker and mutated only by AccountUpdate
// transactions (§3, §9 Open Questions: "the consensus core treats
// permission verification as a synchronous predicate over
// (PeerId, Transaction, WorldState)").
type Account struct {
	Permissions []string
	Quota       uint64
}

// Allows reports whether this account carries the named permission.
func (a Account) Allows(permission string) bool {
	for _, p := range a.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

func (a Account) clone() Account {
	permissions := make([]string, len(a.Permissions))
	copy(permissions, a.Permissions)
	return Account{Permissions: permissions, Quota: a.Quota}
}

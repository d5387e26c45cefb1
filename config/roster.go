// Package config loads the static, file-based configuration every RPU
// starts from: the cluster roster, this RPU's own signing key, and the
// small set of environment variables that parameterize the deployment
// (§6).
package config

import (
	"fmt"
	"os"

	"github.com/prellblock/prellblock/identity"
	"gopkg.in/yaml.v3"
)

// Peer is one roster entry: an RPU's identity and the two addresses other
// components dial it on.
type Peer struct {
	Name          string          `yaml:"name"`
	PeerId        identity.PeerId `yaml:"peer_id"`
	PeerAddress   string          `yaml:"peer_address"`
	ClientAddress string          `yaml:"client_address"`
}

// Roster is the cluster membership list, in the order it was written to
// roster.yaml. That order is never re-sorted: it is the leader-rotation
// order the consensus engine's leaderFor(term) indexes into (§6), so
// editing the file's order changes who leads which term.
type Roster []Peer

// LoadRoster reads and parses a roster.yaml file.
func LoadRoster(path string) (Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read roster %s: %w", path, err)
	}
	var roster Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("config: parse roster %s: %w", path, err)
	}
	if len(roster) == 0 {
		return nil, fmt.Errorf("config: roster %s is empty", path)
	}
	seen := make(map[identity.PeerId]string, len(roster))
	for _, p := range roster {
		if other, ok := seen[p.PeerId]; ok {
			return nil, fmt.Errorf("config: roster %s: peer_id %s used by both %q and %q", path, p.PeerId, other, p.Name)
		}
		seen[p.PeerId] = p.Name
	}
	return roster, nil
}

// PeerIds returns the roster's PeerIds in file order, the shape the
// consensus engine and the broadcaster both key their roster-order logic
// on.
func (r Roster) PeerIds() []identity.PeerId {
	ids := make([]identity.PeerId, len(r))
	for i, p := range r {
		ids[i] = p.PeerId
	}
	return ids
}

// Find returns the roster entry for id, if present.
func (r Roster) Find(id identity.PeerId) (Peer, bool) {
	for _, p := range r {
		if p.PeerId == id {
			return p, true
		}
	}
	return Peer{}, false
}

// Self returns the roster entry matching id, erroring if this RPU's own
// identity isn't a member of its own roster — a misconfiguration that must
// never start a node.
func (r Roster) Self(id identity.PeerId) (Peer, error) {
	p, ok := r.Find(id)
	if !ok {
		return Peer{}, fmt.Errorf("config: %s is not a member of its own roster", id)
	}
	return p, nil
}

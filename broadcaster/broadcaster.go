// Package broadcaster fans a single peer message out to every RPU in the
// roster concurrently, collecting per-peer outcomes without letting one
// unreachable peer abort the others (§4.4).
package broadcaster

import (
	"context"
	"fmt"
	"sync"

	"github.com/prellblock/prellblock/identity"
	"github.com/prellblock/prellblock/peer"
	"golang.org/x/sync/errgroup"
)

// Peer is one roster entry's dialing information.
type Peer struct {
	Id      identity.PeerId
	Address string
}

// Outcome is one peer's result for a single Broadcast call. Signature is
// the responding peer's signature over Response's own CanonicalBytes —
// reusable directly as a quorum vote signature (§4.6.4, §4.6.5) without a
// separate application-level signing round trip.
type Outcome struct {
	Response  peer.Message
	Signature identity.Signature
	Err       error
}

// Result collects every peer's Outcome for one Broadcast call.
type Result struct {
	Responses map[identity.PeerId]Outcome
}

// Ok returns the peers whose Outcome carried no error, together with their
// responses — the set the caller folds into a quorum count.
func (r Result) Ok() map[identity.PeerId]peer.Message {
	out := make(map[identity.PeerId]peer.Message, len(r.Responses))
	for id, o := range r.Responses {
		if o.Err == nil {
			out[id] = o.Response
		}
	}
	return out
}

// Dialer opens a Client to one peer. Production code uses peer.Dial;
// tests substitute an in-memory double.
type Dialer func(target identity.PeerId, address string) (Client, error)

// Client is the subset of *peer.Client the broadcaster needs, narrowed so
// tests can supply an in-memory double without a real TCP connection.
type Client interface {
	Request(msg peer.Message) (peer.Message, identity.Signature, error)
	Close() error
}

// Broadcaster sends the same message to every peer in Peers concurrently.
type Broadcaster struct {
	Peers  []Peer
	Dial   Dialer
	Cached bool

	mu      sync.Mutex
	clients map[identity.PeerId]Client
}

// New builds a Broadcaster over the given roster peers, signing outgoing
// requests with key (the local RPU's own signing key). If cached is true,
// dialed connections are reused across calls to Broadcast (appropriate for
// the long-lived peer links described in §5); otherwise each Broadcast
// dials fresh connections and closes them afterward.
func New(peers []Peer, key *identity.PrivateKey, cached bool) *Broadcaster {
	return &Broadcaster{
		Peers: peers,
		Dial: func(target identity.PeerId, address string) (Client, error) {
			return peer.Dial(target, address, key)
		},
		Cached:  cached,
		clients: make(map[identity.PeerId]Client),
	}
}

func (b *Broadcaster) clientFor(p Peer) (Client, error) {
	if !b.Cached {
		return b.Dial(p.Id, p.Address)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[p.Id]; ok {
		return c, nil
	}
	c, err := b.Dial(p.Id, p.Address)
	if err != nil {
		return nil, err
	}
	b.clients[p.Id] = c
	return c, nil
}

func (b *Broadcaster) dropCached(id identity.PeerId) {
	if !b.Cached {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, id)
}

// Broadcast sends msg to every peer concurrently via errgroup, collecting
// each peer's Outcome independently: a failure or timeout talking to one
// peer never aborts or delays the others (§4.4).
func (b *Broadcaster) Broadcast(ctx context.Context, msg peer.Message) Result {
	result := Result{Responses: make(map[identity.PeerId]Outcome, len(b.Peers))}
	var mu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	for _, p := range b.Peers {
		p := p
		g.Go(func() error {
			resp, sig, err := b.sendOne(p, msg)
			mu.Lock()
			result.Responses[p.Id] = Outcome{Response: resp, Signature: sig, Err: err}
			mu.Unlock()
			return nil
		})
	}
	// Errors are captured per-peer in Outcome; Wait only blocks for
	// completion and never returns an error of its own.
	_ = g.Wait()
	return result
}

func (b *Broadcaster) sendOne(p Peer, msg peer.Message) (peer.Message, identity.Signature, error) {
	client, err := b.clientFor(p)
	if err != nil {
		return nil, identity.Signature{}, fmt.Errorf("broadcaster: dial %s: %w", p.Id, err)
	}
	resp, sig, err := client.Request(msg)
	if err != nil {
		b.dropCached(p.Id)
		if !b.Cached {
			client.Close()
		}
		return nil, identity.Signature{}, fmt.Errorf("broadcaster: request to %s: %w", p.Id, err)
	}
	if !b.Cached {
		client.Close()
	}
	return resp, sig, nil
}

// Close releases every cached connection.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.clients {
		c.Close()
		delete(b.clients, id)
	}
}

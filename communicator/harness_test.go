// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package communicator

import (
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/communicator/core/crypto/keys"
	"github.com/katzenpost/communicator/core/log"
	"github.com/katzenpost/communicator/internal/peerstore"
)

type datagram struct {
	b        []byte
	from, to *net.UDPAddr
}

type delivery struct {
	peer keys.PeerID
	msg  []byte
}

type testTransport struct {
	deliveries  []delivery
	credit      map[string]int
	closed      []string
	validated   []string
	backchannel func(peer keys.PeerID, ack []byte) bool
}

func newTestTransport() *testTransport {
	return &testTransport{credit: make(map[string]int)}
}

func (t *testTransport) Deliver(peer keys.PeerID, msg []byte) {
	t.deliveries = append(t.deliveries, delivery{peer, append([]byte{}, msg...)})
}

func (t *testTransport) Backchannel(peer keys.PeerID, ack []byte) bool {
	if t.backchannel == nil {
		return false
	}
	return t.backchannel(peer, ack)
}

func (t *testTransport) QueueCredit(peer keys.PeerID, address string, delta int) {
	t.credit[address] += delta
}

func (t *testTransport) QueueClosed(peer keys.PeerID, address string) {
	t.closed = append(t.closed, address)
}

func (t *testTransport) ValidateAddress(peer keys.PeerID, network, address string) {
	t.validated = append(t.validated, network+" "+address)
}

func (t *testTransport) messages() []string {
	var out []string
	for _, d := range t.deliveries {
		out = append(out, string(d.msg))
	}
	return out
}

type testNode struct {
	c    *Communicator
	id   *keys.Identity
	addr *net.UDPAddr
	tr   *testTransport
}

func (n *testNode) peer() keys.PeerID {
	return n.id.PeerID()
}

func (n *testNode) address() string {
	return FormatAddress(n.addr)
}

// testNet connects communicators through an in-memory datagram pipe,
// driven by a manual clock.
type testNet struct {
	t   *testing.T
	now time.Time

	nodes    []*testNode
	inflight []*datagram
	drop     func(*datagram) bool
}

func newTestNet(t *testing.T) *testNet {
	return &testNet{
		t:   t,
		now: time.Unix(1700000000, 0),
	}
}

func (n *testNet) clock() time.Time {
	return n.now
}

func (n *testNet) newNode(port int, mutate func(*Config)) *testNode {
	require := require.New(n.t)

	id, err := keys.NewIdentity(rand.Reader)
	require.NoError(err)
	store, err := peerstore.New(filepath.Join(n.t.TempDir(), "peers.db"))
	require.NoError(err)
	n.t.Cleanup(func() { store.Close() })
	backend, err := log.NewWithWriter(io.Discard, "DEBUG")
	require.NoError(err)

	node := &testNode{
		id:   id,
		addr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
		tr:   newTestTransport(),
	}
	cfg := &Config{
		Identity:   id,
		Transport:  node.tr,
		Monotime:   store,
		LogBackend: backend,
		Now:        n.clock,
		Transmit: func(b []byte, to *net.UDPAddr) error {
			n.inflight = append(n.inflight, &datagram{
				b:    append([]byte{}, b...),
				from: node.addr,
				to:   to,
			})
			return nil
		},
		ReplayFilterSize: 16,
	}
	if mutate != nil {
		mutate(cfg)
	}
	node.c, err = New(cfg)
	require.NoError(err)
	n.nodes = append(n.nodes, node)
	return node
}

func (n *testNet) lookup(addr *net.UDPAddr) *testNode {
	for _, node := range n.nodes {
		if node.addr.String() == addr.String() {
			return node
		}
	}
	return nil
}

// take removes and returns the datagrams in flight.
func (n *testNet) take() []*datagram {
	out := n.inflight
	n.inflight = nil
	return out
}

func (n *testNet) deliver(d *datagram) {
	if dst := n.lookup(d.to); dst != nil {
		dst.c.HandleDatagram(d.b, d.from)
	}
}

// pump delivers datagrams until none are in flight.
func (n *testNet) pump() {
	for len(n.inflight) > 0 {
		d := n.inflight[0]
		n.inflight = n.inflight[1:]
		if n.drop != nil && n.drop(d) {
			continue
		}
		n.deliver(d)
	}
}

func (n *testNet) advance(d time.Duration) {
	n.now = n.now.Add(d)
	for _, node := range n.nodes {
		node.c.RunDue()
	}
	n.pump()
}

// settle runs the key cache generation and ack exchange to completion.
func (n *testNet) settle() {
	n.pump()
	for i := 0; i < 40; i++ {
		n.advance(DefaultGenerateInterval)
	}
}

// handshake has a greet b with a KX, and returns both queues once the
// acks have been exchanged.
func handshake(t *testing.T, n *testNet, a, b *testNode) (*Queue, *Queue) {
	require := require.New(t)

	qa, err := a.c.OpenQueue(b.peer(), b.address())
	require.NoError(err)
	require.NoError(qa.SendHandshake([]byte("hello")))
	n.settle()

	qb, err := b.c.OpenQueue(a.peer(), a.address())
	require.NoError(err)
	return qa, qb
}

// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package communicator implements the UDP communicator: authenticated and
// encrypted datagrams between peers, bootstrapped by a signed ephemeral
// key exchange (KX) and carried on as boxes under single use, per sequence
// keys the receiving side provisions ahead of time and grants as credit.
//
// A Communicator is not safe for concurrent use.  Every method, including
// the Transport callbacks it makes, runs on the caller's goroutine; the
// server drives it from a single event loop.
package communicator

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/yawning/bloom"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/communicator/core/crypto/kdf"
	"github.com/katzenpost/communicator/core/crypto/keys"
	"github.com/katzenpost/communicator/core/log"
	"github.com/katzenpost/communicator/core/queue"
	"github.com/katzenpost/communicator/internal/instrument"
)

const (
	// DefaultIdleTimeout is how long a sender or receiver lives without
	// activity.
	DefaultIdleTimeout = 5 * time.Minute

	// DefaultRekeyInterval is how long a secret is used before rekeying.
	DefaultRekeyInterval = 4 * time.Hour

	// DefaultRekeyMaxBytes is how many bytes are boxed before rekeying.
	DefaultRekeyMaxBytes = 4 << 30

	// DefaultRekeyRetryInterval is how often a rekey is resent until it
	// is acknowledged.
	DefaultRekeyRetryInterval = 5 * time.Second

	// DefaultGenerateInterval is the pause between two key cache top up
	// rounds.
	DefaultGenerateInterval = 10 * time.Millisecond

	// DefaultReplayFilterSize is the log2 of the KX replay filter size in
	// bits.
	DefaultReplayFilterSize = 23

	kcnThreshold     = 96
	kcnTarget        = 128
	generateAtOnce   = 16
	maxSqnDelta      = 160
	maxSecrets       = 128
	rekeyReservedKCE = 3

	replayFilterFalsePositive = 0.001
)

// Transport is the upper layer the communicator delivers to.
type Transport interface {
	// Deliver passes a decrypted message from peer upwards.
	Deliver(peer keys.PeerID, msg []byte)

	// Backchannel sends an encoded ack to the communicator of peer
	// through the upper layer, and returns false if it can not.
	Backchannel(peer keys.PeerID, ack []byte) bool

	// QueueCredit reports a change of the number of messages the data
	// queue towards peer at address may send.
	QueueCredit(peer keys.PeerID, address string, delta int)

	// QueueClosed reports that the queue towards peer at address is gone.
	QueueClosed(peer keys.PeerID, address string)

	// ValidateAddress passes an address learned from a verified beacon
	// on for validation.
	ValidateAddress(peer keys.PeerID, network, address string)
}

// MonotimeStore persists handshake monotonic times.
type MonotimeStore interface {
	// NextMonotime returns a strictly increasing time for our own KX.
	NextMonotime() (uint64, error)

	// CheckMonotime records the time of a KX from peer, and fails iff
	// it is older than one already accepted.
	CheckMonotime(peer keys.PeerID, t uint64) error
}

// Config is a communicator configuration.
type Config struct {
	// Identity is our long term identity.
	Identity *keys.Identity

	// Transport is the upper layer.
	Transport Transport

	// Monotime is the monotonic time store.
	Monotime MonotimeStore

	// Transmit sends a datagram.
	Transmit func(b []byte, to *net.UDPAddr) error

	// LogBackend is the logging backend.
	LogBackend *log.Backend

	// Now returns the current time, time.Now if nil.
	Now func() time.Time

	// Rand is the entropy source, hpqc rand.Reader if nil.
	Rand io.Reader

	IdleTimeout        time.Duration
	RekeyInterval      time.Duration
	RekeyMaxBytes      uint64
	RekeyRetryInterval time.Duration
	GenerateInterval   time.Duration
	ReplayFilterSize   int
}

func (cfg *Config) applyDefaults() {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.RekeyInterval <= 0 {
		cfg.RekeyInterval = DefaultRekeyInterval
	}
	if cfg.RekeyMaxBytes == 0 {
		cfg.RekeyMaxBytes = DefaultRekeyMaxBytes
	}
	if cfg.RekeyRetryInterval <= 0 {
		cfg.RekeyRetryInterval = DefaultRekeyRetryInterval
	}
	if cfg.GenerateInterval <= 0 {
		cfg.GenerateInterval = DefaultGenerateInterval
	}
	if cfg.ReplayFilterSize <= 0 {
		cfg.ReplayFilterSize = DefaultReplayFilterSize
	}
}

// peerAddr names the state kept for a peer at a given address.
type peerAddr struct {
	peer keys.PeerID
	addr string
}

// Communicator is a UDP communicator instance.
type Communicator struct {
	cfg Config
	log *logging.Logger

	id   keys.PeerID
	now  func() time.Time
	rand io.Reader

	tasks *queue.PriorityQueue

	senders   map[peerAddr]*sender
	receivers map[keys.PeerID]map[string]*receiver
	kces      map[kdf.KID]*kce

	senderTimeouts   *queue.PriorityQueue
	receiverTimeouts *queue.PriorityQueue
	sweepTask        *task

	replay *bloom.Filter
}

// New creates a new Communicator.
func New(cfg *Config) (*Communicator, error) {
	switch {
	case cfg.Identity == nil:
		return nil, errors.New("communicator: no identity")
	case cfg.Transport == nil:
		return nil, errors.New("communicator: no transport")
	case cfg.Monotime == nil:
		return nil, errors.New("communicator: no monotime store")
	case cfg.Transmit == nil:
		return nil, errors.New("communicator: no transmit function")
	case cfg.LogBackend == nil:
		return nil, errors.New("communicator: no log backend")
	}

	c := &Communicator{
		cfg:              *cfg,
		tasks:            queue.New(),
		senders:          make(map[peerAddr]*sender),
		receivers:        make(map[keys.PeerID]map[string]*receiver),
		kces:             make(map[kdf.KID]*kce),
		senderTimeouts:   queue.New(),
		receiverTimeouts: queue.New(),
	}
	c.cfg.applyDefaults()
	c.log = c.cfg.LogBackend.GetLogger("communicator")
	c.id = c.cfg.Identity.PeerID()
	c.now = c.cfg.Now
	c.rand = c.cfg.Rand

	if err := c.resetReplayFilter(); err != nil {
		return nil, err
	}
	return c, nil
}

// PeerID returns our identity.
func (c *Communicator) PeerID() keys.PeerID {
	return c.id
}

func (c *Communicator) resetReplayFilter() error {
	f, err := bloom.New(c.rand, c.cfg.ReplayFilterSize, replayFilterFalsePositive)
	if err != nil {
		return err
	}
	c.replay = f
	return nil
}

// Close tears down every sender and receiver, reporting each closed queue
// to the transport.
func (c *Communicator) Close() {
	for _, s := range c.senders {
		c.destroySender(s)
	}
	for _, m := range c.receivers {
		for _, r := range m {
			c.destroyReceiver(r)
		}
	}
	c.cancel(c.sweepTask)
	c.sweepTask = nil
}

func (c *Communicator) transmit(b []byte, to *net.UDPAddr, kind string) {
	if err := c.cfg.Transmit(b, to); err != nil {
		c.log.Warningf("Failed to send %s datagram to %v: %v", kind, to, err)
		return
	}
	instrument.DatagramSent(kind)
}

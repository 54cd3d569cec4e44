// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package communicator

import (
	"container/list"
	"net"

	"github.com/katzenpost/communicator/core/crypto/keys"
	"github.com/katzenpost/communicator/core/queue"
	"github.com/katzenpost/communicator/core/wire"
)

// sender is the decrypt side state of a peer at an address.
type sender struct {
	key  peerAddr
	addr *net.UDPAddr

	// secrets holds the secrets we decrypt with, newest first.
	secrets *list.List

	// ssRekey is the secret introduced by an in band rekey, not yet seen
	// in use.
	ssRekey *secret

	// rekeying mirrors the flag of the last datagram from the peer.
	rekeying bool

	// acksAvailable is the number of key cache entries held.
	acksAvailable int

	timeout *queue.Entry
}

func (c *Communicator) setupSender(peer keys.PeerID, addr *net.UDPAddr) *sender {
	key := peerAddr{peer: peer, addr: FormatAddress(addr)}
	s, ok := c.senders[key]
	if !ok {
		s = &sender{
			key:     key,
			addr:    addr,
			secrets: list.New(),
		}
		c.senders[key] = s
		c.log.Debugf("New sender %v at %v", peer, key.addr)
	}
	c.touchSender(s)
	return s
}

func (c *Communicator) setupSecretDec(s *sender, master *keys.Master) *secret {
	ss := newSecret(master)
	ss.sender = s
	ss.elem = s.secrets.PushFront(ss)
	return ss
}

func (c *Communicator) destroySender(s *sender) {
	for e := s.secrets.Front(); e != nil; e = s.secrets.Front() {
		c.destroySecret(e.Value.(*secret))
	}
	c.senderTimeouts.Remove(s.timeout)
	delete(c.senders, s.key)
	c.log.Debugf("Destroyed sender %v at %v", s.key.peer, s.key.addr)
}

// mirrorRekeying follows the rekeying flag of a box decrypted under ss.
// A box without the flag under the rekey secret means the peer cut over.
// One under a secret installed after the rekey secret means the peer moved
// on without it, while one under an older secret may simply be late.
func (c *Communicator) mirrorRekeying(s *sender, ss *secret, rekeying bool) {
	s.rekeying = rekeying
	next := s.ssRekey
	if rekeying || next == nil {
		return
	}
	if next != ss {
		if newerThan(ss, next) {
			c.demoteRekey(s)
		}
		return
	}
	for e := ss.elem.Next(); e != nil; e = ss.elem.Next() {
		c.destroySecret(e.Value.(*secret))
	}
	s.ssRekey = nil
	c.log.Debugf("Sender %v cut over to the rekeyed secret", s.key.peer)
}

// newerThan returns true iff a was installed after b.  Decrypt side
// secrets are kept newest first.
func newerThan(a, b *secret) bool {
	for e := b.elem.Prev(); e != nil; e = e.Prev() {
		if e == a.elem {
			return true
		}
	}
	return false
}

// demoteRekey turns the rekey secret of s into an ordinary one.  The peer
// may still have promoted it, so its key cache entries stay.
func (c *Communicator) demoteRekey(s *sender) {
	if s.ssRekey == nil {
		return
	}
	s.ssRekey = nil
	c.log.Debugf("Sender %v moved on from the rekeyed secret", s.key.peer)
}

// considerAck starts topping up the key cache of ss if it runs low, or
// if s holds too many secrets, which ends with an ack granting the peer
// the new entries and a sweep.  While the peer is rekeying only the rekey
// secret is topped up.
func (c *Communicator) considerAck(ss *secret, initial bool) {
	s := ss.sender
	if ss.dead || (s.rekeying && ss != s.ssRekey) {
		return
	}
	if !initial && ss.kces.Len() >= kcnThreshold && s.secrets.Len() <= maxSecrets {
		return
	}
	if ss.genTask.pending() {
		return
	}
	ss.genTask = c.schedule(0, func() { c.generateKCEs(ss) })
}

func (c *Communicator) generateKCEs(ss *secret) {
	ss.genTask = nil
	s := ss.sender
	if s.rekeying && ss != s.ssRekey {
		return
	}

	for i := 0; i < generateAtOnce && ss.kces.Len() < kcnTarget; i++ {
		ss.sequenceGenerated++
		c.addKCE(ss, ss.sequenceGenerated)
	}
	c.expireKCEs(ss)

	if ss.kces.Len() < kcnTarget {
		ss.genTask = c.schedule(c.cfg.GenerateInterval, func() { c.generateKCEs(ss) })
		return
	}
	c.ackSecret(ss)
	c.sweepSecrets(s)
}

// ackSecret grants the peer every sequence number generated for ss.
func (c *Communicator) ackSecret(ss *secret) {
	s := ss.sender
	c.sendAck(s, &wire.Ack{
		SequenceMax:   ss.sequenceGenerated,
		AcksAvailable: uint32(s.acksAvailable),
		CMAC:          ss.cmac,
	})
}

// sweepSecrets destroys the secrets without key cache entries, except the
// newest and the rekey secret, once a sender holds too many.
func (c *Communicator) sweepSecrets(s *sender) {
	if s.secrets.Len() <= maxSecrets {
		return
	}
	front := s.secrets.Front()
	for e := s.secrets.Back(); e != nil && e != front; {
		prev := e.Prev()
		ss := e.Value.(*secret)
		if ss.kces.Len() == 0 && ss != s.ssRekey {
			c.destroySecret(ss)
		}
		e = prev
	}
}

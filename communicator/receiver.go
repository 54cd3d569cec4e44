// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package communicator

import (
	"container/list"
	"fmt"
	"net"

	"github.com/katzenpost/communicator/core/crypto/kdf"
	"github.com/katzenpost/communicator/core/crypto/keys"
	"github.com/katzenpost/communicator/core/queue"
	"github.com/katzenpost/communicator/core/wire"
	"github.com/katzenpost/communicator/internal/instrument"
)

// receiver is the encrypt side state of a peer at an address.
type receiver struct {
	key  peerAddr
	addr *net.UDPAddr

	// secrets holds the secrets we encrypt with, most recently
	// acknowledged first.
	secrets *list.List

	// acksAvailable is the sum of the credit of every secret.
	acksAvailable int

	rekey rekeyState

	timeout *queue.Entry
}

// dataCredit returns the number of boxes the data queue may send.
func (r *receiver) dataCredit() int {
	return r.acksAvailable - r.rekey.reserved
}

// pickSecret returns the most recently acknowledged secret with credit.
func (r *receiver) pickSecret() *secret {
	for e := r.secrets.Front(); e != nil; e = e.Next() {
		if ss := e.Value.(*secret); ss.credit() > 0 {
			return ss
		}
	}
	return nil
}

func (r *receiver) address() string {
	return r.key.addr
}

func (c *Communicator) setupReceiver(peer keys.PeerID, addr *net.UDPAddr) *receiver {
	key := peerAddr{peer: peer, addr: FormatAddress(addr)}
	m, ok := c.receivers[peer]
	if !ok {
		m = make(map[string]*receiver)
		c.receivers[peer] = m
	}
	r, ok := m[key.addr]
	if !ok {
		r = &receiver{
			key:     key,
			addr:    addr,
			secrets: list.New(),
		}
		r.rekey.deadline = c.now().Add(c.cfg.RekeyInterval)
		m[key.addr] = r
		c.log.Debugf("New receiver %v at %v", peer, key.addr)
	}
	c.touchReceiver(r)
	return r
}

func (c *Communicator) lookupReceiver(key peerAddr) *receiver {
	return c.receivers[key.peer][key.addr]
}

// receiverFor returns a receiver towards the peer of s, creating one at
// the address s sends from if there is none.
func (c *Communicator) receiverFor(s *sender) *receiver {
	if r, ok := c.receivers[s.key.peer][s.key.addr]; ok {
		return r
	}
	for _, r := range c.receivers[s.key.peer] {
		return r
	}
	return c.setupReceiver(s.key.peer, s.addr)
}

func (c *Communicator) destroyReceiver(r *receiver) {
	c.abortRekey(r)
	for e := r.secrets.Front(); e != nil; e = r.secrets.Front() {
		c.destroySecret(e.Value.(*secret))
	}
	c.receiverTimeouts.Remove(r.timeout)
	if m := c.receivers[r.key.peer]; m != nil {
		delete(m, r.key.addr)
		if len(m) == 0 {
			delete(c.receivers, r.key.peer)
		}
	}
	c.log.Debugf("Destroyed receiver %v at %v", r.key.peer, r.key.addr)
	c.cfg.Transport.QueueClosed(r.key.peer, r.address())
}

func (c *Communicator) notifyCredit(r *receiver, delta int) {
	if delta != 0 {
		c.cfg.Transport.QueueCredit(r.key.peer, r.address(), delta)
	}
}

// sendKX sends the inner messages in a KX, under a fresh secret that is
// of no use for boxes until the peer acknowledges it.
func (c *Communicator) sendKX(r *receiver, inner []byte) error {
	eph, err := keys.NewEphemeral(c.rand)
	if err != nil {
		return err
	}
	defer eph.Reset()

	master, err := eph.DeriveMaster(r.key.peer)
	if err != nil {
		return err
	}
	defer master.Reset()

	monotime, err := c.cfg.Monotime.NextMonotime()
	if err != nil {
		return fmt.Errorf("communicator: failed to get monotonic time: %w", err)
	}

	hdr := &wire.InitialKX{
		Ephemeral: eph.Public(),
		Rekeying:  r.rekey.active(),
	}
	conf := &wire.Confirmation{
		Sender:        c.id,
		MonotonicTime: monotime,
	}
	copy(conf.Signature[:], c.cfg.Identity.Sign(wire.HandshakeSignedData(c.id, r.key.peer, hdr.Ephemeral, monotime)))

	pt := append(conf.ToBytes(), inner...)
	if pt, err = wire.Pad(pt, wire.InitialKXSize, c.rand); err != nil {
		return err
	}
	key, iv := kdf.KeyIV(master, 0)
	hdr.Tag = wire.Seal(&key, &iv, pt)

	ss := newSecret(master)
	ss.receiver = r
	ss.elem = r.secrets.PushBack(ss)
	c.capSecrets(r, ss)

	c.transmit(append(hdr.ToBytes(), pt...), r.addr, instrument.KindKX)
	instrument.BytesEncrypted(len(pt))
	c.touchReceiver(r)
	return nil
}

// capSecrets destroys secrets without credit while r holds more than
// maxSecrets: first those the peer never acknowledged, oldest first, then
// used up ones.  keep is the secret just offered in a KX.
func (c *Communicator) capSecrets(r *receiver, keep *secret) {
	for _, unacked := range []bool{true, false} {
		for e := r.secrets.Front(); e != nil && r.secrets.Len() > maxSecrets; {
			next := e.Next()
			ss := e.Value.(*secret)
			if ss != keep && ss.credit() == 0 && (!unacked || ss.sequenceAllowed == 0) {
				c.destroySecret(ss)
			}
			e = next
		}
	}
}

// sendBox sends the inner messages in a box under the most recently
// acknowledged secret.  Boxes that carry a rekey or its companion padding
// draw on the reserved credit.
func (c *Communicator) sendBox(r *receiver, inner []byte, reserved bool) error {
	switch {
	case reserved && r.rekey.reserved <= 0:
		return ErrNoCredit
	case !reserved && r.dataCredit() <= 0:
		return ErrNoCredit
	}
	ss := r.pickSecret()
	if ss == nil {
		c.log.Errorf("BUG: receiver %v has %d credit but no secret with any", r.key.peer, r.acksAvailable)
		return ErrNoCredit
	}

	pt, err := wire.Pad(append([]byte{}, inner...), wire.BoxHeaderSize, c.rand)
	if err != nil {
		return err
	}

	seq := ss.nextSequence()
	r.acksAvailable--
	if reserved {
		r.rekey.reserved--
	}

	key, iv := ss.keyIV(seq)
	hdr := &wire.Box{
		KID:      kdf.DeriveKID(&ss.master, seq),
		Rekeying: r.rekey.active(),
	}
	hdr.Tag = wire.Seal(&key, &iv, pt)

	c.transmit(append(hdr.ToBytes(), pt...), r.addr, instrument.KindBox)
	instrument.BytesEncrypted(len(pt))
	r.rekey.sendBytes += uint64(len(inner))
	c.touchReceiver(r)
	c.checkRekeyCredit(r)
	return nil
}

// send sends an upper layer message on the data queue of r.
func (c *Communicator) send(r *receiver, msg []byte) error {
	if len(msg) > wire.MaxBoxPayload {
		return ErrMessageTooLarge
	}
	if r.dataCredit() <= 0 {
		return ErrNoCredit
	}
	inner, err := wire.AppendData(nil, msg)
	if err != nil {
		return err
	}

	armed := c.maybeArmRekey(r)
	if err := c.sendBox(r, inner, false); err != nil {
		return err
	}
	if armed && r.rekey.phase == rekeyArmed {
		c.sendRekey(r)
	}
	return nil
}

// sendHandshake sends an upper layer message in a KX.
func (c *Communicator) sendHandshake(r *receiver, msg []byte) error {
	if len(msg) > wire.MaxKXPayload {
		return ErrMessageTooLarge
	}
	inner, err := wire.AppendData(nil, msg)
	if err != nil {
		return err
	}
	return c.sendKX(r, inner)
}

// Queue is a handle to the queues towards a peer at an address.  It stays
// valid for as long as the queue exists; afterwards every call fails with
// ErrUnknownQueue.
type Queue struct {
	c   *Communicator
	key peerAddr
}

// OpenQueue returns the queue towards peer at the given address string,
// creating it as needed.
func (c *Communicator) OpenQueue(peer keys.PeerID, address string) (*Queue, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	r := c.setupReceiver(peer, addr)
	return &Queue{c: c, key: r.key}, nil
}

// Peer returns the peer the queue sends to.
func (q *Queue) Peer() keys.PeerID {
	return q.key.peer
}

// Address returns the address string the queue sends to.
func (q *Queue) Address() string {
	return q.key.addr
}

// Send sends msg in a box, and fails with ErrNoCredit if the peer has not
// acknowledged a key for it.
func (q *Queue) Send(msg []byte) error {
	r := q.c.lookupReceiver(q.key)
	if r == nil {
		return ErrUnknownQueue
	}
	return q.c.send(r, msg)
}

// SendHandshake sends msg in a KX, which is always possible.
func (q *Queue) SendHandshake(msg []byte) error {
	r := q.c.lookupReceiver(q.key)
	if r == nil {
		return ErrUnknownQueue
	}
	return q.c.sendHandshake(r, msg)
}

// Credit returns the number of messages Send may currently send.
func (q *Queue) Credit() int {
	r := q.c.lookupReceiver(q.key)
	if r == nil {
		return 0
	}
	if n := r.dataCredit(); n > 0 {
		return n
	}
	return 0
}

// Close tears the queue down.
func (q *Queue) Close() error {
	r := q.c.lookupReceiver(q.key)
	if r == nil {
		return ErrUnknownQueue
	}
	q.c.destroyReceiver(r)
	return nil
}

// rekeyDue returns true iff the current secret of r has been in use for
// too long.
func (c *Communicator) rekeyDue(r *receiver) bool {
	return !c.now().Before(r.rekey.deadline) || r.rekey.sendBytes >= c.cfg.RekeyMaxBytes
}

func (c *Communicator) resetRekeyTrigger(r *receiver) {
	r.rekey.deadline = c.now().Add(c.cfg.RekeyInterval)
	r.rekey.sendBytes = 0
}

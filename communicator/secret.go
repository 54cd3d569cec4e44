// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package communicator

import (
	"container/list"

	"github.com/katzenpost/communicator/core/crypto/kdf"
	"github.com/katzenpost/communicator/core/crypto/keys"
	"github.com/katzenpost/communicator/internal/instrument"
)

// secret is a shared master secret, owned either by a sender (we decrypt
// with it) or by a receiver (we encrypt with it).
type secret struct {
	master keys.Master
	cmac   kdf.CMAC

	// Encrypt side: sequenceUsed <= sequenceAllowed.
	sequenceUsed    uint32
	sequenceAllowed uint32

	// Decrypt side: the key cache entries of the secret in ascending
	// sequence order, and the highest sequence number generated.
	kces              *list.List
	sequenceGenerated uint32
	genTask           *task

	sender   *sender
	receiver *receiver
	elem     *list.Element
	dead     bool
}

func newSecret(master *keys.Master) *secret {
	instrument.Secrets(1)
	return &secret{
		master: *master,
		cmac:   kdf.DeriveCMAC(master),
		kces:   list.New(),
	}
}

// credit returns how many acknowledged sequence numbers are left.
func (ss *secret) credit() int {
	return int(ss.sequenceAllowed - ss.sequenceUsed)
}

func (ss *secret) nextSequence() uint32 {
	ss.sequenceUsed++
	return ss.sequenceUsed
}

func (ss *secret) keyIV(seq uint32) ([kdf.KeySize]byte, [kdf.IVSize]byte) {
	return kdf.KeyIV(&ss.master, seq)
}

// kce is a key cache entry: a single use identifier for one sequence
// number of a decrypt side secret.
type kce struct {
	kid  kdf.KID
	seq  uint32
	ss   *secret
	elem *list.Element
}

func (c *Communicator) addKCE(ss *secret, seq uint32) {
	k := &kce{
		kid: kdf.DeriveKID(&ss.master, seq),
		seq: seq,
		ss:  ss,
	}
	if _, ok := c.kces[k.kid]; ok {
		c.log.Errorf("BUG: key cache identifier collision for %v, sequence %d", ss.sender.key.peer, seq)
		return
	}
	k.elem = ss.kces.PushBack(k)
	c.kces[k.kid] = k
	ss.sender.acksAvailable++
	instrument.KCEs(1)
}

// consumeKCE removes an entry on its one and only use.
func (c *Communicator) consumeKCE(k *kce) {
	ss := k.ss
	ss.kces.Remove(k.elem)
	delete(c.kces, k.kid)
	ss.sender.acksAvailable--
	instrument.KCEs(-1)
}

// expireKCEs drops the entries that fell too far behind the newest one,
// oldest first.
func (c *Communicator) expireKCEs(ss *secret) {
	for e := ss.kces.Front(); e != nil; e = ss.kces.Front() {
		k := e.Value.(*kce)
		if ss.sequenceGenerated-k.seq <= maxSqnDelta {
			return
		}
		c.consumeKCE(k)
	}
}

func (c *Communicator) destroySecret(ss *secret) {
	if ss.dead {
		return
	}
	ss.dead = true

	c.cancel(ss.genTask)
	ss.genTask = nil
	for e := ss.kces.Front(); e != nil; e = ss.kces.Front() {
		c.consumeKCE(e.Value.(*kce))
	}

	if s := ss.sender; s != nil {
		if ss.elem != nil {
			s.secrets.Remove(ss.elem)
		}
		if s.ssRekey == ss {
			s.ssRekey = nil
		}
	}
	if r := ss.receiver; r != nil {
		if ss.elem != nil {
			r.secrets.Remove(ss.elem)
			r.acksAvailable -= ss.credit()
		}
		if r.rekey.next == ss {
			r.rekey.next = nil
		}
	}
	ss.elem = nil
	ss.master.Reset()
	instrument.Secrets(-1)
}

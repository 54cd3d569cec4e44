// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package communicator

import (
	"time"

	"github.com/katzenpost/communicator/core/crypto/kdf"
	"github.com/katzenpost/communicator/core/crypto/keys"
	"github.com/katzenpost/communicator/core/wire"
	"github.com/katzenpost/communicator/internal/instrument"
)

// rekeyPhase is the encrypt side rekey state.
//
//	Stable -> Armed      a send finds the secret too old or too used
//	Armed -> InFlight    the rekey datagram went out under an old secret
//	InFlight -> Confirmed  the peer acked the new secret
//	* -> Stable          the old credit ran out: promote if Confirmed,
//	                     abandon otherwise
type rekeyPhase int

const (
	rekeyStable rekeyPhase = iota
	rekeyArmed
	rekeyInFlight
	rekeyConfirmed
)

func (p rekeyPhase) String() string {
	switch p {
	case rekeyStable:
		return "stable"
	case rekeyArmed:
		return "armed"
	case rekeyInFlight:
		return "in-flight"
	case rekeyConfirmed:
		return "confirmed"
	default:
		return "invalid"
	}
}

type rekeyState struct {
	phase rekeyPhase

	// next is the secret being introduced, owned by the receiver but
	// kept off its list until promoted.
	next *secret

	// reserved is the credit held back for rekey datagrams.
	reserved int

	deadline  time.Time
	sendBytes uint64
	retryTask *task
}

func (st *rekeyState) active() bool {
	return st.phase != rekeyStable
}

// maybeArmRekey starts a rekey if one is due, reserving credit to deliver
// the new secret with.  At least one credit is left for the data message
// that triggered it.
func (c *Communicator) maybeArmRekey(r *receiver) bool {
	if r.rekey.active() || !c.rekeyDue(r) {
		return false
	}

	eph, err := keys.NewEphemeral(c.rand)
	if err != nil {
		c.log.Errorf("Failed to generate rekey ephemeral: %v", err)
		return false
	}
	defer eph.Reset()
	master, err := eph.DeriveMaster(r.key.peer)
	if err != nil {
		c.log.Errorf("Failed to derive rekey secret for %v: %v", r.key.peer, err)
		return false
	}
	defer master.Reset()

	ss := newSecret(master)
	ss.receiver = r
	r.rekey.next = ss
	r.rekey.phase = rekeyArmed
	r.rekey.reserved = min(rekeyReservedKCE, r.acksAvailable-1)
	c.notifyCredit(r, -r.rekey.reserved)
	c.log.Debugf("Rekeying %v at %v", r.key.peer, r.key.addr)
	return true
}

// sendRekey sends the new master in a rekey datagram under an old
// secret, and arms the retry timer.
func (c *Communicator) sendRekey(r *receiver) {
	next := r.rekey.next
	if next == nil {
		return
	}
	if r.rekey.reserved <= 0 {
		if r.acksAvailable <= 0 {
			return
		}
		r.rekey.reserved = 1
		c.notifyCredit(r, -1)
	}
	ss := r.pickSecret()
	if ss == nil {
		return
	}

	pt := append([]byte{}, next.master[:]...)
	pt, err := wire.Pad(pt, wire.RekeyHeaderSize, c.rand)
	if err != nil {
		c.log.Errorf("Failed to pad rekey: %v", err)
		return
	}

	seq := ss.nextSequence()
	r.acksAvailable--
	r.rekey.reserved--

	key, iv := ss.keyIV(seq)
	hdr := &wire.Rekey{
		KID:    kdf.DeriveKID(&ss.master, seq),
		Sender: c.id,
	}
	hdr.Tag = wire.Seal(&key, &iv, pt)
	c.transmit(append(hdr.ToBytes(), pt...), r.addr, instrument.KindRekey)
	instrument.BytesEncrypted(len(pt))

	r.rekey.phase = rekeyInFlight
	c.cancel(r.rekey.retryTask)
	r.rekey.retryTask = c.schedule(c.cfg.RekeyRetryInterval, func() { c.retryRekey(r) })
	c.checkRekeyCredit(r)
}

// retryRekey resends the rekey until it is acknowledged, preceded by a
// flagged padding box so that the peer knows to expect it.
func (c *Communicator) retryRekey(r *receiver) {
	r.rekey.retryTask = nil
	if r.rekey.phase != rekeyInFlight {
		return
	}
	if r.acksAvailable >= 2 {
		fromReserve := r.dataCredit() <= 0
		if err := c.sendBox(r, nil, fromReserve); err != nil {
			c.log.Debugf("Failed to send rekey padding to %v: %v", r.key.peer, err)
		} else if !fromReserve {
			c.notifyCredit(r, -1)
		}
	}
	if r.rekey.phase == rekeyInFlight {
		c.sendRekey(r)
	}
}

// handleRekeyAck parks the credit granted for the new secret until the
// old secrets run dry.
func (c *Communicator) handleRekeyAck(r *receiver, ack *wire.Ack) {
	next := r.rekey.next
	if ack.SequenceMax > next.sequenceAllowed {
		next.sequenceAllowed = ack.SequenceMax
	}
	if r.rekey.phase != rekeyConfirmed {
		released := r.rekey.reserved
		r.rekey.phase = rekeyConfirmed
		r.rekey.reserved = 0
		c.cancel(r.rekey.retryTask)
		r.rekey.retryTask = nil
		c.notifyCredit(r, released)
	}
	c.checkRekeyCredit(r)
}

// checkRekeyCredit finishes a rekey once the old secrets are out of
// credit.
func (c *Communicator) checkRekeyCredit(r *receiver) {
	if !r.rekey.active() || r.acksAvailable > 0 {
		return
	}

	next := r.rekey.next
	confirmed := r.rekey.phase == rekeyConfirmed
	if confirmed {
		r.rekey.next = nil
	}
	c.abortRekey(r)
	c.resetRekeyTrigger(r)
	if !confirmed {
		c.log.Debugf("Abandoned unacknowledged rekey of %v", r.key.peer)
		instrument.Rekey("abandoned")
		return
	}

	for e := r.secrets.Front(); e != nil; e = r.secrets.Front() {
		c.destroySecret(e.Value.(*secret))
	}
	next.elem = r.secrets.PushFront(next)
	delta := next.credit()
	r.acksAvailable += delta
	c.log.Debugf("Promoted rekeyed secret of %v with %d credit", r.key.peer, delta)
	instrument.Rekey("promoted")
	c.notifyCredit(r, delta)
}

// abortRekey returns r to the stable phase, destroying any pending secret.
func (c *Communicator) abortRekey(r *receiver) {
	c.cancel(r.rekey.retryTask)
	r.rekey.retryTask = nil
	if r.rekey.next != nil {
		c.destroySecret(r.rekey.next)
		r.rekey.next = nil
	}
	r.rekey.reserved = 0
	r.rekey.phase = rekeyStable
}

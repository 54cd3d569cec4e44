// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package communicator

import (
	"github.com/katzenpost/communicator/core/crypto/keys"
	"github.com/katzenpost/communicator/core/wire"
	"github.com/katzenpost/communicator/internal/instrument"
)

// handleAck raises the sequence ceiling of the secret the ack names.
// Credit is only ever the difference between the new and the stored
// ceiling, so a stale or repeated ack grants nothing.
func (c *Communicator) handleAck(peer keys.PeerID, ack *wire.Ack) {
	instrument.AckReceived()
	for _, r := range c.receivers[peer] {
		if next := r.rekey.next; next != nil && next.cmac == ack.CMAC {
			c.handleRekeyAck(r, ack)
			return
		}
		for e := r.secrets.Front(); e != nil; e = e.Next() {
			ss := e.Value.(*secret)
			if ss.cmac != ack.CMAC {
				continue
			}
			if ack.SequenceMax <= ss.sequenceAllowed {
				return
			}
			delta := int(ack.SequenceMax - ss.sequenceAllowed)
			ss.sequenceAllowed = ack.SequenceMax
			r.acksAvailable += delta
			r.secrets.MoveToFront(e)
			c.touchReceiver(r)
			c.notifyCredit(r, delta)
			return
		}
	}
	c.log.Debugf("Ack from %v for an unknown secret", peer)
}

// HandleBackchannel processes an ack the peer's communicator sent through
// the upper layer.
func (c *Communicator) HandleBackchannel(peer keys.PeerID, msg []byte) error {
	ack, err := wire.AckFromBytes(msg)
	if err != nil {
		return err
	}
	c.handleAck(peer, ack)
	return nil
}

// sendAck returns an ack to the peer of s.  Without a backchannel it goes
// out on our own queue towards the peer, in a box if there is credit and
// in a KX otherwise.
func (c *Communicator) sendAck(s *sender, ack *wire.Ack) {
	b := ack.ToBytes()
	instrument.AckSent()
	if c.cfg.Transport.Backchannel(s.key.peer, b) {
		return
	}

	r := c.receiverFor(s)
	if r.dataCredit() > 0 {
		if err := c.sendBox(r, b, false); err == nil {
			c.notifyCredit(r, -1)
			return
		}
	}
	if err := c.sendKX(r, b); err != nil {
		c.log.Warningf("Failed to send ack to %v: %v", s.key.peer, err)
	}
}

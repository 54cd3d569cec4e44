// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package communicator

import (
	"errors"
	"net"

	"github.com/katzenpost/communicator/core/crypto/kdf"
	"github.com/katzenpost/communicator/core/crypto/keys"
	"github.com/katzenpost/communicator/core/wire"
	"github.com/katzenpost/communicator/internal/instrument"
)

// HandleDatagram processes a datagram received from addr.  Datagram kinds
// are told apart by size and by key cache lookup, in this order:
//
//  1. rekey: a key cache hit from a sender that announced rekeying
//  2. box: any other key cache hit
//  3. broadcast: exactly BroadcastSize bytes
//  4. KX: at least MinKXSize bytes
//
// Datagrams that fail to authenticate are dropped without a response.
func (c *Communicator) HandleDatagram(b []byte, addr *net.UDPAddr) {
	if len(b) >= wire.BoxHeaderSize {
		kid, _ := wire.PeekKID(b)
		if k, ok := c.kces[kid]; ok {
			if len(b) >= wire.RekeyHeaderSize && k.ss.sender.rekeying && c.decryptRekey(k, b) {
				return
			}
			c.decryptBox(k, b)
			return
		}
	}
	if len(b) == wire.BroadcastSize {
		if err := c.handleBroadcast(b, addr); err != nil {
			c.log.Debugf("Dropping beacon from %v: %v", addr, err)
			instrument.DatagramDropped("broadcast")
		}
		return
	}
	if len(b) >= wire.MinKXSize {
		if err := c.decryptKX(b, addr); err != nil {
			c.log.Debugf("Dropping KX from %v: %v", addr, err)
			instrument.DatagramDropped("kx")
		}
		return
	}
	c.log.Debugf("Dropping %d byte datagram from %v", len(b), addr)
	instrument.DatagramDropped("short")
}

func (c *Communicator) decryptKX(b []byte, addr *net.UDPAddr) error {
	hdr, err := wire.InitialKXFromBytes(b)
	if err != nil {
		return err
	}
	master, err := c.cfg.Identity.DeriveMaster(hdr.Ephemeral[:])
	if err != nil {
		return err
	}
	defer master.Reset()

	key, iv := kdf.KeyIV(master, 0)
	pt, err := wire.Open(&key, &iv, &hdr.Tag, b[wire.InitialKXSize:])
	if err != nil {
		instrument.DecryptFailure()
		return err
	}
	conf, err := wire.ConfirmationFromBytes(pt)
	if err != nil {
		return err
	}
	signed := wire.HandshakeSignedData(conf.Sender, c.id, hdr.Ephemeral, conf.MonotonicTime)
	if !conf.Sender.Verify(conf.Signature[:], signed) {
		return ErrSignature
	}

	if c.replay.Entries() >= c.replay.MaxEntries() {
		if err = c.resetReplayFilter(); err != nil {
			return err
		}
	}
	if c.replay.TestAndSet(hdr.Ephemeral[:]) {
		return ErrReplay
	}
	if err = c.cfg.Monotime.CheckMonotime(conf.Sender, conf.MonotonicTime); err != nil {
		return errors.Join(ErrReplay, err)
	}

	instrument.DatagramReceived(instrument.KindKX)
	instrument.BytesDecrypted(len(pt))

	s := c.setupSender(conf.Sender, addr)
	s.rekeying = hdr.Rekeying
	if !s.rekeying {
		c.demoteRekey(s)
	}
	ss := c.setupSecretDec(s, master)
	c.passPlaintext(s, pt[wire.ConfirmationSize:])
	c.considerAck(ss, true)
	return nil
}

func (c *Communicator) decryptBox(k *kce, b []byte) {
	ss, seq := k.ss, k.seq
	s := ss.sender
	c.consumeKCE(k)

	hdr, err := wire.BoxFromBytes(b)
	if err != nil {
		return
	}
	key, iv := ss.keyIV(seq)
	pt, err := wire.Open(&key, &iv, &hdr.Tag, b[wire.BoxHeaderSize:])
	if err != nil {
		c.log.Debugf("Dropping box from %v: %v", s.key.peer, err)
		instrument.DecryptFailure()
		instrument.DatagramDropped("box")
		return
	}
	instrument.DatagramReceived(instrument.KindBox)
	instrument.BytesDecrypted(len(pt))

	c.touchSender(s)
	c.mirrorRekeying(s, ss, hdr.Rekeying)
	c.passPlaintext(s, pt)
	c.considerAck(ss, false)
}

// decryptRekey tries b as a rekey datagram under k, and returns false,
// leaving k for the box interpretation, if it does not authenticate.
func (c *Communicator) decryptRekey(k *kce, b []byte) bool {
	ss := k.ss
	s := ss.sender

	hdr, err := wire.RekeyFromBytes(b)
	if err != nil || hdr.Sender != s.key.peer {
		return false
	}
	key, iv := ss.keyIV(k.seq)
	pt, err := wire.Open(&key, &iv, &hdr.Tag, b[wire.RekeyHeaderSize:])
	if err != nil {
		return false
	}
	c.consumeKCE(k)
	if len(pt) < wire.MasterSize {
		instrument.DatagramDropped("rekey")
		return true
	}
	instrument.DatagramReceived(instrument.KindRekey)
	instrument.BytesDecrypted(len(pt))
	c.touchSender(s)

	var master keys.Master
	copy(master[:], pt[:wire.MasterSize])
	defer master.Reset()

	if next := s.ssRekey; next != nil {
		if next.master.Equal(&master) {
			// A retransmission: our ack got lost.
			if !next.genTask.pending() {
				c.ackSecret(next)
			}
			return true
		}
		c.demoteRekey(s)
	}
	s.ssRekey = c.setupSecretDec(s, &master)
	c.considerAck(s.ssRekey, true)
	return true
}

// passPlaintext processes the inner messages of a decrypted datagram.
// Acks are handled in place, and the first data message is delivered
// upwards, which ends processing.
func (c *Communicator) passPlaintext(s *sender, pt []byte) {
	for {
		m, rest, ok := wire.NextMessage(pt)
		if !ok {
			return
		}
		switch m.Type {
		case wire.TypeAck:
			ack, err := wire.AckFromBody(m.Body)
			if err != nil {
				c.log.Debugf("Dropping malformed ack from %v", s.key.peer)
				break
			}
			c.handleAck(s.key.peer, ack)
		case wire.TypeData:
			c.cfg.Transport.Deliver(s.key.peer, m.Body)
			return
		case wire.TypePad:
			return
		default:
			c.log.Debugf("Skipping message of type %d from %v", m.Type, s.key.peer)
		}
		pt = rest
	}
}

// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package communicator

import (
	"net"

	"github.com/katzenpost/communicator/core/wire"
	"github.com/katzenpost/communicator/internal/instrument"
)

// Beacon returns a signed broadcast datagram announcing that we are
// reachable at addr, the address the beacon is sent from.
func (c *Communicator) Beacon(addr *net.UDPAddr) []byte {
	x := &wire.Broadcast{Sender: c.id}
	copy(x.Signature[:], c.cfg.Identity.Sign(wire.BroadcastSignedData(c.id, FormatAddress(addr))))
	return x.ToBytes()
}

// handleBroadcast verifies a beacon against the address it came from and
// passes that address on for validation.
func (c *Communicator) handleBroadcast(b []byte, addr *net.UDPAddr) error {
	x, err := wire.BroadcastFromBytes(b)
	if err != nil {
		return err
	}
	if x.Sender == c.id {
		return nil
	}
	address := FormatAddress(addr)
	if !x.Sender.Verify(x.Signature[:], wire.BroadcastSignedData(x.Sender, address)) {
		return ErrSignature
	}
	instrument.DatagramReceived(instrument.KindBroadcast)
	c.cfg.Transport.ValidateAddress(x.Sender, Network, address)
	return nil
}

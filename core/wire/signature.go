// SPDX-FileCopyrightText: Copyright (C) 2017  David Anthony Stainton, Yawning Angel
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"encoding/binary"

	"github.com/katzenpost/hpqc/hash"

	"github.com/katzenpost/communicator/core/crypto/keys"
)

const purposeHeaderSize = 8

func purpose(size int, p uint32) []byte {
	out := make([]byte, purposeHeaderSize, size)
	binary.BigEndian.PutUint32(out[0:], uint32(size))
	binary.BigEndian.PutUint32(out[4:], p)
	return out
}

// HandshakeSignedData returns the data a KX sender signs, binding the
// ephemeral key and the monotonic time to both identities.
func HandshakeSignedData(sender, receiver keys.PeerID, ephemeral [EphemeralSize]byte, monotime uint64) []byte {
	const size = purposeHeaderSize + 2*PeerIDSize + EphemeralSize + 8
	out := purpose(size, PurposeHandshake)
	out = append(out, sender[:]...)
	out = append(out, receiver[:]...)
	out = append(out, ephemeral[:]...)
	return binary.BigEndian.AppendUint64(out, monotime)
}

// BroadcastSignedData returns the data a beacon sender signs, binding its
// identity to the address string it is reachable at.
func BroadcastSignedData(sender keys.PeerID, address string) []byte {
	const size = purposeHeaderSize + PeerIDSize + hash.HashSize
	h := hash.Sum256([]byte(address))
	out := purpose(size, PurposeBroadcast)
	out = append(out, sender[:]...)
	return append(out, h[:]...)
}

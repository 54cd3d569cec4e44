// SPDX-FileCopyrightText: Copyright (C) 2017  David Anthony Stainton, Yawning Angel
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"encoding/binary"
	"errors"

	"github.com/katzenpost/communicator/core/crypto/kdf"
	"github.com/katzenpost/communicator/core/crypto/keys"
)

var (
	// ErrTruncated is the error returned when a buffer is too short to hold
	// the structure being decoded.
	ErrTruncated = errors.New("wire: truncated datagram")

	// ErrInvalidMessage is the error returned when an inner message header
	// is malformed.
	ErrInvalidMessage = errors.New("wire: invalid message")
)

func putFlag(b []byte, v bool) {
	var f uint32
	if v {
		f = 1
	}
	binary.BigEndian.PutUint32(b, f)
}

func getFlag(b []byte) bool {
	return binary.BigEndian.Uint32(b) != 0
}

// InitialKX is the cleartext header of a KX datagram.  It is followed by
// the sealed UDPConfirmation, upper layer payload and padding.
type InitialKX struct {
	Ephemeral [EphemeralSize]byte
	Tag       [TagSize]byte
	Rekeying  bool
}

// ToBytes serializes the header.
func (k *InitialKX) ToBytes() []byte {
	out := make([]byte, InitialKXSize)
	copy(out[0:], k.Ephemeral[:])
	copy(out[EphemeralSize:], k.Tag[:])
	putFlag(out[EphemeralSize+TagSize:], k.Rekeying)
	return out
}

// InitialKXFromBytes deserializes the header at the start of b.
func InitialKXFromBytes(b []byte) (*InitialKX, error) {
	if len(b) < InitialKXSize {
		return nil, ErrTruncated
	}
	k := new(InitialKX)
	copy(k.Ephemeral[:], b[0:])
	copy(k.Tag[:], b[EphemeralSize:])
	k.Rekeying = getFlag(b[EphemeralSize+TagSize:])
	return k, nil
}

// Confirmation is the first part of every decrypted KX payload, binding
// the ephemeral key to the sender's identity.
type Confirmation struct {
	Sender        keys.PeerID
	Signature     [SignatureSize]byte
	MonotonicTime uint64
}

// ToBytes serializes the confirmation.
func (c *Confirmation) ToBytes() []byte {
	out := make([]byte, ConfirmationSize)
	copy(out[0:], c.Sender[:])
	copy(out[PeerIDSize:], c.Signature[:])
	binary.BigEndian.PutUint64(out[PeerIDSize+SignatureSize:], c.MonotonicTime)
	return out
}

// ConfirmationFromBytes deserializes the confirmation at the start of b.
func ConfirmationFromBytes(b []byte) (*Confirmation, error) {
	if len(b) < ConfirmationSize {
		return nil, ErrTruncated
	}
	c := new(Confirmation)
	copy(c.Sender[:], b[0:])
	copy(c.Signature[:], b[PeerIDSize:])
	c.MonotonicTime = binary.BigEndian.Uint64(b[PeerIDSize+SignatureSize:])
	return c, nil
}

// Box is the cleartext header of a box datagram.
type Box struct {
	KID      kdf.KID
	Tag      [TagSize]byte
	Rekeying bool
}

// ToBytes serializes the header.
func (x *Box) ToBytes() []byte {
	out := make([]byte, BoxHeaderSize)
	copy(out[0:], x.KID[:])
	copy(out[KIDSize:], x.Tag[:])
	putFlag(out[KIDSize+TagSize:], x.Rekeying)
	return out
}

// BoxFromBytes deserializes the header at the start of b.
func BoxFromBytes(b []byte) (*Box, error) {
	if len(b) < BoxHeaderSize {
		return nil, ErrTruncated
	}
	x := new(Box)
	copy(x.KID[:], b[0:])
	copy(x.Tag[:], b[KIDSize:])
	x.Rekeying = getFlag(b[KIDSize+TagSize:])
	return x, nil
}

// Rekey is the cleartext header of a rekey datagram, the sealed payload of
// which starts with the new master secret.
type Rekey struct {
	KID    kdf.KID
	Tag    [TagSize]byte
	Sender keys.PeerID
}

// ToBytes serializes the header.
func (r *Rekey) ToBytes() []byte {
	out := make([]byte, RekeyHeaderSize)
	copy(out[0:], r.KID[:])
	copy(out[KIDSize:], r.Tag[:])
	copy(out[KIDSize+TagSize:], r.Sender[:])
	return out
}

// RekeyFromBytes deserializes the header at the start of b.
func RekeyFromBytes(b []byte) (*Rekey, error) {
	if len(b) < RekeyHeaderSize {
		return nil, ErrTruncated
	}
	r := new(Rekey)
	copy(r.KID[:], b[0:])
	copy(r.Tag[:], b[KIDSize:])
	copy(r.Sender[:], b[KIDSize+TagSize:])
	return r, nil
}

// PeekKID returns the key cache identifier a box or rekey datagram would
// carry.
func PeekKID(b []byte) (kdf.KID, bool) {
	var kid kdf.KID
	if len(b) < KIDSize {
		return kid, false
	}
	copy(kid[:], b)
	return kid, true
}

// Broadcast is a signed beacon announcing a peer on the local network.
type Broadcast struct {
	Sender    keys.PeerID
	Signature [SignatureSize]byte
}

// ToBytes serializes the beacon.
func (x *Broadcast) ToBytes() []byte {
	out := make([]byte, BroadcastSize)
	copy(out[0:], x.Sender[:])
	copy(out[PeerIDSize:], x.Signature[:])
	return out
}

// BroadcastFromBytes deserializes a beacon, which must be exactly
// BroadcastSize bytes.
func BroadcastFromBytes(b []byte) (*Broadcast, error) {
	if len(b) != BroadcastSize {
		return nil, ErrTruncated
	}
	x := new(Broadcast)
	copy(x.Sender[:], b[0:])
	copy(x.Signature[:], b[PeerIDSize:])
	return x, nil
}

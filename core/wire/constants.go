// SPDX-FileCopyrightText: Copyright (C) 2017  David Anthony Stainton, Yawning Angel
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"github.com/katzenpost/communicator/core/crypto/kdf"
	"github.com/katzenpost/communicator/core/crypto/keys"
)

const (
	// TagSize is the size of the AES-GCM authentication tag.
	TagSize = 16

	// KIDSize is the size of a key cache identifier.
	KIDSize = kdf.KIDSize

	// CMACSize is the size of a secret tag.
	CMACSize = kdf.CMACSize

	// PeerIDSize is the size of a peer identity.
	PeerIDSize = keys.PeerIDSize

	// SignatureSize is the size of an identity signature.
	SignatureSize = keys.SignatureSize

	// EphemeralSize is the size of an ephemeral public key.
	EphemeralSize = keys.EphemeralSize

	// MasterSize is the size of a master secret.
	MasterSize = keys.MasterSize

	rekeyingFlagSize = 4
	monotimeSize     = 8

	// InitialKXSize is the size of the cleartext InitialKX header.
	InitialKXSize = EphemeralSize + TagSize + rekeyingFlagSize

	// ConfirmationSize is the size of the UDPConfirmation leading every
	// decrypted KX payload.
	ConfirmationSize = PeerIDSize + SignatureSize + monotimeSize

	// BoxHeaderSize is the size of the cleartext UDPBox header.
	BoxHeaderSize = KIDSize + TagSize + rekeyingFlagSize

	// RekeyHeaderSize is the size of the cleartext UDPRekey header.
	RekeyHeaderSize = KIDSize + TagSize + PeerIDSize

	// BroadcastSize is the size of a UDPBroadcast beacon.
	BroadcastSize = PeerIDSize + SignatureSize

	// MinKXSize is the smallest datagram that can hold a KX.
	MinKXSize = InitialKXSize + ConfirmationSize

	// MessageHeaderSize is the size of an inner message header.
	MessageHeaderSize = 4

	// AckSize is the size of an inner UDPAck message, header included.
	AckSize = MessageHeaderSize + 4 + 4 + CMACSize

	// MaxDatagramSize is the largest datagram ever sent.
	MaxDatagramSize = 1452

	// MaxKXPayload is the largest upper layer message that fits in a KX.
	MaxKXPayload = MaxDatagramSize - MinKXSize - MessageHeaderSize

	// MaxBoxPayload is the largest upper layer message that fits in a box.
	MaxBoxPayload = MaxDatagramSize - BoxHeaderSize - MessageHeaderSize
)

// Inner message types.
const (
	TypePad  uint16 = 1460
	TypeAck  uint16 = 1461
	TypeData uint16 = 1462
)

// Signature purposes.
const (
	PurposeHandshake uint32 = 31
	PurposeBroadcast uint32 = 32
)

// PaddingBuckets are the datagram sizes outbound datagrams are padded to.
var PaddingBuckets = []int{256, 512, 1024, MaxDatagramSize}

// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package communicator

import "errors"

var (
	// ErrNoCredit is the error returned when a message is sent on a data
	// queue that has no acknowledged key left to encrypt it with.
	ErrNoCredit = errors.New("communicator: no credit on the data queue")

	// ErrMessageTooLarge is the error returned when a message does not fit
	// in a single datagram.
	ErrMessageTooLarge = errors.New("communicator: message too large")

	// ErrUnknownQueue is the error returned when a queue handle refers to a
	// queue that has been torn down.
	ErrUnknownQueue = errors.New("communicator: unknown queue")

	// ErrInvalidAddress is the error returned when an address string can
	// not be parsed.
	ErrInvalidAddress = errors.New("communicator: invalid address")

	// ErrSignature is the error returned when a handshake or beacon
	// signature does not verify.
	ErrSignature = errors.New("communicator: invalid signature")

	// ErrReplay is the error returned when a handshake is replayed.
	ErrReplay = errors.New("communicator: replayed handshake")
)

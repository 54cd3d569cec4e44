// SPDX-FileCopyrightText: Copyright (C) 2017  David Anthony Stainton, Yawning Angel
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/katzenpost/communicator/core/crypto/kdf"
)

// Message is an inner message carried inside a decrypted datagram.
type Message struct {
	Type uint16
	Body []byte
}

func putMessageHeader(b []byte, size int, typ uint16) {
	binary.BigEndian.PutUint16(b[0:], uint16(size))
	binary.BigEndian.PutUint16(b[2:], typ)
}

// NextMessage splits the first inner message from b.  It returns false
// when b does not start with a well formed message header, which is how
// short trailing padding terminates a datagram.
func NextMessage(b []byte) (Message, []byte, bool) {
	if len(b) < MessageHeaderSize {
		return Message{}, nil, false
	}
	size := int(binary.BigEndian.Uint16(b[0:]))
	if size < MessageHeaderSize || size > len(b) {
		return Message{}, nil, false
	}
	m := Message{
		Type: binary.BigEndian.Uint16(b[2:]),
		Body: b[MessageHeaderSize:size],
	}
	return m, b[size:], true
}

// AppendData appends payload framed as a data message to dst.
func AppendData(dst []byte, payload []byte) ([]byte, error) {
	size := MessageHeaderSize + len(payload)
	if size > MaxDatagramSize {
		return nil, fmt.Errorf("wire: data message of %d bytes is too large", len(payload))
	}
	var hdr [MessageHeaderSize]byte
	putMessageHeader(hdr[:], size, TypeData)
	dst = append(dst, hdr[:]...)
	return append(dst, payload...), nil
}

// Ack is the inner message granting the encrypting side credit to use
// the sequence numbers up to SequenceMax of the secret named by CMAC.
type Ack struct {
	SequenceMax   uint32
	AcksAvailable uint32
	CMAC          kdf.CMAC
}

// ToBytes serializes the ack, message header included.
func (a *Ack) ToBytes() []byte {
	out := make([]byte, AckSize)
	putMessageHeader(out, AckSize, TypeAck)
	binary.BigEndian.PutUint32(out[4:], a.SequenceMax)
	binary.BigEndian.PutUint32(out[8:], a.AcksAvailable)
	copy(out[12:], a.CMAC[:])
	return out
}

// AckFromBytes deserializes a complete ack message, header included.
func AckFromBytes(b []byte) (*Ack, error) {
	m, _, ok := NextMessage(b)
	if !ok || m.Type != TypeAck {
		return nil, ErrInvalidMessage
	}
	return AckFromBody(m.Body)
}

// AckFromBody deserializes the body of an ack message.
func AckFromBody(b []byte) (*Ack, error) {
	if len(b) != AckSize-MessageHeaderSize {
		return nil, ErrInvalidMessage
	}
	a := &Ack{
		SequenceMax:   binary.BigEndian.Uint32(b[0:]),
		AcksAvailable: binary.BigEndian.Uint32(b[4:]),
	}
	copy(a.CMAC[:], b[8:])
	return a, nil
}

// PaddedSize returns the padding bucket a datagram of n bytes is padded
// to, or n itself when it exceeds every bucket.
func PaddedSize(n int) int {
	for _, b := range PaddingBuckets {
		if n <= b {
			return b
		}
	}
	return n
}

// AppendPadding appends n bytes of padding read from r to dst.  Padding of
// at least a message header is framed as a pad message so that a reader
// stops there, shorter padding is left as raw noise.
func AppendPadding(dst []byte, n int, r io.Reader) ([]byte, error) {
	if n <= 0 {
		return dst, nil
	}
	off := len(dst)
	dst = append(dst, make([]byte, n)...)
	pad := dst[off:]
	if _, err := io.ReadFull(r, pad); err != nil {
		return nil, err
	}
	if n >= MessageHeaderSize {
		size := n
		if size > 0xffff {
			size = 0xffff
		}
		putMessageHeader(pad, size, TypePad)
	}
	return dst, nil
}

// Pad pads plaintext so that a datagram of headerSize cleartext bytes
// followed by it fills the smallest padding bucket that fits.
func Pad(plaintext []byte, headerSize int, r io.Reader) ([]byte, error) {
	total := headerSize + len(plaintext)
	if total > MaxDatagramSize {
		return nil, fmt.Errorf("wire: datagram of %d bytes exceeds %d", total, MaxDatagramSize)
	}
	return AppendPadding(plaintext, PaddedSize(total)-total, r)
}

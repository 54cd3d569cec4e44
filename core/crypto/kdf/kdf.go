// kdf.go - Per sequence key derivation.
// Copyright (C) 2022  David Stainton.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package kdf derives the per sequence number AEAD keys, the key cache
// identifiers and the public secret tag from a master secret, using
// HKDF-SHA512 with independent salts for each use.
package kdf

import (
	"crypto/sha512"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/katzenpost/communicator/core/crypto/keys"
)

const (
	// KeySize is the size of an AES-256 key.
	KeySize = 32

	// IVSize is the size of an AES-GCM nonce.
	IVSize = 12

	// KIDSize is the size of a key cache identifier.
	KIDSize = 32

	// CMACSize is the size of a secret tag.
	CMACSize = 64

	saltKeyIV = "UDP-IV-KEY"
	saltKID   = "UDP-KID"
	saltCMAC  = "CMAC"
	infoCMAC  = "CMAC"
)

// KID is a key cache identifier.
type KID [KIDSize]byte

// CMAC names a master secret on the wire without revealing it.
type CMAC [CMACSize]byte

func expand(master *keys.Master, salt string, info []byte, out []byte) {
	r := hkdf.New(sha512.New, master[:], []byte(salt), info)
	if _, err := io.ReadFull(r, out); err != nil {
		// Only reachable when asking for more than 255 hash blocks.
		panic("kdf: hkdf expansion failed: " + err.Error())
	}
}

func seqInfo(seq uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], seq)
	return b[:]
}

// KeyIV returns the AEAD key and nonce for the sequence number seq.
func KeyIV(master *keys.Master, seq uint32) (key [KeySize]byte, iv [IVSize]byte) {
	var out [KeySize + IVSize]byte
	expand(master, saltKeyIV, seqInfo(seq), out[:])
	copy(key[:], out[:KeySize])
	copy(iv[:], out[KeySize:])
	for i := range out {
		out[i] = 0
	}
	return
}

// DeriveKID returns the key cache identifier for the sequence number seq.
func DeriveKID(master *keys.Master, seq uint32) KID {
	var kid KID
	expand(master, saltKID, seqInfo(seq), kid[:])
	return kid
}

// DeriveCMAC returns the tag naming master.
func DeriveCMAC(master *keys.Master) CMAC {
	var c CMAC
	expand(master, saltCMAC, []byte(infoCMAC), c[:])
	return c
}

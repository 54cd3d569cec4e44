// SPDX-FileCopyrightText: Copyright (C) 2017  David Anthony Stainton, Yawning Angel
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"

	"github.com/katzenpost/communicator/core/crypto/kdf"
)

// ErrDecrypt is the error returned when an authentication tag does not
// verify.
var ErrDecrypt = errors.New("wire: decryption failed")

func newGCM(key *[kdf.KeySize]byte) cipher.AEAD {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		panic("wire: aes.NewCipher: " + err.Error())
	}
	aead, err := cipher.NewGCMWithTagSize(block, TagSize)
	if err != nil {
		panic("wire: cipher.NewGCM: " + err.Error())
	}
	return aead
}

// Seal encrypts plaintext in place and returns the detached tag.  The
// ciphertext has the same length as the plaintext.
func Seal(key *[kdf.KeySize]byte, iv *[kdf.IVSize]byte, plaintext []byte) (tag [TagSize]byte) {
	aead := newGCM(key)
	out := aead.Seal(plaintext[:0], iv[:], plaintext, nil)
	copy(plaintext, out[:len(plaintext)])
	copy(tag[:], out[len(plaintext):])
	return
}

// Open authenticates and decrypts ciphertext with the detached tag,
// returning a freshly allocated plaintext.  The input is not modified.
func Open(key *[kdf.KeySize]byte, iv *[kdf.IVSize]byte, tag *[TagSize]byte, ciphertext []byte) ([]byte, error) {
	aead := newGCM(key)
	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag[:]...)
	pt, err := aead.Open(sealed[:0], iv[:], sealed, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

// keys.go - Peer identities, ephemeral keys and master secret agreement.
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

// Package keys provides the EdDSA peer identities and the ephemeral X25519
// keys from which communicator master secrets are agreed.
//
// A peer identity is an Ed25519 public key.  Diffie-Hellman against an
// identity is done on the birationally equivalent Montgomery point, so
// both ends of a handshake arrive at the same master secret:
//
//	initiator: X25519(ephemeral, Montgomery(peerID))
//	responder: X25519(scalar(identity), ephemeral public)
package keys

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"

	"github.com/katzenpost/hpqc/nike/x25519"
	"github.com/katzenpost/hpqc/sign/ed25519"
)

const (
	// PeerIDSize is the size of a PeerID in bytes.
	PeerIDSize = ed25519.PublicKeySize

	// SignatureSize is the size of an identity signature in bytes.
	SignatureSize = ed25519.SignatureSize

	// EphemeralSize is the size of a serialized ephemeral public key.
	EphemeralSize = x25519.GroupElementLength

	// MasterSize is the size of a master secret in bytes.
	MasterSize = blake2b.Size
)

var (
	// ErrInvalidPeerID is the error returned when a PeerID is not a valid
	// Edwards point.
	ErrInvalidPeerID = errors.New("keys: invalid peer identity")

	// ErrInvalidEphemeral is the error returned when an ephemeral public
	// key is malformed or of low order.
	ErrInvalidEphemeral = errors.New("keys: invalid ephemeral public key")
)

// PeerID is the public identity of a peer.
type PeerID [PeerIDSize]byte

// PeerIDFromBytes returns the PeerID encoded in b.
func PeerIDFromBytes(b []byte) (PeerID, error) {
	var id PeerID
	if len(b) != PeerIDSize {
		return id, fmt.Errorf("keys: peer identity is %d bytes, expected %d", len(b), PeerIDSize)
	}
	copy(id[:], b)
	return id, nil
}

// String returns an abbreviated hex representation of the PeerID suitable
// for logging.
func (id PeerID) String() string {
	return hex.EncodeToString(id[:8])
}

// Verify returns true iff sig is a valid signature of msg by id.
func (id PeerID) Verify(sig, msg []byte) bool {
	pk := new(ed25519.PublicKey)
	if err := pk.FromBytes(id[:]); err != nil {
		return false
	}
	return pk.Verify(sig, msg)
}

func (id PeerID) montgomery() ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(id[:])
	if err != nil {
		return nil, ErrInvalidPeerID
	}
	return p.BytesMontgomery(), nil
}

// Master is a 64 byte master secret, the root of a key derivation chain.
type Master [MasterSize]byte

// Equal compares two master secrets in constant time.
func (m *Master) Equal(other *Master) bool {
	return hmac.Equal(m[:], other[:])
}

// Reset clears the master secret.
func (m *Master) Reset() {
	for i := range m {
		m[i] = 0
	}
}

func masterFromDH(priv, pub []byte) (*Master, error) {
	dh, err := curve25519.X25519(priv, pub)
	if err != nil {
		return nil, ErrInvalidEphemeral
	}
	m := Master(blake2b.Sum512(dh))
	for i := range dh {
		dh[i] = 0
	}
	return &m, nil
}

// Identity is our long term EdDSA identity key pair.
type Identity struct {
	privKey *ed25519.PrivateKey
	id      PeerID
	scalar  [32]byte
}

// NewIdentity generates a new Identity from the entropy source r.
func NewIdentity(r io.Reader) (*Identity, error) {
	privKey, _, err := ed25519.NewKeypair(r)
	if err != nil {
		return nil, err
	}
	return IdentityFromPrivateKey(privKey)
}

// IdentityFromPrivateKey wraps an existing EdDSA private key.
func IdentityFromPrivateKey(privKey *ed25519.PrivateKey) (*Identity, error) {
	b := privKey.Bytes()
	if len(b) != ed25519.PrivateKeySize {
		return nil, errors.New("keys: invalid identity private key")
	}
	i := &Identity{privKey: privKey}
	copy(i.id[:], privKey.PublicKey().Bytes())

	// The X25519 scalar of an Ed25519 key is the (clamped) lower half of
	// SHA-512(seed); curve25519.X25519 does the clamping.
	h := sha512.Sum512(b[:ed25519.KeySeedSize])
	copy(i.scalar[:], h[:32])
	return i, nil
}

// PeerID returns the public identity.
func (i *Identity) PeerID() PeerID {
	return i.id
}

// PrivateKey returns the underlying EdDSA private key.
func (i *Identity) PrivateKey() *ed25519.PrivateKey {
	return i.privKey
}

// Sign signs msg.
func (i *Identity) Sign(msg []byte) []byte {
	return i.privKey.SignMessage(msg)
}

// DeriveMaster computes the master secret shared with the holder of the
// ephemeral private key whose public half is ephemeral.
func (i *Identity) DeriveMaster(ephemeral []byte) (*Master, error) {
	if len(ephemeral) != EphemeralSize {
		return nil, ErrInvalidEphemeral
	}
	return masterFromDH(i.scalar[:], ephemeral)
}

// Ephemeral is a single use X25519 key pair.
type Ephemeral struct {
	privKey *x25519.PrivateKey
	pub     [EphemeralSize]byte
}

// NewEphemeral generates a new Ephemeral from the entropy source r.
func NewEphemeral(r io.Reader) (*Ephemeral, error) {
	privKey, err := x25519.NewKeypair(r)
	if err != nil {
		return nil, err
	}
	e := &Ephemeral{privKey: privKey}
	copy(e.pub[:], privKey.Public().Bytes())
	return e, nil
}

// Public returns the public key.
func (e *Ephemeral) Public() [EphemeralSize]byte {
	return e.pub
}

// DeriveMaster computes the master secret shared with the peer.
func (e *Ephemeral) DeriveMaster(peer PeerID) (*Master, error) {
	u, err := peer.montgomery()
	if err != nil {
		return nil, err
	}
	return masterFromDH(e.privKey.Bytes(), u)
}

// Reset clears the private key.
func (e *Ephemeral) Reset() {
	e.privKey.Reset()
}

// keys_test.go - Identity and master secret tests.
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

package keys

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/hpqc/rand"
)

func TestMasterAgreement(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	bob, err := NewIdentity(rand.Reader)
	require.NoError(err)

	eph, err := NewEphemeral(rand.Reader)
	require.NoError(err)

	initiator, err := eph.DeriveMaster(bob.PeerID())
	require.NoError(err)

	pub := eph.Public()
	responder, err := bob.DeriveMaster(pub[:])
	require.NoError(err)
	require.True(initiator.Equal(responder), "both sides agree on the master secret")

	eph2, err := NewEphemeral(rand.Reader)
	require.NoError(err)
	other, err := eph2.DeriveMaster(bob.PeerID())
	require.NoError(err)
	require.False(initiator.Equal(other), "fresh ephemeral, fresh master")
}

func TestIdentitySignVerify(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	alice, err := NewIdentity(rand.Reader)
	require.NoError(err)

	msg := []byte("This ain't no place for no hero")
	sig := alice.Sign(msg)
	require.Len(sig, SignatureSize)

	id := alice.PeerID()
	require.True(id.Verify(sig, msg))

	msg[0] ^= 0x01
	require.False(id.Verify(sig, msg))

	restored, err := IdentityFromPrivateKey(alice.PrivateKey())
	require.NoError(err)
	require.Equal(id, restored.PeerID())

	_, err = PeerIDFromBytes(id[:4])
	require.Error(err)
	fromBytes, err := PeerIDFromBytes(id[:])
	require.NoError(err)
	require.Equal(id, fromBytes)
}

func TestDeriveMasterRejectsLowOrder(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	bob, err := NewIdentity(rand.Reader)
	require.NoError(err)

	var zero [EphemeralSize]byte
	_, err = bob.DeriveMaster(zero[:])
	require.ErrorIs(err, ErrInvalidEphemeral)

	_, err = bob.DeriveMaster(zero[:3])
	require.ErrorIs(err, ErrInvalidEphemeral)
}

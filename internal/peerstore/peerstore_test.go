// peerstore_test.go - Peer store tests.
// Copyright (C) 2017  Yawning Angel
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

package peerstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/communicator/core/crypto/keys"
)

func TestPeerStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "peers.db")

	var peer keys.PeerID
	peer[0] = 0x23

	frozen := time.Unix(1700000000, 0)
	var last uint64

	ok := t.Run("create", func(t *testing.T) {
		require := require.New(t)

		s, err := New(dbPath)
		require.NoError(err)
		s.now = func() time.Time { return frozen }

		a, err := s.NextMonotime()
		require.NoError(err)
		b, err := s.NextMonotime()
		require.NoError(err)
		require.Equal(uint64(frozen.UnixMicro()), a)
		require.Greater(b, a, "strictly increasing under a frozen clock")
		last = b

		require.NoError(s.CheckMonotime(peer, 10))
		require.NoError(s.CheckMonotime(peer, 10), "equal time is accepted")
		require.NoError(s.CheckMonotime(peer, 20))
		require.ErrorIs(s.CheckMonotime(peer, 19), ErrStale)
		require.Equal(1, s.Peers())

		require.NoError(s.Close())
	})
	require.True(t, ok, "create failed, skipping load test")

	t.Run("load", func(t *testing.T) {
		require := require.New(t)

		s, err := New(dbPath)
		require.NoError(err)
		defer s.Close()

		// A clock that went backwards across the restart.
		s.now = func() time.Time { return frozen.Add(-time.Hour) }
		c, err := s.NextMonotime()
		require.NoError(err)
		require.Equal(last+1, c)

		require.ErrorIs(s.CheckMonotime(peer, 15), ErrStale)
		require.NoError(s.CheckMonotime(peer, 21))
	})
}

func TestCheckVersion(t *testing.T) {
	require := require.New(t)

	require.NoError(checkVersion([]byte{dbVersion}))
	for _, b := range [][]byte{
		{},
		{dbVersion + 1},
		{dbVersion, dbVersion},
	} {
		require.ErrorContains(checkVersion(b), "incompatible version", "version %x", b)
	}
}

// peerstore.go - BoltDB backed monotonic time store.
// Copyright (C) 2017  Yawning Angel.
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

// Package peerstore persists the monotonic handshake times that protect the
// KX against replay across restarts: our own strictly increasing time, and
// the newest time accepted from every peer.
package peerstore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/katzenpost/communicator/core/crypto/keys"
)

const (
	metadataBucket = "metadata"
	peersBucket    = "peers"

	versionKey  = "version"
	monotimeKey = "monotime"

	dbVersion = 0
)

// ErrStale is the error returned when a peer's handshake time is older than
// one already accepted.
var ErrStale = errors.New("peerstore: stale monotonic time")

type localRecord struct {
	Monotime uint64 `cbor:"1,keyasint"`
}

type peerRecord struct {
	Monotime uint64 `cbor:"1,keyasint"`
	LastSeen int64  `cbor:"2,keyasint"`
}

// Store is a peer store.
type Store struct {
	sync.Mutex

	db  *bolt.DB
	now func() time.Time
}

// NextMonotime returns a monotonic time strictly greater than every value
// previously returned by the store, including before a restart.
func (s *Store) NextMonotime() (uint64, error) {
	s.Lock()
	defer s.Unlock()

	var t uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(metadataBucket))

		var rec localRecord
		if b := bkt.Get([]byte(monotimeKey)); b != nil {
			if err := cbor.Unmarshal(b, &rec); err != nil {
				return err
			}
		}
		t = uint64(s.now().UnixMicro())
		if t <= rec.Monotime {
			t = rec.Monotime + 1
		}
		rec.Monotime = t

		b, err := cbor.Marshal(&rec)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(monotimeKey), b)
	})
	return t, err
}

// CheckMonotime records t as the handshake time of peer, and returns
// ErrStale iff a newer time was already accepted from the peer.
func (s *Store) CheckMonotime(peer keys.PeerID, t uint64) error {
	s.Lock()
	defer s.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(peersBucket))

		var rec peerRecord
		if b := bkt.Get(peer[:]); b != nil {
			if err := cbor.Unmarshal(b, &rec); err != nil {
				return err
			}
			if t < rec.Monotime {
				return ErrStale
			}
		}
		rec.Monotime = t
		rec.LastSeen = s.now().Unix()

		b, err := cbor.Marshal(&rec)
		if err != nil {
			return err
		}
		return bkt.Put(peer[:], b)
	})
}

// Peers returns the number of peers with a recorded handshake time.
func (s *Store) Peers() int {
	n := 0
	s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(peersBucket)).Stats().KeyN
		return nil
	})
	return n
}

// Close closes the store.
func (s *Store) Close() error {
	if err := s.db.Sync(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

func checkVersion(b []byte) error {
	if len(b) != 1 || b[0] != dbVersion {
		return fmt.Errorf("peerstore: incompatible version: %x", b)
	}
	return nil
}

// New creates (or loads) a peer store with the given file name f.
func New(f string) (*Store, error) {
	db, err := bolt.Open(f, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:  db,
		now: time.Now,
	}

	if err = db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(peersBucket)); err != nil {
			return err
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			return checkVersion(b)
		}
		return bkt.Put([]byte(versionKey), []byte{dbVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

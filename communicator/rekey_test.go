// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package communicator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// smallRekey makes the first data message after the handshake trigger a
// rekey, since the handshake ack box already counts towards the limit.
func smallRekey(cfg *Config) {
	cfg.RekeyMaxBytes = 50
}

func TestRekeyPromote(t *testing.T) {
	require := require.New(t)

	n := newTestNet(t)
	a := n.newNode(2086, smallRekey)
	b := n.newNode(2087, nil)
	qa, _ := handshake(t, n, a, b)
	r := a.c.lookupReceiver(qa.key)
	s := b.c.senders[peerAddr{a.peer(), a.address()}]
	require.NotNil(s)

	require.NoError(qa.Send([]byte("x")))
	require.Equal(rekeyInFlight, r.rekey.phase)
	require.Equal(kcnTarget-3, r.acksAvailable)
	require.Equal(2, r.rekey.reserved)
	require.Len(n.inflight, 2)

	n.settle()
	require.True(s.rekeying)
	require.NotNil(s.ssRekey)
	require.Equal(rekeyConfirmed, r.rekey.phase)
	require.Equal(0, r.rekey.reserved)
	require.False(r.rekey.retryTask.pending())
	require.Equal(kcnTarget-3, qa.Credit())

	// Spend the old credit; the last box promotes the new secret.
	for i := 0; i < kcnTarget-3; i++ {
		require.NoError(qa.Send([]byte("x")))
		n.pump()
	}
	require.Equal(rekeyStable, r.rekey.phase)
	require.Nil(r.rekey.next)
	require.Equal(1, r.secrets.Len())
	require.Equal(kcnTarget, qa.Credit())
	require.Equal(2, s.secrets.Len())

	// The first unflagged box under the new secret is the cutover.
	require.NoError(qa.Send([]byte("x")))
	n.pump()
	require.False(s.rekeying)
	require.Nil(s.ssRekey)
	require.Equal(1, s.secrets.Len())
	require.Len(b.c.kces, kcnTarget-1)
	require.Len(b.tr.deliveries, kcnTarget)
}

func TestRekeyRetry(t *testing.T) {
	require := require.New(t)

	n := newTestNet(t)
	a := n.newNode(2086, smallRekey)
	b := n.newNode(2087, nil)
	qa, _ := handshake(t, n, a, b)
	r := a.c.lookupReceiver(qa.key)

	require.NoError(qa.Send([]byte("x")))
	dgs := n.take()
	require.Len(dgs, 2)
	n.deliver(dgs[0])
	n.settle()
	require.Equal(rekeyInFlight, r.rekey.phase)
	require.Equal([]string{"hello", "x"}, b.tr.messages())

	// The retry is a flagged padding box from the data credit and the
	// rekey once more.
	n.advance(a.c.cfg.RekeyRetryInterval)
	n.settle()
	require.Equal(rekeyConfirmed, r.rekey.phase)
	require.Equal(kcnTarget-5, qa.Credit())
	require.Equal([]string{"hello", "x"}, b.tr.messages())
}

func TestRekeyAbandon(t *testing.T) {
	require := require.New(t)

	n := newTestNet(t)
	a := n.newNode(2086, smallRekey)
	b := n.newNode(2087, nil)
	qa, _ := handshake(t, n, a, b)
	r := a.c.lookupReceiver(qa.key)

	// Nothing b says reaches a any longer.
	n.drop = func(d *datagram) bool {
		return d.from == b.addr
	}

	require.NoError(qa.Send([]byte("x")))
	n.settle()
	require.Equal(rekeyInFlight, r.rekey.phase)

	sent := 1
	for {
		if err := qa.Send([]byte("x")); err != nil {
			require.ErrorIs(err, ErrNoCredit)
			break
		}
		sent++
		n.pump()
	}
	require.Equal(kcnTarget-4, sent)
	require.Equal(2, r.acksAvailable)
	require.Equal(2, r.rekey.reserved)

	// The retry spends the reserve, leaving nothing to carry on with.
	n.advance(a.c.cfg.RekeyRetryInterval)
	require.Equal(rekeyStable, r.rekey.phase)
	require.Nil(r.rekey.next)
	require.Equal(0, r.acksAvailable)
	require.Equal(0, qa.Credit())
	require.ErrorIs(qa.Send([]byte("x")), ErrNoCredit)

	// A handshake always gets through and starts over.
	n.drop = nil
	require.NoError(qa.SendHandshake([]byte("again")))
	n.settle()
	require.Equal(kcnTarget, qa.Credit())
	s := b.c.senders[peerAddr{a.peer(), a.address()}]
	require.False(s.rekeying)
	require.Nil(s.ssRekey)
	require.Equal("again", b.tr.messages()[len(b.tr.deliveries)-1])

	// The unacknowledged rekey secret lives on as an ordinary one.
	require.Equal(3, s.secrets.Len())
}

func TestRekeyLateBox(t *testing.T) {
	require := require.New(t)

	n := newTestNet(t)
	a := n.newNode(2086, func(cfg *Config) {
		cfg.RekeyMaxBytes = 200
	})
	b := n.newNode(2087, nil)
	qa, _ := handshake(t, n, a, b)
	r := a.c.lookupReceiver(qa.key)
	s := b.c.senders[peerAddr{a.peer(), a.address()}]
	require.NotNil(s)

	// The first of three boxes is held back, the third arms a rekey.
	msg := make([]byte, 60)
	require.NoError(qa.Send(msg))
	late := n.take()
	require.Len(late, 1)
	require.NoError(qa.Send(msg))
	require.Equal(rekeyStable, r.rekey.phase)
	require.NoError(qa.Send(msg))
	require.Equal(rekeyInFlight, r.rekey.phase)
	n.settle()
	require.Equal(rekeyConfirmed, r.rekey.phase)
	require.NotNil(s.ssRekey)

	// A box from before the rekey is no reason to give up on it.
	n.deliver(late[0])
	require.NotNil(s.ssRekey)
	require.Len(b.tr.deliveries, 4)

	credit := qa.Credit()
	require.Equal(kcnTarget-5, credit)
	for i := 0; i < credit; i++ {
		require.NoError(qa.Send([]byte("x")))
		n.pump()
	}
	require.Equal(rekeyStable, r.rekey.phase)
	require.Equal(kcnTarget, qa.Credit())

	require.NoError(qa.Send([]byte("after")))
	n.pump()
	require.Len(b.tr.deliveries, kcnTarget)
	require.Equal("after", b.tr.messages()[kcnTarget-1])
	require.False(s.rekeying)
	require.Nil(s.ssRekey)
	require.Equal(1, s.secrets.Len())
	require.Equal(kcnTarget-1, qa.Credit())
}

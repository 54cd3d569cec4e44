// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package communicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdleTimeout(t *testing.T) {
	t.Run("expire", func(t *testing.T) {
		require := require.New(t)

		n := newTestNet(t)
		a := n.newNode(2086, nil)
		b := n.newNode(2087, nil)
		handshake(t, n, a, b)

		deadline, ok := a.c.NextDeadline()
		require.True(ok)
		require.True(deadline.After(n.now))

		n.advance(DefaultIdleTimeout + time.Second)
		for _, node := range []*testNode{a, b} {
			require.Empty(node.c.senders)
			require.Empty(node.c.receivers)
			require.Empty(node.c.kces)
			require.Equal(0, node.c.tasks.Len())
			require.Equal(0, node.c.senderTimeouts.Len())
			require.Equal(0, node.c.receiverTimeouts.Len())
			_, ok = node.c.NextDeadline()
			require.False(ok)
		}
		require.Equal([]string{b.address()}, a.tr.closed)
		require.Equal([]string{a.address()}, b.tr.closed)
	})

	t.Run("touch", func(t *testing.T) {
		require := require.New(t)

		n := newTestNet(t)
		a := n.newNode(2086, nil)
		b := n.newNode(2087, nil)
		qa, _ := handshake(t, n, a, b)

		n.advance(4 * time.Minute)
		require.NoError(qa.Send([]byte("still here")))
		n.pump()
		n.advance(2 * time.Minute)

		// a sent and b received, the other directions went idle.
		require.Empty(a.tr.closed)
		require.Empty(a.c.senders)
		require.NotNil(a.c.lookupReceiver(qa.key))
		require.Equal([]string{a.address()}, b.tr.closed)
		require.Len(b.c.senders, 1)
	})
}

func TestScheduler(t *testing.T) {
	require := require.New(t)

	n := newTestNet(t)
	a := n.newNode(2086, nil)

	var ran []int
	a.c.schedule(2*time.Second, func() { ran = append(ran, 2) })
	t1 := a.c.schedule(time.Second, func() { ran = append(ran, 1) })
	a.c.schedule(3*time.Second, func() { ran = append(ran, 3) })

	deadline, ok := a.c.NextDeadline()
	require.True(ok)
	require.Equal(n.now.Add(time.Second).UnixNano(), deadline.UnixNano())

	a.c.cancel(t1)
	require.False(t1.pending())

	n.advance(2 * time.Second)
	require.Equal([]int{2}, ran)
	n.advance(time.Second)
	require.Equal([]int{2, 3}, ran)
	_, ok = a.c.NextDeadline()
	require.False(ok)
}

// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package communicator

import (
	"time"

	"github.com/katzenpost/communicator/core/queue"
)

// Senders and receivers expire after IdleTimeout without activity.  The
// two heaps are keyed by absolute expiry and hold the peerAddr of their
// owner, never the owner itself, and a single task sweeps both.

func (c *Communicator) touch(q *queue.PriorityQueue, ent **queue.Entry, key peerAddr) {
	exp := uint64(c.now().Add(c.cfg.IdleTimeout).UnixNano())
	if (*ent).Queued() {
		q.Update(*ent, exp)
	} else {
		*ent = q.Enqueue(exp, key)
	}
	c.rescheduleSweep()
}

func (c *Communicator) touchSender(s *sender) {
	c.touch(c.senderTimeouts, &s.timeout, s.key)
}

func (c *Communicator) touchReceiver(r *receiver) {
	c.touch(c.receiverTimeouts, &r.timeout, r.key)
}

func (c *Communicator) rescheduleSweep() {
	var next uint64
	for _, q := range []*queue.PriorityQueue{c.senderTimeouts, c.receiverTimeouts} {
		if e := q.Peek(); e != nil && (next == 0 || e.Priority < next) {
			next = e.Priority
		}
	}
	if next == 0 {
		c.cancel(c.sweepTask)
		c.sweepTask = nil
		return
	}
	if c.sweepTask.pending() {
		if c.sweepTask.entry.Priority == next {
			return
		}
		c.cancel(c.sweepTask)
	}
	c.sweepTask = c.scheduleAt(time.Unix(0, int64(next)), c.sweepTimeouts)
}

func (c *Communicator) sweepTimeouts() {
	c.sweepTask = nil
	now := uint64(c.now().UnixNano())

	for e := c.senderTimeouts.Peek(); e != nil && e.Priority <= now; e = c.senderTimeouts.Peek() {
		key := e.Value.(peerAddr)
		if s, ok := c.senders[key]; ok {
			c.log.Debugf("Sender %v at %v timed out", key.peer, key.addr)
			c.destroySender(s)
		} else {
			c.senderTimeouts.Remove(e)
		}
	}
	for e := c.receiverTimeouts.Peek(); e != nil && e.Priority <= now; e = c.receiverTimeouts.Peek() {
		key := e.Value.(peerAddr)
		if r := c.lookupReceiver(key); r != nil {
			c.log.Debugf("Receiver %v at %v timed out", key.peer, key.addr)
			c.destroyReceiver(r)
		} else {
			c.receiverTimeouts.Remove(e)
		}
	}
	c.rescheduleSweep()
}

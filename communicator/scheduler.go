// SPDX-FileCopyrightText: Copyright (C) 2025 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package communicator

import (
	"time"

	"github.com/katzenpost/communicator/core/queue"
)

// task is a deferred call.  Whoever owns the state a task touches holds
// the task and cancels it when that state is destroyed.
type task struct {
	fn    func()
	entry *queue.Entry
}

func (t *task) pending() bool {
	return t != nil && t.entry.Queued()
}

func (c *Communicator) scheduleAt(at time.Time, fn func()) *task {
	t := &task{fn: fn}
	t.entry = c.tasks.Enqueue(uint64(at.UnixNano()), t)
	return t
}

func (c *Communicator) schedule(d time.Duration, fn func()) *task {
	return c.scheduleAt(c.now().Add(d), fn)
}

func (c *Communicator) cancel(t *task) {
	if t != nil {
		c.tasks.Remove(t.entry)
	}
}

// RunDue runs every deferred task that is due.
func (c *Communicator) RunDue() {
	now := uint64(c.now().UnixNano())
	for {
		e := c.tasks.Peek()
		if e == nil || e.Priority > now {
			return
		}
		c.tasks.Dequeue()
		e.Value.(*task).fn()
	}
}

// NextDeadline returns when RunDue next has work to do, and false if no
// task is scheduled.
func (c *Communicator) NextDeadline() (time.Time, bool) {
	e := c.tasks.Peek()
	if e == nil {
		return time.Time{}, false
	}
	return time.Unix(0, int64(e.Priority)), true
}

// priority_queue.go - Indexed min-heap priority queue.
// Copyright (C) 2017, 2018  David Anthony Stainton, Yawning Angel
//
// This was inspired by the priority queue example in the godocs:
// https://golang.org/pkg/container/heap/
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

// Package queue implements a priority queue whose entries can be
// re-prioritized or removed in place.
package queue

import "container/heap"

// Entry is a PriorityQueue entry.  The Entry returned by Enqueue is a
// stable handle that may be passed to Update and Remove for as long as
// it remains queued.
type Entry struct {
	Value    interface{}
	Priority uint64

	index int
}

// Queued returns true iff the entry is currently held by a queue.
func (e *Entry) Queued() bool {
	return e != nil && e.index >= 0
}

// PriorityQueue is a priority queue instance.
type PriorityQueue struct {
	heap []*Entry
}

// Less implements sort.Interface Less method
func (q PriorityQueue) Less(i, j int) bool {
	return q.heap[i].Priority < q.heap[j].Priority
}

// Swap implements sort.Interface Swap method
func (q PriorityQueue) Swap(i, j int) {
	if i < 0 || j < 0 {
		return
	}
	q.heap[i], q.heap[j] = q.heap[j], q.heap[i]
	q.heap[i].index = i
	q.heap[j].index = j
}

// Push implements heap.Interface Push method
func (q *PriorityQueue) Push(x interface{}) {
	entry := x.(*Entry)
	entry.index = len(q.heap)
	q.heap = append(q.heap, entry)
}

// Pop implements heap.Interface Pop method.
func (q *PriorityQueue) Pop() interface{} {
	if q.Len() <= 0 {
		return nil
	}
	n := len(q.heap)
	e := q.heap[n-1]
	q.heap[n-1] = nil
	q.heap = q.heap[:n-1]
	e.index = -1
	return e
}

// Len returns the current length of the priority queue.
func (q *PriorityQueue) Len() int {
	return len(q.heap)
}

// Peek returns the 0th entry (lowest priority) if any, leaving the
// PriorityQueue unaltered.  Callers MUST NOT alter the Priority of the
// returned entry, use Update instead.
func (q *PriorityQueue) Peek() *Entry {
	if q.Len() <= 0 {
		return nil
	}
	return q.heap[0]
}

// Enqueue inserts the provided value into the queue with the specified
// priority, and returns the handle of the new entry.
func (q *PriorityQueue) Enqueue(priority uint64, value interface{}) *Entry {
	ent := &Entry{
		Value:    value,
		Priority: priority,
	}
	heap.Push(q, ent)
	return ent
}

// Dequeue removes and returns the lowest priority entry if any.
func (q *PriorityQueue) Dequeue() *Entry {
	if q.Len() <= 0 {
		return nil
	}
	return heap.Pop(q).(*Entry)
}

// Update changes the priority of a queued entry and restores the heap
// ordering.
func (q *PriorityQueue) Update(e *Entry, priority uint64) {
	if !q.owns(e) {
		panic("BUG: queue: Update() of an entry not in this queue")
	}
	e.Priority = priority
	heap.Fix(q, e.index)
}

// Remove removes the entry from the queue.  It returns false if the entry
// was not queued.
func (q *PriorityQueue) Remove(e *Entry) bool {
	if !q.owns(e) {
		return false
	}
	heap.Remove(q, e.index)
	return true
}

func (q *PriorityQueue) owns(e *Entry) bool {
	return e.Queued() && e.index < len(q.heap) && q.heap[e.index] == e
}

// New creates a new PriorityQueue.
func New() *PriorityQueue {
	q := &PriorityQueue{
		heap: make([]*Entry, 0),
	}
	heap.Init(q)
	return q
}

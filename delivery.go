// Copyright 2026 The go-insnav Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package insnav

import (
	"sync"

	"github.com/insnav/go-insnav/internal/syncutil"
)

// Subscriber receives decoded messages on the delivery worker.
type Subscriber func(*Message)

type subscription struct {
	fn    Subscriber
	key   uint64
	id    byte
	anyID bool
}

// deliveryQueue is an unbounded FIFO drained by a single worker, so a slow
// subscriber delays later deliveries but never the reader.
type deliveryQueue struct {
	cond   *sync.Cond
	done   chan struct{}
	items  []*Message
	mu     syncutil.Mutex
	closed bool
}

func newDeliveryQueue() *deliveryQueue {
	q := &deliveryQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends m. It reports false once the queue is closed.
func (q *deliveryQueue) push(m *Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, m)
	q.cond.Signal()
	return true
}

// pop blocks for the next message. ok is false once the queue is closed.
func (q *deliveryQueue) pop() (*Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	m := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return m, true
}

// len returns the number of undelivered messages.
func (q *deliveryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// run delivers messages until close. It is the queue's only consumer.
func (q *deliveryQueue) run(dispatch func(*Message)) {
	defer close(q.done)
	for {
		m, ok := q.pop()
		if !ok {
			return
		}
		dispatch(m)
	}
}

// close discards pending messages and stops the worker after its current
// delivery. It does not wait; see done.
func (q *deliveryQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
	q.mu.Unlock()
}

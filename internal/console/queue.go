package console

import "sync"

// changeQueue is an unbounded FIFO in front of a channel, used for
// subscribers that must see every change. publish never blocks on it.
type changeQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Change
	closed bool
	out    chan Change
}

func newChangeQueue() *changeQueue {
	q := &changeQueue{out: make(chan Change)}
	q.cond = sync.NewCond(&q.mu)
	go q.pump()
	return q
}

func (q *changeQueue) push(ch Change) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, ch)
	q.cond.Signal()
}

// close stops accepting changes. Queued changes are still delivered before
// out is closed.
func (q *changeQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *changeQueue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		ch := q.items[0]
		q.items[0] = Change{}
		q.items = q.items[1:]
		q.mu.Unlock()

		q.out <- ch
	}
}

package kernel

import "container/list"

// waitQueue is the priority-sorted doubly linked queue used by every
// synchronization primitive. Head is the
// highest-effective-priority (lowest numeric value) thread; ties are
// broken FIFO.
type waitQueue struct {
	name string
	l    list.List
}

func newWaitQueue(name string) *waitQueue {
	q := &waitQueue{name: name}
	q.l.Init()
	return q
}

func (q *waitQueue) empty() bool { return q.l.Len() == 0 }

func (q *waitQueue) len() int { return q.l.Len() }

// insert splices t into the queue in priority order, highest priority
// (lowest number) first, FIFO among equals.
func (q *waitQueue) insert(t *Thread) {
	for e := q.l.Front(); e != nil; e = e.Next() {
		if e.Value.(*Thread).priority > t.priority {
			t.waitElem = q.l.InsertBefore(t, e)
			return
		}
	}
	t.waitElem = q.l.PushBack(t)
}

// remove splices t out of the queue, wherever it sits.
func (q *waitQueue) remove(t *Thread) {
	if t.waitElem != nil {
		q.l.Remove(t.waitElem)
		t.waitElem = nil
	}
}

// relink re-sorts t in place after its priority changed (priority
// inheritance, SetThreadPriority): remove then insert preserves the
// queue's sort invariant.
func (q *waitQueue) relink(t *Thread) {
	if t.waitElem == nil {
		return
	}
	q.remove(t)
	q.insert(t)
}

func (q *waitQueue) front() *Thread {
	if e := q.l.Front(); e != nil {
		return e.Value.(*Thread)
	}
	return nil
}

// forEach walks head to tail; the callback must not mutate the queue it is
// iterating (callers snapshot via drain when that's needed).
func (q *waitQueue) forEach(fn func(*Thread)) {
	for e := q.l.Front(); e != nil; e = e.Next() {
		fn(e.Value.(*Thread))
	}
}

// snapshot returns a head-to-tail copy of the queue's members without
// removing them, so a caller can release the scheduler lock partway
// through a scan.
func (q *waitQueue) snapshot() []*Thread {
	out := make([]*Thread, 0, q.l.Len())
	for e := q.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Thread))
	}
	return out
}

// drain removes and returns every thread in the queue, head to tail.
func (q *waitQueue) drain() []*Thread {
	out := make([]*Thread, 0, q.l.Len())
	for e := q.l.Front(); e != nil; {
		next := e.Next()
		t := e.Value.(*Thread)
		q.l.Remove(e)
		t.waitElem = nil
		out = append(out, t)
		e = next
	}
	return out
}

// readyQueue is the per-core variant: same sort order, but elements also
// need O(1) removal from up to NumCores such queues simultaneously
// (affinity fan-out), tracked via Thread.readyElem.
type readyQueue struct {
	core CoreID
	l    list.List
}

func newReadyQueue(core CoreID) *readyQueue {
	q := &readyQueue{core: core}
	q.l.Init()
	return q
}

func (q *readyQueue) empty() bool { return q.l.Len() == 0 }

func (q *readyQueue) insert(t *Thread) {
	for e := q.l.Front(); e != nil; e = e.Next() {
		if e.Value.(*Thread).priority > t.priority {
			t.readyElem[q.core] = q.l.InsertBefore(t, e)
			return
		}
	}
	t.readyElem[q.core] = q.l.PushBack(t)
}

func (q *readyQueue) remove(t *Thread) {
	if e := t.readyElem[q.core]; e != nil {
		q.l.Remove(e)
		t.readyElem[q.core] = nil
	}
}

func (q *readyQueue) front() *Thread {
	if e := q.l.Front(); e != nil {
		return e.Value.(*Thread)
	}
	return nil
}

func (q *readyQueue) relink(t *Thread) {
	if t.readyElem[q.core] == nil {
		return
	}
	q.remove(t)
	q.insert(t)
}

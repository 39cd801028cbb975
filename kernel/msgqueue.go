package kernel

const msgQueueTag uint32 = 0x4d534751 // "MSGQ"

// MessageFlag is a bitfield of OSSendMessage/OSReceiveMessage options.
type MessageFlag uint32

const (
	MessageBlocking     MessageFlag = 1 << 0
	MessageHighPriority MessageFlag = 1 << 1
)

// Message is the guest's fixed 16-byte mailbox payload: an opaque message
// id plus three word-sized arguments.
type Message struct {
	ID   uint32
	Args [3]uint32
}

// MessageQueue is a fixed-capacity ring buffer of Message values, grounded on catrate/ring.go's slice-backed ringBuffer shape —
// adapted here from lock-free single-producer counters to scheduler-lock
// guarded access, since unlike catrate's rate-limiter ring this queue must
// block producers and consumers.
type MessageQueue struct {
	tag  uint32
	name string

	messages []Message
	first    int
	used     int

	sendQueue *waitQueue
	recvQueue *waitQueue
}

// InitMessageQueue implements OSInitMessageQueue: backing storage is
// caller-provided, matching every other primitive's "guest owns the
// struct" model.
func InitMessageQueue(mq *MessageQueue, name string, buf []Message) {
	mq.tag = msgQueueTag
	mq.name = name
	mq.messages = buf
	mq.first = 0
	mq.used = 0
	mq.sendQueue = newWaitQueue(name + ".send")
	mq.recvQueue = newWaitQueue(name + ".recv")
}

func ensureMessageQueue(mq *MessageQueue) {
	if mq.tag != msgQueueTag {
		InitMessageQueue(mq, mq.name, mq.messages)
	}
}

func (mq *MessageQueue) size() int   { return len(mq.messages) }
func (mq *MessageQueue) full() bool  { return mq.used == mq.size() }
func (mq *MessageQueue) empty() bool { return mq.used == 0 }

// SendMessage implements OSSendMessage. Returns false
// immediately on a full queue when flags lacks MessageBlocking.
func (s *Scheduler) SendMessage(self *Thread, mq *MessageQueue, msg Message, flags MessageFlag) bool {
	s.lock.acquire(schedulerLockID)
	ensureMessageQueue(mq)

	if mq.full() {
		if flags&MessageBlocking == 0 {
			s.lock.release(schedulerLockID)
			return false
		}
		for mq.full() {
			s.sleepThread(self, mq.sendQueue)
			out := s.rescheduleAll(self)
			s.lock.release(schedulerLockID)
			if out {
				self.park()
			}
			s.lock.acquire(schedulerLockID)
		}
	}

	n := mq.size()
	if flags&MessageHighPriority != 0 {
		mq.first = (mq.first - 1 + n) % n
		mq.messages[mq.first] = msg
	} else {
		idx := (mq.first + mq.used) % n
		mq.messages[idx] = msg
	}
	mq.used++

	s.wakeupAll(mq.recvQueue)
	s.rescheduleAll(self)
	s.lock.release(schedulerLockID)
	return true
}

// ReceiveMessage implements OSReceiveMessage, symmetric to SendMessage.
func (s *Scheduler) ReceiveMessage(self *Thread, mq *MessageQueue, flags MessageFlag) (Message, bool) {
	s.lock.acquire(schedulerLockID)
	ensureMessageQueue(mq)

	if mq.empty() {
		if flags&MessageBlocking == 0 {
			s.lock.release(schedulerLockID)
			return Message{}, false
		}
		for mq.empty() {
			s.sleepThread(self, mq.recvQueue)
			out := s.rescheduleAll(self)
			s.lock.release(schedulerLockID)
			if out {
				self.park()
			}
			s.lock.acquire(schedulerLockID)
		}
	}

	msg := mq.messages[mq.first]
	mq.first = (mq.first + 1) % mq.size()
	mq.used--

	s.wakeupAll(mq.sendQueue)
	s.rescheduleAll(self)
	s.lock.release(schedulerLockID)
	return msg, true
}

// PeekMessage implements OSPeekMessage: non-blocking, does not remove the
// head message.
func (s *Scheduler) PeekMessage(mq *MessageQueue) (Message, bool) {
	s.lock.acquire(schedulerLockID)
	defer s.lock.release(schedulerLockID)
	ensureMessageQueue(mq)
	if mq.empty() {
		return Message{}, false
	}
	return mq.messages[mq.first], true
}

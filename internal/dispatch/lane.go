package dispatch

import (
	"sync"

	"github.com/gammazero/deque"

	"edit-hooks/internal/event"
	"edit-hooks/internal/strategy"
)

// lane 为单个策略的投递通道：一个无界 FIFO 队列加一个消费协程。
// 同一策略的回调只会在该协程内串行执行。
type lane struct {
	id      string
	handler strategy.OrderEditHandler

	mu      sync.Mutex
	queue   deque.Deque[event.Event]
	signal  chan struct{}
	quit    chan struct{}
	done    chan struct{}
	started bool
}

func newLane(id string, handler strategy.OrderEditHandler) *lane {
	return &lane{
		id:      id,
		handler: handler,
		signal:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// push 入队后唤醒消费协程，返回当前队列长度。
func (l *lane) push(ev event.Event) int {
	l.mu.Lock()
	l.queue.PushBack(ev)
	n := l.queue.Len()
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return n
}

func (l *lane) pop() (event.Event, int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queue.Len() == 0 {
		return nil, 0, false
	}
	ev := l.queue.PopFront()
	return ev, l.queue.Len(), true
}

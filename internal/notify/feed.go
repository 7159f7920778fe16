package notify

import "sync"

// Feed is a Notifier that broadcasts to channel subscribers.
// Slow subscribers do not block publishers: a full subscriber buffer drops
// the notification for that subscriber only.
type Feed struct {
	mu   sync.Mutex
	subs map[int]chan Notification
	next int
}

// NewFeed creates a feed with no subscribers.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan Notification)}
}

// Subscribe returns a channel of notifications and a function that
// unsubscribes and closes it.
func (f *Feed) Subscribe(buffer int) (<-chan Notification, func()) {
	ch := make(chan Notification, buffer)

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *Feed) Notify(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

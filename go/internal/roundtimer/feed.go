package roundtimer

import (
	"sync"
)

// Feed is the shared timer state read by every consumer that renders the
// countdown. The session publishes into it; readers either poll Load or
// subscribe for updates.
type Feed struct {
	mu    sync.RWMutex
	state State
	subs  map[int]chan State
	next  int
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan State)}
}

// Publish stores s and notifies subscribers. Slow subscribers only ever
// see the newest state.
func (f *Feed) Publish(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s == f.state {
		return
	}
	f.state = s
	for _, ch := range f.subs {
		select {
		case ch <- s:
		default:
			// drop the stale reading and retry once
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// Load returns the latest state.
func (f *Feed) Load() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Subscribe returns a channel receiving every published state and a
// function to stop the subscription.
func (f *Feed) Subscribe() (<-chan State, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	f.next++
	ch := make(chan State, 1)
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			close(ch)
		})
	}
}

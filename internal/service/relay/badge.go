package relay

import "sync"

// Badge counts forwarded messages for the current session, like the
// extension's toolbar badge.
type Badge struct {
	mu        sync.Mutex
	count     int
	listeners []func(int)
}

// OnChange registers fn to be called with every new count.
func (b *Badge) OnChange(fn func(int)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// Count returns the current value.
func (b *Badge) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *Badge) increment() int {
	return b.update(func(n int) int { return n + 1 })
}

func (b *Badge) reset() {
	b.update(func(int) int { return 0 })
}

func (b *Badge) update(fn func(int) int) int {
	b.mu.Lock()
	b.count = fn(b.count)
	n := b.count
	listeners := make([]func(int), len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, l := range listeners {
		l(n)
	}
	return n
}

package capture

import (
	"sync"

	"github.com/sarchlab/capseq/hw"
)

// Tracker counts how often each status bit of a slot was raised.
type Tracker struct {
	mu     sync.Mutex
	counts [2][32]uint64
}

func (t *Tracker) record(status0, status1 uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for bit := 0; bit < 32; bit++ {
		if status0&(1<<uint(bit)) != 0 {
			t.counts[0][bit]++
		}

		if status1&(1<<uint(bit)) != 0 {
			t.counts[1][bit]++
		}
	}
}

// Snapshot returns the non-zero counters keyed by bit name.
func (t *Tracker) Snapshot() map[string]uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]uint64)
	for word := 0; word < 2; word++ {
		for bit := 0; bit < 32; bit++ {
			if c := t.counts[word][bit]; c > 0 {
				out[hw.IRQ(word*32+bit).String()] = c
			}
		}
	}

	return out
}

// Count returns the counter of one bit.
func (t *Tracker) Count(irq hw.IRQ) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.counts[irq.Word()][irq.Bit()]
}

// Reset zeroes all counters.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts = [2][32]uint64{}
}

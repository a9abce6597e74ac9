// Package timestamp records when each frame started, indexed by the frame's
// running index.
package timestamp

import (
	"log"
	"time"
)

// Stamp is the pair of clocks sampled at a start of frame.
type Stamp struct {
	Wall time.Time
	Boot time.Duration
}

// Ring keeps the most recent Size() stamps. Index i and i+Size() share a
// slot, so readers must never look further back than Size() indices.
//
// A Ring is not safe for concurrent use. The capture session guards it with
// its own lock.
type Ring struct {
	stamps []Stamp
	mask   uint32
}

// NewRing creates a ring with size slots. Size must be a power of two.
func NewRing(size int) *Ring {
	if !IsPowerOfTwo(size) {
		log.Panicf("timestamp ring size %d is not a power of two", size)
	}

	return &Ring{
		stamps: make([]Stamp, size),
		mask:   uint32(size - 1),
	}
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Size returns the number of slots.
func (r *Ring) Size() int {
	return len(r.stamps)
}

// Record overwrites the slot of index.
func (r *Ring) Record(index uint32, wall time.Time, boot time.Duration) {
	r.stamps[index&r.mask] = Stamp{Wall: wall, Boot: boot}
}

// Read returns the stamp last recorded in the slot of index.
func (r *Ring) Read(index uint32) (time.Time, time.Duration) {
	s := r.stamps[index&r.mask]
	return s.Wall, s.Boot
}

// Stamp returns the stamp last recorded in the slot of index.
func (r *Ring) Stamp(index uint32) Stamp {
	return r.stamps[index&r.mask]
}

// Interval returns the boot time elapsed between index-1 and index. It is
// zero at index 0.
func (r *Ring) Interval(index uint32) time.Duration {
	if index == 0 {
		return 0
	}

	return r.stamps[index&r.mask].Boot - r.stamps[(index-1)&r.mask].Boot
}

// Extrapolate fills the slots from begin to end, inclusive, walking backward
// from end so that each slot sits one step before its successor. The step is
// the interval ending at ref.
func (r *Ring) Extrapolate(begin, end, ref uint32) {
	if ref == 0 || begin > end {
		return
	}

	refNow := r.stamps[ref&r.mask]
	refPrev := r.stamps[(ref-1)&r.mask]
	bootStep := refNow.Boot - refPrev.Boot
	wallStep := refNow.Wall.Sub(refPrev.Wall)

	for i := end; ; i-- {
		next := r.stamps[(i+1)&r.mask]
		r.stamps[i&r.mask] = Stamp{
			Wall: next.Wall.Add(-wallStep),
			Boot: next.Boot - bootStep,
		}

		if i == begin {
			return
		}
	}
}

// Reset clears every slot.
func (r *Ring) Reset() {
	for i := range r.stamps {
		r.stamps[i] = Stamp{}
	}
}

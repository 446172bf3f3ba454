package dma

import (
	"fmt"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultRingSize matches the reference controller sizing.
	DefaultRingSize = 4

	// DefaultMaxChunk is the largest buffer a single descriptor may
	// carry.
	DefaultMaxChunk = 4096
)

// Ring is the fixed-capacity descriptor ring for one controller slot. It is
// engine-owned and reused across requests; Begin resets it to a clean state
// for each new transfer.
//
// The ring has exactly one writer, the request engine's execution context.
// The controller side only reads descriptors it owns and clears their
// ownership bits.
type Ring struct {
	l     *logrus.Logger
	descs []Desc

	maxChunk int

	// remaining is the unfilled tail of the current transfer buffer.
	remaining []byte
	// nextDesc is the index of the next ring slot to fill.
	nextDesc int
	// outstanding counts descriptors not yet retired by the controller.
	outstanding int

	metricRefills metrics.Counter
}

// NewRing creates a ring with the given slot count and per-descriptor chunk
// limit. Zero or negative values select the defaults.
func NewRing(l *logrus.Logger, size, maxChunk int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	if maxChunk <= 0 {
		maxChunk = DefaultMaxChunk
	}
	return &Ring{
		l:             l,
		descs:         make([]Desc, size),
		maxChunk:      maxChunk,
		metricRefills: metrics.GetOrRegisterCounter("dma.refills", nil),
	}
}

// Size returns the number of slots in the ring.
func (r *Ring) Size() int {
	return len(r.descs)
}

// Remaining returns the number of transfer bytes not yet covered by a
// filled descriptor.
func (r *Ring) Remaining() int {
	return len(r.remaining)
}

// Outstanding returns the number of descriptors the controller has not yet
// retired.
func (r *Ring) Outstanding() int {
	return r.outstanding
}

// Begin primes the ring for a new transfer over buf. All slots are cleared,
// which also drops any stale ownership bits, the first slot is marked as the
// head of the transfer, and the ring is filled to capacity. The returned
// head is what gets handed to the DMA engine.
func (r *Ring) Begin(buf []byte) *Desc {
	for i := range r.descs {
		r.descs[i].reset()
	}
	r.descs[0].setFlags(descFirst)

	r.remaining = buf
	r.nextDesc = 0
	r.outstanding = (len(buf) + r.maxChunk - 1) / r.maxChunk

	r.Fill(len(r.descs))
	return &r.descs[0]
}

// Fill populates up to n ring slots from the remaining transfer bytes.
// Filling stops early once the transfer is fully covered; a partial fill is
// valid and expected. Each filled slot is handed to the controller by
// setting its ownership bit.
//
// Filling a slot the controller still owns is a timing bug in the caller
// and panics.
func (r *Ring) Fill(n int) {
	for i := 0; i < n; i++ {
		if len(r.remaining) == 0 {
			return
		}

		idx := r.nextDesc
		d := &r.descs[idx]
		if d.OwnedByController() {
			panic(fmt.Sprintf("dma: refusing to fill descriptor %d, still owned by the controller", idx))
		}

		size := len(r.remaining)
		if size > r.maxChunk {
			size = r.maxChunk
		}
		last := size == len(r.remaining)

		// The first bit stays put for the whole transfer, everything
		// else is derived fresh for this fill.
		flags := d.flagSet()&descFirst | descOwned
		d.buf = r.remaining[:size]
		if last {
			flags |= descLast
			d.next = nil
		} else {
			flags |= descChained
			d.next = &r.descs[(idx+1)%len(r.descs)]
		}
		d.setFlags(flags)

		r.remaining = r.remaining[size:]
		r.nextDesc = (idx + 1) % len(r.descs)
		r.metricRefills.Inc(1)

		r.l.WithFields(logrus.Fields{
			"desc":      idx,
			"size":      size,
			"remaining": len(r.remaining),
			"last":      last,
		}).Debug("Filled DMA descriptor")
	}
}

// Retire records that the controller finished one descriptor. Retiring more
// descriptors than were outstanding means the DMA completion bookkeeping
// went sideways and panics.
func (r *Ring) Retire() {
	if r.outstanding == 0 {
		panic("dma: retire with no outstanding descriptors")
	}
	r.outstanding--
}

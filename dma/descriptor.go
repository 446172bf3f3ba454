package dma

import "sync/atomic"

// descFlag is a flag that describes a [Desc].
type descFlag uint32

const (
	// descOwned marks the descriptor as claimed by the controller.
	// Software sets it when handing the descriptor over and only the
	// controller clears it.
	descOwned descFlag = 1 << iota
	// descFirst marks the first descriptor of a transfer.
	descFirst
	// descLast marks the descriptor whose buffer exhausts the transfer.
	descLast
	// descChained marks a descriptor that continues via Next.
	descChained
)

// Desc describes one contiguous chunk of a transfer buffer. Descriptors are
// chained into a ring; the controller walks the chain, consumes each buffer
// and clears the ownership bit when it is done with it.
//
// The flags word is the only field the controller side touches, so it is
// accessed atomically. Buffer and linkage are written by the ring manager
// strictly while the descriptor is not owned, and read by the consumer
// strictly while it is, so the ownership bit orders those accesses.
type Desc struct {
	flags atomic.Uint32
	buf   []byte
	next  *Desc
}

// OwnedByController reports whether the controller currently holds this
// descriptor. Software must not mutate the descriptor while this is true.
func (d *Desc) OwnedByController() bool {
	return descFlag(d.flags.Load())&descOwned != 0
}

// First reports whether this is the first descriptor of the transfer.
func (d *Desc) First() bool {
	return descFlag(d.flags.Load())&descFirst != 0
}

// Last reports whether this descriptor's buffer exhausts the transfer.
func (d *Desc) Last() bool {
	return descFlag(d.flags.Load())&descLast != 0
}

// Chained reports whether the chain continues via Next.
func (d *Desc) Chained() bool {
	return descFlag(d.flags.Load())&descChained != 0
}

// Buffer returns the chunk of the transfer buffer this descriptor covers.
// Only valid while the descriptor is owned by the controller.
func (d *Desc) Buffer() []byte {
	return d.buf
}

// Next returns the descriptor continuing the chain, or nil for the last
// descriptor.
func (d *Desc) Next() *Desc {
	return d.next
}

// Release clears the ownership bit. It is called by the consuming side (the
// hardware layer, or a test standing in for it) once the buffer has been
// fully processed. All other flags are left intact.
func (d *Desc) Release() {
	for {
		old := d.flags.Load()
		if d.flags.CompareAndSwap(old, old&^uint32(descOwned)) {
			return
		}
	}
}

// reset returns the descriptor to its zero state, clearing the ownership
// bit along with everything else.
func (d *Desc) reset() {
	d.flags.Store(0)
	d.buf = nil
	d.next = nil
}

func (d *Desc) setFlags(f descFlag) {
	d.flags.Store(uint32(f))
}

func (d *Desc) flagSet() descFlag {
	return descFlag(d.flags.Load())
}

// Package hwtest provides an in-memory Host implementation for tests and
// the smoke binary. It records every register access and can either play
// back scripted events or act as a well-behaved card that completes
// whatever it is asked.
package hwtest

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sdwire/sdmmc/dma"
	"github.com/sdwire/sdmmc/hw"
)

// IssuedCommand is one recorded StartCommand call.
type IssuedCommand struct {
	Word hw.CmdWord
	Arg  uint32
}

// Transfer is one recorded PrepareTransfer call.
type Transfer struct {
	Head     *dma.Desc
	BlockLen int
	DataLen  int
}

// Host is a fake controller. With AutoComplete set it answers every command
// with a command-done event and, for data commands, consumes the descriptor
// chain from a device goroutine exactly like the real DMA engine would:
// waiting for ownership, releasing each descriptor, raising one completion
// event per descriptor and a final data-over.
//
// Alternatively tests can script the exact events to deliver for the next
// command, or inject events directly with Deliver.
type Host struct {
	l *logrus.Logger

	// AutoComplete makes the host complete every command successfully.
	AutoComplete bool
	// InitErr, when set, is returned from Init to exercise failure paths.
	InitErr error

	mu         sync.Mutex
	handler    hw.EventHandler
	clockKHz   int
	response   [4]uint32
	script     []hw.Event
	pending    *Transfer
	commands   []IssuedCommand
	transfers  []Transfer
	dmaStops   int
	fifoResets int

	wg sync.WaitGroup
}

var _ hw.Host = (*Host)(nil)

func New(l *logrus.Logger) *Host {
	return &Host{l: l}
}

func (h *Host) Init(clockKHz int, handler hw.EventHandler) error {
	if h.InitErr != nil {
		return h.InitErr
	}
	h.mu.Lock()
	h.clockKHz = clockKHz
	h.handler = handler
	h.mu.Unlock()
	return nil
}

func (h *Host) StartCommand(word hw.CmdWord, arg uint32) {
	h.mu.Lock()
	h.commands = append(h.commands, IssuedCommand{Word: word, Arg: arg})
	script := h.script
	h.script = nil
	pending := h.pending
	h.pending = nil
	handler := h.handler
	h.mu.Unlock()

	if script != nil {
		for _, evt := range script {
			handler(evt)
		}
		return
	}
	if !h.AutoComplete {
		return
	}

	handler(hw.Event{Status: hw.IntCmdDone})
	if word&hw.CmdDataExpected != 0 && pending != nil {
		h.wg.Add(1)
		go h.serveTransfer(pending, handler)
	}
}

func (h *Host) PrepareTransfer(head *dma.Desc, blockLen, dataLen int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tr := Transfer{Head: head, BlockLen: blockLen, DataLen: dataLen}
	h.transfers = append(h.transfers, tr)
	h.pending = &tr
}

func (h *Host) StopDMA() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dmaStops++
}

func (h *Host) ResetFIFO() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fifoResets++
}

func (h *Host) Response() [4]uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.response
}

// serveTransfer walks the descriptor chain like the controller's DMA engine
// does: it only touches descriptors it owns, clears the ownership bit when
// a buffer is consumed and raises one completion event per descriptor. For
// transfers larger than the ring it naturally waits for the engine to
// refill slots.
func (h *Host) serveTransfer(tr *Transfer, handler hw.EventHandler) {
	defer h.wg.Done()

	served := 0
	d := tr.Head
	deadline := time.Now().Add(5 * time.Second)

	for served < tr.DataLen {
		for !d.OwnedByController() {
			if time.Now().After(deadline) {
				h.l.WithField("served", served).Error("Transfer stalled waiting for a descriptor")
				return
			}
			time.Sleep(50 * time.Microsecond)
		}

		served += len(d.Buffer())
		next := d.Next()
		last := d.Last()
		d.Release()
		handler(hw.Event{DMAStatus: hw.DMANormalSummary})

		if last {
			break
		}
		d = next
	}

	handler(hw.Event{Status: hw.IntDataOver})
}

// ScriptEvents queues events to be delivered, in order, when the next
// command is issued. Scripted commands bypass AutoComplete.
func (h *Host) ScriptEvents(evts ...hw.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.script = append(h.script, evts...)
}

// Deliver invokes the registered interrupt handler directly.
func (h *Host) Deliver(evt hw.Event) {
	h.mu.Lock()
	handler := h.handler
	h.mu.Unlock()
	handler(evt)
}

// SetResponse sets the raw response register words returned by Response.
func (h *Host) SetResponse(words [4]uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.response = words
}

// Wait blocks until any device goroutines spawned for transfers finished.
func (h *Host) Wait() {
	h.wg.Wait()
}

// Commands returns a copy of all recorded StartCommand calls.
func (h *Host) Commands() []IssuedCommand {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]IssuedCommand(nil), h.commands...)
}

// Transfers returns a copy of all recorded PrepareTransfer calls.
func (h *Host) Transfers() []Transfer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Transfer(nil), h.transfers...)
}

// DMAStops returns how many times StopDMA was called.
func (h *Host) DMAStops() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dmaStops
}

// FIFOResets returns how many times ResetFIFO was called.
func (h *Host) FIFOResets() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fifoResets
}

// ClockKHz returns the clock rate passed to Init.
func (h *Host) ClockKHz() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clockKHz
}

package hw

import "github.com/sdwire/sdmmc/dma"

// EventHandler receives hardware events as they are raised. Implementations
// are invoked from interrupt context and must neither block nor allocate.
type EventHandler func(Event)

// Host is the hardware-abstraction boundary for one SD/MMC controller slot.
// All operations are synchronous, side-effect-only register accesses with no
// return-value contract beyond "accepted"; the outcome of a command arrives
// later through the registered EventHandler.
type Host interface {
	// Init brings up controller clocking and registers the interrupt
	// handler for this slot. Called once, before any command is issued.
	Init(clockKHz int, handler EventHandler) error

	// StartCommand writes the command word and argument into the
	// controller, which sends the command to the card.
	StartCommand(word CmdWord, arg uint32)

	// PrepareTransfer hands the head of a primed descriptor chain plus
	// the per-block and total lengths to the DMA engine. Must be called
	// before StartCommand for commands that carry data.
	PrepareTransfer(head *dma.Desc, blockLen, dataLen int)

	// StopDMA aborts an in-flight DMA transfer.
	StopDMA()

	// ResetFIFO clears the controller data FIFO after a data error.
	ResetFIFO()

	// Response reads the four raw response registers. Word 0 is the
	// hardware's first response word.
	Response() [4]uint32
}

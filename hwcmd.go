package sdmmc

import (
	"fmt"

	"github.com/sdwire/sdmmc/hw"
)

// cardSlot is the fixed slot index this engine drives. Multi-slot operation
// is out of scope.
const cardSlot = 1

// makeCmdWord maps a command descriptor to the hardware command register
// word. The mapping is deterministic and free of side effects so it can be
// tested in isolation; the engine logs the result when issuing.
func makeCmdWord(cmd *Command) hw.CmdWord {
	w := hw.CmdWord(cmd.Opcode) & hw.CmdIndexMask

	// Default completion mode is wait-for-completion. Stop/abort-class
	// opcodes are the exception: they must go out while a transfer is
	// still running.
	if cmd.Opcode == OpStopTransmission {
		w |= hw.CmdStopAbort
	} else {
		w |= hw.CmdWaitComplete
	}

	// Bus-width switching clocks dummy data even though the caller
	// supplies no buffer.
	if cmd.Opcode == OpAppSetBusWidth {
		w |= hw.CmdSendAutoStop | hw.CmdDataExpected
	}

	if cmd.Flags&FlagResponsePresent != 0 {
		w |= hw.CmdResponseExpect
		if cmd.Flags&FlagResponse136 != 0 {
			w |= hw.CmdResponseLong
		}
	}
	if cmd.Flags&FlagResponseCRC != 0 {
		w |= hw.CmdCheckResponseCRC
	}

	if cmd.Data != nil {
		w |= hw.CmdDataExpected
		if cmd.Flags&FlagRead == 0 {
			w |= hw.CmdWrite
		}
		if len(cmd.Data)%cmd.BlockLen != 0 {
			panic(fmt.Sprintf("sdmmc: data length %d is not a multiple of block length %d",
				len(cmd.Data), cmd.BlockLen))
		}
		if cmd.multiBlock() {
			w |= hw.CmdSendAutoStop
		}
	}

	w |= hw.CmdUseHoldReg
	return w.WithCardSlot(cardSlot)
}

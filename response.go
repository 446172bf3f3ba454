package sdmmc

import (
	"github.com/sirupsen/logrus"

	"github.com/sdwire/sdmmc/hw"
)

// timeoutExpected reports whether a response timeout for the given opcode
// is part of normal protocol flow rather than an error. Identification
// broadcasts, deselects and stops legitimately go unanswered.
func timeoutExpected(opcode int) bool {
	switch opcode {
	case OpAllSendCID, OpSelectCard, OpStopTransmission:
		return true
	}
	return false
}

// decodeResponse captures the response registers into the command and
// triages the command-domain error bits. It runs on every command-done,
// success or not. Error precedence is fixed and first-wins: timeout, then
// CRC, then format error; the sticky field keeps whichever fired first.
func (e *Engine) decodeResponse(status uint32, cmd *Command) {
	if cmd.Flags&FlagResponsePresent != 0 {
		resp := e.host.Response()
		if cmd.Flags&FlagResponse136 != 0 {
			// The hardware presents the long response low word
			// first; callers expect the most significant word in
			// slot 0.
			cmd.Response[0] = resp[3]
			cmd.Response[1] = resp[2]
			cmd.Response[2] = resp[1]
			cmd.Response[3] = resp[0]
		} else {
			cmd.Response[0] = resp[0]
			cmd.Response[1] = 0
			cmd.Response[2] = 0
			cmd.Response[3] = 0
		}
	}

	if status&hw.IntRespTimeout != 0 && !timeoutExpected(cmd.Opcode) {
		cmd.setErr(ErrTimeout)
	} else if cmd.Flags&FlagResponseCRC != 0 && status&hw.IntRespCRCErr != 0 {
		cmd.setErr(ErrInvalidCRC)
	} else if status&hw.IntRespErr != 0 {
		cmd.setErr(ErrInvalidResponse)
	}

	if cmd.err != nil {
		if cmd.Data != nil {
			e.host.StopDMA()
			e.metricDMAAborts.Inc(1)
		}
		e.l.WithFields(logrus.Fields{
			"opcode": cmd.Opcode,
			"status": status,
		}).WithError(cmd.err).Error("Command failed")
	}
}

// decodeDataStatus triages the data-phase error bits. It runs from
// SendingData when the error mask fires and once more at final settlement
// in Busy, covering errors that only surface then. Any data error forces a
// controller FIFO reset.
func (e *Engine) decodeDataStatus(status uint32, cmd *Command) {
	if status&hw.DataErrMask == 0 {
		return
	}

	switch {
	case status&hw.IntDataTimeout != 0:
		cmd.setErr(ErrTimeout)
	case status&hw.IntDataCRCErr != 0:
		cmd.setErr(ErrInvalidCRC)
	case status&hw.IntEndBitErr != 0 && cmd.Flags&FlagRead == 0:
		// A missing end bit on a write means the card never acked the
		// block, which presents as a timeout to the caller.
		cmd.setErr(ErrTimeout)
	default:
		cmd.setErr(ErrFailed)
	}

	e.host.ResetFIFO()
	e.l.WithFields(logrus.Fields{
		"opcode": cmd.Opcode,
		"status": status,
	}).WithError(cmd.err).Error("Data phase error")
}

package hw

// Interrupt status bits reported by the controller in the command/response/
// data domain. The layout follows the usual DesignWare-style SD/MMC host:
// one status word for the card interface, a second one for the internal DMA
// engine.
const (
	IntCardDetect   uint32 = 1 << 0  // card presence changed
	IntRespErr      uint32 = 1 << 1  // response format error
	IntCmdDone      uint32 = 1 << 2  // command accepted by the card
	IntDataOver     uint32 = 1 << 3  // data transfer fully settled
	IntTxRequest    uint32 = 1 << 4  // FIFO wants more write data
	IntRxRequest    uint32 = 1 << 5  // FIFO has read data pending
	IntRespCRCErr   uint32 = 1 << 6  // response CRC check failed
	IntDataCRCErr   uint32 = 1 << 7  // data block CRC check failed
	IntRespTimeout  uint32 = 1 << 8  // no response from the card
	IntDataTimeout  uint32 = 1 << 9  // data phase timed out
	IntHostTimeout  uint32 = 1 << 10 // host could not keep the FIFO fed
	IntFIFOOverrun  uint32 = 1 << 11
	IntHardwareLock uint32 = 1 << 12
	IntStartBitErr  uint32 = 1 << 13
	IntAutoCmdDone  uint32 = 1 << 14 // auto-stop command completed
	IntEndBitErr    uint32 = 1 << 15
)

// Interrupt status bits reported by the internal DMA engine.
const (
	DMATransmitDone  uint32 = 1 << 0
	DMAReceiveDone   uint32 = 1 << 1
	DMAFatalBusErr   uint32 = 1 << 2
	DMADescUnavail   uint32 = 1 << 4
	DMACardErr       uint32 = 1 << 5
	DMANormalSummary uint32 = 1 << 8
	DMAAbnormSummary uint32 = 1 << 9
)

// Derived masks used by the request state machine.
const (
	// CmdErrMask covers everything that can go wrong while the command
	// itself is on the bus.
	CmdErrMask = IntRespTimeout | IntRespCRCErr | IntRespErr

	// DataErrMask covers the data-phase error bits.
	DataErrMask = IntDataTimeout | IntDataCRCErr | IntHostTimeout |
		IntStartBitErr | IntEndBitErr

	// DMADoneMask fires once per retired DMA descriptor.
	DMADoneMask = DMAReceiveDone | DMATransmitDone | DMANormalSummary
)

// CmdWord is the image of the controller's command register. It is derived
// purely from a command descriptor and never persisted beyond the issuing
// call.
type CmdWord uint32

const (
	// CmdIndexMask holds the 6-bit command opcode.
	CmdIndexMask CmdWord = 0x3f

	CmdResponseExpect   CmdWord = 1 << 6
	CmdResponseLong     CmdWord = 1 << 7
	CmdCheckResponseCRC CmdWord = 1 << 8
	CmdDataExpected     CmdWord = 1 << 9
	// CmdWrite sets the transfer direction to card-bound. Reads leave the
	// bit clear.
	CmdWrite        CmdWord = 1 << 10
	CmdSendAutoStop CmdWord = 1 << 12
	// CmdWaitComplete holds the command until any previous data transfer
	// has drained.
	CmdWaitComplete CmdWord = 1 << 13
	// CmdStopAbort marks a stop/abort-class command that may be issued
	// while a transfer is in progress.
	CmdStopAbort CmdWord = 1 << 14

	// CmdUseHoldReg routes the command through the extended timing
	// register. Always set, see the board timing notes.
	CmdUseHoldReg CmdWord = 1 << 29

	cmdCardNumShift = 16
)

// WithCardSlot returns the word with the card slot field populated.
func (w CmdWord) WithCardSlot(slot int) CmdWord {
	return w | CmdWord(slot&0x1f)<<cmdCardNumShift
}

// Index returns the command opcode encoded in the word.
func (w CmdWord) Index() int {
	return int(w & CmdIndexMask)
}

// Event is one hardware notification, captured atomically at interrupt time.
// Status holds the command/response/data bits, DMAStatus the DMA engine
// bits. The two are independent domains and may both be populated in a
// single event.
type Event struct {
	Status    uint32
	DMAStatus uint32
}

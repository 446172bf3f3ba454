package sdmmc

import "errors"

// Flags describe how a command's response and data phases behave on the
// bus.
type Flags uint32

const (
	// FlagResponsePresent means the card answers this command.
	FlagResponsePresent Flags = 1 << iota
	// FlagResponse136 selects the long, 136-bit response format.
	FlagResponse136
	// FlagResponseCRC means the response carries a CRC that the
	// controller should verify.
	FlagResponseCRC
	// FlagRead marks a card-to-host transfer. Data commands without this
	// flag are writes.
	FlagRead
)

// Opcodes with special handling in the encoder or the error decoder.
const (
	// OpAllSendCID is the broadcast card-identification command. Cards
	// legitimately leave it unanswered, so a response timeout is not an
	// error.
	OpAllSendCID = 2

	// OpAppSetBusWidth switches the bus width. It carries no
	// caller-supplied buffer but the controller still clocks dummy data,
	// so the encoder forces data-expected and auto-stop for it.
	OpAppSetBusWidth = 6

	// OpSelectCard is also on the timeout allow-list: deselecting with a
	// reserved address gets no response by design.
	OpSelectCard = 7

	// OpStopTransmission is the abort-class command that may be issued
	// mid-transfer.
	OpStopTransmission = 12
)

// Per-command error taxonomy. These end up in the command's sticky error
// field, never in Run's own return value.
var (
	// ErrTimeout is a response or data-phase timeout.
	ErrTimeout = errors.New("card did not respond in time")
	// ErrInvalidCRC is a response or data CRC failure.
	ErrInvalidCRC = errors.New("CRC check failed")
	// ErrInvalidResponse is a malformed response.
	ErrInvalidResponse = errors.New("card sent an invalid response")
	// ErrFailed is an unclassified data-phase failure.
	ErrFailed = errors.New("data transfer failed")
)

// ErrNotInitialized is returned by Run when the engine was not brought up.
var ErrNotInitialized = errors.New("engine is not initialized")

// Command describes one card command plus an optional data transfer. It is
// caller-owned and valid for the duration of a single Run call; the engine
// writes the response words and the error field in place.
type Command struct {
	// Opcode is the command index sent to the card.
	Opcode int
	// Arg is the 32-bit command argument.
	Arg uint32
	// Flags select the response and direction behavior.
	Flags Flags

	// Data is the transfer buffer, nil for commands without a data
	// phase. When present its length must be at least 4 bytes and an
	// exact multiple of BlockLen.
	Data []byte
	// BlockLen is the card block length for the data phase. Must be a
	// multiple of 4.
	BlockLen int

	// Response receives the response register words. For a long response
	// the words are reversed into big-endian-significant order; for a
	// short response word 0 is set and the rest zeroed.
	Response [4]uint32

	err error
}

// Err returns the sticky per-command error. A nil value after Run is the
// only success signal; Run's own return value only reports structural
// failures.
func (c *Command) Err() error {
	return c.err
}

// setErr records the first qualifying error for this request. Once set the
// field is never overwritten, so the earliest detected condition wins.
func (c *Command) setErr(err error) {
	if c.err == nil {
		c.err = err
	}
}

// multiBlock reports whether the data phase spans more than one block.
// Requires the data length to be an exact multiple of the block length,
// which Run validates up front.
func (c *Command) multiBlock() bool {
	return c.Data != nil && len(c.Data)/c.BlockLen > 1
}

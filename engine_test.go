package sdmmc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdwire/sdmmc/config"
	"github.com/sdwire/sdmmc/eventq"
	"github.com/sdwire/sdmmc/hw"
	"github.com/sdwire/sdmmc/hw/hwtest"
)

func TestEngine_RunRequiresInitialize(t *testing.T) {
	l := NewTestLogger()
	e := NewEngine(l, hwtest.New(l), nil)

	err := e.Run(&Command{Opcode: 0})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestEngine_InitializeHostFailure(t *testing.T) {
	l := NewTestLogger()
	host := hwtest.New(l)
	host.InitErr = errors.New("no such slot")

	e := NewEngine(l, host, nil)
	err := e.Initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init host controller")
}

func TestEngine_InitializeBadQueueDepth(t *testing.T) {
	l := NewTestLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString("engine:\n  queue_depth: -1"))

	e := NewEngine(l, hwtest.New(l), c)
	err := e.Initialize()
	assert.ErrorIs(t, err, eventq.ErrInvalidDepth)
}

func TestEngine_NoDataCommand(t *testing.T) {
	e, host := newTestEngine(t)
	host.AutoComplete = true
	host.SetResponse([4]uint32{0x900, 0, 0, 0})

	cmd := &Command{Opcode: 13, Flags: FlagResponsePresent | FlagResponseCRC}
	require.NoError(t, e.Run(cmd))

	assert.NoError(t, cmd.Err())
	assert.Equal(t, [4]uint32{0x900, 0, 0, 0}, cmd.Response)

	cmds := host.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, 13, cmds[0].Word.Index())
	assert.Empty(t, host.Transfers())
}

func TestEngine_SingleBlockWrite(t *testing.T) {
	e, host := newTestEngine(t)
	host.AutoComplete = true

	cmd := &Command{
		Opcode:   24,
		Flags:    FlagResponsePresent | FlagResponseCRC,
		Data:     make([]byte, 512),
		BlockLen: 512,
	}
	require.NoError(t, e.Run(cmd))
	host.Wait()

	assert.NoError(t, cmd.Err())

	trs := host.Transfers()
	require.Len(t, trs, 1)
	assert.Equal(t, 512, trs[0].DataLen)
	assert.Equal(t, 512, trs[0].BlockLen)
	// One descriptor covers the whole transfer.
	assert.True(t, trs[0].Head.First())
	assert.True(t, trs[0].Head.Last())
	assert.Nil(t, trs[0].Head.Next())
	// The controller retired it.
	assert.False(t, trs[0].Head.OwnedByController())

	cmds := host.Commands()
	require.Len(t, cmds, 1)
	assert.NotZero(t, cmds[0].Word&hw.CmdWrite)
	assert.Zero(t, cmds[0].Word&hw.CmdSendAutoStop)
}

func TestEngine_MultiChunkRead(t *testing.T) {
	e, host := newTestEngine(t)
	host.AutoComplete = true

	// Five 4 KiB chunks against a four slot ring forces a refill.
	cmd := &Command{
		Opcode:   18,
		Flags:    FlagResponsePresent | FlagResponseCRC | FlagRead,
		Data:     make([]byte, 5*4096),
		BlockLen: 512,
	}
	require.NoError(t, e.Run(cmd))
	host.Wait()

	assert.NoError(t, cmd.Err())

	cmds := host.Commands()
	require.Len(t, cmds, 1)
	assert.NotZero(t, cmds[0].Word&hw.CmdSendAutoStop)
	assert.Zero(t, cmds[0].Word&hw.CmdWrite)
}

func TestEngine_ResponseTimeoutSkipsDataPhase(t *testing.T) {
	e, host := newTestEngine(t)
	host.ScriptEvents(hw.Event{Status: hw.IntRespTimeout})

	cmd := &Command{
		Opcode:   17,
		Flags:    FlagResponsePresent | FlagRead,
		Data:     make([]byte, 512),
		BlockLen: 512,
	}
	require.NoError(t, e.Run(cmd))

	assert.ErrorIs(t, cmd.Err(), ErrTimeout)
	// The primed transfer was aborted, never served.
	assert.Equal(t, 1, host.DMAStops())
}

func TestEngine_DataCRCError(t *testing.T) {
	e, host := newTestEngine(t)
	host.ScriptEvents(
		hw.Event{Status: hw.IntCmdDone},
		hw.Event{Status: hw.IntDataCRCErr, DMAStatus: hw.DMANormalSummary},
		hw.Event{Status: hw.IntDataOver},
	)

	cmd := &Command{
		Opcode:   24,
		Flags:    FlagResponsePresent | FlagResponseCRC,
		Data:     make([]byte, 512),
		BlockLen: 512,
	}
	require.NoError(t, e.Run(cmd))

	// The request still settles through Busy and ends in Idle with the
	// CRC error recorded and the DMA aborted.
	assert.ErrorIs(t, cmd.Err(), ErrInvalidCRC)
	assert.Equal(t, 1, host.DMAStops())
	assert.Equal(t, 1, host.FIFOResets())
}

func TestEngine_StrayIdleEventsAreDrained(t *testing.T) {
	e, host := newTestEngine(t)
	host.AutoComplete = true

	// Events that arrived while no request was active: a card detect
	// and an anomaly. Both get consumed, neither fails the next run.
	host.Deliver(hw.Event{Status: hw.IntCardDetect})
	host.Deliver(hw.Event{Status: hw.IntAutoCmdDone})

	cmd := &Command{Opcode: 13, Flags: FlagResponsePresent}
	require.NoError(t, e.Run(cmd))
	assert.NoError(t, cmd.Err())
}

func TestEngine_EventTimeout(t *testing.T) {
	l := NewTestLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString("engine:\n  event_timeout: 20ms"))

	host := hwtest.New(l) // never answers
	e := NewEngine(l, host, c)
	require.NoError(t, e.Initialize())
	defer e.Shutdown()

	cmd := &Command{Opcode: 13, Flags: FlagResponsePresent}
	require.NoError(t, e.Run(cmd))
	assert.ErrorIs(t, cmd.Err(), ErrTimeout)
}

func TestEngine_ErrorResetBetweenRuns(t *testing.T) {
	e, host := newTestEngine(t)
	host.ScriptEvents(hw.Event{Status: hw.IntRespTimeout | hw.IntCmdDone})

	cmd := &Command{Opcode: 13, Flags: FlagResponsePresent}
	require.NoError(t, e.Run(cmd))
	require.ErrorIs(t, cmd.Err(), ErrTimeout)

	// Reusing the descriptor must start from a clean error field.
	host.AutoComplete = true
	require.NoError(t, e.Run(cmd))
	assert.NoError(t, cmd.Err())
}

func TestEngine_RunValidatesDataConstraints(t *testing.T) {
	e, host := newTestEngine(t)
	host.AutoComplete = true

	assert.Panics(t, func() {
		_ = e.Run(&Command{Opcode: 24, Data: make([]byte, 2), BlockLen: 4})
	})
	assert.Panics(t, func() {
		_ = e.Run(&Command{Opcode: 24, Data: make([]byte, 512), BlockLen: 510})
	})
}

func TestProcessEvent_ChainsTransitionsWithinOneEvent(t *testing.T) {
	e, _ := newTestEngine(t)

	cmd := &Command{
		Opcode:   24,
		Flags:    FlagResponsePresent,
		Data:     make([]byte, 512),
		BlockLen: 512,
	}
	e.ring.Begin(cmd.Data)

	// A single hardware notification carrying command done, the DMA
	// completion and the final data-over must walk the machine all the
	// way back to idle without another event.
	state := e.processEvent(hw.Event{
		Status:    hw.IntCmdDone | hw.IntDataOver,
		DMAStatus: hw.DMANormalSummary,
	}, cmd, stateSendingCmd)

	assert.Equal(t, stateIdle, state)
	assert.NoError(t, cmd.Err())
}

func TestProcessEvent_IdleIgnoresEverything(t *testing.T) {
	e, _ := newTestEngine(t)
	cmd := &Command{Opcode: 13}

	state := e.processEvent(hw.Event{Status: ^uint32(0), DMAStatus: ^uint32(0)}, cmd, stateIdle)
	assert.Equal(t, stateIdle, state)
	assert.NoError(t, cmd.Err())
}

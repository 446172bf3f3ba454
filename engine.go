package sdmmc

import (
	"fmt"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/sdwire/sdmmc/config"
	"github.com/sdwire/sdmmc/dma"
	"github.com/sdwire/sdmmc/eventq"
	"github.com/sdwire/sdmmc/hw"
)

// initClockKHz is the bus clock used for bring-up, before any card
// negotiation raises it.
const initClockKHz = 400

// reqState is the request engine's position in the life of one command.
type reqState int

const (
	// stateIdle is both the initial and the terminal state.
	stateIdle reqState = iota
	stateSendingCmd
	stateSendingData
	stateBusy
)

func (s reqState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateSendingCmd:
		return "sending_cmd"
	case stateSendingData:
		return "sending_data"
	case stateBusy:
		return "busy"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Engine drives one command at a time to completion on a single controller
// slot. It is strictly single-threaded from the caller's point of view:
// Run does not return until the request reaches its terminal state, and the
// only suspension point is the blocking wait on the event queue. Concurrent
// Run calls are not supported and must be serialized by the caller.
type Engine struct {
	l    *logrus.Logger
	host hw.Host

	events *eventq.Queue
	ring   *dma.Ring

	queueDepth  int
	waitTimeout time.Duration

	initialized bool
	lastDropped int64

	metricCommands      metrics.Counter
	metricCommandErrors metrics.Counter
	metricDMAAborts     metrics.Counter
}

// NewEngine builds an engine on top of the given host controller. A nil
// config selects the reference sizing (32 event slots, 4 ring slots, 4 KiB
// chunks, no event wait deadline).
func NewEngine(l *logrus.Logger, host hw.Host, c *config.C) *Engine {
	queueDepth := eventq.DefaultDepth
	ringSize := dma.DefaultRingSize
	maxChunk := dma.DefaultMaxChunk
	var waitTimeout time.Duration

	if c != nil {
		queueDepth = c.GetInt("engine.queue_depth", queueDepth)
		ringSize = c.GetInt("engine.ring_size", ringSize)
		maxChunk = c.GetInt("engine.max_chunk", maxChunk)
		waitTimeout = c.GetDuration("engine.event_timeout", 0)
	}

	return &Engine{
		l:                   l,
		host:                host,
		ring:                dma.NewRing(l, ringSize, maxChunk),
		queueDepth:          queueDepth,
		waitTimeout:         waitTimeout,
		metricCommands:      metrics.GetOrRegisterCounter("engine.commands", nil),
		metricCommandErrors: metrics.GetOrRegisterCounter("engine.command_errors", nil),
		metricDMAAborts:     metrics.GetOrRegisterCounter("engine.dma_aborts", nil),
	}
}

// Initialize allocates the event queue and brings up controller clocking.
// The queue's enqueue side is registered as the interrupt handler; it never
// blocks and never allocates, as that contract requires.
func (e *Engine) Initialize() error {
	q, err := eventq.New(e.queueDepth)
	if err != nil {
		return fmt.Errorf("allocate event queue: %w", err)
	}

	if err := e.host.Init(initClockKHz, q.Enqueue); err != nil {
		return fmt.Errorf("init host controller: %w", err)
	}

	e.events = q
	e.initialized = true
	return nil
}

// Shutdown releases the event queue. The host must not raise further events
// after this returns.
func (e *Engine) Shutdown() {
	if !e.initialized {
		return
	}
	e.initialized = false
	e.events.Close()
	e.events = nil
}

// Run executes one command to completion. Per-command hardware failures are
// reported only through cmd.Err; Run's own return value is reserved for
// structural problems (engine not initialized). Callers must check cmd.Err
// after every call.
//
// If the command carries data, the buffer must be at least 4 bytes and the
// block length a multiple of 4 that evenly divides the data length. These
// constraints belong to the caller's layer; violating them is a programming
// bug and panics.
func (e *Engine) Run(cmd *Command) error {
	if !e.initialized {
		return ErrNotInitialized
	}

	e.metricCommands.Inc(1)
	cmd.err = nil
	cmd.Response = [4]uint32{}

	// Dispose of any events which happened asynchronously since the last
	// request.
	e.drainIdleEvents()

	word := makeCmdWord(cmd)

	if cmd.Data != nil {
		if len(cmd.Data) < 4 {
			panic(fmt.Sprintf("sdmmc: data buffer of %d bytes is below the 4 byte minimum", len(cmd.Data)))
		}
		if cmd.BlockLen%4 != 0 {
			panic(fmt.Sprintf("sdmmc: block length %d is not a multiple of 4", cmd.BlockLen))
		}

		head := e.ring.Begin(cmd.Data)
		e.host.PrepareTransfer(head, cmd.BlockLen, len(cmd.Data))
	}

	e.l.WithFields(logrus.Fields{
		"opcode":  cmd.Opcode,
		"arg":     cmd.Arg,
		"word":    uint32(word),
		"datalen": len(cmd.Data),
	}).Debug("Issuing command")

	// Writing the command register also sends the command to the card.
	e.host.StartCommand(word, cmd.Arg)

	state := stateSendingCmd
	for state != stateIdle {
		evt, ok := e.events.Dequeue(e.waitTimeout)
		if !ok {
			// Only reachable with a configured deadline; the
			// default is to wait forever.
			cmd.setErr(ErrTimeout)
			e.l.WithFields(logrus.Fields{
				"opcode":  cmd.Opcode,
				"timeout": e.waitTimeout,
				"state":   state.String(),
			}).Error("Gave up waiting for a controller event")
			break
		}
		state = e.processEvent(evt, cmd, state)
	}

	if cmd.err != nil {
		e.metricCommandErrors.Inc(1)
	}
	return nil
}

// drainIdleEvents consumes events that arrived between requests. The only
// expected stray event while idle is a card presence change; anything else
// is logged as an anomaly but not escalated.
func (e *Engine) drainIdleEvents() {
	if d := e.events.Dropped(); d != e.lastDropped {
		e.l.WithField("dropped", d-e.lastDropped).Warn("Event queue overflowed, records were lost")
		e.lastDropped = d
	}

	for {
		evt, ok := e.events.TryDequeue()
		if !ok {
			return
		}
		if evt.Status&hw.IntCardDetect != 0 {
			e.l.Debug("Card detect event")
			evt.Status &^= hw.IntCardDetect
		}
		if evt.Status != 0 || evt.DMAStatus != 0 {
			e.l.WithFields(logrus.Fields{
				"status":     evt.Status,
				"dma_status": evt.DMAStatus,
			}).Warn("Unhandled event while idle")
		}
	}
}

// maskCheckAndClear reports whether any bit of mask is set in *status and
// clears those bits, so each event bit is acted on at most once per
// dispatch chain.
func maskCheckAndClear(status *uint32, mask uint32) bool {
	hit := *status&mask != 0
	*status &^= mask
	return hit
}

// processEvent runs the state machine over a single event. The dispatch is
// repeated while the state keeps changing, because one event may carry
// bits that chain several transitions (command done plus DMA completion,
// for example) without a new hardware notification. Error decoding always
// sees the original, unclipped status word.
func (e *Engine) processEvent(evt hw.Event, cmd *Command, state reqState) reqState {
	orig := evt

	for {
		prev := state

		switch state {
		case stateIdle:

		case stateSendingCmd:
			if maskCheckAndClear(&evt.Status, hw.CmdErrMask) {
				// The request ends in error, no data phase is
				// attempted.
				e.decodeResponse(orig.Status, cmd)
				state = stateIdle
				break
			}
			if !maskCheckAndClear(&evt.Status, hw.IntCmdDone) {
				break
			}
			e.decodeResponse(orig.Status, cmd)
			if cmd.err != nil || cmd.Data == nil {
				state = stateIdle
				break
			}
			state = stateSendingData

		case stateSendingData:
			if maskCheckAndClear(&evt.Status, hw.DataErrMask) {
				// A data error does not end the request yet; the
				// DMA bookkeeping still has to settle.
				e.decodeDataStatus(orig.Status, cmd)
				e.host.StopDMA()
				e.metricDMAAborts.Inc(1)
			}
			if maskCheckAndClear(&evt.DMAStatus, hw.DMADoneMask) {
				e.ring.Retire()
				if e.ring.Remaining() > 0 {
					e.ring.Fill(1)
				}
				if e.ring.Outstanding() == 0 {
					state = stateBusy
				}
			}

		case stateBusy:
			if !maskCheckAndClear(&evt.Status, hw.IntDataOver) {
				break
			}
			// One more decode pass for errors that only surface at
			// final settlement.
			e.decodeDataStatus(orig.Status, cmd)
			state = stateIdle
		}

		e.l.WithFields(logrus.Fields{
			"prev_state": prev.String(),
			"state":      state.String(),
		}).Debug("Processed event")

		if state == prev {
			return state
		}
	}
}

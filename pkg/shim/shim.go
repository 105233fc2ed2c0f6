// Package shim embeds in every user process, exposing the small
// programming interface (send, send_local, set_timer, cancel_timer, and
// the receive/on_timer callbacks) described in SPEC_FULL.md §4.3. Under a
// controller it funnels all non-determinism — message delivery order,
// timer firing, duplication, drops — through the control-plane stream;
// standalone it falls back to a real UDP transport and real timers.
package shim

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dstestkit/harness/pkg/ctrlstream"
	"github.com/dstestkit/harness/pkg/wire"
)

// Mode selects how the shim behaves once it knows it is under a
// controller. See the glossary in spec.md and SPEC_FULL.md §4.3.
type Mode string

const (
	// ModeControl drives user code only in response to controller
	// commands; networking and real timers are suppressed. Default.
	ModeControl Mode = "CONTROL"
	// ModeWatch performs real network I/O and real timers while still
	// reporting every action to the controller for observation.
	ModeWatch Mode = "WATCH"
)

// EnvTestServer and EnvTestMode are the environment variables the shim
// consumes on Start. See SPEC_FULL.md §6.2.
const (
	EnvTestServer = "TEST_SERVER"
	EnvTestMode   = "TEST_MODE"
)

// Shim is the runtime embedded in a user process.
type Shim struct {
	proc  Process
	trans *transport

	testing    bool
	mode       Mode
	serverAddr string
	conn       *ctrlstream.Conn

	mu            sync.Mutex
	messageCount  int
	timerCount    int
	timerIDs      map[string]string // timer name -> current timer id
	pendingTimers map[string]string // timer id -> name, CONTROL mode only
	realTimers    map[string]*time.Timer

	localOutbox chan wire.Envelope
	inbox       chan wire.Envelope

	stopCh   chan struct{}
	stopOnce sync.Once

	log *logrus.Entry
}

// New constructs a Shim around proc. bindAddr may be empty to let the OS
// pick an ephemeral UDP port.
func New(proc Process, bindAddr string) (*Shim, error) {
	trans, err := newUDPTransport(bindAddr)
	if err != nil {
		return nil, err
	}
	s := &Shim{
		proc:          proc,
		trans:         trans,
		timerIDs:      make(map[string]string),
		pendingTimers: make(map[string]string),
		realTimers:    make(map[string]*time.Timer),
		localOutbox:   make(chan wire.Envelope, 256),
		inbox:         make(chan wire.Envelope, 256),
		stopCh:        make(chan struct{}),
		log:           logrus.WithField("process", proc.Name()),
	}

	if addr := os.Getenv(EnvTestServer); addr != "" {
		s.testing = true
		s.serverAddr = addr
		s.mode = Mode(os.Getenv(EnvTestMode))
		if s.mode == "" {
			s.mode = ModeControl
		}
	}
	return s, nil
}

// Addr returns the process's bound address.
func (s *Shim) Addr() string { return s.trans.Addr() }

// Testing reports whether a controller is attached.
func (s *Shim) Testing() bool { return s.testing }

// Start brings the shim up: binds are already done in New, so Start
// attaches to the controller (if TEST_SERVER is set) and launches the
// appropriate processing loop, installing SIGINT/SIGTERM handling that
// cleanly announces ProcessStopped and exits (spec.md §4.3).
func (s *Shim) Start(ctx context.Context) error {
	if s.testing {
		conn, err := ctrlstream.Dial(ctx, s.serverAddr)
		if err != nil {
			return fmt.Errorf("shim: attach to controller: %w", err)
		}
		s.conn = conn
		if err := s.conn.Send(ctrlstream.KindProcessStarted, ctrlstream.ProcessStartedPayload{
			ProcessID: s.proc.Name(),
			Address:   s.Addr(),
			Mode:      string(s.mode),
		}); err != nil {
			return fmt.Errorf("shim: announce start: %w", err)
		}
	}

	s.installSignalHandler()

	if s.testing && s.mode == ModeControl {
		go s.runControlLoop()
	} else {
		go s.receiveMessagesLoop()
		go s.processMessagesLoop()
		if s.testing {
			// WATCH mode: report real activity for observation but
			// never block on a controller command.
			s.log.Debug("running in WATCH mode: real network and timers, controller observes only")
		}
	}
	return nil
}

// Stop announces ProcessStopped (if testing), cancels any real timers,
// and releases the UDP socket.
func (s *Shim) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.testing {
			_ = s.conn.Send(ctrlstream.KindProcessStopped, ctrlstream.ProcessStoppedPayload{})
			time.Sleep(10 * time.Millisecond) // let the controller observe the goodbye
			_ = s.conn.Close()
		}
		s.mu.Lock()
		for _, t := range s.realTimers {
			t.Stop()
		}
		s.mu.Unlock()
		_ = s.trans.Close()
	})
}

func (s *Shim) installSignalHandler() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			s.Stop()
		case <-s.stopCh:
		}
	}()
}

// ReceiveLocal blocks for the process's next outbound local emission; used
// by tests and by standalone operators observing a process's output.
func (s *Shim) ReceiveLocal() wire.Envelope {
	return <-s.localOutbox
}

func (s *Shim) newContext() *shimContext {
	return &shimContext{s: s}
}

// send implements Context.Send.
func (s *Shim) send(message wire.Envelope, recipient string) {
	if recipient == wire.LocalSender {
		s.sendLocal(message)
		return
	}
	s.log.WithField("recipient", recipient).Debug("send")

	var raw []byte
	var err error
	if s.testing {
		s.mu.Lock()
		s.messageCount++
		id := fmt.Sprintf("%s-m%d", s.proc.Name(), s.messageCount)
		s.mu.Unlock()
		// Under a controller, messages route by logical process name
		// (the controller's registry is name-keyed, not address-keyed),
		// so the embedded sender must be the name a reply's ctx.Send can
		// address, not this process's real socket address.
		raw, err = wire.Marshal(message, s.proc.Name(), id)
		if err != nil {
			s.log.WithError(err).Error("marshal outbound message")
			return
		}
		if sendErr := s.conn.Send(ctrlstream.KindNewMessage, ctrlstream.NewMessagePayload{
			MessageID: id,
			Recipient: recipient,
			Message:   raw,
		}); sendErr != nil {
			s.log.WithError(sendErr).Error("announce new message")
		}
	} else {
		raw, err = wire.Marshal(message, s.Addr(), uuid.NewString())
		if err != nil {
			s.log.WithError(err).Error("marshal outbound message")
			return
		}
	}

	if !s.testing || s.mode == ModeWatch {
		if err := s.trans.Send(raw, recipient); err != nil {
			s.log.WithError(err).Error("udp send")
		}
	}
}

// sendLocal implements Context.SendLocal.
func (s *Shim) sendLocal(message wire.Envelope) {
	s.log.Debug("send_local")
	s.localOutbox <- message
	if s.testing {
		raw, err := wire.Marshal(message, wire.LocalSender, wire.LocalSender)
		if err != nil {
			s.log.WithError(err).Error("marshal local message")
			return
		}
		if err := s.conn.Send(ctrlstream.KindNewMessage, ctrlstream.NewMessagePayload{
			MessageID: wire.LocalSender,
			Recipient: wire.LocalSender,
			Message:   raw,
		}); err != nil {
			s.log.WithError(err).Error("announce local message")
		}
	}
}

// SetTimer creates or replaces the named timer. The interval announced to
// the controller is whatever the caller requests — the controller is
// responsible for coercing it to 1 virtual second in CONTROL mode
// (see DESIGN.md's "Open Question decisions"), so the same
// shim code works unmodified under CONTROL, WATCH, or standalone.
func (s *Shim) SetTimer(name string, interval time.Duration) {
	s.mu.Lock()
	var timerID string
	if s.testing {
		s.timerCount++
		timerID = fmt.Sprintf("%s-t%d", s.proc.Name(), s.timerCount)
	} else {
		timerID = uuid.NewString()
	}
	s.timerIDs[name] = timerID
	if s.testing && s.mode == ModeControl {
		s.pendingTimers[timerID] = name
	}
	s.mu.Unlock()

	if !s.testing || s.mode == ModeWatch {
		t := time.AfterFunc(interval, func() { s.fireRealTimer(timerID, name) })
		s.mu.Lock()
		s.realTimers[timerID] = t
		s.mu.Unlock()
	}

	if s.testing {
		if err := s.conn.Send(ctrlstream.KindNewTimer, ctrlstream.NewTimerPayload{
			TimerID:  timerID,
			Name:     name,
			Interval: interval.Seconds(),
		}); err != nil {
			s.log.WithError(err).Error("announce new timer")
		}
	}
}

// CancelTimer removes a pending timer by name. A no-op if name has no
// pending timer.
func (s *Shim) CancelTimer(name string) {
	s.mu.Lock()
	timerID, ok := s.timerIDs[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.timerIDs, name)
	if s.testing && s.mode == ModeControl {
		delete(s.pendingTimers, timerID)
	}
	realTimer := s.realTimers[timerID]
	delete(s.realTimers, timerID)
	s.mu.Unlock()

	if realTimer != nil {
		realTimer.Stop()
	}

	if s.testing {
		if err := s.conn.Send(ctrlstream.KindTimerCanceled, ctrlstream.TimerCanceledPayload{
			TimerID: timerID,
		}); err != nil {
			s.log.WithError(err).Error("announce timer canceled")
		}
	}
}

func (s *Shim) fireRealTimer(timerID, name string) {
	s.log.WithField("timer", name).Debug("firing timer")
	if s.testing {
		_ = s.conn.Send(ctrlstream.KindTimerFired, ctrlstream.TimerFiredPayload{TimerID: timerID})
	}
	ctx := s.newContext()
	s.proc.OnTimer(ctx, name)
	ctx.destroy()
	if s.testing {
		_ = s.conn.Send(ctrlstream.KindTimerProcessed, ctrlstream.TimerProcessedPayload{TimerID: timerID})
	}
	s.mu.Lock()
	delete(s.realTimers, timerID)
	s.mu.Unlock()
}

// Package controller implements the test driver surface: the event store,
// scheduler, process registry, and topology rules combined behind the
// operations a test author calls (step, send_local_message, crash_process,
// ...). See SPEC_FULL.md §4.5.
package controller

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dstestkit/harness/pkg/ctrlstream"
	"github.com/dstestkit/harness/pkg/metrics"
	"github.com/dstestkit/harness/pkg/sched"
	"github.com/dstestkit/harness/pkg/topology"
	"github.com/dstestkit/harness/pkg/wire"
)

// Config configures a Controller at construction time.
type Config struct {
	// Addr is the host:port the control-plane HTTP server binds.
	Addr string
	// Metrics is optional; nil means no-op instrumentation.
	Metrics *metrics.Recorder
	// AckTimeout is the default wait used by the stdin driver and
	// SendLocalMessage; Step callers pass their own timeout explicitly.
	AckTimeout time.Duration
}

// Controller is the harness's central orchestrator: one per test run.
type Controller struct {
	log      *logrus.Entry
	topology *topology.Rules
	sched    *sched.Scheduler
	notif    *notifier

	mu            sync.Mutex
	cond          *sync.Cond
	processes     map[string]*processEntry
	localMsgs     map[string][]wire.Envelope
	pendingTimers map[string]map[string]string // process -> timer name -> timer id

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	running  int32

	// procs supervises one goroutine per attached process connection, per
	// SPEC_FULL.md §5.
	procs errgroup.Group
}

// New constructs a Controller ready to Serve.
func New(cfg Config) *Controller {
	c := &Controller{
		log:           logrus.WithField("component", "controller"),
		topology:      topology.New(),
		notif:         newNotifier(),
		processes:     make(map[string]*processEntry),
		localMsgs:     make(map[string][]wire.Envelope),
		pendingTimers: make(map[string]map[string]string),
		upgrader:      websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	c.cond = sync.NewCond(&c.mu)
	c.sched = sched.New(c, cfg.Metrics)

	mux := http.NewServeMux()
	mux.HandleFunc("/attach", c.handleAttach)
	c.httpSrv = &http.Server{Addr: cfg.Addr, Handler: mux}
	return c
}

// Scheduler exposes the underlying scheduler for the driver-API methods
// defined in driver.go (Step, Steps, fault knobs).
func (c *Controller) Scheduler() *sched.Scheduler { return c.sched }

// Serve starts the control-plane HTTP server and blocks until it stops.
// Call from its own goroutine; use Shutdown to stop it.
func (c *Controller) Serve() error {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return fmt.Errorf("controller: already serving")
	}
	c.log.WithField("addr", c.httpSrv.Addr).Info("control plane listening")
	err := c.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and waits (up to ctx's
// deadline) for in-flight process connections to close, per spec.md §7's
// "optionally wait for ProcessStopped handshakes, else force-cancel."
func (c *Controller) Shutdown(ctx context.Context) error {
	if err := c.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("controller: shutdown: %w", err)
	}
	done := make(chan struct{})
	go func() {
		_ = c.procs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		for _, p := range c.processes {
			if p.conn != nil {
				_ = p.conn.Close()
			}
		}
		c.mu.Unlock()
		return ctx.Err()
	}
}

// handleAttach upgrades an incoming process connection to a WebSocket and
// runs its event loop until the stream closes.
func (c *Controller) handleAttach(w http.ResponseWriter, r *http.Request) {
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.WithError(err).Error("websocket upgrade failed")
		return
	}
	conn := ctrlstream.New(ws)
	c.procs.Go(func() error {
		c.runProcessLoop(conn)
		return nil
	})
}

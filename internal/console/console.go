// Package console owns the display log and the supervised child for one
// interactive session.
//
// All mutation happens on the goroutine running Console.Run. Callers send
// commands through the exported methods and observe the result as an ordered
// stream of Change values from Subscribe.
package console

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"scripthub/internal/ansi"
	"scripthub/internal/supervisor"
)

// ErrClosed is returned by commands sent after Run has returned.
var ErrClosed = errors.New("console closed")

// Process is the subset of *supervisor.Supervisor the console drives.
type Process interface {
	Start(ctx context.Context, executablePath, scriptPath string) error
	WriteInput(line string) error
	Interrupt() error
	Stop() error
	Close()
	Events() <-chan supervisor.Event
	State() supervisor.State
	Session() supervisor.Session
}

// Target identifies what to run.
type Target struct {
	ProfileID      string
	ProfileName    string
	ExecutablePath string
	ScriptPath     string
}

// ChangeKind classifies a Change.
type ChangeKind int

const (
	ChangeMessage ChangeKind = iota
	ChangeState
	ChangeCleared
	ChangeError
	ChangeFinished
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeMessage:
		return "message"
	case ChangeState:
		return "state"
	case ChangeCleared:
		return "cleared"
	case ChangeError:
		return "error"
	case ChangeFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Change is published to subscribers after every mutation, in order.
type Change struct {
	Seq  uint64
	Kind ChangeKind

	// ChangeMessage
	Message  Message
	Appended bool
	Delta    []ansi.Run

	// ChangeState and ChangeFinished
	State       supervisor.State
	Session     supervisor.Session
	ProfileID   string
	ProfileName string

	// ChangeFinished
	ExitCode int
	Killed   bool

	// ChangeError
	Err error
}

// Snapshot is a point-in-time copy of the console.
type Snapshot struct {
	Messages  []Message
	State     supervisor.State
	Session   supervisor.Session
	ProfileID string
	LastError error
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdSend
	cmdInterrupt
	cmdStop
	cmdClear
)

type command struct {
	kind   commandKind
	target Target
	line   string
	reply  chan error
}

const defaultSubscriberBuffer = 256

// Console is the single writer for a Log and its Process.
type Console struct {
	proc   Process
	log    *Log
	logger *slog.Logger

	cmds chan command
	done chan struct{}

	// Owned by the Run goroutine.
	runCtx    context.Context
	activeRun string
	seq       uint64

	mu        sync.RWMutex
	lastErr   error
	target    Target

	subMu      sync.Mutex
	subs       map[int]subscriber
	nextID     int
	subsClosed bool
}

// Option configures a Console.
type Option func(*Console)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Console) { c.logger = l }
}

// New returns a console driving proc. Call Run to start it.
func New(proc Process, opts ...Option) *Console {
	c := &Console{
		proc:   proc,
		log:    NewLog(),
		logger: slog.Default(),
		cmds:   make(chan command),
		done:   make(chan struct{}),
		subs:   make(map[int]subscriber),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Log exposes the display log for read access.
func (c *Console) Log() *Log { return c.log }

// Done is closed when Run returns.
func (c *Console) Done() <-chan struct{} { return c.done }

// Run owns the console until ctx ends. On return the process has been closed
// and every subscriber channel closed.
func (c *Console) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.closeSubscribers()

	c.runCtx = ctx
	events := c.proc.Events()
	for {
		select {
		case <-ctx.Done():
			c.proc.Close()
			if events != nil {
				for ev := range events {
					c.handleEvent(ev)
				}
			}
			return ctx.Err()

		case cmd := <-c.cmds:
			cmd.reply <- c.handleCommand(cmd)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleEvent(ev)
		}
	}
}

// =============================================================================
// Commands
// =============================================================================

// Start clears the log and runs t. A running child is stopped first and its
// remaining output is shown before the log is cleared.
func (c *Console) Start(ctx context.Context, t Target) error {
	return c.do(ctx, command{kind: cmdStart, target: t})
}

// Send writes line to the running child and records it in the log. It is
// ignored when nothing is running.
func (c *Console) Send(ctx context.Context, line string) error {
	return c.do(ctx, command{kind: cmdSend, line: line})
}

// Interrupt sends SIGINT to the running child.
func (c *Console) Interrupt(ctx context.Context) error {
	return c.do(ctx, command{kind: cmdInterrupt})
}

// Stop kills the running child.
func (c *Console) Stop(ctx context.Context) error {
	return c.do(ctx, command{kind: cmdStop})
}

// Clear empties the log.
func (c *Console) Clear(ctx context.Context) error {
	return c.do(ctx, command{kind: cmdClear})
}

func (c *Console) do(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case c.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Console) handleCommand(cmd command) error {
	switch cmd.kind {
	case cmdStart:
		return c.handleStart(cmd.target)

	case cmdSend:
		if c.proc.State() != supervisor.StateRunning {
			c.logger.Debug("Input ignored, nothing running")
			return nil
		}
		if err := c.proc.WriteInput(cmd.line); err != nil {
			c.fail(err)
			return err
		}
		msg := c.log.AppendUser(cmd.line)
		c.publish(Change{Kind: ChangeMessage, Message: msg})
		return nil

	case cmdInterrupt:
		return c.proc.Interrupt()

	case cmdStop:
		return c.proc.Stop()

	case cmdClear:
		c.log.Clear()
		c.publish(Change{Kind: ChangeCleared})
		return nil
	}
	return nil
}

func (c *Console) handleStart(t Target) error {
	c.drainActiveRun()

	c.log.Clear()
	c.setLastError(nil)
	c.publish(Change{Kind: ChangeCleared})

	if err := c.proc.Start(c.runCtx, t.ExecutablePath, t.ScriptPath); err != nil {
		c.fail(err)
		return err
	}

	sess := c.proc.Session()
	c.activeRun = sess.RunID
	c.mu.Lock()
	c.target = t
	c.mu.Unlock()

	c.logger.Info("Console run started", "run_id", sess.RunID, "profile_id", t.ProfileID, "pid", sess.PID)
	c.publish(Change{Kind: ChangeState, State: sess.State, Session: sess, ProfileID: t.ProfileID, ProfileName: t.ProfileName})
	return nil
}

// drainActiveRun stops the active run and consumes its events up to and
// including its Finished event.
func (c *Console) drainActiveRun() {
	if c.activeRun == "" {
		return
	}
	runID := c.activeRun
	if err := c.proc.Stop(); err != nil {
		c.logger.Warn("Stop before restart failed", "run_id", runID, "err", err)
	}
	for ev := range c.proc.Events() {
		c.handleEvent(ev)
		if ev.Kind == supervisor.EventFinished && ev.RunID == runID {
			return
		}
	}
}

func (c *Console) fail(err error) {
	c.setLastError(err)
	c.logger.Warn("Console error", "err", err)
	c.publish(Change{Kind: ChangeError, Err: err})
}

// =============================================================================
// Supervisor events
// =============================================================================

func (c *Console) handleEvent(ev supervisor.Event) {
	if ev.RunID != c.activeRun {
		c.logger.Debug("Dropping event from stale run", "run_id", ev.RunID, "kind", ev.Kind)
		return
	}

	switch ev.Kind {
	case supervisor.EventOutput:
		app := c.log.AppendProcess(ev.Text, ev.TrailingBreak)
		c.publish(Change{Kind: ChangeMessage, Message: app.Message, Appended: app.Coalesced, Delta: app.Delta})

	case supervisor.EventFinished:
		if ev.Err != nil {
			c.setLastError(ev.Err)
		}
		sess := c.proc.Session()
		c.publish(Change{Kind: ChangeFinished, Session: sess, ExitCode: ev.ExitCode, Killed: ev.Killed, Err: ev.Err})
		c.mu.RLock()
		t := c.target
		c.mu.RUnlock()
		c.publish(Change{Kind: ChangeState, State: supervisor.StateTerminated, Session: sess, ProfileID: t.ProfileID, ProfileName: t.ProfileName})
		c.activeRun = ""
	}
}

// =============================================================================
// Observers
// =============================================================================

// subscriber is either a buffered channel that drops changes when full, or
// an unbounded queue that never drops.
type subscriber struct {
	ch    chan Change
	queue *changeQueue
}

func (s subscriber) send(ch Change) bool {
	if s.queue != nil {
		s.queue.push(ch)
		return true
	}
	select {
	case s.ch <- ch:
		return true
	default:
		return false
	}
}

func (s subscriber) close() {
	if s.queue != nil {
		s.queue.close()
		return
	}
	close(s.ch)
}

// Subscribe returns a channel of changes and a cancel func. A subscriber that
// falls more than its buffer behind misses changes.
func (c *Console) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, defaultSubscriberBuffer)
	return ch, c.addSubscriber(subscriber{ch: ch})
}

// SubscribeAll is Subscribe without drops: changes queue up until read. The
// reader must keep receiving until the channel is closed.
func (c *Console) SubscribeAll() (<-chan Change, func()) {
	q := newChangeQueue()
	return q.out, c.addSubscriber(subscriber{queue: q})
}

func (c *Console) addSubscriber(sub subscriber) func() {
	c.subMu.Lock()
	if c.subsClosed {
		c.subMu.Unlock()
		sub.close()
		return func() {}
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = sub
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				sub.close()
			}
		})
	}
}

func (c *Console) publish(ch Change) {
	c.seq++
	ch.Seq = c.seq

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, sub := range c.subs {
		if !sub.send(ch) {
			c.logger.Warn("Subscriber full, change dropped", "subscriber", id, "seq", ch.Seq, "kind", ch.Kind)
		}
	}
}

func (c *Console) closeSubscribers() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subsClosed = true
	for id, sub := range c.subs {
		delete(c.subs, id)
		sub.close()
	}
}

// =============================================================================
// Read access
// =============================================================================

// LastError returns the most recent config, spawn or wait error, or nil.
func (c *Console) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// ProfileID returns the profile of the current or most recent run.
func (c *Console) ProfileID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.target.ProfileID
}

func (c *Console) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// Snapshot returns the current log and process state.
func (c *Console) Snapshot() Snapshot {
	c.mu.RLock()
	lastErr := c.lastErr
	profileID := c.target.ProfileID
	c.mu.RUnlock()

	return Snapshot{
		Messages:  c.log.Messages(),
		State:     c.proc.State(),
		Session:   c.proc.Session(),
		ProfileID: profileID,
		LastError: lastErr,
	}
}

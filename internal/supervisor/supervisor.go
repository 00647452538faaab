package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/xid"
)

// =============================================================================
// Types
// =============================================================================

// State is the lifecycle state of the supervised child.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// EventKind distinguishes output chunks from the end-of-run event.
type EventKind int

const (
	EventOutput EventKind = iota
	EventFinished
)

func (k EventKind) String() string {
	if k == EventFinished {
		return "finished"
	}
	return "output"
}

// FinishedText is delivered as the last Output event of every run.
const FinishedText = "\n[Process Finished]"

// Event is delivered on the Events channel in emission order.
type Event struct {
	Kind  EventKind
	RunID string

	// Output
	Text string
	// TrailingBreak reports that a trailing newline was trimmed from Text.
	TrailingBreak bool

	// Finished
	ExitCode int // -1 when the child was signalled or never reaped
	Killed   bool
	Err      error
}

// Session is a snapshot of the current or most recent run.
type Session struct {
	RunID            string
	ExecutablePath   string
	ScriptPath       string
	WorkingDirectory string
	PID              int
	State            State
	StartedAt        time.Time
}

// =============================================================================
// Options
// =============================================================================

const (
	defaultReadSize     = 32 * 1024
	defaultDrainTimeout = 2 * time.Second
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithUnbufferedFlag replaces the "-u" flag passed ahead of the script path.
func WithUnbufferedFlag(flag string) Option {
	return func(s *Supervisor) { s.unbufferedFlag = flag }
}

// WithSearchPaths replaces the directories prepended to the child's PATH.
func WithSearchPaths(dirs ...string) Option {
	return func(s *Supervisor) { s.searchPaths = dirs }
}

// WithDrainTimeout bounds how long the waiter lets the reader drain output
// after the child exits. Descendants that inherited the pipe can otherwise
// hold it open indefinitely.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.drainTimeout = d }
}

// =============================================================================
// Supervisor
// =============================================================================

// Supervisor runs at most one interpreter child at a time.
//
// A child has no execution timeout. It stays Running until it exits on its
// own, Stop or Close is called, or the context given to Start is cancelled.
// Owners must call Close when done.
type Supervisor struct {
	logger         *slog.Logger
	unbufferedFlag string
	searchPaths    []string
	drainTimeout   time.Duration
	readSize       int

	// opMu serializes Start, Stop and Close.
	opMu sync.Mutex

	mu      sync.Mutex
	session Session
	run     *run
	closed  bool

	events *eventQueue
}

// run is the state of one spawned child.
type run struct {
	id         string
	cmd        *exec.Cmd
	stdin      *stdinWriter
	readEnd    *os.File
	readerDone chan struct{}
	done       chan struct{}
	killed     atomic.Bool
}

// New returns an idle supervisor. Its event goroutine runs until Close.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		logger:         slog.Default(),
		unbufferedFlag: "-u",
		searchPaths:    defaultSearchPaths,
		drainTimeout:   defaultDrainTimeout,
		readSize:       defaultReadSize,
		events:         newEventQueue(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events delivers Output and Finished events in order. The channel is closed
// after Close once queued events have been received.
func (s *Supervisor) Events() <-chan Event {
	return s.events.out
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.State
}

// Session returns a snapshot of the current or most recent run.
func (s *Supervisor) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Start spawns executablePath with the unbuffered flag and scriptPath.
// A running child is killed and reaped first, and its Finished event is
// queued before the new child's output.
func (s *Supervisor) Start(ctx context.Context, executablePath, scriptPath string) error {
	if executablePath == "" || scriptPath == "" {
		return &ConfigError{Msg: "Paths are missing."}
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	s.stopLocked()

	workDir := filepath.Dir(scriptPath)
	cmd := exec.CommandContext(ctx, executablePath, s.unbufferedFlag, scriptPath)
	cmd.Dir = workDir
	cmd.Env = buildEnv(workDir, s.searchPaths)

	// stdout and stderr share one pipe so output keeps the child's write order.
	outR, outW, err := os.Pipe()
	if err != nil {
		s.resetIdle()
		return &SpawnError{Path: executablePath, Err: err}
	}
	inR, inW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		s.resetIdle()
		return &SpawnError{Path: executablePath, Err: err}
	}
	cmd.Stdout = outW
	cmd.Stderr = outW
	cmd.Stdin = inR

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		inR.Close()
		inW.Close()
		s.resetIdle()
		s.logger.Error("Failed to start process", "exe", executablePath, "script", scriptPath, "err", err)
		return &SpawnError{Path: executablePath, Err: err}
	}

	// The child holds its own copies now.
	outW.Close()
	inR.Close()

	runID := xid.New().String()
	r := &run{
		id:         runID,
		cmd:        cmd,
		readEnd:    outR,
		readerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	r.stdin = newStdinWriter(inW, s.logger, runID)

	s.mu.Lock()
	s.run = r
	s.session = Session{
		RunID:            r.id,
		ExecutablePath:   executablePath,
		ScriptPath:       scriptPath,
		WorkingDirectory: workDir,
		PID:              cmd.Process.Pid,
		State:            StateRunning,
		StartedAt:        time.Now(),
	}
	s.mu.Unlock()

	s.logger.Info("Process started", "run_id", r.id, "pid", cmd.Process.Pid, "exe", executablePath, "script", scriptPath, "dir", workDir)

	go s.readOutput(r)
	go s.waitForExit(r)

	return nil
}

// resetIdle records a failed spawn.
func (s *Supervisor) resetIdle() {
	s.mu.Lock()
	s.session = Session{State: StateIdle}
	s.mu.Unlock()
}

// WriteInput queues line plus a newline for the child's stdin and returns
// without waiting for the child to read it. It is a no-op when no child is
// running or the child has closed its end.
func (s *Supervisor) WriteInput(line string) error {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return nil
	}

	if err := r.stdin.Write([]byte(line + "\n")); err != nil {
		s.logger.Debug("Input dropped, stdin closed", "run_id", r.id)
	}
	return nil
}

// Interrupt sends SIGINT to the child. The child may ignore it.
func (s *Supervisor) Interrupt() error {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return nil
	}

	if err := r.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("interrupt: %w", err)
	}
	s.logger.Info("Interrupt sent", "run_id", r.id, "pid", r.cmd.Process.Pid)
	return nil
}

// Stop kills the child if one is running and waits until it has been reaped
// and its Finished event queued. Calling Stop when idle does nothing.
func (s *Supervisor) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopLocked()
	return nil
}

// stopLocked requires opMu.
func (s *Supervisor) stopLocked() {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return
	}

	r.killed.Store(true)
	if err := r.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("Kill failed", "run_id", r.id, "err", err)
	}
	<-r.done
}

// Close stops any child and ends event delivery. Events already queued are
// still delivered before the Events channel closes.
func (s *Supervisor) Close() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.stopLocked()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.events.close()
}

// =============================================================================
// Goroutines
// =============================================================================

// readOutput delivers normalized chunks until the pipe reaches EOF or is
// closed by the waiter.
func (s *Supervisor) readOutput(r *run) {
	defer close(r.readerDone)

	buf := make([]byte, s.readSize)
	var carry []byte
	for {
		n, err := r.readEnd.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			var text string
			text, carry = decodeUTF8(data)
			carry = append([]byte(nil), carry...)
			if out, trimmed, ok := NormalizeChunk(text); ok {
				s.events.push(Event{Kind: EventOutput, RunID: r.id, Text: out, TrailingBreak: trimmed})
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Warn("Output read failed", "run_id", r.id, "err", err)
			}
			return
		}
	}
}

// waitForExit reaps the child, lets the reader drain, then emits the final
// events and releases the pipes.
func (s *Supervisor) waitForExit(r *run) {
	err := r.cmd.Wait()

	select {
	case <-r.readerDone:
	case <-time.After(s.drainTimeout):
		s.logger.Warn("Output still open after exit, closing", "run_id", r.id)
		r.readEnd.Close()
		<-r.readerDone
	}
	r.readEnd.Close()
	r.stdin.Close()

	exitCode := -1
	if r.cmd.ProcessState != nil {
		exitCode = r.cmd.ProcessState.ExitCode()
	}
	var waitErr error
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		waitErr = err
	}

	s.mu.Lock()
	s.session.State = StateTerminated
	if s.run == r {
		s.run = nil
	}
	s.mu.Unlock()

	s.logger.Info("Process exited", "run_id", r.id, "code", exitCode, "killed", r.killed.Load(), "err", waitErr)

	s.events.push(Event{Kind: EventOutput, RunID: r.id, Text: FinishedText})
	s.events.push(Event{Kind: EventFinished, RunID: r.id, ExitCode: exitCode, Killed: r.killed.Load(), Err: waitErr})

	close(r.done)
}

// =============================================================================
// stdin
// =============================================================================

// stdinWriter queues lines for the child's stdin and writes them from its
// own goroutine, so a child that stops reading never blocks the caller.
// Close drops anything still queued and unblocks a pending write.
type stdinWriter struct {
	logger *slog.Logger
	runID  string
	file   *os.File

	mu      sync.Mutex
	cond    *sync.Cond
	pending [][]byte
	closed  bool

	closeOnce sync.Once
	done      chan struct{}
}

func newStdinWriter(f *os.File, logger *slog.Logger, runID string) *stdinWriter {
	sw := &stdinWriter{logger: logger, runID: runID, file: f, done: make(chan struct{})}
	sw.cond = sync.NewCond(&sw.mu)
	go sw.loop()
	return sw
}

// Write queues data. It returns ErrNotRunning once the writer is closed.
func (sw *stdinWriter) Write(data []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return ErrNotRunning
	}
	sw.pending = append(sw.pending, data)
	sw.cond.Signal()
	return nil
}

func (sw *stdinWriter) loop() {
	defer close(sw.done)
	for {
		sw.mu.Lock()
		for len(sw.pending) == 0 && !sw.closed {
			sw.cond.Wait()
		}
		if sw.closed {
			sw.mu.Unlock()
			return
		}
		data := sw.pending[0]
		sw.pending[0] = nil
		sw.pending = sw.pending[1:]
		sw.mu.Unlock()

		if _, err := sw.file.Write(data); err != nil {
			if !errors.Is(err, os.ErrClosed) && !errors.Is(err, syscall.EPIPE) {
				sw.logger.Warn("Stdin write failed", "run_id", sw.runID, "err", err)
			} else {
				sw.logger.Debug("Input dropped, stdin closed", "run_id", sw.runID)
			}
			sw.mu.Lock()
			sw.closed = true
			sw.pending = nil
			sw.mu.Unlock()
			return
		}
	}
}

// Close stops the writer and closes the pipe. A write blocked on a full pipe
// returns as soon as the pipe is closed.
func (sw *stdinWriter) Close() {
	sw.mu.Lock()
	sw.closed = true
	sw.pending = nil
	sw.cond.Broadcast()
	sw.mu.Unlock()

	sw.closeOnce.Do(func() { sw.file.Close() })
	<-sw.done
}

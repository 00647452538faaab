//go:build unix

package console

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"scripthub/internal/supervisor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	shell         = "/bin/sh"
	changeTimeout = 10 * time.Second
)

type harness struct {
	console *Console
	changes <-chan Change
	cancel  context.CancelFunc
}

func startConsole(t *testing.T) *harness {
	t.Helper()
	c := New(supervisor.New())
	changes, unsubscribe := c.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()

	t.Cleanup(func() {
		unsubscribe()
		cancel()
		<-c.Done()
	})
	return &harness{console: c, changes: changes, cancel: cancel}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func target(script string) Target {
	return Target{ProfileID: "p1", ExecutablePath: shell, ScriptPath: script}
}

// waitFor returns the first change matching match.
func (h *harness) waitFor(t *testing.T, match func(Change) bool) Change {
	t.Helper()
	deadline := time.After(changeTimeout)
	for {
		select {
		case ch, ok := <-h.changes:
			require.True(t, ok, "changes closed")
			if match(ch) {
				return ch
			}
		case <-deadline:
			t.Fatal("timed out waiting for change")
		}
	}
}

func isKind(k ChangeKind) func(Change) bool {
	return func(c Change) bool { return c.Kind == k }
}

func TestConsoleRunShowsOutputThenFinished(t *testing.T) {
	h := startConsole(t)
	ctx := context.Background()

	require.NoError(t, h.console.Start(ctx, target(writeScript(t, "echo hi\n"))))

	state := h.waitFor(t, isKind(ChangeState))
	assert.Equal(t, supervisor.StateRunning, state.State)
	assert.Equal(t, "p1", state.ProfileID)

	h.waitFor(t, isKind(ChangeFinished))
	state = h.waitFor(t, isKind(ChangeState))
	assert.Equal(t, supervisor.StateTerminated, state.State)

	msgs := h.console.Log().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi"+supervisor.FinishedText, msgs[0].Text)
}

func TestConsoleSendRecordsUserLine(t *testing.T) {
	h := startConsole(t)
	ctx := context.Background()

	require.NoError(t, h.console.Start(ctx, target(writeScript(t, "read x\necho \"got $x\"\n"))))
	require.NoError(t, h.console.Send(ctx, "ping"))

	h.waitFor(t, isKind(ChangeFinished))

	msgs := h.console.Log().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, OriginUser, msgs[0].Origin)
	assert.Equal(t, "ping", msgs[0].Text)
	assert.Equal(t, OriginProcess, msgs[1].Origin)
	assert.Equal(t, "got ping"+supervisor.FinishedText, msgs[1].Text)
}

func TestConsoleSendIgnoredWhenIdle(t *testing.T) {
	h := startConsole(t)

	require.NoError(t, h.console.Send(context.Background(), "hello?"))
	assert.Equal(t, 0, h.console.Log().Len())
}

func TestConsoleStartMissingPaths(t *testing.T) {
	h := startConsole(t)

	err := h.console.Start(context.Background(), Target{ScriptPath: "/tmp/x.py"})
	require.ErrorIs(t, err, supervisor.ErrPathsMissing)

	ch := h.waitFor(t, isKind(ChangeError))
	assert.ErrorIs(t, ch.Err, supervisor.ErrPathsMissing)
	assert.ErrorIs(t, h.console.LastError(), supervisor.ErrPathsMissing)
	assert.Equal(t, supervisor.StateIdle, h.console.Snapshot().State)
}

func TestConsoleRestartClearsLogAfterOldRunFinishes(t *testing.T) {
	h := startConsole(t)
	ctx := context.Background()

	require.NoError(t, h.console.Start(ctx, target(writeScript(t, "echo first\nexec sleep 30\n"))))
	h.waitFor(t, func(c Change) bool { return c.Kind == ChangeMessage && c.Message.Text == "first" })

	require.NoError(t, h.console.Start(ctx, target(writeScript(t, "echo second\n"))))

	// The first run's finish is published before the log is cleared.
	fin := h.waitFor(t, isKind(ChangeFinished))
	assert.True(t, fin.Killed)
	h.waitFor(t, isKind(ChangeCleared))
	fin = h.waitFor(t, isKind(ChangeFinished))
	assert.False(t, fin.Killed)

	msgs := h.console.Log().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "second"+supervisor.FinishedText, msgs[0].Text)
}

func TestConsoleStopWithFullStdin(t *testing.T) {
	h := startConsole(t)
	ctx := context.Background()

	require.NoError(t, h.console.Start(ctx, target(writeScript(t, "exec sleep 1000\n"))))
	h.waitFor(t, isKind(ChangeState))

	line := strings.Repeat("y", 16*1024)
	for i := 0; i < 8; i++ {
		sendCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := h.console.Send(sendCtx, line)
		cancel()
		require.NoError(t, err, "send %d", i)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	require.NoError(t, h.console.Stop(stopCtx))

	fin := h.waitFor(t, isKind(ChangeFinished))
	assert.True(t, fin.Killed)
	assert.Equal(t, supervisor.StateTerminated, h.console.Snapshot().State)
}

func TestConsoleClear(t *testing.T) {
	h := startConsole(t)
	ctx := context.Background()

	require.NoError(t, h.console.Start(ctx, target(writeScript(t, "echo hi\n"))))
	h.waitFor(t, isKind(ChangeFinished))
	require.NotZero(t, h.console.Log().Len())

	require.NoError(t, h.console.Clear(ctx))
	h.waitFor(t, isKind(ChangeCleared))
	assert.Zero(t, h.console.Log().Len())
}

func TestConsoleCancelClosesProcess(t *testing.T) {
	h := startConsole(t)

	require.NoError(t, h.console.Start(context.Background(), target(writeScript(t, "exec sleep 30\n"))))
	pid := h.console.Snapshot().Session.PID
	require.NotZero(t, pid)

	h.cancel()
	select {
	case <-h.console.Done():
	case <-time.After(changeTimeout):
		t.Fatal("console did not stop")
	}

	assert.Error(t, syscall.Kill(pid, 0), "child still alive")

	// Subscribers are closed once Run returns.
	for range h.changes {
	}

	err := h.console.Clear(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConsoleChangesAreOrdered(t *testing.T) {
	h := startConsole(t)
	ctx := context.Background()

	require.NoError(t, h.console.Start(ctx, target(writeScript(t, "echo a\necho b\necho c\n"))))

	var last uint64
	deadline := time.After(changeTimeout)
	for {
		select {
		case ch := <-h.changes:
			assert.Greater(t, ch.Seq, last)
			last = ch.Seq
			if ch.Kind == ChangeFinished {
				return
			}
		case <-deadline:
			t.Fatal("timed out")
		}
	}
}

func TestSubscribeAllNeverDrops(t *testing.T) {
	h := startConsole(t)
	ctx := context.Background()
	all, unsubscribe := h.console.SubscribeAll()

	const n = defaultSubscriberBuffer + 50
	for i := 0; i < n; i++ {
		require.NoError(t, h.console.Clear(ctx))
	}

	var lossy int
	for len(h.changes) > 0 {
		<-h.changes
		lossy++
	}
	assert.Equal(t, defaultSubscriberBuffer, lossy, "buffered subscriber drops past its buffer")

	var last uint64
	for i := 0; i < n; i++ {
		select {
		case ch := <-all:
			assert.Equal(t, ChangeCleared, ch.Kind)
			assert.Equal(t, last+1, ch.Seq)
			last = ch.Seq
		case <-time.After(changeTimeout):
			t.Fatalf("missing change %d", i)
		}
	}

	unsubscribe()
	_, ok := <-all
	assert.False(t, ok)
}

//go:build unix

package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// /bin/sh accepts "-u <script>", which makes it a stand-in interpreter.
const shell = "/bin/sh"

const eventTimeout = 10 * time.Second

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "script.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newTestSupervisor(t *testing.T, opts ...Option) *Supervisor {
	t.Helper()
	sup := New(opts...)
	t.Cleanup(sup.Close)
	return sup
}

// collectRun reads events until a Finished event arrives.
func collectRun(t *testing.T, sup *Supervisor) (output string, finished Event) {
	t.Helper()
	var b strings.Builder
	deadline := time.After(eventTimeout)
	for {
		select {
		case ev, ok := <-sup.Events():
			require.True(t, ok, "events channel closed before Finished")
			if ev.Kind == EventFinished {
				return b.String(), ev
			}
			b.WriteString(ev.Text)
			if ev.TrailingBreak {
				b.WriteString("\n")
			}
		case <-deadline:
			t.Fatalf("timed out waiting for Finished, output so far: %q", b.String())
		}
	}
}

// waitForOutput reads events until the accumulated output contains want.
func waitForOutput(t *testing.T, sup *Supervisor, want string) {
	t.Helper()
	var b strings.Builder
	deadline := time.After(eventTimeout)
	for !strings.Contains(b.String(), want) {
		select {
		case ev := <-sup.Events():
			require.NotEqual(t, EventFinished, ev.Kind, "child finished before printing %q, output: %q", want, b.String())
			b.WriteString(ev.Text)
		case <-deadline:
			t.Fatalf("timed out waiting for %q, output so far: %q", want, b.String())
		}
	}
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func TestStartRejectsMissingPaths(t *testing.T) {
	sup := newTestSupervisor(t)

	for _, paths := range [][2]string{{"", "/tmp/x.py"}, {shell, ""}, {"", ""}} {
		err := sup.Start(context.Background(), paths[0], paths[1])
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPathsMissing))

		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "Paths are missing.", cfgErr.Msg)
		assert.Equal(t, StateIdle, sup.State())
	}
}

func TestStartSpawnFailureStaysIdle(t *testing.T) {
	sup := newTestSupervisor(t)
	script := writeScript(t, t.TempDir(), "echo hi\n")

	err := sup.Start(context.Background(), "/nonexistent/interpreter", script)
	require.Error(t, err)

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, "/nonexistent/interpreter", spawnErr.Path)
	assert.Error(t, spawnErr.Unwrap())
	assert.Equal(t, StateIdle, sup.State())
}

func TestRunDeliversOutputThenFinished(t *testing.T) {
	sup := newTestSupervisor(t)
	script := writeScript(t, t.TempDir(), "echo hello\necho oops >&2\nexit 4\n")

	require.NoError(t, sup.Start(context.Background(), shell, script))
	assert.Equal(t, StateRunning, sup.State())

	output, finished := collectRun(t, sup)

	assert.Contains(t, output, "hello")
	assert.Contains(t, output, "oops")
	assert.True(t, strings.HasSuffix(output, FinishedText), "output %q", output)
	assert.Equal(t, 4, finished.ExitCode)
	assert.False(t, finished.Killed)
	assert.NoError(t, finished.Err)
	assert.Equal(t, sup.Session().RunID, finished.RunID)
	assert.Equal(t, StateTerminated, sup.State())
}

func TestChildArgvAndWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "")

	// A fake interpreter that reports its arguments and working directory.
	exe := filepath.Join(t.TempDir(), "fake-python")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\necho \"args:$*\"\necho \"dir:$(pwd -P)\"\n"), 0o755))

	sup := newTestSupervisor(t)
	require.NoError(t, sup.Start(context.Background(), exe, script))

	output, _ := collectRun(t, sup)

	realDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Contains(t, output, "args:-u "+script)
	assert.Contains(t, output, "dir:"+realDir)
	assert.Equal(t, dir, sup.Session().WorkingDirectory)
}

func TestEnvironmentLayering(t *testing.T) {
	dir := t.TempDir()
	extra := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SCRIPTHUB_FROM_FILE=file\nSCRIPTHUB_FROM_OS=file\n"), 0o644))
	t.Setenv("SCRIPTHUB_FROM_OS", "os")

	script := writeScript(t, dir, "echo \"file=$SCRIPTHUB_FROM_FILE\"\necho \"os=$SCRIPTHUB_FROM_OS\"\necho \"path=$PATH\"\n")

	sup := newTestSupervisor(t, WithSearchPaths(extra))
	require.NoError(t, sup.Start(context.Background(), shell, script))

	output, _ := collectRun(t, sup)

	assert.Contains(t, output, "file=file")
	assert.Contains(t, output, "os=os")
	assert.Contains(t, output, "path="+extra+string(os.PathListSeparator))
}

func TestWriteInputReachesChild(t *testing.T) {
	sup := newTestSupervisor(t)
	script := writeScript(t, t.TempDir(), "read a\nread b\necho \"got:$a|$b\"\n")

	require.NoError(t, sup.Start(context.Background(), shell, script))
	require.NoError(t, sup.WriteInput("ping"))
	require.NoError(t, sup.WriteInput(""))

	output, finished := collectRun(t, sup)
	assert.Contains(t, output, "got:ping|")
	assert.Equal(t, 0, finished.ExitCode)
}

func TestWriteInputWhenIdleIsNoop(t *testing.T) {
	sup := newTestSupervisor(t)

	require.NoError(t, sup.WriteInput("nobody listens"))

	select {
	case ev := <-sup.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWriteInputAfterExitIsNoop(t *testing.T) {
	sup := newTestSupervisor(t)
	script := writeScript(t, t.TempDir(), "exit 0\n")

	require.NoError(t, sup.Start(context.Background(), shell, script))
	collectRun(t, sup)

	assert.NoError(t, sup.WriteInput("late"))
}

func TestWriteInputDoesNotBlockOnFullPipe(t *testing.T) {
	sup := newTestSupervisor(t)
	script := writeScript(t, t.TempDir(), "exec sleep 30\n")

	require.NoError(t, sup.Start(context.Background(), shell, script))
	pid := sup.Session().PID

	// 128 KiB is more than a pipe buffers for a child that never reads.
	line := strings.Repeat("x", 16*1024)
	wrote := make(chan struct{})
	go func() {
		defer close(wrote)
		for i := 0; i < 8; i++ {
			_ = sup.WriteInput(line)
		}
	}()
	select {
	case <-wrote:
	case <-time.After(eventTimeout):
		t.Fatal("WriteInput blocked on a child that does not read stdin")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- sup.Stop() }()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(eventTimeout):
		t.Fatal("Stop blocked behind pending stdin writes")
	}
	assert.False(t, processAlive(pid))

	_, finished := collectRun(t, sup)
	assert.True(t, finished.Killed)
}

func TestStartWhileRunningReplacesChild(t *testing.T) {
	sup := newTestSupervisor(t)
	script := writeScript(t, t.TempDir(), "echo ready\nexec sleep 30\n")

	require.NoError(t, sup.Start(context.Background(), shell, script))
	first := sup.Session()
	waitForOutput(t, sup, "ready")

	require.NoError(t, sup.Start(context.Background(), shell, script))
	second := sup.Session()

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.NotEqual(t, first.PID, second.PID)
	assert.False(t, processAlive(first.PID), "previous child still alive")
	assert.True(t, processAlive(second.PID))
	assert.Equal(t, StateRunning, sup.State())

	// The old run's Finished event comes before anything from the new run.
	_, finished := collectRun(t, sup)
	assert.Equal(t, first.RunID, finished.RunID)
	assert.True(t, finished.Killed)

	require.NoError(t, sup.Stop())
	assert.False(t, processAlive(second.PID))
}

func TestInterruptDeliversSIGINT(t *testing.T) {
	sup := newTestSupervisor(t)
	script := writeScript(t, t.TempDir(), "trap 'echo caught; exit 3' INT\necho ready\nwhile :; do sleep 0.1; done\n")

	require.NoError(t, sup.Start(context.Background(), shell, script))
	waitForOutput(t, sup, "ready")

	require.NoError(t, sup.Interrupt())

	output, finished := collectRun(t, sup)
	assert.Contains(t, output, "caught")
	assert.Equal(t, 3, finished.ExitCode)
	assert.False(t, finished.Killed)
}

func TestInterruptWhenIdle(t *testing.T) {
	sup := newTestSupervisor(t)
	assert.NoError(t, sup.Interrupt())
}

func TestStopIsIdempotent(t *testing.T) {
	sup := newTestSupervisor(t)
	script := writeScript(t, t.TempDir(), "exec sleep 30\n")

	require.NoError(t, sup.Stop())

	require.NoError(t, sup.Start(context.Background(), shell, script))
	pid := sup.Session().PID

	require.NoError(t, sup.Stop())
	require.NoError(t, sup.Stop())

	assert.False(t, processAlive(pid))
	assert.Equal(t, StateTerminated, sup.State())

	_, finished := collectRun(t, sup)
	assert.True(t, finished.Killed)
	assert.Equal(t, -1, finished.ExitCode)
}

func TestCloseStopsChildAndClosesEvents(t *testing.T) {
	sup := New()
	script := writeScript(t, t.TempDir(), "exec sleep 30\n")

	require.NoError(t, sup.Start(context.Background(), shell, script))
	pid := sup.Session().PID

	sup.Close()
	sup.Close()
	assert.False(t, processAlive(pid))

	var kinds []EventKind
	deadline := time.After(eventTimeout)
	for done := false; !done; {
		select {
		case ev, ok := <-sup.Events():
			if !ok {
				done = true
				break
			}
			kinds = append(kinds, ev.Kind)
		case <-deadline:
			t.Fatal("events channel not closed")
		}
	}
	assert.Equal(t, []EventKind{EventOutput, EventFinished}, kinds)

	err := sup.Start(context.Background(), shell, script)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestContextCancelEndsChild(t *testing.T) {
	sup := newTestSupervisor(t)
	script := writeScript(t, t.TempDir(), "exec sleep 30\n")

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sup.Start(ctx, shell, script))
	cancel()

	_, finished := collectRun(t, sup)
	assert.Equal(t, -1, finished.ExitCode)
	assert.Equal(t, StateTerminated, sup.State())
}

func TestDrainTimeoutWithLingeringDescendant(t *testing.T) {
	sup := newTestSupervisor(t, WithDrainTimeout(200*time.Millisecond))
	// The background sleep inherits the output pipe and outlives the shell.
	script := writeScript(t, t.TempDir(), "sleep 5 &\necho bye\n")

	require.NoError(t, sup.Start(context.Background(), shell, script))

	start := time.Now()
	output, finished := collectRun(t, sup)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Contains(t, output, "bye")
	assert.Equal(t, 0, finished.ExitCode)
}

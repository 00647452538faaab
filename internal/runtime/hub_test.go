//go:build unix

package runtime_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scripthub/internal/console"
	"scripthub/internal/messages"
	"scripthub/internal/profiles"
	"scripthub/internal/runtime"
	"scripthub/internal/supervisor"
	"scripthub/internal/testutil"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventTimeout = 10 * time.Second

type staticProfiles map[string]profiles.Profile

func (s staticProfiles) Get(_ context.Context, id string) (profiles.Profile, error) {
	p, ok := s[id]
	if !ok {
		return profiles.Profile{}, profiles.ErrNotFound
	}
	return p, nil
}

type hubHarness struct {
	js        jetstream.JetStream
	publisher *messages.Publisher
	events    jetstream.Consumer
	metrics   *runtime.Metrics
}

func startHub(t *testing.T, src runtime.ProfileSource) *hubHarness {
	t.Helper()
	_, js := testutil.JetStream(t)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, runtime.EnsureStreams(ctx, js, jetstream.MemoryStorage))

	con := console.New(supervisor.New())
	go func() { _ = con.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-con.Done()
	})

	metrics := runtime.NewMetrics(prometheus.NewRegistry())
	hub := runtime.NewHub(js, con, src, metrics)
	require.NoError(t, hub.Start(ctx))

	events, err := js.OrderedConsumer(ctx, runtime.EventStream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{messages.ConsoleEventPattern},
	})
	require.NoError(t, err)

	return &hubHarness{js: js, publisher: messages.NewPublisher(js), events: events, metrics: metrics}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// next returns the next event on subject, skipping others.
func next[T any](t *testing.T, h *hubHarness, subject string, match func(T) bool) T {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for time.Now().Before(deadline) {
		msg, err := h.events.Next(jetstream.FetchMaxWait(time.Until(deadline)))
		if err != nil {
			break
		}
		if msg.Subject() != subject {
			continue
		}
		var evt T
		require.NoError(t, json.Unmarshal(msg.Data(), &evt))
		if match == nil || match(evt) {
			return evt
		}
	}
	t.Fatalf("timed out waiting for %s", subject)
	var zero T
	return zero
}

func TestHubRunsProfileAndForwardsInput(t *testing.T) {
	script := writeScript(t, "echo hello\nread line\necho \"got $line\"\n")
	h := startHub(t, staticProfiles{
		"p1": {ID: "p1", Name: "echo", ExecutablePath: "/bin/sh", ScriptPath: script},
	})
	ctx := testutil.Context(t)

	require.NoError(t, h.publisher.PublishCommand(ctx, messages.NewConsoleStartCommand("p1")))

	state := next(t, h, messages.ConsoleStateSubject, func(e messages.ConsoleStateEvent) bool {
		return e.State == "running"
	})
	assert.Equal(t, "p1", state.ProfileID)
	assert.Equal(t, "echo", state.ProfileName)
	assert.NotEmpty(t, state.RunID)
	assert.Positive(t, state.PID)

	next(t, h, messages.ConsoleOutputSubject, func(e messages.ConsoleOutputEvent) bool {
		return strings.Contains(e.Text, "hello")
	})

	require.NoError(t, h.publisher.PublishCommand(ctx, messages.NewConsoleInputCommand("abc")))

	user := next(t, h, messages.ConsoleOutputSubject, func(e messages.ConsoleOutputEvent) bool {
		return e.Origin == "user"
	})
	assert.Equal(t, "abc", user.Text)

	next(t, h, messages.ConsoleOutputSubject, func(e messages.ConsoleOutputEvent) bool {
		return strings.Contains(e.Text, "got abc")
	})

	fin := next[messages.ConsoleFinishedEvent](t, h, messages.ConsoleFinishedSubject, nil)
	assert.Equal(t, 0, fin.ExitCode)
	assert.False(t, fin.Killed)
	assert.Equal(t, state.RunID, fin.RunID)

	assert.Eventually(t, func() bool {
		return promtest.ToFloat64(h.metrics.ProcessExits.WithLabelValues("ok")) == 1
	}, eventTimeout, 20*time.Millisecond)
	assert.Equal(t, float64(1), promtest.ToFloat64(h.metrics.ProcessStarts))
}

func TestHubUnknownProfilePublishesConfigError(t *testing.T) {
	h := startHub(t, staticProfiles{})
	ctx := testutil.Context(t)

	cmd := messages.NewConsoleStartCommand("missing").WithCorrelation("sess-9")
	require.NoError(t, h.publisher.PublishCommand(ctx, cmd))

	evt := next[messages.ConsoleErrorEvent](t, h, messages.ConsoleErrorSubject, nil)
	assert.Equal(t, messages.ErrorKindConfig, evt.Kind)
	assert.Equal(t, "sess-9", evt.CorrelationID)
	assert.Contains(t, evt.Error, profiles.ErrNotFound.Error())
}

func TestHubMissingPathsPublishesConfigError(t *testing.T) {
	h := startHub(t, staticProfiles{
		"blank": {ID: "blank", Name: "blank", ExecutablePath: "/bin/sh"},
	})
	ctx := testutil.Context(t)

	require.NoError(t, h.publisher.PublishCommand(ctx, messages.NewConsoleStartCommand("blank")))

	next[messages.ConsoleClearedEvent](t, h, messages.ConsoleClearedSubject, nil)
	evt := next[messages.ConsoleErrorEvent](t, h, messages.ConsoleErrorSubject, nil)
	assert.Equal(t, messages.ErrorKindConfig, evt.Kind)
	assert.Equal(t, "Paths are missing.", evt.Error)
}

func TestHubStopReportsKilled(t *testing.T) {
	script := writeScript(t, "echo ready\nsleep 30\n")
	h := startHub(t, staticProfiles{
		"p1": {ID: "p1", Name: "sleeper", ExecutablePath: "/bin/sh", ScriptPath: script},
	})
	ctx := testutil.Context(t)

	require.NoError(t, h.publisher.PublishCommand(ctx, messages.NewConsoleStartCommand("p1")))
	next(t, h, messages.ConsoleOutputSubject, func(e messages.ConsoleOutputEvent) bool {
		return strings.Contains(e.Text, "ready")
	})

	require.NoError(t, h.publisher.PublishCommand(ctx, &messages.ConsoleStopCommand{}))

	fin := next[messages.ConsoleFinishedEvent](t, h, messages.ConsoleFinishedSubject, nil)
	assert.True(t, fin.Killed)
	next(t, h, messages.ConsoleStateSubject, func(e messages.ConsoleStateEvent) bool {
		return e.State == "terminated"
	})
}

func TestReplayStartFindsLastClear(t *testing.T) {
	_, js := testutil.JetStream(t)
	ctx := testutil.Context(t)
	require.NoError(t, runtime.EnsureStreams(ctx, js, jetstream.MemoryStorage))

	seq, err := runtime.ReplayStart(ctx, js, messages.ConsoleClearedSubject)
	require.NoError(t, err)
	assert.Zero(t, seq)

	pub := messages.NewPublisher(js)
	require.NoError(t, pub.PublishEvent(ctx, messages.NewConsoleClearedEvent()))
	require.NoError(t, pub.PublishEvent(ctx, messages.NewConsoleStateEvent("running", "p1", "r1", 7)))
	require.NoError(t, pub.PublishEvent(ctx, messages.NewConsoleClearedEvent()))

	seq, err = runtime.ReplayStart(ctx, js, messages.ConsoleClearedSubject)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
}

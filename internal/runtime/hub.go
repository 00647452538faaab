package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scripthub/internal/ansi"
	"scripthub/internal/console"
	"scripthub/internal/messages"
	"scripthub/internal/profiles"
	"scripthub/internal/supervisor"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// CommandStream holds console commands until the hub consumes them.
	CommandStream = "COMMAND"
	// EventStream holds console events for UI replay.
	EventStream = "EVENT"
	// commandConsumer is the durable consumer draining console commands.
	commandConsumer = "CONSOLE_CMD"

	commandTimeout = 30 * time.Second
)

// ProfileSource resolves a profile ID to the paths to run.
type ProfileSource interface {
	Get(ctx context.Context, id string) (profiles.Profile, error)
}

// Hub connects the COMMAND stream, the console and the EVENT stream.
type Hub struct {
	js        jetstream.JetStream
	console   *console.Console
	profiles  ProfileSource
	publisher *messages.Publisher
	metrics   *Metrics
	logger    *slog.Logger
}

// NewHub wires a hub. The console must be running (or about to be) under the
// same context passed to Start.
func NewHub(js jetstream.JetStream, con *console.Console, src ProfileSource, metrics *Metrics) *Hub {
	return &Hub{
		js:        js,
		console:   con,
		profiles:  src,
		publisher: messages.NewPublisher(js),
		metrics:   metrics,
		logger:    slog.Default().With("component", "hub"),
	}
}

// Start subscribes to console changes and begins consuming commands. It
// returns once the consumer is set up; work continues until ctx ends.
func (h *Hub) Start(ctx context.Context) error {
	// Every change becomes an event, so the hub must not miss any.
	changes, cancel := h.console.SubscribeAll()
	go func() {
		<-ctx.Done()
		cancel()
	}()
	go h.forward(ctx, changes)

	return h.setupConsumer(ctx, commandConsumer, messages.ConsoleCommandPattern, h.handleCommand)
}

func (h *Hub) setupConsumer(ctx context.Context, name, subject string, handler func(context.Context, jetstream.Msg)) error {
	_, err := h.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:        name,
		AckPolicy:      jetstream.AckExplicitPolicy,
		FilterSubjects: []string{subject},
		// One in flight keeps commands in publish order.
		MaxAckPending: 1,
	})
	if err != nil {
		return fmt.Errorf("create %s consumer: %w", name, err)
	}
	consumer, err := h.js.Consumer(ctx, CommandStream, name)
	if err != nil {
		return fmt.Errorf("get %s consumer: %w", name, err)
	}
	cc, err := consumer.Consume(func(msg jetstream.Msg) { handler(ctx, msg) })
	if err != nil {
		return fmt.Errorf("consume %s: %w", name, err)
	}
	go func() {
		<-ctx.Done()
		cc.Stop()
	}()
	return nil
}

// -----------------------------------------------------------------------------
// command.console.*
// -----------------------------------------------------------------------------

func (h *Hub) handleCommand(ctx context.Context, msg jetstream.Msg) {
	subject := msg.Subject()
	err := h.dispatch(ctx, subject, msg.Data())

	result := "ok"
	if err != nil {
		result = "error"
		h.logger.Warn("Console command failed", "subject", subject, "err", err)
	}
	h.metrics.CommandsTotal.WithLabelValues(subject, result).Inc()

	if ackErr := msg.Ack(); ackErr != nil {
		h.logger.Error("Ack failed", "subject", subject, "err", ackErr)
	}
}

func (h *Hub) dispatch(ctx context.Context, subject string, data []byte) error {
	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch subject {
	case messages.ConsoleStartSubject:
		var cmd messages.ConsoleStartCommand
		if err := decodeCommand(data, &cmd); err != nil {
			return err
		}
		return h.start(cmdCtx, cmd)

	case messages.ConsoleInputSubject:
		var cmd messages.ConsoleInputCommand
		if err := decodeCommand(data, &cmd); err != nil {
			return err
		}
		if err := h.console.Send(cmdCtx, cmd.Line); err != nil {
			return err
		}
		return nil

	case messages.ConsoleInterruptSubject:
		return h.console.Interrupt(cmdCtx)

	case messages.ConsoleStopSubject:
		return h.console.Stop(cmdCtx)

	case messages.ConsoleClearSubject:
		return h.console.Clear(cmdCtx)

	default:
		return fmt.Errorf("unknown console command %q", subject)
	}
}

func (h *Hub) start(ctx context.Context, cmd messages.ConsoleStartCommand) error {
	p, err := h.profiles.Get(ctx, cmd.ProfileID)
	if err != nil {
		h.metrics.StartFailures.WithLabelValues(messages.ErrorKindConfig).Inc()
		evt := messages.NewConsoleErrorEvent(messages.ErrorKindConfig, err.Error()).WithCorrelation(cmd.CorrelationID)
		if pubErr := h.publisher.PublishEvent(ctx, evt); pubErr != nil {
			h.metrics.PublishFailures.Inc()
		}
		return err
	}

	h.logger.Info("Starting profile", "profile_id", p.ID, "name", p.Name, "session", cmd.CorrelationID)
	// Config and spawn errors are also reported through the console's changes.
	return h.console.Start(ctx, console.Target{
		ProfileID:      p.ID,
		ProfileName:    p.Name,
		ExecutablePath: p.ExecutablePath,
		ScriptPath:     p.ScriptPath,
	})
}

func decodeCommand[T messages.Command](data []byte, cmd *T) error {
	if err := json.Unmarshal(data, cmd); err != nil {
		return fmt.Errorf("decode %T: %w", *cmd, err)
	}
	return (*cmd).Validate()
}

// -----------------------------------------------------------------------------
// console changes → event.console.*
// -----------------------------------------------------------------------------

func (h *Hub) forward(ctx context.Context, changes <-chan console.Change) {
	for ch := range changes {
		evt := h.eventFor(ch)
		if evt == nil {
			continue
		}
		if err := h.publisher.PublishEvent(ctx, evt); err != nil {
			h.metrics.PublishFailures.Inc()
			if ctx.Err() == nil {
				h.logger.Error("Publish console event failed", "kind", ch.Kind, "seq", ch.Seq, "err", err)
			}
		}
	}
}

// eventFor converts a change to its event and records metrics.
func (h *Hub) eventFor(ch console.Change) messages.Event {
	switch ch.Kind {
	case console.ChangeMessage:
		runs := ch.Message.Runs
		if ch.Appended {
			runs = ch.Delta
		}
		text := ansi.Text(runs)
		if ch.Message.Origin == console.OriginUser {
			h.metrics.InputLines.Inc()
		} else {
			h.metrics.OutputBytes.Add(float64(len(text)))
		}
		return &messages.ConsoleOutputEvent{
			MessageID: ch.Message.ID,
			Origin:    ch.Message.Origin.String(),
			Text:      text,
			HTML:      ansi.HTML(runs),
			Appended:  ch.Appended,
			EmittedAt: time.Now(),
		}

	case console.ChangeState:
		if ch.State == supervisor.StateRunning {
			h.metrics.ProcessStarts.Inc()
		}
		return messages.NewConsoleStateEvent(ch.State.String(), ch.ProfileID, ch.Session.RunID, ch.Session.PID).
			WithProfileName(ch.ProfileName)

	case console.ChangeFinished:
		h.metrics.ProcessExits.WithLabelValues(exitOutcome(ch)).Inc()
		evt := messages.NewConsoleFinishedEvent(ch.Session.RunID, ch.ExitCode, ch.Killed)
		if ch.Err != nil {
			evt = evt.WithError(ch.Err.Error())
		}
		return evt

	case console.ChangeError:
		kind := errorKind(ch.Err)
		if kind != messages.ErrorKindIO {
			h.metrics.StartFailures.WithLabelValues(kind).Inc()
		}
		return messages.NewConsoleErrorEvent(kind, ch.Err.Error())

	case console.ChangeCleared:
		return messages.NewConsoleClearedEvent()
	}
	return nil
}

func exitOutcome(ch console.Change) string {
	switch {
	case ch.Killed:
		return "killed"
	case ch.Err != nil:
		return "error"
	case ch.ExitCode == 0:
		return "ok"
	default:
		return "failed"
	}
}

func errorKind(err error) string {
	var cfgErr *supervisor.ConfigError
	var spawnErr *supervisor.SpawnError
	switch {
	case errors.As(err, &cfgErr):
		return messages.ErrorKindConfig
	case errors.As(err, &spawnErr):
		return messages.ErrorKindSpawn
	default:
		return messages.ErrorKindIO
	}
}

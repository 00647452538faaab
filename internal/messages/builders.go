package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// =============================================================================
// CONSTRUCTORS - Easy message creation
// =============================================================================

// NewConsoleStartCommand creates a start command for a profile
func NewConsoleStartCommand(profileID string) *ConsoleStartCommand {
	return &ConsoleStartCommand{ProfileID: profileID}
}

// WithCorrelation adds correlation ID to console start command
func (c *ConsoleStartCommand) WithCorrelation(id string) *ConsoleStartCommand {
	c.CorrelationID = id
	return c
}

// NewConsoleInputCommand creates a stdin line command
func NewConsoleInputCommand(line string) *ConsoleInputCommand {
	return &ConsoleInputCommand{Line: line}
}

// WithCorrelation adds correlation ID to console input command
func (c *ConsoleInputCommand) WithCorrelation(id string) *ConsoleInputCommand {
	c.CorrelationID = id
	return c
}

// NewConsoleErrorEvent creates an error event
func NewConsoleErrorEvent(kind, errorMsg string) *ConsoleErrorEvent {
	return &ConsoleErrorEvent{
		Kind:       kind,
		Error:      errorMsg,
		OccurredAt: time.Now(),
	}
}

// WithCorrelation adds correlation ID to console error event
func (e *ConsoleErrorEvent) WithCorrelation(id string) *ConsoleErrorEvent {
	e.CorrelationID = id
	return e
}

// NewConsoleFinishedEvent creates a finished event
func NewConsoleFinishedEvent(runID string, exitCode int, killed bool) *ConsoleFinishedEvent {
	return &ConsoleFinishedEvent{
		RunID:    runID,
		ExitCode: exitCode,
		Killed:   killed,
		ExitedAt: time.Now(),
	}
}

// WithError adds error message to finished event
func (e *ConsoleFinishedEvent) WithError(err string) *ConsoleFinishedEvent {
	e.Error = err
	return e
}

// NewConsoleStateEvent creates a state event
func NewConsoleStateEvent(state, profileID, runID string, pid int) *ConsoleStateEvent {
	return &ConsoleStateEvent{
		State:     state,
		ProfileID: profileID,
		RunID:     runID,
		PID:       pid,
		ChangedAt: time.Now(),
	}
}

// WithProfileName sets the display name of the running profile
func (e *ConsoleStateEvent) WithProfileName(name string) *ConsoleStateEvent {
	e.ProfileName = name
	return e
}

// NewConsoleClearedEvent creates a cleared event
func NewConsoleClearedEvent() *ConsoleClearedEvent {
	return &ConsoleClearedEvent{ClearedAt: time.Now()}
}

// =============================================================================
// PUBLISHER - Type-safe message publishing
// =============================================================================

// Publisher provides type-safe message publishing
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new type-safe publisher
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishCommand publishes a command with validation
func (p *Publisher) PublishCommand(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("command validation failed: %w", err)
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	_, err = p.js.Publish(ctx, cmd.Subject(), data)
	if err != nil {
		return fmt.Errorf("publish command: %w", err)
	}

	return nil
}

// PublishEvent publishes an event with validation
func (p *Publisher) PublishEvent(ctx context.Context, evt Event) error {
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("event validation failed: %w", err)
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = p.js.Publish(ctx, evt.Subject(), data)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	return nil
}

// =============================================================================
// UTILITIES - Helper functions for common operations
// =============================================================================

// BuildCommand creates a typed command from UI form data
func BuildCommand(messageType string, data map[string]any) (Command, error) {
	corrID, _ := data["correlation_id"].(string)

	switch messageType {
	case "start":
		profileID, _ := data["profile_id"].(string)
		return NewConsoleStartCommand(profileID).WithCorrelation(corrID), nil

	case "input":
		line, _ := data["line"].(string)
		return NewConsoleInputCommand(line).WithCorrelation(corrID), nil

	case "interrupt":
		return &ConsoleInterruptCommand{CorrelationID: corrID}, nil

	case "stop":
		return &ConsoleStopCommand{CorrelationID: corrID}, nil

	case "clear":
		return &ConsoleClearCommand{CorrelationID: corrID}, nil

	default:
		return nil, fmt.Errorf("unknown command type: %s", messageType)
	}
}

// GetCommandTypes returns all available command message types
func GetCommandTypes() []string {
	return []string{"start", "input", "interrupt", "stop", "clear"}
}

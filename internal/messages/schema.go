package messages

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// CORE INTERFACES
// =============================================================================

// Message represents any message in the system
type Message interface {
	Subject() string
	Validate() error
}

// Command represents an input that requests something to happen
type Command interface {
	Message
	IsCommand()
}

// Event represents something that has happened
type Event interface {
	Message
	IsEvent()
	Timestamp() time.Time
}

// =============================================================================
// SUBJECT CONSTANTS - Single source of truth for all subjects
// =============================================================================

const (
	// Console domain - Commands
	ConsoleCommandPattern   = "command.console.>"
	ConsoleStartSubject     = "command.console.start"
	ConsoleInputSubject     = "command.console.input"
	ConsoleInterruptSubject = "command.console.interrupt"
	ConsoleStopSubject      = "command.console.stop"
	ConsoleClearSubject     = "command.console.clear"

	// Console domain - Events
	ConsoleEventPattern    = "event.console.>"
	ConsoleOutputSubject   = "event.console.output"
	ConsoleStateSubject    = "event.console.state"
	ConsoleFinishedSubject = "event.console.finished"
	ConsoleErrorSubject    = "event.console.error"
	ConsoleClearedSubject  = "event.console.cleared"
)

// Error kinds carried by ConsoleErrorEvent.
const (
	ErrorKindConfig = "config"
	ErrorKindSpawn  = "spawn"
	ErrorKindIO     = "io"
)

// =============================================================================
// CONSOLE DOMAIN - COMMANDS
// =============================================================================

// ConsoleStartCommand runs a saved profile, replacing any running child
type ConsoleStartCommand struct {
	ProfileID     string `json:"profile_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (c ConsoleStartCommand) Subject() string { return ConsoleStartSubject }
func (c ConsoleStartCommand) IsCommand()      {}
func (c ConsoleStartCommand) Validate() error {
	if c.ProfileID == "" {
		return fmt.Errorf("profile_id is required")
	}
	return nil
}

// ConsoleInputCommand sends one line to the child's stdin. Empty is allowed.
type ConsoleInputCommand struct {
	Line          string `json:"line"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (c ConsoleInputCommand) Subject() string { return ConsoleInputSubject }
func (c ConsoleInputCommand) IsCommand()      {}
func (c ConsoleInputCommand) Validate() error {
	if strings.ContainsAny(c.Line, "\r\n") {
		return fmt.Errorf("line must not contain line breaks")
	}
	return nil
}

// ConsoleInterruptCommand sends SIGINT to the child
type ConsoleInterruptCommand struct {
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (c ConsoleInterruptCommand) Subject() string { return ConsoleInterruptSubject }
func (c ConsoleInterruptCommand) IsCommand()      {}
func (c ConsoleInterruptCommand) Validate() error { return nil }

// ConsoleStopCommand kills the child
type ConsoleStopCommand struct {
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (c ConsoleStopCommand) Subject() string { return ConsoleStopSubject }
func (c ConsoleStopCommand) IsCommand()      {}
func (c ConsoleStopCommand) Validate() error { return nil }

// ConsoleClearCommand empties the display log
type ConsoleClearCommand struct {
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (c ConsoleClearCommand) Subject() string { return ConsoleClearSubject }
func (c ConsoleClearCommand) IsCommand()      {}
func (c ConsoleClearCommand) Validate() error { return nil }

// =============================================================================
// CONSOLE DOMAIN - EVENTS
// =============================================================================

// ConsoleOutputEvent carries a new display message or the tail of one.
// When Appended is true, Text and HTML extend the message MessageID.
type ConsoleOutputEvent struct {
	MessageID string    `json:"message_id"`
	RunID     string    `json:"run_id,omitempty"`
	Origin    string    `json:"origin"` // "process" | "user"
	Text      string    `json:"text"`
	HTML      string    `json:"html"`
	Appended  bool      `json:"appended"`
	EmittedAt time.Time `json:"emitted_at"`
}

func (e ConsoleOutputEvent) Subject() string      { return ConsoleOutputSubject }
func (e ConsoleOutputEvent) IsEvent()             {}
func (e ConsoleOutputEvent) Timestamp() time.Time { return e.EmittedAt }
func (e ConsoleOutputEvent) Validate() error {
	if e.MessageID == "" {
		return fmt.Errorf("message_id is required")
	}
	return nil
}

// ConsoleStateEvent reports a lifecycle transition
type ConsoleStateEvent struct {
	State       string    `json:"state"` // "idle" | "running" | "terminated"
	ProfileID   string    `json:"profile_id,omitempty"`
	ProfileName string    `json:"profile_name,omitempty"`
	RunID       string    `json:"run_id,omitempty"`
	PID         int       `json:"pid,omitempty"`
	ChangedAt   time.Time `json:"changed_at"`
}

func (e ConsoleStateEvent) Subject() string      { return ConsoleStateSubject }
func (e ConsoleStateEvent) IsEvent()             {}
func (e ConsoleStateEvent) Timestamp() time.Time { return e.ChangedAt }
func (e ConsoleStateEvent) Validate() error {
	if e.State == "" {
		return fmt.Errorf("state is required")
	}
	return nil
}

// ConsoleFinishedEvent is emitted once per run after the child is reaped
type ConsoleFinishedEvent struct {
	RunID    string    `json:"run_id,omitempty"`
	ExitCode int       `json:"exit_code"`
	Killed   bool      `json:"killed"`
	Error    string    `json:"error,omitempty"`
	ExitedAt time.Time `json:"exited_at"`
}

func (e ConsoleFinishedEvent) Subject() string      { return ConsoleFinishedSubject }
func (e ConsoleFinishedEvent) IsEvent()             {}
func (e ConsoleFinishedEvent) Timestamp() time.Time { return e.ExitedAt }
func (e ConsoleFinishedEvent) Validate() error      { return nil }

// ConsoleErrorEvent reports a config, spawn or I/O failure
type ConsoleErrorEvent struct {
	Kind          string    `json:"kind"`
	Error         string    `json:"error"`
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func (e ConsoleErrorEvent) Subject() string      { return ConsoleErrorSubject }
func (e ConsoleErrorEvent) IsEvent()             {}
func (e ConsoleErrorEvent) Timestamp() time.Time { return e.OccurredAt }
func (e ConsoleErrorEvent) Validate() error {
	if e.Error == "" {
		return fmt.Errorf("error is required")
	}
	return nil
}

// ConsoleClearedEvent marks the display log as emptied. UI streams replay
// from the most recent one.
type ConsoleClearedEvent struct {
	ClearedAt time.Time `json:"cleared_at"`
}

func (e ConsoleClearedEvent) Subject() string      { return ConsoleClearedSubject }
func (e ConsoleClearedEvent) IsEvent()             {}
func (e ConsoleClearedEvent) Timestamp() time.Time { return e.ClearedAt }
func (e ConsoleClearedEvent) Validate() error      { return nil }

// Package messages provides a centralized schema for all NATS messaging contracts.
//
// This package consolidates all message types, subject patterns, and validation logic
// into a single source of truth, providing:
//
//   - Type-safe message construction
//   - Builder helpers for ergonomic message creation
//   - Centralized subject constants to eliminate hardcoded strings
//   - Validation methods to ensure message integrity
//   - Type-safe publisher for command and event publishing
//
// # Message Types
//
//   - Commands: requests sent to the console (e.g., ConsoleStartCommand)
//   - Events: what the console did (e.g., ConsoleOutputEvent)
//
// Commands live on "command.console.*" and land in the COMMAND work-queue
// stream. Events live on "event.console.*" in the EVENT stream, where UI
// streams replay them from the most recent ConsoleClearedEvent.
//
// # Usage Example
//
//	publisher := messages.NewPublisher(js)
//
//	cmd := messages.NewConsoleStartCommand(profileID).WithCorrelation(sessionID)
//	if err := publisher.PublishCommand(ctx, cmd); err != nil {
//	    return err
//	}
//
//	evt := messages.NewConsoleErrorEvent(messages.ErrorKindSpawn, "no such file")
//	if err := publisher.PublishEvent(ctx, evt); err != nil {
//	    return err
//	}
package messages

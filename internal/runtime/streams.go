package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// eventHistory caps how many console events the EVENT stream keeps for replay.
const eventHistory = 50_000

// EnsureStreams creates or updates the COMMAND and EVENT streams.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, storage jetstream.StorageType) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      CommandStream,
		Subjects:  []string{"command.>"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   storage,
	})
	if err != nil {
		return fmt.Errorf("create %s stream: %w", CommandStream, err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     EventStream,
		Subjects: []string{"event.>"},
		Storage:  storage,
		MaxMsgs:  eventHistory,
		Discard:  jetstream.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("create %s stream: %w", EventStream, err)
	}
	return nil
}

// ReplayStart returns the EVENT stream sequence of the most recent message on
// subject, or 0 when there is none.
func ReplayStart(ctx context.Context, js jetstream.JetStream, subject string) (uint64, error) {
	stream, err := js.Stream(ctx, EventStream)
	if err != nil {
		return 0, fmt.Errorf("get %s stream: %w", EventStream, err)
	}
	msg, err := stream.GetLastMsgForSubject(ctx, subject)
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("last %s: %w", subject, err)
	}
	return msg.Sequence, nil
}

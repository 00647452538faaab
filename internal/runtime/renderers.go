package runtime

import (
	"context"

	"scripthub/internal/messages"
	components "scripthub/ui/components"

	"github.com/nats-io/nats.go/jetstream"
	datastar "github.com/starfederation/datastar/sdk/go"
)

// consoleLogID is the element holding the display messages.
const consoleLogID = "console-log"

// ─────────────────── OUTPUT ────────────────────────────

func renderOutput(ctx context.Context, msg jetstream.Msg, sse *datastar.ServerSentEventGenerator, evt messages.ConsoleOutputEvent) error {
	if evt.Appended {
		return sse.MergeFragmentTempl(
			components.ConsoleDelta(evt.HTML),
			datastar.WithSelectorID(components.MessageBodyID(evt.MessageID)),
			datastar.WithMergeAppend(),
		)
	}
	return sse.MergeFragmentTempl(
		components.ConsoleMessage(evt.MessageID, evt.Origin, evt.HTML),
		datastar.WithSelectorID(consoleLogID),
		datastar.WithMergeAppend(),
	)
}

// ─────────────────── LIFECYCLE ─────────────────────────

func renderState(ctx context.Context, msg jetstream.Msg, sse *datastar.ServerSentEventGenerator, evt messages.ConsoleStateEvent) error {
	if err := sse.MergeFragmentTempl(components.ConsoleStatus(evt.State, evt.ProfileName, evt.PID)); err != nil {
		return err
	}
	// A fresh run hides the previous error banner.
	if evt.State == "running" {
		return sse.MergeFragmentTempl(components.ConsoleError(""))
	}
	return nil
}

func renderFinished(ctx context.Context, msg jetstream.Msg, sse *datastar.ServerSentEventGenerator, evt messages.ConsoleFinishedEvent) error {
	if evt.Error == "" {
		return nil
	}
	return sse.MergeFragmentTempl(components.ConsoleError(evt.Error))
}

func renderError(ctx context.Context, msg jetstream.Msg, sse *datastar.ServerSentEventGenerator, evt messages.ConsoleErrorEvent) error {
	return sse.MergeFragmentTempl(components.ConsoleError(evt.Error))
}

func renderCleared(ctx context.Context, msg jetstream.Msg, sse *datastar.ServerSentEventGenerator, _ messages.ConsoleClearedEvent) error {
	return sse.MergeFragmentTempl(components.ConsoleLog(nil))
}

// ─────────────────── REGISTRY ──────────────────────────

func init() {
	Specs = []RendererSpec{
		{Pattern: messages.ConsoleOutputSubject, Build: func(subj string) Renderer {
			return newTypedRenderer(subj, renderOutput)
		}},
		{Pattern: messages.ConsoleStateSubject, Build: func(subj string) Renderer {
			return newTypedRenderer(subj, renderState)
		}},
		{Pattern: messages.ConsoleFinishedSubject, Build: func(subj string) Renderer {
			return newTypedRenderer(subj, renderFinished)
		}},
		{Pattern: messages.ConsoleErrorSubject, Build: func(subj string) Renderer {
			return newTypedRenderer(subj, renderError)
		}},
		{Pattern: messages.ConsoleClearedSubject, Build: func(subj string) Renderer {
			return newTypedRenderer(subj, renderCleared)
		}},
	}
}

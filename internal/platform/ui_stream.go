package platform

import (
	"context"
	"log/slog"
	"net/http"

	"scripthub/internal/messages"
	"scripthub/internal/profiles"
	runtime "scripthub/internal/runtime"
	components "scripthub/ui/components"

	"github.com/nats-io/nats.go/jetstream"
	datastar "github.com/starfederation/datastar/sdk/go"
)

// profileItems marks the active profile for the sidebar.
func profileItems(list []profiles.Profile, activeID string) []components.ProfileItem {
	items := make([]components.ProfileItem, 0, len(list))
	for i, p := range list {
		items = append(items, components.ProfileItem{
			ID:             p.ID,
			Name:           p.Name,
			ExecutablePath: p.ExecutablePath,
			ScriptPath:     p.ScriptPath,
			Favorite:       p.Favorite,
			Active:         p.ID == activeID,
			Index:          i,
		})
	}
	return items
}

// eventConsumerConfig replays console events from the most recent clear, so
// a new tab sees exactly the current display log.
func eventConsumerConfig(startSeq uint64) jetstream.ConsumerConfig {
	cfg := jetstream.ConsumerConfig{
		AckPolicy:      jetstream.AckNonePolicy,
		FilterSubjects: []string{messages.ConsoleEventPattern},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if startSeq > 0 {
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = startSeq
	}
	return cfg
}

// UIStream is the SSE handler for /ui
func UIStream(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sse := datastar.NewSSE(w, r)
		sid := SessionID(r)
		logger := slog.Default().With("session", sid)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		renderProfiles := func() {
			list, err := app.Profiles.List(ctx)
			if err != nil {
				logger.Warn("UIStream: list profiles", "err", err)
				return
			}
			if err := sse.MergeFragmentTempl(components.ProfileList(profileItems(list, app.Console.ProfileID()))); err != nil {
				logger.Debug("UIStream: render profiles", "err", err)
			}
		}
		renderProfiles()

		// --- Replay the current run, then follow live events ---
		startSeq, err := runtime.ReplayStart(ctx, app.JS, messages.ConsoleClearedSubject)
		if err != nil {
			logger.Warn("UIStream: replay start", "err", err)
		}
		cons, err := app.JS.CreateConsumer(ctx, runtime.EventStream, eventConsumerConfig(startSeq))
		if err != nil {
			logger.Error("UIStream: failed to create consumer", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer func() {
			name := cons.CachedInfo().Name
			if err := app.JS.DeleteConsumer(context.Background(), runtime.EventStream, name); err != nil {
				logger.Debug("UIStream: delete consumer", "consumer", name, "err", err)
			}
		}()

		renderers := runtime.ForSubjects([]string{messages.ConsoleEventPattern})
		cc, err := cons.Consume(func(msg jetstream.Msg) {
			if err := runtime.Render(ctx, renderers, msg, sse); err != nil {
				logger.Warn("render", "subj", msg.Subject(), "err", err)
			}
			// The active profile changes with each run.
			if msg.Subject() == messages.ConsoleStateSubject {
				renderProfiles()
			}
		})
		if err != nil {
			logger.Error("UIStream: consume failed", "err", err)
			return
		}
		defer cc.Stop()

		// --- Watch for profile edits ---
		updates, err := app.Profiles.Watch(ctx)
		if err != nil {
			logger.Warn("UIStream: watch profiles", "err", err)
		} else {
			go func() {
				for range updates {
					renderProfiles()
				}
			}()
		}

		<-ctx.Done() // Wait for disconnect
	}
}

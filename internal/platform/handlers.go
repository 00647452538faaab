package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"scripthub/internal/ansi"
	"scripthub/internal/console"
	"scripthub/internal/messages"
	"scripthub/internal/profiles"
	"scripthub/util"
	components "scripthub/ui/components"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go/jetstream"
	datastar "github.com/starfederation/datastar/sdk/go"
)

const maxBodyBytes = 1 << 20

// Health returns 200 OK.
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// isDatastar reports whether the request came from a datastar action.
func isDatastar(r *http.Request) bool {
	return r.Header.Get("Datastar-Request") == "true"
}

// readPayload merges query parameters with a JSON, multipart or urlencoded
// body. Body values win.
func readPayload(r *http.Request) (map[string]any, error) {
	data := make(map[string]any)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			data[key] = values[0]
		}
	}

	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "application/json"):
		var body map[string]any
		err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		for k, v := range body {
			data[k] = v
		}
	case strings.Contains(contentType, "multipart/form-data"):
		// The constant 10 << 20 limits the total memory used for parts to 10MB.
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			return nil, fmt.Errorf("invalid multipart form data: %w", err)
		}
		for key, values := range r.PostForm {
			if len(values) > 0 {
				data[key] = values[0]
			}
		}
	default:
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form data: %w", err)
		}
		for key, values := range r.PostForm {
			if len(values) > 0 {
				data[key] = values[0]
			}
		}
	}
	return data, nil
}

// respondError shows the message in the console error banner for datastar
// requests and as a plain HTTP error otherwise.
func respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if isDatastar(r) {
		sse := datastar.NewSSE(w, r)
		_ = sse.MergeFragmentTempl(components.ConsoleError(msg))
		return
	}
	http.Error(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// -----------------------------------------------------------------------------
// /console
// -----------------------------------------------------------------------------

// ConsoleCommand turns a request into a typed console command and publishes
// it on the COMMAND stream.
func ConsoleCommand(js jetstream.JetStream) http.HandlerFunc {
	publisher := messages.NewPublisher(js)

	return func(w http.ResponseWriter, r *http.Request) {
		action := chi.URLParam(r, "action")

		data, err := readPayload(r)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		data["correlation_id"] = SessionID(r)

		cmd, err := messages.BuildCommand(action, data)
		if err != nil {
			respondError(w, r, http.StatusNotFound, err.Error())
			return
		}
		if err := cmd.Validate(); err != nil {
			respondError(w, r, http.StatusBadRequest, fmt.Sprintf("validation error: %v", err))
			return
		}
		if err := publisher.PublishCommand(r.Context(), cmd); err != nil {
			slog.Error("Publish console command failed", "action", action, "session", SessionID(r), "err", err)
			respondError(w, r, http.StatusInternalServerError, fmt.Sprintf("publish error: %v", err))
			return
		}

		if isDatastar(r) {
			sse := datastar.NewSSE(w, r)
			if action == "input" {
				_ = sse.MergeSignals([]byte(`{"line":""}`))
			}
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "sent",
			"type":   action,
		})
	}
}

type consoleMessage struct {
	ID     string `json:"id"`
	Origin string `json:"origin"`
	Text   string `json:"text"`
}

type consoleSnapshot struct {
	State     string           `json:"state"`
	ProfileID string           `json:"profile_id,omitempty"`
	RunID     string           `json:"run_id,omitempty"`
	PID       int              `json:"pid,omitempty"`
	LastError string           `json:"last_error,omitempty"`
	Messages  []consoleMessage `json:"messages"`
}

// ConsoleSnapshot reports the current process state and display log as JSON.
func ConsoleSnapshot(con *console.Console) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := con.Snapshot()
		out := consoleSnapshot{
			State:     snap.State.String(),
			ProfileID: snap.ProfileID,
			RunID:     snap.Session.RunID,
			PID:       snap.Session.PID,
			Messages:  make([]consoleMessage, 0, len(snap.Messages)),
		}
		if snap.LastError != nil {
			out.LastError = snap.LastError.Error()
		}
		for _, m := range snap.Messages {
			out.Messages = append(out.Messages, consoleMessage{ID: m.ID, Origin: m.Origin.String(), Text: ansi.Text(m.Runs)})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// -----------------------------------------------------------------------------
// /profiles
// -----------------------------------------------------------------------------

type profileForm struct {
	Name           string
	ExecutablePath string
	ScriptPath     string
	Favorite       bool
}

func profileStatus(err error) int {
	switch {
	case errors.Is(err, profiles.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, profiles.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ListProfiles returns the profiles in the user's order as JSON. ?q= keeps
// only names containing q, ignoring case.
func ListProfiles(store *profiles.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := store.Search(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			http.Error(w, err.Error(), profileStatus(err))
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// CreateProfile stores a new profile.
func CreateProfile(store *profiles.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := readPayload(r)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		var form profileForm
		form.Name, _ = data["name"].(string)
		form.ExecutablePath, _ = data["executable_path"].(string)
		form.ScriptPath, _ = data["script_path"].(string)
		switch fav := data["favorite"].(type) {
		case bool:
			form.Favorite = fav
		case string:
			form.Favorite = fav == "true" || fav == "on"
		}

		p, err := store.Create(r.Context(), profiles.Profile{
			Name:           form.Name,
			ExecutablePath: strings.TrimSpace(form.ExecutablePath),
			ScriptPath:     strings.TrimSpace(form.ScriptPath),
			Favorite:       form.Favorite,
		})
		if err != nil {
			respondError(w, r, profileStatus(err), err.Error())
			return
		}
		slog.Info("Profile created", "profile_id", p.ID, "name", p.Name, "session", SessionID(r))

		if isDatastar(r) {
			sse := datastar.NewSSE(w, r)
			_ = sse.MergeSignals([]byte(`{"name":"","executable_path":"","script_path":""}`))
			_ = sse.MergeFragmentTempl(components.ConsoleError(""))
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

// UpdateProfile applies a JSON merge patch from the request body.
func UpdateProfile(store *profiles.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		patch, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		p, err := store.Update(r.Context(), id, patch)
		if err != nil {
			respondError(w, r, profileStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// DeleteProfile removes a profile.
func DeleteProfile(store *profiles.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := store.Delete(r.Context(), id); err != nil {
			respondError(w, r, profileStatus(err), err.Error())
			return
		}
		slog.Info("Profile deleted", "profile_id", id, "session", SessionID(r))
		w.WriteHeader(http.StatusNoContent)
	}
}

// MoveProfile moves a profile to index "to" of the ordered list.
func MoveProfile(store *profiles.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := readPayload(r)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		to, err := intParam(data, "to")
		if err != nil {
			respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		id := chi.URLParam(r, "id")
		list, err := store.Move(r.Context(), id, to)
		if err != nil {
			respondError(w, r, profileStatus(err), err.Error())
			return
		}
		slog.Info("Profile moved", "profile_id", id, "to", to, "session", SessionID(r))
		if isDatastar(r) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// intParam reads an integer from a query string or JSON payload value.
func intParam(data map[string]any, key string) (int, error) {
	switch v := data[key].(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("%s is required", key)
	default:
		return 0, fmt.Errorf("%s must be an integer", key)
	}
}

// ToggleFavorite flips a profile's favorite flag.
func ToggleFavorite(store *profiles.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := store.ToggleFavorite(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, r, profileStatus(err), err.Error())
			return
		}
		if isDatastar(r) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// ProfileSource renders the profile's script with syntax highlighting.
func ProfileSource(store *profiles.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := store.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, err.Error(), profileStatus(err))
			return
		}
		if p.ScriptPath == "" {
			http.Error(w, "profile has no script", http.StatusNotFound)
			return
		}

		path := filepath.Clean(p.ScriptPath)
		html, err := util.FileToHTML(os.DirFS(filepath.Dir(path)), filepath.Base(path), "")
		if err != nil {
			slog.Warn("Script source unavailable", "profile_id", p.ID, "path", p.ScriptPath, "err", err)
			http.Error(w, "script not readable", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := components.ScriptSource(p.Name, html).Render(r.Context(), w); err != nil {
			slog.Warn("Render script source", "profile_id", p.ID, "err", err)
		}
	}
}

// Package profiles persists named interpreter/script pairs in a JetStream
// key-value bucket.
package profiles

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/xid"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Bucket is the KV bucket holding one JSON document per profile.
const Bucket = "profiles"

//go:embed profile.schema.json
var schemaJSON string

var (
	ErrNotFound = errors.New("profile not found")
	ErrInvalid  = errors.New("invalid profile")
)

// Profile is what the console needs to start a run.
type Profile struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ExecutablePath string    `json:"executable_path"`
	ScriptPath     string    `json:"script_path"`
	Favorite       bool      `json:"favorite"`
	Position       int       `json:"position"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store is a profile collection backed by a KeyValue bucket.
type Store struct {
	kv     jetstream.KeyValue
	schema *jsonschema.Schema
}

// Open creates or updates the profiles bucket and returns a store on it.
func Open(ctx context.Context, js jetstream.JetStream, storage jetstream.StorageType) (*Store, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  Bucket,
		History: 5,
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s bucket: %w", Bucket, err)
	}
	return NewStore(kv)
}

// NewStore wraps an existing bucket.
func NewStore(kv jetstream.KeyValue) (*Store, error) {
	schema, err := jsonschema.CompileString("profile.schema.json", schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile profile schema: %w", err)
	}
	return &Store{kv: kv, schema: schema}, nil
}

// stored is a profile with the KV revision it was read at.
type stored struct {
	Profile
	rev uint64
}

// List returns all profiles in the user's order.
func (s *Store) List(ctx context.Context) ([]Profile, error) {
	entries, err := s.entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Profile, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Profile)
	}
	return out, nil
}

// Search returns the profiles whose name contains query, ignoring case, in
// the user's order. An empty query returns everything.
func (s *Store) Search(ctx context.Context, query string) ([]Profile, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(list, query), nil
}

// Filter keeps the profiles whose name contains query, ignoring case.
func Filter(list []Profile, query string) []Profile {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return list
	}
	var out []Profile
	for _, p := range list {
		if strings.Contains(strings.ToLower(p.Name), query) {
			out = append(out, p)
		}
	}
	return out
}

// Move puts profile id at index to of the ordered list and renumbers the
// rest. to is clamped to the list bounds. It returns the new order.
func (s *Store) Move(ctx context.Context, id string, to int) ([]Profile, error) {
	entries, err := s.entries(ctx)
	if err != nil {
		return nil, err
	}
	from := -1
	for i, e := range entries {
		if e.ID == id {
			from = i
			break
		}
	}
	if from < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	to = max(0, min(to, len(entries)-1))

	moved := entries[from]
	entries = append(entries[:from], entries[from+1:]...)
	entries = append(entries[:to], append([]stored{moved}, entries[to:]...)...)

	out := make([]Profile, 0, len(entries))
	for i, e := range entries {
		if e.Position != i {
			e.Position = i
			if err := s.put(ctx, e.Profile, e.rev); err != nil {
				return nil, err
			}
		}
		out = append(out, e.Profile)
	}
	return out, nil
}

// entries reads every profile sorted by position. Profiles stored without a
// position keep their creation order.
func (s *Store) entries(ctx context.Context) ([]stored, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer lister.Stop()

	var out []stored
	for key := range lister.Keys() {
		p, rev, err := s.get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			slog.Warn("Skipping unreadable profile", "key", key, "err", err)
			continue
		}
		out = append(out, stored{Profile: p, rev: rev})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get returns the profile stored under id.
func (s *Store) Get(ctx context.Context, id string) (Profile, error) {
	p, _, err := s.get(ctx, id)
	return p, err
}

func (s *Store) get(ctx context.Context, id string) (Profile, uint64, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return Profile{}, 0, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Profile{}, 0, fmt.Errorf("get profile %s: %w", id, err)
	}
	var p Profile
	if err := json.Unmarshal(entry.Value(), &p); err != nil {
		return Profile{}, 0, fmt.Errorf("decode profile %s: %w", id, err)
	}
	return p, entry.Revision(), nil
}

// Create assigns an ID and creation time and stores p at the end of the
// list.
func (s *Store) Create(ctx context.Context, p Profile) (Profile, error) {
	entries, err := s.entries(ctx)
	if err != nil {
		return Profile{}, err
	}
	p.Position = 0
	if n := len(entries); n > 0 {
		p.Position = entries[n-1].Position + 1
	}
	p.ID = xid.New().String()
	p.Name = strings.TrimSpace(p.Name)
	p.CreatedAt = time.Now().UTC()

	data, err := s.encode(p)
	if err != nil {
		return Profile{}, err
	}
	if _, err := s.kv.Create(ctx, p.ID, data); err != nil {
		return Profile{}, fmt.Errorf("create profile: %w", err)
	}
	return p, nil
}

// Update applies an RFC 7386 JSON merge patch to the stored profile. The ID,
// position and creation time cannot be changed; use Move to reorder.
func (s *Store) Update(ctx context.Context, id string, patch []byte) (Profile, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Profile{}, fmt.Errorf("get profile %s: %w", id, err)
	}

	merged, err := jsonpatch.MergePatch(entry.Value(), patch)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: merge patch: %v", ErrInvalid, err)
	}

	var current, next Profile
	if err := json.Unmarshal(entry.Value(), &current); err != nil {
		return Profile{}, fmt.Errorf("decode profile %s: %w", id, err)
	}
	if err := s.validateRaw(merged); err != nil {
		return Profile{}, err
	}
	if err := json.Unmarshal(merged, &next); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	next.ID = current.ID
	next.Name = strings.TrimSpace(next.Name)
	next.Position = current.Position
	next.CreatedAt = current.CreatedAt

	if err := s.put(ctx, next, entry.Revision()); err != nil {
		return Profile{}, err
	}
	return next, nil
}

// ToggleFavorite flips the favorite flag.
func (s *Store) ToggleFavorite(ctx context.Context, id string) (Profile, error) {
	p, rev, err := s.get(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	p.Favorite = !p.Favorite
	if err := s.put(ctx, p, rev); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Delete removes the profile.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, _, err := s.get(ctx, id); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete profile %s: %w", id, err)
	}
	return nil
}

// Watch streams every profile change until ctx ends. Deletions arrive as a
// Profile with only ID set.
func (s *Store) Watch(ctx context.Context) (<-chan Profile, error) {
	w, err := s.kv.WatchAll(ctx, jetstream.UpdatesOnly())
	if err != nil {
		return nil, fmt.Errorf("watch profiles: %w", err)
	}

	out := make(chan Profile)
	go func() {
		defer close(out)
		defer w.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-w.Updates():
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				var p Profile
				if entry.Operation() == jetstream.KeyValuePut {
					if err := json.Unmarshal(entry.Value(), &p); err != nil {
						slog.Warn("Undecodable profile update", "key", entry.Key(), "err", err)
						continue
					}
				} else {
					p.ID = entry.Key()
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) put(ctx context.Context, p Profile, rev uint64) error {
	data, err := s.encode(p)
	if err != nil {
		return err
	}
	if _, err := s.kv.Update(ctx, p.ID, data, rev); err != nil {
		return fmt.Errorf("update profile %s: %w", p.ID, err)
	}
	return nil
}

// encode validates p against the schema and returns its JSON.
func (s *Store) encode(p Profile) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}
	if err := s.validateRaw(data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) validateRaw(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

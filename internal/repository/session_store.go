package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"douly-backend/internal/models"
	"douly-backend/internal/profile"
)

// DefaultHistoryLimit is the number of turns kept across reloads.
const DefaultHistoryLimit = 20

// SessionStore is the durable key/value side of a chat session. Each session
// owns a small namespace of independent keys so a partially captured profile
// survives independent writes.
type SessionStore struct {
	client redis.Cmdable
	limit  int
	ttl    time.Duration
}

func NewSessionStore(client redis.Cmdable, limit int, ttl time.Duration) *SessionStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &SessionStore{client: client, limit: limit, ttl: ttl}
}

type persistedPart struct {
	Text string `json:"text"`
}

// persistedTurn is the storage shape of a ChatTurn. Older payloads carry a
// flat text field instead of parts; both are accepted on read.
type persistedTurn struct {
	Role  models.Role     `json:"role"`
	Parts []persistedPart `json:"parts,omitempty"`
	Text  string          `json:"text,omitempty"`
}

func sessionKey(sessionID, suffix string) string {
	return fmt.Sprintf("session:%s:%s", sessionID, suffix)
}

// Create registers a new session.
func (s *SessionStore) Create(ctx context.Context, sessionID string) error {
	return s.client.Set(ctx, sessionKey(sessionID, "meta"), time.Now().UTC().Format(time.RFC3339), s.ttl).Err()
}

// Exists reports whether the session was created and has not expired.
func (s *SessionStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, sessionKey(sessionID, "meta")).Result()
	if err != nil {
		return false, fmt.Errorf("checking session %s: %w", sessionID, err)
	}
	return n > 0, nil
}

// Load returns the persisted turns of a session. A missing or unreadable
// payload yields an empty history.
func (s *SessionStore) Load(ctx context.Context, sessionID string) []models.ChatTurn {
	key := sessionKey(sessionID, "history")
	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("session store: failed to read %s: %v", key, err)
		}
		return []models.ChatTurn{}
	}

	var stored []persistedTurn
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		log.Printf("session store: malformed history in %s, starting empty: %v", key, err)
		return []models.ChatTurn{}
	}

	turns := make([]models.ChatTurn, 0, len(stored))
	for _, st := range stored {
		if st.Role != models.RoleUser && st.Role != models.RoleModel {
			continue
		}
		text := st.Text
		if len(st.Parts) > 0 {
			texts := make([]string, len(st.Parts))
			for i, p := range st.Parts {
				texts[i] = p.Text
			}
			text = strings.Join(texts, "\n")
		}
		turns = append(turns, models.ChatTurn{Role: st.Role, Text: text})
	}
	return turns
}

// Save overwrites the persisted history with the tail of history. Only role
// and raw text are kept; transient turns are skipped.
func (s *SessionStore) Save(ctx context.Context, sessionID string, history []models.ChatTurn) error {
	tail := make([]models.ChatTurn, 0, len(history))
	for _, t := range history {
		if !t.Transient {
			tail = append(tail, t)
		}
	}
	if len(tail) > s.limit {
		tail = tail[len(tail)-s.limit:]
	}

	stored := make([]persistedTurn, len(tail))
	for i, t := range tail {
		stored[i] = persistedTurn{Role: t.Role, Parts: []persistedPart{{Text: t.Text}}}
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, sessionKey(sessionID, "history"), data, s.ttl)
	if s.ttl > 0 {
		// Every key of an active session lives as long as its history.
		for _, key := range s.keys(sessionID) {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving history for %s: %w", sessionID, err)
	}
	return nil
}

// LoadProfile reads the independently stored profile facets.
func (s *SessionStore) LoadProfile(ctx context.Context, sessionID string) (models.Profile, error) {
	keys := make([]string, len(profile.Facets))
	for i, facet := range profile.Facets {
		keys[i] = sessionKey(sessionID, string(facet))
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return models.Profile{}, fmt.Errorf("loading profile for %s: %w", sessionID, err)
	}

	var p models.Profile
	for i, v := range vals {
		if str, ok := v.(string); ok {
			p = profile.With(p, profile.Facets[i], str)
		}
	}
	return p, nil
}

func (s *SessionStore) SaveProfileField(ctx context.Context, sessionID string, facet profile.Facet, value string) error {
	if err := s.client.Set(ctx, sessionKey(sessionID, string(facet)), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("saving %s for %s: %w", facet, sessionID, err)
	}
	return nil
}

// ClaimNotification atomically marks the session as notified. It returns false
// when the flag was already set.
func (s *SessionStore) ClaimNotification(ctx context.Context, sessionID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, sessionKey(sessionID, "notified"), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claiming notification for %s: %w", sessionID, err)
	}
	return ok, nil
}

// ReleaseNotification drops a claim whose delivery failed.
func (s *SessionStore) ReleaseNotification(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, sessionKey(sessionID, "notified")).Err()
}

func (s *SessionStore) NotificationSent(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, sessionKey(sessionID, "notified")).Result()
	if err != nil {
		return false, fmt.Errorf("checking notification for %s: %w", sessionID, err)
	}
	return n > 0, nil
}

// Clear deletes every key of the session.
func (s *SessionStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, append(s.keys(sessionID), sessionKey(sessionID, "history"))...).Err()
}

// keys lists the session keys besides the history.
func (s *SessionStore) keys(sessionID string) []string {
	keys := []string{
		sessionKey(sessionID, "meta"),
		sessionKey(sessionID, "notified"),
	}
	for _, facet := range profile.Facets {
		keys = append(keys, sessionKey(sessionID, string(facet)))
	}
	return keys
}

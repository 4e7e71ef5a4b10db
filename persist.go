package roomscore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// DefaultMaxPersistedField is the size above which a JSON field is pruned
// from the persisted copy of an entry. Avatar blobs and similar binary-ish
// fields blow storage quotas; the rest of the entry is still persisted.
const DefaultMaxPersistedField = 8 * 1024

// PersistConfig configures the persisted cache tier.
type PersistConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	// KeyPrefix namespaces this client's entries.
	KeyPrefix string
	// MaxFieldBytes caps individual JSON field sizes in persisted bodies.
	// Zero selects DefaultMaxPersistedField.
	MaxFieldBytes int
	// KeepFor is how long past its TTL an entry survives in the persisted
	// tier, so a fresh launch can render stale data before revalidating.
	// Zero keeps entries for 24h.
	KeepFor time.Duration
}

// PersistentStore is the longer-lived cache tier backed by valkey. Entries
// surviving a process restart are revalidated against their TTL on first
// read, never assumed fresh.
type PersistentStore struct {
	client   valkey.Client
	prefix   string
	maxField int
	keepFor  time.Duration
}

// persistedEntry is the JSON wire form of an Entry in the persisted tier.
type persistedEntry struct {
	Body       json.RawMessage `json:"body"`
	StatusCode int             `json:"statusCode"`
	Header     http.Header     `json:"header,omitempty"`
	StoredAt   time.Time       `json:"storedAt"`
	TTLMillis  int64           `json:"ttlMillis"`
}

// NewPersistentStore connects to valkey and verifies the connection.
func NewPersistentStore(cfg PersistConfig) (*PersistentStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("roomscore: persist address required")
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("roomscore: persist client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("roomscore: persist ping: %w", err)
	}

	maxField := cfg.MaxFieldBytes
	if maxField <= 0 {
		maxField = DefaultMaxPersistedField
	}
	keepFor := cfg.KeepFor
	if keepFor <= 0 {
		keepFor = 24 * time.Hour
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "roomscore:"
	}

	return &PersistentStore{
		client:   client,
		prefix:   prefix,
		maxField: maxField,
		keepFor:  keepFor,
	}, nil
}

// Lookup fetches an entry from the persisted tier. Staleness must be
// recomputed by the caller from StoredAt and TTL.
func (s *PersistentStore) Lookup(ctx context.Context, key string) (*Entry, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(s.prefix+key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("roomscore: persist get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("roomscore: persist get bytes: %w", err)
	}
	var pe persistedEntry
	if err := json.Unmarshal(payload, &pe); err != nil {
		return nil, false, fmt.Errorf("roomscore: persist unmarshal: %w", err)
	}
	return &Entry{
		Body:       []byte(pe.Body),
		StatusCode: pe.StatusCode,
		Header:     pe.Header,
		StoredAt:   pe.StoredAt,
		TTL:        time.Duration(pe.TTLMillis) * time.Millisecond,
	}, true, nil
}

// Store writes an entry to the persisted tier, pruning oversized JSON fields
// from the body first. The valkey expiry is TTL plus the configured keep-for
// window so stale entries remain available for launch-time rendering.
func (s *PersistentStore) Store(ctx context.Context, key string, entry *Entry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}

	pe := persistedEntry{
		Body:       pruneOversizedFields(entry.Body, s.maxField),
		StatusCode: entry.StatusCode,
		Header:     entry.Header,
		StoredAt:   entry.StoredAt,
		TTLMillis:  entry.TTL.Milliseconds(),
	}
	payload, err := json.Marshal(pe)
	if err != nil {
		return fmt.Errorf("roomscore: persist marshal: %w", err)
	}

	expiry := entry.TTL + s.keepFor
	cmd := s.client.B().Set().Key(s.prefix + key).Value(string(payload)).Px(expiry).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("roomscore: persist set: %w", err)
	}
	return nil
}

// DeletePrefix removes persisted entries whose key matches the pattern,
// scanning in batches.
func (s *PersistentStore) DeletePrefix(ctx context.Context, pattern string) error {
	if pattern == "" {
		return nil
	}
	var cursor uint64
	for {
		resp := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).Match(s.prefix+"*").Count(256).Build())
		sc, err := resp.AsScanEntry()
		if err != nil {
			return fmt.Errorf("roomscore: persist scan: %w", err)
		}
		var doomed []string
		for _, full := range sc.Elements {
			key := full[len(s.prefix):]
			if keyMatches(key, pattern) {
				doomed = append(doomed, full)
			}
		}
		if len(doomed) > 0 {
			if err := s.client.Do(ctx, s.client.B().Del().Key(doomed...).Build()).Error(); err != nil {
				return fmt.Errorf("roomscore: persist del: %w", err)
			}
		}
		cursor = sc.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

// Clear removes every entry under this store's prefix.
func (s *PersistentStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		resp := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).Match(s.prefix+"*").Count(256).Build())
		sc, err := resp.AsScanEntry()
		if err != nil {
			return fmt.Errorf("roomscore: persist scan: %w", err)
		}
		if len(sc.Elements) > 0 {
			if err := s.client.Do(ctx, s.client.B().Del().Key(sc.Elements...).Build()).Error(); err != nil {
				return fmt.Errorf("roomscore: persist del: %w", err)
			}
		}
		cursor = sc.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

// Close releases the valkey connection.
func (s *PersistentStore) Close() {
	s.client.Close()
}

// pruneOversizedFields drops top-level JSON object fields whose encoded size
// exceeds maxField. Non-object bodies pass through untouched: the discipline
// is to shrink entries, never to silently drop them entirely.
func pruneOversizedFields(body []byte, maxField int) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return json.RawMessage(body)
	}

	pruned := false
	for k, v := range obj {
		if len(v) > maxField {
			delete(obj, k)
			pruned = true
		}
	}
	if !pruned {
		return json.RawMessage(body)
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return json.RawMessage(body)
	}
	return out
}

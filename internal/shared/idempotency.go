package shared

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

var (
	// ErrIdempotencyConflict indicates the key is still being processed by another request.
	ErrIdempotencyConflict = errors.New("idempotent request already in progress")
	// ErrIdempotencyMismatch indicates the key was reused with a different request.
	ErrIdempotencyMismatch = errors.New("idempotency key reused with different request")
)

const (
	idemStatePending  = "pending"
	idemStateComplete = "complete"
)

// StoredResponse is the replayable outcome of a processed request.
type StoredResponse struct {
	Status      int         `json:"status"`
	Header      http.Header `json:"header,omitempty"`
	Body        []byte      `json:"body,omitempty"`
	Fingerprint string      `json:"fingerprint"`
	State       string      `json:"state"`
}

// IdempotencyStore persists processed keys in redis.
type IdempotencyStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(client redis.UniversalClient, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, ttl: ttl, prefix: "ledger:idem:"}
}

// Fingerprint hashes the request identity so a reused key with a different payload is detected.
func Fingerprint(actorID int64, method, path string, body []byte) string {
	h, _ := blake2b.New256(nil)
	_, _ = fmt.Fprintf(h, "%d\n%s\n%s\n", actorID, method, path)
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *IdempotencyStore) key(key string) string {
	return s.prefix + key
}

// Begin reserves key for fingerprint. It returns a stored response when the
// request was already completed and should be replayed.
func (s *IdempotencyStore) Begin(ctx context.Context, key, fingerprint string) (*StoredResponse, error) {
	if s == nil {
		return nil, errors.New("idempotency store not initialised")
	}
	if key == "" {
		return nil, errors.New("idempotency key required")
	}
	pending, err := json.Marshal(StoredResponse{Fingerprint: fingerprint, State: idemStatePending})
	if err != nil {
		return nil, err
	}
	ok, err := s.client.SetNX(ctx, s.key(key), pending, s.ttl).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Expired between SETNX and GET; retry once.
			return s.Begin(ctx, key, fingerprint)
		}
		return nil, err
	}
	var stored StoredResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}
	if stored.Fingerprint != fingerprint {
		return nil, ErrIdempotencyMismatch
	}
	if stored.State != idemStateComplete {
		return nil, ErrIdempotencyConflict
	}
	return &stored, nil
}

// Complete stores the response for replay.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, resp StoredResponse) error {
	if s == nil {
		return nil
	}
	resp.State = idemStateComplete
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), raw, s.ttl).Err()
}

// Delete removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	return s.client.Del(ctx, s.key(key)).Err()
}

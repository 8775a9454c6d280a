// --- File: internal/storage/cache/claimstore.go ---
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by CacheClient.Get when the key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or ErrNotFound.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// SetNX stores the value only if the key is absent.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

type ClaimState string

const (
	ClaimPending    ClaimState = "pending"
	ClaimDispatched ClaimState = "dispatched"
)

// ClaimRecord is what is stored against a claimed message id.
type ClaimRecord struct {
	State     ClaimState `json:"state"`
	UpdatedAt time.Time  `json:"updated_at"`
	Summary   string     `json:"summary,omitempty"`
}

// ClaimStore guards against dispatching the same Pub/Sub message twice.
// A pending claim expires after pendingTTL so a crashed worker does not
// block redelivery forever; a completed one is kept for doneTTL.
type ClaimStore struct {
	cache      CacheClient
	pendingTTL time.Duration
	doneTTL    time.Duration
	now        func() time.Time
}

func NewClaimStore(cache CacheClient, pendingTTL, doneTTL time.Duration) *ClaimStore {
	return &ClaimStore{
		cache:      cache,
		pendingTTL: pendingTTL,
		doneTTL:    doneTTL,
		now:        time.Now,
	}
}

// Claim reports whether the caller now owns id. false means another worker
// holds it or it was already dispatched.
func (s *ClaimStore) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := s.cache.SetNX(ctx, s.claimKey(id), ClaimRecord{State: ClaimPending, UpdatedAt: s.now()}, s.pendingTTL)
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", id, err)
	}
	return ok, nil
}

// Complete marks id as dispatched.
func (s *ClaimStore) Complete(ctx context.Context, id, summary string) error {
	rec := ClaimRecord{State: ClaimDispatched, UpdatedAt: s.now(), Summary: summary}
	if err := s.cache.Set(ctx, s.claimKey(id), rec, s.doneTTL); err != nil {
		return fmt.Errorf("failed to complete claim %s: %w", id, err)
	}
	return nil
}

// Release drops the claim so a redelivery can try again.
func (s *ClaimStore) Release(ctx context.Context, id string) error {
	return s.cache.Del(ctx, s.claimKey(id))
}

// Lookup returns the current record for id, or ErrNotFound.
func (s *ClaimStore) Lookup(ctx context.Context, id string) (*ClaimRecord, error) {
	var rec ClaimRecord
	if err := s.cache.Get(ctx, s.claimKey(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *ClaimStore) claimKey(id string) string {
	return fmt.Sprintf("gcm:dispatched:%s", id)
}
